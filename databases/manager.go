package databases

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/cache"
	"github.com/HandsomeChen0407/cjdb/configuration"
	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/identity"
	"github.com/HandsomeChen0407/cjdb/log"
	"github.com/HandsomeChen0407/cjdb/sensitive"
	"github.com/HandsomeChen0407/cjdb/utils"
	"github.com/HandsomeChen0407/cjdb/utils/snowflake"
)

// KeyDeviceTenant prefixes the cache entries mapping a device id to its
// tenant.
const KeyDeviceTenant = "device_tid:"

type CJDatabaseManager struct {
	mutex     sync.RWMutex
	Databases map[string]*CJDatabase

	// tenantLocks holds one mutex per tenant so two requests for the same
	// unprovisioned tenant build one connection, not two, while requests
	// for different tenants never wait on each other.
	tenantLocks *xsync.MapOf[int64, *sync.Mutex]

	Registry    *CJTenantRegistry
	FieldCipher *sensitive.CJFieldCipher
	Rewriter    *sensitive.CJPredicateRewriter
	Snowflake   *snowflake.CJSnowflakeGenerator

	// DeviceTenantResolver looks up the tenant of a device on a cache
	// miss. Optional.
	DeviceTenantResolver func(ctx context.Context, deviceId string) (int64, error)

	// connectScope is swapped out by tests that must not dial a server.
	connectScope func(d *CJDatabase) error
}

var Manager = CJDatabaseManager{
	Databases:   map[string]*CJDatabase{},
	tenantLocks: xsync.NewMapOf[int64, *sync.Mutex](),
	connectScope: func(d *CJDatabase) error {
		return d.Connect()
	},
}

func (m *CJDatabaseManager) NewDatabase(nameId string, o configuration.CJConnectionOptions) *CJDatabase {
	d := &CJDatabase{
		Owner:            m,
		NameId:           nameId,
		DatabaseType:     base.StringToCJDatabaseType(o.DatabaseType),
		Address:          o.Address,
		UserName:         o.UserName,
		UserPassword:     o.UserPassword,
		DatabaseName:     o.DatabaseName,
		ConnectionString: o.ConnectionString,
		MaxOpenConns:     o.MaxOpenConns,
		MaxIdleConns:     o.MaxIdleConns,
		MustConnected:    o.IsConnectAtStart,
	}
	m.configureScope(d)
	m.mutex.Lock()
	m.Databases[nameId] = d
	m.mutex.Unlock()
	return d
}

// LoadFromConfiguration registers the main connection and every named
// connection from the loaded configuration.
func (m *CJDatabaseManager) LoadFromConfiguration() error {
	o := configuration.Manager.Options
	mainNameId := o.Main.NameId
	if mainNameId == "" {
		mainNameId = base.MainDatabaseNameId
	}
	if o.Main.DatabaseType == "" && o.Main.ConnectionString == "" {
		return log.Log.FatalAndCreateErrorf("Main database configuration is missing")
	}
	m.NewDatabase(mainNameId, o.Main)
	for _, c := range o.Databases {
		if c.NameId == "" {
			return log.Log.ErrorAndCreateErrorf("Database configuration without name_id")
		}
		m.NewDatabase(c.NameId, c)
	}
	return nil
}

func (m *CJDatabaseManager) ConnectAllAtStart() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, d := range m.Databases {
		if !d.MustConnected {
			continue
		}
		err := m.connectScope(d)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *CJDatabaseManager) DisconnectAll() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, d := range m.Databases {
		err := d.Disconnect()
		if err != nil {
			return err
		}
	}
	return nil
}

// Main returns the main scope.
func (m *CJDatabaseManager) Main() (*CJDatabase, error) {
	return m.Database(base.MainDatabaseNameId)
}

func (m *CJDatabaseManager) Database(nameId string) (*CJDatabase, error) {
	m.mutex.RLock()
	d, ok := m.Databases[nameId]
	m.mutex.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrDatabaseNotFound, "name id %s", nameId)
	}
	return d, nil
}

// Initialize wires the cryptography pipeline and the tenant registry into
// the manager. Call it once after LoadFromConfiguration, before serving.
func (m *CJDatabaseManager) Initialize(cipher *sensitive.CJFieldCipher) error {
	m.FieldCipher = cipher
	m.Rewriter = sensitive.NewPredicateRewriter(cipher)
	if m.Snowflake == nil {
		m.Snowflake = snowflake.Default
	}
	if m.Registry == nil {
		m.Registry = NewTenantRegistry(m, cipher)
	}
	return nil
}

// configureScope attaches the interceptor chain to a scope. Every scope,
// main, named or tenant, gets the same chain.
func (m *CJDatabaseManager) configureScope(d *CJDatabase) {
	d.AddPreWriteHook(m.stampWrite)
	d.AddPreExecuteHook(m.rewriteSensitivePredicates)
	d.AddPostExecuteHook(m.decryptRows)
	d.AddErrorHook(func(ctx context.Context, statement string, params utils.JSON, err error) {
		log.Log.Errorf("Statement failed on %s: %v", d.NameId, err)
	})
}

// ScopeForContext resolves the connection scope for the request on ctx. A
// request without a resolvable tenant falls back to the main scope rather
// than failing, so platform-level callers keep working.
func (m *CJDatabaseManager) ScopeForContext(ctx context.Context) (*CJDatabase, error) {
	claims := identity.FromContext(ctx)
	if claims == nil || claims.TenantId == "" {
		return m.Main()
	}
	if claims.TenantId == base.MainDatabaseNameId {
		return m.Main()
	}
	tenantId, ok := claims.TenantIdAsInt64()
	if !ok || tenantId <= 0 {
		log.Log.Warnf("Tenant claim %q is not a usable tenant id, using main scope", claims.TenantId)
		return m.Main()
	}
	return m.ScopeForTenant(ctx, tenantId)
}

// ScopeForDevice resolves the scope for a device-originated call. The
// device to tenant mapping is cached; without a mapping the call runs on
// the main scope.
func (m *CJDatabaseManager) ScopeForDevice(ctx context.Context, deviceId string) (*CJDatabase, error) {
	if deviceId == "" {
		return m.Main()
	}
	tenantId, found, err := cache.Get[int64](cache.Default, ctx, KeyDeviceTenant+deviceId)
	if err != nil {
		log.Log.Warnf("Device tenant cache read failed for %s: %v", deviceId, err)
	}
	if !found && m.DeviceTenantResolver != nil {
		tenantId, err = m.DeviceTenantResolver(ctx, deviceId)
		if err != nil {
			log.Log.Warnf("Device tenant lookup failed for %s, using main scope: %v", deviceId, err)
			return m.Main()
		}
		found = tenantId > 0
		if found {
			_ = cache.Set(cache.Default, ctx, KeyDeviceTenant+deviceId, tenantId, 0)
		}
	}
	if !found || tenantId <= 0 {
		if found {
			log.Log.Warnf("Device %s maps to unusable tenant id %d, using main scope", deviceId, tenantId)
		}
		return m.Main()
	}
	if strconv.FormatInt(tenantId, 10) == base.MainDatabaseNameId {
		return m.Main()
	}
	return m.ScopeForTenant(ctx, tenantId)
}

// ScopeForEntity resolves the scope a table's statements run on. System
// tables and tables pinned to a named database bypass tenant routing; a
// device id routes through the device mapping, anything else follows the
// claims on ctx.
func (m *CJDatabaseManager) ScopeForEntity(ctx context.Context, meta *entity.CJEntityMeta, deviceId string) (*CJDatabase, error) {
	if meta != nil {
		if meta.IsSystemTable {
			return m.Main()
		}
		if meta.DatabaseNameId != "" {
			return m.Database(meta.DatabaseNameId)
		}
	}
	if deviceId != "" {
		return m.ScopeForDevice(ctx, deviceId)
	}
	return m.ScopeForContext(ctx)
}

func tenantScopeNameId(tenantId int64) string {
	return fmt.Sprintf("tenant:%d", tenantId)
}

// ScopeForTenant returns the scope of a tenant, provisioning the
// connection on first use. Provisioning is serialized per tenant and
// double checked, so concurrent first requests share one connection and a
// failed attempt leaves nothing cached.
func (m *CJDatabaseManager) ScopeForTenant(ctx context.Context, tenantId int64) (*CJDatabase, error) {
	nameId := tenantScopeNameId(tenantId)
	m.mutex.RLock()
	d, ok := m.Databases[nameId]
	m.mutex.RUnlock()
	if ok {
		return d, nil
	}

	lock, _ := m.tenantLocks.LoadOrCompute(tenantId, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	lock.Lock()
	defer lock.Unlock()

	m.mutex.RLock()
	d, ok = m.Databases[nameId]
	m.mutex.RUnlock()
	if ok {
		return d, nil
	}

	if m.Registry == nil {
		return nil, errors.Wrapf(ErrTenantNotRegistered, "tenant %d, registry not initialized", tenantId)
	}
	info, err := m.Registry.Tenant(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	connectionString, err := m.Registry.ConnectionString(info)
	if err != nil {
		return nil, err
	}
	d = &CJDatabase{
		Owner:            m,
		NameId:           nameId,
		IsTenantScope:    true,
		TenantId:         tenantId,
		DatabaseType:     base.StringToCJDatabaseType(info.DbType),
		ConnectionString: connectionString,
	}
	m.configureScope(d)
	err = m.connectScope(d)
	if err != nil {
		return nil, errors.Wrapf(err, "TENANT_SCOPE_CONNECT_FAILED:%d", tenantId)
	}
	m.mutex.Lock()
	m.Databases[nameId] = d
	m.mutex.Unlock()
	log.Log.Infof("Provisioned connection scope for tenant %d", tenantId)
	return d, nil
}

// DropTenantScope disconnects and forgets a tenant's scope. The next call
// for that tenant provisions a fresh connection from the registry.
func (m *CJDatabaseManager) DropTenantScope(tenantId int64) error {
	nameId := tenantScopeNameId(tenantId)
	lock, _ := m.tenantLocks.LoadOrCompute(tenantId, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	lock.Lock()
	defer lock.Unlock()

	m.mutex.Lock()
	d, ok := m.Databases[nameId]
	if ok {
		delete(m.Databases, nameId)
	}
	m.mutex.Unlock()
	if !ok {
		return nil
	}
	return d.Disconnect()
}

func (d *CJDatabase) metaOf(tableName string) *entity.CJEntityMeta {
	return entity.Manager.MetaByTable(tableName)
}
