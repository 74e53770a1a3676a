package databases

import (
	"context"

	"github.com/HandsomeChen0407/cjdb/cache"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/sensitive"
	"github.com/HandsomeChen0407/cjdb/utils"
)

// KeyTenantRegistry is the cache key holding the tenant connection list.
const KeyTenantRegistry = "sys_tenant_aes"

// CJTenantInfo is one tenant's database coordinates as stored in the
// sys_tenant table on the main database. Connection holds the DSN as
// marked ciphertext.
type CJTenantInfo struct {
	Id         int64  `json:"id"`
	DbType     string `json:"db_type"`
	Connection string `json:"connection"`
}

// CJTenantRegistry maps tenant ids to their database coordinates. The list
// is cached as a whole; a miss loads it from the main database.
type CJTenantRegistry struct {
	Cache  *cache.CJCacheService
	Cipher *sensitive.CJFieldCipher
	// Loader fetches the full tenant list. The default reads sys_tenant
	// on the main scope; tests substitute their own.
	Loader func(ctx context.Context) ([]CJTenantInfo, error)
}

func NewTenantRegistry(m *CJDatabaseManager, cipher *sensitive.CJFieldCipher) *CJTenantRegistry {
	r := &CJTenantRegistry{
		Cache:  cache.Default,
		Cipher: cipher,
	}
	r.Loader = func(ctx context.Context) ([]CJTenantInfo, error) {
		main, err := m.Main()
		if err != nil {
			return nil, err
		}
		rows, err := main.Select(ctx, "sys_tenant", []string{"id", "db_type", "connection"},
			utils.JSON{"is_delete": false}, nil, "", 0, 0)
		if err != nil {
			return nil, err
		}
		list := make([]CJTenantInfo, 0, len(rows))
		for _, row := range rows {
			list = append(list, CJTenantInfo{
				Id:         utils.GetInt64(row, "id"),
				DbType:     utils.GetString(row, "db_type"),
				Connection: utils.GetString(row, "connection"),
			})
		}
		return list, nil
	}
	return r
}

// All returns the tenant list, from the cache when it is warm.
func (r *CJTenantRegistry) All(ctx context.Context) ([]CJTenantInfo, error) {
	list, found, err := cache.Get[[]CJTenantInfo](r.Cache, ctx, KeyTenantRegistry)
	if err == nil && found {
		return list, nil
	}
	if r.Loader == nil {
		return nil, errors.New("TENANT_REGISTRY_EMPTY_AND_NO_LOADER")
	}
	list, err = r.Loader(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "TENANT_REGISTRY_LOAD_FAILED")
	}
	_ = cache.Set(r.Cache, ctx, KeyTenantRegistry, list, 0)
	return list, nil
}

// Tenant returns one tenant's coordinates. An unknown tenant is an error;
// the fallback-to-main decision belongs to the caller that resolved the
// claim, not to the registry.
func (r *CJTenantRegistry) Tenant(ctx context.Context, tenantId int64) (CJTenantInfo, error) {
	list, err := r.All(ctx)
	if err != nil {
		return CJTenantInfo{}, err
	}
	for _, t := range list {
		if t.Id == tenantId {
			return t, nil
		}
	}
	return CJTenantInfo{}, errors.Wrapf(ErrTenantNotRegistered, "tenant %d", tenantId)
}

// ConnectionString decrypts a tenant's stored DSN. Unmarked values are
// taken as already plaintext.
func (r *CJTenantRegistry) ConnectionString(info CJTenantInfo) (string, error) {
	if r.Cipher == nil || !sensitive.IsEncrypted(info.Connection) {
		return info.Connection, nil
	}
	s, err := r.Cipher.Decrypt(info.Connection)
	if err != nil {
		return "", errors.Wrapf(err, "TENANT_CONNECTION_DECRYPT_FAILED:%d", info.Id)
	}
	return s, nil
}

// Set replaces the cached tenant list with host-supplied records, for
// deployments that manage tenants outside the sys_tenant table.
func (r *CJTenantRegistry) Set(ctx context.Context, list []CJTenantInfo) error {
	return cache.Set(r.Cache, ctx, KeyTenantRegistry, list, 0)
}

// Invalidate drops the cached list so the next lookup reloads it.
func (r *CJTenantRegistry) Invalidate(ctx context.Context) error {
	return r.Cache.Remove(ctx, KeyTenantRegistry)
}
