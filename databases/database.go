// Package databases manages the named and per-tenant connections and runs
// every statement the repository layer issues. Statements pass through the
// scope's hook chain: write payloads are stamped and encrypted before they
// leave, SELECT predicates on sensitive columns are rewritten, and result
// rows are decrypted on the way back.
package databases

import (
	"context"
	"net"
	"strconv"

	"github.com/jmoiron/sqlx"
	goOra "github.com/sijms/go-ora/v2"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/log"
	"github.com/HandsomeChen0407/cjdb/utils"
)

var (
	ErrDatabaseNotFound    = errors.New("DATABASE_NAMEID_NOT_FOUND")
	ErrTenantNotRegistered = errors.New("TENANT_NOT_REGISTERED")
	ErrNotConnected        = errors.New("DATABASE_NOT_CONNECTED")
	ErrRowNotFound         = errors.New("ROW_NOT_FOUND")
)

type CJWriteKind int

const (
	WriteInsert CJWriteKind = iota
	WriteUpdate
	WriteSoftDelete
)

// Hooks run around every statement a scope executes. Pre-execute hooks may
// replace the statement and its parameters; post-execute hooks see the
// fetched rows; pre-write hooks mutate the payload before the statement is
// built.
type (
	CJPreExecuteHook  func(ctx context.Context, tableName string, statement string, params utils.JSON) (string, utils.JSON, error)
	CJPostExecuteHook func(ctx context.Context, tableName string, rows []utils.JSON) error
	CJPreWriteHook    func(ctx context.Context, kind CJWriteKind, meta *entity.CJEntityMeta, data utils.JSON) error
	CJErrorHook       func(ctx context.Context, statement string, params utils.JSON, err error)
)

type CJDatabase struct {
	Owner  *CJDatabaseManager
	NameId string

	// IsTenantScope marks connections provisioned on demand for a tenant,
	// as opposed to connections named in the configuration.
	IsTenantScope bool
	TenantId      int64

	DatabaseType      base.CJDatabaseType
	Address           string
	UserName          string
	UserPassword      string
	DatabaseName      string
	ConnectionOptions string
	// ConnectionString, when set, is used verbatim instead of being built
	// from the fields above. Tenant scopes are configured this way.
	ConnectionString             string
	NonSensitiveConnectionString string

	MaxOpenConns  int
	MaxIdleConns  int
	MustConnected bool
	Connected     bool
	Connection    *sqlx.DB

	OnCannotConnect func(d *CJDatabase, err error)

	preExecuteHooks  []CJPreExecuteHook
	postExecuteHooks []CJPostExecuteHook
	preWriteHooks    []CJPreWriteHook
	errorHooks       []CJErrorHook
}

func (d *CJDatabase) AddPreExecuteHook(h CJPreExecuteHook) {
	d.preExecuteHooks = append(d.preExecuteHooks, h)
}

func (d *CJDatabase) AddPostExecuteHook(h CJPostExecuteHook) {
	d.postExecuteHooks = append(d.postExecuteHooks, h)
}

func (d *CJDatabase) AddPreWriteHook(h CJPreWriteHook) {
	d.preWriteHooks = append(d.preWriteHooks, h)
}

func (d *CJDatabase) AddErrorHook(h CJErrorHook) {
	d.errorHooks = append(d.errorHooks, h)
}

func (d *CJDatabase) GetNonSensitiveConnectionString() string {
	if d.Address == "" {
		return d.NameId
	}
	return d.DatabaseType.String() + "://" + d.Address + "/" + d.DatabaseName
}

func (d *CJDatabase) GetConnectionString() (s string, err error) {
	if d.ConnectionString != "" {
		return d.ConnectionString, nil
	}
	switch d.DatabaseType {
	case base.CJDatabaseTypePostgreSQL:
		host, portAsString, err := net.SplitHostPort(d.Address)
		if err != nil {
			return "", err
		}
		s = "user=" + d.UserName + " password=" + d.UserPassword + " host=" + host + " port=" + portAsString + " dbname=" + d.DatabaseName + " " + d.ConnectionOptions
	case base.CJDatabaseTypeMariaDB:
		s = d.UserName + ":" + d.UserPassword + "@tcp(" + d.Address + ")/" + d.DatabaseName
		if d.ConnectionOptions != "" {
			s = s + "?" + d.ConnectionOptions
		}
	case base.CJDatabaseTypeSQLServer:
		host, portAsString, err := net.SplitHostPort(d.Address)
		if err != nil {
			return "", err
		}
		s = "server=" + host + ";port=" + portAsString + ";user id=" + d.UserName + ";password=" + d.UserPassword + ";database=" + d.DatabaseName + ";encrypt=disable"
	case base.CJDatabaseTypeOracle:
		host, portAsString, err := net.SplitHostPort(d.Address)
		if err != nil {
			return "", err
		}
		portInt, err := strconv.Atoi(portAsString)
		if err != nil {
			return "", err
		}
		s = goOra.BuildUrl(host, portInt, d.DatabaseName, d.UserName, d.UserPassword, nil)
	default:
		err = log.Log.ErrorAndCreateErrorf("configuration is unusable, value of database_type field of database %s configuration is not supported (%s)", d.NameId, d.DatabaseType)
	}
	return s, err
}

func (d *CJDatabase) Connect() (err error) {
	if d.Connected {
		return nil
	}
	if d.ConnectionString == "" {
		d.ConnectionString, err = d.GetConnectionString()
		if err != nil {
			return err
		}
	}
	if d.NonSensitiveConnectionString == "" {
		d.NonSensitiveConnectionString = d.GetNonSensitiveConnectionString()
	}
	log.Log.Infof("Connecting to database %s/%s... start", d.NameId, d.NonSensitiveConnectionString)
	connection, err := sqlx.Open(d.DatabaseType.Driver(), d.ConnectionString)
	if err != nil {
		if d.MustConnected {
			log.Log.Fatalf("Invalid parameters to open database %s/%s (%s)", d.NameId, d.NonSensitiveConnectionString, err.Error())
			return nil
		}
		log.Log.Errorf("Invalid parameters to open database %s/%s (%s)", d.NameId, d.NonSensitiveConnectionString, err.Error())
		return err
	}
	if d.MaxOpenConns > 0 {
		connection.SetMaxOpenConns(d.MaxOpenConns)
	}
	if d.MaxIdleConns > 0 {
		connection.SetMaxIdleConns(d.MaxIdleConns)
	}
	d.Connection = connection
	err = connection.Ping()
	if err != nil {
		if d.OnCannotConnect != nil {
			d.OnCannotConnect(d, err)
		}
		if d.MustConnected {
			log.Log.Fatalf("Cannot connect and ping to database %s/%s (%s)", d.NameId, d.NonSensitiveConnectionString, err.Error())
			return nil
		}
		log.Log.Errorf("Cannot connect and ping to database %s/%s (%s)", d.NameId, d.NonSensitiveConnectionString, err.Error())
		return err
	}
	d.Connected = true
	log.Log.Infof("Connecting to database %s/%s... done CONNECTED", d.NameId, d.NonSensitiveConnectionString)
	return nil
}

func (d *CJDatabase) Disconnect() (err error) {
	if !d.Connected {
		return nil
	}
	// Connected can be set while no physical handle was materialized.
	if d.Connection == nil {
		d.Connected = false
		return nil
	}
	log.Log.Infof("Disconnecting to database %s/%s... start", d.NameId, d.NonSensitiveConnectionString)
	err = d.Connection.Close()
	if err != nil {
		return err
	}
	d.Connection = nil
	d.Connected = false
	log.Log.Infof("Disconnecting to database %s/%s... done DISCONNECTED", d.NameId, d.NonSensitiveConnectionString)
	return nil
}

func (d *CJDatabase) CheckConnection() error {
	if !d.Connected || d.Connection == nil {
		return errors.Wrapf(ErrNotConnected, "database %s", d.NameId)
	}
	return nil
}
