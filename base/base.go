package base

import (
	"fmt"
)

// MainDatabaseNameId is the name-id of the main connection, the one tenant
// scopes fall back to when a request carries no resolvable tenant.
const MainDatabaseNameId = "1300000000001"

// CJCondition is one WHERE fragment with its named parameter bindings.
// The filter composer produces them and the query builder folds them into
// the statement conjunctively.
type CJCondition struct {
	Clause string         `json:"clause"`
	Params map[string]any `json:"params,omitempty"`
}

type CJDatabaseType int64

const (
	UnknownDatabaseType CJDatabaseType = iota
	CJDatabaseTypePostgreSQL
	CJDatabaseTypeMariaDB
	CJDatabaseTypeOracle
	CJDatabaseTypeSQLServer
)

func (t CJDatabaseType) String() string {
	switch t {
	case CJDatabaseTypePostgreSQL:
		return "postgres"
	case CJDatabaseTypeOracle:
		return "oracle"
	case CJDatabaseTypeSQLServer:
		return "sqlserver"
	case CJDatabaseTypeMariaDB:
		return "mariadb"
	default:
		// This helps you see if the value was 999 or 0 or -1
		return fmt.Sprintf("unknown(%d)", t)
	}
}

func (t CJDatabaseType) IsValid() bool {
	return t > UnknownDatabaseType && t <= CJDatabaseTypeSQLServer
}

func (t CJDatabaseType) Driver() string {
	switch t {
	case CJDatabaseTypePostgreSQL:
		return "postgres"
	case CJDatabaseTypeOracle:
		return "oracle"
	case CJDatabaseTypeSQLServer:
		return "sqlserver"
	case CJDatabaseTypeMariaDB:
		return "mysql"
	default:
		return "unknown"
	}
}

func StringToCJDatabaseType(v string) CJDatabaseType {
	switch v {
	case "postgres", "postgresql", "pgsql":
		return CJDatabaseTypePostgreSQL
	case "mysql":
		return CJDatabaseTypeMariaDB
	case "mariadb":
		return CJDatabaseTypeMariaDB
	case "oracle":
		return CJDatabaseTypeOracle
	case "sqlserver", "mssql":
		return CJDatabaseTypeSQLServer
	default:
		return UnknownDatabaseType
	}
}
