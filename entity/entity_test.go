package entity

import (
	"reflect"
	"testing"
)

type testUser struct {
	CJTenantEntityBase
	Account string  `db:"account"`
	Name    *string `db:"name" sensitive:"name"`
	Phone   *string `db:"phone" sensitive:"phone"`
	Remark  string  `db:"remark"`
	Skipped string  `db:"-"`
}

type testPlain struct {
	Id    int64  `db:"id"`
	Label string `db:"label"`
}

func TestRegisterResolvesColumns(t *testing.T) {
	Manager.Reset()
	m, err := Manager.Register("sys_user", testUser{})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if m.TableName != "sys_user" {
		t.Errorf("table name %q", m.TableName)
	}
	if !m.HasSoftDelete || !m.HasTenantId || !m.HasOrgId || !m.HasOwnerUserId {
		t.Errorf("capability flags wrong: %+v", m)
	}
	if m.PrimaryKey == nil || m.PrimaryKey.ColumnName != "id" {
		t.Error("expected id to be detected as primary key")
	}
	if m.FieldByColumn("account") == nil {
		t.Error("expected account column")
	}
	if m.FieldByColumn("skipped") != nil {
		t.Error("db:\"-\" field must be skipped")
	}
	if len(m.SensitiveFields) != 2 {
		t.Errorf("expected 2 sensitive fields, got %d", len(m.SensitiveFields))
	}
	if m.FieldByColumn("phone").Kind != SensitivePhone {
		t.Error("phone sensitive kind wrong")
	}
}

func TestRegisterIdempotent(t *testing.T) {
	Manager.Reset()
	m1, err := Manager.Register("sys_user", testUser{})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	m2, err := Manager.Register("SYS_USER", testUser{})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if m1 != m2 {
		t.Error("expected second registration to return the existing entry")
	}
}

func TestRegisterOptions(t *testing.T) {
	Manager.Reset()
	m, err := Manager.Register("sys_config", testPlain{}, AsSystemTable())
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if !m.IsSystemTable {
		t.Error("expected system table flag")
	}
	m2, err := Manager.Register("audit_log", testPlain{}, WithDatabase("analytics"))
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if m2.DatabaseNameId != "analytics" {
		t.Errorf("database name id %q", m2.DatabaseNameId)
	}
}

func TestRegisterRejectsNonStruct(t *testing.T) {
	Manager.Reset()
	if _, err := Manager.Register("bad", 42); err == nil {
		t.Error("expected error for non-struct prototype")
	}
}

func TestFieldValueAndSetValue(t *testing.T) {
	Manager.Reset()
	m, err := Manager.Register("sys_user", testUser{})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	u := &testUser{Account: "admin"}
	f := m.FieldByColumn("account")
	v, err := f.Value(u)
	if err != nil {
		t.Fatalf("Value error: %v", err)
	}
	if v != "admin" {
		t.Errorf("got %v", v)
	}

	// Pointer field, starts nil.
	phone := m.FieldByColumn("phone")
	v, err = phone.Value(u)
	if err != nil {
		t.Fatalf("Value error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil for unset pointer field, got %v", v)
	}
	if err := phone.SetValue(u, "13800138000"); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}
	if u.Phone == nil || *u.Phone != "13800138000" {
		t.Errorf("phone not set: %v", u.Phone)
	}

	// Embedded field through the base chain.
	tenant := m.FieldByColumn("tenant_id")
	if err := tenant.SetValue(u, int64(7)); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}
	if u.TenantId == nil || *u.TenantId != 7 {
		t.Errorf("tenant not set: %v", u.TenantId)
	}
}

func TestSensitiveTables(t *testing.T) {
	Manager.Reset()
	_, _ = Manager.Register("sys_user", testUser{})
	_, _ = Manager.Register("sys_config", testPlain{})
	tables := Manager.SensitiveTables()
	if len(tables) != 1 || tables[0] != "sys_user" {
		t.Errorf("sensitive tables %v", tables)
	}
	if cols := Manager.SensitiveColumns("sys_config"); cols != nil {
		t.Errorf("expected nil for table without sensitive columns, got %v", cols)
	}
}

func TestSensitiveFieldsOfTypeUnregistered(t *testing.T) {
	Manager.Reset()
	type dto struct {
		Name  string `db:"name" sensitive:"name"`
		Plain string `db:"plain"`
	}
	fields := Manager.SensitiveFieldsOfType(reflect.TypeOf(dto{}))
	if len(fields) != 1 || fields[0].ColumnName != "name" {
		t.Errorf("fields %v", fields)
	}
	// Second lookup hits the per-type cache.
	again := Manager.SensitiveFieldsOfType(reflect.TypeOf(&dto{}))
	if len(again) != 1 {
		t.Errorf("cached lookup returned %v", again)
	}
}
