// Package entity keeps the table metadata the data layer works from. A
// table is registered once with a prototype struct; registration resolves
// the struct tags into field descriptors so no query path touches
// reflection parsing again.
package entity

import (
	"reflect"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/HandsomeChen0407/cjdb/errors"
)

// Column names the interceptors and filters key on.
const (
	ColumnId             = "id"
	ColumnUid            = "uid"
	ColumnCreateTime     = "create_time"
	ColumnUpdateTime     = "update_time"
	ColumnCreateUserId   = "create_user_id"
	ColumnCreateUserName = "create_user_name"
	ColumnUpdateUserId   = "update_user_id"
	ColumnUpdateUserName = "update_user_name"
	ColumnCreateOrgId    = "create_org_id"
	ColumnCreateOrgName  = "create_org_name"
	ColumnIsDelete       = "is_delete"
	ColumnTenantId       = "tenant_id"
)

type CJSensitiveKind int

const (
	SensitiveNone CJSensitiveKind = iota
	SensitiveName
	SensitivePhone
	SensitiveIdCard
	SensitiveBankCard
	SensitiveEmail
	SensitiveAddress
	SensitiveOther
)

var sensitiveKindByTag = map[string]CJSensitiveKind{
	"name":     SensitiveName,
	"phone":    SensitivePhone,
	"id_card":  SensitiveIdCard,
	"bankcard": SensitiveBankCard,
	"email":    SensitiveEmail,
	"address":  SensitiveAddress,
	"other":    SensitiveOther,
}

type CJFieldDef struct {
	PropertyName string
	ColumnName   string
	IsPrimaryKey bool
	Sensitive    bool
	Kind         CJSensitiveKind
	index        []int
	fieldType    reflect.Type
}

// Value reads this field from a struct or struct pointer.
func (f *CJFieldDef) Value(entity any) (any, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, errors.New("ENTITY_IS_NIL")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, errors.Errorf("ENTITY_IS_NOT_A_STRUCT:%T", entity)
	}
	fv := v.FieldByIndex(f.index)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	return fv.Interface(), nil
}

// SetValue writes this field on a struct pointer, allocating intermediate
// pointer fields as needed.
func (f *CJFieldDef) SetValue(entity any, value any) error {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errors.Errorf("ENTITY_MUST_BE_A_NON_NIL_POINTER:%T", entity)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return errors.Errorf("ENTITY_IS_NOT_A_STRUCT:%T", entity)
	}
	fv := v.FieldByIndex(f.index)
	if !fv.CanSet() {
		return errors.Errorf("ENTITY_FIELD_NOT_SETTABLE:%s", f.PropertyName)
	}
	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	nv := reflect.ValueOf(value)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	if !nv.Type().AssignableTo(fv.Type()) {
		if nv.Type().ConvertibleTo(fv.Type()) {
			nv = nv.Convert(fv.Type())
		} else {
			return errors.Errorf("ENTITY_FIELD_TYPE_MISMATCH:%s:%s", f.PropertyName, nv.Type())
		}
	}
	fv.Set(nv)
	return nil
}

type CJEntityMeta struct {
	TableName string
	Type      reflect.Type
	// DatabaseNameId statically pins the table to a named connection.
	// Empty means the table follows tenant routing.
	DatabaseNameId string
	// IsSystemTable pins the table to the main connection regardless of
	// the caller's tenant.
	IsSystemTable bool

	Fields          []*CJFieldDef
	SensitiveFields []*CJFieldDef
	PrimaryKey      *CJFieldDef

	HasSoftDelete  bool
	HasTenantId    bool
	HasOrgId       bool
	HasOwnerUserId bool

	byColumn map[string]*CJFieldDef
}

func (m *CJEntityMeta) FieldByColumn(column string) *CJFieldDef {
	return m.byColumn[strings.ToLower(column)]
}

func (m *CJEntityMeta) ColumnNames() []string {
	r := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		r[i] = f.ColumnName
	}
	return r
}

type CJRegisterOption func(*CJEntityMeta)

// WithDatabase pins the table to the named connection instead of tenant
// routing.
func WithDatabase(nameId string) CJRegisterOption {
	return func(m *CJEntityMeta) {
		m.DatabaseNameId = nameId
	}
}

// AsSystemTable pins the table to the main connection.
func AsSystemTable() CJRegisterOption {
	return func(m *CJEntityMeta) {
		m.IsSystemTable = true
	}
}

type CJEntityManager struct {
	mutex   sync.RWMutex
	byTable map[string]*CJEntityMeta
	byType  map[reflect.Type]*CJEntityMeta

	// typeSensitive caches the sensitive descriptors per struct type for
	// ad hoc structs that were never registered as tables. Empty results
	// are cached too.
	typeSensitive *xsync.MapOf[reflect.Type, []*CJFieldDef]
}

var Manager = CJEntityManager{
	byTable:       map[string]*CJEntityMeta{},
	byType:        map[reflect.Type]*CJEntityMeta{},
	typeSensitive: xsync.NewMapOf[reflect.Type, []*CJFieldDef](),
}

// Register resolves prototype's struct tags into a table metadata entry.
// Registering the same table twice returns the existing entry unchanged.
func (em *CJEntityManager) Register(tableName string, prototype any, opts ...CJRegisterOption) (*CJEntityMeta, error) {
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Errorf("ENTITY_PROTOTYPE_MUST_BE_A_STRUCT:%T", prototype)
	}
	key := strings.ToLower(tableName)

	em.mutex.Lock()
	defer em.mutex.Unlock()
	if existing, ok := em.byTable[key]; ok {
		return existing, nil
	}

	m := &CJEntityMeta{
		TableName: key,
		Type:      t,
		byColumn:  map[string]*CJFieldDef{},
	}
	collectFields(t, nil, m)
	for _, f := range m.Fields {
		switch f.ColumnName {
		case ColumnIsDelete:
			m.HasSoftDelete = true
		case ColumnTenantId:
			m.HasTenantId = true
		case ColumnCreateOrgId:
			m.HasOrgId = true
		case ColumnCreateUserId:
			m.HasOwnerUserId = true
		}
		if f.Sensitive {
			m.SensitiveFields = append(m.SensitiveFields, f)
		}
		if f.IsPrimaryKey && m.PrimaryKey == nil {
			m.PrimaryKey = f
		}
	}
	for _, o := range opts {
		o(m)
	}
	em.byTable[key] = m
	em.byType[t] = m
	return m, nil
}

func collectFields(t reflect.Type, parentIndex []int, m *CJEntityMeta) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int{}, parentIndex...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectFields(f.Type, index, m)
			continue
		}
		if f.PkgPath != "" {
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}
		column := tag
		isPk := false
		if idx := strings.Index(tag, ","); idx >= 0 {
			column = tag[:idx]
			isPk = strings.Contains(tag[idx+1:], "pk")
		}
		if column == "" {
			column = strings.ToLower(f.Name)
		}
		column = strings.ToLower(column)
		if _, exists := m.byColumn[column]; exists {
			// Outer struct wins over an embedded duplicate.
			continue
		}
		fd := &CJFieldDef{
			PropertyName: f.Name,
			ColumnName:   column,
			IsPrimaryKey: isPk || column == ColumnId,
			index:        index,
			fieldType:    f.Type,
		}
		if s, ok := f.Tag.Lookup("sensitive"); ok {
			fd.Sensitive = true
			kind, known := sensitiveKindByTag[strings.ToLower(s)]
			if !known {
				kind = SensitiveOther
			}
			fd.Kind = kind
		}
		m.Fields = append(m.Fields, fd)
		m.byColumn[column] = fd
	}
}

func (em *CJEntityManager) MetaByTable(tableName string) *CJEntityMeta {
	em.mutex.RLock()
	defer em.mutex.RUnlock()
	return em.byTable[strings.ToLower(tableName)]
}

func (em *CJEntityManager) MetaByType(t reflect.Type) *CJEntityMeta {
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	em.mutex.RLock()
	defer em.mutex.RUnlock()
	return em.byType[t]
}

// SensitiveTables lists every registered table that carries at least one
// sensitive column.
func (em *CJEntityManager) SensitiveTables() []string {
	em.mutex.RLock()
	defer em.mutex.RUnlock()
	var r []string
	for name, m := range em.byTable {
		if len(m.SensitiveFields) > 0 {
			r = append(r, name)
		}
	}
	return r
}

// SensitiveColumns returns the sensitive descriptors of a registered
// table, nil when the table is unknown or has none.
func (em *CJEntityManager) SensitiveColumns(tableName string) []*CJFieldDef {
	m := em.MetaByTable(tableName)
	if m == nil {
		return nil
	}
	return m.SensitiveFields
}

// SensitiveFieldsOfType resolves the sensitive descriptors of any struct
// type, registered or not, caching the result per type.
func (em *CJEntityManager) SensitiveFieldsOfType(t reflect.Type) []*CJFieldDef {
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	if m := em.MetaByType(t); m != nil {
		return m.SensitiveFields
	}
	fields, _ := em.typeSensitive.LoadOrCompute(t, func() []*CJFieldDef {
		scratch := &CJEntityMeta{byColumn: map[string]*CJFieldDef{}}
		collectFields(t, nil, scratch)
		var r []*CJFieldDef
		for _, f := range scratch.Fields {
			if f.Sensitive {
				r = append(r, f)
			}
		}
		return r
	})
	return fields
}

// Reset drops every registration. Tests use it to start clean.
func (em *CJEntityManager) Reset() {
	em.mutex.Lock()
	defer em.mutex.Unlock()
	em.byTable = map[string]*CJEntityMeta{}
	em.byType = map[reflect.Type]*CJEntityMeta{}
	em.typeSensitive = xsync.NewMapOf[reflect.Type, []*CJFieldDef]()
}
