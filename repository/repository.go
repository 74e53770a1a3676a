// Package repository is the typed access layer the application code talks
// to. A repository binds one registered table to the connection routing of
// the database manager and attaches the composed row filters to every read
// and write it runs.
package repository

import (
	"context"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/databases"
	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/filters"
	"github.com/HandsomeChen0407/cjdb/identity"
	"github.com/HandsomeChen0407/cjdb/utils"
)

type CJRepository struct {
	Manager   *databases.CJDatabaseManager
	Composer  *filters.CJFilterComposer
	TableName string
	Meta      *entity.CJEntityMeta

	deviceId string
}

type CJRepositoryOption func(*CJRepository)

// WithDevice routes the repository through the device to tenant mapping
// instead of the caller's claims.
func WithDevice(deviceId string) CJRepositoryOption {
	return func(r *CJRepository) {
		r.deviceId = deviceId
	}
}

func WithManager(m *databases.CJDatabaseManager) CJRepositoryOption {
	return func(r *CJRepository) {
		r.Manager = m
	}
}

func WithComposer(c *filters.CJFilterComposer) CJRepositoryOption {
	return func(r *CJRepository) {
		r.Composer = c
	}
}

// NewRepository binds tableName, which must already be registered with the
// entity manager.
func NewRepository(tableName string, opts ...CJRepositoryOption) (*CJRepository, error) {
	r := &CJRepository{
		Manager:   &databases.Manager,
		Composer:  filters.Composer,
		TableName: tableName,
	}
	for _, opt := range opts {
		opt(r)
	}
	meta := entity.Manager.MetaByTable(tableName)
	if meta == nil {
		return nil, errors.Errorf("Table %s is not registered", tableName)
	}
	r.Meta = meta
	return r, nil
}

// Scope resolves the connection this repository's calls run on.
func (r *CJRepository) Scope(ctx context.Context) (*databases.CJDatabase, error) {
	return r.Manager.ScopeForEntity(ctx, r.Meta, r.deviceId)
}

func (r *CJRepository) conditions(ctx context.Context, d *databases.CJDatabase) ([]base.CJCondition, error) {
	return r.Composer.ComposeForScope(ctx, identity.FromContext(ctx), r.Meta, d.NameId)
}

func (r *CJRepository) scopeAndConditions(ctx context.Context) (*databases.CJDatabase, []base.CJCondition, error) {
	d, err := r.Scope(ctx)
	if err != nil {
		return nil, nil, err
	}
	conditions, err := r.conditions(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	return d, conditions, nil
}

func (r *CJRepository) Select(ctx context.Context, fieldNames []string, where utils.JSON, orderBy string, limit, offset int64) ([]utils.JSON, error) {
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return nil, err
	}
	return d.Select(ctx, r.TableName, fieldNames, where, conditions, orderBy, limit, offset)
}

func (r *CJRepository) SelectAll(ctx context.Context, where utils.JSON, orderBy string) ([]utils.JSON, error) {
	return r.Select(ctx, nil, where, orderBy, 0, 0)
}

// SelectOne returns the first match or nil when nothing matches.
func (r *CJRepository) SelectOne(ctx context.Context, where utils.JSON, orderBy string) (utils.JSON, error) {
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return nil, err
	}
	return d.SelectOne(ctx, r.TableName, nil, where, conditions, orderBy)
}

// ShouldSelectOne returns the first match or ErrRowNotFound.
func (r *CJRepository) ShouldSelectOne(ctx context.Context, where utils.JSON, orderBy string) (utils.JSON, error) {
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return nil, err
	}
	return d.ShouldSelectOne(ctx, r.TableName, nil, where, conditions, orderBy)
}

func (r *CJRepository) GetById(ctx context.Context, id int64) (utils.JSON, error) {
	return r.ShouldSelectOne(ctx, utils.JSON{entity.ColumnId: id}, "")
}

func (r *CJRepository) GetByUid(ctx context.Context, uid string) (utils.JSON, error) {
	return r.ShouldSelectOne(ctx, utils.JSON{entity.ColumnUid: uid}, "")
}

func (r *CJRepository) Count(ctx context.Context, where utils.JSON) (int64, error) {
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return 0, err
	}
	return d.Count(ctx, r.TableName, where, conditions)
}

func (r *CJRepository) IsExist(ctx context.Context, where utils.JSON) (bool, error) {
	count, err := r.Count(ctx, where)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert writes one row. Audit columns, identifiers and sensitive columns
// are filled by the scope's write hooks, so data only needs the domain
// values. The new row id is returned.
func (r *CJRepository) Insert(ctx context.Context, data utils.JSON) (int64, error) {
	d, err := r.Scope(ctx)
	if err != nil {
		return 0, err
	}
	return d.Insert(ctx, r.TableName, data)
}

func (r *CJRepository) Update(ctx context.Context, setData utils.JSON, where utils.JSON) (int64, error) {
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return 0, err
	}
	return d.Update(ctx, r.TableName, setData, where, conditions)
}

func (r *CJRepository) UpdateById(ctx context.Context, id int64, setData utils.JSON) (int64, error) {
	return r.Update(ctx, setData, utils.JSON{entity.ColumnId: id})
}

func (r *CJRepository) SoftDelete(ctx context.Context, where utils.JSON) (int64, error) {
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return 0, err
	}
	return d.SoftDelete(ctx, r.TableName, where, conditions)
}

func (r *CJRepository) SoftDeleteById(ctx context.Context, id int64) (int64, error) {
	return r.SoftDelete(ctx, utils.JSON{entity.ColumnId: id})
}

// HardDelete removes rows permanently. The composed filters still apply,
// so a caller cannot delete outside their visibility.
func (r *CJRepository) HardDelete(ctx context.Context, where utils.JSON) (int64, error) {
	d, conditions, err := r.scopeAndConditions(ctx)
	if err != nil {
		return 0, err
	}
	return d.HardDelete(ctx, r.TableName, where, conditions)
}
