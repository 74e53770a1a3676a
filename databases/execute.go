package databases

import (
	"context"
	"fmt"
	"sort"
	"strings"

	namedparam "github.com/knetic/go-namedparameterquery"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/utils"
)

// buildWhere renders a where map and extra conditions into one conjunctive
// clause with prefixed named parameters. Keys are sorted so the same input
// always yields the same statement. A nil value becomes IS NULL, a slice
// becomes an IN list.
func buildWhere(where utils.JSON, conditions []base.CJCondition, params utils.JSON) string {
	var parts []string
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := where[k]
		p := "w_" + k
		switch t := v.(type) {
		case nil:
			parts = append(parts, k+" IS NULL")
		case []any:
			parts = append(parts, inList(k, p, t, params))
		case []int64:
			vs := make([]any, len(t))
			for i, e := range t {
				vs[i] = e
			}
			parts = append(parts, inList(k, p, vs, params))
		case []string:
			vs := make([]any, len(t))
			for i, e := range t {
				vs[i] = e
			}
			parts = append(parts, inList(k, p, vs, params))
		default:
			parts = append(parts, k+" = :"+p)
			params[p] = v
		}
	}
	for _, c := range conditions {
		if c.Clause == "" {
			continue
		}
		parts = append(parts, c.Clause)
		for pk, pv := range c.Params {
			params[pk] = pv
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " WHERE (" + strings.Join(parts, ") AND (") + ")"
}

func inList(column, paramBase string, values []any, params utils.JSON) string {
	if len(values) == 0 {
		// An empty IN list matches nothing.
		return "1 = 0"
	}
	names := make([]string, len(values))
	for i, v := range values {
		n := fmt.Sprintf("%s_%d", paramBase, i)
		names[i] = ":" + n
		params[n] = v
	}
	return column + " IN (" + strings.Join(names, ", ") + ")"
}

func (d *CJDatabase) limitClause(limit, offset int64) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	switch d.DatabaseType {
	case base.CJDatabaseTypeOracle, base.CJDatabaseTypeSQLServer:
		s := fmt.Sprintf(" OFFSET %d ROWS", offset)
		if limit > 0 {
			s += fmt.Sprintf(" FETCH NEXT %d ROWS ONLY", limit)
		}
		return s
	default:
		s := ""
		if limit > 0 {
			s += fmt.Sprintf(" LIMIT %d", limit)
		}
		if offset > 0 {
			s += fmt.Sprintf(" OFFSET %d", offset)
		}
		return s
	}
}

func (d *CJDatabase) runPreExecuteHooks(ctx context.Context, tableName, statement string, params utils.JSON) (string, utils.JSON, error) {
	var err error
	for _, h := range d.preExecuteHooks {
		statement, params, err = h(ctx, tableName, statement, params)
		if err != nil {
			return statement, params, err
		}
	}
	return statement, params, nil
}

func (d *CJDatabase) notifyError(ctx context.Context, statement string, params utils.JSON, err error) {
	for _, h := range d.errorHooks {
		h(ctx, statement, params, err)
	}
}

// QueryRows executes a named parameter SELECT and returns the rows as
// maps, after the pre-execute rewrites and the post-execute decryption.
func (d *CJDatabase) QueryRows(ctx context.Context, tableName, statement string, params utils.JSON) (rows []utils.JSON, err error) {
	if err = d.CheckConnection(); err != nil {
		return nil, err
	}
	if params == nil {
		params = utils.JSON{}
	}
	statement, params, err = d.runPreExecuteHooks(ctx, tableName, statement, params)
	if err != nil {
		return nil, err
	}
	query := namedparam.NewNamedParameterQuery(statement)
	query.SetValuesFromMap(params)
	s := d.Connection.Rebind(query.GetParsedQuery())
	p := query.GetParsedParameters()

	result, err := d.Connection.QueryxContext(ctx, s, p...)
	if err != nil {
		err = errors.Wrapf(err, "QUERY_FAILED:%s", tableName)
		d.notifyError(ctx, statement, params, err)
		return nil, err
	}
	defer func() {
		_ = result.Close()
	}()
	for result.Next() {
		row := utils.JSON{}
		err = result.MapScan(row)
		if err != nil {
			err = errors.Wrapf(err, "QUERY_SCAN_FAILED:%s", tableName)
			d.notifyError(ctx, statement, params, err)
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		rows = append(rows, row)
	}
	if err = result.Err(); err != nil {
		err = errors.Wrapf(err, "QUERY_ITERATE_FAILED:%s", tableName)
		d.notifyError(ctx, statement, params, err)
		return nil, err
	}
	for _, h := range d.postExecuteHooks {
		err = h(ctx, tableName, rows)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// ExecuteStatement executes a named parameter non-query statement and
// returns the affected row count.
func (d *CJDatabase) ExecuteStatement(ctx context.Context, tableName, statement string, params utils.JSON) (int64, error) {
	if err := d.CheckConnection(); err != nil {
		return 0, err
	}
	if params == nil {
		params = utils.JSON{}
	}
	statement, params, err := d.runPreExecuteHooks(ctx, tableName, statement, params)
	if err != nil {
		return 0, err
	}
	query := namedparam.NewNamedParameterQuery(statement)
	query.SetValuesFromMap(params)
	s := d.Connection.Rebind(query.GetParsedQuery())
	p := query.GetParsedParameters()

	result, err := d.Connection.ExecContext(ctx, s, p...)
	if err != nil {
		err = errors.Wrapf(err, "EXECUTE_FAILED:%s", tableName)
		d.notifyError(ctx, statement, params, err)
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// Select builds and runs a SELECT over tableName. fieldNames nil means all
// columns; conditions come from the filter composer and are always ANDed
// in.
func (d *CJDatabase) Select(ctx context.Context, tableName string, fieldNames []string, where utils.JSON, conditions []base.CJCondition, orderBy string, limit, offset int64) ([]utils.JSON, error) {
	fields := "*"
	if len(fieldNames) > 0 {
		fields = strings.Join(fieldNames, ", ")
	}
	params := utils.JSON{}
	statement := "SELECT " + fields + " FROM " + tableName + buildWhere(where, conditions, params)
	if orderBy != "" {
		statement += " ORDER BY " + orderBy
	}
	statement += d.limitClause(limit, offset)
	return d.QueryRows(ctx, tableName, statement, params)
}

// SelectOne returns the first matching row, or nil when nothing matches.
func (d *CJDatabase) SelectOne(ctx context.Context, tableName string, fieldNames []string, where utils.JSON, conditions []base.CJCondition, orderBy string) (utils.JSON, error) {
	rows, err := d.Select(ctx, tableName, fieldNames, where, conditions, orderBy, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ShouldSelectOne is SelectOne but a miss is an error.
func (d *CJDatabase) ShouldSelectOne(ctx context.Context, tableName string, fieldNames []string, where utils.JSON, conditions []base.CJCondition, orderBy string) (utils.JSON, error) {
	row, err := d.SelectOne(ctx, tableName, fieldNames, where, conditions, orderBy)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.Wrapf(ErrRowNotFound, "table %s", tableName)
	}
	return row, nil
}

func (d *CJDatabase) Count(ctx context.Context, tableName string, where utils.JSON, conditions []base.CJCondition) (int64, error) {
	params := utils.JSON{}
	statement := "SELECT COUNT(*) AS c FROM " + tableName + buildWhere(where, conditions, params)
	rows, err := d.QueryRows(ctx, tableName, statement, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return utils.GetInt64(rows[0], "c"), nil
}

// Insert stamps data through the pre-write hooks, builds the INSERT and
// runs it. It returns the primary key the stamping hooks assigned.
func (d *CJDatabase) Insert(ctx context.Context, tableName string, data utils.JSON) (int64, error) {
	meta := d.metaOf(tableName)
	for _, h := range d.preWriteHooks {
		err := h(ctx, WriteInsert, meta, data)
		if err != nil {
			return 0, err
		}
	}
	columns := make([]string, 0, len(data))
	for k := range data {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	placeholders := make([]string, len(columns))
	params := utils.JSON{}
	for i, c := range columns {
		p := "i_" + c
		placeholders[i] = ":" + p
		params[p] = data[c]
	}
	statement := "INSERT INTO " + tableName + " (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	_, err := d.ExecuteStatement(ctx, tableName, statement, params)
	if err != nil {
		return 0, err
	}
	return utils.GetInt64(data, "id"), nil
}

// Update stamps setData through the pre-write hooks and runs the UPDATE.
// The row filters arrive as conditions so a caller can never update rows
// its scope would not let it read.
func (d *CJDatabase) Update(ctx context.Context, tableName string, setData utils.JSON, where utils.JSON, conditions []base.CJCondition) (int64, error) {
	meta := d.metaOf(tableName)
	for _, h := range d.preWriteHooks {
		err := h(ctx, WriteUpdate, meta, setData)
		if err != nil {
			return 0, err
		}
	}
	columns := make([]string, 0, len(setData))
	for k := range setData {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	sets := make([]string, len(columns))
	params := utils.JSON{}
	for i, c := range columns {
		p := "s_" + c
		sets[i] = c + " = :" + p
		params[p] = setData[c]
	}
	statement := "UPDATE " + tableName + " SET " + strings.Join(sets, ", ") + buildWhere(where, conditions, params)
	return d.ExecuteStatement(ctx, tableName, statement, params)
}

// SoftDelete flips the soft delete flag and stamps the update audit
// columns. Tables without the flag fall back to a hard DELETE.
func (d *CJDatabase) SoftDelete(ctx context.Context, tableName string, where utils.JSON, conditions []base.CJCondition) (int64, error) {
	meta := d.metaOf(tableName)
	if meta == nil || !meta.HasSoftDelete {
		return d.HardDelete(ctx, tableName, where, conditions)
	}
	setData := utils.JSON{"is_delete": true}
	for _, h := range d.preWriteHooks {
		err := h(ctx, WriteSoftDelete, meta, setData)
		if err != nil {
			return 0, err
		}
	}
	columns := make([]string, 0, len(setData))
	for k := range setData {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	sets := make([]string, len(columns))
	params := utils.JSON{}
	for i, c := range columns {
		p := "s_" + c
		sets[i] = c + " = :" + p
		params[p] = setData[c]
	}
	statement := "UPDATE " + tableName + " SET " + strings.Join(sets, ", ") + buildWhere(where, conditions, params)
	return d.ExecuteStatement(ctx, tableName, statement, params)
}

func (d *CJDatabase) HardDelete(ctx context.Context, tableName string, where utils.JSON, conditions []base.CJCondition) (int64, error) {
	params := utils.JSON{}
	statement := "DELETE FROM " + tableName + buildWhere(where, conditions, params)
	return d.ExecuteStatement(ctx, tableName, statement, params)
}
