package databases

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/identity"
	"github.com/HandsomeChen0407/cjdb/sensitive"
	"github.com/HandsomeChen0407/cjdb/utils"
	"github.com/HandsomeChen0407/cjdb/utils/snowflake"
)

// stampWrite fills the audit columns of a write payload from the caller's
// claims and encrypts the sensitive columns, as the last step before the
// statement is built. Tables that were never registered pass through
// untouched.
func (m *CJDatabaseManager) stampWrite(ctx context.Context, kind CJWriteKind, meta *entity.CJEntityMeta, data utils.JSON) error {
	if meta == nil {
		return nil
	}
	claims := identity.FromContext(ctx)
	switch kind {
	case WriteInsert:
		err := m.stampInsert(meta, claims, data)
		if err != nil {
			return err
		}
	case WriteUpdate, WriteSoftDelete:
		m.stampUpdate(meta, claims, data)
	}
	return sensitive.EncryptColumns(m.FieldCipher, meta.SensitiveFields, data)
}

func hasColumn(meta *entity.CJEntityMeta, column string) bool {
	return meta.FieldByColumn(column) != nil
}

func unset(data utils.JSON, column string) bool {
	v, ok := data[column]
	if !ok || v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case int64:
		return t == 0
	case int:
		return t == 0
	default:
		return false
	}
}

func (m *CJDatabaseManager) stampInsert(meta *entity.CJEntityMeta, claims *identity.CJClaims, data utils.JSON) error {
	if hasColumn(meta, entity.ColumnId) && unset(data, entity.ColumnId) {
		generator := m.Snowflake
		if generator == nil {
			generator = snowflake.Default
		}
		id, err := generator.Next()
		if err != nil {
			return err
		}
		data[entity.ColumnId] = id
	}
	if hasColumn(meta, entity.ColumnUid) && unset(data, entity.ColumnUid) {
		data[entity.ColumnUid] = uuid.NewString()
	}
	now := time.Now().UTC()
	if hasColumn(meta, entity.ColumnCreateTime) && unset(data, entity.ColumnCreateTime) {
		data[entity.ColumnCreateTime] = now
	}
	if meta.HasSoftDelete && unset(data, entity.ColumnIsDelete) {
		data[entity.ColumnIsDelete] = false
	}
	if claims != nil {
		if userId, ok := claims.UserIdAsInt64(); ok {
			if hasColumn(meta, entity.ColumnCreateUserId) && unset(data, entity.ColumnCreateUserId) {
				data[entity.ColumnCreateUserId] = userId
			}
		}
		if hasColumn(meta, entity.ColumnCreateUserName) && unset(data, entity.ColumnCreateUserName) && claims.RealName != "" {
			data[entity.ColumnCreateUserName] = claims.RealName
		}
		if orgId, ok := claims.OrgIdAsInt64(); ok {
			if meta.HasOrgId && unset(data, entity.ColumnCreateOrgId) {
				data[entity.ColumnCreateOrgId] = orgId
			}
		}
		if hasColumn(meta, entity.ColumnCreateOrgName) && unset(data, entity.ColumnCreateOrgName) && claims.OrgName != "" {
			data[entity.ColumnCreateOrgName] = claims.OrgName
		}
		if tenantId, ok := claims.TenantIdAsInt64(); ok {
			if meta.HasTenantId && unset(data, entity.ColumnTenantId) {
				data[entity.ColumnTenantId] = tenantId
			}
		}
	}
	return nil
}

// stampUpdate always refreshes update_time; the updater identity is only
// filled when the caller did not set it explicitly.
func (m *CJDatabaseManager) stampUpdate(meta *entity.CJEntityMeta, claims *identity.CJClaims, data utils.JSON) {
	if hasColumn(meta, entity.ColumnUpdateTime) {
		data[entity.ColumnUpdateTime] = time.Now().UTC()
	}
	if claims == nil {
		return
	}
	if userId, ok := claims.UserIdAsInt64(); ok {
		if hasColumn(meta, entity.ColumnUpdateUserId) && unset(data, entity.ColumnUpdateUserId) {
			data[entity.ColumnUpdateUserId] = userId
		}
	}
	if hasColumn(meta, entity.ColumnUpdateUserName) && unset(data, entity.ColumnUpdateUserName) && claims.RealName != "" {
		data[entity.ColumnUpdateUserName] = claims.RealName
	}
}

// rewriteSensitivePredicates is the pre-execute hook delegating to the
// predicate rewriter. It never fails the statement.
func (m *CJDatabaseManager) rewriteSensitivePredicates(_ context.Context, _ string, statement string, params utils.JSON) (string, utils.JSON, error) {
	if m.Rewriter == nil {
		return statement, params, nil
	}
	rewritten, _ := m.Rewriter.RewriteSelect(statement, params)
	return rewritten, params, nil
}

// decryptRows is the post-execute hook restoring sensitive columns to
// plaintext before rows reach the caller.
func (m *CJDatabaseManager) decryptRows(ctx context.Context, tableName string, rows []utils.JSON) error {
	return sensitive.DecryptRows(ctx, m.FieldCipher, tableName, rows)
}
