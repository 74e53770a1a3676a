package entity

import "time"

// CJEntityBase carries the audit columns every table has. Embed it in a
// prototype struct before registering the table.
type CJEntityBase struct {
	Id             int64      `db:"id,pk"`
	Uid            *string    `db:"uid"`
	CreateTime     *time.Time `db:"create_time"`
	UpdateTime     *time.Time `db:"update_time"`
	CreateUserId   *int64     `db:"create_user_id"`
	CreateUserName *string    `db:"create_user_name"`
	UpdateUserId   *int64     `db:"update_user_id"`
	UpdateUserName *string    `db:"update_user_name"`
	IsDelete       bool       `db:"is_delete"`
}

// CJDataEntityBase adds the owning organization, which the org data scope
// filters on.
type CJDataEntityBase struct {
	CJEntityBase
	CreateOrgId   *int64  `db:"create_org_id"`
	CreateOrgName *string `db:"create_org_name"`
}

// CJTenantEntityBase adds the tenant column for tables that live in the
// shared main database but hold rows of many tenants.
type CJTenantEntityBase struct {
	CJDataEntityBase
	TenantId *int64 `db:"tenant_id"`
}
