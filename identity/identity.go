// Package identity carries the authenticated caller's claims on the
// request context. The data layer reads them to route tenants, stamp audit
// columns and compose row filters; everything is optional because jobs and
// startup code run with no caller at all.
package identity

import (
	"context"
	"strconv"
)

// AccountTypeSuperAdmin marks the operator account that bypasses row-level
// filtering entirely.
const AccountTypeSuperAdmin = "999"

type CJDataScope int

const (
	// DataScopeUnset means no scope is recorded for the user; reads stay
	// unrestricted.
	DataScopeUnset CJDataScope = iota
	DataScopeAll
	DataScopeOrg
	DataScopeSelf
)

type CJClaims struct {
	UserId      string
	UserName    string
	RealName    string
	TenantId    string
	AccountType string
	OrgId       string
	OrgName     string
	ProductType string
	DeviceId    string
}

func (c *CJClaims) UserIdAsInt64() (int64, bool) {
	if c == nil || c.UserId == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(c.UserId, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *CJClaims) TenantIdAsInt64() (int64, bool) {
	if c == nil || c.TenantId == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(c.TenantId, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *CJClaims) OrgIdAsInt64() (int64, bool) {
	if c == nil || c.OrgId == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(c.OrgId, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *CJClaims) IsSuperAdmin() bool {
	return c != nil && c.AccountType == AccountTypeSuperAdmin
}

type contextKey struct{}

func NewContext(ctx context.Context, claims *CJClaims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the claims on ctx, or nil when the call carries none.
func FromContext(ctx context.Context) *CJClaims {
	if ctx == nil {
		return nil
	}
	claims, _ := ctx.Value(contextKey{}).(*CJClaims)
	return claims
}
