// Package filters composes the row-level predicates every query through a
// scope carries: soft-delete, tenant, organization or self data scope, and
// the custom predicates registered by filter providers. Composition is per
// call because the predicates depend on the caller's claims.
package filters

import (
	"context"
	"fmt"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/cache"
	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/identity"
	"github.com/HandsomeChen0407/cjdb/log"
)

// Cache key prefixes for the per-user lookups the composer depends on.
// KeyUserOrg and KeyUserDataScope are point keys suffixed with the user
// id; KeyUserOrgSelect is suffixed with the product type and names a hash
// whose fields are user ids.
const (
	KeyUserOrg       = "sys_user_org:"
	KeyUserOrgSelect = "sys_user_org:select:"
	KeyUserDataScope = "sys_role_maxDataScope:"
)

// failClosed matches no rows. It is attached when an org scope resolves to
// no organizations, so a misconfigured user sees nothing instead of
// everything.
var failClosed = base.CJCondition{Clause: "1 = 0"}

// CJFilterProvider contributes extra predicates for the tables it knows.
// Providers are registered explicitly at startup.
type CJFilterProvider interface {
	Name() string
	// Conditions returns the predicates to attach for meta on the given
	// scope, or nil when the provider has nothing to say about the table.
	Conditions(ctx context.Context, claims *identity.CJClaims, meta *entity.CJEntityMeta, databaseNameId string) ([]base.CJCondition, error)
}

type CJFilterComposer struct {
	Cache *cache.CJCacheService

	// OrgIds resolves the organizations visible to a user when the cache
	// has no entry. Optional; without it an uncached user's membership
	// stays unknown.
	OrgIds func(ctx context.Context, userId int64) ([]int64, error)
	// DataScope resolves a user's widest data scope on a cache miss.
	// Optional; without it an uncached user stays unrestricted.
	DataScope func(ctx context.Context, userId int64) (identity.CJDataScope, error)

	providers []CJFilterProvider
}

// Composer is the process-wide instance the repository layer uses.
var Composer = &CJFilterComposer{}

func (c *CJFilterComposer) cacheService() *cache.CJCacheService {
	if c.Cache != nil {
		return c.Cache
	}
	return cache.Default
}

func (c *CJFilterComposer) RegisterProvider(p CJFilterProvider) {
	c.providers = append(c.providers, p)
	log.Log.Infof("Registered filter provider %s", p.Name())
}

// ComposeForScope returns the predicates to attach for one call against
// meta on the named scope, in a fixed order: soft delete, then either the
// self predicate alone or tenant, org scope and custom predicates. The
// super admin account type skips everything but soft delete.
func (c *CJFilterComposer) ComposeForScope(ctx context.Context, claims *identity.CJClaims, meta *entity.CJEntityMeta, databaseNameId string) ([]base.CJCondition, error) {
	if meta == nil {
		return nil, nil
	}
	var conditions []base.CJCondition
	if meta.HasSoftDelete {
		conditions = append(conditions, base.CJCondition{
			Clause: entity.ColumnIsDelete + " = :f_is_delete",
			Params: map[string]any{"f_is_delete": false},
		})
	}
	if claims == nil {
		return conditions, nil
	}
	if claims.IsSuperAdmin() {
		return conditions, nil
	}

	userId, hasUser := claims.UserIdAsInt64()
	scope := identity.DataScopeUnset
	if hasUser {
		scope = c.userDataScope(ctx, userId)
	}

	// Self scope narrows to the caller's own rows and short-circuits the
	// tenant, org and custom predicates.
	if scope == identity.DataScopeSelf {
		if meta.HasOwnerUserId {
			conditions = append(conditions, base.CJCondition{
				Clause: entity.ColumnCreateUserId + " = :f_self_user_id",
				Params: map[string]any{"f_self_user_id": userId},
			})
		}
		return conditions, nil
	}

	if meta.HasTenantId {
		if tenantId, ok := claims.TenantIdAsInt64(); ok {
			conditions = append(conditions, base.CJCondition{
				Clause: entity.ColumnTenantId + " = :f_tenant_id",
				Params: map[string]any{"f_tenant_id": tenantId},
			})
		}
	}

	if meta.HasOrgId && hasUser && scope != identity.DataScopeUnset && scope != identity.DataScopeAll {
		// Unknown membership attaches nothing, the tenant filter still
		// applies. A known but empty membership matches no rows.
		orgIds, known := c.userOrgIds(ctx, userId, claims.ProductType)
		switch {
		case !known:
		case len(orgIds) == 0:
			conditions = append(conditions, failClosed)
		default:
			params := map[string]any{}
			clause := orgInClause(orgIds, params)
			conditions = append(conditions, base.CJCondition{Clause: clause, Params: params})
		}
	}

	custom, err := c.customConditions(ctx, claims, meta, databaseNameId)
	if err != nil {
		return nil, err
	}
	conditions = append(conditions, custom...)
	return conditions, nil
}

func orgInClause(orgIds []int64, params map[string]any) string {
	clause := entity.ColumnCreateOrgId + " IN ("
	for i, id := range orgIds {
		name := fmt.Sprintf("f_org_id_%d", i)
		if i > 0 {
			clause += ", "
		}
		clause += ":" + name
		params[name] = id
	}
	return clause + ")"
}

// userDataScope reads the user's widest scope from the cache, resolving on
// a miss when a resolver is wired. No entry means unrestricted.
func (c *CJFilterComposer) userDataScope(ctx context.Context, userId int64) identity.CJDataScope {
	svc := c.cacheService()
	key := fmt.Sprintf("%s%d", KeyUserDataScope, userId)
	v, found, err := cache.Get[int](svc, ctx, key)
	if err == nil && found {
		return identity.CJDataScope(v)
	}
	if err != nil {
		log.Log.Warnf("Data scope cache read failed for user %d: %v", userId, err)
	}
	if c.DataScope == nil {
		return identity.DataScopeUnset
	}
	scope, err := c.DataScope(ctx, userId)
	if err != nil {
		log.Log.Warnf("Data scope lookup failed for user %d, staying unrestricted: %v", userId, err)
		return identity.DataScopeUnset
	}
	_ = cache.Set(svc, ctx, key, int(scope), 0)
	return scope
}

// userOrgIds resolves the organizations visible to the user: the cached
// membership list, resolved on a miss when a resolver is wired, narrowed
// by the orgs the user selected for the current product. The selection
// lives in one hash per product, keyed by user id, so a selection made in
// one product never narrows another. The second return is false when
// nothing is known about the user's orgs at all.
func (c *CJFilterComposer) userOrgIds(ctx context.Context, userId int64, productType string) ([]int64, bool) {
	svc := c.cacheService()
	membershipKey := fmt.Sprintf("%s%d", KeyUserOrg, userId)
	membership, found, err := cache.Get[[]int64](svc, ctx, membershipKey)
	if err != nil {
		log.Log.Warnf("Org cache read failed for user %d: %v", userId, err)
		found = false
	}
	if !found {
		if c.OrgIds == nil {
			return nil, false
		}
		membership, err = c.OrgIds(ctx, userId)
		if err != nil {
			log.Log.Warnf("Org lookup failed for user %d: %v", userId, err)
			return nil, false
		}
		_ = cache.Set(svc, ctx, membershipKey, membership, 0)
	}

	selected, found, err := cache.HashGetOne[[]int64](svc, ctx, KeyUserOrgSelect+productType, fmt.Sprintf("%d", userId))
	if err != nil {
		log.Log.Warnf("Selected org cache read failed for user %d: %v", userId, err)
	}
	if found && len(selected) > 0 {
		membership = intersectInt64(membership, selected)
	}
	return membership, true
}

func intersectInt64(a, b []int64) []int64 {
	inB := make(map[int64]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}
	var r []int64
	for _, v := range a {
		if _, ok := inB[v]; ok {
			r = append(r, v)
		}
	}
	return r
}

// DeleteUserOrgCache drops the cached org list, the per-product org
// selections, the data scope and the custom predicates of one user. Call
// it when the user's org assignments or roles change; pass the database
// name ids whose custom caches should go with it.
func (c *CJFilterComposer) DeleteUserOrgCache(ctx context.Context, userId int64, databaseNameIds ...string) error {
	svc := c.cacheService()
	uid := fmt.Sprintf("%d", userId)
	err := svc.RemoveByPrefix(ctx, KeyUserOrg+uid)
	if err != nil {
		return err
	}
	// The selections are one hash per product with the user id as field.
	selectKeys, err := svc.Keys(ctx, KeyUserOrgSelect)
	if err != nil {
		return err
	}
	for _, key := range selectKeys {
		err = svc.HashDelete(ctx, key, uid)
		if err != nil {
			return err
		}
	}
	err = svc.Remove(ctx, KeyUserDataScope+uid)
	if err != nil {
		return err
	}
	for _, nameId := range databaseNameIds {
		err = c.InvalidateCustomConditions(ctx, nameId, uid)
		if err != nil {
			return err
		}
	}
	return nil
}
