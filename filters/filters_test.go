package filters

import (
	"context"
	"strings"
	"testing"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/cache"
	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/identity"
)

type filterTestOrder struct {
	entity.CJTenantEntityBase
	Amount int64 `db:"amount"`
}

func newTestComposer(t *testing.T) (*CJFilterComposer, *entity.CJEntityMeta) {
	t.Helper()
	entity.Manager.Reset()
	meta, err := entity.Manager.Register("filter_test_order", filterTestOrder{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	c := &CJFilterComposer{Cache: &cache.CJCacheService{Backend: cache.NewMemoryBackend(), Prefix: "test:"}}
	return c, meta
}

func claimsFor(userId string) *identity.CJClaims {
	return &identity.CJClaims{UserId: userId, TenantId: "42", OrgId: "77", ProductType: "web"}
}

func setSelectedOrgs(t *testing.T, c *CJFilterComposer, productType, userId string, orgIds []int64) {
	t.Helper()
	err := cache.HashSetOne(c.Cache, context.Background(), KeyUserOrgSelect+productType, userId, orgIds)
	if err != nil {
		t.Fatalf("HashSetOne: %v", err)
	}
}

func setScope(t *testing.T, c *CJFilterComposer, userId int64, scope identity.CJDataScope) {
	t.Helper()
	key := KeyUserDataScope + "1001"
	if userId != 1001 {
		t.Fatalf("test helper only seeds user 1001")
	}
	err := cache.Set(c.Cache, context.Background(), key, int(scope), 0)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func clauses(conditions []base.CJCondition) string {
	parts := make([]string, len(conditions))
	for i, c := range conditions {
		parts[i] = c.Clause
	}
	return strings.Join(parts, " | ")
}

func TestComposeNoClaims(t *testing.T) {
	c, meta := newTestComposer(t)
	conditions, err := c.ComposeForScope(context.Background(), nil, meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	if len(conditions) != 1 {
		t.Fatalf("expected soft delete only, got %q", clauses(conditions))
	}
	if conditions[0].Clause != "is_delete = :f_is_delete" {
		t.Errorf("unexpected clause %q", conditions[0].Clause)
	}
	if conditions[0].Params["f_is_delete"] != false {
		t.Errorf("unexpected params %v", conditions[0].Params)
	}
}

func TestComposeSuperAdmin(t *testing.T) {
	c, meta := newTestComposer(t)
	claims := claimsFor("1001")
	claims.AccountType = identity.AccountTypeSuperAdmin
	conditions, err := c.ComposeForScope(context.Background(), claims, meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	if len(conditions) != 1 || conditions[0].Clause != "is_delete = :f_is_delete" {
		t.Fatalf("super admin should carry soft delete only, got %q", clauses(conditions))
	}
}

func TestComposeTenantDefault(t *testing.T) {
	c, meta := newTestComposer(t)
	conditions, err := c.ComposeForScope(context.Background(), claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	want := "is_delete = :f_is_delete | tenant_id = :f_tenant_id"
	if clauses(conditions) != want {
		t.Fatalf("got %q, want %q", clauses(conditions), want)
	}
	if conditions[1].Params["f_tenant_id"] != int64(42) {
		t.Errorf("unexpected tenant param %v", conditions[1].Params)
	}
}

func TestComposeSelfShortCircuits(t *testing.T) {
	c, meta := newTestComposer(t)
	setScope(t, c, 1001, identity.DataScopeSelf)
	c.RegisterProvider(&staticProvider{conditions: []base.CJCondition{{Clause: "region = :f_region"}}})
	conditions, err := c.ComposeForScope(context.Background(), claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	want := "is_delete = :f_is_delete | create_user_id = :f_self_user_id"
	if clauses(conditions) != want {
		t.Fatalf("self scope should skip tenant, org and custom predicates, got %q", clauses(conditions))
	}
	if conditions[1].Params["f_self_user_id"] != int64(1001) {
		t.Errorf("unexpected self param %v", conditions[1].Params)
	}
}

func TestComposeOrgScope(t *testing.T) {
	c, meta := newTestComposer(t)
	setScope(t, c, 1001, identity.DataScopeOrg)
	err := cache.Set(c.Cache, context.Background(), KeyUserOrg+"1001", []int64{77, 78}, 0)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	conditions, err := c.ComposeForScope(context.Background(), claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	want := "is_delete = :f_is_delete | tenant_id = :f_tenant_id | create_org_id IN (:f_org_id_0, :f_org_id_1)"
	if clauses(conditions) != want {
		t.Fatalf("got %q, want %q", clauses(conditions), want)
	}
	last := conditions[len(conditions)-1]
	if last.Params["f_org_id_0"] != int64(77) || last.Params["f_org_id_1"] != int64(78) {
		t.Errorf("unexpected org params %v", last.Params)
	}
}

func TestComposeOrgScopeNarrowing(t *testing.T) {
	c, meta := newTestComposer(t)
	ctx := context.Background()
	setScope(t, c, 1001, identity.DataScopeOrg)
	if err := cache.Set(c.Cache, ctx, KeyUserOrg+"1001", []int64{77, 78}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	setSelectedOrgs(t, c, "web", "1001", []int64{78, 99})
	conditions, err := c.ComposeForScope(ctx, claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	last := conditions[len(conditions)-1]
	if last.Clause != "create_org_id IN (:f_org_id_0)" {
		t.Fatalf("selected orgs should narrow membership, got %q", clauses(conditions))
	}
	if last.Params["f_org_id_0"] != int64(78) {
		t.Errorf("unexpected org params %v", last.Params)
	}
}

func TestComposeOrgScopeFailsClosed(t *testing.T) {
	c, meta := newTestComposer(t)
	ctx := context.Background()
	setScope(t, c, 1001, identity.DataScopeOrg)
	if err := cache.Set(c.Cache, ctx, KeyUserOrg+"1001", []int64{77}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	setSelectedOrgs(t, c, "web", "1001", []int64{99})
	conditions, err := c.ComposeForScope(ctx, claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	want := "is_delete = :f_is_delete | tenant_id = :f_tenant_id | 1 = 0"
	if clauses(conditions) != want {
		t.Fatalf("empty org intersection must match nothing, got %q", clauses(conditions))
	}
}

func TestComposeOrgScopeSelectionIsPerProduct(t *testing.T) {
	c, meta := newTestComposer(t)
	ctx := context.Background()
	setScope(t, c, 1001, identity.DataScopeOrg)
	if err := cache.Set(c.Cache, ctx, KeyUserOrg+"1001", []int64{77, 78}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// A selection recorded for another product must not narrow this one.
	setSelectedOrgs(t, c, "mobile", "1001", []int64{78})
	conditions, err := c.ComposeForScope(ctx, claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	last := conditions[len(conditions)-1]
	if last.Clause != "create_org_id IN (:f_org_id_0, :f_org_id_1)" {
		t.Fatalf("other product's selection leaked in, got %q", clauses(conditions))
	}
}

func TestComposeOrgScopeUnknownMembership(t *testing.T) {
	c, meta := newTestComposer(t)
	setScope(t, c, 1001, identity.DataScopeOrg)
	conditions, err := c.ComposeForScope(context.Background(), claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	want := "is_delete = :f_is_delete | tenant_id = :f_tenant_id"
	if clauses(conditions) != want {
		t.Fatalf("unknown membership should attach no org predicate, got %q", clauses(conditions))
	}
}

func TestComposeAllScopeSkipsOrg(t *testing.T) {
	c, meta := newTestComposer(t)
	setScope(t, c, 1001, identity.DataScopeAll)
	conditions, err := c.ComposeForScope(context.Background(), claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	want := "is_delete = :f_is_delete | tenant_id = :f_tenant_id"
	if clauses(conditions) != want {
		t.Fatalf("got %q, want %q", clauses(conditions), want)
	}
}

func TestComposeOrgScopeResolver(t *testing.T) {
	c, meta := newTestComposer(t)
	setScope(t, c, 1001, identity.DataScopeOrg)
	calls := 0
	c.OrgIds = func(ctx context.Context, userId int64) ([]int64, error) {
		calls++
		if userId != 1001 {
			t.Errorf("unexpected user id %d", userId)
		}
		return []int64{77}, nil
	}
	for i := 0; i < 2; i++ {
		conditions, err := c.ComposeForScope(context.Background(), claimsFor("1001"), meta, base.MainDatabaseNameId)
		if err != nil {
			t.Fatalf("ComposeForScope: %v", err)
		}
		if !strings.Contains(clauses(conditions), "create_org_id IN") {
			t.Fatalf("missing org predicate in %q", clauses(conditions))
		}
	}
	if calls != 1 {
		t.Errorf("resolver should be consulted once, got %d calls", calls)
	}
}

type staticProvider struct {
	calls      int
	conditions []base.CJCondition
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) Conditions(ctx context.Context, claims *identity.CJClaims, meta *entity.CJEntityMeta, databaseNameId string) ([]base.CJCondition, error) {
	p.calls++
	return p.conditions, nil
}

func TestComposeCustomProviderCached(t *testing.T) {
	c, meta := newTestComposer(t)
	provider := &staticProvider{conditions: []base.CJCondition{{Clause: "region = :f_region", Params: map[string]any{"f_region": "west"}}}}
	c.RegisterProvider(provider)
	claims := claimsFor("1001")

	for i := 0; i < 3; i++ {
		conditions, err := c.ComposeForScope(context.Background(), claims, meta, base.MainDatabaseNameId)
		if err != nil {
			t.Fatalf("ComposeForScope: %v", err)
		}
		last := conditions[len(conditions)-1]
		if last.Clause != "region = :f_region" {
			t.Fatalf("missing custom predicate in %q", clauses(conditions))
		}
		if last.Params["f_region"] != "west" {
			t.Errorf("unexpected custom params %v", last.Params)
		}
	}
	if provider.calls != 1 {
		t.Errorf("provider should run once before caching, got %d calls", provider.calls)
	}

	err := c.InvalidateCustomConditions(context.Background(), base.MainDatabaseNameId, "1001")
	if err != nil {
		t.Fatalf("InvalidateCustomConditions: %v", err)
	}
	_, err = c.ComposeForScope(context.Background(), claims, meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider should run again after invalidation, got %d calls", provider.calls)
	}
}

func TestDeleteUserOrgCache(t *testing.T) {
	c, meta := newTestComposer(t)
	ctx := context.Background()
	provider := &staticProvider{conditions: []base.CJCondition{{Clause: "region = :f_region"}}}
	c.RegisterProvider(provider)
	_, err := c.ComposeForScope(ctx, claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	setScope(t, c, 1001, identity.DataScopeOrg)
	if err := cache.Set(c.Cache, ctx, KeyUserOrg+"1001", []int64{77}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	setSelectedOrgs(t, c, "web", "1001", []int64{77})
	setSelectedOrgs(t, c, "mobile", "1001", []int64{77})
	err = c.DeleteUserOrgCache(ctx, 1001, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("DeleteUserOrgCache: %v", err)
	}
	_, found, err := cache.Get[[]int64](c.Cache, ctx, KeyUserOrg+"1001")
	if err != nil || found {
		t.Errorf("membership cache should be gone, found=%v err=%v", found, err)
	}
	for _, product := range []string{"web", "mobile"} {
		_, found, err = cache.HashGetOne[[]int64](c.Cache, ctx, KeyUserOrgSelect+product, "1001")
		if err != nil || found {
			t.Errorf("selected org cache for %s should be gone, found=%v err=%v", product, found, err)
		}
	}
	_, found, err = cache.Get[int](c.Cache, ctx, KeyUserDataScope+"1001")
	if err != nil || found {
		t.Errorf("data scope cache should be gone, found=%v err=%v", found, err)
	}

	_, err = c.ComposeForScope(ctx, claimsFor("1001"), meta, base.MainDatabaseNameId)
	if err != nil {
		t.Fatalf("ComposeForScope: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("custom predicate cache should be gone too, got %d provider calls", provider.calls)
	}
}
