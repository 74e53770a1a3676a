package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/cache"
	"github.com/HandsomeChen0407/cjdb/databases"
	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/filters"
	"github.com/HandsomeChen0407/cjdb/identity"
)

type repoTestOrder struct {
	entity.CJTenantEntityBase
	Amount int64 `db:"amount"`
}

type repoTestSetting struct {
	entity.CJEntityBase
	Name string `db:"name"`
}

type repoTestAudit struct {
	entity.CJEntityBase
	Action string `db:"action"`
}

func repoFixture(t *testing.T) *databases.CJDatabaseManager {
	t.Helper()
	entity.Manager.Reset()
	mustRegister := func(table string, prototype any, opts ...entity.CJRegisterOption) {
		_, err := entity.Manager.Register(table, prototype, opts...)
		if err != nil {
			t.Fatalf("Register %s: %v", table, err)
		}
	}
	mustRegister("repo_test_order", repoTestOrder{})
	mustRegister("repo_test_setting", repoTestSetting{}, entity.AsSystemTable())
	mustRegister("repo_test_audit", repoTestAudit{}, entity.WithDatabase("audit"))

	m := &databases.CJDatabaseManager{
		Databases: map[string]*databases.CJDatabase{
			base.MainDatabaseNameId: {NameId: base.MainDatabaseNameId},
			"audit":                 {NameId: "audit"},
		},
	}
	return m
}

func newRepo(t *testing.T, m *databases.CJDatabaseManager, table string, opts ...CJRepositoryOption) *CJRepository {
	t.Helper()
	opts = append([]CJRepositoryOption{
		WithManager(m),
		WithComposer(&filters.CJFilterComposer{Cache: &cache.CJCacheService{Backend: cache.NewMemoryBackend()}}),
	}, opts...)
	r, err := NewRepository(table, opts...)
	if err != nil {
		t.Fatalf("NewRepository %s: %v", table, err)
	}
	return r
}

func TestNewRepositoryUnregisteredTable(t *testing.T) {
	entity.Manager.Reset()
	_, err := NewRepository("no_such_table")
	if err == nil {
		t.Fatal("expected an error for an unregistered table")
	}
}

func TestScopeResolution(t *testing.T) {
	m := repoFixture(t)
	tenantCtx := identity.NewContext(context.Background(), &identity.CJClaims{UserId: "1001", TenantId: base.MainDatabaseNameId})

	testCases := []struct {
		name       string
		table      string
		opts       []CJRepositoryOption
		ctx        context.Context
		wantNameId string
	}{
		{"system table uses main", "repo_test_setting", nil, tenantCtx, base.MainDatabaseNameId},
		{"pinned table uses named scope", "repo_test_audit", nil, tenantCtx, "audit"},
		{"no claims uses main", "repo_test_order", nil, context.Background(), base.MainDatabaseNameId},
		{"main tenant claim uses main", "repo_test_order", nil, tenantCtx, base.MainDatabaseNameId},
		{"unknown device uses main", "repo_test_order", []CJRepositoryOption{WithDevice("dev-unknown")}, context.Background(), base.MainDatabaseNameId},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRepo(t, m, tc.table, tc.opts...)
			d, err := r.Scope(tc.ctx)
			if err != nil {
				t.Fatalf("Scope: %v", err)
			}
			if d.NameId != tc.wantNameId {
				t.Errorf("got scope %s, want %s", d.NameId, tc.wantNameId)
			}
		})
	}
}

func TestConditionsFollowClaims(t *testing.T) {
	m := repoFixture(t)
	r := newRepo(t, m, "repo_test_order")
	ctx := identity.NewContext(context.Background(), &identity.CJClaims{UserId: "1001", TenantId: "42"})
	d := m.Databases[base.MainDatabaseNameId]

	conditions, err := r.conditions(ctx, d)
	if err != nil {
		t.Fatalf("conditions: %v", err)
	}
	joined := make([]string, len(conditions))
	for i, c := range conditions {
		joined[i] = c.Clause
	}
	got := strings.Join(joined, " | ")
	want := "is_delete = :f_is_delete | tenant_id = :f_tenant_id"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSelectPagedInvalidPageIndex(t *testing.T) {
	m := repoFixture(t)
	r := newRepo(t, m, "repo_test_order")
	_, err := r.SelectPaged(context.Background(), nil, nil, "", 0, 20)
	if err == nil {
		t.Fatal("expected an error for page index 0")
	}
}

func TestSelectRequiresConnection(t *testing.T) {
	m := repoFixture(t)
	r := newRepo(t, m, "repo_test_order")
	_, err := r.SelectAll(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected an error on a disconnected scope")
	}
}
