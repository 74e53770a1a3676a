package cache

import (
	"context"
	"testing"
	"time"

	"github.com/HandsomeChen0407/cjdb/errors"
)

func newTestService() *CJCacheService {
	return &CJCacheService{Backend: NewMemoryBackend(), Prefix: "test:"}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	type dto struct {
		Id   int64  `json:"id"`
		Name string `json:"name"`
	}
	want := dto{Id: 42, Name: "alpha"}
	if err := Set(s, ctx, "k1", want, 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, found, err := Get[dto](s, ctx, "k1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !found {
		t.Fatal("expected value to be found")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestService()
	_, found, err := Get[string](s, context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if found {
		t.Error("expected miss for absent key")
	}
}

func TestExpiry(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	if err := Set(s, ctx, "short", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	_, found, err := Get[string](s, ctx, "short")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if found {
		t.Error("expected entry to expire")
	}
}

func TestRemoveByPrefix(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	_ = Set(s, ctx, "sys_user_org:1", "a", 0)
	_ = Set(s, ctx, "sys_user_org:2", "b", 0)
	_ = Set(s, ctx, "other:1", "c", 0)

	if err := s.RemoveByPrefix(ctx, "sys_user_org:"); err != nil {
		t.Fatalf("RemoveByPrefix error: %v", err)
	}
	_, found, _ := Get[string](s, ctx, "sys_user_org:1")
	if found {
		t.Error("expected sys_user_org:1 to be removed")
	}
	_, found, _ = Get[string](s, ctx, "other:1")
	if !found {
		t.Error("expected other:1 to survive")
	}
}

func TestKeysStripServicePrefix(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	_ = Set(s, ctx, "sel:a", "1", 0)
	if err := HashSetOne(s, ctx, "sel:b", "f", int64(1)); err != nil {
		t.Fatalf("HashSetOne error: %v", err)
	}
	keys, err := s.Keys(ctx, "sel:")
	if err != nil {
		t.Fatalf("Keys error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %v, want both sel keys", keys)
	}
	for _, k := range keys {
		if k != "sel:a" && k != "sel:b" {
			t.Errorf("key %q still carries the service prefix", k)
		}
	}
}

func TestIncrement(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	v, err := s.Increment(ctx, "counter", 1)
	if err != nil {
		t.Fatalf("Increment error: %v", err)
	}
	if v != 1 {
		t.Errorf("got %d, want 1", v)
	}
	v, err = s.Increment(ctx, "counter", 5)
	if err != nil {
		t.Fatalf("Increment error: %v", err)
	}
	if v != 6 {
		t.Errorf("got %d, want 6", v)
	}
}

func TestIncrementAfterExpiry(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	if err := Set(s, ctx, "counter2", int64(5), 10*time.Millisecond); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	v, err := s.Increment(ctx, "counter2", 1)
	if err != nil {
		t.Fatalf("Increment error: %v", err)
	}
	if v != 1 {
		t.Errorf("expired counter should restart, got %d", v)
	}
	// The restarted counter must be readable, not carry the old expiry.
	got, found, err := Get[int64](s, ctx, "counter2")
	if err != nil || !found {
		t.Fatalf("Get found=%v err=%v", found, err)
	}
	if got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestHashOperations(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := HashSetOne(s, ctx, "h", "f1", int64(10)); err != nil {
		t.Fatalf("HashSetOne error: %v", err)
	}
	if err := HashSetOne(s, ctx, "h", "f2", int64(20)); err != nil {
		t.Fatalf("HashSetOne error: %v", err)
	}

	v, found, err := HashGetOne[int64](s, ctx, "h", "f1")
	if err != nil || !found {
		t.Fatalf("HashGetOne found=%v err=%v", found, err)
	}
	if v != 10 {
		t.Errorf("got %d, want 10", v)
	}

	all, err := HashGetAll[int64](s, ctx, "h")
	if err != nil {
		t.Fatalf("HashGetAll error: %v", err)
	}
	if len(all) != 2 || all["f2"] != 20 {
		t.Errorf("unexpected hash contents: %+v", all)
	}

	if err := s.HashDelete(ctx, "h", "f1"); err != nil {
		t.Fatalf("HashDelete error: %v", err)
	}
	_, found, _ = HashGetOne[int64](s, ctx, "h", "f1")
	if found {
		t.Error("expected f1 to be deleted")
	}
}

func TestGetOrRefresh(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	calls := 0
	search := func(ctx context.Context) ([]int64, error) {
		calls++
		return []int64{1, 2, 3}, nil
	}

	v, err := GetOrRefresh(s, ctx, "orgs", "100", search)
	if err != nil {
		t.Fatalf("GetOrRefresh error: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("got %v, want three org ids", v)
	}
	// Second read must come from the cache.
	_, err = GetOrRefresh(s, ctx, "orgs", "100", search)
	if err != nil {
		t.Fatalf("GetOrRefresh error: %v", err)
	}
	if calls != 1 {
		t.Errorf("search called %d times, want 1", calls)
	}
}

func TestGetOrRefreshSearchFailureDropsEntry(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := HashSetOne(s, ctx, "orgs", "200", "not an int slice"); err != nil {
		t.Fatalf("HashSetOne error: %v", err)
	}
	v, err := GetOrRefresh(s, ctx, "orgs", "200", func(ctx context.Context) ([]int64, error) {
		return nil, errors.New("lookup failed")
	})
	if err != nil {
		t.Fatalf("search failure must degrade to empty, not error: %v", err)
	}
	if v != nil {
		t.Errorf("expected the zero value after a failed search, got %v", v)
	}
	_, found, _ := s.Backend.HashGet(ctx, "test:orgs", "200")
	if found {
		t.Error("expected poisoned entry to be dropped")
	}
	// With the entry dropped, the next call retries the search.
	calls := 0
	v, err = GetOrRefresh(s, ctx, "orgs", "200", func(ctx context.Context) ([]int64, error) {
		calls++
		return []int64{9}, nil
	})
	if err != nil || calls != 1 || len(v) != 1 {
		t.Errorf("retry after failure: v=%v calls=%d err=%v", v, calls, err)
	}
}

func TestAcquireLock(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	release, acquired, err := s.AcquireLock(ctx, "lock1", time.Second, 50*time.Millisecond)
	if err != nil || !acquired {
		t.Fatalf("AcquireLock acquired=%v err=%v", acquired, err)
	}

	// A second caller times out while the lock is held.
	_, acquired2, err := s.AcquireLock(ctx, "lock1", time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLock error: %v", err)
	}
	if acquired2 {
		t.Error("expected second acquire to fail while held")
	}

	release()
	release3, acquired3, err := s.AcquireLock(ctx, "lock1", time.Second, 50*time.Millisecond)
	if err != nil || !acquired3 {
		t.Fatalf("AcquireLock after release acquired=%v err=%v", acquired3, err)
	}
	release3()
}

func TestAcquireLockExpiry(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, acquired, err := s.AcquireLock(ctx, "lock2", 20*time.Millisecond, 10*time.Millisecond)
	if err != nil || !acquired {
		t.Fatalf("AcquireLock acquired=%v err=%v", acquired, err)
	}
	// The holder never releases; the lock must expire on its own.
	release, acquired2, err := s.AcquireLock(ctx, "lock2", time.Second, 200*time.Millisecond)
	if err != nil || !acquired2 {
		t.Fatalf("AcquireLock after expiry acquired=%v err=%v", acquired2, err)
	}
	release()
}
