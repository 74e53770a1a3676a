package cache

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/utils"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// CJMemoryBackend is the in-process backend. It is safe for concurrent use
// and expires entries lazily on read.
type CJMemoryBackend struct {
	values *xsync.MapOf[string, memoryEntry]
	hashes *xsync.MapOf[string, *xsync.MapOf[string, string]]
	locks  *xsync.MapOf[string, memoryLock]
}

func NewMemoryBackend() *CJMemoryBackend {
	return &CJMemoryBackend{
		values: xsync.NewMapOf[string, memoryEntry](),
		hashes: xsync.NewMapOf[string, *xsync.MapOf[string, string]](),
		locks:  xsync.NewMapOf[string, memoryLock](),
	}
}

func (b *CJMemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := b.values.Load(key)
	if !ok {
		return "", false, nil
	}
	if e.expired(time.Now()) {
		b.values.Delete(key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (b *CJMemoryBackend) Set(_ context.Context, key string, value string, expiry time.Duration) error {
	e := memoryEntry{value: value}
	if expiry > 0 {
		e.expiresAt = time.Now().Add(expiry)
	}
	b.values.Store(key, e)
	return nil
}

func (b *CJMemoryBackend) Remove(_ context.Context, keys ...string) error {
	for _, k := range keys {
		b.values.Delete(k)
		b.hashes.Delete(k)
	}
	return nil
}

func (b *CJMemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := b.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		return true, nil
	}
	_, found = b.hashes.Load(key)
	return found, nil
}

func (b *CJMemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	var r []string
	now := time.Now()
	b.values.Range(func(k string, e memoryEntry) bool {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			r = append(r, k)
		}
		return true
	})
	b.hashes.Range(func(k string, _ *xsync.MapOf[string, string]) bool {
		if strings.HasPrefix(k, prefix) && !utils.IfStringInSlice(k, r) {
			r = append(r, k)
		}
		return true
	})
	return r, nil
}

func (b *CJMemoryBackend) Increment(_ context.Context, key string, delta int64) (int64, error) {
	var next int64
	var convErr error
	b.values.Compute(key, func(e memoryEntry, loaded bool) (memoryEntry, bool) {
		current := int64(0)
		expiresAt := e.expiresAt
		if loaded {
			if e.expired(time.Now()) {
				// An expired counter restarts from zero with no expiry.
				expiresAt = time.Time{}
			} else {
				v, err := utils.ConvertToInt64(e.value)
				if err != nil {
					convErr = err
					return e, false
				}
				current = v
			}
		}
		next = current + delta
		return memoryEntry{value: utils.MustFormatInt64(next), expiresAt: expiresAt}, false
	})
	if convErr != nil {
		return 0, errors.Wrapf(convErr, "CACHE_INCREMENT_NOT_A_NUMBER:%s", key)
	}
	return next, nil
}

func (b *CJMemoryBackend) hash(key string) *xsync.MapOf[string, string] {
	h, _ := b.hashes.LoadOrCompute(key, func() *xsync.MapOf[string, string] {
		return xsync.NewMapOf[string, string]()
	})
	return h
}

func (b *CJMemoryBackend) HashGet(_ context.Context, key, field string) (string, bool, error) {
	h, ok := b.hashes.Load(key)
	if !ok {
		return "", false, nil
	}
	v, ok := h.Load(field)
	return v, ok, nil
}

func (b *CJMemoryBackend) HashSet(_ context.Context, key, field, value string) error {
	b.hash(key).Store(field, value)
	return nil
}

func (b *CJMemoryBackend) HashDelete(_ context.Context, key string, fields ...string) error {
	h, ok := b.hashes.Load(key)
	if !ok {
		return nil
	}
	for _, f := range fields {
		h.Delete(f)
	}
	return nil
}

func (b *CJMemoryBackend) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	r := map[string]string{}
	h, ok := b.hashes.Load(key)
	if !ok {
		return r, nil
	}
	h.Range(func(f, v string) bool {
		r[f] = v
		return true
	})
	return r, nil
}

func (b *CJMemoryBackend) AcquireLock(ctx context.Context, key string, expiry, wait time.Duration) (func(), bool, error) {
	token := utils.RandomToken()
	deadline := time.Now().Add(wait)
	for {
		now := time.Now()
		l := memoryLock{token: token, expiresAt: now.Add(expiry)}
		existing, loaded := b.locks.LoadOrStore(key, l)
		if !loaded {
			break
		}
		if now.After(existing.expiresAt) {
			stolen := false
			b.locks.Compute(key, func(current memoryLock, loaded bool) (memoryLock, bool) {
				if !loaded || current == existing {
					stolen = true
					return l, false
				}
				return current, false
			})
			if stolen {
				break
			}
			continue
		}
		if now.After(deadline) {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	release := func() {
		current, ok := b.locks.Load(key)
		if ok && current.token == token {
			b.locks.Delete(key)
		}
	}
	return release, true, nil
}
