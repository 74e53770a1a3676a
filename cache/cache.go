// Package cache is the cache facade the data layer depends on. A single
// service fronts a swappable backend, in-process by default and redis when
// configured, so callers never deal with a concrete store.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/log"
)

// CJCacheBackend is the contract every cache store implements. Values are
// stored as strings; the service layer handles serialization.
type CJCacheBackend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, expiry time.Duration) error
	Remove(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	HashGet(ctx context.Context, key, field string) (value string, found bool, err error)
	HashSet(ctx context.Context, key, field, value string) error
	HashDelete(ctx context.Context, key string, fields ...string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	// AcquireLock takes a mutual exclusion lock on key, waiting up to wait
	// for a holder to release it. The lock self-expires after expiry.
	AcquireLock(ctx context.Context, key string, expiry, wait time.Duration) (release func(), acquired bool, err error)
}

type CJCacheService struct {
	Backend CJCacheBackend
	Prefix  string
}

// Default is the process-wide cache. It starts on the in-process backend so
// the library works without redis; Configure swaps it at startup.
var Default = &CJCacheService{Backend: NewMemoryBackend()}

func (s *CJCacheService) key(k string) string {
	return s.Prefix + k
}

func Get[T any](s *CJCacheService, ctx context.Context, key string) (r T, found bool, err error) {
	raw, found, err := s.Backend.Get(ctx, s.key(key))
	if err != nil || !found {
		return r, false, err
	}
	err = json.Unmarshal([]byte(raw), &r)
	if err != nil {
		return r, false, errors.Wrapf(err, "CACHE_VALUE_UNMARSHAL_FAILED:%s", key)
	}
	return r, true, nil
}

func Set[T any](s *CJCacheService, ctx context.Context, key string, value T, expiry time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "CACHE_VALUE_MARSHAL_FAILED:%s", key)
	}
	return s.Backend.Set(ctx, s.key(key), string(raw), expiry)
}

func (s *CJCacheService) Remove(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	return s.Backend.Remove(ctx, prefixed...)
}

// RemoveByPrefix deletes every key that starts with prefix.
func (s *CJCacheService) RemoveByPrefix(ctx context.Context, prefix string) error {
	keys, err := s.Backend.Keys(ctx, s.key(prefix))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.Backend.Remove(ctx, keys...)
}

// Keys lists the stored keys under prefix, with the service prefix
// stripped so the result can be passed back into the service methods.
func (s *CJCacheService) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.Backend.Keys(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}
	r := make([]string, 0, len(keys))
	for _, k := range keys {
		r = append(r, strings.TrimPrefix(k, s.Prefix))
	}
	return r, nil
}

func (s *CJCacheService) Exists(ctx context.Context, key string) (bool, error) {
	return s.Backend.Exists(ctx, s.key(key))
}

func (s *CJCacheService) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.Backend.Increment(ctx, s.key(key), delta)
}

func HashGetOne[T any](s *CJCacheService, ctx context.Context, key, field string) (r T, found bool, err error) {
	raw, found, err := s.Backend.HashGet(ctx, s.key(key), field)
	if err != nil || !found {
		return r, false, err
	}
	err = json.Unmarshal([]byte(raw), &r)
	if err != nil {
		return r, false, errors.Wrapf(err, "CACHE_HASH_VALUE_UNMARSHAL_FAILED:%s:%s", key, field)
	}
	return r, true, nil
}

func HashSetOne[T any](s *CJCacheService, ctx context.Context, key, field string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "CACHE_HASH_VALUE_MARSHAL_FAILED:%s:%s", key, field)
	}
	return s.Backend.HashSet(ctx, s.key(key), field, string(raw))
}

func (s *CJCacheService) HashDelete(ctx context.Context, key string, fields ...string) error {
	return s.Backend.HashDelete(ctx, s.key(key), fields...)
}

func HashGetAll[T any](s *CJCacheService, ctx context.Context, key string) (map[string]T, error) {
	raw, err := s.Backend.HashGetAll(ctx, s.key(key))
	if err != nil {
		return nil, err
	}
	r := make(map[string]T, len(raw))
	for field, v := range raw {
		var t T
		err = json.Unmarshal([]byte(v), &t)
		if err != nil {
			return nil, errors.Wrapf(err, "CACHE_HASH_VALUE_UNMARSHAL_FAILED:%s:%s", key, field)
		}
		r[field] = t
	}
	return r, nil
}

func (s *CJCacheService) AcquireLock(ctx context.Context, key string, expiry, wait time.Duration) (func(), bool, error) {
	return s.Backend.AcquireLock(ctx, s.key(key), expiry, wait)
}

// GetOrRefresh reads a hash field, falling back to search on a miss and
// caching the result. A failed search drops the field so the next caller
// retries, and the caller gets the zero value rather than an error; a
// cache read should degrade a result, not fail the request.
func GetOrRefresh[T any](s *CJCacheService, ctx context.Context, key, field string, search func(ctx context.Context) (T, error)) (r T, err error) {
	v, found, err := HashGetOne[T](s, ctx, key, field)
	if err == nil && found {
		return v, nil
	}
	if err != nil {
		log.Log.Warnf("Cache read failed for %s:%s, refreshing: %v", key, field, err)
	}
	v2, searchErr := search(ctx)
	if searchErr != nil {
		_ = s.HashDelete(ctx, key, field)
		log.Log.Warnf("Cache refresh failed for %s:%s, returning empty: %v", key, field, searchErr)
		return r, nil
	}
	err = HashSetOne(s, ctx, key, field, v2)
	if err != nil {
		log.Log.Warnf("Cache write failed for %s:%s: %v", key, field, err)
	}
	return v2, nil
}
