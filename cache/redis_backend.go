package cache

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/HandsomeChen0407/cjdb/configuration"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/redis"
	"github.com/HandsomeChen0407/cjdb/utils"
)

// CJRedisBackend serves the cache from a shared redis instance so every
// process node sees the same entries and the lock is cluster-wide.
type CJRedisBackend struct {
	client *goredis.Client
}

func NewRedisBackend(client *goredis.Client) *CJRedisBackend {
	return &CJRedisBackend{client: client}
}

func (b *CJRedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *CJRedisBackend) Set(ctx context.Context, key string, value string, expiry time.Duration) error {
	return b.client.Set(ctx, key, value, expiry).Err()
}

func (b *CJRedisBackend) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *CJRedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *CJRedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var r []string
	iter := b.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		r = append(r, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *CJRedisBackend) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return b.client.IncrBy(ctx, key, delta).Result()
}

func (b *CJRedisBackend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := b.client.HGet(ctx, key, field).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *CJRedisBackend) HashSet(ctx context.Context, key, field, value string) error {
	return b.client.HSet(ctx, key, field, value).Err()
}

func (b *CJRedisBackend) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.client.HDel(ctx, key, fields...).Err()
}

func (b *CJRedisBackend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return b.client.HGetAll(ctx, key).Result()
}

// releaseLockScript deletes the lock key only when its value is still the
// holder's token.
var releaseLockScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (b *CJRedisBackend) AcquireLock(ctx context.Context, key string, expiry, wait time.Duration) (func(), bool, error) {
	token := utils.RandomToken()
	deadline := time.Now().Add(wait)
	for {
		ok, err := b.client.SetNX(ctx, key, token, expiry).Result()
		if err != nil {
			return nil, false, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	release := func() {
		_, _ = releaseLockScript.Run(context.Background(), b.client, []string{key}, token).Result()
	}
	return release, true, nil
}

// Configure rebuilds Default from the loaded configuration. With the redis
// backend the named instance must already be registered and connected.
func Configure() error {
	o := configuration.Manager.Options.Cache
	switch o.Backend {
	case "", "memory":
		Default = &CJCacheService{Backend: NewMemoryBackend(), Prefix: o.Prefix}
	case "redis":
		r, ok := redis.Manager.Redises[o.RedisNameId]
		if !ok {
			return errors.Errorf("CACHE_REDIS_NAME_ID_UNKNOWN:%s", o.RedisNameId)
		}
		if !r.Connected {
			err := r.Connect()
			if err != nil {
				return err
			}
		}
		Default = &CJCacheService{Backend: NewRedisBackend(r.Connection), Prefix: o.Prefix}
	default:
		return errors.Errorf("CACHE_BACKEND_UNKNOWN:%s", o.Backend)
	}
	return nil
}
