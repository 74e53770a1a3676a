package filters

import (
	"context"
	"fmt"

	"github.com/HandsomeChen0407/cjdb/base"
	"github.com/HandsomeChen0407/cjdb/cache"
	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/identity"
)

// customCacheKey identifies one user's provider predicates for one table on
// one scope. Provider output is assumed stable until invalidated.
func customCacheKey(databaseNameId, userId, tableName string) string {
	return fmt.Sprintf("db:%s:custom:%s:%s", databaseNameId, userId, tableName)
}

// customConditions collects the predicates of every registered provider,
// cached per database, user and table.
func (c *CJFilterComposer) customConditions(ctx context.Context, claims *identity.CJClaims, meta *entity.CJEntityMeta, databaseNameId string) ([]base.CJCondition, error) {
	if len(c.providers) == 0 {
		return nil, nil
	}
	svc := c.cacheService()
	key := customCacheKey(databaseNameId, claims.UserId, meta.TableName)
	cached, found, err := cache.Get[[]base.CJCondition](svc, ctx, key)
	if err == nil && found {
		return cached, nil
	}
	var conditions []base.CJCondition
	for _, p := range c.providers {
		provided, err := p.Conditions(ctx, claims, meta, databaseNameId)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, provided...)
	}
	_ = cache.Set(svc, ctx, key, conditions, 0)
	return conditions, nil
}

// InvalidateCustomConditions drops the cached provider predicates of one
// user on one scope, for every table.
func (c *CJFilterComposer) InvalidateCustomConditions(ctx context.Context, databaseNameId string, userId string) error {
	return c.cacheService().RemoveByPrefix(ctx, fmt.Sprintf("db:%s:custom:%s:", databaseNameId, userId))
}
