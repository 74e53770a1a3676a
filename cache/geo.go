package cache

import (
	"context"
	"strings"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/HandsomeChen0407/cjdb/errors"
)

// CJGeoMember is one named point in a geo set.
type CJGeoMember struct {
	Name      string
	Longitude decimal.Decimal
	Latitude  decimal.Decimal
}

// CJGeoCacheService stores named coordinates in a redis geo set. It needs a
// real redis connection, the in-process backend has no geo support.
type CJGeoCacheService struct {
	Client *goredis.Client
	Prefix string
}

func NewGeoCacheService(client *goredis.Client, prefix string) *CJGeoCacheService {
	return &CJGeoCacheService{Client: client, Prefix: prefix}
}

func (s *CJGeoCacheService) key(k string) string {
	return s.Prefix + k
}

func (s *CJGeoCacheService) Add(ctx context.Context, key string, member CJGeoMember) (int64, error) {
	lng, _ := member.Longitude.Float64()
	lat, _ := member.Latitude.Float64()
	return s.Client.GeoAdd(ctx, s.key(key), &goredis.GeoLocation{
		Name:      member.Name,
		Longitude: lng,
		Latitude:  lat,
	}).Result()
}

func (s *CJGeoCacheService) AddRange(ctx context.Context, key string, members []CJGeoMember) (int64, error) {
	locations := make([]*goredis.GeoLocation, len(members))
	for i, m := range members {
		lng, _ := m.Longitude.Float64()
		lat, _ := m.Latitude.Float64()
		locations[i] = &goredis.GeoLocation{Name: m.Name, Longitude: lng, Latitude: lat}
	}
	return s.Client.GeoAdd(ctx, s.key(key), locations...).Result()
}

func (s *CJGeoCacheService) Delete(ctx context.Context, key string, names ...string) (int64, error) {
	members := make([]interface{}, len(names))
	for i, n := range names {
		members[i] = n
	}
	return s.Client.ZRem(ctx, s.key(key), members...).Result()
}

// Distance returns the distance between two members in kilometers.
func (s *CJGeoCacheService) Distance(ctx context.Context, key, member1, member2 string) (decimal.Decimal, error) {
	d, err := s.Client.GeoDist(ctx, s.key(key), member1, member2, "km").Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(d), nil
}

// Nearest returns up to count members closest to the given point, nearest
// first. Redis servers older than 6.2 lack GEOSEARCH, so it falls back to
// GEORADIUS there.
func (s *CJGeoCacheService) Nearest(ctx context.Context, key string, longitude, latitude decimal.Decimal, radiusKm float64, count int) ([]goredis.GeoLocation, error) {
	lng, _ := longitude.Float64()
	lat, _ := latitude.Float64()
	r, err := s.Client.GeoSearchLocation(ctx, s.key(key), &goredis.GeoSearchLocationQuery{
		GeoSearchQuery: goredis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      count,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err == nil {
		return r, nil
	}
	if !strings.Contains(strings.ToUpper(err.Error()), "GEOSEARCH") && !strings.Contains(err.Error(), "unknown command") {
		return nil, err
	}
	return s.Client.GeoRadius(ctx, s.key(key), lng, lat, &goredis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     count,
		Sort:      "ASC",
	}).Result()
}

// ListAll pages through the whole geo set pageSize members at a time.
func (s *CJGeoCacheService) ListAll(ctx context.Context, key string, pageSize int64) ([]string, error) {
	if pageSize <= 0 {
		return nil, errors.New("GEO_LIST_PAGE_SIZE_MUST_BE_POSITIVE")
	}
	var r []string
	var start int64
	for {
		page, err := s.Client.ZRange(ctx, s.key(key), start, start+pageSize-1).Result()
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		r = append(r, page...)
		if int64(len(page)) < pageSize {
			break
		}
		start += pageSize
	}
	return r, nil
}
