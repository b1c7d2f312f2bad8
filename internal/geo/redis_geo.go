package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisMirror materializes the driver position stream into a Redis GEO
// set plus a small metadata hash per driver. External map and admin
// readers query it; the dispatch core only writes.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) Upsert(ctx context.Context, id string, loc models.Coord, available bool) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: id}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(id), map[string]interface{}{
		"available": strconv.FormatBool(available),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisMirror) Remove(ctx context.Context, id string) error {
	if err := r.client.ZRem(ctx, r.key, id).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(id)).Err()
}

// Nearby returns driver ids within radiusM meters of the given point,
// closest first.
func (r *RedisMirror) Nearby(ctx context.Context, lat, lng float64, radiusM float64, limit int) ([]string, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out, nil
}

func (r *RedisMirror) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisMirror) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
