package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHistory persists recorded call durations in Redis so latency history
// survives restarts. Each operation is one sorted set scored by unix time.
type RedisHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // retention for data points
}

// NewRedisHistory connects to Redis at url.
// Returns error if connection fails.
func NewRedisHistory(url string) (*RedisHistory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisHistory{
		client: client,
		prefix: "objfinder:metrics:",
		ttl:    24 * time.Hour,
	}, nil
}

// member encodes a data point. The timestamp is part of the member so equal
// durations recorded at different times are kept apart.
func member(dp DataPoint) string {
	return fmt.Sprintf("%d:%.6f", dp.Timestamp.UnixNano(), dp.Value)
}

func parseMember(s string) (DataPoint, bool) {
	ts, val, ok := strings.Cut(s, ":")
	if !ok {
		return DataPoint{}, false
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return DataPoint{}, false
	}
	value, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return DataPoint{}, false
	}
	return DataPoint{Timestamp: time.Unix(0, nanos), Value: value}, true
}

// SaveDataPoint saves a single data point and trims entries older than the
// retention window in the same pipeline.
func (rh *RedisHistory) SaveDataPoint(ctx context.Context, metric string, dp DataPoint) error {
	key := rh.prefix + metric

	pipe := rh.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(dp.Timestamp.Unix()),
		Member: member(dp),
	})

	minScore := time.Now().Add(-rh.ttl).Unix()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", minScore))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving data point: %w", err)
	}
	return nil
}

// LoadHistory loads data points recorded since the given time, oldest first.
func (rh *RedisHistory) LoadHistory(ctx context.Context, metric string, since time.Time) ([]DataPoint, error) {
	key := rh.prefix + metric

	results, err := rh.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.Unix()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	dataPoints := make([]DataPoint, 0, len(results))
	for _, m := range results {
		dp, ok := parseMember(m)
		if !ok {
			// Skip invalid entries
			continue
		}
		dataPoints = append(dataPoints, dp)
	}

	return dataPoints, nil
}

// MetricNames returns all operation names stored in Redis.
func (rh *RedisHistory) MetricNames(ctx context.Context) ([]string, error) {
	var names []string

	iter := rh.client.Scan(ctx, 0, rh.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), rh.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing metric names: %w", err)
	}

	return names, nil
}

// DeleteMetric deletes all data for one operation.
func (rh *RedisHistory) DeleteMetric(ctx context.Context, metric string) error {
	if err := rh.client.Del(ctx, rh.prefix+metric).Err(); err != nil {
		return fmt.Errorf("deleting metric: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rh *RedisHistory) Close() error {
	return rh.client.Close()
}

// SetTTL sets the retention for data points.
func (rh *RedisHistory) SetTTL(ttl time.Duration) {
	rh.ttl = ttl
}
