package db

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/solbridge/service/metrics"
	"github.com/brojonat/solbridge/service/tracker"
	"github.com/redis/go-redis/v9"
)

// claimScript sets the claim key and indexes it in one step so a claim never
// exists without its index entry.
var claimScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[2]) == 1 then
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

var _ tracker.Ledger = (*RedisStore)(nil)

// RedisStore is a claim ledger shared between processes through Redis.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	metrics *metrics.Metrics
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a RedisStore. Keys are namespaced under prefix
// (default "solbridge").
func NewRedisStore(client redis.UniversalClient, prefix string, m *metrics.Metrics) *RedisStore {
	if prefix == "" {
		prefix = "solbridge"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		metrics: m,
	}
}

func (s *RedisStore) claimKey(id string) string {
	return s.prefix + ":claim:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":claims"
}

// Claim sets the claim key if absent, returning true if this call created it.
func (s *RedisStore) Claim(ctx context.Context, sourceTxID string) (bool, error) {
	start := time.Now()
	now := time.Now().UTC().UnixMilli()
	n, err := claimScript.Run(ctx, s.client,
		[]string{s.claimKey(sourceTxID), s.indexKey()},
		sourceTxID, now,
	).Int()
	s.record("claim", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to set claim: %w", err)
	}
	return n == 1, nil
}

// Contains reports whether the source transaction id has been claimed.
func (s *RedisStore) Contains(ctx context.Context, sourceTxID string) (bool, error) {
	start := time.Now()
	n, err := s.client.Exists(ctx, s.claimKey(sourceTxID)).Result()
	s.record("contains", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to look up claim: %w", err)
	}
	return n > 0, nil
}

// Count returns the total number of claims.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.client.ZCard(ctx, s.indexKey()).Result()
	s.record("count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return int(n), nil
}

// List returns claims newest first. A limit of 0 returns all claims.
func (s *RedisStore) List(ctx context.Context, limit int) ([]tracker.Claim, error) {
	start := time.Now()
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	zs, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(), 0, stop).Result()
	s.record("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}

	claims := make([]tracker.Claim, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		claims = append(claims, tracker.Claim{
			SourceTxID: id,
			ClaimedAt:  time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return claims, nil
}

func (s *RedisStore) record(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordLedgerOp("redis", op, time.Since(start).Seconds(), err)
	}
}
