package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/model"
)

const (
	// leaderboardGenKey counts invalidations. Boards live in a hash per
	// generation (one field per requested limit), so a board built before an
	// invalidation lands under a key that is never read again.
	leaderboardGenKey = "tierd:rankings:gen"
	leaderboardKey    = "tierd:rankings"
)

func boardKey(gen int64) string {
	return leaderboardKey + ":" + strconv.FormatInt(gen, 10)
}

// CacheService is a Redis cache-aside layer for ranked leaderboards. A nil
// client turns every operation into a no-op.
type CacheService struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCacheService connects to redisURL. An empty URL or a failed connection
// returns a CacheService with caching disabled.
func NewCacheService(redisURL string, ttl time.Duration) *CacheService {
	log := logger.Component("cache")
	if redisURL == "" || ttl <= 0 {
		log.Info().Msg("leaderboard cache disabled")
		return &CacheService{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid redis url, leaderboard cache disabled")
		return &CacheService{}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis connection failed, leaderboard cache disabled")
		_ = rdb.Close()
		return &CacheService{}
	}

	log.Info().Dur("ttl", ttl).Msg("redis connected, leaderboard cache enabled")
	return &CacheService{rdb: rdb, ttl: ttl}
}

// NewCacheServiceWithClient wraps an existing client.
func NewCacheServiceWithClient(rdb *redis.Client, ttl time.Duration) *CacheService {
	return &CacheService{rdb: rdb, ttl: ttl}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	return c.rdb
}

// GetRankings returns a cached leaderboard for limit, or nil on a miss, along
// with the current generation. Pass the generation to SetRankings after a
// miss.
func (c *CacheService) GetRankings(ctx context.Context, limit int) (*model.RankingsResponse, int64, error) {
	if c.rdb == nil {
		return nil, 0, nil
	}
	gen, err := c.rdb.Get(ctx, leaderboardGenKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}
	data, err := c.rdb.HGet(ctx, boardKey(gen), strconv.Itoa(limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var resp model.RankingsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, gen, err
	}
	return &resp, gen, nil
}

// SetRankings stores a leaderboard under generation gen. The TTL applies to
// every limit at once so the whole board expires together.
func (c *CacheService) SetRankings(ctx context.Context, gen int64, limit int, resp *model.RankingsResponse) error {
	if c.rdb == nil {
		return nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	key := boardKey(gen)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(limit), b)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidateRankings moves to a new generation and drops the previous board
// (called after vote changes).
func (c *CacheService) InvalidateRankings(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	gen, err := c.rdb.Incr(ctx, leaderboardGenKey).Result()
	if err != nil {
		return err
	}
	return c.rdb.Del(ctx, boardKey(gen-1)).Err()
}

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
