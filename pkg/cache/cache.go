// Package cache provides a Redis client wrapper for ClawLess. It backs the
// shared cost ledger with atomic hash increments and the fixed-window rate
// limiter used by the HTTP API.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with ClawLess-specific operations.
type Cache struct {
	client *redis.Client
}

// Options configures NewCache.
type Options struct {
	Addr     string // host:port
	Password string
	DB       int
}

// NewCache creates a Redis client and verifies connectivity.
func NewCache(ctx context.Context, opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return &Cache{client: client}, nil
}

// Close closes the client and its pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// CostCounters mirrors one ledger hash.
type CostCounters struct {
	TokensIn       int64
	TokensOut      int64
	CostUSD        float64
	ExecutionCount int64
	UpdatedAt      time.Time
}

// ledgerKey constructs the hash key for a ledger record.
// Format: "ledger:{date}:{backend}".
func ledgerKey(date, backend string) string {
	return fmt.Sprintf("ledger:%s:%s", date, backend)
}

// ledgerIncrLua applies every field of a ledger delta in one script so readers
// never observe a half-applied update.
var ledgerIncrLua = redis.NewScript(`
	redis.call('HINCRBY', KEYS[1], 'tokens_in', ARGV[1])
	redis.call('HINCRBY', KEYS[1], 'tokens_out', ARGV[2])
	redis.call('HINCRBYFLOAT', KEYS[1], 'cost_usd', ARGV[3])
	local count = redis.call('HINCRBY', KEYS[1], 'execution_count', 1)
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
	return count
`)

// IncrCostCounters atomically adds a delta to the ledger hash for date and
// backend and returns the new execution count.
func (c *Cache) IncrCostCounters(ctx context.Context, date, backend string, tokensIn, tokensOut int64, costUSD float64) (int64, error) {
	key := ledgerKey(date, backend)
	count, err := ledgerIncrLua.Run(ctx, c.client, []string{key},
		tokensIn, tokensOut,
		strconv.FormatFloat(costUSD, 'f', 10, 64),
		time.Now().UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache: incr ledger %q: %w", key, err)
	}
	return count, nil
}

// GetCostCounters reads the ledger hash for date and backend. The boolean is
// false when the hash does not exist.
func (c *Cache) GetCostCounters(ctx context.Context, date, backend string) (*CostCounters, bool, error) {
	key := ledgerKey(date, backend)
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cache: get ledger %q: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	counters, err := parseCounters(fields)
	if err != nil {
		return nil, false, fmt.Errorf("cache: parse ledger %q: %w", key, err)
	}
	return counters, true, nil
}

// GetCostCountersBatch reads several ledger hashes in one pipeline. Missing
// hashes are omitted from the result, which is keyed by "date:backend".
func (c *Cache) GetCostCountersBatch(ctx context.Context, dates, backends []string) (map[string]*CostCounters, error) {
	pipe := c.client.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(dates)*len(backends))
	for _, date := range dates {
		for _, backend := range backends {
			cmds[date+":"+backend] = pipe.HGetAll(ctx, ledgerKey(date, backend))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cache: batch get ledger: %w", err)
	}

	out := make(map[string]*CostCounters)
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		counters, err := parseCounters(fields)
		if err != nil {
			return nil, fmt.Errorf("cache: parse ledger %q: %w", id, err)
		}
		out[id] = counters
	}
	return out, nil
}

func parseCounters(fields map[string]string) (*CostCounters, error) {
	var (
		c   CostCounters
		err error
	)
	if c.TokensIn, err = parseInt(fields["tokens_in"]); err != nil {
		return nil, err
	}
	if c.TokensOut, err = parseInt(fields["tokens_out"]); err != nil {
		return nil, err
	}
	if c.ExecutionCount, err = parseInt(fields["execution_count"]); err != nil {
		return nil, err
	}
	if v := fields["cost_usd"]; v != "" {
		if c.CostUSD, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, err
		}
	}
	if ts, perr := time.Parse(time.RFC3339Nano, fields["updated_at"]); perr == nil {
		c.UpdatedAt = ts
	}
	return &c, nil
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// windowLua counts hits in a fixed window. The expiry is set only by the
// first hit so later hits never stretch the window.
var windowLua = redis.NewScript(`
	local hits = redis.call('INCR', KEYS[1])
	if hits == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return hits
`)

// RateLimitCheck reports whether key may make another request in the current
// window of length window, allowing at most limit requests per window.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	hits, err := windowLua.Run(ctx, c.client, []string{"clawless:ratelimit:" + key}, secs).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}
	return hits <= limit, nil
}
