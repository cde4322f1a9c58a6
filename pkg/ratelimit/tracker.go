package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	backoffSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bauplan_rate_limit_backoff_seconds",
		Help: "Back-off most recently requested by the API via Retry-After",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bauplan_rate_limit_blocks_total",
		Help: "Total number of requests refused locally during a long back-off",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bauplan_rate_limit_throttles_total",
		Help: "Total number of requests delayed until a short back-off expired",
	})
)

// Tracker records server back-off requests and gates outgoing requests.
type Tracker struct {
	redis   *redis.Client
	logger  zerolog.Logger
	scope   string
	maxWait time.Duration
}

// NewTracker creates a new rate limit tracker. scope separates state for
// different credentials; use cache.ScopeFor(apiKey) or similar.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, scope string) *Tracker {
	if scope == "" {
		scope = "global"
	}
	return &Tracker{
		redis:   redisClient,
		logger:  logger,
		scope:   scope,
		maxWait: DefaultMaxWait,
	}
}

// SetMaxWait changes how long ShouldAllowRequest waits in-process before it
// refuses a request instead.
func (t *Tracker) SetMaxWait(d time.Duration) {
	t.maxWait = d
}

func (t *Tracker) key(suffix string) string {
	return redisKeyPrefix + ":" + t.scope + ":" + suffix
}

// GetState retrieves the current rate limit state from Redis.
// Returns an empty (healthy) state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	vals, err := t.redis.MGet(ctx,
		t.key(redisSuffixBlockedTill),
		t.key(redisSuffixLastStatus),
		t.key(redisSuffixLastUpdate),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	state := &RateLimitState{}
	if vals[0] == nil {
		t.logger.Debug().Msg("No rate limit state in Redis, returning healthy state")
		return state, nil
	}

	if state.BlockedUntil, err = parseUnixMilli(vals[0]); err != nil {
		return nil, fmt.Errorf("parse blocked until: %w", err)
	}
	if s, ok := vals[1].(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			state.LastStatus = n
		}
	}
	if vals[2] != nil {
		if state.LastUpdate, err = parseUnixMilli(vals[2]); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return state, nil
}

func parseUnixMilli(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, errors.New("unexpected value type")
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// UpdateFromResponse records a back-off when status is 429 or 503 and the
// response carries Retry-After. Other responses leave the state alone. An
// existing later deadline is never shortened.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	if !IsBackoffStatus(status) {
		return nil
	}

	now := time.Now()
	wait, ok := ParseRetryAfter(headers, now)
	if !ok || wait <= 0 {
		return nil
	}
	until := now.Add(wait)

	current, err := t.GetState(ctx)
	if err != nil {
		return err
	}
	if current.BlockedUntil.After(until) {
		return nil
	}

	// Keys expire shortly after the deadline so stale state cleans itself up.
	expiry := wait + time.Minute

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.key(redisSuffixBlockedTill), until.UnixMilli(), expiry)
	pipe.Set(ctx, t.key(redisSuffixLastStatus), status, expiry)
	pipe.Set(ctx, t.key(redisSuffixLastUpdate), now.UnixMilli(), expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	backoffSeconds.Set(wait.Seconds())

	t.logger.Warn().
		Int("status", status).
		Dur("retry_after", wait).
		Time("blocked_until", until).
		Msg("API requested back-off")

	return nil
}

// Reset clears any recorded back-off.
func (t *Tracker) Reset(ctx context.Context) error {
	err := t.redis.Del(ctx,
		t.key(redisSuffixBlockedTill),
		t.key(redisSuffixLastStatus),
		t.key(redisSuffixLastUpdate),
	).Err()
	if err != nil {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	backoffSeconds.Set(0)
	return nil
}

// ShouldAllowRequest checks the shared back-off. A back-off shorter than the
// tracker's max wait is slept through and the request allowed; a longer one
// refuses the request. The returned duration is the remaining back-off.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("get rate limit state: %w", err)
	}

	if !state.Blocked() {
		return true, 0, nil
	}

	wait := state.TimeUntilUnblocked()
	if wait > t.maxWait {
		t.logger.Error().
			Int("last_status", state.LastStatus).
			Dur("wait_duration", wait).
			Msg("API back-off in force - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, wait, nil
	}

	t.logger.Warn().
		Dur("wait_duration", wait).
		Msg("API back-off in force - throttling request")

	rateLimitThrottlesTotal.Inc()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, wait, ctx.Err()
	case <-timer.C:
	}

	return true, 0, nil
}
