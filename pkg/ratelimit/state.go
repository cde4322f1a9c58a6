// Package ratelimit shares server back-off requests between Bauplan clients.
// When the API answers 429 or 503 with a Retry-After header, the deadline is
// stored in Redis so every process using the same credentials holds off until
// it passes.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Redis key suffixes for rate limit state storage. Keys are
// "bauplan:rate_limit:<scope>:<suffix>".
const (
	redisKeyPrefix         = "bauplan:rate_limit"
	redisSuffixBlockedTill = "blocked_until"
	redisSuffixLastStatus  = "last_status"
	redisSuffixLastUpdate  = "last_update"
)

// DefaultMaxWait is the longest a request waits in-process for a back-off to
// expire. Longer back-offs block the request instead.
const DefaultMaxWait = 5 * time.Second

// RateLimitState is the back-off state shared through Redis.
type RateLimitState struct {
	// BlockedUntil is when the server said we may resume. Zero when no
	// back-off is in force.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastStatus is the status code that set the back-off (429 or 503).
	LastStatus int `json:"last_status"`

	// LastUpdate is the timestamp when this state was last updated.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Blocked reports whether a back-off is still in force.
func (s *RateLimitState) Blocked() bool {
	return time.Now().Before(s.BlockedUntil)
}

// TimeUntilUnblocked returns the remaining back-off, or 0.
func (s *RateLimitState) TimeUntilUnblocked() time.Duration {
	d := time.Until(s.BlockedUntil)
	if d < 0 {
		return 0
	}
	return d
}

// IsHealthy reports whether requests flow without restriction.
func (s *RateLimitState) IsHealthy() bool {
	return !s.Blocked()
}

// ParseRetryAfter reads a Retry-After header, which is either a number of
// seconds or an HTTP date. ok is false when the header is absent or invalid.
func ParseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(headers.Get("Retry-After"))
	if v == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// IsBackoffStatus reports whether status is one the server uses to ask
// clients to slow down.
func IsBackoffStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}
