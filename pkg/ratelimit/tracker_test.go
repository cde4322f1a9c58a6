package ratelimit

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis and skips the test when none is
// running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newTestTracker(t *testing.T, scope string) (*Tracker, *redis.Client) {
	t.Helper()
	client := setupTestRedis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewTracker(client, logger, scope), client
}

func retryAfter(secs int) http.Header {
	h := http.Header{}
	h.Set("Retry-After", strconv.Itoa(secs))
	return h
}

func TestNewTracker_DefaultScope(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop(), "")
	if got := tracker.key(redisSuffixBlockedTill); got != "bauplan:rate_limit:global:blocked_until" {
		t.Errorf("key() = %q", got)
	}

	tracker = NewTracker(nil, zerolog.Nop(), "abc")
	if got := tracker.key(redisSuffixLastStatus); got != "bauplan:rate_limit:abc:last_status" {
		t.Errorf("key() = %q", got)
	}
}

func TestTracker_GetState_Empty(t *testing.T) {
	tracker, _ := newTestTracker(t, "s")

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy() {
		t.Error("empty state should be healthy")
	}
}

func TestTracker_UpdateFromResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		headers     http.Header
		wantBlocked bool
	}{
		{"429 with Retry-After", http.StatusTooManyRequests, retryAfter(30), true},
		{"503 with Retry-After", http.StatusServiceUnavailable, retryAfter(30), true},
		{"429 without Retry-After", http.StatusTooManyRequests, http.Header{}, false},
		{"429 with zero Retry-After", http.StatusTooManyRequests, retryAfter(0), false},
		{"500 with Retry-After", http.StatusInternalServerError, retryAfter(30), false},
		{"200", http.StatusOK, retryAfter(30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _ := newTestTracker(t, "s")
			ctx := context.Background()

			if err := tracker.UpdateFromResponse(ctx, tt.status, tt.headers); err != nil {
				t.Fatalf("UpdateFromResponse() error = %v", err)
			}

			state, err := tracker.GetState(ctx)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Blocked() != tt.wantBlocked {
				t.Errorf("Blocked() = %v, want %v", state.Blocked(), tt.wantBlocked)
			}
			if tt.wantBlocked {
				if state.LastStatus != tt.status {
					t.Errorf("LastStatus = %d, want %d", state.LastStatus, tt.status)
				}
				if state.LastUpdate.IsZero() {
					t.Error("LastUpdate not recorded")
				}
			}
		})
	}
}

func TestTracker_UpdateFromResponse_NeverShortens(t *testing.T) {
	tracker, _ := newTestTracker(t, "s")
	ctx := context.Background()

	if err := tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter(120)); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}
	if err := tracker.UpdateFromResponse(ctx, http.StatusServiceUnavailable, retryAfter(5)); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if wait := state.TimeUntilUnblocked(); wait < 100*time.Second {
		t.Errorf("TimeUntilUnblocked() = %v, the longer back-off was shortened", wait)
	}
	if state.LastStatus != http.StatusTooManyRequests {
		t.Errorf("LastStatus = %d, want 429", state.LastStatus)
	}
}

func TestTracker_ShouldAllowRequest(t *testing.T) {
	tracker, _ := newTestTracker(t, "s")
	ctx := context.Background()

	allowed, wait, err := tracker.ShouldAllowRequest(ctx)
	if err != nil || !allowed || wait != 0 {
		t.Fatalf("healthy: ShouldAllowRequest() = %v, %v, %v", allowed, wait, err)
	}

	if err := tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter(60)); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	allowed, wait, err = tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("request allowed during a long back-off")
	}
	if wait <= DefaultMaxWait {
		t.Errorf("wait = %v, want more than %v", wait, DefaultMaxWait)
	}
}

func TestTracker_ShouldAllowRequest_ThrottlesShortBackoff(t *testing.T) {
	tracker, _ := newTestTracker(t, "s")
	ctx := context.Background()

	if err := tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter(1)); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	start := time.Now()
	allowed, _, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("short back-off should throttle, not block")
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("returned after %v, want to wait out the back-off", elapsed)
	}
}

func TestTracker_ShouldAllowRequest_ContextCancelled(t *testing.T) {
	tracker, _ := newTestTracker(t, "s")
	tracker.SetMaxWait(time.Minute)

	if err := tracker.UpdateFromResponse(context.Background(), http.StatusTooManyRequests, retryAfter(30)); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	allowed, _, err := tracker.ShouldAllowRequest(ctx)
	if allowed {
		t.Error("request allowed after context was cancelled")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker, client := newTestTracker(t, "s")
	ctx := context.Background()

	if err := tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter(60)); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}
	if err := tracker.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	n, err := client.Exists(ctx, tracker.key(redisSuffixBlockedTill)).Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if n != 0 {
		t.Error("Reset left the back-off key in Redis")
	}
}

func TestTracker_ScopesAreIndependent(t *testing.T) {
	client := setupTestRedis(t)
	logger := zerolog.Nop()
	ctx := context.Background()

	alice := NewTracker(client, logger, "alice")
	bob := NewTracker(client, logger, "bob")

	if err := alice.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter(60)); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err := bob.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Blocked() {
		t.Error("back-off leaked across scopes")
	}
}
