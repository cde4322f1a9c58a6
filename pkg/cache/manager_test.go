package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips the test when none is
// running. Tests use DB 15, flushed before and after.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	// Ping to check connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	// Flush test DB before each test
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{
		Endpoint: "/catalog/v0/refs/main@abc/tags",
	}

	entry := &CacheEntry{
		Data:         []byte(`{"data": []}`),
		ETag:         `"abc123"`,
		Expires:      time.Now().Add(5 * time.Minute),
		LastModified: time.Now().Add(-1 * time.Hour),
		StatusCode:   200,
		Headers:      http.Header{"Content-Type": []string{"application/json"}},
		CachedAt:     time.Now(),
	}

	// Set entry
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Get entry
	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Verify data
	if string(retrieved.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", retrieved.Data, entry.Data)
	}
	if retrieved.ETag != entry.ETag {
		t.Errorf("ETag mismatch: got %s, want %s", retrieved.ETag, entry.ETag)
	}
	if retrieved.StatusCode != entry.StatusCode {
		t.Errorf("StatusCode mismatch: got %d, want %d", retrieved.StatusCode, entry.StatusCode)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{
		Endpoint: "/catalog/v0/refs/main@abc/tables/missing",
	}

	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Get_ExpiredEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{
		Endpoint: "/catalog/v0/refs/main@abc/namespaces",
	}

	// Create already expired entry
	entry := &CacheEntry{
		Data:    []byte(`{"data": []}`),
		Expires: time.Now().Add(-1 * time.Hour), // Already expired
	}

	// Set should not cache expired entries
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Get should return cache miss
	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{
		Endpoint: "/catalog/v0/refs/main@abc/namespaces",
	}

	entry := &CacheEntry{
		Data:    []byte(`{"data": []}`),
		Expires: time.Now().Add(5 * time.Minute),
	}

	// Set entry
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Verify it exists
	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}

	// Delete entry
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Verify it's gone
	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_UpdateTTL(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{
		Endpoint: "/catalog/v0/refs/main@abc/namespaces",
	}

	// Create entry with initial TTL
	entry := &CacheEntry{
		Data:    []byte(`{"data": []}`),
		Expires: time.Now().Add(5 * time.Minute),
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Update TTL to a new expiration time
	newExpires := time.Now().Add(10 * time.Minute)
	if err := manager.UpdateTTL(ctx, key, newExpires); err != nil {
		t.Fatalf("UpdateTTL failed: %v", err)
	}

	// Get entry and verify new expiration
	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after UpdateTTL failed: %v", err)
	}

	// Check that the new expires time is close to what we set
	diff := retrieved.Expires.Sub(newExpires)
	if diff < -1*time.Second || diff > 1*time.Second {
		t.Errorf("Expires time not updated correctly: got %v, want %v (diff: %v)",
			retrieved.Expires, newExpires, diff)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{
		Endpoint: "/catalog/v0/refs/main@abc/namespaces",
	}

	err := manager.Set(ctx, key, nil)
	if err == nil {
		t.Error("Set with nil entry should return error")
	}
}

func TestManager_Lookup_ReturnsExpiredRevalidatableEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{Endpoint: "/catalog/v0/refs/main@abc/tables", Scope: "s"}
	entry := &CacheEntry{
		Data:       []byte(`{"data": []}`),
		ETag:       `"v1"`,
		Expires:    time.Now().Add(50 * time.Millisecond),
		StatusCode: 200,
		CachedAt:   time.Now(),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Redis keeps revalidatable entries past their expiry
	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl < StaleGrace {
		t.Errorf("redis TTL = %v, want at least %v", ttl, StaleGrace)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get on expired entry = %v, want ErrCacheMiss", err)
	}

	stale, err := manager.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !stale.IsExpired() {
		t.Error("Lookup returned a fresh entry, want expired")
	}
	if stale.ETag != `"v1"` {
		t.Errorf("ETag = %s, want \"v1\"", stale.ETag)
	}
}

func TestManager_Set_NoGraceWithoutValidators(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{Endpoint: "/catalog/v0/refs/main@abc/tags"}
	entry := &CacheEntry{
		Data:    []byte(`{"data": []}`),
		Expires: time.Now().Add(time.Minute),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("redis TTL = %v, want within (0, 1m]", ttl)
	}
}

func TestManager_Lookup_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{Endpoint: "/catalog/v0/refs/main@abc/tags"}
	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("redis set failed: %v", err)
	}

	if _, err := manager.Lookup(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Lookup = %v, want ErrInvalidEntry", err)
	}
}

func TestManager_Purge(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &CacheEntry{
		Data:    []byte(`{"data": []}`),
		Expires: time.Now().Add(5 * time.Minute),
	}
	keys := []CacheKey{
		{Endpoint: "/catalog/v0/refs/main@abc/tags", Scope: "alice"},
		{Endpoint: "/catalog/v0/refs/main@abc/tables", Scope: "alice"},
		{Endpoint: "/catalog/v0/refs/main@abc/tags", Scope: "bob"},
	}
	for _, k := range keys {
		if err := manager.Set(ctx, k, entry); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}
	// Foreign keys in the same DB are left alone
	if err := client.Set(ctx, "other:key", "x", time.Minute).Err(); err != nil {
		t.Fatalf("redis set failed: %v", err)
	}

	removed, err := manager.Purge(ctx, "alice")
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Purge(alice) removed %d, want 2", removed)
	}
	if _, err := manager.Get(ctx, keys[2]); err != nil {
		t.Errorf("bob's entry was purged: %v", err)
	}

	removed, err = manager.Purge(ctx, "")
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge(\"\") removed %d, want 1", removed)
	}
	if n, _ := client.Exists(ctx, "other:key").Result(); n != 1 {
		t.Error("Purge removed a non-bauplan key")
	}
}

func TestManager_Set_RecordsScopeAndRef(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{Endpoint: "/catalog/v0/refs/main@abc/namespaces/raw", Scope: "s1"}
	entry := &CacheEntry{
		Data:     []byte(`{"data":{"name":"raw"}}`),
		Expires:  time.Now().Add(time.Minute),
		CachedAt: time.Now(),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Scope != "s1" || got.Ref != "main@abc" || got.CommitHash != "abc" {
		t.Errorf("Stored entry = scope %q ref %q hash %q, want s1 main@abc abc", got.Scope, got.Ref, got.CommitHash)
	}
}

func TestManager_Lookup_RejectsEntryForAnotherKey(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := CacheKey{Endpoint: "/catalog/v0/refs/main@abc/tables", Scope: "s1"}
	foreign := &CacheEntry{
		Data:       []byte(`{"data":[]}`),
		Expires:    time.Now().Add(time.Minute),
		Scope:      "s2",
		Ref:        "main@abc",
		CommitHash: "abc",
	}
	data, err := json.Marshal(foreign)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := client.Set(ctx, key.String(), data, time.Minute).Err(); err != nil {
		t.Fatalf("redis set failed: %v", err)
	}

	if _, err := manager.Lookup(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}
