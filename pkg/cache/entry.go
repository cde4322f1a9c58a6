package cache

import (
	"net/http"
	"time"
)

// CacheEntry is a stored response to a hash-pinned catalog read.
type CacheEntry struct {
	Data       []byte      `json:"data"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`

	// ETag and LastModified let an expired entry be revalidated instead of
	// refetched.
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`

	Expires  time.Time `json:"expires"`
	CachedAt time.Time `json:"cached_at"`

	// Scope is the credential scope the entry was stored under.
	Scope string `json:"scope,omitempty"`

	// Ref is the pinned ref the response was read at, e.g. "main@3f9a1c2e",
	// and CommitHash its hash part. Both are set by Manager.Set.
	Ref        string `json:"ref,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// IsExpired reports whether the entry must be revalidated before use.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time left before expiry, or 0.
func (e *CacheEntry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Age returns how long ago the entry was stored.
func (e *CacheEntry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

// bind records which credential scope and catalog commit the entry answers.
func (e *CacheEntry) bind(key CacheKey) {
	e.Scope = key.Scope
	e.Ref, e.CommitHash = "", ""
	if ref, hash, ok := PinnedRef(key.Endpoint); ok {
		e.Ref, e.CommitHash = ref, hash
	}
}

// answers reports whether a stored entry belongs to key. Entries written
// before scope and ref were recorded carry neither and are accepted.
func (e *CacheEntry) answers(key CacheKey) bool {
	if e.Scope == "" && e.Ref == "" {
		return true
	}
	if e.Scope != key.Scope {
		return false
	}
	ref, _, _ := PinnedRef(key.Endpoint)
	return e.Ref == ref
}
