package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache entry in Redis.
const KeyPrefix = "bauplan"

// CacheKey identifies a cached API response.
type CacheKey struct {
	// Endpoint is the request path (e.g. "/catalog/v0/refs/main@abc/tables").
	Endpoint string

	// QueryParams are the request query parameters.
	QueryParams url.Values

	// Scope separates entries of different credentials. Use ScopeFor to
	// derive it from an API key; empty means unscoped.
	Scope string
}

// String generates a deterministic cache key string.
// Format: bauplan:scope:endpoint:query1=val1:query2=val2
//
// Example:
//
//	bauplan:3f9a1c2e:catalog/v0/refs/main@abc/tables:filter_by_namespace=raw
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if k.Scope != "" {
		parts = append(parts, k.Scope)
	}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Sorted for determinism; repeated values keep their order.
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}

// ScopeFor returns a short, non-reversible scope for an API key.
func ScopeFor(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}

// Cacheable reports whether a request reads immutable data: a GET whose path
// addresses a ref pinned to a commit hash ("/refs/main@abc123/...").
// Anything addressed by a bare branch name can change under us.
func Cacheable(method, path string) bool {
	if method != "GET" {
		return false
	}
	_, _, ok := PinnedRef(path)
	return ok
}

// PinnedRef returns the ref segment following "/refs/" in path and its commit
// hash. ok is false when path has no such segment or the ref is not pinned.
func PinnedRef(path string) (ref, hash string, ok bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg != "refs" || i+1 >= len(segments) {
			continue
		}
		ref = segments[i+1]
		if unescaped, err := url.PathUnescape(ref); err == nil {
			ref = unescaped
		}
		at := strings.LastIndex(ref, "@")
		if at < 0 || at == len(ref)-1 {
			return "", "", false
		}
		return ref, ref[at+1:], true
	}
	return "", "", false
}
