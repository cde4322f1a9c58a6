// Package testutil provides testing utilities for the Bauplan client.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is what the mock saw of one request.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// MockBauplan is a configurable mock Bauplan API server for testing.
type MockBauplan struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	requests          []RecordedRequest
}

// NewMockBauplan creates a new mock API server.
func NewMockBauplan() *MockBauplan {
	mock := &MockBauplan{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		WriteError(w, http.StatusNotFound, "", nil, "route not found: "+r.URL.Path)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockBauplan) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBauplan) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockBauplan) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockBauplan) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockBauplan) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, resp.write)
}

// SetSequence answers successive requests to path with resps in order. The
// last response repeats once the sequence is used up.
func (m *MockBauplan) SetSequence(path string, resps ...MockResponse) {
	var (
		mu sync.Mutex
		i  int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[min(i, len(resps)-1)]
		i++
		mu.Unlock()
		resp.write(w, r)
	})
}

// SetPages serves items as a paginated list. Page i is answered for
// pagination_token "page-i" (no token for the first page). A max_records
// query parameter truncates the page.
func (m *MockBauplan) SetPages(path string, pages ...[]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if tok := r.URL.Query().Get("pagination_token"); tok != "" {
			n, err := strconv.Atoi(tok[len("page-"):])
			if err != nil || n >= len(pages) {
				WriteError(w, http.StatusBadRequest, "", nil, "bad pagination token")
				return
			}
			idx = n
		}

		var items []any
		if idx < len(pages) {
			items = pages[idx]
		}
		if items == nil {
			items = []any{}
		}
		if s := r.URL.Query().Get("max_records"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n < len(items) {
				items = items[:n]
			}
		}

		next := ""
		if idx+1 < len(pages) {
			next = "page-" + strconv.Itoa(idx+1)
		}
		WriteData(w, http.StatusOK, items, next)
	})
}

// Requests returns every request seen so far.
func (m *MockBauplan) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBauplan) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockBauplan) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

func (resp MockResponse) write(w http.ResponseWriter, _ *http.Request) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, status int, data any, paginationToken string) {
	env := map[string]any{"data": data}
	if paginationToken != "" {
		env["metadata"] = map[string]string{"pagination_token": paginationToken}
	}
	writeJSON(w, status, env)
}

// WriteError writes an error envelope. typ and errCtx may be empty.
func WriteError(w http.ResponseWriter, status int, typ string, errCtx any, message string) {
	e := map[string]any{"message": message}
	if typ != "" {
		e["type"] = typ
	}
	if errCtx != nil {
		e["context"] = errCtx
	}
	writeJSON(w, status, map[string]any{"error": e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// DataResponse builds a 200 response carrying data.
func DataResponse(data any) MockResponse {
	body, _ := json.Marshal(map[string]any{"data": data})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// ErrorResponse builds an error response with a structured body.
func ErrorResponse(status int, typ string, errCtx any, message string) MockResponse {
	e := map[string]any{"message": message}
	if typ != "" {
		e["type"] = typ
	}
	if errCtx != nil {
		e["context"] = errCtx
	}
	body, _ := json.Marshal(map[string]any{"error": e})
	return MockResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	resp := ErrorResponse(http.StatusTooManyRequests, "", nil, "rate limit exceeded")
	resp.Headers["Retry-After"] = strconv.Itoa(retryAfter)
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return ErrorResponse(http.StatusInternalServerError, "", nil, "internal server error")
}

// NewConditionalHandler serves data with etag and answers 304 when the
// request's If-None-Match matches.
func NewConditionalHandler(etag string, data any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "max-age=60")
		WriteData(w, http.StatusOK, data, "")
	}
}
