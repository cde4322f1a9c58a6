package cli

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bauplanlabs/bauplan-go/internal/testutil"
	"github.com/bauplanlabs/bauplan-go/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points the CLI at mock through the environment and isolates it
// from the user's config file.
func setupEnv(t *testing.T, mock *testutil.MockBauplan) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BAUPLAN_PROFILE", "")
	t.Setenv("BAUPLAN_REDIS_ADDR", "")
	t.Setenv("BAUPLAN_API_KEY", "test-key")
	endpoint := ""
	if mock != nil {
		endpoint = mock.URL()
	}
	t.Setenv("BAUPLAN_API_ENDPOINT", endpoint)
	return home
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd, opts := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := execute(cmd, opts)
	return stdout.String(), stderr.String(), err
}

func tagPages() []any {
	return []any{
		map[string]any{"name": "v1", "hash": "0123456789abcdef0123"},
		map[string]any{"name": "v2", "hash": "fedcba9876543210fedc"},
	}
}

func TestTagList_Table(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", tagPages()[:1], tagPages()[1:])

	out, _, err := run(t, "tag", "ls")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "v1")
	assert.Contains(t, out, "v2")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef0123", "hashes are shortened")
	assert.Contains(t, out, "(2 rows)")
	assert.Equal(t, 2, mock.GetRequestCount(), "both pages fetched")
}

func TestTagList_JSON(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", tagPages())

	out, _, err := run(t, "tag", "ls", "-o", "json")
	require.NoError(t, err)

	var tags []client.Tag
	require.NoError(t, json.Unmarshal([]byte(out), &tags))
	require.Len(t, tags, 2)
	assert.Equal(t, "v2", tags[1].Name)
	assert.Equal(t, "fedcba9876543210fedc", tags[1].Hash)
}

func TestTagList_YAML(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", tagPages())

	out, _, err := run(t, "tag", "ls", "-o", "yml")
	require.NoError(t, err)
	assert.Contains(t, out, "- name: v1\n")
	assert.Contains(t, out, "  hash: 0123456789abcdef0123\n")
	assert.NotContains(t, out, "{")
}

func TestTagList_Empty(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", []any{})

	out, _, err := run(t, "tag", "ls")
	require.NoError(t, err)
	assert.Equal(t, "(0 rows)\n", out)

	out, _, err = run(t, "tag", "ls", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestTagList_LimitAndFilter(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", tagPages(), tagPages())

	out, _, err := run(t, "tag", "ls", "--limit", "1", "--name", "v")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 rows)")

	reqs := mock.Requests()
	require.Len(t, reqs, 1, "limit reached on the first page")
	assert.Equal(t, "1", reqs[0].Query.Get("max_records"))
	assert.Equal(t, "v", reqs[0].Query.Get("filter_by_name"))
}

func TestTagList_NoLimitByDefault(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", tagPages())

	_, _, err := run(t, "tag", "ls")
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Query.Get("max_records"))
	assert.Empty(t, reqs[0].Query.Get("filter_by_name"))
}

func TestRequestsCarryCredentials(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", tagPages())

	_, _, err := run(t, "tag", "ls")
	require.NoError(t, err)

	reqs := mock.Requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].Header.Get("Authorization"), "test-key")
	assert.True(t, strings.HasPrefix(reqs[0].Header.Get("User-Agent"), "bauplan-cli/"),
		"got User-Agent %q", reqs[0].Header.Get("User-Agent"))
}

func TestTagGet_NotFound(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetResponse("/catalog/v0/tags/nope",
		testutil.ErrorResponse(http.StatusNotFound, "TAG_NOT_FOUND", map[string]any{"tag_name": "nope"}, "tag not found"))

	_, _, err := run(t, "tag", "get", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrNotFound)

	msg := describe(err)
	assert.Contains(t, msg, "404")
	assert.Contains(t, msg, "TAG_NOT_FOUND")
}

func TestBranchGet(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetResponse("/catalog/v0/branches/alice.dev",
		testutil.DataResponse(map[string]any{"name": "alice.dev", "hash": "abc123"}))

	out, _, err := run(t, "branch", "get", "alice.dev")
	require.NoError(t, err)
	assert.Contains(t, out, "alice.dev")
	assert.Contains(t, out, "abc123")
}

func TestBranchList_Filters(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/branches", []any{map[string]any{"name": "alice.dev", "hash": "abc"}})

	_, _, err := run(t, "branch", "ls", "--user", "alice", "--name", "dev")
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "alice", reqs[0].Query.Get("filter_by_user"))
	assert.Equal(t, "dev", reqs[0].Query.Get("filter_by_name"))
}

func TestNamespaceList_DefaultRef(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/refs/main/namespaces", []any{map[string]any{"name": "raw"}})

	out, _, err := run(t, "ns", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "raw")
	assert.Contains(t, out, "(1 rows)")
}

func TestNamespaceList_ActiveBranchFromProfile(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	home := setupEnv(t, mock)

	config := "profiles:\n  default:\n    api_key: file-key\n    active_branch: alice.dev\n"
	path := filepath.Join(home, ".config", "bauplan.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	mock.SetPages("/catalog/v0/refs/alice.dev/namespaces", []any{map[string]any{"name": "raw"}})

	_, _, err := run(t, "namespace", "ls")
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/catalog/v0/refs/alice.dev/namespaces", reqs[0].Path)
}

func TestTableList_Filters(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/refs/dev/tables", []any{
		map[string]any{
			"id":              "6f1c2b7e-4a0d-4a55-9d2e-1b7a0c3f9e11",
			"name":            "titanic",
			"namespace":       "raw",
			"kind":            "TABLE",
			"records":         891,
			"last_updated_at": 1700000000000,
		},
	})

	out, _, err := run(t, "table", "ls", "--ref", "dev", "-n", "raw", "--name", "tit")
	require.NoError(t, err)
	assert.Contains(t, out, "titanic")
	assert.Contains(t, out, "891")
	assert.Contains(t, out, time.UnixMilli(1700000000000).UTC().Format(time.RFC3339))

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "raw", reqs[0].Query.Get("filter_by_namespace"))
	assert.Equal(t, "tit", reqs[0].Query.Get("filter_by_name"))
}

func TestTableGet_QualifiedName(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetResponse("/catalog/v0/refs/main/tables/titanic", testutil.DataResponse(map[string]any{
		"id":        "6f1c2b7e-4a0d-4a55-9d2e-1b7a0c3f9e11",
		"name":      "titanic",
		"namespace": "raw",
		"kind":      "TABLE",
		"fields": []any{
			map[string]any{"id": 1, "name": "PassengerId", "type": "long", "required": true},
			map[string]any{"id": 2, "name": "Name", "type": "string", "required": false},
		},
	}))

	out, _, err := run(t, "table", "get", "raw.titanic")
	require.NoError(t, err)
	assert.Contains(t, out, "FIELD")
	assert.Contains(t, out, "PassengerId")
	assert.Contains(t, out, "long")

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "raw", reqs[0].Query.Get("namespace"))
}

func TestJobList_Filters(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/jobs/v0/jobs", []any{
		map[string]any{
			"id":          "job-1",
			"kind":        "Query",
			"status":      "Running",
			"kind_type":   "Query",
			"status_type": "Running",
			"user":        "alice",
		},
	})

	out, _, err := run(t, "job", "ls", "--status", "running", "--kind", "query",
		"--all-users", "--created-after", "2024-01-02")
	require.NoError(t, err)
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "alice")

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	q := reqs[0].Query
	assert.Equal(t, []string{"Running"}, q["statuses"])
	assert.Equal(t, []string{"Query"}, q["kinds"])
	assert.Equal(t, "true", q.Get("all_users"))
	assert.Equal(t, "2024-01-02T00:00:00Z", q.Get("created_after"))
}

func TestJobList_InvalidFilter(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	_, _, err := run(t, "job", "ls", "--status", "sleeping")
	assert.Error(t, err)

	_, _, err = run(t, "job", "ls", "--created-before", "yesterday")
	assert.Error(t, err)

	assert.Zero(t, mock.GetRequestCount())
}

func TestInvalidGlobalFlags(t *testing.T) {
	setupEnv(t, nil)

	_, _, err := run(t, "version", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")

	_, _, err = run(t, "version", "--log-level", "loud")
	assert.Error(t, err)
}

func TestMissingCredentials(t *testing.T) {
	setupEnv(t, nil)
	t.Setenv("BAUPLAN_API_KEY", "")

	_, _, err := run(t, "tag", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load profile")
}

func TestVersion(t *testing.T) {
	setupEnv(t, nil)
	t.Setenv("BAUPLAN_API_KEY", "")

	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "bauplan dev ("), "got %q", out)
}

func TestProfileList(t *testing.T) {
	home := setupEnv(t, nil)

	config := `profiles:
  default:
    api_key: abcdefgh1234
  staging:
    api_key: zzzz9999
    api_endpoint: https://api.staging.example.com
    active_branch: alice.dev
`
	path := filepath.Join(home, ".config", "bauplan.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	out, _, err := run(t, "profile", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "staging")
	assert.Contains(t, out, "https://api.staging.example.com")
	assert.Contains(t, out, "****1234")
	assert.NotContains(t, out, "abcdefgh1234")
	assert.Contains(t, out, "(2 rows)")
}

func TestProfileShow_JSON(t *testing.T) {
	setupEnv(t, nil)
	t.Setenv("BAUPLAN_API_ENDPOINT", "http://localhost:9999")

	out, _, err := run(t, "profile", "show", "-o", "json")
	require.NoError(t, err)

	var view profileView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "default", view.Name)
	assert.Equal(t, "http://localhost:9999", view.APIEndpoint)
	assert.Equal(t, "****-key", view.APIKey)
}

func TestStats(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetPages("/catalog/v0/tags", tagPages())

	_, stderr, err := run(t, "tag", "ls", "--stats")
	require.NoError(t, err)
	assert.Contains(t, stderr, "METRIC")
	assert.Contains(t, stderr, "bauplan_")
}

func TestStats_PrintedWhenCommandFails(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetResponse("/catalog/v0/tags/nope",
		testutil.ErrorResponse(http.StatusNotFound, "TAG_NOT_FOUND", map[string]any{"tag_name": "nope"}, "tag not found"))

	_, stderr, err := run(t, "tag", "get", "nope", "--stats")
	require.ErrorIs(t, err, client.ErrTagNotFound)
	assert.Contains(t, stderr, "METRIC")
	assert.Contains(t, stderr, "bauplan_")
}

func TestExecute_ReleasesSessionOnError(t *testing.T) {
	mock := testutil.NewMockBauplan()
	defer mock.Close()
	setupEnv(t, mock)

	mock.SetResponse("/catalog/v0/tags/nope", testutil.MockResponse{StatusCode: http.StatusNotFound})

	cmd, opts := newRootCmd()
	cmd.SetArgs([]string{"tag", "get", "nope"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := execute(cmd, opts)
	require.Error(t, err)
	assert.Nil(t, opts.session, "session must be torn down after a failed command")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"csv", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("created-after", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTimeFlag("created-after", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTimeFlag("created-after", "2024-03-01T12:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), got.UTC())

	_, err = parseTimeFlag("created-before", "03/01/2024")
	assert.ErrorContains(t, err, "--created-before")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("abc"))
	assert.Equal(t, "****", maskKey("abcd"))
	assert.Equal(t, "****bcde", maskKey("abcde"))
}
