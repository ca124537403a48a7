package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bifrost/pkg/bifrost"
	"github.com/orneryd/bifrost/pkg/catalog"
)

func socialView() *catalog.View {
	user := &catalog.NodeSchema{
		Label:      "User",
		Table:      "users",
		IDColumns:  []string{"id"},
		Properties: map[string]string{"name": "user_name"},
	}
	follows := &catalog.EdgeSchema{
		Type:        "FOLLOWS",
		Table:       "follows",
		FromColumns: []string{"follower_id"},
		ToColumns:   []string{"followee_id"},
		FromLabel:   "User",
		ToLabel:     "User",
	}
	return catalog.NewView("social", nil, []*catalog.NodeSchema{user}, []*catalog.EdgeSchema{follows})
}

// startServer spins up a server on an ephemeral port and tears it down
// with the test.
func startServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	registry := catalog.NewRegistry()
	require.NoError(t, registry.Register(socialView()))
	svc := bifrost.New(registry, bifrost.Options{})

	config := DefaultConfig()
	config.Address = "127.0.0.1"
	config.Port = 0
	if mutate != nil {
		mutate(config)
	}

	srv, err := New(svc, config)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func postJSON(t *testing.T, srv *Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(fmt.Sprintf("http://%s%s", srv.Addr(), path), "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, srv *Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://%s%s", srv.Addr(), path))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestServerCompile(t *testing.T) {
	srv := startServer(t, nil)

	resp, body := postJSON(t, srv, "/compile", map[string]any{
		"view":  "social",
		"query": "MATCH (a:User) RETURN a.name",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SELECT a.user_name AS a_name\nFROM users AS a", body["sql"])
	assert.Equal(t, "social", body["view"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	manifest, ok := body["manifest"].([]any)
	require.True(t, ok)
	require.Len(t, manifest, 1)
	entry := manifest[0].(map[string]any)
	assert.Equal(t, "a.name", entry["expression"])
	assert.Equal(t, "a_name", entry["column"])
}

func TestServerCompileErrorStatuses(t *testing.T) {
	srv := startServer(t, nil)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{
			name:   "missing view field",
			body:   map[string]any{"query": "MATCH (a:User) RETURN a.name"},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing query field",
			body:   map[string]any{"view": "social"},
			status: http.StatusBadRequest,
		},
		{
			name:   "syntax error",
			body:   map[string]any{"view": "social", "query": "MATCH (a:User RETURN a.name"},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown label",
			body:   map[string]any{"view": "social", "query": "MATCH (g:Ghost) RETURN g.name"},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown view",
			body:   map[string]any{"view": "nope", "query": "MATCH (a:User) RETURN a.name"},
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, srv, "/compile", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, true, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestServerCompileMethodNotAllowed(t *testing.T) {
	srv := startServer(t, nil)
	resp, _ := getJSON(t, srv, "/compile")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerExplain(t *testing.T) {
	srv := startServer(t, nil)

	resp, body := postJSON(t, srv, "/explain", map[string]any{
		"view":  "social",
		"query": "MATCH (a:User) RETURN a.name",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "social", body["view"])
	assert.Contains(t, body["plan"], "Scan users AS a")
}

func TestServerHealth(t *testing.T) {
	srv := startServer(t, nil)
	resp, body := getJSON(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestServerViews(t *testing.T) {
	srv := startServer(t, nil)
	resp, body := getJSON(t, srv, "/views")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"social"}, body["views"])
}

func TestServerReloadDisabled(t *testing.T) {
	srv := startServer(t, func(c *Config) { c.ReloadEnabled = false })

	resp, body := postJSON(t, srv, "/views/reload", map[string]any{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body["message"], "disabled")
}

func TestServerReload(t *testing.T) {
	dir := t.TempDir()
	viewYAML := `name: fresh
nodes:
  - label: Item
    table: items
    id: [id]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fresh.yaml"), []byte(viewYAML), 0o644))

	srv := startServer(t, func(c *Config) { c.CatalogDir = dir })

	resp, body := postJSON(t, srv, "/views/reload", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"fresh"}, body["views"])
	assert.NotNil(t, body["version"])
}

func TestServerReloadFailureKeepsViews(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: [broken"), 0o644))

	srv := startServer(t, func(c *Config) { c.CatalogDir = dir })

	resp, _ := postJSON(t, srv, "/views/reload", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The previously registered catalog still serves.
	resp, body := getJSON(t, srv, "/views")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"social"}, body["views"])
}

func TestServerStats(t *testing.T) {
	srv := startServer(t, nil)

	postJSON(t, srv, "/compile", map[string]any{
		"view":  "social",
		"query": "MATCH (a:User) RETURN a.name",
	})

	resp, body := getJSON(t, srv, "/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	serverStats, ok := body["server"].(map[string]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, serverStats["request_count"].(float64), float64(1))

	cacheStats, ok := body["cache"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, cacheStats, "hit_rate")
}

func TestServerStartAfterStop(t *testing.T) {
	srv := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.ErrorIs(t, srv.Start(), ErrServerClosed)
}
