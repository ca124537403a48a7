package bifrost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/compiler"
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

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	registry := catalog.NewRegistry()
	require.NoError(t, registry.Register(socialView()))
	return New(registry, opts)
}

func TestServiceCompile(t *testing.T) {
	svc := newService(t, Options{})

	out, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT a.user_name AS a_name\nFROM users AS a", out.SQL)
	assert.Equal(t, []compiler.ManifestEntry{{Expression: "a.name", Column: "a_name"}}, out.Manifest)
	assert.Equal(t, "social", out.View)
	assert.Equal(t, svc.Registry().Snapshot().Version, out.CatalogVersion)
}

func TestServiceCompileUnknownView(t *testing.T) {
	svc := newService(t, Options{})

	_, err := svc.Compile("nope", "MATCH (a:User) RETURN a.name", nil, nil)
	require.Error(t, err)
	var aerr *compiler.AnalyzerError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "nope", aerr.Identifier)
}

func TestServiceCompileMemoizes(t *testing.T) {
	svc := newService(t, Options{})

	first, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)
	second, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)
	assert.Same(t, first, second, "repeat compilation should be served from cache")

	stats := svc.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestServiceCompileCacheDisabled(t *testing.T) {
	svc := newService(t, Options{CacheDisabled: true})

	first, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)
	second, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.SQL, second.SQL)
}

func TestServiceCatalogReloadInvalidates(t *testing.T) {
	registry := catalog.NewRegistry()
	require.NoError(t, registry.Register(socialView()))
	svc := New(registry, Options{})

	first, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)

	// Re-registering bumps the snapshot version, so the memoized
	// entry keyed on the old version no longer matches.
	require.NoError(t, registry.Register(socialView()))

	second, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Greater(t, second.CatalogVersion, first.CatalogVersion)
}

func TestServiceCompileParamsAffectKey(t *testing.T) {
	svc := newService(t, Options{})
	query := "MATCH (a:User) WHERE a.name = $who RETURN a.name"

	alice, err := svc.Compile("social", query, map[string]any{"who": "alice"}, nil)
	require.NoError(t, err)
	bob, err := svc.Compile("social", query, map[string]any{"who": "bob"}, nil)
	require.NoError(t, err)

	assert.NotSame(t, alice, bob)
	assert.Contains(t, alice.SQL, "'alice'")
	assert.Contains(t, bob.SQL, "'bob'")
}

func TestServiceExplain(t *testing.T) {
	svc := newService(t, Options{})

	out, err := svc.Explain("social", "MATCH (a:User) RETURN a.name", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Project [a.name]")
	assert.Contains(t, out, "Scan users AS a")

	_, err = svc.Explain("nope", "MATCH (a:User) RETURN a.name", nil, nil)
	var aerr *compiler.AnalyzerError
	require.ErrorAs(t, err, &aerr)
}

func TestServiceViews(t *testing.T) {
	svc := newService(t, Options{})
	assert.Equal(t, []string{"social"}, svc.Views())
}
