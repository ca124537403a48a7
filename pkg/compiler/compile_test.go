package compiler

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bifrost/pkg/catalog"
)

// socialView is the shared fixture: two labels, a homogeneous edge, and
// a keyed edge between distinct labels.
func socialView() *catalog.View {
	user := &catalog.NodeSchema{
		Label:      "User",
		Table:      "users",
		IDColumns:  []string{"id"},
		Properties: map[string]string{"name": "user_name", "age": "age"},
	}
	post := &catalog.NodeSchema{
		Label:      "Post",
		Table:      "posts",
		IDColumns:  []string{"post_id"},
		Properties: map[string]string{"title": "title"},
	}
	follows := &catalog.EdgeSchema{
		Type:        "FOLLOWS",
		Table:       "follows",
		FromColumns: []string{"follower_id"},
		ToColumns:   []string{"followee_id"},
		FromLabel:   "User",
		ToLabel:     "User",
	}
	wrote := &catalog.EdgeSchema{
		Type:        "WROTE",
		Table:       "authorship",
		FromColumns: []string{"user_id"},
		ToColumns:   []string{"post_id"},
		KeyColumns:  []string{"authorship_id"},
		Properties:  map[string]string{"at": "created_at"},
		FromLabel:   "User",
		ToLabel:     "Post",
	}
	return catalog.NewView("social", nil, []*catalog.NodeSchema{user, post}, []*catalog.EdgeSchema{follows, wrote})
}

// ledgerView exercises composite identities on nodes and edges.
func ledgerView() *catalog.View {
	account := &catalog.NodeSchema{
		Label:      "Account",
		Table:      "accounts",
		IDColumns:  []string{"region", "acct_id"},
		Properties: map[string]string{"balance": "balance"},
	}
	transfer := &catalog.EdgeSchema{
		Type:        "TRANSFER",
		Table:       "transfers",
		FromColumns: []string{"src_region", "src_id"},
		ToColumns:   []string{"dst_region", "dst_id"},
		FromLabel:   "Account",
		ToLabel:     "Account",
	}
	return catalog.NewView("ledger", nil, []*catalog.NodeSchema{account}, []*catalog.EdgeSchema{transfer})
}

// tenantedView carries catalog filters with {{tenant}} placeholders and
// a polymorphic edge table.
func tenantedView() *catalog.View {
	user := &catalog.NodeSchema{
		Label:      "User",
		Table:      "users",
		IDColumns:  []string{"id"},
		Properties: map[string]string{"name": "name"},
		Filters:    []string{"{alias}.tenant_id = {{tenant}}"},
	}
	links := &catalog.EdgeSchema{
		Type:        "LINKS",
		Table:       "edges",
		FromColumns: []string{"src"},
		ToColumns:   []string{"dst"},
		TypeColumn:  "kind",
		FromLabel:   "User",
		ToLabel:     "User",
	}
	return catalog.NewView("tenanted", []string{"tenant"}, []*catalog.NodeSchema{user}, []*catalog.EdgeSchema{links})
}

func TestCompileGolden(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		view   *catalog.View
		params map[string]any
		opts   Options
	}{
		{
			name:   "match_filter",
			query:  "MATCH (a:User)-[:FOLLOWS]->(b:User) WHERE a.age > $min RETURN a.name, b.name AS follower",
			view:   socialView(),
			params: map[string]any{"min": 21},
		},
		{
			name:  "undirected",
			query: "MATCH (a:User)-[r:FOLLOWS]-(b:User) RETURN a.name",
			view:  socialView(),
		},
		{
			name:  "aggregate_order",
			query: "MATCH (a:User)-[:FOLLOWS]->(b:User) RETURN a.name, count(b) AS followers ORDER BY followers DESC LIMIT 5",
			view:  socialView(),
		},
		{
			name:  "with_boundary",
			query: "MATCH (a:User)-[:FOLLOWS]->(b:User) WITH b, count(a) AS fans WHERE fans > 1 MATCH (b)-[w:WROTE]->(p:Post) RETURN b.name, p.title, fans ORDER BY fans DESC",
			view:  socialView(),
		},
		{
			name:  "var_length",
			query: "MATCH (a:User)-[:FOLLOWS*1..2]->(b:User) RETURN b.name",
			view:  socialView(),
		},
		{
			name:  "var_length_zero_hop",
			query: "MATCH (a:User)-[:FOLLOWS*0..1]->(b:User) RETURN b.name",
			view:  socialView(),
		},
		{
			name:  "optional_match",
			query: "MATCH (a:User) OPTIONAL MATCH (a)-[:WROTE]->(p:Post) RETURN a.name, p.title",
			view:  socialView(),
		},
		{
			name:  "multi_type",
			query: "MATCH (a:User)-[r:FOLLOWS|WROTE]->(x) RETURN type(r)",
			view:  socialView(),
		},
		{
			name:  "composite_identity",
			query: "MATCH (a:Account)-[t:TRANSFER]->(b:Account) RETURN a, id(b)",
			view:  ledgerView(),
		},
		{
			name:  "view_args",
			query: "MATCH (a:User)-[l:LINKS]->(b:User) RETURN a.name",
			view:  tenantedView(),
			opts:  Options{ViewArgs: map[string]string{"tenant": "acme"}},
		},
	}

	g := goldie.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Compile(tt.query, tt.view, tt.params, tt.opts)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(out.SQL+"\n"))
		})
	}
}

func TestCompileManifest(t *testing.T) {
	out, err := Compile(
		"MATCH (a:User)-[:FOLLOWS]->(b:User) WHERE a.age > $min RETURN a.name, b.name AS follower",
		socialView(), map[string]any{"min": 21}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []ManifestEntry{
		{Expression: "a.name", Column: "a_name"},
		{Expression: "b.name", Column: "follower"},
	}, out.Columns)
}

func TestCompileDeterministic(t *testing.T) {
	query := "MATCH (a:User)-[:FOLLOWS]->(b:User) WITH b, count(a) AS fans WHERE fans > 1 MATCH (b)-[w:WROTE]->(p:Post) RETURN b.name, p.title, fans ORDER BY fans DESC"
	first, err := Compile(query, socialView(), nil, Options{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Compile(query, socialView(), nil, Options{})
		require.NoError(t, err)
		assert.Equal(t, first.SQL, again.SQL)
		assert.Equal(t, first.Columns, again.Columns)
	}
}

func TestCompileCountStar(t *testing.T) {
	out, err := Compile("MATCH (a:User) RETURN count(*) AS n", socialView(), nil, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "count(*) AS n")
	assert.NotContains(t, out.SQL, "GROUP BY")
}

func TestCompileDistinct(t *testing.T) {
	out, err := Compile("MATCH (a:User) RETURN DISTINCT a.name", socialView(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT DISTINCT a.user_name AS a_name\nFROM users AS a", out.SQL)
}

func TestCompileMaxTraversalDepth(t *testing.T) {
	query := "MATCH (a:User)-[:FOLLOWS*2..]->(b:User) RETURN b.name"

	out, err := Compile(query, socialView(), nil, Options{MaxTraversalDepth: 4})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "hop_count >= 2 AND hop_count <= 4")

	out, err = Compile(query, socialView(), nil, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "hop_count <= 10")
}

func TestCompileSelfLoopSingleDirection(t *testing.T) {
	// Both directions of an undirected self-loop produce the same rows,
	// so no union is emitted.
	out, err := Compile("MATCH (a:User)-[r:FOLLOWS]-(a) RETURN a.name", socialView(), nil, Options{})
	require.NoError(t, err)
	assert.NotContains(t, out.SQL, "UNION")
	assert.Contains(t, out.SQL, "JOIN follows AS r ON r.follower_id = a.id AND r.followee_id = a.id")
}

func TestCompileStringPredicates(t *testing.T) {
	out, err := Compile(
		"MATCH (a:User) WHERE a.name STARTS WITH 'A' AND a.name ENDS WITH 'z' AND a.name CONTAINS 'mid' RETURN a.name",
		socialView(), nil, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "startsWith(a.user_name, 'A')")
	assert.Contains(t, out.SQL, "endsWith(a.user_name, 'z')")
	assert.Contains(t, out.SQL, "position(a.user_name, 'mid') > 0")
}

func TestCompileInListParameter(t *testing.T) {
	out, err := Compile(
		"MATCH (a:User) WHERE a.name IN $names RETURN a.name",
		socialView(), map[string]any{"names": []any{"ada", "o'brien"}}, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "a.user_name IN ('ada', 'o''brien')")
}

func TestCompileInlinePropertyMap(t *testing.T) {
	out, err := Compile("MATCH (a:User {name: 'Ada'}) RETURN a.age", socialView(), nil, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "(a.user_name = 'Ada')")
}

func TestCompileBackwardDirection(t *testing.T) {
	// (a)<-[:FOLLOWS]-(b) traverses the edge table backwards: the
	// pattern source joins the to-side.
	out, err := Compile("MATCH (a:User)<-[r:FOLLOWS]-(b:User) RETURN a.name", socialView(), nil, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "JOIN follows AS r ON r.followee_id = a.id")
	assert.Contains(t, out.SQL, "JOIN users AS b ON r.follower_id = b.id")
}

func TestCompileTypeDiscriminator(t *testing.T) {
	out, err := Compile("MATCH (a:User)-[l:LINKS]->(b:User) RETURN type(l)",
		tenantedView(), nil, Options{ViewArgs: map[string]string{"tenant": "acme"}})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "l.kind = 'LINKS'")
	// type() on a polymorphic edge reads the discriminator column.
	assert.Contains(t, out.SQL, "SELECT l.kind AS col_1")
}

func TestCompileUndirectedVarLength(t *testing.T) {
	out, err := Compile("MATCH (a:User)-[:FOLLOWS*1..3]-(b:User) RETURN b.name", socialView(), nil, Options{})
	require.NoError(t, err)

	assert.Contains(t, out.SQL, "WITH RECURSIVE")
	// Both edge orientations feed the walk; duplicates from revisiting
	// the same pair are collapsed before the hop-range filter.
	assert.Contains(t, out.SQL, "e.follower_id = p.end_id")
	assert.Contains(t, out.SQL, "e.followee_id = p.end_id")
	assert.Contains(t, out.SQL, "SELECT DISTINCT start_id")
	assert.Contains(t, out.SQL, "NOT has(p.path_edges")
	assert.Contains(t, out.SQL, "hop_count >= 1 AND hop_count <= 3")
}

func TestCompileVarLengthEndpointOrientation(t *testing.T) {
	out, err := Compile("MATCH (a:User)-[:WROTE*1..2]-(n:Post) RETURN n.title", socialView(), nil, Options{})
	require.NoError(t, err)

	// WROTE only connects User to Post, so the undirected walk keeps
	// the forward orientation alone: no branch seeds from post ids and
	// no dedup wrapper is needed.
	assert.Contains(t, out.SQL, "e.user_id AS start_id")
	assert.NotContains(t, out.SQL, "e.post_id AS start_id")
	assert.NotContains(t, out.SQL, "ON e.post_id = p.end_id")
	assert.NotContains(t, out.SQL, "SELECT DISTINCT start_id")
}

func TestCompileImportedAliasKeepsLabel(t *testing.T) {
	out, err := Compile(
		"MATCH (a:User) WITH a MATCH (a:User)-[:WROTE]->(p:Post) RETURN p.title",
		socialView(), nil, Options{})
	require.NoError(t, err)

	// Restating the label an alias carried into WITH is a no-op.
	assert.Contains(t, out.SQL, "with_a AS (")
	assert.Contains(t, out.SQL, "posts")
}

func TestCompileOptionalWhereJoinsOnMatch(t *testing.T) {
	out, err := Compile(
		"MATCH (a:User) OPTIONAL MATCH (a)-[w:WROTE]->(p:Post) WHERE p.title = 'x' RETURN a.name, p.title",
		socialView(), nil, Options{})
	require.NoError(t, err)

	// The predicate constrains the optional match, not its result
	// rows: it belongs in the LEFT JOIN's ON clause, so users without
	// a matching post still appear with NULL columns.
	assert.Contains(t, out.SQL, "LEFT JOIN posts AS p ON w.post_id = p.post_id AND (p.title = 'x')")
	assert.NotContains(t, out.SQL, "\nWHERE")
}

func TestCompileChainedBoundaries(t *testing.T) {
	out, err := Compile(
		"MATCH (a:User)-[:FOLLOWS]->(b:User) WHERE a.age > 1 WITH b, count(a) AS fans MATCH (b)-[:FOLLOWS]->(c:User) WITH c, fans, count(b) AS reach MATCH (c)-[w:WROTE]->(p:Post) RETURN p.title, reach",
		socialView(), nil, Options{})
	require.NoError(t, err)

	assert.Contains(t, out.SQL, "with_b_fans AS (")
	assert.Contains(t, out.SQL, "with_c_fans_reach AS (")
	// The age filter compiles exactly once, inside the first boundary.
	assert.Equal(t, 1, strings.Count(out.SQL, "a.age"))
	assert.Less(t, strings.Index(out.SQL, "a.age"), strings.Index(out.SQL, "with_c_fans_reach AS ("))
}

func TestCompileUndirectedStaysInsideBoundary(t *testing.T) {
	out, err := Compile(
		"MATCH (a:User)-[r:FOLLOWS]-(b:User) WITH b, count(a) AS fans MATCH (b)-[w:WROTE]->(p:Post) RETURN p.title, fans",
		socialView(), nil, Options{})
	require.NoError(t, err)

	// The direction union lives inside the boundary CTE; the query
	// after the CTE block must not see a bare union fragment.
	idx := strings.LastIndex(out.SQL, "\n)\n")
	require.Greater(t, idx, 0)
	assert.Contains(t, out.SQL[:idx], "UNION DISTINCT")
	assert.NotContains(t, out.SQL[idx:], "UNION")
}

func TestPlanAndExplain(t *testing.T) {
	plan, err := Plan("MATCH (a:User)-[r:FOLLOWS]-(b:User) RETURN a.name", socialView(), nil, Options{})
	require.NoError(t, err)

	out := Explain(plan)
	assert.Contains(t, out, "Project [a.name]")
	assert.Contains(t, out, "Union DISTINCT")
	assert.Contains(t, out, "Scan users AS a")
	assert.Contains(t, out, "EdgeScan follows AS r")
}
