package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bifrost/pkg/cypher"
)

func TestCompileAnalyzerErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		identifier string
	}{
		{
			name:       "unknown label",
			query:      "MATCH (g:Ghost) RETURN g.name",
			identifier: "Ghost",
		},
		{
			name:       "unknown relationship type",
			query:      "MATCH (a:User)-[:MENTIONS]->(b:User) RETURN a.name",
			identifier: "MENTIONS",
		},
		{
			name:       "unmapped property",
			query:      "MATCH (a:User) RETURN a.nope",
			identifier: "a.nope",
		},
		{
			name:       "missing parameter",
			query:      "MATCH (a:User) WHERE a.age > $min RETURN a.name",
			identifier: "$min",
		},
		{
			name:       "unknown alias",
			query:      "MATCH (a:User) RETURN z.name",
			identifier: "z",
		},
		{
			name:       "incompatible endpoints",
			query:      "MATCH (p:Post)-[:FOLLOWS]->(u:User) RETURN u.name",
			identifier: "FOLLOWS",
		},
		{
			name:       "variable-length alias projected",
			query:      "MATCH (a:User)-[r:FOLLOWS*1..2]->(b:User) RETURN r",
			identifier: "r",
		},
		{
			name:       "conflicting labels",
			query:      "MATCH (a:User) MATCH (a:Post) RETURN a.name",
			identifier: "a",
		},
		{
			name:       "conflicting label across WITH",
			query:      "MATCH (a:User) WITH a MATCH (a:Post) RETURN a.name",
			identifier: "a",
		},
		{
			name:       "incompatible variable-length endpoints",
			query:      "MATCH (p:Post)-[:WROTE*1..2]->(u:User) RETURN u.name",
			identifier: "WROTE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.query, socialView(), nil, Options{})
			require.Error(t, err)
			var aerr *AnalyzerError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, tt.identifier, aerr.Identifier)
		})
	}
}

func TestCompilePlanningErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		clause string
		msg    string
	}{
		{
			name:   "inverted hop range",
			query:  "MATCH (a:User)-[:FOLLOWS*3..2]->(b:User) RETURN b.name",
			clause: "MATCH",
			msg:    "min hops 3 above max hops 2",
		},
		{
			name:   "unaliased WITH expression",
			query:  "MATCH (a:User) WITH a.name MATCH (b:User) RETURN b.name",
			clause: "WITH",
			msg:    "must be aliased",
		},
		{
			name:   "duplicate boundary name",
			query:  "MATCH (a:User) WITH a.name AS x, a.age AS x RETURN x",
			clause: "WITH",
			msg:    "duplicate name",
		},
		{
			name:   "relationship alias rebound",
			query:  "MATCH (a:User)-[r:FOLLOWS]->(b:User)-[r:FOLLOWS]->(c:User) RETURN a.name",
			clause: "MATCH",
			msg:    "already bound",
		},
		{
			name:   "property map on variable-length relationship",
			query:  "MATCH (a:User)-[r:FOLLOWS*1..2 {at: 1}]->(b:User) RETURN b.name",
			clause: "MATCH",
			msg:    "property map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.query, socialView(), nil, Options{})
			require.Error(t, err)
			var perr *PlanningError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.clause, perr.Clause)
			assert.Contains(t, perr.Msg, tt.msg)
		})
	}
}

func TestCompileMissingViewArgument(t *testing.T) {
	_, err := Compile("MATCH (a:User) RETURN a.name", tenantedView(), nil, Options{})
	require.Error(t, err)
	var aerr *AnalyzerError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "tenant", aerr.Identifier)
}

func TestCompileSyntaxErrorPropagates(t *testing.T) {
	_, err := Compile("MATCH (a:User RETURN a.name", socialView(), nil, Options{})
	require.Error(t, err)
	var serr *cypher.SyntaxError
	assert.ErrorAs(t, err, &serr)
}

func TestCompileCollectWrongArity(t *testing.T) {
	_, err := Compile("MATCH (a:User) RETURN collect() AS xs", socialView(), nil, Options{})
	require.Error(t, err)
	var rerr *RenderError
	assert.ErrorAs(t, err, &rerr)
}

func TestIdentityExprRequiresColumns(t *testing.T) {
	b := &binding{}
	_, err := b.identityExpr("x")
	require.Error(t, err)
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "x", rerr.Alias)
}
