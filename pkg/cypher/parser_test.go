package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleMatch(t *testing.T) {
	q, err := Parse("MATCH (a:User) RETURN a.name")
	require.NoError(t, err)
	require.Len(t, q.Clauses, 2)

	match, ok := q.Clauses[0].(*MatchClause)
	require.True(t, ok)
	assert.False(t, match.Optional)
	require.Len(t, match.Parts, 1)
	require.Len(t, match.Parts[0].Nodes, 1)
	node := match.Parts[0].Nodes[0]
	assert.Equal(t, "a", node.Alias)
	assert.Equal(t, []string{"User"}, node.Labels)

	ret, ok := q.Clauses[1].(*ReturnClause)
	require.True(t, ok)
	require.Len(t, ret.Items, 1)
	prop, ok := ret.Items[0].Expr.(*PropertyRef)
	require.True(t, ok)
	assert.Equal(t, "a", prop.Alias)
	assert.Equal(t, "name", prop.Property)
	assert.Equal(t, "a.name", ret.Items[0].Text)
}

func TestParseRelationshipDirections(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantDir Direction
	}{
		{"forward", "MATCH (a)-[r:KNOWS]->(b) RETURN r", DirForward},
		{"backward", "MATCH (a)<-[r:KNOWS]-(b) RETURN r", DirBackward},
		{"either", "MATCH (a)-[r:KNOWS]-(b) RETURN r", DirEither},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.query)
			require.NoError(t, err)
			match := q.Clauses[0].(*MatchClause)
			require.Len(t, match.Parts[0].Rels, 1)
			rel := match.Parts[0].Rels[0]
			assert.Equal(t, tt.wantDir, rel.Direction)
			assert.Equal(t, "r", rel.Alias)
			assert.Equal(t, []string{"KNOWS"}, rel.Types)
			assert.False(t, rel.VarLength)
		})
	}
}

func TestParseMultiTypeRelationship(t *testing.T) {
	q, err := Parse("MATCH (a)-[r:KNOWS|FOLLOWS]->(b) RETURN r")
	require.NoError(t, err)
	rel := q.Clauses[0].(*MatchClause).Parts[0].Rels[0]
	assert.Equal(t, []string{"KNOWS", "FOLLOWS"}, rel.Types)

	// The `:A|:B` spelling is accepted too.
	q, err = Parse("MATCH (a)-[r:KNOWS|:FOLLOWS]->(b) RETURN r")
	require.NoError(t, err)
	rel = q.Clauses[0].(*MatchClause).Parts[0].Rels[0]
	assert.Equal(t, []string{"KNOWS", "FOLLOWS"}, rel.Types)
}

func TestParseVarLengthRanges(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantMin int
		wantMax int
	}{
		{"bare star", "MATCH (a)-[r:KNOWS*]->(b) RETURN a", 1, -1},
		{"exact", "MATCH (a)-[r:KNOWS*3]->(b) RETURN a", 3, 3},
		{"open max", "MATCH (a)-[r:KNOWS*2..]->(b) RETURN a", 2, -1},
		{"open min", "MATCH (a)-[r:KNOWS*..4]->(b) RETURN a", 1, 4},
		{"full range", "MATCH (a)-[r:KNOWS*1..3]->(b) RETURN a", 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.query)
			require.NoError(t, err)
			rel := q.Clauses[0].(*MatchClause).Parts[0].Rels[0]
			require.True(t, rel.VarLength)
			assert.Equal(t, tt.wantMin, rel.MinHops)
			assert.Equal(t, tt.wantMax, rel.MaxHops)
		})
	}
}

func TestParsePatternChain(t *testing.T) {
	q, err := Parse("MATCH (a:User)-[:FOLLOWS]->(b:User)-[:FOLLOWS]->(c:User) RETURN c")
	require.NoError(t, err)
	part := q.Clauses[0].(*MatchClause).Parts[0]
	require.Len(t, part.Nodes, 3)
	require.Len(t, part.Rels, 2)
	assert.Equal(t, "b", part.Nodes[1].Alias)
	assert.Empty(t, part.Rels[0].Alias)
}

func TestParseMultiplePatternParts(t *testing.T) {
	q, err := Parse("MATCH (a:User), (b:Post) RETURN a, b")
	require.NoError(t, err)
	match := q.Clauses[0].(*MatchClause)
	require.Len(t, match.Parts, 2)
	assert.Equal(t, "a", match.Parts[0].Nodes[0].Alias)
	assert.Equal(t, "b", match.Parts[1].Nodes[0].Alias)
}

func TestParseInlineProperties(t *testing.T) {
	q, err := Parse("MATCH (a:User {name: 'Ada', active: true}) RETURN a")
	require.NoError(t, err)
	node := q.Clauses[0].(*MatchClause).Parts[0].Nodes[0]
	require.Len(t, node.Properties, 2)
	assert.Equal(t, "name", node.Properties[0].Key)
	assert.Equal(t, &Literal{Value: "Ada"}, node.Properties[0].Value)
	assert.Equal(t, "active", node.Properties[1].Key)
	assert.Equal(t, &Literal{Value: true}, node.Properties[1].Value)
}

func TestParseOptionalMatch(t *testing.T) {
	q, err := Parse("MATCH (a:User) OPTIONAL MATCH (a)-[:WROTE]->(p:Post) RETURN a, p")
	require.NoError(t, err)
	require.Len(t, q.Clauses, 3)
	assert.False(t, q.Clauses[0].(*MatchClause).Optional)
	assert.True(t, q.Clauses[1].(*MatchClause).Optional)
}

func TestParseWhereExpression(t *testing.T) {
	q, err := Parse("MATCH (a:User) WHERE a.age > 21 AND a.name STARTS WITH 'A' RETURN a")
	require.NoError(t, err)
	where := q.Clauses[0].(*MatchClause).Where
	require.NotNil(t, where)

	and, ok := where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "AND", and.Op)

	gt := and.Left.(*BinaryExpr)
	assert.Equal(t, ">", gt.Op)
	assert.Equal(t, &PropertyRef{Alias: "a", Property: "age"}, gt.Left)
	assert.Equal(t, &Literal{Value: int64(21)}, gt.Right)

	sw := and.Right.(*BinaryExpr)
	assert.Equal(t, "STARTS WITH", sw.Op)
	assert.Equal(t, &Literal{Value: "A"}, sw.Right)
}

func TestParseExpressionPrecedence(t *testing.T) {
	// OR binds looser than AND, comparison looser than arithmetic.
	q, err := Parse("MATCH (a) WHERE a.x = 1 + 2 * 3 OR a.y < 0 AND NOT a.z RETURN a")
	require.NoError(t, err)
	where := q.Clauses[0].(*MatchClause).Where

	or := where.(*BinaryExpr)
	require.Equal(t, "OR", or.Op)

	eq := or.Left.(*BinaryExpr)
	assert.Equal(t, "=", eq.Op)
	plus := eq.Right.(*BinaryExpr)
	assert.Equal(t, "+", plus.Op)
	mul := plus.Right.(*BinaryExpr)
	assert.Equal(t, "*", mul.Op)

	and := or.Right.(*BinaryExpr)
	require.Equal(t, "AND", and.Op)
	not, ok := and.Right.(*UnaryExpr)
	require.True(t, ok)
	assert.Equal(t, "NOT", not.Op)
}

func TestParseInAndIsNull(t *testing.T) {
	q, err := Parse("MATCH (a) WHERE a.kind IN ['x', 'y'] AND a.deleted_at IS NULL RETURN a")
	require.NoError(t, err)
	and := q.Clauses[0].(*MatchClause).Where.(*BinaryExpr)

	in := and.Left.(*BinaryExpr)
	assert.Equal(t, "IN", in.Op)
	list, ok := in.Right.(*ListExpr)
	require.True(t, ok)
	require.Len(t, list.Items, 2)

	isNull, ok := and.Right.(*IsNullExpr)
	require.True(t, ok)
	assert.False(t, isNull.Negated)

	q, err = Parse("MATCH (a) WHERE a.deleted_at IS NOT NULL RETURN a")
	require.NoError(t, err)
	isNull = q.Clauses[0].(*MatchClause).Where.(*IsNullExpr)
	assert.True(t, isNull.Negated)
}

func TestParseParameters(t *testing.T) {
	q, err := Parse("MATCH (a:User) WHERE a.age >= $minAge RETURN a")
	require.NoError(t, err)
	cmp := q.Clauses[0].(*MatchClause).Where.(*BinaryExpr)
	param, ok := cmp.Right.(*Parameter)
	require.True(t, ok)
	assert.Equal(t, "minAge", param.Name)
}

func TestParseFunctionCalls(t *testing.T) {
	q, err := Parse("MATCH (a) RETURN count(*) AS total, COUNT(DISTINCT a) AS uniq, collect(a.name) AS names")
	require.NoError(t, err)
	items := q.Clauses[1].(*ReturnClause).Items
	require.Len(t, items, 3)

	star := items[0].Expr.(*FuncCall)
	assert.Equal(t, "count", star.Name)
	assert.True(t, star.Star)

	uniq := items[1].Expr.(*FuncCall)
	assert.Equal(t, "count", uniq.Name)
	assert.True(t, uniq.Distinct)
	require.Len(t, uniq.Args, 1)

	names := items[2].Expr.(*FuncCall)
	assert.Equal(t, "collect", names.Name)
	assert.Equal(t, "names", items[2].Alias)
}

func TestParseWithClause(t *testing.T) {
	q, err := Parse("MATCH (a:User) WITH a, count(a) AS n ORDER BY n DESC SKIP 5 LIMIT 10 WHERE n > 2 RETURN a")
	require.NoError(t, err)
	with, ok := q.Clauses[1].(*WithClause)
	require.True(t, ok)
	require.Len(t, with.Items, 2)
	assert.Equal(t, "n", with.Items[1].Alias)

	require.Len(t, with.OrderBy, 1)
	assert.True(t, with.OrderBy[0].Descending)
	require.NotNil(t, with.Skip)
	assert.Equal(t, int64(5), *with.Skip)
	require.NotNil(t, with.Limit)
	assert.Equal(t, int64(10), *with.Limit)
	require.NotNil(t, with.Where)
}

func TestParseReturnModifiers(t *testing.T) {
	q, err := Parse("MATCH (a) RETURN DISTINCT a.name ORDER BY a.name ASC LIMIT 3")
	require.NoError(t, err)
	ret := q.Clauses[1].(*ReturnClause)
	assert.True(t, ret.Distinct)
	require.Len(t, ret.OrderBy, 1)
	assert.False(t, ret.OrderBy[0].Descending)
	require.NotNil(t, ret.Limit)
	assert.Equal(t, int64(3), *ret.Limit)
	assert.Nil(t, ret.Skip)
}

func TestParseSyntaxErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"no return", "MATCH (a:User)"},
		{"unclosed node", "MATCH (a:User RETURN a"},
		{"dangling relationship", "MATCH (a)-[r:KNOWS] RETURN a"},
		{"trailing input", "MATCH (a) RETURN a MATCH (b) RETURN b"},
		{"bad start", "CREATE (a) RETURN a"},
		{"missing alias after AS", "MATCH (a) RETURN a AS 1"},
		{"limit needs integer", "MATCH (a) RETURN a LIMIT x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.query)
			require.Error(t, err)
			var synErr *SyntaxError
			require.ErrorAs(t, err, &synErr)
			assert.NotEmpty(t, synErr.Msg)
			assert.Greater(t, synErr.Pos.Line, 0)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("MATCH (a)\nRETRN a")
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
	assert.Equal(t, 2, synErr.Pos.Line)
	assert.Equal(t, 1, synErr.Pos.Column)
	assert.Equal(t, "RETRN", synErr.Token)
}

func TestParseCommentsAndQuotedIdentifiers(t *testing.T) {
	q, err := Parse("MATCH (a:`Weird Label`) // trailing comment\nRETURN a")
	require.NoError(t, err)
	node := q.Clauses[0].(*MatchClause).Parts[0].Nodes[0]
	assert.Equal(t, []string{"Weird Label"}, node.Labels)
}

func TestParseItemTextPreserved(t *testing.T) {
	q, err := Parse("MATCH (a:User) RETURN a.age + 1 AS next, a")
	require.NoError(t, err)
	items := q.Clauses[1].(*ReturnClause).Items
	assert.Equal(t, "a.age + 1", items[0].Text)
	assert.Equal(t, "a", items[1].Text)
}
