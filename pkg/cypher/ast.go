// Package cypher provides openCypher parsing for Bifrost.
//
// The package turns query text into a clause AST consumed by the
// compiler. It covers the read-only subset Bifrost compiles to SQL:
// MATCH / OPTIONAL MATCH / WHERE / WITH / RETURN, graph patterns with
// labels, relationship types (including multi-type `:A|B` and
// variable-length `*min..max`), inline property maps, parameters, and
// plain comparison/boolean/arithmetic expressions.
package cypher

// Query is a parsed Cypher query: clauses in source order.
type Query struct {
	Clauses []Clause
}

// Clause is one top-level query clause.
type Clause interface {
	clauseMarker()
}

// MatchClause represents MATCH or OPTIONAL MATCH with an optional
// trailing WHERE.
type MatchClause struct {
	Parts    []PatternPart
	Optional bool
	Where    Expr
}

func (c *MatchClause) clauseMarker() {}

// WithClause represents a WITH segment boundary.
type WithClause struct {
	Items    []ReturnItem
	Distinct bool
	OrderBy  []OrderItem
	Skip     *int64
	Limit    *int64
	Where    Expr
}

func (c *WithClause) clauseMarker() {}

// ReturnClause is the terminal RETURN.
type ReturnClause struct {
	Items    []ReturnItem
	Distinct bool
	OrderBy  []OrderItem
	Skip     *int64
	Limit    *int64
}

func (c *ReturnClause) clauseMarker() {}

// PatternPart is one comma-separated pattern: a chain of nodes joined
// by relationships. len(Nodes) == len(Rels)+1 always holds.
type PatternPart struct {
	Nodes []NodePattern
	Rels  []RelPattern
}

// NodePattern is a node in a pattern, e.g. (a:User {name: 'x'}).
type NodePattern struct {
	Alias      string
	Labels     []string
	Properties []PropertyValue
}

// RelPattern is a relationship in a pattern, e.g. -[r:KNOWS*1..3]->.
type RelPattern struct {
	Alias      string
	Types      []string
	Direction  Direction
	Properties []PropertyValue
	VarLength  bool
	// MinHops/MaxHops are set for variable-length patterns.
	// MaxHops == -1 means unbounded (`*2..`).
	MinHops int
	MaxHops int
}

// PropertyValue is one entry of an inline property map, in source order.
type PropertyValue struct {
	Key   string
	Value Expr
}

// Direction of a relationship pattern.
type Direction int

const (
	// DirEither is an undirected pattern: (a)-[r]-(b).
	DirEither Direction = iota
	// DirForward points left to right: (a)-[r]->(b).
	DirForward
	// DirBackward points right to left: (a)<-[r]-(b).
	DirBackward
)

// String returns the direction name used in errors and plan dumps.
func (d Direction) String() string {
	switch d {
	case DirForward:
		return "forward"
	case DirBackward:
		return "backward"
	default:
		return "either"
	}
}

// ReturnItem is one projected item of WITH or RETURN.
type ReturnItem struct {
	Expr  Expr
	Alias string
	// Text is the item's source text, kept verbatim for the output
	// column manifest.
	Text string
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr       Expr
	Descending bool
}

// Expr is a Cypher expression.
type Expr interface {
	exprMarker()
}

// AliasRef is a bare alias reference, e.g. `a`.
type AliasRef struct {
	Name string
}

func (e *AliasRef) exprMarker() {}

// PropertyRef is a property access, e.g. `a.name`.
type PropertyRef struct {
	Alias    string
	Property string
}

func (e *PropertyRef) exprMarker() {}

// Literal is a constant value: string, int64, float64, bool, or nil.
type Literal struct {
	Value any
}

func (e *Literal) exprMarker() {}

// Parameter is a query parameter reference, e.g. `$since`.
type Parameter struct {
	Name string
}

func (e *Parameter) exprMarker() {}

// ListExpr is a list literal, e.g. [1, 2, 3].
type ListExpr struct {
	Items []Expr
}

func (e *ListExpr) exprMarker() {}

// BinaryExpr is a binary operation. Op is one of
// =, <>, <, <=, >, >=, +, -, *, /, %, AND, OR, IN,
// STARTS WITH, ENDS WITH, CONTAINS.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) exprMarker() {}

// UnaryExpr is NOT or unary minus.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (e *UnaryExpr) exprMarker() {}

// IsNullExpr is `x IS NULL` / `x IS NOT NULL`.
type IsNullExpr struct {
	Operand Expr
	Negated bool
}

func (e *IsNullExpr) exprMarker() {}

// FuncCall is a function invocation, including aggregates.
type FuncCall struct {
	Name     string
	Args     []Expr
	Distinct bool
	// Star marks count(*).
	Star bool
}

func (e *FuncCall) exprMarker() {}
