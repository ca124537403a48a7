// Package compiler turns a parsed Cypher pattern plus a catalog view
// into SQL text for a columnar store.
//
// The pipeline is: logical plan construction (builder.go), an ordered
// set of analyzer passes (passes.go and friends), and bottom-up SQL
// emission (render.go). The plan is a closed variant set; every pass
// rebuilds the tree functionally rather than mutating nodes in place,
// and WITH boundaries are transformed as standalone sub-compiles so
// their internal shape never leaks downstream.
package compiler

import (
	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// Node is one plan tree node. The variant set is closed: every
// analyzer pass dispatches over it explicitly.
type Node interface {
	planNode()
}

// JoinKind distinguishes inner joins from the left outer joins that
// OPTIONAL MATCH aliases require.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// String returns the SQL keyword for the join kind.
func (k JoinKind) String() string {
	if k == JoinLeft {
		return "LEFT JOIN"
	}
	return "JOIN"
}

// RawSQL is a literal SQL fragment, the escape hatch carrying
// catalog-provided filter text and compiler-generated discriminator
// predicates.
type RawSQL struct {
	Text string
}

func (*RawSQL) planNode() {}

// Scan reads one catalog-mapped table under a pattern alias.
type Scan struct {
	Table string
	Alias string
	// Filters are static predicates ANDed into every use of the scan:
	// catalog filter fragments, discriminator checks, and pushed-down
	// single-alias predicates.
	Filters []RawSQL
	// Optional marks aliases introduced by OPTIONAL MATCH; joins
	// against them must be left outer joins and predicates must not be
	// pushed past them.
	Optional bool

	labels []string
	nodes  []*catalog.NodeSchema
	edge   *catalog.EdgeSchema
}

func (*Scan) planNode() {}

// NodeSchema returns the resolved node mapping, or nil while the scan
// is unresolved or still has several candidates.
func (s *Scan) NodeSchema() *catalog.NodeSchema {
	if len(s.nodes) == 1 {
		return s.nodes[0]
	}
	return nil
}

// EdgeSchema returns the edge mapping when the scan reads an edge table.
func (s *Scan) EdgeSchema() *catalog.EdgeSchema { return s.edge }

// OnCond is one join condition. The left side names explicit columns
// on LeftAlias (an edge table or path relation); the right side is the
// identity of a node alias, resolved by the renderer to whatever
// columns carry that alias at the join site. When the arities differ
// by one side being a single column, the wider side is compared as a
// tuple.
type OnCond struct {
	LeftAlias string
	LeftCols  []string
	// RightAlias's identity columns are the comparison target.
	RightAlias string
}

// Join combines two relations. Left outer kind is set precisely for
// aliases flagged optional by the builder. An empty On list renders as
// a cross join.
type Join struct {
	Left  Node
	Right Node
	Kind  JoinKind
	On    []OnCond

	rel *relJoin
}

func (*Join) planNode() {}

// relJoinKind says which half of a pattern hop a join implements.
type relJoinKind int

const (
	// relEdge joins the edge table to the hop's source node.
	relEdge relJoinKind = iota
	// relTarget joins the hop's target node table to the edge table.
	relTarget
	// relPathStart joins a variable-length path relation to the hop's
	// source node.
	relPathStart
	// relPathEnd joins the hop's target node table to a path relation.
	relPathEnd
)

// relJoin carries the pattern-hop metadata join inference needs to
// materialize concrete On conditions.
type relJoin struct {
	relAlias  string
	kind      relJoinKind
	direction cypher.Direction
	types     []string
	schemas   []*catalog.EdgeSchema
	// leftNode/rightNode are the hop's source and target aliases in
	// pattern order (independent of direction).
	leftNode  string
	rightNode string
	// targetBound means the target alias was already in scope, so the
	// edge join carries both endpoint conditions and no target join
	// exists.
	targetBound bool
}

// Filter applies a row predicate over its input. Optional marks a
// predicate written on an OPTIONAL MATCH, which belongs to the
// matching itself rather than the produced rows.
type Filter struct {
	Input     Node
	Predicate cypher.Expr
	Optional  bool
}

func (*Filter) planNode() {}

// Item is one projected item of a boundary or the final RETURN.
type Item struct {
	Expr  cypher.Expr
	Alias string
	// Text is the item's source text, used verbatim in the manifest.
	Text string
}

// OrderKey is one ORDER BY key over projected items.
type OrderKey struct {
	Expr cypher.Expr
	Desc bool
}

// AliasKind classifies what an exported alias denotes.
type AliasKind int

const (
	KindNode AliasKind = iota
	KindRel
	KindValue
)

// Export describes one alias a WITH boundary makes visible downstream.
// Exported aliases are the only legal source of names below the
// boundary.
type Export struct {
	Name string
	Kind AliasKind
	// Labels/Types carry the source alias constraints across the
	// boundary so a downstream pattern cannot silently re-constrain an
	// imported alias.
	Labels []string
	Types  []string
	// Node/Edge carry the schema for node and relationship aliases so
	// downstream segments can resolve properties and identities.
	Node     *catalog.NodeSchema
	Edge     *catalog.EdgeSchema
	Optional bool
}

// WithClause is a materialization boundary for one WITH segment. Its
// input is compiled standalone; downstream only ever sees the boundary
// and its exported aliases.
type WithClause struct {
	Input    Node
	Items    []Item
	Distinct bool
	OrderBy  []OrderKey
	Skip     *int64
	Limit    *int64
	Where    cypher.Expr
	Exported []*Export
}

func (*WithClause) planNode() {}

// Projection is the terminal RETURN shaping of output columns.
type Projection struct {
	Input    Node
	Items    []Item
	Distinct bool
}

func (*Projection) planNode() {}

// Aggregate groups its input. Constructed by the group-by pass when a
// boundary's items contain aggregate functions.
type Aggregate struct {
	Input      Node
	GroupKeys  []Item
	Aggregates []Item
}

func (*Aggregate) planNode() {}

// OrderBy, Limit, and Skip shape the final result set.
type OrderBy struct {
	Input Node
	Keys  []OrderKey
}

func (*OrderBy) planNode() {}

// Limit caps the result row count.
type Limit struct {
	Input Node
	N     int64
}

func (*Limit) planNode() {}

// Skip drops leading result rows.
type Skip struct {
	Input Node
	N     int64
}

func (*Skip) planNode() {}

// Union combines branch relations. Dedup selects a deduplicating
// union; it is set for bidirectional expansion and cleared for
// multi-type and multi-mapping splits, whose branches are distinct
// matches by construction.
type Union struct {
	Branches []Node
	Dedup    bool
}

func (*Union) planNode() {}

// VariableLengthPath is a `*min..max` pattern prior to rendering as a
// recursive relation. It behaves as a relation with columns start_id,
// end_id, hop_count, path_edges, and path_nodes, joined into the
// segment like a scan.
type VariableLengthPath struct {
	RelAlias   string
	Types      []string
	Direction  cypher.Direction
	MinHops    int
	MaxHops    int // -1 until the path pass clamps unbounded ranges
	StartAlias string
	EndAlias   string

	schemas []*catalog.EdgeSchema
	// dirs holds, per surviving schema, the traversal orientations
	// compatible with the endpoint labels. Parallel to schemas; set by
	// the path pass.
	dirs        [][]cypher.Direction
	startSchema *catalog.NodeSchema
	// startBoundary is set instead of startSchema when the start alias
	// is imported from a WITH boundary; the zero-hop base scans the
	// boundary's relation.
	startBoundary *WithClause
	startExport   *Export
	cteName       string
}

func (*VariableLengthPath) planNode() {}

// cloneNode deep-copies a segment subtree. WithClause leaves are
// shared, not copied: a boundary is materialized once by name and
// referenced from every union branch (the per-compile CTE registry
// unifies uses by name, not pointer identity).
func cloneNode(n Node) Node {
	switch t := n.(type) {
	case *Scan:
		c := *t
		c.Filters = append([]RawSQL(nil), t.Filters...)
		c.nodes = append([]*catalog.NodeSchema(nil), t.nodes...)
		return &c
	case *Join:
		c := *t
		c.Left = cloneNode(t.Left)
		c.Right = cloneNode(t.Right)
		c.On = append([]OnCond(nil), t.On...)
		if t.rel != nil {
			rc := *t.rel
			rc.schemas = append([]*catalog.EdgeSchema(nil), t.rel.schemas...)
			c.rel = &rc
		}
		return &c
	case *Filter:
		c := *t
		c.Input = cloneNode(t.Input)
		return &c
	case *Union:
		c := *t
		c.Branches = make([]Node, len(t.Branches))
		for i, b := range t.Branches {
			c.Branches[i] = cloneNode(b)
		}
		return &c
	case *VariableLengthPath:
		c := *t
		c.schemas = append([]*catalog.EdgeSchema(nil), t.schemas...)
		c.dirs = append([][]cypher.Direction(nil), t.dirs...)
		return &c
	case *WithClause:
		return t
	default:
		return n
	}
}
