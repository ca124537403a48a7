package compiler

import (
	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// inferSegment derives join conditions for every relationship join in
// a segment branch and grounds each scan in its table: node scans get
// their table name and catalog filters, edge scans additionally get
// their type discriminator and endpoint label predicates.
//
// Join conditions keep the left side explicit (edge or path columns)
// and name the right side by alias; the renderer resolves the right
// side to the node's identity columns, using tuple comparison when the
// arities differ.
func (ctx *passContext) inferSegment(n Node) (Node, error) {
	var inferErr error
	var walk func(Node)
	walk = func(node Node) {
		if inferErr != nil {
			return
		}
		switch t := node.(type) {
		case *Join:
			walk(t.Left)
			walk(t.Right)
			if t.rel != nil {
				inferErr = ctx.inferJoin(n, t)
			}
		case *Filter:
			walk(t.Input)
		}
	}
	walk(n)
	if inferErr != nil {
		return nil, inferErr
	}

	if err := ctx.groundNodeScans(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (ctx *passContext) inferJoin(segment Node, j *Join) error {
	rel := j.rel
	switch rel.kind {
	case relEdge:
		return ctx.inferEdgeJoin(segment, j)
	case relTarget:
		schema := rel.schemas[0]
		j.On = []OnCond{{
			LeftAlias:  rel.relAlias,
			LeftCols:   endColumns(schema, rel.direction),
			RightAlias: rel.rightNode,
		}}
	case relPathStart:
		j.On = []OnCond{{
			LeftAlias:  rel.relAlias,
			LeftCols:   []string{"start_id"},
			RightAlias: rel.leftNode,
		}}
		if rel.targetBound {
			j.On = append(j.On, OnCond{
				LeftAlias:  rel.relAlias,
				LeftCols:   []string{"end_id"},
				RightAlias: rel.rightNode,
			})
		}
	case relPathEnd:
		j.On = []OnCond{{
			LeftAlias:  rel.relAlias,
			LeftCols:   []string{"end_id"},
			RightAlias: rel.rightNode,
		}}
	}
	return nil
}

func (ctx *passContext) inferEdgeJoin(segment Node, j *Join) error {
	rel := j.rel
	schema := rel.schemas[0]

	leftLabel := endpointLabel(segment, rel.leftNode)
	rightLabel := endpointLabel(segment, rel.rightNode)
	if len(compatibleDirections(schema, rel.direction, leftLabel, rightLabel)) == 0 {
		return analyzerErrf(schema.Type,
			"relationship does not connect %s to %s", displayLabel(leftLabel), displayLabel(rightLabel))
	}

	scan, ok := j.Right.(*Scan)
	if !ok {
		return renderErrf(rel.relAlias, "relationship join has no edge scan")
	}
	scan.Table = schema.Table
	scan.edge = schema

	j.On = []OnCond{{
		LeftAlias:  rel.relAlias,
		LeftCols:   startColumns(schema, rel.direction),
		RightAlias: rel.leftNode,
	}}
	if rel.targetBound {
		j.On = append(j.On, OnCond{
			LeftAlias:  rel.relAlias,
			LeftCols:   endColumns(schema, rel.direction),
			RightAlias: rel.rightNode,
		})
	}

	scan.Filters = append(scan.Filters, edgeRowFilters(rel.relAlias, schema)...)
	extra, err := ctx.catalogFilters(rel.relAlias, schema.Filters)
	if err != nil {
		return err
	}
	scan.Filters = append(scan.Filters, extra...)
	return nil
}

// startColumns are the edge columns joined to the traversal's source
// node, endColumns to its target. Backward traversal swaps them.
func startColumns(schema *catalog.EdgeSchema, dir cypher.Direction) []string {
	if dir == cypher.DirBackward {
		return schema.ToColumns
	}
	return schema.FromColumns
}

func endColumns(schema *catalog.EdgeSchema, dir cypher.Direction) []string {
	if dir == cypher.DirBackward {
		return schema.FromColumns
	}
	return schema.ToColumns
}

// edgeRowFilters renders the stored-row predicates a polymorphic edge
// table needs: the type discriminator and the endpoint label columns.
// These constrain the row itself, so traversal direction is
// irrelevant.
func edgeRowFilters(alias string, schema *catalog.EdgeSchema) []RawSQL {
	var filters []RawSQL
	if schema.TypeColumn != "" {
		filters = append(filters, RawSQL{Text: alias + "." + schema.TypeColumn + " = " + quoteString(schema.Type)})
	}
	if schema.FromLabelColumn != "" && schema.FromLabel != "" {
		filters = append(filters, RawSQL{Text: alias + "." + schema.FromLabelColumn + " = " + quoteString(schema.FromLabel)})
	}
	if schema.ToLabelColumn != "" && schema.ToLabel != "" {
		filters = append(filters, RawSQL{Text: alias + "." + schema.ToLabelColumn + " = " + quoteString(schema.ToLabel)})
	}
	return filters
}

func (ctx *passContext) catalogFilters(alias string, fragments []string) ([]RawSQL, error) {
	var filters []RawSQL
	for _, fragment := range fragments {
		sql, err := catalog.SubstituteFilter(fragment, alias, ctx.viewArgs)
		if err != nil {
			if missing, ok := err.(*catalog.MissingArgumentError); ok {
				return nil, analyzerErrf(missing.Name, "view argument required by catalog filter was not supplied")
			}
			return nil, err
		}
		filters = append(filters, RawSQL{Text: sql})
	}
	return filters, nil
}

func (ctx *passContext) groundNodeScans(n Node) error {
	var groundErr error
	walkScans(n, func(s *Scan) {
		if groundErr != nil || s.edge != nil {
			return
		}
		schema := s.NodeSchema()
		if schema == nil {
			groundErr = renderErrf(s.Alias, "alias is not resolved to a single node schema")
			return
		}
		s.Table = schema.Table
		extra, err := ctx.catalogFilters(s.Alias, schema.Filters)
		if err != nil {
			groundErr = err
			return
		}
		s.Filters = append(s.Filters, extra...)
	})
	return groundErr
}

// chainSegment is the final per-branch normalization: it checks that
// every relationship join carries derived conditions, so the renderer
// only ever sees cross joins or fully keyed joins.
func (ctx *passContext) chainSegment(n Node) (Node, error) {
	var chainErr error
	var walk func(Node)
	walk = func(node Node) {
		if chainErr != nil {
			return
		}
		switch t := node.(type) {
		case *Join:
			walk(t.Left)
			walk(t.Right)
			if t.rel != nil && len(t.On) == 0 {
				chainErr = renderErrf(t.rel.relAlias, "relationship join has no derived conditions")
			}
		case *Filter:
			walk(t.Input)
		}
	}
	walk(n)
	if chainErr != nil {
		return nil, chainErr
	}
	return n, nil
}

// flattenUnions collapses nested unions with matching deduplication
// into a single union so rendering stays flat and deterministic.
func flattenUnions(n Node) Node {
	u, ok := n.(*Union)
	if !ok {
		return n
	}
	var branches []Node
	for _, br := range u.Branches {
		br = flattenUnions(br)
		if inner, ok := br.(*Union); ok && inner.Dedup == u.Dedup {
			branches = append(branches, inner.Branches...)
			continue
		}
		branches = append(branches, br)
	}
	return &Union{Branches: branches, Dedup: u.Dedup}
}
