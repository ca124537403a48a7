package compiler

import (
	"fmt"
	"strings"

	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// pathSegment finalizes every variable-length path in a segment
// branch: hop bounds are validated and clamped, schemas and their
// traversal directions are filtered against the endpoint labels, the
// start anchor is resolved so the
// zero-hop base has a concrete row source, and the path is assigned
// the CTE name later emitted by the renderer.
func (ctx *passContext) pathSegment(n Node) (Node, error) {
	for _, p := range collectPaths(n) {
		if err := ctx.finalizePath(n, p); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (ctx *passContext) finalizePath(segment Node, p *VariableLengthPath) error {
	if p.MinHops < 0 {
		return planningErrf("MATCH", "variable-length path %s has negative minimum hop count", p.RelAlias)
	}
	if p.MaxHops == -1 {
		p.MaxHops = ctx.maxDepth
	}
	if p.MinHops > p.MaxHops {
		return planningErrf("MATCH", "variable-length path %s has min hops %d above max hops %d",
			p.RelAlias, p.MinHops, p.MaxHops)
	}

	startLabel := endpointLabel(segment, p.StartAlias)
	endLabel := endpointLabel(segment, p.EndAlias)
	var kept []*catalog.EdgeSchema
	var dirs [][]cypher.Direction
	for _, schema := range p.schemas {
		d := compatibleDirections(schema, p.Direction, startLabel, endLabel)
		if len(d) == 0 {
			continue
		}
		kept = append(kept, schema)
		dirs = append(dirs, d)
	}
	if len(kept) == 0 {
		return analyzerErrf(strings.Join(p.Types, "|"),
			"no mapping of the relationship connects %s to %s", displayLabel(startLabel), displayLabel(endLabel))
	}
	p.schemas = kept
	p.dirs = dirs

	if err := resolvePathStart(segment, p); err != nil {
		return err
	}

	p.cteName = fmt.Sprintf("path_%d", ctx.pathSeq)
	ctx.pathSeq++
	return nil
}

// resolvePathStart locates the row source anchoring the path's start
// alias: either a node scan in the same segment or an export of the
// segment's base WITH boundary.
func resolvePathStart(segment Node, p *VariableLengthPath) error {
	var scan *Scan
	walkScans(segment, func(s *Scan) {
		if s.Alias == p.StartAlias {
			scan = s
		}
	})
	if scan != nil {
		schema := scan.NodeSchema()
		if schema == nil {
			return renderErrf(p.StartAlias, "path start alias is not resolved to a single node schema")
		}
		p.startSchema = schema
		return nil
	}

	boundary := baseBoundary(segment)
	if boundary != nil {
		for _, exp := range boundary.Exported {
			if exp.Name == p.StartAlias && exp.Kind == KindNode {
				p.startBoundary = boundary
				p.startExport = exp
				return nil
			}
		}
	}
	return renderErrf(p.StartAlias, "path start alias has no row source in scope")
}

// baseBoundary returns the WITH boundary a segment was built on top
// of, if any. The builder keeps it as the leftmost leaf.
func baseBoundary(n Node) *WithClause {
	switch t := n.(type) {
	case *WithClause:
		return t
	case *Join:
		return baseBoundary(t.Left)
	case *Filter:
		return baseBoundary(t.Input)
	}
	return nil
}

// pathNeedsDedup reports whether any edge table is walked in both
// orientations. Forward and backward traversals of one table can reach
// the same endpoint pair at the same hop count, so the wrapper must
// deduplicate.
func pathNeedsDedup(p *VariableLengthPath) bool {
	for _, dirs := range p.dirs {
		if len(dirs) > 1 {
			return true
		}
	}
	return false
}
