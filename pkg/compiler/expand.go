package compiler

import (
	"strings"

	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// expandSegment rewrites ambiguous pattern elements into unions of
// unambiguous branches. Three kinds of ambiguity exist after
// resolution: a node alias mapped by several schemas, a relationship
// mapped by several edge schemas, and an undirected relationship. One
// ambiguity is split at a time and the resulting branches are expanded
// recursively, so the output is a union tree whose leaves each carry
// exactly one mapping and one direction per element.
//
// Direction splits deduplicate (the same row can match both ways);
// mapping splits do not, since rows from distinct tables or types are
// distinct matches.
func (ctx *passContext) expandSegment(n Node) (Node, error) {
	if scan := findMultiNodeScan(n); scan != nil {
		return ctx.splitNodeScan(n, scan)
	}
	if rel := findMultiSchemaRel(n); rel != nil {
		return ctx.splitRelSchemas(n, rel)
	}
	if rel := findUndirectedRel(n); rel != nil {
		return ctx.splitRelDirection(n, rel)
	}
	return n, nil
}

func findMultiNodeScan(n Node) *Scan {
	var found *Scan
	walkScans(n, func(s *Scan) {
		if found == nil && len(s.nodes) > 1 {
			found = s
		}
	})
	return found
}

func findMultiSchemaRel(n Node) *relJoin {
	for _, rel := range collectRelJoins(n) {
		if rel.kind == relEdge && len(rel.schemas) > 1 {
			return rel
		}
	}
	return nil
}

func findUndirectedRel(n Node) *relJoin {
	for _, rel := range collectRelJoins(n) {
		if rel.kind == relEdge && rel.direction == cypher.DirEither {
			return rel
		}
	}
	return nil
}

// splitNodeScan branches the segment once per candidate node schema.
func (ctx *passContext) splitNodeScan(n Node, scan *Scan) (Node, error) {
	branches := make([]Node, 0, len(scan.nodes))
	for _, schema := range scan.nodes {
		clone := cloneNode(n)
		walkScans(clone, func(s *Scan) {
			if s.Alias == scan.Alias {
				s.nodes = []*catalog.NodeSchema{schema}
			}
		})
		out, err := ctx.expandSegment(clone)
		if err != nil {
			return nil, err
		}
		branches = append(branches, out)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	return &Union{Branches: branches, Dedup: false}, nil
}

// splitRelSchemas branches the segment once per edge schema that is
// compatible with the pattern's endpoint labels in at least one
// permitted direction. A pattern whose endpoints rule out every
// candidate schema cannot match and is an analyzer error.
func (ctx *passContext) splitRelSchemas(n Node, rel *relJoin) (Node, error) {
	leftLabel := endpointLabel(n, rel.leftNode)
	rightLabel := endpointLabel(n, rel.rightNode)

	var kept []*catalog.EdgeSchema
	for _, schema := range rel.schemas {
		if len(compatibleDirections(schema, rel.direction, leftLabel, rightLabel)) > 0 {
			kept = append(kept, schema)
		}
	}
	if len(kept) == 0 {
		return nil, analyzerErrf(strings.Join(rel.types, "|"),
			"no mapping of the relationship connects %s to %s", displayLabel(leftLabel), displayLabel(rightLabel))
	}

	branches := make([]Node, 0, len(kept))
	for _, schema := range kept {
		clone := cloneNode(n)
		setRelSchemas(clone, rel.relAlias, []*catalog.EdgeSchema{schema})
		out, err := ctx.expandSegment(clone)
		if err != nil {
			return nil, err
		}
		branches = append(branches, out)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	return &Union{Branches: branches, Dedup: false}, nil
}

// splitRelDirection resolves an undirected single-schema relationship
// into concrete directions. A self-loop needs only one direction; both
// orders of the same endpoint pair produce identical rows. Otherwise
// each label-compatible direction becomes a deduplicated union branch.
func (ctx *passContext) splitRelDirection(n Node, rel *relJoin) (Node, error) {
	schema := rel.schemas[0]
	leftLabel := endpointLabel(n, rel.leftNode)
	rightLabel := endpointLabel(n, rel.rightNode)

	dirs := compatibleDirections(schema, cypher.DirEither, leftLabel, rightLabel)
	if len(dirs) == 0 {
		return nil, analyzerErrf(schema.Type,
			"relationship does not connect %s to %s", displayLabel(leftLabel), displayLabel(rightLabel))
	}
	if rel.leftNode == rel.rightNode {
		dirs = dirs[:1]
	}

	branches := make([]Node, 0, len(dirs))
	for _, dir := range dirs {
		clone := cloneNode(n)
		setRelDirection(clone, rel.relAlias, dir)
		out, err := ctx.expandSegment(clone)
		if err != nil {
			return nil, err
		}
		branches = append(branches, out)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	return &Union{Branches: branches, Dedup: true}, nil
}

// compatibleDirections returns the traversal directions under which an
// edge schema's declared endpoint labels agree with the pattern's
// endpoint labels. Unlabeled endpoints accept anything.
func compatibleDirections(schema *catalog.EdgeSchema, direction cypher.Direction, leftLabel, rightLabel string) []cypher.Direction {
	fits := func(want, have string) bool {
		return want == "" || have == "" || want == have
	}
	var dirs []cypher.Direction
	if direction == cypher.DirForward || direction == cypher.DirEither {
		if fits(leftLabel, schema.FromLabel) && fits(rightLabel, schema.ToLabel) {
			dirs = append(dirs, cypher.DirForward)
		}
	}
	if direction == cypher.DirBackward || direction == cypher.DirEither {
		if fits(leftLabel, schema.ToLabel) && fits(rightLabel, schema.FromLabel) {
			dirs = append(dirs, cypher.DirBackward)
		}
	}
	return dirs
}

// endpointLabel reports the single resolved label of an alias, or ""
// when the alias is still multi-candidate or imported without a node
// schema.
func endpointLabel(n Node, alias string) string {
	bindings := map[string]*aliasBinding{}
	segmentBindings(n, bindings)
	b, ok := bindings[alias]
	if !ok || len(b.nodes) != 1 {
		return ""
	}
	return b.nodes[0].Label
}

func displayLabel(label string) string {
	if label == "" {
		return "an unlabeled node"
	}
	return label
}

// setRelSchemas fixes the candidate schemas for every relJoin and
// variable-length path sharing an alias. The edge join and its target
// join carry the same relJoin data and must stay in agreement.
func setRelSchemas(n Node, relAlias string, schemas []*catalog.EdgeSchema) {
	for _, rel := range collectRelJoins(n) {
		if rel.relAlias == relAlias {
			rel.schemas = schemas
		}
	}
	for _, p := range collectPaths(n) {
		if p.RelAlias == relAlias {
			p.schemas = schemas
		}
	}
}

func setRelDirection(n Node, relAlias string, dir cypher.Direction) {
	for _, rel := range collectRelJoins(n) {
		if rel.relAlias == relAlias {
			rel.direction = dir
		}
	}
}
