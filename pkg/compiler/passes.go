package compiler

import (
	"strings"

	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// passContext carries the per-compile state shared by analyzer passes:
// the immutable catalog snapshot view, compile-time arguments, and
// counters for generated names.
type passContext struct {
	view     *catalog.View
	params   map[string]any
	viewArgs map[string]string
	maxDepth int
	pathSeq  int
}

// analyze runs the full pass pipeline over a built plan. The top of
// the tree is the RETURN projection plus its optional ORDER BY / SKIP /
// LIMIT wrappers; everything below is segment trees separated by WITH
// boundaries, each transformed as a standalone sub-compile.
func analyze(root Node, ctx *passContext) (Node, error) {
	switch t := root.(type) {
	case *Limit:
		in, err := analyze(t.Input, ctx)
		if err != nil {
			return nil, err
		}
		return &Limit{Input: in, N: t.N}, nil
	case *Skip:
		in, err := analyze(t.Input, ctx)
		if err != nil {
			return nil, err
		}
		return &Skip{Input: in, N: t.N}, nil
	case *OrderBy:
		in, err := analyze(t.Input, ctx)
		if err != nil {
			return nil, err
		}
		return &OrderBy{Input: in, Keys: t.Keys}, nil
	case *Projection:
		input, err := ctx.transformSegment(t.Input)
		if err != nil {
			return nil, err
		}
		if err := ctx.checkExprProperties(input, itemExprs(t.Items, nil, nil)); err != nil {
			return nil, err
		}
		input = buildAggregate(input, t.Items)
		return &Projection{Input: input, Items: t.Items, Distinct: t.Distinct}, nil
	default:
		return nil, planningErrf("query", "unexpected plan root %T", root)
	}
}

// transformSegment applies the segment passes in order to one
// WITH-delimited subtree: nested boundary transformation first, then
// catalog resolution, bidirectional/multi-mapping expansion,
// variable-length path compilation, filter pushdown, join inference,
// and join chaining.
func (ctx *passContext) transformSegment(n Node) (Node, error) {
	n, err := ctx.liftBoundary(n)
	if err != nil {
		return nil, err
	}
	n, err = ctx.resolveSegment(n)
	if err != nil {
		return nil, err
	}
	n, err = ctx.expandSegment(n)
	if err != nil {
		return nil, err
	}
	for _, pass := range []func(Node) (Node, error){
		ctx.pathSegment,
		ctx.pushdownSegment,
		ctx.inferSegment,
		ctx.chainSegment,
	} {
		n, err = mapBranches(n, pass)
		if err != nil {
			return nil, err
		}
	}
	return flattenUnions(n), nil
}

// liftBoundary finds the segment's base WITH boundary (always the
// leftmost leaf) and transforms it independently before the enclosing
// segment is touched.
func (ctx *passContext) liftBoundary(n Node) (Node, error) {
	switch t := n.(type) {
	case *WithClause:
		return ctx.transformBoundary(t)
	case *Join:
		left, err := ctx.liftBoundary(t.Left)
		if err != nil {
			return nil, err
		}
		c := *t
		c.Left = left
		return &c, nil
	case *Filter:
		in, err := ctx.liftBoundary(t.Input)
		if err != nil {
			return nil, err
		}
		c := *t
		c.Input = in
		return &c, nil
	default:
		return n, nil
	}
}

// transformBoundary compiles a WITH boundary's input as a standalone
// sub-query and reconstructs the boundary with the transformed input
// and its original items, modifiers, and exported aliases. Downstream
// passes never see the input's internal shape, only the boundary.
func (ctx *passContext) transformBoundary(w *WithClause) (*WithClause, error) {
	input, err := ctx.transformSegment(w.Input)
	if err != nil {
		return nil, err
	}

	exports := make([]*Export, len(w.Exported))
	for i, exp := range w.Exported {
		e := *exp
		if e.Kind == KindNode || e.Kind == KindRel {
			src := exportSourceAlias(w.Items[i])
			node, edge := lookupAliasSchemas(input, src)
			e.Node, e.Edge = node, edge
			if e.Kind == KindNode && e.Node == nil {
				return nil, renderErrf(e.Name, "no schema registered for exported node alias")
			}
			if e.Kind == KindRel && e.Edge == nil {
				return nil, renderErrf(e.Name, "no schema registered for exported relationship alias")
			}
		}
		exports[i] = &e
	}

	if err := ctx.checkExprProperties(input, itemExprs(w.Items, nil, nil)); err != nil {
		return nil, err
	}
	if err := ctx.checkExportProperties(exports, itemExprs(nil, w.Where, w.OrderBy)); err != nil {
		return nil, err
	}

	input = buildAggregate(input, w.Items)

	return &WithClause{
		Input:    input,
		Items:    w.Items,
		Distinct: w.Distinct,
		OrderBy:  w.OrderBy,
		Skip:     w.Skip,
		Limit:    w.Limit,
		Where:    w.Where,
		Exported: exports,
	}, nil
}

// exportSourceAlias returns the in-segment alias an exported item
// projects: the referenced alias for bare and re-bound alias items.
func exportSourceAlias(item Item) string {
	if ref, ok := item.Expr.(*cypher.AliasRef); ok {
		return ref.Name
	}
	return ""
}

// resolveSegment attaches catalog mappings: relationship types resolve
// to edge schema candidates, labeled scans to node schema candidates,
// and unlabeled scans to labels inferred from adjacent relationship
// schemas. Unresolved identifiers are fatal analyzer errors.
func (ctx *passContext) resolveSegment(n Node) (Node, error) {
	n = cloneNode(n)

	rels := collectRelJoins(n)
	paths := collectPaths(n)
	edgeAliases := map[string]bool{}

	for _, rel := range rels {
		if rel.kind == relEdge {
			edgeAliases[rel.relAlias] = true
		}
		schemas, err := ctx.resolveEdgeSchemas(rel.types)
		if err != nil {
			return nil, err
		}
		rel.schemas = schemas
	}
	for _, p := range paths {
		schemas, err := ctx.resolveEdgeSchemas(p.Types)
		if err != nil {
			return nil, err
		}
		p.schemas = schemas
	}

	var resolveErr error
	walkScans(n, func(s *Scan) {
		if resolveErr != nil || edgeAliases[s.Alias] || len(s.nodes) > 0 {
			return
		}
		resolveErr = ctx.resolveNodeScan(s, rels, paths)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}

	if err := ctx.checkExprProperties(n, collectFilterExprs(n)); err != nil {
		return nil, err
	}
	return n, nil
}

func (ctx *passContext) resolveEdgeSchemas(types []string) ([]*catalog.EdgeSchema, error) {
	if len(types) == 0 {
		// Untyped relationship: every mapped type is a candidate.
		var schemas []*catalog.EdgeSchema
		for _, typ := range ctx.view.EdgeTypes() {
			schemas = append(schemas, ctx.view.EdgeSchemas(typ)...)
		}
		if len(schemas) == 0 {
			return nil, analyzerErrf("-[]-", "view %s maps no relationship types", ctx.view.Name)
		}
		return schemas, nil
	}
	var schemas []*catalog.EdgeSchema
	for _, typ := range types {
		mapped := ctx.view.EdgeSchemas(typ)
		if len(mapped) == 0 {
			return nil, analyzerErrf(typ, "relationship type not mapped in view %s", ctx.view.Name)
		}
		schemas = append(schemas, mapped...)
	}
	return schemas, nil
}

func (ctx *passContext) resolveNodeScan(s *Scan, rels []*relJoin, paths []*VariableLengthPath) error {
	if len(s.labels) > 0 {
		schemas := ctx.view.NodeSchemas(s.labels[0])
		if len(schemas) == 0 {
			return analyzerErrf(s.labels[0], "label not mapped in view %s", ctx.view.Name)
		}
		s.nodes = schemas
		return nil
	}

	labels := adjacentLabels(s.Alias, rels, paths)
	if len(labels) == 0 {
		if all := ctx.view.NodeLabels(); len(all) == 1 {
			labels = all
		} else {
			return analyzerErrf(s.Alias, "cannot infer a label for alias; add a label to the pattern")
		}
	}
	var schemas []*catalog.NodeSchema
	seen := map[*catalog.NodeSchema]bool{}
	for _, label := range labels {
		for _, schema := range ctx.view.NodeSchemas(label) {
			if !seen[schema] {
				seen[schema] = true
				schemas = append(schemas, schema)
			}
		}
	}
	if len(schemas) == 0 {
		return analyzerErrf(s.Alias, "adjacent relationship labels are not mapped in view %s", ctx.view.Name)
	}
	s.nodes = schemas
	return nil
}

// adjacentLabels derives the labels an unlabeled alias can take from
// the declared endpoint labels of its adjacent relationship schemas,
// honoring traversal direction.
func adjacentLabels(alias string, rels []*relJoin, paths []*VariableLengthPath) []string {
	seen := map[string]bool{}
	var labels []string
	add := func(label string) {
		if label != "" && !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}

	endpoint := func(schemas []*catalog.EdgeSchema, direction cypher.Direction, isSource bool) {
		for _, schema := range schemas {
			switch direction {
			case cypher.DirForward:
				if isSource {
					add(schema.FromLabel)
				} else {
					add(schema.ToLabel)
				}
			case cypher.DirBackward:
				if isSource {
					add(schema.ToLabel)
				} else {
					add(schema.FromLabel)
				}
			default:
				add(schema.FromLabel)
				add(schema.ToLabel)
			}
		}
	}

	for _, rel := range rels {
		if rel.kind != relEdge && rel.kind != relPathStart {
			continue
		}
		if rel.leftNode == alias {
			endpoint(rel.schemas, rel.direction, true)
		}
		if rel.rightNode == alias {
			endpoint(rel.schemas, rel.direction, false)
		}
	}
	for _, p := range paths {
		if p.StartAlias == alias {
			endpoint(p.schemas, p.Direction, true)
		}
		if p.EndAlias == alias {
			endpoint(p.schemas, p.Direction, false)
		}
	}
	return labels
}

// mapBranches applies a segment pass to each union branch, or to the
// tree itself when no expansion occurred.
func mapBranches(n Node, pass func(Node) (Node, error)) (Node, error) {
	if u, ok := n.(*Union); ok {
		branches := make([]Node, len(u.Branches))
		for i, br := range u.Branches {
			out, err := mapBranches(br, pass)
			if err != nil {
				return nil, err
			}
			branches[i] = out
		}
		return &Union{Branches: branches, Dedup: u.Dedup}, nil
	}
	return pass(n)
}

// Tree walking helpers. Boundary leaves are opaque: walks stop at a
// WithClause and only observe its exports.

func walkScans(n Node, f func(*Scan)) {
	switch t := n.(type) {
	case *Scan:
		f(t)
	case *Join:
		walkScans(t.Left, f)
		walkScans(t.Right, f)
	case *Filter:
		walkScans(t.Input, f)
	case *Union:
		for _, br := range t.Branches {
			walkScans(br, f)
		}
	}
}

func collectRelJoins(n Node) []*relJoin {
	var rels []*relJoin
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case *Join:
			walk(t.Left)
			walk(t.Right)
			if t.rel != nil {
				rels = append(rels, t.rel)
			}
		case *Filter:
			walk(t.Input)
		case *Union:
			for _, br := range t.Branches {
				walk(br)
			}
		}
	}
	walk(n)
	return rels
}

func collectPaths(n Node) []*VariableLengthPath {
	var paths []*VariableLengthPath
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case *VariableLengthPath:
			paths = append(paths, t)
		case *Join:
			walk(t.Left)
			walk(t.Right)
		case *Filter:
			walk(t.Input)
		case *Union:
			for _, br := range t.Branches {
				walk(br)
			}
		}
	}
	walk(n)
	return paths
}

func collectFilterExprs(n Node) []cypher.Expr {
	var exprs []cypher.Expr
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case *Filter:
			exprs = append(exprs, t.Predicate)
			walk(t.Input)
		case *Join:
			walk(t.Left)
			walk(t.Right)
		case *Union:
			for _, br := range t.Branches {
				walk(br)
			}
		}
	}
	walk(n)
	return exprs
}

// aliasBinding is the property-resolution view of one alias during
// analysis: every candidate schema must carry a referenced property.
type aliasBinding struct {
	nodes     []*catalog.NodeSchema
	edges     []*catalog.EdgeSchema
	varLength bool
	value     bool
}

// segmentBindings maps every alias visible in a segment tree to its
// candidate schemas. For union-expanded segments the first branch is
// representative: branches differ in mapping, not in alias names.
func segmentBindings(n Node, out map[string]*aliasBinding) {
	switch t := n.(type) {
	case *Scan:
		if t.edge != nil {
			out[t.Alias] = &aliasBinding{edges: []*catalog.EdgeSchema{t.edge}}
		} else {
			out[t.Alias] = &aliasBinding{nodes: t.nodes}
		}
	case *Join:
		segmentBindings(t.Left, out)
		segmentBindings(t.Right, out)
		if t.rel != nil && t.rel.kind == relEdge {
			if scan, ok := t.Right.(*Scan); ok && scan.edge == nil {
				out[scan.Alias] = &aliasBinding{edges: t.rel.schemas}
			}
		}
	case *Filter:
		segmentBindings(t.Input, out)
	case *Union:
		if len(t.Branches) > 0 {
			segmentBindings(t.Branches[0], out)
		}
	case *VariableLengthPath:
		out[t.RelAlias] = &aliasBinding{varLength: true}
	case *WithClause:
		for _, exp := range t.Exported {
			switch exp.Kind {
			case KindNode:
				out[exp.Name] = &aliasBinding{nodes: []*catalog.NodeSchema{exp.Node}}
			case KindRel:
				out[exp.Name] = &aliasBinding{edges: []*catalog.EdgeSchema{exp.Edge}}
			default:
				out[exp.Name] = &aliasBinding{value: true}
			}
		}
	}
}

// lookupAliasSchemas resolves one alias to its representative schema
// inside a transformed segment tree.
func lookupAliasSchemas(n Node, alias string) (*catalog.NodeSchema, *catalog.EdgeSchema) {
	bindings := map[string]*aliasBinding{}
	segmentBindings(n, bindings)
	b, ok := bindings[alias]
	if !ok {
		return nil, nil
	}
	var node *catalog.NodeSchema
	var edge *catalog.EdgeSchema
	if len(b.nodes) > 0 {
		node = b.nodes[0]
	}
	if len(b.edges) > 0 {
		edge = b.edges[0]
	}
	return node, edge
}

// itemExprs gathers the expressions of items, a WHERE predicate, and
// order keys into one list for validation.
func itemExprs(items []Item, where cypher.Expr, orderBy []OrderKey) []cypher.Expr {
	var exprs []cypher.Expr
	for _, item := range items {
		exprs = append(exprs, item.Expr)
	}
	if where != nil {
		exprs = append(exprs, where)
	}
	for _, key := range orderBy {
		exprs = append(exprs, key.Expr)
	}
	return exprs
}

// checkExprProperties validates property references against the
// resolved candidate schemas of a segment tree.
func (ctx *passContext) checkExprProperties(n Node, exprs []cypher.Expr) error {
	bindings := map[string]*aliasBinding{}
	segmentBindings(n, bindings)
	for _, e := range exprs {
		if err := checkProperties(e, bindings); err != nil {
			return err
		}
	}
	return nil
}

// checkExportProperties validates boundary-level expressions (WHERE,
// ORDER BY) against the boundary's own exports.
func (ctx *passContext) checkExportProperties(exports []*Export, exprs []cypher.Expr) error {
	bindings := map[string]*aliasBinding{}
	for _, exp := range exports {
		switch exp.Kind {
		case KindNode:
			bindings[exp.Name] = &aliasBinding{nodes: []*catalog.NodeSchema{exp.Node}}
		case KindRel:
			bindings[exp.Name] = &aliasBinding{edges: []*catalog.EdgeSchema{exp.Edge}}
		default:
			bindings[exp.Name] = &aliasBinding{value: true}
		}
	}
	for _, e := range exprs {
		if err := checkProperties(e, bindings); err != nil {
			return err
		}
	}
	return nil
}

func checkProperties(e cypher.Expr, bindings map[string]*aliasBinding) error {
	switch t := e.(type) {
	case *cypher.PropertyRef:
		b, ok := bindings[t.Alias]
		if !ok {
			// Item aliases introduced in the same projection, and
			// similar names, are validated earlier by the builder.
			return nil
		}
		if b.value {
			return analyzerErrf(t.Alias+"."+t.Property, "alias %q carries a computed value, not an entity", t.Alias)
		}
		for _, schema := range b.nodes {
			if _, ok := schema.Properties[t.Property]; !ok {
				return analyzerErrf(t.Alias+"."+t.Property, "property not mapped for label %s", schema.Label)
			}
		}
		for _, schema := range b.edges {
			if _, ok := schema.Properties[t.Property]; !ok {
				return analyzerErrf(t.Alias+"."+t.Property, "property not mapped for relationship type %s", schema.Type)
			}
		}
	case *cypher.BinaryExpr:
		if err := checkProperties(t.Left, bindings); err != nil {
			return err
		}
		return checkProperties(t.Right, bindings)
	case *cypher.UnaryExpr:
		return checkProperties(t.Operand, bindings)
	case *cypher.IsNullExpr:
		return checkProperties(t.Operand, bindings)
	case *cypher.ListExpr:
		for _, item := range t.Items {
			if err := checkProperties(item, bindings); err != nil {
				return err
			}
		}
	case *cypher.FuncCall:
		// id() and type() take bare aliases, not properties.
		if len(t.Args) == 1 {
			name := strings.ToLower(t.Name)
			if name == "id" || name == "type" {
				return nil
			}
		}
		for _, arg := range t.Args {
			if err := checkProperties(arg, bindings); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildAggregate wraps a segment in an Aggregate when the projected
// items contain aggregate functions: non-aggregated items become the
// group keys.
func buildAggregate(input Node, items []Item) Node {
	var groupKeys, aggregates []Item
	for _, item := range items {
		if exprHasAggregate(item.Expr) {
			aggregates = append(aggregates, item)
		} else {
			groupKeys = append(groupKeys, item)
		}
	}
	if len(aggregates) == 0 {
		return input
	}
	return &Aggregate{Input: input, GroupKeys: groupKeys, Aggregates: aggregates}
}

var aggregateFuncs = map[string]bool{
	"count":   true,
	"sum":     true,
	"avg":     true,
	"min":     true,
	"max":     true,
	"collect": true,
}

func exprHasAggregate(e cypher.Expr) bool {
	switch t := e.(type) {
	case *cypher.FuncCall:
		if aggregateFuncs[t.Name] {
			return true
		}
		for _, arg := range t.Args {
			if exprHasAggregate(arg) {
				return true
			}
		}
	case *cypher.BinaryExpr:
		return exprHasAggregate(t.Left) || exprHasAggregate(t.Right)
	case *cypher.UnaryExpr:
		return exprHasAggregate(t.Operand)
	case *cypher.IsNullExpr:
		return exprHasAggregate(t.Operand)
	case *cypher.ListExpr:
		for _, item := range t.Items {
			if exprHasAggregate(item) {
				return true
			}
		}
	}
	return false
}
