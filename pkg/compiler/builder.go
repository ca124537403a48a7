package compiler

import (
	"fmt"

	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// builder turns the clause AST into the initial plan tree, resolving
// scope rules as it goes: aliases introduced under OPTIONAL MATCH are
// optional, each WITH closes the running segment into a boundary, and
// RETURN becomes the terminal projection.
type builder struct {
	view     *catalog.View
	params   map[string]any
	anonNode int
	anonRel  int
}

// symbol is one name visible in the current segment.
type symbol struct {
	kind      AliasKind
	labels    []string
	types     []string
	varLength bool
	optional  bool
	// imported is set for aliases that come from the previous WITH
	// boundary rather than a pattern in this segment.
	imported bool
}

// segment accumulates one WITH-delimited query segment.
type segment struct {
	scope   map[string]*symbol
	plan    Node
	filters []cypher.Expr
	// optFilters are WHERE predicates written on an OPTIONAL MATCH.
	// They constrain the matching, not the produced rows.
	optFilters []cypher.Expr
}

func buildPlan(q *cypher.Query, view *catalog.View, params map[string]any) (Node, error) {
	b := &builder{view: view, params: params}
	seg := &segment{scope: map[string]*symbol{}}

	for _, clause := range q.Clauses {
		switch c := clause.(type) {
		case *cypher.MatchClause:
			if err := b.addMatch(seg, c); err != nil {
				return nil, err
			}

		case *cypher.WithClause:
			w, err := b.closeSegment(seg, c)
			if err != nil {
				return nil, err
			}
			next := &segment{scope: map[string]*symbol{}, plan: w}
			for _, exp := range w.Exported {
				next.scope[exp.Name] = &symbol{
					kind:     exp.Kind,
					labels:   exp.Labels,
					types:    exp.Types,
					optional: exp.Optional,
					imported: true,
				}
			}
			seg = next

		case *cypher.ReturnClause:
			return b.buildReturn(seg, c)
		}
	}
	return nil, planningErrf("query", "missing RETURN clause")
}

func (b *builder) nextAnonNode() string {
	name := fmt.Sprintf("anon_n%d", b.anonNode)
	b.anonNode++
	return name
}

func (b *builder) nextAnonRel() string {
	name := fmt.Sprintf("anon_r%d", b.anonRel)
	b.anonRel++
	return name
}

// addMatch folds one MATCH / OPTIONAL MATCH into the running segment.
func (b *builder) addMatch(seg *segment, c *cypher.MatchClause) error {
	for _, part := range c.Parts {
		if err := b.addPatternPart(seg, part, c.Optional); err != nil {
			return err
		}
	}
	if c.Where != nil {
		if err := b.validateExpr(seg.scope, c.Where, "WHERE"); err != nil {
			return err
		}
		if c.Optional {
			seg.optFilters = append(seg.optFilters, c.Where)
		} else {
			seg.filters = append(seg.filters, c.Where)
		}
	}
	return nil
}

func (b *builder) addPatternPart(seg *segment, part cypher.PatternPart, optional bool) error {
	var leftAlias string

	for i, nodePat := range part.Nodes {
		alias := nodePat.Alias
		if alias == "" {
			alias = b.nextAnonNode()
		}

		sym, existed := seg.scope[alias]
		if existed {
			if sym.kind != KindNode {
				return planningErrf("MATCH", "alias %q already bound to a relationship", alias)
			}
			if len(nodePat.Labels) > 0 {
				if len(sym.labels) > 0 && sym.labels[0] != nodePat.Labels[0] {
					return analyzerErrf(alias, "alias constrained to conflicting labels %s and %s", sym.labels[0], nodePat.Labels[0])
				}
				if len(sym.labels) == 0 {
					if sym.imported {
						return analyzerErrf(alias, "cannot constrain alias imported from WITH with label %s", nodePat.Labels[0])
					}
					sym.labels = nodePat.Labels
					if scan := findScan(seg.plan, alias); scan != nil {
						scan.labels = nodePat.Labels
					}
				}
			}
		} else {
			sym = &symbol{kind: KindNode, labels: nodePat.Labels, optional: optional}
			seg.scope[alias] = sym
		}

		for _, prop := range nodePat.Properties {
			if err := b.validateExpr(seg.scope, prop.Value, "property map"); err != nil {
				return err
			}
			seg.filters = append(seg.filters, &cypher.BinaryExpr{
				Op:    "=",
				Left:  &cypher.PropertyRef{Alias: alias, Property: prop.Key},
				Right: prop.Value,
			})
		}

		if i == 0 {
			if !existed {
				scan := &Scan{Alias: alias, labels: nodePat.Labels, Optional: optional}
				if seg.plan == nil {
					seg.plan = scan
				} else {
					seg.plan = &Join{Left: seg.plan, Right: scan, Kind: joinKindFor(optional)}
				}
			}
			leftAlias = alias
			continue
		}

		rel := part.Rels[i-1]
		if err := b.addHop(seg, rel, leftAlias, alias, nodePat.Labels, existed, optional); err != nil {
			return err
		}
		leftAlias = alias
	}
	return nil
}

// addHop appends the joins (or path relation) for one relationship hop
// from leftAlias to targetAlias.
func (b *builder) addHop(seg *segment, rel cypher.RelPattern, leftAlias, targetAlias string, targetLabels []string, targetExisted bool, optional bool) error {
	relAlias := rel.Alias
	if relAlias == "" {
		relAlias = b.nextAnonRel()
	}
	if _, dup := seg.scope[relAlias]; dup {
		return planningErrf("MATCH", "relationship alias %q is already bound", relAlias)
	}
	seg.scope[relAlias] = &symbol{
		kind:      KindRel,
		types:     rel.Types,
		varLength: rel.VarLength,
		optional:  optional,
	}

	for _, prop := range rel.Properties {
		if rel.VarLength {
			return planningErrf("MATCH", "property map is not supported on variable-length relationship %q", relAlias)
		}
		if err := b.validateExpr(seg.scope, prop.Value, "property map"); err != nil {
			return err
		}
		seg.filters = append(seg.filters, &cypher.BinaryExpr{
			Op:    "=",
			Left:  &cypher.PropertyRef{Alias: relAlias, Property: prop.Key},
			Right: prop.Value,
		})
	}

	kind := joinKindFor(optional)

	if rel.VarLength {
		path := &VariableLengthPath{
			RelAlias:   relAlias,
			Types:      rel.Types,
			Direction:  rel.Direction,
			MinHops:    rel.MinHops,
			MaxHops:    rel.MaxHops,
			StartAlias: leftAlias,
			EndAlias:   targetAlias,
		}
		seg.plan = &Join{
			Left:  seg.plan,
			Right: path,
			Kind:  kind,
			rel: &relJoin{
				relAlias:    relAlias,
				kind:        relPathStart,
				direction:   rel.Direction,
				types:       rel.Types,
				leftNode:    leftAlias,
				rightNode:   targetAlias,
				targetBound: targetExisted,
			},
		}
		if !targetExisted {
			scan := &Scan{Alias: targetAlias, labels: targetLabels, Optional: optional}
			seg.plan = &Join{
				Left:  seg.plan,
				Right: scan,
				Kind:  kind,
				rel: &relJoin{
					relAlias:  relAlias,
					kind:      relPathEnd,
					direction: rel.Direction,
					types:     rel.Types,
					leftNode:  leftAlias,
					rightNode: targetAlias,
				},
			}
		}
		return nil
	}

	edgeScan := &Scan{Alias: relAlias, Optional: optional}
	seg.plan = &Join{
		Left:  seg.plan,
		Right: edgeScan,
		Kind:  kind,
		rel: &relJoin{
			relAlias:    relAlias,
			kind:        relEdge,
			direction:   rel.Direction,
			types:       rel.Types,
			leftNode:    leftAlias,
			rightNode:   targetAlias,
			targetBound: targetExisted,
		},
	}
	if !targetExisted {
		scan := &Scan{Alias: targetAlias, labels: targetLabels, Optional: optional}
		seg.plan = &Join{
			Left:  seg.plan,
			Right: scan,
			Kind:  kind,
			rel: &relJoin{
				relAlias:  relAlias,
				kind:      relTarget,
				direction: rel.Direction,
				types:     rel.Types,
				leftNode:  leftAlias,
				rightNode: targetAlias,
			},
		}
	}
	return nil
}

// closeSegment materializes the running segment as a WITH boundary.
// Export schemas stay unresolved here; the boundary pass fills them in
// once the input is analyzed.
func (b *builder) closeSegment(seg *segment, c *cypher.WithClause) (*WithClause, error) {
	if seg.plan == nil {
		return nil, planningErrf("WITH", "WITH requires a preceding MATCH")
	}

	plan := seg.plan
	for _, f := range seg.filters {
		plan = &Filter{Input: plan, Predicate: f}
	}
	for _, f := range seg.optFilters {
		plan = &Filter{Input: plan, Predicate: f, Optional: true}
	}

	items, exports, err := b.buildItems(seg.scope, c.Items, "WITH", true)
	if err != nil {
		return nil, err
	}

	w := &WithClause{
		Input:    plan,
		Items:    items,
		Distinct: c.Distinct,
		Skip:     c.Skip,
		Limit:    c.Limit,
		Exported: exports,
	}

	// WHERE and ORDER BY on a boundary see the exported names only.
	exportScope := map[string]*symbol{}
	for _, exp := range exports {
		exportScope[exp.Name] = &symbol{kind: exp.Kind, optional: exp.Optional, imported: true}
	}
	if c.Where != nil {
		if err := b.validateExpr(exportScope, c.Where, "WITH WHERE"); err != nil {
			return nil, err
		}
		w.Where = c.Where
	}
	for _, key := range c.OrderBy {
		if err := b.validateExpr(exportScope, key.Expr, "ORDER BY"); err != nil {
			return nil, err
		}
		w.OrderBy = append(w.OrderBy, OrderKey{Expr: key.Expr, Desc: key.Descending})
	}
	return w, nil
}

func (b *builder) buildReturn(seg *segment, c *cypher.ReturnClause) (Node, error) {
	if seg.plan == nil {
		return nil, planningErrf("RETURN", "RETURN requires a preceding MATCH")
	}

	plan := seg.plan
	for _, f := range seg.filters {
		plan = &Filter{Input: plan, Predicate: f}
	}
	for _, f := range seg.optFilters {
		plan = &Filter{Input: plan, Predicate: f, Optional: true}
	}

	items, _, err := b.buildItems(seg.scope, c.Items, "RETURN", false)
	if err != nil {
		return nil, err
	}

	var root Node = &Projection{Input: plan, Items: items, Distinct: c.Distinct}

	if len(c.OrderBy) > 0 {
		orderScope := map[string]*symbol{}
		for name, sym := range seg.scope {
			orderScope[name] = sym
		}
		for _, item := range items {
			if item.Alias != "" {
				orderScope[item.Alias] = &symbol{kind: KindValue}
			}
		}
		keys := make([]OrderKey, 0, len(c.OrderBy))
		for _, key := range c.OrderBy {
			if err := b.validateExpr(orderScope, key.Expr, "ORDER BY"); err != nil {
				return nil, err
			}
			keys = append(keys, OrderKey{Expr: key.Expr, Desc: key.Descending})
		}
		root = &OrderBy{Input: root, Keys: keys}
	}
	if c.Skip != nil {
		root = &Skip{Input: root, N: *c.Skip}
	}
	if c.Limit != nil {
		root = &Limit{Input: root, N: *c.Limit}
	}
	return root, nil
}

// buildItems validates projected items and, for boundaries, derives
// the exported alias list. Every boundary item must carry a name:
// either it is a bare alias or it is explicitly aliased.
func (b *builder) buildItems(scope map[string]*symbol, items []cypher.ReturnItem, clause string, boundary bool) ([]Item, []*Export, error) {
	built := make([]Item, 0, len(items))
	var exports []*Export
	seen := map[string]bool{}

	for _, item := range items {
		if err := b.validateExpr(scope, item.Expr, clause); err != nil {
			return nil, nil, err
		}
		built = append(built, Item{Expr: item.Expr, Alias: item.Alias, Text: item.Text})

		if !boundary {
			continue
		}

		name := item.Alias
		kind := KindValue
		optional := false
		var labels, types []string
		if ref, ok := item.Expr.(*cypher.AliasRef); ok {
			sym := scope[ref.Name]
			kind = sym.kind
			optional = sym.optional
			labels = sym.labels
			types = sym.types
			if name == "" {
				name = ref.Name
			}
		} else if name == "" {
			return nil, nil, planningErrf(clause, "expression %q must be aliased", item.Text)
		}
		if seen[name] {
			return nil, nil, planningErrf(clause, "duplicate name %q", name)
		}
		seen[name] = true
		exports = append(exports, &Export{Name: name, Kind: kind, Labels: labels, Types: types, Optional: optional})
	}
	return built, exports, nil
}

// validateExpr checks alias, property, and parameter references
// against the current scope. Schema-level property resolution happens
// later, once catalog mappings are attached.
func (b *builder) validateExpr(scope map[string]*symbol, e cypher.Expr, clause string) error {
	switch t := e.(type) {
	case *cypher.AliasRef:
		sym, ok := scope[t.Name]
		if !ok {
			return analyzerErrf(t.Name, "unknown alias in %s", clause)
		}
		if sym.varLength {
			return analyzerErrf(t.Name, "variable-length relationship alias cannot be projected")
		}
	case *cypher.PropertyRef:
		sym, ok := scope[t.Alias]
		if !ok {
			return analyzerErrf(t.Alias, "unknown alias in %s", clause)
		}
		if sym.varLength {
			return analyzerErrf(t.Alias, "variable-length relationship has no accessible properties")
		}
	case *cypher.Parameter:
		if _, ok := b.params[t.Name]; !ok {
			return analyzerErrf("$"+t.Name, "parameter not supplied")
		}
	case *cypher.BinaryExpr:
		if err := b.validateExpr(scope, t.Left, clause); err != nil {
			return err
		}
		return b.validateExpr(scope, t.Right, clause)
	case *cypher.UnaryExpr:
		return b.validateExpr(scope, t.Operand, clause)
	case *cypher.IsNullExpr:
		return b.validateExpr(scope, t.Operand, clause)
	case *cypher.ListExpr:
		for _, item := range t.Items {
			if err := b.validateExpr(scope, item, clause); err != nil {
				return err
			}
		}
	case *cypher.FuncCall:
		for _, arg := range t.Args {
			if err := b.validateExpr(scope, arg, clause); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinKindFor(optional bool) JoinKind {
	if optional {
		return JoinLeft
	}
	return JoinInner
}

// findScan locates a scan by alias in a segment subtree. Boundary
// leaves are opaque: their internals are never searched.
func findScan(n Node, alias string) *Scan {
	switch t := n.(type) {
	case *Scan:
		if t.Alias == alias {
			return t
		}
	case *Join:
		if s := findScan(t.Left, alias); s != nil {
			return s
		}
		return findScan(t.Right, alias)
	case *Filter:
		return findScan(t.Input, alias)
	case *Union:
		for _, br := range t.Branches {
			if s := findScan(br, alias); s != nil {
				return s
			}
		}
	}
	return nil
}
