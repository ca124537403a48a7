package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// renderer emits deterministic SQL bottom-up. WITH boundaries and
// variable-length paths become common table expressions, registered in
// dependency order; the same boundary node always maps to the same CTE
// so diamond references share one definition.
type renderer struct {
	params   map[string]any
	viewArgs map[string]string

	ctes       []cte
	usedNames  map[string]bool
	boundaries map[*WithClause]*boundaryInfo
	paths      map[*VariableLengthPath]bool
}

type cte struct {
	name      string
	body      string
	recursive bool
}

// boundaryInfo records the CTE name of a rendered boundary and the
// flattened column layout of each export, so downstream segments bind
// against the names the CTE actually produced.
type boundaryInfo struct {
	name string
	cols map[string]*exportCols
}

type exportCols struct {
	identity []string
	props    map[string]string
	value    string
}

// colSpec is one output column of a select, with its expression
// deferred until the enclosing branch scope exists.
type colSpec struct {
	name string
	expr func(sc scope) (string, error)
}

// aggSpec describes a grouped projection rendered in two layers: the
// inner select projects group keys and aggregate arguments out of the
// match rows, the outer select groups and aggregates them.
type aggSpec struct {
	inner      []colSpec
	outer      []outerCol
	groupNames []string
}

type outerCol struct {
	name string
	sql  string
}

func newRenderer(ctx *passContext) *renderer {
	return &renderer{
		params:     ctx.params,
		viewArgs:   ctx.viewArgs,
		usedNames:  map[string]bool{},
		boundaries: map[*WithClause]*boundaryInfo{},
		paths:      map[*VariableLengthPath]bool{},
	}
}

func (r *renderer) uniqueName(base string) string {
	if !r.usedNames[base] {
		r.usedNames[base] = true
		return base
	}
	for i := 2; ; i++ {
		name := base + "_" + strconv.Itoa(i)
		if !r.usedNames[name] {
			r.usedNames[name] = true
			return name
		}
	}
}

// renderQuery emits the final statement for an analyzed plan and the
// output column manifest pairing each RETURN expression with the
// column that carries it.
func (r *renderer) renderQuery(root Node) (string, []ManifestEntry, error) {
	var orderKeys []OrderKey
	var skip, limit *int64

	for {
		switch t := root.(type) {
		case *Limit:
			n := t.N
			limit = &n
			root = t.Input
			continue
		case *Skip:
			n := t.N
			skip = &n
			root = t.Input
			continue
		case *OrderBy:
			orderKeys = t.Keys
			root = t.Input
			continue
		}
		break
	}

	proj, ok := root.(*Projection)
	if !ok {
		return "", nil, renderErrf("query", "plan root is not a projection")
	}

	top, manifest, err := r.renderReturn(proj, orderKeys, skip, limit)
	if err != nil {
		return "", nil, err
	}
	return r.assemble(top), manifest, nil
}

func (r *renderer) assemble(top string) string {
	if len(r.ctes) == 0 {
		return top
	}
	kw := "WITH "
	for _, c := range r.ctes {
		if c.recursive {
			kw = "WITH RECURSIVE "
			break
		}
	}
	parts := make([]string, len(r.ctes))
	for i, c := range r.ctes {
		parts[i] = c.name + " AS (\n" + indent(c.body) + "\n)"
	}
	return kw + strings.Join(parts, ",\n") + "\n" + top
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "  " + line
		}
	}
	return strings.Join(lines, "\n")
}

// renderReturn builds the top-level select: exactly one output column
// per RETURN item so the manifest maps expressions to columns
// one-to-one. Composite node identities render as tuples.
func (r *renderer) renderReturn(proj *Projection, orderKeys []OrderKey, skip, limit *int64) (string, []ManifestEntry, error) {
	input := proj.Input
	agg, hasAgg := input.(*Aggregate)
	items := proj.Items

	outNames := make([]string, len(items))
	used := map[string]bool{}
	for i, item := range items {
		name := item.Alias
		if name == "" {
			switch t := item.Expr.(type) {
			case *cypher.AliasRef:
				name = t.Name
			case *cypher.PropertyRef:
				name = t.Alias + "_" + t.Property
			default:
				name = "col_" + strconv.Itoa(i+1)
			}
		}
		base := name
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		outNames[i] = name
	}

	manifest := make([]ManifestEntry, len(items))
	for i, item := range items {
		manifest[i] = ManifestEntry{Expression: item.Text, Column: outNames[i]}
	}

	var body string
	var err error
	core := input
	if hasAgg {
		spec, specErr := buildAggSpec(items, outNames, agg, r.params)
		if specErr != nil {
			return "", nil, specErr
		}
		core = agg.Input
		body, err = r.renderAggregate(core, spec, proj.Distinct)
	} else {
		cols := make([]colSpec, len(items))
		for i, item := range items {
			cols[i] = colSpec{name: outNames[i], expr: itemExprFunc(item.Expr, r.params)}
		}
		body, err = r.renderRows(core, cols, proj.Distinct)
	}
	if err != nil {
		return "", nil, err
	}

	body, err = r.applyReturnModifiers(body, core, items, outNames, hasAgg, orderKeys, skip, limit)
	if err != nil {
		return "", nil, err
	}
	return body, manifest, nil
}

// applyReturnModifiers attaches ORDER BY, OFFSET, and LIMIT. Order
// keys naming a projected item use its output column; other
// expressions render against the match scope, which is only available
// for plain single-branch selects.
func (r *renderer) applyReturnModifiers(body string, core Node, items []Item, outNames []string, hasAgg bool, orderKeys []OrderKey, skip, limit *int64) (string, error) {
	if len(orderKeys) > 0 {
		byOut := map[string]string{}
		for i, item := range items {
			byOut[canonicalExpr(item.Expr)] = outNames[i]
			if item.Alias != "" {
				byOut[item.Alias] = outNames[i]
			}
		}
		_, isUnion := core.(*Union)

		var matchScope scope
		if !hasAgg && !isUnion {
			sc, _, _, err := r.branchScope(core)
			if err != nil {
				return "", err
			}
			matchScope = sc
		}

		keys := make([]string, len(orderKeys))
		for i, key := range orderKeys {
			var sql string
			if out, ok := byOut[canonicalExpr(key.Expr)]; ok {
				sql = out
			} else if matchScope != nil {
				rendered, err := exprSQL(key.Expr, matchScope, r.params)
				if err != nil {
					return "", err
				}
				sql = rendered
			} else {
				return "", renderErrf("ORDER BY", "sort expression must be a projected item")
			}
			if key.Desc {
				sql += " DESC"
			}
			keys[i] = sql
		}
		body += "\nORDER BY " + strings.Join(keys, ", ")
	}
	if limit != nil {
		body += "\nLIMIT " + strconv.FormatInt(*limit, 10)
	}
	if skip != nil {
		body += "\nOFFSET " + strconv.FormatInt(*skip, 10)
	}
	return body, nil
}

// itemExprFunc renders a projected item within a branch scope; bare
// entity aliases project their identity.
func itemExprFunc(e cypher.Expr, params map[string]any) func(sc scope) (string, error) {
	return func(sc scope) (string, error) {
		return exprSQL(e, sc, params)
	}
}

// renderRows renders match rows: a single select, or a union of
// branch selects sharing one column list. Deduplicating unions use
// UNION DISTINCT, mapping unions UNION ALL.
func (r *renderer) renderRows(n Node, cols []colSpec, distinct bool) (string, error) {
	u, ok := n.(*Union)
	if !ok {
		return r.renderMatchSelect(n, cols, distinct)
	}
	branches := make([]string, len(u.Branches))
	for i, br := range u.Branches {
		body, err := r.renderRows(br, cols, false)
		if err != nil {
			return "", err
		}
		branches[i] = "(" + body + ")"
	}
	sep := "\nUNION ALL\n"
	if u.Dedup {
		sep = "\nUNION DISTINCT\n"
	}
	body := strings.Join(branches, sep)
	if distinct {
		body = "SELECT DISTINCT *\nFROM (\n" + indent(body) + "\n) AS t"
	}
	return body, nil
}

// renderAggregate projects group keys and aggregate arguments out of
// the match rows, then groups in an outer select.
func (r *renderer) renderAggregate(core Node, spec *aggSpec, distinct bool) (string, error) {
	innerCols := spec.inner
	if len(innerCols) == 0 {
		// count(*) with no group keys still needs a projected column.
		innerCols = []colSpec{{name: "one", expr: func(scope) (string, error) { return "1", nil }}}
	}
	inner, err := r.renderRows(core, innerCols, false)
	if err != nil {
		return "", err
	}
	outs := make([]string, len(spec.outer))
	for i, col := range spec.outer {
		outs[i] = col.sql + " AS " + col.name
	}
	sel := "SELECT "
	if distinct {
		sel = "SELECT DISTINCT "
	}
	body := sel + strings.Join(outs, ", ") + "\nFROM (\n" + indent(inner) + "\n) AS t"
	if len(spec.groupNames) > 0 {
		body += "\nGROUP BY " + strings.Join(spec.groupNames, ", ")
	}
	return body, nil
}

// buildAggSpec derives the two-layer column lists for a grouped
// projection at the RETURN level, where every item is one column.
func buildAggSpec(items []Item, outNames []string, agg *Aggregate, params map[string]any) (*aggSpec, error) {
	spec := &aggSpec{}
	argSeq := 0
	for i, item := range items {
		if !exprHasAggregate(item.Expr) {
			name := outNames[i]
			spec.inner = append(spec.inner, colSpec{name: name, expr: itemExprFunc(item.Expr, params)})
			spec.outer = append(spec.outer, outerCol{name: name, sql: name})
			spec.groupNames = append(spec.groupNames, name)
			continue
		}
		call, ok := item.Expr.(*cypher.FuncCall)
		if !ok {
			return nil, renderErrf(outNames[i], "aggregate expression must be a bare aggregate function call")
		}
		sql, inner, err := outerAggCols(call, outNames[i], &argSeq, params)
		if err != nil {
			return nil, err
		}
		spec.inner = append(spec.inner, inner...)
		spec.outer = append(spec.outer, outerCol{name: outNames[i], sql: sql})
	}
	return spec, nil
}

// outerAggCols rewrites an aggregate call to reference inner argument
// columns, returning the outer SQL and the inner projections it needs.
func outerAggCols(call *cypher.FuncCall, outName string, argSeq *int, params map[string]any) (string, []colSpec, error) {
	if !aggregateFuncs[call.Name] {
		return "", nil, renderErrf(outName, "aggregate expression must be a bare aggregate function call")
	}
	if call.Name == "count" && call.Star {
		return "count(*)", nil, nil
	}
	if len(call.Args) != 1 {
		return "", nil, renderErrf(outName, "aggregate %s takes one argument", call.Name)
	}
	argCol := outName + "_arg"
	if *argSeq > 0 {
		argCol = fmt.Sprintf("%s_arg_%d", outName, *argSeq+1)
	}
	*argSeq++
	inner := []colSpec{{name: argCol, expr: itemExprFunc(call.Args[0], params)}}

	name := call.Name
	if name == "collect" {
		name = "groupArray"
	}
	if call.Distinct {
		return name + "(DISTINCT " + argCol + ")", inner, nil
	}
	return name + "(" + argCol + ")", inner, nil
}

// renderMatchSelect emits one select over a single join branch.
func (r *renderer) renderMatchSelect(n Node, cols []colSpec, distinct bool) (string, error) {
	sc, fromParts, where, err := r.branchScope(n)
	if err != nil {
		return "", err
	}

	outs := make([]string, len(cols))
	for i, col := range cols {
		sql, err := col.expr(sc)
		if err != nil {
			return "", err
		}
		outs[i] = sql + " AS " + col.name
	}

	sel := "SELECT "
	if distinct {
		sel = "SELECT DISTINCT "
	}
	body := sel + strings.Join(outs, ", ") + "\n" + strings.Join(fromParts, "\n")
	if len(where) > 0 {
		body += "\nWHERE " + strings.Join(where, " AND ")
	}
	return body, nil
}

// branchScope walks a join branch left-to-right, binding aliases and
// collecting FROM clauses and WHERE conditions. Scan filters on the
// preserved side of a left join move into the join condition so the
// outer join keeps unmatched rows.
func (r *renderer) branchScope(n Node) (scope, []string, []string, error) {
	sc := scope{}
	var parts []string
	var where []string

	var walk func(Node) error
	walk = func(n Node) error {
		switch t := n.(type) {
		case *Scan:
			r.bindScan(sc, t)
			parts = append(parts, "FROM "+t.Table+" AS "+t.Alias)
			for _, f := range t.Filters {
				where = append(where, f.Text)
			}
		case *WithClause:
			info, err := r.renderBoundary(t)
			if err != nil {
				return err
			}
			r.bindBoundary(sc, t, info)
			parts = append(parts, "FROM "+info.name)
		case *VariableLengthPath:
			name, err := r.renderPath(t)
			if err != nil {
				return err
			}
			parts = append(parts, "FROM "+name+" AS "+t.RelAlias)
		case *Filter:
			if err := walk(t.Input); err != nil {
				return err
			}
			sql, err := exprSQL(t.Predicate, sc, r.params)
			if err != nil {
				return err
			}
			where = append(where, sql)
		case *Join:
			if err := walk(t.Left); err != nil {
				return err
			}
			clause, extraWhere, err := r.joinClause(sc, t)
			if err != nil {
				return err
			}
			parts = append(parts, clause)
			where = append(where, extraWhere...)
		default:
			return renderErrf("plan", "unexpected node %T in join branch", n)
		}
		return nil
	}
	if err := walk(n); err != nil {
		return nil, nil, nil, err
	}
	return sc, parts, where, nil
}

func (r *renderer) bindScan(sc scope, s *Scan) {
	if s.edge != nil {
		sc[s.Alias] = bindEdge(s.Alias, s.edge)
		return
	}
	if schema := s.NodeSchema(); schema != nil {
		sc[s.Alias] = bindTable(s.Alias, schema)
	}
}

func (r *renderer) bindBoundary(sc scope, w *WithClause, info *boundaryInfo) {
	for _, exp := range w.Exported {
		cols := info.cols[exp.Name]
		b := &binding{props: map[string]string{}}
		switch exp.Kind {
		case KindValue:
			b.valueExpr = info.name + "." + cols.value
		default:
			for _, col := range cols.identity {
				b.identity = append(b.identity, info.name+"."+col)
			}
			for prop, col := range cols.props {
				b.props[prop] = info.name + "." + col
			}
			if exp.Kind == KindRel && exp.Edge != nil {
				b.typeExpr = quoteString(exp.Edge.Type)
			}
		}
		sc[exp.Name] = b
	}
}

// joinClause renders the right side of a join. Filters attached to
// the joined scan go into WHERE for inner joins and into ON for left
// joins.
func (r *renderer) joinClause(sc scope, j *Join) (string, []string, error) {
	var ref string
	var scanFilters []RawSQL

	switch right := j.Right.(type) {
	case *Scan:
		r.bindScan(sc, right)
		ref = right.Table + " AS " + right.Alias
		scanFilters = right.Filters
	case *VariableLengthPath:
		name, err := r.renderPath(right)
		if err != nil {
			return "", nil, err
		}
		ref = name + " AS " + right.RelAlias
	default:
		return "", nil, renderErrf("plan", "unexpected join operand %T", j.Right)
	}

	if len(j.On) == 0 && j.Kind == JoinInner {
		var where []string
		for _, f := range scanFilters {
			where = append(where, f.Text)
		}
		return "CROSS JOIN " + ref, where, nil
	}

	conds := make([]string, 0, len(j.On))
	for _, c := range j.On {
		sql, err := onCondSQL(c, sc)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, sql)
	}
	if len(conds) == 0 {
		conds = append(conds, "1 = 1")
	}

	var where []string
	if j.Kind == JoinLeft {
		for _, f := range scanFilters {
			conds = append(conds, f.Text)
		}
	} else {
		for _, f := range scanFilters {
			where = append(where, f.Text)
		}
	}
	return j.Kind.String() + " " + ref + " ON " + strings.Join(conds, " AND "), where, nil
}

// onCondSQL equates explicit left-side columns with the identity of
// the right-side alias: pairwise when arities match, tuple comparison
// otherwise.
func onCondSQL(c OnCond, sc scope) (string, error) {
	right, ok := sc[c.RightAlias]
	if !ok {
		return "", renderErrf(c.RightAlias, "join references an alias that is not in scope")
	}
	if right.valueExpr != "" {
		return "", renderErrf(c.RightAlias, "join references a computed value, not an entity")
	}
	left := make([]string, len(c.LeftCols))
	for i, col := range c.LeftCols {
		left[i] = c.LeftAlias + "." + col
	}
	if len(left) == len(right.identity) {
		conds := make([]string, len(left))
		for i := range left {
			conds[i] = left[i] + " = " + right.identity[i]
		}
		return strings.Join(conds, " AND "), nil
	}
	leftExpr := left[0]
	if len(left) > 1 {
		leftExpr = "tuple(" + strings.Join(left, ", ") + ")"
	}
	rightExpr, err := right.identityExpr(c.RightAlias)
	if err != nil {
		return "", err
	}
	return leftExpr + " = " + rightExpr, nil
}

// canonicalExpr produces a structural key for matching order-by
// expressions against projected items.
func canonicalExpr(e cypher.Expr) string {
	switch t := e.(type) {
	case *cypher.AliasRef:
		return t.Name
	case *cypher.PropertyRef:
		return t.Alias + "." + t.Property
	case *cypher.Literal:
		return fmt.Sprintf("lit:%v", t.Value)
	case *cypher.Parameter:
		return "$" + t.Name
	case *cypher.BinaryExpr:
		return "(" + canonicalExpr(t.Left) + " " + t.Op + " " + canonicalExpr(t.Right) + ")"
	case *cypher.UnaryExpr:
		return "(" + t.Op + " " + canonicalExpr(t.Operand) + ")"
	case *cypher.IsNullExpr:
		if t.Negated {
			return canonicalExpr(t.Operand) + " IS NOT NULL"
		}
		return canonicalExpr(t.Operand) + " IS NULL"
	case *cypher.ListExpr:
		parts := make([]string, len(t.Items))
		for i, item := range t.Items {
			parts[i] = canonicalExpr(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *cypher.FuncCall:
		if t.Star {
			return t.Name + "(*)"
		}
		parts := make([]string, len(t.Args))
		for i, arg := range t.Args {
			parts[i] = canonicalExpr(arg)
		}
		prefix := t.Name + "("
		if t.Distinct {
			prefix += "DISTINCT "
		}
		return prefix + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("%T", e)
}

// renderBoundary registers a WITH boundary as a CTE and returns its
// column layout. Boundaries shared between path anchors and join
// inputs render exactly once.
func (r *renderer) renderBoundary(w *WithClause) (*boundaryInfo, error) {
	if info, ok := r.boundaries[w]; ok {
		return info, nil
	}

	cols, colSpecs, agg, err := r.boundaryCols(w)
	if err != nil {
		return nil, err
	}

	input := w.Input
	var body string
	if agg != nil {
		core := input.(*Aggregate).Input
		body, err = r.renderAggregate(core, agg, w.Distinct)
	} else {
		body, err = r.renderRows(input, colSpecs, w.Distinct)
	}
	if err != nil {
		return nil, err
	}

	body, err = r.applyBoundaryModifiers(body, w, cols)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(w.Exported))
	for i, exp := range w.Exported {
		names[i] = exp.Name
	}
	info := &boundaryInfo{
		name: r.uniqueName("with_" + strings.Join(names, "_")),
		cols: cols,
	}
	r.boundaries[w] = info
	r.ctes = append(r.ctes, cte{name: info.name, body: body})
	return info, nil
}

// boundaryCols flattens each export to named columns: identity columns
// then properties for entities, a single column for computed values.
func (r *renderer) boundaryCols(w *WithClause) (map[string]*exportCols, []colSpec, *aggSpec, error) {
	cols := map[string]*exportCols{}
	used := map[string]bool{}
	claim := func(base string) string {
		name := base
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		return name
	}

	type itemCols struct {
		specs []colSpec
		agg   bool
		item  Item
	}
	perItem := make([]itemCols, len(w.Items))

	aggregated := false
	if _, ok := w.Input.(*Aggregate); ok {
		aggregated = true
	}

	for i, item := range w.Items {
		exp := w.Exported[i]
		ec := &exportCols{props: map[string]string{}}
		cols[exp.Name] = ec

		switch exp.Kind {
		case KindNode, KindRel:
			src, srcOK := item.Expr.(*cypher.AliasRef)
			if !srcOK {
				return nil, nil, nil, renderErrf(exp.Name, "entity export must project a bare alias")
			}
			var idCount int
			var props []string
			if exp.Kind == KindNode {
				idCount = len(exp.Node.IDColumns)
				props = exp.Node.PropertyNames()
			} else {
				idCount = len(exp.Edge.IdentityColumns())
				props = exp.Edge.PropertyNames()
			}
			var specs []colSpec
			for k := 0; k < idCount; k++ {
				base := exp.Name + "_id"
				if idCount > 1 {
					base = fmt.Sprintf("%s_id_%d", exp.Name, k+1)
				}
				name := claim(base)
				ec.identity = append(ec.identity, name)
				idx := k
				specs = append(specs, colSpec{name: name, expr: func(sc scope) (string, error) {
					b, ok := sc[src.Name]
					if !ok {
						return "", renderErrf(src.Name, "alias is not in scope")
					}
					return b.identity[idx], nil
				}})
			}
			for _, prop := range props {
				name := claim(exp.Name + "_" + prop)
				ec.props[prop] = name
				p := prop
				specs = append(specs, colSpec{name: name, expr: func(sc scope) (string, error) {
					b, ok := sc[src.Name]
					if !ok {
						return "", renderErrf(src.Name, "alias is not in scope")
					}
					col, ok := b.props[p]
					if !ok {
						return "", renderErrf(src.Name, "property %s is not mapped", p)
					}
					return col, nil
				}})
			}
			perItem[i] = itemCols{specs: specs, item: item}
		default:
			name := claim(exp.Name)
			ec.value = name
			isAgg := aggregated && exprHasAggregate(item.Expr)
			perItem[i] = itemCols{
				specs: []colSpec{{name: name, expr: itemExprFunc(item.Expr, r.params)}},
				agg:   isAgg,
				item:  item,
			}
		}
	}

	if !aggregated {
		var flat []colSpec
		for _, ic := range perItem {
			flat = append(flat, ic.specs...)
		}
		return cols, flat, nil, nil
	}

	spec := &aggSpec{}
	argSeq := 0
	for _, ic := range perItem {
		if !ic.agg {
			spec.inner = append(spec.inner, ic.specs...)
			for _, cs := range ic.specs {
				spec.outer = append(spec.outer, outerCol{name: cs.name, sql: cs.name})
				spec.groupNames = append(spec.groupNames, cs.name)
			}
			continue
		}
		call, ok := ic.item.Expr.(*cypher.FuncCall)
		if !ok {
			return nil, nil, nil, renderErrf(ic.specs[0].name, "aggregate expression must be a bare aggregate function call")
		}
		sql, inner, err := outerAggCols(call, ic.specs[0].name, &argSeq, r.params)
		if err != nil {
			return nil, nil, nil, err
		}
		spec.inner = append(spec.inner, inner...)
		spec.outer = append(spec.outer, outerCol{name: ic.specs[0].name, sql: sql})
	}
	return cols, nil, spec, nil
}

// applyBoundaryModifiers wraps the boundary body when WHERE, ORDER BY,
// SKIP, or LIMIT are present. The wrapper sees only the boundary's
// output columns, which is exactly the downstream visibility rule.
func (r *renderer) applyBoundaryModifiers(body string, w *WithClause, cols map[string]*exportCols) (string, error) {
	if w.Where == nil && len(w.OrderBy) == 0 && w.Skip == nil && w.Limit == nil {
		return body, nil
	}

	sc := exportScope(w.Exported, cols, "")
	body = "SELECT *\nFROM (\n" + indent(body) + "\n) AS t"

	if w.Where != nil {
		sql, err := exprSQL(w.Where, sc, r.params)
		if err != nil {
			return "", err
		}
		body += "\nWHERE " + sql
	}
	if len(w.OrderBy) > 0 {
		keys := make([]string, len(w.OrderBy))
		for i, key := range w.OrderBy {
			sql, err := exprSQL(key.Expr, sc, r.params)
			if err != nil {
				return "", err
			}
			if key.Desc {
				sql += " DESC"
			}
			keys[i] = sql
		}
		body += "\nORDER BY " + strings.Join(keys, ", ")
	}
	if w.Limit != nil {
		body += "\nLIMIT " + strconv.FormatInt(*w.Limit, 10)
	}
	if w.Skip != nil {
		body += "\nOFFSET " + strconv.FormatInt(*w.Skip, 10)
	}
	return body, nil
}

// exportScope binds exported aliases to a boundary's flattened output
// columns, optionally qualified.
func exportScope(exports []*Export, cols map[string]*exportCols, qual string) scope {
	prefix := ""
	if qual != "" {
		prefix = qual + "."
	}
	sc := scope{}
	for _, exp := range exports {
		ec := cols[exp.Name]
		b := &binding{props: map[string]string{}}
		switch exp.Kind {
		case KindValue:
			b.valueExpr = prefix + ec.value
		default:
			for _, col := range ec.identity {
				b.identity = append(b.identity, prefix+col)
			}
			for prop, col := range ec.props {
				b.props[prop] = prefix + col
			}
			if exp.Kind == KindRel && exp.Edge != nil {
				b.typeExpr = quoteString(exp.Edge.Type)
			}
		}
		sc[exp.Name] = b
	}
	return sc
}

// renderPath registers the recursive walk CTE and its bounded wrapper
// for a variable-length path and returns the wrapper name. The walk
// carries (start_id, end_id, hop_count, path_edges, path_nodes); the
// no-repeat-edge rule is enforced by rejecting steps whose edge
// identity is already in path_edges.
func (r *renderer) renderPath(p *VariableLengthPath) (string, error) {
	if r.paths[p] {
		return p.cteName, nil
	}

	walkName := p.cteName + "_walk"
	var selects []string

	if p.MinHops == 0 {
		base, err := r.zeroHopBase(p)
		if err != nil {
			return "", err
		}
		selects = append(selects, base)
	}

	for i, schema := range p.schemas {
		for _, dir := range p.dirs[i] {
			base, err := r.hopBase(p, schema, dir)
			if err != nil {
				return "", err
			}
			selects = append(selects, base)
		}
	}
	for i, schema := range p.schemas {
		for _, dir := range p.dirs[i] {
			step, err := r.hopStep(p, walkName, schema, dir)
			if err != nil {
				return "", err
			}
			selects = append(selects, step)
		}
	}

	walkBody := strings.Join(selects, "\nUNION ALL\n")

	distinct := ""
	if pathNeedsDedup(p) {
		distinct = "DISTINCT "
	}
	wrapper := fmt.Sprintf(
		"SELECT %sstart_id, end_id, hop_count, path_edges, path_nodes\nFROM %s\nWHERE hop_count >= %d AND hop_count <= %d",
		distinct, walkName, p.MinHops, p.MaxHops)

	r.usedNames[walkName] = true
	r.usedNames[p.cteName] = true
	r.ctes = append(r.ctes, cte{name: walkName, body: walkBody, recursive: true})
	r.ctes = append(r.ctes, cte{name: p.cteName, body: wrapper})
	r.paths[p] = true
	return p.cteName, nil
}

// zeroHopBase seeds the walk with every start node at hop zero, so a
// *0.. pattern can match a node to itself.
func (r *renderer) zeroHopBase(p *VariableLengthPath) (string, error) {
	var from string
	var ident string
	var where []string

	if p.startBoundary != nil {
		info, err := r.renderBoundary(p.startBoundary)
		if err != nil {
			return "", err
		}
		ec := info.cols[p.startExport.Name]
		idents := make([]string, len(ec.identity))
		for i, col := range ec.identity {
			idents[i] = info.name + "." + col
		}
		ident = singleOrTuple(idents)
		from = info.name
	} else {
		schema := p.startSchema
		idents := make([]string, len(schema.IDColumns))
		for i, col := range schema.IDColumns {
			idents[i] = "n." + col
		}
		ident = singleOrTuple(idents)
		from = schema.Table + " AS n"
		filters, err := r.nodeFilterSQL("n", schema)
		if err != nil {
			return "", err
		}
		where = filters
	}

	body := fmt.Sprintf(
		"SELECT %s AS start_id, %s AS end_id, 0 AS hop_count, [] AS path_edges, [%s] AS path_nodes\nFROM %s",
		ident, ident, ident, from)
	if len(where) > 0 {
		body += "\nWHERE " + strings.Join(where, " AND ")
	}
	return body, nil
}

func (r *renderer) hopBase(p *VariableLengthPath, schema *catalog.EdgeSchema, dir cypher.Direction) (string, error) {
	start := singleOrTuple(qualified("e", startColumns(schema, dir)))
	end := singleOrTuple(qualified("e", endColumns(schema, dir)))
	ident := pathEdgeIdent(p, schema, "e")

	where, err := r.edgeFilterSQL("e", schema)
	if err != nil {
		return "", err
	}
	body := fmt.Sprintf(
		"SELECT %s AS start_id, %s AS end_id, 1 AS hop_count, [%s] AS path_edges, [%s, %s] AS path_nodes\nFROM %s AS e",
		start, end, ident, start, end, schema.Table)
	if len(where) > 0 {
		body += "\nWHERE " + strings.Join(where, " AND ")
	}
	return body, nil
}

func (r *renderer) hopStep(p *VariableLengthPath, walkName string, schema *catalog.EdgeSchema, dir cypher.Direction) (string, error) {
	start := singleOrTuple(qualified("e", startColumns(schema, dir)))
	end := singleOrTuple(qualified("e", endColumns(schema, dir)))
	ident := pathEdgeIdent(p, schema, "e")

	conds := []string{
		fmt.Sprintf("p.hop_count < %d", p.MaxHops),
		fmt.Sprintf("NOT has(p.path_edges, %s)", ident),
	}
	filters, err := r.edgeFilterSQL("e", schema)
	if err != nil {
		return "", err
	}
	conds = append(conds, filters...)

	body := fmt.Sprintf(
		"SELECT p.start_id, %s AS end_id, p.hop_count + 1 AS hop_count, arrayPushBack(p.path_edges, %s) AS path_edges, arrayPushBack(p.path_nodes, %s) AS path_nodes\nFROM %s AS p\nJOIN %s AS e ON %s = p.end_id\nWHERE %s",
		end, ident, end, walkName, schema.Table, start, strings.Join(conds, " AND "))
	return body, nil
}

// pathEdgeIdent renders the edge identity recorded in path_edges. With
// several candidate schemas the identity is tagged by type so values
// from different tables cannot collide.
func pathEdgeIdent(p *VariableLengthPath, schema *catalog.EdgeSchema, qual string) string {
	ident := singleOrTuple(qualified(qual, schema.IdentityColumns()))
	if len(p.schemas) > 1 {
		return "tuple(" + quoteString(schema.Type) + ", " + ident + ")"
	}
	return ident
}

func (r *renderer) edgeFilterSQL(qual string, schema *catalog.EdgeSchema) ([]string, error) {
	var conds []string
	for _, f := range edgeRowFilters(qual, schema) {
		conds = append(conds, f.Text)
	}
	for _, fragment := range schema.Filters {
		sql, err := catalog.SubstituteFilter(fragment, qual, r.viewArgs)
		if err != nil {
			if missing, ok := err.(*catalog.MissingArgumentError); ok {
				return nil, analyzerErrf(missing.Name, "view argument required by catalog filter was not supplied")
			}
			return nil, err
		}
		conds = append(conds, sql)
	}
	return conds, nil
}

func (r *renderer) nodeFilterSQL(qual string, schema *catalog.NodeSchema) ([]string, error) {
	var conds []string
	for _, fragment := range schema.Filters {
		sql, err := catalog.SubstituteFilter(fragment, qual, r.viewArgs)
		if err != nil {
			if missing, ok := err.(*catalog.MissingArgumentError); ok {
				return nil, analyzerErrf(missing.Name, "view argument required by catalog filter was not supplied")
			}
			return nil, err
		}
		conds = append(conds, sql)
	}
	return conds, nil
}

func qualified(qual string, cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = qual + "." + col
	}
	return out
}

func singleOrTuple(exprs []string) string {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return "tuple(" + strings.Join(exprs, ", ") + ")"
}
