package compiler

import (
	"sort"
	"strconv"
	"strings"

	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// binding describes how one pattern alias maps to SQL at a given point
// in the query: where its properties live, what its identity is, and
// how type() resolves for relationship aliases.
type binding struct {
	props    map[string]string
	identity []string
	typeExpr string
	// valueExpr is set for computed projections imported across a WITH
	// boundary; such aliases have no properties or identity.
	valueExpr string
}

// scope maps pattern aliases to their SQL bindings.
type scope map[string]*binding

// bindTable binds a node alias to a scanned table.
func bindTable(qual string, schema *catalog.NodeSchema) *binding {
	b := &binding{props: map[string]string{}}
	for prop, col := range schema.Properties {
		b.props[prop] = qual + "." + col
	}
	for _, col := range schema.IDColumns {
		b.identity = append(b.identity, qual+"."+col)
	}
	return b
}

// bindEdge binds a relationship alias to a scanned edge table.
func bindEdge(qual string, schema *catalog.EdgeSchema) *binding {
	b := &binding{props: map[string]string{}}
	for prop, col := range schema.Properties {
		b.props[prop] = qual + "." + col
	}
	for _, col := range schema.IdentityColumns() {
		b.identity = append(b.identity, qual+"."+col)
	}
	if schema.TypeColumn != "" {
		b.typeExpr = qual + "." + schema.TypeColumn
	} else {
		b.typeExpr = quoteString(schema.Type)
	}
	return b
}

// identityExpr renders an alias identity: a bare column for simple
// keys, a tuple for composite keys.
func (b *binding) identityExpr(alias string) (string, error) {
	if len(b.identity) == 0 {
		return "", renderErrf(alias, "alias has no identity columns")
	}
	if len(b.identity) == 1 {
		return b.identity[0], nil
	}
	return "tuple(" + strings.Join(b.identity, ", ") + ")", nil
}

// exprSQL renders a parsed expression against a scope. Parameters are
// inlined as literals; the emitted SQL is self-contained.
func exprSQL(e cypher.Expr, sc scope, params map[string]any) (string, error) {
	switch t := e.(type) {
	case *cypher.AliasRef:
		b, ok := sc[t.Name]
		if !ok {
			return "", renderErrf(t.Name, "alias is not in scope")
		}
		if b.valueExpr != "" {
			return b.valueExpr, nil
		}
		return b.identityExpr(t.Name)

	case *cypher.PropertyRef:
		b, ok := sc[t.Alias]
		if !ok {
			return "", renderErrf(t.Alias, "alias is not in scope")
		}
		col, ok := b.props[t.Property]
		if !ok {
			return "", renderErrf(t.Alias, "property %s is not mapped", t.Property)
		}
		return col, nil

	case *cypher.Literal:
		return literalSQL(t.Value)

	case *cypher.Parameter:
		v, ok := params[t.Name]
		if !ok {
			return "", analyzerErrf("$"+t.Name, "parameter not supplied")
		}
		return literalSQL(v)

	case *cypher.ListExpr:
		parts := make([]string, len(t.Items))
		for i, item := range t.Items {
			s, err := exprSQL(item, sc, params)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil

	case *cypher.BinaryExpr:
		return binarySQL(t, sc, params)

	case *cypher.UnaryExpr:
		operand, err := exprSQL(t.Operand, sc, params)
		if err != nil {
			return "", err
		}
		if t.Op == "NOT" {
			return "(NOT " + operand + ")", nil
		}
		return "(-" + operand + ")", nil

	case *cypher.IsNullExpr:
		operand, err := exprSQL(t.Operand, sc, params)
		if err != nil {
			return "", err
		}
		if t.Negated {
			return operand + " IS NOT NULL", nil
		}
		return operand + " IS NULL", nil

	case *cypher.FuncCall:
		return funcSQL(t, sc, params)
	}
	return "", renderErrf("expression", "unsupported expression %T", e)
}

func binarySQL(t *cypher.BinaryExpr, sc scope, params map[string]any) (string, error) {
	left, err := exprSQL(t.Left, sc, params)
	if err != nil {
		return "", err
	}

	switch t.Op {
	case "IN":
		items, err := inListSQL(t.Right, sc, params)
		if err != nil {
			return "", err
		}
		return left + " IN (" + items + ")", nil
	case "STARTS WITH":
		right, err := exprSQL(t.Right, sc, params)
		if err != nil {
			return "", err
		}
		return "startsWith(" + left + ", " + right + ")", nil
	case "ENDS WITH":
		right, err := exprSQL(t.Right, sc, params)
		if err != nil {
			return "", err
		}
		return "endsWith(" + left + ", " + right + ")", nil
	case "CONTAINS":
		right, err := exprSQL(t.Right, sc, params)
		if err != nil {
			return "", err
		}
		return "position(" + left + ", " + right + ") > 0", nil
	}

	right, err := exprSQL(t.Right, sc, params)
	if err != nil {
		return "", err
	}
	switch t.Op {
	case "=", "<>", "<", "<=", ">", ">=", "+", "-", "*", "/", "%":
		return "(" + left + " " + t.Op + " " + right + ")", nil
	case "AND", "OR":
		return "(" + left + " " + t.Op + " " + right + ")", nil
	}
	return "", renderErrf("expression", "unsupported operator %q", t.Op)
}

// inListSQL renders the right-hand side of IN as a comma-separated
// element list. Lists may be literal or parameter-supplied.
func inListSQL(e cypher.Expr, sc scope, params map[string]any) (string, error) {
	switch t := e.(type) {
	case *cypher.ListExpr:
		parts := make([]string, len(t.Items))
		for i, item := range t.Items {
			s, err := exprSQL(item, sc, params)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ", "), nil
	case *cypher.Parameter:
		v, ok := params[t.Name]
		if !ok {
			return "", analyzerErrf("$"+t.Name, "parameter not supplied")
		}
		items, ok := v.([]any)
		if !ok {
			s, err := literalSQL(v)
			if err != nil {
				return "", err
			}
			return s, nil
		}
		parts := make([]string, len(items))
		for i, item := range items {
			s, err := literalSQL(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ", "), nil
	}
	s, err := exprSQL(e, sc, params)
	if err != nil {
		return "", err
	}
	return s, nil
}

func funcSQL(t *cypher.FuncCall, sc scope, params map[string]any) (string, error) {
	switch t.Name {
	case "id":
		if len(t.Args) != 1 {
			return "", renderErrf("id", "id() takes one alias argument")
		}
		ref, ok := t.Args[0].(*cypher.AliasRef)
		if !ok {
			return "", renderErrf("id", "id() takes one alias argument")
		}
		b, ok := sc[ref.Name]
		if !ok {
			return "", renderErrf(ref.Name, "alias is not in scope")
		}
		return b.identityExpr(ref.Name)

	case "type":
		if len(t.Args) != 1 {
			return "", renderErrf("type", "type() takes one relationship alias argument")
		}
		ref, ok := t.Args[0].(*cypher.AliasRef)
		if !ok {
			return "", renderErrf("type", "type() takes one relationship alias argument")
		}
		b, ok := sc[ref.Name]
		if !ok {
			return "", renderErrf(ref.Name, "alias is not in scope")
		}
		if b.typeExpr == "" {
			return "", renderErrf(ref.Name, "type() applies to relationship aliases only")
		}
		return b.typeExpr, nil

	case "count":
		if t.Star {
			return "count(*)", nil
		}
	case "collect":
		if len(t.Args) != 1 {
			return "", renderErrf("collect", "collect() takes one argument")
		}
		arg, err := exprSQL(t.Args[0], sc, params)
		if err != nil {
			return "", err
		}
		if t.Distinct {
			return "groupArray(DISTINCT " + arg + ")", nil
		}
		return "groupArray(" + arg + ")", nil
	}

	name := t.Name
	switch name {
	case "toupper":
		name = "upper"
	case "tolower":
		name = "lower"
	}

	parts := make([]string, len(t.Args))
	for i, arg := range t.Args {
		s, err := exprSQL(arg, sc, params)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	args := strings.Join(parts, ", ")
	if t.Distinct {
		return name + "(DISTINCT " + args + ")", nil
	}
	return name + "(" + args + ")", nil
}

// literalSQL renders a Go value as a SQL literal. Strings quote with
// doubled single quotes; slices render as array literals.
func literalSQL(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quoteString(x), nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			s, err := literalSQL(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	}
	return "", renderErrf("literal", "unsupported literal type %T", v)
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// exprAliases collects the distinct pattern aliases an expression
// references, sorted for determinism.
func exprAliases(e cypher.Expr) []string {
	seen := map[string]bool{}
	var walk func(cypher.Expr)
	walk = func(e cypher.Expr) {
		switch t := e.(type) {
		case *cypher.AliasRef:
			seen[t.Name] = true
		case *cypher.PropertyRef:
			seen[t.Alias] = true
		case *cypher.BinaryExpr:
			walk(t.Left)
			walk(t.Right)
		case *cypher.UnaryExpr:
			walk(t.Operand)
		case *cypher.IsNullExpr:
			walk(t.Operand)
		case *cypher.ListExpr:
			for _, item := range t.Items {
				walk(item)
			}
		case *cypher.FuncCall:
			for _, arg := range t.Args {
				walk(arg)
			}
		}
	}
	walk(e)
	aliases := make([]string, 0, len(seen))
	for alias := range seen {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// splitConjuncts flattens top-level ANDs into individual predicates.
func splitConjuncts(e cypher.Expr) []cypher.Expr {
	if b, ok := e.(*cypher.BinaryExpr); ok && b.Op == "AND" {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []cypher.Expr{e}
}
