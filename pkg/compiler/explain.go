package compiler

import (
	"fmt"
	"strings"
)

// Explain renders an analyzed plan as an indented tree, one operator
// per line. It is a debugging aid for the CLI and the HTTP service;
// the format is human-oriented and not stable.
func Explain(n Node) string {
	var sb strings.Builder
	explainNode(&sb, n, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func explainNode(sb *strings.Builder, n Node, depth int) {
	pad := strings.Repeat("  ", depth)
	switch t := n.(type) {
	case *Scan:
		kind := "Scan"
		if t.edge != nil {
			kind = "EdgeScan"
		}
		fmt.Fprintf(sb, "%s%s %s AS %s", pad, kind, t.Table, t.Alias)
		if len(t.Filters) > 0 {
			texts := make([]string, len(t.Filters))
			for i, f := range t.Filters {
				texts[i] = f.Text
			}
			fmt.Fprintf(sb, " [%s]", strings.Join(texts, " AND "))
		}
		sb.WriteString("\n")
	case *Join:
		fmt.Fprintf(sb, "%s%s", pad, t.Kind)
		if len(t.On) == 0 {
			fmt.Fprintf(sb, " (cross)")
		}
		sb.WriteString("\n")
		explainNode(sb, t.Left, depth+1)
		explainNode(sb, t.Right, depth+1)
	case *Filter:
		fmt.Fprintf(sb, "%sFilter %s\n", pad, canonicalExpr(t.Predicate))
		explainNode(sb, t.Input, depth+1)
	case *Union:
		mode := "ALL"
		if t.Dedup {
			mode = "DISTINCT"
		}
		fmt.Fprintf(sb, "%sUnion %s\n", pad, mode)
		for _, br := range t.Branches {
			explainNode(sb, br, depth+1)
		}
	case *VariableLengthPath:
		fmt.Fprintf(sb, "%sVarLengthPath %s (%s, %d..%d) %s -> %s\n",
			pad, t.RelAlias, strings.Join(t.Types, "|"), t.MinHops, t.MaxHops, t.StartAlias, t.EndAlias)
	case *WithClause:
		names := make([]string, len(t.Exported))
		for i, exp := range t.Exported {
			names[i] = exp.Name
		}
		fmt.Fprintf(sb, "%sBoundary [%s]", pad, strings.Join(names, ", "))
		if t.Distinct {
			sb.WriteString(" DISTINCT")
		}
		sb.WriteString("\n")
		explainNode(sb, t.Input, depth+1)
	case *Projection:
		fmt.Fprintf(sb, "%sProject%s %s\n", pad, distinctSuffix(t.Distinct), itemList(t.Items))
		explainNode(sb, t.Input, depth+1)
	case *Aggregate:
		fmt.Fprintf(sb, "%sAggregate keys=%s aggs=%s\n", pad, itemList(t.GroupKeys), itemList(t.Aggregates))
		explainNode(sb, t.Input, depth+1)
	case *OrderBy:
		keys := make([]string, len(t.Keys))
		for i, k := range t.Keys {
			keys[i] = canonicalExpr(k.Expr)
			if k.Desc {
				keys[i] += " DESC"
			}
		}
		fmt.Fprintf(sb, "%sSort %s\n", pad, strings.Join(keys, ", "))
		explainNode(sb, t.Input, depth+1)
	case *Limit:
		fmt.Fprintf(sb, "%sLimit %d\n", pad, t.N)
		explainNode(sb, t.Input, depth+1)
	case *Skip:
		fmt.Fprintf(sb, "%sSkip %d\n", pad, t.N)
		explainNode(sb, t.Input, depth+1)
	default:
		fmt.Fprintf(sb, "%s%T\n", pad, n)
	}
}

func distinctSuffix(distinct bool) string {
	if distinct {
		return " DISTINCT"
	}
	return ""
}

func itemList(items []Item) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = canonicalExpr(item.Expr)
		if item.Alias != "" {
			parts[i] += " AS " + item.Alias
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
