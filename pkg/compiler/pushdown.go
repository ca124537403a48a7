package compiler

import (
	"github.com/orneryd/bifrost/pkg/cypher"
)

// pushdownSegment moves single-alias predicates from segment-level
// filters down onto the table scans they constrain. A predicate from
// an OPTIONAL MATCH's WHERE rides its optional scan into the LEFT
// JOIN's ON clause; a plain WHERE touching an optional scan stays
// above the join so NULL-extended rows are filtered, as do predicates
// spanning aliases or referencing boundary imports.
func (ctx *passContext) pushdownSegment(n Node) (Node, error) {
	type pred struct {
		expr     cypher.Expr
		optional bool
	}
	var preds []pred
	core := n
	for {
		f, ok := core.(*Filter)
		if !ok {
			break
		}
		preds = append(preds, pred{f.Predicate, f.Optional})
		core = f.Input
	}
	if len(preds) == 0 {
		return n, nil
	}
	// Unwrapping reverses clause order; restore it.
	for i, j := 0, len(preds)-1; i < j; i, j = i+1, j-1 {
		preds[i], preds[j] = preds[j], preds[i]
	}

	scans := map[string]*Scan{}
	walkScans(core, func(s *Scan) { scans[s.Alias] = s })
	bindings := map[string]*aliasBinding{}
	segmentBindings(core, bindings)

	var remaining []cypher.Expr
	for _, pr := range preds {
		for _, conjunct := range splitConjuncts(pr.expr) {
			target := pushTarget(conjunct, scans, pr.optional)
			if target == nil {
				remaining = append(remaining, conjunct)
				continue
			}
			sql, err := renderPushed(conjunct, target, bindings, ctx.params)
			if err != nil {
				return nil, err
			}
			target.Filters = append(target.Filters, RawSQL{Text: sql})
		}
	}

	out := core
	for _, pred := range remaining {
		out = &Filter{Input: out, Predicate: pred}
	}
	return out, nil
}

// pushTarget decides whether a conjunct can move onto a scan: it must
// reference exactly one alias, the conjunct's optionality must match
// the scan's, and the scan must already be resolved to a single
// mapping. An optional conjunct on a required scan would drop base
// rows, a required conjunct on an optional scan would skip the
// NULL-extended rows it must reject; both stay above the join.
func pushTarget(conjunct cypher.Expr, scans map[string]*Scan, optional bool) *Scan {
	aliases := exprAliases(conjunct)
	if len(aliases) != 1 {
		return nil
	}
	s, ok := scans[aliases[0]]
	if !ok || s.Optional != optional {
		return nil
	}
	return s
}

func renderPushed(conjunct cypher.Expr, target *Scan, bindings map[string]*aliasBinding, params map[string]any) (string, error) {
	b, ok := bindings[target.Alias]
	if !ok {
		return "", renderErrf(target.Alias, "alias is not bound in this segment")
	}
	sc := scope{}
	switch {
	case len(b.edges) == 1:
		sc[target.Alias] = bindEdge(target.Alias, b.edges[0])
	case len(b.nodes) == 1:
		sc[target.Alias] = bindTable(target.Alias, b.nodes[0])
	default:
		return "", renderErrf(target.Alias, "alias is not resolved to a single mapping")
	}
	return exprSQL(conjunct, sc, params)
}
