// Package compiler translates openCypher-style graph pattern queries
// into SQL over relational tables described by a catalog view. The
// pipeline is a clause-level plan builder, an ordered set of analyzer
// passes, and a bottom-up SQL renderer; compilation never touches a
// database.
package compiler

import (
	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// DefaultMaxTraversalDepth bounds open-ended variable-length patterns
// such as *1.. when no explicit upper bound is given.
const DefaultMaxTraversalDepth = 10

// Options tune a single compilation.
type Options struct {
	// MaxTraversalDepth caps unbounded variable-length traversals.
	// Zero means DefaultMaxTraversalDepth.
	MaxTraversalDepth int

	// ViewArgs supply values for {{placeholder}} parameters declared
	// by the view's catalog filters.
	ViewArgs map[string]string
}

func (o Options) maxDepth() int {
	if o.MaxTraversalDepth > 0 {
		return o.MaxTraversalDepth
	}
	return DefaultMaxTraversalDepth
}

// ManifestEntry maps one RETURN expression, verbatim from the query
// text, to the output column that carries it.
type ManifestEntry struct {
	Expression string `json:"expression"`
	Column     string `json:"column"`
}

// Compiled is the result of a successful compilation: a self-contained
// SQL statement and the ordered output column manifest.
type Compiled struct {
	SQL     string          `json:"sql"`
	Columns []ManifestEntry `json:"columns"`
}

// Compile translates a query against a catalog view. Query parameters
// are inlined as literals, so the produced SQL is executable as-is.
// The same query, view, parameters, and options always produce
// byte-identical SQL.
func Compile(query string, view *catalog.View, params map[string]any, opts Options) (*Compiled, error) {
	plan, err := Plan(query, view, params, opts)
	if err != nil {
		return nil, err
	}
	ctx := &passContext{
		view:     view,
		params:   params,
		viewArgs: opts.ViewArgs,
		maxDepth: opts.maxDepth(),
	}
	r := newRenderer(ctx)
	sql, manifest, err := r.renderQuery(plan)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: sql, Columns: manifest}, nil
}

// Plan parses and analyzes a query, returning the optimized plan
// without rendering SQL.
func Plan(query string, view *catalog.View, params map[string]any, opts Options) (Node, error) {
	q, err := cypher.Parse(query)
	if err != nil {
		return nil, err
	}
	raw, err := buildPlan(q, view, params)
	if err != nil {
		return nil, err
	}
	ctx := &passContext{
		view:     view,
		params:   params,
		viewArgs: opts.ViewArgs,
		maxDepth: opts.maxDepth(),
	}
	return analyze(raw, ctx)
}
