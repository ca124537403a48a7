// Package bifrost is the embedding facade: one handle that owns a view
// catalog, a compile-result memoizer, and the compiler options, with a
// single Compile call on top.
//
// Example:
//
//	registry := catalog.NewRegistry()
//	if err := registry.LoadDir("./catalog"); err != nil {
//		log.Fatal(err)
//	}
//
//	svc := bifrost.New(registry, bifrost.Options{})
//	out, err := svc.Compile("social", "MATCH (a:User) RETURN a.name", nil, nil)
package bifrost

import (
	"time"

	"github.com/orneryd/bifrost/pkg/cache"
	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/compiler"
)

// Options configure a Service.
type Options struct {
	// MaxTraversalDepth caps unbounded variable-length traversals.
	// Zero means compiler.DefaultMaxTraversalDepth.
	MaxTraversalDepth int

	// CacheDisabled turns off compile-result memoization.
	CacheDisabled bool
	// CacheSize is the memoizer capacity (default 1000).
	CacheSize int
	// CacheTTL expires memoized results (default 5m, 0 keeps defaults;
	// use CacheDisabled to skip caching entirely).
	CacheTTL time.Duration
}

// Service compiles queries against the views of a catalog registry,
// memoizing results per catalog snapshot version.
type Service struct {
	registry *catalog.Registry
	memo     *cache.Memoizer
	opts     Options
}

// CompiledQuery is a compilation result annotated with its provenance.
type CompiledQuery struct {
	SQL            string                   `json:"sql"`
	Manifest       []compiler.ManifestEntry `json:"manifest"`
	View           string                   `json:"view"`
	CatalogVersion uint64                   `json:"catalog_version"`
}

// New creates a Service over a registry. The registry may keep loading
// new snapshots concurrently; every compilation pins the snapshot
// current at its start.
func New(registry *catalog.Registry, opts Options) *Service {
	size := opts.CacheSize
	if size <= 0 {
		size = 1000
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	memo := cache.NewMemoizer(size, ttl)
	if opts.CacheDisabled {
		memo.SetEnabled(false)
	}
	return &Service{registry: registry, memo: memo, opts: opts}
}

// Registry exposes the underlying catalog registry.
func (s *Service) Registry() *catalog.Registry {
	return s.registry
}

// Compile translates a query against a named view. Results are
// memoized by query, view, parameters, view arguments, and catalog
// snapshot version, so a catalog reload naturally invalidates stale
// entries.
func (s *Service) Compile(view, query string, params map[string]any, viewArgs map[string]string) (*CompiledQuery, error) {
	snap := s.registry.Snapshot()
	v, ok := snap.View(view)
	if !ok {
		return nil, &compiler.AnalyzerError{Identifier: view, Context: "view is not registered in the catalog"}
	}

	key := s.memo.Key(view, snap.Version, query, params, viewArgs)
	if hit, ok := s.memo.Get(key); ok {
		return hit.(*CompiledQuery), nil
	}

	compiled, err := compiler.Compile(query, v, params, compiler.Options{
		MaxTraversalDepth: s.opts.MaxTraversalDepth,
		ViewArgs:          viewArgs,
	})
	if err != nil {
		return nil, err
	}

	out := &CompiledQuery{
		SQL:            compiled.SQL,
		Manifest:       compiled.Columns,
		View:           view,
		CatalogVersion: snap.Version,
	}
	s.memo.Put(key, out)
	return out, nil
}

// Explain returns the analyzed plan of a query as an indented tree.
func (s *Service) Explain(view, query string, params map[string]any, viewArgs map[string]string) (string, error) {
	snap := s.registry.Snapshot()
	v, ok := snap.View(view)
	if !ok {
		return "", &compiler.AnalyzerError{Identifier: view, Context: "view is not registered in the catalog"}
	}
	plan, err := compiler.Plan(query, v, params, compiler.Options{
		MaxTraversalDepth: s.opts.MaxTraversalDepth,
		ViewArgs:          viewArgs,
	})
	if err != nil {
		return "", err
	}
	return compiler.Explain(plan), nil
}

// Views lists the registered view names of the current snapshot.
func (s *Service) Views() []string {
	return s.registry.Snapshot().ViewNames()
}

// CacheStats reports memoizer statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.memo.Stats()
}
