// Package main provides the Bifrost CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/bifrost/pkg/bifrost"
	"github.com/orneryd/bifrost/pkg/catalog"
	"github.com/orneryd/bifrost/pkg/config"
	"github.com/orneryd/bifrost/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bifrost",
		Short: "Bifrost - Graph pattern to SQL compiler",
		Long: `Bifrost compiles openCypher-style graph pattern queries into SQL
over existing relational tables, using catalog views that map labels
and relationship types to tables and columns.

Features:
  • MATCH / OPTIONAL MATCH / WITH / RETURN clause pipeline
  • Variable-length paths via recursive CTEs
  • Undirected and polymorphic relationship expansion
  • Deterministic, self-contained SQL output
  • Compile-result memoization per catalog snapshot`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Bifrost v%s (%s)\n", version, commit)
		},
	})

	// Compile command
	compileCmd := &cobra.Command{
		Use:   "compile [query]",
		Short: "Compile a query to SQL",
		Long:  "Compile a graph pattern query against a catalog view and print the SQL and column manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile,
	}
	compileCmd.Flags().String("catalog", "./catalog", "Catalog directory with view YAML files")
	compileCmd.Flags().String("view", "", "View to compile against (required)")
	compileCmd.Flags().StringToString("param", nil, "Query parameter as name=value (repeatable)")
	compileCmd.Flags().StringToString("view-arg", nil, "View argument as name=value (repeatable)")
	compileCmd.Flags().Int("max-depth", 10, "Maximum traversal depth for unbounded paths")
	compileCmd.Flags().Bool("explain", false, "Print the plan tree instead of SQL")
	compileCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(compileCmd)

	// Validate command
	validateCmd := &cobra.Command{
		Use:   "validate [directory]",
		Short: "Validate catalog view definitions",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Bifrost compile service",
		Long:  "Start the HTTP compile service configured from BIFROST_* environment variables and flags",
		RunE:  runServe,
	}
	serveCmd.Flags().String("catalog", "", "Catalog directory (overrides BIFROST_CATALOG_DIR)")
	serveCmd.Flags().Int("http-port", 0, "HTTP port (overrides BIFROST_HTTP_PORT)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCompile(cmd *cobra.Command, args []string) error {
	query := args[0]
	catalogDir, _ := cmd.Flags().GetString("catalog")
	view, _ := cmd.Flags().GetString("view")
	rawParams, _ := cmd.Flags().GetStringToString("param")
	viewArgs, _ := cmd.Flags().GetStringToString("view-arg")
	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	explain, _ := cmd.Flags().GetBool("explain")
	asJSON, _ := cmd.Flags().GetBool("json")

	if view == "" {
		return fmt.Errorf("--view is required")
	}

	registry := catalog.NewRegistry()
	if err := registry.LoadDir(catalogDir); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	params := make(map[string]any, len(rawParams))
	for name, raw := range rawParams {
		params[name] = parseParamValue(raw)
	}

	svc := bifrost.New(registry, bifrost.Options{
		MaxTraversalDepth: maxDepth,
		CacheDisabled:     true, // one-shot compile
	})

	if explain {
		plan, err := svc.Explain(view, query, params, viewArgs)
		if err != nil {
			return err
		}
		fmt.Println(plan)
		return nil
	}

	out, err := svc.Compile(view, query, params, viewArgs)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(out.SQL)
	fmt.Println()
	fmt.Println("Columns:")
	for _, entry := range out.Manifest {
		fmt.Printf("  %s  ->  %s\n", entry.Expression, entry.Column)
	}
	return nil
}

// parseParamValue guesses the type of a command line parameter value:
// JSON literals (numbers, booleans, lists, null) parse as such,
// anything else stays a string.
func parseParamValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return normalizeJSON(v)
	}
	return raw
}

// normalizeJSON converts JSON numbers to int64 when they are whole, to
// match the compiler's literal rendering.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = normalizeJSON(item)
		}
		return x
	}
	return v
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir := args[0]

	fmt.Printf("🔍 Validating catalog in %s\n", dir)

	views, err := catalog.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("catalog invalid: %w", err)
	}

	fmt.Printf("✅ %d view(s) valid\n", len(views))
	for _, v := range views {
		fmt.Printf("   • %s: %d label(s), %d relationship type(s)\n",
			v.Name, len(v.NodeLabels()), len(v.EdgeTypes()))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	if dir, _ := cmd.Flags().GetString("catalog"); dir != "" {
		cfg.Catalog.Dir = dir
	}
	if port, _ := cmd.Flags().GetInt("http-port"); port > 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("🚀 Starting Bifrost v%s\n", version)
	fmt.Printf("   Catalog:   %s\n", cfg.Catalog.Dir)
	fmt.Printf("   HTTP API:  http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("   Max depth: %d\n", cfg.Compiler.MaxTraversalDepth)
	fmt.Println()

	fmt.Println("📂 Loading catalog...")
	registry := catalog.NewRegistry()
	if err := registry.LoadDir(cfg.Catalog.Dir); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	snap := registry.Snapshot()
	fmt.Printf("   ✅ %d view(s) loaded\n", len(snap.ViewNames()))

	svc := bifrost.New(registry, bifrost.Options{
		MaxTraversalDepth: cfg.Compiler.MaxTraversalDepth,
		CacheDisabled:     !cfg.Cache.Enabled,
		CacheSize:         cfg.Cache.Size,
		CacheTTL:          cfg.Cache.TTL,
	})

	serverConfig := server.DefaultConfig()
	serverConfig.Address = cfg.Server.Address
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ReloadEnabled = cfg.Catalog.WatchReload
	serverConfig.CatalogDir = cfg.Catalog.Dir

	httpServer, err := server.New(svc, serverConfig)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	fmt.Println()
	fmt.Println("✅ Bifrost is ready!")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  • Compile:  POST http://localhost:%d/compile\n", cfg.Server.Port)
	fmt.Printf("  • Explain:  POST http://localhost:%d/explain\n", cfg.Server.Port)
	fmt.Printf("  • Views:    GET  http://localhost:%d/views\n", cfg.Server.Port)
	fmt.Printf("  • Reload:   POST http://localhost:%d/views/reload\n", cfg.Server.Port)
	fmt.Printf("  • Health:   GET  http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	// Block until shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}

	fmt.Println("✅ Server stopped gracefully")
	return nil
}
