package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bundleforge/bundleforge/internal/compose"
	"github.com/bundleforge/bundleforge/internal/config"
	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/output"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
	"github.com/bundleforge/bundleforge/internal/server"
	"github.com/bundleforge/bundleforge/internal/synth"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bundleforge",
		Short: "Randomized FHIR composition bundle generator",
	}

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(libCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate randomized composition bundles from the resource library",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			seed, _ := cmd.Flags().GetInt64("seed")
			return runGenerate(count, seed)
		},
	}
	cmd.Flags().Int("count", 0, "Number of bundles to generate (overrides BUNDLE_COUNT)")
	cmd.Flags().Int64("seed", -1, "Deterministic seed (overrides SEED; 0 means time-based)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bundle fixture HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runGenerate(countFlag int, seedFlag int64) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if countFlag > 0 {
		cfg.BundleCount = countFlag
	}
	if seedFlag >= 0 {
		cfg.Seed = seedFlag
	}

	ctx := context.Background()

	fmt.Println("=== STEP 1: Load Resource Library ===")
	fmt.Printf("Reading baseline compositions from %s\n", describeSource(cfg))

	ix, warnings, err := loadIndex(ctx, cfg)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Printf("⚠ Skipped %s: %s\n", w.Source, w.Reason)
	}
	fmt.Printf("Loaded %d resources across %d types (%d seed compositions)\n",
		ix.Len(), len(ix.Types()), len(ix.Compositions()))

	if cfg.SynthVitals > 0 {
		added, err := synth.NewGenerator(cfg.Seed).Populate(ix, cfg.SynthVitals)
		if err != nil {
			return fmt.Errorf("synthesize vitals: %w", err)
		}
		fmt.Printf("Synthesized %d vital-sign resource(s) into the library\n", len(added))
	}

	templates, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var refMap map[string]string
	if cfg.RefMapFile != "" {
		refMap, err = fhir.LoadReferenceMap(cfg.RefMapFile)
		if err != nil {
			return err
		}
	}

	builder := compose.NewBuilder(ix, compose.Options{
		MinSections:      cfg.MinSections,
		MaxSections:      cfg.MaxSections,
		MinEntries:       cfg.MinEntries,
		MaxEntries:       cfg.MaxEntries,
		IdentityType:     cfg.IdentityType,
		Seed:             cfg.Seed,
		Templates:        templates,
		StrictRefs:       cfg.StrictRefs,
		SkipPlaceholders: !cfg.Placeholders,
	})

	fmt.Println("\n=== STEP 2: Generate Randomized FHIR Composition Bundle ===")
	built := make([]*compose.Result, 0, cfg.BundleCount)
	hasErrors := false
	for i := 0; i < cfg.BundleCount; i++ {
		if cfg.BundleCount > 1 {
			fmt.Printf("\n--- Bundle %d of %d ---\n", i+1, cfg.BundleCount)
		}

		res, err := builder.Build()
		if err != nil {
			return err
		}

		if len(res.Missing) > 0 {
			fmt.Println("\n⚠ Missing referenced resources (not found in library):")
			for _, key := range res.Missing {
				fmt.Println(" -", key.Ref())
			}
			if len(res.Placeholders) > 0 {
				fmt.Printf("Patched %d placeholder resource(s) into the bundle\n", len(res.Placeholders))
			}
		} else {
			fmt.Println("\nAll referenced resources resolved successfully.")
		}

		for _, issue := range res.Issues {
			fmt.Printf("⚠ [%s/%s] %s\n", issue.Severity, issue.Code, issue.Diagnostics)
		}
		if fhir.HasErrors(res.Issues) {
			hasErrors = true
		}

		built = append(built, res)
	}

	fmt.Println("\n=== STEP 3: Output Saved ===")
	for _, res := range built {
		for _, entry := range res.Bundle.Entry {
			fhir.ApplyReferenceMap(entry.Resource, refMap)
		}

		path, err := output.Write(cfg.OutputDir, res.Bundle)
		if err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
		fmt.Printf("📄 File written to: %s\n", path)

		comp := res.Bundle.Composition()
		fmt.Printf("\nComposition ID: %v\n", comp["id"])
		sections, _ := comp["section"].([]interface{})
		fmt.Printf("Sections: %d\n", len(sections))
		for _, raw := range sections {
			section, _ := raw.(map[string]interface{})
			entries, _ := section["entry"].([]interface{})
			fmt.Printf("  - %v: %d entries\n", section["title"], len(entries))
		}
	}

	if hasErrors && cfg.FailOnIssues {
		return errors.New("generated bundles carry error-severity validation issues")
	}
	return nil
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Resource library
	ctx := context.Background()
	ix, warnings, err := loadIndex(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load resource library")
	}
	logger.Info().
		Int("resources", ix.Len()).
		Int("types", len(ix.Types())).
		Int("warnings", len(warnings)).
		Msg("resource library loaded")

	if cfg.SynthVitals > 0 {
		added, err := synth.NewGenerator(cfg.Seed).Populate(ix, cfg.SynthVitals)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to synthesize vitals")
		}
		logger.Info().Int("added", len(added)).Msg("synthesized vital-sign observations")
	}

	templates, err := loadCatalog(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load section templates")
	}

	e := server.New(*cfg, ix, templates, warnings, logger).Router()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func libCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lib",
		Short: "Inspect and snapshot the resource library",
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show library contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			ix, warnings, err := loadIndex(ctx, cfg)
			if err != nil {
				return err
			}

			fmt.Printf("Library source: %s\n", describeSource(cfg))
			fmt.Printf("Resources: %d\n", ix.Len())
			fmt.Printf("Seed compositions: %d\n", len(ix.Compositions()))
			fmt.Println("\nBy type:")
			counts := ix.CountByType()
			for _, rt := range ix.Types() {
				fmt.Printf("  %-28s %d\n", rt, counts[rt])
			}
			if len(warnings) > 0 {
				fmt.Println("\nWarnings:")
				for _, w := range warnings {
					fmt.Printf("  %s: %s\n", w.Source, w.Reason)
				}
			}
			return nil
		},
	}

	packCmd := &cobra.Command{
		Use:   "pack",
		Short: "Snapshot the library into a SQLite fixture pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				return errors.New("--out is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			ix, _, err := loadIndex(ctx, cfg)
			if err != nil {
				return err
			}

			db, err := library.OpenSQLite(out)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Printf("Packing %d resources into %s\n", ix.Len(), out)
			n, err := library.Pack(ctx, db, ix)
			if err != nil {
				return fmt.Errorf("pack failed: %w", err)
			}
			fmt.Printf("Packed %d resource(s) successfully.\n", n)
			return nil
		},
	}
	packCmd.Flags().String("out", "", "Output path for the SQLite pack")

	cmd.AddCommand(infoCmd)
	cmd.AddCommand(packCmd)
	return cmd
}

// loadIndex materializes the configured library source into an in-memory
// index. DB-backed sources are fully read and closed before it returns.
func loadIndex(ctx context.Context, cfg *config.Config) (*library.Index, []library.Warning, error) {
	switch cfg.Source() {
	case "postgres":
		pool, err := library.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		return library.NewPGSource(pool).Load(ctx)
	case "sqlite":
		db, err := library.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite pack: %w", err)
		}
		defer db.Close()
		return library.NewSQLiteSource(db).Load(ctx)
	default:
		return library.LoadDirectory(cfg.LibraryDir, cfg.LibraryPrefix)
	}
}

func describeSource(cfg *config.Config) string {
	switch cfg.Source() {
	case "postgres":
		return "Postgres"
	case "sqlite":
		return fmt.Sprintf("SQLite pack: %s", cfg.SQLitePath)
	default:
		return fmt.Sprintf("folder: %s", cfg.LibraryDir)
	}
}

func loadCatalog(cfg *config.Config) ([]compose.SectionTemplate, error) {
	if cfg.TemplatesFile == "" {
		return nil, nil
	}
	templates, err := compose.LoadTemplates(cfg.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("load section templates: %w", err)
	}
	return templates, nil
}
