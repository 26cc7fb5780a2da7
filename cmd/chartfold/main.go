package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/chartfold/internal/config"
	"github.com/ehr/chartfold/internal/domain/loader"
	"github.com/ehr/chartfold/internal/domain/pipeline"
	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/domain/status"
	"github.com/ehr/chartfold/internal/platform/db"
	"github.com/ehr/chartfold/internal/platform/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chartfold",
		Short:        "Normalize, reconcile and load clinical record exports",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

// app is the wiring shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *db.DB
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	loader  *loader.Loader
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// setup loads the config, opens the store and applies pending migrations.
// Logs go to logw so command output on stdout stays clean.
func setup(ctx context.Context, logw io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg, logw)

	dialect, err := db.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, db.Options{
		Dialect:  dialect,
		Path:     cfg.DBPath,
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	migrator, err := store.Migrator()
	if err != nil {
		store.Close()
		return nil, err
	}
	n, err := migrator.Up(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	if n > 0 {
		logger.Info().Int("applied", n).Str("driver", string(dialect)).Msg("store migrated")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: m,
		reg:     reg,
		loader:  loader.New(store.DB, store.Dialect, logger, loader.WithMetrics(m)),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <auto|epic|meditech|athena|mychart> <path>",
		Short: "Map, reconcile and load one export",
		Long: "Load reads the extraction of one export and replaces everything the source\n" +
			"held in the store with it. The source name is derived from the export\n" +
			"directory unless --source-name is given; a MyChart page is named by its\n" +
			"file so sibling visits load as separate sources.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("source-name")

			ctx := cmd.Context()
			a, err := setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			runner := &pipeline.Runner{
				Mappers:  pipeline.DefaultRegistry(),
				Loader:   a.loader,
				Logger:   a.logger,
				Metrics:  a.metrics,
				LinkDays: a.cfg.PathologyLinkDays,
			}
			kind, path, err := runner.Resolve(args[0], args[1])
			if err != nil {
				return err
			}
			source := pipeline.SourceName(name, path, kind)

			out, err := runner.RunFile(ctx, kind, path, source)
			if err != nil {
				return fmt.Errorf("load %s: %w", source, err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Loaded %s export as %s (load %s, %s)\n",
				out.Kind, out.Source, out.Load.LoadID, out.Load.Duration.Round(time.Millisecond))
			if out.Linked > 0 {
				fmt.Fprintf(w, "  %d pathology report(s) linked to procedures\n", out.Linked)
			}
			if err := out.Report.Render(w); err != nil {
				return err
			}
			if out.Report.Lossy() {
				fmt.Fprintln(w, "\n  WARNING: some tables lost records; see the flagged rows above.")
			}
			return nil
		},
	}
	cmd.Flags().String("source-name", "", "Source tag to store the records under")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")

			cfg, store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			migrator, err := store.Migrator()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Running %s migrations\n", cfg.DBDriver)

			var count int
			if target > 0 {
				count, err = migrator.UpTo(cmd.Context(), target)
			} else {
				count, err = migrator.Up(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			migrator, err := store.Migrator()
			if err != nil {
				return err
			}
			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Migration status (%s)\n", cfg.DBDriver)
			fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				state := "pending"
				appliedAt := ""
				if s.Applied {
					state = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

// openStore opens the configured store without migrating it.
func openStore(ctx context.Context) (*config.Config, *db.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	dialect, err := db.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, nil, err
	}
	store, err := db.Open(ctx, db.Options{
		Dialect:  dialect,
		Path:     cfg.DBPath,
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, nil
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [load-id]",
		Short: "List past loads, or show the stage counts of one load",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			a, err := setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				entry, err := a.loader.LoadByID(ctx, args[0])
				if errors.Is(err, loader.ErrNotFound) {
					return fmt.Errorf("no load with id %s", args[0])
				}
				if err != nil {
					return err
				}
				rep, err := a.loader.StageCounts(ctx, entry.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Load %s of %s at %s\n", entry.ID, entry.Source, entry.LoadedAt.Format(time.RFC3339))
				return rep.Render(w)
			}

			entries, err := a.loader.History(ctx, source, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(w, "No loads recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "LOAD ID\tSOURCE\tLOADED AT\tDURATION\tRECORDS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					e.ID, e.Source, e.LoadedAt.Format("2006-01-02 15:04:05"), e.Duration, e.Counts.Total())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("source", "", "Only list loads of this source")
	cmd.Flags().Int("limit", 20, "Maximum number of loads to list (0 lists all)")
	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count stored records per table",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")

			ctx := cmd.Context()
			a, err := setup(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			var counts records.Counts
			if source != "" {
				counts, err = a.loader.SourceCounts(ctx, source)
			} else {
				counts, err = a.loader.Summary(ctx)
			}
			if err != nil {
				return err
			}
			sources, err := a.loader.Sources(ctx)
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), counts, sources)
		},
	}
	cmd.Flags().String("source", "", "Only count rows of this source")
	return cmd
}

func writeSummary(w io.Writer, counts records.Counts, sources []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TABLE\tROWS\t")
	for _, t := range records.AllTables() {
		if counts[t] > 0 {
			fmt.Fprintf(tw, "%s\t%d\t\n", t, counts[t])
		}
	}
	fmt.Fprintf(tw, "total\t%d\t\n", counts.Total())
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d source(s) loaded\n", len(sources))
	return err
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve load history, stage counts and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cmd.ErrOrStderr())
		},
	}
}

func runServer(ctx context.Context, logw io.Writer) error {
	a, err := setup(ctx, logw)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(a.store.DB, string(a.store.Dialect)))

	e := status.NewServer(status.NewHandler(a.loader, a.store, a.metrics), logger, a.metrics, status.DefaultTimeout)

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.StatusPort
		logger.Info().Str("addr", addr).Msg("starting status server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
