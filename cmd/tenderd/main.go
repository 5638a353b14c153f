// tenderd is the procurement ingestion daemon and its operator CLI.
//
// Subcommands:
//
//	serve   run the scheduler and the read API
//	ingest  run one connector once (optionally resetting its cursor)
//	status  print the job-ledger summary per connector
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/config"
	"github.com/jimjcranshaw/janet-contracts-project/internal/docstore"
	httpapi "github.com/jimjcranshaw/janet-contracts-project/internal/http"
	"github.com/jimjcranshaw/janet-contracts-project/internal/ingest"
	"github.com/jimjcranshaw/janet-contracts-project/internal/observability"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
	"github.com/jimjcranshaw/janet-contracts-project/internal/scheduler"
	"github.com/jimjcranshaw/janet-contracts-project/internal/services"
)

const version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "tenderd",
		Short:   "UK procurement notice ingestion pipeline",
		Version: version,
		Long: `tenderd pulls procurement notices from Find a Tender and Contracts
Finder, stores every fetched payload immutably, detects material changes,
normalises notices into a structured model, and resolves buyers and
suppliers to canonical identities.`,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(fetchDocsCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, configures logging, and opens the database.
func setup() (config.Config, *gorm.DB, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = repo.OpenPostgres(cfg.DatabaseURL)
	} else {
		db, err = repo.OpenSQLite(cfg.SQLitePath)
	}
	if err != nil {
		return cfg, nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return cfg, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, db, nil
}

// buildConnectors returns the enabled connectors keyed by name.
func buildConnectors(cfg config.Config) map[string]ingest.Connector {
	out := map[string]ingest.Connector{}
	t := cfg.Ingest.FetchTimeout
	if cfg.FTS.Enabled {
		out["fts"] = ingest.NewFTSConnector(ingest.FTSOptions{
			BaseURL:   cfg.FTS.BaseURL,
			StartFrom: seedTime(cfg.FTS.SeedFrom),
			Timeout:   t,
			RPS:       cfg.FTS.RateRPS,
			Burst:     cfg.FTS.Burst,
		})
	}
	if cfg.CF.Enabled {
		out["cf"] = ingest.NewCFConnector(ingest.CFOptions{
			BaseURL:   cfg.CF.BaseURL,
			StartFrom: seedTime(cfg.CF.SeedFrom),
			Timeout:   t,
			RPS:       cfg.CF.RateRPS,
			Burst:     cfg.CF.Burst,
		})
	}
	if cfg.Awards.Enabled {
		out["awards"] = ingest.NewAwardFeedConnector(ingest.AwardFeedOptions{
			BaseURL: cfg.Awards.BaseURL,
			Timeout: t,
			RPS:     cfg.Awards.RateRPS,
			Burst:   cfg.Awards.Burst,
		})
	}
	return out
}

// seedTime parses the configured backfill start, defaulting to 30 days
// back when unset or unparseable.
func seedTime(s string) time.Time {
	if s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC().AddDate(0, 0, -30)
}

func buildOrchestrator(cfg config.Config, db *gorm.DB) *ingest.Orchestrator {
	resolver := ingest.NewResolver(db, ingest.ResolverConfig{
		BindThreshold:      cfg.Resolver.BindThreshold,
		CandidateThreshold: cfg.Resolver.CandidateThreshold,
		TieMargin:          cfg.Resolver.TieMargin,
	})
	return ingest.NewOrchestrator(db, ingest.OrchestratorConfig{
		MaxFetchAttempts: cfg.Ingest.MaxFetchAttempts,
		BackoffInitial:   cfg.Ingest.BackoffInitial,
		LockTTL:          cfg.Ingest.LockTTL,
		Workers:          cfg.Ingest.Workers,
		MaxPages:         cfg.Ingest.MaxPages,
	}, ingest.NewNormaliser(), resolver, log.Logger)
}

func connectorNames(connectors map[string]ingest.Connector) []string {
	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	return names
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion scheduler and the read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
			if err != nil {
				return fmt.Errorf("otel: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownOTel(sctx)
			}()

			connectors := buildConnectors(cfg)
			orch := buildOrchestrator(cfg, db)

			sched := scheduler.New(orch, cfg.Ingest.LockTTL, log.Logger)
			for _, spec := range []struct {
				name string
				cron string
			}{
				{"fts", cfg.FTS.Schedule},
				{"cf", cfg.CF.Schedule},
				{"awards", cfg.Awards.Schedule},
			} {
				c, enabled := connectors[spec.name]
				if !enabled {
					continue
				}
				if err := sched.Add(c, spec.cron); err != nil {
					return fmt.Errorf("schedule %s: %w", spec.name, err)
				}
			}
			sched.Start()
			defer sched.Stop()

			gin.SetMode(cfg.GinMode)
			engine := gin.New()
			httpapi.RegisterRoutes(engine, db, connectorNames(connectors), cfg)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           engine,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("api listening")
				errCh <- srv.ListenAndServe()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case sig := <-quit:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}

			sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			<-sched.Stop().Done()
			return srv.Shutdown(sctx)
		},
	}
}

func ingestCmd() *cobra.Command {
	var source string
	var reset bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one connector once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup()
			if err != nil {
				return err
			}

			connectors := buildConnectors(cfg)
			c, enabled := connectors[source]
			if !enabled {
				return fmt.Errorf("unknown or disabled connector %q", source)
			}

			orch := buildOrchestrator(cfg, db)
			res, err := orch.Run(cmd.Context(), c, ingest.RunOptions{ResetCursor: reset})
			if err != nil {
				return err
			}
			fmt.Printf("run %s finished: status=%s seen=%d changed=%d errors=%d\n",
				res.RunID, res.Status, res.Seen, res.Changed, res.Errors)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "fts", "connector to run (fts, cf, awards)")
	cmd.Flags().BoolVar(&reset, "resync", false, "discard the cursor and re-read the feed from its seed date")
	return cmd
}

func fetchDocsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "fetch-docs",
		Short: "Download pending notice attachments into the document store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup()
			if err != nil {
				return err
			}
			store, err := docstore.NewFSStore(cfg.DocstoreRoot)
			if err != nil {
				return err
			}
			fetcher := ingest.NewDocFetcher(db, store, cfg.Ingest.FetchTimeout, log.Logger)
			stored, err := fetcher.FetchPending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("stored %d attachments\n", stored)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum attachments to fetch")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the job-ledger summary per connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup()
			if err != nil {
				return err
			}

			svc := services.NewStatusService(db, connectorNames(buildConnectors(cfg)))
			all, err := svc.StatusAll(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		},
	}
}
