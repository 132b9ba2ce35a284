package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/checkpoint"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/dlq"
	"github.com/veildata-systems/veilpipe/internal/engine"
	"github.com/veildata-systems/veilpipe/internal/notifier"
	"github.com/veildata-systems/veilpipe/internal/server"
	"github.com/veildata-systems/veilpipe/internal/sink"
	"github.com/veildata-systems/veilpipe/internal/source"
	"github.com/veildata-systems/veilpipe/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var pg *store.Postgres
	if cfg.Checkpoint.Backend == "postgres" || cfg.DLQ.Backend == "postgres" {
		var err error
		pg, err = store.Open(ctx, postgresDSN(cfg), log)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer pg.Close()
	}

	src, err := buildSource(cfg)
	if err != nil {
		return err
	}

	deadLetters, err := buildDeadLetterStore(ctx, cfg, pg, log)
	if err != nil {
		return err
	}
	defer deadLetters.Close()

	checkpoints, err := buildCheckpointStore(cfg, pg)
	if err != nil {
		return err
	}

	snk, err := buildSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer snk.Close(context.Background())

	notif, err := notifier.New(cfg.Notifier.Enabled, cfg.Notifier.NatsURL, log)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	defer notif.Close()

	eng := engine.New(cfg, engine.Deps{
		Source:      src,
		DeadLetters: deadLetters,
		Sink:        snk,
		Checkpoints: checkpoints,
		Notifier:    notif,
	}, log)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	handler := server.NewHandler(eng, log)
	srv := server.NewServer(cfg.Server, server.NewRouter(handler))
	go func() {
		log.Info("admin server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server failed", logging.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("admin server shutdown failed", logging.Error(err))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error("engine shutdown failed", logging.Error(err))
		return err
	}
	return nil
}

func postgresDSN(cfg *config.Config) string {
	if cfg.Checkpoint.DSN != "" {
		return cfg.Checkpoint.DSN
	}
	return cfg.DLQ.DSN
}

func buildSource(cfg *config.Config) (source.Source, error) {
	filters, err := source.LoadFilterRules(cfg.Source.FilterRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load filter rules: %w", err)
	}

	switch cfg.Source.Mode {
	case "cdc":
		return source.NewChangeFeed(cfg.Source, filters), nil
	case "bulk":
		return source.NewBulkExtractor(cfg.Source, filters), nil
	case "synthetic":
		return source.NewSynthetic(cfg.Source, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown source mode %q", cfg.Source.Mode)
	}
}

func buildDeadLetterStore(ctx context.Context, cfg *config.Config, pg *store.Postgres, log *logging.Logger) (dlq.Store, error) {
	switch cfg.DLQ.Backend {
	case "file":
		return dlq.NewFileStore(cfg.DLQ.BasePath, log)
	case "jetstream":
		return dlq.NewJetStreamStore(ctx, cfg.DLQ.NatsURL, log)
	case "postgres":
		return pg.DeadLetters(), nil
	default:
		return nil, fmt.Errorf("unknown dlq backend %q", cfg.DLQ.Backend)
	}
}

func buildCheckpointStore(cfg *config.Config, pg *store.Postgres) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "file":
		return checkpoint.NewFileStore(cfg.Checkpoint.Path, cfg.Checkpoint.MaxHistory)
	case "redis":
		return checkpoint.NewRedisStore(cfg.Checkpoint.RedisURL, cfg.Checkpoint.MaxHistory)
	case "postgres":
		return pg.Checkpoints(cfg.Checkpoint.MaxHistory), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func buildSink(ctx context.Context, cfg *config.Config, log *logging.Logger) (sink.Sink, error) {
	switch cfg.Sink.Backend {
	case "opensearch":
		return sink.NewOpenSearchSink(ctx, cfg.Sink, log)
	case "log":
		return sink.NewLogSink(log), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Sink.Backend)
	}
}
