package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/dlq"
	"github.com/veildata-systems/veilpipe/internal/store"
)

var dlqLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay the dead-letter store",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		deadLetters, cleanup, err := openDeadLetterStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		entries, err := deadLetters.List(ctx, dlqLimit)
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <id|all>",
	Short: "Replay one entry, or all entries, through the running pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Replay needs the live buffer, so it goes through the admin API.
		url := fmt.Sprintf("http://localhost:%d/api/v1/dlq/%s/replay", cfg.Server.Port, args[0])
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
		if err != nil {
			return err
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("is the pipeline running? %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("replay failed: %s", string(body))
		}
		fmt.Println(string(body))
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		deadLetters, cleanup, err := openDeadLetterStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		removed, err := deadLetters.Purge(ctx)
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
		fmt.Printf("purged %d entries\n", removed)
		return nil
	},
}

func openDeadLetterStore(ctx context.Context) (dlq.Store, func(), error) {
	log := logging.New(logging.ParseLevel("warn"), cfg.Logging.Format)

	switch cfg.DLQ.Backend {
	case "file":
		s, err := dlq.NewFileStore(cfg.DLQ.BasePath, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "jetstream":
		s, err := dlq.NewJetStreamStore(ctx, cfg.DLQ.NatsURL, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		pg, err := store.Open(ctx, postgresDSNFor(cfg), log)
		if err != nil {
			return nil, nil, err
		}
		return pg.DeadLetters(), pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown dlq backend %q", cfg.DLQ.Backend)
	}
}

func postgresDSNFor(cfg *config.Config) string {
	if cfg.DLQ.DSN != "" {
		return cfg.DLQ.DSN
	}
	return cfg.Checkpoint.DSN
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 100, "maximum entries to list")
	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd, dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}
