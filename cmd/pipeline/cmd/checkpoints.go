package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/checkpoint"
	"github.com/veildata-systems/veilpipe/internal/store"
)

var checkpointLimit int

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List stored checkpoints, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		st, cleanup, err := openCheckpointStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		checkpoints, err := st.List(ctx, checkpointLimit)
		if err != nil {
			return fmt.Errorf("list checkpoints: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(checkpoints)
	},
}

func openCheckpointStore(ctx context.Context) (checkpoint.Store, func(), error) {
	log := logging.New(logging.ParseLevel("warn"), cfg.Logging.Format)

	switch cfg.Checkpoint.Backend {
	case "file":
		s, err := checkpoint.NewFileStore(cfg.Checkpoint.Path, cfg.Checkpoint.MaxHistory)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "redis":
		s, err := checkpoint.NewRedisStore(cfg.Checkpoint.RedisURL, cfg.Checkpoint.MaxHistory)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		pg, err := store.Open(ctx, cfg.Checkpoint.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		return pg.Checkpoints(cfg.Checkpoint.MaxHistory), pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func init() {
	checkpointsCmd.Flags().IntVar(&checkpointLimit, "limit", 10, "maximum checkpoints to list")
	rootCmd.AddCommand(checkpointsCmd)
}
