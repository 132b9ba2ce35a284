package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var (
	seedCount int
	seedRate  time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert synthetic customer changes into the change log",
	Long: `seed fills the configured CDC change table with generated customer
records so the pipeline can be exercised end to end without an upstream
system. The table is created when missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed(cmd.Context())
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of change rows to insert")
	seedCmd.Flags().DurationVar(&seedRate, "rate", 0, "pause between inserts (0 inserts as fast as possible)")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, cfg.Source.DSN)
	if err != nil {
		return fmt.Errorf("connect to source database: %w", err)
	}
	defer pool.Close()

	table := pgx.Identifier{cfg.Source.ChangeTable}.Sanitize()
	_, err = pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq         BIGSERIAL PRIMARY KEY,
			table_name  TEXT        NOT NULL,
			operation   TEXT        NOT NULL,
			row_data    JSONB       NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table))
	if err != nil {
		return fmt.Errorf("create change table: %w", err)
	}

	faker := gofakeit.New(0)
	operations := []string{"insert", "update", "update", "delete"}

	insert := fmt.Sprintf(
		"INSERT INTO %s (table_name, operation, row_data) VALUES ($1, $2, $3)", table)

	for i := 0; i < seedCount; i++ {
		payload := map[string]interface{}{
			"customer_id": faker.UUID(),
			"name":        faker.Name(),
			"email":       faker.Email(),
			"phone":       faker.Phone(),
			"address":     faker.Address().Address,
			"ssn":         faker.SSN(),
			"plan":        faker.RandomString([]string{"free", "basic", "premium"}),
			"balance":     faker.Price(0, 10000),
			"consent":     faker.Bool(),
			"account_id":  faker.UUID(),
		}

		op := operations[i%len(operations)]
		if _, err := pool.Exec(ctx, insert, "customers", op, payload); err != nil {
			return fmt.Errorf("insert change row %d: %w", i, err)
		}

		if seedRate > 0 {
			select {
			case <-time.After(seedRate):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	fmt.Printf("seeded %d change rows into %s\n", seedCount, cfg.Source.ChangeTable)
	return nil
}
