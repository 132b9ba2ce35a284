// Package cmd implements the veilpipe command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veildata-systems/veilpipe/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "veilpipe",
	Short: "VeilPipe data privacy pipeline",
	Long: `veilpipe ingests change streams or bulk extracts, anonymizes and
validates every record, and persists the results with resumable
checkpoints and a replayable dead-letter store.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/veilpipe/config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not load config: %v\n", err)
		os.Exit(1)
	}
}
