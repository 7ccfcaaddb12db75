package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "costwatch",
	Short: "Construction cost envelope tracking and variance alerting",
	Long:  "Tracks the gap between a project's tendered cost structure and its actual incurred costs, reconciles re-imported tender BOQs into the working draft, and raises alerts when variance or profit erosion crosses configured thresholds.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
