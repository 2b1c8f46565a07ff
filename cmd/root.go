package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reletino",
	Short: "Lead discovery from community posts",
	Long:  "Fetches new posts from configured communities, classifies them against a business profile via Claude, stores relevant ones as leads, and iteratively improves its own classification prompt.",
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
