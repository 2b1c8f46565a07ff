package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/optimizer"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Evaluate and improve the classification prompt",
	Long:  "Samples the labeled dataset, measures the stored prompt's accuracy, and rewrites the prompt until it clears the required accuracy or the iteration cap is hit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, optErr := env.optimizer().Optimize(ctx)
		if optErr != nil && !errors.Is(optErr, optimizer.ErrAccuracyNotReached) {
			return optErr
		}
		if errors.Is(optErr, optimizer.ErrAccuracyNotReached) {
			zap.L().Warn("accuracy bar not reached, best prompt kept",
				zap.Float64("best_accuracy", summary.BestAccuracy),
				zap.Int("iterations", summary.Iterations))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
}
