package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/calibration-core/internal/batch"
	"github.com/GoSim-25-26J-441/calibration-core/internal/report"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

func newBatchCmd(root *rootOptions) *cobra.Command {
	var (
		workers       int
		limit         int
		resultsDB     string
		skipArtifacts bool
		style         string
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Calibrate every pair listed in the trajectory database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := root.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			if cfg.Batch == nil {
				cfg.Batch = &config.Batch{}
			}
			if workers > 0 {
				cfg.Batch.Workers = workers
			}
			if limit > 0 {
				cfg.Batch.PairsLimit = limit
			}
			if resultsDB != "" {
				cfg.Batch.ResultsDB = resultsDB
			}

			ctx, stop := signalContext()
			defer stop()

			summary, err := batch.Execute(ctx, cfg, batch.Options{
				Logger:        logger.Default,
				SkipArtifacts: skipArtifacts,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			report.RenderResults(w, summary.Results(), style)
			fmt.Fprintf(w, "%d succeeded, %d failed in %s; results in %s\n",
				summary.Succeeded, summary.Failed, utils.FormatDuration(summary.Duration), batch.ResultsPath(cfg))
			if summary.Succeeded == 0 && summary.Failed > 0 {
				return fmt.Errorf("all %d runs failed", summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "Override batch.workers")
	cmd.Flags().IntVar(&limit, "limit", 0, "Override batch.pairs_limit")
	cmd.Flags().StringVar(&resultsDB, "results-db", "", "Override batch.results_db")
	cmd.Flags().BoolVar(&skipArtifacts, "skip-artifacts", false, "Do not write per-run best trajectory files")
	cmd.Flags().StringVar(&style, "style", "rounded", "Table style (default, light, bold, double, rounded)")
	return cmd
}
