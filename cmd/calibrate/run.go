package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibration"
	"github.com/GoSim-25-26J-441/calibration-core/internal/report"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

type runOptions struct {
	runID         string
	mode          string
	algorithm     string
	budget        int
	leader        int64
	skipArtifacts bool
	style         string
}

// apply copies the flags the user set onto cfg
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if o.runID != "" {
		cfg.Metadata.RunID = o.runID
	}
	if o.mode != "" {
		cfg.Optimization.Mode = o.mode
	}
	if o.algorithm != "" {
		cfg.Optimization.Algorithm = o.algorithm
	}
	if o.budget > 0 {
		cfg.Optimization.Budget = o.budget
	}
	if cmd.Flags().Changed("leader") {
		leader := o.leader
		cfg.Trajectory.LeaderID = &leader
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Calibrate the single pair named by the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := root.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()
			opts.apply(cmd, cfg)

			ctx, stop := signalContext()
			defer stop()

			out := calibration.Run(ctx, calibration.Options{
				Config:        cfg,
				Loader:        store.Loader{},
				Logger:        logger.Default,
				SkipArtifacts: opts.skipArtifacts,
			})
			if !out.Succeeded() {
				return fmt.Errorf("run %s failed: %w", out.RunID, out.Err)
			}

			w := cmd.OutOrStdout()
			report.RenderResults(w, []models.Result{*out.Result}, opts.style)
			report.RenderErrors(w, out.Result.Errors, cfg.Error.Metric)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Override metadata.run_id")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Override optimization.mode (optimize or fixed)")
	cmd.Flags().StringVar(&opts.algorithm, "algorithm", "", "Override optimization.algorithm")
	cmd.Flags().IntVar(&opts.budget, "budget", 0, "Override optimization.budget")
	cmd.Flags().Int64Var(&opts.leader, "leader", 0, "Override trajectory.leader_id")
	cmd.Flags().BoolVar(&opts.skipArtifacts, "skip-artifacts", false, "Do not write the best trajectory database and plot")
	cmd.Flags().StringVar(&opts.style, "style", "rounded", "Table style (default, light, bold, double, rounded)")
	return cmd
}
