package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibration"
	"github.com/GoSim-25-26J-441/calibration-core/internal/optimizer"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var printConfig bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config without simulating anything",
		Long: "Parses the config, applies defaults and resolves the metric, the search space " +
			"and the optimizer the way a run would. Nothing is written to disk.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := root.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			c, err := calibration.New(calibration.Options{Config: cfg, Logger: logger.Default})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			resolved := c.Config()
			fmt.Fprintf(w, "config %s is valid\n", root.configPath)
			fmt.Fprintf(w, "  backend:   %s\n", resolved.Simulation.Backend)
			fmt.Fprintf(w, "  model:     %s (%d parameters)\n", resolved.CFModel.Model, len(resolved.CFModel.Parameters))
			fmt.Fprintf(w, "  metric:    %s on %s\n", resolved.Error.Metric, resolved.Error.Method)
			if resolved.Optimization.Mode == config.ModeFixed {
				fmt.Fprintf(w, "  mode:      %s\n", resolved.Optimization.Mode)
			} else {
				fmt.Fprintf(w, "  mode:      %s with %s, budget %d\n",
					resolved.Optimization.Mode, resolved.Optimization.Algorithm, resolved.Optimization.Budget)
			}
			fmt.Fprintf(w, "  optimizers: %s\n", strings.Join(optimizer.Names(), ", "))

			if printConfig {
				data, err := config.MarshalYAML(resolved)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "---\n%s", data)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printConfig, "print", false, "Print the config with defaults applied")
	return cmd
}
