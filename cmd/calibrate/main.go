// Command calibrate fits car-following parameters to recorded trajectories.
package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "calibrate",
		Short:         "Calibrate car-following models against recorded trajectories",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config/calibration.yaml", "Path to the calibration config")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the config log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newBatchCmd(opts),
		newValidateCmd(opts),
		newReportCmd(),
	)
	return root
}

// loadConfig reads the config and installs the logger it describes. The
// returned closer releases the log file, if any.
func (o *rootOptions) loadConfig(console io.Writer) (*config.Config, io.Closer, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	if cfg.Logging != nil {
		log, closer := logger.NewTee(level, console, logger.FileOptions{
			Filename:   cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		logger.SetDefault(log)
		return cfg, closer, nil
	}
	logger.SetDefault(logger.NewText(level, console))
	return cfg, nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
