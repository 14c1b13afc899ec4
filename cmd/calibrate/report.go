package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/calibration-core/internal/report"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render results, convergence charts and spacing plots",
	}
	cmd.AddCommand(newReportResultsCmd(), newReportChartCmd(), newReportPlotCmd())
	return cmd
}

// openExisting opens a database that must already exist; store.Open
// would otherwise create an empty one
func openExisting(cmd *cobra.Command, path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return store.Open(cmd.Context(), path)
}

func newReportResultsCmd() *cobra.Command {
	var (
		dbPath string
		runID  string
		style  string
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print the rows of a results database as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openExisting(cmd, dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			w := cmd.OutOrStdout()
			if runID != "" {
				res, err := s.Result(cmd.Context(), runID)
				if err != nil {
					return err
				}
				report.RenderResults(w, []models.Result{*res}, style)
				report.RenderErrors(w, res.Errors, "")
				return nil
			}
			rows, err := s.Results(cmd.Context())
			if err != nil {
				return err
			}
			report.RenderResults(w, rows, style)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "output/"+store.ResultsFile, "Results database")
	cmd.Flags().StringVar(&runID, "run-id", "", "Show one run with its full error bundle")
	cmd.Flags().StringVar(&style, "style", "rounded", "Table style (default, light, bold, double, rounded)")
	return cmd
}

func newReportChartCmd() *cobra.Command {
	var (
		logPath string
		out     string
		title   string
	)
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render the convergence chart of an optimization log as HTML",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := report.ReadOptimizationLog(logPath)
			if err != nil {
				return err
			}
			if title == "" {
				title = logPath
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := report.ConvergenceChart(f, title, entries); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d proposals)\n", out, len(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "Optimization log (optimization_dump.json)")
	cmd.Flags().StringVarP(&out, "out", "o", "convergence.html", "Output HTML file")
	cmd.Flags().StringVar(&title, "title", "", "Chart title (defaults to the log path)")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}

func newReportPlotCmd() *cobra.Command {
	var (
		dbPath string
		runID  string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot recorded and simulated spacing of a best trajectory as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openExisting(cmd, dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			rows, err := s.BestTrajectory(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("no best trajectory for run %q in %s", runID, dbPath)
			}
			if err := report.WriteSpacingPlot(out, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d rows)\n", out, len(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", store.BestTrajectoryFile, "Best trajectory database")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run to plot")
	cmd.Flags().StringVarP(&out, "out", "o", report.SpacingPlotFile, "Output PNG file")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}
