// Package report renders calibration artefacts: the best-trajectory
// spacing plot, the convergence chart of an optimization log and result
// tables.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// SpacingPlotFile is the per-run PNG written next to best_trajectory.db
const SpacingPlotFile = "best_trajectory.png"

var (
	recordedColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	simulatedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// spacingPlot draws recorded and simulated spacing over time
func spacingPlot(rows []models.BestTrajectoryRow) (*plot.Plot, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - follower %d behind leader %d", rows[0].RunID, rows[0].FollowerID, rows[0].LeaderID)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Spacing (m)"

	recorded := make(plotter.XYs, 0, len(rows))
	simulated := make(plotter.XYs, 0, len(rows))
	for _, r := range rows {
		recorded = append(recorded, plotter.XY{X: r.Time, Y: r.Spacing})
		simulated = append(simulated, plotter.XY{X: r.Time, Y: r.SpacingSim})
	}

	recLine, err := plotter.NewLine(recorded)
	if err != nil {
		return nil, fmt.Errorf("recorded line: %w", err)
	}
	recLine.Color = recordedColor
	recLine.Width = vg.Points(1)

	simLine, err := plotter.NewLine(simulated)
	if err != nil {
		return nil, fmt.Errorf("simulated line: %w", err)
	}
	simLine.Color = simulatedColor
	simLine.Width = vg.Points(1)
	simLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(plotter.NewGrid(), recLine, simLine)
	p.Legend.Add("recorded", recLine)
	p.Legend.Add("simulated", simLine)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteSpacingPlot saves the spacing plot of rows as a PNG file
func WriteSpacingPlot(path string, rows []models.BestTrajectoryRow) error {
	p, err := spacingPlot(rows)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// RenderSpacingPlot writes the spacing plot of rows to w as a PNG
func RenderSpacingPlot(w io.Writer, rows []models.BestTrajectoryRow) error {
	p, err := spacingPlot(rows)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
