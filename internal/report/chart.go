package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// missing is how echarts marks an absent point
const missing = "-"

// ConvergenceChart renders the loss of every proposal and the best loss so
// far as an HTML line chart. Collided and NaN losses are left out of the
// loss series so the penalty does not flatten the scale.
func ConvergenceChart(w io.Writer, title string, entries []LogEntry) error {
	x := make([]int, len(entries))
	loss := make([]opts.LineData, len(entries))
	best := make([]opts.LineData, len(entries))
	collided := 0
	for i, b := range BestSoFar(entries) {
		e := entries[i]
		x[i] = e.Tell
		if math.IsNaN(e.Loss) || e.Loss > models.CollisionThreshold {
			loss[i] = opts.LineData{Value: missing}
			collided++
		} else {
			loss[i] = opts.LineData{Value: e.Loss}
		}
		if math.IsInf(b, 1) || b > models.CollisionThreshold {
			best[i] = opts.LineData{Value: missing}
		} else {
			best[i] = opts.LineData{Value: b}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Calibration convergence", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("proposals=%d collided=%d", len(entries), collided)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tell", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "loss", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("loss", loss).
		AddSeries("best", best)

	return line.Render(w)
}
