package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// Table styles accepted by RenderResults
var styles = map[string]table.Style{
	"default": table.StyleDefault,
	"light":   table.StyleLight,
	"bold":    table.StyleBold,
	"double":  table.StyleDouble,
	"rounded": table.StyleRounded,
}

// RenderResults writes one row per result with a column per parameter
// name seen in any result. Unknown styles fall back to the default.
func RenderResults(w io.Writer, rows []models.Result, style string) {
	params := paramNames(rows)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	s, ok := styles[strings.ToLower(style)]
	if !ok {
		s = table.StyleDefault
	}
	tw.SetStyle(s)

	header := table.Row{"run_id", "leader", "follower", "model", "mode", "fitness", "collision", "evals", "opt_time"}
	for _, p := range params {
		header = append(header, p)
	}
	tw.AppendHeader(header)

	for _, r := range rows {
		row := table.Row{r.RunID, r.LeaderID, r.FollowerID, r.CFModel, r.Mode,
			formatFloat(r.Fitness), r.Collision, r.Evaluations, fmt.Sprintf("%.1fs", r.OptTime)}
		for _, p := range params {
			v, ok := r.Params[p]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, formatFloat(v))
		}
		tw.AppendRow(row)
	}
	tw.AppendFooter(table.Row{"", "", "", "", "total", len(rows)})
	tw.Render()
}

// RenderErrors writes the metric bundle of one result, one metric per row
func RenderErrors(w io.Writer, errs map[string]float64, selected string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"metric", "value", ""})

	for _, n := range models.SortedKeys(errs) {
		mark := ""
		if n == selected {
			mark = "*"
		}
		tw.AppendRow(table.Row{n, formatFloat(errs[n]), mark})
	}
	tw.Render()
}

func paramNames(rows []models.Result) []string {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r.Params {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.Abs(v) >= 1e5:
		return fmt.Sprintf("%.3g", v)
	default:
		return fmt.Sprintf("%.4f", v)
	}
}
