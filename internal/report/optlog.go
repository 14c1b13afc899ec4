package report

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// Reserved keys of an optimization log line. Every other key is a
// parameter value.
const (
	KeyLoss     = "#loss"
	KeyNumTell  = "#num-tell"
	KeyFeasible = "#feasible"
	KeySession  = "#session"
)

// LogEntry is one evaluated proposal of an optimization log
type LogEntry struct {
	Tell     int
	Loss     float64
	Feasible bool
	Session  string
	Params   map[string]float64
}

// ParseOptimizationLog parses JSON-lines log content. Blank lines are
// skipped; a null loss reads as NaN.
func ParseOptimizationLog(content string) ([]LogEntry, error) {
	var out []LogEntry
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if !gjson.Valid(text) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		e := LogEntry{Loss: math.NaN(), Feasible: true, Params: map[string]float64{}}
		gjson.Parse(text).ForEach(func(key, value gjson.Result) bool {
			switch key.String() {
			case KeyLoss:
				if value.Type == gjson.Number {
					e.Loss = value.Float()
				}
			case KeyNumTell:
				e.Tell = int(value.Int())
			case KeyFeasible:
				e.Feasible = value.Bool()
			case KeySession:
				e.Session = value.String()
			default:
				if value.Type == gjson.Number {
					e.Params[key.String()] = value.Float()
				}
			}
			return true
		})
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadOptimizationLog reads the log file at path
func ReadOptimizationLog(path string) ([]LogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read optimization log: %w", err)
	}
	entries, err := ParseOptimizationLog(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// BestSoFar returns the running minimum of the losses. NaN losses never
// improve it.
func BestSoFar(entries []LogEntry) []float64 {
	out := make([]float64, len(entries))
	best := math.Inf(1)
	for i, e := range entries {
		if !math.IsNaN(e.Loss) && e.Loss < best {
			best = e.Loss
		}
		out[i] = best
	}
	return out
}
