package calibration

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/GoSim-25-26J-441/calibration-core/internal/paramspace"
	"github.com/GoSim-25-26J-441/calibration-core/internal/report"
)

// OptimizationLogFile is the per-run JSON-lines record of evaluated
// proposals
const OptimizationLogFile = "optimization_dump.json"

// optimizationLog appends one JSON object per evaluated proposal
type optimizationLog struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	session string
}

// createOptimizationLog truncates any previous log at path
func createOptimizationLog(path string) (*optimizationLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create optimization log: %w", err)
	}
	return &optimizationLog{f: f, w: bufio.NewWriter(f), session: uuid.NewString()}, nil
}

func (l *optimizationLog) write(tell int, values paramspace.Values, loss float64) error {
	entry := make(map[string]any, len(values)+4)
	for k, v := range values {
		entry[k] = v
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		entry[report.KeyLoss] = nil
	} else {
		entry[report.KeyLoss] = loss
	}
	entry[report.KeyNumTell] = tell
	entry[report.KeyFeasible] = true
	entry[report.KeySession] = l.session

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *optimizationLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
