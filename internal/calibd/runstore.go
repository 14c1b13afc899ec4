// Package calibd serves calibration runs over HTTP and gRPC. Runs live in
// memory; each one owns its config, its fitness series and, once finished,
// its result.
package calibd

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

// Status is the lifecycle state of a run
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether a run in this state can no longer change
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus parses a status name case-insensitively
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(s)); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return st, true
	}
	return "", false
}

// ErrRunExists is returned when a run id is already taken
var ErrRunExists = errors.New("run already exists")

// Run is the externally visible state of a run
type Run struct {
	ID              string
	Status          Status
	CreatedAtUnixMs int64
	StartedAtUnixMs int64
	EndedAtUnixMs   int64
	Error           string
}

type RunRecord struct {
	Run       Run
	Config    *config.Config
	Result    *models.Result
	Collector *metrics.Collector
	Callback  Callback

	notified bool
}

type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunRecord),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Create registers a pending run for cfg. The id falls back to the
// config's run id and then to a generated one; the stored config carries
// the final id.
func (s *RunStore) Create(runID string, cfg *config.Config) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = cfg.Metadata.RunID
	}
	if runID == "" {
		runID = utils.GenerateRunID()
	}
	if strings.ContainsAny(runID, "/:") {
		return nil, fmt.Errorf("run id cannot contain '/' or ':': %s", runID)
	}
	if _, exists := s.runs[runID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	cfg = cfg.Clone()
	cfg.Metadata.RunID = runID
	rec := &RunRecord{
		Run: Run{
			ID:              runID,
			Status:          StatusPending,
			CreatedAtUnixMs: nowUnixMs(),
		},
		Config:    cfg,
		Collector: metrics.NewCollector(),
	}
	s.runs[runID] = rec
	return rec.snapshot(), nil
}

// snapshot copies the mutable part of a record so readers never race the
// executor
func (r *RunRecord) snapshot() *RunRecord {
	cp := *r
	return &cp
}

func (s *RunStore) Get(runID string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// List returns runs ordered by creation time, optionally filtered by
// status. A zero status matches every run.
func (s *RunStore) List(limit, offset int, status Status) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	all := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if status != "" && rec.Run.Status != status {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Run.CreatedAtUnixMs != all[j].Run.CreatedAtUnixMs {
			return all[i].Run.CreatedAtUnixMs < all[j].Run.CreatedAtUnixMs
		}
		return all[i].Run.ID < all[j].Run.ID
	})

	if offset >= len(all) {
		return []*RunRecord{}
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*RunRecord, len(all))
	for i, rec := range all {
		out[i] = rec.snapshot()
	}
	return out
}

// SetStatus moves a run to status. Terminal runs keep their state; the
// returned record then shows it unchanged.
func (s *RunStore) SetStatus(runID string, status Status, errMsg string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.Terminal() {
		return rec.snapshot(), nil
	}

	rec.Run.Status = status
	if errMsg != "" {
		rec.Run.Error = errMsg
	}
	switch {
	case status == StatusRunning:
		if rec.Run.StartedAtUnixMs == 0 {
			rec.Run.StartedAtUnixMs = nowUnixMs()
		}
	case status.Terminal():
		rec.Run.EndedAtUnixMs = nowUnixMs()
	}
	return rec.snapshot(), nil
}

// Complete attaches the result and marks the run completed in one step.
// A run cancelled in the meantime keeps its state and gets no result.
func (s *RunStore) Complete(runID string, res *models.Result) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.Terminal() {
		return rec.snapshot(), nil
	}
	rec.Result = res
	rec.Run.Status = StatusCompleted
	rec.Run.EndedAtUnixMs = nowUnixMs()
	return rec.snapshot(), nil
}

// SetCallback records where the run reports its terminal state
func (s *RunStore) SetCallback(runID string, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Callback = cb
	return nil
}

// claimNotification hands out a terminal run exactly once
func (s *RunStore) claimNotification(runID string) (*RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok || rec.notified || !rec.Run.Status.Terminal() {
		return nil, false
	}
	rec.notified = true
	return rec.snapshot(), true
}
