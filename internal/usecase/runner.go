package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/catalog"
)

// ErrRunInProgress is returned when a run for the same date has not finished yet.
var ErrRunInProgress = errors.New("run already in progress for date")

// RunState is the in-memory view of a run started through a Runner.
type RunState struct {
	RunID     string            `json:"run_id"`
	Date      time.Time         `json:"date"`
	Status    catalog.RunStatus `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Report    *RunReport        `json:"report,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Runner executes pipeline runs in the background, at most one per date.
type Runner struct {
	pipeline *Pipeline
	ctx      context.Context
	keep     int

	mu     sync.Mutex
	runs   map[string]*RunState
	active map[string]string // date -> run id
	wg     sync.WaitGroup
}

// NewRunner creates a runner whose runs are cancelled with ctx. It remembers
// the last keep runs.
func NewRunner(ctx context.Context, p *Pipeline, keep int) *Runner {
	if keep <= 0 {
		keep = 100
	}
	return &Runner{
		pipeline: p,
		ctx:      ctx,
		keep:     keep,
		runs:     make(map[string]*RunState),
		active:   make(map[string]string),
	}
}

// Start launches a run for date and returns immediately.
func (r *Runner) Start(date time.Time) (RunState, error) {
	if err := r.pipeline.Options().Validate(); err != nil {
		return RunState{}, err
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	key := day.Format("2006-01-02")

	r.mu.Lock()
	if id, ok := r.active[key]; ok {
		r.mu.Unlock()
		return RunState{RunID: id, Date: day, Status: catalog.StatusRunning}, ErrRunInProgress
	}
	state := &RunState{
		RunID:     uuid.NewString(),
		Date:      day,
		Status:    catalog.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	r.runs[state.RunID] = state
	r.active[key] = state.RunID
	r.evictLocked()
	snapshot := *state
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		report, err := r.pipeline.RunWithID(r.ctx, state.RunID, day)

		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.active, key)
		state.Report = report
		state.Status = catalog.StatusSucceeded
		if err != nil {
			state.Status = catalog.StatusFailed
			state.Error = err.Error()
		}
	}()
	return snapshot, nil
}

// Get returns the state of a run started by this runner.
func (r *Runner) Get(id string) (RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.runs[id]
	if !ok {
		return RunState{}, false
	}
	return *s, true
}

// List returns the remembered runs, newest first.
func (r *Runner) List() []RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunState, 0, len(r.runs))
	for _, s := range r.runs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// evictLocked drops the oldest finished runs beyond keep.
func (r *Runner) evictLocked() {
	if len(r.runs) <= r.keep {
		return
	}
	finished := make([]*RunState, 0, len(r.runs))
	for _, s := range r.runs {
		if s.Status != catalog.StatusRunning {
			finished = append(finished, s)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
	for _, s := range finished {
		if len(r.runs) <= r.keep {
			return
		}
		delete(r.runs, s.RunID)
	}
}
