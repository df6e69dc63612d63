// Package tasks provides the in-memory task registry and state machine
// for asynchronous search jobs.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/lgomes/patentscope-api/internal/patents"
)

// ErrNotFound is returned when a task ID is unknown to the registry.
var ErrNotFound = errors.New("task not found")

// Status is the lifecycle state of a task. Transitions are monotonic:
// queued -> running -> completed|failed, and the terminal states are
// final.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is one asynchronous search job. Result is set exactly once, on
// the transition to completed; Error exactly once, on the transition to
// failed. At most one of the two is ever set.
type Task struct {
	ID        string                `json:"task_id"`
	Status    Status                `json:"status"`
	Progress  string                `json:"progress,omitempty"`
	Result    *patents.SearchResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Summary is the listing view of a task.
type Summary struct {
	ID        string    `json:"task_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RunFunc executes the search bound to a task. The registry invokes it
// on its own goroutine; the function reports back through the registry's
// mutators and must end every task in a terminal state.
type RunFunc func(ctx context.Context, taskID string, spec patents.SearchSpec)

// Options configures a Registry.
type Options struct {
	// Run executes a submitted task. Required.
	Run RunFunc
	// MaxConcurrent bounds the number of tasks running at once; further
	// submissions stay queued until a slot frees up. Defaults to 4.
	MaxConcurrent int64
	Logger        zerolog.Logger
}

// Registry owns task identity, status transitions, and progress/result/
// error storage. Tasks live in process memory only and are retained for
// the process lifetime.
type Registry struct {
	opts Options
	sem  *semaphore.Weighted

	mu    sync.RWMutex
	byID  map[string]*Task
	order []string
}

// New creates a Registry.
func New(opts Options) *Registry {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Registry{
		opts: opts,
		sem:  semaphore.NewWeighted(opts.MaxConcurrent),
		byID: make(map[string]*Task),
	}
}

// Submit validates the spec, stores a new queued task, and schedules its
// execution without blocking the caller. The run is detached from the
// submitter and keeps going after the caller disconnects; the pipeline's
// per-call timeouts are its only bound. Returns the new task ID, or a
// *patents.ValidationError when the spec is rejected (in which case no
// task is created).
func (r *Registry) Submit(spec patents.SearchSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	spec = spec.Normalized()

	task := &Task{
		ID:        uuid.New().String(),
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.byID[task.ID] = task
	r.order = append(r.order, task.ID)
	r.mu.Unlock()

	r.opts.Logger.Info().
		Str("task_id", task.ID).
		Str("term", spec.Term).
		Int("limit", spec.Limit).
		Msg("search task created")

	go r.dispatch(task.ID, spec)
	return task.ID, nil
}

// dispatch waits for a concurrency slot and hands the task to the run
// function. It runs on a fresh background context so the task survives
// the submitting request.
func (r *Registry) dispatch(taskID string, spec patents.SearchSpec) {
	ctx := context.Background()
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.Fail(taskID, "task scheduling aborted: "+err.Error())
		return
	}
	defer r.sem.Release(1)

	r.opts.Run(ctx, taskID, spec)
}

// Get returns a snapshot of the task's current state.
func (r *Registry) Get(taskID string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.byID[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *task, nil
}

// List returns all known tasks in submission order.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		task := r.byID[id]
		out = append(out, Summary{ID: task.ID, Status: task.Status, CreatedAt: task.CreatedAt})
	}
	return out
}

// Start transitions a queued task to running. Invoked by the run bound
// to the task before it begins driving the source.
func (r *Registry) Start(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok || task.Status != StatusQueued {
		return
	}
	task.Status = StatusRunning
}

// UpdateProgress replaces the task's progress text. Last write wins.
// Terminal tasks are left alone.
func (r *Registry) UpdateProgress(taskID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok || task.Status.terminal() {
		return
	}
	task.Progress = text
}

// Complete transitions the task to completed and stores its result.
// A no-op when the task is already terminal: a misbehaving run must
// never resurrect a finished task.
func (r *Registry) Complete(taskID string, result *patents.SearchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok || task.Status.terminal() {
		return
	}
	task.Status = StatusCompleted
	task.Result = result
	r.opts.Logger.Info().Str("task_id", taskID).Msg("search task completed")
}

// Fail transitions the task to failed and stores a human-readable error.
// A no-op when the task is already terminal.
func (r *Registry) Fail(taskID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok || task.Status.terminal() {
		return
	}
	task.Status = StatusFailed
	task.Error = message
	r.opts.Logger.Warn().Str("task_id", taskID).Str("error", message).Msg("search task failed")
}

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
