package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgomes/patentscope-api/internal/patents"
)

// newTestRegistry builds a registry whose run function blocks until
// release is closed, so tests control task lifetimes.
func newTestRegistry(release <-chan struct{}) *Registry {
	var r *Registry
	r = New(Options{
		Logger: zerolog.Nop(),
		Run: func(_ context.Context, taskID string, _ patents.SearchSpec) {
			r.Start(taskID)
			if release != nil {
				<-release
			}
			r.Complete(taskID, &patents.SearchResult{})
		},
	})
	return r
}

func waitForStatus(t *testing.T, r *Registry, taskID string, want Status) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := r.Get(taskID)
		require.NoError(t, err)
		if task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return Task{}
}

func TestSubmit_ReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	r := newTestRegistry(release)

	id, err := r.Submit(patents.SearchSpec{Term: "aspirin"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := r.Get(id)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusQueued, StatusRunning}, task.Status)
	assert.Nil(t, task.Result)
	assert.Empty(t, task.Error)
	assert.False(t, task.CreatedAt.IsZero())

	close(release)
	waitForStatus(t, r, id, StatusCompleted)
}

func TestSubmit_RunDetachedFromSubmitter(t *testing.T) {
	var (
		mu     sync.Mutex
		runErr error
	)
	var r *Registry
	r = New(Options{
		Logger: zerolog.Nop(),
		Run: func(ctx context.Context, taskID string, _ patents.SearchSpec) {
			r.Start(taskID)
			// The submitting caller is long gone by now; the run's
			// context must still be alive.
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			runErr = ctx.Err()
			mu.Unlock()
			r.Complete(taskID, &patents.SearchResult{})
		},
	})

	id, err := r.Submit(patents.SearchSpec{Term: "aspirin"})
	require.NoError(t, err)

	waitForStatus(t, r, id, StatusCompleted)
	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, runErr)
}

func TestSubmit_RejectsInvalidSpec(t *testing.T) {
	r := newTestRegistry(nil)

	_, err := r.Submit(patents.SearchSpec{})
	require.Error(t, err)
	var verr *patents.ValidationError
	assert.ErrorAs(t, err, &verr)

	// No task was created for the rejected spec.
	assert.Empty(t, r.List())
}

func TestGet_UnknownTask(t *testing.T) {
	r := newTestRegistry(nil)
	_, err := r.Get("no-such-task")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_InsertionOrder(t *testing.T) {
	release := make(chan struct{})
	r := newTestRegistry(release)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := r.Submit(patents.SearchSpec{Term: "aspirin"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	close(release)

	list := r.List()
	require.Len(t, list, 3)
	for i, summary := range list {
		assert.Equal(t, ids[i], summary.ID)
	}
}

func TestStateMachine_ResultIffCompleted(t *testing.T) {
	release := make(chan struct{})
	r := newTestRegistry(release)

	id, err := r.Submit(patents.SearchSpec{Term: "aspirin"})
	require.NoError(t, err)
	close(release)

	task := waitForStatus(t, r, id, StatusCompleted)
	assert.NotNil(t, task.Result)
	assert.Empty(t, task.Error)
}

func TestFail_SetsErrorOnly(t *testing.T) {
	var r *Registry
	r = New(Options{
		Logger: zerolog.Nop(),
		Run: func(_ context.Context, taskID string, _ patents.SearchSpec) {
			r.Start(taskID)
			r.Fail(taskID, "portal unreachable")
		},
	})

	id, err := r.Submit(patents.SearchSpec{Term: "aspirin"})
	require.NoError(t, err)

	task := waitForStatus(t, r, id, StatusFailed)
	assert.Equal(t, "portal unreachable", task.Error)
	assert.Nil(t, task.Result)
}

func TestTerminalTransitionsAreIdempotent(t *testing.T) {
	r := newTestRegistry(nil)
	id, err := r.Submit(patents.SearchSpec{Term: "aspirin"})
	require.NoError(t, err)
	waitForStatus(t, r, id, StatusCompleted)

	// A misbehaving run must not resurrect a finished task.
	r.Fail(id, "too late")
	r.UpdateProgress(id, "still going")
	r.Complete(id, nil)

	task, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.Result)
	assert.Empty(t, task.Error)
	assert.Empty(t, task.Progress)
}

func TestMonotonicStatusUnderConcurrentPolling(t *testing.T) {
	release := make(chan struct{})
	r := newTestRegistry(release)

	id, err := r.Submit(patents.SearchSpec{Term: "aspirin"})
	require.NoError(t, err)

	rank := map[Status]int{StatusQueued: 0, StatusRunning: 1, StatusCompleted: 2, StatusFailed: 2}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			for j := 0; j < 200; j++ {
				task, err := r.Get(id)
				if err != nil {
					t.Error(err)
					return
				}
				if rank[task.Status] < last {
					t.Errorf("status went backwards: %s", task.Status)
					return
				}
				// Terminal status must come with its payload committed.
				if task.Status == StatusCompleted && task.Result == nil {
					t.Error("completed task observed without result")
					return
				}
				last = rank[task.Status]
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	waitForStatus(t, r, id, StatusCompleted)
}
