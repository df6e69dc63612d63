package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgomes/patentscope-api/internal/patents"
	"github.com/lgomes/patentscope-api/internal/pipeline"
	"github.com/lgomes/patentscope-api/internal/source"
	"github.com/lgomes/patentscope-api/internal/tasks"
)

// fixedSource returns the same single page for every country.
type fixedSource struct {
	page *source.Page
	err  error
}

func (f *fixedSource) Search(context.Context, string, string, int) (*source.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fixedSource) FetchDetail(context.Context, string) (*patents.DetailPayload, error) {
	return &patents.DetailPayload{}, nil
}

// newTestServer wires a real registry and runner over a stub source.
func newTestServer(t *testing.T, stub source.Client) *Server {
	t.Helper()

	runner := pipeline.NewRunner(pipeline.Options{
		NewSource:   func(bool) source.Client { return stub },
		CallTimeout: time.Second,
		Logger:      zerolog.Nop(),
	})
	var registry *tasks.Registry
	registry = tasks.New(tasks.Options{
		Logger: zerolog.Nop(),
		Run: func(ctx context.Context, taskID string, spec patents.SearchSpec) {
			runner.Run(ctx, registry, taskID, spec)
		},
	})
	return New(Config{Port: 0}, registry, zerolog.Nop())
}

func postSearch(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func getJSON(t *testing.T, srv *Server, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr.Code
}

func waitForTerminal(t *testing.T, srv *Server, taskID string) tasks.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var task tasks.Task
		code := getJSON(t, srv, "/status/"+taskID, &task)
		require.Equal(t, http.StatusOK, code)
		if task.Status == tasks.StatusCompleted || task.Status == tasks.StatusFailed {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", taskID)
	return tasks.Task{}
}

func TestSearch_AcceptsValidSpec(t *testing.T) {
	srv := newTestServer(t, &fixedSource{page: &source.Page{}})

	rr := postSearch(t, srv, `{"term":"aspirin","limit":5,"countries":["US"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "queued", resp.Status)
}

func TestSearch_RejectsMissingTerm(t *testing.T) {
	srv := newTestServer(t, &fixedSource{page: &source.Page{}})

	rr := postSearch(t, srv, `{"limit":5}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "term")
}

func TestSearch_RejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &fixedSource{page: &source.Page{}})
	rr := postSearch(t, srv, `{"term": `)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatus_UnknownTask(t *testing.T) {
	srv := newTestServer(t, &fixedSource{page: &source.Page{}})
	code := getJSON(t, srv, "/status/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSearchFlow_Completes(t *testing.T) {
	stub := &fixedSource{page: &source.Page{Hits: []patents.RawHit{
		{PublicationNumber: "US111", Title: "Alpha", Country: "US", PublicationDate: "2021-01-01"},
		{PublicationNumber: "US222", Title: "Beta", Country: "US", PublicationDate: "2020-05-05"},
	}}}
	srv := newTestServer(t, stub)

	rr := postSearch(t, srv, `{"term":"aspirin","countries":["US"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	task := waitForTerminal(t, srv, resp.TaskID)
	require.Equal(t, tasks.StatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, 2, task.Result.TotalUnique)
	assert.Empty(t, task.Error)
}

func TestSearchFlow_FailurePropagatesToStatus(t *testing.T) {
	stub := &fixedSource{err: &source.Error{
		Kind: source.KindTransport, Op: "stub", Message: "portal unreachable"}}
	srv := newTestServer(t, stub)

	rr := postSearch(t, srv, `{"term":"aspirin","countries":["US","EP"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	task := waitForTerminal(t, srv, resp.TaskID)
	assert.Equal(t, tasks.StatusFailed, task.Status)
	assert.Nil(t, task.Result)
	assert.Contains(t, task.Error, "transport error")
}

// slowSource delays each portal call and fails like a real network
// client when its context is already done.
type slowSource struct {
	page  *source.Page
	delay time.Duration
}

func (s *slowSource) Search(ctx context.Context, _, _ string, _ int) (*source.Page, error) {
	select {
	case <-ctx.Done():
		return nil, &source.Error{
			Kind: source.KindTransport, Op: "stub", Message: ctx.Err().Error(), Cause: ctx.Err()}
	case <-time.After(s.delay):
	}
	return s.page, nil
}

func (s *slowSource) FetchDetail(ctx context.Context, _ string) (*patents.DetailPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, &source.Error{Kind: source.KindTransport, Op: "stub", Message: err.Error(), Cause: err}
	}
	return &patents.DetailPayload{}, nil
}

func TestSearchFlow_OutlivesSubmittingRequest(t *testing.T) {
	// A live server cancels the request context as soon as the handler
	// returns; the stub's delay guarantees the portal calls happen after
	// that. The task must still run to completion.
	stub := &slowSource{
		delay: 20 * time.Millisecond,
		page: &source.Page{Hits: []patents.RawHit{
			{PublicationNumber: "US111", Title: "Alpha", Country: "US", PublicationDate: "2021-01-01"},
		}},
	}
	srv := newTestServer(t, stub)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/search", "application/json",
		bytes.NewBufferString(`{"term":"aspirin","countries":["US"]}`))
	require.NoError(t, err)
	var sr SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "task never reached a terminal state")

		statusResp, err := http.Get(ts.URL + "/status/" + sr.TaskID)
		require.NoError(t, err)
		var task tasks.Task
		require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&task))
		statusResp.Body.Close()

		if task.Status == tasks.StatusCompleted || task.Status == tasks.StatusFailed {
			require.Equal(t, tasks.StatusCompleted, task.Status, "task failed: %s", task.Error)
			require.NotNil(t, task.Result)
			assert.Equal(t, 1, task.Result.TotalUnique)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTasks_ListsSubmissions(t *testing.T) {
	srv := newTestServer(t, &fixedSource{page: &source.Page{}})

	for i := 0; i < 2; i++ {
		rr := postSearch(t, srv, `{"term":"aspirin","countries":["US"]}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	var list TaskListResponse
	code := getJSON(t, srv, "/tasks", &list)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Tasks, 2)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fixedSource{page: &source.Page{}})

	var resp map[string]string
	code := getJSON(t, srv, "/health", &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp["status"])
	assert.NotEmpty(t, resp["timestamp"])
}

func TestRoot_Metadata(t *testing.T) {
	srv := newTestServer(t, &fixedSource{page: &source.Page{}})

	var resp map[string]any
	code := getJSON(t, srv, "/", &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PatentScope Search API", resp["name"])
	assert.Equal(t, Version, resp["version"])
	assert.NotEmpty(t, resp["endpoints"])
}
