package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lgomes/patentscope-api/internal/patents"
	"github.com/lgomes/patentscope-api/internal/tasks"
)

// SearchResponse is returned on task submission.
type SearchResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskListResponse is returned by the task listing endpoint.
type TaskListResponse struct {
	Total int             `json:"total"`
	Tasks []tasks.Summary `json:"tasks"`
}

// handleSearch accepts a SearchSpec and submits an asynchronous task.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var spec patents.SearchSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	taskID, err := s.registry.Submit(spec)
	if err != nil {
		var verr *patents.ValidationError
		if errors.As(err, &verr) {
			s.errorResponse(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.log.Error().Err(err).Msg("task submission failed")
		s.errorResponse(w, http.StatusInternalServerError, "failed to create search task")
		return
	}

	s.jsonResponse(w, http.StatusAccepted, SearchResponse{
		TaskID:  taskID,
		Status:  string(tasks.StatusQueued),
		Message: "Search task created. Use the task_id to check status at /status/{task_id}",
	})
}

// handleStatus returns the full snapshot of one task.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.registry.Get(taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "task not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	s.jsonResponse(w, http.StatusOK, task)
}

// handleTasks lists all known tasks in submission order.
func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	list := s.registry.List()
	s.jsonResponse(w, http.StatusOK, TaskListResponse{Total: len(list), Tasks: list})
}

// handleHealth is the liveness probe; it does not depend on task state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRoot returns static service metadata.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"name":    "PatentScope Search API",
		"version": Version,
		"endpoints": map[string]string{
			"POST /search":          "Execute a patent search",
			"GET /status/{task_id}": "Get search task status",
			"GET /tasks":            "List all tasks",
			"GET /health":           "Health check",
		},
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
