// Package artifacts dumps completed search results to disk as JSON, one
// directory per task, mirroring the registry's in-memory payload for
// consumers that outlive the process.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lgomes/patentscope-api/internal/patents"
)

const summaryFileName = "summary_with_stats.json"

// Writer persists results under a base directory.
type Writer struct {
	dir string
	log zerolog.Logger
}

// NewWriter builds a Writer rooted at dir.
func NewWriter(dir string, log zerolog.Logger) *Writer {
	return &Writer{dir: dir, log: log}
}

// WriteResult stores the result as pretty-printed JSON under
// <dir>/<term>_<taskID prefix>/ and returns the file path.
func (w *Writer) WriteResult(taskID string, result *patents.SearchResult) (string, error) {
	name := fmt.Sprintf("%s_%s", sanitize(result.SearchInfo.Term), shortID(taskID))
	taskDir := filepath.Join(w.dir, name)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	path := filepath.Join(taskDir, summaryFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result file: %w", err)
	}

	w.log.Debug().Str("task_id", taskID).Str("path", path).Msg("artifact written")
	return path, nil
}

// sanitize maps a search term to a filesystem-safe directory fragment.
func sanitize(term string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(term) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "search"
	}
	return b.String()
}

// shortID keeps directory names readable; the task ID prefix is unique
// enough alongside the term.
func shortID(taskID string) string {
	if len(taskID) > 8 {
		return taskID[:8]
	}
	return taskID
}
