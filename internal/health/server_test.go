package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func ok(context.Context) error { return nil }

func TestHealth(t *testing.T) {
	s := NewServer(":0", Options{})
	rec, body := get(t, s, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReady(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		s := NewServer(":0", Options{Checks: map[string]CheckFunc{"postgres": ok, "redis": ok}})
		rec, body := get(t, s, "/ready")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("one check fails", func(t *testing.T) {
		s := NewServer(":0", Options{Checks: map[string]CheckFunc{
			"postgres": ok,
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}})
		rec, body := get(t, s, "/ready")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "not_ready", body["status"])
		checks := body["checks"].(map[string]interface{})
		assert.Equal(t, "ok", checks["postgres"])
		assert.Equal(t, "connection refused", checks["redis"])
	})
}

func TestStats(t *testing.T) {
	s := NewServer(":0", Options{Stats: func(context.Context) (map[string]interface{}, error) {
		return map[string]interface{}{"pending": 3}, nil
	}})
	rec, body := get(t, s, "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["pending"])

	rec, _ = get(t, NewServer(":0", Options{}), "/stats")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	s := NewServer(":0", Options{Jobs: func(_ context.Context, jobID string) (map[string]interface{}, error) {
		switch jobID {
		case "j1":
			return map[string]interface{}{"id": "j1", "status": storage.JobStatusCompleted}, nil
		case "broken":
			return nil, errors.New("db down")
		}
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}})

	rec, body := get(t, s, "/jobs/j1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	rec, body = get(t, s, "/jobs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job not found", body["error"])

	rec, _ = get(t, s, "/jobs/broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(":0", Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
