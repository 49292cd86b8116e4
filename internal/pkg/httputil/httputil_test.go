package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/triage-garden/internal/pkg/ctxlog"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errThingNotFound = errors.New("thing not found")

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusCreated, map[string]string{"id": "s1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"id":"s1"}}`, rec.Body.String())
}

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Error: errThingNotFound, Status: http.StatusNotFound},
		{Error: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "timed out"},
	}

	type payload struct {
		Name string `validate:"required"`
	}
	verr := validator.New().Struct(payload{})

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"mapped", fmt.Errorf("get thing: %w", errThingNotFound), http.StatusNotFound, "get thing: thing not found"},
		{"mapped with message", context.DeadlineExceeded, http.StatusGatewayTimeout, "timed out"},
		{"validation", fmt.Errorf("check: %w", verr), http.StatusBadRequest, "validation error"},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err, mappings)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec).Message)
		})
	}
}

func TestValidationError_FieldDetails(t *testing.T) {
	type payload struct {
		Hostname string `validate:"required"`
	}
	rec := httptest.NewRecorder()
	ValidationError(rec, validator.New().Struct(payload{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t,
		`{"error":{"message":"validation error","details":[{"field":"Hostname","message":"required"}]}}`,
		rec.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := CORSMiddleware([]string{"https://ui.example.com"})(next)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://ui.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/session", nil)
		req.Header.Set("Origin", "https://ui.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
	})
}

func TestLogURLParam(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ctxlog.WithLogger(r.Context(), base)))
		})
	})
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Use(LogURLParam("id", "session_id"))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			ctxlog.FromContext(r.Context()).Info("handled")
			w.WriteHeader(http.StatusOK)
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), "session_id=abc")
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, requestLevel("/api/v1/session", 500))
	assert.Equal(t, slog.LevelWarn, requestLevel("/api/v1/session", 404))
	assert.Equal(t, slog.LevelDebug, requestLevel("/healthz", 200))
	assert.Equal(t, slog.LevelInfo, requestLevel("/api/v1/workflow", 200))
}
