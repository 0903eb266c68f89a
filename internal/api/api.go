// Package api is the Ingress API: a chi-routed HTTP surface over the
// Task Registry and Task Store, with basic auth and a health endpoint.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/byrde/scheduler/internal/domain"
	"github.com/byrde/scheduler/internal/store"
)

// SubmitFunc decodes and submits a schedule-request body. cmd/scheduler
// wires this to ingress.DecodeRequest + registry.Registry.Submit.
type SubmitFunc func(ctx context.Context, body []byte) (taskName, taskInstance string, err error)

// NewRouter builds the full HTTP surface: POST /v1/schedules, GET
// /v1/tasks/{taskName}/{taskInstance}, GET /healthz. The schedules and
// tasks routes require HTTP basic auth; /healthz does not. poisonThreshold
// is the consecutive-failure count /healthz uses to report a task as
// poisoned; it should match the pipeline's own Config.PoisonThreshold.
func NewRouter(submit SubmitFunc, st *store.Store, poisonThreshold int, username, password string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(recoverer(log))

	r.Get("/healthz", healthHandler(st, poisonThreshold))

	r.Group(func(r chi.Router) {
		r.Use(basicAuth(username, password))
		r.Post("/v1/schedules", scheduleHandler(submit))
		r.Get("/v1/tasks/{taskName}/{taskInstance}", taskStatusHandler(st))
	})

	return r
}

func scheduleHandler(submit SubmitFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "request body too large or unreadable")
			return
		}

		taskName, taskInstance, err := submit(r.Context(), body)
		switch {
		case err == nil:
			writeJSON(w, http.StatusCreated, map[string]string{
				"taskName":     taskName,
				"taskInstance": taskInstance,
			})
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrDuplicateInstance):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func taskStatusHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskName := chi.URLParam(r, "taskName")
		taskInstance := chi.URLParam(r, "taskInstance")

		task, err := st.Get(r.Context(), taskName, taskInstance)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, task)
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func healthHandler(st *store.Store, poisonThreshold int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		counts, err := st.CountByStatus(ctx, poisonThreshold)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"claimed":   counts.Claimed,
			"claimable": counts.Claimable,
			"poisoned":  counts.Poisoned,
		})
	}
}

func basicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username == "" && password == "" {
				next.ServeHTTP(w, r)
				return
			}
			u, p, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="scheduler"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

func recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered in http handler", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
