// Package api exposes the HTTP control surface: trigger a recording,
// list active recordings, query one user's recording. Responses are
// structured; internal details never leak to clients.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vrcbz/dvr/internal/registry"
)

// Starter admits a new recording session. Implemented by the capture
// manager; faked in tests.
type Starter interface {
	Start(ctx context.Context, user string) (registry.Snapshot, error)
}

// userPattern keeps derived filenames filesystem-safe.
var userPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

type Server struct {
	reg     *registry.Registry
	starter Starter

	// fatal reports an unrecoverable control-plane fault; the serve
	// loop treats it as a termination request.
	fatal func(reason string)
}

func New(reg *registry.Registry, starter Starter, fatal func(reason string)) *Server {
	if fatal == nil {
		fatal = func(string) {}
	}
	return &Server{
		reg:     reg,
		starter: starter,
		fatal:   fatal,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)

	r.Post("/record", s.handleRecord)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/{user}", s.handleUserStats)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// recoverer converts a panic escaping a handler into a 500 and a
// termination trigger: an uncaught control-plane fault drains and
// exits instead of corrupting shared state.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.ErrorContext(r.Context(), "panic in handler",
					"path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"message": "internal error",
				})
				s.fatal("panic in control plane")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type recordRequest struct {
	User string `json:"user"`
}

type recordResponse struct {
	Message   string    `json:"message"`
	User      string    `json:"user"`
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"startTime"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	if !userPattern.MatchString(req.User) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid user"})
		return
	}

	snap, err := s.starter.Start(r.Context(), req.User)
	switch {
	case errors.Is(err, registry.ErrDuplicateSession):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "already active"})
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "starting recording", "user", req.User, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "failed to start recording",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, recordResponse{
		Message:   "recording started",
		User:      snap.User,
		Filename:  snap.Filename,
		StartTime: snap.StartTime,
	})
}

type recordingStats struct {
	User      string    `json:"user"`
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"startTime"`
	Duration  int       `json:"duration"`
	PID       int       `json:"pid"`
	Status    string    `json:"status,omitempty"`
}

type statsResponse struct {
	ActiveRecordings int              `json:"activeRecordings"`
	Recordings       []recordingStats `json:"recordings"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	sessions := s.reg.List()
	recordings := make([]recordingStats, 0, len(sessions))
	for _, sess := range sessions {
		snap := sess.Snapshot()
		recordings = append(recordings, recordingStats{
			User:      snap.User,
			Filename:  snap.Filename,
			StartTime: snap.StartTime,
			Duration:  snap.Duration(now),
			PID:       snap.PID,
		})
	}
	writeJSON(w, http.StatusOK, statsResponse{
		ActiveRecordings: len(recordings),
		Recordings:       recordings,
	})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	sess, ok := s.reg.Get(user)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}
	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, recordingStats{
		User:      snap.User,
		Filename:  snap.Filename,
		StartTime: snap.StartTime,
		Duration:  snap.Duration(time.Now()),
		PID:       snap.PID,
		Status:    "recording",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
