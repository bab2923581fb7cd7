package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"watcherseye/internal/catalog"
	"watcherseye/internal/controller"
	"watcherseye/internal/fetcher"
	"watcherseye/internal/observer"
)

// ApiError defines the structure for standard JSON error responses
type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidMode   = "INVALID_MODE"
	ErrCodeInvalidBody   = "INVALID_BODY"
	ErrCodeRunActive     = "RUN_ACTIVE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Runner is the control surface of the fetch controller
type Runner interface {
	Start(ctx context.Context, mode catalog.Mode) (uuid.UUID, error)
	Pause()
	Resume()
	Stop()
	State() controller.State
	RunID() uuid.UUID
	Position() int
	Results() []fetcher.PriceResult
}

// writeJsonError is a helper to write standardized JSON errors
func writeJsonError(w http.ResponseWriter, statusCode int, errCode string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]ApiError{"error": {Code: errCode, Message: message}})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Server exposes start/pause/resume/stop and progress over HTTP
type Server struct {
	router *mux.Router
	runner Runner
	feed   *observer.Feed

	// runCtx outlives individual requests; runs started over HTTP use it
	runCtx context.Context
}

// NewServer creates a server. feed may be nil, in which case status carries
// no status text, countdown or debug lines.
func NewServer(runCtx context.Context, runner Runner, feed *observer.Feed) *Server {
	s := &Server{
		router: mux.NewRouter(),
		runner: runner,
		feed:   feed,
		runCtx: runCtx,
	}
	s.routes()
	return s
}

// Handler returns the router wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// routes sets up the API routes
func (s *Server) routes() {
	s.router.HandleFunc("/api/v1/runs", s.handleStart()).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/runs/{action:pause|resume|stop}", s.handleControl()).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/status", s.handleStatus()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/results", s.handleResults()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/debug", s.handleDebug()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/health", s.handleHealth()).Methods(http.MethodGet)
}

type startRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJsonError(w, http.StatusBadRequest, ErrCodeInvalidBody, "Request body must be JSON like {\"mode\": \"pair\"}.")
			return
		}

		mode, err := catalog.ParseMode(req.Mode)
		if err != nil {
			writeJsonError(w, http.StatusBadRequest, ErrCodeInvalidMode, err.Error())
			return
		}

		id, err := s.runner.Start(s.runCtx, mode)
		if errors.Is(err, controller.ErrRunActive) {
			writeJsonError(w, http.StatusConflict, ErrCodeRunActive, "A fetch run is already active; stop it first.")
			return
		}
		if err != nil {
			slog.Error("failed to start run", "error", err)
			writeJsonError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to start run.")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id": id.String(),
			"mode":   mode,
			"state":  s.runner.State(),
		})
	}
}

func (s *Server) handleControl() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch mux.Vars(r)["action"] {
		case "pause":
			s.runner.Pause()
		case "resume":
			s.runner.Resume()
		case "stop":
			s.runner.Stop()
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id": s.runID(),
			"state":  s.runner.State(),
		})
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"run_id":       s.runID(),
			"state":        s.runner.State(),
			"position":     s.runner.Position(),
			"result_count": len(s.runner.Results()),
		}
		if s.feed != nil {
			snap := s.feed.Snapshot()
			response["status"] = snap.Status
			response["countdown"] = snap.Countdown
			if !snap.Updated.IsZero() {
				response["updated"] = snap.Updated.UTC().Format(time.RFC3339Nano)
			}
		}
		writeJSON(w, http.StatusOK, response)
	}
}

type resultResponse struct {
	Mod1    string   `json:"mod1"`
	Mod2    *string  `json:"mod2"`
	Average *float64 `json:"average_price"`
	At      string   `json:"fetched_at"`
}

func (s *Server) handleResults() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := s.runner.Results()
		out := make([]resultResponse, 0, len(results))
		for _, res := range results {
			item := resultResponse{
				Mod1:    res.Label1,
				Average: res.Average.Rounded().Ptr(),
				At:      res.FetchedAt.UTC().Format(time.RFC3339),
			}
			if res.Label2 != "" {
				label2 := res.Label2
				item.Mod2 = &label2
			}
			out = append(out, item)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleDebug() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lines := []string{}
		if s.feed != nil {
			lines = append(lines, s.feed.Snapshot().Debug...)
		}
		writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

func (s *Server) runID() string {
	id := s.runner.RunID()
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// ListenAndServe serves on addr until ctx is canceled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("control API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control API failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
