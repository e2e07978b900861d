package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"snapkeep/internal/api"
	"snapkeep/internal/config"
	"snapkeep/internal/logging"
)

const cacheControl = "private, no-cache, no-store"

type apiServer struct {
	bind        string
	token       string
	metricsPath string
	logger      *slog.Logger
	daemon      *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	if cfg.Metrics.Enabled && d.metrics != nil {
		srv.metricsPath = cfg.Metrics.Path
	}

	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Snapshots answer only after the capture command finishes.
		WriteTimeout: cfg.CaptureTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathStatus, s.handleStatus)
	if s.metricsPath != "" {
		mux.Handle(s.metricsPath, s.daemon.metrics.Handler())
	}
	mux.HandleFunc("/", s.handleTrigger)
	return s.withRequestContext(authMiddleware(s.token, mux.ServeHTTP))
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// withRequestContext tags every request with a correlation id and applies the
// cache headers shared by all responses.
func (s *apiServer) withRequestContext(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := logging.WithCorrelationID(r.Context(), id)
		w.Header().Set("Cache-Control", cacheControl)
		w.Header().Set("X-Request-Id", id)
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String("remote_addr", r.RemoteAddr),
		)
		next(w, r.WithContext(ctx))
	})
}

// handleTrigger serves the trigger paths. Matching is by prefix and any
// method is accepted.
func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, api.PathSnapshot):
		s.handleSnapshot(w, r)
	case strings.HasPrefix(path, api.PathRun):
		s.acknowledge(w, r, config.HandlerSnapshotUpload, s.daemon.SnapshotUpload, api.AckRun)
	case strings.HasPrefix(path, api.PathUpload):
		s.acknowledge(w, r, config.HandlerUploadAll, s.daemon.UploadAll, api.AckUpload)
	case strings.HasPrefix(path, api.PathDelete):
		s.acknowledge(w, r, config.HandlerDeleteOld, s.daemon.DeleteOld, api.AckDelete)
	default:
		logging.WithContext(r.Context(), s.logger).Debug("api path not found", logging.String("path", path))
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *apiServer) acknowledge(w http.ResponseWriter, r *http.Request, task string, fn func(context.Context) error, ack string) {
	s.daemon.Go(r.Context(), task, fn)
	logging.WithContext(r.Context(), s.logger).Info("trigger accepted",
		logging.String("task", task),
		logging.String(logging.FieldEventType, "trigger_accepted"),
	)
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}

func (s *apiServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.daemon.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "snapshot failed: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
