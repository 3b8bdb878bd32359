package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"waitline/internal/api"
	"waitline/internal/config"
	"waitline/internal/logging"
	"waitline/internal/queue"
)

const (
	maxRequestBody  = 64 << 10
	requestIDHeader = "X-Request-ID"
)

type apiServer struct {
	bind         string
	logger       *slog.Logger
	daemon       *Daemon
	queueSvc     *api.QueueService
	writeTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	handler  http.Handler
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:         strings.TrimSpace(cfg.Paths.APIBind),
		logger:       logger,
		daemon:       d,
		queueSvc:     api.NewQueueService(d.engine, d.roster, d.hub),
		writeTimeout: cfg.WriteTimeout(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /api/queue", srv.handleSnapshot)
	mux.HandleFunc("POST /api/queue/arrivals", srv.handleArrival)
	mux.HandleFunc("POST /api/queue/dispatch", srv.handleDispatch)
	mux.HandleFunc("POST /api/queue/returns", srv.handleReturn)
	mux.HandleFunc("POST /api/queue/moves", srv.handleMove)
	mux.HandleFunc("DELETE /api/queue/{id}", srv.handleRemove)
	mux.HandleFunc("GET /api/queue/ws", srv.handleWebSocket)
	mux.HandleFunc("GET /api/queue/events", srv.handleEvents)
	mux.HandleFunc("GET /api/workers", srv.handleWorkers)
	mux.HandleFunc("/api/", srv.handleNotFound)

	srv.handler = correlationMiddleware(authMiddleware(cfg.Paths.APIToken, mux))
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// Feeds are long-lived, so writes carry per-message deadlines instead
	// of a server-wide WriteTimeout.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	listener := s.listener
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
		}
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		StoreDriver:  status.StoreDriver,
		StoreHealthy: status.StoreHealthy,
		LockFilePath: status.LockFilePath,
		RosterPath:   status.RosterPath,
		Workers:      status.Workers,
		Waiting:      status.Waiting,
		InService:    status.InService,
		Subscribers:  status.Subscribers,
		Sequence:     status.Sequence,
		Retries:      status.Queue.Retries,
	}
	for _, c := range status.Queue.Operations {
		payload.Operations = append(payload.Operations, api.OperationCount{Op: c.Op, Outcome: c.Outcome, Count: c.Count})
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queueSvc.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleArrival(w http.ResponseWriter, r *http.Request) {
	var req api.ArrivalRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.queueSvc.Arrive(r.Context(), req.WorkerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *apiServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	entry, err := s.queueSvc.Dispatch(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *apiServer) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req api.ReturnRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.queueSvc.Return(r.Context(), req.EntryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *apiServer) handleMove(w http.ResponseWriter, r *http.Request) {
	var req api.MoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.queueSvc.Move(r.Context(), req.EntryID, req.Rank)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeKind(w, queue.KindInvalidArgument, "invalid entry id %q", r.PathValue("id"))
		return
	}
	result, err := s.queueSvc.Remove(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queueSvc.Workers())
}

func (s *apiServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeKind(w, queue.KindNotFound, "no route for %s %s", r.Method, r.URL.Path)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			s.writeKind(w, queue.KindInvalidArgument, "request body is required")
			return false
		}
		s.writeKind(w, queue.KindInvalidArgument, "invalid request body: %v", err)
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := api.FromError(err)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.log()), "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, body)
}

func (s *apiServer) writeKind(w http.ResponseWriter, kind queue.Kind, format string, args ...any) {
	status, body := api.NewError(string(kind), format, args...)
	s.writeJSON(w, status, body)
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}

// correlationMiddleware tags each request with an ID, reusing the caller's
// X-Request-ID when present.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}
