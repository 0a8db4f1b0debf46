package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/herald/internal/config"
	"github.com/MikeSquared-Agency/herald/internal/queue"
)

// QueueStats is implemented by every queue.Queue.
type QueueStats interface {
	Stats() queue.Stats
}

type Snapshots interface {
	Current() *config.Snapshot
	Reload() *config.Snapshot
}

// BusStatus reports the event bus connection state. hermes.Client implements it.
type BusStatus interface {
	Status() string
}

type Option func(*Server)

// WithBus adds the event bus state to the status response.
func WithBus(bus BusStatus) Option {
	return func(s *Server) { s.bus = bus }
}

type Server struct {
	router    *chi.Mux
	port      int
	snapshots Snapshots
	queues    []QueueStats
	bus       BusStatus
	logger    *slog.Logger
}

func NewServer(port int, apiToken string, snapshots Snapshots, queues []QueueStats, logger *slog.Logger, opts ...Option) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		port:      port,
		snapshots: snapshots,
		queues:    queues,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/herald", func(r chi.Router) {
		r.Get("/status", s.status)
		r.With(BearerAuthMiddleware(apiToken)).Post("/reload", s.reload)
	})

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty token disables the route.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "api token not configured"})
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type snapshotStatus struct {
	Version  uint64    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
	AgeSec   int64     `json:"age_seconds"`
}

type statusResponse struct {
	Agent    string         `json:"agent"`
	Snapshot snapshotStatus `json:"snapshot"`
	Queues   []queue.Stats  `json:"queues"`
	NATS     string         `json:"nats"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshots.Current()
	resp := statusResponse{
		Agent: "herald",
		Snapshot: snapshotStatus{
			Version:  snap.Version,
			LoadedAt: snap.LoadedAt,
			AgeSec:   int64(time.Since(snap.LoadedAt).Seconds()),
		},
		Queues: make([]queue.Stats, 0, len(s.queues)),
		NATS:   "disabled",
	}
	if s.bus != nil {
		resp.NATS = s.bus.Status()
	}
	for _, q := range s.queues {
		resp.Queues = append(resp.Queues, q.Stats())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshots.Reload()
	s.logger.Info("config reloaded via api", "version", snap.Version, "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusOK, snapshotStatus{Version: snap.Version, LoadedAt: snap.LoadedAt})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
