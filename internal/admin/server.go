// Package admin serves the station's local HTTP entry points: server push,
// status and metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/config"
	"github.com/watzon/dockd/internal/console"
	"github.com/watzon/dockd/internal/dock"
	"github.com/watzon/dockd/internal/metrics"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/scheduler"
)

// Scheduler is the part of the scheduler exposed over HTTP.
type Scheduler interface {
	ForceEvent(code model.EventCode, highPriority bool)
	ClearQueuedActions() int
	Requirements() scheduler.Requirements
	NextDue(code string) (time.Time, bool)
	Forced() *scheduler.ForcedQueue
}

// Executor is the part of the executor exposed over HTTP.
type Executor interface {
	ExecuteNow(a *action.Action) bool
	HeartBeat()
	Pending() *action.Action
}

type Display interface {
	Status() console.Status
	SetMenuActive(active bool) bool
}

type Charger interface {
	State() model.ChargingState
	BatteryCode() string
}

type Outbox interface {
	Counts(ctx context.Context) (map[string]int, error)
	Flush(ctx context.Context) (int, error)
}

// Deps are the components the admin server reads and drives. Outbox may be nil.
type Deps struct {
	State     *dock.State
	Scheduler Scheduler
	Executor  Executor
	Display   Display
	Charger   Charger
	Outbox    Outbox
}

type Server struct {
	cfg         config.AdminConfig
	deps        Deps
	mux         *http.ServeMux
	middlewares []Middleware
	httpServer  *http.Server
}

func New(cfg config.AdminConfig, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}

	s.Use(RecoveryMiddleware)
	s.Use(RequestIDMiddleware)
	s.Use(LoggingMiddleware)
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("POST /force", s.handleForce)
	s.mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("POST /queue/clear", s.handleClearQueue)
	s.mux.HandleFunc("POST /execute", s.handleExecute)
	s.mux.HandleFunc("POST /menu", s.handleMenu)
	s.mux.HandleFunc("POST /outbox/flush", s.handleFlush)
	s.mux.HandleFunc("POST /sync", s.handleSync)
	s.mux.HandleFunc("POST /connection", s.handleConnection)
}

func (s *Server) Use(mw Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(s.mux)

	for i := len(s.middlewares) - 1; i >= 0; i-- {
		handler = s.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("Admin server listening")

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}
