// Package httpapi is the kiosk-facing HTTP surface: order creation, order
// reads, the command endpoint and the server-sent event stream. It runs as a
// supervisor runnable with a lifecycle state machine, so the process
// supervisor can start, watch and drain it like every other component.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robbyt/go-supervisor/supervisor"

	"github.com/korolkovko/Kiosk-RW/internal/bus"
	"github.com/korolkovko/Kiosk-RW/internal/httpapi/finitestate"
	"github.com/korolkovko/Kiosk-RW/internal/saga"
	"github.com/korolkovko/Kiosk-RW/internal/store"
)

// Interface guards: plain runnable with state reporting, deliberately not
// reloadable.
var (
	_ supervisor.Runnable  = (*Runner)(nil)
	_ supervisor.Stateable = (*Runner)(nil)
)

// Initializer starts the FSM of a freshly created order. Satisfied by the
// orchestrator.
type Initializer interface {
	Initialize(ctx context.Context, orderID int64) error
}

// Commander executes kiosk commands against an order. Satisfied by the saga
// handler.
type Commander interface {
	ExecuteCommand(ctx context.Context, orderID int64, action, operationID string) (*saga.CommandResult, error)
}

// Runner hosts the gin engine behind a lifecycle state machine.
type Runner struct {
	listen          string
	readTimeout     time.Duration
	shutdownTimeout time.Duration
	pingInterval    time.Duration
	retryMillis     int

	store      *store.Store
	bus        *bus.Bus
	init       Initializer
	commander  Commander
	principals PrincipalProvider

	fsm      finitestate.Machine
	server   *http.Server
	serverMu sync.Mutex
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogHandler sets the slog handler for API logs.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Runner) {
		if handler != nil {
			r.logger = slog.New(handler).WithGroup("httpapi")
		}
	}
}

// WithLogger sets the logger directly.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithListen sets the listen address.
func WithListen(addr string) Option {
	return func(r *Runner) { r.listen = addr }
}

// WithReadTimeout sets the server read timeout. The write timeout stays at
// zero: SSE responses are open-ended.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Runner) { r.readTimeout = d }
}

// WithShutdownTimeout bounds the graceful drain on stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) { r.shutdownTimeout = d }
}

// WithPingInterval sets the SSE heartbeat interval.
func WithPingInterval(d time.Duration) Option {
	return func(r *Runner) { r.pingInterval = d }
}

// WithPrincipalProvider replaces the request authentication contract.
func WithPrincipalProvider(p PrincipalProvider) Option {
	return func(r *Runner) { r.principals = p }
}

// NewRunner assembles the API server around its collaborators.
func NewRunner(st *store.Store, b *bus.Bus, init Initializer, commander Commander, opts ...Option) (*Runner, error) {
	r := &Runner{
		listen:          ":8080",
		readTimeout:     15 * time.Second,
		shutdownTimeout: 10 * time.Second,
		pingInterval:    15 * time.Second,
		retryMillis:     3000,
		store:           st,
		bus:             b,
		init:            init,
		commander:       commander,
		principals:      HeaderPrincipals{},
		logger:          slog.Default().WithGroup("httpapi"),
	}
	for _, opt := range opts {
		opt(r)
	}

	machine, err := finitestate.New(r.logger.Handler())
	if err != nil {
		return nil, fmt.Errorf("create lifecycle fsm: %w", err)
	}
	r.fsm = machine
	return r, nil
}

// String identifies the runnable to the supervisor.
func (r *Runner) String() string {
	return fmt.Sprintf("KioskAPI[%s]", r.listen)
}

// Run serves until the context is canceled, then drains.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.fsm.Transition(finitestate.StatusBooting); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), r.requestLog())
	r.registerRoutes(engine)

	srv := &http.Server{
		Addr:        r.listen,
		Handler:     engine,
		ReadTimeout: r.readTimeout,
	}
	r.serverMu.Lock()
	r.server = srv
	r.serverMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	if err := r.fsm.Transition(finitestate.StatusRunning); err != nil {
		return err
	}
	r.logger.Info("kiosk api listening", "address", r.listen)

	select {
	case <-ctx.Done():
		return r.shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		r.fsm.SetState(finitestate.StatusError)
		return fmt.Errorf("kiosk api serve: %w", err)
	}
}

// Stop triggers a graceful drain outside of context cancellation.
func (r *Runner) Stop() {
	if err := r.shutdown(); err != nil {
		r.logger.Error("shutdown failed", "error", err)
	}
}

func (r *Runner) shutdown() error {
	if !r.fsm.TransitionBool(finitestate.StatusStopping) {
		return nil
	}
	r.logger.Info("kiosk api draining", "timeout", r.shutdownTimeout)

	r.serverMu.Lock()
	srv := r.server
	r.serverMu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			r.fsm.SetState(finitestate.StatusError)
			return fmt.Errorf("drain kiosk api: %w", err)
		}
	}
	return r.fsm.Transition(finitestate.StatusStopped)
}

// GetState reports the lifecycle state.
func (r *Runner) GetState() string { return r.fsm.GetState() }

// IsRunning reports whether the server is accepting requests.
func (r *Runner) IsRunning() bool { return r.fsm.GetState() == finitestate.StatusRunning }

// GetStateChan emits lifecycle changes until ctx is canceled.
func (r *Runner) GetStateChan(ctx context.Context) <-chan string {
	return r.fsm.GetStateChan(ctx)
}

func (r *Runner) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		// Skip the long-lived stream endpoint, it would log once per day.
		if c.FullPath() == "/api/kiosk/events" {
			return
		}
		r.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(started))
	}
}
