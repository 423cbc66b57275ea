// Package recovery replays unfinished orders after a process restart. Every
// FSM runtime still sitting in a non-terminal state gets an audit marker, its
// safety-net timer re-armed and its entry handler re-dispatched. A duplicate
// gateway call is accepted here; gateways are assumed idempotent by order id.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robbyt/go-supervisor/supervisor"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
	"github.com/korolkovko/Kiosk-RW/internal/store"
)

var _ supervisor.Runnable = (*Runner)(nil)

// Resumer re-attaches orchestration to a restored order. Satisfied by the
// orchestrator.
type Resumer interface {
	ArmTimer(orderID int64, state fsm.State)
	Dispatch(orderID int64, state fsm.State)
}

// Runner performs the recovery pass on startup, then idles until shutdown.
type Runner struct {
	store   *store.Store
	resumer Resumer
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogHandler sets the slog handler for recovery logs.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Runner) {
		if handler != nil {
			r.logger = slog.New(handler).WithGroup("recovery")
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

// NewRunner creates the recovery runnable.
func NewRunner(st *store.Store, resumer Resumer, opts ...Option) *Runner {
	r := &Runner{
		store:   st,
		resumer: resumer,
		logger:  slog.Default().WithGroup("recovery"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// String identifies the runnable to the supervisor.
func (r *Runner) String() string { return "Recovery" }

// Run executes the recovery pass and then blocks until the context ends, so
// the supervisor keeps treating recovery as a live member of the runnable
// set.
func (r *Runner) Run(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("recovery pass: %w", err)
	}

	<-ctx.Done()
	return nil
}

// Stop unblocks Run.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Recover restores every order stranded in a non-terminal state.
func (r *Runner) Recover(ctx context.Context) error {
	var nonTerminal []string
	for _, s := range fsm.States() {
		if !fsm.IsTerminal(s) {
			nonTerminal = append(nonTerminal, string(s))
		}
	}

	runtimes, err := r.store.ListRuntimesInStates(ctx, nonTerminal)
	if err != nil {
		return err
	}
	if len(runtimes) == 0 {
		r.logger.Info("no unfinished orders to recover")
		return nil
	}

	r.logger.Info("recovering unfinished orders", "count", len(runtimes))
	recovered := 0
	for _, rt := range runtimes {
		state, err := fsm.NormalizeState(rt.CurrentState)
		if err != nil {
			r.logger.Error("runtime in unknown state, skipped",
				"order_id", rt.OrderID, "state", rt.CurrentState)
			continue
		}

		comment := "recovery"
		if err := r.store.AppendLifecycle(ctx, &domain.LifecycleLog{
			OrderID:   rt.OrderID,
			RuntimeID: rt.RuntimeID,
			FromState: &rt.CurrentState,
			ToState:   rt.CurrentState,
			ActorType: domain.ActorSystem,
			Comment:   &comment,
		}); err != nil {
			r.logger.Error("could not append recovery log entry",
				"order_id", rt.OrderID, "error", err)
			continue
		}

		r.resumer.ArmTimer(rt.OrderID, state)
		r.resumer.Dispatch(rt.OrderID, state)
		recovered++
		r.logger.Info("order recovered", "order_id", rt.OrderID, "state", state)
	}
	r.logger.Info("recovery pass done", "recovered", recovered, "total", len(runtimes))
	return nil
}
