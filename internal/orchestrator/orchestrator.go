// Package orchestrator drives the per-order state machine: it serializes
// event submissions through a row lock on the FSM runtime, appends the audit
// chain, manages the per-order safety-net timer and publishes STATE_CHANGED
// events to the kiosk channel.
//
// The orchestrator never calls a gateway itself. After a committed transition
// it dispatches the configured StateHandler asynchronously; the handler does
// the external work and feeds the resulting event back through Submit.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/korolkovko/Kiosk-RW/internal/bus"
	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
	"github.com/korolkovko/Kiosk-RW/internal/store"
)

// EventStateChanged is the type discriminator of the bus payload consumed by
// the SSE layer. Treated as a UI contract; do not rename fields.
const EventStateChanged = "STATE_CHANGED"

// StateHandler reacts to a committed state entry. Implementations must be
// reentrant: each invocation runs with a fresh database session and no
// in-memory carryover.
type StateHandler interface {
	OnStateEntered(ctx context.Context, orderID int64, state fsm.State)
}

// timerEvents maps the states with a safety-net timer to the event the timer
// submits. Printing has no entry: its saga step deadline already produces
// PRINTING_FAILED_OR_TIMEOUT.
var timerEvents = map[fsm.State]fsm.Event{
	fsm.StateAwaitingPayment: fsm.EventInactivityTimeout,
	fsm.StateAwaitingKDS:     fsm.EventKDSErrorOrNoResponse,
}

// Submission is one event delivery request.
type Submission struct {
	OrderID int64
	Event   fsm.Event
	Actor   domain.ActorType
	ActorID *string
	Comment *string
	Data    map[string]any
}

// Orchestrator owns the transition procedure and the active timer table.
type Orchestrator struct {
	store   *store.Store
	bus     *bus.Bus
	handler StateHandler
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[int64]*time.Timer
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogHandler sets the slog handler for orchestrator logs.
func WithLogHandler(handler slog.Handler) Option {
	return func(o *Orchestrator) {
		if handler != nil {
			o.logger = slog.New(handler).WithGroup("orchestrator")
		}
	}
}

// WithLogger sets the logger directly.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator. The state handler is attached later via
// SetHandler since the saga needs the orchestrator first.
func New(st *store.Store, b *bus.Bus, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:  st,
		bus:    b,
		logger: slog.Default().WithGroup("orchestrator"),
		timers: make(map[int64]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetHandler attaches the saga state handler. Must be called before the first
// Initialize or Submit.
func (o *Orchestrator) SetHandler(h StateHandler) { o.handler = h }

// Initialize publishes the INIT state of a freshly created order, appends the
// opening lifecycle entry and dispatches the INIT entry handler. The order
// creation transaction must already be committed.
func (o *Orchestrator) Initialize(ctx context.Context, orderID int64) error {
	var rt *domain.FSMRuntime
	err := o.store.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		rt, err = o.store.LockRuntimeTx(tx, orderID)
		if err != nil {
			return err
		}
		if rt.CurrentState != string(fsm.StateInit) {
			return fmt.Errorf("%w: order %d already initialized in state %s",
				domain.ErrConflict, orderID, rt.CurrentState)
		}
		return o.store.AppendLifecycleTx(tx, &domain.LifecycleLog{
			OrderID:   orderID,
			RuntimeID: rt.RuntimeID,
			ToState:   string(fsm.StateInit),
			ActorType: domain.ActorSystem,
		})
	})
	if err != nil {
		return err
	}

	o.logger.Info("fsm initialized", "order_id", orderID, "kiosk_id", rt.KioskID)
	o.publish(rt.KioskID, orderID, "", fsm.StateInit, "", nil)
	o.dispatch(orderID, fsm.StateInit)
	return nil
}

// Submit delivers one event to the order's FSM. Returns true when the
// transition was applied. An event that is not valid in the current state is
// logged with from == to and returns false without publishing anything.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (bool, error) {
	event, err := fsm.NormalizeEvent(string(sub.Event))
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var (
		rt       *domain.FSMRuntime
		current  fsm.State
		next     fsm.State
		rejected bool
	)
	err = o.store.Transaction(ctx, func(tx *gorm.DB) error {
		rt, err = o.store.LockRuntimeTx(tx, sub.OrderID)
		if err != nil {
			return err
		}
		current, err = fsm.NormalizeState(rt.CurrentState)
		if err != nil {
			return fmt.Errorf("order %d: %w", sub.OrderID, err)
		}

		machine := fsm.NewMachine(current)
		if !machine.CanFire(event) {
			rejected = true
			comment := fmt.Sprintf("invalid transition: event %s in state %s", event, current)
			return o.store.AppendLifecycleTx(tx, &domain.LifecycleLog{
				OrderID:      sub.OrderID,
				RuntimeID:    rt.RuntimeID,
				FromState:    ptr(string(current)),
				ToState:      string(current),
				TriggerEvent: ptr(string(event)),
				ActorType:    sub.Actor,
				ActorID:      sub.ActorID,
				Comment:      &comment,
			})
		}

		next, err = machine.Fire(event)
		if err != nil {
			return err
		}

		foldContext(rt, event, sub.Data)
		rt.CurrentState = string(next)
		if err := o.store.SaveRuntimeTx(tx, rt); err != nil {
			return err
		}
		return o.store.AppendLifecycleTx(tx, &domain.LifecycleLog{
			OrderID:      sub.OrderID,
			RuntimeID:    rt.RuntimeID,
			FromState:    ptr(string(current)),
			ToState:      string(next),
			TriggerEvent: ptr(string(event)),
			ActorType:    sub.Actor,
			ActorID:      sub.ActorID,
			Comment:      sub.Comment,
		})
	})
	if err != nil {
		return false, err
	}

	if rejected {
		o.logger.Warn("invalid transition rejected",
			"order_id", sub.OrderID,
			"state", current,
			"event", event,
			"actor", sub.Actor)
		return false, nil
	}

	o.logger.Info("state transition",
		"order_id", sub.OrderID,
		"from", current,
		"to", next,
		"event", event,
		"actor", sub.Actor)

	o.cancelTimer(sub.OrderID)
	if !fsm.IsTerminal(next) {
		o.armTimer(sub.OrderID, next)
	}
	o.publish(rt.KioskID, sub.OrderID, current, next, event, sub.Data)
	o.dispatch(sub.OrderID, next)
	return true, nil
}

// ArmTimer re-arms the safety-net timer for an order sitting in the given
// state. Recovery uses this for orders restored mid-flight.
func (o *Orchestrator) ArmTimer(orderID int64, state fsm.State) {
	o.armTimer(orderID, state)
}

// Dispatch re-runs the entry handler for the order's current state.
func (o *Orchestrator) Dispatch(orderID int64, state fsm.State) {
	o.dispatch(orderID, state)
}

// Stop cancels every active timer, stops accepting dispatches and waits for
// in-flight handlers to notice the cancellation.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.closed = true
	for orderID, t := range o.timers {
		t.Stop()
		delete(o.timers, orderID)
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.logger.Debug("orchestrator stopped")
}

func (o *Orchestrator) publish(kioskID string, orderID int64, from, to fsm.State, event fsm.Event, data map[string]any) {
	payload := bus.Event{
		"type":           EventStateChanged,
		"order_id":       orderID,
		"state":          string(to),
		"previous_state": string(from),
		"trigger_event":  string(event),
		"is_terminal":    fsm.IsTerminal(to),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		payload["event_data"] = data
	}
	o.bus.Publish(kioskID, payload)
}

func (o *Orchestrator) dispatch(orderID int64, state fsm.State) {
	if o.handler == nil {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.handler.OnStateEntered(o.ctx, orderID, state)
	}()
}

func (o *Orchestrator) armTimer(orderID int64, state fsm.State) {
	event, hasEvent := timerEvents[state]
	timeout, hasTimeout := fsm.StateTimeout(state)
	if !hasEvent || !hasTimeout {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if prev, ok := o.timers[orderID]; ok {
		prev.Stop()
	}
	o.timers[orderID] = time.AfterFunc(timeout, func() {
		o.fireTimer(orderID, state, event)
	})
	o.logger.Debug("timer armed", "order_id", orderID, "state", state, "timeout", timeout)
}

func (o *Orchestrator) cancelTimer(orderID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.timers[orderID]; ok {
		t.Stop()
		delete(o.timers, orderID)
	}
}

// fireTimer re-reads the current state before submitting: a fire that raced a
// state change must be a no-op. Submit would reject it anyway, but the guard
// keeps spurious invalid-transition entries out of the audit log.
func (o *Orchestrator) fireTimer(orderID int64, armedState fsm.State, event fsm.Event) {
	o.cancelTimer(orderID)

	rt, err := o.store.GetRuntime(o.ctx, orderID)
	if err != nil {
		o.logger.Error("timer fired but runtime unreadable", "order_id", orderID, "error", err)
		return
	}
	if rt.CurrentState != string(armedState) {
		o.logger.Debug("timer fire suppressed, state moved on",
			"order_id", orderID,
			"armed_state", armedState,
			"current_state", rt.CurrentState)
		return
	}

	comment := fmt.Sprintf("timeout in state %s", armedState)
	if _, err := o.Submit(o.ctx, Submission{
		OrderID: orderID,
		Event:   event,
		Actor:   domain.ActorSystem,
		Comment: &comment,
	}); err != nil {
		o.logger.Error("timeout submission failed", "order_id", orderID, "event", event, "error", err)
	}
}

// foldContext merges event data into the context bundle matching the event
// class. KDS and user-cancel events carry no device context to fold.
func foldContext(rt *domain.FSMRuntime, event fsm.Event, data map[string]any) {
	if data == nil {
		return
	}
	var target **domain.StepContext
	switch event {
	case fsm.EventFiscalizationSucceeded, fsm.EventFiscalizationFailed:
		target = &rt.Fiscal
	case fsm.EventPaymentSucceeded, fsm.EventPaymentFailed, fsm.EventInactivityTimeout:
		target = &rt.Payment
	case fsm.EventPrintingSucceeded, fsm.EventPrintingFailedOrTimeout:
		target = &rt.Printing
	default:
		return
	}
	if *target == nil {
		*target = &domain.StepContext{}
	}
	ctx := *target

	if v, ok := data["session_id"].(string); ok {
		ctx.SessionID = v
	}
	if v, ok := data["device_id"].(string); ok {
		ctx.DeviceID = v
	}
	if v, ok := data["transaction_id"].(string); ok {
		ctx.TransactionID = v
	}
	if v, ok := data["result_code"].(string); ok {
		ctx.ResultCode = v
	}
	if v, ok := data["result_description"].(string); ok {
		ctx.ResultDescription = v
	}
	now := time.Now().UTC()
	ctx.ResponseAt = &now
}

func ptr[T any](v T) *T { return &v }
