package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
)

// lockForUpdate applies a row lock where the backend supports it. SQLite
// serializes writers on its own, and errors on FOR UPDATE syntax.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockRuntimeTx loads the FSM runtime row under a row lock. The lock holds
// until the caller's transaction commits, which is what serializes competing
// event submissions for one order.
func (s *Store) LockRuntimeTx(tx *gorm.DB, orderID int64) (*domain.FSMRuntime, error) {
	var rt domain.FSMRuntime
	err := lockForUpdate(tx).First(&rt, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: fsm runtime for order %d", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock fsm runtime for order %d: %w", orderID, err)
	}
	return &rt, nil
}

// SaveRuntimeTx writes the runtime row back inside the caller's transaction.
func (s *Store) SaveRuntimeTx(tx *gorm.DB, rt *domain.FSMRuntime) error {
	rt.UpdatedAt = time.Now().UTC()
	if err := tx.Save(rt).Error; err != nil {
		return fmt.Errorf("save fsm runtime for order %d: %w", rt.OrderID, err)
	}
	return nil
}

// GetRuntime loads the runtime row without locking.
func (s *Store) GetRuntime(ctx context.Context, orderID int64) (*domain.FSMRuntime, error) {
	var rt domain.FSMRuntime
	err := s.db.WithContext(ctx).First(&rt, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: fsm runtime for order %d", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load fsm runtime for order %d: %w", orderID, err)
	}
	return &rt, nil
}

// ListRuntimesInStates returns every runtime whose current state is in the
// given set. Recovery uses this with the non-terminal states.
func (s *Store) ListRuntimesInStates(ctx context.Context, states []string) ([]domain.FSMRuntime, error) {
	var runtimes []domain.FSMRuntime
	err := s.db.WithContext(ctx).
		Where("current_state IN ?", states).
		Order("order_id ASC").
		Find(&runtimes).Error
	if err != nil {
		return nil, fmt.Errorf("list runtimes by state: %w", err)
	}
	return runtimes, nil
}

// AppendLifecycleTx appends one audit entry inside the caller's transaction.
func (s *Store) AppendLifecycleTx(tx *gorm.DB, entry *domain.LifecycleLog) error {
	if entry.EventCreatedAt.IsZero() {
		entry.EventCreatedAt = time.Now().UTC()
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("append lifecycle log for order %d: %w", entry.OrderID, err)
	}
	return nil
}

// AppendLifecycle appends one audit entry in its own transaction.
func (s *Store) AppendLifecycle(ctx context.Context, entry *domain.LifecycleLog) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		return s.AppendLifecycleTx(tx, entry)
	})
}

// LifecycleChain returns the ordered audit trail of an order.
func (s *Store) LifecycleChain(ctx context.Context, orderID int64) ([]domain.LifecycleLog, error) {
	var entries []domain.LifecycleLog
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("log_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load lifecycle log for order %d: %w", orderID, err)
	}
	return entries, nil
}
