package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"gorm.io/gorm"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
)

// SaveFiscalReceipt stores the fiscal document produced on fiscalization
// success.
func (s *Store) SaveFiscalReceipt(ctx context.Context, r *domain.FiscalReceipt) error {
	if r.FiscalReceiptID.IsNil() {
		r.FiscalReceiptID = uuid.Must(uuid.NewV4())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("save fiscal receipt for order %d: %w", r.OrderID, err)
	}
	return nil
}

// SaveSlipReceipt stores the POS terminal slip produced on payment success.
func (s *Store) SaveSlipReceipt(ctx context.Context, r *domain.SlipReceipt) error {
	if r.SlipReceiptID.IsNil() {
		r.SlipReceiptID = uuid.Must(uuid.NewV4())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("save slip receipt for order %d: %w", r.OrderID, err)
	}
	return nil
}

// SaveSummaryReceipt stores the combined customer receipt with pickup
// identifiers.
func (s *Store) SaveSummaryReceipt(ctx context.Context, r *domain.SummaryReceipt) error {
	if r.SummaryReceiptID.IsNil() {
		r.SummaryReceiptID = uuid.Must(uuid.NewV4())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("save summary receipt for order %d: %w", r.OrderID, err)
	}
	return nil
}

// FiscalReceiptForOrder loads the fiscal receipt of an order.
func (s *Store) FiscalReceiptForOrder(ctx context.Context, orderID int64) (*domain.FiscalReceipt, error) {
	var r domain.FiscalReceipt
	err := s.db.WithContext(ctx).First(&r, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: fiscal receipt for order %d", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load fiscal receipt for order %d: %w", orderID, err)
	}
	return &r, nil
}

// SlipReceiptForOrder loads the slip receipt of an order.
func (s *Store) SlipReceiptForOrder(ctx context.Context, orderID int64) (*domain.SlipReceipt, error) {
	var r domain.SlipReceipt
	err := s.db.WithContext(ctx).First(&r, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: slip receipt for order %d", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load slip receipt for order %d: %w", orderID, err)
	}
	return &r, nil
}

// SavePayment records one payment attempt outcome.
func (s *Store) SavePayment(ctx context.Context, p *domain.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("save payment for order %d: %w", p.OrderID, err)
	}
	return nil
}
