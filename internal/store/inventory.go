package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
)

// Adjustment is one requested stock change. Delta is signed: negative for
// deduction, positive for replenishment. ChangedBy is the identity recorded
// in the ledger.
type Adjustment struct {
	ItemID    int64
	Delta     int
	ChangedBy string
}

// Adjust applies one stock change and appends the ledger entry in a single
// transaction. The applied delta is clamped so stock never goes below zero;
// both the requested and the applied quantity are recorded. Returns the
// ledger entry.
func (s *Store) Adjust(ctx context.Context, adj Adjustment) (*domain.StockAdjustment, error) {
	if adj.Delta == 0 {
		return nil, fmt.Errorf("%w: zero stock adjustment for item %d", domain.ErrValidation, adj.ItemID)
	}
	if adj.ChangedBy == "" {
		return nil, fmt.Errorf("%w: stock adjustment requires an actor", domain.ErrValidation)
	}

	var entry *domain.StockAdjustment
	err := s.Transaction(ctx, func(tx *gorm.DB) error {
		var item domain.ItemLive
		err := tx.First(&item, "item_id = ?", adj.ItemID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: item %d", domain.ErrNotFound, adj.ItemID)
		}
		if err != nil {
			return fmt.Errorf("load item %d: %w", adj.ItemID, err)
		}

		var avail domain.ItemAvailability
		err = lockForUpdate(tx).First(&avail, "item_id = ?", adj.ItemID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// First replenishment creates the availability row.
			if adj.Delta < 0 {
				return fmt.Errorf("%w: no stock record for item %d", domain.ErrNotFound, adj.ItemID)
			}
			avail = domain.ItemAvailability{
				ItemID:     adj.ItemID,
				UnitNameRU: item.UnitNameRU,
				UnitNameEN: item.UnitNameEN,
			}
		} else if err != nil {
			return fmt.Errorf("lock stock for item %d: %w", adj.ItemID, err)
		}

		applied := adj.Delta
		if avail.StockQuantity+applied < 0 {
			applied = -avail.StockQuantity
		}
		avail.StockQuantity += applied

		if err := tx.Save(&avail).Error; err != nil {
			return fmt.Errorf("update stock for item %d: %w", adj.ItemID, err)
		}

		entry = &domain.StockAdjustment{
			ItemID:          adj.ItemID,
			NameRU:          item.NameRU,
			UnitNameRU:      item.UnitNameRU,
			UnitNameEN:      item.UnitNameEN,
			ChangeQuantity:  adj.Delta,
			AppliedQuantity: applied,
			ChangedAt:       time.Now().UTC(),
			ChangedBy:       adj.ChangedBy,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("append stock ledger for item %d: %w", adj.ItemID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if entry.AppliedQuantity != entry.ChangeQuantity {
		s.logger.Warn("stock adjustment clamped",
			"item_id", entry.ItemID,
			"requested", entry.ChangeQuantity,
			"applied", entry.AppliedQuantity,
			"changed_by", entry.ChangedBy)
	}
	return entry, nil
}

// StockQuantity reads the current stock level of an item.
func (s *Store) StockQuantity(ctx context.Context, itemID int64) (int, error) {
	var avail domain.ItemAvailability
	err := s.db.WithContext(ctx).First(&avail, "item_id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: no stock record for item %d", domain.ErrNotFound, itemID)
	}
	if err != nil {
		return 0, fmt.Errorf("load stock for item %d: %w", itemID, err)
	}
	return avail.StockQuantity, nil
}

// StockLedger returns the ordered adjustment history of an item.
func (s *Store) StockLedger(ctx context.Context, itemID int64) ([]domain.StockAdjustment, error) {
	var entries []domain.StockAdjustment
	err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("operation_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load stock ledger for item %d: %w", itemID, err)
	}
	return entries, nil
}
