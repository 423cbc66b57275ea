package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
)

// pickupAttempts bounds the rejection sampling for pickup numbers and pin
// codes before falling back to a time-derived value.
const pickupAttempts = 100

// NewOrderLine is one requested order line.
type NewOrderLine struct {
	ItemID   int64
	Quantity int
	Wishes   *string
}

// NewOrder is the order creation command.
type NewOrder struct {
	KioskID    string
	Currency   string
	CustomerID *int64
	SessionID  *string
	Lines      []NewOrderLine
}

func (n NewOrder) validate() error {
	if len(n.Lines) == 0 {
		return fmt.Errorf("%w: order has no items", domain.ErrValidation)
	}
	if len(n.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code, got %q", domain.ErrValidation, n.Currency)
	}
	for _, line := range n.Lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", domain.ErrValidation, line.ItemID)
		}
	}
	return nil
}

// CreateOrder atomically persists the order, its line items with price
// snapshots, and an FSM runtime row in state INIT. Every line is validated
// against the live catalog and current stock; any failure rolls the whole
// order back. Stock itself is not touched here, deduction happens on kitchen
// acceptance.
func (s *Store) CreateOrder(ctx context.Context, cmd NewOrder) (*domain.Order, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	orderDate := now.Truncate(24 * time.Hour)

	var created *domain.Order
	err := s.Transaction(ctx, func(tx *gorm.DB) error {
		totalNet := decimal.Zero
		totalVAT := decimal.Zero
		totalGross := decimal.Zero
		items := make([]domain.OrderItem, 0, len(cmd.Lines))

		for _, line := range cmd.Lines {
			var item domain.ItemLive
			err := tx.Preload("Availability").First(&item, "item_id = ?", line.ItemID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: item %d does not exist", domain.ErrValidation, line.ItemID)
			}
			if err != nil {
				return fmt.Errorf("load item %d: %w", line.ItemID, err)
			}
			if !item.IsActive {
				return fmt.Errorf("%w: item %d is not active", domain.ErrValidation, line.ItemID)
			}
			if item.Availability == nil || item.Availability.StockQuantity < line.Quantity {
				return fmt.Errorf("%w: insufficient stock for item %d", domain.ErrValidation, line.ItemID)
			}

			qty := decimal.NewFromInt(int64(line.Quantity))
			lineNet := item.PriceNet.Mul(qty)
			lineVAT := item.VATAmount.Mul(qty)
			lineGross := item.PriceGross.Mul(qty)

			items = append(items, domain.OrderItem{
				OrderItemID:     uuid.Must(uuid.NewV4()),
				ItemID:          item.ItemID,
				NameRU:          item.NameRU,
				NameEN:          item.NameEN,
				DescriptionRU:   item.DescriptionRU,
				DescriptionEN:   item.DescriptionEN,
				UnitNameRU:      item.UnitNameRU,
				UnitNameEN:      item.UnitNameEN,
				PriceNet:        item.PriceNet,
				VATRate:         item.VATRate,
				VATAmount:       item.VATAmount,
				PriceGross:      item.PriceGross,
				Quantity:        line.Quantity,
				LineAmountNet:   lineNet,
				LineAmountVAT:   lineVAT,
				LineAmountGross: lineGross,
				Wishes:          line.Wishes,
			})
			totalNet = totalNet.Add(lineNet)
			totalVAT = totalVAT.Add(lineVAT)
			totalGross = totalGross.Add(lineGross)
		}

		pickup, err := s.generatePickupNumber(tx, orderDate)
		if err != nil {
			return err
		}
		pin, err := s.generatePinCode(tx, orderDate)
		if err != nil {
			return err
		}

		order := &domain.Order{
			OrderDate:        orderDate,
			Status:           domain.OrderPending,
			OrderTime:        now,
			Currency:         cmd.Currency,
			TotalAmountNet:   totalNet,
			TotalAmountVAT:   totalVAT,
			TotalAmountGross: totalGross,
			CustomerID:       cmd.CustomerID,
			SessionID:        cmd.SessionID,
			KioskID:          cmd.KioskID,
			PickupNumber:     pickup,
			PinCode:          pin,
			Items:            items,
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		runtime := &domain.FSMRuntime{
			RuntimeID:    uuid.Must(uuid.NewV4()),
			OrderID:      order.OrderID,
			CurrentState: string(fsm.StateInit),
			KioskID:      cmd.KioskID,
			PickupNumber: pickup,
			PinCode:      pin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(runtime).Error; err != nil {
			return fmt.Errorf("insert fsm runtime: %w", err)
		}

		order.Runtime = runtime
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		"order_id", created.OrderID,
		"kiosk_id", created.KioskID,
		"pickup_number", created.PickupNumber,
		"total_gross", created.TotalAmountGross)
	return created, nil
}

// generatePickupNumber draws a 3-digit number in 001..999 unique within the
// order date. After the sampling budget it derives one from the clock so
// creation never fails outright on a crowded day.
func (s *Store) generatePickupNumber(tx *gorm.DB, orderDate time.Time) (string, error) {
	for i := 0; i < pickupAttempts; i++ {
		candidate := fmt.Sprintf("%03d", rand.IntN(999)+1)
		taken, err := s.pickupTaken(tx, orderDate, "pickup_number", candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	fallback := fmt.Sprintf("%03d", time.Now().UnixNano()%999+1)
	s.logger.Warn("pickup number sampling exhausted, using time-derived fallback", "pickup_number", fallback)
	return fallback, nil
}

// generatePinCode draws a 4-digit code in 1000..9999 unique within the order
// date, with the same fallback strategy.
func (s *Store) generatePinCode(tx *gorm.DB, orderDate time.Time) (string, error) {
	for i := 0; i < pickupAttempts; i++ {
		candidate := fmt.Sprintf("%04d", rand.IntN(9000)+1000)
		taken, err := s.pickupTaken(tx, orderDate, "pin_code", candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	fallback := fmt.Sprintf("%04d", time.Now().UnixNano()%9000+1000)
	s.logger.Warn("pin code sampling exhausted, using time-derived fallback")
	return fallback, nil
}

func (s *Store) pickupTaken(tx *gorm.DB, orderDate time.Time, column, candidate string) (bool, error) {
	var count int64
	err := tx.Model(&domain.Order{}).
		Where("order_date = ? AND "+column+" = ?", orderDate, candidate).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check %s uniqueness: %w", column, err)
	}
	return count > 0, nil
}

// GetOrder loads an order shallowly.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).First(&order, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return &order, nil
}

// GetOrderDeep loads an order with items, runtime, payments and the lifecycle
// log chain.
func (s *Store) GetOrderDeep(ctx context.Context, orderID int64) (*domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("Runtime").
		Preload("Payments").
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("log_id ASC") }).
		First(&order, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return &order, nil
}

// ListByStatus pages through orders in one business status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []domain.Order
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("order_id DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders by status %s: %w", status, err)
	}
	return orders, nil
}

// CountByStatus counts orders in one business status.
func (s *Store) CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count orders by status %s: %w", status, err)
	}
	return count, nil
}

// UpdateStatusTx sets the business status inside the caller's transaction.
func (s *Store) UpdateStatusTx(tx *gorm.DB, orderID int64, status domain.OrderStatus) error {
	res := tx.Model(&domain.Order{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update order %d status: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
	}
	return nil
}

// UpdateStatus sets the business status in its own transaction.
func (s *Store) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		return s.UpdateStatusTx(tx, orderID, status)
	})
}
