package store

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.Must(uuid.NewV4()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	return New(db)
}

func seedItem(t *testing.T, s *Store, id int64, gross string, stock int) {
	t.Helper()
	grossDec, err := decimal.NewFromString(gross)
	require.NoError(t, err)
	vat := grossDec.Div(decimal.NewFromInt(6)).Round(2)
	net := grossDec.Sub(vat)

	require.NoError(t, s.db.Create(&domain.ItemLive{
		ItemID:     id,
		NameRU:     fmt.Sprintf("Позиция %d", id),
		NameEN:     fmt.Sprintf("Item %d", id),
		IsActive:   true,
		UnitNameRU: "шт",
		UnitNameEN: "pcs",
		PriceNet:   net,
		VATRate:    decimal.NewFromInt(20),
		VATAmount:  vat,
		PriceGross: grossDec,
		CreatedAt:  time.Now().UTC(),
	}).Error)
	require.NoError(t, s.db.Create(&domain.ItemAvailability{
		ItemID:        id,
		StockQuantity: stock,
		UnitNameRU:    "шт",
		UnitNameEN:    "pcs",
	}).Error)
}

func TestSQLiteDSNCarriesBusyTimeout(t *testing.T) {
	assert.Equal(t, "kiosk.db?_busy_timeout=5000", sqliteDSN("kiosk.db"))
	assert.Equal(t,
		"file:x?mode=memory&cache=shared&_busy_timeout=5000",
		sqliteDSN("file:x?mode=memory&cache=shared"))
	assert.Equal(t,
		"kiosk.db?_busy_timeout=10000",
		sqliteDSN("kiosk.db?_busy_timeout=10000"),
		"an explicit timeout wins")
}

func TestCreateOrderHappyPath(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 5)

	order, err := s.CreateOrder(context.Background(), NewOrder{
		KioskID:  "KIOSK-01",
		Currency: "RUB",
		Lines:    []NewOrderLine{{ItemID: 10, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, order.Status)
	assert.True(t, order.TotalAmountGross.Equal(decimal.RequireFromString("6.00")),
		"got %s", order.TotalAmountGross)
	assert.True(t, order.TotalAmountNet.Add(order.TotalAmountVAT).Equal(order.TotalAmountGross))
	assert.Regexp(t, regexp.MustCompile(`^\d{3}$`), order.PickupNumber)
	assert.NotEqual(t, "000", order.PickupNumber)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), order.PinCode)

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, "Item 10", item.NameEN)
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, item.LineAmountGross.Equal(decimal.RequireFromString("6.00")))

	require.NotNil(t, order.Runtime)
	assert.Equal(t, string(fsm.StateInit), order.Runtime.CurrentState)
	assert.Equal(t, order.PickupNumber, order.Runtime.PickupNumber)

	// Stock is untouched at creation time.
	stock, err := s.StockQuantity(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestCreateOrderValidation(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 1)
	ctx := context.Background()

	t.Run("no items", func(t *testing.T) {
		_, err := s.CreateOrder(ctx, NewOrder{KioskID: "K", Currency: "RUB"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := s.CreateOrder(ctx, NewOrder{
			KioskID: "K", Currency: "RUB",
			Lines: []NewOrderLine{{ItemID: 999, Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		_, err := s.CreateOrder(ctx, NewOrder{
			KioskID: "K", Currency: "RUB",
			Lines: []NewOrderLine{{ItemID: 10, Quantity: 2}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("inactive item", func(t *testing.T) {
		require.NoError(t, s.db.Model(&domain.ItemLive{}).
			Where("item_id = ?", 10).Update("is_active", false).Error)
		_, err := s.CreateOrder(ctx, NewOrder{
			KioskID: "K", Currency: "RUB",
			Lines: []NewOrderLine{{ItemID: 10, Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	// Every failure rolled the whole order back.
	var count int64
	require.NoError(t, s.db.Model(&domain.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateOrderPartialFailureRollsBack(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 5)

	_, err := s.CreateOrder(context.Background(), NewOrder{
		KioskID: "K", Currency: "RUB",
		Lines: []NewOrderLine{
			{ItemID: 10, Quantity: 1},
			{ItemID: 999, Quantity: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	var orders, items, runtimes int64
	require.NoError(t, s.db.Model(&domain.Order{}).Count(&orders).Error)
	require.NoError(t, s.db.Model(&domain.OrderItem{}).Count(&items).Error)
	require.NoError(t, s.db.Model(&domain.FSMRuntime{}).Count(&runtimes).Error)
	assert.Zero(t, orders)
	assert.Zero(t, items)
	assert.Zero(t, runtimes)
}

func TestPickupNumbersUniquePerDay(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 1000)

	seen := make(map[string]bool)
	for i := 0; i < 30; i++ {
		order, err := s.CreateOrder(context.Background(), NewOrder{
			KioskID: "K", Currency: "RUB",
			Lines: []NewOrderLine{{ItemID: 10, Quantity: 1}},
		})
		require.NoError(t, err)
		assert.False(t, seen[order.PickupNumber], "pickup %s repeated", order.PickupNumber)
		seen[order.PickupNumber] = true
	}
}

func TestGetOrderDeep(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 5)
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, NewOrder{
		KioskID: "K", Currency: "RUB",
		Lines: []NewOrderLine{{ItemID: 10, Quantity: 2}},
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendLifecycle(ctx, &domain.LifecycleLog{
		OrderID:   order.OrderID,
		RuntimeID: order.Runtime.RuntimeID,
		ToState:   string(fsm.StateInit),
		ActorType: domain.ActorSystem,
	}))

	got, err := s.GetOrderDeep(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	require.NotNil(t, got.Runtime)
	assert.Len(t, got.Logs, 1)

	_, err = s.GetOrderDeep(ctx, 98765)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAndCountByStatus(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 100)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		order, err := s.CreateOrder(ctx, NewOrder{
			KioskID: "K", Currency: "RUB",
			Lines: []NewOrderLine{{ItemID: 10, Quantity: 1}},
		})
		require.NoError(t, err)
		ids = append(ids, order.OrderID)
	}
	require.NoError(t, s.UpdateStatus(ctx, ids[0], domain.OrderCompleted))

	pending, err := s.ListByStatus(ctx, domain.OrderPending, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	count, err := s.CountByStatus(ctx, domain.OrderCompleted)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestAdjustDeductsAndRecordsLedger(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 5)
	ctx := context.Background()

	entry, err := s.Adjust(ctx, Adjustment{ItemID: 10, Delta: -2, ChangedBy: "KIOSK_AUTO_DEDUCTION"})
	require.NoError(t, err)
	assert.Equal(t, -2, entry.ChangeQuantity)
	assert.Equal(t, -2, entry.AppliedQuantity)
	assert.Equal(t, "KIOSK_AUTO_DEDUCTION", entry.ChangedBy)
	assert.Equal(t, "Позиция 10", entry.NameRU)

	stock, err := s.StockQuantity(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)
}

func TestAdjustClampsAtZero(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 3)
	ctx := context.Background()

	entry, err := s.Adjust(ctx, Adjustment{ItemID: 10, Delta: -5, ChangedBy: "KIOSK_AUTO_DEDUCTION"})
	require.NoError(t, err)
	assert.Equal(t, -5, entry.ChangeQuantity, "requested delta recorded as asked")
	assert.Equal(t, -3, entry.AppliedQuantity, "applied delta clamped")

	stock, err := s.StockQuantity(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, stock)
}

func TestAdjustReplenishes(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 1)
	ctx := context.Background()

	_, err := s.Adjust(ctx, Adjustment{ItemID: 10, Delta: 7, ChangedBy: "warehouse"})
	require.NoError(t, err)

	stock, err := s.StockQuantity(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 8, stock)

	ledger, err := s.StockLedger(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, 7, ledger[0].AppliedQuantity)
}

func TestAdjustValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Adjust(ctx, Adjustment{ItemID: 10, Delta: 0, ChangedBy: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Adjust(ctx, Adjustment{ItemID: 10, Delta: -1, ChangedBy: ""})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Adjust(ctx, Adjustment{ItemID: 999, Delta: -1, ChangedBy: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycleChainOrdering(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 5)
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, NewOrder{
		KioskID: "K", Currency: "RUB",
		Lines: []NewOrderLine{{ItemID: 10, Quantity: 1}},
	})
	require.NoError(t, err)

	states := []string{"INIT", "AWAITING_PAYMENT", "AWAITING_PRINTING"}
	var prev *string
	for _, state := range states {
		st := state
		require.NoError(t, s.AppendLifecycle(ctx, &domain.LifecycleLog{
			OrderID:   order.OrderID,
			RuntimeID: order.Runtime.RuntimeID,
			FromState: prev,
			ToState:   st,
			ActorType: domain.ActorSystem,
		}))
		prev = &st
	}

	chain, err := s.LifecycleChain(ctx, order.OrderID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i := 1; i < len(chain); i++ {
		require.NotNil(t, chain[i].FromState)
		assert.Equal(t, chain[i-1].ToState, *chain[i].FromState, "entry %d chains to its predecessor", i)
	}
}

func TestReceiptsAndPayments(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 5)
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, NewOrder{
		KioskID: "K", Currency: "RUB",
		Lines: []NewOrderLine{{ItemID: 10, Quantity: 1}},
	})
	require.NoError(t, err)

	fiscal := &domain.FiscalReceipt{
		OrderID:    order.OrderID,
		ExternalID: "FD-1",
		Body:       domain.JSONMap{"fn_number": "9999"},
		CreatedBy:  "FISCAL_DEVICE",
	}
	require.NoError(t, s.SaveFiscalReceipt(ctx, fiscal))
	assert.False(t, fiscal.FiscalReceiptID.IsNil())

	slip := &domain.SlipReceipt{
		OrderID:    order.OrderID,
		ExternalID: "txn-1",
		Body:       domain.JSONMap{"auth_code": "123456"},
		CreatedBy:  "POS_TERMINAL",
	}
	require.NoError(t, s.SaveSlipReceipt(ctx, slip))

	require.NoError(t, s.SaveSummaryReceipt(ctx, &domain.SummaryReceipt{
		OrderID:         order.OrderID,
		SlipReceiptID:   &slip.SlipReceiptID,
		FiscalReceiptID: &fiscal.FiscalReceiptID,
		PickupNumber:    order.PickupNumber,
		PinCode:         order.PinCode,
	}))

	require.NoError(t, s.SavePayment(ctx, &domain.Payment{
		OrderID:       order.OrderID,
		Status:        "SUCCESS",
		TransactionID: "txn-1",
		AmountGross:   order.TotalAmountGross,
		Currency:      "RUB",
	}))

	gotFiscal, err := s.FiscalReceiptForOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "9999", gotFiscal.Body["fn_number"])

	gotSlip, err := s.SlipReceiptForOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "123456", gotSlip.Body["auth_code"])

	deep, err := s.GetOrderDeep(ctx, order.OrderID)
	require.NoError(t, err)
	require.Len(t, deep.Payments, 1)
	assert.Equal(t, "SUCCESS", deep.Payments[0].Status)
}

func TestRuntimeLockAndSave(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 5)
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, NewOrder{
		KioskID: "K", Currency: "RUB",
		Lines: []NewOrderLine{{ItemID: 10, Quantity: 1}},
	})
	require.NoError(t, err)

	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		rt, err := s.LockRuntimeTx(tx, order.OrderID)
		if err != nil {
			return err
		}
		rt.CurrentState = "AWAITING_PAYMENT"
		rt.Payment = &domain.StepContext{SessionID: "sess-1"}
		return s.SaveRuntimeTx(tx, rt)
	})
	require.NoError(t, err)

	rt, err := s.GetRuntime(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "AWAITING_PAYMENT", rt.CurrentState)
	require.NotNil(t, rt.Payment)
	assert.Equal(t, "sess-1", rt.Payment.SessionID)
}

func TestListRuntimesInStates(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, 10, "3.00", 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateOrder(ctx, NewOrder{
			KioskID: "K", Currency: "RUB",
			Lines: []NewOrderLine{{ItemID: 10, Quantity: 1}},
		})
		require.NoError(t, err)
	}

	runtimes, err := s.ListRuntimesInStates(ctx, []string{"INIT", "AWAITING_PAYMENT"})
	require.NoError(t, err)
	assert.Len(t, runtimes, 3)

	runtimes, err = s.ListRuntimesInStates(ctx, []string{"SENT_TO_KDS"})
	require.NoError(t, err)
	assert.Empty(t, runtimes)
}
