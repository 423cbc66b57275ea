// Package domain defines the persistent model of the kiosk order core and the
// error kinds shared across layers. Orders exclusively own their items,
// payments, receipts, FSM runtime and lifecycle logs; navigation between
// aggregates is by id, not by bidirectional pointers.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// ItemLive is a catalog entry. Mutated only through catalog admin paths;
// orders reference it by id-snapshot.
type ItemLive struct {
	ItemID        int64  `gorm:"column:item_id;primaryKey;autoIncrement"`
	NameRU        string `gorm:"column:name_ru;size:200;not null"`
	NameEN        string `gorm:"column:name_en;size:200"`
	DescriptionRU string `gorm:"column:description_ru"`
	DescriptionEN string `gorm:"column:description_en"`
	IsActive      bool   `gorm:"column:is_active;not null;default:true"`
	UnitNameRU    string `gorm:"column:unit_name_ru;size:100"`
	UnitNameEN    string `gorm:"column:unit_name_en;size:100"`

	PriceNet   decimal.Decimal `gorm:"column:price_net;type:decimal(10,2);not null"`
	VATRate    decimal.Decimal `gorm:"column:vat_rate;type:decimal(5,2)"`
	VATAmount  decimal.Decimal `gorm:"column:vat_amount;type:decimal(10,2);not null"`
	PriceGross decimal.Decimal `gorm:"column:price_gross;type:decimal(10,2);not null"`

	FoodCategory string    `gorm:"column:food_category;size:100"`
	DayCategory  string    `gorm:"column:day_category;size:100"`
	CreatedAt    time.Time `gorm:"column:created_at"`

	Availability *ItemAvailability `gorm:"foreignKey:ItemID;references:ItemID"`
}

func (ItemLive) TableName() string { return "items_live" }

// ItemAvailability holds current stock for one catalog item.
// Invariant: StockQuantity >= 0 after every applied adjustment.
type ItemAvailability struct {
	ItemID           int64  `gorm:"column:item_id;primaryKey"`
	StockQuantity    int    `gorm:"column:stock_quantity;not null;default:0"`
	ReservedQuantity int    `gorm:"column:reserved_quantity;not null;default:0"`
	UnitNameRU       string `gorm:"column:unit_name_ru;size:100"`
	UnitNameEN       string `gorm:"column:unit_name_en;size:100"`
}

func (ItemAvailability) TableName() string { return "items_live_available" }

// StockAdjustment is one append-only ledger entry. ChangeQuantity is the
// requested signed delta; AppliedQuantity is what actually hit the stock after
// the non-negativity clamp. ChangedBy is a free identity string, not a foreign
// key, so automated actors like KIOSK_AUTO_DEDUCTION fit.
type StockAdjustment struct {
	OperationID     int64     `gorm:"column:operation_id;primaryKey;autoIncrement"`
	ItemID          int64     `gorm:"column:item_id;index;not null"`
	NameRU          string    `gorm:"column:name_ru;size:200;not null"`
	UnitNameRU      string    `gorm:"column:unit_name_ru;size:100"`
	UnitNameEN      string    `gorm:"column:unit_name_en;size:100"`
	ChangeQuantity  int       `gorm:"column:change_quantity;not null"`
	AppliedQuantity int       `gorm:"column:applied_quantity;not null"`
	ChangedAt       time.Time `gorm:"column:changed_at"`
	ChangedBy       string    `gorm:"column:changed_by;size:100;not null"`
}

func (StockAdjustment) TableName() string { return "stock_adjustments" }

// Order is one customer order. Totals equal the sum of the line totals;
// pickup number and pin code are unique within the order date.
type Order struct {
	OrderID   int64       `gorm:"column:order_id;primaryKey;autoIncrement"`
	OrderDate time.Time   `gorm:"column:order_date;index;not null"`
	Status    OrderStatus `gorm:"column:status;size:20;not null"`
	OrderTime time.Time   `gorm:"column:order_time;autoCreateTime"`

	Currency         string          `gorm:"column:currency;size:3;not null"`
	TotalAmountNet   decimal.Decimal `gorm:"column:total_amount_net;type:decimal(10,2);not null"`
	TotalAmountVAT   decimal.Decimal `gorm:"column:total_amount_vat;type:decimal(10,2);not null"`
	TotalAmountGross decimal.Decimal `gorm:"column:total_amount_gross;type:decimal(10,2);not null"`

	CustomerID *int64  `gorm:"column:customer_id"`
	SessionID  *string `gorm:"column:session_id;size:36"`
	KioskID    string  `gorm:"column:kiosk_id;size:100;index"`

	PickupNumber string `gorm:"column:pickup_number;size:20;not null;index"`
	PinCode      string `gorm:"column:pin_code;size:10;not null"`

	Items    []OrderItem    `gorm:"foreignKey:OrderID;references:OrderID"`
	Payments []Payment      `gorm:"foreignKey:OrderID;references:OrderID"`
	Runtime  *FSMRuntime    `gorm:"foreignKey:OrderID;references:OrderID"`
	Logs     []LifecycleLog `gorm:"foreignKey:OrderID;references:OrderID"`
}

func (Order) TableName() string { return "orders" }

// OrderItem carries snapshots of the menu item at order time, decoupling the
// order from later catalog edits.
type OrderItem struct {
	OrderItemID uuid.UUID `gorm:"column:order_item_id;type:uuid;primaryKey"`
	OrderID     int64     `gorm:"column:order_id;index;not null"`
	ItemID      int64     `gorm:"column:item_id;not null"`

	NameRU        string `gorm:"column:name_ru;size:200;not null"`
	NameEN        string `gorm:"column:name_en;size:200"`
	DescriptionRU string `gorm:"column:description_ru"`
	DescriptionEN string `gorm:"column:description_en"`
	UnitNameRU    string `gorm:"column:unit_name_ru;size:100"`
	UnitNameEN    string `gorm:"column:unit_name_en;size:100"`

	PriceNet   decimal.Decimal `gorm:"column:price_net;type:decimal(10,2);not null"`
	VATRate    decimal.Decimal `gorm:"column:vat_rate;type:decimal(5,2)"`
	VATAmount  decimal.Decimal `gorm:"column:vat_amount;type:decimal(10,2);not null"`
	PriceGross decimal.Decimal `gorm:"column:price_gross;type:decimal(10,2);not null"`

	Quantity        int             `gorm:"column:quantity;not null"`
	LineAmountNet   decimal.Decimal `gorm:"column:line_amount_net;type:decimal(10,2);not null"`
	LineAmountVAT   decimal.Decimal `gorm:"column:line_amount_vat;type:decimal(10,2);not null"`
	LineAmountGross decimal.Decimal `gorm:"column:line_amount_gross;type:decimal(10,2);not null"`

	Wishes *string `gorm:"column:wishes"`
}

func (OrderItem) TableName() string { return "order_items" }

// Payment records one payment attempt outcome.
type Payment struct {
	PaymentID       int64           `gorm:"column:payment_id;primaryKey;autoIncrement"`
	OrderID         int64           `gorm:"column:order_id;index;not null"`
	Status          string          `gorm:"column:status;size:20"`
	TransactionID   string          `gorm:"column:transaction_id;size:100;index"`
	ResponseCode    string          `gorm:"column:response_code;size:10"`
	ResponseMessage string          `gorm:"column:response_message;size:500"`
	AmountGross     decimal.Decimal `gorm:"column:amount_gross;type:decimal(10,2)"`
	Currency        string          `gorm:"column:currency;size:3"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	CompletedAt     *time.Time      `gorm:"column:completed_at"`
}

func (Payment) TableName() string { return "payments" }

// StepContext is the optional context bundle the saga folds into the runtime
// for one external step. Stored as a JSON blob column.
type StepContext struct {
	SessionID         string     `json:"session_id,omitempty"`
	DeviceID          string     `json:"device_id,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	ResponseAt        *time.Time `json:"response_at,omitempty"`
	ResultCode        string     `json:"result_code,omitempty"`
	ResultDescription string     `json:"result_description,omitempty"`
	TransactionID     string     `json:"transaction_id,omitempty"`
}

// Value implements driver.Valuer.
func (c *StepContext) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal step context: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *StepContext) Scan(src any) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported step context source %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, c)
}

// FSMRuntime is the one-to-one FSM row of an order. Only the orchestrator
// mutates CurrentState, under the row lock.
type FSMRuntime struct {
	RuntimeID    uuid.UUID    `gorm:"column:runtime_id;type:uuid;primaryKey"`
	OrderID      int64        `gorm:"column:order_id;uniqueIndex;not null"`
	CurrentState string       `gorm:"column:current_state;size:40;not null"`
	KioskID      string       `gorm:"column:kiosk_id;size:100;not null"`
	Payment      *StepContext `gorm:"column:payment_context;type:text"`
	Fiscal       *StepContext `gorm:"column:fiscal_context;type:text"`
	Printing     *StepContext `gorm:"column:printing_context;type:text"`
	PickupNumber string       `gorm:"column:pickup_number;size:20"`
	PinCode      string       `gorm:"column:pin_code;size:10"`
	CreatedAt    time.Time    `gorm:"column:created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at"`
}

func (FSMRuntime) TableName() string { return "order_fsm_runtime" }

// LifecycleLog is one append-only audit entry. Entries for an order form a
// chain: each entry's FromState equals the previous entry's ToState, and the
// last ToState equals FSMRuntime.CurrentState. Invalid transition attempts are
// logged with FromState == ToState.
type LifecycleLog struct {
	LogID          int64     `gorm:"column:log_id;primaryKey;autoIncrement"`
	OrderID        int64     `gorm:"column:order_id;index;not null"`
	RuntimeID      uuid.UUID `gorm:"column:runtime_id;type:uuid;not null"`
	FromState      *string   `gorm:"column:from_state;size:40"`
	ToState        string    `gorm:"column:to_state;size:40;not null"`
	TriggerEvent   *string   `gorm:"column:trigger_event;size:40"`
	ActorType      ActorType `gorm:"column:actor_type;size:20"`
	ActorID        *string   `gorm:"column:actor_id;size:100"`
	Comment        *string   `gorm:"column:comment;size:500"`
	EventCreatedAt time.Time `gorm:"column:event_created_at"`
}

func (LifecycleLog) TableName() string { return "order_lifecycle_log" }

// SlipReceipt is the opaque POS terminal slip stored on payment success.
type SlipReceipt struct {
	SlipReceiptID uuid.UUID `gorm:"column:slip_receipt_id;type:uuid;primaryKey"`
	OrderID       int64     `gorm:"column:order_id;index;not null"`
	ExternalID    string    `gorm:"column:external_id;size:100"`
	Body          JSONMap   `gorm:"column:body;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	CreatedBy     string    `gorm:"column:created_by;size:100"`
}

func (SlipReceipt) TableName() string { return "slip_receipts" }

// FiscalReceipt is the opaque fiscal document stored on fiscalization success.
type FiscalReceipt struct {
	FiscalReceiptID uuid.UUID `gorm:"column:fiscal_receipt_id;type:uuid;primaryKey"`
	OrderID         int64     `gorm:"column:order_id;index;not null"`
	ExternalID      string    `gorm:"column:external_id;size:100"`
	Body            JSONMap   `gorm:"column:body;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	CreatedBy       string    `gorm:"column:created_by;size:100"`
}

func (FiscalReceipt) TableName() string { return "fiscal_receipts" }

// SummaryReceipt ties the slip and fiscal receipts together and carries the
// pickup identifiers handed to the customer.
type SummaryReceipt struct {
	SummaryReceiptID uuid.UUID  `gorm:"column:summary_receipt_id;type:uuid;primaryKey"`
	OrderID          int64      `gorm:"column:order_id;index;not null"`
	SlipReceiptID    *uuid.UUID `gorm:"column:slip_receipt_id;type:uuid"`
	FiscalReceiptID  *uuid.UUID `gorm:"column:fiscal_receipt_id;type:uuid"`
	PickupNumber     string     `gorm:"column:pickup_number;size:20"`
	PinCode          string     `gorm:"column:pin_code;size:10"`
	Body             JSONMap    `gorm:"column:body;type:text"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (SummaryReceipt) TableName() string { return "summary_receipts" }

// Models lists every persistent type, in dependency order, for schema
// migration.
func Models() []any {
	return []any{
		&ItemLive{},
		&ItemAvailability{},
		&StockAdjustment{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&FSMRuntime{},
		&LifecycleLog{},
		&SlipReceipt{},
		&FiscalReceipt{},
		&SummaryReceipt{},
	}
}
