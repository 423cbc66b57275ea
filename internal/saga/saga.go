// Package saga holds the per-state entry handlers of the order workflow.
// Entering a non-terminal state triggers exactly one external call under a
// step deadline; the outcome is mapped onto an FSM event and fed back to the
// orchestrator. Terminal states carry no external call, only the business
// status write and, for SENT_TO_KDS, the stock deduction.
//
// Handlers are reentrant. Every invocation loads what it needs from the
// store; recovery may replay a handler for a state that already ran once.
package saga

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
	"github.com/korolkovko/Kiosk-RW/internal/gateway"
	"github.com/korolkovko/Kiosk-RW/internal/orchestrator"
	"github.com/korolkovko/Kiosk-RW/internal/store"
)

// DeductionActor is the ledger identity recorded for the automatic stock
// deduction on kitchen acceptance.
const DeductionActor = "KIOSK_AUTO_DEDUCTION"

// Deadlines are the per-step gateway deadlines. The payment deadline doubles
// as the customer inactivity window.
type Deadlines struct {
	Fiscal   time.Duration
	Payment  time.Duration
	Printing time.Duration
	KDS      time.Duration
}

// DefaultDeadlines returns the production step deadlines.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		Fiscal:   30 * time.Second,
		Payment:  180 * time.Second,
		Printing: 60 * time.Second,
		KDS:      20 * time.Second,
	}
}

// EventSubmitter feeds handler outcomes back into the FSM. Satisfied by the
// orchestrator; attached after construction because the orchestrator needs
// the handler first.
type EventSubmitter interface {
	Submit(ctx context.Context, sub orchestrator.Submission) (bool, error)
}

// Handler runs the saga steps against the four gateways.
type Handler struct {
	store     *store.Store
	fiscal    gateway.Fiscal
	payment   gateway.Payment
	printer   gateway.Printer
	kds       gateway.KDS
	submitter EventSubmitter
	deadlines Deadlines
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogHandler sets the slog handler for saga logs.
func WithLogHandler(handler slog.Handler) Option {
	return func(h *Handler) {
		if handler != nil {
			h.logger = slog.New(handler).WithGroup("saga")
		}
	}
}

// WithLogger sets the logger directly.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDeadlines overrides the step deadlines. Tests shrink them to
// milliseconds.
func WithDeadlines(d Deadlines) Option {
	return func(h *Handler) { h.deadlines = d }
}

// New creates the handler. Call SetSubmitter before use.
func New(st *store.Store, fiscal gateway.Fiscal, payment gateway.Payment, printer gateway.Printer, kds gateway.KDS, opts ...Option) *Handler {
	h := &Handler{
		store:     st,
		fiscal:    fiscal,
		payment:   payment,
		printer:   printer,
		kds:       kds,
		deadlines: DefaultDeadlines(),
		logger:    slog.Default().WithGroup("saga"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSubmitter attaches the event sink.
func (h *Handler) SetSubmitter(s EventSubmitter) { h.submitter = s }

var _ orchestrator.StateHandler = (*Handler)(nil)

// OnStateEntered routes a committed state entry to its handler.
func (h *Handler) OnStateEntered(ctx context.Context, orderID int64, state fsm.State) {
	logger := h.logger.With("order_id", orderID, "state", state)
	switch state {
	case fsm.StateInit:
		h.handleFiscalization(ctx, orderID, logger)
	case fsm.StateAwaitingPayment:
		h.handlePayment(ctx, orderID, logger)
	case fsm.StateAwaitingPrinting:
		h.handlePrinting(ctx, orderID, logger)
	case fsm.StateAwaitingKDS:
		h.handleKDS(ctx, orderID, logger)
	case fsm.StateSentToKDS:
		h.completeOrder(ctx, orderID, logger)
	case fsm.StateSentToKDSFailed, fsm.StateUnsuccessfulFiscalization,
		fsm.StateUnsuccessfulPayment, fsm.StatePrintingFailed:
		h.setStatus(ctx, orderID, domain.OrderFailed, logger)
	case fsm.StateCanceledByUser, fsm.StateCanceledByTimeout:
		h.setStatus(ctx, orderID, domain.OrderCancelled, logger)
	default:
		logger.Error("no handler for state")
	}
}

func (h *Handler) handleFiscalization(ctx context.Context, orderID int64, logger *slog.Logger) {
	order, err := h.store.GetOrderDeep(ctx, orderID)
	if err != nil {
		logger.Error("fiscalization aborted, order unreadable", "error", err)
		return
	}

	req := gateway.FiscalRequest{
		OrderID:       order.OrderID,
		KioskID:       order.KioskID,
		TotalNet:      domain.Kopecks(order.TotalAmountNet),
		TotalVAT:      domain.Kopecks(order.TotalAmountVAT),
		TotalGross:    domain.Kopecks(order.TotalAmountGross),
		PaymentMethod: "CARD",
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, gateway.FiscalItem{
			ItemID:      item.ItemID,
			Description: item.NameRU,
			PriceNet:    domain.Kopecks(item.PriceNet),
			PriceGross:  domain.Kopecks(item.PriceGross),
			VATValue:    domain.Kopecks(item.VATAmount),
			Quantity:    item.Quantity,
		})
	}

	stepCtx, cancel := context.WithTimeout(ctx, h.deadlines.Fiscal)
	defer cancel()
	resp, err := h.fiscal.Register(stepCtx, req)
	if err != nil {
		logger.Error("fiscal gateway errored", "error", err)
		h.submit(ctx, orderID, fsm.EventFiscalizationFailed, domain.ActorFiscalDevice, map[string]any{
			"result_code":        "INTERNAL",
			"result_description": err.Error(),
		}, nil)
		return
	}

	if !resp.OK() {
		logger.Warn("fiscalization failed", "error_code", resp.ErrorCode, "error_message", resp.ErrorMessage)
		h.submit(ctx, orderID, fsm.EventFiscalizationFailed, domain.ActorFiscalDevice, map[string]any{
			"result_code":        resp.ErrorCode,
			"result_description": resp.ErrorMessage,
		}, nil)
		return
	}

	receipt := &domain.FiscalReceipt{
		OrderID:    orderID,
		ExternalID: resp.FiscalReceipt.FiscalDocumentNumber,
		Body:       toJSONMap(resp.FiscalReceipt),
		CreatedBy:  string(domain.ActorFiscalDevice),
	}
	if err := h.store.SaveFiscalReceipt(ctx, receipt); err != nil {
		logger.Error("could not persist fiscal receipt", "error", err)
	}

	h.submit(ctx, orderID, fsm.EventFiscalizationSucceeded, domain.ActorFiscalDevice, map[string]any{
		"transaction_id":     resp.FiscalReceipt.FiscalDocumentNumber,
		"result_code":        "OK",
		"result_description": resp.FiscalReceipt.Message,
	}, nil)
}

func (h *Handler) handlePayment(ctx context.Context, orderID int64, logger *slog.Logger) {
	order, err := h.store.GetOrder(ctx, orderID)
	if err != nil {
		logger.Error("payment aborted, order unreadable", "error", err)
		return
	}

	stepCtx, cancel := context.WithTimeout(ctx, h.deadlines.Payment)
	defer cancel()
	resp, err := h.payment.Charge(stepCtx, gateway.PaymentRequest{
		KioskID: order.KioskID,
		OrderID: order.OrderID,
		Sum:     domain.Kopecks(order.TotalAmountGross),
	})
	if err != nil {
		logger.Error("payment gateway errored", "error", err)
		h.submit(ctx, orderID, fsm.EventPaymentFailed, domain.ActorPOSTerminal, map[string]any{
			"result_code":        "INTERNAL",
			"result_description": err.Error(),
		}, nil)
		return
	}

	payment := &domain.Payment{
		OrderID:         orderID,
		Status:          resp.Status,
		TransactionID:   resp.TransactionID,
		ResponseCode:    resp.ResponseCode,
		ResponseMessage: resp.ResponseMessage,
		AmountGross:     domain.FromKopecks(resp.Amount),
		Currency:        order.Currency,
		CompletedAt:     resp.CompletedAt,
	}
	if err := h.store.SavePayment(ctx, payment); err != nil {
		logger.Error("could not persist payment", "error", err)
	}

	switch resp.Status {
	case gateway.StatusSuccess:
		slip := &domain.SlipReceipt{
			OrderID:    orderID,
			ExternalID: resp.TransactionID,
			Body:       toJSONMap(resp),
			CreatedBy:  string(domain.ActorPOSTerminal),
		}
		if err := h.store.SaveSlipReceipt(ctx, slip); err != nil {
			logger.Error("could not persist slip receipt", "error", err)
		}
		h.submit(ctx, orderID, fsm.EventPaymentSucceeded, domain.ActorPOSTerminal, map[string]any{
			"transaction_id":     resp.TransactionID,
			"session_id":         resp.SessionID,
			"result_code":        resp.ResponseCode,
			"result_description": resp.ResponseMessage,
			"auth_code":          resp.AuthCode,
			"rrn":                resp.RRN,
			"amount":             resp.Amount,
		}, nil)

	case gateway.StatusTimeout:
		// No answer inside the window means the customer walked away.
		logger.Warn("payment step deadline exceeded")
		comment := "payment step deadline exceeded"
		h.submit(ctx, orderID, fsm.EventInactivityTimeout, domain.ActorSystem, map[string]any{
			"result_code":        resp.ResponseCode,
			"result_description": resp.ResponseMessage,
		}, &comment)

	default:
		logger.Warn("payment failed", "status", resp.Status, "response_code", resp.ResponseCode)
		h.submit(ctx, orderID, fsm.EventPaymentFailed, domain.ActorPOSTerminal, map[string]any{
			"result_code":        resp.ResponseCode,
			"result_description": resp.ResponseMessage,
		}, nil)
	}
}

func (h *Handler) handlePrinting(ctx context.Context, orderID int64, logger *slog.Logger) {
	order, err := h.store.GetOrder(ctx, orderID)
	if err != nil {
		logger.Error("printing aborted, order unreadable", "error", err)
		return
	}

	paymentData := map[string]any{
		"order_id":      order.OrderID,
		"pickup_number": order.PickupNumber,
		"pin_code":      order.PinCode,
		"total_gross":   order.TotalAmountGross.StringFixed(2),
		"currency":      order.Currency,
	}
	slip, slipErr := h.store.SlipReceiptForOrder(ctx, orderID)
	if slipErr == nil {
		paymentData["slip"] = map[string]any(slip.Body)
	}
	fiscal, fiscalErr := h.store.FiscalReceiptForOrder(ctx, orderID)
	if fiscalErr == nil {
		paymentData["fiscal_document_number"] = fiscal.ExternalID
	}

	stepCtx, cancel := context.WithTimeout(ctx, h.deadlines.Printing)
	defer cancel()
	resp, err := h.printer.Print(stepCtx, gateway.PrinterRequest{
		OrderID:     order.OrderID,
		KioskID:     order.KioskID,
		PaymentData: paymentData,
		ReceiptType: gateway.ReceiptCustomer,
	})
	if err != nil || !resp.OK() {
		if err != nil {
			logger.Error("printer gateway errored", "error", err)
		} else {
			logger.Warn("printing failed", "status", resp.Status, "error_code", resp.ErrorCode)
		}
		data := map[string]any{"result_code": "PRINT_FAILED"}
		if resp != nil {
			data["result_code"] = resp.ErrorCode
			data["result_description"] = resp.ErrorMessage
		}
		h.submit(ctx, orderID, fsm.EventPrintingFailedOrTimeout, domain.ActorPrinter, data, nil)
		return
	}

	summary := &domain.SummaryReceipt{
		OrderID:      orderID,
		PickupNumber: order.PickupNumber,
		PinCode:      order.PinCode,
		Body: domain.JSONMap{
			"receipt_file_path": resp.ReceiptFilePath,
			"payment_data":      paymentData,
		},
	}
	if slipErr == nil {
		summary.SlipReceiptID = &slip.SlipReceiptID
	}
	if fiscalErr == nil {
		summary.FiscalReceiptID = &fiscal.FiscalReceiptID
	}
	if err := h.store.SaveSummaryReceipt(ctx, summary); err != nil {
		logger.Error("could not persist summary receipt", "error", err)
	}

	h.submit(ctx, orderID, fsm.EventPrintingSucceeded, domain.ActorPrinter, map[string]any{
		"result_code":        "OK",
		"result_description": resp.ReceiptFilePath,
	}, nil)
}

func (h *Handler) handleKDS(ctx context.Context, orderID int64, logger *slog.Logger) {
	order, err := h.store.GetOrderDeep(ctx, orderID)
	if err != nil {
		logger.Error("kds dispatch aborted, order unreadable", "error", err)
		return
	}

	req := gateway.KDSRequest{OrderID: order.OrderID, KioskID: order.KioskID}
	for _, item := range order.Items {
		req.Items = append(req.Items, gateway.KDSItem{
			ItemID:      item.ItemID,
			Description: item.NameRU,
			Quantity:    item.Quantity,
		})
	}

	stepCtx, cancel := context.WithTimeout(ctx, h.deadlines.KDS)
	defer cancel()
	resp, err := h.kds.Dispatch(stepCtx, req)
	if err != nil || !resp.OK() {
		if err != nil {
			logger.Error("kds gateway errored", "error", err)
		} else {
			logger.Warn("kds rejected order", "error_code", resp.ErrorCode, "error_message", resp.ErrorMessage)
		}
		data := map[string]any{"result_code": "KDS_FAILED"}
		if resp != nil {
			data["result_code"] = resp.ErrorCode
			data["result_description"] = resp.ErrorMessage
		}
		h.submit(ctx, orderID, fsm.EventKDSErrorOrNoResponse, domain.ActorKitchen, data, nil)
		return
	}

	h.submit(ctx, orderID, fsm.EventKDSConfirmation, domain.ActorKitchen, map[string]any{
		"transaction_id": resp.KDSTicketID,
		"result_code":    "OK",
	}, nil)
}

// completeOrder marks the order COMPLETED and deducts stock line by line.
// A failing line is logged and skipped; the terminal status never reverts.
func (h *Handler) completeOrder(ctx context.Context, orderID int64, logger *slog.Logger) {
	if err := h.store.UpdateStatus(ctx, orderID, domain.OrderCompleted); err != nil {
		logger.Error("could not mark order completed", "error", err)
		return
	}

	order, err := h.store.GetOrderDeep(ctx, orderID)
	if err != nil {
		logger.Error("deduction aborted, order unreadable", "error", err)
		return
	}

	deducted := 0
	for _, item := range order.Items {
		_, err := h.store.Adjust(ctx, store.Adjustment{
			ItemID:    item.ItemID,
			Delta:     -item.Quantity,
			ChangedBy: DeductionActor,
		})
		if err != nil {
			logger.Error("stock deduction failed for line",
				"item_id", item.ItemID,
				"quantity", item.Quantity,
				"error", err)
			continue
		}
		deducted++
	}
	logger.Info("order completed",
		"lines_total", len(order.Items),
		"lines_deducted", deducted)
}

func (h *Handler) setStatus(ctx context.Context, orderID int64, status domain.OrderStatus, logger *slog.Logger) {
	if err := h.store.UpdateStatus(ctx, orderID, status); err != nil {
		logger.Error("could not update order status", "status", status, "error", err)
		return
	}
	logger.Info("order finalized", "status", status)
}

func (h *Handler) submit(ctx context.Context, orderID int64, event fsm.Event, actor domain.ActorType, data map[string]any, comment *string) {
	if h.submitter == nil {
		h.logger.Error("no event submitter attached", "order_id", orderID, "event", event)
		return
	}
	applied, err := h.submitter.Submit(ctx, orchestrator.Submission{
		OrderID: orderID,
		Event:   event,
		Actor:   actor,
		Comment: comment,
		Data:    data,
	})
	if err != nil {
		h.logger.Error("event submission failed", "order_id", orderID, "event", event, "error", err)
		return
	}
	if !applied {
		h.logger.Warn("event rejected by fsm", "order_id", orderID, "event", event)
	}
}

// toJSONMap flattens a response struct into the opaque receipt body.
func toJSONMap(v any) domain.JSONMap {
	raw, err := json.Marshal(v)
	if err != nil {
		return domain.JSONMap{"marshal_error": err.Error()}
	}
	var m domain.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.JSONMap{"marshal_error": err.Error()}
	}
	return m
}
