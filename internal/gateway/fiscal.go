package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FiscalItem is one order line in the fiscal document. Amounts are integer
// kopecks.
type FiscalItem struct {
	ItemID         int64  `json:"item_id"`
	Description    string `json:"item_description"`
	PriceNet       int64  `json:"item_price_net"`
	PriceGross     int64  `json:"item_price_gross"`
	VATValue       int64  `json:"item_vat_value"`
	Quantity       int    `json:"quantity"`
}

// FiscalRequest registers the full order with the fiscal device.
type FiscalRequest struct {
	OrderID       int64        `json:"order_id"`
	KioskID       string       `json:"kiosk_id"`
	Items         []FiscalItem `json:"items"`
	TotalNet      int64        `json:"total_net"`
	TotalVAT      int64        `json:"total_vat"`
	TotalGross    int64        `json:"total_gross"`
	PaymentMethod string       `json:"payment_method"`
}

// FiscalReceiptBody is the fiscal document returned on success.
type FiscalReceiptBody struct {
	OFDRegNumber         string       `json:"ofd_reg_number"`
	FiscalDocumentNumber string       `json:"fiscal_document_number"`
	FNNumber             string       `json:"fn_number"`
	OrderID              int64        `json:"order_id"`
	IssuedAt             time.Time    `json:"issued_at"`
	Items                []FiscalItem `json:"items"`
	TotalNet             int64        `json:"total_net"`
	TotalVAT             int64        `json:"total_vat"`
	TotalGross           int64        `json:"total_gross"`
	Message              string       `json:"message"`
}

// FiscalResponse is the discriminated fiscal outcome. Status OK carries the
// receipt; anything else carries the error pair.
type FiscalResponse struct {
	Status        string             `json:"status"`
	FiscalReceipt *FiscalReceiptBody `json:"fiscal_receipt,omitempty"`
	ErrorCode     string             `json:"error_code,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
}

// OK reports whether fiscalization succeeded.
func (r *FiscalResponse) OK() bool { return r.Status == StatusOK }

// FiscalHTTP talks to a real fiscal registrar over HTTP.
type FiscalHTTP struct {
	client *client
}

var _ Fiscal = (*FiscalHTTP)(nil)

func NewFiscalHTTP(baseURL string, timeout time.Duration, logger *slog.Logger) *FiscalHTTP {
	return &FiscalHTTP{client: newClient(baseURL, timeout, logger.WithGroup("fiscal"))}
}

func (g *FiscalHTTP) Register(ctx context.Context, req FiscalRequest) (*FiscalResponse, error) {
	var resp FiscalResponse
	if err := g.client.post(ctx, "/fiscal/register", req, &resp); err != nil {
		status, code, message := failure(err)
		if status == StatusTimeout {
			return &FiscalResponse{Status: StatusNotOK, ErrorCode: "TIMEOUT", ErrorMessage: message}, nil
		}
		return &FiscalResponse{Status: StatusNotOK, ErrorCode: code, ErrorMessage: message}, nil
	}
	return &resp, nil
}

// FiscalMockup fabricates fiscal documents locally.
type FiscalMockup struct {
	mock   mock
	logger *slog.Logger
}

var _ Fiscal = (*FiscalMockup)(nil)

func NewFiscalMockup(successProbability float64, delay time.Duration, logger *slog.Logger) *FiscalMockup {
	return &FiscalMockup{
		mock:   mock{probability: successProbability, delay: delay},
		logger: logger.WithGroup("fiscal_mockup"),
	}
}

func (g *FiscalMockup) Register(ctx context.Context, req FiscalRequest) (*FiscalResponse, error) {
	ok, timedOut := g.mock.simulate(ctx)
	if timedOut {
		return &FiscalResponse{Status: StatusNotOK, ErrorCode: "TIMEOUT", ErrorMessage: "fiscal mockup timed out"}, nil
	}
	if !ok {
		g.logger.Debug("simulated fiscal failure", "order_id", req.OrderID)
		return &FiscalResponse{
			Status:       StatusNotOK,
			ErrorCode:    "FISCAL_DEVICE_ERROR",
			ErrorMessage: "simulated fiscal device failure",
		}, nil
	}
	now := time.Now().UTC()
	return &FiscalResponse{
		Status: StatusOK,
		FiscalReceipt: &FiscalReceiptBody{
			OFDRegNumber:         fmt.Sprintf("OFD-%d", req.OrderID),
			FiscalDocumentNumber: fmt.Sprintf("FD-%d-%d", req.OrderID, now.Unix()),
			FNNumber:             "9999078900001234",
			OrderID:              req.OrderID,
			IssuedAt:             now,
			Items:                req.Items,
			TotalNet:             req.TotalNet,
			TotalVAT:             req.TotalVAT,
			TotalGross:           req.TotalGross,
			Message:              "fiscal document registered",
		},
	}, nil
}
