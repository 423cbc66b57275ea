package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
)

// PaymentRequest charges the order total. Sum is integer kopecks.
type PaymentRequest struct {
	KioskID string `json:"kiosk_id"`
	OrderID int64  `json:"order_id"`
	Sum     int64  `json:"sum"`
}

// PaymentResponse is the POS terminal answer. Status is one of SUCCESS,
// DECLINED, ERROR or TIMEOUT.
type PaymentResponse struct {
	PaymentID        string     `json:"payment_id"`
	OrderID          int64      `json:"order_id"`
	SessionID        string     `json:"session_id"`
	Status           string     `json:"status"`
	AuthCode         string     `json:"auth_code,omitempty"`
	RRN              string     `json:"rrn,omitempty"`
	TransactionID    string     `json:"transaction_id"`
	TerminalID       string     `json:"terminal_id"`
	MerchantID       string     `json:"merchant_id"`
	ResponseCode     string     `json:"response_code"`
	ResponseMessage  string     `json:"response_message"`
	Amount           int64      `json:"amount"`
	CurrencyCode     string     `json:"currency_code"`
	PaymentDate      time.Time  `json:"payment_date"`
	CompletedAt      *time.Time `json:"completed_at"`
	ReceiptAvailable bool       `json:"receipt_available"`
	Field90Raw       string     `json:"field_90_raw,omitempty"`
	CustomerReceipt  string     `json:"customer_receipt,omitempty"`
	MerchantReceipt  string     `json:"merchant_receipt,omitempty"`
}

// OK reports whether the charge went through.
func (r *PaymentResponse) OK() bool { return r.Status == StatusSuccess }

// PaymentHTTP talks to a real POS terminal bridge over HTTP.
type PaymentHTTP struct {
	client     *client
	merchantID string
	terminalID string
}

var _ Payment = (*PaymentHTTP)(nil)

func NewPaymentHTTP(baseURL string, timeout time.Duration, merchantID, terminalID string, logger *slog.Logger) *PaymentHTTP {
	return &PaymentHTTP{
		client:     newClient(baseURL, timeout, logger.WithGroup("payment")),
		merchantID: merchantID,
		terminalID: terminalID,
	}
}

func (g *PaymentHTTP) Charge(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	var resp PaymentResponse
	if err := g.client.post(ctx, "/payment/charge", req, &resp); err != nil {
		status, code, message := failure(err)
		return &PaymentResponse{
			OrderID:         req.OrderID,
			Status:          status,
			TerminalID:      g.terminalID,
			MerchantID:      g.merchantID,
			ResponseCode:    code,
			ResponseMessage: message,
			Amount:          req.Sum,
			PaymentDate:     time.Now().UTC(),
		}, nil
	}
	return &resp, nil
}

// PaymentMockup simulates the POS terminal.
type PaymentMockup struct {
	mock       mock
	merchantID string
	terminalID string
	logger     *slog.Logger
}

var _ Payment = (*PaymentMockup)(nil)

func NewPaymentMockup(successProbability float64, delay time.Duration, merchantID, terminalID string, logger *slog.Logger) *PaymentMockup {
	return &PaymentMockup{
		mock:       mock{probability: successProbability, delay: delay},
		merchantID: merchantID,
		terminalID: terminalID,
		logger:     logger.WithGroup("payment_mockup"),
	}
}

func (g *PaymentMockup) Charge(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	now := time.Now().UTC()
	base := PaymentResponse{
		PaymentID:    uuid.Must(uuid.NewV4()).String(),
		OrderID:      req.OrderID,
		SessionID:    uuid.Must(uuid.NewV4()).String(),
		TerminalID:   g.terminalID,
		MerchantID:   g.merchantID,
		Amount:       req.Sum,
		CurrencyCode: "643",
		PaymentDate:  now,
	}

	ok, timedOut := g.mock.simulate(ctx)
	if timedOut {
		base.Status = StatusTimeout
		base.ResponseCode = "68"
		base.ResponseMessage = "payment mockup timed out"
		return &base, nil
	}
	if !ok {
		g.logger.Debug("simulated card decline", "order_id", req.OrderID)
		base.Status = StatusDeclined
		base.ResponseCode = "05"
		base.ResponseMessage = "do not honor"
		return &base, nil
	}

	base.Status = StatusSuccess
	base.AuthCode = fmt.Sprintf("%06d", now.UnixNano()%1_000_000)
	base.RRN = fmt.Sprintf("%012d", now.UnixNano()%1_000_000_000_000)
	base.TransactionID = uuid.Must(uuid.NewV4()).String()
	base.ResponseCode = "00"
	base.ResponseMessage = "approved"
	base.CompletedAt = &now
	base.ReceiptAvailable = true
	base.CustomerReceipt = fmt.Sprintf("CARD SALE\nORDER %d\nAMOUNT %d.%02d RUB\nAPPROVED",
		req.OrderID, req.Sum/100, req.Sum%100)
	return &base, nil
}
