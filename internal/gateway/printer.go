package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Receipt type discriminators.
const (
	ReceiptCustomer = "CUSTOMER"
	ReceiptMerchant = "MERCHANT"
)

// PrinterRequest asks for a physical receipt. PaymentData is the opaque
// payload to render (slip lines, fiscal identifiers, pickup number).
type PrinterRequest struct {
	OrderID     int64          `json:"order_id"`
	KioskID     string         `json:"kiosk_id"`
	PaymentData map[string]any `json:"payment_data"`
	ReceiptType string         `json:"receipt_type"`
}

// PrinterResponse reports the print outcome. Status is one of SUCCESS,
// FAILED, ERROR or TIMEOUT.
type PrinterResponse struct {
	Status          string `json:"status"`
	ReceiptFilePath string `json:"receipt_file_path,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// OK reports whether the receipt was printed.
func (r *PrinterResponse) OK() bool { return r.Status == StatusSuccess }

// PrinterHTTP talks to a real receipt printer bridge over HTTP.
type PrinterHTTP struct {
	client *client
}

var _ Printer = (*PrinterHTTP)(nil)

func NewPrinterHTTP(baseURL string, timeout time.Duration, logger *slog.Logger) *PrinterHTTP {
	return &PrinterHTTP{client: newClient(baseURL, timeout, logger.WithGroup("printer"))}
}

func (g *PrinterHTTP) Print(ctx context.Context, req PrinterRequest) (*PrinterResponse, error) {
	var resp PrinterResponse
	if err := g.client.post(ctx, "/printer/print", req, &resp); err != nil {
		status, code, message := failure(err)
		if status == StatusUnavailable {
			status = StatusError
		}
		return &PrinterResponse{Status: status, ErrorCode: code, ErrorMessage: message}, nil
	}
	return &resp, nil
}

// PrinterMockup writes receipts as files into a folder instead of printing,
// so a developer can open what the customer would have received.
type PrinterMockup struct {
	mock   mock
	folder string
	logger *slog.Logger
}

var _ Printer = (*PrinterMockup)(nil)

func NewPrinterMockup(successProbability float64, delay time.Duration, folder string, logger *slog.Logger) *PrinterMockup {
	return &PrinterMockup{
		mock:   mock{probability: successProbability, delay: delay},
		folder: folder,
		logger: logger.WithGroup("printer_mockup"),
	}
}

func (g *PrinterMockup) Print(ctx context.Context, req PrinterRequest) (*PrinterResponse, error) {
	ok, timedOut := g.mock.simulate(ctx)
	if timedOut {
		return &PrinterResponse{Status: StatusTimeout, ErrorCode: "TIMEOUT", ErrorMessage: "printer mockup timed out"}, nil
	}
	if !ok {
		g.logger.Debug("simulated printer jam", "order_id", req.OrderID)
		return &PrinterResponse{
			Status:       StatusFailed,
			ErrorCode:    "PRINTER_JAM",
			ErrorMessage: "simulated printer failure",
		}, nil
	}

	path, err := g.writeReceipt(req)
	if err != nil {
		g.logger.Warn("could not write receipt file", "order_id", req.OrderID, "error", err)
		return &PrinterResponse{
			Status:       StatusError,
			ErrorCode:    "RECEIPT_WRITE_FAILED",
			ErrorMessage: err.Error(),
		}, nil
	}
	return &PrinterResponse{Status: StatusSuccess, ReceiptFilePath: path}, nil
}

func (g *PrinterMockup) writeReceipt(req PrinterRequest) (string, error) {
	if err := os.MkdirAll(g.folder, 0o755); err != nil {
		return "", fmt.Errorf("create receipts folder: %w", err)
	}
	name := fmt.Sprintf("order_%d_%s_%d.json", req.OrderID, req.ReceiptType, time.Now().UnixNano())
	path := filepath.Join(g.folder, name)

	body, err := json.MarshalIndent(map[string]any{
		"order_id":     req.OrderID,
		"kiosk_id":     req.KioskID,
		"receipt_type": req.ReceiptType,
		"payment_data": req.PaymentData,
		"printed_at":   time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	return path, nil
}
