// Package gateway holds the four external device adapters: fiscal registrar,
// payment terminal, receipt printer and kitchen display system. Adapters are
// pure clients. They make one call, map the outcome onto a discriminated
// status and return; retries and compensation belong to the saga layer.
//
// A transport failure or an exceeded deadline never comes back as a Go error.
// It is mapped onto a synthetic TIMEOUT or UNAVAILABLE response so the caller
// handles every outcome through the same status switch.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Statuses shared by the adapters. Fiscal and KDS answer OK/NOT_OK; payment
// and printer use SUCCESS and friends. TIMEOUT and UNAVAILABLE are synthetic,
// produced locally when the device never answered.
const (
	StatusOK          = "OK"
	StatusNotOK       = "NOT_OK"
	StatusSuccess     = "SUCCESS"
	StatusDeclined    = "DECLINED"
	StatusFailed      = "FAILED"
	StatusError       = "ERROR"
	StatusTimeout     = "TIMEOUT"
	StatusUnavailable = "UNAVAILABLE"
)

// Fiscal registers an order with the fiscal device before payment.
type Fiscal interface {
	Register(ctx context.Context, req FiscalRequest) (*FiscalResponse, error)
}

// Payment charges the customer's card through the POS terminal.
type Payment interface {
	Charge(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
}

// Printer prints the customer receipt.
type Printer interface {
	Print(ctx context.Context, req PrinterRequest) (*PrinterResponse, error)
}

// KDS dispatches the paid order to the kitchen display system.
type KDS interface {
	Dispatch(ctx context.Context, req KDSRequest) (*KDSResponse, error)
}

// client is the shared HTTP plumbing of the live adapters.
type client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

func newClient(baseURL string, timeout time.Duration, logger *slog.Logger) *client {
	return &client{
		http:    &http.Client{},
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger,
	}
}

// failure classifies a failed round trip as TIMEOUT or UNAVAILABLE.
func failure(err error) (status, code, message string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout, "GATEWAY_TIMEOUT", "device did not answer before the deadline"
	}
	if errors.Is(err, context.Canceled) {
		return StatusTimeout, "GATEWAY_CANCELED", "call canceled"
	}
	return StatusUnavailable, "GATEWAY_UNAVAILABLE", err.Error()
}

// post sends the request body as JSON and decodes the response into out.
// Returns an error only for transport problems; HTTP status handling is the
// caller's job via the decoded body.
func (c *client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("gateway call failed",
			"path", path,
			"elapsed", time.Since(started),
			"error", err)
		// Unwrap url.Error so failure() sees the context sentinel.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("gateway answered %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	c.logger.Debug("gateway call done",
		"path", path,
		"http_status", resp.StatusCode,
		"elapsed", time.Since(started))
	return nil
}
