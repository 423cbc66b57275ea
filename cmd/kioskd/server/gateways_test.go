package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korolkovko/Kiosk-RW/internal/config"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
	"github.com/korolkovko/Kiosk-RW/internal/gateway"
)

// Run refuses to start on a broken transition table; the shipped table must
// therefore pass the same check the server runs.
func TestStartupValidatesTransitionTable(t *testing.T) {
	require.NoError(t, fsm.Validate())
}

func TestGatewaySelection(t *testing.T) {
	logger := slog.Default()

	mockup := config.GatewayConfig{
		MockupMode:         true,
		Timeout:            time.Second,
		SuccessProbability: 1.0,
	}
	live := config.GatewayConfig{
		BaseURL: "http://gateway.local",
		Timeout: time.Second,
	}

	assert.IsType(t, &gateway.FiscalMockup{}, buildFiscal(mockup, logger))
	assert.IsType(t, &gateway.FiscalHTTP{}, buildFiscal(live, logger))

	assert.IsType(t, &gateway.PaymentMockup{}, buildPayment(mockup, logger))
	assert.IsType(t, &gateway.PaymentHTTP{}, buildPayment(live, logger))

	assert.IsType(t, &gateway.PrinterMockup{}, buildPrinter(mockup, logger))
	assert.IsType(t, &gateway.PrinterHTTP{}, buildPrinter(live, logger))

	assert.IsType(t, &gateway.KDSMockup{}, buildKDS(mockup, logger))
	assert.IsType(t, &gateway.KDSHTTP{}, buildKDS(live, logger))
}
