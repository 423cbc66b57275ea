//go:build e2e

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/korolkovko/Kiosk-RW/internal/config"
	"github.com/korolkovko/Kiosk-RW/internal/domain"
)

func getRandomPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func mockupGateway(timeout time.Duration) config.GatewayConfig {
	return config.GatewayConfig{
		MockupMode:         true,
		Timeout:            timeout,
		SuccessProbability: 1.0,
		MockupDelay:        10 * time.Millisecond,
	}
}

func seedItem(t *testing.T, dsn string) int64 {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	item := &domain.ItemLive{
		NameRU:     "Бургер",
		NameEN:     "Burger",
		IsActive:   true,
		PriceNet:   decimal.RequireFromString("100.00"),
		VATRate:    decimal.RequireFromString("20.00"),
		VATAmount:  decimal.RequireFromString("20.00"),
		PriceGross: decimal.RequireFromString("120.00"),
	}
	require.NoError(t, db.Create(item).Error)
	require.NoError(t, db.Create(&domain.ItemAvailability{
		ItemID:        item.ItemID,
		StockQuantity: 10,
	}).Error)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return item.ItemID
}

// TestServerHappyPath boots the full stack with mockup gateways, creates an
// order over HTTP and follows it to completion.
func TestServerHappyPath(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping in short mode")
	}

	tempDir := t.TempDir()
	dsn := filepath.Join(tempDir, "kiosk.db")
	itemID := seedItem(t, dsn)

	httpPort := getRandomPort(t)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", httpPort)

	printerCfg := mockupGateway(5 * time.Second)
	printerCfg.ReceiptsFolder = filepath.Join(tempDir, "receipts")

	paymentCfg := mockupGateway(5 * time.Second)
	paymentCfg.MerchantID = "MERCHANT-E2E"
	paymentCfg.TerminalID = "TERM-E2E"

	cfg := &config.Config{
		KioskID: "KIOSK-E2E",
		HTTP: config.HTTPConfig{
			Listen:          fmt.Sprintf("127.0.0.1:%d", httpPort),
			ReadTimeout:     5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			SSEPingInterval: 100 * time.Millisecond,
		},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: dsn},
		Log:      config.LogConfig{Level: "warn", Format: "text"},
		Bus:      config.BusConfig{QueueSize: 100},
		Fiscal:   mockupGateway(5 * time.Second),
		Payment:  paymentCfg,
		Printer:  printerCfg,
		KDS:      mockupGateway(5 * time.Second),
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	serverCtx, serverCancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer serverCancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(serverCtx, logger, cfg)
	}()

	httpClient := &http.Client{Timeout: 2 * time.Second}
	newRequest := func(method, path string, body []byte) *http.Request {
		req, err := http.NewRequest(method, baseURL+path, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("X-Kiosk-ID", "KIOSK-E2E")
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	// Wait for the listener to come up.
	assert.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", httpPort))
		if err != nil {
			return false
		}
		assert.NoError(t, conn.Close())
		return true
	}, 5*time.Second, 100*time.Millisecond, "HTTP server should be listening")

	// Create an order.
	body, err := json.Marshal(map[string]any{
		"currency": "RUB",
		"items": []map[string]any{
			{"item_id": itemID, "quantity": 2},
		},
	})
	require.NoError(t, err)

	resp, err := httpClient.Do(newRequest(http.MethodPost, "/api/kiosk/orders", body))
	require.NoError(t, err)
	created, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create order: %s", created)

	var createResp struct {
		OrderID          int64  `json:"order_id"`
		Status           string `json:"status"`
		PickupNumber     string `json:"pickup_number"`
		TotalAmountGross string `json:"total_amount_gross"`
	}
	require.NoError(t, json.Unmarshal(created, &createResp))
	assert.Equal(t, "PENDING", createResp.Status)
	assert.NotEmpty(t, createResp.PickupNumber)
	assert.Equal(t, "240.00", createResp.TotalAmountGross)

	// The workflow runs asynchronously; poll until the order completes.
	orderPath := fmt.Sprintf("/api/kiosk/orders/%d", createResp.OrderID)
	var lastState string
	assert.Eventually(t, func() bool {
		resp, err := httpClient.Do(newRequest(http.MethodGet, orderPath, nil))
		if err != nil {
			return false
		}
		defer func() { assert.NoError(t, resp.Body.Close()) }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var orderResp struct {
			Status       string `json:"status"`
			CurrentState string `json:"current_state"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&orderResp); err != nil {
			return false
		}
		lastState = orderResp.CurrentState
		return orderResp.Status == "COMPLETED"
	}, 15*time.Second, 200*time.Millisecond, "order should complete, last state %s", lastState)
	assert.Equal(t, "SENT_TO_KDS", lastState)

	// The printer mockup writes receipt files into the configured folder.
	entries, err := os.ReadDir(printerCfg.ReceiptsFolder)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "printer mockup should have written receipts")

	// Shutdown the server.
	serverCancel()
	select {
	case err := <-errCh:
		require.NoError(t, err, "Server should shut down cleanly")
	case <-time.After(time.Minute):
		t.Fatal("Server shutdown timed out")
	}
}

// TestServerRejectsBadDriver verifies that Run fails fast on a broken
// database configuration.
func TestServerRejectsBadDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "oracle", DSN: "x"},
	}
	err := Run(t.Context(), logger, cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported database driver")
}
