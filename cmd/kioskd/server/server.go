// Package server wires the kiosk backend together: storage, event bus,
// gateway adapters, the order orchestrator with its saga handler, and the
// runnables managed by the supervisor.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robbyt/go-supervisor/supervisor"

	"github.com/korolkovko/Kiosk-RW/internal/bus"
	"github.com/korolkovko/Kiosk-RW/internal/config"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
	"github.com/korolkovko/Kiosk-RW/internal/gateway"
	"github.com/korolkovko/Kiosk-RW/internal/httpapi"
	"github.com/korolkovko/Kiosk-RW/internal/orchestrator"
	"github.com/korolkovko/Kiosk-RW/internal/recovery"
	"github.com/korolkovko/Kiosk-RW/internal/saga"
	"github.com/korolkovko/Kiosk-RW/internal/store"
)

// Run starts the kiosk backend using the provided context, logger and
// configuration. It blocks until the context is cancelled or a runnable
// fails.
func Run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	if err := fsm.Validate(); err != nil {
		return fmt.Errorf("order transition table: %w", err)
	}

	logHandler := logger.Handler()

	st, err := store.Open(cfg.Database, store.WithLogHandler(logHandler))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	eventBus := bus.New(
		bus.WithLogHandler(logHandler),
		bus.WithQueueSize(cfg.Bus.QueueSize),
	)
	defer eventBus.Close()

	handler := saga.New(
		st,
		buildFiscal(cfg.Fiscal, logger),
		buildPayment(cfg.Payment, logger),
		buildPrinter(cfg.Printer, logger),
		buildKDS(cfg.KDS, logger),
		saga.WithLogHandler(logHandler),
		saga.WithDeadlines(saga.Deadlines{
			Fiscal:   cfg.Fiscal.Timeout,
			Payment:  cfg.Payment.Timeout,
			Printing: cfg.Printer.Timeout,
			KDS:      cfg.KDS.Timeout,
		}),
	)

	orch := orchestrator.New(st, eventBus, orchestrator.WithLogHandler(logHandler))
	orch.SetHandler(handler)
	handler.SetSubmitter(orch)
	defer orch.Stop()

	apiRunner, err := httpapi.NewRunner(
		st,
		eventBus,
		orch,
		handler,
		httpapi.WithListen(cfg.HTTP.Listen),
		httpapi.WithReadTimeout(cfg.HTTP.ReadTimeout),
		httpapi.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout),
		httpapi.WithPingInterval(cfg.HTTP.SSEPingInterval),
		httpapi.WithLogHandler(logHandler),
	)
	if err != nil {
		return fmt.Errorf("create HTTP runner: %w", err)
	}

	recoveryRunner := recovery.NewRunner(st, orch, recovery.WithLogHandler(logHandler))

	super, err := supervisor.New(
		supervisor.WithContext(ctx),
		supervisor.WithLogHandler(logHandler),
		supervisor.WithRunnables(recoveryRunner, apiRunner),
	)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}
	if err := super.Run(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}

func buildFiscal(cfg config.GatewayConfig, logger *slog.Logger) gateway.Fiscal {
	if cfg.MockupMode {
		return gateway.NewFiscalMockup(cfg.SuccessProbability, cfg.MockupDelay, logger)
	}
	return gateway.NewFiscalHTTP(cfg.BaseURL, cfg.Timeout, logger)
}

func buildPayment(cfg config.GatewayConfig, logger *slog.Logger) gateway.Payment {
	if cfg.MockupMode {
		return gateway.NewPaymentMockup(cfg.SuccessProbability, cfg.MockupDelay, cfg.MerchantID, cfg.TerminalID, logger)
	}
	return gateway.NewPaymentHTTP(cfg.BaseURL, cfg.Timeout, cfg.MerchantID, cfg.TerminalID, logger)
}

func buildPrinter(cfg config.GatewayConfig, logger *slog.Logger) gateway.Printer {
	if cfg.MockupMode {
		return gateway.NewPrinterMockup(cfg.SuccessProbability, cfg.MockupDelay, cfg.ReceiptsFolder, logger)
	}
	return gateway.NewPrinterHTTP(cfg.BaseURL, cfg.Timeout, logger)
}

func buildKDS(cfg config.GatewayConfig, logger *slog.Logger) gateway.KDS {
	if cfg.MockupMode {
		return gateway.NewKDSMockup(cfg.SuccessProbability, cfg.MockupDelay, logger)
	}
	return gateway.NewKDSHTTP(cfg.BaseURL, cfg.Timeout, logger)
}
