package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/korolkovko/Kiosk-RW/cmd/kioskd/server"
	"github.com/korolkovko/Kiosk-RW/internal/config"
	"github.com/korolkovko/Kiosk-RW/internal/logging"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Start the kiosk order backend",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (trace, debug, info, warn, error); overrides KIOSK_LOG_LEVEL",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format (text, json); overrides KIOSK_LOG_FORMAT",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if v := cmd.String("log-level"); v != "" {
			cfg.Log.Level = v
		}
		if v := cmd.String("log-format"); v != "" {
			cfg.Log.Format = v
		}

		handler, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		logger := slog.New(handler)

		return server.Run(ctx, logger, cfg)
	},
}
