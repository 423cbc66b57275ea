package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is set during build using ldflags
var Version = "dev"

func main() {
	app := &cli.Command{
		Name:    "kioskd",
		Version: Version,
		Usage:   "Self-service kiosk order orchestration backend",
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print the version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("kioskd version %s\n", cmd.Root().Version)
					return nil
				},
			},
			serveCmd,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
