// Package logging builds the process-wide slog handler. Text output goes
// through charmbracelet's handler for readable kiosk-side consoles; JSON is
// the choice for aggregated deployments.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// TextHandler returns a human-oriented slog handler. The "trace" level is
// debug plus caller reporting.
func TextHandler(level string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}

	opts := log.Options{Level: log.InfoLevel}
	switch strings.ToLower(level) {
	case "trace":
		opts.Level = log.DebugLevel
		opts.ReportCaller = true
		opts.ReportTimestamp = true
	case "debug":
		opts.Level = log.DebugLevel
		opts.ReportTimestamp = true
	case "warn", "warning":
		opts.Level = log.WarnLevel
	case "error":
		opts.Level = log.ErrorLevel
	}
	return log.NewWithOptions(writer, opts)
}

// JSONHandler returns a machine-oriented slog handler.
func JSONHandler(level string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch strings.ToLower(level) {
	case "trace":
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn", "warning":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	return slog.NewJSONHandler(writer, opts)
}

// NewHandler selects a handler by format name, "text" or "json".
func NewHandler(level, format string, writer io.Writer) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return TextHandler(level, writer), nil
	case "json":
		return JSONHandler(level, writer), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// Setup installs the configured handler as the slog default and returns it
// for components that take an explicit handler.
func Setup(level, format string) (slog.Handler, error) {
	handler, err := NewHandler(level, format, nil)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(handler))
	return handler, nil
}
