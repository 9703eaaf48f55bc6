// Package logging configures the process-wide structured logger shared by
// the server, the redemption engine, and the catalog.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds a text-handler *slog.Logger at the given level, installs it
// as the slog default, and returns it. Level accepts "debug", "info",
// "warn", "error" (case-insensitive); anything unrecognized falls back to
// info.
func Setup(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
