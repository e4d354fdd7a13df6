// Casket logs through the default slog logger. This module configures the handler (json or text) and the minimum
// level from flags, so every package can just call slog directly.

package utils

import (
	"flag"
	"log/slog"
	"os"
	"strings"
)

var (
	logFormatFlag = flag.String("log_format", "json", "Log output format: json/text")
	logLevelFlag  = flag.String("log_level", "info", "Minimum log level: debug/info/warn/error")
)

// parseLogLevel maps a level name to its slog level. Unknown names raise an invariant and fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		RaiseInvariant("log", "unsupported_log_level", "Got an unsupported log level.", "logLevel", level)
		return slog.LevelInfo
	}
}

// InitLogging configures the default slog logger from the -log_format and -log_level flags.
// It must be called after flag.Parse().
func InitLogging() {
	options := &slog.HandlerOptions{Level: parseLogLevel(*logLevelFlag)}
	var handler slog.Handler
	switch format := strings.ToLower(*logFormatFlag); format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, options)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, options)
	default:
		RaiseInvariant("log", "unsupported_log_format", "Got an unsupported log format.", "format", format)
		handler = slog.NewJSONHandler(os.Stdout, options)
	}
	// `SetDefault` happens atomically and doesn't panic when called in multiple goroutines.
	slog.SetDefault(slog.New(handler))
	slog.Debug("Log handler configured.", "format", *logFormatFlag, "level", *logLevelFlag)
}
