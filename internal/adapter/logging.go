package adapter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach the log.
var secretKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"client_secret": true,
	"authorization": true,
	"device_code":   true,
}

// SetupLogger builds the JSON logger described by cfg. A file of "-" logs
// to stderr. attrs are attached to every record, e.g. the profile and
// version. Credential-bearing attributes are redacted.
func SetupLogger(cfg *LoggingConfig, attrs ...any) (*slog.Logger, error) {
	w, err := openLogOutput(cfg.File)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       parseLogLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	})
	return slog.New(handler).With(attrs...), nil
}

func openLogOutput(file string) (io.Writer, error) {
	if file == "-" {
		return os.Stderr, nil
	}
	logPath := ExpandPath(file)

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logFile, nil
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLogLevel converts a config level to slog.Level. WARNING is accepted
// as an alias; anything unknown means INFO.
func parseLogLevel(level string) slog.Level {
	if strings.EqualFold(level, "WARNING") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NullLogger returns a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
