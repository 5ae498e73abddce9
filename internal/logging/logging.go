// Package logging builds the service's zap logger and names the log categories
// operators alert on.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log categories. Each anomaly class gets its own value so that dashboards can
// tell, for example, silently disabled deduplication apart from a failing table.
const (
	CategoryAuthFailure        = "auth_failure"
	CategoryLedgerUnavailable  = "ledger_unavailable"
	CategoryPersistenceFailure = "persistence_failure"
	CategoryBroadcastFailure   = "broadcast_failure"
	CategoryProviderFailure    = "provider_failure"
	CategoryUnknownEvent       = "unknown_event"
	CategoryMalformedPayload   = "malformed_payload"
	CategoryRequestCanceled    = "request_canceled"
)

// Category returns the structured field used to tag a log line.
func Category(name string) zap.Field {
	return zap.String("category", name)
}

// New creates a logger for the given level ("debug", "info", ...) and format
// ("json" or "console").
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	switch format {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return cfg.Build(zap.AddCaller())
}
