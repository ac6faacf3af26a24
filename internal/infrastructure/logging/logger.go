package logging

import (
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bivex/purchasekit/internal/infrastructure/config"
)

var Logger *zap.Logger

var sentryEnabled bool

// Init initializes the global logger and, when a DSN is configured, the
// Sentry client used by ReportError.
func Init(cfg *config.SentryConfig) error {
	var err error
	var zapConfig zap.Config

	environment := "production"
	if cfg != nil && cfg.Environment != "" {
		environment = cfg.Environment
	}

	if environment == "development" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	Logger, err = zapConfig.Build()
	if err != nil {
		return err
	}

	if cfg != nil && cfg.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.DSN,
			Environment: cfg.Environment,
			Release:     cfg.Release,
		}); err != nil {
			return err
		}
		sentryEnabled = true
	}

	return nil
}

// Sync flushes any buffered log entries and pending Sentry events.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}

// ReportError logs an error and forwards it to Sentry when configured. Meant
// for failures the system recovers from locally (acknowledgment retries,
// verification misses) that still deserve visibility.
func ReportError(msg string, err error, fields ...zap.Field) {
	if Logger != nil {
		Logger.Error(msg, append(fields, zap.Error(err))...)
	}
	if sentryEnabled {
		sentry.CaptureException(err)
	}
}

// WithComponent creates a child logger with a component field
func WithComponent(component string) *zap.Logger {
	return Logger.With(zap.String("component", component))
}
