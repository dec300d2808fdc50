package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/model"
)

type loggerKey struct{}

// Redacted replaces the value of a sensitive form field in logs.
const Redacted = "[REDACTED]"

// NewLogger builds the process logger. Levels are used as follows:
//
//	error  store failures, panics, 5xx responses
//	warn   4xx responses, an open webhook breaker, failed probes
//	info   requests, mutations, job submissions, definition loads
//	debug  cache traffic, cascades, redacted form payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	if cfg.LogFormat == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.Sampling = nil
	}
	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// RequestLogger returns the request logger tagged with the signed-in
// operator, when there is one.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}
	return logger.With(
		zap.String("operator_id", rctx.SubjectID),
		zap.Strings("roles", rctx.Roles),
	)
}

var sensitiveFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"authorization": true,
	"ssn":           true,
	"national_code": true,
	"card_number":   true,
}

// Sensitive reports whether a form field must not appear in logs: a listed
// name, or a name ending in one, such as company_ssn.
func Sensitive(field string) bool {
	field = strings.ToLower(field)
	if sensitiveFields[field] {
		return true
	}
	if i := strings.LastIndexByte(field, '_'); i >= 0 {
		return sensitiveFields[field[i+1:]]
	}
	return false
}

// Form logs submitted form values under key with sensitive fields redacted.
func Form(key string, form model.FormData) zap.Field {
	return zap.Object(key, redactedForm(form))
}

type redactedForm model.FormData

func (f redactedForm) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for k, v := range f {
		if Sensitive(k) {
			v = Redacted
		}
		enc.AddString(k, v)
	}
	return nil
}
