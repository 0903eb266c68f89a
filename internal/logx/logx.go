// Package logx wraps zap with the construction rules this service uses:
// production config when APP_ENV is "production" and development config
// otherwise; every component holds its own
// *zap.Logger instead of reaching for a package-level global.
package logx

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger appropriate for appEnv ("production" gets JSON
// output and info level; anything else gets console output and debug level).
func New(appEnv string) (*zap.Logger, error) {
	if appEnv == "production" {
		return zap.NewProduction()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Noop returns a logger that discards everything, for tests that don't
// care about log output.
func Noop() *zap.Logger {
	return zap.NewNop()
}
