// Package telemetry wraps go.uber.org/zap with the small surface every
// endpoint in this module needs, plus the teacher's decorative startup
// banner/section helpers (pkg/logger/logger.go) kept in their original
// plain-fmt style since they're cosmetic, not a structured-logging concern.
package telemetry

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger every relay/host/client endpoint takes a
// reference to. It is a thin facade over *zap.Logger so call sites read
// like the teacher's logger.Info/logger.Warn/logger.Error calls but get
// structured fields instead of Printf-style interpolation.
type Logger struct {
	z *zap.Logger
}

// New wraps an existing *zap.Logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewDevelopment builds a colorized, human-readable development logger —
// the closest structured equivalent to the teacher's ANSI-colored
// log.Println output.
func NewDevelopment() *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	z, err := cfg.Build()
	if err != nil {
		return New(zap.NewNop())
	}
	return New(z)
}

// Nop returns a Logger that discards everything, for tests and embedders
// that don't want output.
func Nop() *Logger { return New(zap.NewNop()) }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// With returns a child logger carrying the given structured fields on every
// subsequent call, mirroring zap.Logger.With.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return New(l.z.With(fields...))
}

// Sync flushes any buffered log entries. Safe to call on a Nop logger.
func (l *Logger) Sync() error { return l.z.Sync() }

// Banner prints the startup banner in the teacher's boxed-ASCII style
// (pkg/logger/logger.go Banner). Decorative console output, not a logging
// concern, so it stays on fmt.Printf rather than going through zap.
func Banner(title, version string) {
	fmt.Printf(`
╔═══════════════════════════════════════════════════════════╗
║ %-59s ║
║ %-59s ║
╚═══════════════════════════════════════════════════════════╝
`, title, "version "+version)
}

// Section prints a section header, matching pkg/logger/logger.go Section.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-59s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}
