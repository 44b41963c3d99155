// Package logging provides the logger every block writes through.
//
// Blocks report at three local levels (terminal, debug, warning) and may
// also publish structured messages and metric definitions to an external
// tracker. Zap backs the local levels; an ExternalSink receives the rest.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface available to blocks.
type Logger interface {
	// LogToTerminal logs a user-facing progress message.
	LogToTerminal(message string)

	// LogToDebug logs a diagnostic message.
	LogToDebug(message string)

	// LogToWarning logs a recoverable problem.
	LogToWarning(message string)

	// LogToExternal publishes a structured message (metrics, summaries)
	// to the external tracker. keysAndValues annotate the message.
	LogToExternal(message map[string]any, keysAndValues ...any)

	// ExternalDefineMetric declares how the tracker should summarize a metric,
	// e.g. ("validation_loss", "min").
	ExternalDefineMetric(metric, metricType string)
}

// ExternalSink receives messages published with LogToExternal.
type ExternalSink interface {
	Publish(message map[string]any, keysAndValues ...any) error
	DefineMetric(metric, metricType string) error
}

// Config configures the zap-backed logger.
type Config struct {
	Level        string `yaml:"level" json:"level"`
	Development  bool   `yaml:"development" json:"development"`
	ExternalPath string `yaml:"external_path" json:"external_path"`
}

// Zap implements Logger on top of a zap SugaredLogger.
type Zap struct {
	log      *zap.SugaredLogger
	external ExternalSink

	mu      sync.Mutex
	metrics map[string]string
}

// NewZap wraps an existing zap logger. external may be nil.
func NewZap(log *zap.Logger, external ExternalSink) *Zap {
	if log == nil {
		log = zap.NewNop()
	}
	return &Zap{log: log.Sugar(), external: external, metrics: map[string]string{}}
}

// New builds a zap logger from cfg. When cfg.ExternalPath is set, external
// messages are appended to that file as JSON lines.
func New(cfg Config) (*Zap, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if strings.TrimSpace(cfg.Level) != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	base, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	var sink ExternalSink
	if strings.TrimSpace(cfg.ExternalPath) != "" {
		sink, err = NewJSONLSink(cfg.ExternalPath)
		if err != nil {
			return nil, err
		}
	}
	return NewZap(base, sink), nil
}

// Base returns the underlying zap logger.
func (z *Zap) Base() *zap.Logger { return z.log.Desugar() }

// Sync flushes buffered log entries.
func (z *Zap) Sync() error { return z.log.Sync() }

// LogToTerminal logs message at info level.
func (z *Zap) LogToTerminal(message string) { z.log.Info(message) }

// LogToDebug logs message at debug level.
func (z *Zap) LogToDebug(message string) { z.log.Debug(message) }

// LogToWarning logs message at warn level.
func (z *Zap) LogToWarning(message string) { z.log.Warn(message) }

// LogToExternal publishes message to the external sink, if one is configured.
func (z *Zap) LogToExternal(message map[string]any, keysAndValues ...any) {
	if z.external == nil {
		z.log.Debugw("external message dropped, no sink configured", "message", message)
		return
	}
	if err := z.external.Publish(message, keysAndValues...); err != nil {
		z.log.Warnw("publishing external message failed", "error", err)
	}
}

// ExternalDefineMetric declares metric once per type on the external sink.
func (z *Zap) ExternalDefineMetric(metric, metricType string) {
	z.mu.Lock()
	if prev, ok := z.metrics[metric]; ok && prev == metricType {
		z.mu.Unlock()
		return
	}
	z.metrics[metric] = metricType
	z.mu.Unlock()

	if z.external == nil {
		z.log.Debugw("metric defined", "metric", metric, "type", metricType)
		return
	}
	if err := z.external.DefineMetric(metric, metricType); err != nil {
		z.log.Warnw("defining external metric failed", "metric", metric, "error", err)
	}
}

type nop struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

func (nop) LogToTerminal(string)                 {}
func (nop) LogToDebug(string)                    {}
func (nop) LogToWarning(string)                  {}
func (nop) LogToExternal(map[string]any, ...any) {}
func (nop) ExternalDefineMetric(string, string)  {}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
