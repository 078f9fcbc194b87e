package log

import (
	"sort"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/servicebase/plugins"
)

// Meta carries the structured values of a log line.
type Meta = plugins.Meta

// DefaultSinkName is the name of the built-in logging backend.
const DefaultSinkName = "logging-default"

// Sink is the logging backend contract. Messages are templates with {key}
// placeholders resolved from meta; sinks decide whether to resolve them or
// keep them structured.
type Sink interface {
	Debug(plugin, message string, meta Meta)
	Info(plugin, message string, meta Meta)
	Warn(plugin, message string, meta Meta)
	Error(plugin, message string, meta Meta)
}

// KratosSink writes resolved lines through a Kratos log.Logger with the
// fields plugin, msg and every meta key.
type KratosSink struct {
	logger log.Logger
}

// NewKratosSink returns a sink over logger. A nil logger selects the process
// Logger, falling back to Kratos' default logger.
func NewKratosSink(logger log.Logger) *KratosSink {
	if logger == nil {
		logger = Logger
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &KratosSink{logger: logger}
}

func (s *KratosSink) Debug(plugin, message string, meta Meta) {
	s.write(DebugLevel, plugin, message, meta)
}

func (s *KratosSink) Info(plugin, message string, meta Meta) {
	s.write(InfoLevel, plugin, message, meta)
}

func (s *KratosSink) Warn(plugin, message string, meta Meta) {
	s.write(WarnLevel, plugin, message, meta)
}

func (s *KratosSink) Error(plugin, message string, meta Meta) {
	s.write(ErrorLevel, plugin, message, meta)
}

func (s *KratosSink) write(level Level, plugin, message string, meta Meta) {
	keyvals := make([]any, 0, 4+2*len(meta))
	keyvals = append(keyvals, "plugin", plugin, "msg", plugins.FormatTemplate(message, meta))
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "msg" || k == "plugin" {
			continue
		}
		keyvals = append(keyvals, k, meta[k])
	}
	_ = s.logger.Log(level.kratos(), keyvals...)
}

// dispatch calls the level-specific method of sink.
func dispatch(sink Sink, level Level, plugin, message string, meta Meta) {
	switch level {
	case DebugLevel:
		sink.Debug(plugin, message, meta)
	case InfoLevel:
		sink.Info(plugin, message, meta)
	case WarnLevel:
		sink.Warn(plugin, message, meta)
	default:
		sink.Error(plugin, message, meta)
	}
}
