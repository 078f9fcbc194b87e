// Package log is the servicebase logging subsystem.
//
// The process logger is a Kratos log.Logger over zerolog (InitLogger). On top
// of it, SBLogging fans templated lines out to every configured logging
// backend (Sink), and PluginLogger gives each plugin a namespaced handle.
// The package-level helpers below write straight to the process logger and
// are meant for boot code that runs before the logging phase.
package log

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// Level represents a logging level.
type Level int32

const (
	// DebugLevel logs are dropped in production mode.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
)

// LevelNames are the level names filters are keyed by.
var LevelNames = []string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "unknown"
	}
	return LevelNames[l]
}

func (l Level) kratos() log.Level {
	switch l {
	case DebugLevel:
		return log.LevelDebug
	case WarnLevel:
		return log.LevelWarn
	case ErrorLevel:
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

var (
	// Logger is the process logger, set by InitLogger.
	Logger log.Logger

	// helperStore stores *log.Helper atomically so InitLogger can run while
	// other goroutines log.
	helperStore       atomic.Value // of *log.Helper
	loggerInitialized atomic.Bool
)

// fallbackLogger writes plain lines to stderr when InitLogger has not run.
type fallbackLogger struct{}

func (fallbackLogger) logf(level, format string, args ...any) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(os.Stderr, "[%s] [%s] [servicebase] %s\n", timestamp, level, fmt.Sprintf(format, args...))
}

var fallback fallbackLogger

func helper() *log.Helper {
	if !loggerInitialized.Load() {
		return nil
	}
	if h, ok := helperStore.Load().(*log.Helper); ok {
		return h
	}
	return nil
}

func Debugf(format string, a ...any) {
	if h := helper(); h != nil {
		h.Debugf(format, a...)
	} else {
		fallback.logf("DEBUG", format, a...)
	}
}

func Infof(format string, a ...any) {
	if h := helper(); h != nil {
		h.Infof(format, a...)
	} else {
		fallback.logf("INFO", format, a...)
	}
}

func Warnf(format string, a ...any) {
	if h := helper(); h != nil {
		h.Warnf(format, a...)
	} else {
		fallback.logf("WARN", format, a...)
	}
}

func Errorf(format string, a ...any) {
	if h := helper(); h != nil {
		h.Errorf(format, a...)
	} else {
		fallback.logf("ERROR", format, a...)
	}
}

// Infow logs key-value pairs at InfoLevel.
func Infow(keyvals ...any) {
	if h := helper(); h != nil {
		h.Infow(keyvals...)
	} else {
		fallback.logf("INFO", "%v", keyvals)
	}
}

// Errorw logs key-value pairs at ErrorLevel.
func Errorw(keyvals ...any) {
	if h := helper(); h != nil {
		h.Errorw(keyvals...)
	} else {
		fallback.logf("ERROR", "%v", keyvals)
	}
}
