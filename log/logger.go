package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger built by InitLogger.
type Options struct {
	// AppID is attached to every line as service.id.
	AppID string
	// Level is the minimum level: debug, info, warn or error. Defaults to info.
	Level string
	// Console selects the human-readable console writer; otherwise lines are JSON.
	Console bool
	// Output overrides the console/stdout destination (tests).
	Output io.Writer
	// File enables a rotating log file when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// BatchSize buffers file writes up to this many bytes, 0 writes through.
	BatchSize     int
	FlushInterval time.Duration
	// Stack attaches a filtered stack trace to error lines.
	Stack bool
}

// kratosMinLevel mirrors the zerolog global level.
var kratosMinLevel = log.LevelInfo

// InitLogger builds the process logger and installs it as the package-level
// Logger used by the global helpers.
func InitLogger(opts Options) (log.Logger, error) {
	logger, _, err := buildLogger(opts)
	if err != nil {
		return nil, err
	}
	install(logger)
	return logger, nil
}

// buildLogger returns zerolog output (console and/or a lumberjack rotated
// file) behind a Kratos level filter, plus the closer of the file writer.
func buildLogger(opts Options) (log.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				zerolog.CallerFieldName,
				zerolog.MessageFieldName,
			},
		})
	} else {
		writers = append(writers, out)
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		var file io.WriteCloser = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		if opts.BatchSize > 0 {
			file = NewBatchWriter(file, opts.BatchSize, opts.FlushInterval)
		}
		writers = append(writers, file)
		closer = file
	}

	setStackConfig(opts.Stack, log.LevelError, defaultStackSkip, defaultStackFrames, defaultStackFilter)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zl, kl := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(zl)
	kratosMinLevel = kl

	zeroLogger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	base := zeroLogLogger{zeroLogger}
	logger := log.With(
		log.NewFilter(base, log.FilterLevel(kratosMinLevel)),
		"caller", Caller(5),
		"service.id", opts.AppID,
	)
	return logger, closer, nil
}

func install(logger log.Logger) {
	Logger = logger
	helperStore.Store(log.NewHelper(logger))
	loggerInitialized.Store(true)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(level string) (zerolog.Level, log.Level) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, log.LevelDebug
	case "warn":
		return zerolog.WarnLevel, log.LevelWarn
	case "error":
		return zerolog.ErrorLevel, log.LevelError
	default:
		return zerolog.InfoLevel, log.LevelInfo
	}
}

// Caller returns a log.Valuer reporting the file:line at the given depth.
func Caller(depth int) log.Valuer {
	if depth < 0 {
		depth = 0
	}
	return func(_ context.Context) any {
		_, file, line, ok := runtime.Caller(depth)
		if !ok {
			return "unknown:0"
		}
		return trimFilePath(file, 2) + ":" + strconv.Itoa(line)
	}
}

// trimFilePath reduces a file path to its last depth components.
func trimFilePath(file string, depth int) string {
	if file == "" || depth <= 0 {
		return "unknown"
	}
	parts := strings.Split(filepath.ToSlash(file), "/")
	if len(parts) <= depth {
		return file
	}
	return strings.Join(parts[len(parts)-depth:], "/")
}
