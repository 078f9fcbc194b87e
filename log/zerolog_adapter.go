package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/rs/zerolog"
)

// zeroLogLogger adapts a zerolog.Logger to the Kratos log.Logger interface.
type zeroLogLogger struct {
	logger zerolog.Logger
}

// Log implements log.Logger.
func (l zeroLogLogger) Log(level log.Level, keyvals ...any) error {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "BAD_VALUE")
	}

	var event *zerolog.Event
	switch level {
	case log.LevelDebug:
		event = l.logger.Debug()
	case log.LevelInfo:
		event = l.logger.Info()
	case log.LevelWarn:
		event = l.logger.Warn()
	case log.LevelError, log.LevelFatal:
		// fatal is reported as error; process exit is owned by the boot layer
		event = l.logger.Error()
	default:
		event = l.logger.Warn().Interface("original_level", level)
	}

	var msg string
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("BAD_KEY_%d", i)
		}
		val := keyvals[i+1]

		switch key {
		case "msg":
			if s, ok := val.(string); ok {
				msg = s
			} else {
				msg = fmt.Sprint(val)
			}
			continue
		case "err", "error":
			if e, ok := val.(error); ok {
				event = event.Err(e)
				continue
			}
		}
		event = event.Interface(key, val)
	}

	if stack := captureStack(level); stack != "" {
		event = event.Str("stack", stack)
	}
	event.Msg(msg)
	return nil
}
