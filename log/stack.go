package log

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultStackSkip   = 4
	defaultStackFrames = 32
)

// Frames from these packages are left out of captured stacks.
var defaultStackFilter = []string{
	"runtime.",
	"github.com/go-kratos/kratos",
	"github.com/rs/zerolog",
	"github.com/go-lynx/servicebase/log",
}

type stackCfg struct {
	enabled        bool
	skip           int
	maxFrames      int
	minLevel       log.Level
	filterPrefixes []string
}

var stconf atomic.Pointer[stackCfg]

func getStackConfig() *stackCfg {
	if c := stconf.Load(); c != nil {
		return c
	}
	return &stackCfg{}
}

func setStackConfig(enabled bool, minLevel log.Level, skip, maxFrames int, filterPrefixes []string) {
	if skip < 0 {
		skip = 0
	}
	if maxFrames <= 0 {
		maxFrames = 16
	}
	stconf.Store(&stackCfg{
		enabled:        enabled,
		skip:           skip,
		maxFrames:      maxFrames,
		minLevel:       minLevel,
		filterPrefixes: append([]string(nil), filterPrefixes...),
	})
}

// captureStack returns "function file:line" lines for the caller's stack, or
// "" when stack capture is off or level is below the configured minimum.
func captureStack(level log.Level) string {
	cfg := getStackConfig()
	if !cfg.enabled || level < cfg.minLevel {
		return ""
	}
	pcs := make([]uintptr, cfg.maxFrames)
	n := runtime.Callers(cfg.skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		fr, more := frames.Next()
		if fr.Function != "" && !hasAnyPrefix(fr.Function, cfg.filterPrefixes) {
			fmt.Fprintf(&b, "%s %s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
