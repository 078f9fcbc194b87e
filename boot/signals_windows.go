//go:build windows

package boot

import (
	"os"
	"syscall"
)

var exitSignals = map[os.Signal]exitRequest{
	syscall.SIGINT:  {code: ExitOK, reason: "manual exit"},
	syscall.SIGTERM: {code: ExitOK, reason: "terminated"},
}
