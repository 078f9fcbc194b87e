//go:build !windows

package boot

import (
	"os"
	"syscall"
)

var exitSignals = map[os.Signal]exitRequest{
	syscall.SIGINT:  {code: ExitOK, reason: "manual exit"},
	syscall.SIGTERM: {code: ExitOK, reason: "terminated"},
	syscall.SIGUSR1: {code: ExitUser1, reason: "sig kill user 1"},
	syscall.SIGUSR2: {code: ExitUser2, reason: "sig kill user 2"},
}
