//go:build !windows

package shutdown

import (
	"os"
	"syscall"
)

// SIGHUP ends the session cleanly when the terminal closes.
var signals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
