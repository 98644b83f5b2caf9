//go:build !windows

package doctor

import "os/exec"

// restoreTerminal undoes a raw mode left behind by an interrupted device
// picker, so the report below is readable.
func restoreTerminal() {
	exec.Command("stty", "sane").Run()
}
