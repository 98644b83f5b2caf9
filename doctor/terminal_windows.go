//go:build windows

package doctor

func restoreTerminal() {}
