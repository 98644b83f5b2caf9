// Package shutdown turns termination signals into the end of an
// acquisition session.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Wait blocks until a termination signal arrives or ctx is done. It
// returns the signal, or nil when ctx ended first.
func Wait(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)
	select {
	case sig := <-ch:
		return sig
	case <-ctx.Done():
		return nil
	}
}

// OnSignal runs fn in its own goroutine on the first termination signal.
// Used by one-shot commands that have no session to cancel.
func OnSignal(fn func(os.Signal)) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	go func() {
		fn(<-ch)
	}()
}
