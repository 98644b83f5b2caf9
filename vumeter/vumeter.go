// Package vumeter keeps a short snapshot of raw and reconstructed samples
// for live display.
package vumeter

import (
	"sync"
	"sync/atomic"

	"lockin/reference"
)

type Sample struct {
	Signal    float64
	Reference float64
	Phase     reference.Phase
}

// Result says what TryUpdate did.
type Result int

const (
	Updated Result = iota
	// Stale means the block was shorter than the window; the previous
	// snapshot was kept.
	Stale
	// Busy means a reader held the lock and the update was skipped.
	Busy
	// Disabled means the window size is zero.
	Disabled
)

func (r Result) String() string {
	switch r {
	case Updated:
		return "updated"
	case Stale:
		return "stale"
	case Busy:
		return "busy"
	case Disabled:
		return "disabled"
	}
	return "unknown"
}

// Window holds the most recent Size samples, replaced wholesale on each
// update. The writer never blocks; readers take a copy.
type Window struct {
	mu      sync.Mutex
	samples []Sample
	size    int
	filled  bool

	want atomic.Int64 // requested size, applied under mu
}

func New(size int) *Window {
	w := &Window{}
	w.Resize(size)
	return w
}

// Resize requests a new window length without taking the lock. It takes
// effect at the next update or read; the current snapshot is then dropped
// and the next update with at least size samples fills it.
func (w *Window) Resize(size int) {
	w.want.Store(int64(max(size, 0)))
}

// apply brings the window to the requested size. Callers hold mu.
func (w *Window) apply() {
	size := int(w.want.Load())
	if size == w.size {
		return
	}
	w.size = size
	if cap(w.samples) < size {
		w.samples = make([]Sample, size)
	} else {
		w.samples = w.samples[:size]
	}
	w.filled = false
}

func (w *Window) Size() int { return int(w.want.Load()) }

// TryUpdate copies the last Size frames of sig and ref into the window.
// phases lines up with the start of sig and may be shorter: frames past
// its end have no known phase yet and are stored undefined. The window is
// left stale when sig is shorter than Size.
func (w *Window) TryUpdate(sig, ref []float64, phases []reference.Phase) Result {
	if !w.mu.TryLock() {
		return Busy
	}
	defer w.mu.Unlock()
	w.apply()
	if w.size == 0 {
		return Disabled
	}
	n := min(len(sig), len(ref))
	if n < w.size {
		return Stale
	}
	off := n - w.size
	for i := range w.samples {
		j := off + i
		var ph reference.Phase
		if j < len(phases) {
			ph = phases[j]
		}
		w.samples[i] = Sample{Signal: sig[j], Reference: ref[j], Phase: ph}
	}
	w.filled = true
	return Updated
}

// Snapshot returns a copy of the window, or nil before the first update
// at the current size.
func (w *Window) Snapshot() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.apply()
	if !w.filled {
		return nil
	}
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Hold runs fn with the lock held. Displays that draw directly from the
// window use it instead of Snapshot to avoid the copy.
func (w *Window) Hold(fn func(samples []Sample)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.apply()
	if w.filled {
		fn(w.samples)
	} else {
		fn(nil)
	}
}
