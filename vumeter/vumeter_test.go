package vumeter

import (
	"testing"
	"time"

	"lockin/reference"
)

func block(n int, base float64) ([]float64, []float64, []reference.Phase) {
	sig := make([]float64, n)
	ref := make([]float64, n)
	ph := make([]reference.Phase, n)
	for i := range sig {
		sig[i] = base + float64(i)
		ref[i] = -(base + float64(i))
		if i%2 == 0 {
			ph[i] = reference.NewPhase(float64(i))
		}
	}
	return sig, ref, ph
}

func TestUpdateKeepsMostRecent(t *testing.T) {
	w := New(4)
	if w.Snapshot() != nil {
		t.Fatal("snapshot before first update should be nil")
	}
	if r := w.TryUpdate(block(10, 0)); r != Updated {
		t.Fatalf("TryUpdate = %v", r)
	}
	snap := w.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("len = %d", len(snap))
	}
	for i, s := range snap {
		want := float64(6 + i)
		if s.Signal != want || s.Reference != -want {
			t.Errorf("sample %d = %+v, want signal %v", i, s, want)
		}
		if s.Phase.Valid != ((6+i)%2 == 0) {
			t.Errorf("sample %d phase validity = %v", i, s.Phase.Valid)
		}
	}
}

func TestShortBlockLeavesWindowStale(t *testing.T) {
	w := New(5)
	w.TryUpdate(block(5, 100))
	if r := w.TryUpdate(block(3, 0)); r != Stale {
		t.Fatalf("TryUpdate short = %v, want stale", r)
	}
	snap := w.Snapshot()
	if snap[0].Signal != 100 || snap[4].Signal != 104 {
		t.Errorf("stale window was modified: %+v", snap)
	}
}

func TestResizeLargerWaitsForEnoughSamples(t *testing.T) {
	w := New(2)
	w.TryUpdate(block(4, 0))
	w.Resize(8)
	if w.Size() != 8 {
		t.Fatalf("Size = %d", w.Size())
	}
	if s := w.Snapshot(); s != nil {
		t.Fatalf("snapshot after grow = %v, want nil until refilled", s)
	}
	if r := w.TryUpdate(block(6, 0)); r != Stale {
		t.Fatalf("6 samples into 8-window = %v", r)
	}
	if s := w.Snapshot(); s != nil {
		t.Fatal("partially filled snapshot exposed")
	}
	w.TryUpdate(block(8, 10))
	if s := w.Snapshot(); len(s) != 8 || s[0].Signal != 10 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestBusyWhenReaderHoldsLock(t *testing.T) {
	w := New(2)
	w.Hold(func([]Sample) {
		if r := w.TryUpdate(block(4, 0)); r != Busy {
			t.Errorf("TryUpdate under reader lock = %v, want busy", r)
		}
	})
	if r := w.TryUpdate(block(4, 0)); r != Updated {
		t.Errorf("TryUpdate after release = %v", r)
	}
}

func TestDisabled(t *testing.T) {
	w := New(0)
	if r := w.TryUpdate(block(4, 0)); r != Disabled {
		t.Errorf("TryUpdate = %v, want disabled", r)
	}
	if w.Snapshot() != nil {
		t.Error("disabled window returned a snapshot")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	w := New(2)
	w.TryUpdate(block(2, 1))
	s := w.Snapshot()
	s[0].Signal = 999
	if w.Snapshot()[0].Signal == 999 {
		t.Error("snapshot aliases the window")
	}
}

func TestPhasesShorterThanBlock(t *testing.T) {
	w := New(4)
	sig, ref, ph := block(10, 0)
	if r := w.TryUpdate(sig, ref, ph[:8]); r != Updated {
		t.Fatalf("TryUpdate = %v", r)
	}
	snap := w.Snapshot()
	if snap[0].Signal != 6 || snap[3].Signal != 9 {
		t.Errorf("window does not end at the last frame: %+v", snap)
	}
	if !snap[0].Phase.Valid {
		t.Error("known phase of frame 6 lost")
	}
	// frame 8 would be valid but lies past the phases given
	if snap[2].Phase.Valid {
		t.Error("frame past the phases has a phase")
	}
}

func TestResizeDoesNotWaitForReader(t *testing.T) {
	w := New(2)
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Hold(func([]Sample) {
			close(held)
			<-release
		})
	}()
	<-held

	resized := make(chan Result)
	go func() {
		w.Resize(6)
		resized <- w.TryUpdate(block(6, 0))
	}()
	select {
	case r := <-resized:
		if r != Busy {
			t.Errorf("TryUpdate under reader lock = %v, want busy", r)
		}
	case <-time.After(time.Second):
		close(release)
		t.Fatal("Resize waited for the reader")
	}
	close(release)
	<-done

	if r := w.TryUpdate(block(6, 0)); r != Updated {
		t.Fatalf("TryUpdate after release = %v", r)
	}
	if got := len(w.Snapshot()); got != 6 {
		t.Errorf("snapshot = %d samples, want 6", got)
	}
}
