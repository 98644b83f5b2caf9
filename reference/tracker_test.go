package reference

import (
	"math/rand"
	"testing"
)

func TestTrackerMatchesWholeStream(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	// jittery reference: periods between 15 and 25 samples
	var ref []float64
	for len(ref) < 5000 {
		l := 15 + rng.Intn(11)
		for j := 0; j < l; j++ {
			if j < l/2 {
				ref = append(ref, -1)
			} else {
				ref = append(ref, 1)
			}
		}
	}
	sig := make([]float64, len(ref))
	for i := range sig {
		sig[i] = float64(i)
	}

	r := Reconstructor{Offset: 0.25}
	whole := r.Reconstruct(ref, nil)

	tr := NewTracker(r, 0)
	var gotSig []float64
	var gotPh []Phase
	for pos := 0; pos < len(ref); {
		n := min(1+rng.Intn(60), len(ref)-pos)
		b := tr.Push(sig[pos:pos+n], ref[pos:pos+n])
		if len(b.Signal) != b.Len() || len(b.Reference) != b.Len() {
			t.Fatalf("block lengths differ: %d %d %d", len(b.Signal), len(b.Reference), b.Len())
		}
		gotSig = append(gotSig, b.Signal...)
		gotPh = append(gotPh, b.Phases...)
		pos += n
	}

	if len(gotPh)+tr.Pending() != len(ref) {
		t.Fatalf("emitted %d + pending %d != %d", len(gotPh), tr.Pending(), len(ref))
	}
	for i := range gotPh {
		if gotSig[i] != float64(i) {
			t.Fatalf("signal out of order at %d: %v", i, gotSig[i])
		}
		if gotPh[i] != whole[i] {
			t.Fatalf("phase %d: tracker %+v, whole block %+v", i, gotPh[i], whole[i])
		}
	}
}

func TestTrackerFlatReferenceReleasesUndefined(t *testing.T) {
	tr := NewTracker(Reconstructor{}, 100)
	flat := make([]float64, 50)
	emitted := 0
	for tick := 0; tick < 10; tick++ {
		b := tr.Push(flat, flat)
		for _, p := range b.Phases {
			if p.Valid {
				t.Fatal("flat reference produced a defined phase")
			}
		}
		emitted += b.Len()
		if tr.Pending() > 1 {
			t.Fatalf("tick %d: %d frames held back for a flat reference", tick, tr.Pending())
		}
	}
	if emitted != 10*50-1 {
		t.Errorf("emitted %d frames, want %d", emitted, 10*50-1)
	}
}

func TestTrackerMaxCarry(t *testing.T) {
	tr := NewTracker(Reconstructor{}, 30)
	// one edge, then a long high stretch
	ref := make([]float64, 100)
	for i := range ref {
		if i < 10 {
			ref[i] = -1
		} else {
			ref[i] = 1
		}
	}
	b := tr.Push(ref, ref)
	if b.Len() != 99 || tr.Pending() != 1 {
		t.Fatalf("emitted %d, pending %d; want 99, 1", b.Len(), tr.Pending())
	}
}

func TestTrackerEdgeAtBlockBoundary(t *testing.T) {
	tr := NewTracker(Reconstructor{}, 0)
	// block 1 ends low, block 2 starts high: the edge is the first sample of block 2
	tr.Push([]float64{0, 0, 0}, []float64{-1, -1, -1})
	b := tr.Push([]float64{0, 0, 0, 0, 0}, []float64{1, 1, -1, -1, 1})
	// edges at stream index 3 and 7; frames 0..2 undefined, 3..6 one period
	if b.Len() != 5 {
		t.Fatalf("emitted %d, want 5 (stream frames 2..6)", b.Len())
	}
	if b.Phases[0].Valid || !b.Phases[1].Valid || b.Phases[1].Angle != 0 {
		t.Errorf("phases = %+v", b.Phases)
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(Reconstructor{}, 0)
	tr.Push(genSquare(50, 20), genSquare(50, 20))
	if tr.Pending() == 0 {
		t.Fatal("expected a held-back tail")
	}
	tr.Reset()
	if tr.Pending() != 0 {
		t.Errorf("Pending after Reset = %d", tr.Pending())
	}
}
