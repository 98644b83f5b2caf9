package reference

// Block is the part of the stream whose phase is now settled. Its slices
// are owned by the Tracker and valid until the next Push.
type Block struct {
	Signal    []float64
	Reference []float64
	Phases    []Phase
}

func (b Block) Len() int { return len(b.Phases) }

// Tracker carries the unfinished period at the end of one block over to
// the next, so a period that straddles two capture ticks is interpolated
// once it completes instead of being discarded.
//
// Samples before the first rising edge ever seen come out undefined. A
// block with no usable edge is released undefined, keeping one sample back
// so an edge on the very next sample is still detected.
type Tracker struct {
	Reconstructor

	// MaxCarry bounds the held-back tail in frames. A period longer than
	// this is released undefined. Zero means no bound.
	MaxCarry int

	sig, ref []float64
	anchored bool // sig[0] sits on a rising edge
	edges    []int
	out      Block
}

func NewTracker(r Reconstructor, maxCarry int) *Tracker {
	return &Tracker{Reconstructor: r, MaxCarry: maxCarry}
}

// Pending reports how many frames are held back.
func (t *Tracker) Pending() int { return len(t.sig) }

func (t *Tracker) Reset() {
	t.sig = t.sig[:0]
	t.ref = t.ref[:0]
	t.anchored = false
}

// Push appends one decoded block and returns the frames whose phase is
// now known, in stream order.
func (t *Tracker) Push(sig, ref []float64) Block {
	t.sig = append(t.sig, sig...)
	t.ref = append(t.ref, ref...)
	total := len(t.sig)

	e := t.edges[:0]
	if t.anchored {
		e = append(e, 0)
	}
	e = edges(t.ref, t.Threshold(t.ref), e)
	t.edges = e

	var n int
	anchored := false
	switch {
	case total == 0:
	case len(e) == 0:
		n = total - 1
	default:
		n = e[len(e)-1]
		anchored = true
		if t.MaxCarry > 0 && total-n > t.MaxCarry {
			n = total - 1
			anchored = false
		}
	}

	phases := resize(t.out.Phases, n)
	for k := 1; k < len(e) && e[k] <= n; k++ {
		t.fill(phases[e[k-1]:e[k]])
	}
	t.out.Phases = phases
	t.out.Signal = append(t.out.Signal[:0], t.sig[:n]...)
	t.out.Reference = append(t.out.Reference[:0], t.ref[:n]...)

	t.sig = t.sig[:copy(t.sig, t.sig[n:])]
	t.ref = t.ref[:copy(t.ref, t.ref[n:])]
	t.anchored = anchored
	return t.out
}
