// Package reference rebuilds a per-sample phase from the chopper channel.
//
// Rising edges split the reference into periods. Each complete period of
// length L gets the angles 2π·j/L + offset for j in [0, L), so jitter in
// the chopper frequency is corrected every cycle. Samples outside a
// complete period have no defined phase.
package reference

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"lockin/pcm"
)

// Strategy selects the threshold a rising edge must cross.
type Strategy int

const (
	// Zero is for zero-centered references (signed and float input).
	Zero Strategy = iota
	// RunningAverage uses the block mean, for references riding on a DC
	// offset (unsigned input).
	RunningAverage
)

func (s Strategy) String() string {
	if s == RunningAverage {
		return "average"
	}
	return "zero"
}

// StrategyFor picks the threshold strategy matching an encoding.
func StrategyFor(enc pcm.Encoding) Strategy {
	if enc == pcm.Unsigned {
		return RunningAverage
	}
	return Zero
}

// ParseStrategy accepts "zero" or "average". "auto" and "" report ok=false
// so the caller falls back to StrategyFor.
func ParseStrategy(s string) (st Strategy, ok bool, err error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return Zero, false, nil
	case "zero":
		return Zero, true, nil
	case "average", "avg", "mean":
		return RunningAverage, true, nil
	}
	return Zero, false, fmt.Errorf("unknown threshold strategy %q", s)
}

// Phase is one reconstructed reference sample. The zero value is the
// undefined marker.
type Phase struct {
	Angle float64
	Sin   float64
	Cos   float64
	Valid bool
}

func NewPhase(angle float64) Phase {
	s, c := math.Sincos(angle)
	return Phase{Angle: angle, Sin: s, Cos: c, Valid: true}
}

// Complex returns exp(i·Angle), or 0 when undefined.
func (p Phase) Complex() complex128 {
	if !p.Valid {
		return 0
	}
	return cmplx.Rect(1, p.Angle)
}

// Reconstructor is stateless: every call works on one block.
type Reconstructor struct {
	Strategy Strategy
	Offset   float64 // radians, added to every angle
}

// Threshold returns the edge threshold for ref. RunningAverage ignores
// non-finite samples and yields NaN when none are left, which disables
// edge detection for the block.
func (r Reconstructor) Threshold(ref []float64) float64 {
	if r.Strategy != RunningAverage {
		return 0
	}
	var sum float64
	var n int
	for _, v := range ref {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Edges appends to dst the index of every rising edge in ref: i such that
// ref[i-1] < thr and ref[i] >= thr.
func (r Reconstructor) Edges(ref []float64, dst []int) []int {
	return edges(ref, r.Threshold(ref), dst)
}

func edges(ref []float64, thr float64, dst []int) []int {
	for i := 1; i < len(ref); i++ {
		if ref[i-1] < thr && ref[i] >= thr {
			dst = append(dst, i)
		}
	}
	return dst
}

// Reconstruct writes one Phase per sample of ref into dst, reusing its
// storage. The result always has len(ref) entries.
func (r Reconstructor) Reconstruct(ref []float64, dst []Phase) []Phase {
	dst = resize(dst, len(ref))
	var scratch [64]int
	e := r.Edges(ref, scratch[:0])
	for k := 1; k < len(e); k++ {
		r.fill(dst[e[k-1]:e[k]])
	}
	return dst
}

// fill assigns a linear phase ramp over one complete period.
func (r Reconstructor) fill(period []Phase) {
	l := float64(len(period))
	for j := range period {
		period[j] = NewPhase(2*math.Pi*float64(j)/l + r.Offset)
	}
}

func resize(dst []Phase, n int) []Phase {
	if cap(dst) < n {
		dst = make([]Phase, n)
	} else {
		dst = dst[:n]
		clear(dst)
	}
	return dst
}
