// Package demod multiplies the signal by the reconstructed reference and
// averages the products over the integration window.
package demod

import (
	"fmt"
	"math"
	"strings"
	"time"

	"lockin/reference"
)

// Multiply appends x = s·sin(θ), y = s·cos(θ) for each sample to dst.
// sig and phases must have the same length.
func Multiply(sig []float64, phases []reference.Phase, dst []Product) []Product {
	for i, p := range phases {
		if !p.Valid {
			dst = append(dst, Product{})
			continue
		}
		dst = append(dst, product(sig[i]*p.Sin, sig[i]*p.Cos))
	}
	return dst
}

// MultiplyComplex is the exp(iθ) form of Multiply: x and y are the
// imaginary and real parts of s·exp(iθ).
func MultiplyComplex(sig []float64, phases []reference.Phase, dst []Product) []Product {
	for i, p := range phases {
		if !p.Valid {
			dst = append(dst, Product{})
			continue
		}
		z := complex(sig[i], 0) * p.Complex()
		dst = append(dst, product(imag(z), real(z)))
	}
	return dst
}

// Waveform is the shape of the local reference the signal is multiplied
// with. Sine is the classic two-phase lock-in. Square multiplies by the
// sign of the sine and cosine, like an analog switching demodulator, and
// also picks up the odd harmonics of the signal.
type Waveform int

const (
	Sine Waveform = iota
	Square
)

func (w Waveform) String() string {
	if w == Square {
		return "square"
	}
	return "sine"
}

func ParseWaveform(s string) (Waveform, error) {
	switch strings.ToLower(s) {
	case "", "sine", "sin":
		return Sine, nil
	case "square", "sq":
		return Square, nil
	}
	return Sine, fmt.Errorf("unknown reference waveform %q", s)
}

// Multiply dispatches on the waveform.
func (w Waveform) Multiply(sig []float64, phases []reference.Phase, dst []Product) []Product {
	if w == Square {
		return MultiplySquare(sig, phases, dst)
	}
	return Multiply(sig, phases, dst)
}

// MultiplySquare multiplies by sgn(sin θ) and sgn(cos θ). Samples that
// sit exactly on a transition count as zero, which keeps the two halves of
// a sampled period balanced.
func MultiplySquare(sig []float64, phases []reference.Phase, dst []Product) []Product {
	for i, p := range phases {
		if !p.Valid {
			dst = append(dst, Product{})
			continue
		}
		dst = append(dst, product(sig[i]*sgn(p.Sin), sig[i]*sgn(p.Cos)))
	}
	return dst
}

const signEps = 1e-9

func sgn(v float64) float64 {
	switch {
	case v > signEps:
		return 1
	case v < -signEps:
		return -1
	}
	return 0
}

func product(x, y float64) Product {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return Product{}
	}
	return Product{X: x, Y: y, Valid: true}
}

type Status int

const (
	OK Status = iota
	// Insufficient means the window has not reached its capacity yet.
	Insufficient
	// LowSignal means the window holds no valid product; the previous
	// estimate is kept.
	LowSignal
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Insufficient:
		return "insufficient data"
	case LowSignal:
		return "low signal"
	}
	return "unknown"
}

// Estimate is one output point. Time is in seconds since the start of
// acquisition, centered on the integration window.
type Estimate struct {
	Time float64
	X, Y float64
}

func (e Estimate) Magnitude() float64 { return math.Hypot(e.X, e.Y) }

// Phase is the angle of the estimate in radians.
func (e Estimate) Phase() float64 { return math.Atan2(e.Y, e.X) }

// Demodulator owns the integration window and the output clock.
type Demodulator struct {
	win    *Window
	period float64
	start  float64
	t      float64

	latest    Estimate
	hasLatest bool
}

// New sizes the window to capacity products. The clock starts at
// -integration/2 and advances by outputPeriod on every Process call.
func New(capacity int, outputPeriod, integration time.Duration) *Demodulator {
	start := -integration.Seconds() / 2
	return &Demodulator{
		win:    NewWindow(capacity),
		period: outputPeriod.Seconds(),
		start:  start,
		t:      start,
	}
}

// Capacity is the number of samples in the integration window,
// sampleRate × integrationTime rounded to the nearest sample.
func Capacity(sampleRate int, integration time.Duration) int {
	return int(math.Round(float64(sampleRate) * integration.Seconds()))
}

func (d *Demodulator) Window() *Window { return d.win }

// Process runs one tick: advance the clock, push the new products, and
// average the window once it is full.
func (d *Demodulator) Process(products []Product) (Estimate, Status) {
	d.Advance()
	d.win.Push(products...)
	if !d.win.Full() {
		return Estimate{Time: d.t}, Insufficient
	}
	x, y, n := d.win.Mean()
	if n == 0 {
		return d.latest, LowSignal
	}
	d.latest = Estimate{Time: d.t, X: x, Y: y}
	d.hasLatest = true
	return d.latest, OK
}

// Advance moves the output clock one period without touching the window,
// for ticks that decoded nothing.
func (d *Demodulator) Advance() { d.t += d.period }

// Latest returns the most recent valid estimate.
func (d *Demodulator) Latest() (Estimate, bool) { return d.latest, d.hasLatest }

// Time is the current output clock.
func (d *Demodulator) Time() float64 { return d.t }

func (d *Demodulator) Reset() {
	d.win.Reset()
	d.t = d.start
	d.latest = Estimate{}
	d.hasLatest = false
}

// Autophase returns the phase offset (radians) that would rotate the
// latest estimate onto the x axis.
func (d *Demodulator) Autophase(offset float64) (float64, bool) {
	if !d.hasLatest {
		return offset, false
	}
	return Autophase(offset, d.latest), true
}

func Autophase(offset float64, e Estimate) float64 {
	return offset + math.Atan2(e.Y, e.X)
}
