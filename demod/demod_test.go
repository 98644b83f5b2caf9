package demod

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"lockin/reference"
)

func TestWindowCap(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	w := NewWindow(100)
	pushed := 0
	for i := 0; i < 500; i++ {
		n := rng.Intn(40)
		ps := make([]Product, n)
		w.Push(ps...)
		pushed += n
		if w.Len() > w.Cap() {
			t.Fatalf("Len %d > Cap %d", w.Len(), w.Cap())
		}
		if pushed >= 100 && w.Len() != 100 {
			t.Fatalf("after %d pushed, Len = %d, want 100", pushed, w.Len())
		}
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(4)
	for i := 1; i <= 6; i++ {
		w.Push(Product{X: float64(i), Valid: true})
	}
	// holds 3,4,5,6
	x, _, n := w.Mean()
	if n != 4 || x != 4.5 {
		t.Errorf("mean = %v over %d, want 4.5 over 4", x, n)
	}

	// a batch larger than the window keeps only the newest entries
	batch := make([]Product, 10)
	for i := range batch {
		batch[i] = Product{X: float64(100 + i), Valid: true}
	}
	w.Push(batch...)
	x, _, _ = w.Mean()
	if x != (106+107+108+109)/4.0 {
		t.Errorf("mean after oversize push = %v", x)
	}
}

func TestMeanExcludesUndefined(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n = 1000
	w := NewWindow(n)
	var sx, sy float64
	k := 0
	for i := 0; i < n; i++ {
		if rng.Intn(3) == 0 {
			w.Push(Product{X: 1e6, Y: -1e6}) // garbage, must be ignored
			continue
		}
		p := Product{X: rng.NormFloat64(), Y: rng.NormFloat64(), Valid: true}
		sx += p.X
		sy += p.Y
		k++
		w.Push(p)
	}
	x, y, valid := w.Mean()
	if valid != k {
		t.Fatalf("valid = %d, want %d", valid, k)
	}
	if math.Abs(x-sx/float64(k)) > 1e-12 || math.Abs(y-sy/float64(k)) > 1e-12 {
		t.Errorf("mean = (%v, %v), want (%v, %v)", x, y, sx/float64(k), sy/float64(k))
	}
}

func TestMultiplyNonFinite(t *testing.T) {
	ph := []reference.Phase{reference.NewPhase(0.5), {}, reference.NewPhase(1)}
	out := Multiply([]float64{math.Inf(1), 1, math.NaN()}, ph, nil)
	for i, p := range out {
		if p.Valid {
			t.Errorf("product %d should be invalid: %+v", i, p)
		}
	}
}

func TestComplexPathEquivalent(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	sig := make([]float64, 512)
	ph := make([]reference.Phase, 512)
	for i := range sig {
		sig[i] = rng.NormFloat64()
		if i%7 != 0 {
			ph[i] = reference.NewPhase(rng.Float64() * 2 * math.Pi)
		}
	}
	a := Multiply(sig, ph, nil)
	b := MultiplyComplex(sig, ph, nil)
	for i := range a {
		if a[i].Valid != b[i].Valid ||
			math.Abs(a[i].X-b[i].X) > 1e-12 || math.Abs(a[i].Y-b[i].Y) > 1e-12 {
			t.Fatalf("sample %d: sin/cos %+v, complex %+v", i, a[i], b[i])
		}
	}
}

func TestProcessStates(t *testing.T) {
	d := New(10, 500*time.Millisecond, 2*time.Second)

	valid := func(n int, x float64) []Product {
		ps := make([]Product, n)
		for i := range ps {
			ps[i] = Product{X: x, Y: -x, Valid: true}
		}
		return ps
	}

	e, st := d.Process(valid(6, 1))
	if st != Insufficient {
		t.Fatalf("status = %v, want insufficient", st)
	}
	if e.Time != -0.5 {
		t.Errorf("time = %v, want -0.5", e.Time)
	}

	e, st = d.Process(valid(6, 1))
	if st != OK || e.X != 1 || e.Y != -1 || e.Time != 0 {
		t.Fatalf("got %+v %v", e, st)
	}

	// window now all undefined: low signal keeps the previous estimate
	e, st = d.Process(make([]Product, 10))
	if st != LowSignal {
		t.Fatalf("status = %v, want low signal", st)
	}
	if e.X != 1 || e.Y != -1 {
		t.Errorf("low signal lost previous estimate: %+v", e)
	}
	if d.Time() != 0.5 {
		t.Errorf("clock = %v, want 0.5", d.Time())
	}

	d.Reset()
	if _, ok := d.Latest(); ok {
		t.Error("Latest after Reset should be empty")
	}
	if d.Window().Len() != 0 || d.Time() != -1 {
		t.Errorf("Reset left len=%d time=%v", d.Window().Len(), d.Time())
	}
}

func TestAutophaseRotatesOntoX(t *testing.T) {
	const (
		n     = 1600
		amp   = 0.8
		delta = 0.9 // signal phase relative to the reference
	)
	sig := make([]float64, n)
	for i := range sig {
		sig[i] = amp * math.Sin(2*math.Pi*float64(i)/160+delta)
	}
	run := func(offset float64) Estimate {
		r := reference.Reconstructor{Offset: offset}
		ref := make([]float64, n+2)
		ref[0] = -1
		for i := 1; i < len(ref); i++ {
			if (i-1)%160 < 80 {
				ref[i] = 1
			} else {
				ref[i] = -1
			}
		}
		ph := r.Reconstruct(ref, nil)[1 : n+1]
		d := New(n, time.Second, time.Second)
		e, st := d.Process(Multiply(sig, ph, nil))
		if st != OK {
			t.Fatalf("status %v", st)
		}
		return e
	}

	e := run(0)
	if math.Abs(e.Magnitude()-amp/2) > 1e-3 {
		t.Errorf("magnitude = %v, want %v", e.Magnitude(), amp/2)
	}
	phi := Autophase(0, e)
	if math.Abs(phi-delta) > 1e-3 {
		t.Errorf("autophase = %v, want %v", phi, delta)
	}
	e = run(phi)
	if math.Abs(e.Y) > 1e-3 || math.Abs(e.X-amp/2) > 1e-3 {
		t.Errorf("after autophase x=%v y=%v, want x=%v y=0", e.X, e.Y, amp/2)
	}
}

func TestSquareWaveform(t *testing.T) {
	const period = 160
	ph := make([]reference.Phase, 10*period)
	sig := make([]float64, len(ph))
	for i := range ph {
		j := i % period
		ph[i] = reference.NewPhase(2 * math.Pi * float64(j) / period)
		sig[i] = math.Sin(ph[i].Angle)
	}
	w := NewWindow(len(ph))
	w.Push(Square.Multiply(sig, ph, nil)...)
	x, y, _ := w.Mean()
	if math.Abs(x-2/math.Pi) > 1e-3 || math.Abs(y) > 1e-3 {
		t.Errorf("square reference: x=%v y=%v, want x=%v y=0", x, y, 2/math.Pi)
	}

	w.Reset()
	w.Push(Sine.Multiply(sig, ph, nil)...)
	x, y, _ = w.Mean()
	if math.Abs(x-0.5) > 1e-9 || math.Abs(y) > 1e-9 {
		t.Errorf("sine reference: x=%v y=%v, want x=0.5 y=0", x, y)
	}
}

func TestCapacity(t *testing.T) {
	if c := Capacity(8000, time.Second); c != 8000 {
		t.Errorf("Capacity = %d", c)
	}
	if c := Capacity(44100, 10*time.Millisecond); c != 441 {
		t.Errorf("Capacity = %d, want 441", c)
	}
}
