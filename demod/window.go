package demod

import "math"

// Product is one demodulated sample. Products whose phase was undefined,
// or whose value is not finite, are kept with Valid false so the window
// still advances in time but they never enter the mean.
type Product struct {
	X, Y  float64
	Valid bool
}

// Window is a fixed-capacity FIFO of products. Pushing past capacity
// evicts the oldest entries.
type Window struct {
	buf  []Product
	head int // index of the oldest entry
	size int
}

func NewWindow(capacity int) *Window {
	return &Window{buf: make([]Product, max(capacity, 0))}
}

func (w *Window) Len() int   { return w.size }
func (w *Window) Cap() int   { return len(w.buf) }
func (w *Window) Full() bool { return w.size == len(w.buf) }

func (w *Window) Reset() {
	w.head = 0
	w.size = 0
}

// Push appends ps, evicting from the head as needed.
func (w *Window) Push(ps ...Product) {
	c := len(w.buf)
	if c == 0 {
		return
	}
	if len(ps) >= c {
		// only the newest c survive
		copy(w.buf, ps[len(ps)-c:])
		w.head = 0
		w.size = c
		return
	}
	for _, p := range ps {
		tail := (w.head + w.size) % c
		w.buf[tail] = p
		if w.size < c {
			w.size++
		} else {
			w.head = (w.head + 1) % c
		}
	}
}

// Mean averages the valid entries. It is recomputed from scratch with
// Kahan summation on every call, so no running sum can drift over a long
// session.
func (w *Window) Mean() (x, y float64, valid int) {
	var sx, cx, sy, cy float64
	c := len(w.buf)
	for i := 0; i < w.size; i++ {
		p := w.buf[(w.head+i)%c]
		if !p.Valid {
			continue
		}
		sx, cx = kahan(sx, cx, p.X)
		sy, cy = kahan(sy, cy, p.Y)
		valid++
	}
	if valid == 0 {
		return math.NaN(), math.NaN(), 0
	}
	return sx / float64(valid), sy / float64(valid), valid
}

func kahan(sum, comp, v float64) (float64, float64) {
	y := v - comp
	t := sum + y
	return t, (t - sum) - y
}
