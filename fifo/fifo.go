// Package fifo is the byte queue between the capture callback and the
// tick that consumes it.
package fifo

import (
	"io"
	"sync"
)

// Fifo is an unbounded append/drain byte queue. Writes come from the audio
// thread, reads from the tick. Bytes are removed as they are read and never
// handed out twice. The zero value is ready to use.
type Fifo struct {
	mu  sync.Mutex
	buf []byte
	off int
}

// Write appends p to the tail. It never fails.
func (f *Fifo) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.compact()
	f.buf = append(f.buf, p...)
	f.mu.Unlock()
	return len(p), nil
}

// Read removes up to len(p) bytes from the head. An empty queue returns
// 0, io.EOF immediately.
func (f *Fifo) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.off == len(f.buf) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.off:])
	f.off += n
	return n, nil
}

// Next removes and returns up to max bytes. The returned slice is a copy.
func (f *Fifo) Next(max int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := min(max, len(f.buf)-f.off)
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, f.buf[f.off:])
	f.off += n
	return out
}

// DrainAligned appends the largest multiple of unit bytes currently queued
// to dst and removes them. A trailing partial unit stays queued for the
// next call.
func (f *Fifo) DrainAligned(dst []byte, unit int) []byte {
	if unit <= 0 {
		return dst
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	avail := len(f.buf) - f.off
	n := avail - avail%unit
	if n == 0 {
		return dst
	}
	dst = append(dst, f.buf[f.off:f.off+n]...)
	f.off += n
	return dst
}

// Len reports the number of queued bytes.
func (f *Fifo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf) - f.off
}

func (f *Fifo) AtEnd() bool { return f.Len() == 0 }

// Reset drops everything queued.
func (f *Fifo) Reset() {
	f.mu.Lock()
	f.buf = f.buf[:0]
	f.off = 0
	f.mu.Unlock()
}

// compact slides unread bytes to the front once the consumed prefix is at
// least half the backing array. Caller holds mu.
func (f *Fifo) compact() {
	if f.off == 0 {
		return
	}
	if f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
		return
	}
	if f.off < cap(f.buf)/2 {
		return
	}
	n := copy(f.buf, f.buf[f.off:])
	f.buf = f.buf[:n]
	f.off = 0
}

var (
	_ io.Writer = (*Fifo)(nil)
	_ io.Reader = (*Fifo)(nil)
)
