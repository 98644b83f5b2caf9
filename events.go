package main

import (
	"fmt"
	"io"
	"sync"

	"lockin/engine"
	"lockin/log"
)

// The engine reports through engine.Sink from its tick goroutine. Every
// front end here (TUI, -print, values log, session stats) is one sink and
// they are fanned out with engine.MultiSink.

// statsSink counts what a session produced for the session_end log line.
type statsSink struct {
	mu    sync.Mutex
	stats log.SessionStats
}

func (s *statsSink) Value(engine.Measurement) {
	s.mu.Lock()
	s.stats.Values++
	s.mu.Unlock()
}

func (s *statsSink) Diagnostic() {}

func (s *statsSink) Info(ev engine.Event, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev {
	case engine.EventInsufficient:
		s.stats.Insufficient++
	case engine.EventLowSignal:
		s.stats.LowSignal++
	case engine.EventNoData:
		s.stats.NoData++
	}
}

func (s *statsSink) snapshot() log.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// valuesLogSink appends every value to values_log.txt.
type valuesLogSink struct{}

func (valuesLogSink) Value(m engine.Measurement) { log.Value(m.String()) }
func (valuesLogSink) Diagnostic()                {}
func (valuesLogSink) Info(engine.Event, string)  {}

// printSink writes "time x y" (or "time magnitude") lines. With verbose
// set, conditions are printed too, prefixed with '#'.
type printSink struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func newPrintSink(w io.Writer) *printSink { return &printSink{w: w} }

func (p *printSink) Value(m engine.Measurement) {
	p.mu.Lock()
	fmt.Fprintln(p.w, m.String())
	p.mu.Unlock()
}

func (p *printSink) Diagnostic() {}

func (p *printSink) Info(ev engine.Event, msg string) {
	if !p.verbose {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.w, "# %s: %s\n", ev, msg)
	p.mu.Unlock()
}

// tuiSink queues engine output for the TUI. The tick goroutine never
// waits on the UI: when the queue is full the message is dropped.
type tuiSink struct {
	ch      chan any
	dropped sync.Mutex
	drops   int
}

const tuiQueue = 64

func newTUISink() *tuiSink {
	return &tuiSink{ch: make(chan any, tuiQueue)}
}

func (t *tuiSink) send(msg any) {
	select {
	case t.ch <- msg:
	default:
		t.dropped.Lock()
		t.drops++
		t.dropped.Unlock()
	}
}

func (t *tuiSink) Value(m engine.Measurement) { t.send(ValueMsg{M: m}) }
func (t *tuiSink) Diagnostic()                { t.send(DiagnosticMsg{}) }
func (t *tuiSink) Info(ev engine.Event, msg string) {
	t.send(InfoMsg{Event: ev, Text: msg})
}

func (t *tuiSink) Drops() int {
	t.dropped.Lock()
	defer t.dropped.Unlock()
	return t.drops
}
