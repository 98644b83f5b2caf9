package main

import (
	"sync"
	"time"

	"lockin/engine"
	"lockin/log"
)

const (
	lockWarnAfter  = 5 * time.Second
	lockMinRatio   = 0.10
	lockClearRatio = 0.50 // higher threshold to clear the warning (hysteresis)
)

type LockEvent int

const (
	LockNone     LockEvent = iota
	LockLost               // too few values over the warn window
	LockRegained           // values resumed after a warning
	LockRepeat             // still lost, one reminder per warn window
)

// lockMonitor tracks, tick by tick, whether the engine produced a value.
// Ticks where the integration window is still filling are not counted.
type lockMonitor struct {
	warnAt int
	window []bool

	ticks    int
	warned   bool
	lastWarn int
}

func newLockMonitor(period time.Duration) *lockMonitor {
	warnAt := max(int(lockWarnAfter/period), 1)
	return &lockMonitor{
		warnAt: warnAt,
		window: make([]bool, warnAt),
	}
}

func (m *lockMonitor) ratio() float64 {
	n := min(m.ticks, m.warnAt)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.warnAt)%m.warnAt] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *lockMonitor) Tick(locked bool) LockEvent {
	m.window[m.ticks%m.warnAt] = locked
	m.ticks++

	r := m.ratio()

	if m.ticks >= m.warnAt && r < lockMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return LockLost
	}
	if m.warned && r >= lockClearRatio {
		m.warned = false
		return LockRegained
	}
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return LockRepeat
	}
	return LockNone
}

// lockSink feeds a lockMonitor from engine output and reports changes to
// the diagnostics log and to notify, which may be nil.
type lockSink struct {
	mu     sync.Mutex
	mon    *lockMonitor
	notify func(LockEvent)
}

func newLockSink(period time.Duration, notify func(LockEvent)) *lockSink {
	return &lockSink{mon: newLockMonitor(period), notify: notify}
}

func (s *lockSink) tick(locked bool) {
	s.mu.Lock()
	ev := s.mon.Tick(locked)
	s.mu.Unlock()
	switch ev {
	case LockNone:
		return
	case LockLost:
		log.Warn("reference lock lost: no values for " + lockWarnAfter.String())
	case LockRepeat:
		log.Warn("reference lock still lost")
	case LockRegained:
		log.Info("reference lock regained")
	}
	if s.notify != nil {
		s.notify(ev)
	}
}

func (s *lockSink) Value(engine.Measurement) { s.tick(true) }
func (s *lockSink) Diagnostic()              {}
func (s *lockSink) Info(ev engine.Event, _ string) {
	switch ev {
	case engine.EventLowSignal, engine.EventNoData:
		s.tick(false)
	}
}
