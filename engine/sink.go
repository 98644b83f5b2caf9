package engine

import (
	"fmt"
	"math"
)

// Event tags an Info notification.
type Event int

const (
	EventStarted Event = iota
	EventStopped
	// EventNoData: nothing was captured since the previous tick.
	EventNoData
	// EventInsufficient: the integration window is still filling.
	EventInsufficient
	// EventLowSignal: no sample in the window had a defined reference
	// phase. The previous value stands.
	EventLowSignal
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventNoData:
		return "no data"
	case EventInsufficient:
		return "insufficient data"
	case EventLowSignal:
		return "low signal"
	}
	return "unknown"
}

// Measurement is one demodulated output point.
type Measurement struct {
	Time float64 // seconds, centered on the integration window
	X, Y float64
	Mode OutputMode
}

func (m Measurement) Magnitude() float64 { return math.Hypot(m.X, m.Y) }

// Phase in degrees.
func (m Measurement) Phase() float64 { return radToDeg(math.Atan2(m.Y, m.X)) }

// String formats the value as a "time x y" or "time magnitude" line.
func (m Measurement) String() string {
	if m.Mode == Magnitude {
		return fmt.Sprintf("%g %g", m.Time, m.Magnitude())
	}
	return fmt.Sprintf("%g %g %g", m.Time, m.X, m.Y)
}

// Sink receives the engine's output. Methods are called from the tick
// goroutine and must not block for long or call Start/Stop.
type Sink interface {
	Value(m Measurement)
	// Diagnostic signals that a fresh snapshot is available from
	// Engine.Snapshot.
	Diagnostic()
	Info(ev Event, msg string)
}

// MultiSink fans out to several sinks in order.
type MultiSink []Sink

func (ms MultiSink) Value(m Measurement) {
	for _, s := range ms {
		s.Value(m)
	}
}

func (ms MultiSink) Diagnostic() {
	for _, s := range ms {
		s.Diagnostic()
	}
}

func (ms MultiSink) Info(ev Event, msg string) {
	for _, s := range ms {
		s.Info(ev, msg)
	}
}

type nopSink struct{}

func (nopSink) Value(Measurement)  {}
func (nopSink) Diagnostic()        {}
func (nopSink) Info(Event, string) {}
