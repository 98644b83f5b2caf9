// Package engine runs the lock-in pipeline: on every tick it drains the
// capture FIFO, decodes the frames, rebuilds the reference phase,
// demodulates, refreshes the diagnostic window and reports to a Sink.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"lockin/demod"
	"lockin/observe"
	"lockin/pcm"
	"lockin/vumeter"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("lockin already running")
	// ErrNotRunning is a warning: the call had no effect.
	ErrNotRunning = errors.New("lockin not running")
	// ErrRunning rejects a setting that is fixed while running.
	ErrRunning = errors.New("setting cannot change while running")
)

type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Capture is the host audio device as the engine sees it. The callback
// receives interleaved frames in the format passed to Start.
type Capture interface {
	Start() error
	Stop()
	SetCallback(cb func(data []byte, frameCount uint32))
	ClearCallback()
}

// Recorder receives every decoded block, signal first.
type Recorder interface {
	WriteFrames(left, right []float64) error
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *observe.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithManualTick disables the internal ticker; the caller drives Tick.
func WithManualTick() Option { return func(e *Engine) { e.manual = true } }

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

type Engine struct {
	opMu  sync.Mutex // serializes Start and Stop
	mu    sync.Mutex // guards cfg
	cfg   Config
	state atomic.Int32

	sess   atomic.Pointer[session]
	tickMu sync.Mutex

	phase   atomic.Uint64 // float64 bits, radians
	vuTime  atomic.Int64  // nanoseconds
	invert  atomic.Bool
	latest  atomic.Pointer[Measurement]
	vu      *vumeter.Window
	sink    Sink
	log     zerolog.Logger
	metrics *observe.Metrics

	manual   bool
	recorder Recorder
}

// New checks cfg and builds a stopped engine. A nil sink discards output.
func New(cfg Config, sink Sink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = nopSink{}
	}
	e := &Engine{
		cfg:  cfg,
		sink: sink,
		log:  zerolog.Nop(),
		vu:   vumeter.New(0),
	}
	for _, o := range opts {
		o(e)
	}
	e.phase.Store(math.Float64bits(degToRad(cfg.PhaseDegrees)))
	e.vuTime.Store(int64(cfg.VumeterTime))
	e.invert.Store(cfg.InvertChannels)
	return e, nil
}

// IsFormatSupported reports whether Start would accept f.
func IsFormatSupported(f pcm.Format) bool {
	return f.Validate() == nil
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Start begins acquisition on c. It fails with ErrAlreadyRunning when a
// session is active and with a *pcm.FormatError when f cannot be decoded;
// in both cases nothing changes.
func (e *Engine) Start(c Capture, f pcm.Format) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == Running {
		return ErrAlreadyRunning
	}
	s, err := newSession(e.cfg, c, f)
	if err != nil {
		return err
	}
	s.vuSize = vumeterSize(f.SampleRate, time.Duration(e.vuTime.Load()))
	e.vu.Resize(s.vuSize)

	c.SetCallback(s.feed)
	if err := c.Start(); err != nil {
		c.ClearCallback()
		return fmt.Errorf("start capture: %w", err)
	}

	e.latest.Store(nil)
	e.sess.Store(s)
	e.state.Store(int32(Running))
	if !e.manual {
		go e.run(s)
	} else {
		close(s.done)
	}

	e.metrics.SessionStarted(s.ctx)
	e.log.Info().
		Str("format", f.String()).
		Dur("period", e.cfg.OutputPeriod).
		Dur("integration", e.cfg.IntegrationTime).
		Int("window", s.demod.Window().Cap()).
		Str("threshold", s.tracker.Strategy.String()).
		Str("waveform", s.waveform.String()).
		Msg("lockin_start")
	e.sink.Info(EventStarted, "acquisition started: "+f.String())
	return nil
}

// Stop halts capture. Calling it while stopped returns ErrNotRunning and
// changes nothing. After Stop returns no tick is in flight and a new Start
// begins from empty buffers.
func (e *Engine) Stop() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	s := e.sess.Load()
	if e.State() != Running || s == nil {
		e.log.Warn().Msg("stop: lockin is not running")
		return ErrNotRunning
	}
	e.state.Store(int32(Stopped))
	e.sess.Store(nil)

	close(s.stop)
	<-s.done
	e.tickMu.Lock()
	e.tickMu.Unlock()

	s.capture.Stop()
	s.capture.ClearCallback()
	s.fifo.Reset()

	e.metrics.SessionEnded(s.ctx)
	e.log.Info().Int("ticks", s.ticks).Int("values", s.values).Msg("lockin_stop")
	e.sink.Info(EventStopped, "acquisition stopped")
	return nil
}

func (e *Engine) run(s *session) {
	defer close(s.done)
	t := time.NewTicker(s.period)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			e.tick(s)
		}
	}
}

// Tick processes everything captured since the previous tick. It is
// called by the internal ticker, or by the caller under WithManualTick.
// Ticking a stopped engine logs a warning and does nothing.
func (e *Engine) Tick() {
	s := e.sess.Load()
	if s == nil {
		e.log.Warn().Msg("tick: lockin is not running")
		return
	}
	e.tick(s)
}

func (e *Engine) OutputPeriod() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.OutputPeriod
}

// SetOutputPeriod is only valid while stopped.
func (e *Engine) SetOutputPeriod(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == Running {
		return ErrRunning
	}
	if d <= 0 {
		return fmt.Errorf("output period must be positive, got %s", d)
	}
	e.cfg.OutputPeriod = d
	return nil
}

func (e *Engine) IntegrationTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.IntegrationTime
}

// SetIntegrationTime is only valid while stopped.
func (e *Engine) SetIntegrationTime(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == Running {
		return ErrRunning
	}
	if d <= 0 {
		return fmt.Errorf("integration time must be positive, got %s", d)
	}
	e.cfg.IntegrationTime = d
	return nil
}

// Phase is the reference phase offset in degrees.
func (e *Engine) Phase() float64 {
	return radToDeg(math.Float64frombits(e.phase.Load()))
}

// SetPhase takes degrees; it applies from the next tick.
func (e *Engine) SetPhase(deg float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return fmt.Errorf("phase must be finite, got %v", deg)
	}
	deg = math.Remainder(deg, 360)
	e.phase.Store(math.Float64bits(degToRad(deg)))
	return nil
}

func (e *Engine) VumeterTime() time.Duration { return time.Duration(e.vuTime.Load()) }

// SetVumeterTime resizes the diagnostic window from the next tick. Zero
// disables it.
func (e *Engine) SetVumeterTime(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("vumeter time must not be negative, got %s", d)
	}
	e.vuTime.Store(int64(d))
	return nil
}

func (e *Engine) InvertChannels() bool { return e.invert.Load() }

func (e *Engine) SetInvertChannels(v bool) { e.invert.Store(v) }

// Config returns the current settings.
func (e *Engine) Config() Config {
	e.mu.Lock()
	c := e.cfg
	e.mu.Unlock()
	c.PhaseDegrees = e.Phase()
	c.VumeterTime = e.VumeterTime()
	c.InvertChannels = e.InvertChannels()
	return c
}

// Latest returns the last emitted measurement of the current session.
func (e *Engine) Latest() (Measurement, bool) {
	m := e.latest.Load()
	if m == nil {
		return Measurement{}, false
	}
	return *m, true
}

// Autophase returns, in degrees, the phase offset that would put the last
// measurement entirely on x. It is a suggestion; nothing is applied.
func (e *Engine) Autophase() (float64, bool) {
	m, ok := e.Latest()
	if !ok {
		return e.Phase(), false
	}
	rad := demod.Autophase(math.Float64frombits(e.phase.Load()), demod.Estimate{X: m.X, Y: m.Y})
	return math.Remainder(radToDeg(rad), 360), true
}

// Snapshot copies the diagnostic window; nil when it has no data at its
// current size.
func (e *Engine) Snapshot() []vumeter.Sample { return e.vu.Snapshot() }

// Vumeter exposes the diagnostic window to displays that draw under its
// lock.
func (e *Engine) Vumeter() *vumeter.Window { return e.vu }

// FifoLen reports the bytes waiting for the next tick.
func (e *Engine) FifoLen() int {
	if s := e.sess.Load(); s != nil {
		return s.fifo.Len()
	}
	return 0
}

// Format returns the format of the running session.
func (e *Engine) Format() (pcm.Format, bool) {
	if s := e.sess.Load(); s != nil {
		return s.format, true
	}
	return pcm.Format{}, false
}

func vumeterSize(rate int, d time.Duration) int {
	return int(math.Round(float64(rate) * d.Seconds()))
}
