package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"lockin/demod"
	"lockin/fifo"
	"lockin/pcm"
	"lockin/reference"
	"lockin/vumeter"
)

// session is everything owned by one Start..Stop run. Only the capture
// callback (fifo writes) and the tick path touch it.
type session struct {
	ctx      context.Context
	capture  Capture
	format   pcm.Format
	period   time.Duration
	output   OutputMode
	waveform demod.Waveform

	fifo    fifo.Fifo
	dec     *pcm.Decoder
	tracker *reference.Tracker
	demod   *demod.Demodulator

	// reused between ticks
	raw         []byte
	left, right []float64
	products    []demod.Product

	vuSize  int
	recErr  bool
	ticks   int
	values  int
	stop    chan struct{}
	done    chan struct{}
	started time.Time
}

func newSession(cfg Config, c Capture, f pcm.Format) (*session, error) {
	dec, err := pcm.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	strategy, ok, err := reference.ParseStrategy(cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if !ok {
		strategy = reference.StrategyFor(f.Encoding)
	}
	capacity := demod.Capacity(f.SampleRate, cfg.IntegrationTime)
	if capacity < 1 {
		return nil, fmt.Errorf("integration time %s is shorter than one sample at %d Hz", cfg.IntegrationTime, f.SampleRate)
	}
	// buffers start sized for one tick of audio
	expected := int(math.Ceil(float64(f.SampleRate) * cfg.OutputPeriod.Seconds()))

	return &session{
		ctx:      context.Background(),
		capture:  c,
		format:   f,
		period:   cfg.OutputPeriod,
		output:   cfg.Output,
		waveform: cfg.Waveform,
		dec:      dec,
		tracker:  reference.NewTracker(reference.Reconstructor{Strategy: strategy}, capacity),
		demod:    demod.New(capacity, cfg.OutputPeriod, cfg.IntegrationTime),
		raw:      make([]byte, 0, expected*f.FrameSize()),
		left:     make([]float64, 0, expected),
		right:    make([]float64, 0, expected),
		products: make([]demod.Product, 0, expected),
		vuSize:   -1,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		started:  time.Now(),
	}, nil
}

// feed is the capture callback. It runs on the audio thread.
func (s *session) feed(data []byte, _ uint32) {
	s.fifo.Write(data)
}

func (e *Engine) tick(s *session) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	select {
	case <-s.stop:
		return
	default:
	}

	start := time.Now()
	s.ticks++
	s.dec.SetInvert(e.invert.Load())
	s.tracker.Offset = math.Float64frombits(e.phase.Load())

	s.raw = s.fifo.DrainAligned(s.raw[:0], s.format.FrameSize())
	s.left, s.right = s.dec.Decode(s.raw, s.left[:0], s.right[:0])
	frames := len(s.left)
	if frames == 0 {
		s.demod.Advance()
		e.metrics.RecordTick(s.ctx, time.Since(start).Seconds(), 0, s.fifo.Len())
		e.log.Trace().Msg("tick: no data")
		e.sink.Info(EventNoData, "waiting for data")
		return
	}
	e.record(s)

	held := s.tracker.Pending()
	blk := s.tracker.Push(s.left, s.right)
	s.products = s.waveform.Multiply(blk.Signal, blk.Phases, s.products[:0])
	est, st := s.demod.Process(s.products)
	// the settled block starts with the frames held back last tick; the
	// phases of this decode begin after them
	e.updateVumeter(s, blk.Phases[min(held, blk.Len()):])

	switch st {
	case demod.OK:
		m := Measurement{Time: est.Time, X: est.X, Y: est.Y, Mode: s.output}
		e.latest.Store(&m)
		s.values++
		e.metrics.RecordValue(s.ctx)
		e.sink.Value(m)
	case demod.Insufficient:
		w := s.demod.Window()
		e.metrics.RecordCondition(s.ctx, "insufficient")
		e.sink.Info(EventInsufficient, fmt.Sprintf("waiting for more data (%d/%d samples)", w.Len(), w.Cap()))
	case demod.LowSignal:
		e.metrics.RecordCondition(s.ctx, "low_signal")
		e.log.Debug().Int("frames", frames).Msg("tick: no valid reference phase in window")
		e.sink.Info(EventLowSignal, "signal too low: no complete reference period")
	}

	e.metrics.RecordTick(s.ctx, time.Since(start).Seconds(), frames, s.fifo.Len())
	e.log.Trace().
		Int("frames", frames).
		Int("settled", blk.Len()).
		Int("pending", s.tracker.Pending()).
		Int("backlog", s.fifo.Len()).
		Dur("took", time.Since(start)).
		Msg("tick")
}

// updateVumeter shows the latest decode. Its trailing frames are still
// held by the tracker and have no phase yet.
func (e *Engine) updateVumeter(s *session, phases []reference.Phase) {
	if n := vumeterSize(s.format.SampleRate, time.Duration(e.vuTime.Load())); n != s.vuSize {
		e.vu.Resize(n)
		s.vuSize = n
	}
	switch e.vu.TryUpdate(s.left, s.right, phases) {
	case vumeter.Updated:
		e.sink.Diagnostic()
	case vumeter.Busy:
		e.metrics.RecordDiagnosticSkip(s.ctx, "busy")
		e.log.Debug().Msg("vumeter: reader holds the window, update skipped")
	case vumeter.Stale:
		e.metrics.RecordDiagnosticSkip(s.ctx, "stale")
	}
}

func (e *Engine) record(s *session) {
	if e.recorder == nil || s.recErr {
		return
	}
	if err := e.recorder.WriteFrames(s.left, s.right); err != nil {
		s.recErr = true
		e.log.Error().Err(err).Msg("recording stopped")
	}
}
