package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"lockin/audio"
	"lockin/config"
	"lockin/encoder"
	"lockin/engine"
	"lockin/log"
	"lockin/observe"
	"lockin/pcm"
)

// runTestMode replays a stereo WAV file (or the default synthetic chopper
// when none is given) through the engine. Ticks are driven by stdin
// commands, so output is deterministic unless -realtime is set.
func runTestMode(ctx context.Context, args []string, settings config.Settings, cfg engine.Config, o *options, metrics *observe.Metrics) int {
	var fake *audio.FakeContext
	if len(args) > 0 {
		var err error
		fake, err = audio.NewFakeContextFromWAV(args[0], o.realtime)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
	} else {
		fake = audio.NewFakeContext(audio.DefaultChopper().Synthesize(), o.realtime)
	}

	rate := fake.Source().Rate
	format, err := replayFormat(fake, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	capture, err := fake.NewCapture(nil, audio.CaptureConfig{Format: format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating capture: %v\n", err)
		return 1
	}
	defer capture.Close()

	out := newPrintSink(os.Stdout)
	out.verbose = true
	stats := &statsSink{}
	opts := []engine.Option{
		engine.WithLogger(log.Logger()),
		engine.WithMetrics(metrics),
	}
	if !o.realtime {
		opts = append(opts, engine.WithManualTick())
	}
	var rec encoder.Encoder
	if o.record != "" {
		if rec, err = encoder.Create(o.record, rate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		opts = append(opts, engine.WithRecorder(rec))
	}
	eng, err := engine.New(cfg, engine.MultiSink{stats, valuesLogSink{}, out}, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	h := &harness{
		eng:     eng,
		capture: capture.(*audio.FakeCapture),
		format:  format,
		out:     out,
	}
	log.SessionStart(capture.DeviceName(), format.String(), cfg.OutputPeriod, cfg.IntegrationTime)
	start := time.Now()
	h.serve(ctx, os.Stdin)
	eng.Stop()

	s := stats.snapshot()
	s.Duration = time.Since(start)
	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Errorf("closing recording: %v", err)
		} else {
			s.Recorded = o.record
		}
	}
	log.SessionEnd(s)
	return 0
}

// replayFormat picks the capture format for a fake source the way a live
// run does, at the source's own rate.
func replayFormat(fake *audio.FakeContext, s config.Settings) (pcm.Format, error) {
	s.Format.SampleRate = fake.Source().Rate
	return captureFormat(fake, s)
}

// harness executes one command per line:
//
//	START, STOP, TICK [n], WAIT_AUDIO_DONE, SLEEP ms,
//	PHASE deg, AUTOPHASE, INVERT on|off, VUMETER dur,
//	PERIOD dur, INTEGRATION dur, STATE, QUIT
//
// Replies go to the print sink's writer; errors are printed as "! msg".
type harness struct {
	eng     *engine.Engine
	capture *audio.FakeCapture
	format  pcm.Format
	out     *printSink
}

func (h *harness) printf(format string, args ...any) {
	h.out.mu.Lock()
	fmt.Fprintf(h.out.w, format+"\n", args...)
	h.out.mu.Unlock()
}

func (h *harness) serve(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if !h.exec(strings.ToUpper(fields[0]), fields[1:]) {
			return
		}
	}
}

// exec runs one command and reports whether to keep reading.
func (h *harness) exec(cmd string, args []string) bool {
	arg := func() string {
		if len(args) == 0 {
			return ""
		}
		return args[0]
	}
	fail := func(err error) {
		if err != nil {
			h.printf("! %s: %v", strings.ToLower(cmd), err)
		}
	}

	switch cmd {
	case "START":
		fail(h.eng.Start(h.capture, h.format))
	case "STOP":
		fail(h.eng.Stop())
	case "TICK":
		n := 1
		if a := arg(); a != "" {
			v, err := strconv.Atoi(a)
			if err != nil || v < 1 {
				fail(fmt.Errorf("bad count %q", a))
				break
			}
			n = v
		}
		for range n {
			h.eng.Tick()
		}
	case "WAIT_AUDIO_DONE":
		if h.eng.State() != engine.Running {
			fail(engine.ErrNotRunning)
			break
		}
		<-h.capture.AudioDone()
	case "SLEEP":
		if ms, err := strconv.Atoi(arg()); err == nil {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	case "PHASE":
		deg, err := strconv.ParseFloat(arg(), 64)
		if err != nil {
			fail(err)
			break
		}
		fail(h.eng.SetPhase(deg))
	case "AUTOPHASE":
		if deg, ok := h.eng.Autophase(); ok {
			h.printf("autophase %g", deg)
		} else {
			h.printf("autophase none")
		}
	case "INVERT":
		h.eng.SetInvertChannels(strings.EqualFold(arg(), "on") || arg() == "1")
	case "VUMETER":
		d, err := time.ParseDuration(arg())
		if err != nil {
			fail(err)
			break
		}
		fail(h.eng.SetVumeterTime(d))
	case "PERIOD":
		d, err := time.ParseDuration(arg())
		if err != nil {
			fail(err)
			break
		}
		fail(h.eng.SetOutputPeriod(d))
	case "INTEGRATION":
		d, err := time.ParseDuration(arg())
		if err != nil {
			fail(err)
			break
		}
		fail(h.eng.SetIntegrationTime(d))
	case "STATE":
		h.printf("state %s backlog %d", h.eng.State(), h.eng.FifoLen())
	case "QUIT":
		return false
	default:
		h.printf("! unknown command %q", cmd)
	}
	return true
}
