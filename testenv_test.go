package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"lockin/audio"
	"lockin/config"
	"lockin/engine"
	"lockin/pcm"
)

func newHarness(t *testing.T) (*harness, *bytes.Buffer) {
	t.Helper()
	ch := audio.Chopper{Rate: 8000, Frequency: 50, Amplitude: 0.2, Duration: 3 * time.Second}
	fake := audio.NewFakeContext(ch.Synthesize(), false)
	f, err := pcm.ParseFormat("s16le", ch.Rate)
	if err != nil {
		t.Fatal(err)
	}
	capture, err := fake.NewCapture(nil, audio.CaptureConfig{Format: f})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(capture.Close)

	var buf bytes.Buffer
	out := newPrintSink(&buf)
	out.verbose = true
	cfg := engine.DefaultConfig()
	cfg.OutputPeriod = time.Second
	cfg.IntegrationTime = time.Second
	eng, err := engine.New(cfg, out, engine.WithManualTick())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Stop() })
	return &harness{eng: eng, capture: capture.(*audio.FakeCapture), format: f, out: out}, &buf
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

func TestHarnessStartTick(t *testing.T) {
	h, buf := newHarness(t)
	h.serve(context.Background(), strings.NewReader("start\nTICK\nSTATE\nQUIT\nTICK\n"))

	got := lines(buf)
	if len(got) != 3 {
		t.Fatalf("output = %q", got)
	}
	if !strings.HasPrefix(got[0], "# started: ") {
		t.Errorf("start notice = %q", got[0])
	}
	fields := strings.Fields(got[1])
	if len(fields) != 3 || fields[0] != "0.5" {
		t.Fatalf("value line = %q", got[1])
	}
	x, _ := strconv.ParseFloat(fields[1], 64)
	if x < 0.098 || x > 0.102 {
		t.Errorf("x = %g, want ~0.1", x)
	}
	if !strings.HasPrefix(got[2], "state running") {
		t.Errorf("state line = %q", got[2])
	}
}

func TestHarnessStopsAtQuit(t *testing.T) {
	h, buf := newHarness(t)
	h.serve(context.Background(), strings.NewReader("QUIT\nSTART\n"))
	if buf.Len() != 0 {
		t.Errorf("output after QUIT: %q", buf.String())
	}
	if h.eng.State() != engine.Stopped {
		t.Error("commands after QUIT were executed")
	}
}

func TestHarnessErrors(t *testing.T) {
	h, buf := newHarness(t)
	for _, line := range []string{"STOP", "WAIT_AUDIO_DONE", "TICK zero", "PHASE east", "FROB", "START", "INTEGRATION 2s"} {
		f := strings.Fields(line)
		if !h.exec(f[0], f[1:]) {
			t.Fatalf("%s ended the session", line)
		}
	}
	want := []string{
		"! stop: lockin not running",
		"! wait_audio_done: lockin not running",
		`! tick: bad count "zero"`,
		"! phase: ",
		`! unknown command "FROB"`,
		"# started: ",
		"! integration: setting cannot change while running",
	}
	got := lines(buf)
	if len(got) != len(want) {
		t.Fatalf("output = %q", got)
	}
	for i, w := range want {
		if !strings.HasPrefix(got[i], w) {
			t.Errorf("line %d = %q, want prefix %q", i, got[i], w)
		}
	}
}

func TestHarnessWaitAudioDone(t *testing.T) {
	h, buf := newHarness(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.serve(context.Background(), strings.NewReader("START\nWAIT_AUDIO_DONE\nTICK\nQUIT\n"))
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WAIT_AUDIO_DONE did not return after the source was delivered")
	}
	if got := lines(buf); len(got) != 2 || strings.HasPrefix(got[1], "!") {
		t.Errorf("output = %q", got)
	}
}

func TestHarnessAutophaseAndInvert(t *testing.T) {
	h, buf := newHarness(t)
	h.exec("AUTOPHASE", nil)
	h.exec("INVERT", []string{"on"})
	if !h.eng.InvertChannels() {
		t.Error("INVERT on did not invert")
	}
	h.exec("INVERT", []string{"off"})
	if h.eng.InvertChannels() {
		t.Error("INVERT off left channels inverted")
	}
	if got := lines(buf); len(got) != 1 || got[0] != "autophase none" {
		t.Errorf("output = %q", got)
	}
}

func TestReplayFormat(t *testing.T) {
	fake := audio.NewFakeContext(audio.Chopper{Rate: 8000, Frequency: 50, Amplitude: 0.1, Duration: time.Second}.Synthesize(), false)
	s := config.Default()
	s.Format.SampleRate = 48000

	f, err := replayFormat(fake, s)
	if err != nil || f.Name() != "s32le" || f.SampleRate != 8000 {
		t.Errorf("preferred = %v, %v", f, err)
	}

	s.Format.Encoding = "s16be"
	f, err = replayFormat(fake, s)
	if err != nil || f.Name() != "s16be" || f.SampleRate != 8000 {
		t.Errorf("pinned = %v, %v", f, err)
	}

	empty := audio.NewFakeContext(audio.Source{}, false)
	s.Format.Encoding = ""
	if f, err := replayFormat(empty, s); err == nil {
		t.Errorf("source without a rate: format %v, want an error", f)
	}
}
