package doctor

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"lockin/audio"
	"lockin/engine"
	"lockin/log"
	"lockin/pcm"
	"lockin/reference"
	"lockin/shutdown"

	"golang.org/x/term"
)

const captureFor = 2 * time.Second

var rates = []int{48000, 44100, 96000}

// Run executes diagnostic checks and returns an exit code (0=all pass,
// 1=any fail). device selects the input like -device does; empty means the
// backend default.
func Run(device string) int {
	restoreTerminal()
	shutdown.OnSignal(func(os.Signal) {
		fmt.Println("\nInterrupted")
		os.Exit(1)
	})

	fmt.Println("lockin doctor - system diagnostics")
	fmt.Println("==================================")

	allPass := true

	if !checkLogDir() {
		allPass = false
	}
	if !checkPipeline() {
		allPass = false
	}
	ctx, dev, ok := checkBackend(device)
	if !ok {
		allPass = false
	} else {
		defer ctx.Close()
		format, ok := checkFormats(ctx)
		if !ok {
			allPass = false
		} else if !checkReference(ctx, dev, format) {
			allPass = false
		}
	}

	fmt.Println()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("Terminal: interactive (TUI available)")
	} else {
		fmt.Println("Terminal: not a TTY (use -headless -print)")
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See details above.")
	}

	if allPass {
		return 0
	}
	return 1
}

func checkLogDir() bool {
	fmt.Println()
	fmt.Println("[1/5] Log directory")
	dir := log.Dir()
	if err := log.EnsureDir(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		fmt.Printf("  FAIL: %s is not writable: %v\n", dir, err)
		return false
	}
	f.Close()
	os.Remove(f.Name())
	fmt.Printf("  PASS: %s\n", dir)
	return true
}

// checkPipeline runs a synthetic chopper through the engine; it needs no
// hardware.
func checkPipeline() bool {
	fmt.Println()
	fmt.Println("[2/5] Demodulation pipeline (synthetic chopper)")

	ch := audio.Chopper{Rate: 48000, Frequency: 137, Amplitude: 0.1, Duration: 4 * time.Second}
	res, err := RunSynthetic(ch, "s16le")
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	want := ch.Amplitude / 2
	fmt.Printf("  x = %.5f  y = %.5f  (expected x = %.5f, y = 0)\n", res.X, res.Y, want)
	if math.Abs(res.X-want) > 0.05*want || math.Abs(res.Y) > 0.05*want {
		fmt.Println("  FAIL: demodulated value out of tolerance")
		return false
	}
	fmt.Println("  PASS: pipeline locks onto the synthetic reference")
	return true
}

type collect struct {
	mu   sync.Mutex
	last engine.Measurement
	n    int
}

func (c *collect) Value(m engine.Measurement) {
	c.mu.Lock()
	c.last = m
	c.n++
	c.mu.Unlock()
}
func (c *collect) Diagnostic()               {}
func (c *collect) Info(engine.Event, string) {}

// RunSynthetic feeds the chopper through a fake device in the named format
// and returns the last measurement after the integration window filled.
func RunSynthetic(ch audio.Chopper, format string) (engine.Measurement, error) {
	src := ch.Synthesize()
	f, err := pcm.ParseFormat(format, ch.Rate)
	if err != nil {
		return engine.Measurement{}, err
	}
	fake := audio.NewFakeContext(src, false)
	capture, err := fake.NewCapture(nil, audio.CaptureConfig{Format: f})
	if err != nil {
		return engine.Measurement{}, err
	}
	defer capture.Close()

	cfg := engine.DefaultConfig()
	cfg.OutputPeriod = time.Second
	cfg.IntegrationTime = time.Second
	var sink collect
	eng, err := engine.New(cfg, &sink, engine.WithManualTick())
	if err != nil {
		return engine.Measurement{}, err
	}
	if err := eng.Start(capture, f); err != nil {
		return engine.Measurement{}, err
	}
	defer eng.Stop()

	ticks := int(src.Duration() / cfg.OutputPeriod)
	for range ticks {
		eng.Tick()
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.n == 0 {
		return engine.Measurement{}, fmt.Errorf("no value after %d ticks", ticks)
	}
	return sink.last, nil
}

func checkBackend(name string) (audio.Context, *audio.DeviceInfo, bool) {
	fmt.Println()
	fmt.Println("[3/5] Audio backend")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return nil, nil, false
	}
	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		ctx.Close()
		return nil, nil, false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		ctx.Close()
		return nil, nil, false
	}
	for _, d := range devices {
		tag := ""
		if audio.IsBluetooth(d.Name) {
			tag = "  [Bluetooth: mono, no reference]"
		}
		fmt.Printf("  - %s%s\n", d.Name, tag)
	}

	var dev *audio.DeviceInfo
	if name != "" {
		dev, err = audio.FindDevice(ctx, name)
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			ctx.Close()
			return nil, nil, false
		}
		fmt.Printf("  PASS: using %s\n", dev.Name)
	} else {
		fmt.Println("  PASS: using the default device")
	}
	return ctx, dev, true
}

func checkFormats(ctx audio.Context) (pcm.Format, bool) {
	fmt.Println()
	fmt.Println("[4/5] Stereo capture formats")

	var best pcm.Format
	found := false
	for _, rate := range rates {
		var names []string
		for _, n := range []string{"u8", "s16le", "s16be", "s32le", "s32be", "f32le", "f32be"} {
			f, err := pcm.ParseFormat(n, rate)
			if err == nil && ctx.Supports(f) {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			fmt.Printf("  %6d Hz: none\n", rate)
			continue
		}
		fmt.Printf("  %6d Hz: %s\n", rate, strings.Join(names, ", "))
		if !found {
			best, found = audio.PreferredFormat(ctx, rate)
		}
	}
	if !found {
		fmt.Println("  FAIL: no stereo PCM format available")
		return pcm.Format{}, false
	}
	fmt.Printf("  PASS: preferred %s\n", best)
	return best, true
}

// checkReference captures briefly and looks for rising edges on the
// reference channel.
func checkReference(ctx audio.Context, dev *audio.DeviceInfo, f pcm.Format) bool {
	fmt.Println()
	fmt.Printf("[5/5] Live capture (%s)\n", captureFor)

	raw, err := captureRaw(ctx, dev, f, captureFor)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	if len(raw) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}
	dec, err := pcm.NewDecoder(f)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	sig, ref := dec.Decode(raw, nil, nil)
	fmt.Printf("  captured %d frames\n", len(sig))
	fmt.Printf("  signal    rms %.4f\n", rms(sig))
	fmt.Printf("  reference rms %.4f\n", rms(ref))

	r := reference.Reconstructor{Strategy: reference.StrategyFor(f.Encoding)}
	e := r.Edges(ref, nil)
	if len(e) < 2 {
		fmt.Println("  FAIL: no periodic reference on the right channel (try -invert or check the wiring)")
		return false
	}
	period := float64(e[len(e)-1]-e[0]) / float64(len(e)-1)
	fmt.Printf("  PASS: reference at %.2f Hz (%d edges)\n", float64(f.SampleRate)/period, len(e))
	return true
}

func captureRaw(ctx audio.Context, dev *audio.DeviceInfo, f pcm.Format, d time.Duration) ([]byte, error) {
	var buf []byte
	var mu sync.Mutex

	capture, err := ctx.NewCapture(dev, audio.CaptureConfig{Format: f})
	if err != nil {
		return nil, err
	}
	defer capture.Close()

	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		buf = append(buf, data...)
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		return nil, err
	}

	fmt.Print("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	deadline := time.After(d)
loop:
	for {
		select {
		case <-ticker.C:
			fmt.Print(".")
		case <-deadline:
			break loop
		}
	}
	ticker.Stop()
	capture.Stop()
	capture.ClearCallback()
	fmt.Println(" done")

	mu.Lock()
	defer mu.Unlock()
	return buf, nil
}

func rms(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(v)))
}
