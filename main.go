package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"lockin/audio"
	"lockin/config"
	"lockin/doctor"
	"lockin/encoder"
	"lockin/engine"
	"lockin/log"
	"lockin/observe"
	"lockin/pcm"
	"lockin/shutdown"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	os.Exit(run())
}

type options struct {
	device      string
	setup       bool
	rate        int
	format      string
	period      time.Duration
	integration time.Duration
	phase       float64
	vumeter     time.Duration
	invert      bool
	threshold   string
	waveform    string
	output      string
	record      string
	metrics     string
	logPath     string
	logLevel    string
	configPath  string
	noSave      bool
	print       bool
	headless    bool
	test        bool
	realtime    bool
	doctor      bool
	version     bool
	profile     string
	crash       bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, map[string]bool, error) {
	d := config.Default()
	o := &options{}
	fs.StringVar(&o.device, "device", "", "Capture device, by id or name substring")
	fs.BoolVar(&o.setup, "setup", false, "Select the capture device interactively")
	fs.IntVar(&o.rate, "rate", d.Format.SampleRate, "Sample rate in Hz")
	fs.StringVar(&o.format, "format", "", "Sample format: u8, s16le, s16be, s32le, s32be, f32le, f32be (default: best the device offers)")
	fs.DurationVar(&o.period, "period", d.OutputPeriod, "Output period (one value per period)")
	fs.DurationVar(&o.integration, "integration", d.IntegrationTime, "Integration time")
	fs.Float64Var(&o.phase, "phase", d.Phase, "Phase offset in degrees")
	fs.DurationVar(&o.vumeter, "vumeter", d.VumeterTime, "Diagnostic window length, 0 disables it")
	fs.BoolVar(&o.invert, "invert", d.InvertChannels, "Signal on the right channel, reference on the left")
	fs.StringVar(&o.threshold, "threshold", d.Threshold, "Reference threshold: auto, zero, average")
	fs.StringVar(&o.waveform, "waveform", d.Waveform, "Demodulation waveform: sine, square")
	fs.StringVar(&o.output, "output", d.Output, "Output: xy or magnitude")
	fs.StringVar(&o.record, "record", "", "Record the decoded stream to a .flac or .wav file")
	fs.StringVar(&o.metrics, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.logLevel, "loglevel", "", "Diagnostics log level: trace, debug, info, warn, error")
	fs.StringVar(&o.configPath, "config", "", "Settings file (default: user config dir)")
	fs.BoolVar(&o.noSave, "nosave", false, "Do not write settings back on exit")
	fs.BoolVar(&o.print, "print", false, "Print one \"time x y\" line per value to stdout")
	fs.BoolVar(&o.headless, "headless", false, "Run without the terminal UI")
	fs.BoolVar(&o.test, "test", false, "Test mode (headless, stdin-driven, replays a WAV file or a synthetic chopper)")
	fs.BoolVar(&o.realtime, "realtime", false, "In test mode, replay at the source rate")
	fs.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	fs.StringVar(&o.profile, "profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	fs.BoolVar(&o.crash, "crash", false, "Trigger synthetic panic for testing crash logging")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return o, set, nil
}

// applyFlags overlays the explicitly set flags on the loaded settings.
func applyFlags(s *config.Settings, o *options, set map[string]bool) {
	if set["device"] {
		s.Device = o.device
	}
	if set["rate"] {
		s.Format.SampleRate = o.rate
	}
	if set["format"] {
		s.Format.Encoding = o.format
	}
	if set["period"] {
		s.OutputPeriod = o.period
	}
	if set["integration"] {
		s.IntegrationTime = o.integration
	}
	if set["phase"] {
		s.Phase = o.phase
	}
	if set["vumeter"] {
		s.VumeterTime = o.vumeter
	}
	if set["invert"] {
		s.InvertChannels = o.invert
	}
	if set["threshold"] {
		s.Threshold = o.threshold
	}
	if set["waveform"] {
		s.Waveform = o.waveform
	}
	if set["output"] {
		s.Output = o.output
	}
	if set["metrics"] {
		s.Metrics = o.metrics
	}
	if set["loglevel"] {
		s.Log = o.logLevel
	}
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}
}

func run() int {
	o, set, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return 2
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(o.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if o.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", o.profile)
			if err := http.ListenAndServe(o.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if o.crash {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if o.version {
		fmt.Printf("lockin %s\n", version)
		return 0
	}

	if o.doctor {
		return doctor.Run(o.device)
	}

	// Test mode ignores the user's settings file unless one is named.
	settingsPath := o.configPath
	if settingsPath == "" && !o.test {
		if settingsPath, err = config.DefaultPath(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: no settings location: %v\n", err)
		}
	}
	settings := config.Default()
	if settingsPath != "" {
		if settings, err = config.Load(settingsPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	applyFlags(&settings, o, set)
	cfg, err := settings.Engine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if settings.Log != "" {
		lvl, _ := zerolog.ParseLevel(settings.Log)
		log.SetLevel(lvl)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, shutdownMetrics, err := observe.InitProvider(ctx, version)
	if err != nil {
		log.Warnf("metrics disabled: %v", err)
	} else {
		defer shutdownMetrics(context.Background())
	}

	if o.test {
		return runTestMode(ctx, flag.Args(), settings, cfg, o, metrics)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()

	dev, err := resolveDevice(actx, settings.Device, o.setup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if dev != nil {
		settings.Device = dev.Name
		if audio.IsBluetooth(dev.Name) {
			log.Warn("bluetooth device selected: " + dev.Name)
			fmt.Fprintf(os.Stderr, "Warning: %s looks like a Bluetooth headset; these capture mono and carry no reference\n", dev.Name)
		}
	}

	format, err := captureFormat(actx, settings)
	if err != nil {
		log.Errorf("format: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	capture, err := actx.NewCapture(dev, audio.CaptureConfig{Format: format})
	if err != nil {
		log.Errorf("capture device init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing capture device: %v\n", err)
		return 1
	}
	defer capture.Close()

	sess := &session{
		settings: settings,
		cfg:      cfg,
		format:   format,
		device:   capture.DeviceName(),
		record:   o.record,
		print:    o.print,
		metrics:  metrics,
	}
	if err := sess.run(ctx, capture, !o.headless); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if settingsPath != "" && !o.noSave {
		sess.settings.FromEngine(sess.final)
		if err := config.Save(settingsPath, sess.settings); err != nil {
			log.Warnf("saving settings: %v", err)
		}
	}
	return 0
}

func resolveDevice(ctx audio.Context, name string, interactive bool) (*audio.DeviceInfo, error) {
	if interactive {
		dev, err := audio.SelectDevice(ctx, name)
		if err == nil || errors.Is(err, audio.ErrSelectionCancelled) {
			return dev, err
		}
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
	}
	if name == "" {
		return nil, nil
	}
	dev, err := audio.FindDevice(ctx, name)
	if err != nil {
		var nf *audio.DeviceNotFoundError
		if errors.As(err, &nf) {
			log.Warnf("%v, using the default device", err)
			return nil, nil
		}
		return nil, err
	}
	return dev, nil
}

// captureFormat returns the pinned format, or the best one the backend
// offers at the configured rate.
func captureFormat(ctx audio.Context, s config.Settings) (pcm.Format, error) {
	f, pinned, err := s.CaptureFormat()
	if err != nil {
		return pcm.Format{}, err
	}
	if pinned {
		if !ctx.Supports(f) {
			return pcm.Format{}, &pcm.FormatError{Format: f, Reason: "not supported by the audio backend"}
		}
		return f, nil
	}
	f, ok := audio.PreferredFormat(ctx, s.Format.SampleRate)
	if !ok {
		return pcm.Format{}, fmt.Errorf("no stereo PCM format available at %d Hz", s.Format.SampleRate)
	}
	return f, nil
}

// session is one acquisition run: engine, sinks, optional recording and
// the UI, supervised together.
type session struct {
	settings config.Settings
	cfg      engine.Config
	format   pcm.Format
	device   string
	record   string
	print    bool
	metrics  *observe.Metrics

	final engine.Config
	stats *statsSink
}

func (s *session) run(ctx context.Context, capture engine.Capture, withTUI bool) error {
	s.stats = &statsSink{}
	sinks := engine.MultiSink{s.stats, valuesLogSink{}}
	if s.print {
		sinks = append(sinks, newPrintSink(os.Stdout))
	}

	var ui *tuiSink
	if withTUI {
		ui = newTUISink()
		sinks = append(sinks, ui)
	}
	sinks = append(sinks, newLockSink(s.cfg.OutputPeriod, func(ev LockEvent) {
		if ui != nil {
			ui.send(LockMsg{Event: ev})
		}
	}))

	opts := []engine.Option{
		engine.WithLogger(log.Logger()),
		engine.WithMetrics(s.metrics),
	}
	var rec encoder.Encoder
	if s.record != "" {
		var err error
		rec, err = encoder.Create(s.record, s.format.SampleRate)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithRecorder(rec))
	}

	eng, err := engine.New(s.cfg, sinks, opts...)
	if err != nil {
		return err
	}
	if err := eng.Start(capture, s.format); err != nil {
		if rec != nil {
			rec.Close()
		}
		return err
	}
	start := time.Now()
	log.SessionStart(s.device, s.format.String(), s.cfg.OutputPeriod, s.cfg.IntegrationTime)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if sig := shutdown.Wait(ctx); sig != nil {
			log.Info(fmt.Sprintf("%s received, stopping acquisition", sig))
			cancel()
		}
		return nil
	})

	if addr := s.settings.Metrics; addr != "" {
		g.Go(func() error {
			if err := observe.Serve(ctx, addr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if ui != nil {
		g.Go(func() error {
			defer cancel()
			return runTUI(ctx, eng, ui, tuiHeader{
				device: s.device,
				format: s.format.String(),
				record: s.record,
			})
		})
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			eng.Stop()
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		stop()
		return nil
	})

	err = g.Wait()
	stop()
	s.final = eng.Config()

	stats := s.stats.snapshot()
	stats.Duration = time.Since(start)
	if rec != nil {
		if cerr := rec.Close(); cerr != nil {
			log.Errorf("closing recording: %v", cerr)
			err = errors.Join(err, cerr)
		} else {
			stats.Recorded = s.record
			log.Info(fmt.Sprintf("recorded %d frames to %s (encode %s)", rec.TotalFrames(), s.record, rec.EncodeTime().Round(time.Millisecond)))
		}
	}
	log.SessionEnd(stats)
	return err
}
