package audio

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"lockin/pcm"

	"github.com/go-audio/wav"
)

const fakeChunkFrames = 1024

// Source is a stereo recording held in memory, signal on the left and
// reference on the right.
type Source struct {
	Rate        int
	Left, Right []float64
}

func (s Source) Frames() int { return min(len(s.Left), len(s.Right)) }

func (s Source) Duration() time.Duration {
	if s.Rate <= 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.Rate)
}

// LoadWAV reads a two-channel PCM WAV file.
func LoadWAV(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Source{}, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Source{}, fmt.Errorf("%s: %w", path, err)
	}
	if d.NumChans != 2 {
		return Source{}, fmt.Errorf("%s: need 2 channels (signal, reference), got %d", path, d.NumChans)
	}

	mid := math.Ldexp(1, int(d.BitDepth)-1)
	norm := func(v int) float64 { return float64(v) / mid }
	if d.BitDepth == 8 {
		// 8-bit WAV is unsigned
		norm = func(v int) float64 { return float64(v)/mid - 1 }
	}
	n := len(buf.Data) / 2
	src := Source{Rate: int(d.SampleRate), Left: make([]float64, n), Right: make([]float64, n)}
	for i := 0; i < n; i++ {
		src.Left[i] = norm(buf.Data[2*i])
		src.Right[i] = norm(buf.Data[2*i+1])
	}
	return src, nil
}

// Chopper describes a synthetic lock-in experiment: a sine on the signal
// channel at the frequency of a square-wave reference.
type Chopper struct {
	Rate         int
	Frequency    float64 // Hz
	Amplitude    float64
	PhaseDegrees float64 // of the signal relative to the reference
	Noise        float64 // standard deviation of added gaussian noise
	Duration     time.Duration
	Seed         uint64
}

func DefaultChopper() Chopper {
	return Chopper{
		Rate:      48000,
		Frequency: 137,
		Amplitude: 0.1,
		Noise:     0.2,
		Duration:  10 * time.Second,
		Seed:      1,
	}
}

// Synthesize renders the chopper experiment. The reference is ±0.5 and
// rises at the start of every period.
func (c Chopper) Synthesize() Source {
	n := int(math.Round(float64(c.Rate) * c.Duration.Seconds()))
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15))
	phi := c.PhaseDegrees * math.Pi / 180
	src := Source{Rate: c.Rate, Left: make([]float64, n), Right: make([]float64, n)}
	for i := 0; i < n; i++ {
		cycle := c.Frequency * float64(i) / float64(c.Rate)
		src.Left[i] = c.Amplitude * math.Sin(2*math.Pi*cycle+phi)
		if c.Noise > 0 {
			src.Left[i] += c.Noise * rng.NormFloat64()
		}
		if cycle-math.Floor(cycle) < 0.5 {
			src.Right[i] = 0.5
		} else {
			src.Right[i] = -0.5
		}
	}
	return src
}

// FakeContext replays a Source as if it were a capture device. In realtime
// mode frames arrive at the source rate; otherwise the whole source is
// delivered from Start.
type FakeContext struct {
	src      Source
	realtime bool
	loop     bool
}

func NewFakeContext(src Source, realtime bool) *FakeContext {
	return &FakeContext{src: src, realtime: realtime}
}

func NewFakeContextFromWAV(path string, realtime bool) (*FakeContext, error) {
	src, err := LoadWAV(path)
	if err != nil {
		return nil, err
	}
	return NewFakeContext(src, realtime), nil
}

// Loop makes realtime replay start over at the end of the source.
func (f *FakeContext) Loop(v bool) { f.loop = v }

func (f *FakeContext) Source() Source { return f.src }

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Supports(format pcm.Format) bool {
	return format.Validate() == nil && format.SampleRate == f.src.Rate
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if err := config.Format.Validate(); err != nil {
		return nil, err
	}
	if config.Format.SampleRate != f.src.Rate {
		return nil, &pcm.FormatError{
			Format: config.Format,
			Reason: fmt.Sprintf("source is recorded at %d Hz", f.src.Rate),
		}
	}
	data := pcm.Encode(config.Format, f.src.Left, f.src.Right, nil)
	return &FakeCapture{
		pcm:       data,
		frameSize: config.Format.FrameSize(),
		rate:      f.src.Rate,
		realtime:  f.realtime,
		loop:      f.loop,
		audioDone: make(chan struct{}),
	}, nil
}

type FakeCapture struct {
	pcm       []byte
	frameSize int
	rate      int
	realtime  bool
	loop      bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole source has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	cb(f.pcm[pos:end], uint32((end-pos)/f.frameSize))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	chunkBytes := fakeChunkFrames * f.frameSize

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeChunkFrames) * time.Second / time.Duration(f.rate)
	go func() {
		defer close(f.feedDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pos := 0
		for {
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
			}
			cb := f.callback()
			if cb == nil {
				continue
			}
			pos = f.feedChunk(cb, pos, chunkBytes)
			if pos < len(f.pcm) {
				continue
			}
			if f.loop {
				pos = 0
				continue
			}
			close(f.audioDone)
			<-f.stopCh
			return
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() { f.Stop() }
