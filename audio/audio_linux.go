//go:build linux

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"lockin/pcm"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("lockin"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) Supports(f pcm.Format) bool {
	_, ok := pulseFormat(f)
	return ok
}

// pulseFormat maps f to a PulseAudio sample format. The server converts
// from whatever the hardware delivers.
func pulseFormat(f pcm.Format) (byte, bool) {
	if f.Validate() != nil {
		return 0, false
	}
	be := f.ByteOrder == pcm.BigEndian
	pick := func(le, bigEndian byte) (byte, bool) {
		if be {
			return bigEndian, true
		}
		return le, true
	}
	switch {
	case f.Encoding == pcm.Unsigned && f.SampleSize == 8:
		return proto.FormatUint8, true
	case f.Encoding == pcm.Signed && f.SampleSize == 16:
		return pick(proto.FormatInt16LE, proto.FormatInt16BE)
	case f.Encoding == pcm.Signed && f.SampleSize == 32:
		return pick(proto.FormatInt32LE, proto.FormatInt32BE)
	case f.Encoding == pcm.Float:
		return pick(proto.FormatFloat32LE, proto.FormatFloat32BE)
	}
	return 0, false
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	format, ok := pulseFormat(config.Format)
	if !ok {
		return nil, &pcm.FormatError{Format: config.Format, Reason: "not available from PulseAudio"}
	}
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
		format: format,
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	format   byte
	callback atomic.Pointer[DataCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frameSize := c.config.Format.FrameSize()
	writer := pulse.NewWriter(writerFunc(func(buf []byte) (int, error) {
		if cb := c.callback.Load(); cb != nil && len(buf) > 0 {
			(*cb)(buf, uint32(len(buf)/frameSize))
		}
		return len(buf), nil
	}), c.format)

	opts := []pulse.RecordOption{
		pulse.RecordStereo,
		pulse.RecordSampleRate(c.config.Format.SampleRate),
		pulse.RecordLatency(0.05),
		// unity stream gain on both channels
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	}
	if c.device != nil {
		source, err := c.client.SourceByID(c.device.ID)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		<-c.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}
