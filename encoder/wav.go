package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavEncoder writes 16-bit stereo PCM. The header is completed on Close,
// which needs a seekable writer.
type WavEncoder struct {
	w           io.WriteSeeker
	enc         *wav.Encoder
	buf         *audio.IntBuffer
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
	mu          sync.Mutex
}

func NewWav(w io.WriteSeeker, rate int) (*WavEncoder, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("wav: sample rate %d", rate)
	}
	return &WavEncoder{
		w:   w,
		enc: wav.NewEncoder(w, rate, BitsPerSample, Channels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: Channels, SampleRate: rate},
			SourceBitDepth: BitsPerSample,
		},
	}, nil
}

func (e *WavEncoder) WriteFrames(left, right []float64) error {
	if len(left) != len(right) {
		return fmt.Errorf("wav: %d left samples vs %d right", len(left), len(right))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("wav: write after close")
	}
	start := time.Now()
	defer func() { e.encodeTime += time.Since(start) }()

	data := e.buf.Data[:0]
	for i := range left {
		data = append(data, int(quantize(left[i])), int(quantize(right[i])))
	}
	e.buf.Data = data
	if err := e.enc.Write(e.buf); err != nil {
		return fmt.Errorf("writing wav frames: %w", err)
	}
	e.totalFrames += uint64(len(left))
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.enc.Close()
	if c, ok := e.w.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (e *WavEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *WavEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
