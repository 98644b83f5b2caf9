package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes verbatim stereo frames of BlockSize samples. The last
// frame may be shorter.
type FlacEncoder struct {
	w           io.Writer
	enc         *flac.Encoder
	rate        uint32
	left, right []int32
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
	mu          sync.Mutex
}

func NewFlac(w io.Writer, rate int) (*FlacEncoder, error) {
	e := &FlacEncoder{
		w:     w,
		rate:  uint32(rate),
		left:  make([]int32, 0, BlockSize),
		right: make([]int32, 0, BlockSize),
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(rate),
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) WriteFrames(left, right []float64) error {
	if len(left) != len(right) {
		return fmt.Errorf("flac: %d left samples vs %d right", len(left), len(right))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("flac: write after close")
	}
	start := time.Now()
	defer func() { e.encodeTime += time.Since(start) }()

	for i := range left {
		e.left = append(e.left, quantize(left[i]))
		e.right = append(e.right, quantize(right[i]))
		if len(e.left) == BlockSize {
			if err := e.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *FlacEncoder) flush() error {
	n := len(e.left)
	if n == 0 {
		return nil
	}
	subframe := func(samples []int32) *frame.Subframe {
		return &frame.Subframe{
			SubHeader: frame.SubHeader{
				Pred: frame.PredVerbatim,
			},
			Samples:  samples,
			NSamples: n,
		}
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(n),
			SampleRate:    e.rate,
			Channels:      frame.ChannelsLR,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe(e.left), subframe(e.right)},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(n)
	e.left = e.left[:0]
	e.right = e.right[:0]
	return nil
}

// Close writes the pending partial block and finishes the stream. The
// underlying writer is closed if it is an io.Closer.
func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	flushErr := e.flush()
	err := e.enc.Close()
	if c, ok := e.w.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	return errors.Join(flushErr, err)
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
