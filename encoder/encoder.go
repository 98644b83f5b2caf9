// Package encoder records the decoded stereo stream (signal left,
// reference right) as 16-bit FLAC or WAV for later replay.
package encoder

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	Channels      = 2
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	// WriteFrames appends one block; left and right must have equal length.
	WriteFrames(left, right []float64) error
	Close() error
	TotalFrames() uint64
	EncodeTime() time.Duration
}

// Create opens path for recording at rate, choosing the container from the
// file extension (.flac or .wav).
func Create(path string, rate int) (Encoder, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".flac" && ext != ".wav" {
		return nil, fmt.Errorf("recording %q: unknown extension, use .flac or .wav", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	var enc Encoder
	if ext == ".flac" {
		enc, err = NewFlac(f, rate)
	} else {
		enc, err = NewWav(f, rate)
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return enc, nil
}

// quantize maps [-1, 1) onto 16-bit signed samples, clipping outside.
func quantize(v float64) int32 {
	const mid = 1 << (BitsPerSample - 1)
	if math.IsNaN(v) {
		return 0
	}
	q := math.Round(v * mid)
	return int32(max(-mid, min(mid-1, q)))
}
