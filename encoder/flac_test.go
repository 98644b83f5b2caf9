package encoder

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/mewkiz/flac"
)

func genBlock(n int) (left, right []float64) {
	left = make([]float64, n)
	right = make([]float64, n)
	for i := range left {
		left[i] = 0.3 * math.Sin(2*math.Pi*float64(i)/37)
		if i%40 < 20 {
			right[i] = 0.5
		} else {
			right[i] = -0.5
		}
	}
	return left, right
}

func TestFlacEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewFlac(&buf, 8000)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	left, right := genBlock(5000)
	// uneven writes straddle the block boundary
	for _, cut := range [][2]int{{0, 1000}, {1000, 4500}, {4500, 5000}} {
		if err := enc.WriteFrames(left[cut[0]:cut[1]], right[cut[0]:cut[1]]); err != nil {
			t.Fatalf("WriteFrames %v: %v", cut, err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != 5000 {
		t.Errorf("TotalFrames = %d, want 5000", enc.TotalFrames())
	}

	data := buf.Bytes()
	if len(data) < 4 || string(data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}

	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if stream.Info.NChannels != 2 || stream.Info.SampleRate != 8000 {
		t.Errorf("stream info = %+v", stream.Info)
	}
	var got [2][]int32
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ParseNext: %v", err)
		}
		for ch := range got {
			got[ch] = append(got[ch], f.Subframes[ch].Samples...)
		}
	}
	if len(got[0]) != 5000 || len(got[1]) != 5000 {
		t.Fatalf("decoded %d/%d samples, want 5000", len(got[0]), len(got[1]))
	}
	for i := range left {
		if got[0][i] != quantize(left[i]) || got[1][i] != quantize(right[i]) {
			t.Fatalf("sample %d = (%d, %d), want (%d, %d)", i, got[0][i], got[1][i], quantize(left[i]), quantize(right[i]))
		}
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewFlac(&buf, 48000)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if buf.Len() == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
	if err := enc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := enc.WriteFrames([]float64{0}, []float64{0}); err == nil {
		t.Error("write after close accepted")
	}
}

func TestFlacEncoderMismatchedChannels(t *testing.T) {
	enc, err := NewFlac(io.Discard, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteFrames(make([]float64, 3), make([]float64, 2)); err == nil {
		t.Error("mismatched channel lengths accepted")
	}
}

func TestQuantize(t *testing.T) {
	cases := map[float64]int32{0: 0, 0.5: 16384, -1: -32768, 1: 32767, 2: 32767, -3: -32768, math.NaN(): 0}
	for in, want := range cases {
		if got := quantize(in); got != want {
			t.Errorf("quantize(%v) = %d, want %d", in, got, want)
		}
	}
}
