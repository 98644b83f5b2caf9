package pcm

import (
	"encoding/binary"
	"math"
)

// Decoder turns interleaved frames into normalized left/right samples.
//
// Signed and float samples land in [-1, 1], unsigned ones in [-1, 1) via
// raw/mid - 1 where mid = 2^(size-1). With invert set, the channels are
// swapped after decoding so that left is always the signal.
type Decoder struct {
	format Format
	order  binary.ByteOrder
	bps    int
	norm   func([]byte) float64
	invert bool
}

// NewDecoder fails with a *FormatError when f cannot be decoded.
func NewDecoder(f Format) (*Decoder, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	d := &Decoder{format: f, bps: f.BytesPerSample()}
	if f.ByteOrder == BigEndian {
		d.order = binary.BigEndian
	} else {
		d.order = binary.LittleEndian
	}
	d.norm = sampleFunc(f, d.order)
	return d, nil
}

func (d *Decoder) Format() Format { return d.format }

func (d *Decoder) SetInvert(v bool) { d.invert = v }

func (d *Decoder) Invert() bool { return d.invert }

// Decode appends one left and one right sample per whole frame in raw.
// Pass left[:0] and right[:0] to reuse buffers between calls. A trailing
// partial frame is ignored.
func (d *Decoder) Decode(raw []byte, left, right []float64) ([]float64, []float64) {
	frame := 2 * d.bps
	n := len(raw) / frame
	for i := 0; i < n; i++ {
		p := raw[i*frame:]
		l := d.norm(p[:d.bps])
		r := d.norm(p[d.bps:frame])
		if d.invert {
			l, r = r, l
		}
		left = append(left, l)
		right = append(right, r)
	}
	return left, right
}

// Normalize decodes a single sample of format f.
func Normalize(f Format, sample []byte) float64 {
	order := binary.ByteOrder(binary.LittleEndian)
	if f.ByteOrder == BigEndian {
		order = binary.BigEndian
	}
	return sampleFunc(f, order)(sample)
}

func sampleFunc(f Format, order binary.ByteOrder) func([]byte) float64 {
	mid := math.Ldexp(1, f.SampleSize-1)
	switch f.Encoding {
	case Float:
		return func(b []byte) float64 {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
	case Unsigned:
		switch f.SampleSize {
		case 8:
			return func(b []byte) float64 { return float64(b[0])/mid - 1 }
		case 16:
			return func(b []byte) float64 { return float64(order.Uint16(b))/mid - 1 }
		default:
			return func(b []byte) float64 { return float64(order.Uint32(b))/mid - 1 }
		}
	default:
		switch f.SampleSize {
		case 8:
			return func(b []byte) float64 { return float64(int8(b[0])) / mid }
		case 16:
			return func(b []byte) float64 { return float64(int16(order.Uint16(b))) / mid }
		default:
			return func(b []byte) float64 { return float64(int32(order.Uint32(b))) / mid }
		}
	}
}
