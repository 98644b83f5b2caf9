package pcm

import (
	"encoding/binary"
	"math"
)

// Encode appends left/right as interleaved frames of format f, the inverse
// of Decode up to quantization. Values outside [-1, 1) are clipped for the
// integer encodings. f must be valid.
func Encode(f Format, left, right []float64, dst []byte) []byte {
	order := binary.AppendByteOrder(binary.LittleEndian)
	if f.ByteOrder == BigEndian {
		order = binary.BigEndian
	}
	put := putFunc(f, order)
	n := min(len(left), len(right))
	for i := 0; i < n; i++ {
		dst = put(dst, left[i])
		dst = put(dst, right[i])
	}
	return dst
}

func putFunc(f Format, order binary.AppendByteOrder) func([]byte, float64) []byte {
	mid := math.Ldexp(1, f.SampleSize-1)
	quant := func(v float64) int64 {
		q := math.Round(v * mid)
		return int64(max(-mid, min(mid-1, q)))
	}
	if f.Encoding == Float {
		return func(b []byte, v float64) []byte {
			return order.AppendUint32(b, math.Float32bits(float32(v)))
		}
	}
	bias := int64(0)
	if f.Encoding == Unsigned {
		bias = int64(mid)
	}
	switch f.SampleSize {
	case 8:
		return func(b []byte, v float64) []byte { return append(b, byte(quant(v)+bias)) }
	case 16:
		return func(b []byte, v float64) []byte { return order.AppendUint16(b, uint16(quant(v)+bias)) }
	default:
		return func(b []byte, v float64) []byte { return order.AppendUint32(b, uint32(quant(v)+bias)) }
	}
}
