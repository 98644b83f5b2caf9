// Package pcm describes interleaved stereo PCM formats and decodes raw
// capture bytes into normalized left/right samples.
package pcm

import (
	"fmt"
	"strconv"
	"strings"
)

const Codec = "audio/pcm"

type Encoding int

const (
	Signed Encoding = iota
	Unsigned
	Float
)

func (e Encoding) String() string {
	switch e {
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	case Float:
		return "float"
	}
	return "encoding(" + strconv.Itoa(int(e)) + ")"
}

type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "be"
	}
	return "le"
}

// Format is fixed for the lifetime of a capture session.
type Format struct {
	SampleRate int
	SampleSize int // bits per sample, per channel
	Encoding   Encoding
	ByteOrder  ByteOrder
	Channels   int
	Codec      string
}

// Stereo returns a two-channel PCM format.
func Stereo(rate, size int, enc Encoding, order ByteOrder) Format {
	return Format{
		SampleRate: rate,
		SampleSize: size,
		Encoding:   enc,
		ByteOrder:  order,
		Channels:   2,
		Codec:      Codec,
	}
}

func (f Format) BytesPerSample() int { return f.SampleSize / 8 }

// FrameSize is the size in bytes of one interleaved left+right frame.
func (f Format) FrameSize() int { return f.Channels * f.BytesPerSample() }

// Name is the short sample-type name, e.g. s16le, u8, f32be.
func (f Format) Name() string {
	var b strings.Builder
	switch f.Encoding {
	case Signed:
		b.WriteByte('s')
	case Unsigned:
		b.WriteByte('u')
	case Float:
		b.WriteByte('f')
	default:
		b.WriteByte('?')
	}
	b.WriteString(strconv.Itoa(f.SampleSize))
	if f.SampleSize > 8 {
		b.WriteString(f.ByteOrder.String())
	}
	return b.String()
}

func (f Format) String() string {
	return fmt.Sprintf("%s@%dHz/%dch", f.Name(), f.SampleRate, f.Channels)
}

// Validate reports why f cannot be decoded, as a *FormatError.
func (f Format) Validate() error {
	switch {
	case f.Codec != Codec:
		return &FormatError{Format: f, Reason: fmt.Sprintf("codec %q is not %s", f.Codec, Codec)}
	case f.Channels != 2:
		return &FormatError{Format: f, Reason: fmt.Sprintf("need 2 channels, got %d", f.Channels)}
	case f.SampleRate <= 0:
		return &FormatError{Format: f, Reason: "sample rate must be positive"}
	case f.SampleSize != 8 && f.SampleSize != 16 && f.SampleSize != 32:
		return &FormatError{Format: f, Reason: fmt.Sprintf("sample size %d not in {8, 16, 32}", f.SampleSize)}
	case f.Encoding == Float && f.SampleSize != 32:
		return &FormatError{Format: f, Reason: "float samples must be 32 bits"}
	case f.Encoding < Signed || f.Encoding > Float:
		return &FormatError{Format: f, Reason: "unknown sample encoding"}
	}
	return nil
}

// ParseFormat builds a stereo format from a sample-type name such as
// "s16le", "u8", "s32be" or "f32le". A missing byte order means little
// endian.
func ParseFormat(name string, rate int) (Format, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return Format{}, fmt.Errorf("empty sample format")
	}
	var enc Encoding
	switch s[0] {
	case 's':
		enc = Signed
	case 'u':
		enc = Unsigned
	case 'f':
		enc = Float
	default:
		return Format{}, fmt.Errorf("unknown sample format %q", name)
	}
	s = s[1:]
	order := LittleEndian
	switch {
	case strings.HasSuffix(s, "le"):
		s = strings.TrimSuffix(s, "le")
	case strings.HasSuffix(s, "be"):
		s = strings.TrimSuffix(s, "be")
		order = BigEndian
	}
	size, err := strconv.Atoi(s)
	if err != nil {
		return Format{}, fmt.Errorf("unknown sample format %q", name)
	}
	f := Stereo(rate, size, enc, order)
	if err := f.Validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

// FormatError means a format cannot be captured or decoded.
type FormatError struct {
	Format Format
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported format %s: %s", e.Format, e.Reason)
}
