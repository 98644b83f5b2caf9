// Package audio opens stereo capture devices: PulseAudio on Linux, miniaudio
// elsewhere, and file or synthesized sources for tests and demos.
package audio

import (
	"strings"

	"lockin/pcm"
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the name whether a device is a Bluetooth
// headset. Those capture mono at best, so there is no reference channel.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives interleaved frames. data is only valid during the
// call.
type DataCallback = func(data []byte, frameCount uint32)

type CaptureConfig struct {
	Format pcm.Format
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	// Supports reports whether the backend can deliver f natively.
	Supports(f pcm.Format) bool
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// preferred lists sample types best first: largest sample size wins.
var preferred = []string{"s32le", "f32le", "s16le", "u8"}

// PreferredFormat picks the first sample type ctx supports at rate.
func PreferredFormat(ctx Context, rate int) (pcm.Format, bool) {
	for _, name := range preferred {
		f, err := pcm.ParseFormat(name, rate)
		if err != nil {
			continue
		}
		if ctx.Supports(f) {
			return f, true
		}
	}
	return pcm.Format{}, false
}

// FindDevice matches name against device IDs first, then as a
// case-insensitive substring of device names.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].ID == name {
			return &devices[i], nil
		}
	}
	lower := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), lower) {
			return &devices[i], nil
		}
	}
	return nil, &DeviceNotFoundError{Name: name, Available: devices}
}

type DeviceNotFoundError struct {
	Name      string
	Available []DeviceInfo
}

func (e *DeviceNotFoundError) Error() string {
	names := make([]string, len(e.Available))
	for i, d := range e.Available {
		names[i] = d.Name
	}
	if len(names) == 0 {
		return "device " + e.Name + " not found: no capture devices"
	}
	return "device " + e.Name + " not found; available: " + strings.Join(names, ", ")
}
