package audio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

var pickerDevices = []DeviceInfo{
	{ID: "bt", Name: "AirPods Pro"},
	{ID: "usb", Name: "Scarlett 2i2 USB"},
	{ID: "pci", Name: "Built-in Audio Analog Stereo"},
}

func TestPickerListsBluetoothLast(t *testing.T) {
	p := newPicker(pickerDevices, "")
	if p.devices[0].ID != "usb" || p.devices[1].ID != "pci" || p.devices[2].ID != "bt" {
		t.Errorf("order = %v", p.devices)
	}
	if p.cursor != 0 {
		t.Errorf("cursor = %d", p.cursor)
	}
}

func TestPickerStartsOnCurrent(t *testing.T) {
	if p := newPicker(pickerDevices, "built-in"); p.selected().ID != "pci" {
		t.Errorf("by name: %+v", p.selected())
	}
	if p := newPicker(pickerDevices, "bt"); p.selected().ID != "bt" {
		t.Errorf("by id: %+v", p.selected())
	}
}

func TestPickerKeys(t *testing.T) {
	p := newPicker(pickerDevices, "")
	steps := []struct {
		in     string
		cursor int
	}{
		{"\x1b[B", 1},
		{"j", 2},
		{"j", 2},
		{"\x1b[A", 1},
		{"k", 0},
		{"k", 0},
		{"x", 0},
	}
	for _, s := range steps {
		done, err := p.key([]byte(s.in))
		if done || err != nil {
			t.Fatalf("key %q: done=%v err=%v", s.in, done, err)
		}
		if p.cursor != s.cursor {
			t.Errorf("after %q cursor = %d, want %d", s.in, p.cursor, s.cursor)
		}
	}
	p.key([]byte("j"))
	if done, err := p.key([]byte("\r")); !done || err != nil {
		t.Fatalf("enter: done=%v err=%v", done, err)
	}
	if p.selected().ID != "pci" {
		t.Errorf("selected %+v", p.selected())
	}
}

func TestPickerCancel(t *testing.T) {
	for _, in := range []string{"\x03", "\x1b", "q"} {
		p := newPicker(pickerDevices, "")
		if _, err := p.key([]byte(in)); !errors.Is(err, ErrSelectionCancelled) {
			t.Errorf("key %q: err = %v", in, err)
		}
	}
}

func TestPickerRender(t *testing.T) {
	p := newPicker(pickerDevices, "")
	var buf bytes.Buffer
	p.render(&buf)
	out := buf.String()
	if got := strings.Count(out, "\r\n"); got != p.lines() {
		t.Errorf("render wrote %d lines, lines() = %d", got, p.lines())
	}
	if !strings.Contains(out, "▶ Scarlett 2i2 USB") {
		t.Errorf("cursor not on first device:\n%s", out)
	}
	if !strings.Contains(out, "AirPods Pro \x1b[33m[⚠ Bluetooth") {
		t.Errorf("bluetooth tag missing:\n%s", out)
	}
}

func TestSelectDeviceSingle(t *testing.T) {
	ctx := &listContext{devices: pickerDevices[1:2]}
	d, err := SelectDevice(ctx, "")
	if err != nil || d.ID != "usb" {
		t.Errorf("SelectDevice = %+v, %v", d, err)
	}
}
