package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/term"
)

// ErrSelectionCancelled is returned by SelectDevice on Ctrl+C or Esc.
var ErrSelectionCancelled = errors.New("device selection cancelled")

// picker is the state of the interactive device list. Bluetooth
// headsets are listed last; they cannot carry a reference channel.
type picker struct {
	devices []DeviceInfo
	cursor  int
}

func newPicker(devices []DeviceInfo, current string) *picker {
	sorted := slices.Clone(devices)
	slices.SortStableFunc(sorted, func(a, b DeviceInfo) int {
		ba, bb := IsBluetooth(a.Name), IsBluetooth(b.Name)
		switch {
		case ba == bb:
			return 0
		case bb:
			return -1
		default:
			return 1
		}
	})
	p := &picker{devices: sorted}
	if current != "" {
		lower := strings.ToLower(current)
		for i, d := range sorted {
			if d.ID == current || strings.Contains(strings.ToLower(d.Name), lower) {
				p.cursor = i
				break
			}
		}
	}
	return p
}

// key applies one read from the raw terminal. done reports that the
// device under the cursor was chosen.
func (p *picker) key(b []byte) (done bool, err error) {
	switch {
	case len(b) == 1 && (b[0] == '\r' || b[0] == '\n'):
		return true, nil
	case len(b) == 1 && (b[0] == 3 || b[0] == 0x1b || b[0] == 'q'):
		return false, ErrSelectionCancelled
	case len(b) == 1 && b[0] == 'j', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'B':
		p.cursor = min(p.cursor+1, len(p.devices)-1)
	case len(b) == 1 && b[0] == 'k', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'A':
		p.cursor = max(p.cursor-1, 0)
	}
	return false, nil
}

func (p *picker) selected() *DeviceInfo { return &p.devices[p.cursor] }

// lines is how many terminal rows render writes.
func (p *picker) lines() int { return len(p.devices) + 2 }

func (p *picker) render(w io.Writer) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select stereo input, left = signal, right = reference (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[⚠ Bluetooth: mono, no reference]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, tag)
		}
	}
}

// SelectDevice lets the operator pick the capture device on the terminal.
// The cursor starts on current (an ID or name fragment, as for -device).
// A single device is returned without prompting.
func SelectDevice(ctx Context, current string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, errors.New("no capture devices found")
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := newPicker(devices, current)
	p.render(os.Stdout)
	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		done, err := p.key(buf[:n])
		if done || err != nil {
			fmt.Print("\r\n")
			if err != nil {
				return nil, err
			}
			return p.selected(), nil
		}
		fmt.Printf("\x1b[%dA", p.lines())
		p.render(os.Stdout)
	}
}
