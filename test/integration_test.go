//go:build integration

package test_test

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("LOCKIN_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "LOCKIN_TEST_BIN not set; run: go build -o /tmp/lockin . && LOCKIN_TEST_BIN=/tmp/lockin go test -tags integration ./test")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// writeChopperWAV writes a 16-bit stereo file: a sine of amplitude amp on
// the left, a ±0.5 square reference on the right.
func writeChopperWAV(t *testing.T, path string, rate, freq int, amp float64, seconds int) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	n := rate * seconds
	data := make([]int, 0, 2*n)
	for i := 0; i < n; i++ {
		cycle := float64(freq*i) / float64(rate)
		sig := amp * math.Sin(2*math.Pi*cycle)
		ref := 0.5
		if cycle-math.Floor(cycle) >= 0.5 {
			ref = -0.5
		}
		data = append(data, int(math.Round(sig*32767)), int(math.Round(ref*32767)))
	}
	enc := wav.NewEncoder(out, rate, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

type result struct {
	logDir string
	values [][]float64
	info   []string
	errs   []string
	other  []string
}

func runLockin(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	logDir := t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()

	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("lockin exited with error: %v\noutput: %s", err, out)
	}

	r := result{logDir: logDir}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "# "):
			r.info = append(r.info, line[2:])
		case strings.HasPrefix(line, "! "):
			r.errs = append(r.errs, line[2:])
		default:
			var vals []float64
			for _, f := range strings.Fields(line) {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					vals = nil
					break
				}
				vals = append(vals, v)
			}
			if vals == nil {
				r.other = append(r.other, line)
			} else {
				r.values = append(r.values, vals)
			}
		}
	}
	return r
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestVersion(t *testing.T) {
	out, err := exec.Command(testBinary, "-version").Output()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(out), "lockin ") {
		t.Errorf("version output %q", out)
	}
}

func TestChopperLocks(t *testing.T) {
	r := runLockin(t, cmds("START", "TICK 3", "QUIT"),
		"-test", "-period", "1s", "-integration", "1s")
	if len(r.errs) > 0 {
		t.Fatalf("errors: %v", r.errs)
	}
	if len(r.values) != 1 {
		t.Fatalf("values = %v, want exactly one", r.values)
	}
	v := r.values[0]
	if len(v) != 3 {
		t.Fatalf("value line %v, want time x y", v)
	}
	// default chopper: amplitude 0.1 in phase with the reference
	if v[0] != 0.5 || !near(v[1], 0.05, 0.005) || !near(v[2], 0, 0.005) {
		t.Errorf("value = %v, want 0.5 ~0.05 ~0", v)
	}
	// the two following ticks find an empty buffer
	if n := strings.Count(strings.Join(r.info, "\n"), "no data"); n != 2 {
		t.Errorf("no-data notices = %d, want 2: %v", n, r.info)
	}

	if got := readLog(t, r.logDir, "values_log.txt"); !strings.Contains(got, "0.5 ") {
		t.Errorf("values_log.txt = %q", got)
	}
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics log missing %s", want)
		}
	}
}

func TestMagnitudeAndSquareWaveform(t *testing.T) {
	r := runLockin(t, cmds("START", "TICK", "QUIT"),
		"-test", "-period", "1s", "-integration", "1s", "-output", "magnitude", "-waveform", "square")
	if len(r.values) != 1 || len(r.values[0]) != 2 {
		t.Fatalf("values = %v, want one time/magnitude pair", r.values)
	}
	if want := 2 * 0.1 / math.Pi; !near(r.values[0][1], want, 0.005) {
		t.Errorf("magnitude = %g, want ~%g", r.values[0][1], want)
	}
}

func TestWAVReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chopper.wav")
	writeChopperWAV(t, path, 8000, 50, 0.2, 3)

	r := runLockin(t, cmds("START", "TICK", "AUTOPHASE", "PHASE 90", "STOP", "START", "TICK", "QUIT"),
		"-test", "-period", "1s", "-integration", "1s", path)
	if len(r.errs) > 0 {
		t.Fatalf("errors: %v", r.errs)
	}
	if len(r.values) != 2 {
		t.Fatalf("values = %v, want two", r.values)
	}
	if v := r.values[0]; !near(v[1], 0.1, 0.002) || !near(v[2], 0, 0.002) {
		t.Errorf("first value = %v", v)
	}
	// a 90° offset moves the signal from x to y (sign depends on direction)
	if v := r.values[1]; !near(v[1], 0, 0.002) || !near(math.Abs(v[2]), 0.1, 0.002) {
		t.Errorf("value after PHASE 90 = %v", v)
	}
	if len(r.other) != 1 || !strings.HasPrefix(r.other[0], "autophase ") {
		t.Errorf("autophase reply = %v", r.other)
	}
}

func TestInvertLosesReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chopper.wav")
	writeChopperWAV(t, path, 8000, 50, 0.2, 3)
	// the sine on the reference side still has rising zero crossings, so
	// the engine locks onto the signal channel and measures the square
	r := runLockin(t, cmds("INVERT on", "START", "TICK", "QUIT"),
		"-test", "-period", "1s", "-integration", "1s", path)
	if len(r.values) != 1 {
		t.Fatalf("values = %v", r.values)
	}
	// fundamental of a ±0.5 square is 2/π, half of it lands on the lock-in
	if v := r.values[0]; math.Hypot(v[1], v[2]) < 0.2 {
		t.Errorf("inverted value = %v", v)
	}
}

func TestRecordThenReplay(t *testing.T) {
	dir := t.TempDir()
	rec := filepath.Join(dir, "run.wav")
	first := runLockin(t, cmds("START", "TICK", "QUIT"),
		"-test", "-period", "1s", "-integration", "1s", "-record", rec)
	if len(first.values) != 1 {
		t.Fatalf("values = %v", first.values)
	}
	if _, err := os.Stat(rec); err != nil {
		t.Fatalf("recording missing: %v", err)
	}

	second := runLockin(t, cmds("START", "TICK", "QUIT"),
		"-test", "-period", "1s", "-integration", "1s", rec)
	if len(second.values) != 1 {
		t.Fatalf("replay values = %v", second.values)
	}
	a, b := first.values[0], second.values[0]
	if !near(a[1], b[1], 1e-3) || !near(a[2], b[2], 1e-3) {
		t.Errorf("replay %v differs from live %v", b, a)
	}
}

func TestCommandErrors(t *testing.T) {
	r := runLockin(t, cmds("STOP", "BOGUS", "START", "START", "PERIOD 2s", "QUIT"), "-test")
	want := []string{"stop: lockin not running", "unknown command", "start: lockin already running", "period: setting cannot change while running"}
	if len(r.errs) != len(want) {
		t.Fatalf("errors = %v", r.errs)
	}
	for i, w := range want {
		if !strings.Contains(r.errs[i], w) {
			t.Errorf("error %d = %q, want %q", i, r.errs[i], w)
		}
	}
}
