package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog    zerolog.Logger
	diagFile   *os.File
	valuesFile *os.File
	logMu      sync.Mutex
	logReady   bool
	pid        int
	dir        string
	level      = zerolog.InfoLevel
)

// SessionStats summarizes one acquisition run.
type SessionStats struct {
	Duration     time.Duration
	Values       int
	Insufficient int
	LowSignal    int
	NoData       int
	Recorded     string // path of the recording, if any
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: LOCKIN_LOG_PATH environment variable
	if envPath := os.Getenv("LOCKIN_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return defaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel applies to the diagnostics log from the next Init.
func SetLevel(l zerolog.Level) {
	logMu.Lock()
	level = l
	logMu.Unlock()
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	valuesPath := filepath.Join(dir, "values_log.txt")
	valuesFile, err = os.OpenFile(valuesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if valuesFile != nil {
		valuesFile.Close()
		valuesFile = nil
	}
	logReady = false
}

// Logger returns the diagnostics logger, or a no-op logger before Init.
func Logger() zerolog.Logger {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady {
		return zerolog.Nop()
	}
	return diagLog
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// Value appends one measurement line to values_log.txt.
func Value(line string) {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady || valuesFile == nil {
		return
	}
	fmt.Fprintf(valuesFile, "%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05.000"), pid, line)
}

func SessionStart(device, format string, period, integration time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("device", device).
		Str("format", format).
		Dur("period", period).
		Dur("integration", integration).
		Msg("session_start")
}

func SessionEnd(s SessionStats) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Float64("duration_s", s.Duration.Seconds()).
		Int("values", s.Values).
		Int("insufficient", s.Insufficient).
		Int("low_signal", s.LowSignal).
		Int("no_data", s.NoData)
	if s.Recorded != "" {
		ev = ev.Str("recorded", s.Recorded)
	}
	ev.Msg("session_end")
}
