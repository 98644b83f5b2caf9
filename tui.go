package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"lockin/engine"
	"lockin/vumeter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI message types
type ValueMsg struct{ M engine.Measurement }
type DiagnosticMsg struct{}
type InfoMsg struct {
	Event engine.Event
	Text  string
}
type LockMsg struct{ Event LockEvent }
type tickMsg time.Time

// controller is the part of the engine the TUI drives.
type controller interface {
	Phase() float64
	SetPhase(deg float64) error
	Autophase() (float64, bool)
	InvertChannels() bool
	SetInvertChannels(v bool)
	Vumeter() *vumeter.Window
	FifoLen() int
	Config() engine.Config
}

type tuiHeader struct {
	device string
	format string
	record string
}

type tuiStatus int

const (
	tuiStatusWaiting tuiStatus = iota
	tuiStatusLocked
	tuiStatusLowSignal
	tuiStatusNoData
)

type tuiModel struct {
	ctl           controller
	hdr           tuiHeader
	frame         int
	width, height int
	started       time.Time
	now           time.Time

	status     tuiStatus
	statusText string
	last       engine.Measurement
	hasValue   bool
	count      int
	backlog    int
	lockLost   bool
	scope      []string // rendered vumeter strip
	flash      string   // last key action
}

const (
	scopeWidth = 44
	tuiRefresh = 200 * time.Millisecond
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	lockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	signalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	refStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	phaseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	sparkLevels  = []rune("▁▂▃▄▅▆▇█")
	phaseGlyphs  = []rune("→↗↑↖←↙↓↘")
	undefinedRow = '·'
)

func newTUIModel(ctl controller, hdr tuiHeader) tuiModel {
	now := time.Now()
	return tuiModel{ctl: ctl, hdr: hdr, started: now, now: now}
}

// runTUI blocks until the user quits or ctx is done. Engine output queued
// on ui is forwarded to the program.
func runTUI(ctx context.Context, ctl controller, ui *tuiSink, hdr tuiHeader) error {
	p := tea.NewProgram(newTUIModel(ctl, hdr), tea.WithAltScreen())
	go func() {
		for {
			select {
			case <-ctx.Done():
				p.Quit()
				return
			case msg := <-ui.ch:
				p.Send(msg)
			}
		}
	}()
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func tuiTick() tea.Cmd {
	return tea.Tick(tuiRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		m.frame++
		m.now = time.Time(msg)
		m.backlog = m.ctl.FifoLen()
		return m, tuiTick()

	case ValueMsg:
		m.last = msg.M
		m.hasValue = true
		m.count++
		m.status = tuiStatusLocked
		m.statusText = ""

	case DiagnosticMsg:
		// Drawing happens under the window's lock; the engine skips its
		// update rather than wait for us.
		m.ctl.Vumeter().Hold(func(samples []vumeter.Sample) {
			m.scope = renderScope(samples, scopeWidth)
		})

	case InfoMsg:
		switch msg.Event {
		case engine.EventInsufficient:
			m.status = tuiStatusWaiting
		case engine.EventLowSignal:
			m.status = tuiStatusLowSignal
		case engine.EventNoData:
			m.status = tuiStatusNoData
		}
		m.statusText = msg.Text

	case LockMsg:
		switch msg.Event {
		case LockLost, LockRepeat:
			m.lockLost = true
		case LockRegained:
			m.lockLost = false
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(key string) (tea.Model, tea.Cmd) {
	nudge := func(delta float64) {
		if err := m.ctl.SetPhase(m.ctl.Phase() + delta); err == nil {
			m.flash = fmt.Sprintf("phase %+.1f° → %.1f°", delta, m.ctl.Phase())
		}
	}
	switch key {
	case "ctrl+c", "q", "esc":
		return m, tea.Quit
	case "a":
		deg, ok := m.ctl.Autophase()
		if !ok {
			m.flash = "autophase: no value yet"
			break
		}
		if err := m.ctl.SetPhase(deg); err == nil {
			m.flash = fmt.Sprintf("autophase → %.1f°", m.ctl.Phase())
		}
	case "0":
		if err := m.ctl.SetPhase(0); err == nil {
			m.flash = "phase reset to 0°"
		}
	case "right", "l":
		nudge(1)
	case "left", "h":
		nudge(-1)
	case "shift+right", "]":
		nudge(10)
	case "shift+left", "[":
		nudge(-10)
	case "i":
		m.ctl.SetInvertChannels(!m.ctl.InvertChannels())
		if m.ctl.InvertChannels() {
			m.flash = "channels inverted: signal right, reference left"
		} else {
			m.flash = "channels normal: signal left, reference right"
		}
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	switch m.status {
	case tuiStatusLocked:
		return lockedStyle.Render(fmt.Sprintf("● LOCKED  #%d", m.count))
	case tuiStatusLowSignal:
		return warnStyle.Render("⚠ LOW SIGNAL (no reference edges)")
	case tuiStatusNoData:
		return warnStyle.Render("○ NO DATA")
	}
	return dimStyle.Render("○ INTEGRATING")
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var left []string
	left = append(left, titleStyle.Render("Input (signal / reference / phase)"), "")
	if len(m.scope) == 0 {
		left = append(left, dimStyle.Render("no diagnostic data"))
	} else {
		left = append(left, m.scope...)
	}
	left = append(left, "")
	cfg := m.ctl.Config()
	left = append(left, dimStyle.Render(fmt.Sprintf("period %s  integration %s", cfg.OutputPeriod, cfg.IntegrationTime)))
	left = append(left, dimStyle.Render(fmt.Sprintf("waveform %s  threshold %s  vumeter %s", cfg.Waveform, cfg.Threshold, cfg.VumeterTime)))
	if m.hdr.device != "" {
		left = append(left, dimStyle.Render("in: "+m.hdr.device+" ("+m.hdr.format+")"))
	}
	if m.hdr.record != "" {
		left = append(left, warnStyle.Render("● rec "+m.hdr.record))
	}

	var right []string
	right = append(right, m.statusLine())
	if m.lockLost {
		right = append(right, warnStyle.Render(fmt.Sprintf("⚠ reference lost for %s, check the reference input", lockWarnAfter)))
	}
	right = append(right, "")
	if m.hasValue {
		v := m.last
		right = append(right,
			titleStyle.Render("x ")+valueStyle.Render(fmt.Sprintf("% .6e", v.X)),
			titleStyle.Render("y ")+valueStyle.Render(fmt.Sprintf("% .6e", v.Y)),
			titleStyle.Render("R ")+valueStyle.Render(fmt.Sprintf("% .6e", v.Magnitude())),
			titleStyle.Render("θ ")+valueStyle.Render(fmt.Sprintf("% 7.2f°", v.Phase())),
		)
	} else {
		right = append(right, dimStyle.Render("No values yet"))
	}
	right = append(right, "")

	wall := m.now.Sub(m.started).Seconds()
	acq := "-"
	if m.hasValue {
		acq = fmt.Sprintf("%.2fs", m.last.Time)
	}
	right = append(right,
		dimStyle.Render(fmt.Sprintf("t %s  wall %.1fs", acq, wall)),
		dimStyle.Render(fmt.Sprintf("backlog %d bytes", m.backlog)),
		dimStyle.Render(fmt.Sprintf("phase offset %.1f°  invert %v", m.ctl.Phase(), m.ctl.InvertChannels())),
	)

	wrapWidth := max(m.width-scopeWidth-4, 10)
	if m.statusText != "" {
		for _, line := range wrapText(m.statusText, wrapWidth) {
			right = append(right, warnStyle.Render(line))
		}
	}
	if m.flash != "" {
		for _, line := range wrapText(m.flash, wrapWidth) {
			right = append(right, titleStyle.Render(line))
		}
	}

	right = append(right, "",
		boldHelp.Render("a")+helpStyle.Render(" autophase  ")+
			boldHelp.Render("←/→")+helpStyle.Render(" ±1°  ")+
			boldHelp.Render("[/]")+helpStyle.Render(" ±10°"),
		boldHelp.Render("0")+helpStyle.Render(" zero phase  ")+
			boldHelp.Render("i")+helpStyle.Render(" invert  ")+
			boldHelp.Render("q")+helpStyle.Render(" quit"),
		helpStyle.Render("lockin "+version),
	)

	leftPanel := lipgloss.NewStyle().
		Width(scopeWidth).
		Height(m.height).
		Render(strings.Join(left, "\n"))
	rightPanel := lipgloss.NewStyle().
		Width(max(m.width-scopeWidth-1, 20)).
		Height(m.height).
		PaddingLeft(1).
		Render(strings.Join(right, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

// renderScope decimates the window to width columns: one sparkline per
// channel, scaled to the channel's peak, and a row of phase arrows.
func renderScope(samples []vumeter.Sample, width int) []string {
	if len(samples) == 0 || width <= 0 {
		return nil
	}
	cols := min(width, len(samples))
	var sigPeak, refPeak float64
	for _, s := range samples {
		sigPeak = math.Max(sigPeak, math.Abs(s.Signal))
		refPeak = math.Max(refPeak, math.Abs(s.Reference))
	}

	var sig, ref, ph strings.Builder
	for c := 0; c < cols; c++ {
		s := samples[c*len(samples)/cols]
		sig.WriteRune(spark(s.Signal, sigPeak))
		ref.WriteRune(spark(s.Reference, refPeak))
		if !s.Phase.Valid {
			ph.WriteRune(undefinedRow)
			continue
		}
		octant := int(math.Round(s.Phase.Angle/(math.Pi/4))) % len(phaseGlyphs)
		if octant < 0 {
			octant += len(phaseGlyphs)
		}
		ph.WriteRune(phaseGlyphs[octant])
	}
	return []string{
		signalStyle.Render(sig.String()),
		refStyle.Render(ref.String()),
		phaseStyle.Render(ph.String()),
	}
}

func spark(v, peak float64) rune {
	if peak == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return sparkLevels[len(sparkLevels)/2]
	}
	idx := int(math.Round((v/peak + 1) / 2 * float64(len(sparkLevels)-1)))
	return sparkLevels[max(0, min(idx, len(sparkLevels)-1))]
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
