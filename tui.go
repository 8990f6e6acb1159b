package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scribe/audio"
	"scribe/config"
	"scribe/log"
	"scribe/recorder"
	"scribe/transport"
)

// controller is the part of recorder.Controller the TUI drives.
type controller interface {
	Start(callID, customerID string) error
	Stop()
	SetForwarding(on bool)
	Forwarding() bool
	Stats() transport.Stats
}

type tickMsg time.Time
type startResultMsg struct{ err error }

const (
	sidebarWidth = 44
	meterWidth   = 30
	tickEvery    = 100 * time.Millisecond
)

type tuiModel struct {
	ctrl      controller
	ids       idSource
	serverURL string
	autoStart bool

	recording   bool
	starting    bool
	recStart    time.Time
	duration    time.Duration
	audioLevel  float64
	peakLevel   float64
	conn        transport.State
	dropped     int
	paused      bool
	noVoice     bool
	callID      string
	device      string
	transcripts []recorder.TranscriptChunk
	lastStats   *transport.Stats
	errText     string

	width, height int
}

// Pre-computed meter styles to avoid allocations in the render loop
var (
	meterColors = []string{"28", "34", "40", "76", "112", "148", "184", "220", "214", "208", "202", "196"}
	meterStyles []lipgloss.Style
	meterEmpty  = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))

	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	standbyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))

	connStyles = map[transport.State]lipgloss.Style{
		transport.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		transport.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		transport.Disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func init() {
	for _, c := range meterColors {
		meterStyles = append(meterStyles, lipgloss.NewStyle().Foreground(lipgloss.Color(c)))
	}
}

func newTUIModel(ctrl controller, ids idSource, cfg *config.Config) tuiModel {
	return tuiModel{
		ctrl:      ctrl,
		ids:       ids,
		serverURL: cfg.ServerURL,
		device:    cfg.Device,
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func startCmd(ctrl controller, ids idSource) tea.Cmd {
	return func() tea.Msg {
		callID, customerID := ids.next()
		return startResultMsg{err: ctrl.Start(callID, customerID)}
	}
}

func stopCmd(ctrl controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Stop()
		return nil
	}
}

func (m tuiModel) Init() tea.Cmd {
	if m.autoStart {
		return tea.Batch(tuiTick(), startCmd(m.ctrl, m.ids))
	}
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ":
			if m.recording {
				return m, stopCmd(m.ctrl)
			}
			if !m.starting {
				m.starting = true
				m.errText = ""
				return m, startCmd(m.ctrl, m.ids)
			}
		case "p":
			if m.recording {
				m.ctrl.SetForwarding(!m.ctrl.Forwarding())
				m.paused = !m.ctrl.Forwarding()
				log.Infof("forwarding paused=%v", m.paused)
			}
		}

	case tickMsg:
		if m.recording {
			m.duration = time.Since(m.recStart)
			m.dropped = m.ctrl.Stats().DroppedFrames
		}
		return m, tuiTick()

	case startResultMsg:
		m.starting = false
		if msg.err != nil {
			log.Errorf("start error: %v", msg.err)
			m.errText = audio.UserMessage(msg.err)
		}

	case RecordingStartMsg:
		m.recording = true
		m.recStart = time.Now()
		m.duration = 0
		m.audioLevel = 0
		m.peakLevel = 0
		m.dropped = 0
		m.noVoice = false
		m.paused = !m.ctrl.Forwarding()
		m.callID = msg.CallID
		if msg.Device != "" {
			m.device = msg.Device
		}
		m.transcripts = nil
		m.lastStats = nil

	case RecordingStopMsg:
		m.recording = false
		m.audioLevel = 0
		m.noVoice = false
		m.conn = transport.Disconnected
		st := msg.Stats
		m.lastStats = &st
		m.dropped = st.DroppedFrames

	case AudioLevelMsg:
		if m.recording {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
			if msg.Level > m.peakLevel {
				m.peakLevel = msg.Level
			}
		}

	case ConnectionMsg:
		m.conn = msg.State
		m.dropped = msg.Dropped

	case TranscriptMsg:
		m.transcripts = append(m.transcripts, msg.Chunk)

	case NoVoiceMsg:
		m.noVoice = msg.On && m.recording
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var info []string

	switch {
	case m.recording && m.paused:
		info = append(info, pausedStyle.Render(fmt.Sprintf("❚❚ PAUSED %.1fs", m.duration.Seconds())))
	case m.recording:
		info = append(info, recStyle.Render(fmt.Sprintf("● REC %.1fs", m.duration.Seconds())))
	case m.starting:
		info = append(info, standbyStyle.Render("○ starting..."))
	default:
		info = append(info, standbyStyle.Render("○ STANDBY"))
	}
	info = append(info, renderMeter(m.audioLevel, m.recording))
	if m.noVoice {
		info = append(info, warnStyle.Render("⚠ no voice detected"))
	}
	info = append(info, "")

	info = append(info, renderConnection(m.conn, m.dropped, m.recording))
	info = append(info, dimStyle.Render(truncate(m.serverURL, sidebarWidth-2)))
	device := m.device
	if device == "" {
		device = "system default"
	}
	info = append(info, dimStyle.Render(truncate("mic: "+device, sidebarWidth-2)))
	if m.callID != "" {
		info = append(info, dimStyle.Render(truncate("call: "+m.callID, sidebarWidth-2)))
	}
	if st := m.lastStats; st != nil && !m.recording {
		info = append(info, dimStyle.Render(fmt.Sprintf("last: %d sent, %d dropped", st.SentFrames, st.DroppedFrames)))
	}
	if m.errText != "" {
		info = append(info, "")
		for _, line := range wrapText(m.errText, sidebarWidth-2) {
			info = append(info, errStyle.Render(line))
		}
	}

	info = append(info, "")
	info = append(info, helpKeyStyle.Render("space")+helpStyle.Render(" start/stop  ")+
		helpKeyStyle.Render("p")+helpStyle.Render(" pause  ")+
		helpKeyStyle.Render("q")+helpStyle.Render(" quit"))
	info = append(info, helpStyle.Render("scribe "+version))

	sidebar := lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(strings.Join(info, "\n"))

	logWidth := max(m.width-sidebarWidth-1, 20)
	panel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(m.renderTranscripts(logWidth-2, m.height))

	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, panel)
}

// renderTranscripts shows the newest chunks that fit in height lines,
// oldest first.
func (m tuiModel) renderTranscripts(width, height int) string {
	if len(m.transcripts) == 0 {
		return dimStyle.Render("No transcript yet")
	}
	width = max(width, 10)

	title := titleStyle.Render(fmt.Sprintf("Transcript (%d chunks)", len(m.transcripts)))
	avail := height - 2
	var blocks [][]string
	for i := len(m.transcripts) - 1; i >= 0 && avail > 0; i-- {
		c := m.transcripts[i]
		ts := time.UnixMilli(c.Timestamp).Format("15:04:05")
		lines := wrapText(c.Text, width-9)
		block := make([]string, len(lines))
		for j, line := range lines {
			prefix := "         "
			if j == 0 {
				prefix = dimStyle.Render(ts) + " "
			}
			block[j] = prefix + textStyle.Render(line)
		}
		if len(block) > avail {
			block = block[len(block)-avail:]
		}
		avail -= len(block)
		blocks = append(blocks, block)
	}

	var b strings.Builder
	b.WriteString(title + "\n\n")
	for i := len(blocks) - 1; i >= 0; i-- {
		for _, line := range blocks[i] {
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func renderMeter(level float64, recording bool) string {
	filled := 0
	if recording {
		// Speech RMS rarely passes 0.3; scale so it fills most of the bar.
		filled = min(int(level/0.3*meterWidth), meterWidth)
	}
	var b strings.Builder
	for i := 0; i < meterWidth; i++ {
		if i < filled {
			style := meterStyles[i*len(meterStyles)/meterWidth]
			b.WriteString(style.Render("█"))
		} else {
			b.WriteString(meterEmpty.Render("░"))
		}
	}
	return b.String()
}

func renderConnection(state transport.State, dropped int, recording bool) string {
	if !recording {
		return standbyStyle.Render("○ not streaming")
	}
	var label string
	switch state {
	case transport.Connected:
		label = "● connected"
	case transport.Connecting:
		label = "◐ connecting"
	default:
		label = "○ offline, retrying"
	}
	out := connStyles[state].Render(label)
	if dropped > 0 {
		out += warnStyle.Render(fmt.Sprintf("  %d dropped", dropped))
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
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
