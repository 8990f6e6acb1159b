package voice

import (
	"context"
	"time"
)

const (
	TickInterval       = 100 * time.Millisecond
	silenceWarnEvery   = 8 * time.Second
	silenceAutoStopDur = 30 * time.Second
	speechMinRatio     = 0.10
	speechClearRatio   = 0.25 // higher threshold to clear warning (hysteresis)
)

type Event int

const (
	None      Event = iota
	Warn            // no voice detected
	WarnClear       // speech resumed after warning
	Repeat          // still silent, every 8s
	AutoStop        // 30s of silence with auto-stop enabled
)

func (e Event) String() string {
	switch e {
	case Warn:
		return "warn"
	case WarnClear:
		return "clear"
	case Repeat:
		return "repeat"
	case AutoStop:
		return "autostop"
	default:
		return "none"
	}
}

// Monitor turns per-tick speech decisions into silence warnings. With
// autoStop set, warnings repeat and a long silence asks for the recording
// to end.
type Monitor struct {
	warnAt   int
	windowSz int
	autoStop bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastWarn    int
}

func NewMonitor(autoStop bool) *Monitor {
	windowSz := int(silenceAutoStopDur / TickInterval)
	return &Monitor{
		warnAt:   int(silenceWarnEvery / TickInterval),
		windowSz: windowSz,
		autoStop: autoStop,
		window:   make([]bool, windowSz),
	}
}

func (m *Monitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// Warned reports whether a silence warning is currently raised.
func (m *Monitor) Warned() bool { return m.warned }

func (m *Monitor) Tick(hasSpeech bool) Event {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return Warn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return WarnClear
	}

	if !m.autoStop {
		return None
	}

	// Auto-stop wins over a repeat on the same tick.
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return AutoStop
	}
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return Repeat
	}
	return None
}

// Watch polls d every TickInterval, feeds m and reports every event other
// than None to fn. It returns when ctx is done or after AutoStop.
func Watch(ctx context.Context, d *Detector, m *Monitor, fn func(Event)) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := m.Tick(d.HasSpeechTick())
			if ev == None {
				continue
			}
			fn(ev)
			if ev == AutoStop {
				return
			}
		}
	}
}
