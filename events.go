package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"scribe/recorder"
	"scribe/transport"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and
// the headless line printer receive the same recording events. Methods
// may be called from several goroutines.
type EventSink interface {
	RecordingStart(callID, device string)
	RecordingStop(stats transport.Stats)
	AudioLevel(level float64)
	Connection(state transport.State, dropped int)
	Transcript(chunk recorder.TranscriptChunk)
	NoVoiceWarning(on bool)
}

// TUI message types
type RecordingStartMsg struct{ CallID, Device string }
type RecordingStopMsg struct{ Stats transport.Stats }
type AudioLevelMsg struct{ Level float64 }
type ConnectionMsg struct {
	State   transport.State
	Dropped int
}
type TranscriptMsg struct{ Chunk recorder.TranscriptChunk }
type NoVoiceMsg struct{ On bool }

type tuiSink struct {
	p *tea.Program
}

func (s *tuiSink) RecordingStart(callID, device string) {
	s.p.Send(RecordingStartMsg{CallID: callID, Device: device})
}

func (s *tuiSink) RecordingStop(stats transport.Stats) { s.p.Send(RecordingStopMsg{Stats: stats}) }
func (s *tuiSink) AudioLevel(level float64)            { s.p.Send(AudioLevelMsg{Level: level}) }

func (s *tuiSink) Connection(state transport.State, dropped int) {
	s.p.Send(ConnectionMsg{State: state, Dropped: dropped})
}

func (s *tuiSink) Transcript(chunk recorder.TranscriptChunk) { s.p.Send(TranscriptMsg{Chunk: chunk}) }
func (s *tuiSink) NoVoiceWarning(on bool)                    { s.p.Send(NoVoiceMsg{On: on}) }

// lineSink prints one line per event worth reading in a log: state and
// connection changes, transcript chunks and voice warnings. Audio levels
// are dropped.
type lineSink struct {
	mu      sync.Mutex
	w       io.Writer
	noVoice bool
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{w: w}
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *lineSink) RecordingStart(callID, device string) {
	if device == "" {
		device = "system default"
	}
	s.printf("● recording call %s (mic: %s)", callID, device)
}

func (s *lineSink) RecordingStop(st transport.Stats) {
	s.printf("○ stopped: %d frames sent, %d dropped, %d transcript messages", st.SentFrames, st.DroppedFrames, st.RecvMessages)
}

func (s *lineSink) AudioLevel(float64) {}

func (s *lineSink) Connection(state transport.State, dropped int) {
	if dropped > 0 {
		s.printf("[%s] %d frames dropped so far", state, dropped)
		return
	}
	s.printf("[%s]", state)
}

func (s *lineSink) Transcript(c recorder.TranscriptChunk) {
	ts := time.UnixMilli(c.Timestamp).Format("15:04:05")
	s.printf("%s  %s", ts, c.Text)
}

func (s *lineSink) NoVoiceWarning(on bool) {
	s.mu.Lock()
	changed := s.noVoice != on
	s.noVoice = on
	s.mu.Unlock()
	if !changed {
		return
	}
	if on {
		s.printf("⚠ no voice detected")
	} else {
		s.printf("no voice warning cleared")
	}
}
