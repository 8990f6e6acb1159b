package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/audio"
	"scribe/encoder"
	"scribe/recorder"
	"scribe/transport"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) add(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) has(e string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.events {
		if got == e {
			return true
		}
	}
	return false
}

func (s *recordingSink) RecordingStart(callID, _ string)       { s.add("start " + callID) }
func (s *recordingSink) RecordingStop(transport.Stats)         { s.add("stop") }
func (s *recordingSink) AudioLevel(float64)                    { s.add("level") }
func (s *recordingSink) Connection(st transport.State, _ int)  { s.add("conn " + st.String()) }
func (s *recordingSink) Transcript(c recorder.TranscriptChunk) { s.add("chunk " + c.Text) }
func (s *recordingSink) NoVoiceWarning(on bool) {
	if on {
		s.add("novoice")
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPumpForwardsEvents(t *testing.T) {
	actx := audio.NewFakeContext(nil, false)
	dialer := transport.NewFakeDialer()
	ctrl := recorder.New(actx, recorder.Config{Dialer: dialer, RetryInterval: time.Hour})
	t.Cleanup(ctrl.Stop)

	sink := &recordingSink{}
	p := newPump(ctrl, nil, false, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	if err := ctrl.Start("call-9", "cust-9"); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "connected", func() bool { return sink.has("conn connected") })

	actx.Captures()[0].Feed(make([]float32, encoder.ChunkSize))
	dialer.Last().Push(`{"call_id":"call-9","transcript_chunk":"hello"}`)
	waitUntil(t, "chunk", func() bool { return sink.has("chunk hello") })

	ctrl.Stop()
	select {
	case <-p.idle:
	case <-time.After(2 * time.Second):
		t.Fatal("no idle signal after Stop")
	}
	for _, e := range []string{"start call-9", "level", "stop"} {
		if !sink.has(e) {
			t.Errorf("sink missing %q", e)
		}
	}

	cancel()
	<-p.done
}

func TestRunHeadless(t *testing.T) {
	actx := audio.NewFakeContext(nil, false)
	dialer := transport.NewFakeDialer()
	ctrl := recorder.New(actx, recorder.Config{Dialer: dialer, RetryInterval: time.Hour})
	t.Cleanup(ctrl.Stop)

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runHeadless(ctx, ctrl, nil, false, idSource{callID: "call-h"}, &out)
	}()

	waitUntil(t, "connection", func() bool { return dialer.Last() != nil && ctrl.Connection() == transport.Connected })
	dialer.Last().Push(`{"call_id":"call-h","transcript_chunk":"over the wire"}`)
	waitUntil(t, "transcript", func() bool { return strings.Contains(out.String(), "over the wire") })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runHeadless did not return")
	}
	if ctrl.State() != recorder.Idle {
		t.Error("controller still capturing")
	}
	got := out.String()
	for _, want := range []string{"recording call call-h", "[connected]", "stopped:"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunHeadlessStartError(t *testing.T) {
	actx := audio.NewFakeContext(nil, false)
	actx.SetDevices(nil)
	dialer := transport.NewFakeDialer()
	ctrl := recorder.New(actx, recorder.Config{Dialer: dialer})

	var out syncBuffer
	err := runHeadless(context.Background(), ctrl, nil, false, idSource{}, &out)
	if err == nil || !strings.Contains(err.Error(), "No microphone found") {
		t.Fatalf("err = %v", err)
	}
	if dialer.Dials() != 0 {
		t.Errorf("dialed %d times after capture failure", dialer.Dials())
	}
}

func TestLineSink(t *testing.T) {
	var buf bytes.Buffer
	s := newLineSink(&buf)
	s.RecordingStart("c1", "")
	s.Connection(transport.Disconnected, 2)
	s.AudioLevel(0.5)
	s.NoVoiceWarning(true)
	s.NoVoiceWarning(true)
	s.NoVoiceWarning(false)
	s.Transcript(recorder.TranscriptChunk{Text: "hi there", Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local).UnixMilli()})
	s.RecordingStop(transport.Stats{SentFrames: 4, DroppedFrames: 2, RecvMessages: 1})

	want := strings.Join([]string{
		"● recording call c1 (mic: system default)",
		"[disconnected] 2 frames dropped so far",
		"⚠ no voice detected",
		"no voice warning cleared",
		"03:04:05  hi there",
		"○ stopped: 4 frames sent, 2 dropped, 1 transcript messages",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestIDSource(t *testing.T) {
	call, cust := idSource{callID: "c", customerID: "k"}.next()
	if call != "c" || cust != "k" {
		t.Errorf("configured ids = %q, %q", call, cust)
	}
	call, cust = idSource{callID: "c"}.next()
	if cust != "c" {
		t.Errorf("customer id = %q, want call id", cust)
	}
	a, _ := idSource{}.next()
	b, _ := idSource{}.next()
	if a == "" || a == b || len(a) != 36 {
		t.Errorf("generated ids %q, %q", a, b)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
