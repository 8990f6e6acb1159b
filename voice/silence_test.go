package voice

import (
	"context"
	"testing"
	"time"
)

func feedN(m *Monitor, speech bool, n int) Event {
	var last Event
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestWarnAfter8s(t *testing.T) {
	m := NewMonitor(false)
	for i := 0; i < 79; i++ {
		if ev := m.Tick(false); ev != None {
			t.Fatalf("unexpected event at tick %d: %v", i, ev)
		}
	}
	if ev := m.Tick(false); ev != Warn {
		t.Fatalf("expected Warn at tick 80, got %v", ev)
	}
	if !m.Warned() {
		t.Error("Warned() = false after Warn")
	}
}

func TestWarnClearsOnSpeech(t *testing.T) {
	m := NewMonitor(false)
	feedN(m, false, 80)

	// 25% of the 80-tick window has to be speech.
	for i := 0; i < 80; i++ {
		if ev := m.Tick(true); ev == WarnClear {
			if i != 19 {
				t.Errorf("cleared after %d speech ticks, want 20", i+1)
			}
			return
		}
	}
	t.Fatal("expected WarnClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := NewMonitor(true)
	for i := 0; i < 400; i++ {
		if ev := m.Tick(true); ev != None {
			t.Fatalf("unexpected %v during speech at tick %d", ev, i)
		}
	}
}

func TestEvents(t *testing.T) {
	for _, tt := range []struct {
		name     string
		autoStop bool
		ticks    int
		speech   func(i int) bool
		want     map[Event]int
	}{
		{"warn only once", false, 300, func(int) bool { return false }, map[Event]int{Warn: 1}},
		{"no repeat or stop by default", false, 400, func(int) bool { return false }, map[Event]int{Warn: 1, Repeat: 0, AutoStop: 0}},
		{"repeat every 8s", true, 299, func(int) bool { return false }, map[Event]int{Warn: 1, Repeat: 2}},
		{"noise does not clear", false, 160, func(i int) bool { return i >= 80 && i%10 == 0 }, map[Event]int{Warn: 1, WarnClear: 0}},
		{"speech prevents stop", true, 500, func(i int) bool { return i%10 < 7 }, map[Event]int{AutoStop: 0, Warn: 0}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.autoStop)
			got := map[Event]int{}
			for i := 0; i < tt.ticks; i++ {
				got[m.Tick(tt.speech(i))]++
			}
			for ev, n := range tt.want {
				if got[ev] != n {
					t.Errorf("%v fired %d times, want %d", ev, got[ev], n)
				}
			}
		})
	}
}

func TestAutoStopWinsOverRepeat(t *testing.T) {
	m := NewMonitor(true)
	for i := 0; i < 400; i++ {
		ev := m.Tick(false)
		if ev == AutoStop {
			if i != 299 {
				t.Errorf("AutoStop at tick %d, want 299", i)
			}
			return
		}
		if i >= 299 && ev == Repeat {
			t.Fatalf("Repeat fired at tick %d instead of AutoStop", i)
		}
	}
	t.Fatal("expected AutoStop within 400 ticks")
}

func TestWatchStopsOnContext(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, d, NewMonitor(false), func(Event) {})
		close(done)
	}()
	time.Sleep(3 * TickInterval)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
