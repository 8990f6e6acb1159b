package voice

import (
	"testing"
	"time"

	"scribe/audio"
)

func silence(d time.Duration) []float32 {
	return make([]float32, int(d.Seconds()*16000))
}

func TestDetectorSpeechTone(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatal(err)
	}
	d.Process(audio.Tone(440, 0.5, 200*time.Millisecond))
	if !d.VoiceDetected() {
		t.Log("440Hz tone not classified as speech (expected for pure tone); skipping")
		t.Skip()
	}
}

func TestDetectorSilence(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatal(err)
	}
	d.Process(silence(200 * time.Millisecond))
	if d.VoiceDetected() {
		t.Error("expected no voice on silence")
	}
	total, speech := d.Stats()
	if total != 10 || speech != 0 {
		t.Errorf("Stats = %d, %d; want 10, 0", total, speech)
	}
}

func TestDetectorOddChunkSizes(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatal(err)
	}
	// 50 samples per call never lines up with the 320-sample window.
	s := silence(200 * time.Millisecond)
	for i := 0; i < len(s); i += 50 {
		d.Process(s[i:min(i+50, len(s))])
	}
	if d.VoiceDetected() {
		t.Error("expected no voice on silence with odd chunks")
	}
	if total, _ := d.Stats(); total != 10 {
		t.Errorf("windows = %d, want 10", total)
	}
}

func TestDetectorReset(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatal(err)
	}
	d.Process(audio.Tone(440, 0.5, 200*time.Millisecond))
	d.Reset()
	if d.VoiceDetected() {
		t.Error("expected no voice after reset")
	}
	if !d.LastVoiceTime().IsZero() {
		t.Error("expected zero LastVoiceTime after reset")
	}
	if d.HasSpeechTick() {
		t.Error("tick after reset should be silent")
	}
}

func TestHasSpeechTickEmpty(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatal(err)
	}
	if d.HasSpeechTick() {
		t.Error("tick with no audio should be silent")
	}
	d.Process(silence(100 * time.Millisecond))
	if d.HasSpeechTick() {
		t.Error("silent tick reported speech")
	}
	if !d.LastVoiceTime().IsZero() {
		t.Error("expected zero LastVoiceTime on silence")
	}
}
