// Package voice tells speech from silence in the captured audio so the
// operator can be warned when the microphone is picking up nothing.
package voice

import (
	"encoding/binary"
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"scribe/encoder"
)

const (
	vadMode       = 3
	vadFrameMs    = 20
	vadFrameBytes = encoder.SampleRate * vadFrameMs / 1000 * 2 // 640 bytes
	vadDebounce   = 3                                          // consecutive speech frames to confirm voice

	// speechThreshold is the share of VAD frames in a tick that must be
	// speech for the tick to count as speaking.
	speechThreshold = 0.10
)

// Detector runs WebRTC voice activity detection over float frames. It is
// safe to feed from the capture callback while another goroutine polls it.
type Detector struct {
	vad *webrtcvad.VAD
	now func() time.Time

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	lastVoiceTime time.Time
	speechRun     int
	totalFrames   int
	speechFrames  int
	tickTotal     int
	tickSpeech    int
}

func NewDetector() (*Detector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &Detector{vad: v, now: time.Now}, nil
}

// Process feeds samples of any length. They are converted with the same
// PCM16 scaling used on the wire and classified in 20 ms windows; a
// trailing partial window waits for the next call.
func (d *Detector) Process(samples []float32) {
	pcm := encoder.ToPCM16(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, v := range pcm {
		d.buf = binary.LittleEndian.AppendUint16(d.buf, uint16(v))
	}
	for len(d.buf) >= vadFrameBytes {
		frame := d.buf[:vadFrameBytes]

		active, err := d.vad.Process(encoder.SampleRate, frame)
		d.buf = d.buf[vadFrameBytes:]
		if err != nil {
			continue
		}
		d.totalFrames++
		if active {
			d.speechFrames++
			d.speechRun++
			if d.voiceDetected {
				d.lastVoiceTime = d.now()
			} else if d.speechRun >= vadDebounce {
				d.voiceDetected = true
				d.lastVoiceTime = d.now()
			}
		} else {
			d.speechRun = 0
		}
	}
}

func (d *Detector) VoiceDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voiceDetected
}

func (d *Detector) LastVoiceTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastVoiceTime
}

// Stats returns the number of VAD windows seen and how many were speech.
func (d *Detector) Stats() (total, speech int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalFrames, d.speechFrames
}

// HasSpeechTick reports whether enough of the windows seen since the last
// call were speech. A tick with no windows counts as silent.
func (d *Detector) HasSpeechTick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.totalFrames - d.tickTotal
	s := d.speechFrames - d.tickSpeech
	d.tickTotal, d.tickSpeech = d.totalFrames, d.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
	d.voiceDetected = false
	d.lastVoiceTime = time.Time{}
	d.speechRun = 0
	d.tickTotal, d.tickSpeech = d.totalFrames, d.speechFrames
}
