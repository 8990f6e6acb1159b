package audio

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"time"

	"scribe/encoder"
)

const fakeFrameSize = 1024

// FakeContext replays prepared samples through the capture interfaces. It
// backs headless runs and tests, and can simulate acquisition failures.
type FakeContext struct {
	pcm      []float32
	realtime bool

	mu         sync.Mutex
	devices    []DeviceInfo
	captureErr error
	startErr   error
	captures   []*FakeCapture
}

// NewFakeContext returns a context whose captures replay pcm. With
// realtime set, samples are paced at encoder.SampleRate; otherwise they are
// pushed as fast as the consumer takes them. An empty pcm produces no audio
// until Feed is called.
func NewFakeContext(pcm []float32, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:      pcm,
		realtime: realtime,
		devices:  []DeviceInfo{{ID: "fake", Name: "fake"}},
	}
}

// NewFakeContextFromWAV loads a 16-bit mono WAV file.
func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return NewFakeContext(encoder.FromPCM16(pcm), realtime), nil
}

// Tone generates a sine wave at the capture sample rate.
func Tone(freq, amplitude float64, d time.Duration) []float32 {
	n := int(d.Seconds() * encoder.SampleRate)
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / encoder.SampleRate
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func (f *FakeContext) SetDevices(devices []DeviceInfo) {
	f.mu.Lock()
	f.devices = devices
	f.mu.Unlock()
}

// FailCapture makes NewCapture return err.
func (f *FakeContext) FailCapture(err error) {
	f.mu.Lock()
	f.captureErr = err
	f.mu.Unlock()
}

// FailStart makes Start on new captures return err.
func (f *FakeContext) FailStart(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeviceInfo(nil), f.devices...), nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	name := "fake"
	if device != nil {
		name = device.Name
	}
	c := &FakeCapture{
		name:      name,
		pcm:       f.pcm,
		realtime:  f.realtime,
		startErr:  f.startErr,
		audioDone: make(chan struct{}),
	}
	f.captures = append(f.captures, c)
	return c, nil
}

// Captures returns every capture created so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

type FakeCapture struct {
	name      string
	pcm       []float32
	realtime  bool
	startErr  error
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	closed   bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the prepared samples have all been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

// Feed delivers samples to the callback synchronously, as a device
// callback would. It is a no-op unless the capture is started.
func (f *FakeCapture) Feed(samples []float32) {
	f.mu.Lock()
	cb := f.cb
	running := f.started
	f.mu.Unlock()
	if cb == nil || !running {
		return
	}
	buf := make([]float32, len(samples))
	copy(buf, samples)
	cb(buf)
}

func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	if f.startErr != nil {
		f.mu.Unlock()
		return f.startErr
	}
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	if len(f.pcm) == 0 {
		close(f.feedDone)
		return nil
	}

	interval := time.Millisecond
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / encoder.SampleRate
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		for {
			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}

			if pos >= len(f.pcm) {
				select {
				case <-f.audioDone:
				default:
					close(f.audioDone)
				}
				continue
			}
			end := min(pos+fakeFrameSize, len(f.pcm))
			f.Feed(f.pcm[pos:end])
			pos = end
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	close(stopCh)
	<-feedDone
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
