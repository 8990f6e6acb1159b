//go:build portaudio

package audio

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// framesPerBuffer is the PortAudio callback size, 64ms at 16kHz.
const framesPerBuffer = 1024

type portaudioContext struct{}

func NewContext() (Context, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classifyPortaudio(err)
	}
	return &portaudioContext{}, nil
}

func (p *portaudioContext) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		result = append(result, DeviceInfo{
			ID:   strconv.Itoa(d.Index),
			Name: d.Name,
		})
	}
	return result, nil
}

// NewCapture opens a mono float32 input stream. PortAudio exposes no voice
// processing controls, so the processing hints are ignored here.
func (p *portaudioContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	in, err := p.lookup(device)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(in, nil)
	params.Input.Channels = int(config.Channels)
	params.SampleRate = float64(config.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	c := &portaudioCapture{info: device}
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		cb := c.callback.Load()
		if cb == nil || len(in) == 0 {
			return
		}
		samples := make([]float32, len(in))
		copy(samples, in)
		(*cb)(samples)
	})
	if err != nil {
		return nil, classifyPortaudio(err)
	}
	c.stream = stream
	return c, nil
}

func (p *portaudioContext) lookup(device *DeviceInfo) (*portaudio.DeviceInfo, error) {
	if device == nil {
		in, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, classifyPortaudio(err)
		}
		return in, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	for _, d := range devices {
		if strconv.Itoa(d.Index) == device.ID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, device.Name)
}

func (p *portaudioContext) Close() {
	portaudio.Terminate()
}

type portaudioCapture struct {
	stream   *portaudio.Stream
	info     *DeviceInfo
	callback atomic.Pointer[DataCallback]

	mu      sync.Mutex
	started bool
	closed  bool
}

func (c *portaudioCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		return classifyPortaudio(err)
	}
	c.started = true
	return nil
}

func (c *portaudioCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.stream.Stop()
		c.started = false
	}
}

func (c *portaudioCapture) Close() {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.stream.Close()
		c.closed = true
	}
}

func (c *portaudioCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *portaudioCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *portaudioCapture) DeviceName() string {
	if c.info != nil {
		return c.info.Name
	}
	return "system default"
}

func classifyPortaudio(err error) error {
	if errors.Is(err, portaudio.NoDefaultInputDevice) {
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	}
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case portaudio.InvalidDevice, portaudio.DeviceUnavailable:
			return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
		}
	}
	return Classify(err)
}
