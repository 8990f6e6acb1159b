package audio

import (
	"fmt"
	"sync"

	"scribe/encoder"
	"scribe/log"
)

// Source owns one microphone stream for the duration of a recording and
// delivers fixed-size frames to a single subscriber.
type Source struct {
	ctx        Context
	deviceName string
	config     CaptureConfig
	framer     *Framer

	mu      sync.Mutex
	capture CaptureDevice
}

// DefaultCaptureConfig requests mono float capture at the wire sample rate
// with the platform's voice processing enabled.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:       encoder.SampleRate,
		Channels:         encoder.Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// NewSource prepares a capture source. deviceName selects a device by name;
// empty means the system default.
func NewSource(ctx Context, deviceName string) *Source {
	return &Source{
		ctx:        ctx,
		deviceName: deviceName,
		config:     DefaultCaptureConfig(),
		framer:     NewFramer(encoder.ChunkSize),
	}
}

// Acquire opens and starts the device. On failure nothing stays allocated
// and the error wraps ErrPermissionDenied, ErrDeviceNotFound or
// ErrCaptureInit.
func (s *Source) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture != nil {
		return nil
	}

	device, err := s.resolveDevice()
	if err != nil {
		return err
	}

	capture, err := s.ctx.NewCapture(device, s.config)
	if err != nil {
		return Classify(fmt.Errorf("open capture: %w", err))
	}

	capture.SetCallback(s.framer.Write)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return Classify(fmt.Errorf("start capture: %w", err))
	}

	s.capture = capture
	log.Info("capture acquired: " + capture.DeviceName())
	return nil
}

// resolveDevice returns nil for the system default, which still requires
// at least one device to be present.
func (s *Source) resolveDevice() (*DeviceInfo, error) {
	if s.deviceName != "" {
		device, err := FindDevice(s.ctx, s.deviceName)
		return device, Classify(err)
	}
	devices, err := s.ctx.Devices()
	if err != nil {
		return nil, Classify(fmt.Errorf("enumerating devices: %w", err))
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}
	return nil, nil
}

// OnFrame registers the frame handler. The handler runs on the capture
// thread and must not block.
func (s *Source) OnFrame(cb FrameCallback) {
	s.framer.SetCallback(cb)
}

// Detach stops frame delivery without releasing the device.
func (s *Source) Detach() {
	s.framer.ClearCallback()
}

// Release stops and closes the device. Safe to call repeatedly and on a
// source that was never acquired.
func (s *Source) Release() {
	s.framer.ClearCallback()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return
	}
	s.capture.Stop()
	s.capture.ClearCallback()
	s.capture.Close()
	s.capture = nil
	s.framer.Reset()
	log.Info("capture released")
}

func (s *Source) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}

func (s *Source) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return s.capture.DeviceName()
	}
	if s.deviceName != "" {
		return s.deviceName
	}
	return "system default"
}
