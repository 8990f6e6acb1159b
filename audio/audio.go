package audio

import "strings"

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether it is a Bluetooth headset.
// Headsets in call mode usually fall back to narrowband capture.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Frame is one fixed-size slice of mono float samples in [-1, 1].
type Frame []float32

// DataCallback receives device buffers of whatever size the backend delivers.
type DataCallback func(samples []float32)

// FrameCallback receives exactly one completed Frame per call.
type FrameCallback func(frame Frame)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	// Processing hints passed to the platform capture stack. Backends that
	// cannot express them ignore them.
	EchoCancellation bool
	NoiseSuppression bool
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
