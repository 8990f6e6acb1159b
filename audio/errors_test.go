package audio

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		want error
	}{
		{"os permission", fmt.Errorf("open: %w", os.ErrPermission), ErrPermissionDenied},
		{"access denied text", errors.New("Access denied by policy"), ErrPermissionDenied},
		{"no such device", errors.New("pulse: no such device"), ErrDeviceNotFound},
		{"not exist", os.ErrNotExist, ErrDeviceNotFound},
		{"generic", errors.New("sample rate not supported"), ErrCaptureInit},
		{"already classified", fmt.Errorf("%w: x", ErrDeviceNotFound), ErrDeviceNotFound},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want kind %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Classify(%v) lost the underlying error", tt.err)
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(fmt.Errorf("%w: x", ErrPermissionDenied)); !strings.Contains(got, "permission denied") {
		t.Errorf("permission message = %q", got)
	}
	if got := UserMessage(ErrDeviceNotFound); !strings.Contains(got, "No microphone found") {
		t.Errorf("not found message = %q", got)
	}
	detail := fmt.Errorf("%w: backend exploded", ErrCaptureInit)
	if got := UserMessage(detail); !strings.Contains(got, "backend exploded") {
		t.Errorf("init message lost detail: %q", got)
	}
	if UserMessage(nil) != "" {
		t.Error("UserMessage(nil) should be empty")
	}
}

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Jabra Evolve2 65", true},
		{"Built-in Microphone", false},
		{"alsa_input.pci-0000_00_1f.3.analog-stereo", false},
	} {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
