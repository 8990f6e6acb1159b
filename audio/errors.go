package audio

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("no capture device found")
	ErrCaptureInit      = errors.New("capture init failed")
)

var (
	permissionHints = []string{"permission", "access denied", "not allowed", "unauthorized", "not authorized"}
	notFoundHints   = []string{"no such device", "no device", "device not found", "no entity", "no backend"}
)

// Classify maps a backend error onto one of the capture error kinds. The
// result wraps both the kind and the original error.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrCaptureInit) {
		return err
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	}

	msg := strings.ToLower(err.Error())
	for _, h := range permissionHints {
		if strings.Contains(msg, h) {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	for _, h := range notFoundHints {
		if strings.Contains(msg, h) {
			return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrCaptureInit, err)
}

// UserMessage is the text shown to the person at the microphone.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone permission denied. Please allow mic access and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "No microphone found. Please connect a microphone."
	default:
		return "Failed to start recording: " + err.Error()
	}
}
