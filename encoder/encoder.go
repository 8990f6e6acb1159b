package encoder

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	// ChunkSize is the number of samples per frame (~0.5s at SampleRate).
	// Must stay a power of two.
	ChunkSize = 8192
	// HexLen is the length of audio_hex for one full frame.
	HexLen = ChunkSize * (BitsPerSample / 8) * 2
)

// EncodedFrame is the outbound wire message, one per captured frame.
type EncodedFrame struct {
	CallID     string `json:"call_id"`
	CustomerID string `json:"customer_id"`
	AudioHex   string `json:"audio_hex"`
}

// ToPCM16 converts float samples to signed 16-bit PCM. Samples are clamped
// to [-1, 1]; negatives scale by 32768 and positives by 32767, truncating
// toward zero. The scaling is part of the wire contract with the
// transcription service.
func ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = sampleToInt16(s)
	}
	return out
}

func sampleToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = max(-1, min(1, v))
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7FFF)
}

// HexPCM renders the PCM16 conversion of samples as lowercase hex, two
// digits per byte, bytes in native order.
func HexPCM(samples []float32) string {
	pcm := ToPCM16(samples)
	raw := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.NativeEndian.PutUint16(raw[i*2:], uint16(v))
	}
	return hex.EncodeToString(raw)
}

func Encode(callID, customerID string, frame []float32) EncodedFrame {
	return EncodedFrame{
		CallID:     callID,
		CustomerID: customerID,
		AudioHex:   HexPCM(frame),
	}
}

// DecodeHex reverses HexPCM up to the int16 stage.
func DecodeHex(s string) ([]int16, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio_hex: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("decode audio_hex: odd byte count %d", len(raw))
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.NativeEndian.Uint16(raw[i*2:]))
	}
	return out, nil
}

// FromPCM16 is the inverse scaling of ToPCM16.
func FromPCM16(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		if v < 0 {
			out[i] = float32(float64(v) / 0x8000)
		} else {
			out[i] = float32(float64(v) / 0x7FFF)
		}
	}
	return out
}
