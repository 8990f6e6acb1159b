package audio

import "sync"

// Framer cuts a stream of device buffers into fixed-size frames. Samples
// written while no callback is set are discarded.
type Framer struct {
	size int

	mu   sync.Mutex
	buf  []float32
	emit FrameCallback
}

func NewFramer(size int) *Framer {
	return &Framer{size: size, buf: make([]float32, 0, size*2)}
}

func (f *Framer) Size() int { return f.size }

func (f *Framer) SetCallback(cb FrameCallback) {
	f.mu.Lock()
	f.emit = cb
	f.mu.Unlock()
}

// ClearCallback detaches the consumer. It waits for an in-flight callback to
// return, so no frame is delivered after it returns.
func (f *Framer) ClearCallback() {
	f.mu.Lock()
	f.emit = nil
	f.buf = f.buf[:0]
	f.mu.Unlock()
}

// Reset drops any partially filled frame.
func (f *Framer) Reset() {
	f.mu.Lock()
	f.buf = f.buf[:0]
	f.mu.Unlock()
}

// Write appends samples and emits every completed frame in order.
func (f *Framer) Write(samples []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.emit == nil {
		f.buf = f.buf[:0]
		return
	}

	f.buf = append(f.buf, samples...)
	for len(f.buf) >= f.size {
		frame := make(Frame, f.size)
		copy(frame, f.buf[:f.size])
		n := copy(f.buf, f.buf[f.size:])
		f.buf = f.buf[:n]
		f.emit(frame)
	}
}

// Pending reports how many samples are waiting for the next frame.
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}
