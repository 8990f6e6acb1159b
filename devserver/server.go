// Package devserver is a local stand-in for the transcription service. It
// speaks the same websocket contract, buffers audio per call and replies
// with a transcript chunk for every few seconds of audio it receives.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scribe/encoder"
	"scribe/log"
	"scribe/transport"
)

const (
	BufferSeconds = 3
	bufferSamples = BufferSeconds * encoder.SampleRate
	readLimit     = 1 << 20
	writeWait     = 10 * time.Second
	silenceRMS    = 0.01
)

// TranscribeFunc turns a window of audio into text. An empty result means
// nothing was said and no chunk is sent.
type TranscribeFunc func(callID string, samples []float32) string

// Describe is the default TranscribeFunc. It reports the window's length
// and level, and treats near-silence as no speech.
func Describe(_ string, samples []float32) string {
	level := rms(samples)
	if level < silenceRMS {
		return ""
	}
	secs := float64(len(samples)) / encoder.SampleRate
	return fmt.Sprintf("[%.1fs of audio, level %.3f]", secs, level)
}

type Server struct {
	transcribe TranscribeFunc
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	buffers map[string][]float32
	conns   map[*websocket.Conn]struct{}
	frames  int
	chunks  int
}

func New(fn TranscribeFunc) *Server {
	if fn == nil {
		fn = Describe
	}
	return &Server{
		transcribe: fn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffers: make(map[string][]float32),
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// Handler serves /health and the transcribe websocket, both at the
// service root and behind the app's /api/transcriber prefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/transcriber/health", s.handleHealth)
	mux.HandleFunc("/ws/transcribe", s.handleTranscribe)
	mux.HandleFunc(transport.TranscribePath, s.handleTranscribe)
	return mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	srv.RegisterOnShutdown(s.closeAll)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("devserver listening on " + ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.Close()
	}
}

// Frames returns how many audio frames have been received.
func (s *Server) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Chunks returns how many transcript chunks have been sent.
func (s *Server) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "model": "devserver"})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("devserver upgrade: %v", err)
		return
	}
	conn.SetReadLimit(readLimit)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	callID := s.serve(conn)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()

	if callID != "" {
		s.finish(callID)
	}
}

// serve reads frames until the client goes away and returns the last call
// id seen on the connection.
func (s *Server) serve(conn *websocket.Conn) string {
	var callID string
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("devserver read: %v", err)
			}
			return callID
		}
		if typ != websocket.TextMessage {
			continue
		}

		var frame encoder.EncodedFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.CallID == "" {
			log.Warnf("devserver: ignoring malformed frame (%d bytes)", len(data))
			continue
		}
		pcm, err := encoder.DecodeHex(frame.AudioHex)
		if err != nil {
			log.Warnf("devserver: bad audio_hex for %s: %v", frame.CallID, err)
			continue
		}
		callID = frame.CallID

		window := s.buffer(callID, scale(pcm))
		if window == nil {
			continue
		}
		text := s.transcribe(callID, window)
		if text == "" {
			continue
		}
		reply := transport.Inbound{CallID: callID, TranscriptChunk: text}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			log.Warnf("devserver write: %v", err)
			return callID
		}
		s.mu.Lock()
		s.chunks++
		s.mu.Unlock()
	}
}

// buffer appends samples to the call's buffer. Once it holds at least
// BufferSeconds of audio the whole buffer is returned and the call starts
// over with an empty one.
func (s *Server) buffer(callID string, samples []float32) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	buf := append(s.buffers[callID], samples...)
	if len(buf) < bufferSamples {
		s.buffers[callID] = buf
		return nil
	}
	s.buffers[callID] = nil
	return buf
}

// finish transcribes whatever is left for callID once its connection is
// gone. There is nobody to send it to, so it is only logged.
func (s *Server) finish(callID string) {
	s.mu.Lock()
	buf := s.buffers[callID]
	delete(s.buffers, callID)
	s.mu.Unlock()

	if len(buf) > 0 {
		if text := s.transcribe(callID, buf); text != "" {
			log.Infof("devserver: final chunk for %s: %s", callID, text)
		}
	}
	log.Infof("devserver: client disconnected (call_id=%s)", callID)
}

// scale converts PCM16 to floats the way the transcription service does.
func scale(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / 32768
	}
	return out
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
