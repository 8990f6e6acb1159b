package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"scribe/encoder"
	"scribe/log"
	"scribe/metrics"
)

const (
	DefaultRetryInterval = 5 * time.Second
	DefaultQueueSize     = 4
	DefaultDialTimeout   = 10 * time.Second
	writeTimeout         = 10 * time.Second
)

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Inbound is a message pushed by the transcriber. Fields the service did
// not send are left empty.
type Inbound struct {
	CallID          string `json:"call_id"`
	TranscriptChunk string `json:"transcript_chunk"`
}

// Stats counts a session's traffic. Every frame offered to Send ends up in
// exactly one of SentFrames and DroppedFrames.
type Stats struct {
	ConnectAttempts   int
	SentFrames        int
	SentBytes         int64
	DroppedFrames     int
	RecvMessages      int
	MalformedMessages int
}

// Config configures a Session. Zero values take the package defaults.
type Config struct {
	Endpoint      string
	Dialer        Dialer
	RetryInterval time.Duration
	DialTimeout   time.Duration
	// QueueSize bounds frames waiting for the writer. Frames arriving while
	// the queue is full are dropped.
	QueueSize int
	Metrics   *metrics.Metrics
}

// link is one connection attempt that succeeded.
type link struct {
	conn   Conn
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// Session owns at most one live connection to the transcriber and the timer
// that re-establishes it while it is down. Send never blocks: frames offered
// while the connection is not open are dropped and counted.
type Session struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	gen       uint64
	link      *link
	closed    bool
	stats     Stats
	onMessage func(Inbound)
	onState   func(State)

	retryMu   sync.Mutex
	retryStop chan struct{}
	retryDone chan struct{}
}

func New(cfg Config) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Endpoint is the websocket URL the session dials.
func (s *Session) Endpoint() string { return s.cfg.Endpoint }

// OnMessage registers the handler for parsed inbound messages. It runs on
// the connection's reader goroutine, in arrival order.
func (s *Session) OnMessage(fn func(Inbound)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnStateChange registers the handler for connection state transitions.
// It runs with the session locked and must not call back into the Session.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// setStateLocked must be called with s.mu held.
func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if m := s.cfg.Metrics; m != nil {
		m.ConnectionState.Set(float64(st))
	}
	log.ConnectionState(st.String(), s.stats.ConnectAttempts)
	if s.onState != nil {
		s.onState(st)
	}
}

// Connect starts an asynchronous connection attempt. It is a no-op while a
// connection is open or being opened, and after Close.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != Disconnected {
		return
	}
	s.gen++
	s.stats.ConnectAttempts++
	if m := s.cfg.Metrics; m != nil {
		m.ConnectAttempts.Inc()
	}
	s.setStateLocked(Connecting)
	go s.dial(s.gen)
}

func (s *Session) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.Endpoint)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.closed {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		log.Warnf("connect %s: %v", s.cfg.Endpoint, err)
		s.setStateLocked(Disconnected)
		return
	}

	l := &link{
		conn:   conn,
		outbox: make(chan []byte, s.cfg.QueueSize),
		done:   make(chan struct{}),
	}
	s.link = l
	s.setStateLocked(Connected)
	go s.writeLoop(gen, l)
	go s.readLoop(gen, l)
}

// Send offers one encoded frame to the open connection. It reports whether
// the frame was queued. Every frame offered ends up counted as either sent
// or dropped.
func (s *Session) Send(frame encoder.EncodedFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Errorf("encode frame: %v", err)
		s.mu.Lock()
		s.dropLocked()
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.link
	if s.state != Connected || l == nil {
		s.dropLocked()
		return false
	}
	select {
	case l.outbox <- data:
		return true
	default:
		s.dropLocked()
		return false
	}
}

func (s *Session) dropLocked() {
	s.stats.DroppedFrames++
	if m := s.cfg.Metrics; m != nil {
		m.FramesDropped.Inc()
	}
}

// discardLocked drops every frame still queued on l. l must already be
// detached from the session so Send cannot refill it.
func (s *Session) discardLocked(l *link) {
	for {
		select {
		case <-l.outbox:
			s.dropLocked()
		default:
			return
		}
	}
}

func (s *Session) writeLoop(gen uint64, l *link) {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.outbox:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := l.conn.Write(ctx, data)
			cancel()
			if err != nil {
				s.mu.Lock()
				s.dropLocked()
				s.mu.Unlock()
				s.lost(gen, err)
				return
			}
			s.mu.Lock()
			s.stats.SentFrames++
			s.stats.SentBytes += int64(len(data))
			s.mu.Unlock()
			if m := s.cfg.Metrics; m != nil {
				m.FramesSent.Inc()
				m.BytesSent.Add(float64(len(data)))
			}
		}
	}
}

func (s *Session) readLoop(gen uint64, l *link) {
	for {
		data, err := l.conn.Read(context.Background())
		if err != nil {
			s.lost(gen, err)
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.mu.Lock()
			s.stats.MalformedMessages++
			s.mu.Unlock()
			if m := s.cfg.Metrics; m != nil {
				m.MalformedInbound.Inc()
			}
			log.Warnf("ignoring malformed message: %v", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.stats.RecvMessages++
		fn := s.onMessage
		s.mu.Unlock()

		if fn != nil {
			fn(in)
		}
	}
}

// lost tears down the link of generation gen after a transport error.
// Errors from superseded links are ignored.
func (s *Session) lost(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.closed || s.link == nil {
		return
	}
	l := s.link
	s.link = nil
	l.shutdown()
	s.discardLocked(l)
	log.Warnf("connection lost: %v", err)
	s.setStateLocked(Disconnected)
}

// StartRetry starts the reconnect timer: every RetryInterval, if the
// connection is not open, Connect is called. Only one timer runs per
// session; further calls are no-ops.
func (s *Session) StartRetry() {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.retryStop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.retryStop, s.retryDone = stop, done
	go s.retryLoop(stop, done)
}

func (s *Session) retryLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			if s.State() == Disconnected {
				log.Info("retrying transcriber connection")
				s.Connect()
			}
		}
	}
}

// StopRetry cancels the reconnect timer. No retry-initiated Connect starts
// after it returns.
func (s *Session) StopRetry() {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	if s.retryStop == nil {
		return
	}
	close(s.retryStop)
	<-s.retryDone
	s.retryStop, s.retryDone = nil, nil
}

func (s *Session) Retrying() bool {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	return s.retryStop != nil
}

// Close stops the retry timer and closes the connection without waiting
// for the close handshake. In-flight dials are abandoned. Close is
// idempotent and the session cannot be reconnected afterwards.
func (s *Session) Close() {
	s.StopRetry()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.gen++
	if l := s.link; l != nil {
		s.link = nil
		l.shutdown()
		s.discardLocked(l)
	}
	s.setStateLocked(Disconnected)
	s.closed = true
	s.cancel()
}
