package recorder

import (
	"math"
	"sync"
	"time"

	"scribe/audio"
	"scribe/encoder"
	"scribe/log"
	"scribe/metrics"
	"scribe/transport"
)

type State int

const (
	Idle State = iota
	Capturing
)

func (s State) String() string {
	if s == Capturing {
		return "capturing"
	}
	return "idle"
}

// TranscriptChunk is one transcript fragment as it arrived from the
// transcriber. Timestamp is Unix milliseconds at arrival.
type TranscriptChunk struct {
	CallID    string `json:"call_id"`
	Text      string `json:"transcript_chunk"`
	Timestamp int64  `json:"timestamp"`
}

type EventKind int

const (
	EventState EventKind = iota
	EventConnection
	EventTranscript
	EventLevel
)

// Event notifies a UI about something the controller observed. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	State      State
	Connection transport.State
	Chunk      TranscriptChunk
	Level      float64
}

const eventBuffer = 64

type Config struct {
	// Endpoint is the transcriber websocket URL.
	Endpoint      string
	DeviceName    string
	Dialer        transport.Dialer
	RetryInterval time.Duration
	Metrics       *metrics.Metrics
	// Now stamps transcript chunks. Defaults to time.Now.
	Now func() time.Time
	// Tap sees every captured frame, forwarded or not. It runs on the
	// capture goroutine and must not block.
	Tap func(audio.Frame)
}

// Controller runs one recording at a time: it owns the capture source and
// the transport session for that recording and tears both down on Stop.
type Controller struct {
	actx audio.Context
	cfg  Config

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	callID      string
	customerID  string
	source      *audio.Source
	session     *transport.Session
	transcripts []TranscriptChunk
	forwarding  bool
	frames      int
	lastStats   transport.Stats

	events chan Event
}

func New(actx audio.Context, cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		actx:       actx,
		cfg:        cfg,
		forwarding: true,
		events:     make(chan Event, eventBuffer),
	}
}

// Start begins capturing for callID. It is a no-op while already
// capturing. Capture acquisition errors are returned and leave the
// controller idle with nothing allocated; connection problems never fail
// Start.
func (c *Controller) Start(callID, customerID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == Capturing {
		c.mu.Unlock()
		return nil
	}
	c.transcripts = nil
	c.frames = 0
	c.mu.Unlock()

	source := audio.NewSource(c.actx, c.cfg.DeviceName)
	if err := source.Acquire(); err != nil {
		log.Errorf("start %s: %v", callID, err)
		return err
	}

	session := transport.New(transport.Config{
		Endpoint:      c.cfg.Endpoint,
		Dialer:        c.cfg.Dialer,
		RetryInterval: c.cfg.RetryInterval,
		Metrics:       c.cfg.Metrics,
	})
	session.OnStateChange(func(st transport.State) {
		c.emit(Event{Kind: EventConnection, Connection: st})
	})
	session.OnMessage(func(in transport.Inbound) {
		c.receive(session, in)
	})

	c.mu.Lock()
	c.state = Capturing
	c.callID = callID
	c.customerID = customerID
	c.source = source
	c.session = session
	c.mu.Unlock()

	source.OnFrame(func(frame audio.Frame) {
		c.forward(session, callID, customerID, frame)
	})
	session.Connect()
	session.StartRetry()

	if m := c.cfg.Metrics; m != nil {
		m.Recording.Set(1)
	}
	log.SessionStart(callID, customerID, source.DeviceName(), session.Endpoint())
	c.emit(Event{Kind: EventState, State: Capturing})
	return nil
}

func (c *Controller) forward(session *transport.Session, callID, customerID string, frame audio.Frame) {
	c.mu.Lock()
	forwarding := c.forwarding
	c.frames++
	c.mu.Unlock()

	if m := c.cfg.Metrics; m != nil {
		m.FramesCaptured.Inc()
	}
	c.emit(Event{Kind: EventLevel, Level: rms(frame)})
	if c.cfg.Tap != nil {
		c.cfg.Tap(frame)
	}
	if !forwarding {
		return
	}
	session.Send(encoder.Encode(callID, customerID, frame))
}

func (c *Controller) receive(session *transport.Session, in transport.Inbound) {
	if in.TranscriptChunk == "" {
		return
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	chunk := TranscriptChunk{
		CallID:    in.CallID,
		Text:      in.TranscriptChunk,
		Timestamp: c.cfg.Now().UnixMilli(),
	}
	c.transcripts = append(c.transcripts, chunk)
	c.mu.Unlock()

	if m := c.cfg.Metrics; m != nil {
		m.TranscriptChunks.Inc()
	}
	log.TranscriptChunk(chunk.CallID, chunk.Text)
	c.emit(Event{Kind: EventTranscript, Chunk: chunk})
}

// Stop ends the recording. Teardown runs in reverse order of setup: the
// retry timer, the frame wiring, the capture device, then the connection.
// It never waits for the remote close handshake and is safe to call at any
// time, any number of times.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	source, session := c.source, c.session
	callID := c.callID
	c.mu.Unlock()

	session.StopRetry()
	source.Detach()
	source.Release()
	session.Close()

	stats := session.Stats()

	c.mu.Lock()
	c.state = Idle
	c.source = nil
	c.session = nil
	c.lastStats = stats
	chunks := len(c.transcripts)
	frames := c.frames
	c.mu.Unlock()

	if m := c.cfg.Metrics; m != nil {
		m.Recording.Set(0)
	}
	log.StreamMetrics(log.StreamMetricsData{
		ConnectAttempts:   stats.ConnectAttempts,
		SentFrames:        stats.SentFrames,
		SentKB:            float64(stats.SentBytes) / 1024,
		DroppedFrames:     stats.DroppedFrames,
		RecvMessages:      stats.RecvMessages,
		MalformedMessages: stats.MalformedMessages,
		AudioS:            float64(frames*encoder.ChunkSize) / encoder.SampleRate,
	})
	log.SessionEnd(callID, chunks)
	c.emit(Event{Kind: EventState, State: Idle})
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connection reports the status of the current recording's connection.
// It is Disconnected while idle.
func (c *Controller) Connection() transport.State {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return transport.Disconnected
	}
	return session.State()
}

// Stats returns the live counters while capturing, or the final counters
// of the last recording while idle.
func (c *Controller) Stats() transport.Stats {
	c.mu.Lock()
	session := c.session
	last := c.lastStats
	c.mu.Unlock()
	if session == nil {
		return last
	}
	return session.Stats()
}

// Transcripts returns a copy of the chunks received since the last Start.
func (c *Controller) Transcripts() []TranscriptChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TranscriptChunk(nil), c.transcripts...)
}

func (c *Controller) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

func (c *Controller) DeviceName() string {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()
	if source == nil {
		return ""
	}
	return source.DeviceName()
}

// SetForwarding pauses or resumes sending captured frames. Capture and the
// connection keep running while paused.
func (c *Controller) SetForwarding(on bool) {
	c.mu.Lock()
	c.forwarding = on
	c.mu.Unlock()
}

func (c *Controller) Forwarding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forwarding
}

// Events delivers notifications for UIs. Events are dropped when the
// reader falls behind.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
