package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scribe/log"
)

// Metrics holds the capture pipeline's Prometheus collectors. Each instance
// owns its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	FramesCaptured   prometheus.Counter
	FramesSent       prometheus.Counter
	FramesDropped    prometheus.Counter
	BytesSent        prometheus.Counter
	ConnectAttempts  prometheus.Counter
	TranscriptChunks prometheus.Counter
	MalformedInbound prometheus.Counter
	ConnectionState  prometheus.Gauge
	Recording        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_captured_total",
			Help: "Audio frames delivered by the capture source",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_sent_total",
			Help: "Encoded frames written to the transcriber connection",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_dropped_total",
			Help: "Frames dropped because the connection was down or backed up",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_bytes_sent_total",
			Help: "Bytes of wire messages written to the transcriber",
		}),
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_connect_attempts_total",
			Help: "Websocket connection attempts",
		}),
		TranscriptChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcript_chunks_total",
			Help: "Transcript chunks received",
		}),
		MalformedInbound: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_malformed_messages_total",
			Help: "Inbound messages that were not valid JSON",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_connection_state",
			Help: "0 disconnected, 1 connecting, 2 connected",
		}),
		Recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_recording",
			Help: "1 while capturing",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening on " + addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
