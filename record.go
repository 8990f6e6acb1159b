package main

import (
	"context"
	"errors"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"scribe/audio"
	"scribe/config"
	"scribe/log"
	"scribe/metrics"
	"scribe/recorder"
	"scribe/shutdown"
	"scribe/transport"
	"scribe/voice"
)

type recordOptions struct {
	noTUI    bool
	start    bool
	autoStop bool
}

func (o *recordOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&o.noTUI, "no-tui", false, "record immediately and print transcript chunks to stdout until interrupted")
	f.BoolVar(&o.start, "start", false, "start recording as soon as the terminal UI opens")
	f.BoolVar(&o.autoStop, "auto-stop", false, "stop recording after 30s without voice")
}

// idSource hands out the ids for each recording. Without a configured
// call id every recording gets a fresh UUID; the customer id falls back to
// the call id.
type idSource struct {
	callID     string
	customerID string
}

func (s idSource) next() (callID, customerID string) {
	callID = s.callID
	if callID == "" {
		callID = uuid.NewString()
	}
	customerID = s.customerID
	if customerID == "" {
		customerID = callID
	}
	return callID, customerID
}

func runRecord(cmd *cobra.Command, cfgFile string, opts *recordOptions) error {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	endpoint, err := transport.Endpoint(cfg.ServerURL)
	if err != nil {
		return err
	}

	setupLogging(cfg.LogPath)
	defer log.Close()

	actx, err := openAudio(cfg)
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		return err
	}
	defer actx.Close()

	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	rcfg := recorder.Config{
		Endpoint:      endpoint,
		DeviceName:    cfg.Device,
		RetryInterval: cfg.RetryInterval,
		Metrics:       m,
	}
	det, err := voice.NewDetector()
	if err != nil {
		log.Warnf("voice detection disabled: %v", err)
	} else {
		rcfg.Tap = func(f audio.Frame) { det.Process(f) }
	}

	ctrl := recorder.New(actx, rcfg)
	defer ctrl.Stop()

	ids := idSource{callID: cfg.CallID, customerID: cfg.CustomerID}
	if opts.noTUI {
		return runHeadless(ctx, ctrl, det, opts.autoStop, ids, cmd.OutOrStdout())
	}
	return runTUI(ctx, ctrl, det, opts, ids, cfg)
}

// runHeadless records until ctx is cancelled or the recording ends by
// itself, printing connection changes and transcript chunks to out.
func runHeadless(ctx context.Context, ctrl *recorder.Controller, det *voice.Detector, autoStop bool, ids idSource, out io.Writer) error {
	sink := newLineSink(out)
	p := newPump(ctrl, det, autoStop, sink)
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.run(pumpCtx)

	callID, customerID := ids.next()
	if err := ctrl.Start(callID, customerID); err != nil {
		log.Errorf("start error: %v", err)
		return errors.New(audio.UserMessage(err))
	}

	select {
	case <-ctx.Done():
	case <-p.idle:
	}
	ctrl.Stop()
	cancel()
	<-p.done
	p.drain()
	return nil
}

func runTUI(ctx context.Context, ctrl *recorder.Controller, det *voice.Detector, opts *recordOptions, ids idSource, cfg *config.Config) error {
	model := newTUIModel(ctrl, ids, cfg)
	model.autoStart = opts.start
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	p := newPump(ctrl, det, opts.autoStop, &tuiSink{p: prog})
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.run(pumpCtx)

	_, err := prog.Run()
	ctrl.Stop()
	if err != nil && ctx.Err() == nil {
		log.Errorf("TUI error: %v", err)
		return err
	}
	return nil
}

// pump forwards controller events to a sink and runs silence detection
// while a recording is in progress.
type pump struct {
	ctrl     *recorder.Controller
	det      *voice.Detector
	autoStop bool
	sink     EventSink

	// idle receives a value each time a recording ends.
	idle chan struct{}
	done chan struct{}

	watchCancel context.CancelFunc
	watchDone   sync.WaitGroup
}

func newPump(ctrl *recorder.Controller, det *voice.Detector, autoStop bool, sink EventSink) *pump {
	return &pump{
		ctrl:     ctrl,
		det:      det,
		autoStop: autoStop,
		sink:     sink,
		idle:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (p *pump) run(ctx context.Context) {
	defer close(p.done)
	defer p.stopWatch()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.ctrl.Events():
			p.handle(ev)
		}
	}
}

// drain handles events still queued once run has returned, so the final
// state change reaches the sink.
func (p *pump) drain() {
	for {
		select {
		case ev := <-p.ctrl.Events():
			p.handle(ev)
		default:
			return
		}
	}
}

func (p *pump) handle(ev recorder.Event) {
	switch ev.Kind {
	case recorder.EventState:
		if ev.State == recorder.Capturing {
			p.startWatch()
			p.sink.RecordingStart(p.ctrl.CallID(), p.ctrl.DeviceName())
			return
		}
		p.stopWatch()
		p.sink.RecordingStop(p.ctrl.Stats())
		select {
		case p.idle <- struct{}{}:
		default:
		}
	case recorder.EventConnection:
		p.sink.Connection(ev.Connection, p.ctrl.Stats().DroppedFrames)
	case recorder.EventTranscript:
		p.sink.Transcript(ev.Chunk)
	case recorder.EventLevel:
		p.sink.AudioLevel(ev.Level)
	}
}

func (p *pump) startWatch() {
	if p.det == nil || p.watchCancel != nil {
		return
	}
	p.det.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	p.watchCancel = cancel
	mon := voice.NewMonitor(p.autoStop)
	p.watchDone.Add(1)
	go func() {
		defer p.watchDone.Done()
		voice.Watch(ctx, p.det, mon, p.onVoice)
	}()
}

func (p *pump) stopWatch() {
	if p.watchCancel == nil {
		return
	}
	p.watchCancel()
	p.watchCancel = nil
	p.watchDone.Wait()
	p.sink.NoVoiceWarning(false)
}

func (p *pump) onVoice(ev voice.Event) {
	switch ev {
	case voice.Warn:
		log.Info("no_voice_warning")
		p.sink.NoVoiceWarning(true)
	case voice.Repeat:
		log.Info("silence_during_warning")
		p.sink.NoVoiceWarning(true)
	case voice.WarnClear:
		log.Info("voice_resumed")
		p.sink.NoVoiceWarning(false)
	case voice.AutoStop:
		log.Info("silence_auto_stop")
		go p.ctrl.Stop()
	}
}
