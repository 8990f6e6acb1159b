package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"scribe/audio"
	"scribe/encoder"
	"scribe/transport"
)

type Options struct {
	Audio      audio.Context
	Device     string
	ServerURL  string
	Out        io.Writer
	Dialer     transport.Dialer
	HTTPClient *http.Client
	// CaptureFor is how long the microphone check records.
	CaptureFor time.Duration
	// ConnectTimeout bounds the websocket check.
	ConnectTimeout time.Duration
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	if opts.CaptureFor <= 0 {
		opts.CaptureFor = 2 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	out := opts.Out

	fmt.Fprintln(out, "scribe doctor - system diagnostics")
	fmt.Fprintln(out, "==================================")

	allPass := true
	if !checkMicrophone(opts) {
		allPass = false
	}
	if !checkHealth(opts) {
		allPass = false
	}
	if !checkStream(opts) {
		allPass = false
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func checkMicrophone(opts Options) bool {
	out := opts.Out
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[1/3] Microphone")

	devices, err := opts.Audio.Devices()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: cannot list devices: %v\n", err)
		return false
	}
	for _, d := range devices {
		fmt.Fprintf(out, "  found: %s\n", d.Name)
	}

	src := audio.NewSource(opts.Audio, opts.Device)
	if err := src.Acquire(); err != nil {
		fmt.Fprintf(out, "  FAIL: %s\n", audio.UserMessage(err))
		return false
	}
	defer src.Release()
	fmt.Fprintf(out, "  Recording from %s for %.1fs...\n", src.DeviceName(), opts.CaptureFor.Seconds())

	var mu sync.Mutex
	var frames int
	var peak float32
	src.OnFrame(func(f audio.Frame) {
		mu.Lock()
		frames++
		for _, s := range f {
			if s < 0 {
				s = -s
			}
			peak = max(peak, s)
		}
		mu.Unlock()
	})

	time.Sleep(opts.CaptureFor)
	src.Detach()

	mu.Lock()
	defer mu.Unlock()
	if frames == 0 {
		fmt.Fprintln(out, "  FAIL: no audio frames captured")
		return false
	}
	fmt.Fprintf(out, "  PASS: %d frames of %d samples, peak level %.3f\n", frames, encoder.ChunkSize, peak)
	if peak < 0.001 {
		fmt.Fprintln(out, "  Warning: input is silent; check the microphone is not muted")
	}
	return true
}

// healthURLs lists where the transcriber's health endpoint may live: behind
// the app's API prefix, or at the root when talking to the service directly.
func healthURLs(serverURL string) ([]string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.RawQuery, u.Fragment = "", ""
	var urls []string
	for _, p := range []string{"/api/transcriber/health", "/health"} {
		u.Path = p
		urls = append(urls, u.String())
	}
	return urls, nil
}

func checkHealth(opts Options) bool {
	out := opts.Out
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[2/3] Transcriber health")

	urls, err := healthURLs(opts.ServerURL)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: bad server url: %v\n", err)
		return false
	}
	var lastErr error
	for _, u := range urls {
		status, err := fetchHealth(opts.HTTPClient, u)
		if err != nil {
			lastErr = err
			continue
		}
		fmt.Fprintf(out, "  PASS: %s reports %q\n", u, status)
		return true
	}
	fmt.Fprintf(out, "  FAIL: %v\n", lastErr)
	return false
}

func fetchHealth(client *http.Client, u string) (string, error) {
	resp, err := client.Get(u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: HTTP %d", u, resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%s: %w", u, err)
	}
	if body.Status != "healthy" {
		return "", fmt.Errorf("%s: status %q", u, body.Status)
	}
	return body.Status, nil
}

func checkStream(opts Options) bool {
	out := opts.Out
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[3/3] Streaming connection")

	endpoint, err := transport.Endpoint(opts.ServerURL)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return false
	}
	fmt.Fprintf(out, "  Connecting to %s...\n", endpoint)

	sess := transport.New(transport.Config{Endpoint: endpoint, Dialer: opts.Dialer})
	defer sess.Close()

	connected := make(chan struct{})
	var once sync.Once
	sess.OnStateChange(func(st transport.State) {
		if st == transport.Connected {
			once.Do(func() { close(connected) })
		}
	})
	sess.Connect()

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	select {
	case <-connected:
	case <-ctx.Done():
		fmt.Fprintf(out, "  FAIL: not connected after %v\n", opts.ConnectTimeout)
		return false
	}

	if !sess.Send(encoder.Encode("doctor", "doctor", make([]float32, encoder.ChunkSize))) {
		fmt.Fprintln(out, "  FAIL: connection dropped before a frame could be sent")
		return false
	}
	fmt.Fprintln(out, "  PASS: connected and sent one silent frame")
	return true
}
