package doctor

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scribe/audio"
	"scribe/devserver"
)

func TestRunAllPass(t *testing.T) {
	srv := httptest.NewServer(devserver.New(nil).Handler())
	defer srv.Close()

	var out bytes.Buffer
	code := Run(Options{
		Audio:      audio.NewFakeContext(audio.Tone(440, 0.3, 5*time.Second), false),
		ServerURL:  srv.URL,
		Out:        &out,
		CaptureFor: 100 * time.Millisecond,
	})
	if code != 0 {
		t.Fatalf("Run = %d, output:\n%s", code, out.String())
	}
	for _, want := range []string{"[1/3]", "[2/3]", "[3/3]", "All checks passed!"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunReportsFailures(t *testing.T) {
	srv := httptest.NewServer(devserver.New(nil).Handler())
	url := srv.URL
	srv.Close()

	fake := audio.NewFakeContext(nil, false)
	fake.SetDevices(nil)

	var out bytes.Buffer
	code := Run(Options{
		Audio:          fake,
		ServerURL:      url,
		Out:            &out,
		CaptureFor:     10 * time.Millisecond,
		ConnectTimeout: 200 * time.Millisecond,
	})
	if code != 1 {
		t.Fatalf("Run = %d, want 1", code)
	}
	got := out.String()
	if !strings.Contains(got, "No microphone found. Please connect a microphone.") {
		t.Errorf("missing device message:\n%s", got)
	}
	if strings.Count(got, "FAIL") != 3 {
		t.Errorf("want 3 failures:\n%s", got)
	}
}

func TestHealthURLs(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want []string
	}{
		{"https://app.example.com/page?q=1", []string{"https://app.example.com/api/transcriber/health", "https://app.example.com/health"}},
		{"ws://localhost:8000", []string{"http://localhost:8000/api/transcriber/health", "http://localhost:8000/health"}},
	} {
		got, err := healthURLs(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Join(got, " ") != strings.Join(tt.want, " ") {
			t.Errorf("healthURLs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
