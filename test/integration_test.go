//go:build integration

package test_test

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("SCRIBE_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "SCRIBE_TEST_BIN not set; build scribe and point SCRIBE_TEST_BIN at it")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startDevserver runs scribe devserver and waits for its health check.
func startDevserver(t *testing.T) string {
	t.Helper()
	addr := freeAddr(t)
	cmd := exec.Command(testBinary, "devserver", "--addr", addr)
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cmd.Process.Signal(os.Interrupt)
		cmd.Wait()
	})

	url := "http://" + addr
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			return url
		}
		if time.Now().After(deadline) {
			t.Fatalf("devserver not healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

type recording struct {
	cmd    *exec.Cmd
	lines  chan string
	logDir string
}

func startRecording(t *testing.T, serverURL string, args ...string) *recording {
	t.Helper()
	logDir := t.TempDir()
	cmdArgs := append([]string{
		"record", "--no-tui",
		"--backend", "tone",
		"--server-url", serverURL,
		"--retry-interval", "200ms",
		"--logpath", logDir,
	}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+t.TempDir())
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	r := &recording{cmd: cmd, lines: make(chan string, 256), logDir: logDir}
	go func() {
		defer close(r.lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			r.lines <- scanner.Text()
		}
	}()
	return r
}

// waitLine returns the first output line containing substr.
func (r *recording) waitLine(t *testing.T, substr string, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				t.Fatalf("scribe exited before printing %q", substr)
			}
			if strings.Contains(line, substr) {
				return line
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", substr)
		}
	}
}

func (r *recording) interrupt(t *testing.T) {
	t.Helper()
	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- r.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("scribe exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		r.cmd.Process.Kill()
		t.Fatal("scribe did not exit after interrupt")
	}
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestStreamsToDevserver(t *testing.T) {
	url := startDevserver(t)
	r := startRecording(t, url, "--call-id", "it-call")

	r.waitLine(t, "[connected]", 5*time.Second)
	chunk := r.waitLine(t, "of audio", 10*time.Second)
	if !strings.Contains(chunk, "3.1s") {
		t.Errorf("unexpected chunk line %q", chunk)
	}
	r.interrupt(t)

	transcript := readLog(t, r.logDir, "transcript_log.txt")
	if !strings.Contains(transcript, "it-call") {
		t.Errorf("transcript_log.txt missing chunk:\n%s", transcript)
	}
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "stream_metrics", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics_log.txt missing %q", want)
		}
	}
}

func TestDropsWhileServerDown(t *testing.T) {
	r := startRecording(t, "http://"+freeAddr(t))

	r.waitLine(t, "recording call", 5*time.Second)
	time.Sleep(2 * time.Second)
	r.interrupt(t)

	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "dropped_frames") {
		t.Fatalf("no stream metrics logged:\n%s", diag)
	}
	if strings.Contains(diag, "dropped_frames=0 ") {
		t.Errorf("frames were not dropped while the server was down:\n%s", diag)
	}
	if n := strings.Count(diag, "state=connecting"); n < 2 {
		t.Errorf("expected repeated reconnect attempts, saw %d", n)
	}
}

func TestReconnectsWhenServerAppears(t *testing.T) {
	addr := freeAddr(t)
	r := startRecording(t, "http://"+addr)
	r.waitLine(t, "recording call", 5*time.Second)
	time.Sleep(500 * time.Millisecond)

	cmd := exec.Command(testBinary, "devserver", "--addr", addr)
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cmd.Process.Signal(os.Interrupt)
		cmd.Wait()
	})

	r.waitLine(t, "[connected]", 5*time.Second)
	r.waitLine(t, "of audio", 10*time.Second)
	r.interrupt(t)
}
