package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"danmud/internal/envstore"
	"danmud/internal/variant"
	"danmud/pkg/types"
)

// buildFakeWorker builds the protocol-speaking fake used by process tests.
func buildFakeWorker(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake_worker")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_worker.go")
	cmd.Dir = "."
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake worker: %v: %s", err, string(out))
	}
	return bin
}

func fakeSpawner(t *testing.T, bin, mode string, onLog LogFunc) *ProcessSpawner {
	t.Helper()
	sp, err := NewProcessSpawner(ProcessConfig{
		Bin:            bin,
		StartupTimeout: 3 * time.Second,
		StopGrace:      time.Second,
		ExtraEnv:       []string{"FAKE_WORKER_MODE=" + mode},
		OnLog:          onLog,
	})
	if err != nil {
		t.Fatalf("NewProcessSpawner: %v", err)
	}
	return sp
}

func fakeSpec(t *testing.T) Spec {
	dir := t.TempDir()
	r := variant.Resolver{Root: dir}
	v := r.For(variant.Stable)
	if err := os.MkdirAll(v.BaseDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return Spec{Generation: 2, Index: 0, Variant: v, Env: envstore.FromPairs(envstore.Entry{Key: "TOKEN", Value: "abc"})}
}

func TestProcessSpawnSubmitTerminate(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := buildFakeWorker(t)
	var mu sync.Mutex
	var logs []LogEvent
	sp := fakeSpawner(t, bin, "ok", func(ev LogEvent) {
		mu.Lock()
		logs = append(logs, ev)
		mu.Unlock()
	})
	spec := fakeSpec(t)
	u, err := sp.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if u.PID() <= 0 {
		t.Fatalf("pid not set: %d", u.PID())
	}
	resp, err := u.Submit(context.Background(), types.Request{Method: "POST", URL: "http://h/x", Body: []byte("hi"), ClientIP: "10.0.0.2"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var body struct {
		Body     string            `json:"body"`
		ClientIP string            `json:"clientIp"`
		Env      map[string]string `json:"env"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Body != "hi" || body.ClientIP != "10.0.0.2" || body.Env["TOKEN"] != "abc" {
		t.Fatalf("unexpected echo: %+v", body)
	}

	if err := u.SetEnv(envstore.FromPairs(envstore.Entry{Key: "TOKEN", Value: "def"})); err != nil {
		t.Fatalf("SetEnv: %v", err)
	}
	resp, err = u.Submit(context.Background(), types.Request{Method: "GET", URL: "http://h/y"})
	if err != nil {
		t.Fatalf("Submit after SetEnv: %v", err)
	}
	if !strings.Contains(string(resp.Body), `"TOKEN":"def"`) {
		t.Fatalf("env push not visible: %s", resp.Body)
	}

	if err := u.Terminate(time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-u.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("unit did not close after terminate")
	}
	mu.Lock()
	defer mu.Unlock()
	var sawStdout, sawEntry bool
	for _, ev := range logs {
		if ev.Message == "fake worker starting" && ev.Level == "info" {
			sawStdout = true
		}
		if strings.HasPrefix(ev.Message, "entry ") && strings.HasSuffix(ev.Message, "worker.js") {
			sawEntry = true
		}
	}
	if !sawStdout || !sawEntry {
		t.Fatalf("missing log events: %+v", logs)
	}
}

func TestProcessSpawnExitEarlyKeepsStderrTail(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := buildFakeWorker(t)
	sp := fakeSpawner(t, bin, "exit_early", nil)
	_, err := sp.Spawn(context.Background(), fakeSpec(t))
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if !strings.Contains(se.StderrTail, "SyntaxError") {
		t.Fatalf("stderr tail missing: %q", se.StderrTail)
	}
}

func TestProcessSpawnNeverReadyTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := buildFakeWorker(t)
	sp, err := NewProcessSpawner(ProcessConfig{
		Bin:            bin,
		StartupTimeout: 200 * time.Millisecond,
		StopGrace:      100 * time.Millisecond,
		ExtraEnv:       []string{"FAKE_WORKER_MODE=never_ready"},
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, err = sp.Spawn(context.Background(), fakeSpec(t))
	if !IsSpawnError(err) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("spawn failure took too long: %v", time.Since(start))
	}
}

func TestProcessCrashOnRequest(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := buildFakeWorker(t)
	exits := make(chan error, 1)
	sp, err := NewProcessSpawner(ProcessConfig{
		Bin:            bin,
		StartupTimeout: 3 * time.Second,
		StopGrace:      time.Second,
		ExtraEnv:       []string{"FAKE_WORKER_MODE=crash_on_request"},
		OnExit:         func(_ Spec, _ int, err error) { exits <- err },
	})
	if err != nil {
		t.Fatal(err)
	}
	u, err := sp.Spawn(context.Background(), fakeSpec(t))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	_, err = u.Submit(context.Background(), types.Request{Method: "GET", URL: "http://h/"})
	if !IsCommunicationError(err) {
		t.Fatalf("expected CommunicationError, got %v", err)
	}
	select {
	case err := <-exits:
		if err == nil {
			t.Fatal("expected non-zero exit")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("exit not observed")
	}
	if u.Terminating() {
		t.Fatal("crash reported as termination")
	}
}

func TestNewProcessSpawnerRequiresBin(t *testing.T) {
	if _, err := NewProcessSpawner(ProcessConfig{}); err == nil {
		t.Fatal("expected error for empty bin")
	}
}

func TestBootstrapArgs(t *testing.T) {
	sp, err := NewProcessSpawner(ProcessConfig{Bin: "node", Args: []string{"--no-warnings"}, UseBootstrap: true})
	if err != nil {
		t.Fatal(err)
	}
	args := sp.args()
	if len(args) != 3 || args[0] != "--no-warnings" || args[1] != "-e" {
		t.Fatalf("args = %q", args)
	}
	src := BootstrapSource()
	for _, want := range []string{"DANMUD_ENTRY", "'setEnv'", "'ready'", "getSetCookie", "handleRequest"} {
		if !strings.Contains(src, want) {
			t.Fatalf("bootstrap missing %q", want)
		}
	}
}
