//go:build unix

package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"danmud/pkg/types"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T, out, pkg string) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), out)
	cmd := exec.Command("go", "build", "-o", binPath, pkg)
	cmd.Dir = projectRootFromThisFile(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, b)
	}
	return binPath
}

type serverProc struct {
	cmd  *exec.Cmd
	base string
	done chan error
}

func startServer(t *testing.T, bin, worker, root, envFile string, port int) *serverProc {
	t.Helper()
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cmd := exec.Command(bin, "serve",
		"--addr", fmt.Sprintf("127.0.0.1:%d", port),
		"--variants-root", root,
		"--env-file", envFile,
		"--worker-command", worker,
		"--admin-token", "s3cret",
		"--force-poll",
		"--log-level", "warn",
	)
	cmd.Env = append(os.Environ(), "DANMUD_DEBOUNCE=100ms", "DANMUD_POLL_INTERVAL=50ms")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	sp := &serverProc{cmd: cmd, base: base, done: make(chan error, 1)}
	go func() { sp.done <- cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/_danmud/readyz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return sp
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become ready in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func do(t *testing.T, method, url, token string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func status(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	_, b := do(t, http.MethodGet, base+"/_danmud/status", "", nil)
	var st types.StatusResponse
	if err := json.Unmarshal(b, &st); err != nil {
		t.Fatalf("status json: %v: %s", err, b)
	}
	return st
}

func TestBlackbox_ServeReloadShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("builds binaries")
	}
	bin := buildBinary(t, "danmud", "./cmd/danmud")
	worker := buildBinary(t, "fake_worker", "./internal/worker/testdata/fake_worker.go")

	dir := t.TempDir()
	root := filepath.Join(dir, "variants")
	stableDir := filepath.Join(root, "danmu_api_stable")
	if err := os.MkdirAll(stableDir, 0o755); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("TOKEN=t0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sp := startServer(t, bin, worker, root, envFile, findFreePort(t))

	resp, body := do(t, http.MethodGet, sp.base+"/api/v2/search/anime?keyword=x", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "keyword=x") {
		t.Fatalf("forward %d %s", resp.StatusCode, body)
	}

	// mutating admin routes need the token
	resp, _ = do(t, http.MethodPut, sp.base+"/_danmud/env", "", types.EnvResponse{Env: map[string]string{"TOKEN": "t1"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated PUT /env status=%d", resp.StatusCode)
	}
	resp, body = do(t, http.MethodPut, sp.base+"/_danmud/env", "s3cret", types.EnvResponse{Env: map[string]string{"TOKEN": "t1"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /env status=%d body=%s", resp.StatusCode, body)
	}
	persisted, err := os.ReadFile(envFile)
	if err != nil || !strings.Contains(string(persisted), "TOKEN=t1") {
		t.Fatalf("env file %q err=%v", persisted, err)
	}

	// a change under the variant tree triggers a hot reload
	if err := os.WriteFile(filepath.Join(stableDir, "worker.js"), []byte("// v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		st := status(t, sp.base)
		if st.ServingGeneration >= 2 && len(st.Generations) == 1 {
			if st.WatchMode != "poll" {
				t.Fatalf("watch mode %q", st.WatchMode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no reload after file change: %+v", st)
		}
		time.Sleep(50 * time.Millisecond)
	}
	resp, _ = do(t, http.MethodGet, sp.base+"/api/v2/comment/1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forward after reload status=%d", resp.StatusCode)
	}

	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case err := <-sp.done:
		if err != nil {
			t.Fatalf("exit after SIGTERM: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not exit after SIGTERM")
	}
}
