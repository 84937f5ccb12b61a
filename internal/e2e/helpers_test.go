package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"danmud/internal/envstore"
	"danmud/internal/httpapi"
	"danmud/internal/manager"
	"danmud/internal/variant"
	"danmud/internal/worker/workertest"
)

// newServer starts a manager over in-process workers behind the real mux.
func newServer(t *testing.T, sp *workertest.Spawner, tweak func(*manager.ManagerConfig)) (*httptest.Server, *manager.Manager) {
	t.Helper()
	store := envstore.New(envstore.FromMap(map[string]string{"TOKEN": "t0"}), nil)
	t.Cleanup(store.Close)
	cfg := manager.ManagerConfig{
		Spawner:        sp,
		Resolver:       variant.Resolver{Root: t.TempDir()},
		Store:          store,
		RequestTimeout: 2 * time.Second,
		StopGrace:      100 * time.Millisecond,
		Watch:          manager.WatchConfig{Disabled: true},
	}
	if tweak != nil {
		tweak(&cfg)
	}
	mgr, err := manager.NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return srv, mgr
}

func start(t *testing.T, mgr *manager.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func httpDo(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
