package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"danmud/internal/worker/workertest"
	"danmud/pkg/types"
)

func TestManagerCloseTerminatesUnits(t *testing.T) {
	r := newRig(t, func(c *ManagerConfig) { c.Workers = 2 })
	r.start(t)
	if err := r.m.Close(testCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, p := range r.sp.Peers() {
		select {
		case <-p.Exited():
		case <-time.After(time.Second):
			t.Fatalf("peer %d still running after Close", p.Spec.Index)
		}
	}
	if r.m.Ready() {
		t.Fatalf("ready after Close")
	}
	if _, err := r.m.Route(testCtx(t), types.Request{Method: "GET", URL: "/"}); !IsServiceUnavailable(err) {
		t.Fatalf("Route after Close: %v", err)
	}
	if r.m.Reload(ReasonManual) {
		t.Fatalf("Reload accepted after Close")
	}
	if _, err := r.m.ReplaceEnv(testCtx(t), map[string]string{"A": "1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("ReplaceEnv after Close: %v", err)
	}
	// second Close is a no-op
	if err := r.m.Close(testCtx(t)); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestManagerCloseWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	r := newRig(t, nil)
	r.sp.Handler = func(_ *workertest.Peer, req types.Request) (types.Response, error) {
		<-release
		return types.Response{Status: 200}, nil
	}
	r.start(t)

	done := make(chan error, 1)
	go func() {
		_, err := r.m.Route(context.Background(), types.Request{Method: "GET", URL: "/slow"})
		done <- err
	}()
	peer := r.sp.Peers()[0]
	waitFor(t, "request in flight", func() bool { return peer.Active() == 1 })

	closed := make(chan error, 1)
	go func() { closed <- r.m.Close(context.Background()) }()
	select {
	case <-closed:
		t.Fatalf("Close returned with a request in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight request failed: %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
	if peer.ActiveAtExit() != 0 {
		t.Fatalf("unit stopped with %d requests running", peer.ActiveAtExit())
	}
}

func TestManagerCloseDeadlineForcesTermination(t *testing.T) {
	r := newRig(t, nil)
	block := make(chan struct{})
	defer close(block)
	r.sp.Handler = func(_ *workertest.Peer, _ types.Request) (types.Response, error) {
		<-block
		return types.Response{Status: 200}, nil
	}
	r.start(t)
	go func() { _, _ = r.m.Route(context.Background(), types.Request{Method: "GET", URL: "/stuck"}) }()
	peer := r.sp.Peers()[0]
	waitFor(t, "request in flight", func() bool { return peer.Active() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.m.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err = %v, want deadline exceeded", err)
	}
	if u := peer.Unit(); u.Alive() {
		t.Fatalf("unit alive after forced close")
	}
}
