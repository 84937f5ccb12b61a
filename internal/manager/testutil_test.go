package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"danmud/internal/envstore"
	"danmud/internal/variant"
	"danmud/internal/watch"
	"danmud/internal/worker/workertest"
)

type testRig struct {
	m     *Manager
	sp    *workertest.Spawner
	store *envstore.Store
	pub   *MemoryPublisher
	clock *clock.Mock
	root  string
}

// newRig builds a manager over the in-process spawner. tweak may adjust the
// config before construction.
func newRig(t *testing.T, tweak func(*ManagerConfig)) *testRig {
	t.Helper()
	root := t.TempDir()
	store := envstore.New(envstore.FromPairs(envstore.Entry{Key: "TOKEN", Value: "t0"}), nil)
	t.Cleanup(store.Close)
	r := &testRig{
		sp:    &workertest.Spawner{},
		store: store,
		pub:   NewMemoryPublisher(),
		clock: clock.NewMock(),
		root:  root,
	}
	cfg := ManagerConfig{
		Spawner:        r.sp,
		Resolver:       variant.Resolver{Root: root},
		Store:          store,
		RequestTimeout: 2 * time.Second,
		StopGrace:      100 * time.Millisecond,
		Debounce:       300 * time.Millisecond,
		Watch:          WatchConfig{Disabled: true},
		Clock:          r.clock,
		Publisher:      r.pub,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	m, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	r.m = m
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return r
}

func (r *testRig) start(t *testing.T) {
	t.Helper()
	if err := r.m.Start(testCtx(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
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

// serving returns the id of the serving generation (0 when none).
func serving(m *Manager) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.serving == nil {
		return 0
	}
	return m.serving.ID
}

// readyCount counts generations in the ready state.
func readyCount(m *Manager) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, g := range m.gens {
		if g.State() == GenReady {
			n++
		}
	}
	return n
}

// recordingWatchers is a WatchConfig.New that records the options of every
// watcher the manager starts. The watchers themselves only wait for ctx.
type recordingWatchers struct {
	mu   sync.Mutex
	opts []watch.Options
}

func (rw *recordingWatchers) New(o watch.Options) (watch.Watcher, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.opts = append(rw.opts, o)
	return idleWatcher{}, nil
}

// last returns the options of the most recently started watcher.
func (rw *recordingWatchers) last(t *testing.T) watch.Options {
	t.Helper()
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if len(rw.opts) == 0 {
		t.Fatal("no watcher started")
	}
	return rw.opts[len(rw.opts)-1]
}

type idleWatcher struct{}

func (idleWatcher) Mode() string { return "idle" }

func (idleWatcher) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
