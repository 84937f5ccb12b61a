package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"danmud/internal/envstore"
	"danmud/internal/variant"
	"danmud/internal/watch"
	"danmud/internal/worker"
	"danmud/pkg/types"
)

type Manager struct {
	cfg       ManagerConfig
	log       zerolog.Logger
	publisher EventPublisher

	// mu guards the serving handle and the generation list. Route holds it
	// for reading only long enough to take a reference.
	mu      sync.RWMutex
	state   State
	serving *Generation
	gens    []*Generation
	target  variant.Variant
	lastErr string

	nextGen atomic.Uint64

	// envMu serializes env snapshot writes with their persistence.
	envMu sync.Mutex

	// buildMu serializes generation builds (reloads and variant switches).
	buildMu sync.Mutex

	// reload coordinator
	trigger   chan string
	debouncer *watch.Debouncer
	jobSeq    atomic.Uint64
	jobMu     sync.Mutex
	lastJob   *ReloadJob
	owed      *ReloadJob
	swapped   atomic.Uint64
	failed    atomic.Uint64

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchMode   string

	runCtx      context.Context
	runCancel   context.CancelFunc
	loopDone    chan struct{}
	unsubscribe func()
	drains      sync.WaitGroup
	closeOnce   sync.Once

	startTime time.Time
}

// SetEventPublisher installs an EventPublisher. Nil restores the noop default.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	p.Publish(e)
}

// Start resolves the active variant, builds and promotes the first
// generation, and starts env propagation, the reload coordinator and the
// file watcher. A spawn failure here is returned to the caller.
func (m *Manager) Start(ctx context.Context) error {
	v, err := m.resolveTarget()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.target = v
	m.mu.Unlock()

	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	m.unsubscribe = m.cfg.Store.Subscribe(m.onEnv)

	m.buildMu.Lock()
	g, err := m.build(ctx, v)
	if err != nil {
		m.buildMu.Unlock()
		m.unsubscribe()
		m.runCancel()
		m.mu.Lock()
		m.state = StateUnavailable
		m.lastErr = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("start first generation: %w", err)
	}
	m.promote(g)
	m.buildMu.Unlock()

	m.loopDone = make(chan struct{})
	go m.loop(m.runCtx)
	m.startWatcher(v)
	m.log.Info().Uint64("gen", g.ID).Str("variant", v.Kind.String()).Str("dir", v.BaseDir).Msg("serving")
	return nil
}

// resolveTarget reads the variant from the env snapshot when the marker
// lives in the env file, otherwise from the marker file.
func (m *Manager) resolveTarget() (variant.Variant, error) {
	r := m.cfg.Resolver
	if r.MarkerFile == "" || r.MarkerFile == m.cfg.EnvFile {
		return r.FromEnv(m.cfg.Store.Get().Map()), nil
	}
	return r.Resolve()
}

// Ready reports whether a generation is serving.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serving != nil && m.state == StateReady
}

// Variant returns the variant new generations are built from.
func (m *Manager) Variant() variant.Variant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.target
}

// Env returns the current snapshot and its version.
func (m *Manager) Env() (envstore.Snapshot, uint64) { return m.cfg.Store.Current() }

// Installed lists the variants present under the resolver root.
func (m *Manager) Installed() ([]variant.Kind, error) { return variant.Installed(m.cfg.Resolver.Root) }

// Route forwards req to the serving generation. With nothing serving it
// fails immediately with a service-unavailable error.
func (m *Manager) Route(ctx context.Context, req types.Request) (types.Response, error) {
	m.mu.RLock()
	g := m.serving
	if g == nil || m.state != StateReady {
		m.mu.RUnlock()
		err := ErrServiceUnavailable("no ready generation")
		routeTotal.WithLabelValues(routeResult(err)).Inc()
		return types.Response{}, err
	}
	g.acquire()
	m.mu.RUnlock()
	defer g.release()

	u := g.pick()
	if u == nil {
		err := ErrServiceUnavailable(fmt.Sprintf("generation %d has no live worker", g.ID))
		routeTotal.WithLabelValues(routeResult(err)).Inc()
		return types.Response{}, err
	}
	routeInflight.Inc()
	defer routeInflight.Dec()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	resp, err := u.Submit(ctx, req)
	routeTotal.WithLabelValues(routeResult(err)).Inc()
	if err != nil {
		m.log.Debug().Err(err).Uint64("gen", g.ID).Int("unit", u.Index()).Str("method", req.Method).Str("url", req.URL).Msg("route failed")
	}
	return resp, err
}

// build spawns every unit of a new generation from the current snapshot.
// Callers hold buildMu. On failure nothing of the generation stays running.
func (m *Manager) build(ctx context.Context, v variant.Variant) (*Generation, error) {
	id := m.nextGen.Add(1)
	snap, ver := m.cfg.Store.Current()
	g := newGeneration(id, v, ver)
	m.mu.Lock()
	m.gens = append(m.gens, g)
	m.mu.Unlock()

	m.publish(Event{Name: EventSpawnStart, Generation: id, Fields: map[string]any{"variant": v.Kind.String(), "units": m.cfg.Workers}})
	m.log.Info().Uint64("gen", id).Str("variant", v.Kind.String()).Int("units", m.cfg.Workers).Msg("spawning generation")

	units := make([]*worker.Unit, m.cfg.Workers)
	eg, ectx := errgroup.WithContext(ctx)
	for i := range units {
		i := i
		eg.Go(func() error {
			u, err := m.cfg.Spawner.Spawn(ectx, worker.Spec{Generation: id, Index: i, Variant: v, Env: snap})
			if err != nil {
				return err
			}
			units[i] = u
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, u := range units {
			if u != nil {
				_ = u.Terminate(m.cfg.StopGrace)
			}
		}
		g.setState(GenTerminated)
		m.forget(g)
		m.publish(Event{Name: EventSpawnFailed, Generation: id, Fields: map[string]any{"error": err.Error()}})
		m.log.Error().Err(err).Uint64("gen", id).Msg("generation failed to start")
		return nil, err
	}
	g.setUnits(units)
	for _, u := range units {
		go m.watchUnit(g, u)
	}
	m.publish(Event{Name: EventSpawnReady, Generation: id})
	return g, nil
}

// promote makes g the serving generation and demotes the previous one in a
// single step under the write lock.
func (m *Manager) promote(g *Generation) {
	m.mu.Lock()
	old := m.serving
	g.setState(GenReady)
	if old != nil {
		old.setState(GenDraining)
	}
	m.serving = g
	m.state = StateReady
	m.mu.Unlock()

	var oldID uint64
	if old != nil {
		oldID = old.ID
	}
	m.publish(Event{Name: EventPromote, Generation: g.ID, Fields: map[string]any{"previous": oldID}})
	m.log.Info().Uint64("gen", g.ID).Uint64("previous", oldID).Msg("generation promoted")

	// pushes that raced with the build went only to the previous generation
	snap, ver := m.cfg.Store.Current()
	m.pushTo(g, snap, ver)

	if old != nil {
		m.drains.Add(1)
		go func() {
			defer m.drains.Done()
			m.drain(old)
		}()
	}
}

// drain waits for g's in-flight count to reach zero, then terminates it.
func (m *Manager) drain(g *Generation) {
	m.publish(Event{Name: EventDrainStart, Generation: g.ID, Fields: map[string]any{"inflight": g.Inflight()}})
	<-g.Idle()
	m.publish(Event{Name: EventDrainDone, Generation: g.ID})
	if err := g.terminate(m.cfg.StopGrace); err != nil {
		m.log.Warn().Err(err).Uint64("gen", g.ID).Msg("terminate returned error")
	}
	m.forget(g)
	m.publish(Event{Name: EventTerminate, Generation: g.ID})
	m.log.Info().Uint64("gen", g.ID).Msg("generation terminated")
}

func (m *Manager) forget(g *Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.gens {
		if x == g {
			m.gens = append(m.gens[:i], m.gens[i+1:]...)
			return
		}
	}
}

// watchUnit reports an unexpected exit of a unit. A crash in the serving
// generation schedules a reload through the debounced path.
func (m *Manager) watchUnit(g *Generation, u *worker.Unit) {
	<-u.Done()
	if u.Terminating() {
		return
	}
	err := u.Err()
	m.publish(Event{Name: EventUnitExit, Generation: g.ID, Fields: map[string]any{"unit": u.Index(), "pid": u.PID(), "error": errString(err)}})
	m.log.Error().Err(err).Uint64("gen", g.ID).Int("unit", u.Index()).Int("pid", u.PID()).Msg("worker exited unexpectedly")

	m.mu.Lock()
	serving := m.serving == g
	if serving {
		m.lastErr = errString(err)
		if !g.alive() {
			m.state = StateUnavailable
		}
	}
	m.mu.Unlock()
	if serving {
		m.debouncer.Touch(ReasonUnitExit)
	}
}

// Close stops the coordinator and watcher, drains every generation and
// terminates it. If ctx ends first the remaining units are terminated
// immediately.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.debouncer.Stop()
		m.stopWatcher()
		if m.runCancel != nil {
			m.runCancel()
		}
		if m.loopDone != nil {
			<-m.loopDone
		}
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		// a running build is done once buildMu is free
		m.buildMu.Lock()
		m.mu.Lock()
		m.state = StateClosed
		g := m.serving
		m.serving = nil
		if g != nil {
			g.setState(GenDraining)
		}
		m.mu.Unlock()
		m.buildMu.Unlock()
		if g != nil {
			m.drains.Add(1)
			go func() {
				defer m.drains.Done()
				m.drain(g)
			}()
		}

		done := make(chan struct{})
		go func() {
			m.drains.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			m.mu.RLock()
			left := append([]*Generation(nil), m.gens...)
			m.mu.RUnlock()
			for _, g := range left {
				_ = g.terminate(0)
			}
			err = ctx.Err()
		}
	})
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
