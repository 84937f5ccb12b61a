package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"danmud/internal/envstore"
	"danmud/internal/variant"
	"danmud/internal/worker"
	"danmud/pkg/types"
)

// Generation is a set of units built from one variant. It is routable only
// while ready and is terminated only after its in-flight count reaches zero
// in the draining state.
type Generation struct {
	ID      uint64
	Variant variant.Variant
	created time.Time

	units    []*worker.Unit
	inflight atomic.Int64
	rr       atomic.Uint64

	mu      sync.Mutex
	state   GenState
	readyAt time.Time

	envMu      sync.Mutex
	envVersion uint64

	idle     chan struct{}
	idleOnce sync.Once
}

func newGeneration(id uint64, v variant.Variant, envVersion uint64) *Generation {
	g := &Generation{
		ID:         id,
		Variant:    v,
		created:    time.Now(),
		state:      GenStarting,
		envVersion: envVersion,
		idle:       make(chan struct{}),
	}
	setGenGauge("", GenStarting)
	return g
}

func (g *Generation) setUnits(units []*worker.Unit) {
	g.mu.Lock()
	g.units = units
	g.mu.Unlock()
}

// State returns the current lifecycle state.
func (g *Generation) State() GenState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Generation) setState(s GenState) {
	g.mu.Lock()
	prev := g.state
	if prev == s || prev == GenTerminated {
		g.mu.Unlock()
		return
	}
	g.state = s
	if s == GenReady {
		g.readyAt = time.Now()
	}
	g.mu.Unlock()
	setGenGauge(prev, s)
	if s == GenDraining && g.inflight.Load() == 0 {
		g.signalIdle()
	}
}

// acquire is called by Route while the serving read lock is held.
func (g *Generation) acquire() { g.inflight.Add(1) }

func (g *Generation) release() {
	if g.inflight.Add(-1) == 0 && g.State() == GenDraining {
		g.signalIdle()
	}
}

func (g *Generation) signalIdle() { g.idleOnce.Do(func() { close(g.idle) }) }

// Inflight is the number of requests currently routed to this generation.
func (g *Generation) Inflight() int64 { return g.inflight.Load() }

// Idle is closed once a draining generation has no requests in flight.
func (g *Generation) Idle() <-chan struct{} { return g.idle }

// pick returns the live unit with the fewest requests in flight, rotating
// the starting point so ties spread out.
func (g *Generation) pick() *worker.Unit {
	n := len(g.units)
	if n == 0 {
		return nil
	}
	start := int(g.rr.Add(1) % uint64(n))
	var best *worker.Unit
	for i := 0; i < n; i++ {
		u := g.units[(start+i)%n]
		if !u.Alive() {
			continue
		}
		if best == nil || u.Inflight() < best.Inflight() {
			best = u
		}
	}
	return best
}

// alive reports whether at least one unit can take requests.
func (g *Generation) alive() bool {
	for _, u := range g.units {
		if u.Alive() {
			return true
		}
	}
	return false
}

// EnvVersion is the version of the last snapshot pushed to the units.
func (g *Generation) EnvVersion() uint64 {
	g.envMu.Lock()
	defer g.envMu.Unlock()
	return g.envVersion
}

// pushEnv sends s to every unit unless version is not newer than the last
// push. It returns the number of units that rejected the push, or -1 when
// the push was stale.
func (g *Generation) pushEnv(s envstore.Snapshot, version uint64, onDrop func(u *worker.Unit, err error)) int {
	g.envMu.Lock()
	defer g.envMu.Unlock()
	if version <= g.envVersion {
		return -1
	}
	dropped := 0
	for _, u := range g.units {
		if err := u.SetEnv(s); err != nil {
			dropped++
			if onDrop != nil {
				onDrop(u, err)
			}
		}
	}
	g.envVersion = version
	return dropped
}

// terminate stops every unit in parallel.
func (g *Generation) terminate(grace time.Duration) error {
	var eg errgroup.Group
	for _, u := range g.units {
		u := u
		eg.Go(func() error { return u.Terminate(grace) })
	}
	err := eg.Wait()
	g.setState(GenTerminated)
	// release a drain still waiting on requests that will never finish
	g.signalIdle()
	return err
}

func (g *Generation) status() types.GenerationStatus {
	g.mu.Lock()
	st := types.GenerationStatus{
		ID:          g.ID,
		State:       string(g.state),
		Variant:     g.Variant.Kind.String(),
		Units:       len(g.units),
		Inflight:    g.inflight.Load(),
		CreatedUnix: g.created.Unix(),
	}
	if !g.readyAt.IsZero() {
		st.ReadyUnix = g.readyAt.Unix()
	}
	units := g.units
	g.mu.Unlock()
	for _, u := range units {
		if pid := u.PID(); pid > 0 {
			st.PIDs = append(st.PIDs, pid)
		}
	}
	st.EnvVersion = g.EnvVersion()
	return st
}
