// Package workertest provides an in-process Spawner whose units run a Go
// handler over pipes, so dispatcher behavior can be tested without node.
package workertest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"danmud/internal/envstore"
	"danmud/internal/worker"
	"danmud/pkg/types"
)

// Handler answers one request inside a fake worker.
type Handler func(p *Peer, req types.Request) (types.Response, error)

// Echo replies 200 with the request URL as body.
func Echo(_ *Peer, req types.Request) (types.Response, error) {
	return types.Response{Status: 200, Body: []byte(req.URL)}, nil
}

// Spawner is a worker.Spawner backed by in-process peers.
type Spawner struct {
	Handler Handler
	// FailSpawn, when it returns an error for a spec, makes that unit exit
	// before reporting ready.
	FailSpawn func(spec worker.Spec) error
	// NeverReady units swallow setEnv and never report ready.
	NeverReady     func(spec worker.Spec) bool
	ReadyDelay     time.Duration
	StartupTimeout time.Duration
	OnLog          worker.LogFunc

	mu      sync.Mutex
	peers   []*Peer
	spawned atomic.Int64
}

// Spawn starts a peer and completes the handshake.
func (s *Spawner) Spawn(ctx context.Context, spec worker.Spec) (*worker.Unit, error) {
	s.spawned.Add(1)
	supR, supW := io.Pipe()
	wrkR, wrkW := io.Pipe()

	handler := s.Handler
	if handler == nil {
		handler = Echo
	}
	p := &Peer{
		Spec:    spec,
		handler: handler,
		dec:     json.NewDecoder(supR),
		in:      supR,
		enc:     json.NewEncoder(wrkW),
		out:     wrkW,
		exited:  make(chan struct{}),
		delay:   s.ReadyDelay,
	}
	if s.FailSpawn != nil {
		p.failErr = s.FailSpawn(spec)
	}
	if s.NeverReady != nil {
		p.neverReady = s.NeverReady(spec)
	}
	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.mu.Unlock()
	go p.run()

	u := worker.NewUnit(worker.UnitConfig{
		Generation: spec.Generation,
		Index:      spec.Index,
		PID:        -1,
		In:         wrkR,
		Out:        supW,
		OnLog:      s.OnLog,
	})
	p.unit = u
	timeout := s.StartupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if err := worker.Handshake(ctx, u, spec, timeout); err != nil {
		_ = u.Terminate(50 * time.Millisecond)
		p.Crash()
		return nil, err
	}
	return u, nil
}

// Spawned counts Spawn calls, including failed ones.
func (s *Spawner) Spawned() int { return int(s.spawned.Load()) }

// Peers returns every peer started so far, oldest first.
func (s *Spawner) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Peer(nil), s.peers...)
}

// PeersOf returns the peers that belong to generation gen.
func (s *Spawner) PeersOf(gen uint64) []*Peer {
	var out []*Peer
	for _, p := range s.Peers() {
		if p.Spec.Generation == gen {
			out = append(out, p)
		}
	}
	return out
}

// Peer is the worker side of one fake unit.
type Peer struct {
	Spec worker.Spec

	handler    Handler
	failErr    error
	neverReady bool
	delay      time.Duration
	unit       *worker.Unit

	dec *json.Decoder
	in  *io.PipeReader

	wmu sync.Mutex
	enc *json.Encoder
	out *io.PipeWriter

	mu           sync.Mutex
	env          []envstore.Snapshot
	active       int
	maxActive    int
	activeAtExit int
	served       int

	wg       sync.WaitGroup
	exitOnce sync.Once
	exited   chan struct{}
}

func (p *Peer) send(m worker.Message) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.enc.Encode(m)
}

// Log emits a log record as if written by the handler's console.
func (p *Peer) Log(level, msg string) {
	p.send(worker.Message{Type: worker.MsgLog, Level: level, Message: msg})
}

func (p *Peer) run() {
	ready := false
	for {
		var m worker.Message
		if err := p.dec.Decode(&m); err != nil {
			break
		}
		switch m.Type {
		case worker.MsgSetEnv:
			var s envstore.Snapshot
			if m.Env != nil {
				s = *m.Env
			}
			p.mu.Lock()
			p.env = append(p.env, s)
			p.mu.Unlock()
			if ready {
				continue
			}
			if p.failErr != nil {
				p.Log("error", p.failErr.Error())
				p.exit()
				return
			}
			if p.neverReady {
				continue
			}
			ready = true
			if p.delay > 0 {
				time.Sleep(p.delay)
			}
			p.send(worker.Message{Type: worker.MsgReady})
		case worker.MsgRequest:
			p.mu.Lock()
			p.active++
			if p.active > p.maxActive {
				p.maxActive = p.active
			}
			p.mu.Unlock()
			p.wg.Add(1)
			go p.handle(m)
		}
	}
	// request channel closed: let running handlers finish, then exit
	p.mu.Lock()
	p.activeAtExit = p.active
	p.mu.Unlock()
	p.wg.Wait()
	p.exit()
}

func (p *Peer) handle(m worker.Message) {
	defer p.wg.Done()
	resp, err := p.handler(p, m.Request())
	p.mu.Lock()
	p.active--
	p.served++
	p.mu.Unlock()
	if err != nil {
		p.send(worker.Message{Type: worker.MsgError, ID: m.ID, Error: err.Error()})
		return
	}
	p.send(worker.ResponseMessage(m.ID, resp))
}

func (p *Peer) exit() {
	p.exitOnce.Do(func() {
		_ = p.out.Close()
		close(p.exited)
	})
}

// Crash severs the peer abruptly, as if the worker died.
func (p *Peer) Crash() {
	p.exitOnce.Do(func() {
		_ = p.out.CloseWithError(errors.New("worker crashed"))
		_ = p.in.Close()
		close(p.exited)
	})
}

// Exited is closed once the peer is gone.
func (p *Peer) Exited() <-chan struct{} { return p.exited }

// Unit returns the supervisor half paired with this peer.
func (p *Peer) Unit() *worker.Unit { return p.unit }

// Env returns the latest snapshot the peer received.
func (p *Peer) Env() envstore.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.env) == 0 {
		return envstore.Snapshot{}
	}
	return p.env[len(p.env)-1]
}

// EnvHistory returns every snapshot received, in arrival order.
func (p *Peer) EnvHistory() []envstore.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]envstore.Snapshot(nil), p.env...)
}

// Active is the number of requests being handled right now.
func (p *Peer) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// ActiveAtExit is the number of requests still running when the request
// channel was closed.
func (p *Peer) ActiveAtExit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeAtExit
}

// Served counts completed requests.
func (p *Peer) Served() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.served
}
