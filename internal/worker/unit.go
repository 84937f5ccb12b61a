package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"danmud/internal/envstore"
	"danmud/pkg/types"
)

// LogEvent is one console or output line produced inside a worker.
type LogEvent struct {
	Generation uint64
	Unit       int
	Level      string
	Message    string
}

// LogFunc receives worker log events. It must not block.
type LogFunc func(LogEvent)

// StopFunc waits for the worker behind a unit to exit, forcing it after grace.
type StopFunc func(grace time.Duration) error

// UnitConfig wires a Unit to its transport.
type UnitConfig struct {
	Generation uint64
	Index      int
	PID        int
	// In carries worker→supervisor messages.
	In io.Reader
	// Out carries supervisor→worker messages. Closing it asks the worker to exit.
	Out io.WriteCloser
	// Stop is optional; without it Terminate waits for In to reach EOF.
	Stop   StopFunc
	OnLog  LogFunc
	Logger *zerolog.Logger
	// QueueSize bounds requests waiting to be written to Out. Zero means
	// DefaultQueueSize.
	QueueSize int
}

// DefaultQueueSize is the outbound request queue length per unit.
const DefaultQueueSize = 64

type reply struct {
	resp types.Response
	err  error
}

// Unit is the supervisor side of one isolated worker.
type Unit struct {
	gen   uint64
	index int
	pid   int

	// writeLoop owns out. Requests queue on outq; env pushes replace the
	// snapshot in envNext so the newest one is always written.
	out      io.WriteCloser
	enc      *json.Encoder
	outq     chan Message
	envMu    sync.Mutex
	envNext  *envstore.Snapshot
	envReady chan struct{}

	seq      atomic.Uint64
	inflight atomic.Int64

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool
	err     error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	terminating atomic.Bool
	termOnce    sync.Once
	termErr     error
	stop        StopFunc

	onLog LogFunc
	log   zerolog.Logger
}

// NewUnit starts reading worker messages from cfg.In.
func NewUnit(cfg UnitConfig) *Unit {
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = DefaultQueueSize
	}
	u := &Unit{
		gen:      cfg.Generation,
		index:    cfg.Index,
		pid:      cfg.PID,
		out:      cfg.Out,
		enc:      json.NewEncoder(cfg.Out),
		outq:     make(chan Message, qs),
		envReady: make(chan struct{}, 1),
		pending:  make(map[string]chan reply),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		stop:    cfg.Stop,
		onLog:   cfg.OnLog,
		log:     l.With().Str("component", "worker").Uint64("gen", cfg.Generation).Int("unit", cfg.Index).Logger(),
	}
	go u.readLoop(cfg.In)
	go u.writeLoop()
	return u
}

func (u *Unit) Generation() uint64 { return u.gen }
func (u *Unit) Index() int         { return u.index }
func (u *Unit) PID() int           { return u.pid }

// Inflight is the number of Submit calls currently waiting on this unit.
func (u *Unit) Inflight() int { return int(u.inflight.Load()) }

// Ready is closed once the worker has sent its ready handshake.
func (u *Unit) Ready() <-chan struct{} { return u.ready }

// Done is closed when the channel to the worker is gone.
func (u *Unit) Done() <-chan struct{} { return u.done }

// Err returns the cause of closure, or nil while the unit is alive.
func (u *Unit) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Alive reports whether the unit can still accept requests.
func (u *Unit) Alive() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.closed
}

// Terminating reports whether Terminate has been called, so an exit is
// expected rather than a crash.
func (u *Unit) Terminating() bool { return u.terminating.Load() }

// WaitReady blocks until the ready handshake, closure, or ctx expiry.
func (u *Unit) WaitReady(ctx context.Context) error {
	select {
	case <-u.ready:
		return nil
	case <-u.done:
		return u.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit sends req and waits for the correlated reply. A deadline on ctx
// becomes a TimeoutError; closure of the channel a CommunicationError.
func (u *Unit) Submit(ctx context.Context, req types.Request) (types.Response, error) {
	id := fmt.Sprintf("%d-%d-%d", u.gen, u.index, u.seq.Add(1))
	ch := make(chan reply, 1)

	u.mu.Lock()
	if u.closed {
		err := u.err
		u.mu.Unlock()
		return types.Response{}, err
	}
	u.pending[id] = ch
	u.inflight.Add(1)
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		delete(u.pending, id)
		u.mu.Unlock()
		u.inflight.Add(-1)
	}()

	select {
	case u.outq <- RequestMessage(id, req):
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return types.Response{}, ctxError(ctx, id)
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return types.Response{}, ctxError(ctx, id)
	}
}

func ctxError(ctx context.Context, id string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{ID: id}
	}
	return ctx.Err()
}

// SetEnv schedules a full snapshot push and returns without waiting for the
// write. A snapshot not yet written is replaced by the newer one. No reply
// is expected.
func (u *Unit) SetEnv(s envstore.Snapshot) error {
	if !u.Alive() {
		return u.Err()
	}
	u.envMu.Lock()
	if u.envNext != nil {
		u.log.Debug().Msg("superseding unwritten env push")
	}
	u.envNext = &s
	u.envMu.Unlock()
	select {
	case u.envReady <- struct{}{}:
	default:
	}
	return nil
}

// Terminate asks the worker to exit by closing its request channel and
// severs it after grace. Safe to call more than once.
func (u *Unit) Terminate(grace time.Duration) error {
	u.termOnce.Do(func() {
		u.terminating.Store(true)
		// also unblocks a write stuck on a worker that stopped reading
		_ = u.out.Close()
		if u.stop != nil {
			u.termErr = u.stop(grace)
		} else {
			select {
			case <-u.done:
			case <-time.After(grace):
			}
		}
		u.fail(ErrTerminated)
	})
	return u.termErr
}

// writeLoop is the only writer of out. A pending env push goes out before
// queued requests.
func (u *Unit) writeLoop() {
	for {
		select {
		case <-u.envReady:
			if !u.write(u.takeEnv()) {
				return
			}
			continue
		default:
		}
		select {
		case <-u.done:
			return
		case <-u.envReady:
			if !u.write(u.takeEnv()) {
				return
			}
		case m := <-u.outq:
			if !u.write(&m) {
				return
			}
		}
	}
}

func (u *Unit) takeEnv() *Message {
	u.envMu.Lock()
	defer u.envMu.Unlock()
	if u.envNext == nil {
		return nil
	}
	m := SetEnvMessage(*u.envNext)
	u.envNext = nil
	return &m
}

func (u *Unit) write(m *Message) bool {
	if m == nil {
		return true
	}
	if err := u.enc.Encode(m); err != nil {
		if u.Terminating() {
			err = ErrTerminated
		}
		u.fail(err)
		return false
	}
	return true
}

// fail closes the unit once, failing every pending request with a
// CommunicationError wrapping cause.
func (u *Unit) fail(cause error) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	u.err = &CommunicationError{Generation: u.gen, Unit: u.index, Err: cause}
	pending := u.pending
	u.pending = make(map[string]chan reply)
	u.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- reply{err: u.err}:
		default:
		}
	}
	close(u.done)
}

func (u *Unit) readLoop(in io.Reader) {
	r := bufio.NewReaderSize(in, 64<<10)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			u.handleLine(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
				if u.Terminating() {
					err = ErrTerminated
				}
			}
			u.fail(err)
			return
		}
	}
}

func (u *Unit) handleLine(line []byte) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		u.log.Warn().Err(err).Int("bytes", len(line)).Msg("dropping malformed worker message")
		return
	}
	switch m.Type {
	case MsgReady:
		u.readyOnce.Do(func() { close(u.ready) })
	case MsgResponse:
		u.deliver(m.ID, reply{resp: m.Response()})
	case MsgError:
		u.deliver(m.ID, reply{err: &HandlerError{ID: m.ID, Msg: m.Error}})
	case MsgLog:
		u.emitLog(m.Level, m.Message)
	default:
		u.log.Warn().Str("type", m.Type).Msg("unknown worker message type")
	}
}

func (u *Unit) deliver(id string, r reply) {
	u.mu.Lock()
	ch, ok := u.pending[id]
	u.mu.Unlock()
	if !ok {
		// late reply for a request that already timed out
		u.log.Debug().Str("id", id).Msg("reply without pending request")
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func (u *Unit) emitLog(level, msg string) {
	emitLog(u.log, u.onLog, LogEvent{Generation: u.gen, Unit: u.index, Level: level, Message: msg})
}

func emitLog(l zerolog.Logger, onLog LogFunc, ev LogEvent) {
	ev.Level = NormalizeLevel(ev.Level)
	if onLog != nil {
		onLog(ev)
	}
	zl, _ := zerolog.ParseLevel(ev.Level)
	l.WithLevel(zl).Str("source", "worker").Msg(ev.Message)
}

// NormalizeLevel maps console level names onto debug|info|warn|error.
func NormalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return "debug"
	case "warn", "warning":
		return "warn"
	case "error", "fatal":
		return "error"
	default:
		return "info"
	}
}
