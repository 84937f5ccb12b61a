package envstore

import (
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber receives every snapshot accepted by the Store, tagged with its
// version. Calls are made from a single goroutine, in version order.
type Subscriber func(s Snapshot, version uint64)

// Store is the process-wide source of truth for the worker environment.
// Every update replaces the whole snapshot; there is no patch API.
type Store struct {
	mu      sync.Mutex
	cur     Snapshot
	version uint64
	subs    map[uint64]Subscriber
	nextSub uint64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
	log       zerolog.Logger
}

// New creates a Store holding initial as version 1 and starts its push loop.
func New(initial Snapshot, logger *zerolog.Logger) *Store {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "envstore").Logger()
	}
	s := &Store{
		cur:      initial,
		version:  1,
		subs:     make(map[uint64]Subscriber),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		log:      l,
	}
	go s.loop()
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Current returns the current snapshot with its version.
func (s *Store) Current() (Snapshot, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, s.version
}

func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Replace swaps in next as the complete environment and returns its version.
// It does not wait for subscribers; the push happens asynchronously.
func (s *Store) Replace(next Snapshot) uint64 {
	s.mu.Lock()
	s.cur = next
	s.version++
	v := s.version
	s.mu.Unlock()
	s.log.Debug().Uint64("version", v).Int("vars", next.Len()).Msg("env replaced")
	select {
	case s.wake <- struct{}{}:
	default:
		// a push is already scheduled and will read the latest snapshot
	}
	return v
}

// Subscribe registers fn for future pushes. The returned func unsubscribes.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close stops the push loop. Pending pushes are dropped.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.loopDone
}

func (s *Store) loop() {
	defer close(s.loopDone)
	var delivered uint64
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		snap, v := s.cur, s.version
		subs := make([]Subscriber, 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
		s.mu.Unlock()
		if v <= delivered {
			continue
		}
		for _, fn := range subs {
			s.deliver(fn, snap, v)
		}
		delivered = v
	}
}

// deliver shields the loop from a panicking subscriber.
func (s *Store) deliver(fn Subscriber, snap Snapshot, v uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Uint64("version", v).Msg("env subscriber panicked")
		}
	}()
	fn(snap, v)
}
