package manager

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"danmud/internal/envstore"
	"danmud/internal/variant"
	"danmud/internal/watch"
	"danmud/internal/worker"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultWorkers        = 1
	defaultRequestTimeout = 30 * time.Second
	defaultStopGrace      = 2 * time.Second
	defaultDebounce       = 300 * time.Millisecond
)

// WatchConfig controls hot reload on file changes.
type WatchConfig struct {
	Disabled     bool
	ExtraDirs    []string
	Ignore       []string
	PollInterval time.Duration
	ForcePoll    bool
	// New builds the watcher; nil means watch.New.
	New func(watch.Options) (watch.Watcher, error)
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Spawner  worker.Spawner
	Resolver variant.Resolver
	Store    *envstore.Store
	// EnvFile receives snapshots replaced through the manager. Empty disables
	// persistence.
	EnvFile string
	// Workers is the number of units per generation.
	Workers        int
	RequestTimeout time.Duration
	StopGrace      time.Duration
	Debounce       time.Duration
	Watch          WatchConfig
	// Clock drives debouncing and polling. Nil means the wall clock.
	Clock     clock.Clock
	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig, applying defaults.
func NewWithConfig(cfg ManagerConfig) (*Manager, error) {
	if cfg.Spawner == nil {
		return nil, errors.New("manager: spawner is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("manager: env store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Watch.New == nil {
		cfg.Watch.New = watch.New
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	m := &Manager{
		cfg:       cfg,
		log:       l.With().Str("component", "manager").Logger(),
		publisher: cfg.Publisher,
		state:     StateStarting,
		trigger:   make(chan string, 1),
		startTime: time.Now(),
	}
	m.debouncer = watch.NewDebouncer(cfg.Clock, cfg.Debounce, m.onDebounced)
	return m, nil
}
