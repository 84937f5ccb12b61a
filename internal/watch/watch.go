// Package watch reports changes under a set of directory trees. It prefers
// native notifications (fsnotify) and falls back to stat polling when the
// platform cannot provide them. Events are raw; callers debounce them with
// Debouncer.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch modes reported by Watcher.Mode.
const (
	ModeNative = "native"
	ModePoll   = "poll"
)

// Watcher delivers change events until its context ends.
type Watcher interface {
	Run(ctx context.Context) error
	Mode() string
}

// Options configures New.
type Options struct {
	// Roots are watched recursively. Missing roots are tolerated.
	Roots []string
	// Ignore holds glob patterns matched against every path component.
	Ignore       []string
	PollInterval time.Duration
	ForcePoll    bool
	// Clock drives the poller. Nil means the wall clock.
	Clock clock.Clock
	// OnEvent receives the path of every relevant change. It must not block.
	OnEvent func(path string)
	Logger  *zerolog.Logger
}

// nativeBroken is set the first time fsnotify cannot be initialised so
// later watchers go straight to polling.
var nativeBroken atomic.Bool

// newNative is swapped in tests.
var newNative = fsnotify.NewWatcher

// New returns a native watcher, or a Poller when ForcePoll is set or native
// notifications are unavailable.
func New(opts Options) (Watcher, error) {
	if opts.OnEvent == nil {
		opts.OnEvent = func(string) {}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	l = l.With().Str("component", "watch").Logger()
	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, filepath.Clean(r))
		}
	}
	opts.Roots = roots

	if opts.ForcePoll || nativeBroken.Load() {
		return newPoller(opts, l), nil
	}
	fw, err := newNative()
	if err != nil {
		nativeBroken.Store(true)
		l.Warn().Err(err).Msg("native file watching unavailable, falling back to polling")
		return newPoller(opts, l), nil
	}
	return &nativeWatcher{opts: opts, fw: fw, log: l}, nil
}

// Ignored reports whether any component of rel matches one of patterns.
func Ignored(rel string, patterns []string) bool {
	if rel == "" || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" {
			continue
		}
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, part); ok {
				return true
			}
		}
	}
	return false
}

// rootOf returns the root containing path, if any.
func rootOf(roots []string, path string) (string, bool) {
	for _, r := range roots {
		if path == r || strings.HasPrefix(path, r+string(os.PathSeparator)) {
			return r, true
		}
	}
	return "", false
}

func relevant(opts Options, path string) bool {
	root, ok := rootOf(opts.Roots, path)
	if !ok {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return !Ignored(rel, opts.Ignore)
}
