package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type nativeWatcher struct {
	opts Options
	fw   *fsnotify.Watcher
	log  zerolog.Logger
	// missing roots, watched through their parent until they appear
	missing map[string]bool
}

func (n *nativeWatcher) Mode() string { return ModeNative }

func (n *nativeWatcher) Run(ctx context.Context) error {
	defer n.fw.Close()
	n.missing = make(map[string]bool)
	for _, root := range n.opts.Roots {
		n.addRoot(root)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.fw.Events:
			if !ok {
				return nil
			}
			n.handle(ev)
		case err, ok := <-n.fw.Errors:
			if !ok {
				return nil
			}
			n.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (n *nativeWatcher) addRoot(root string) {
	if fi, err := os.Stat(root); err == nil && fi.IsDir() {
		n.addTree(root)
		return
	}
	n.missing[root] = true
	parent := filepath.Dir(root)
	if err := n.fw.Add(parent); err != nil {
		n.log.Debug().Str("root", root).Err(err).Msg("watch root missing")
		return
	}
	n.log.Debug().Str("root", root).Msg("watch root missing, waiting for it to appear")
}

// addTree adds dir and every non-ignored directory below it.
func (n *nativeWatcher) addTree(dir string) {
	root, _ := rootOf(n.opts.Roots, dir)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, rerr := filepath.Rel(root, path); rerr == nil && Ignored(rel, n.opts.Ignore) {
			return filepath.SkipDir
		}
		if err := n.fw.Add(path); err != nil {
			n.log.Warn().Str("dir", path).Err(err).Msg("watch add failed")
		}
		return nil
	})
}

func (n *nativeWatcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if n.missing[path] && ev.Has(fsnotify.Create) {
		delete(n.missing, path)
		n.addTree(path)
		n.opts.OnEvent(path)
		return
	}
	if !relevant(n.opts, path) {
		return
	}
	if ev.Op == fsnotify.Chmod {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			n.addTree(path)
		}
	}
	n.opts.OnEvent(path)
}
