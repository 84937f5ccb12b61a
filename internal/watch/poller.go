package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

type stamp struct {
	size  int64
	mtime int64
	mode  fs.FileMode
}

// Poller detects changes by comparing stat fingerprints of every entry
// under the roots on a fixed interval.
type Poller struct {
	opts Options
	log  zerolog.Logger
	last map[string]stamp
}

func newPoller(opts Options, l zerolog.Logger) *Poller {
	return &Poller{opts: opts, log: l}
}

func (p *Poller) Mode() string { return ModePoll }

func (p *Poller) Run(ctx context.Context) error {
	p.last = p.scan()
	t := p.opts.Clock.Ticker(p.opts.PollInterval)
	defer t.Stop()
	p.log.Debug().Strs("roots", p.opts.Roots).Dur("interval", p.opts.PollInterval).Msg("polling for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.poll()
		}
	}
}

// poll rescans and reports the first changed path, if any.
func (p *Poller) poll() bool {
	next := p.scan()
	path, changed := diff(p.last, next)
	p.last = next
	if changed {
		p.opts.OnEvent(path)
	}
	return changed
}

func (p *Poller) scan() map[string]stamp {
	out := make(map[string]stamp)
	for _, root := range p.opts.Roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// missing root or vanished entry
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			if Ignored(rel, p.opts.Ignore) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			st := stamp{mode: fi.Mode()}
			if !d.IsDir() {
				st.size = fi.Size()
				st.mtime = fi.ModTime().UnixNano()
			}
			out[path] = st
			return nil
		})
	}
	return out
}

func diff(prev, next map[string]stamp) (string, bool) {
	var changed []string
	for path, st := range next {
		if old, ok := prev[path]; !ok || old != st {
			changed = append(changed, path)
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			changed = append(changed, path)
		}
	}
	if len(changed) == 0 {
		return "", false
	}
	sort.Strings(changed)
	return changed[0], true
}
