package manager

import (
	"context"
	"fmt"

	"danmud/internal/envstore"
	"danmud/internal/variant"
	"danmud/internal/worker"
)

// onEnv forwards a store push to every ready generation.
func (m *Manager) onEnv(s envstore.Snapshot, version uint64) {
	m.mu.RLock()
	targets := make([]*Generation, 0, 1)
	for _, g := range m.gens {
		if g.State() == GenReady {
			targets = append(targets, g)
		}
	}
	m.mu.RUnlock()
	for _, g := range targets {
		m.pushTo(g, s, version)
	}
}

func (m *Manager) pushTo(g *Generation, s envstore.Snapshot, version uint64) {
	dropped := g.pushEnv(s, version, func(u *worker.Unit, err error) {
		m.publish(Event{Name: EventEnvPushDropped, Generation: g.ID, Fields: map[string]any{"unit": u.Index(), "version": version, "error": err.Error()}})
		m.log.Warn().Err(err).Uint64("gen", g.ID).Int("unit", u.Index()).Uint64("version", version).Msg("env push dropped")
	})
	switch {
	case dropped < 0:
		envPushesTotal.WithLabelValues("stale").Inc()
	case dropped > 0:
		envPushesTotal.WithLabelValues("dropped").Inc()
	default:
		envPushesTotal.WithLabelValues("ok").Inc()
		m.publish(Event{Name: EventEnvPush, Generation: g.ID, Fields: map[string]any{"version": version, "vars": s.Len()}})
	}
}

// markerInEnv reports whether the variant marker is part of the env snapshot.
func (m *Manager) markerInEnv() bool {
	mf := m.cfg.Resolver.MarkerFile
	return mf == "" || mf == m.cfg.EnvFile
}

// ReplaceEnv replaces the whole environment with env, persists it and
// returns the new version. When env selects a different variant, a variant
// switch follows and its error is returned.
func (m *Manager) ReplaceEnv(ctx context.Context, env map[string]string) (uint64, error) {
	if m.isClosed() {
		return 0, ErrClosed
	}
	next := envstore.FromMap(env)
	_, version, err := m.mutateEnv(func(envstore.Snapshot) (envstore.Snapshot, bool) { return next, true })
	if err != nil {
		return 0, err
	}
	m.log.Info().Uint64("version", version).Int("vars", next.Len()).Msg("environment replaced")

	if !m.markerInEnv() {
		return version, nil
	}
	raw, ok := next.Get(variant.MarkerKey)
	if !ok {
		return version, nil
	}
	if kind := variant.ParseKind(raw); kind != m.Variant().Kind {
		if err := m.SwitchVariant(ctx, kind); err != nil {
			return version, err
		}
		return m.cfg.Store.Version(), nil
	}
	return version, nil
}

// mutateEnv derives the next snapshot from the current one with fn, then
// persists and publishes it. envMu holds across the read, the file write and
// the store swap, so writers never publish a stale copy and the env file
// always matches the store.
func (m *Manager) mutateEnv(fn func(cur envstore.Snapshot) (envstore.Snapshot, bool)) (envstore.Snapshot, uint64, error) {
	m.envMu.Lock()
	defer m.envMu.Unlock()
	cur, ver := m.cfg.Store.Current()
	next, changed := fn(cur)
	if !changed {
		return cur, ver, nil
	}
	if err := m.persist(next); err != nil {
		return cur, ver, err
	}
	return next, m.cfg.Store.Replace(next), nil
}

func (m *Manager) persist(s envstore.Snapshot) error {
	if m.cfg.EnvFile == "" {
		return nil
	}
	if err := envstore.Save(m.cfg.EnvFile, s); err != nil {
		return fmt.Errorf("persist env: %w", err)
	}
	return nil
}

// SwitchVariant records kind as the active variant, moves the watcher onto
// its tree, then builds and promotes a generation from it. On failure the
// serving generation keeps serving and later reloads, including one caused
// by files appearing in the new tree, retry the recorded variant.
func (m *Manager) SwitchVariant(ctx context.Context, kind variant.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown variant %q", kind)
	}
	if m.isClosed() {
		return ErrClosed
	}
	v := m.cfg.Resolver.For(kind)

	if err := m.writeMarker(kind); err != nil {
		return err
	}
	m.mu.Lock()
	prev := m.target
	m.target = v
	m.mu.Unlock()
	// watch the target tree even if this build fails, so installing it
	// triggers the retry
	m.retarget(v)

	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	if m.isClosed() {
		return ErrClosed
	}
	job := m.beginJob(ReasonVariantSwitch, false)
	g, err := m.build(ctx, v)
	if err != nil {
		return m.failJob(job, m.nextGen.Load(), err)
	}
	m.promote(g)
	m.finishJob(job, g.ID)
	m.publish(Event{Name: EventVariantSwitch, Generation: g.ID, Fields: map[string]any{"from": prev.Kind.String(), "to": kind.String()}})
	m.log.Info().Str("from", prev.Kind.String()).Str("to", kind.String()).Uint64("gen", g.ID).Msg("variant switched")
	return nil
}

// writeMarker stores kind in the env snapshot (and env file) or in the
// separate marker file.
func (m *Manager) writeMarker(kind variant.Kind) error {
	if m.markerInEnv() {
		_, _, err := m.mutateEnv(func(cur envstore.Snapshot) (envstore.Snapshot, bool) {
			if raw, ok := cur.Get(variant.MarkerKey); ok && raw == kind.String() {
				return cur, false
			}
			return cur.With(variant.MarkerKey, kind.String()), true
		})
		return err
	}
	m.envMu.Lock()
	defer m.envMu.Unlock()
	path := m.cfg.Resolver.MarkerFile
	marker, err := envstore.Load(path)
	if err != nil {
		return fmt.Errorf("read variant marker: %w", err)
	}
	if err := envstore.Save(path, marker.With(variant.MarkerKey, kind.String())); err != nil {
		return fmt.Errorf("write variant marker: %w", err)
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateClosed
}
