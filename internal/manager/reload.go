package manager

import (
	"context"
	"strings"
	"time"

	"danmud/internal/variant"
	"danmud/internal/watch"
)

// Reload requests a rebuild of the serving generation. Requests made while
// a reload is owed collapse into it. It reports false after Close.
func (m *Manager) Reload(reason string) bool {
	if m.isClosed() {
		return false
	}
	if reason == "" {
		reason = ReasonManual
	}
	m.enqueue(reason)
	return true
}

// Notify records a change under the watched tree. Bursts within the
// debounce window produce one reload.
func (m *Manager) Notify(path string) { m.debouncer.Touch(path) }

func (m *Manager) onDebounced(last string, count int) {
	reason := ReasonFileChange
	if strings.HasPrefix(last, ReasonUnitExit) {
		reason = ReasonUnitExit
	}
	m.log.Info().Str("last", last).Int("events", count).Str("reason", reason).Msg("change settled, scheduling reload")
	m.enqueue(reason)
}

// enqueue owes at most one reload: the trigger channel has capacity one.
// The owed reload is recorded as a pending job until the loop starts it.
func (m *Manager) enqueue(reason string) {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	select {
	case m.trigger <- reason:
		m.owed = &ReloadJob{ID: m.jobSeq.Add(1), Reason: reason, Requested: time.Now(), Status: JobPending}
	default:
		m.log.Debug().Str("reason", reason).Msg("reload already pending")
	}
}

// PendingJob returns a copy of the reload that is owed but not yet started.
func (m *Manager) PendingJob() (ReloadJob, bool) {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	if m.owed == nil {
		return ReloadJob{}, false
	}
	return *m.owed, true
}

// ReloadPending reports whether a reload is owed but not yet started.
func (m *Manager) ReloadPending() bool { return len(m.trigger) > 0 }

func (m *Manager) loop(ctx context.Context) {
	defer close(m.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-m.trigger:
			_ = m.runReload(ctx, reason)
		}
	}
}

// runReload builds a generation from the target variant and promotes it.
// A failed build leaves the serving generation untouched.
func (m *Manager) runReload(ctx context.Context, reason string) error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	if m.isClosed() || ctx.Err() != nil {
		return ErrClosed
	}
	job := m.beginJob(reason, true)
	v := m.Variant()
	g, err := m.build(ctx, v)
	if err != nil {
		return m.failJob(job, m.nextGen.Load(), err)
	}
	m.promote(g)
	m.finishJob(job, g.ID)
	return nil
}

// beginJob marks a job building. With fromTrigger it starts the owed
// pending job, keeping its id and request time.
func (m *Manager) beginJob(reason string, fromTrigger bool) *ReloadJob {
	now := time.Now()
	m.jobMu.Lock()
	job := m.owed
	if fromTrigger && job != nil {
		m.owed = nil
	} else {
		job = &ReloadJob{ID: m.jobSeq.Add(1), Reason: reason, Requested: now}
	}
	job.Started = now
	job.Status = JobBuilding
	m.lastJob = job
	m.jobMu.Unlock()
	m.publish(Event{Name: EventReloadStart, Fields: map[string]any{"job": job.ID, "reason": reason}})
	m.log.Info().Uint64("job", job.ID).Str("reason", reason).Msg("reload started")
	return job
}

func (m *Manager) finishJob(job *ReloadJob, gen uint64) {
	m.jobMu.Lock()
	job.Generation = gen
	job.Status = JobSwapped
	job.Finished = time.Now()
	dur := job.Finished.Sub(job.Started)
	m.jobMu.Unlock()
	m.swapped.Add(1)
	reloadsTotal.WithLabelValues(JobSwapped).Inc()
	m.publish(Event{Name: EventReloadSwapped, Generation: gen, Fields: map[string]any{"job": job.ID, "reason": job.Reason, "duration_ms": dur.Milliseconds()}})
	m.log.Info().Uint64("job", job.ID).Uint64("gen", gen).Dur("took", dur).Msg("reload swapped")
}

func (m *Manager) failJob(job *ReloadJob, gen uint64, cause error) error {
	err := &ReloadBuildError{JobID: job.ID, Generation: gen, Reason: job.Reason, Err: cause}
	m.jobMu.Lock()
	job.Generation = gen
	job.Status = JobFailed
	job.Err = err
	job.Finished = time.Now()
	m.jobMu.Unlock()
	m.failed.Add(1)
	reloadsTotal.WithLabelValues(JobFailed).Inc()
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
	m.publish(Event{Name: EventReloadFailed, Generation: gen, Fields: map[string]any{"job": job.ID, "reason": job.Reason, "error": cause.Error()}})
	m.log.Error().Err(cause).Uint64("job", job.ID).Uint64("gen", gen).Str("reason", job.Reason).Msg("reload failed, keeping current generation")
	return err
}

// LastJob returns a copy of the most recent reload job, if any.
func (m *Manager) LastJob() (ReloadJob, bool) {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	if m.lastJob == nil {
		return ReloadJob{}, false
	}
	return *m.lastJob, true
}

func (m *Manager) watchOptions(v variant.Variant) watch.Options {
	w := m.cfg.Watch
	roots := append([]string{v.BaseDir}, w.ExtraDirs...)
	return watch.Options{
		Roots:        roots,
		Ignore:       w.Ignore,
		PollInterval: w.PollInterval,
		ForcePoll:    w.ForcePoll,
		Clock:        m.cfg.Clock,
		OnEvent:      m.Notify,
		Logger:       &m.log,
	}
}

func (m *Manager) startWatcher(v variant.Variant) {
	if m.cfg.Watch.Disabled || m.runCtx == nil || m.runCtx.Err() != nil {
		return
	}
	w, err := m.cfg.Watch.New(m.watchOptions(v))
	if err != nil {
		m.log.Error().Err(err).Str("dir", v.BaseDir).Msg("file watcher unavailable, hot reload disabled")
		return
	}
	ctx, cancel := context.WithCancel(m.runCtx)
	m.watchMu.Lock()
	m.watchCancel = cancel
	m.watchMode = w.Mode()
	m.watchMu.Unlock()
	go func() {
		if err := w.Run(ctx); err != nil {
			m.log.Error().Err(err).Msg("file watcher stopped")
		}
	}()
	m.log.Info().Str("mode", w.Mode()).Str("dir", v.BaseDir).Msg("watching for changes")
}

func (m *Manager) stopWatcher() {
	m.watchMu.Lock()
	cancel := m.watchCancel
	m.watchCancel = nil
	m.watchMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// retarget moves the watcher onto v's tree.
func (m *Manager) retarget(v variant.Variant) {
	m.stopWatcher()
	m.startWatcher(v)
}

// WatchMode reports the active watch mode, or "" when not watching.
func (m *Manager) WatchMode() string {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watchCancel == nil {
		return ""
	}
	return m.watchMode
}
