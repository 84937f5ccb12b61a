package manager

import (
	"time"

	"danmud/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	_, envVersion := m.cfg.Store.Current()
	m.mu.RLock()
	resp := types.StatusResponse{
		State:     string(m.state),
		Variant:   m.target.Kind.String(),
		LastError: m.lastErr,
	}
	if m.serving != nil {
		resp.ServingGeneration = m.serving.ID
	}
	gens := append([]*Generation(nil), m.gens...)
	m.mu.RUnlock()

	resp.Generations = make([]types.GenerationStatus, 0, len(gens))
	for _, g := range gens {
		resp.Generations = append(resp.Generations, g.status())
	}
	if job, ok := m.LastJob(); ok {
		resp.LastReload = jobStatus(job)
	}
	if job, ok := m.PendingJob(); ok {
		resp.PendingReload = jobStatus(job)
	}
	resp.ReloadsSwapped = m.swapped.Load()
	resp.ReloadsFailed = m.failed.Load()
	resp.ReloadPending = m.ReloadPending()
	resp.WatchMode = m.WatchMode()
	resp.EnvVersion = envVersion
	now := time.Now()
	resp.UptimeSeconds = int64(now.Sub(m.startTime).Seconds())
	resp.ServerTimeUnix = now.Unix()
	return resp
}

func jobStatus(job ReloadJob) *types.ReloadJobStatus {
	js := &types.ReloadJobStatus{
		ID:            job.ID,
		Generation:    job.Generation,
		Reason:        job.Reason,
		Status:        job.Status,
		RequestedUnix: job.Requested.Unix(),
	}
	if job.Err != nil {
		js.Error = job.Err.Error()
	}
	if !job.Finished.IsZero() {
		js.FinishedUnix = job.Finished.Unix()
	}
	return js
}
