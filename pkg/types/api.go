package types

// Header is one (name, value) pair. Header lists keep wire order and may
// repeat a name.
type Header struct {
	// example: accept
	Name string `json:"name" example:"accept"`
	// example: application/json
	Value string `json:"value" example:"application/json"`
}

// Request is the record handed to a worker for one inbound HTTP exchange.
type Request struct {
	// example: GET
	Method string `json:"method" example:"GET"`
	// Absolute URL as seen by the front door.
	// example: http://127.0.0.1:9321/api/v2/search/anime?keyword=frieren
	URL string `json:"url" example:"http://127.0.0.1:9321/api/v2/search/anime?keyword=frieren"`
	// Request headers, one entry per value.
	Headers []Header `json:"headers"`
	// Optional request body. Encoded as base64 on the wire.
	Body []byte `json:"body,omitempty"`
	// Caller IP address without port.
	// example: 192.168.1.20
	ClientIP string `json:"clientIp" example:"192.168.1.20"`
}

// Response is the record a worker returns for one Request.
type Response struct {
	// example: 200
	Status int `json:"status" example:"200"`
	// Response headers excluding Set-Cookie.
	Headers []Header `json:"headers"`
	// Each element becomes its own Set-Cookie header.
	SetCookie []string `json:"setCookie,omitempty"`
	// Optional response body. Encoded as base64 on the wire.
	Body []byte `json:"body,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: service unavailable: no ready generation
	Error string `json:"error" example:"service unavailable: no ready generation"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// EnvResponse is returned by GET /_danmud/env and accepted by PUT.
// PUT always carries the complete environment; keys not present are removed.
type EnvResponse struct {
	Env map[string]string `json:"env"`
	// Version of the snapshot held by the supervisor.
	// example: 3
	Version uint64 `json:"version,omitempty" example:"3"`
}

// VariantRequest selects the active variant.
type VariantRequest struct {
	// One of stable, dev, custom (case-insensitive).
	// example: dev
	Variant string `json:"variant" example:"dev"`
}

// VariantResponse describes the active variant.
type VariantResponse struct {
	// example: stable
	Variant string `json:"variant" example:"stable"`
	// example: /data/danmud/danmu_api_stable
	BaseDir string `json:"base_dir" example:"/data/danmud/danmu_api_stable"`
	// example: /data/danmud/danmu_api_stable/worker.js
	Entry string `json:"entry" example:"/data/danmud/danmu_api_stable/worker.js"`
	// Variants whose base directory exists on disk.
	Installed []string `json:"installed"`
}

// ReloadResponse acknowledges a manual reload request.
type ReloadResponse struct {
	// example: true
	Accepted bool `json:"accepted" example:"true"`
}

// GenerationStatus summarizes one worker generation for /status.
type GenerationStatus struct {
	// example: 4
	ID uint64 `json:"id" example:"4"`
	// starting, ready, draining or terminated.
	// example: ready
	State string `json:"state" example:"ready"`
	// example: stable
	Variant string `json:"variant" example:"stable"`
	// Number of worker units in this generation.
	// example: 1
	Units int `json:"units" example:"1"`
	// Process IDs of the units, when process-backed.
	PIDs []int `json:"pids,omitempty"`
	// example: 0
	Inflight int64 `json:"inflight" example:"0"`
	// Environment snapshot version last pushed to this generation.
	// example: 3
	EnvVersion uint64 `json:"env_version" example:"3"`
	// example: 1700000000
	CreatedUnix int64 `json:"created_unix" example:"1700000000"`
	// example: 1700000001
	ReadyUnix int64 `json:"ready_unix,omitempty" example:"1700000001"`
}

// ReloadJobStatus summarizes one reload attempt.
type ReloadJobStatus struct {
	// example: 7
	ID uint64 `json:"id" example:"7"`
	// Generation the job built (0 when none was allocated).
	// example: 5
	Generation uint64 `json:"generation" example:"5"`
	// example: file_change
	Reason string `json:"reason" example:"file_change"`
	// pending, building, swapped or failed.
	// example: swapped
	Status string `json:"status" example:"swapped"`
	Error  string `json:"error,omitempty"`
	// example: 1700000000
	RequestedUnix int64 `json:"requested_unix" example:"1700000000"`
	// example: 1700000002
	FinishedUnix int64 `json:"finished_unix,omitempty" example:"1700000002"`
}

// StatusResponse is returned by GET /_danmud/status.
type StatusResponse struct {
	// Overall supervisor state: starting, ready, unavailable or closed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Generation currently receiving traffic (0 when none).
	// example: 4
	ServingGeneration uint64 `json:"serving_generation" example:"4"`
	// Active variant.
	// example: stable
	Variant string `json:"variant" example:"stable"`
	// All generations not yet terminated, oldest first.
	Generations []GenerationStatus `json:"generations"`
	// Last reload attempt, if any.
	LastReload *ReloadJobStatus `json:"last_reload,omitempty"`
	// Reload owed behind the running one, in status pending.
	PendingReload *ReloadJobStatus `json:"pending_reload,omitempty"`
	// Reload counters by final status.
	ReloadsSwapped uint64 `json:"reloads_swapped" example:"3"`
	ReloadsFailed  uint64 `json:"reloads_failed" example:"1"`
	// Whether a follow-up reload is owed after the running one.
	ReloadPending bool `json:"reload_pending" example:"false"`
	// File watch mode: native or poll.
	// example: native
	WatchMode string `json:"watch_mode" example:"native"`
	// Current environment snapshot version.
	// example: 3
	EnvVersion uint64 `json:"env_version" example:"3"`
	// Last error observed by the supervisor (if any).
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
