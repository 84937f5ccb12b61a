// Package manager supervises worker generations: it builds them, routes
// requests to the serving one, swaps in replacements on reload, and drains
// and terminates the old ones. It is structured into small files by concern:
//
//   - manager.go: Manager, Start/Close, Route, build, promote and drain.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - generation.go: Generation (units, in-flight count, idle signal, env version).
//   - env.go: env propagation, ReplaceEnv and SwitchVariant.
//   - reload.go: reload coordinator (trigger coalescing, jobs) and watcher lifecycle.
//   - status_report.go: Status reporting.
//   - types.go: state and reload job types.
//   - errors.go: error types and helpers (IsServiceUnavailable, IsReloadBuildError).
//   - events.go, eventpub_memory.go: EventPublisher and an in-memory recorder.
//   - metrics.go: Prometheus collectors for generations, routes, reloads and env pushes.
//
// At most one generation is routable at any time. Promotion swaps the
// serving handle and demotes the previous generation under one write lock;
// Route takes its in-flight reference under the read lock, so a draining
// generation never receives new requests and is terminated only once its
// in-flight count reaches zero.
package manager
