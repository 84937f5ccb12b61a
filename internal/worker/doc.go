// Package worker runs one isolated copy of a variant's request handler and
// talks to it by message passing. It is structured by concern:
//
//   - protocol.go: NDJSON message shape shared with the worker side.
//   - unit.go: Unit, the supervisor half of one worker (correlation table,
//     ready handshake, crash handling, termination).
//   - spawner.go: Spawner interface, Spec, and the Handshake helper that
//     turns a fresh Unit into a ready one or a SpawnError.
//   - process.go: ProcessSpawner, a subprocess per unit (node + bootstrap.js
//     by default). Requests travel on stdin, replies on fd 3, and
//     stdout/stderr lines become log events. bootstrap.js is the embedded
//     worker-side runtime; linewriter.go splits output into log lines.
//   - errors.go: SpawnError, CommunicationError, TimeoutError, HandlerError.
//
// No memory is shared across the boundary: requests, responses and
// environment snapshots are copied into messages.
package worker
