package manager

// Event represents a supervisor lifecycle event.
// Minimal and stable: name + generation id and optional fields via key/values.
type Event struct {
	Name       string
	Generation uint64
	Fields     map[string]any
}

// Event names.
const (
	EventSpawnStart     = "spawn_start"
	EventSpawnReady     = "spawn_ready"
	EventSpawnFailed    = "spawn_failed"
	EventPromote        = "promote"
	EventDrainStart     = "drain_start"
	EventDrainDone      = "drain_done"
	EventTerminate      = "terminate"
	EventReloadStart    = "reload_start"
	EventReloadSwapped  = "reload_swapped"
	EventReloadFailed   = "reload_failed"
	EventEnvPush        = "env_push"
	EventEnvPushDropped = "env_push_dropped"
	EventUnitExit       = "unit_exit"
	EventVariantSwitch  = "variant_switch"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
