package manager

import "time"

// State represents lifecycle state of the manager.
type State string

const (
	StateStarting    State = "starting"
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
	StateClosed      State = "closed"
)

// GenState is the lifecycle state of one generation.
type GenState string

const (
	GenStarting   GenState = "starting"
	GenReady      GenState = "ready"
	GenDraining   GenState = "draining"
	GenTerminated GenState = "terminated"
)

// Reload job statuses.
const (
	JobPending  = "pending"
	JobBuilding = "building"
	JobSwapped  = "swapped"
	JobFailed   = "failed"
)

// Reload reasons.
const (
	ReasonStartup       = "startup"
	ReasonFileChange    = "file_change"
	ReasonManual        = "manual"
	ReasonUnitExit      = "unit_exit"
	ReasonVariantSwitch = "variant_switch"
)

// ReloadJob is one attempt to build and promote a new generation.
type ReloadJob struct {
	ID         uint64
	Generation uint64
	Reason     string
	Requested  time.Time
	Started    time.Time
	Finished   time.Time
	Status     string
	Err        error
}
