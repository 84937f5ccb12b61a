package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"danmud/internal/envstore"
	"danmud/internal/variant"
)

// Spec describes one unit to spawn.
type Spec struct {
	Generation uint64
	Index      int
	Variant    variant.Variant
	// Env is delivered before the entry module loads.
	Env envstore.Snapshot
}

// Spawner creates ready units. A returned unit has received Spec.Env and
// completed its ready handshake; on failure the error is a *SpawnError and
// nothing is left running.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (*Unit, error)
}

// Handshake sends the initial setEnv to a fresh unit and waits for it to
// report ready within timeout. It does not terminate u on failure.
func Handshake(ctx context.Context, u *Unit, spec Spec, timeout time.Duration) error {
	spawnErr := func(err error) error {
		return &SpawnError{Generation: spec.Generation, Unit: spec.Index, Err: err}
	}
	if err := u.SetEnv(spec.Env); err != nil {
		return spawnErr(fmt.Errorf("send initial env: %w", err))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := u.WaitReady(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return spawnErr(fmt.Errorf("not ready within %s", timeout))
		}
		var ce *CommunicationError
		if errors.As(err, &ce) {
			return spawnErr(fmt.Errorf("exited before ready: %w", ce.Err))
		}
		return spawnErr(err)
	}
	return nil
}
