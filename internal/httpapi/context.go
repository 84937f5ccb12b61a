package httpapi

import (
	"context"
)

// serverBaseCtx is cancelled once the HTTP server has shut down, so that
// forwarded requests still waiting on a worker give up.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context. Nil resets it.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req a context that also ends when base ends.
// Values come from req. The returned cancel must be called.
func joinContexts(req, base context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
