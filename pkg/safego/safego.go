package safego

import (
	"context"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery.
// If the goroutine panics, the panic value is logged and the goroutine exits
// cleanly instead of crashing the process. Used for fire-and-forget work such
// as post-stage memory writes and telemetry emission.
//
// Usage:
//
//	safego.Go(logger, "memory-candidates", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}

// GoCtx is like Go but passes a context to fn. The goroutine is not cancelled
// by the context; fn is expected to honor it in its own blocking calls.
func GoCtx(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context)) {
	Go(logger, name, func() { fn(ctx) })
}
