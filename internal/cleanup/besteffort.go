// Package cleanup holds fire-and-forget operations whose failures are logged
// and never propagated to the caller.
package cleanup

import (
	"context"

	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// Func is a cleanup step.
type Func func(ctx context.Context) error

// BestEffort runs fn and swallows its error after logging it. It reports
// whether the step completed without error.
func BestEffort(ctx context.Context, logger *logging.Logger, op string, fn Func, attrs ...any) bool {
	if logger == nil {
		logger = logging.Default()
	}
	err := fn(ctx)
	if err == nil {
		return true
	}
	logger.Warn("best-effort cleanup failed", append([]any{"op", op, "error", err}, attrs...)...)
	return false
}

// Detached returns a context that keeps the parent's values but is not
// cancelled with it, so teardown still runs after a caller gives up.
func Detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
