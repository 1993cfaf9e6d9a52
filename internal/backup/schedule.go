package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// ValidateSchedule reports whether expr is a usable cron expression.
func ValidateSchedule(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}

// Schedule runs r at every tick of expr until ctx is done. A failed run is
// logged and the next tick still fires.
func Schedule(ctx context.Context, r *Runner, expr string) error {
	if err := ValidateSchedule(expr); err != nil {
		return err
	}
	slog.Info("backup.scheduled", "expr", expr)
	for {
		next, err := gronx.NextTickAfter(expr, r.now(), false)
		if err != nil {
			return fmt.Errorf("next backup tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := r.Run(ctx); err != nil {
			slog.Error("backup.failed", "error", err)
		}
	}
}
