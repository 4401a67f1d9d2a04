package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BalanceScheduleID is the id of the periodic hot wallet balance check.
const BalanceScheduleID = "hot-wallet-balance-check"

// Scheduler manages the periodic hot wallet balance check.
type Scheduler interface {
	// UpsertBalanceSchedule creates the schedule or updates its interval.
	UpsertBalanceSchedule(ctx context.Context, interval time.Duration) error

	// DeleteBalanceSchedule removes the schedule.
	DeleteBalanceSchedule(ctx context.Context) error
}

// ConfigureBalanceSchedule keeps the schedule in line with the configured
// interval: a positive interval upserts it, zero removes it.
func ConfigureBalanceSchedule(ctx context.Context, s Scheduler, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		if err := s.DeleteBalanceSchedule(ctx); err != nil {
			logger.DebugContext(ctx, "no balance schedule to delete", "error", err)
		}
		return nil
	}
	if err := s.UpsertBalanceSchedule(ctx, interval); err != nil {
		return fmt.Errorf("failed to configure balance schedule: %w", err)
	}
	return nil
}
