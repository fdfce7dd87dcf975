package workspace

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
)

// StartCleanup runs Cleanup on a cron schedule until ctx is cancelled.
// The minute tick is the gronx evaluation granularity.
func (m *Manager) StartCleanup(ctx context.Context, schedule string, olderThanDays int) error {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return errInvalidSchedule(schedule)
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				due, err := g.IsDue(schedule, now)
				if err != nil || !due {
					continue
				}
				if _, err := m.Cleanup(ctx, olderThanDays); err != nil {
					m.log.Warn("workspace.cleanup_failed", "error", err)
				}
			}
		}
	}()
	m.log.Info("workspace.cleanup_scheduled", "schedule", schedule, "older_than_days", olderThanDays)
	return nil
}

type scheduleError string

func (e scheduleError) Error() string { return "invalid cleanup schedule: " + string(e) }

func errInvalidSchedule(s string) error { return scheduleError(s) }
