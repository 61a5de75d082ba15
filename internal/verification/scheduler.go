package verification

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs one sweep's verification pass on a periodic interval.
// It is stateless: each tick independently verifies [now-Lookback, now).
type Scheduler struct {
	engine *Engine
	sweep  Sweep
	now    func() time.Time
}

// NewScheduler creates a periodic scheduler for one sweep.
func NewScheduler(engine *Engine, sweep Sweep) *Scheduler {
	if engine == nil {
		panic("verification: engine must not be nil")
	}
	return &Scheduler{
		engine: engine,
		sweep:  sweep,
		now:    time.Now,
	}
}

// Start begins periodic verification. Runs until context is cancelled,
// then performs one final bounded pass before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.sweep.Every)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting verification sweep",
		"sweep", s.sweep.Name,
		"tenant_id", s.sweep.TenantID,
		"every", s.sweep.Every,
		"lookback", s.sweep.Lookback,
	)

	// Run an initial pass so a fresh deployment is not blind for one interval.
	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)", "sweep", s.sweep.Name)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Scheduler] Running final sweep before shutdown...", "sweep", s.sweep.Name)
			s.runOnce(shutdownCtx)
			slog.Info("[Scheduler] Final sweep complete", "sweep", s.sweep.Name)

			return nil
		}
	}
}

// runOnce verifies the sweep's window. Failures are logged, never fatal:
// the next tick retries over a fresh window.
func (s *Scheduler) runOnce(ctx context.Context) {
	now := s.now().UTC()
	opts := Options{
		TenantID:  s.sweep.TenantID,
		From:      now.Add(-s.sweep.Lookback),
		To:        now,
		BatchSize: s.sweep.BatchSize,
	}

	report, err := s.engine.Verify(ctx, opts)
	if err != nil {
		slog.Error("[Scheduler] Sweep failed", "sweep", s.sweep.Name, "error", err)
		return
	}

	if !report.Verified {
		slog.Error("[Scheduler] Sweep found chain breaks",
			"sweep", s.sweep.Name,
			"tenant_id", s.sweep.TenantID,
			"breaks", len(report.Breaks),
			"events", report.TotalEvents,
		)
		return
	}

	slog.Info("[Scheduler] Sweep verified",
		"sweep", s.sweep.Name,
		"tenant_id", s.sweep.TenantID,
		"sessions", report.SessionsVerified,
		"events", report.TotalEvents,
		"incomplete", len(report.Incomplete),
		"partial", report.Partial,
	)
}
