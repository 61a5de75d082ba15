// Package verification re-derives session chains from storage and checks
// them against the recorded linkage. It streams each session in fixed-size
// ascending batches so arbitrarily large sessions verify in bounded memory,
// and never mutates stored data.
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trailguard-lab/project-trailguard/internal/core/canonical"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage"
)

const (
	// DefaultBatchSize is the reference page size of the read loop.
	DefaultBatchSize = 5000

	// DefaultWorkers caps parallel session scans.
	DefaultWorkers = 4
)

// Engine is the streaming verifier. Safe for concurrent use; each Verify
// call owns its own read loops.
type Engine struct {
	repo      storage.EventRepository
	batchSize int
	workers   int
}

// NewEngine creates a verification engine with the given defaults. Zero
// values fall back to DefaultBatchSize/DefaultWorkers.
func NewEngine(repo storage.EventRepository, batchSize, workers int) *Engine {
	if repo == nil {
		panic("verification: repository must not be nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{repo: repo, batchSize: batchSize, workers: workers}
}

// sessionResult is one session's contribution to the aggregate report.
type sessionResult struct {
	events     int64
	brk        *Break
	incomplete *SessionIncomplete
	advisories []Advisory
	partial    bool
	scanned    bool
}

// Verify re-derives and checks the chains selected by opts and aggregates a
// report. Repeated verification of the same range yields the same report.
//
// Cancellation is honored between batches: a cancelled run returns the
// partial report accumulated so far, marked Partial, not an error. An error
// return means the session set itself could not be resolved.
func (e *Engine) Verify(ctx context.Context, opts Options) (*Report, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("verification: tenant_id is required")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.batchSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = e.workers
	}

	var sessions []string
	if opts.SessionID != "" {
		sessions = []string{opts.SessionID}
	} else {
		var err error
		sessions, err = e.repo.GetSessionIDsInRange(ctx, opts.TenantID, opts.From, opts.To)
		if err != nil {
			return nil, fmt.Errorf("verification: resolve sessions: %w", err)
		}
	}

	started := time.Now()
	results := make([]sessionResult, len(sessions))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, sessionID := range sessions {
		i, sessionID := i, sessionID
		eg.Go(func() error {
			results[i] = e.verifySession(egCtx, opts.TenantID, sessionID, batchSize, opts.CheckTimestamps)
			return nil
		})
	}
	// Worker funcs never return errors; findings and failures are data.
	_ = eg.Wait()

	report := &Report{Breaks: []Break{}}
	for _, res := range results {
		report.TotalEvents += res.events
		if res.scanned {
			report.SessionsVerified++
		}
		if res.brk != nil {
			report.Breaks = append(report.Breaks, *res.brk)
		}
		if res.incomplete != nil {
			report.Incomplete = append(report.Incomplete, *res.incomplete)
		}
		report.Advisories = append(report.Advisories, res.advisories...)
		if res.partial {
			report.Partial = true
		}
	}
	report.Verified = len(report.Breaks) == 0

	slog.Info("[Verify] Run complete",
		"tenant_id", opts.TenantID,
		"sessions", len(sessions),
		"events", report.TotalEvents,
		"breaks", len(report.Breaks),
		"incomplete", len(report.Incomplete),
		"partial", report.Partial,
		"duration", time.Since(started),
	)

	return report, nil
}

// verifySession walks one session in ascending batches, maintaining the
// expected predecessor digest across batch boundaries. The first mismatch
// records a break and stops the session: past a break there is no known-good
// tail to check against.
func (e *Engine) verifySession(ctx context.Context, tenantID, sessionID string, batchSize int, checkTimestamps bool) sessionResult {
	var res sessionResult
	var expectedPrev *string
	var prevTimestamp time.Time
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			res.partial = true
			return res
		}

		batch, err := e.repo.GetEventsBatch(ctx, tenantID, sessionID, offset, batchSize)
		if err != nil {
			res.incomplete = &SessionIncomplete{
				SessionID: sessionID,
				Offset:    offset,
				Cause:     err.Error(),
			}
			return res
		}

		for i, evt := range batch {
			res.events++

			if !digestsEqual(evt.PrevHash, expectedPrev) {
				res.brk = &Break{
					SessionID: sessionID,
					EventID:   evt.ID,
					Field:     "prev_hash",
					Expected:  digestString(expectedPrev),
					Actual:    digestString(evt.PrevHash),
					Offset:    offset + i,
				}
				res.scanned = true
				return res
			}

			recomputed, err := canonical.HashChainEvent(evt)
			if err != nil {
				res.incomplete = &SessionIncomplete{
					SessionID: sessionID,
					Offset:    offset + i,
					Cause:     fmt.Sprintf("recompute digest: %v", err),
				}
				return res
			}
			if recomputed != evt.Hash {
				res.brk = &Break{
					SessionID: sessionID,
					EventID:   evt.ID,
					Field:     "hash",
					Expected:  recomputed,
					Actual:    evt.Hash,
					Offset:    offset + i,
				}
				res.scanned = true
				return res
			}

			if checkTimestamps {
				if ts, tsErr := time.Parse(time.RFC3339Nano, evt.Timestamp); tsErr == nil {
					if !prevTimestamp.IsZero() && ts.Before(prevTimestamp) {
						res.advisories = append(res.advisories, Advisory{
							SessionID: sessionID,
							EventID:   evt.ID,
							Detail:    fmt.Sprintf("timestamp %s precedes predecessor %s", evt.Timestamp, prevTimestamp.Format(time.RFC3339Nano)),
						})
					}
					prevTimestamp = ts
				}
			}

			expectedPrev = &evt.Hash
		}

		if len(batch) < batchSize {
			res.scanned = true
			return res
		}
		offset += len(batch)
	}
}

func digestsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func digestString(d *string) string {
	if d == nil {
		return "null"
	}
	return *d
}
