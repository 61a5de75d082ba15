// Package chain owns the write path of the tamper-evident event log: every
// insert links the new event to the session's current tail digest, so any
// later in-place edit or reorder of stored rows breaks the recomputed chain.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
	"github.com/trailguard-lab/project-trailguard/internal/core/canonical"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage"
)

// defaultMaxAttempts bounds retries when the storage-level fork guard
// reports that the tail moved under us (another process appended).
const defaultMaxAttempts = 3

// Writer appends events to their session chains.
type Writer struct {
	repo        storage.EventRepository
	locks       sessionLocks
	maxAttempts int
	clock       func() time.Time
}

// NewWriter creates a chain writer over the given repository.
func NewWriter(repo storage.EventRepository) *Writer {
	if repo == nil {
		panic("chain: repository must not be nil")
	}
	return &Writer{
		repo:        repo,
		maxAttempts: defaultMaxAttempts,
		clock:       time.Now,
	}
}

// WithClock overrides the ingest clock for testing.
func (w *Writer) WithClock(clock func() time.Time) *Writer {
	w.clock = clock
	return w
}

// WithMaxAttempts overrides the tail-conflict retry budget.
func (w *Writer) WithMaxAttempts(n int) *Writer {
	if n > 0 {
		w.maxAttempts = n
	}
	return w
}

// Append chains and persists a single event: read the session tail, link the
// event to it, compute the canonical digest, and write the row. The
// read-then-write sequence runs under the session's lock; concurrent appends
// to the same session serialize, appends to other sessions do not contend.
//
// The event's ID and Timestamp are assigned at ingest when empty. Returns
// the persisted ChainEvent, storage.ErrDuplicate for a replayed event ID, or
// an *IntegrityError when the chain invariant could not be upheld.
func (w *Writer) Append(ctx context.Context, evt *v1.NewEvent) (*v1.ChainEvent, error) {
	if err := w.prepare(evt); err != nil {
		return nil, err
	}

	mu := w.locks.get(evt.TenantID, evt.SessionID)
	mu.Lock()
	defer mu.Unlock()

	chained, err := w.appendLocked(ctx, []*v1.NewEvent{evt})
	if err != nil {
		return nil, err
	}
	return chained[0], nil
}

// AppendAll chains and persists a batch. Events of the same session are
// processed strictly in the given order, each computed hash threading into
// the next event's prev_hash exactly as if appended one at a time. Distinct
// sessions are appended in parallel. Results are returned in input order.
func (w *Writer) AppendAll(ctx context.Context, events []*v1.NewEvent) ([]*v1.ChainEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	for _, evt := range events {
		if err := w.prepare(evt); err != nil {
			return nil, err
		}
	}

	// Group by session, remembering input positions.
	type sessionGroup struct {
		events  []*v1.NewEvent
		indexes []int
	}
	groups := make(map[string]*sessionGroup)
	for i, evt := range events {
		key := sessionKey(evt.TenantID, evt.SessionID)
		g, ok := groups[key]
		if !ok {
			g = &sessionGroup{}
			groups[key] = g
		}
		g.events = append(g.events, evt)
		g.indexes = append(g.indexes, i)
	}

	results := make([]*v1.ChainEvent, len(events))
	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			mu := w.locks.get(g.events[0].TenantID, g.events[0].SessionID)
			mu.Lock()
			defer mu.Unlock()

			chained, err := w.appendLocked(egCtx, g.events)
			if err != nil {
				return err
			}
			for i, evt := range chained {
				results[g.indexes[i]] = evt
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// prepare validates the envelope and assigns ingest-time identity.
func (w *Writer) prepare(evt *v1.NewEvent) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("chain append: %w", err)
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp == "" {
		evt.Timestamp = w.clock().UTC().Format(time.RFC3339Nano)
	}
	return nil
}

// appendLocked runs the read-tail/compute/persist sequence for one session's
// events. Caller holds the session lock. A tail conflict from the storage
// fork guard re-reads the tail and rebuilds the batch, a bounded number of
// times.
func (w *Writer) appendLocked(ctx context.Context, events []*v1.NewEvent) ([]*v1.ChainEvent, error) {
	tenantID, sessionID := events[0].TenantID, events[0].SessionID

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		tail, err := w.repo.GetLastHash(ctx, tenantID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("chain append: read tail: %w", err)
		}

		chained := make([]*v1.ChainEvent, 0, len(events))
		prev := tail
		for _, evt := range events {
			hash, err := canonical.HashEvent(evt, prev)
			if err != nil {
				return nil, fmt.Errorf("chain append: %w", err)
			}
			link := &v1.ChainEvent{NewEvent: *evt, PrevHash: prev, Hash: hash}
			chained = append(chained, link)
			prev = &link.Hash
		}

		if len(chained) == 1 {
			err = w.repo.SaveEvent(ctx, chained[0])
		} else {
			err = w.repo.SaveEvents(ctx, chained)
		}
		if err == nil {
			return chained, nil
		}
		if errors.Is(err, storage.ErrChainConflict) {
			lastErr = err
			slog.Warn("[Chain] Tail moved concurrently, retrying append",
				"tenant_id", tenantID,
				"session_id", sessionID,
				"attempt", attempt)
			continue
		}
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("chain append: persist: %w", err)
	}

	return nil, &IntegrityError{
		Op:        "append",
		TenantID:  tenantID,
		SessionID: sessionID,
		Reason:    fmt.Sprintf("tail digest changed between read and write after %d attempts", w.maxAttempts),
		Err:       lastErr,
	}
}
