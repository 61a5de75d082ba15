package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
)

// ErrDuplicate is returned when an event with the same (tenant_id, session_id, id)
// already exists.
var ErrDuplicate = errors.New("event already exists")

// ErrChainConflict is returned when an insert would link to a tail digest that
// is no longer the session's tail — two writers raced on the same chain. The
// chain writer retries the read-tail-then-append sequence on this error.
var ErrChainConflict = errors.New("chain tail moved concurrently")

// EventRepository is the storage contract the chain writer and the
// verification engine depend on. Any backing store qualifies as long as it
// provides a stable, total per-session order and exact-once row visibility
// across repeated reads within one verification pass.
type EventRepository interface {
	// SaveEvent persists one chained event and populates its ChainSeq.
	SaveEvent(ctx context.Context, event *v1.ChainEvent) error

	// SaveEvents persists a pre-chained batch for a single session,
	// in the given order.
	SaveEvents(ctx context.Context, events []*v1.ChainEvent) error

	// GetLastHash returns the tail digest of the (tenant, session) chain,
	// or nil when no prior event exists.
	GetLastHash(ctx context.Context, tenantID, sessionID string) (*string, error)

	// GetSessionIDsInRange returns the distinct sessions of a tenant with at
	// least one event inside [from, to). Zero time values widen the bound.
	GetSessionIDsInRange(ctx context.Context, tenantID string, from, to time.Time) ([]string, error)

	// GetEventsBatch returns up to limit events of a session in ascending
	// storage order, skipping the first offset rows. This is the pagination
	// primitive the verifier streams over.
	GetEventsBatch(ctx context.Context, tenantID, sessionID string, offset, limit int) ([]*v1.ChainEvent, error)
}
