// Package memory implements storage.EventRepository in process memory.
// It is the reference implementation of the repository contract and the
// storage fake used across unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage"
)

type chainKey struct {
	tenantID  string
	sessionID string
}

type storedEvent struct {
	event      *v1.ChainEvent
	occurredAt time.Time
}

// Store keeps each session's events in append order. All methods are safe
// for concurrent use.
type Store struct {
	mu       sync.RWMutex
	chains   map[chainKey][]*storedEvent
	seen     map[chainKey]map[string]bool
	chainSeq int64
}

var _ storage.EventRepository = (*Store)(nil)

// NewStore creates an empty in-memory event store.
func NewStore() *Store {
	return &Store{
		chains: make(map[chainKey][]*storedEvent),
		seen:   make(map[chainKey]map[string]bool),
	}
}

// SaveEvent persists one chained event. It enforces the same guards the
// relational schema does: id uniqueness per session (storage.ErrDuplicate)
// and tail continuity (storage.ErrChainConflict when the event's prev_hash
// no longer matches the current tail).
func (s *Store) SaveEvent(ctx context.Context, event *v1.ChainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(event)
}

// SaveEvents persists a pre-chained single-session batch in order.
// Partial failure leaves earlier events in place, matching the relational
// adapter's per-row semantics.
func (s *Store) SaveEvents(ctx context.Context, events []*v1.ChainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		if err := s.saveLocked(event); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveLocked(event *v1.ChainEvent) error {
	key := chainKey{tenantID: event.TenantID, sessionID: event.SessionID}

	if s.seen[key][event.ID] {
		return storage.ErrDuplicate
	}

	chain := s.chains[key]
	if !tailMatches(chain, event.PrevHash) {
		return storage.ErrChainConflict
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	if err != nil {
		return fmt.Errorf("memory: parse event timestamp: %w", err)
	}

	s.chainSeq++
	event.ChainSeq = s.chainSeq

	s.chains[key] = append(chain, &storedEvent{event: event, occurredAt: occurredAt})
	if s.seen[key] == nil {
		s.seen[key] = make(map[string]bool)
	}
	s.seen[key][event.ID] = true
	return nil
}

func tailMatches(chain []*storedEvent, prevHash *string) bool {
	if len(chain) == 0 {
		return prevHash == nil
	}
	tail := chain[len(chain)-1].event.Hash
	return prevHash != nil && *prevHash == tail
}

// GetLastHash returns the tail digest of the chain, nil when empty.
func (s *Store) GetLastHash(ctx context.Context, tenantID, sessionID string) (*string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[chainKey{tenantID: tenantID, sessionID: sessionID}]
	if len(chain) == 0 {
		return nil, nil
	}
	tail := chain[len(chain)-1].event.Hash
	return &tail, nil
}

// GetSessionIDsInRange returns the tenant's sessions with at least one event
// inside [from, to). Zero bounds widen the window.
func (s *Store) GetSessionIDsInRange(ctx context.Context, tenantID string, from, to time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []string
	for key, chain := range s.chains {
		if key.tenantID != tenantID {
			continue
		}
		for _, stored := range chain {
			if !from.IsZero() && stored.occurredAt.Before(from) {
				continue
			}
			if !to.IsZero() && !stored.occurredAt.Before(to) {
				continue
			}
			sessions = append(sessions, key.sessionID)
			break
		}
	}

	sort.Strings(sessions)
	return sessions, nil
}

// GetEventsBatch returns up to limit events in ascending storage order,
// skipping the first offset rows. Returned pointers alias the stored rows.
func (s *Store) GetEventsBatch(ctx context.Context, tenantID, sessionID string, offset, limit int) ([]*v1.ChainEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[chainKey{tenantID: tenantID, sessionID: sessionID}]
	if offset < 0 || offset >= len(chain) {
		return nil, nil
	}

	end := offset + limit
	if limit <= 0 || end > len(chain) {
		end = len(chain)
	}

	events := make([]*v1.ChainEvent, 0, end-offset)
	for _, stored := range chain[offset:end] {
		events = append(events, stored.event)
	}
	return events, nil
}

// Size returns the total number of stored events across all chains.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, chain := range s.chains {
		total += len(chain)
	}
	return total
}
