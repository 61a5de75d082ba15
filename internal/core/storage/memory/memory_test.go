package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage"
)

func chained(id, tenant, session, ts string, prev *string, hash string) *v1.ChainEvent {
	return &v1.ChainEvent{
		NewEvent: v1.NewEvent{
			ID:        id,
			Timestamp: ts,
			TenantID:  tenant,
			SessionID: session,
			AgentID:   "agent-1",
			EventType: v1.EventTypeCustom,
			Severity:  v1.SeverityInfo,
		},
		PrevHash: prev,
		Hash:     hash,
	}
}

func TestStore_SaveAndTail(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	tail, err := store.GetLastHash(ctx, "t1", "s1")
	require.NoError(t, err)
	require.Nil(t, tail)

	first := chained("e1", "t1", "s1", "2026-02-08T12:00:00Z", nil, "sha256:aa")
	require.NoError(t, store.SaveEvent(ctx, first))
	require.Equal(t, int64(1), first.ChainSeq)

	tail, err = store.GetLastHash(ctx, "t1", "s1")
	require.NoError(t, err)
	require.NotNil(t, tail)
	require.Equal(t, "sha256:aa", *tail)

	prev := "sha256:aa"
	second := chained("e2", "t1", "s1", "2026-02-08T12:00:01Z", &prev, "sha256:bb")
	require.NoError(t, store.SaveEvent(ctx, second))
	require.Equal(t, int64(2), second.ChainSeq)
}

func TestStore_DuplicateAndConflict(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.SaveEvent(ctx, chained("e1", "t1", "s1", "2026-02-08T12:00:00Z", nil, "sha256:aa")))

	// Same id again in the same session.
	err := store.SaveEvent(ctx, chained("e1", "t1", "s1", "2026-02-08T12:00:00Z", nil, "sha256:aa"))
	require.ErrorIs(t, err, storage.ErrDuplicate)

	// Linking to a stale tail forks the chain.
	err = store.SaveEvent(ctx, chained("e2", "t1", "s1", "2026-02-08T12:00:01Z", nil, "sha256:cc"))
	require.ErrorIs(t, err, storage.ErrChainConflict)

	// Same id in a different session is a different event.
	require.NoError(t, store.SaveEvent(ctx, chained("e1", "t1", "s2", "2026-02-08T12:00:00Z", nil, "sha256:dd")))
}

func TestStore_GetEventsBatchPagination(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	var prev *string
	for i := 0; i < 7; i++ {
		hash := fmt.Sprintf("sha256:%02d", i)
		ts := time.Date(2026, 2, 8, 12, 0, i, 0, time.UTC).Format(time.RFC3339Nano)
		require.NoError(t, store.SaveEvent(ctx, chained(fmt.Sprintf("e%d", i), "t1", "s1", ts, prev, hash)))
		prev = &hash
	}

	batch, err := store.GetEventsBatch(ctx, "t1", "s1", 0, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, "e0", batch[0].ID)
	require.Equal(t, "e2", batch[2].ID)

	batch, err = store.GetEventsBatch(ctx, "t1", "s1", 6, 3)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "e6", batch[0].ID)

	batch, err = store.GetEventsBatch(ctx, "t1", "s1", 7, 3)
	require.NoError(t, err)
	require.Empty(t, batch)

	batch, err = store.GetEventsBatch(ctx, "t1", "unknown", 0, 3)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestStore_GetSessionIDsInRange(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	at := func(min int) string {
		return time.Date(2026, 2, 8, 12, min, 0, 0, time.UTC).Format(time.RFC3339Nano)
	}

	require.NoError(t, store.SaveEvent(ctx, chained("e1", "t1", "s-early", at(0), nil, "sha256:aa")))
	require.NoError(t, store.SaveEvent(ctx, chained("e2", "t1", "s-late", at(30), nil, "sha256:bb")))
	require.NoError(t, store.SaveEvent(ctx, chained("e3", "t2", "s-other-tenant", at(15), nil, "sha256:cc")))

	all, err := store.GetSessionIDsInRange(ctx, "t1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, []string{"s-early", "s-late"}, all)

	from := time.Date(2026, 2, 8, 12, 15, 0, 0, time.UTC)
	late, err := store.GetSessionIDsInRange(ctx, "t1", from, time.Time{})
	require.NoError(t, err)
	require.Equal(t, []string{"s-late"}, late)

	none, err := store.GetSessionIDsInRange(ctx, "t3", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, none)
}
