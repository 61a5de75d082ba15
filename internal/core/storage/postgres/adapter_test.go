package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(querySaveEvent))
	stmtSave, err := db.Prepare(querySaveEvent)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryGetLastHash))
	stmtLastHash, err := db.Prepare(queryGetLastHash)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(querySessionIDsInRange))
	stmtSessions, err := db.Prepare(querySessionIDsInRange)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryEventsBatch))
	stmtBatch, err := db.Prepare(queryEventsBatch)
	require.NoError(t, err)

	adapter := &Adapter{
		db:                  db,
		stmtSaveEvent:       stmtSave,
		stmtGetLastHash:     stmtLastHash,
		stmtSessionsInRange: stmtSessions,
		stmtEventsBatch:     stmtBatch,
	}
	return adapter, mock, db
}

func eventRowColumns() []string {
	return []string{
		"id", "tenant_id", "session_id", "agent_id",
		"event_type", "severity", "ts",
		"payload", "metadata", "prev_hash", "hash", "chain_seq",
	}
}

func testChainEvent(prev *string) *v1.ChainEvent {
	return &v1.ChainEvent{
		NewEvent: v1.NewEvent{
			ID:        "evt-1",
			Timestamp: "2026-02-08T12:00:00Z",
			TenantID:  "tenant-1",
			SessionID: "sess-1",
			AgentID:   "agent-7",
			EventType: v1.EventTypeToolCall,
			Severity:  v1.SeverityInfo,
			Payload:   map[string]interface{}{"tool": "search"},
			Metadata:  map[string]string{"source": "sdk"},
		},
		PrevHash: prev,
		Hash:     "sha256:bb",
	}
}

func TestAdapter_SaveEvent(t *testing.T) {
	prev := "sha256:aa"

	tests := []struct {
		name           string
		event          *v1.ChainEvent
		mockResult     func(mock sqlmock.Sqlmock, event *v1.ChainEvent)
		assertions     func(t *testing.T, event *v1.ChainEvent, err error)
		expectationsOK bool
	}{
		{
			name:  "success sets chain seq",
			event: testChainEvent(&prev),
			mockResult: func(mock sqlmock.Sqlmock, event *v1.ChainEvent) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEvent)).
					WithArgs(
						event.ID,
						event.TenantID,
						event.SessionID,
						event.AgentID,
						event.EventType,
						event.Severity,
						event.Timestamp,
						sqlmock.AnyArg(),
						sqlmock.AnyArg(),
						sqlmock.AnyArg(),
						prev,
						event.Hash,
					).
					WillReturnRows(sqlmock.NewRows([]string{"chain_seq"}).AddRow(int64(42)))
			},
			assertions: func(t *testing.T, event *v1.ChainEvent, err error) {
				require.NoError(t, err)
				require.Equal(t, int64(42), event.ChainSeq)
			},
			expectationsOK: true,
		},
		{
			name:  "duplicate id maps to ErrDuplicate",
			event: testChainEvent(&prev),
			mockResult: func(mock sqlmock.Sqlmock, event *v1.ChainEvent) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEvent)).
					WillReturnError(&pq.Error{Code: "23505", Constraint: constraintEventID})
			},
			assertions: func(t *testing.T, event *v1.ChainEvent, err error) {
				require.ErrorIs(t, err, storage.ErrDuplicate)
				require.Equal(t, int64(0), event.ChainSeq)
			},
			expectationsOK: true,
		},
		{
			name:  "tail conflict maps to ErrChainConflict",
			event: testChainEvent(&prev),
			mockResult: func(mock sqlmock.Sqlmock, event *v1.ChainEvent) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEvent)).
					WillReturnError(&pq.Error{Code: "23505", Constraint: constraintChainTail})
			},
			assertions: func(t *testing.T, event *v1.ChainEvent, err error) {
				require.ErrorIs(t, err, storage.ErrChainConflict)
			},
			expectationsOK: true,
		},
		{
			name:  "genesis conflict maps to ErrChainConflict",
			event: testChainEvent(nil),
			mockResult: func(mock sqlmock.Sqlmock, event *v1.ChainEvent) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEvent)).
					WillReturnError(&pq.Error{Code: "23505", Constraint: constraintChainGenesis})
			},
			assertions: func(t *testing.T, event *v1.ChainEvent, err error) {
				require.ErrorIs(t, err, storage.ErrChainConflict)
			},
			expectationsOK: true,
		},
		{
			name: "marshal error short-circuits",
			event: func() *v1.ChainEvent {
				evt := testChainEvent(nil)
				evt.Payload = map[string]interface{}{"value": math.NaN()}
				return evt
			}(),
			assertions: func(t *testing.T, event *v1.ChainEvent, err error) {
				require.Error(t, err)
				require.ErrorContains(t, err, "failed to marshal payload")
			},
			expectationsOK: true,
		},
		{
			name: "bad timestamp short-circuits",
			event: func() *v1.ChainEvent {
				evt := testChainEvent(nil)
				evt.Timestamp = "not-a-time"
				return evt
			}(),
			assertions: func(t *testing.T, event *v1.ChainEvent, err error) {
				require.Error(t, err)
				require.ErrorContains(t, err, "failed to parse event timestamp")
			},
			expectationsOK: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			if tc.mockResult != nil {
				tc.mockResult(mock, tc.event)
			}

			err := adapter.SaveEvent(context.Background(), tc.event)
			tc.assertions(t, tc.event, err)

			if tc.expectationsOK {
				require.NoError(t, mock.ExpectationsWereMet())
			}
		})
	}
}

func TestAdapter_GetLastHash(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryGetLastHash)).
		WithArgs("tenant-1", "sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("sha256:aa"))

	hash, err := adapter.GetLastHash(context.Background(), "tenant-1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, hash)
	require.Equal(t, "sha256:aa", *hash)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetLastHash)).
		WithArgs("tenant-1", "sess-empty").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}))

	hash, err = adapter.GetLastHash(context.Background(), "tenant-1", "sess-empty")
	require.NoError(t, err)
	require.Nil(t, hash)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_GetEventsBatch(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryEventsBatch)).
		WithArgs("tenant-1", "sess-1", 0, 2).
		WillReturnRows(sqlmock.NewRows(eventRowColumns()).
			AddRow(
				"evt-1", "tenant-1", "sess-1", "agent-7",
				"tool_call", "info", "2026-02-08T12:00:00Z",
				[]byte(`{"tool":"search"}`),
				[]byte(`{"source":"sdk"}`),
				nil,
				"sha256:aa",
				int64(1),
			).
			AddRow(
				"evt-2", "tenant-1", "sess-1", "agent-7",
				"tool_response", "info", "2026-02-08T12:00:01Z",
				[]byte(`{"result":"ok"}`),
				nil,
				"sha256:aa",
				"sha256:bb",
				int64(2),
			),
		).RowsWillBeClosed()

	events, err := adapter.GetEventsBatch(context.Background(), "tenant-1", "sess-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, "evt-1", events[0].ID)
	require.Nil(t, events[0].PrevHash)
	require.Equal(t, "sha256:aa", events[0].Hash)
	require.Equal(t, int64(1), events[0].ChainSeq)
	require.Equal(t, "search", events[0].Payload["tool"])
	require.Equal(t, "sdk", events[0].Metadata["source"])

	require.Equal(t, "evt-2", events[1].ID)
	require.NotNil(t, events[1].PrevHash)
	require.Equal(t, "sha256:aa", *events[1].PrevHash)
	require.Nil(t, events[1].Metadata)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_GetSessionIDsInRange(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	from := time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(querySessionIDsInRange)).
		WithArgs("tenant-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).
			AddRow("sess-1").
			AddRow("sess-2"),
		).RowsWillBeClosed()

	sessions, err := adapter.GetSessionIDsInRange(context.Background(), "tenant-1", from, to)
	require.NoError(t, err)
	require.Equal(t, []string{"sess-1", "sess-2"}, sessions)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_GetEventsBatchQueryError(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryEventsBatch)).
		WillReturnError(errors.New("connection reset"))

	_, err := adapter.GetEventsBatch(context.Background(), "tenant-1", "sess-1", 0, 10)
	require.ErrorContains(t, err, "failed to query events batch")

	require.NoError(t, mock.ExpectationsWereMet())
}
