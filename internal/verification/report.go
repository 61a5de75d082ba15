package verification

import "time"

// Options scopes one verification run. TenantID is required; a SessionID
// narrows the run to one chain, otherwise every session the tenant touched
// inside [From, To) is verified. Zero bounds widen the window.
type Options struct {
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id,omitempty"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`

	// BatchSize is the page size of the streaming read loop. Zero uses the
	// engine default. Reports are identical for any batch size.
	BatchSize int `json:"batch_size,omitempty"`

	// Workers caps how many sessions are verified in parallel. Zero uses
	// the engine default. Sessions are independent; only ordering within
	// one session's read loop matters.
	Workers int `json:"workers,omitempty"`

	// CheckTimestamps enables the advisory monotonicity check. Timestamps
	// are writer-supplied and never chain-authoritative, so violations are
	// reported separately and do not affect Verified.
	CheckTimestamps bool `json:"check_timestamps,omitempty"`
}

// Break is a detected point where recomputed data does not match stored
// linkage. It is the expected, first-class output of detecting tampering —
// report data, never an error.
type Break struct {
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	// Field names what diverged: "prev_hash" (linkage) or "hash" (content).
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	// Offset is the event's position in the session's storage order.
	Offset int `json:"offset"`
}

// SessionIncomplete records a repository failure that aborted one session's
// scan. Distinct from a tamper finding; Offset is where a rerun can resume.
type SessionIncomplete struct {
	SessionID string `json:"session_id"`
	Offset    int    `json:"offset"`
	Cause     string `json:"cause"`
}

// Advisory is a non-fatal observation, currently only timestamp
// monotonicity violations within a session.
type Advisory struct {
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	Detail    string `json:"detail"`
}

// Report aggregates one verification run across all targeted sessions.
type Report struct {
	// Verified is true iff zero breaks were found across all sessions.
	// "Nothing to verify" is Verified: an empty session is not tampering.
	Verified bool `json:"verified"`

	TotalEvents      int64 `json:"total_events"`
	SessionsVerified int   `json:"sessions_verified"`

	Breaks     []Break             `json:"breaks"`
	Incomplete []SessionIncomplete `json:"incomplete,omitempty"`
	Advisories []Advisory          `json:"advisories,omitempty"`

	// Partial marks a run cut short by cancellation at a batch boundary.
	Partial bool `json:"partial,omitempty"`
}
