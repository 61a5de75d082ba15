package chain

import "fmt"

// IntegrityError reports a violated write-path invariant: a caller supplied
// pre-computed hash material, or the session tail moved between read and
// write and retries ran out. It is fatal to the single append and never
// affects other sessions.
type IntegrityError struct {
	Op        string
	TenantID  string
	SessionID string
	Reason    string
	Err       error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("chain %s: %s (tenant=%s session=%s)", e.Op, e.Reason, e.TenantID, e.SessionID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// NewSuppliedLinkageError is returned when a writer hands in an event that
// already carries hash or prev_hash material. Write-time chaining is always
// engine-computed, never trusted from the caller.
func NewSuppliedLinkageError(tenantID, sessionID string) *IntegrityError {
	return &IntegrityError{
		Op:        "append",
		TenantID:  tenantID,
		SessionID: sessionID,
		Reason:    "caller-supplied hash or prev_hash rejected",
	}
}
