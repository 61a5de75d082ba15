package v1

import (
	"fmt"
	"time"
)

// EventType is the fixed enumeration of activity events an agent can emit.
type EventType string

const (
	EventTypeSessionStart  EventType = "session_start"
	EventTypeSessionEnd    EventType = "session_end"
	EventTypeToolCall      EventType = "tool_call"
	EventTypeToolResponse  EventType = "tool_response"
	EventTypeToolError     EventType = "tool_error"
	EventTypeModelCall     EventType = "model_call"
	EventTypeModelResponse EventType = "model_response"
	EventTypeCustom        EventType = "custom"
)

// Severity classifies an event for operators. It participates in the event
// hash but has no chain semantics of its own.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var validEventTypes = map[EventType]bool{
	EventTypeSessionStart:  true,
	EventTypeSessionEnd:    true,
	EventTypeToolCall:      true,
	EventTypeToolResponse:  true,
	EventTypeToolError:     true,
	EventTypeModelCall:     true,
	EventTypeModelResponse: true,
	EventTypeCustom:        true,
}

var validSeverities = map[Severity]bool{
	SeverityDebug:    true,
	SeverityInfo:     true,
	SeverityWarning:  true,
	SeverityError:    true,
	SeverityCritical: true,
}

// NewEvent is the write-side shape handed to the chain writer.
// It carries no hash material: prev_hash and hash are always engine-computed.
//
// It separates the "Envelope" (scoping and classification attributes) from
// the "Letter" (Payload/Metadata), which stay semantically opaque to the
// chain and are only serialized canonically for hashing.
type NewEvent struct {
	// ID is the unique immutable identifier of the event. Assigned at
	// ingest when empty; unique per (TenantID, SessionID).
	ID string `json:"id"`

	// Timestamp is an RFC 3339 string. It is assigned at ingest when empty,
	// or trusted from the writer when supplied. Used only for range filters
	// and advisory checks; storage order, not this field, orders the chain.
	Timestamp string `json:"timestamp"`

	// TenantID and SessionID scope the chain this event belongs to.
	// Chains are maintained per (TenantID, SessionID) pair.
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`

	// AgentID identifies the agent that emitted the event.
	AgentID string `json:"agent_id"`

	EventType EventType `json:"event_type"`
	Severity  Severity  `json:"severity"`

	// Payload is the domain-specific body of the event (tool arguments,
	// model responses, ...). Opaque to the chain.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Metadata is a generic key-value store for side-channel context
	// (source, trace_id, region, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate ensures the event has all required envelope attributes.
// An empty Severity is defaulted to info rather than rejected.
func (e *NewEvent) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	if e.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	if !validEventTypes[e.EventType] {
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}

	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if !validSeverities[e.Severity] {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}

	if e.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
			return fmt.Errorf("timestamp is not RFC 3339: %w", err)
		}
	}

	return nil
}

// ChainEvent is a persisted event: the NewEvent fields plus the hash linkage
// computed by the chain writer.
type ChainEvent struct {
	NewEvent

	// PrevHash is the digest of the immediately preceding event in this
	// session's chain, nil for the first event.
	PrevHash *string `json:"prev_hash"`

	// Hash is the canonical digest over all hash-relevant fields,
	// including PrevHash.
	Hash string `json:"hash"`

	// ChainSeq is the storage-assigned per-row sequence. It defines the
	// order the chain is built and verified against. Never hashed, never
	// exposed in the public API.
	ChainSeq int64 `json:"-"`
}
