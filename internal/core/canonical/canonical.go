// Package canonical computes the digest that links events into a session
// chain. Serialization follows RFC 8785 (JSON Canonicalization Scheme) so
// that two field-for-field-equal events hash identically regardless of map
// iteration order, runtime, or locale.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
)

// DigestPrefix tags every digest with the algorithm that produced it.
const DigestPrefix = "sha256:"

// hashableEvent is the exact hash-relevant field set. Anything not listed
// here (storage sequence, the stored hash itself) must never affect the
// digest. Fields carry no omitempty: a nil payload serializes as an explicit
// null, distinct from an empty object.
type hashableEvent struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	TenantID  string                 `json:"tenant_id"`
	SessionID string                 `json:"session_id"`
	AgentID   string                 `json:"agent_id"`
	EventType v1.EventType           `json:"event_type"`
	Severity  v1.Severity            `json:"severity"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]string      `json:"metadata"`
	PrevHash  *string                `json:"prev_hash"`
}

// HashEvent returns the chain digest for the given event fields and
// predecessor digest. prevHash is nil for the first event of a session.
// Pure: no I/O, no clock reads.
func HashEvent(evt *v1.NewEvent, prevHash *string) (string, error) {
	h := hashableEvent{
		ID:        evt.ID,
		Timestamp: evt.Timestamp,
		TenantID:  evt.TenantID,
		SessionID: evt.SessionID,
		AgentID:   evt.AgentID,
		EventType: evt.EventType,
		Severity:  evt.Severity,
		Payload:   evt.Payload,
		Metadata:  evt.Metadata,
		PrevHash:  prevHash,
	}

	raw, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("canonical: marshal event: %w", err)
	}

	transformed, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonical: jcs transform: %w", err)
	}

	return HashBytes(transformed), nil
}

// HashChainEvent recomputes the digest of a stored event from its own
// recorded prev_hash. Used by the verifier; the stored Hash field does not
// participate.
func HashChainEvent(evt *v1.ChainEvent) (string, error) {
	return HashEvent(&evt.NewEvent, evt.PrevHash)
}

// HashBytes computes the SHA-256 digest of raw bytes in the stored encoding.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}
