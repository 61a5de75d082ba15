package postgres

// SQL queries for chained event storage.

const (
	// querySaveEvent inserts a chained event row.
	// RETURNING retrieves the auto-generated chain_seq, the per-session
	// storage order the verifier streams over. Uniqueness violations are
	// mapped to storage errors by constraint name in the adapter:
	// duplicate (tenant_id, session_id, id) vs a chain-tail conflict.
	querySaveEvent = `
		INSERT INTO agent_events (
			id, tenant_id, session_id, agent_id,
			event_type, severity, ts, occurred_at,
			payload, metadata, prev_hash, hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING chain_seq
	`

	// queryGetLastHash fetches the tail digest of one session chain.
	// chain_seq, not occurred_at, is chain-authoritative order.
	queryGetLastHash = `
		SELECT hash
		FROM agent_events
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY chain_seq DESC
		LIMIT 1
	`

	// querySessionIDsInRange lists the distinct sessions of a tenant with
	// at least one event inside [from, to). occurred_at is a derived column
	// used only for range scoping; it never participates in chain order.
	querySessionIDsInRange = `
		SELECT DISTINCT session_id
		FROM agent_events
		WHERE tenant_id = $1
		  AND occurred_at >= $2
		  AND occurred_at < $3
		ORDER BY session_id
	`

	// queryEventsBatch pages through one session in ascending storage
	// order. Rows are append-only, so OFFSET over chain_seq order is
	// stable within a verification pass.
	queryEventsBatch = `
		SELECT
			id, tenant_id, session_id, agent_id,
			event_type, severity, ts,
			payload, metadata, prev_hash, hash, chain_seq
		FROM agent_events
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY chain_seq ASC
		OFFSET $3
		LIMIT $4
	`
)
