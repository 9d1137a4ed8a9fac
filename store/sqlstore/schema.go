package sqlstore

import "strings"

// schema is applied statement by statement. {{serial}} is replaced with the
// dialect's auto-increment primary key declaration.
var schema = []string{
	// Inventory transactions (append-only ledger)
	`CREATE TABLE IF NOT EXISTS inventory_transactions (
		seq {{serial}},
		id TEXT NOT NULL UNIQUE,
		store_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		unit_cost_cents BIGINT,
		status TEXT NOT NULL,
		inventory_state TEXT NOT NULL,
		occurred_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		sale_id TEXT,
		sale_line_id TEXT,
		unit_cost_cents_at_sale BIGINT,
		cogs_cents BIGINT,
		reference_type TEXT,
		reference_id TEXT,
		reason TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at BIGINT,
		posted_by TEXT NOT NULL DEFAULT '',
		posted_at BIGINT,
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancelled_at BIGINT,
		version_id BIGINT NOT NULL DEFAULT 1
	)`,

	// Replay path (hot): one stream in business-time order
	`CREATE INDEX IF NOT EXISTS idx_inventory_transactions_stream
		ON inventory_transactions(store_id, product_id, occurred_at, created_at)`,

	// Sale idempotency key
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_inventory_transactions_sale_key
		ON inventory_transactions(store_id, sale_id, sale_line_id)
		WHERE sale_id IS NOT NULL AND sale_line_id IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_inventory_transactions_reference
		ON inventory_transactions(reference_type, reference_id)
		WHERE reference_id IS NOT NULL`,

	// One row per stream, locked to serialise check-then-insert
	`CREATE TABLE IF NOT EXISTS inventory_streams (
		store_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		PRIMARY KEY (store_id, product_id)
	)`,

	`CREATE TABLE IF NOT EXISTS document_sequences (
		store_id TEXT NOT NULL,
		document_type TEXT NOT NULL,
		last_value BIGINT NOT NULL,
		PRIMARY KEY (store_id, document_type)
	)`,

	// Master ledger (append-only)
	`CREATE TABLE IF NOT EXISTS master_ledger_events (
		seq {{serial}},
		id TEXT NOT NULL UNIQUE,
		store_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		category TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		occurred_at BIGINT NOT NULL,
		recorded_at BIGINT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_master_ledger_store_time
		ON master_ledger_events(store_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_master_ledger_entity
		ON master_ledger_events(entity_type, entity_id)`,

	// Transfers
	`CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		source_store_id TEXT NOT NULL,
		destination_store_id TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at BIGINT,
		shipped_by TEXT NOT NULL DEFAULT '',
		shipped_at BIGINT,
		received_by TEXT NOT NULL DEFAULT '',
		received_at BIGINT,
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancelled_at BIGINT,
		version_id BIGINT NOT NULL DEFAULT 1,
		UNIQUE (source_store_id, number)
	)`,

	`CREATE TABLE IF NOT EXISTS transfer_lines (
		id TEXT PRIMARY KEY,
		transfer_id TEXT NOT NULL REFERENCES transfers(id),
		product_id TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		unit_cost_cents BIGINT,
		outbound_tx_id TEXT,
		inbound_tx_id TEXT,
		created_at BIGINT NOT NULL,
		version_id BIGINT NOT NULL DEFAULT 1,
		UNIQUE (transfer_id, product_id)
	)`,

	// Physical counts
	`CREATE TABLE IF NOT EXISTS stock_counts (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		store_id TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		total_variance_quantity BIGINT NOT NULL DEFAULT 0,
		total_variance_cents BIGINT NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at BIGINT,
		posted_by TEXT NOT NULL DEFAULT '',
		posted_at BIGINT,
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancelled_at BIGINT,
		version_id BIGINT NOT NULL DEFAULT 1,
		UNIQUE (store_id, number)
	)`,

	`CREATE TABLE IF NOT EXISTS stock_count_lines (
		id TEXT PRIMARY KEY,
		count_id TEXT NOT NULL REFERENCES stock_counts(id),
		product_id TEXT NOT NULL,
		expected_quantity BIGINT NOT NULL,
		actual_quantity BIGINT NOT NULL,
		variance BIGINT NOT NULL,
		unit_cost_cents BIGINT NOT NULL,
		variance_cost_cents BIGINT NOT NULL,
		adjustment_tx_id TEXT,
		created_at BIGINT NOT NULL,
		version_id BIGINT NOT NULL DEFAULT 1,
		UNIQUE (count_id, product_id)
	)`,
}

// Schema returns the DDL statements for d.
func Schema(d Dialect) []string {
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = strings.ReplaceAll(stmt, "{{serial}}", d.SerialPrimaryKey)
	}
	return out
}
