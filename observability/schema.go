package observability

import "database/sql"

// Schema contains the DDL of the outcome journal. All statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS conversion_events (
    event_id    TEXT PRIMARY KEY,
    operation   TEXT NOT NULL,
    target      TEXT NOT NULL DEFAULT '',
    success     INTEGER NOT NULL,
    kind        TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL,
    bytes       INTEGER NOT NULL DEFAULT 0,
    trace_id    TEXT NOT NULL DEFAULT '',
    transport   TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversion_events_time
    ON conversion_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversion_events_op_kind
    ON conversion_events(operation, kind);
`

// Init creates the journal tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
