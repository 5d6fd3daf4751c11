package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'staff', 'user')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS items (
    id          INTEGER PRIMARY KEY,
    kind        TEXT NOT NULL CHECK (kind IN ('lost', 'found')),
    title       TEXT NOT NULL,
    description TEXT,
    category    TEXT NOT NULL,
    location    TEXT,
    occurred_on TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'matched', 'claimed', 'closed')),
    reported_by INTEGER NOT NULL REFERENCES users(id),
    image       BLOB,
    image_mime  TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_kind_status ON items(kind, status);

CREATE TABLE IF NOT EXISTS declined_pairings (
    source_item_id    INTEGER NOT NULL REFERENCES items(id),
    candidate_item_id INTEGER NOT NULL REFERENCES items(id),
    declined_by       INTEGER REFERENCES users(id),
    declined_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source_item_id, candidate_item_id)
);

CREATE TABLE IF NOT EXISTS handoff_sessions (
    id                         TEXT PRIMARY KEY,
    lost_item_id               INTEGER NOT NULL REFERENCES items(id),
    found_item_id              INTEGER NOT NULL REFERENCES items(id),
    owner_id                   INTEGER NOT NULL REFERENCES users(id),
    counterpart_id             INTEGER NOT NULL REFERENCES users(id),
    owner_code                 TEXT NOT NULL,
    counterpart_code           TEXT NOT NULL,
    owner_attempts             INTEGER NOT NULL DEFAULT 0,
    counterpart_attempts       INTEGER NOT NULL DEFAULT 0,
    owner_verified_counterpart INTEGER NOT NULL DEFAULT 0,
    counterpart_verified_owner INTEGER NOT NULL DEFAULT 0,
    locked                     INTEGER NOT NULL DEFAULT 0,
    status                     TEXT NOT NULL CHECK (status IN ('ACTIVE', 'LOCKED', 'EXPIRED', 'COMPLETED')),
    expires_at                 INTEGER NOT NULL,
    created_by                 INTEGER REFERENCES users(id),
    created_at                 DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at                 DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY,
    action      TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    actor_id    INTEGER REFERENCES users(id),
    details     TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at INTEGER NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
