package registry

// Schema is the registry table. Timestamps are milliseconds since epoch.
const Schema = `
CREATE TABLE IF NOT EXISTS files (
    path         TEXT PRIMARY KEY,
    size         INTEGER NOT NULL DEFAULT 0,
    fingerprint  TEXT NOT NULL DEFAULT '',
    modified_at  INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL DEFAULT 'added',
    last_checked INTEGER NOT NULL DEFAULT 0,
    raw_text     TEXT
);
CREATE INDEX IF NOT EXISTS idx_files_status ON files(status, last_checked);
`
