package store

// SQL schema constants for the four §6.5 collections: apps, app_api_keys,
// device_sessions, logs.

const schemaApps = `
CREATE TABLE IF NOT EXISTS apps (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_apps_owner ON apps(owner_id);
`

const schemaAppAPIKeys = `
CREATE TABLE IF NOT EXISTS app_api_keys (
    lookup_hash TEXT PRIMARY KEY,
    verify_hash TEXT NOT NULL,
    app_id TEXT NOT NULL,
    created_at TEXT NOT NULL,
    revoked_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_app_api_keys_app ON app_api_keys(app_id);
`

const schemaDeviceSessions = `
CREATE TABLE IF NOT EXISTS device_sessions (
    device_code TEXT PRIMARY KEY,
    user_code TEXT NOT NULL,
    status TEXT NOT NULL,
    app_id TEXT NOT NULL DEFAULT '',
    api_key_plaintext TEXT NOT NULL DEFAULT '',
    api_key_hash TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    last_poll_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_device_sessions_user_code ON device_sessions(user_code);
CREATE INDEX IF NOT EXISTS idx_device_sessions_expires ON device_sessions(expires_at);
`

const schemaLogs = `
CREATE TABLE IF NOT EXISTS logs (
    id TEXT PRIMARY KEY,
    app_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    service TEXT NOT NULL,
    attributes TEXT NOT NULL DEFAULT '{}',
    fingerprint TEXT NOT NULL,
    ingested_at TEXT NOT NULL,
    classification TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_logs_app_fingerprint ON logs(app_id, fingerprint);
CREATE INDEX IF NOT EXISTS idx_logs_app_ingested ON logs(app_id, ingested_at);
CREATE INDEX IF NOT EXISTS idx_logs_ingested ON logs(ingested_at);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaApps,
	schemaAppAPIKeys,
	schemaDeviceSessions,
	schemaLogs,
	schemaMigrations,
}
