package storage

// coreSchema creates every table the store owns except the FTS shadow
// tables, which are layered on separately so their triggers can be dropped
// and rebuilt independently of the core schema.
const coreSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
	id             INTEGER PRIMARY KEY,
	timestamp      DATETIME NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	tool_name      TEXT NOT NULL DEFAULT '',
	file_path      TEXT NOT NULL DEFAULT '',
	operation      TEXT NOT NULL DEFAULT 'unknown',
	diff_summary   TEXT NOT NULL DEFAULT '',
	raw_input      TEXT NOT NULL DEFAULT '',
	git_commit_sha TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '{}',
	content_hash   BLOB,
	context_hash   BLOB,
	prev_hash      BLOB NOT NULL,
	event_hash     BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp    ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_file_path    ON events(file_path);
CREATE INDEX IF NOT EXISTS idx_events_session_id   ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_tool_name     ON events(tool_name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_event_hash ON events(event_hash);
CREATE INDEX IF NOT EXISTS idx_events_content_hash  ON events(content_hash);

CREATE TABLE IF NOT EXISTS exchanges (
	id             TEXT PRIMARY KEY,
	timestamp      DATETIME NOT NULL,
	project        TEXT NOT NULL DEFAULT '',
	session_id     TEXT NOT NULL DEFAULT '',
	user_message   TEXT NOT NULL DEFAULT '',
	assistant_text TEXT NOT NULL DEFAULT '',
	tool_calls     TEXT NOT NULL DEFAULT '',
	archive_path   TEXT NOT NULL DEFAULT '',
	line_start     INTEGER NOT NULL DEFAULT 0,
	line_end       INTEGER NOT NULL DEFAULT 0,
	summary        TEXT NOT NULL DEFAULT '',
	git_branch     TEXT NOT NULL DEFAULT '',
	cwd            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_exchanges_timestamp    ON exchanges(timestamp);
CREATE INDEX IF NOT EXISTS idx_exchanges_project_path ON exchanges(project);
CREATE INDEX IF NOT EXISTS idx_exchanges_session_id   ON exchanges(session_id);

CREATE TABLE IF NOT EXISTS chain_checkpoints (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	date       TEXT NOT NULL UNIQUE,
	event_count INTEGER NOT NULL,
	final_hash  BLOB NOT NULL,
	signature   TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chain_checkpoints_date ON chain_checkpoints(date);
`

// ftsSchema layers FTS5 shadow tables over events and exchanges, kept in
// sync by triggers so application code never writes to FTS directly
// (spec.md §4.1). Standalone (non-external-content) FTS5 tables are used,
// same tradeoff the pack's MycelicMemory schema documents: slightly more
// storage for reliably-firing sync triggers.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
	id UNINDEXED,
	tool_name,
	file_path,
	diff_summary,
	raw_input
);

CREATE TRIGGER IF NOT EXISTS events_fts_insert AFTER INSERT ON events BEGIN
	INSERT INTO events_fts(id, tool_name, file_path, diff_summary, raw_input)
	VALUES (new.id, new.tool_name, new.file_path, new.diff_summary, new.raw_input);
END;

CREATE TRIGGER IF NOT EXISTS events_fts_delete AFTER DELETE ON events BEGIN
	DELETE FROM events_fts WHERE id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS events_fts_update AFTER UPDATE ON events BEGIN
	UPDATE events_fts SET
		tool_name    = new.tool_name,
		file_path    = new.file_path,
		diff_summary = new.diff_summary,
		raw_input    = new.raw_input
	WHERE id = old.id;
END;

CREATE VIRTUAL TABLE IF NOT EXISTS exchanges_fts USING fts5(
	id UNINDEXED,
	user_message,
	assistant_text,
	summary
);

CREATE TRIGGER IF NOT EXISTS exchanges_fts_insert AFTER INSERT ON exchanges BEGIN
	INSERT INTO exchanges_fts(id, user_message, assistant_text, summary)
	VALUES (new.id, new.user_message, new.assistant_text, new.summary);
END;

CREATE TRIGGER IF NOT EXISTS exchanges_fts_delete AFTER DELETE ON exchanges BEGIN
	DELETE FROM exchanges_fts WHERE id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS exchanges_fts_update AFTER UPDATE ON exchanges BEGIN
	UPDATE exchanges_fts SET
		user_message   = new.user_message,
		assistant_text = new.assistant_text,
		summary        = new.summary
	WHERE id = old.id;
END;
`
