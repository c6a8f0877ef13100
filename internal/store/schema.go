package store

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	bank_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	number      TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	type        TEXT NOT NULL,
	balance     TEXT NOT NULL DEFAULT '0',
	currency    TEXT NOT NULL DEFAULT 'USD',
	mfa_option  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	txn_date    TEXT NOT NULL,
	post_date   TEXT NOT NULL,
	payee       TEXT NOT NULL,
	amount      TEXT NOT NULL,
	currency    TEXT NOT NULL,
	txn_type    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	dedup_key   TEXT NOT NULL UNIQUE,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS transactions_account_idx ON transactions (account_id, post_date);

CREATE TABLE IF NOT EXISTS extractions (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	queued_at   TEXT NOT NULL,
	started_at  TEXT,
	updated_at  TEXT,
	finished_at TEXT,
	found_ct    INTEGER NOT NULL DEFAULT 0,
	add_ct      INTEGER NOT NULL DEFAULT 0,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS extractions_account_idx ON extractions (account_id, queued_at);

CREATE TABLE IF NOT EXISTS mfa_challenges (
	bank_id       TEXT PRIMARY KEY,
	options       TEXT,
	chosen_option INTEGER,
	code          TEXT NOT NULL DEFAULT '',
	requested_at  TEXT NOT NULL
);
`
