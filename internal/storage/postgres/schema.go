package postgres

// Schema for the local mirror. EnsureSchema applies it idempotently at
// startup; statements are ordered so foreign keys resolve.
const schema = `
CREATE TABLE IF NOT EXISTS records (
	id            BIGINT PRIMARY KEY,
	name          TEXT NOT NULL,
	keywords      TEXT[] NOT NULL,
	revision      TEXT NOT NULL,
	doc           JSONB NOT NULL,
	first_fetched TIMESTAMPTZ NOT NULL,
	last_fetched  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS records_last_fetched_idx ON records (last_fetched);

CREATE TABLE IF NOT EXISTS attachments (
	id   BIGINT PRIMARY KEY REFERENCES records (id) ON DELETE CASCADE,
	lo   BIGINT NOT NULL,
	hi   BIGINT NOT NULL,
	rows JSONB  NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_state (
	pass_id        UUID PRIMARY KEY,
	range_start    BIGINT NOT NULL,
	range_end      BIGINT NOT NULL,
	last_completed BIGINT NOT NULL,
	pass_start     TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL,
	stale_cutoff   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS crawl_state_open_idx
	ON crawl_state (pass_start DESC)
	WHERE status IN ('running', 'interrupted');

CREATE TABLE IF NOT EXISTS failures (
	id         BIGINT PRIMARY KEY,
	attempts   INT NOT NULL,
	last_error TEXT NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL
);
`
