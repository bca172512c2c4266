package postgres

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	slug        TEXT NOT NULL UNIQUE,
	venue_name  TEXT NOT NULL DEFAULT '',
	street      TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	zip_code    TEXT NOT NULL DEFAULT '',
	published   BOOLEAN NOT NULL DEFAULT FALSE,
	cancelled   BOOLEAN NOT NULL DEFAULT FALSE,
	edit_secret TEXT NOT NULL DEFAULT '',
	view_secret TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS occurrences (
	id           UUID PRIMARY KEY,
	event_id     UUID NOT NULL REFERENCES events (id) ON DELETE CASCADE,
	rule_id      UUID,
	start_at     TIMESTAMPTZ NOT NULL,
	end_at       TIMESTAMPTZ,
	cancelled    BOOLEAN NOT NULL DEFAULT FALSE,
	auto_managed BOOLEAN NOT NULL DEFAULT FALSE,
	comment      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS occurrences_start_idx ON occurrences (start_at);
CREATE INDEX IF NOT EXISTS occurrences_rule_idx ON occurrences (rule_id, auto_managed, start_at);

CREATE TABLE IF NOT EXISTS recurrence_rules (
	id          UUID PRIMARY KEY,
	event_id    UUID NOT NULL REFERENCES events (id) ON DELETE CASCADE,
	anchor_id   UUID REFERENCES occurrences (id) ON DELETE SET NULL,
	kinds       TEXT[] NOT NULL DEFAULT '{}',
	end_date    DATE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
