package crdb

// Schema bootstraps every table the repository touches. The partial unique
// index on reservations is the authoritative enforcement of "at most one
// ACTIVE reservation per product"; terminal rows stay out of its scope so the
// history can hold any number of CANCELLED/EXPIRED entries per product.
const Schema = `
CREATE TABLE IF NOT EXISTS balances (
	user_id UUID PRIMARY KEY,
	amount NUMERIC NOT NULL DEFAULT 0 CHECK (amount >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	image_url TEXT NOT NULL,
	price NUMERIC NOT NULL CHECK (price >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reservations (
	id UUID PRIMARY KEY,
	product_id UUID NOT NULL,
	owner_id UUID NOT NULL,
	reserved_by UUID NOT NULL,
	amount NUMERIC NOT NULL CHECK (amount >= 0),
	status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'CANCELLED', 'EXPIRED')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	INDEX (reserved_by, status),
	INDEX (status, expires_at)
);

CREATE UNIQUE INDEX IF NOT EXISTS reservations_one_active_per_product
	ON reservations (product_id) WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS topups (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	amount NUMERIC NOT NULL CHECK (amount > 0),
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	INDEX (user_id, created_at)
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'NEW',
	dedupe_key TEXT NOT NULL
);
`
