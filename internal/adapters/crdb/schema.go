package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS seats (
	id UUID PRIMARY KEY,
	schedule_id UUID NOT NULL,
	seat_number TEXT NOT NULL,
	seat_grade TEXT NOT NULL,
	price INT8 NOT NULL CHECK (price >= 0),
	status TEXT NOT NULL CHECK (status IN ('available', 'held', 'booked', 'blocked')),
	version INT8 NOT NULL DEFAULT 1,
	hold_id UUID NULL,
	booking_id UUID NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	INDEX seats_schedule_idx (schedule_id, seat_number)
);
CREATE TABLE IF NOT EXISTS holds (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	schedule_id UUID NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('active', 'consumed', 'released', 'expired')),
	version INT8 NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ NULL,
	INDEX holds_active_expiry_idx (expires_at) WHERE status = 'active'
);
CREATE TABLE IF NOT EXISTS hold_seats (
	hold_id UUID NOT NULL REFERENCES holds (id),
	seat_id UUID NOT NULL,
	PRIMARY KEY (hold_id, seat_id)
);
CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY,
	booking_number TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	schedule_id UUID NOT NULL,
	hold_id UUID NOT NULL,
	total_price INT8 NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('confirmed', 'cancelled')),
	version INT8 NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	cancelled_at TIMESTAMPTZ NULL,
	cancellation_reason TEXT NOT NULL DEFAULT '',
	cancellation_detail TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT '',
	CONSTRAINT bookings_booking_number_key UNIQUE (booking_number),
	CONSTRAINT bookings_hold_id_key UNIQUE (hold_id),
	INDEX bookings_owner_idx (owner_id, created_at DESC)
);
CREATE TABLE IF NOT EXISTS booking_seats (
	booking_id UUID NOT NULL REFERENCES bookings (id),
	seat_id UUID NOT NULL,
	seat_number TEXT NOT NULL,
	seat_grade TEXT NOT NULL,
	price INT8 NOT NULL,
	PRIMARY KEY (booking_id, seat_id)
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ NULL,
	status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED')),
	dedupe_key TEXT NOT NULL,
	INDEX outbox_new_idx (created_at) WHERE status = 'NEW'
);
`

// upgrades bring tables created by older releases up to date. Each runs on
// its own so no schema change shares a transaction with another.
var upgrades = []string{
	`ALTER TABLE bookings ADD COLUMN IF NOT EXISTS contact_name TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE bookings ADD COLUMN IF NOT EXISTS contact_phone TEXT NOT NULL DEFAULT ''`,
}

// Migrate creates the tables used by the repository when they are missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return err
	}
	for _, stmt := range upgrades {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "upgrade %q", stmt)
		}
	}
	return nil
}
