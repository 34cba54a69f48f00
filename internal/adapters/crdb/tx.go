package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

// txRepo implements domain.Tx on top of a pgx transaction. Row locks come
// from SELECT ... FOR UPDATE and from the guarded UPDATEs themselves.
type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) LockSeats(ctx context.Context, ids []uuid.UUID) ([]domain.Seat, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+seatColumns+` FROM seats
		WHERE id = ANY($1::UUID[])
		ORDER BY id
		FOR UPDATE
	`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	return scanSeats(rows)
}

func (t *txRepo) UpdateSeat(ctx context.Context, st domain.SeatTransition) (int64, error) {
	var version int64
	err := t.tx.QueryRow(ctx, `
		UPDATE seats
		SET status = $1, version = version + 1, hold_id = $2, booking_id = $3, updated_at = now()
		WHERE id = $4 AND status = $5 AND version = $6
		RETURNING version
	`, string(st.To), st.HoldID, st.BookingID, st.SeatID, string(st.From), st.ExpectedVersion).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (t *txRepo) InsertHold(ctx context.Context, h domain.Hold) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO holds (id, owner_id, schedule_id, status, version, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, h.ID, h.OwnerID, h.ScheduleID, string(h.Status), h.Version, h.CreatedAt, h.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "insert hold")
	}
	for _, seatID := range h.SeatIDs {
		if _, err := t.tx.Exec(ctx, `INSERT INTO hold_seats (hold_id, seat_id) VALUES ($1, $2)`, h.ID, seatID); err != nil {
			return errors.Wrap(err, "insert hold seat")
		}
	}
	return nil
}

func (t *txRepo) LockHold(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	return getHold(ctx, t.tx, id, true)
}

func (t *txRepo) CloseHold(ctx context.Context, id uuid.UUID, expectedVersion int64, status domain.HoldStatus, at time.Time) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE holds SET status = $2, version = version + 1, closed_at = $3
		WHERE id = $1 AND version = $4 AND status = 'active'
	`, id, string(status), at, expectedVersion)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (t *txRepo) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (id, booking_number, owner_id, schedule_id, hold_id, total_price, status, version, created_at,
			contact_name, contact_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, b.ID, b.Number, b.OwnerID, b.ScheduleID, b.HoldID, b.TotalPrice, string(b.Status), b.Version, b.CreatedAt,
		b.Contact.Name, b.Contact.Phone)
	if err != nil {
		return errors.Wrap(classify(err), "insert booking")
	}
	for _, s := range b.Seats {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO booking_seats (booking_id, seat_id, seat_number, seat_grade, price)
			VALUES ($1, $2, $3, $4, $5)
		`, b.ID, s.SeatID, s.Number, s.Grade, s.Price)
		if err != nil {
			return errors.Wrap(err, "insert booking seat")
		}
	}
	return nil
}

func (t *txRepo) LockBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return getBooking(ctx, t.tx, "id", id, true)
}

func (t *txRepo) CancelBooking(ctx context.Context, id uuid.UUID, expectedVersion int64, at time.Time, reason, detail string) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled', version = version + 1, cancelled_at = $2, cancellation_reason = $3, cancellation_detail = $4
		WHERE id = $1 AND version = $5 AND status = 'confirmed'
	`, id, at, reason, detail, expectedVersion)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (t *txRepo) InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW', $7)
	`, rec.ID, rec.AggregateType, rec.AggregateID, rec.EventType, rec.Payload, rec.CreatedAt, rec.DedupeKey)
	return err
}
