package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	bookingNumberConstraint = "bookings_booking_number_key"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction. Serialization failures and
// timeouts come back as domain.ErrTransient so callers can retry them.
func (r *Repository) WithTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(errors.Wrap(err, "begin tx"))
	}
	defer tx.Rollback(ctx)

	if err := fn(&txRepo{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == SerializationFailureCode:
			return errors.Mark(err, domain.ErrTransient)
		case pgErr.Code == UniqueViolationCode && pgErr.ConstraintName == bookingNumberConstraint:
			return errors.Mark(err, domain.ErrDuplicateBookingNumber)
		}
	}
	if pgconn.Timeout(err) {
		return errors.Mark(err, domain.ErrTransient)
	}
	return err
}

// InsertSeats creates seat rows for a schedule. Seat setup belongs to the
// catalog; this exists for provisioning and tests.
func (r *Repository) InsertSeats(ctx context.Context, seats []domain.Seat) error {
	batch := &pgx.Batch{}
	for _, s := range seats {
		status := s.Status
		if status == "" {
			status = domain.SeatAvailable
		}
		batch.Queue(`
			INSERT INTO seats (id, schedule_id, seat_number, seat_grade, price, status, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
		`, s.ID, s.ScheduleID, s.Number, s.Grade, s.Price, string(status))
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

const seatColumns = `id, schedule_id, seat_number, seat_grade, price, status, version, hold_id, booking_id`

func scanSeats(rows pgx.Rows) ([]domain.Seat, error) {
	defer rows.Close()
	var seats []domain.Seat
	for rows.Next() {
		var s domain.Seat
		var status string
		if err := rows.Scan(&s.ID, &s.ScheduleID, &s.Number, &s.Grade, &s.Price, &status, &s.Version, &s.HoldID, &s.BookingID); err != nil {
			return nil, err
		}
		s.Status = domain.SeatStatus(status)
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (r *Repository) GetSeats(ctx context.Context, ids []uuid.UUID) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ANY($1::UUID[]) ORDER BY id`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	return scanSeats(rows)
}

func (r *Repository) ListSeats(ctx context.Context, scheduleID uuid.UUID) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+seatColumns+` FROM seats WHERE schedule_id = $1 ORDER BY seat_number`, scheduleID)
	if err != nil {
		return nil, err
	}
	return scanSeats(rows)
}

const holdColumns = `id, owner_id, schedule_id, status, version, created_at, expires_at, closed_at`

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getHold(ctx context.Context, q queryer, id uuid.UUID, lock bool) (*domain.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var h domain.Hold
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&h.ID, &h.OwnerID, &h.ScheduleID, &status, &h.Version, &h.CreatedAt, &h.ExpiresAt, &h.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	h.Status = domain.HoldStatus(status)

	rows, err := q.Query(ctx, `SELECT seat_id FROM hold_seats WHERE hold_id = $1 ORDER BY seat_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seatID uuid.UUID
		if err := rows.Scan(&seatID); err != nil {
			return nil, err
		}
		h.SeatIDs = append(h.SeatIDs, seatID)
	}
	return &h, rows.Err()
}

func (r *Repository) GetHold(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	return getHold(ctx, r.pool, id, false)
}

func (r *Repository) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.id, h.owner_id, h.schedule_id, h.version, h.created_at, h.expires_at, hs.seat_id
		FROM (
			SELECT id, owner_id, schedule_id, version, created_at, expires_at
			FROM holds WHERE status = 'active' AND expires_at <= $1
			ORDER BY expires_at LIMIT $2
		) AS h
		JOIN hold_seats hs ON hs.hold_id = h.id
		ORDER BY h.expires_at, h.id, hs.seat_id
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []domain.Hold
	currentHoldID := uuid.UUID{}
	var currentHold *domain.Hold

	for rows.Next() {
		var h domain.Hold
		var seatID uuid.UUID
		if err := rows.Scan(&h.ID, &h.OwnerID, &h.ScheduleID, &h.Version, &h.CreatedAt, &h.ExpiresAt, &seatID); err != nil {
			return nil, err
		}
		if h.ID != currentHoldID {
			if currentHold != nil {
				holds = append(holds, *currentHold)
			}
			h.Status = domain.HoldActive
			currentHold = &h
			currentHoldID = h.ID
		}
		currentHold.SeatIDs = append(currentHold.SeatIDs, seatID)
	}
	if currentHold != nil {
		holds = append(holds, *currentHold)
	}
	return holds, rows.Err()
}

const bookingColumns = `id, booking_number, owner_id, schedule_id, hold_id, total_price, status, version, created_at, cancelled_at, cancellation_reason, cancellation_detail, contact_name, contact_phone`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var status string
	err := row.Scan(&b.ID, &b.Number, &b.OwnerID, &b.ScheduleID, &b.HoldID, &b.TotalPrice, &status, &b.Version,
		&b.CreatedAt, &b.CancelledAt, &b.CancellationReason, &b.CancellationDetail, &b.Contact.Name, &b.Contact.Phone)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}

func loadBookingSeats(ctx context.Context, q queryer, b *domain.Booking) error {
	rows, err := q.Query(ctx, `
		SELECT seat_id, seat_number, seat_grade, price
		FROM booking_seats WHERE booking_id = $1 ORDER BY seat_id
	`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var s domain.BookingSeat
		if err := rows.Scan(&s.SeatID, &s.Number, &s.Grade, &s.Price); err != nil {
			return err
		}
		b.Seats = append(b.Seats, s)
	}
	return rows.Err()
}

func getBooking(ctx context.Context, q queryer, where string, arg any, lock bool) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + where + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadBookingSeats(ctx, q, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return getBooking(ctx, r.pool, "id", id, false)
}

func (r *Repository) GetBookingByNumber(ctx context.Context, number string) (*domain.Booking, error) {
	return getBooking(ctx, r.pool, "booking_number", number, false)
}

func (r *Repository) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM bookings
		WHERE owner_id = $1 AND ($2 = '' OR status = $2)
	`, f.OwnerID, string(f.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT NULLIF($3::INT8, 0) OFFSET $4
	`, f.OwnerID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		bookings = append(bookings, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range bookings {
		if err := loadBookingSeats(ctx, r.pool, &bookings[i]); err != nil {
			return nil, 0, err
		}
	}
	return bookings, total, nil
}
