package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ScheduleCatalog reads schedules from the catalog database. The seat
// engine never writes here except to provision schedules for development.
type ScheduleCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewScheduleCatalog(db *mongo.Database, logger observability.Logger) *ScheduleCatalog {
	return &ScheduleCatalog{
		coll:   db.Collection("schedules"),
		logger: logger,
	}
}

type ScheduleDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title,omitempty"`
	Venue       string    `bson:"venue,omitempty"`
	TotalSeats  int       `bson:"total_seats"`
	BookingOpen bool      `bson:"booking_open"`
	StartsAt    time.Time `bson:"starts_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d ScheduleDoc) toDomain() (*domain.Schedule, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "schedule id %q", d.ID)
	}
	return &domain.Schedule{
		ID:          id,
		TotalSeats:  d.TotalSeats,
		BookingOpen: d.BookingOpen,
		StartsAt:    d.StartsAt,
	}, nil
}

func (c *ScheduleCatalog) GetSchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	var doc ScheduleDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrScheduleNotFound
	}
	if err != nil {
		c.logger.WithError(err).WithField("schedule_id", id).Error("failed to get schedule")
		return nil, errors.Mark(errors.Wrap(err, "find schedule"), domain.ErrTransient)
	}
	return doc.toDomain()
}

// PutSchedule upserts a schedule.
func (c *ScheduleCatalog) PutSchedule(ctx context.Context, s domain.Schedule, title, venue string) error {
	doc := ScheduleDoc{
		ID:          s.ID.String(),
		Title:       title,
		Venue:       venue,
		TotalSeats:  s.TotalSeats,
		BookingOpen: s.BookingOpen,
		StartsAt:    s.StartsAt.UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).Error("failed to put schedule")
		return errors.Wrap(err, "upsert schedule")
	}
	return nil
}

// SetBookingOpen flips the booking-open flag of a schedule.
func (c *ScheduleCatalog) SetBookingOpen(ctx context.Context, id uuid.UUID, open bool) error {
	res, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"booking_open": open, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to update schedule")
		return errors.Wrap(err, "update schedule")
	}
	if res.MatchedCount == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}
