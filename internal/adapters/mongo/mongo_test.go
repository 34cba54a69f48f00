package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/seat-reservations/internal/adapters/mongo"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.Endpoint(ctx, "mongodb")
	require.NoError(t, err)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("seatres_test")
}

func TestScheduleCatalog(t *testing.T) {
	db := startMongo(t)
	ctx := t.Context()
	catalog := mongoadapter.NewScheduleCatalog(db, observability.NewNopLogger())

	s := domain.Schedule{ID: uuid.New(), TotalSeats: 120, BookingOpen: true, StartsAt: time.Now().Add(48 * time.Hour).Truncate(time.Millisecond)}
	require.NoError(t, catalog.PutSchedule(ctx, s, "Hamlet", "Main Hall"))

	got, err := catalog.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.True(t, got.BookingOpen)
	assert.True(t, s.StartsAt.Equal(got.StartsAt))

	require.NoError(t, catalog.SetBookingOpen(ctx, s.ID, false))
	got, err = catalog.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.BookingOpen)

	_, err = catalog.GetSchedule(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrScheduleNotFound)
	require.ErrorIs(t, catalog.SetBookingOpen(ctx, uuid.New(), true), domain.ErrScheduleNotFound)
}

func TestAuditLogger_Dedupe(t *testing.T) {
	db := startMongo(t)
	ctx := t.Context()
	audit := mongoadapter.NewAuditLogger(db, observability.NewNopLogger())

	payload := []byte(`{"hold_id":"h1","owner_id":"guest_s1"}`)
	require.NoError(t, audit.LogEvent(ctx, "hold.created:h1", domain.EventHoldCreated, time.Now(), payload))
	require.NoError(t, audit.LogEvent(ctx, "hold.created:h1", domain.EventHoldCreated, time.Now(), payload))

	n, err := audit.Count(ctx, domain.EventHoldCreated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
