package mongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

// AuditLog is one domain event. ID is the broker message id, so a
// redelivered event maps onto the same document.
type AuditLog struct {
	ID         string    `bson:"_id"`
	Action     string    `bson:"action"`
	OwnerID    string    `bson:"owner_id,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
	ReceivedAt time.Time `bson:"received_at"`
	Data       bson.M    `bson:"data"`
}

// LogEvent stores a domain event payload. Duplicates are ignored.
func (a *AuditLogger) LogEvent(ctx context.Context, messageID, action string, occurredAt time.Time, payload []byte) error {
	data := bson.M{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return errors.Wrapf(err, "decode %s payload", action)
		}
	}
	owner, _ := data["owner_id"].(string)
	log := AuditLog{
		ID:         messageID,
		Action:     action,
		OwnerID:    owner,
		Timestamp:  occurredAt,
		ReceivedAt: time.Now().UTC(),
		Data:       data,
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		a.logger.WithField("message_id", messageID).Debug("audit event already recorded")
		return nil
	}
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) Count(ctx context.Context, action string) (int64, error) {
	return a.coll.CountDocuments(ctx, bson.M{"action": action})
}
