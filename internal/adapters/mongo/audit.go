package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/avelkaz/markethold/internal/observability"
)

// AuditLogger writes the permanent trail of reservation and wallet events
// consumed from the broker. The trail is append-only.
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

type AuditEntry struct {
	ID          uuid.UUID `bson:"_id"`
	EventType   string    `bson:"event_type"`
	AggregateID string    `bson:"aggregate_id"`
	Timestamp   time.Time `bson:"timestamp"`
	Data        bson.M    `bson:"data"`
}

func (a *AuditLogger) Record(ctx context.Context, eventType, aggregateID string, data map[string]interface{}) error {
	entry := AuditEntry{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Timestamp:   time.Now(),
		Data:        bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		a.logger.WithField("event_type", eventType).Error("failed to insert audit entry: ", err)
		return err
	}
	return nil
}

// Recent returns the newest entries for an aggregate, newest first.
func (a *AuditLogger) Recent(ctx context.Context, aggregateID string, limit int64) ([]AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	cur, err := a.coll.Find(ctx, bson.M{"aggregate_id": aggregateID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []AuditEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
