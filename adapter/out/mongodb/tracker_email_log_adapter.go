package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
)

const collectionEmailLogs = "email_logs"

// EmailLogAdapter implements out.EmailLogRepository using MongoDB.
type EmailLogAdapter struct {
	collection *mongo.Collection
}

func NewEmailLogAdapter(db *mongo.Database) *EmailLogAdapter {
	return &EmailLogAdapter{collection: db.Collection(collectionEmailLogs)}
}

func (a *EmailLogAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: -1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type emailLogDocument struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	UserID           string             `bson:"user_id"`
	MessageID        string             `bson:"message_id"`
	Status           string             `bson:"status"`
	Subject          string             `bson:"subject"`
	From             string             `bson:"from"`
	Date             time.Time          `bson:"date"`
	Company          string             `bson:"company"`
	Role             string             `bson:"role"`
	InterviewSubtype string             `bson:"interview_subtype,omitempty"`
	CreatedAt        time.Time          `bson:"created_at"`
}

func (a *EmailLogAdapter) Insert(ctx context.Context, log *domain.EmailLog) error {
	doc := emailLogDocument{
		UserID:           log.UserID,
		MessageID:        log.MessageID,
		Status:           string(log.Status),
		Subject:          log.Subject,
		From:             log.From,
		Date:             log.Date,
		Company:          log.Company,
		Role:             log.Role,
		InterviewSubtype: string(log.InterviewSubtype),
		CreatedAt:        log.CreatedAt,
	}

	res, err := a.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return out.ErrDuplicateEmailLog
	}
	if err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		log.ID = oid.Hex()
	}
	return nil
}

func (a *EmailLogAdapter) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*domain.EmailLog, error) {
	filter := bson.M{
		"user_id": userID,
		"status":  bson.M{"$in": bson.A{string(domain.StatusInterview), string(domain.StatusAccepted)}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list email logs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []emailLogDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode email logs: %w", err)
	}

	logs := make([]*domain.EmailLog, 0, len(docs))
	for _, d := range docs {
		logs = append(logs, &domain.EmailLog{
			ID:               d.ID.Hex(),
			UserID:           d.UserID,
			MessageID:        d.MessageID,
			Status:           domain.ApplicationStatus(d.Status),
			Subject:          d.Subject,
			From:             d.From,
			Date:             d.Date,
			Company:          d.Company,
			Role:             d.Role,
			InterviewSubtype: domain.InterviewSubtype(d.InterviewSubtype),
			CreatedAt:        d.CreatedAt,
		})
	}
	return logs, nil
}
