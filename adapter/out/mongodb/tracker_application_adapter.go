package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
)

// =============================================================================
// MongoDB Job Application Adapter
// =============================================================================

const collectionApplications = "job_applications"

// upsert races on a fresh key surface as duplicate key errors; the retry then
// takes the update path
const upsertRetries = 3

// ApplicationAdapter implements out.ApplicationRepository using MongoDB.
type ApplicationAdapter struct {
	collection *mongo.Collection
}

func NewApplicationAdapter(db *mongo.Database) *ApplicationAdapter {
	return &ApplicationAdapter{collection: db.Collection(collectionApplications)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ApplicationAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "normalized_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "company", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type applicationDocument struct {
	ID                     primitive.ObjectID `bson:"_id,omitempty"`
	UserID                 string             `bson:"user_id"`
	Company                string             `bson:"company"`
	Role                   string             `bson:"role"`
	NormalizedKey          string             `bson:"normalized_key"`
	Status                 string             `bson:"status"`
	StatusRank             int                `bson:"status_rank"`
	InterviewSubtype       string             `bson:"interview_subtype"`
	LastUpdatedFromEmailAt *time.Time         `bson:"last_updated_from_email_at,omitempty"`
	Emails                 []emailDocument    `bson:"emails"`
	AutoReply              autoReplyDocument  `bson:"auto_reply"`
	CreatedAt              time.Time          `bson:"created_at"`
	UpdatedAt              time.Time          `bson:"updated_at"`
}

type emailDocument struct {
	MessageID      string    `bson:"message_id"`
	ThreadID       string    `bson:"thread_id,omitempty"`
	Subject        string    `bson:"subject"`
	Sender         string    `bson:"sender"`
	Snippet        string    `bson:"snippet"`
	Date           time.Time `bson:"date"`
	InferredStatus string    `bson:"inferred_status"`
}

type autoReplyDocument struct {
	Eligible       bool       `bson:"eligible"`
	Queued         bool       `bson:"queued"`
	Replied        bool       `bson:"replied"`
	RepliedAt      *time.Time `bson:"replied_at,omitempty"`
	ReplyMessageID string     `bson:"reply_message_id,omitempty"`
	Attempts       int        `bson:"attempts"`
	LastError      string     `bson:"last_error,omitempty"`
	ClaimID        string     `bson:"claim_id,omitempty"`
	ClaimedAt      *time.Time `bson:"claimed_at,omitempty"`
}

// =============================================================================
// Reads
// =============================================================================

func (a *ApplicationAdapter) GetByID(ctx context.Context, id string) (*domain.JobApplication, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, out.ErrApplicationNotFound
	}

	var doc applicationDocument
	err = a.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, out.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return doc.toDomain(), nil
}

func (a *ApplicationAdapter) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.JobApplication, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := a.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []applicationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode applications: %w", err)
	}

	apps := make([]*domain.JobApplication, 0, len(docs))
	for i := range docs {
		apps = append(apps, docs[i].toDomain())
	}
	return apps, nil
}

// =============================================================================
// Atomic Upsert
// =============================================================================

func (a *ApplicationAdapter) UpsertFromEmail(ctx context.Context, in *out.ApplicationUpsert) (*domain.JobApplication, error) {
	filter := bson.M{"normalized_key": in.NormalizedKey}
	update := buildUpsertPipeline(in)
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var lastErr error
	for attempt := 0; attempt < upsertRetries; attempt++ {
		var doc applicationDocument
		err := a.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if err == nil {
			return doc.toDomain(), nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("failed to upsert application: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to upsert application after %d attempts: %w", upsertRetries, lastErr)
}

// buildUpsertPipeline renders the single-round-trip update: base fields on
// insert, append-if-absent for the email, escalate-if-newer for status, and
// an eligibility merge that leaves the reply fields alone. All fields in one
// $set stage read the pre-update document.
func buildUpsertPipeline(in *out.ApplicationUpsert) mongo.Pipeline {
	email := emailDocument{
		MessageID:      in.Email.MessageID,
		ThreadID:       in.Email.ThreadID,
		Subject:        in.Email.Subject,
		Sender:         in.Email.Sender,
		Snippet:        in.Email.Snippet,
		Date:           in.Email.Date,
		InferredStatus: string(in.Email.InferredStatus),
	}

	existingEmails := ifNull("$emails", bson.A{})
	alreadyAttached := bson.D{{Key: "$in", Value: bson.A{
		literal(in.Email.MessageID),
		ifNull("$emails.message_id", bson.A{}),
	}}}

	isNewer := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{ifNull("$last_updated_from_email_at", nil), nil}}},
		bson.D{{Key: "$gt", Value: bson.A{in.Email.Date, "$last_updated_from_email_at"}}},
	}}}
	escalate := bson.D{{Key: "$and", Value: bson.A{
		isNewer,
		bson.D{{Key: "$gt", Value: bson.A{in.IncomingStatus.Rank(), ifNull("$status_rank", -1)}}},
	}}}

	set := bson.D{
		{Key: "user_id", Value: ifNull("$user_id", literal(in.UserID))},
		{Key: "company", Value: ifNull("$company", literal(in.Company))},
		{Key: "role", Value: ifNull("$role", literal(in.Role))},
		{Key: "interview_subtype", Value: ifNull("$interview_subtype", string(domain.SubtypeUnspecified))},
		{Key: "created_at", Value: ifNull("$created_at", in.Now)},
		{Key: "emails", Value: cond(alreadyAttached,
			existingEmails,
			bson.D{{Key: "$concatArrays", Value: bson.A{existingEmails, bson.A{literal(email)}}}},
		)},
		{Key: "status", Value: cond(escalate, string(in.IncomingStatus), "$status")},
		{Key: "status_rank", Value: cond(escalate, in.IncomingStatus.Rank(), "$status_rank")},
		{Key: "last_updated_from_email_at", Value: cond(isNewer, in.Email.Date, "$last_updated_from_email_at")},
		{Key: "auto_reply.eligible", Value: in.Eligible},
		{Key: "auto_reply.queued", Value: ifNull("$auto_reply.queued", false)},
		{Key: "auto_reply.replied", Value: ifNull("$auto_reply.replied", false)},
		{Key: "auto_reply.attempts", Value: ifNull("$auto_reply.attempts", 0)},
		{Key: "updated_at", Value: in.Now},
	}

	return mongo.Pipeline{bson.D{{Key: "$set", Value: set}}}
}

func ifNull(expr, fallback any) bson.D {
	return bson.D{{Key: "$ifNull", Value: bson.A{expr, fallback}}}
}

func cond(ifExpr, thenExpr, elseExpr any) bson.D {
	return bson.D{{Key: "$cond", Value: bson.A{ifExpr, thenExpr, elseExpr}}}
}

// literal keeps user-controlled strings such as "$100 signing bonus" from
// being read as field paths.
func literal(v any) bson.D {
	return bson.D{{Key: "$literal", Value: v}}
}

// =============================================================================
// Conditional Updates
// =============================================================================

func (a *ApplicationAdapter) SetInterviewSubtype(ctx context.Context, id string, subtype domain.InterviewSubtype) (*domain.JobApplication, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, out.ErrApplicationNotFound
	}

	filter := bson.M{
		"_id":               oid,
		"interview_subtype": bson.M{"$in": bson.A{string(domain.SubtypeUnspecified), "", nil}},
	}
	update := bson.M{"$set": bson.M{"interview_subtype": string(subtype)}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc applicationDocument
	err = a.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// already resolved, or gone
		return a.GetByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set interview subtype: %w", err)
	}
	return doc.toDomain(), nil
}

// ClaimAutoReply tries the unclaimed filter first, then takes over an
// expired claim. Each step is a single conditional update.
func (a *ApplicationAdapter) ClaimAutoReply(ctx context.Context, id, claimID string, at time.Time, ttl time.Duration) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, out.ErrApplicationNotFound
	}

	claimed, err := a.claim(ctx, claimFilter(oid), claimUpdate(claimID, at, false))
	if err != nil || claimed || ttl <= 0 {
		return claimed, err
	}
	return a.claim(ctx, expiredClaimFilter(oid, at.Add(-ttl)), claimUpdate(claimID, at, true))
}

func (a *ApplicationAdapter) claim(ctx context.Context, filter, update bson.M) (bool, error) {
	res, err := a.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to claim auto-reply: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func claimFilter(oid primitive.ObjectID) bson.M {
	return bson.M{
		"_id":                 oid,
		"auto_reply.eligible": true,
		"auto_reply.replied":  bson.M{"$ne": true},
		"auto_reply.queued":   bson.M{"$ne": true},
	}
}

// expiredClaimFilter matches a held claim taken at or before cutoff, or one
// with no timestamp at all.
func expiredClaimFilter(oid primitive.ObjectID, cutoff time.Time) bson.M {
	return bson.M{
		"_id":                 oid,
		"auto_reply.eligible": true,
		"auto_reply.replied":  bson.M{"$ne": true},
		"auto_reply.queued":   true,
		"$or": bson.A{
			bson.M{"auto_reply.claimed_at": bson.M{"$lte": cutoff}},
			bson.M{"auto_reply.claimed_at": bson.M{"$exists": false}},
		},
	}
}

func claimUpdate(claimID string, at time.Time, takeover bool) bson.M {
	update := bson.M{"$set": bson.M{
		"auto_reply.queued":     true,
		"auto_reply.claim_id":   claimID,
		"auto_reply.claimed_at": at,
	}}
	if takeover {
		update["$set"].(bson.M)["auto_reply.last_error"] = out.ClaimExpiredError
		update["$inc"] = bson.M{"auto_reply.attempts": 1}
	}
	return update
}

func (a *ApplicationAdapter) CompleteAutoReply(ctx context.Context, id, claimID, replyMessageID string, at time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"auto_reply.replied":          true,
			"auto_reply.replied_at":       at,
			"auto_reply.reply_message_id": replyMessageID,
			"auto_reply.queued":           false,
			"updated_at":                  at,
		},
		"$unset": bson.M{
			"auto_reply.claim_id":   "",
			"auto_reply.last_error": "",
		},
	}
	return a.updateClaimed(ctx, id, claimID, update)
}

func (a *ApplicationAdapter) ReleaseAutoReply(ctx context.Context, id, claimID, lastError string) error {
	update := bson.M{
		"$set": bson.M{
			"auto_reply.queued":     false,
			"auto_reply.last_error": lastError,
		},
		"$inc":   bson.M{"auto_reply.attempts": 1},
		"$unset": bson.M{"auto_reply.claim_id": ""},
	}
	return a.updateClaimed(ctx, id, claimID, update)
}

func (a *ApplicationAdapter) updateClaimed(ctx context.Context, id, claimID string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return out.ErrApplicationNotFound
	}

	filter := bson.M{
		"_id":                 oid,
		"auto_reply.queued":   true,
		"auto_reply.claim_id": claimID,
	}
	res, err := a.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update auto-reply: %w", err)
	}
	if res.MatchedCount == 0 {
		return out.ErrClaimLost
	}
	return nil
}

// =============================================================================
// Conversion
// =============================================================================

func (d *applicationDocument) toDomain() *domain.JobApplication {
	app := &domain.JobApplication{
		ID:                     d.ID.Hex(),
		UserID:                 d.UserID,
		Company:                d.Company,
		Role:                   d.Role,
		NormalizedKey:          d.NormalizedKey,
		Status:                 domain.ApplicationStatus(d.Status),
		InterviewSubtype:       domain.InterviewSubtype(d.InterviewSubtype),
		LastUpdatedFromEmailAt: d.LastUpdatedFromEmailAt,
		Emails:                 make([]domain.EmailRecord, 0, len(d.Emails)),
		AutoReply: domain.AutoReplyState{
			Eligible:       d.AutoReply.Eligible,
			Queued:         d.AutoReply.Queued,
			Replied:        d.AutoReply.Replied,
			RepliedAt:      d.AutoReply.RepliedAt,
			ReplyMessageID: d.AutoReply.ReplyMessageID,
			Attempts:       d.AutoReply.Attempts,
			LastError:      d.AutoReply.LastError,
			ClaimID:        d.AutoReply.ClaimID,
			ClaimedAt:      d.AutoReply.ClaimedAt,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if app.InterviewSubtype == "" {
		app.InterviewSubtype = domain.SubtypeUnspecified
	}
	for _, e := range d.Emails {
		app.Emails = append(app.Emails, domain.EmailRecord{
			MessageID:      e.MessageID,
			ThreadID:       e.ThreadID,
			Subject:        e.Subject,
			Sender:         e.Sender,
			Snippet:        e.Snippet,
			Date:           e.Date,
			InferredStatus: domain.ApplicationStatus(e.InferredStatus),
		})
	}
	return app
}
