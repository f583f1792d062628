package out

import (
	"context"
	"errors"
	"time"

	"tracker_server/core/domain"
)

var (
	ErrApplicationNotFound = errors.New("job application not found")
	ErrDuplicateEmailLog   = errors.New("email log already exists")
	ErrConnectionNotFound  = errors.New("mail connection not found")
	ErrClaimLost           = errors.New("auto-reply claim no longer held")
)

// ClaimExpiredError is recorded as last_error when an abandoned claim is
// taken over.
const ClaimExpiredError = "previous claim expired"

// =============================================================================
// Job Application Repository
// =============================================================================

// ApplicationRepository is the durable store for JobApplication records.
// Every mutating method is a single atomic conditional operation on one
// record; callers never read-modify-write.
type ApplicationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.JobApplication, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.JobApplication, error)

	// UpsertFromEmail inserts the base fields when absent, appends the email
	// when its message id is not attached yet, escalates status when the email
	// is newer than the last contributing email, and merges auto-reply
	// eligibility without touching the replied/queued fields.
	UpsertFromEmail(ctx context.Context, in *ApplicationUpsert) (*domain.JobApplication, error)

	// SetInterviewSubtype writes subtype only while the stored subtype is
	// still unspecified and returns the current record either way.
	SetInterviewSubtype(ctx context.Context, id string, subtype domain.InterviewSubtype) (*domain.JobApplication, error)

	// ClaimAutoReply flips queued false->true when the application is
	// eligible, unreplied and unclaimed. A claim taken at or before at-ttl
	// is treated as abandoned: it is taken over and counted as a failed
	// attempt. ttl <= 0 never takes over. Returns false when another caller
	// holds a live claim or the application is not dispatchable.
	ClaimAutoReply(ctx context.Context, id, claimID string, at time.Time, ttl time.Duration) (bool, error)

	// CompleteAutoReply marks the reply sent. Returns ErrClaimLost unless
	// claimID still holds the claim.
	CompleteAutoReply(ctx context.Context, id, claimID, replyMessageID string, at time.Time) error

	// ReleaseAutoReply clears the claim after a failed send, counting the
	// attempt and recording the failure.
	ReleaseAutoReply(ctx context.Context, id, claimID, lastError string) error
}

// ApplicationUpsert carries one email's contribution to an application.
type ApplicationUpsert struct {
	UserID         string
	Company        string
	Role           string
	NormalizedKey  string
	Email          domain.EmailRecord
	IncomingStatus domain.ApplicationStatus
	Eligible       bool
	Now            time.Time
}

// =============================================================================
// Email Log Repository
// =============================================================================

type EmailLogRepository interface {
	// Insert returns ErrDuplicateEmailLog when (user, message) is already logged.
	Insert(ctx context.Context, log *domain.EmailLog) error
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]*domain.EmailLog, error)
}

// =============================================================================
// Mail Connection Repository
// =============================================================================

type ConnectionRepository interface {
	GetByUser(ctx context.Context, userID string) (*domain.MailConnection, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error
	Disconnect(ctx context.Context, id int64) error
	ListPushTokens(ctx context.Context, userID string) ([]string, error)

	// Save inserts or reconnects the user's Gmail account. An empty
	// refresh token keeps the stored one.
	Save(ctx context.Context, conn *domain.MailConnection) (*domain.MailConnection, error)
	// AddPushToken registers a device token; duplicates are ignored.
	AddPushToken(ctx context.Context, userID, token string) error
}
