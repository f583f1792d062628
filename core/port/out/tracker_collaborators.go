package out

import (
	"context"
	"time"

	"tracker_server/core/domain"
)

// MailFetcher yields pre-filtered candidate emails for a user.
type MailFetcher interface {
	ScanCandidates(ctx context.Context, userID string) ([]domain.RawEmail, error)
	GetFullEmail(ctx context.Context, userID, messageID string) (*domain.FullEmail, error)
}

// MailAuthorizer runs the provider's OAuth consent flow.
type MailAuthorizer interface {
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for tokens and resolves the
	// account's address.
	Exchange(ctx context.Context, code string) (*MailGrant, error)
}

type MailGrant struct {
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// MailSender delivers a reply on the user's behalf.
type MailSender interface {
	SendReply(ctx context.Context, req *ReplyRequest) (*ReplyResult, error)
}

type ReplyRequest struct {
	UserID   string
	To       string
	ThreadID string
	Subject  string
	Body     string
}

type ReplyResult struct {
	MessageID string
	ThreadID  string
}

// TextGenerator drafts the body of an auto-reply.
type TextGenerator interface {
	GenerateReply(ctx context.Context, in *ReplyPrompt) (string, error)
}

type ReplyPrompt struct {
	Company    string
	Role       string
	SenderName string
}

// PushNotifier sends a device notification to all of a user's devices.
type PushNotifier interface {
	NotifyUser(ctx context.Context, userID, title, body string) error
}

// AutoReplyJobQueue hands a claimed dispatch to the send worker.
type AutoReplyJobQueue interface {
	SubmitAutoReply(ctx context.Context, job *AutoReplyJob) error
}

// AutoReplyJob is the queued unit of work. ClaimID must match the stored
// claim for the worker to act on it.
type AutoReplyJob struct {
	ApplicationID string `json:"application_id"`
	ClaimID       string `json:"claim_id"`
}

// AutoReplyScheduler is the pipeline's fire-and-forget hook.
type AutoReplyScheduler interface {
	ScheduleAutoReply(ctx context.Context, applicationID string)
}

// EmailBodyCache caches full emails fetched from the provider.
type EmailBodyCache interface {
	Get(ctx context.Context, userID, messageID string) (*domain.FullEmail, bool)
	Set(ctx context.Context, userID string, email *domain.FullEmail) error
}
