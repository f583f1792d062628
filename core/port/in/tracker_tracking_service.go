package in

import (
	"context"

	"tracker_server/core/domain"
)

// TrackingService is what the API exposes over a user's job applications.
type TrackingService interface {
	// ScanJobs fetches candidate mail and runs it through the pipeline.
	ScanJobs(ctx context.Context, userID string) ([]*domain.FlatResult, error)
	ListApplications(ctx context.Context, userID string) ([]*domain.JobApplication, error)
	RecentLogs(ctx context.Context, userID string) ([]*domain.EmailLog, error)
	GetApplication(ctx context.Context, userID, applicationID string) (*domain.JobApplication, error)
	RetryAutoReply(ctx context.Context, userID, applicationID string) error
	GetEmail(ctx context.Context, userID, messageID string) (*domain.FullEmail, error)
}

// MailAccountService connects a user's Gmail account and device tokens.
type MailAccountService interface {
	ConnectURL(userID string) (string, error)
	CompleteConnect(ctx context.Context, code, state string) (*domain.MailConnection, error)
	RegisterPushToken(ctx context.Context, userID, token string) error
}
