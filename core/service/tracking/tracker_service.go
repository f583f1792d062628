package tracking

import (
	"context"
	"errors"

	"tracker_server/core/domain"
	"tracker_server/core/port/in"
	"tracker_server/core/port/out"
	"tracker_server/pkg/apperr"
	"tracker_server/pkg/logger"
)

const (
	listLimit       = 200
	recentLogsLimit = 10
)

// AutoReplyQueuer re-enters the dispatch path for one application.
type AutoReplyQueuer interface {
	QueueAutoReply(ctx context.Context, applicationID string) error
}

// Service is the API-facing facade over the pipeline and its stores.
type Service struct {
	pipeline *Pipeline
	fetcher  out.MailFetcher
	apps     out.ApplicationRepository
	logs     out.EmailLogRepository
	queuer   AutoReplyQueuer
	cache    out.EmailBodyCache
}

func NewService(
	pipeline *Pipeline,
	fetcher out.MailFetcher,
	apps out.ApplicationRepository,
	logs out.EmailLogRepository,
	queuer AutoReplyQueuer,
	cache out.EmailBodyCache,
) *Service {
	return &Service{
		pipeline: pipeline,
		fetcher:  fetcher,
		apps:     apps,
		logs:     logs,
		queuer:   queuer,
		cache:    cache,
	}
}

func (s *Service) ScanJobs(ctx context.Context, userID string) ([]*domain.FlatResult, error) {
	emails, err := s.fetcher.ScanCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	results, err := s.pipeline.ProcessBatch(ctx, userID, emails)
	if err != nil {
		return nil, apperr.DatabaseError("process job emails", err)
	}

	logger.WithContext(ctx).Info("Scanned %d candidates, %d grouped", len(emails), len(results))
	return results, nil
}

func (s *Service) ListApplications(ctx context.Context, userID string) ([]*domain.JobApplication, error) {
	apps, err := s.apps.ListByUser(ctx, userID, listLimit)
	if err != nil {
		return nil, apperr.DatabaseError("list applications", err)
	}
	return apps, nil
}

// RecentLogs returns the newest interview and accepted emails.
func (s *Service) RecentLogs(ctx context.Context, userID string) ([]*domain.EmailLog, error) {
	logs, err := s.logs.ListRecentByUser(ctx, userID, recentLogsLimit)
	if err != nil {
		return nil, apperr.DatabaseError("list email logs", err)
	}
	return logs, nil
}

// GetApplication hides other users' applications behind NotFound.
func (s *Service) GetApplication(ctx context.Context, userID, applicationID string) (*domain.JobApplication, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, out.ErrApplicationNotFound) {
			return nil, apperr.NotFound("application")
		}
		return nil, apperr.DatabaseError("get application", err)
	}
	if app.UserID != userID {
		return nil, apperr.NotFound("application")
	}
	return app, nil
}

// RetryAutoReply queues the reply again when the application is still
// dispatchable. Ineligible applications are a silent no-op, as in the
// pipeline.
func (s *Service) RetryAutoReply(ctx context.Context, userID, applicationID string) error {
	if _, err := s.GetApplication(ctx, userID, applicationID); err != nil {
		return err
	}
	if err := s.queuer.QueueAutoReply(ctx, applicationID); err != nil {
		return apperr.InternalWithError(err)
	}
	return nil
}

func (s *Service) GetEmail(ctx context.Context, userID, messageID string) (*domain.FullEmail, error) {
	if messageID == "" {
		return nil, apperr.InvalidInput("id", "message id is required")
	}
	if s.cache != nil {
		if email, ok := s.cache.Get(ctx, userID, messageID); ok {
			return email, nil
		}
	}

	email, err := s.fetcher.GetFullEmail(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, email); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("email cache write failed")
		}
	}
	return email, nil
}

var _ in.TrackingService = (*Service)(nil)
