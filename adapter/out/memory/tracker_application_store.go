// Package memory implements in-process repositories used for local runs
// without MongoDB and as the store in service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
)

// =============================================================================
// Application Store
// =============================================================================

// ApplicationStore implements out.ApplicationRepository. The mutex is the
// atomicity primitive: every method is one critical section.
type ApplicationStore struct {
	mu    sync.Mutex
	byID  map[string]*domain.JobApplication
	byKey map[string]string
}

func NewApplicationStore() *ApplicationStore {
	return &ApplicationStore{
		byID:  make(map[string]*domain.JobApplication),
		byKey: make(map[string]string),
	}
}

func (s *ApplicationStore) GetByID(ctx context.Context, id string) (*domain.JobApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return nil, out.ErrApplicationNotFound
	}
	return cloneApplication(app), nil
}

func (s *ApplicationStore) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.JobApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var apps []*domain.JobApplication
	for _, app := range s.byID {
		if app.UserID == userID {
			apps = append(apps, cloneApplication(app))
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].UpdatedAt.After(apps[j].UpdatedAt)
	})
	if limit > 0 && len(apps) > limit {
		apps = apps[:limit]
	}
	return apps, nil
}

func (s *ApplicationStore) UpsertFromEmail(ctx context.Context, in *out.ApplicationUpsert) (*domain.JobApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var app *domain.JobApplication
	if id, ok := s.byKey[in.NormalizedKey]; ok {
		app = s.byID[id]
	} else {
		app = &domain.JobApplication{
			ID:               uuid.New().String(),
			UserID:           in.UserID,
			Company:          in.Company,
			Role:             in.Role,
			NormalizedKey:    in.NormalizedKey,
			InterviewSubtype: domain.SubtypeUnspecified,
			Emails:           []domain.EmailRecord{},
			CreatedAt:        in.Now,
		}
		s.byID[app.ID] = app
		s.byKey[in.NormalizedKey] = app.ID
	}

	if !app.HasEmail(in.Email.MessageID) {
		app.Emails = append(app.Emails, in.Email)
	}

	last := app.LastUpdatedFromEmailAt
	if last == nil || in.Email.Date.After(*last) {
		app.Status = domain.Escalate(app.Status, in.IncomingStatus)
		d := in.Email.Date
		app.LastUpdatedFromEmailAt = &d
	}

	app.AutoReply.Eligible = in.Eligible
	app.UpdatedAt = in.Now

	return cloneApplication(app), nil
}

func (s *ApplicationStore) SetInterviewSubtype(ctx context.Context, id string, subtype domain.InterviewSubtype) (*domain.JobApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return nil, out.ErrApplicationNotFound
	}
	if app.InterviewSubtype == "" || app.InterviewSubtype == domain.SubtypeUnspecified {
		app.InterviewSubtype = subtype
	}
	return cloneApplication(app), nil
}

func (s *ApplicationStore) ClaimAutoReply(ctx context.Context, id, claimID string, at time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return false, out.ErrApplicationNotFound
	}
	if !app.AutoReply.CanClaim(at, ttl) {
		return false, nil
	}
	if app.AutoReply.Queued {
		app.AutoReply.Attempts++
		app.AutoReply.LastError = out.ClaimExpiredError
	}

	app.AutoReply.Queued = true
	app.AutoReply.ClaimID = claimID
	app.AutoReply.ClaimedAt = &at
	return true, nil
}

func (s *ApplicationStore) CompleteAutoReply(ctx context.Context, id, claimID, replyMessageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return out.ErrApplicationNotFound
	}
	if !app.AutoReply.Queued || app.AutoReply.ClaimID != claimID {
		return out.ErrClaimLost
	}

	app.AutoReply.Replied = true
	app.AutoReply.RepliedAt = &at
	app.AutoReply.ReplyMessageID = replyMessageID
	app.AutoReply.Queued = false
	app.AutoReply.ClaimID = ""
	app.AutoReply.LastError = ""
	app.UpdatedAt = at
	return nil
}

func (s *ApplicationStore) ReleaseAutoReply(ctx context.Context, id, claimID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.byID[id]
	if !ok {
		return out.ErrApplicationNotFound
	}
	if !app.AutoReply.Queued || app.AutoReply.ClaimID != claimID {
		return out.ErrClaimLost
	}

	app.AutoReply.Queued = false
	app.AutoReply.ClaimID = ""
	app.AutoReply.Attempts++
	app.AutoReply.LastError = lastError
	return nil
}

func cloneApplication(app *domain.JobApplication) *domain.JobApplication {
	if app == nil {
		return nil
	}
	c := *app
	c.Emails = append([]domain.EmailRecord(nil), app.Emails...)
	if app.LastUpdatedFromEmailAt != nil {
		t := *app.LastUpdatedFromEmailAt
		c.LastUpdatedFromEmailAt = &t
	}
	if app.AutoReply.RepliedAt != nil {
		t := *app.AutoReply.RepliedAt
		c.AutoReply.RepliedAt = &t
	}
	if app.AutoReply.ClaimedAt != nil {
		t := *app.AutoReply.ClaimedAt
		c.AutoReply.ClaimedAt = &t
	}
	return &c
}

// =============================================================================
// Email Log Store
// =============================================================================

type EmailLogStore struct {
	mu   sync.Mutex
	logs map[string]*domain.EmailLog
}

func NewEmailLogStore() *EmailLogStore {
	return &EmailLogStore{logs: make(map[string]*domain.EmailLog)}
}

func (s *EmailLogStore) Insert(ctx context.Context, log *domain.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := log.UserID + "\x00" + log.MessageID
	if _, exists := s.logs[key]; exists {
		return out.ErrDuplicateEmailLog
	}

	stored := *log
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	s.logs[key] = &stored
	return nil
}

func (s *EmailLogStore) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*domain.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var logs []*domain.EmailLog
	for _, l := range s.logs {
		if l.UserID == userID && l.Status.NeedsAction() {
			c := *l
			logs = append(logs, &c)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Date.After(logs[j].Date)
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// Count returns the number of stored logs.
func (s *EmailLogStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}
