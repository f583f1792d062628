// Package tracking ingests classified job emails into JobApplication records.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tracker_server/core/domain"
	"tracker_server/core/port/out"
	"tracker_server/core/service/filtering"
)

const noSubject = "(No subject)"

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline turns one raw email into an application update.
type Pipeline struct {
	apps      out.ApplicationRepository
	logs      out.EmailLogRepository
	scheduler out.AutoReplyScheduler
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*Pipeline)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithScheduler sets the auto-reply hook. Without one, eligible
// applications are only flagged.
func WithScheduler(s out.AutoReplyScheduler) Option {
	return func(p *Pipeline) { p.scheduler = s }
}

func NewPipeline(apps out.ApplicationRepository, logs out.EmailLogRepository, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		apps: apps,
		logs: logs,
		now:  time.Now,
		log:  log.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessJobEmail classifies, groups and stores one email. It returns nil, nil
// when the email has no extractable company or role.
func (p *Pipeline) ProcessJobEmail(ctx context.Context, userID string, email *domain.RawEmail) (*domain.FlatResult, error) {
	status := filtering.ClassifyStatus(email.Subject, email.Snippet)

	company, ok := filtering.ExtractCompany(email.Sender)
	if !ok {
		return nil, nil
	}
	role, ok := filtering.ExtractRole(email.Subject, email.Body)
	if !ok {
		return nil, nil
	}

	key := filtering.MakeKey(userID, company, role)

	now := p.now()
	record := domain.EmailRecord{
		MessageID:      email.ID,
		ThreadID:       email.ThreadID,
		Subject:        email.Subject,
		Sender:         email.Sender,
		Snippet:        email.Snippet,
		Date:           parseEmailDate(email.Date, now),
		InferredStatus: status,
	}

	senderAddr := filtering.ExtractSenderAddress(email.Sender)
	eligible := status == domain.StatusRejected && !filtering.IsNoReplySender(senderAddr)

	app, err := p.apps.UpsertFromEmail(ctx, &out.ApplicationUpsert{
		UserID:         userID,
		Company:        company,
		Role:           role,
		NormalizedKey:  key,
		Email:          record,
		IncomingStatus: status,
		Eligible:       eligible,
		Now:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert application: %w", err)
	}

	// refinement and the email log follow this email's status, not the merged one
	subtype := domain.SubtypeUnspecified
	if status == domain.StatusInterview {
		subtype = filtering.InferInterviewSubtype(email.Subject, email.Snippet, email.Body)
	}
	if subtype != domain.SubtypeUnspecified && app.Status == domain.StatusInterview && isUnspecified(app.InterviewSubtype) {
		refined, err := p.apps.SetInterviewSubtype(ctx, app.ID, subtype)
		if err != nil {
			p.log.Warn().Err(err).Str("application_id", app.ID).Msg("failed to store interview subtype")
		} else {
			app = refined
		}
	}

	if eligible && !app.AutoReply.Replied && p.scheduler != nil {
		p.scheduler.ScheduleAutoReply(ctx, app.ID)
	}

	if status.NeedsAction() {
		p.appendLog(ctx, userID, email, record, app, subtype)
	}

	return toFlatResult(email, app), nil
}

func (p *Pipeline) appendLog(ctx context.Context, userID string, email *domain.RawEmail, record domain.EmailRecord, app *domain.JobApplication, subtype domain.InterviewSubtype) {
	entry := &domain.EmailLog{
		UserID:    userID,
		MessageID: email.ID,
		Status:    record.InferredStatus,
		Subject:   email.Subject,
		From:      email.Sender,
		Date:      record.Date,
		Company:   app.Company,
		Role:      app.Role,
		CreatedAt: p.now(),
	}
	if !isUnspecified(subtype) {
		entry.InterviewSubtype = subtype
	}

	err := p.logs.Insert(ctx, entry)
	if err != nil && !errors.Is(err, out.ErrDuplicateEmailLog) {
		p.log.Error().Err(err).
			Str("application_id", app.ID).
			Str("message_id", email.ID).
			Msg("failed to write email log")
	}
}

// =============================================================================
// Batch
// =============================================================================

// ProcessBatch runs ProcessJobEmail over emails concurrently and returns the
// grouped results in input order. Failed and ungroupable emails are left
// out; the first error is returned only when every email failed.
func (p *Pipeline) ProcessBatch(ctx context.Context, userID string, emails []domain.RawEmail) ([]*domain.FlatResult, error) {
	if len(emails) == 0 {
		return []*domain.FlatResult{}, nil
	}

	results := make([]*domain.FlatResult, len(emails))
	errs := make([]error, len(emails))

	var wg sync.WaitGroup
	for i := range emails {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.ProcessJobEmail(ctx, userID, &emails[i])
		}(i)
	}
	wg.Wait()

	flat := make([]*domain.FlatResult, 0, len(emails))
	var firstErr error
	failed := 0
	for i := range emails {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			p.log.Warn().Err(errs[i]).Str("message_id", emails[i].ID).Msg("email processing failed")
			continue
		}
		if results[i] != nil {
			flat = append(flat, results[i])
		}
	}

	if failed == len(emails) {
		return nil, fmt.Errorf("all %d emails failed: %w", failed, firstErr)
	}
	return flat, nil
}

// =============================================================================
// Helpers
// =============================================================================

func isUnspecified(s domain.InterviewSubtype) bool {
	return s == "" || s == domain.SubtypeUnspecified
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// parseEmailDate accepts RFC 5322 headers and ISO dates. Unparseable dates
// fall back to the processing time.
func parseEmailDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return t.UTC()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func toFlatResult(email *domain.RawEmail, app *domain.JobApplication) *domain.FlatResult {
	subject := email.Subject
	if subject == "" {
		subject = noSubject
	}
	r := &domain.FlatResult{
		ID:            email.ID,
		ApplicationID: app.ID,
		Subject:       subject,
		From:          email.Sender,
		Date:          email.Date,
		Status:        app.Status,
		Company:       app.Company,
		Role:          app.Role,
		AutoReply:     app.AutoReply,
	}
	if !isUnspecified(app.InterviewSubtype) {
		r.InterviewSubtype = app.InterviewSubtype
	}
	return r
}
