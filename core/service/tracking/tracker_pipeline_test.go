package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker_server/adapter/out/memory"
	"tracker_server/core/domain"
	"tracker_server/core/port/out"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func day(n int) string {
	return baseTime.AddDate(0, 0, n).Format(time.RFC1123Z)
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingScheduler) ScheduleAutoReply(ctx context.Context, applicationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, applicationID)
}

func (s *recordingScheduler) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type fixture struct {
	apps      *memory.ApplicationStore
	logs      *memory.EmailLogStore
	scheduler *recordingScheduler
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		apps:      memory.NewApplicationStore(),
		logs:      memory.NewEmailLogStore(),
		scheduler: &recordingScheduler{},
	}
	f.pipeline = NewPipeline(f.apps, f.logs, zerolog.Nop(),
		WithScheduler(f.scheduler),
		WithClock(func() time.Time { return baseTime.AddDate(0, 1, 0) }),
	)
	return f
}

func (f *fixture) process(t *testing.T, userID string, email domain.RawEmail) *domain.FlatResult {
	t.Helper()
	res, err := f.pipeline.ProcessJobEmail(context.Background(), userID, &email)
	require.NoError(t, err)
	return res
}

// one email per status, all grouped under acme / data analyst
func statusEmail(id string, status domain.ApplicationStatus, date string) domain.RawEmail {
	snippets := map[domain.ApplicationStatus]string{
		domain.StatusPending:   "Thank you for applying, we will be in touch.",
		domain.StatusInterview: "We would like to invite you to a phone screen.",
		domain.StatusRejected:  "Unfortunately we will not proceed with your candidacy.",
		domain.StatusAccepted:  "Congratulations, we are pleased to inform you.",
	}
	return domain.RawEmail{
		ID:      id,
		Subject: "Application for Data Analyst",
		Sender:  "Acme Talent <talent@acme.com>",
		Snippet: snippets[status],
		Date:    date,
	}
}

func TestProcessJobEmail_Idempotent(t *testing.T) {
	f := newFixture(t)
	email := statusEmail("m1", domain.StatusPending, day(1))

	first := f.process(t, "u1", email)
	second := f.process(t, "u1", email)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ApplicationID, second.ApplicationID)

	app, err := f.apps.GetByID(context.Background(), first.ApplicationID)
	require.NoError(t, err)
	assert.Len(t, app.Emails, 1)
}

func TestProcessJobEmail_UngroupableDropped(t *testing.T) {
	tests := []struct {
		name  string
		email domain.RawEmail
	}{
		{
			name: "no company",
			email: domain.RawEmail{
				ID: "m1", Subject: "Application for Data Analyst", Sender: "nobody",
				Snippet: "Unfortunately no", Date: day(1),
			},
		},
		{
			name: "no role",
			email: domain.RawEmail{
				ID: "m2", Subject: "Hello", Sender: "Acme <talent@acme.com>",
				Snippet: "Unfortunately no", Date: day(1),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.process(t, "u1", tt.email)
			assert.Nil(t, res)

			apps, err := f.apps.ListByUser(context.Background(), "u1", 0)
			require.NoError(t, err)
			assert.Empty(t, apps)
			assert.Empty(t, f.scheduler.calls())
		})
	}
}

func TestProcessJobEmail_Escalation(t *testing.T) {
	statuses := []domain.ApplicationStatus{
		domain.StatusPending,
		domain.StatusInterview,
		domain.StatusRejected,
		domain.StatusAccepted,
	}

	for _, a := range statuses {
		for _, b := range statuses {
			if b.Rank() <= a.Rank() {
				continue
			}

			t.Run(fmt.Sprintf("%s then newer %s", a, b), func(t *testing.T) {
				f := newFixture(t)
				f.process(t, "u1", statusEmail("m1", a, day(1)))
				res := f.process(t, "u1", statusEmail("m2", b, day(3)))
				assert.Equal(t, b, res.Status)
			})

			t.Run(fmt.Sprintf("%s then older %s", a, b), func(t *testing.T) {
				f := newFixture(t)
				f.process(t, "u1", statusEmail("m1", a, day(5)))
				res := f.process(t, "u1", statusEmail("m2", b, day(2)))
				assert.Equal(t, a, res.Status)

				app, err := f.apps.GetByID(context.Background(), res.ApplicationID)
				require.NoError(t, err)
				assert.Len(t, app.Emails, 2)
			})
		}
	}
}

func TestProcessJobEmail_NeverDemotes(t *testing.T) {
	f := newFixture(t)
	f.process(t, "u1", statusEmail("m1", domain.StatusRejected, day(1)))
	res := f.process(t, "u1", statusEmail("m2", domain.StatusInterview, day(4)))
	assert.Equal(t, domain.StatusRejected, res.Status)
}

func TestProcessJobEmail_InterviewThenRejection(t *testing.T) {
	f := newFixture(t)
	sender := "Jane from Acme <jane@acme.com>"

	first := f.process(t, "u1", domain.RawEmail{
		ID:      "m1",
		Subject: "Interview Invitation - Software Engineer Intern",
		Sender:  sender,
		Snippet: "We would like to schedule a video call with you next week.",
		Date:    day(1),
	})
	require.NotNil(t, first)
	assert.Equal(t, domain.StatusInterview, first.Status)
	assert.Equal(t, domain.SubtypeScheduleInterview, first.InterviewSubtype)
	assert.Empty(t, f.scheduler.calls())

	second := f.process(t, "u1", domain.RawEmail{
		ID:      "m2",
		Subject: "Update - Software Engineer Intern",
		Sender:  sender,
		Snippet: "Unfortunately, we have decided not to move forward.",
		Date:    day(3),
	})
	require.NotNil(t, second)
	assert.Equal(t, first.ApplicationID, second.ApplicationID)

	app, err := f.apps.GetByID(context.Background(), second.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, app.Status)
	assert.Equal(t, "acme", app.Company)
	assert.Equal(t, "software engineer intern", app.Role)
	assert.Len(t, app.Emails, 2)
	assert.Equal(t, domain.StatusInterview, app.Emails[0].InferredStatus)
	assert.Equal(t, domain.StatusRejected, app.Emails[1].InferredStatus)
	assert.True(t, app.AutoReply.Eligible)
	assert.Equal(t, []string{app.ID}, f.scheduler.calls())

	// only the interview email reached the action log
	assert.Equal(t, 1, f.logs.Count())
}

func TestProcessJobEmail_EmailLogFollowsEmailStatus(t *testing.T) {
	tests := []struct {
		name       string
		emails     []domain.RawEmail
		wantLogs   map[string]domain.ApplicationStatus
		wantStatus domain.ApplicationStatus
	}{
		{
			name: "pending processed after newer interview",
			emails: []domain.RawEmail{
				statusEmail("m2", domain.StatusInterview, day(2)),
				statusEmail("m1", domain.StatusPending, day(1)),
			},
			wantLogs:   map[string]domain.ApplicationStatus{"m2": domain.StatusInterview},
			wantStatus: domain.StatusInterview,
		},
		{
			name: "pending processed before interview",
			emails: []domain.RawEmail{
				statusEmail("m1", domain.StatusPending, day(1)),
				statusEmail("m2", domain.StatusInterview, day(2)),
			},
			wantLogs:   map[string]domain.ApplicationStatus{"m2": domain.StatusInterview},
			wantStatus: domain.StatusInterview,
		},
		{
			name: "rejection after accepted is not logged",
			emails: []domain.RawEmail{
				statusEmail("m1", domain.StatusAccepted, day(1)),
				statusEmail("m2", domain.StatusRejected, day(2)),
			},
			wantLogs:   map[string]domain.ApplicationStatus{"m1": domain.StatusAccepted},
			wantStatus: domain.StatusAccepted,
		},
		{
			name: "older interview keeps its own label",
			emails: []domain.RawEmail{
				statusEmail("m2", domain.StatusRejected, day(3)),
				statusEmail("m1", domain.StatusInterview, day(1)),
			},
			wantLogs:   map[string]domain.ApplicationStatus{"m1": domain.StatusInterview},
			wantStatus: domain.StatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var last *domain.FlatResult
			for _, email := range tt.emails {
				last = f.process(t, "u1", email)
			}
			require.NotNil(t, last)
			assert.Equal(t, tt.wantStatus, last.Status)

			logs, err := f.logs.ListRecentByUser(context.Background(), "u1", 10)
			require.NoError(t, err)
			got := make(map[string]domain.ApplicationStatus, len(logs))
			for _, l := range logs {
				got[l.MessageID] = l.Status
			}
			assert.Equal(t, tt.wantLogs, got)
		})
	}
}

func TestProcessJobEmail_SubtypeOnlyFromInterviewEmail(t *testing.T) {
	f := newFixture(t)
	sender := "Jane from Acme <jane@acme.com>"

	f.process(t, "u1", domain.RawEmail{
		ID:      "m1",
		Subject: "Interview - Software Engineer Intern",
		Sender:  sender,
		Snippet: "We would like to invite you to interview.",
		Date:    day(2),
	})
	// an older pending email mentioning a call must not set the subtype
	res := f.process(t, "u1", domain.RawEmail{
		ID:      "m0",
		Subject: "Application received - Software Engineer Intern",
		Sender:  sender,
		Snippet: "Thank you for applying. We may schedule a video call later.",
		Date:    day(1),
	})
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusInterview, res.Status)

	app, err := f.apps.GetByID(context.Background(), res.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, app.Emails[1].InferredStatus)
	assert.NotEqual(t, domain.SubtypeScheduleInterview, app.InterviewSubtype)
}

func TestProcessJobEmail_NoReplySenderNotEligible(t *testing.T) {
	f := newFixture(t)

	res := f.process(t, "u1", domain.RawEmail{
		ID:      "m1",
		Subject: "Application for Data Analyst",
		Sender:  "Greenhouse <no-reply@greenhouse.io>",
		Snippet: "Unfortunately we will not proceed.",
		Date:    day(1),
	})
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusRejected, res.Status)
	assert.False(t, res.AutoReply.Eligible)
	assert.Empty(t, f.scheduler.calls())
}

func TestProcessJobEmail_RepliedNotRescheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.process(t, "u1", statusEmail("m1", domain.StatusRejected, day(1)))
	require.Len(t, f.scheduler.calls(), 1)

	ok, err := f.apps.ClaimAutoReply(ctx, res.ApplicationID, "c1", baseTime, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.apps.CompleteAutoReply(ctx, res.ApplicationID, "c1", "reply-1", baseTime))

	again := f.process(t, "u1", statusEmail("m2", domain.StatusRejected, day(2)))
	assert.True(t, again.AutoReply.Replied)
	assert.Equal(t, "reply-1", again.AutoReply.ReplyMessageID)
	assert.Len(t, f.scheduler.calls(), 1)
}

func TestProcessJobEmail_EmailLogDuplicateIgnored(t *testing.T) {
	f := newFixture(t)
	email := statusEmail("m1", domain.StatusAccepted, day(1))

	f.process(t, "u1", email)
	f.process(t, "u1", email)

	assert.Equal(t, 1, f.logs.Count())
	logs, err := f.logs.ListRecentByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.StatusAccepted, logs[0].Status)
	assert.Equal(t, "acme talent", logs[0].Company)
}

func TestProcessJobEmail_EmptySubject(t *testing.T) {
	f := newFixture(t)

	res := f.process(t, "u1", domain.RawEmail{
		ID:      "m1",
		Sender:  "Acme <talent@acme.com>",
		Snippet: "Thanks for your interest",
		Body:    "We are reviewing you for the Data Analyst position.",
		Date:    day(1),
	})
	require.NotNil(t, res)
	assert.Equal(t, "(No subject)", res.Subject)
	assert.Equal(t, "data analyst", res.Role)
}

// failingStore fails the upsert for selected message ids.
type failingStore struct {
	*memory.ApplicationStore
	fail map[string]bool
}

var errStorage = errors.New("storage unavailable")

func (s *failingStore) UpsertFromEmail(ctx context.Context, in *out.ApplicationUpsert) (*domain.JobApplication, error) {
	if s.fail[in.Email.MessageID] {
		return nil, errStorage
	}
	return s.ApplicationStore.UpsertFromEmail(ctx, in)
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("failures and drops are omitted", func(t *testing.T) {
		store := &failingStore{ApplicationStore: memory.NewApplicationStore(), fail: map[string]bool{"m2": true}}
		p := NewPipeline(store, memory.NewEmailLogStore(), zerolog.Nop())

		emails := []domain.RawEmail{
			statusEmail("m1", domain.StatusPending, day(1)),
			statusEmail("m2", domain.StatusPending, day(2)),
			{ID: "m3", Subject: "Hello", Sender: "nobody", Date: day(3)},
		}

		results, err := p.ProcessBatch(ctx, "u1", emails)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "m1", results[0].ID)
	})

	t.Run("systemic failure propagates", func(t *testing.T) {
		store := &failingStore{ApplicationStore: memory.NewApplicationStore(), fail: map[string]bool{"m1": true, "m2": true}}
		p := NewPipeline(store, memory.NewEmailLogStore(), zerolog.Nop())

		_, err := p.ProcessBatch(ctx, "u1", []domain.RawEmail{
			statusEmail("m1", domain.StatusPending, day(1)),
			statusEmail("m2", domain.StatusPending, day(2)),
		})
		assert.ErrorIs(t, err, errStorage)
	})

	t.Run("empty batch", func(t *testing.T) {
		f := newFixture(t)
		results, err := f.pipeline.ProcessBatch(ctx, "u1", nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("concurrent emails for one key share a record", func(t *testing.T) {
		f := newFixture(t)
		var emails []domain.RawEmail
		for i := 0; i < 25; i++ {
			emails = append(emails, statusEmail(fmt.Sprintf("m%d", i), domain.StatusInterview, day(i%5)))
		}

		results, err := f.pipeline.ProcessBatch(ctx, "u1", emails)
		require.NoError(t, err)
		require.Len(t, results, len(emails))

		apps, err := f.apps.ListByUser(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Len(t, apps[0].Emails, len(emails))
		assert.Equal(t, domain.StatusInterview, apps[0].Status)
	})
}

func TestParseEmailDate(t *testing.T) {
	fallback := baseTime

	got := parseEmailDate("Tue, 4 Mar 2025 10:30:00 +0100 (CET)", fallback)
	assert.Equal(t, time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC), got)

	got = parseEmailDate("2025-03-04T10:30:00Z", fallback)
	assert.Equal(t, time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC), got)

	assert.Equal(t, fallback, parseEmailDate("not a date", fallback))
	assert.Equal(t, fallback, parseEmailDate("", fallback))
}
