// Package autoreply dispatches acknowledgement replies to rejection emails.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tracker_server/core/port/out"
	"tracker_server/core/service/filtering"
)

const (
	DefaultMaxAttempts     = 3
	DefaultCompleteRetries = 3
	DefaultCompleteBackoff = 250 * time.Millisecond
	DefaultClaimTTL        = 15 * time.Minute

	replySubject = "Re: Application Update"
	pushTitle    = "Auto-reply sent"
)

type Config struct {
	MaxAttempts int
	SenderName  string
	// ClaimTTL is how long a queued job may hold its claim before a later
	// dispatch takes it over. Keep it well above the job timeout.
	ClaimTTL time.Duration

	// CompleteRetries bounds the attempts to record a reply that was
	// already sent. The wait doubles from CompleteBackoff between tries.
	CompleteRetries int
	CompleteBackoff time.Duration
}

// Dispatcher owns the auto-reply lifecycle. QueueAutoReply claims an
// application and hands it to the job queue; HandleAutoReply runs on the
// worker side and performs the send.
type Dispatcher struct {
	apps     out.ApplicationRepository
	jobs     out.AutoReplyJobQueue
	drafter  out.TextGenerator
	sender   out.MailSender
	notifier out.PushNotifier
	cfg      Config
	now      func() time.Time
	newClaim func() string
	log      zerolog.Logger
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithNotifier(n out.PushNotifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

func NewDispatcher(
	apps out.ApplicationRepository,
	jobs out.AutoReplyJobQueue,
	drafter out.TextGenerator,
	sender out.MailSender,
	cfg Config,
	log zerolog.Logger,
	opts ...Option,
) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.CompleteRetries <= 0 {
		cfg.CompleteRetries = DefaultCompleteRetries
	}
	if cfg.CompleteBackoff <= 0 {
		cfg.CompleteBackoff = DefaultCompleteBackoff
	}
	d := &Dispatcher{
		apps:     apps,
		jobs:     jobs,
		drafter:  drafter,
		sender:   sender,
		cfg:      cfg,
		now:      time.Now,
		newClaim: func() string { return uuid.New().String() },
		log:      log.With().Str("component", "autoreply").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetJobQueue wires the queue after construction, for setups where the queue
// consumer itself depends on the dispatcher.
func (d *Dispatcher) SetJobQueue(jobs out.AutoReplyJobQueue) {
	d.jobs = jobs
}

// ScheduleAutoReply runs QueueAutoReply detached from the caller. The
// caller's cancellation does not abort the claim.
func (d *Dispatcher) ScheduleAutoReply(ctx context.Context, applicationID string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := d.QueueAutoReply(ctx, applicationID); err != nil {
			d.log.Error().Err(err).Str("application_id", applicationID).Msg("auto-reply queue failed")
		}
	}()
}

// QueueAutoReply claims the application and submits a send job. It is a
// no-op when the application is missing, ineligible, already replied,
// held by a live claim, or out of attempts. A claim older than ClaimTTL is
// taken over.
func (d *Dispatcher) QueueAutoReply(ctx context.Context, applicationID string) error {
	log := d.log.With().Str("application_id", applicationID).Logger()

	app, err := d.apps.GetByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, out.ErrApplicationNotFound) {
			log.Debug().Msg("skip: application not found")
			return nil
		}
		return fmt.Errorf("load application: %w", err)
	}

	now := d.now()
	state := app.AutoReply
	if !state.CanClaim(now, d.cfg.ClaimTTL) {
		log.Debug().
			Bool("eligible", state.Eligible).
			Bool("replied", state.Replied).
			Bool("queued", state.Queued).
			Msg("skip: not dispatchable")
		return nil
	}
	if state.Attempts >= d.cfg.MaxAttempts {
		log.Info().Int("attempts", state.Attempts).Msg("skip: attempts exhausted")
		return nil
	}

	claimID := d.newClaim()
	if state.Queued {
		log.Warn().Time("claimed_at", derefTime(state.ClaimedAt)).Msg("taking over expired claim")
	}
	claimed, err := d.apps.ClaimAutoReply(ctx, applicationID, claimID, now, d.cfg.ClaimTTL)
	if err != nil {
		return fmt.Errorf("claim auto-reply: %w", err)
	}
	if !claimed {
		log.Debug().Msg("skip: claimed elsewhere")
		return nil
	}

	job := &out.AutoReplyJob{ApplicationID: applicationID, ClaimID: claimID}
	if err := d.jobs.SubmitAutoReply(ctx, job); err != nil {
		d.release(ctx, applicationID, claimID, fmt.Errorf("submit: %w", err))
		return fmt.Errorf("submit auto-reply job: %w", err)
	}

	log.Info().Str("claim_id", claimID).Msg("auto-reply queued")
	return nil
}

// HandleAutoReply drafts and sends the reply for a claimed job. Failures
// before the send release the claim and are not returned. Once the send
// succeeds the job never fails, so no queue redelivers it.
func (d *Dispatcher) HandleAutoReply(ctx context.Context, job *out.AutoReplyJob) error {
	log := d.log.With().
		Str("application_id", job.ApplicationID).
		Str("claim_id", job.ClaimID).
		Logger()

	app, err := d.apps.GetByID(ctx, job.ApplicationID)
	if err != nil {
		if errors.Is(err, out.ErrApplicationNotFound) {
			log.Warn().Msg("drop: application not found")
			return nil
		}
		return fmt.Errorf("load application: %w", err)
	}

	state := app.AutoReply
	if state.Replied || !state.Queued || state.ClaimID != job.ClaimID {
		log.Debug().Msg("drop: claim no longer held")
		return nil
	}

	first := app.FirstEmail()
	if first == nil {
		d.release(ctx, app.ID, job.ClaimID, errors.New("application has no email to reply to"))
		return nil
	}

	body, err := d.drafter.GenerateReply(ctx, &out.ReplyPrompt{
		Company:    app.Company,
		Role:       app.Role,
		SenderName: d.cfg.SenderName,
	})
	if err != nil {
		d.release(ctx, app.ID, job.ClaimID, fmt.Errorf("draft: %w", err))
		return nil
	}

	result, err := d.sender.SendReply(ctx, &out.ReplyRequest{
		UserID:   app.UserID,
		To:       filtering.ExtractSenderAddress(first.Sender),
		ThreadID: first.ThreadID,
		Subject:  replySubject,
		Body:     body,
	})
	if err != nil {
		d.release(ctx, app.ID, job.ClaimID, fmt.Errorf("send: %w", err))
		return nil
	}

	if err := d.complete(ctx, app.ID, job.ClaimID, result.MessageID); err != nil {
		log.Error().
			Err(err).
			Str("reply_message_id", result.MessageID).
			Msg("auto-reply sent but not recorded")
		return nil
	}
	log.Info().Str("reply_message_id", result.MessageID).Msg("auto-reply sent")

	if d.notifier != nil {
		msg := fmt.Sprintf("Your auto-reply to %s was sent.", app.Company)
		if err := d.notifier.NotifyUser(ctx, app.UserID, pushTitle, msg); err != nil {
			log.Warn().Err(err).Msg("push notification failed")
		}
	}
	return nil
}

// complete records a sent reply, retrying transient store errors. A lost
// claim is final.
func (d *Dispatcher) complete(ctx context.Context, applicationID, claimID, replyMessageID string) error {
	backoff := d.cfg.CompleteBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = d.apps.CompleteAutoReply(ctx, applicationID, claimID, replyMessageID, d.now())
		if err == nil || errors.Is(err, out.ErrClaimLost) || attempt >= d.cfg.CompleteRetries {
			return err
		}
		d.log.Warn().Err(err).
			Str("application_id", applicationID).
			Int("attempt", attempt).
			Msg("record auto-reply failed, retrying")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		backoff *= 2
	}
}

func (d *Dispatcher) release(ctx context.Context, applicationID, claimID string, cause error) {
	d.log.Warn().Err(cause).Str("application_id", applicationID).Msg("auto-reply failed, releasing claim")
	if err := d.apps.ReleaseAutoReply(ctx, applicationID, claimID, cause.Error()); err != nil {
		d.log.Error().Err(err).Str("application_id", applicationID).Msg("failed to release auto-reply claim")
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
