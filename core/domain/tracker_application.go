package domain

import "time"

// =============================================================================
// Application Status - escalation order is explicit, never string comparison
// =============================================================================

type ApplicationStatus string

const (
	StatusPending   ApplicationStatus = "pending"
	StatusInterview ApplicationStatus = "interview"
	StatusRejected  ApplicationStatus = "rejected"
	StatusAccepted  ApplicationStatus = "accepted"
)

var statusRank = map[ApplicationStatus]int{
	StatusPending:   0,
	StatusInterview: 1,
	StatusRejected:  2,
	StatusAccepted:  3,
}

// Rank returns the escalation priority of the status. Unknown values rank
// below pending so they can never win an escalation.
func (s ApplicationStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s ApplicationStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// Escalate returns incoming if it strictly outranks current, else current.
func Escalate(current, incoming ApplicationStatus) ApplicationStatus {
	if incoming.Rank() > current.Rank() {
		return incoming
	}
	return current
}

// NeedsAction reports whether an email with this status is surfaced in the
// user's action log.
func (s ApplicationStatus) NeedsAction() bool {
	return s == StatusInterview || s == StatusAccepted
}

// =============================================================================
// Interview Subtype
// =============================================================================

type InterviewSubtype string

const (
	SubtypeUnspecified       InterviewSubtype = "unspecified"
	SubtypeOnlineAssessment  InterviewSubtype = "online_assessment"
	SubtypeScheduleInterview InterviewSubtype = "schedule_interview"
)

// =============================================================================
// JobApplication
// =============================================================================

// JobApplication is one user's candidacy at one company for one role.
type JobApplication struct {
	ID                     string            `json:"id"`
	UserID                 string            `json:"user_id"`
	Company                string            `json:"company"`
	Role                   string            `json:"role"`
	NormalizedKey          string            `json:"normalized_key"`
	Status                 ApplicationStatus `json:"status"`
	InterviewSubtype       InterviewSubtype  `json:"interview_subtype,omitempty"`
	LastUpdatedFromEmailAt *time.Time        `json:"last_updated_from_email_at,omitempty"`
	Emails                 []EmailRecord     `json:"emails"`
	AutoReply              AutoReplyState    `json:"auto_reply"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// HasEmail reports whether messageID is already attached.
func (a *JobApplication) HasEmail(messageID string) bool {
	for _, e := range a.Emails {
		if e.MessageID == messageID {
			return true
		}
	}
	return false
}

// FirstEmail returns the earliest attached email, or nil.
func (a *JobApplication) FirstEmail() *EmailRecord {
	if len(a.Emails) == 0 {
		return nil
	}
	return &a.Emails[0]
}

// EmailRecord is immutable once appended.
type EmailRecord struct {
	MessageID      string            `json:"message_id"`
	ThreadID       string            `json:"thread_id,omitempty"`
	Subject        string            `json:"subject"`
	Sender         string            `json:"sender"`
	Snippet        string            `json:"snippet"`
	Date           time.Time         `json:"date"`
	InferredStatus ApplicationStatus `json:"inferred_status"`
}

// AutoReplyState tracks the reply lifecycle. Replied is terminal and implies
// Queued is false; Queued is the in-flight claim.
type AutoReplyState struct {
	Eligible       bool       `json:"eligible"`
	Queued         bool       `json:"queued"`
	Replied        bool       `json:"replied"`
	RepliedAt      *time.Time `json:"replied_at,omitempty"`
	ReplyMessageID string     `json:"reply_message_id,omitempty"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	ClaimID        string     `json:"-"`
	ClaimedAt      *time.Time `json:"-"`
}

// CanDispatch reports whether a new dispatch may claim this application.
func (s AutoReplyState) CanDispatch() bool {
	return s.Eligible && !s.Replied && !s.Queued
}

// ClaimExpired reports whether the in-flight claim was taken at or before
// now-ttl. A claim without a timestamp counts as expired; ttl <= 0 never
// expires.
func (s AutoReplyState) ClaimExpired(now time.Time, ttl time.Duration) bool {
	if !s.Queued || ttl <= 0 {
		return false
	}
	return s.ClaimedAt == nil || !s.ClaimedAt.After(now.Add(-ttl))
}

// CanClaim is CanDispatch, but also allows taking over an expired claim.
func (s AutoReplyState) CanClaim(now time.Time, ttl time.Duration) bool {
	return s.CanDispatch() || (s.Eligible && !s.Replied && s.ClaimExpired(now, ttl))
}

// =============================================================================
// EmailLog - append-only audit of action-needed emails
// =============================================================================

type EmailLog struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	MessageID        string            `json:"message_id"`
	Status           ApplicationStatus `json:"status"`
	Subject          string            `json:"subject"`
	From             string            `json:"from"`
	Date             time.Time         `json:"date"`
	Company          string            `json:"company"`
	Role             string            `json:"role"`
	InterviewSubtype InterviewSubtype  `json:"interview_subtype,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// =============================================================================
// Inbound email + pipeline result
// =============================================================================

// RawEmail is a candidate message handed to the pipeline by the mail fetcher.
type RawEmail struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	Subject  string `json:"subject"`
	Sender   string `json:"sender"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
	Body     string `json:"body,omitempty"`
}

// FlatResult is the per-email view returned to API callers.
type FlatResult struct {
	ID               string            `json:"id"`
	ApplicationID    string            `json:"application_id"`
	Subject          string            `json:"subject"`
	From             string            `json:"from"`
	Date             string            `json:"date"`
	Status           ApplicationStatus `json:"status"`
	Company          string            `json:"company"`
	Role             string            `json:"role"`
	AutoReply        AutoReplyState    `json:"auto_reply"`
	InterviewSubtype InterviewSubtype  `json:"interview_subtype,omitempty"`
}

// FullEmail is a single message with its cleaned body.
type FullEmail struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Body    string `json:"body"`
}
