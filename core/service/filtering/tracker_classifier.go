package filtering

import (
	"strings"

	"tracker_server/core/domain"
)

// =============================================================================
// Phrase Tables
// =============================================================================

var noReplyMarkers = []string{
	"no-reply",
	"noreply",
	"do-not-reply",
	"donotreply",
	"myworkday", // Workday tenant mailboxes are unmonitored
}

// Confirmation wins over everything: receipt autoresponders often mention
// "unfortunately" in boilerplate.
var confirmationPhrases = []string{
	"thank you for applying",
	"thanks for applying",
	"application received",
	"we have received your application",
	"we've received your application",
	"your application has been submitted",
	"your application has been received",
	"confirmation of your application",
}

var rejectionPhrases = []string{
	"unfortunately",
	"regret to inform",
	"decided to move forward with other candidates",
	"not to move forward",
	"after careful consideration",
}

var acceptancePhrases = []string{
	"offer",
	"pleased to inform",
	"congratulations",
}

var interviewPhrases = []string{
	"interview",
	"schedule",
	"invite you to",
	"call with",
	"video call",
	"phone screen",
}

var assessmentMarkers = []string{
	"coding challenge",
	"assessment",
	"hackerrank",
	"codility",
	"codesignal",
	"leetcode",
	"hirevue",
	"take at your convenience",
}

var schedulingMarkers = []string{
	"availability",
	"schedule",
	"calendar",
	"time works for you",
}

// =============================================================================
// Classifier
// =============================================================================

// IsNoReplySender reports whether addr looks like an unmonitored mailbox.
func IsNoReplySender(addr string) bool {
	return containsAny(strings.ToLower(addr), noReplyMarkers)
}

// ClassifyStatus maps subject and snippet to a status. First matching rule
// wins; unmatched mail is pending.
func ClassifyStatus(subject, snippet string) domain.ApplicationStatus {
	text := strings.ToLower(subject + " " + snippet)

	switch {
	case containsAny(text, confirmationPhrases):
		return domain.StatusPending
	case containsAny(text, rejectionPhrases):
		return domain.StatusRejected
	case containsAny(text, acceptancePhrases):
		return domain.StatusAccepted
	case containsAny(text, interviewPhrases):
		return domain.StatusInterview
	default:
		return domain.StatusPending
	}
}

// InferInterviewSubtype refines an interview email. Only meaningful when the
// email classified as interview.
func InferInterviewSubtype(subject, snippet, body string) domain.InterviewSubtype {
	text := strings.ToLower(subject + " " + snippet + " " + body)

	switch {
	case containsAny(text, assessmentMarkers):
		return domain.SubtypeOnlineAssessment
	case containsAny(text, schedulingMarkers):
		return domain.SubtypeScheduleInterview
	default:
		return domain.SubtypeUnspecified
	}
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
