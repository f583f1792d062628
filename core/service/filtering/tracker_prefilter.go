package filtering

import (
	"regexp"
	"strings"
)

var positiveKeywords = []string{
	"application",
	"interview",
	"offer",
	"position",
	"role",
	"recruiter",
	"hiring",
	"assessment",
	"shortlisted",
	"unfortunately",
	"regret to inform",
	"next steps",
	"not to move forward",
	"after careful consideration",
	"decided not to move forward",
}

var negativeKeywords = []string{
	"newsletter",
	"unsubscribe",
	"sale",
	"discount",
	"webinar",
	"promotion",
	"marketing",
	"event reminder",
	"is hiring",
	"your application was sent to",
	"your application was viewed",
	"payment",
}

var blacklistedSenders = []string{
	"customer.service@",
	"no-reply@",
	"donotreply@",
	"support@",
	"noreply@",
	"@nytimes.com",
}

// IsJobRelated is the coarse relevance gate applied to inbox metadata before
// anything reaches the pipeline. Mail sent by the user is never a candidate.
func IsJobRelated(subject, snippet, sender, userEmail string) bool {
	text := strings.ToLower(subject + " " + snippet)
	addr := ExtractSenderAddress(sender)

	if containsAny(text, negativeKeywords) || !containsAny(text, positiveKeywords) {
		return false
	}
	if userEmail != "" && addr == strings.ToLower(userEmail) {
		return false
	}
	if containsAny(addr, blacklistedSenders) {
		return false
	}

	if _, ok := ExtractCompany(sender); !ok {
		return false
	}
	_, ok := ExtractRole(subject, "")
	return ok
}

// =============================================================================
// Body Cleaning
// =============================================================================

var (
	htmlTagPattern    = regexp.MustCompile(`</?[^>]+(>|$)`)
	blankLinesPattern = regexp.MustCompile(`\n\s*\n`)
	entityReplacer    = strings.NewReplacer("&nbsp;", " ", "&amp;", "&")
)

// CleanEmailBody strips HTML tags and blank lines from a decoded body.
func CleanEmailBody(raw string) string {
	if raw == "" {
		return ""
	}
	s := entityReplacer.Replace(raw)
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = blankLinesPattern.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
