package filtering

import (
	"regexp"
	"strings"
)

var (
	angleAddrPattern   = regexp.MustCompile(`<(.+?)>`)
	fromCompanyPattern = regexp.MustCompile(`(?i)from\s+([^<]+)`)
	displayNamePattern = regexp.MustCompile(`^([^<@]+)<`)
	domainLabelPattern = regexp.MustCompile(`(?i)@(?:[a-z0-9-]+\.)*([a-z0-9-]+)\.`)
)

// subject patterns, tried in order
var subjectRolePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)application at .*? for (.+)$`),
	regexp.MustCompile(`(?i)application for (.+)$`),
	regexp.MustCompile(`–\s*(.+)$`),
	regexp.MustCompile(`-\s*(.+)$`),
}

// body patterns run against the lowercased body
var bodyRolePatterns = []*regexp.Regexp{
	regexp.MustCompile(`for the ([a-z0-9\s]{3,60}) (?:position|role)`),
	regexp.MustCompile(`application for ([a-z0-9\s]{3,60})`),
	regexp.MustCompile(`applied (to|for) the ([a-z0-9\s]{3,60})`),
	regexp.MustCompile(`interview for ([a-z0-9\s]{3,60})`),
	regexp.MustCompile(`position of ([a-z0-9\s]{3,60})`),
	regexp.MustCompile(`role of ([a-z0-9\s]{3,60})`),
}

// ExtractSenderAddress returns the bracketed address of a From header, or the
// whole header, lowercased.
func ExtractSenderAddress(header string) string {
	if header == "" {
		return ""
	}
	if m := angleAddrPattern.FindStringSubmatch(header); m != nil {
		return strings.ToLower(m[1])
	}
	return strings.ToLower(header)
}

// ExtractCompany derives a normalized company name from a From header.
func ExtractCompany(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	var raw string
	switch {
	case fromCompanyPattern.MatchString(header):
		raw = fromCompanyPattern.FindStringSubmatch(header)[1]
	case displayNamePattern.MatchString(header):
		raw = displayNamePattern.FindStringSubmatch(header)[1]
	case domainLabelPattern.MatchString(header):
		raw = domainLabelPattern.FindStringSubmatch(header)[1]
	default:
		return "", false
	}

	company := Normalize(raw)
	return company, company != ""
}

// ExtractRole derives a normalized role from the subject, falling back to the
// body when the subject carries none.
func ExtractRole(subject, body string) (string, bool) {
	if role := roleFromSubject(subject); role != "" && role != "unknown" {
		return role, true
	}
	if role := roleFromBody(body); role != "" {
		return role, true
	}
	return "", false
}

func roleFromSubject(subject string) string {
	if subject == "" {
		return ""
	}
	for _, p := range subjectRolePatterns {
		if m := p.FindStringSubmatch(subject); m != nil && m[1] != "" {
			return Normalize(m[1])
		}
	}
	return ""
}

func roleFromBody(body string) string {
	if body == "" {
		return ""
	}
	lower := strings.ToLower(body)
	for _, p := range bodyRolePatterns {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		role := m[1]
		if len(m) > 2 && len(m[2]) > 3 {
			role = m[2]
		}
		return Normalize(role)
	}
	return ""
}
