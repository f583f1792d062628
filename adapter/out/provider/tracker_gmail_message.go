package provider

import (
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/gmail/v1"
)

var scanHeaders = []string{"Subject", "From", "Date"}

// jobSearchQuery builds the Gmail search used to find application mail.
func jobSearchQuery(newerThanDays int) string {
	if newerThanDays <= 0 {
		newerThanDays = 60
	}
	return strings.Join([]string{
		"(subject:(application OR interview OR offer OR rejection OR unfortunately OR update)",
		"OR from:(@indeed.com OR @glassdoor.com OR @lever.co OR @greenhouse.io))",
		"-from:jobalerts-noreply@linkedin.com",
		`-subject:"linkedin job alerts"`,
		"-from:invitationtoapply-sg@match.indeed.com",
		"-category:promotions",
		"-category:social",
		fmt.Sprintf("newer_than:%dd", newerThanDays),
	}, " ")
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func messageHeaders(msg *gmail.Message) []*gmail.MessagePartHeader {
	if msg == nil || msg.Payload == nil {
		return nil
	}
	return msg.Payload.Headers
}

// decodeBodyData decodes Gmail's base64url body data, padded or not.
func decodeBodyData(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(decoded), nil
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

type messageBody struct {
	Text string
	HTML string
}

// extractBody walks the MIME tree and keeps the first text/plain and
// text/html parts it finds.
func extractBody(part *gmail.MessagePart, body *messageBody) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if body.Text == "" {
				if s, err := decodeBodyData(part.Body.Data); err == nil {
					body.Text = s
				}
			}
		case "text/html":
			if body.HTML == "" {
				if s, err := decodeBodyData(part.Body.Data); err == nil {
					body.HTML = s
				}
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, body)
	}
}

// preferred returns the plain text part, or the HTML part when there is
// no usable text.
func (b messageBody) preferred() string {
	if strings.TrimSpace(b.Text) != "" {
		return b.Text
	}
	return b.HTML
}

// buildReplyMessage renders a plain-text RFC 2822 message.
func buildReplyMessage(to, subject, body string) string {
	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.String()
}

func encodeRawMessage(raw string) string {
	return base64.URLEncoding.EncodeToString([]byte(raw))
}
