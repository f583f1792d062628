package filtering

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tracker_server/core/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"punctuation stripped", "Acme, Inc.", "acme inc"},
		{"whitespace collapsed", "  Software   Engineer  Intern ", "software engineer intern"},
		{"tabs and newlines dropped", "data\tscience\nlead", "datasciencelead"},
		{"diacritics folded", "Société Générale", "societe generale"},
		{"symbols only", "!!! ---", ""},
		{"digits kept", "SWE II (2025)", "swe ii 2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestExtractSenderAddress(t *testing.T) {
	assert.Equal(t, "jane@acme.com", ExtractSenderAddress("Jane Doe <Jane@Acme.com>"))
	assert.Equal(t, "jobs@acme.com", ExtractSenderAddress("JOBS@acme.com"))
	assert.Equal(t, "", ExtractSenderAddress(""))
}

func TestExtractCompany(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"from pattern in display name", "Jane from Acme Robotics <jane@acme.com>", "acme robotics", true},
		{"display name prefix", "Globex Careers <careers@globex.com>", "globex careers", true},
		{"quoted display name", `"Initech" <hr@initech.com>`, "initech", true},
		{"domain fallback", "talent@recruiting.aumovio.com", "aumovio", true},
		{"no usable part", "nobody", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCompany(tt.header)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractRole(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		want    string
		wantOK  bool
	}{
		{
			name:    "application at company for role",
			subject: "Your application at Acme for Software Engineer Intern",
			want:    "software engineer intern",
			wantOK:  true,
		},
		{
			name:    "application for role",
			subject: "Application for Data Analyst",
			want:    "data analyst",
			wantOK:  true,
		},
		{
			name:    "en dash segment",
			subject: "Interview Invitation – Backend Developer",
			want:    "backend developer",
			wantOK:  true,
		},
		{
			name:    "hyphen segment",
			subject: "Update - Product Designer",
			want:    "product designer",
			wantOK:  true,
		},
		{
			name:    "body fallback position",
			subject: "Thanks!",
			body:    "We enjoyed reviewing you for the Platform Engineer position at Acme.",
			want:    "platform engineer",
			wantOK:  true,
		},
		{
			name:    "body fallback prefers second group",
			subject: "Hello",
			body:    "You applied to the Mobile Developer opening.",
			want:    "mobile developer opening",
			wantOK:  true,
		},
		{
			name:    "nothing found",
			subject: "Hello there",
			body:    "Just checking in",
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractRole(tt.subject, tt.body)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsNoReplySender(t *testing.T) {
	assert.True(t, IsNoReplySender("jobs-noreply@company.com"))
	assert.True(t, IsNoReplySender("no-reply@greenhouse.io"))
	assert.True(t, IsNoReplySender("acme@myworkday.com"))
	assert.False(t, IsNoReplySender("recruiter@company.com"))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		snippet string
		want    domain.ApplicationStatus
	}{
		{
			name:    "confirmation overrides embedded rejection phrase",
			subject: "Thank you for applying to Acme",
			snippet: "We have received your application. Unfortunately processing takes 2 weeks.",
			want:    domain.StatusPending,
		},
		{
			name:    "rejection",
			subject: "Update on your application",
			snippet: "Unfortunately, we have decided not to move forward with your candidacy.",
			want:    domain.StatusRejected,
		},
		{
			name:    "interview",
			subject: "Interview Invitation",
			snippet: "We would like to schedule a video call with you next week.",
			want:    domain.StatusInterview,
		},
		{
			name:    "acceptance",
			subject: "Congratulations!",
			snippet: "We are pleased to extend you an offer.",
			want:    domain.StatusAccepted,
		},
		{
			name:    "rejection beats acceptance",
			subject: "Your offer status",
			snippet: "After careful consideration we went another way.",
			want:    domain.StatusRejected,
		},
		{
			name:    "default pending",
			subject: "Hello",
			snippet: "Just a note",
			want:    domain.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.subject, tt.snippet))
		})
	}
}

func TestInferInterviewSubtype(t *testing.T) {
	assert.Equal(t, domain.SubtypeScheduleInterview,
		InferInterviewSubtype("Interview Invitation", "We would like to schedule a video call with you next week.", ""))
	assert.Equal(t, domain.SubtypeOnlineAssessment,
		InferInterviewSubtype("Next steps", "Please complete the HackerRank challenge", ""))
	assert.Equal(t, domain.SubtypeOnlineAssessment,
		InferInterviewSubtype("Next steps", "", "The assessment should take about an hour; please schedule it soon"))
	assert.Equal(t, domain.SubtypeUnspecified,
		InferInterviewSubtype("Interview", "Looking forward to talking", ""))
}

func TestMakeKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := MakeKey("u1", "Acme", "Software Engineer Intern")
		b := MakeKey("u1", "ACME", "software   engineer intern!")
		assert.Equal(t, a, b)
		assert.Len(t, a, 40)
	})

	t.Run("distinct pairs", func(t *testing.T) {
		assert.NotEqual(t, MakeKey("u1", "acme", "intern"), MakeKey("u1", "acme", "engineer"))
		assert.NotEqual(t, MakeKey("u1", "acme", "intern"), MakeKey("u2", "acme", "intern"))
	})

	t.Run("accents fold into one key", func(t *testing.T) {
		tests := []struct {
			name                    string
			company, role           string
			plainCompany, plainRole string
		}{
			{"precomposed", "Société Générale", "Analyste Crédit", "Societe Generale", "analyste credit"},
			{"combining marks", "Cafe\u0301 Nu\u0308rnberg", "Barista", "café nürnberg", "barista"},
			{"mixed case", "ÉCOLE", "Maître de conférences", "ecole", "maitre de conferences"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, MakeKey("u1", tt.plainCompany, tt.plainRole), MakeKey("u1", tt.company, tt.role))
			})
		}
	})

	// Letters without a latin base are dropped, not folded.
	t.Run("non latin letters dropped", func(t *testing.T) {
		assert.Equal(t, "", Normalize("Ø"))
		assert.Equal(t, MakeKey("u1", "rsted", "engineer"), MakeKey("u1", "Ørsted", "engineer"))
	})

	// Empty parts collapse to "unknown"; the pipeline drops such mail first.
	t.Run("unknown parts collide", func(t *testing.T) {
		assert.Equal(t, MakeKey("u1", "", ""), MakeKey("u1", "", ""))
		assert.Equal(t, MakeKey("u1", "", ""), MakeKey("u1", "unknown", "unknown"))
		assert.Equal(t, MakeKey("u1", "!!!", ""), MakeKey("u1", "", "???"))
	})
}

func TestIsJobRelated(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		snippet string
		sender  string
		want    bool
	}{
		{
			name:    "recruiter rejection",
			subject: "Application for Data Analyst",
			snippet: "Unfortunately we will not proceed",
			sender:  "Acme Talent <talent@acme.com>",
			want:    true,
		},
		{
			name:    "negative keyword",
			subject: "Application for Data Analyst",
			snippet: "click to unsubscribe",
			sender:  "Acme Talent <talent@acme.com>",
			want:    false,
		},
		{
			name:    "no positive keyword",
			subject: "Lunch - Friday",
			snippet: "see you there",
			sender:  "Bob <bob@acme.com>",
			want:    false,
		},
		{
			name:    "blacklisted sender",
			subject: "Application for Data Analyst",
			snippet: "next steps",
			sender:  "Acme <support@acme.com>",
			want:    false,
		},
		{
			name:    "sent by the user",
			subject: "Application for Data Analyst",
			snippet: "my application",
			sender:  "Me <me@example.com>",
			want:    false,
		},
		{
			name:    "no role",
			subject: "Your application",
			snippet: "we received it",
			sender:  "Acme <talent@acme.com>",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsJobRelated(tt.subject, tt.snippet, tt.sender, "me@example.com"))
		})
	}
}

func TestCleanEmailBody(t *testing.T) {
	raw := "<p>Hello&nbsp;there</p>\n\n\n<b>Tom &amp; Jerry</b>\n  \n<br/>Bye"
	assert.Equal(t, "Hello there\nTom & Jerry\nBye", CleanEmailBody(raw))
	assert.Equal(t, "", CleanEmailBody(""))
}
