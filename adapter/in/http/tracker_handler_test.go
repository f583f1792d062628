package http

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker_server/core/domain"
	"tracker_server/infra/middleware"
	"tracker_server/pkg/apperr"
	"tracker_server/pkg/metrics"
)

const testSecret = "handler-secret"

type fakeTracking struct {
	apps    map[string]*domain.JobApplication
	retried []string
}

func (f *fakeTracking) ScanJobs(ctx context.Context, userID string) ([]*domain.FlatResult, error) {
	return []*domain.FlatResult{{ID: "m1", ApplicationID: "a1", Company: "acme"}}, nil
}

func (f *fakeTracking) ListApplications(ctx context.Context, userID string) ([]*domain.JobApplication, error) {
	return nil, nil
}

func (f *fakeTracking) RecentLogs(ctx context.Context, userID string) ([]*domain.EmailLog, error) {
	return []*domain.EmailLog{{ID: "l1", UserID: userID}}, nil
}

func (f *fakeTracking) GetApplication(ctx context.Context, userID, applicationID string) (*domain.JobApplication, error) {
	app, ok := f.apps[applicationID]
	if !ok || app.UserID != userID {
		return nil, apperr.NotFound("application")
	}
	return app, nil
}

func (f *fakeTracking) RetryAutoReply(ctx context.Context, userID, applicationID string) error {
	if _, err := f.GetApplication(ctx, userID, applicationID); err != nil {
		return err
	}
	f.retried = append(f.retried, applicationID)
	return nil
}

func (f *fakeTracking) GetEmail(ctx context.Context, userID, messageID string) (*domain.FullEmail, error) {
	return nil, apperr.GmailNotConnected()
}

type fakeAccounts struct {
	tokens []string
}

func (f *fakeAccounts) ConnectURL(userID string) (string, error) {
	return "https://accounts.example.com/auth?state=" + userID, nil
}

func (f *fakeAccounts) CompleteConnect(ctx context.Context, code, state string) (*domain.MailConnection, error) {
	if state != "good" {
		return nil, apperr.BadRequest("invalid OAuth state")
	}
	return &domain.MailConnection{UserID: "u1", Email: "me@gmail.com"}, nil
}

func (f *fakeAccounts) RegisterPushToken(ctx context.Context, userID, token string) error {
	if token == "" {
		return apperr.InvalidInput("token", "push token is required")
	}
	f.tokens = append(f.tokens, token)
	return nil
}

func newTestApp(tracking *fakeTracking, accounts *fakeAccounts) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	api := app.Group("/api/v1")
	accountHandler := NewAccountHandler(accounts)
	accountHandler.RegisterPublic(api)

	protected := api.Group("", middleware.JWTAuth(testSecret))
	NewJobHandler(tracking, nil).Register(protected)
	accountHandler.Register(protected)
	return app
}

func authed(t *testing.T, method, target, userID string, body io.Reader) *nethttp.Request {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeBody(t *testing.T, r io.Reader, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r).Decode(dest))
}

func TestJobRoutes_RequireAuth(t *testing.T) {
	app := newTestApp(&fakeTracking{}, &fakeAccounts{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/jobs", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestJobRoutes(t *testing.T) {
	tracking := &fakeTracking{apps: map[string]*domain.JobApplication{
		"a1": {ID: "a1", UserID: "u1", Company: "acme"},
	}}
	app := newTestApp(tracking, &fakeAccounts{})

	tests := []struct {
		name   string
		method string
		target string
		user   string
		status int
	}{
		{"scan", "GET", "/api/v1/jobs/scan", "u1", 200},
		{"list", "GET", "/api/v1/jobs", "u1", 200},
		{"logs", "GET", "/api/v1/jobs/logs", "u1", 200},
		{"get own", "GET", "/api/v1/jobs/a1", "u1", 200},
		{"get other", "GET", "/api/v1/jobs/a1", "u2", 404},
		{"retry own", "POST", "/api/v1/jobs/a1/auto-reply", "u1", 202},
		{"retry other", "POST", "/api/v1/jobs/a1/auto-reply", "u2", 404},
		{"email not connected", "GET", "/api/v1/emails/m1", "u1", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(authed(t, tt.method, tt.target, tt.user, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Equal(t, []string{"a1"}, tracking.retried)
}

func TestRetryAutoReply_IDOutlivesRequest(t *testing.T) {
	tracking := &fakeTracking{apps: map[string]*domain.JobApplication{
		"app-0001": {ID: "app-0001", UserID: "u1"},
		"app-0002": {ID: "app-0002", UserID: "u1"},
	}}
	app := newTestApp(tracking, &fakeAccounts{})

	targets := []string{
		"/api/v1/jobs/app-0001/auto-reply",
		"/api/v1/jobs/app-0002/auto-reply",
	}
	for _, target := range targets {
		resp, err := app.Test(authed(t, "POST", target, "u1", nil))
		require.NoError(t, err)
		require.Equal(t, 202, resp.StatusCode)

		// later requests reuse fiber's buffers
		for i := 0; i < 3; i++ {
			_, err := app.Test(authed(t, "GET", "/api/v1/emails/zzzzzzzzzzzzzz", "u1", nil))
			require.NoError(t, err)
		}
	}
	assert.Equal(t, []string{"app-0001", "app-0002"}, tracking.retried)
}

func TestListReturnsEmptyArray(t *testing.T) {
	app := newTestApp(&fakeTracking{}, &fakeAccounts{})

	resp, err := app.Test(authed(t, "GET", "/api/v1/jobs", "u1", nil))
	require.NoError(t, err)

	var body struct {
		Success bool              `json:"success"`
		Data    []json.RawMessage `json:"data"`
		Meta    struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	decodeBody(t, resp.Body, &body)
	assert.True(t, body.Success)
	assert.NotNil(t, body.Data)
	assert.Equal(t, 0, body.Meta.Total)
}

func TestAccountRoutes(t *testing.T) {
	accounts := &fakeAccounts{}
	app := newTestApp(&fakeTracking{}, accounts)

	t.Run("connect redirects", func(t *testing.T) {
		resp, err := app.Test(authed(t, "GET", "/api/v1/google", "u1", nil))
		require.NoError(t, err)
		assert.Equal(t, 302, resp.StatusCode)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "https://accounts.example.com/auth"))
	})

	t.Run("callback is public", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/google/callback?code=c&state=good", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("callback bad state", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/google/callback?code=c&state=bad", nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("push token", func(t *testing.T) {
		resp, err := app.Test(authed(t, "POST", "/api/v1/users/me/push-token", "u1",
			strings.NewReader(`{"expoToken":"ExponentPushToken[x]"}`)))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, []string{"ExponentPushToken[x]"}, accounts.tokens)
	})

	t.Run("push token missing", func(t *testing.T) {
		resp, err := app.Test(authed(t, "POST", "/api/v1/users/me/push-token", "u1", strings.NewReader(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})
}

func TestReady(t *testing.T) {
	healthy := PingFunc(func(ctx context.Context) error { return nil })
	down := PingFunc(func(ctx context.Context) error { return context.DeadlineExceeded })

	tests := []struct {
		name   string
		checks map[string]HealthChecker
		status int
	}{
		{"all healthy", map[string]HealthChecker{"mongodb": healthy, "redis": nil}, 200},
		{"one down", map[string]HealthChecker{"mongodb": healthy, "postgres": down}, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHealthHandler(tt.checks).Register(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestMetrics(t *testing.T) {
	reg := metrics.NewRegistry(10)
	reg.Record("GET /api/v1/jobs/", 4*time.Millisecond)

	app := fiber.New()
	NewHealthHandler(nil).
		WithLatencies(reg).
		WithStats("worker_pool", func() any { return map[string]int{"processed": 3} }).
		Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var body struct {
		Latency    map[string]map[string]any `json:"latency"`
		WorkerPool map[string]int            `json:"worker_pool"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 4.0, body.Latency["GET /api/v1/jobs/"]["p50_ms"])
	assert.Equal(t, 3, body.WorkerPool["processed"])
}
