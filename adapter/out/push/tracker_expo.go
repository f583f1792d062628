package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

const (
	DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"

	// Expo accepts at most this many messages per request.
	maxMessagesPerExpoRequest = 100
)

// IsExpoToken reports whether token was issued by Expo's push service
// rather than FCM.
func IsExpoToken(token string) bool {
	if !strings.HasSuffix(token, "]") {
		return false
	}
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoClient posts messages to the Expo push API.
type ExpoClient struct {
	http        *http.Client
	endpoint    string
	accessToken string
}

// NewExpoClient builds a client. An empty endpoint uses Expo's public API;
// accessToken is only needed when the Expo project enforces push security.
func NewExpoClient(httpClient *http.Client, endpoint, accessToken string) *ExpoClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultExpoEndpoint
	}
	return &ExpoClient{http: httpClient, endpoint: endpoint, accessToken: accessToken}
}

// send returns one ticket per message, in order.
func (c *ExpoClient) send(ctx context.Context, messages []expoMessage) ([]expoTicket, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode expo messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read expo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expo returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded expoResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode expo response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("expo rejected request: %s: %s", decoded.Errors[0].Code, decoded.Errors[0].Message)
	}
	if len(decoded.Data) != len(messages) {
		return nil, fmt.Errorf("expo returned %d tickets for %d messages", len(decoded.Data), len(messages))
	}
	return decoded.Data, nil
}
