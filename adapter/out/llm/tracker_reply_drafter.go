// Package llm drafts auto-reply bodies with an OpenAI-compatible model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tracker_server/core/port/out"
)

const DefaultModel = "gpt-4o-mini"

var ErrEmptyCompletion = errors.New("model returned no reply text")

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// ReplyDrafter implements out.TextGenerator.
type ReplyDrafter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

func NewReplyDrafter(cfg ClientConfig) *ReplyDrafter {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 256
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &ReplyDrafter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		timeout:     cfg.Timeout,
	}
}

func (d *ReplyDrafter) GenerateReply(ctx context.Context, in *out.ReplyPrompt) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		MaxTokens:   d.maxTokens,
		Temperature: d.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildReplyPrompt(in),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func buildReplyPrompt(in *out.ReplyPrompt) string {
	var b strings.Builder
	b.WriteString("Write a polite, professional reply acknowledging a job rejection.")
	if name := strings.TrimSpace(in.SenderName); name != "" {
		b.WriteString(" My name is ")
		b.WriteString(name)
		b.WriteString(".")
	}
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Max 80 words\n")
	b.WriteString("- No questions\n")
	b.WriteString("- No promises\n")
	b.WriteString("- Neutral corporate tone\n\n")
	b.WriteString("Company: ")
	b.WriteString(in.Company)
	b.WriteString("\nRole: ")
	b.WriteString(in.Role)
	b.WriteString("\n\nReturn ONLY the email body text.")
	return b.String()
}

var _ out.TextGenerator = (*ReplyDrafter)(nil)
