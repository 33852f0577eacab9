package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"autotrader/internal/logger"

	"github.com/go-resty/resty/v2"
)

// Client performs one raw completion against a single vendor.
type Client interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, DeepSeek, Qwen, local gateways).
type OpenAIClient struct {
	name   string
	model  string
	apiKey string
	client *resty.Client
}

type OpenAIClientConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Headers map[string]string
}

func NewOpenAIClient(cfg OpenAIClientConfig) *OpenAIClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	// Tolerate configs that already carry the full endpoint path.
	base = strings.TrimSuffix(base, "/chat/completions")

	client := resty.New()
	client.SetBaseURL(base)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return &OpenAIClient{name: cfg.Name, model: cfg.Model, apiKey: cfg.APIKey, client: client}
}

func (c *OpenAIClient) Name() string { return c.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	var out chatResponse
	var apiErr chatError
	logger.Debugf("[AI] POST %s/chat/completions model=%s key=%s", c.client.BaseURL, c.model, maskKey(c.apiKey))
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.model, Messages: messages, Temperature: 0.3}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%s request: %v: %w", c.name, err, ErrProviderRequestFailed)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(apiErr.Error.Message)
		if msg == "" {
			msg = resp.Status()
		}
		if isQuotaResponse(resp.StatusCode(), apiErr) {
			return "", fmt.Errorf("%s status=%d: %s: %w", c.name, resp.StatusCode(), msg, ErrProviderQuota)
		}
		return "", fmt.Errorf("%s status=%d: %s: %w", c.name, resp.StatusCode(), msg, ErrProviderRequestFailed)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s returned empty choices: %w", c.name, ErrProviderRequestFailed)
	}
	return out.Choices[0].Message.Content, nil
}

// isQuotaResponse separates account quota exhaustion from plain rate
// limiting; only the former should burn the local allowance.
func isQuotaResponse(status int, e chatError) bool {
	if status != http.StatusTooManyRequests && status != http.StatusPaymentRequired {
		return false
	}
	if status == http.StatusPaymentRequired {
		return true
	}
	hay := strings.ToLower(e.Error.Type + " " + e.Error.Message + " " + fmt.Sprint(e.Error.Code))
	return strings.Contains(hay, "quota") || strings.Contains(hay, "billing") || strings.Contains(hay, "credit")
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) > 4 {
		return "****" + key[len(key)-4:]
	}
	return "****"
}
