// Package gateway translates a message history into one provider
// completion call and a classified outcome. The client is stateless per
// invocation: one request, no retries, no streaming.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/akarpov/minichat/internal/domain"
)

const (
	// temperature is the fixed sampling temperature for every request.
	temperature = 0.7
	// maxTokens is the fixed output length cap for every request.
	maxTokens = 1000
	// maxResponseSize caps how much of a provider response body is read.
	maxResponseSize = 10 << 20
)

// Config holds the provider settings for one client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	OrgID   string
	UseMock bool
}

// Client performs completion calls against an OpenAI-compatible endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a completion client.
func NewClient(cfg Config) *Client {
	return NewClientWithHTTP(cfg, &http.Client{})
}

// NewClientWithHTTP creates a completion client using a caller-supplied
// HTTP client. Used by tests to stub the transport.
func NewClientWithHTTP(cfg Config, httpClient *http.Client) *Client {
	return &Client{cfg: cfg, httpClient: httpClient}
}

// wireMessage is the {role, content} pair sent to the provider.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionRequest is the provider request body.
type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// completionResponse is the expected success body shape.
type completionResponse struct {
	Choices []struct {
		Message *wireMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the full ordered message history to the provider and
// returns the reply text. Failures come back as *Error with a
// classification and user-safe text.
//
// In mock mode (explicit flag or no API key configured) no network call
// is made and a deterministic placeholder reply is returned.
func (c *Client) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	if len(messages) == 0 {
		return "", &Error{Kind: KindMalformedRequest, Message: "message list is empty"}
	}

	if c.cfg.UseMock || c.cfg.APIKey == "" {
		return mockReply(messages), nil
	}

	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, wireMessage{Role: msg.Role.String(), Content: msg.Content})
	}

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    wire,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.OrgID != "" {
		req.Header.Set("OpenAI-Organization", c.cfg.OrgID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Completion request failed", "endpoint", endpoint, "error", err)
		return "", &Error{
			Kind: KindNetwork,
			Message: fmt.Sprintf(
				"API call failed: %v. Possible fixes: 1) check your API key 2) verify the endpoint 3) check network connectivity",
				err),
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &Error{
			Kind:    KindNetwork,
			Message: fmt.Sprintf("API call failed while reading the response: %v", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.classifyStatus(resp.StatusCode, raw, endpoint)
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		slog.Error("Unparseable provider response", "status", resp.StatusCode, "error", err)
		return "", &Error{
			Kind:    KindMalformedResponse,
			Message: "The API returned a response that could not be parsed.",
		}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		slog.Error("Unexpected provider response shape", "status", resp.StatusCode)
		return "", &Error{
			Kind:    KindMalformedResponse,
			Message: "The API response was not in the expected format.",
		}
	}

	return parsed.Choices[0].Message.Content, nil
}

// classifyStatus maps a non-success provider status to a classified error
// whose message is safe to show as assistant text.
func (c *Client) classifyStatus(status int, raw []byte, endpoint string) *Error {
	detail := extractErrorMessage(raw)
	slog.Error("Provider returned error status", "status", status, "detail", detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{
			Kind:    KindAuth,
			Message: fmt.Sprintf("API authentication failed (%d). Check your API key and endpoint.", status),
		}
	case status == http.StatusNotFound:
		return &Error{
			Kind:    KindEndpointNotFound,
			Message: fmt.Sprintf("API endpoint not found (404). Current endpoint: %s", endpoint),
		}
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:    KindRateLimited,
			Message: fmt.Sprintf("API rate limit exceeded (429). Try again shortly. Details: %s", detail),
		}
	default:
		return &Error{
			Kind:    KindProvider,
			Message: fmt.Sprintf("API call failed (%d). Error message: %s", status, detail),
		}
	}
}

// errorEnvelope covers the known provider error body shapes. The "error"
// field may be a bare string or an object.
type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type errorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// extractErrorMessage pulls a human-readable message out of a provider
// error body. Preference order: error as string, error.message,
// error.type, top-level message, raw body text.
func extractErrorMessage(raw []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return string(raw)
	}

	if len(env.Error) > 0 {
		var asString string
		if err := json.Unmarshal(env.Error, &asString); err == nil && asString != "" {
			return asString
		}
		var asObject errorObject
		if err := json.Unmarshal(env.Error, &asObject); err == nil {
			if asObject.Message != "" {
				return asObject.Message
			}
			if asObject.Type != "" {
				return asObject.Type
			}
		}
	}

	if env.Message != "" {
		return env.Message
	}
	return string(raw)
}
