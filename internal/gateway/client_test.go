package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov/minichat/internal/domain"
)

// countingTransport fails every request and counts attempts. Used to
// prove mock mode never touches the network.
type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, errors.New("network call not allowed")
}

func history(texts ...string) []domain.Message {
	msgs := make([]domain.Message, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, domain.NewUserMessage(text))
	}
	return msgs
}

func TestCompleteMockModeSkipsNetwork(t *testing.T) {
	transport := &countingTransport{}
	client := NewClientWithHTTP(
		Config{APIKey: "sk-test", BaseURL: "https://api.openai.com/v1", Model: "gpt-3.5-turbo", UseMock: true},
		&http.Client{Transport: transport},
	)

	reply, err := client.Complete(context.Background(), history("hello there"))

	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.Zero(t, transport.calls.Load(), "mock mode must not issue network calls")
}

func TestCompleteMissingKeyFallsBackToMock(t *testing.T) {
	transport := &countingTransport{}
	client := NewClientWithHTTP(
		Config{BaseURL: "https://api.openai.com/v1", Model: "gpt-3.5-turbo"},
		&http.Client{Transport: transport},
	)

	reply, err := client.Complete(context.Background(), history("no key configured"))

	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.Zero(t, transport.calls.Load())
}

func TestCompleteMockIsDeterministic(t *testing.T) {
	client := NewClient(Config{UseMock: true, Model: "gpt-3.5-turbo", BaseURL: "x"})

	first, err := client.Complete(context.Background(), history("same question"))
	require.NoError(t, err)
	second, err := client.Complete(context.Background(), history("same question"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompleteEmptyHistory(t *testing.T) {
	client := NewClient(Config{UseMock: true})

	_, err := client.Complete(context.Background(), nil)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindMalformedRequest, gerr.Kind)
}

func TestCompleteSuccess(t *testing.T) {
	var gotBody completionRequest
	var gotAuth, gotOrg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get("OpenAI-Organization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-3.5-turbo",
		OrgID:   "org-42",
	})

	reply, err := client.Complete(context.Background(), history("hello"))

	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "org-42", gotOrg)
	assert.Equal(t, "gpt-3.5-turbo", gotBody.Model)
	assert.InDelta(t, 0.7, gotBody.Temperature, 1e-9)
	assert.Equal(t, 1000, gotBody.MaxTokens)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "hello", gotBody.Messages[0].Content)
}

func TestCompletePreservesMessageOrder(t *testing.T) {
	var gotBody completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})

	msgs := []domain.Message{
		domain.NewUserMessage("first"),
		domain.NewAssistantMessage("second"),
		domain.NewUserMessage("third"),
	}
	_, err := client.Complete(context.Background(), msgs)
	require.NoError(t, err)

	require.Len(t, gotBody.Messages, 3)
	assert.Equal(t, "first", gotBody.Messages[0].Content)
	assert.Equal(t, "assistant", gotBody.Messages[1].Role)
	assert.Equal(t, "third", gotBody.Messages[2].Content)
}

func TestCompleteStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		contains string
	}{
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"invalid api key"}}`,
			wantKind: KindAuth,
			contains: "401",
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			body:     `{"error":{"message":"forbidden"}}`,
			wantKind: KindAuth,
			contains: "403",
		},
		{
			name:     "not found",
			status:   http.StatusNotFound,
			body:     `not here`,
			wantKind: KindEndpointNotFound,
			contains: "/chat/completions",
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"rate limit exceeded"}}`,
			wantKind: KindRateLimited,
			contains: "rate limit exceeded",
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error":{"message":"upstream exploded"}}`,
			wantKind: KindProvider,
			contains: "upstream exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
			_, err := client.Complete(context.Background(), history("hello"))

			var gerr *Error
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tt.wantKind, gerr.Kind)
			assert.Contains(t, gerr.Message, tt.contains)
		})
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
	_, err := client.Complete(context.Background(), history("hello"))

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindMalformedResponse, gerr.Kind)
}

func TestCompleteUnparseableSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>definitely not json</html>`))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
	_, err := client.Complete(context.Background(), history("hello"))

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindMalformedResponse, gerr.Kind)
}

func TestCompleteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
	_, err := client.Complete(context.Background(), history("hello"))

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindNetwork, gerr.Kind)
	assert.Contains(t, gerr.Message, "check your API key")
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error as string", `{"error":"quota exhausted"}`, "quota exhausted"},
		{"error object message", `{"error":{"message":"bad model","type":"invalid_request"}}`, "bad model"},
		{"error object type only", `{"error":{"type":"invalid_request"}}`, "invalid_request"},
		{"top-level message", `{"message":"try later"}`, "try later"},
		{"unparseable body", `plain text failure`, "plain text failure"},
		{"empty fields", `{"error":{}}`, `{"error":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractErrorMessage([]byte(tt.body)))
		})
	}
}
