package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
)

func completionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGenerator(baseURL string) *OpenAIGenerator {
	return NewOpenAIGenerator(OpenAIConfig{APIKey: "test-key", BaseURL: baseURL, Timeout: 5 * time.Second}, nil, zap.NewNop())
}

func conversation() Request {
	return Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hello"}},
		TraceID:  "trace-1",
	}
}

func TestOpenAIGenerator_Success(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer srv.Close()

	resp, err := newTestGenerator(srv.URL).Generate(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestOpenAIGenerator_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantHTTP int
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "slow down", "type": "requests", "code": "rate_limit_exceeded"}}`,
			wantCode: apperr.CodeUpstreamRateLimit,
			wantHTTP: http.StatusTooManyRequests,
		},
		{
			name:     "quota exceeded",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "out of credit", "type": "insufficient_quota", "code": "insufficient_quota"}}`,
			wantCode: apperr.CodeUpstreamQuota,
			wantHTTP: http.StatusBadGateway,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error": {"message": "internal", "type": "server_error"}}`,
			wantCode: apperr.CodeUpstream,
			wantHTTP: http.StatusBadGateway,
		},
		{
			name:     "gateway timeout",
			status:   http.StatusGatewayTimeout,
			body:     `{"error": {"message": "timed out", "type": "timeout"}}`,
			wantCode: apperr.CodeUpstreamTimeout,
			wantHTTP: http.StatusGatewayTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.status, tt.body)
			_, err := newTestGenerator(srv.URL).Generate(context.Background(), conversation())
			require.Error(t, err)

			ae, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindUpstream, ae.Kind)
			assert.Equal(t, tt.wantCode, ae.Code)
			assert.Equal(t, tt.wantHTTP, ae.HTTPStatus())
			assert.Equal(t, "trace-1", ae.TraceID)
		})
	}
}

func TestOpenAIGenerator_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestGenerator(srv.URL).Generate(ctx, conversation())

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUpstreamTimeout, ae.Code)
}

func TestOpenAIGenerator_NoChoices(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"id": "x", "object": "chat.completion", "choices": []}`)
	_, err := newTestGenerator(srv.URL).Generate(context.Background(), conversation())
	assert.ErrorIs(t, err, ErrNoChoice)
}

func TestOpenAIGenerator_CredentialFromEnv(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL}, nil, zap.NewNop())
	g.getenv = func(name string) string {
		if name == "SYS_KEY" {
			return "test-key"
		}
		return ""
	}

	req := conversation()
	req.CredentialEnv = "SYS_KEY"
	resp, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	req.CredentialEnv = "MISSING"
	_, err = g.Generate(context.Background(), req)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUpstream, ae.Code)
}

func TestOpenAIGenerator_RateLimiterHonoursContext(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
	g := NewOpenAIGenerator(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, RPS: 0.001, Burst: 1}, nil, zap.NewNop())

	_, err := g.Generate(context.Background(), conversation())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, conversation())
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUpstreamRateLimit, ae.Code)
}
