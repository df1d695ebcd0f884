package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/metrics"
)

// DefaultModel is used when the registry does not name one.
const DefaultModel = openai.GPT4oMini

var tracer = otel.Tracer("github.com/triage-ai/warden/internal/generation")

// ErrNoChoice is returned when the backend answers without a completion.
var ErrNoChoice = errors.New("no completion choice returned")

// OpenAIConfig configures the OpenAI-compatible generator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RPS and Burst bound outbound calls across all systems.
	RPS   float64
	Burst int
}

// OpenAIGenerator talks to any OpenAI-compatible chat completions API.
// Clients are built lazily per (base URL, credential) pair.
type OpenAIGenerator struct {
	cfg     OpenAIConfig
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger

	clients sync.Map // map[string]*openai.Client
	getenv  func(string) string
}

func NewOpenAIGenerator(cfg OpenAIConfig, m *metrics.Metrics, logger *zap.Logger) *OpenAIGenerator {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &OpenAIGenerator{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		logger:  logger,
		getenv:  os.Getenv,
	}
}

func (g *OpenAIGenerator) client(baseURL, credentialEnv string) (*openai.Client, error) {
	key := g.cfg.APIKey
	if credentialEnv != "" {
		key = g.getenv(credentialEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("no credential configured (env %q)", credentialEnv)
	}
	if baseURL == "" {
		baseURL = g.cfg.BaseURL
	}

	cacheKey := baseURL + "\x00" + key
	if c, ok := g.clients.Load(cacheKey); ok {
		return c.(*openai.Client), nil
	}

	cc := openai.DefaultConfig(key)
	if baseURL != "" {
		cc.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if g.cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: g.cfg.Timeout}
	}
	c, _ := g.clients.LoadOrStore(cacheKey, openai.NewClientWithConfig(cc))
	return c.(*openai.Client), nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (_ *Response, err error) {
	ctx, span := tracer.Start(ctx, "generation.Generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("trace_id", req.TraceID)),
	)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	client, err := g.client(req.Endpoint, req.CredentialEnv)
	if err != nil {
		return nil, g.fail(req, apperr.CodeUpstream, err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, g.fail(req, apperr.CodeUpstreamRateLimit, fmt.Errorf("rate limit: %w", err))
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	})
	if err != nil {
		return nil, g.fail(req, classify(err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, g.fail(req, apperr.CodeUpstream, ErrNoChoice)
	}

	choice := resp.Choices[0]
	return &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Role:         choice.Message.Role,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (g *OpenAIGenerator) fail(req Request, code string, err error) error {
	g.metrics.IncUpstreamError(code)
	g.logger.Warn("generation failed",
		zap.String("trace_id", req.TraceID),
		zap.String("model", req.Model),
		zap.String("code", code),
		zap.Error(err),
	)
	return apperr.Upstream(code, err).WithTrace(req.TraceID)
}

// classify maps a backend failure to an upstream error code.
func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.CodeUpstreamTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isQuota(apiErr) {
			return apperr.CodeUpstreamQuota
		}
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return apperr.CodeUpstreamRateLimit
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return apperr.CodeUpstreamTimeout
		}
		return apperr.CodeUpstream
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return apperr.CodeUpstreamRateLimit
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.CodeUpstreamTimeout
	}
	return apperr.CodeUpstream
}

func isQuota(e *openai.APIError) bool {
	if e.Type == "insufficient_quota" {
		return true
	}
	code, _ := e.Code.(string)
	return code == "insufficient_quota"
}
