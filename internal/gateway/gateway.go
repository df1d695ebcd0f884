// Package gateway runs a governed generation call: registry and
// assessment checks, the input phase, generation, and the output phase.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/engine"
	"github.com/triage-ai/warden/internal/escalation"
	"github.com/triage-ai/warden/internal/generation"
	"github.com/triage-ai/warden/internal/metrics"
	"github.com/triage-ai/warden/internal/registry"
	"github.com/triage-ai/warden/internal/storage"
)

// RefusalMessage replaces generated content the output phase blocked.
const RefusalMessage = "The generated response was withheld because it violated a usage policy."

var tracer = otel.Tracer("github.com/triage-ai/warden/internal/gateway")

// PhaseEvaluator runs every engine over one payload.
type PhaseEvaluator interface {
	Evaluate(ctx context.Context, phase engine.Phase, text string) (*engine.PhaseResult, error)
}

// Escalator records blocked calls.
type Escalator interface {
	EscalateBlock(ctx context.Context, ev escalation.BlockEvent) (*escalation.Outcome, error)
}

// Request is one evaluation call.
type Request struct {
	SystemID string               `validate:"required"`
	Messages []generation.Message `validate:"required,min=1,dive"`
	TraceID  string
}

// Response is a generated reply that passed, or was redacted by, the
// output phase.
type Response struct {
	TraceID    string
	Generated  *generation.Response
	Decision   engine.Verdict
	Input      *engine.PhaseResult
	Output     *engine.PhaseResult
	Escalation *escalation.Outcome
	Latency    time.Duration
}

// Gateway wires the collaborators of an evaluation call.
type Gateway struct {
	registry  registry.Registry
	engines   PhaseEvaluator
	generator generation.Generator
	escalator Escalator
	logs      storage.RequestLogWriter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	validate  *validator.Validate

	now func() time.Time
}

// Config collects the Gateway's dependencies.
type Config struct {
	Registry  registry.Registry
	Engines   PhaseEvaluator
	Generator generation.Generator
	Escalator Escalator
	Logs      storage.RequestLogWriter
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func New(cfg Config) *Gateway {
	logs := cfg.Logs
	if logs == nil {
		logs = storage.NewLogWriter(cfg.Logger)
	}
	return &Gateway{
		registry:  cfg.Registry,
		engines:   cfg.Engines,
		generator: cfg.Generator,
		escalator: cfg.Escalator,
		logs:      logs,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Evaluate governs one call end to end. Every returned error is an
// *apperr.Error carrying the trace id.
func (g *Gateway) Evaluate(ctx context.Context, req Request) (*Response, error) {
	start := g.now()
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "gateway.Evaluate", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("trace_id", traceID),
		attribute.String("system_id", req.SystemID),
	)

	resp, err := g.evaluate(ctx, req, traceID, start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("decision", resp.Decision.String()))
	return resp, nil
}

func (g *Gateway) evaluate(ctx context.Context, req Request, traceID string, start time.Time) (*Response, error) {
	if err := g.validate.Struct(req); err != nil {
		return nil, apperr.BadRequest("invalid request: %v", err).WithTrace(traceID)
	}

	sys, err := g.registry.GetSystem(ctx, req.SystemID)
	if err != nil {
		return nil, apperr.Internal(err).WithTrace(traceID)
	}
	if sys == nil {
		return nil, apperr.NotFound("system %q is not registered", req.SystemID).WithTrace(traceID)
	}
	if missing := sys.MissingAssessments(); len(missing) > 0 {
		return nil, apperr.ComplianceBlock(traceID, missing)
	}
	if !sys.Approved() {
		return nil, apperr.GovernanceBlock(traceID, string(sys.ApprovalStatus))
	}

	resp := &Response{TraceID: traceID}

	prompt := joinMessages(req.Messages)
	resp.Input, err = g.runPhase(ctx, engine.PhaseInput, traceID, sys.ID, prompt)
	if err != nil {
		return nil, err
	}
	if resp.Input.Combined.Blocked() {
		g.escalate(ctx, traceID, sys.ID, resp.Input)
		return nil, apperr.PolicyBlock(traceID, resp.Input.Combined.Details)
	}

	resp.Generated, err = g.generator.Generate(ctx, generation.Request{
		Model:         sys.Model,
		Endpoint:      sys.Endpoint,
		CredentialEnv: sys.CredentialEnv,
		Messages:      req.Messages,
		TraceID:       traceID,
	})
	if err != nil {
		if ae, ok := apperr.As(err); ok {
			return nil, ae.WithTrace(traceID)
		}
		return nil, apperr.Upstream(apperr.CodeUpstream, err).WithTrace(traceID)
	}

	resp.Output, err = g.runPhase(ctx, engine.PhaseOutput, traceID, sys.ID, resp.Generated.Content)
	if err != nil {
		return nil, err
	}

	resp.Decision = max(resp.Input.Combined.Verdict, resp.Output.Combined.Verdict)
	if resp.Output.Combined.Blocked() {
		resp.Escalation = g.escalate(ctx, traceID, sys.ID, resp.Output)
		redacted := *resp.Generated
		redacted.Content = RefusalMessage
		redacted.FinishReason = "content_filter"
		resp.Generated = &redacted
	}

	resp.Latency = g.now().Sub(start)
	return resp, nil
}

// runPhase evaluates one phase and records its scores. Engine failures
// refuse the call: no partial verdict is ever acted on.
func (g *Gateway) runPhase(ctx context.Context, phase engine.Phase, traceID, systemID, text string) (*engine.PhaseResult, error) {
	ctx, span := tracer.Start(ctx, "gateway."+phase.String())
	defer span.End()

	res, err := g.engines.Evaluate(ctx, phase, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("engine evaluation failed, refusing call",
			zap.String("trace_id", traceID),
			zap.String("phase", phase.String()),
			zap.Error(err),
		)
		return nil, apperr.Internal(err).WithTrace(traceID)
	}

	span.SetAttributes(attribute.String("verdict", res.Combined.Verdict.String()))
	g.metrics.ObservePhase(phase.String(), res.Combined.Verdict.String(), res.Latency)
	g.logs.Write(storage.NewRequestLog(traceID, systemID, text, res, g.now().UTC()))
	return res, nil
}

// escalate records a block. Failures are logged and never change the
// verdict already computed.
func (g *Gateway) escalate(ctx context.Context, traceID, systemID string, res *engine.PhaseResult) *escalation.Outcome {
	if g.escalator == nil {
		return nil
	}
	out, err := g.escalator.EscalateBlock(ctx, escalation.BlockEvent{
		TraceID:  traceID,
		SystemID: systemID,
		Phase:    res.Phase,
		Combined: res.Combined,
		Scores:   res.Scores,
	})
	if err != nil {
		g.logger.Error("escalation failed",
			zap.String("trace_id", traceID),
			zap.String("system_id", systemID),
			zap.String("phase", res.Phase.String()),
			zap.Error(err),
		)
		return nil
	}
	return out
}

func joinMessages(msgs []generation.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}
