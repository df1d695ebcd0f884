package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/chread"
	"github.com/triage-ai/warden/internal/escalation"
	"github.com/triage-ai/warden/internal/gateway"
	"github.com/triage-ai/warden/internal/metrics"
	"github.com/triage-ai/warden/internal/pipeline"
	"github.com/triage-ai/warden/internal/quality"
)

// Gateway evaluates a governed generation request.
type Gateway interface {
	Evaluate(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// QualityEvaluator computes an on-demand quality run.
type QualityEvaluator interface {
	Evaluate(ctx context.Context, req quality.Request) (*quality.Result, error)
}

// Pipelines drives per-dataset pipeline runs.
type Pipelines interface {
	Start(ctx context.Context, req pipeline.StartRequest) (string, error)
	Reset(ctx context.Context, datasetID string) error
	Snapshot(ctx context.Context, datasetID string) (pipeline.State, error)
}

// Escalations moves review items and incidents through their lifecycle.
type Escalations interface {
	AcknowledgeIncident(ctx context.Context, id string) (*escalation.Incident, error)
	ResolveIncident(ctx context.Context, id string) (*escalation.Incident, error)
	AcknowledgeReviewItem(ctx context.Context, id string) (*escalation.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id string) (*escalation.ReviewItem, error)
}

// LogReader serves the per-engine request logs of a trace.
type LogReader interface {
	LogsByTrace(ctx context.Context, traceID string) ([]chread.LogRow, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Gateway     Gateway
	Quality     QualityEvaluator
	Pipelines   Pipelines
	Records     pipeline.Publisher
	Escalations Escalations
	Logs        LogReader // nil if ClickHouse unavailable
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	validate *validator.Validate
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.validate = validator.New()

	mux := http.NewServeMux()

	// Governed generation
	mux.HandleFunc("POST /v1/evaluate", deps.handleEvaluate)

	// Data quality
	mux.HandleFunc("POST /v1/evaluate-quality", deps.handleEvaluateQuality)

	// Pipelines
	mux.HandleFunc("POST /v1/pipelines/{dataset_id}/run", deps.handleStartPipeline)
	mux.HandleFunc("GET /v1/pipelines/{dataset_id}", deps.handleGetPipeline)
	mux.HandleFunc("DELETE /v1/pipelines/{dataset_id}", deps.handleResetPipeline)
	mux.HandleFunc("POST /v1/pipelines/{dataset_id}/records", deps.handlePublishRecord)

	// Escalations
	mux.HandleFunc("POST /v1/incidents/{id}/acknowledge", deps.handleAcknowledgeIncident)
	mux.HandleFunc("POST /v1/incidents/{id}/resolve", deps.handleResolveIncident)
	mux.HandleFunc("POST /v1/review-items/{id}/acknowledge", deps.handleAcknowledgeReviewItem)
	mux.HandleFunc("POST /v1/review-items/{id}/resolve", deps.handleResolveReviewItem)

	// Request logs
	mux.HandleFunc("GET /v1/request-logs/{trace_id}", deps.handleGetRequestLogs)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	return corsMiddleware(requestLogging(mux, deps.Logger, deps.Metrics))
}
