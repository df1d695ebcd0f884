package api

import (
	"net/http"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/gateway"
)

// TraceHeader lets callers supply a trace id without putting it in the body.
const TraceHeader = "X-Trace-Id"

// POST /v1/evaluate
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := readJSON(w, r, &req); err != nil {
		d.writeError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	if req.TraceID == "" {
		req.TraceID = r.Header.Get(TraceHeader)
	}

	resp, err := d.Gateway.Evaluate(r.Context(), gateway.Request{
		SystemID: req.SystemID,
		Messages: req.Messages,
		TraceID:  req.TraceID,
	})
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Response: resp.Generated,
		Meta: EvaluateMeta{
			Decision:  resp.Decision.String(),
			LatencyMs: float64(resp.Latency.Microseconds()) / 1000,
			TraceID:   resp.TraceID,
		},
	})
}
