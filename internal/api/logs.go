package api

import (
	"net/http"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/chread"
)

// RequestLogsResp lists the engine logs recorded for one trace.
type RequestLogsResp struct {
	TraceID string          `json:"trace_id"`
	Logs    []chread.LogRow `json:"logs"`
}

// GET /v1/request-logs/{trace_id}
func (d *Dependencies) handleGetRequestLogs(w http.ResponseWriter, r *http.Request) {
	if d.Logs == nil {
		d.writeError(w, r, apperr.NotFound("request logs are not available"))
		return
	}
	traceID := r.PathValue("trace_id")

	rows, err := d.Logs.LogsByTrace(r.Context(), traceID)
	if err != nil {
		d.writeError(w, r, apperr.Persistence(err))
		return
	}
	if len(rows) == 0 {
		d.writeError(w, r, apperr.NotFound("no request logs for trace %s", traceID))
		return
	}
	writeJSON(w, http.StatusOK, RequestLogsResp{TraceID: traceID, Logs: rows})
}
