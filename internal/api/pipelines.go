package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/pipeline"
)

// POST /v1/pipelines/{dataset_id}/run
func (d *Dependencies) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("dataset_id")

	// The body is optional.
	var req StartPipelineRequest
	if err := readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		d.writeError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	mode, ok := pipeline.ParseMode(req.ExecutionMode)
	if !ok {
		d.writeError(w, r, apperr.BadRequest("execution_mode must be streamed or atomic"))
		return
	}

	runID, err := d.Pipelines.Start(r.Context(), pipeline.StartRequest{
		DatasetID:       datasetID,
		DatasetVersion:  req.DatasetVersion,
		Mode:            mode,
		LastExecutionTS: req.LastExecutionTS,
	})
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartPipelineResponse{RunID: runID})
}

// GET /v1/pipelines/{dataset_id}
func (d *Dependencies) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	state, err := d.Pipelines.Snapshot(r.Context(), r.PathValue("dataset_id"))
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// DELETE /v1/pipelines/{dataset_id}
func (d *Dependencies) handleResetPipeline(w http.ResponseWriter, r *http.Request) {
	if err := d.Pipelines.Reset(r.Context(), r.PathValue("dataset_id")); err != nil {
		d.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/pipelines/{dataset_id}/records
func (d *Dependencies) handlePublishRecord(w http.ResponseWriter, r *http.Request) {
	if d.Records == nil {
		d.writeError(w, r, apperr.NotFound("record publishing is not enabled"))
		return
	}

	var req PublishRecordRequest
	if err := readJSON(w, r, &req); err != nil {
		d.writeError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	rec := pipeline.Record{
		ID:        req.ID,
		DatasetID: r.PathValue("dataset_id"),
		RunID:     req.RunID,
		Kind:      req.Kind,
		Status:    req.Status,
		Message:   req.Message,
		Payload:   req.Payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.validate.Struct(rec); err != nil {
		d.writeError(w, r, apperr.BadRequest("%v", err))
		return
	}
	if !rec.Kind.Valid() {
		d.writeError(w, r, apperr.BadRequest("unknown record kind %q", rec.Kind))
		return
	}

	if err := d.Records.Publish(r.Context(), rec); err != nil {
		d.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
