package api

import (
	"context"
	"net/http"
)

// POST /v1/incidents/{id}/acknowledge
func (d *Dependencies) handleAcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	respond(d, w, r, d.Escalations.AcknowledgeIncident)
}

// POST /v1/incidents/{id}/resolve
func (d *Dependencies) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	respond(d, w, r, d.Escalations.ResolveIncident)
}

// POST /v1/review-items/{id}/acknowledge
func (d *Dependencies) handleAcknowledgeReviewItem(w http.ResponseWriter, r *http.Request) {
	respond(d, w, r, d.Escalations.AcknowledgeReviewItem)
}

// POST /v1/review-items/{id}/resolve
func (d *Dependencies) handleResolveReviewItem(w http.ResponseWriter, r *http.Request) {
	respond(d, w, r, d.Escalations.ResolveReviewItem)
}

func respond[T any](d *Dependencies, w http.ResponseWriter, r *http.Request, move func(context.Context, string) (T, error)) {
	out, err := move(r.Context(), r.PathValue("id"))
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
