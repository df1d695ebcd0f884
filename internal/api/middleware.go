package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/apperr"
	"github.com/triage-ai/warden/internal/metrics"
	"github.com/triage-ai/warden/internal/pipeline"
)

// maxBodyBytes bounds request bodies, inline samples included.
const maxBodyBytes = 8 << 20

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// writeError renders err with the status of its kind. Unclassified errors
// are reported as internal without their message.
func (d *Dependencies) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		switch {
		case errors.Is(err, pipeline.ErrOwnedElsewhere):
			ae = apperr.Conflict(err)
		case errors.Is(err, pipeline.ErrClosed):
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Error: "shutting down", Code: apperr.CodeInternal})
			return
		default:
			ae = apperr.Internal(err)
		}
	}

	status := ae.HTTPStatus()
	if status >= http.StatusInternalServerError {
		d.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", ae.TraceID),
			zap.String("code", ae.Code),
			zap.Error(err),
		)
	}

	body := ErrorResp{
		Error:              publicMessage(ae),
		Code:               ae.Code,
		TraceID:            ae.TraceID,
		Details:            ae.Details,
		MissingAssessments: ae.Missing,
	}
	if ae.Kind == apperr.KindPolicyBlock {
		body.Decision = "BLOCK"
	}
	writeJSON(w, status, body)
}

// publicMessage is the human-readable error text. Causes of internal and
// upstream failures stay in the logs.
func publicMessage(ae *apperr.Error) string {
	switch ae.Kind {
	case apperr.KindInternal, apperr.KindPersistence:
		return "internal error"
	case apperr.KindUpstream, apperr.KindComplianceBlock, apperr.KindGovernanceBlock, apperr.KindPolicyBlock:
		return ae.Message
	case apperr.KindConflict:
		if ae.Err != nil {
			return ae.Err.Error()
		}
		return "conflict"
	default:
		if ae.Message != "" {
			return ae.Message
		}
		return ae.Error()
	}
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)
		m.ObserveHTTP(r.Method, strconv.Itoa(sw.status), elapsed)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", elapsed),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-Id")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
