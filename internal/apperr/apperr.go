// Package apperr is the error taxonomy shared by the evaluation, quality
// and pipeline services. Each Kind maps to exactly one HTTP status; the
// Code carried alongside it is what clients branch on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotFound
	KindComplianceBlock
	KindGovernanceBlock
	KindPolicyBlock
	KindDataRequired
	KindUpstream
	KindPersistence
	KindConflict
)

// Machine-readable codes returned in error bodies.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeComplianceBlock   = "COMPLIANCE_BLOCK"
	CodeGovernanceBlock   = "GOVERNANCE_BLOCK"
	CodePolicyBlock       = "POLICY_BLOCK"
	CodeDataRequired      = "DATA_REQUIRED"
	CodeUpstreamRateLimit = "UPSTREAM_RATE_LIMITED"
	CodeUpstreamQuota     = "UPSTREAM_QUOTA_EXCEEDED"
	CodeUpstreamTimeout   = "UPSTREAM_TIMEOUT"
	CodeUpstream          = "UPSTREAM_ERROR"
	CodePersistence       = "PERSISTENCE_ERROR"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	TraceID string
	// Details is the reason list for blocks and violations.
	Details []string
	// Missing lists the assessments a compliance block is waiting on.
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code for the error's kind and code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindComplianceBlock, KindPolicyBlock:
		return http.StatusUnavailableForLegalReasons
	case KindGovernanceBlock:
		return http.StatusForbidden
	case KindDataRequired:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		switch e.Code {
		case CodeUpstreamRateLimit:
			return http.StatusTooManyRequests
		case CodeUpstreamTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// WithTrace returns e with its trace id set.
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(err error) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Err: err}
}

// ComplianceBlock refuses a system that lacks required assessments.
func ComplianceBlock(traceID string, missing []string) *Error {
	return &Error{
		Kind:    KindComplianceBlock,
		Code:    CodeComplianceBlock,
		Message: "required assessments are missing",
		TraceID: traceID,
		Missing: missing,
	}
}

// GovernanceBlock refuses a system that is not approved for use.
func GovernanceBlock(traceID, status string) *Error {
	return &Error{
		Kind:    KindGovernanceBlock,
		Code:    CodeGovernanceBlock,
		Message: "system is not approved (status: " + status + ")",
		TraceID: traceID,
	}
}

// PolicyBlock refuses a payload an engine blocked.
func PolicyBlock(traceID string, details []string) *Error {
	return &Error{
		Kind:    KindPolicyBlock,
		Code:    CodePolicyBlock,
		Message: "request blocked by policy",
		TraceID: traceID,
		Details: details,
	}
}

func DataRequired(err error) *Error {
	return &Error{Kind: KindDataRequired, Code: CodeDataRequired, Message: "a real data sample is required", Err: err}
}

func Upstream(code string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: "generation backend failed", Err: err}
}

func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodePersistence, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal when it is unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
