package registry

import "slices"

// ApprovalStatus is the governance state of a registered AI system.
type ApprovalStatus string

const (
	StatusApproved  ApprovalStatus = "approved"
	StatusPending   ApprovalStatus = "pending"
	StatusRejected  ApprovalStatus = "rejected"
	StatusSuspended ApprovalStatus = "suspended"
)

// Assessment types every system must have completed before it may serve
// traffic.
const (
	AssessmentRisk   = "risk"
	AssessmentImpact = "impact"
)

// DefaultRequiredAssessments applies when a system row does not list its own.
var DefaultRequiredAssessments = []string{AssessmentRisk, AssessmentImpact}

// System is a registered AI deployment.
// Loaded from the ai_systems and system_assessments tables.
type System struct {
	ID             string
	Name           string
	Endpoint       string
	Provider       string // "openai", "azure", ...
	Model          string
	CredentialEnv  string // env var holding the provider credential
	ApprovalStatus ApprovalStatus

	RequiredAssessments  []string
	CompletedAssessments []string
}

// MissingAssessments lists required assessment types that are not on file,
// in required order.
func (s *System) MissingAssessments() []string {
	required := s.RequiredAssessments
	if len(required) == 0 {
		required = DefaultRequiredAssessments
	}
	var missing []string
	for _, a := range required {
		if !slices.Contains(s.CompletedAssessments, a) {
			missing = append(missing, a)
		}
	}
	return missing
}

// Approved reports whether the system may serve traffic.
func (s *System) Approved() bool {
	return s.ApprovalStatus == StatusApproved
}
