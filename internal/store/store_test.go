package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/triage-ai/warden/internal/escalation"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unique", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"foreign key", &pgconn.PgError{Code: "23503"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusColumn(t *testing.T) {
	tests := []struct {
		status  escalation.Status
		want    string
		wantErr bool
	}{
		{escalation.StatusAcknowledged, "acknowledged_at", false},
		{escalation.StatusResolved, "resolved_at", false},
		{escalation.StatusOpen, "", true},
		{"reopened", "", true},
	}
	for _, tt := range tests {
		got, err := statusColumn(tt.status)
		if (err != nil) != tt.wantErr {
			t.Fatalf("statusColumn(%q) err = %v", tt.status, err)
		}
		if got != tt.want {
			t.Errorf("statusColumn(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
