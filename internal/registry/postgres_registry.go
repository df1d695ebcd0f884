package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SystemStore abstracts DB queries for testability.
type SystemStore interface {
	LookupSystem(ctx context.Context, systemID string) (*systemRow, error)
	CompletedAssessments(ctx context.Context, systemID string) ([]string, error)
}

type systemRow struct {
	ID                  string
	Name                string
	Endpoint            sql.NullString
	Provider            sql.NullString
	Model               sql.NullString
	CredentialEnv       sql.NullString
	ApprovalStatus      string
	RequiredAssessments sql.NullString // comma separated
}

// sqlSystemStore is the real implementation using *sql.DB.
type sqlSystemStore struct {
	db *sql.DB
}

func (s *sqlSystemStore) LookupSystem(ctx context.Context, systemID string) (*systemRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, endpoint, provider, model, credential_env,
		       approval_status, required_assessments
		FROM ai_systems
		WHERE id = $1
	`, systemID)

	var r systemRow
	if err := row.Scan(
		&r.ID, &r.Name, &r.Endpoint, &r.Provider, &r.Model, &r.CredentialEnv,
		&r.ApprovalStatus, &r.RequiredAssessments,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlSystemStore) CompletedAssessments(ctx context.Context, systemID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT assessment_type
		FROM system_assessments
		WHERE system_id = $1 AND status = 'completed'
		ORDER BY assessment_type
	`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PostgresRegistry fetches systems from the ai_systems table.
type PostgresRegistry struct {
	store  SystemStore
	cache  *SystemCache
	logger *zap.Logger
}

// PostgresRegistryConfig configures the PostgresRegistry.
type PostgresRegistryConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresRegistry creates a new PostgresRegistry.
func NewPostgresRegistry(cfg PostgresRegistryConfig) *PostgresRegistry {
	return newPostgresRegistryWithStore(&sqlSystemStore{db: cfg.DB}, cfg.CacheTTL, cfg.Logger)
}

// newPostgresRegistryWithStore creates a registry with a custom store (for testing).
func newPostgresRegistryWithStore(store SystemStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresRegistry {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &PostgresRegistry{
		store:  store,
		cache:  NewSystemCache(cacheTTL),
		logger: logger,
	}
}

func (r *PostgresRegistry) GetSystem(ctx context.Context, systemID string) (*System, error) {
	res := r.cache.Get(systemID)
	if res.Hit {
		if res.NeedsRefresh {
			go r.refreshInBackground(systemID)
		}
		return res.System, nil
	}

	sys, err := r.fetchFromDB(ctx, systemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.cache.Set(systemID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetSystem: %w", err)
	}

	r.cache.Set(systemID, sys)
	return sys, nil
}

func (r *PostgresRegistry) fetchFromDB(ctx context.Context, systemID string) (*System, error) {
	row, err := r.store.LookupSystem(ctx, systemID)
	if err != nil {
		return nil, err
	}
	completed, err := r.store.CompletedAssessments(ctx, systemID)
	if err != nil {
		return nil, err
	}
	sys := parseSystemRow(row)
	sys.CompletedAssessments = completed
	return sys, nil
}

func (r *PostgresRegistry) refreshInBackground(systemID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sys, err := r.fetchFromDB(ctx, systemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.cache.Set(systemID, nil)
			return
		}
		r.cache.Release(systemID)
		r.logger.Warn("background system registry refresh failed",
			zap.String("system_id", systemID),
			zap.Error(err),
		)
		return
	}
	r.cache.Set(systemID, sys)
}

func parseSystemRow(row *systemRow) *System {
	sys := &System{
		ID:             row.ID,
		Name:           row.Name,
		Provider:       row.Provider.String,
		Model:          row.Model.String,
		ApprovalStatus: ApprovalStatus(row.ApprovalStatus),
	}
	if row.Endpoint.Valid {
		sys.Endpoint = row.Endpoint.String
	}
	if row.CredentialEnv.Valid {
		sys.CredentialEnv = row.CredentialEnv.String
	}
	if row.RequiredAssessments.Valid {
		for _, a := range strings.Split(row.RequiredAssessments.String, ",") {
			if a = strings.TrimSpace(a); a != "" {
				sys.RequiredAssessments = append(sys.RequiredAssessments, a)
			}
		}
	}
	return sys
}
