// Package scheduler starts quality pipeline runs on the cron schedules
// carried by quality contracts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/triage-ai/warden/internal/pipeline"
	"github.com/triage-ai/warden/internal/quality"
)

// DefaultResync is how often contract schedules are reloaded.
const DefaultResync = time.Minute

// ContractSource lists contracts that carry a schedule.
type ContractSource interface {
	ScheduledContracts(ctx context.Context) ([]*quality.Contract, error)
}

// Starter launches a pipeline run.
type Starter interface {
	Start(ctx context.Context, req pipeline.StartRequest) (string, error)
}

// Parser accepts five- or six-field expressions and descriptors such as
// "@hourly".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type entry struct {
	id       cron.EntryID
	schedule string
	version  int
}

// Scheduler keeps one cron entry per scheduled dataset.
type Scheduler struct {
	cron    *cron.Cron
	source  ContractSource
	starter Starter
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]entry
	ctx     context.Context
}

func New(source ContractSource, starter Starter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(Parser)),
		source:  source,
		starter: starter,
		logger:  logger,
		entries: make(map[string]entry),
		ctx:     context.Background(),
	}
}

// Run loads schedules, starts the cron loop and reloads schedules every
// resync until ctx is done.
func (s *Scheduler) Run(ctx context.Context, resync time.Duration) error {
	if resync <= 0 {
		resync = DefaultResync
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		s.logger.Error("initial schedule load failed", zap.Error(err))
	}
	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	ticker := time.NewTicker(resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("schedule resync failed", zap.Error(err))
			}
		}
	}
}

// Sync reconciles cron entries with the current contracts. Contracts whose
// expression does not parse are skipped and logged.
func (s *Scheduler) Sync(ctx context.Context) error {
	contracts, err := s.source.ScheduledContracts(ctx)
	if err != nil {
		return fmt.Errorf("Sync: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]*quality.Contract, len(contracts))
	for _, c := range contracts {
		want[c.DatasetID] = c
	}

	for id, e := range s.entries {
		c, ok := want[id]
		if !ok || c.Schedule != e.schedule || c.Version != e.version {
			s.cron.Remove(e.id)
			delete(s.entries, id)
		}
	}

	for id, c := range want {
		if _, ok := s.entries[id]; ok {
			continue
		}
		sched, err := Parser.Parse(c.Schedule)
		if err != nil {
			s.logger.Warn("invalid contract schedule",
				zap.String("dataset_id", id),
				zap.String("schedule", c.Schedule),
				zap.Error(err),
			)
			continue
		}
		datasetID, version := id, c.Version
		eid := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(datasetID, version) }))
		s.entries[id] = entry{id: eid, schedule: c.Schedule, version: version}
		s.logger.Info("scheduled quality pipeline",
			zap.String("dataset_id", id),
			zap.String("schedule", c.Schedule),
		)
	}
	return nil
}

// Scheduled returns the dataset ids that currently have an entry.
func (s *Scheduler) Scheduled() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.schedule
	}
	return out
}

func (s *Scheduler) fire(datasetID string, version int) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	runID, err := s.starter.Start(ctx, pipeline.StartRequest{
		DatasetID:      datasetID,
		DatasetVersion: fmt.Sprintf("v%d", version),
		Mode:           pipeline.ModeAtomic,
		RunType:        quality.RunScheduled,
	})
	switch {
	case errors.Is(err, pipeline.ErrOwnedElsewhere):
		s.logger.Debug("scheduled run owned by another replica", zap.String("dataset_id", datasetID))
	case err != nil:
		s.logger.Error("scheduled run failed to start", zap.String("dataset_id", datasetID), zap.Error(err))
	default:
		s.logger.Info("scheduled run started", zap.String("dataset_id", datasetID), zap.String("run_id", runID))
	}
}
