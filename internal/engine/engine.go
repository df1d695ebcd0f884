package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrEngineTimeout is returned when a phase does not finish before the
// runner's deadline. No partial verdict is produced.
var ErrEngineTimeout = errors.New("engine evaluation timed out")

// PhaseResult is the outcome of running every engine against one payload.
type PhaseResult struct {
	Phase    Phase
	Scores   []*EngineScore
	Combined CombinedVerdict
	Latency  time.Duration
}

// Runner fans a payload out to all registered engines in parallel and
// combines their scores into a verdict.
type Runner struct {
	engines []Engine
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner creates a runner with the given engines and per-phase timeout.
// Engine order is significant: it decides the contributing engine on ties.
func NewRunner(engines []Engine, timeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		engines: engines,
		timeout: timeout,
		logger:  logger,
	}
}

// Engines returns the registered engine names in order.
func (r *Runner) Engines() []string {
	names := make([]string, len(r.engines))
	for i, e := range r.engines {
		names[i] = e.Name()
	}
	return names
}

// engineOutput holds a single engine's result alongside its position.
type engineOutput struct {
	idx   int
	name  string
	score *EngineScore
	err   error
}

// Evaluate runs all engines in parallel against text and returns their
// scores in registration order together with the combined verdict.
//
// Any engine error or a phase timeout fails the whole evaluation: callers
// must treat an error as "no decision" and refuse the request.
func (r *Runner) Evaluate(ctx context.Context, phase Phase, text string) (*PhaseResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := make(chan engineOutput, len(r.engines))

	for i, eng := range r.engines {
		go func(idx int, e Engine) {
			score, err := e.Evaluate(ctx, text)
			ch <- engineOutput{idx: idx, name: e.Name(), score: score, err: err}
		}(i, eng)
	}

	scores := make([]*EngineScore, len(r.engines))
	for remaining := len(r.engines); remaining > 0; remaining-- {
		select {
		case out := <-ch:
			if out.err != nil {
				r.logger.Warn("engine error",
					zap.String("engine", out.name),
					zap.String("phase", phase.String()),
					zap.Error(out.err),
				)
				return nil, fmt.Errorf("engine %s (%s phase): %w", out.name, phase, out.err)
			}
			if out.score == nil {
				return nil, fmt.Errorf("engine %s (%s phase): no score returned", out.name, phase)
			}
			scores[out.idx] = out.score
		case <-ctx.Done():
			r.logger.Warn("engine timeout exceeded, refusing partial verdict",
				zap.String("phase", phase.String()),
				zap.Duration("timeout", r.timeout),
			)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrEngineTimeout
			}
			return nil, ctx.Err()
		}
	}

	return &PhaseResult{
		Phase:    phase,
		Scores:   scores,
		Combined: Combine(scores),
		Latency:  time.Since(start),
	}, nil
}
