package engine

import (
	"context"
)

// Engine is the interface every content evaluator must implement.
// Implementations must be stateless and safe for concurrent use.
type Engine interface {
	// Name returns the engine's unique identifier (e.g., "privacy").
	Name() string

	// Category returns the concern this engine covers.
	Category() Category

	// Evaluate scores the given text. Must respect ctx deadline and
	// return ctx.Err() if the context is cancelled mid-scan.
	Evaluate(ctx context.Context, text string) (*EngineScore, error)
}
