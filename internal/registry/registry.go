package registry

import "context"

// Registry provides registered AI systems.
type Registry interface {
	// GetSystem returns the System for an id, or nil if it is not
	// registered.
	GetSystem(ctx context.Context, systemID string) (*System, error)
}
