// Package ports defines the core interfaces of the engine.
package ports

import "context"

// Provider is the transport for one external subcall provider. Concrete
// network clients live outside the engine; the engine only requires a
// blocking, context-aware invocation.
//
//go:generate mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks
type Provider interface {
	// Name returns the provider's policy name.
	Name() string

	// Invoke sends the prompt and returns the response text.
	// The context carries the per-attempt timeout configured in the task limits.
	Invoke(ctx context.Context, prompt string) (string, error)
}
