// Package provider contains deterministic provider transports. Real network
// clients are external collaborators; the engine only sees ports.Provider.
package provider

import (
	"context"
	"sync"

	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/core/ports"
)

// Response configures one turn of a scripted provider.
type Response struct {
	Text string
	Err  error
}

// Scripted is a deterministic provider that replays a fixed response
// sequence. It backs tests and offline cache priming.
type Scripted struct {
	name      string
	mu        sync.Mutex
	index     int
	responses []Response
}

var _ ports.Provider = (*Scripted)(nil)

// NewScripted creates a scripted provider with the given response sequence.
func NewScripted(name string, responses ...Response) *Scripted {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &Scripted{name: name, responses: cloned}
}

// Name returns the provider's policy name.
func (s *Scripted) Name() string { return s.name }

// Invoke returns the next scripted response, or an error once the script
// is exhausted.
func (s *Scripted) Invoke(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= len(s.responses) {
		return "", zerr.With(zerr.New("provider script exhausted"), "provider", s.name)
	}
	current := s.responses[s.index]
	s.index++
	if current.Err != nil {
		return "", current.Err
	}
	return current.Text, nil
}

// Echo is a provider that deterministically derives its response from the
// prompt. Useful for exercising subcalls without any scripted material.
type Echo struct {
	name string
}

var _ ports.Provider = (*Echo)(nil)

// NewEcho creates an echo provider.
func NewEcho(name string) *Echo { return &Echo{name: name} }

// Name returns the provider's policy name.
func (e *Echo) Name() string { return e.name }

// Invoke echoes the prompt back prefixed with the provider name.
func (e *Echo) Invoke(_ context.Context, prompt string) (string, error) {
	return e.name + ": " + prompt, nil
}
