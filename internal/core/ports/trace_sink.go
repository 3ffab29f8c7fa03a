package ports

import "github.com/loomworks/loom/internal/core/domain"

// TraceSink receives append-only trace events. Implementations must preserve
// append order; the trace is the authoritative record of what a run did.
//
//go:generate mockgen -source=trace_sink.go -destination=mocks/mock_trace_sink.go -package=mocks
type TraceSink interface {
	Append(ev domain.TraceEvent) error
}
