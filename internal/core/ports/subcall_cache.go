package ports

import "github.com/loomworks/loom/internal/core/domain"

// SubcallCache is the content-addressable store for subcall responses,
// keyed by request hash.
//
//go:generate mockgen -source=subcall_cache.go -destination=mocks/mock_subcall_cache.go -package=mocks
type SubcallCache interface {
	// Get returns the entry for the given request hash, if present.
	Get(requestHash string) (*domain.CacheEntry, bool)

	// Put appends the entry to the log and updates the index.
	Put(entry domain.CacheEntry) error
}
