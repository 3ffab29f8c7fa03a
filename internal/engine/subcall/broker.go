// Package subcall brokers external model calls for subcalls-mode runs.
// Every call flows through the budget gate, the provider policy and the
// cache before any provider transport is touched.
package subcall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

// Broker resolves one task's subcalls. It is not safe for concurrent use;
// the executor drives it from a single goroutine.
type Broker struct {
	policy    domain.ProviderPolicy
	limits    domain.Limits
	mode      domain.CacheMode
	cache     ports.SubcallCache
	providers map[string]ports.Provider
	sink      ports.TraceSink
	logger    ports.Logger
	runID     string

	iterCount int
	total     int
	hashes    []string
}

func New(
	policy domain.ProviderPolicy,
	limits domain.Limits,
	mode domain.CacheMode,
	cache ports.SubcallCache,
	providers map[string]ports.Provider,
	sink ports.TraceSink,
	logger ports.Logger,
	runID string,
) *Broker {
	return &Broker{
		policy:    policy,
		limits:    limits,
		mode:      mode,
		cache:     cache,
		providers: providers,
		sink:      sink,
		logger:    logger,
		runID:     runID,
	}
}

// BeginIteration resets the per-iteration budget counter.
func (b *Broker) BeginIteration() { b.iterCount = 0 }

// RestoreTotals seeds the running counters from persisted executor state
// when a run is resumed.
func (b *Broker) RestoreTotals(total int, hashes []string) {
	b.total = total
	b.hashes = append([]string(nil), hashes...)
}

// Totals returns the number of completed subcalls and their ordered
// response hashes.
func (b *Broker) Totals() (int, []string) {
	out := make([]string, len(b.hashes))
	copy(out, b.hashes)
	return b.total, out
}

// Query resolves one subcall. An explicit provider name pins the call to
// that provider with no fallback; an empty name uses the policy's
// candidate order. The budgets are literal caps, so a limit of zero
// forbids subcalls entirely.
func (b *Broker) Query(ctx context.Context, prompt, explicit string) (domain.SubcallResult, error) {
	if b.iterCount >= b.limits.MaxSubcallsPerIter {
		return domain.SubcallResult{}, zerr.With(domain.Annotate(domain.ErrSubcallBudgetExceeded,
			"scope", "iteration"), "limit", b.limits.MaxSubcallsPerIter)
	}
	if b.total >= b.limits.MaxSubcallsTotal {
		return domain.SubcallResult{}, zerr.With(domain.Annotate(domain.ErrSubcallBudgetExceeded,
			"scope", "run"), "limit", b.limits.MaxSubcallsTotal)
	}

	var candidates []string
	if explicit != "" {
		if !b.policy.IsAllowed(explicit) {
			return domain.SubcallResult{}, domain.Annotate(domain.ErrProviderNotAllowed, "provider", explicit)
		}
		candidates = []string{explicit}
	} else {
		candidates = b.policy.Candidates()
	}
	if len(candidates) == 0 {
		return domain.SubcallResult{}, domain.Annotate(domain.ErrAllProvidersFailed, "candidates", "none")
	}

	if b.mode != domain.CacheOff {
		for _, name := range candidates {
			key := domain.RequestHash(prompt, name)
			entry, ok := b.cache.Get(key)
			if !ok {
				continue
			}
			res := domain.SubcallResult{
				Provider:     entry.Provider,
				Text:         entry.Response,
				RequestHash:  key,
				ResponseHash: entry.ResponseHash,
				CacheHit:     true,
			}
			return res, b.record(prompt, candidates, res)
		}
		if b.mode == domain.CacheReadonly {
			return domain.SubcallResult{}, zerr.With(domain.Annotate(domain.ErrCacheMissReadonly,
				"request_hash", domain.RequestHash(prompt, candidates[0])), "candidates", strings.Join(candidates, ","))
		}
	}

	attempts := 0
	var lastErr error
	for _, name := range candidates {
		prov, ok := b.providers[name]
		if !ok {
			lastErr = domain.Annotate(domain.ErrProviderNotConfigured, "provider", name)
			continue
		}
		for try := 0; try < b.limits.SubcallRetries; try++ {
			attempts++
			text, err := b.invoke(ctx, prov, prompt)
			if err != nil {
				lastErr = err
				b.logger.Warn(fmt.Sprintf("subcall attempt %d via %s failed: %v", attempts, name, err))
				continue
			}
			key := domain.RequestHash(prompt, name)
			res := domain.SubcallResult{
				Provider:     name,
				Text:         text,
				RequestHash:  key,
				ResponseHash: domain.HashString(text),
				Attempts:     attempts,
			}
			if b.mode == domain.CacheReadWrite {
				if cerr := b.cache.Put(domain.CacheEntry{
					RequestHash:  key,
					Provider:     name,
					Prompt:       prompt,
					ResponseHash: res.ResponseHash,
					Response:     text,
					CachedAt:     time.Now().UTC(),
				}); cerr != nil {
					return domain.SubcallResult{}, cerr
				}
			}
			return res, b.record(prompt, candidates, res)
		}
	}

	err := domain.Annotate(domain.ErrAllProvidersFailed, "candidates", strings.Join(candidates, ","))
	if lastErr != nil {
		err = zerr.With(err, "last_error", lastErr.Error())
	}
	return domain.SubcallResult{}, err
}

// invoke runs one provider attempt under the per-attempt deadline.
func (b *Broker) invoke(ctx context.Context, prov ports.Provider, prompt string) (string, error) {
	if b.limits.SubcallTimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(b.limits.SubcallTimeoutMillis)*time.Millisecond)
		defer cancel()
	}
	return prov.Invoke(ctx, prompt)
}

// record books a completed subcall against the budgets and appends the
// trace event. Exactly one event per completed query, hit or miss.
func (b *Broker) record(prompt string, candidates []string, res domain.SubcallResult) error {
	b.iterCount++
	b.total++
	b.hashes = append(b.hashes, res.ResponseHash)

	status := "miss"
	if res.CacheHit {
		status = "hit"
	}
	ev := domain.TraceEvent{
		Kind:         domain.TraceSubcall,
		RunID:        b.runID,
		Provider:     res.Provider,
		Candidates:   candidates,
		CacheStatus:  status,
		RequestHash:  res.RequestHash,
		ResponseHash: res.ResponseHash,
		Attempts:     res.Attempts,
		Prompt:       prompt,
	}
	if err := b.sink.Append(ev); err != nil {
		return err
	}
	return nil
}
