// Package snapshot assembles the read-only attribute view a ruleset is
// evaluated against: listing attributes plus benchmark-catalog joins.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/refurb-labs/kestrel/internal/repository"
)

// DefaultTTL bounds how long built snapshots and benchmark rows stay
// cached. Listings change rarely; rule edits never require snapshot
// invalidation because rulesets are not part of the snapshot.
const DefaultTTL = 5 * time.Minute

// Builder builds listing snapshots, resolving CPU/GPU benchmark data
// through the cache with repository fallback.
type Builder struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewBuilder creates a snapshot builder.
func NewBuilder(repo domain.Repository, cache domain.Cache) *Builder {
	return &Builder{
		repo:  repo,
		cache: cache,
		ttl:   DefaultTTL,
	}
}

// Build assembles the snapshot for a listing. Stored listings are
// served from the snapshot cache when possible; inline listings (no ID,
// the preview path) are always built fresh.
func (b *Builder) Build(ctx context.Context, tenantID string, listing *domain.Listing) (domain.Snapshot, error) {
	if listing == nil {
		return nil, fmt.Errorf("listing is required")
	}

	if listing.ID != "" && b.cache != nil {
		if snap, err := b.cache.GetSnapshot(ctx, tenantID, listing.ID); err == nil && snap != nil {
			return snap, nil
		}
	}

	snap := make(domain.Snapshot, len(listing.Attributes)+4)
	for k, v := range listing.Attributes {
		snap[k] = v
	}

	// Canonical fields every ruleset can rely on. base_price is stored
	// as a float so the snapshot survives a JSON cache round trip with
	// its type intact.
	snap["title"] = listing.Title
	snap["component"] = string(listing.Component)
	snap["condition"] = string(listing.Condition)
	snap["source"] = listing.Source
	snap["base_price"] = listing.BasePrice.InexactFloat64()

	b.attachBenchmark(ctx, snap, "cpu_model", domain.ComponentCPU, "cpu", func(bench *domain.Benchmark) map[string]any {
		return map[string]any{
			"model":           bench.Model,
			"cpu_mark_single": bench.MarkSingle,
			"cpu_mark_multi":  bench.MarkMulti,
		}
	})
	b.attachBenchmark(ctx, snap, "gpu_model", domain.ComponentGPU, "gpu", func(bench *domain.Benchmark) map[string]any {
		return map[string]any{
			"model":    bench.Model,
			"gpu_mark": bench.MarkSingle,
		}
	})

	if listing.ID != "" && b.cache != nil {
		if err := b.cache.SetSnapshot(ctx, tenantID, listing.ID, snap, b.ttl); err != nil {
			slog.Debug("failed to cache snapshot", "listing_id", listing.ID, "error", err)
		}
	}

	return snap, nil
}

// attachBenchmark joins one benchmark entity into the snapshot under
// key (e.g. "cpu"), merging over any attribute map the listing already
// carries there. A listing without the model attribute, or a model
// missing from the catalog, simply leaves the entity fields absent.
func (b *Builder) attachBenchmark(ctx context.Context, snap domain.Snapshot, modelField string, component domain.ComponentType, key string, fields func(*domain.Benchmark) map[string]any) {
	model, ok := snap[modelField].(string)
	if !ok || model == "" {
		return
	}

	bench, err := b.lookupBenchmark(ctx, component, model)
	if err != nil {
		slog.Debug("benchmark lookup failed",
			"component", component,
			"model", model,
			"error", err,
		)
		return
	}
	if bench == nil {
		return
	}

	entity := map[string]any{}
	if existing, ok := snap[key].(map[string]any); ok {
		for k, v := range existing {
			entity[k] = v
		}
	}
	for k, v := range fields(bench) {
		entity[k] = v
	}
	snap[key] = entity
}

// lookupBenchmark checks the shared benchmark cache first, then the
// repository, caching hits for subsequent listings with the same part.
func (b *Builder) lookupBenchmark(ctx context.Context, component domain.ComponentType, model string) (*domain.Benchmark, error) {
	cacheKey := "bench:" + string(component) + ":" + model

	if b.cache != nil {
		if data, err := b.cache.Get(ctx, domain.GlobalTenantID, cacheKey); err == nil && data != nil {
			var bench domain.Benchmark
			if err := json.Unmarshal(data, &bench); err == nil {
				return &bench, nil
			}
		}
	}

	if b.repo == nil {
		return nil, nil
	}

	bench, err := b.repo.GetBenchmark(ctx, component, model)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if b.cache != nil && bench != nil {
		if data, err := json.Marshal(bench); err == nil {
			_ = b.cache.Set(ctx, domain.GlobalTenantID, cacheKey, data, b.ttl)
		}
	}

	return bench, nil
}
