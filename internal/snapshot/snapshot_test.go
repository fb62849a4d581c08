package snapshot

import (
	"context"
	"testing"

	"github.com/refurb-labs/kestrel/internal/cache"
	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/refurb-labs/kestrel/internal/repository"
	"github.com/shopspring/decimal"
)

// fakeRepo serves a fixed benchmark catalog and counts lookups so tests
// can observe cache hits.
type fakeRepo struct {
	domain.Repository

	benchmarks map[string]*domain.Benchmark
	lookups    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		benchmarks: map[string]*domain.Benchmark{
			"cpu:Xeon E5-2680 v4": {
				Model:      "Xeon E5-2680 v4",
				Component:  domain.ComponentCPU,
				MarkSingle: 1965,
				MarkMulti:  17531,
			},
			"gpu:RTX 3060": {
				Model:      "RTX 3060",
				Component:  domain.ComponentGPU,
				MarkSingle: 17052,
			},
		},
	}
}

func (r *fakeRepo) GetBenchmark(ctx context.Context, component domain.ComponentType, model string) (*domain.Benchmark, error) {
	r.lookups++
	bench, ok := r.benchmarks[string(component)+":"+model]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return bench, nil
}

func testListing(id string) *domain.Listing {
	return &domain.Listing{
		ID:        id,
		TenantID:  "tenant-a",
		Title:     "Dell PowerEdge R730",
		Component: domain.ComponentServer,
		Condition: domain.ConditionRefurbished,
		BasePrice: decimal.RequireFromString("499.99"),
		Currency:  "USD",
		Source:    "ebay",
		Attributes: map[string]any{
			"ram_gb":    32.0,
			"cpu_model": "Xeon E5-2680 v4",
		},
	}
}

func TestBuildCanonicalFields(t *testing.T) {
	builder := NewBuilder(nil, nil)

	snap, err := builder.Build(context.Background(), "tenant-a", testListing(""))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if snap["title"] != "Dell PowerEdge R730" {
		t.Errorf("title: got %v", snap["title"])
	}
	if snap["component"] != "server" {
		t.Errorf("component: got %v", snap["component"])
	}
	if snap["condition"] != "refurbished" {
		t.Errorf("condition: got %v", snap["condition"])
	}
	if snap["base_price"] != 499.99 {
		t.Errorf("base_price: got %v", snap["base_price"])
	}
	if snap["ram_gb"] != 32.0 {
		t.Errorf("attribute pass-through: got %v", snap["ram_gb"])
	}
}

func TestBuildNilListing(t *testing.T) {
	builder := NewBuilder(nil, nil)
	if _, err := builder.Build(context.Background(), "tenant-a", nil); err == nil {
		t.Error("expected error for nil listing")
	}
}

func TestBenchmarkJoin(t *testing.T) {
	repo := newFakeRepo()
	builder := NewBuilder(repo, nil)

	snap, err := builder.Build(context.Background(), "tenant-a", testListing(""))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	cpu, ok := snap["cpu"].(map[string]any)
	if !ok {
		t.Fatalf("expected cpu entity in snapshot, got %T", snap["cpu"])
	}
	if cpu["cpu_mark_multi"] != 17531.0 {
		t.Errorf("cpu_mark_multi: got %v", cpu["cpu_mark_multi"])
	}
	if cpu["cpu_mark_single"] != 1965.0 {
		t.Errorf("cpu_mark_single: got %v", cpu["cpu_mark_single"])
	}

	// No gpu_model attribute, so no gpu entity.
	if _, ok := snap["gpu"]; ok {
		t.Error("gpu entity should be absent without gpu_model")
	}
}

func TestBenchmarkJoinGPU(t *testing.T) {
	repo := newFakeRepo()
	builder := NewBuilder(repo, nil)

	listing := testListing("")
	listing.Attributes = map[string]any{"gpu_model": "RTX 3060"}

	snap, err := builder.Build(context.Background(), "tenant-a", listing)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	gpu, ok := snap["gpu"].(map[string]any)
	if !ok {
		t.Fatalf("expected gpu entity, got %T", snap["gpu"])
	}
	if gpu["gpu_mark"] != 17052.0 {
		t.Errorf("gpu_mark: got %v", gpu["gpu_mark"])
	}
}

func TestUnknownModelLeavesEntityAbsent(t *testing.T) {
	repo := newFakeRepo()
	builder := NewBuilder(repo, nil)

	listing := testListing("")
	listing.Attributes = map[string]any{"cpu_model": "Mystery CPU 9000"}

	snap, err := builder.Build(context.Background(), "tenant-a", listing)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := snap["cpu"]; ok {
		t.Error("unknown model should not create a cpu entity")
	}
}

func TestBenchmarkMergesOverExistingEntity(t *testing.T) {
	// A listing can carry its own cpu attribute map; catalog fields
	// merge over it without dropping the listing's extra keys.
	repo := newFakeRepo()
	builder := NewBuilder(repo, nil)

	listing := testListing("")
	listing.Attributes = map[string]any{
		"cpu_model": "Xeon E5-2680 v4",
		"cpu":       map[string]any{"cores": 14.0},
	}

	snap, err := builder.Build(context.Background(), "tenant-a", listing)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	cpu := snap["cpu"].(map[string]any)
	if cpu["cores"] != 14.0 {
		t.Errorf("listing-provided cpu.cores lost in merge: %v", cpu["cores"])
	}
	if cpu["cpu_mark_multi"] != 17531.0 {
		t.Errorf("catalog field missing after merge: %v", cpu["cpu_mark_multi"])
	}
}

func TestBenchmarkLookupsAreCached(t *testing.T) {
	repo := newFakeRepo()
	builder := NewBuilder(repo, cache.NewLRUCache(100))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		// Inline listings (no ID) rebuild every time, but the benchmark
		// row itself is cached under the shared catalog key.
		if _, err := builder.Build(ctx, "tenant-a", testListing("")); err != nil {
			t.Fatalf("build %d failed: %v", i, err)
		}
	}

	if repo.lookups != 1 {
		t.Errorf("expected 1 repository lookup with a warm cache, got %d", repo.lookups)
	}
}

func TestStoredListingSnapshotCached(t *testing.T) {
	repo := newFakeRepo()
	builder := NewBuilder(repo, cache.NewLRUCache(100))

	ctx := context.Background()
	first, err := builder.Build(ctx, "tenant-a", testListing("lst-001"))
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}

	// Second build of the same stored listing must come from the
	// snapshot cache without touching the catalog again.
	lookupsAfterFirst := repo.lookups
	second, err := builder.Build(ctx, "tenant-a", testListing("lst-001"))
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if repo.lookups != lookupsAfterFirst {
		t.Errorf("cached snapshot should not trigger lookups, got %d extra",
			repo.lookups-lookupsAfterFirst)
	}

	if second["title"] != first["title"] || second["base_price"] != first["base_price"] {
		t.Errorf("cached snapshot differs: %v vs %v", second, first)
	}
}

func TestSnapshotCacheIsTenantScoped(t *testing.T) {
	repo := newFakeRepo()
	builder := NewBuilder(repo, cache.NewLRUCache(100))

	ctx := context.Background()
	if _, err := builder.Build(ctx, "tenant-a", testListing("lst-001")); err != nil {
		t.Fatal(err)
	}

	// Same listing ID under another tenant must not hit tenant-a's
	// cached snapshot.
	other := testListing("lst-001")
	other.TenantID = "tenant-b"
	other.Title = "Different Machine"

	snap, err := builder.Build(ctx, "tenant-b", other)
	if err != nil {
		t.Fatal(err)
	}
	if snap["title"] != "Different Machine" {
		t.Errorf("tenant-b received tenant-a's snapshot: %v", snap["title"])
	}
}
