package waterfall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/infra/storage/memory"
)

// countingStore wraps a store and counts ListEnabled calls, optionally
// failing after the first success.
type countingStore struct {
	inner Store
	calls int
	err   error
}

func (s *countingStore) ListEnabled(ctx context.Context) ([]domain.FieldWaterfall, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.inner.ListEnabled(ctx)
}

func genreWaterfall() domain.FieldWaterfall {
	return domain.FieldWaterfall{
		Field:   "genre",
		Enabled: true,
		Providers: []domain.ProviderRef{
			{Provider: domain.ProviderSpotify, Confidence: 0.7},
			{Provider: domain.ProviderLastFM, Confidence: 0.5},
		},
	}
}

func TestLoader_Load(t *testing.T) {
	store := memory.NewWaterfallStore()
	store.Put(genreWaterfall())
	store.Put(domain.FieldWaterfall{
		Field:   "bpm",
		Enabled: true,
		Providers: []domain.ProviderRef{
			{Provider: domain.ProviderAudioAnalysis, Confidence: 0.9},
		},
	})

	l := NewLoader(store)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	refs := l.ProvidersForField("genre")
	if len(refs) != 2 || refs[0].Provider != domain.ProviderSpotify {
		t.Errorf("Unexpected genre chain: %+v", refs)
	}
	if got := len(l.Snapshot().Fields()); got != 2 {
		t.Errorf("Expected 2 fields, got %d", got)
	}
}

func TestLoader_UnconfiguredAndDisabledFields(t *testing.T) {
	store := memory.NewWaterfallStore()
	store.Put(genreWaterfall())
	store.Put(domain.FieldWaterfall{
		Field:     "label",
		Enabled:   false,
		Providers: []domain.ProviderRef{{Provider: domain.ProviderDiscogs, Confidence: 0.6}},
	})

	l := NewLoader(store)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if refs := l.ProvidersForField("label"); refs != nil {
		t.Errorf("Disabled field returned providers: %+v", refs)
	}
	if refs := l.ProvidersForField("mood"); refs != nil {
		t.Errorf("Unconfigured field returned providers: %+v", refs)
	}
}

func TestLoader_TruncatesProviderChain(t *testing.T) {
	store := memory.NewWaterfallStore()
	store.Put(domain.FieldWaterfall{
		Field:   "genre",
		Enabled: true,
		Providers: []domain.ProviderRef{
			{Provider: domain.ProviderSpotify},
			{Provider: domain.ProviderMusicBrainz},
			{Provider: domain.ProviderDiscogs},
			{Provider: domain.ProviderLastFM},
			{Provider: domain.ProviderAudioAnalysis},
		},
	})

	l := NewLoader(store)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := len(l.ProvidersForField("genre")); got != domain.MaxWaterfallProviders {
		t.Errorf("Expected chain truncated to %d, got %d", domain.MaxWaterfallProviders, got)
	}
}

func TestLoader_ReloadIfStale(t *testing.T) {
	mem := memory.NewWaterfallStore()
	mem.Put(genreWaterfall())
	store := &countingStore{inner: mem}

	l := NewLoader(store)
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Fresh snapshot: no store hit.
	if err := l.ReloadIfStale(context.Background(), 5*time.Minute); err != nil {
		t.Fatalf("ReloadIfStale failed: %v", err)
	}
	if store.calls != 1 {
		t.Errorf("Expected no reload while fresh, store calls = %d", store.calls)
	}

	// Past max age: reload happens without a restart.
	mem.Put(domain.FieldWaterfall{
		Field:     "album",
		Enabled:   true,
		Providers: []domain.ProviderRef{{Provider: domain.ProviderMusicBrainz, Confidence: 0.8}},
	})
	clock = clock.Add(6 * time.Minute)
	if err := l.ReloadIfStale(context.Background(), 5*time.Minute); err != nil {
		t.Fatalf("ReloadIfStale failed: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("Expected reload past max age, store calls = %d", store.calls)
	}
	if refs := l.ProvidersForField("album"); len(refs) != 1 {
		t.Errorf("New field not visible after reload: %+v", refs)
	}
}

func TestLoader_FailedReloadKeepsSnapshot(t *testing.T) {
	mem := memory.NewWaterfallStore()
	mem.Put(genreWaterfall())
	store := &countingStore{inner: mem}

	l := NewLoader(store)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	store.err = errors.New("connection refused")
	if err := l.Load(context.Background()); err == nil {
		t.Fatal("Expected load error")
	}

	// The previous snapshot stays active.
	if refs := l.ProvidersForField("genre"); len(refs) != 2 {
		t.Errorf("Previous snapshot lost after failed reload: %+v", refs)
	}
}

func TestLoader_SnapshotIsImmutable(t *testing.T) {
	mem := memory.NewWaterfallStore()
	mem.Put(genreWaterfall())

	l := NewLoader(mem)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	old := l.Snapshot()
	mem.Delete("genre")
	mem.Put(domain.FieldWaterfall{
		Field:     "label",
		Enabled:   true,
		Providers: []domain.ProviderRef{{Provider: domain.ProviderDiscogs, Confidence: 0.6}},
	})
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	// A reader holding the old snapshot keeps a consistent view.
	if refs := old.ProvidersForField("genre"); len(refs) != 2 {
		t.Errorf("Old snapshot mutated by reload: %+v", refs)
	}
	if refs := l.ProvidersForField("genre"); refs != nil {
		t.Errorf("New snapshot still serving removed field: %+v", refs)
	}
}
