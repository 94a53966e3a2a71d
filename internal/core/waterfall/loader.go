// Package waterfall holds the hot-reloadable field -> provider-chain
// configuration. The active configuration is an immutable snapshot swapped
// atomically, so concurrent readers never observe a partial reload.
package waterfall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/enrich/metrics"
)

// DefaultMaxAge is how old a snapshot may get before ReloadIfStale refreshes.
const DefaultMaxAge = 300 * time.Second

// Store is the durable source of waterfall rows.
type Store interface {
	ListEnabled(ctx context.Context) ([]domain.FieldWaterfall, error)
}

// Snapshot is an immutable view of the loaded configuration.
type Snapshot struct {
	fields   map[string]domain.FieldWaterfall
	loadedAt time.Time
}

// ProvidersForField returns the ordered provider chain for a field, or nil
// when the field is unconfigured or disabled.
func (s *Snapshot) ProvidersForField(field string) []domain.ProviderRef {
	if s == nil {
		return nil
	}
	wf, ok := s.fields[field]
	if !ok || !wf.Enabled {
		return nil
	}
	return wf.Providers
}

// Fields returns the configured field names.
func (s *Snapshot) Fields() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.fields))
	for f := range s.fields {
		out = append(out, f)
	}
	return out
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Loader loads and refreshes the active snapshot.
type Loader struct {
	store Store
	snap  atomic.Pointer[Snapshot]

	// reloadMu serializes reloads so a slow store cannot pile up queries;
	// readers never touch it.
	reloadMu sync.Mutex

	now func() time.Time
}

// NewLoader creates a loader with an empty snapshot. Call Load before use.
func NewLoader(store Store) *Loader {
	l := &Loader{store: store, now: time.Now}
	l.snap.Store(&Snapshot{fields: map[string]domain.FieldWaterfall{}})
	return l
}

// Load reads all enabled rows and swaps in a fresh snapshot.
func (l *Loader) Load(ctx context.Context) error {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	rows, err := l.store.ListEnabled(ctx)
	if err != nil {
		metrics.WaterfallReloads.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to load waterfall config: %w", err)
	}

	fields := make(map[string]domain.FieldWaterfall, len(rows))
	for _, wf := range rows {
		if len(wf.Providers) > domain.MaxWaterfallProviders {
			wf.Providers = wf.Providers[:domain.MaxWaterfallProviders]
		}
		fields[wf.Field] = wf
	}

	l.snap.Store(&Snapshot{fields: fields, loadedAt: l.now()})
	metrics.WaterfallReloads.WithLabelValues("success").Inc()
	slog.Debug("Waterfall config reloaded", "fields", len(fields))
	return nil
}

// ReloadIfStale refreshes the snapshot when it is older than maxAge.
// Hot reconfiguration happens here without a process restart.
func (l *Loader) ReloadIfStale(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if l.now().Sub(l.Snapshot().LoadedAt()) < maxAge {
		return nil
	}
	return l.Load(ctx)
}

// Snapshot returns the active snapshot. Never nil.
func (l *Loader) Snapshot() *Snapshot {
	return l.snap.Load()
}

// ProvidersForField reads from the active snapshot.
func (l *Loader) ProvidersForField(field string) []domain.ProviderRef {
	return l.Snapshot().ProvidersForField(field)
}

// Refresh runs a background reload loop until ctx is canceled. Reload
// failures keep the previous snapshot and are logged, not fatal.
func (l *Loader) Refresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMaxAge
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Load(ctx); err != nil {
				slog.Warn("Waterfall reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}
