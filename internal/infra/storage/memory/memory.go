// Package memory provides an in-memory waterfall store for tests and for
// running the core without a database.
package memory

import (
	"context"
	"sync"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// WaterfallStore implements waterfall.Store over a map.
type WaterfallStore struct {
	mu     sync.RWMutex
	fields map[string]domain.FieldWaterfall
}

// NewWaterfallStore creates an empty store.
func NewWaterfallStore() *WaterfallStore {
	return &WaterfallStore{fields: make(map[string]domain.FieldWaterfall)}
}

// Put adds or replaces a field waterfall.
func (s *WaterfallStore) Put(wf domain.FieldWaterfall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[wf.Field] = wf
}

// Delete removes a field waterfall.
func (s *WaterfallStore) Delete(field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, field)
}

// ListEnabled returns all enabled waterfalls.
func (s *WaterfallStore) ListEnabled(ctx context.Context) ([]domain.FieldWaterfall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FieldWaterfall, 0, len(s.fields))
	for _, wf := range s.fields {
		if wf.Enabled {
			out = append(out, wf)
		}
	}
	return out, nil
}
