package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// WaterfallRepo implements waterfall.Store using PostgreSQL.
//
// The field_waterfalls table holds one row per metadata field with up to
// four (provider, confidence) priority slots, mirroring the external config
// store contract.
type WaterfallRepo struct {
	db *DB
}

// NewWaterfallRepo creates a new PostgreSQL waterfall repository.
func NewWaterfallRepo(db *DB) *WaterfallRepo {
	return &WaterfallRepo{db: db}
}

type waterfallRow struct {
	MetadataField       string          `db:"metadata_field"`
	Priority1Provider   sql.NullString  `db:"priority_1_provider"`
	Priority1Confidence sql.NullFloat64 `db:"priority_1_confidence"`
	Priority2Provider   sql.NullString  `db:"priority_2_provider"`
	Priority2Confidence sql.NullFloat64 `db:"priority_2_confidence"`
	Priority3Provider   sql.NullString  `db:"priority_3_provider"`
	Priority3Confidence sql.NullFloat64 `db:"priority_3_confidence"`
	Priority4Provider   sql.NullString  `db:"priority_4_provider"`
	Priority4Confidence sql.NullFloat64 `db:"priority_4_confidence"`
	Enabled             bool            `db:"enabled"`
	LastUpdated         time.Time       `db:"last_updated"`
}

// ListEnabled returns all enabled field waterfalls in priority-slot order.
func (r *WaterfallRepo) ListEnabled(ctx context.Context) ([]domain.FieldWaterfall, error) {
	query := `
		SELECT metadata_field,
		       priority_1_provider, priority_1_confidence,
		       priority_2_provider, priority_2_confidence,
		       priority_3_provider, priority_3_confidence,
		       priority_4_provider, priority_4_confidence,
		       enabled, last_updated
		FROM field_waterfalls
		WHERE enabled = TRUE
		ORDER BY metadata_field
	`

	var rows []waterfallRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list field waterfalls: %w", err)
	}

	out := make([]domain.FieldWaterfall, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Upsert writes one field waterfall row. Used by the admin seeding path and
// tests; the hot path only reads.
func (r *WaterfallRepo) Upsert(ctx context.Context, wf domain.FieldWaterfall) error {
	if len(wf.Providers) > domain.MaxWaterfallProviders {
		return fmt.Errorf("field %s: more than %d providers", wf.Field, domain.MaxWaterfallProviders)
	}

	query := `
		INSERT INTO field_waterfalls (
			metadata_field,
			priority_1_provider, priority_1_confidence,
			priority_2_provider, priority_2_confidence,
			priority_3_provider, priority_3_confidence,
			priority_4_provider, priority_4_confidence,
			enabled, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (metadata_field) DO UPDATE SET
			priority_1_provider = EXCLUDED.priority_1_provider,
			priority_1_confidence = EXCLUDED.priority_1_confidence,
			priority_2_provider = EXCLUDED.priority_2_provider,
			priority_2_confidence = EXCLUDED.priority_2_confidence,
			priority_3_provider = EXCLUDED.priority_3_provider,
			priority_3_confidence = EXCLUDED.priority_3_confidence,
			priority_4_provider = EXCLUDED.priority_4_provider,
			priority_4_confidence = EXCLUDED.priority_4_confidence,
			enabled = EXCLUDED.enabled,
			last_updated = NOW()
	`

	args := make([]any, 0, 10)
	args = append(args, wf.Field)
	for i := 0; i < domain.MaxWaterfallProviders; i++ {
		if i < len(wf.Providers) {
			args = append(args, string(wf.Providers[i].Provider), wf.Providers[i].Confidence)
		} else {
			args = append(args, nil, nil)
		}
	}
	args = append(args, wf.Enabled)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert field waterfall %s: %w", wf.Field, err)
	}
	return nil
}

func (row waterfallRow) toDomain() domain.FieldWaterfall {
	wf := domain.FieldWaterfall{
		Field:       row.MetadataField,
		Enabled:     row.Enabled,
		LastUpdated: row.LastUpdated,
	}

	slots := []struct {
		provider   sql.NullString
		confidence sql.NullFloat64
	}{
		{row.Priority1Provider, row.Priority1Confidence},
		{row.Priority2Provider, row.Priority2Confidence},
		{row.Priority3Provider, row.Priority3Confidence},
		{row.Priority4Provider, row.Priority4Confidence},
	}

	for _, slot := range slots {
		if !slot.provider.Valid || slot.provider.String == "" {
			continue
		}
		ref := domain.ProviderRef{Provider: domain.ProviderID(slot.provider.String)}
		if slot.confidence.Valid {
			ref.Confidence = slot.confidence.Float64
		}
		wf.Providers = append(wf.Providers, ref)
	}
	return wf
}
