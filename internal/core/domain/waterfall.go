package domain

import "time"

// MaxWaterfallProviders bounds the provider chain per field.
const MaxWaterfallProviders = 4

// ProviderRef is one step of a field waterfall: a provider and the minimum
// confidence its answer must reach to be accepted.
type ProviderRef struct {
	Provider   ProviderID
	Confidence float64
}

// FieldWaterfall is the ordered provider chain for one metadata field.
// Order is priority order; the first qualifying result wins.
type FieldWaterfall struct {
	Field       string
	Providers   []ProviderRef
	Enabled     bool
	LastUpdated time.Time
}
