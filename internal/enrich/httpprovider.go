package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// HTTPProvider adapts a provider lookup service speaking a JSON-over-HTTP
// contract to the Provider interface. Provider-specific API semantics live
// behind these endpoints; the core only sees the capability contract.
type HTTPProvider struct {
	name       domain.ProviderID
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProvider creates an HTTP-backed provider client.
func NewHTTPProvider(name domain.ProviderID, endpoint string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() domain.ProviderID {
	return p.name
}

// Fetch performs a single lookup. Non-2xx responses become classified
// *domain.ProviderError values carrying the status code and headers so the
// retry strategy and rate limiter can act on them.
func (p *HTTPProvider) Fetch(
	ctx context.Context,
	req domain.EnrichmentRequest,
) (*domain.EnrichmentResult, error) {
	q := url.Values{}
	q.Set("artist", req.Artist)
	q.Set("title", req.Title)
	q.Set("field", req.Field)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &domain.ProviderError{Provider: p.name, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &domain.ProviderError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Err:        domain.ErrNoMatch,
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.ProviderError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Err:        fmt.Errorf("http %d: %s", resp.StatusCode, string(body)),
		}
	}

	var payload struct {
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &domain.ProviderError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	return &domain.EnrichmentResult{
		Field:      req.Field,
		Value:      payload.Value,
		Confidence: payload.Confidence,
		Headers:    resp.Header,
	}, nil
}
