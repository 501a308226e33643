package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"fotobudka/internal/infra"
)

const pathPaywalls = "/api/paywalls"

// Backend is the gateway call the HTTP provider needs.
type Backend interface {
	Do(ctx context.Context, method, path string, body any, useAuth bool, out any) error
}

// HTTPProvider reads placements from the backend's paywall endpoint.
type HTTPProvider struct {
	backend Backend
}

// NewHTTPProvider returns the primary provider.
func NewHTTPProvider(backend Backend) *HTTPProvider {
	return &HTTPProvider{backend: backend}
}

func (p *HTTPProvider) Fetch(ctx context.Context, placementIDs []string) (Snapshot, error) {
	if len(placementIDs) == 0 {
		return Snapshot{}, errors.New("catalog: no placements requested")
	}
	q := url.Values{"placements": {strings.Join(placementIDs, ",")}}
	var snap Snapshot
	if err := p.backend.Do(ctx, http.MethodGet, pathPaywalls+"?"+q.Encode(), nil, true, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// StaticLegacyProvider serves the legacy catalog shipped in configuration.
type StaticLegacyProvider struct {
	paywalls []LegacyPaywall
}

// NewStaticLegacyProvider copies the configured paywalls.
func NewStaticLegacyProvider(cfg []infra.LegacyPaywall) *StaticLegacyProvider {
	paywalls := make([]LegacyPaywall, 0, len(cfg))
	for _, pw := range cfg {
		out := LegacyPaywall{Name: pw.Name}
		for _, id := range pw.Products {
			out.Products = append(out.Products, LegacyProduct{ID: id})
		}
		paywalls = append(paywalls, out)
	}
	return &StaticLegacyProvider{paywalls: paywalls}
}

func (p *StaticLegacyProvider) Paywalls(ctx context.Context) ([]LegacyPaywall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.paywalls) == 0 {
		return nil, errors.New("catalog: legacy catalog is empty")
	}
	return p.paywalls, nil
}
