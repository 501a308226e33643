// Package catalog resolves purchasable product ids per placement group. A feature flag picks
// the authoritative provider for the session; the legacy catalog backs up the primary one when
// its fetch fails outright.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fotobudka/internal/domain"
	"fotobudka/internal/infra"
)

// Placement is one provider-scoped product group.
type Placement struct {
	Identifier string   `json:"identifier"`
	ProductIDs []string `json:"product_ids"`
}

// Snapshot is what the primary provider reports: scoped placements plus its global product set.
type Snapshot struct {
	Placements []Placement `json:"placements"`
	ProductIDs []string    `json:"products"`
}

// Provider is the primary catalog source.
type Provider interface {
	Fetch(ctx context.Context, placementIDs []string) (Snapshot, error)
}

// LegacyProduct is one product of the legacy catalog.
type LegacyProduct struct {
	ID string
}

// LegacyPaywall is one named paywall of the legacy catalog.
type LegacyPaywall struct {
	Name     string
	Products []LegacyProduct
}

// LegacyProvider is the alternate catalog source.
type LegacyProvider interface {
	Paywalls(ctx context.Context) ([]LegacyPaywall, error)
}

// State says whether purchases can be offered.
type State string

const (
	StateReady State = "ready"
	StateError State = "error"
)

// Catalog is the resolved product list for one session.
type Catalog struct {
	Entries []domain.CatalogEntry
	// Source names the provider the entries came from.
	Source string
}

// State is ready iff the main group resolved to at least one product.
func (c Catalog) State() State {
	if ids, ok := c.Group(domain.CatalogGroupMain); ok && len(ids) > 0 {
		return StateReady
	}
	return StateError
}

// Group returns the product ids of a group. ok is false when the group is missing or empty, in
// which case dependent screens show an error state.
func (c Catalog) Group(name string) ([]string, bool) {
	for _, entry := range c.Entries {
		if entry.Identifier == name {
			return entry.ProductIDs, len(entry.ProductIDs) > 0
		}
	}
	return nil, false
}

// Resolve builds one entry per group. Each group takes the snapshot's scoped ids; when those
// are empty it falls back to the global ids that appear in the group's allow-list. All ids are
// lower-cased.
func Resolve(snap Snapshot, allowLists map[string][]string, groups []string) []domain.CatalogEntry {
	lower := cases.Lower(language.Und)
	scoped := make(map[string][]string, len(snap.Placements))
	for _, p := range snap.Placements {
		key := normalizeID(lower, p.Identifier)
		scoped[key] = append(scoped[key], p.ProductIDs...)
	}
	global := make(map[string]struct{}, len(snap.ProductIDs))
	for _, id := range snap.ProductIDs {
		if id = normalizeID(lower, id); id != "" {
			global[id] = struct{}{}
		}
	}

	entries := make([]domain.CatalogEntry, 0, len(groups))
	for _, group := range groups {
		ids := dedupe(lower, scoped[normalizeID(lower, group)])
		if len(ids) == 0 {
			var allowed []string
			for _, id := range dedupe(lower, allowLists[group]) {
				if _, ok := global[id]; ok {
					allowed = append(allowed, id)
				}
			}
			ids = allowed
		}
		entries = append(entries, domain.CatalogEntry{Identifier: group, ProductIDs: ids})
	}
	return entries
}

// remapLegacy turns the legacy paywalls into a snapshot: each paywall becomes a placement and
// the union of all products becomes the global set.
func remapLegacy(paywalls []LegacyPaywall) Snapshot {
	var snap Snapshot
	for _, pw := range paywalls {
		p := Placement{Identifier: pw.Name}
		for _, product := range pw.Products {
			p.ProductIDs = append(p.ProductIDs, product.ID)
			snap.ProductIDs = append(snap.ProductIDs, product.ID)
		}
		snap.Placements = append(snap.Placements, p)
	}
	return snap
}

// Options configures a Resolver.
type Options struct {
	Primary    Provider
	Legacy     LegacyProvider
	UseLegacy  bool
	AllowLists map[string][]string
	Logger     *infra.Logger
}

// Resolver applies the provider flag and the fallback chain.
type Resolver struct {
	primary    Provider
	legacy     LegacyProvider
	useLegacy  bool
	allowLists map[string][]string
	logger     *infra.Logger
}

// NewResolver validates that the flag-selected provider exists.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.UseLegacy && opts.Legacy == nil {
		return nil, errors.New("catalog: legacy provider selected but not configured")
	}
	if !opts.UseLegacy && opts.Primary == nil {
		return nil, errors.New("catalog: primary provider is required")
	}
	return &Resolver{
		primary:    opts.Primary,
		legacy:     opts.Legacy,
		useLegacy:  opts.UseLegacy,
		allowLists: opts.AllowLists,
		logger:     infra.OrDiscard(opts.Logger),
	}, nil
}

// Fetch resolves the catalog for this session. An error is returned only when no provider
// produced any data; a catalog whose main group is empty is returned without error and
// reports StateError.
func (r *Resolver) Fetch(ctx context.Context) (Catalog, error) {
	if !r.useLegacy {
		snap, err := r.primary.Fetch(ctx, domain.CatalogGroups)
		if err == nil {
			return r.build(snap, "primary"), nil
		}
		r.logger.Warn().Err(err).Msg("catalog: primary fetch failed, using legacy catalog")
		if r.legacy == nil {
			return Catalog{}, fmt.Errorf("%w: %w", domain.ErrCatalogMissing, err)
		}
	}
	paywalls, err := r.legacy.Paywalls(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("catalog: legacy fetch failed")
		return Catalog{}, fmt.Errorf("%w: %w", domain.ErrCatalogMissing, err)
	}
	return r.build(remapLegacy(paywalls), "legacy"), nil
}

func (r *Resolver) build(snap Snapshot, source string) Catalog {
	c := Catalog{Entries: Resolve(snap, r.allowLists, domain.CatalogGroups), Source: source}
	for _, entry := range c.Entries {
		if len(entry.ProductIDs) == 0 {
			r.logger.Warn().Str("group", entry.Identifier).Str("source", source).Msg("catalog: group unavailable")
		}
	}
	return c
}

func normalizeID(lower cases.Caser, id string) string {
	return lower.String(strings.TrimSpace(id))
}

func dedupe(lower cases.Caser, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = normalizeID(lower, id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
