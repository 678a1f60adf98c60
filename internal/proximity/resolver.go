// Package proximity resolves "nearest available stock" queries across
// heterogeneous location sources.
package proximity

import (
	"context"
	"sort"

	"marketplace-catalog-service/internal/domain"
	"marketplace-catalog-service/internal/geo"
	"marketplace-catalog-service/internal/store"
)

// Match is one product within range, annotated with the minimum distance
// across its qualifying stock records.
type Match struct {
	Product    domain.Product `json:"product"`
	DistanceKm float64        `json:"distance_km"`
}

// Resolver is the geospatial read path. It never mutates state and is
// safe to run concurrently with writes; it observes committed state only.
type Resolver struct {
	locations store.LocationStorer
	catalog   store.CatalogStorer
}

// NewResolver creates a Resolver.
func NewResolver(locations store.LocationStorer, catalog store.CatalogStorer) *Resolver {
	return &Resolver{locations: locations, catalog: catalog}
}

// Nearby returns the public, in-stock products whose effective stock
// location lies within radiusKm of point, ordered by ascending minimum
// distance with product id as the tie-breaker.
func (r *Resolver) Nearby(ctx context.Context, point domain.Point, radiusKm float64) ([]Match, error) {
	if err := geo.ValidatePoint(point); err != nil {
		return nil, err
	}
	if err := geo.ValidateRadius(radiusKm); err != nil {
		return nil, err
	}

	locations, err := r.locations.ListStockLocations(ctx)
	if err != nil {
		return nil, err
	}

	// A product reachable through several partners' stock is listed
	// once, at its best distance.
	minDistance := make(map[int64]float64)
	for _, loc := range locations {
		d := geo.DistanceKm(point, loc.Location)
		if d > radiusKm {
			continue
		}
		if best, ok := minDistance[loc.ProductID]; !ok || d < best {
			minDistance[loc.ProductID] = d
		}
	}
	if len(minDistance) == 0 {
		return []Match{}, nil
	}

	ids := make([]int64, 0, len(minDistance))
	for id := range minDistance {
		ids = append(ids, id)
	}
	products, _, err := r.catalog.ListProducts(ctx, store.ListProductsParams{
		Limit:      len(ids),
		ProductIDs: ids,
		OnlyPublic: true,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(products))
	for _, p := range products {
		matches = append(matches, Match{Product: p, DistanceKm: minDistance[p.ID]})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].Product.ID < matches[j].Product.ID
	})
	return matches, nil
}
