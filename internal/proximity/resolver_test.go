package proximity

import (
	"context"
	"errors"
	"testing"

	"marketplace-catalog-service/internal/domain"
	"marketplace-catalog-service/internal/geo"
	"marketplace-catalog-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLocationStorer is a mock implementation of store.LocationStorer
type MockLocationStorer struct {
	mock.Mock
}

func (m *MockLocationStorer) ListStockLocations(ctx context.Context) ([]store.StockLocation, error) {
	args := m.Called(ctx)
	var locations []store.StockLocation
	if arg0 := args.Get(0); arg0 != nil {
		locations = arg0.([]store.StockLocation)
	}
	return locations, args.Error(1)
}

// MockCatalogStorer is a mock implementation of store.CatalogStorer
type MockCatalogStorer struct {
	mock.Mock
}

func (m *MockCatalogStorer) ListProducts(ctx context.Context, params store.ListProductsParams) ([]domain.Product, int, error) {
	args := m.Called(ctx, params)
	var products []domain.Product
	if arg0 := args.Get(0); arg0 != nil {
		products = arg0.([]domain.Product)
	}
	return products, args.Int(1), args.Error(2)
}

func (m *MockCatalogStorer) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *MockCatalogStorer) GetAggregate(ctx context.Context, productID int64) (*domain.Aggregate, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Aggregate), args.Error(1)
}

func (m *MockCatalogStorer) OwnsProduct(ctx context.Context, partnerID, productID int64) (bool, error) {
	args := m.Called(ctx, partnerID, productID)
	return args.Bool(0), args.Error(1)
}

func TestResolver_Nearby_FiltersByRadius(t *testing.T) {
	locations := new(MockLocationStorer)
	catalog := new(MockCatalogStorer)
	resolver := NewResolver(locations, catalog)

	center := domain.Point{Lat: 50, Lon: 10}
	// 0.027 degrees of latitude is roughly 3 km, 0.072 roughly 8 km.
	locations.On("ListStockLocations", mock.Anything).Return([]store.StockLocation{
		{ProductID: 1, Location: domain.Point{Lat: 50.027, Lon: 10}},
		{ProductID: 2, Location: domain.Point{Lat: 50.072, Lon: 10}},
	}, nil).Once()

	catalog.On("ListProducts", mock.Anything, mock.MatchedBy(func(p store.ListProductsParams) bool {
		return p.OnlyPublic && len(p.ProductIDs) == 1 && p.ProductIDs[0] == int64(1)
	})).Return([]domain.Product{{ID: 1, Title: "In Range"}}, 1, nil).Once()

	matches, err := resolver.Nearby(context.Background(), center, 5)

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Product.ID)
	assert.InDelta(t, 3.0, matches[0].DistanceKm, 0.1)

	locations.AssertExpectations(t)
	catalog.AssertExpectations(t)
}

func TestResolver_Nearby_MinDistancePerProduct(t *testing.T) {
	locations := new(MockLocationStorer)
	catalog := new(MockCatalogStorer)
	resolver := NewResolver(locations, catalog)

	center := domain.Point{Lat: 50, Lon: 10}
	// Same product stocked at two locations; it must appear once, at the
	// closer distance.
	locations.On("ListStockLocations", mock.Anything).Return([]store.StockLocation{
		{ProductID: 7, Location: domain.Point{Lat: 50.04, Lon: 10}},
		{ProductID: 7, Location: domain.Point{Lat: 50.01, Lon: 10}},
	}, nil).Once()

	catalog.On("ListProducts", mock.Anything, mock.Anything).
		Return([]domain.Product{{ID: 7}}, 1, nil).Once()

	matches, err := resolver.Nearby(context.Background(), center, 10)

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.11, matches[0].DistanceKm, 0.05)
}

func TestResolver_Nearby_SortsByDistanceThenID(t *testing.T) {
	locations := new(MockLocationStorer)
	catalog := new(MockCatalogStorer)
	resolver := NewResolver(locations, catalog)

	center := domain.Point{Lat: 50, Lon: 10}
	locations.On("ListStockLocations", mock.Anything).Return([]store.StockLocation{
		{ProductID: 3, Location: domain.Point{Lat: 50.02, Lon: 10}},
		{ProductID: 1, Location: domain.Point{Lat: 50.01, Lon: 10}},
		// Same coordinates as product 3, so the tie breaks on id.
		{ProductID: 2, Location: domain.Point{Lat: 50.02, Lon: 10}},
	}, nil).Once()

	catalog.On("ListProducts", mock.Anything, mock.Anything).
		Return([]domain.Product{{ID: 3}, {ID: 1}, {ID: 2}}, 3, nil).Once()

	matches, err := resolver.Nearby(context.Background(), center, 10)

	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, int64(1), matches[0].Product.ID)
	assert.Equal(t, int64(2), matches[1].Product.ID)
	assert.Equal(t, int64(3), matches[2].Product.ID)
}

func TestResolver_Nearby_NoMatches(t *testing.T) {
	locations := new(MockLocationStorer)
	catalog := new(MockCatalogStorer)
	resolver := NewResolver(locations, catalog)

	locations.On("ListStockLocations", mock.Anything).Return([]store.StockLocation{
		{ProductID: 1, Location: domain.Point{Lat: 60, Lon: 10}},
	}, nil).Once()

	matches, err := resolver.Nearby(context.Background(), domain.Point{Lat: 50, Lon: 10}, 5)

	require.NoError(t, err)
	assert.Empty(t, matches)
	// The product lookup is skipped entirely when nothing is in range.
	catalog.AssertNotCalled(t, "ListProducts", mock.Anything, mock.Anything)
}

func TestResolver_Nearby_InvalidInput(t *testing.T) {
	resolver := NewResolver(new(MockLocationStorer), new(MockCatalogStorer))

	_, err := resolver.Nearby(context.Background(), domain.Point{Lat: 95, Lon: 10}, 5)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)

	_, err = resolver.Nearby(context.Background(), domain.Point{Lat: 50, Lon: 10}, 0)
	assert.ErrorIs(t, err, geo.ErrInvalidRadius)
}

func TestResolver_Nearby_StoreError(t *testing.T) {
	locations := new(MockLocationStorer)
	resolver := NewResolver(locations, new(MockCatalogStorer))

	storeErr := errors.New("store: connection refused")
	locations.On("ListStockLocations", mock.Anything).Return(nil, storeErr).Once()

	_, err := resolver.Nearby(context.Background(), domain.Point{Lat: 50, Lon: 10}, 5)
	assert.ErrorIs(t, err, storeErr)
}
