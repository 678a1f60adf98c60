package geo

import (
	"math"
	"testing"

	"marketplace-catalog-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePoint(t *testing.T) {
	assert.NoError(t, ValidatePoint(domain.Point{Lat: 52.52, Lon: 13.405}))
	assert.NoError(t, ValidatePoint(domain.Point{Lat: -90, Lon: 180}))

	assert.ErrorIs(t, ValidatePoint(domain.Point{Lat: 91, Lon: 0}), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidatePoint(domain.Point{Lat: 0, Lon: -181}), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidatePoint(domain.Point{Lat: math.NaN(), Lon: 0}), ErrInvalidCoordinates)
}

func TestValidateRadius(t *testing.T) {
	assert.NoError(t, ValidateRadius(5))
	assert.NoError(t, ValidateRadius(0.1))

	assert.ErrorIs(t, ValidateRadius(0), ErrInvalidRadius)
	assert.ErrorIs(t, ValidateRadius(-3), ErrInvalidRadius)
	assert.ErrorIs(t, ValidateRadius(math.Inf(1)), ErrInvalidRadius)
}

func TestDistanceKm(t *testing.T) {
	// Berlin to Hamburg, roughly 255 km apart.
	berlin := domain.Point{Lat: 52.52, Lon: 13.405}
	hamburg := domain.Point{Lat: 53.5511, Lon: 9.9937}

	d := DistanceKm(berlin, hamburg)
	assert.InDelta(t, 255, d, 5)

	// Symmetric and zero at identity.
	require.InDelta(t, d, DistanceKm(hamburg, berlin), 1e-9)
	assert.Zero(t, DistanceKm(berlin, berlin))
}

func TestDistanceKm_SmallOffsets(t *testing.T) {
	// One hundredth of a degree of latitude is about 1.11 km.
	a := domain.Point{Lat: 50, Lon: 10}
	b := domain.Point{Lat: 50.01, Lon: 10}
	assert.InDelta(t, 1.11, DistanceKm(a, b), 0.02)
}
