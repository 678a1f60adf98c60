package search

import (
	"testing"
	"time"

	"marketplace-catalog-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func PtrTo[T any](v T) *T {
	return &v
}

func sampleAggregate() *domain.Aggregate {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return &domain.Aggregate{
		Product: domain.Product{
			ID:             42,
			UPC:            PtrTo("9780134190440"),
			Title:          "The Go Programming Language",
			Slug:           "the-go-programming-language",
			Description:    PtrTo("Classic reference."),
			ProductClassID: 1,
			Condition:      domain.ConditionNew,
			IsPublic:       true,
			CreatedAt:      created,
		},
		Class: domain.ProductClass{ID: 1, Name: "Books", Slug: "books"},
		Stock: []domain.StockInfo{
			{
				Record: domain.StockRecord{
					ID: 10, ProductID: 42, PartnerID: 1,
					PartnerSKU: "9780134190440", PriceCurrency: "EUR",
					Price: 34.99, NumInStock: 7,
				},
				Partner: domain.Partner{
					ID: 1, Name: "Alpha Books",
					VerificationStatus: domain.PartnerVerified,
					DefaultLocation:    &domain.Point{Lat: 52.52, Lon: 13.405},
				},
			},
			{
				Record: domain.StockRecord{
					ID: 11, ProductID: 42, PartnerID: 2,
					PartnerSKU: "B-GOPL", PriceCurrency: "EUR",
					Price: 29.50, NumInStock: 2,
				},
				Partner: domain.Partner{ID: 2, Name: "Beta Books", VerificationStatus: domain.PartnerVerified},
			},
		},
		Categories: []domain.Category{
			{ID: 3, Name: "Programming", Slug: "programming"},
		},
	}
}

func TestBuildDocument(t *testing.T) {
	doc := BuildDocument(sampleAggregate())

	assert.Equal(t, int64(42), doc.ID)
	assert.Equal(t, "The Go Programming Language", doc.Title)
	assert.Equal(t, "Classic reference.", doc.Description)
	assert.Equal(t, "9780134190440", doc.UPC)
	assert.Equal(t, "new", doc.Condition)
	assert.Equal(t, ClassRef{Name: "Books", Slug: "books"}, doc.ProductClass)
	require.Len(t, doc.Categories, 1)
	assert.Equal(t, CategoryRef{ID: 3, Name: "Programming", Slug: "programming"}, doc.Categories[0])

	// Lowest price across all stock records.
	require.NotNil(t, doc.Price)
	assert.Equal(t, 29.50, *doc.Price)

	// Stock count, partner and location come from the primary (lowest id)
	// record, not from the cheapest one.
	assert.Equal(t, 7, doc.NumInStock)
	assert.Equal(t, "Alpha Books", doc.PartnerName)
	require.NotNil(t, doc.Location)
	assert.Equal(t, domain.Point{Lat: 52.52, Lon: 13.405}, *doc.Location)

	assert.True(t, doc.IsPublic)
	assert.Equal(t, time.UTC, doc.CreatedAt.Location())
}

func TestBuildDocument_NoStock(t *testing.T) {
	agg := sampleAggregate()
	agg.Stock = nil

	doc := BuildDocument(agg)

	assert.Nil(t, doc.Price)
	assert.Empty(t, doc.Currency)
	assert.Zero(t, doc.NumInStock)
	assert.Empty(t, doc.PartnerName)
	assert.Nil(t, doc.Location)
}

func TestBuildDocument_Deterministic(t *testing.T) {
	agg := sampleAggregate()

	first, err := BuildDocument(agg).Marshal()
	require.NoError(t, err)
	second, err := BuildDocument(agg).Marshal()
	require.NoError(t, err)

	// Re-projecting an unchanged aggregate must be a byte-identical no-op.
	assert.Equal(t, first, second)
}

func TestBuildDocument_NonUTCCreatedAt(t *testing.T) {
	agg := sampleAggregate()
	loc := time.FixedZone("UTC+5", 5*3600)
	utc := agg.Product.CreatedAt

	agg.Product.CreatedAt = utc.In(loc)
	shifted, err := BuildDocument(agg).Marshal()
	require.NoError(t, err)

	agg.Product.CreatedAt = utc
	original, err := BuildDocument(agg).Marshal()
	require.NoError(t, err)

	assert.Equal(t, original, shifted)
}
