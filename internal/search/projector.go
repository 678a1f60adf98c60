// Package search projects relational product aggregates into the
// denormalized documents consumed by the external search index.
package search

import (
	"encoding/json"
	"time"

	"marketplace-catalog-service/internal/domain"
)

// ClassRef identifies a product class inside a document.
type ClassRef struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// CategoryRef identifies a category inside a document.
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Document is the flattened, query-optimized representation of one
// product. Field order is fixed so that re-projecting an unchanged
// aggregate marshals to byte-identical JSON.
type Document struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	UPC          string        `json:"upc,omitempty"`
	Condition    string        `json:"condition"`
	ProductClass ClassRef      `json:"product_class"`
	Categories   []CategoryRef `json:"categories"`
	Price        *float64      `json:"price"`
	Currency     string        `json:"currency,omitempty"`
	NumInStock   int           `json:"num_in_stock"`
	PartnerName  string        `json:"partner_name,omitempty"`
	Location     *domain.Point `json:"location,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	IsPublic     bool          `json:"is_public"`
}

// Marshal encodes the document as JSON. Deterministic for a given
// document, which lets consumers detect unchanged re-projections as
// no-ops by byte comparison.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// BuildDocument derives a product's search document from its aggregate.
// Pure and deterministic: the lowest price is taken across all stock
// records, while stock count, partner name and location come from the
// primary record (lowest id), so the same aggregate always yields the
// same document.
func BuildDocument(agg *domain.Aggregate) Document {
	doc := Document{
		ID:           agg.Product.ID,
		Title:        agg.Product.Title,
		Condition:    string(agg.Product.Condition),
		ProductClass: ClassRef{Name: agg.Class.Name, Slug: agg.Class.Slug},
		Categories:   make([]CategoryRef, 0, len(agg.Categories)),
		CreatedAt:    agg.Product.CreatedAt.UTC(),
		IsPublic:     agg.Product.IsPublic,
	}
	if agg.Product.Description != nil {
		doc.Description = *agg.Product.Description
	}
	if agg.Product.UPC != nil {
		doc.UPC = *agg.Product.UPC
	}
	for _, c := range agg.Categories {
		doc.Categories = append(doc.Categories, CategoryRef{ID: c.ID, Name: c.Name, Slug: c.Slug})
	}

	primary := primaryStock(agg.Stock)
	if primary == nil {
		return doc
	}
	lowest := primary.Record.Price
	for _, info := range agg.Stock {
		if info.Record.Price < lowest {
			lowest = info.Record.Price
		}
	}
	doc.Price = &lowest
	doc.Currency = primary.Record.PriceCurrency
	doc.NumInStock = primary.Record.NumInStock
	doc.PartnerName = primary.Partner.Name
	doc.Location = primary.EffectiveLocation()
	return doc
}

// primaryStock picks the stock record with the lowest id, an arbitrary
// but stable choice.
func primaryStock(stock []domain.StockInfo) *domain.StockInfo {
	var primary *domain.StockInfo
	for i := range stock {
		if primary == nil || stock[i].Record.ID < primary.Record.ID {
			primary = &stock[i]
		}
	}
	return primary
}
