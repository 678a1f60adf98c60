// Package productsync reconciles partner-supplied product payloads
// against the shared catalog inside a single transaction per call.
package productsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"marketplace-catalog-service/internal/attribute"
	"marketplace-catalog-service/internal/domain"
	"marketplace-catalog-service/internal/search"
	"marketplace-catalog-service/internal/slug"
	"marketplace-catalog-service/internal/store"
)

var (
	// ErrDuplicateProduct is returned when a UPC conflict persists after
	// the internal lookup-then-join retry.
	ErrDuplicateProduct = errors.New("productsync: product with this UPC already exists")
	// ErrInvalidWarehouse is returned when a payload references a
	// warehouse owned by a different partner (or no warehouse at all).
	ErrInvalidWarehouse = errors.New("productsync: warehouse does not belong to this partner")
	// ErrNotProductOwner is returned when a partner tries to delete a
	// product it holds no stock record for.
	ErrNotProductOwner = errors.New("productsync: partner holds no stock record for this product")
)

const indexTimeout = 10 * time.Second

// Engine is the aggregate synchronization engine: the single write path
// for partner product data.
type Engine struct {
	store    store.SyncStorer
	catalog  store.CatalogStorer
	indexer  search.Indexer
	currency string
	logger   *log.Logger
}

// NewEngine creates an Engine. indexer may be nil to disable search
// projection. currency is applied to newly created stock records.
func NewEngine(s store.SyncStorer, catalog store.CatalogStorer, indexer search.Indexer, currency string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: s, catalog: catalog, indexer: indexer, currency: currency, logger: logger}
}

// Create synchronizes a payload with no existing product identity. When
// the payload carries a UPC that already exists, the partner joins the
// existing catalog entry instead of creating a duplicate; the duplicate-
// UPC race is resolved by retrying once after a unique-constraint
// conflict.
func (e *Engine) Create(ctx context.Context, partner domain.Partner, p Payload) (*Result, error) {
	var result *Result
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		result, err = e.createOnce(ctx, partner, p)
		if errors.Is(err, store.ErrProductUPCExists) {
			// Another request inserted the same UPC between our lookup
			// and insert. Retry so the lookup finds it and we join.
			e.logger.Printf("WARN: productsync: UPC conflict for partner %d, retrying as join", partner.ID)
			continue
		}
		break
	}
	if errors.Is(err, store.ErrProductUPCExists) {
		return nil, ErrDuplicateProduct
	}
	if err != nil {
		return nil, err
	}
	e.scheduleIndex(result.Product.ID)
	return result, nil
}

func (e *Engine) createOnce(ctx context.Context, partner domain.Partner, p Payload) (*Result, error) {
	var result Result
	err := e.store.WithTx(ctx, func(tx store.SyncTx) error {
		if p.UPC != nil && *p.UPC != "" {
			existing, err := tx.ProductByUPC(ctx, *p.UPC)
			if err == nil {
				return e.joinExisting(ctx, tx, &result, existing, partner, p)
			}
			if !errors.Is(err, store.ErrProductNotFound) {
				return err
			}
		}
		return e.createNew(ctx, tx, &result, partner, p)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// joinExisting attaches the partner to a product that already carries the
// payload's UPC. The product's own fields, attributes and images belong
// to whichever tenant created them and are left untouched; only the
// partner's stock record and additive category associations change.
func (e *Engine) joinExisting(ctx context.Context, tx store.SyncTx, result *Result, product *domain.Product, partner domain.Partner, p Payload) error {
	result.Product = product

	current, err := tx.StockRecordFor(ctx, product.ID, partner.ID)
	switch {
	case err == nil:
		// The partner already sells this product. Patch the existing
		// record from the payload instead of silently ignoring it.
		result.warnf("stock record already existed for product %d; updated in place", product.ID)
		if p.Stock != nil {
			if err := e.applyStockPatch(ctx, tx, partner, current, p.Stock); err != nil {
				return err
			}
			if err := tx.UpdateStockRecord(ctx, current); err != nil {
				return err
			}
		}
	case errors.Is(err, store.ErrStockRecordNotFound):
		if _, err := e.createStockRecord(ctx, tx, product, partner, p.Stock); err != nil {
			return err
		}
	default:
		return err
	}

	if p.Categories != nil && len(*p.Categories) > 0 {
		if err := tx.AddProductCategories(ctx, product.ID, *p.Categories); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) createNew(ctx context.Context, tx store.SyncTx, result *Result, partner domain.Partner, p Payload) error {
	class, err := tx.ProductClassBySlug(ctx, p.ProductClassSlug)
	if err != nil {
		return err
	}

	product := &domain.Product{
		UPC:            upcOrNil(p.UPC),
		Description:    p.Description,
		ProductClassID: class.ID,
		Condition:      domain.ConditionNew,
		IsPublic:       true,
	}
	if p.Title != nil {
		product.Title = *p.Title
	}
	product.Slug = slug.Make(product.Title)
	if p.Condition != nil {
		product.Condition = *p.Condition
	}
	if p.IsPublic != nil {
		product.IsPublic = *p.IsPublic
	}

	created, err := tx.CreateProduct(ctx, product)
	if err != nil {
		return err
	}
	result.Product = created

	if _, err := e.createStockRecord(ctx, tx, created, partner, p.Stock); err != nil {
		return err
	}

	if p.Attributes != nil {
		if err := e.reconcileAttributes(ctx, tx, result, created, class.ID, *p.Attributes); err != nil {
			return err
		}
	}
	if p.Categories != nil {
		if err := tx.ReplaceProductCategories(ctx, created.ID, *p.Categories); err != nil {
			return err
		}
	}
	if p.Images != nil {
		if err := e.reconcileImages(ctx, tx, result, created.ID, *p.Images); err != nil {
			return err
		}
	}
	return nil
}

// Update applies a partial payload to an existing product on behalf of
// the partner. Child collections are reconciled only when supplied.
func (e *Engine) Update(ctx context.Context, partner domain.Partner, productID int64, p Payload) (*Result, error) {
	var result Result
	err := e.store.WithTx(ctx, func(tx store.SyncTx) error {
		product, err := tx.ProductByID(ctx, productID)
		if err != nil {
			return err
		}

		if p.UPC != nil {
			product.UPC = upcOrNil(p.UPC)
		}
		if p.Title != nil {
			product.Title = *p.Title
		}
		if p.Description != nil {
			product.Description = p.Description
		}
		if p.Condition != nil {
			product.Condition = *p.Condition
		}
		if p.IsPublic != nil {
			product.IsPublic = *p.IsPublic
		}
		if err := tx.UpdateProduct(ctx, product); err != nil {
			return err
		}
		result.Product = product

		if p.Stock != nil {
			current, err := tx.StockRecordFor(ctx, productID, partner.ID)
			switch {
			case err == nil:
				if err := e.applyStockPatch(ctx, tx, partner, current, p.Stock); err != nil {
					return err
				}
				if err := tx.UpdateStockRecord(ctx, current); err != nil {
					return err
				}
			case errors.Is(err, store.ErrStockRecordNotFound):
				// Stock payload without a stock record is a data-integrity
				// anomaly; record it instead of fabricating a record.
				e.logger.Printf("WARN: productsync: stock payload for product %d but partner %d has no stock record", productID, partner.ID)
				result.warnf("no stock record exists for this partner; stock fields ignored")
			default:
				return err
			}
		}

		if p.Attributes != nil {
			if err := e.reconcileAttributes(ctx, tx, &result, product, product.ProductClassID, *p.Attributes); err != nil {
				return err
			}
		}
		if p.Categories != nil {
			if err := tx.ReplaceProductCategories(ctx, productID, *p.Categories); err != nil {
				return err
			}
		}
		if p.Images != nil {
			if err := e.reconcileImages(ctx, tx, &result, productID, *p.Images); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrProductUPCExists) {
			return nil, ErrDuplicateProduct
		}
		return nil, err
	}
	e.scheduleIndex(productID)
	return &result, nil
}

// Delete removes a product on behalf of a partner that holds a stock
// record for it. This is the only path that deletes shared Product rows.
func (e *Engine) Delete(ctx context.Context, partner domain.Partner, productID int64) error {
	err := e.store.WithTx(ctx, func(tx store.SyncTx) error {
		if _, err := tx.ProductByID(ctx, productID); err != nil {
			return err
		}
		if _, err := tx.StockRecordFor(ctx, productID, partner.ID); err != nil {
			if errors.Is(err, store.ErrStockRecordNotFound) {
				return ErrNotProductOwner
			}
			return err
		}
		return tx.DeleteProduct(ctx, productID)
	})
	if err != nil {
		return err
	}
	e.scheduleRemove(productID)
	return nil
}

// upcOrNil treats an empty UPC as absent. The upc column is unique, so
// an empty string must never be stored there.
func upcOrNil(upc *string) *string {
	if upc == nil || *upc == "" {
		return nil
	}
	return upc
}

// createStockRecord seeds a new stock record from the payload, defaulting
// the partner SKU to the UPC (else a derived SKU) and the currency to the
// engine's configured default.
func (e *Engine) createStockRecord(ctx context.Context, tx store.SyncTx, product *domain.Product, partner domain.Partner, p *StockPayload) (*domain.StockRecord, error) {
	sr := &domain.StockRecord{
		ProductID:     product.ID,
		PartnerID:     partner.ID,
		PriceCurrency: e.currency,
	}
	if p != nil {
		if err := e.applyStockPatch(ctx, tx, partner, sr, p); err != nil {
			return nil, err
		}
	}
	if sr.PartnerSKU == "" {
		if product.UPC != nil && *product.UPC != "" {
			sr.PartnerSKU = *product.UPC
		} else {
			sr.PartnerSKU = fmt.Sprintf("SKU-%d", product.ID)
		}
	}
	return tx.CreateStockRecord(ctx, sr)
}

// applyStockPatch overwrites only the fields present in the payload. A
// warehouse change re-validates ownership: referencing another partner's
// warehouse fails the whole call with ErrInvalidWarehouse.
func (e *Engine) applyStockPatch(ctx context.Context, tx store.SyncTx, partner domain.Partner, sr *domain.StockRecord, p *StockPayload) error {
	if p.WarehouseID != nil {
		wh, err := tx.WarehouseByID(ctx, *p.WarehouseID)
		if err != nil {
			if errors.Is(err, store.ErrWarehouseNotFound) {
				return fmt.Errorf("%w: warehouse %d not found", ErrInvalidWarehouse, *p.WarehouseID)
			}
			return err
		}
		if wh.PartnerID != partner.ID {
			e.logger.Printf("WARN: productsync: partner %d referenced warehouse %d owned by partner %d", partner.ID, wh.ID, wh.PartnerID)
			return fmt.Errorf("%w: warehouse %d", ErrInvalidWarehouse, wh.ID)
		}
		sr.WarehouseID = &wh.ID
	} else if p.ClearWarehouse {
		sr.WarehouseID = nil
	}
	if p.PartnerSKU != nil {
		sr.PartnerSKU = *p.PartnerSKU
	}
	if p.Price != nil {
		sr.Price = *p.Price
	}
	if p.NumInStock != nil {
		sr.NumInStock = *p.NumInStock
	}
	if p.NumAllocated != nil {
		sr.NumAllocated = *p.NumAllocated
	}
	if p.LowStockThreshold != nil {
		sr.LowStockThreshold = p.LowStockThreshold
	}
	return nil
}

// reconcileAttributes diffs the supplied entries against the stored set:
// payload entries are validated and upserted, stored values absent from
// the payload are deleted. Invalid entries are skipped and reported per
// entry rather than failing the call, so one bad attribute cannot sink a
// whole batch.
func (e *Engine) reconcileAttributes(ctx context.Context, tx store.SyncTx, result *Result, product *domain.Product, classID int64, entries []AttributePayload) error {
	defs, err := tx.AttributesForClass(ctx, classID)
	if err != nil {
		return err
	}
	byCode := make(map[string]domain.ProductAttribute, len(defs))
	for _, def := range defs {
		byCode[def.Code] = def
	}

	existing, err := tx.AttributeValues(ctx, product.ID)
	if err != nil {
		return err
	}

	kept := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		def, ok := byCode[entry.Code]
		if !ok {
			err := fmt.Errorf("%w: attribute %q: not defined by product class", attribute.ErrInvalidValue, entry.Code)
			e.logger.Printf("WARN: productsync: product %d: %v", product.ID, err)
			result.Attributes = append(result.Attributes, AttributeResult{Code: entry.Code, Err: err})
			continue
		}
		canonical, err := attribute.Validate(def, entry.Value)
		if err != nil {
			e.logger.Printf("WARN: productsync: product %d: %v", product.ID, err)
			result.Attributes = append(result.Attributes, AttributeResult{Code: entry.Code, Err: err})
			continue
		}
		value := &domain.AttributeValue{
			ProductID:   product.ID,
			AttributeID: def.ID,
			Code:        def.Code,
			Value:       canonical,
		}
		if err := tx.UpsertAttributeValue(ctx, value); err != nil {
			return err
		}
		kept[def.ID] = true
		result.Attributes = append(result.Attributes, AttributeResult{Code: entry.Code})
	}

	for _, value := range existing {
		if !kept[value.AttributeID] {
			if err := tx.DeleteAttributeValue(ctx, product.ID, value.AttributeID); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileImages diffs by identity: entries with an ID update the
// matching image, entries without one create a new image, and stored
// images not referenced by the payload are deleted.
func (e *Engine) reconcileImages(ctx context.Context, tx store.SyncTx, result *Result, productID int64, entries []ImagePayload) error {
	existing, err := tx.Images(ctx, productID)
	if err != nil {
		return err
	}
	byID := make(map[int64]domain.ProductImage, len(existing))
	for _, img := range existing {
		byID[img.ID] = img
	}

	kept := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		if entry.ID != nil {
			current, ok := byID[*entry.ID]
			if !ok {
				e.logger.Printf("WARN: productsync: image %d not found for product %d, skipping update", *entry.ID, productID)
				result.warnf("image %d not found; entry skipped", *entry.ID)
				continue
			}
			if entry.FileRef != nil {
				current.FileRef = *entry.FileRef
			}
			current.Caption = entry.Caption
			current.DisplayOrder = entry.DisplayOrder
			if err := tx.UpdateImage(ctx, &current); err != nil {
				return err
			}
			kept[current.ID] = true
			continue
		}
		if entry.FileRef == nil {
			result.warnf("image entry without id or file_ref; entry skipped")
			continue
		}
		img := &domain.ProductImage{
			ProductID:    productID,
			FileRef:      *entry.FileRef,
			Caption:      entry.Caption,
			DisplayOrder: entry.DisplayOrder,
		}
		if _, err := tx.CreateImage(ctx, img); err != nil {
			return err
		}
	}

	for _, img := range existing {
		if !kept[img.ID] {
			if err := tx.DeleteImage(ctx, img.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// scheduleIndex re-projects the product into the search index after the
// transaction committed. Fire-and-forget: index staleness is tolerated,
// write latency is not.
func (e *Engine) scheduleIndex(productID int64) {
	if e.indexer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		agg, err := e.catalog.GetAggregate(ctx, productID)
		if err != nil {
			e.logger.Printf("WARN: productsync: failed to load aggregate %d for indexing: %v", productID, err)
			return
		}
		doc := search.BuildDocument(agg)
		if err := e.indexer.Index(ctx, doc); err != nil {
			e.logger.Printf("WARN: productsync: failed to index product %d: %v", productID, err)
		}
	}()
}

func (e *Engine) scheduleRemove(productID int64) {
	if e.indexer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := e.indexer.Remove(ctx, productID); err != nil {
			e.logger.Printf("WARN: productsync: failed to remove product %d from index: %v", productID, err)
		}
	}()
}
