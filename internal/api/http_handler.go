package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"marketplace-catalog-service/internal/domain"
	"marketplace-catalog-service/internal/geo"
	"marketplace-catalog-service/internal/productsync"
	"marketplace-catalog-service/internal/proximity"
	"marketplace-catalog-service/internal/store"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100
	defaultRadiusKm = 5
)

// Synchronizer is the write path consumed by the partner handlers.
type Synchronizer interface {
	Create(ctx context.Context, partner domain.Partner, p productsync.Payload) (*productsync.Result, error)
	Update(ctx context.Context, partner domain.Partner, productID int64, p productsync.Payload) (*productsync.Result, error)
	Delete(ctx context.Context, partner domain.Partner, productID int64) error
}

// NearbyResolver is the geospatial read path consumed by the nearby handler.
type NearbyResolver interface {
	Nearby(ctx context.Context, point domain.Point, radiusKm float64) ([]proximity.Match, error)
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	catalog  store.CatalogStorer
	engine   Synchronizer
	resolver NearbyResolver
	validate *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(catalog store.CatalogStorer, engine Synchronizer, resolver NearbyResolver) *HTTPHandler {
	return &HTTPHandler{
		catalog:  catalog,
		engine:   engine,
		resolver: resolver,
		validate: validator.New(),
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil { // Avoid writing empty body for 204 No Content
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("ERROR: Failed to encode JSON response: %v", err)
			http.Error(w, `{"error": "Internal server error during JSON encoding"}`, http.StatusInternalServerError)
		}
	}
}

func parsePagination(r *http.Request) (page, limit, offset int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page, err = strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}

// PaginatedProducts matches the list-endpoint response envelope.
type PaginatedProducts struct {
	Data       []domain.Product `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// Pagination matches the OpenAPI PaginationInfo object.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

func paginated(products []domain.Product, page, limit, totalCount int) PaginatedProducts {
	totalPages := 0
	if totalCount > 0 {
		totalPages = (totalCount + limit - 1) / limit
	}
	if products == nil {
		products = []domain.Product{}
	}
	return PaginatedProducts{
		Data: products,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			TotalItems: totalCount,
			TotalPages: totalPages,
		},
	}
}

// --- Public Catalog Handlers ---

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	qParams := r.URL.Query()
	page, limit, offset := parsePagination(r)

	params := store.ListProductsParams{
		Limit:      limit,
		Offset:     offset,
		OnlyPublic: true,
	}

	if slug := qParams.Get("category"); slug != "" {
		params.CategorySlug = &slug
	}
	if priceStr := qParams.Get("min_price"); priceStr != "" {
		if price, err := strconv.ParseFloat(priceStr, 64); err == nil && price >= 0 {
			params.MinPrice = &price
		} else {
			respondWithError(w, http.StatusBadRequest, "Invalid min_price format")
			return
		}
	}
	if priceStr := qParams.Get("max_price"); priceStr != "" {
		if price, err := strconv.ParseFloat(priceStr, 64); err == nil && price >= 0 {
			params.MaxPrice = &price
		} else {
			respondWithError(w, http.StatusBadRequest, "Invalid max_price format")
			return
		}
	}
	if params.MinPrice != nil && params.MaxPrice != nil && *params.MinPrice > *params.MaxPrice {
		respondWithError(w, http.StatusBadRequest, "min_price cannot exceed max_price")
		return
	}
	if idStr := qParams.Get("partner"); idStr != "" {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil && id > 0 {
			params.PartnerID = &id
		} else {
			respondWithError(w, http.StatusBadRequest, "Invalid partner format")
			return
		}
	}
	if condStr := qParams.Get("condition"); condStr != "" {
		cond := domain.Condition(condStr)
		if !cond.Valid() {
			respondWithError(w, http.StatusBadRequest, "Invalid condition value")
			return
		}
		params.Condition = &cond
	}

	params.SortBy = qParams.Get("sort_by")
	params.SortOrder = qParams.Get("sort_order")

	allowedSortFields := map[string]bool{"title": true, "price": true, "created_at": true, "": true}
	if !allowedSortFields[params.SortBy] {
		respondWithError(w, http.StatusBadRequest, "Invalid sort_by field. Allowed: title, price, created_at")
		return
	}
	if params.SortOrder != "" && strings.ToLower(params.SortOrder) != "asc" && strings.ToLower(params.SortOrder) != "desc" {
		respondWithError(w, http.StatusBadRequest, "Invalid sort_order value. Allowed: asc, desc")
		return
	}

	products, totalCount, err := h.catalog.ListProducts(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: ListProducts store operation failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve products")
		return
	}

	respondWithJSON(w, http.StatusOK, paginated(products, page, limit, totalCount))
}

func (h *HTTPHandler) GetProductByID(w http.ResponseWriter, r *http.Request) {
	productID, err := parseProductID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	aggregate, err := h.catalog.GetAggregate(r.Context(), productID)
	if err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
			return
		}
		log.Printf("ERROR: GetAggregate store operation for ID %d failed: %v", productID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve product")
		return
	}
	respondWithJSON(w, http.StatusOK, aggregate)
}

func (h *HTTPHandler) NearbyProducts(w http.ResponseWriter, r *http.Request) {
	qParams := r.URL.Query()

	lat, errLat := strconv.ParseFloat(qParams.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(qParams.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		respondWithError(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}

	radius := float64(defaultRadiusKm)
	if radiusStr := qParams.Get("radius"); radiusStr != "" {
		parsed, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid radius format")
			return
		}
		radius = parsed
	}

	matches, err := h.resolver.Nearby(r.Context(), domain.Point{Lat: lat, Lon: lon}, radius)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinates) || errors.Is(err, geo.ErrInvalidRadius) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("ERROR: Nearby resolution failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve nearby products")
		return
	}

	respondWithJSON(w, http.StatusOK, struct {
		Data []proximity.Match `json:"data"`
	}{Data: matches})
}

// --- Partner Sync Handlers ---

// StockCreateInput carries the stock record fields for a new listing.
type StockCreateInput struct {
	WarehouseID       *int64   `json:"warehouse_id" validate:"omitempty,gt=0"`
	PartnerSKU        *string  `json:"partner_sku" validate:"omitempty,max=128"`
	Price             *float64 `json:"price" validate:"required,gte=0"`
	NumInStock        *int     `json:"num_in_stock" validate:"required,gte=0"`
	NumAllocated      *int     `json:"num_allocated" validate:"omitempty,gte=0"`
	LowStockThreshold *int     `json:"low_stock_threshold" validate:"omitempty,gte=0"`
}

// StockUpdateInput is a field-level stock patch. Omitted fields are left
// unchanged; clear_warehouse detaches the warehouse.
type StockUpdateInput struct {
	WarehouseID       *int64   `json:"warehouse_id" validate:"omitempty,gt=0"`
	ClearWarehouse    bool     `json:"clear_warehouse"`
	PartnerSKU        *string  `json:"partner_sku" validate:"omitempty,max=128"`
	Price             *float64 `json:"price" validate:"omitempty,gte=0"`
	NumInStock        *int     `json:"num_in_stock" validate:"omitempty,gte=0"`
	NumAllocated      *int     `json:"num_allocated" validate:"omitempty,gte=0"`
	LowStockThreshold *int     `json:"low_stock_threshold" validate:"omitempty,gte=0"`
}

// AttributeInput is one attribute entry; value is validated against the
// product class definition downstream.
type AttributeInput struct {
	Code  string      `json:"code" validate:"required,max=128"`
	Value interface{} `json:"value"`
}

// ImageInput is one image entry. An id updates the matching image, an
// entry without an id creates one.
type ImageInput struct {
	ID           *int64  `json:"id" validate:"omitempty,gt=0"`
	FileRef      *string `json:"file_ref" validate:"omitempty,max=512"`
	Caption      string  `json:"caption" validate:"max=255"`
	DisplayOrder int     `json:"display_order" validate:"gte=0"`
}

// ProductCreateInput defines the expected input for creating a listing.
type ProductCreateInput struct {
	UPC          *string           `json:"upc" validate:"omitempty,max=64"`
	Title        string            `json:"title" validate:"required,max=255"`
	Description  *string           `json:"description" validate:"omitempty"`
	ProductClass string            `json:"product_class" validate:"required,max=255"`
	Condition    *string           `json:"condition" validate:"omitempty,oneof=new used slightly_damaged damaged"`
	IsPublic     *bool             `json:"is_public"`
	Stock        *StockCreateInput `json:"stock" validate:"required"`
	Attributes   *[]AttributeInput `json:"attributes" validate:"omitempty,dive"`
	Categories   *[]int64          `json:"categories" validate:"omitempty,dive,gt=0"`
	Images       *[]ImageInput     `json:"images" validate:"omitempty,dive"`
}

// ProductUpdateInput defines the expected input for patching a listing.
// Omitted fields and collections are left untouched; sending "upc": ""
// clears the stored UPC.
type ProductUpdateInput struct {
	UPC         *string           `json:"upc" validate:"omitempty,max=64"`
	Title       *string           `json:"title" validate:"omitempty,max=255"`
	Description *string           `json:"description" validate:"omitempty"`
	Condition   *string           `json:"condition" validate:"omitempty,oneof=new used slightly_damaged damaged"`
	IsPublic    *bool             `json:"is_public"`
	Stock       *StockUpdateInput `json:"stock"`
	Attributes  *[]AttributeInput `json:"attributes" validate:"omitempty,dive"`
	Categories  *[]int64          `json:"categories" validate:"omitempty,dive,gt=0"`
	Images      *[]ImageInput     `json:"images" validate:"omitempty,dive"`
}

// AttributeOutcome reports one attribute entry's fate in the response.
type AttributeOutcome struct {
	Code    string `json:"code"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// SyncResponse is the partial-success report returned by create and
// update: the product plus per-attribute outcomes and warnings.
type SyncResponse struct {
	Product    *domain.Product    `json:"product"`
	Attributes []AttributeOutcome `json:"attributes,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

func syncResponse(result *productsync.Result) SyncResponse {
	resp := SyncResponse{Product: result.Product, Warnings: result.Warnings}
	for _, ar := range result.Attributes {
		outcome := AttributeOutcome{Code: ar.Code, Applied: ar.Applied()}
		if ar.Err != nil {
			outcome.Error = ar.Err.Error()
		}
		resp.Attributes = append(resp.Attributes, outcome)
	}
	return resp
}

func (h *HTTPHandler) ListOwnProducts(w http.ResponseWriter, r *http.Request) {
	partner, ok := PartnerFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Tenant context missing or invalid")
		return
	}

	page, limit, offset := parsePagination(r)
	products, totalCount, err := h.catalog.ListProducts(r.Context(), store.ListProductsParams{
		Limit:     limit,
		Offset:    offset,
		PartnerID: &partner.ID,
	})
	if err != nil {
		log.Printf("ERROR: ListOwnProducts store operation for partner %d failed: %v", partner.ID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve products")
		return
	}

	respondWithJSON(w, http.StatusOK, paginated(products, page, limit, totalCount))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	partner, ok := PartnerFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Tenant context missing or invalid")
		return
	}

	var input ProductCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	payload := productsync.Payload{
		UPC:              input.UPC,
		Title:            &input.Title,
		Description:      input.Description,
		ProductClassSlug: input.ProductClass,
		Condition:        conditionPtr(input.Condition),
		IsPublic:         input.IsPublic,
		Stock: &productsync.StockPayload{
			WarehouseID:       input.Stock.WarehouseID,
			PartnerSKU:        input.Stock.PartnerSKU,
			Price:             input.Stock.Price,
			NumInStock:        input.Stock.NumInStock,
			NumAllocated:      input.Stock.NumAllocated,
			LowStockThreshold: input.Stock.LowStockThreshold,
		},
		Attributes: attributePayloads(input.Attributes),
		Categories: input.Categories,
		Images:     imagePayloads(input.Images),
	}

	result, err := h.engine.Create(r.Context(), partner, payload)
	if err != nil {
		log.Printf("ERROR: Product create for partner %d failed: %v", partner.ID, err)
		h.respondSyncError(w, err, "Failed to create product")
		return
	}

	respondWithJSON(w, http.StatusCreated, syncResponse(result))
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	partner, ok := PartnerFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Tenant context missing or invalid")
		return
	}

	productID, err := parseProductID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	var input ProductUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	// A partner can only address products it holds a stock record for.
	owns, err := h.catalog.OwnsProduct(r.Context(), partner.ID, productID)
	if err != nil {
		log.Printf("ERROR: Ownership check for partner %d product %d failed: %v", partner.ID, productID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to update product")
		return
	}
	if !owns {
		respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
		return
	}

	payload := productsync.Payload{
		UPC:         input.UPC,
		Title:       input.Title,
		Description: input.Description,
		Condition:   conditionPtr(input.Condition),
		IsPublic:    input.IsPublic,
		Attributes:  attributePayloads(input.Attributes),
		Categories:  input.Categories,
		Images:      imagePayloads(input.Images),
	}
	if input.Stock != nil {
		payload.Stock = &productsync.StockPayload{
			WarehouseID:       input.Stock.WarehouseID,
			ClearWarehouse:    input.Stock.ClearWarehouse,
			PartnerSKU:        input.Stock.PartnerSKU,
			Price:             input.Stock.Price,
			NumInStock:        input.Stock.NumInStock,
			NumAllocated:      input.Stock.NumAllocated,
			LowStockThreshold: input.Stock.LowStockThreshold,
		}
	}

	result, err := h.engine.Update(r.Context(), partner, productID, payload)
	if err != nil {
		log.Printf("ERROR: Product update for partner %d product %d failed: %v", partner.ID, productID, err)
		h.respondSyncError(w, err, "Failed to update product")
		return
	}

	respondWithJSON(w, http.StatusOK, syncResponse(result))
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	partner, ok := PartnerFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Tenant context missing or invalid")
		return
	}

	productID, err := parseProductID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	if err := h.engine.Delete(r.Context(), partner, productID); err != nil {
		log.Printf("ERROR: Product delete for partner %d product %d failed: %v", partner.ID, productID, err)
		h.respondSyncError(w, err, "Failed to delete product")
		return
	}

	respondWithJSON(w, http.StatusNoContent, nil)
}

func (h *HTTPHandler) respondSyncError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrProductNotFound):
		respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
	case errors.Is(err, store.ErrProductClassNotFound):
		respondWithError(w, http.StatusBadRequest, "Invalid product_class: class does not exist")
	case errors.Is(err, store.ErrCategoryNotFound):
		respondWithError(w, http.StatusBadRequest, "Invalid categories: category does not exist")
	case errors.Is(err, productsync.ErrDuplicateProduct):
		respondWithError(w, http.StatusConflict, productsync.ErrDuplicateProduct.Error())
	case errors.Is(err, productsync.ErrInvalidWarehouse):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, productsync.ErrNotProductOwner):
		respondWithError(w, http.StatusForbidden, productsync.ErrNotProductOwner.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

func parseProductID(r *http.Request) (int64, error) {
	idStr := chi.URLParam(r, "productId")
	productID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || productID <= 0 {
		return 0, fmt.Errorf("invalid product id %q", idStr)
	}
	return productID, nil
}

func conditionPtr(s *string) *domain.Condition {
	if s == nil {
		return nil
	}
	cond := domain.Condition(*s)
	return &cond
}

func attributePayloads(inputs *[]AttributeInput) *[]productsync.AttributePayload {
	if inputs == nil {
		return nil
	}
	entries := make([]productsync.AttributePayload, 0, len(*inputs))
	for _, in := range *inputs {
		entries = append(entries, productsync.AttributePayload{Code: in.Code, Value: in.Value})
	}
	return &entries
}

func imagePayloads(inputs *[]ImageInput) *[]productsync.ImagePayload {
	if inputs == nil {
		return nil
	}
	entries := make([]productsync.ImagePayload, 0, len(*inputs))
	for _, in := range *inputs {
		entries = append(entries, productsync.ImagePayload{
			ID:           in.ID,
			FileRef:      in.FileRef,
			Caption:      in.Caption,
			DisplayOrder: in.DisplayOrder,
		})
	}
	return &entries
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router, tenant *TenantMiddleware) {
	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", h.ListProducts) // GET /api/v1/products
		// Must come before {productId} so "nearby" is not parsed as an ID
		r.Get("/nearby", h.NearbyProducts)      // GET /api/v1/products/nearby
		r.Get("/{productId}", h.GetProductByID) // GET /api/v1/products/{productId}
	})

	r.Route("/api/v1/partner/products", func(r chi.Router) {
		r.Use(tenant.RequireVerifiedPartner)
		r.Get("/", h.ListOwnProducts) // GET /api/v1/partner/products
		r.Post("/", h.CreateProduct)  // POST /api/v1/partner/products
		r.Route("/{productId}", func(r chi.Router) {
			r.Put("/", h.UpdateProduct)    // PUT /api/v1/partner/products/{productId}
			r.Delete("/", h.DeleteProduct) // DELETE /api/v1/partner/products/{productId}
		})
	})
}
