package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hanko-field/commerce/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates the product is unknown or no longer sold.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
}

type catalogService struct {
	repo      repositories.ProductRepository
	clock     func() time.Time
	sanitizer *bluemonday.Policy
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		repo: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// GetProduct returns an active product. Inactive products are reported as not found.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrCatalogProductNotFound, id)
		}
		return Product{}, fmt.Errorf("catalog service: get product %s: %w", id, err)
	}
	if !product.Active {
		return Product{}, fmt.Errorf("%w: %s", ErrCatalogProductNotFound, id)
	}
	return product, nil
}

func (s *catalogService) UpsertProduct(ctx context.Context, product Product) (Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product.Name = s.cleanText(product.Name)
	if product.Name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if product.Price.IsNegative() {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if len(product.Variants) == 0 {
		return Product{}, fmt.Errorf("%w: at least one variant is required", ErrCatalogInvalidInput)
	}
	variants := make(map[string]int, len(product.Variants))
	for key, qty := range product.Variants {
		key = strings.TrimSpace(key)
		if key == "" {
			return Product{}, fmt.Errorf("%w: variant key is required", ErrCatalogInvalidInput)
		}
		if qty < 0 {
			return Product{}, fmt.Errorf("%w: variant %s stock must not be negative", ErrCatalogInvalidInput, key)
		}
		variants[key] = qty
	}
	product.Variants = variants
	product.ImageRef = strings.TrimSpace(product.ImageRef)
	product.UpdatedAt = s.clock()

	if err := s.repo.UpsertProduct(ctx, product); err != nil {
		return Product{}, fmt.Errorf("catalog service: upsert product %s: %w", product.ID, err)
	}
	return product, nil
}

// cleanText strips markup and collapses whitespace; entities are decoded after sanitizing.
func (s *catalogService) cleanText(value string) string {
	cleaned := html.UnescapeString(s.sanitizer.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}
