package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// ErrCartUnavailable indicates neither the durable store nor the local cache could serve the cart.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// TieredCartStore pairs the durable cart repository with the local cache. Writes go to the
// durable store first and are mirrored to the cache only once persisted. Reads prefer the
// durable store and fall back to the cache when it is unreachable.
type TieredCartStore struct {
	durable repositories.CartRepository
	cache   repositories.CartCache
	logger  func(context.Context, string, map[string]any)
}

// NewTieredCartStore constructs a two-tier store. The cache is optional.
func NewTieredCartStore(durable repositories.CartRepository, cache repositories.CartCache, logger func(context.Context, string, map[string]any)) (*TieredCartStore, error) {
	if durable == nil {
		return nil, errors.New("tiered cart store: durable repository is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TieredCartStore{durable: durable, cache: cache, logger: logger}, nil
}

// Load returns the cart stored under cartID. found is false when no cart exists yet; stale is
// true when the cart came from the cache because the durable store was unreachable.
func (s *TieredCartStore) Load(ctx context.Context, cartID string) (cart domain.Cart, found bool, stale bool, err error) {
	cart, err = s.durable.GetCart(ctx, cartID)
	switch {
	case err == nil:
		if s.cache != nil {
			s.cache.Put(ctx, cart)
		}
		return cart, true, false, nil
	case repositories.IsNotFound(err):
		return domain.Cart{}, false, false, nil
	case repositories.IsUnavailable(err):
		if s.cache != nil {
			if cached, ok := s.cache.Get(ctx, cartID); ok {
				s.logger(ctx, "cart.store.cache_fallback", map[string]any{
					"cartID": cartID,
					"error":  err.Error(),
				})
				return cached, true, true, nil
			}
		}
		return domain.Cart{}, false, false, fmt.Errorf("%w: %w", ErrCartUnavailable, err)
	default:
		return domain.Cart{}, false, false, err
	}
}

// Save persists the cart durably and then refreshes the cache.
func (s *TieredCartStore) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	saved, err := s.durable.SaveCart(ctx, cart)
	if err != nil {
		if repositories.IsUnavailable(err) {
			return domain.Cart{}, fmt.Errorf("%w: %w", ErrCartUnavailable, err)
		}
		return domain.Cart{}, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, saved)
	}
	return saved, nil
}
