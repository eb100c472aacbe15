package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// CartStore is a durable-store stand-in keyed by cart id. Saves are unconditional; the last writer wins.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

var _ repositories.CartRepository = (*CartStore)(nil)

// NewCartStore constructs an empty cart store.
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]domain.Cart)}
}

func (s *CartStore) GetCart(_ context.Context, cartID string) (domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[strings.TrimSpace(cartID)]
	if !ok {
		return domain.Cart{}, notFound("cart.get", "cart %s not found", cartID)
	}
	return cart.Clone(), nil
}

func (s *CartStore) SaveCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	id := strings.TrimSpace(cart.ID)
	if id == "" {
		return domain.Cart{}, conflict("cart.save", "cart id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[id] = cart.Clone()
	return cart.Clone(), nil
}
