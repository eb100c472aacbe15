package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// OrderStore keeps placed orders in memory.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderStore)(nil)

// NewOrderStore constructs an empty order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.Order)}
}

func (s *OrderStore) Insert(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return conflict("order.insert", "order %s already exists", order.ID)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *OrderStore) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order.find", "order %s not found", orderID)
	}
	return order.Clone(), nil
}

// ListByUser returns the user's orders, newest first.
func (s *OrderStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID == userID && order.Status != domain.OrderStatusVoided {
			out = append(out, order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Mutate applies fn under the store lock. Changes are discarded when fn fails.
func (s *OrderStore) Mutate(_ context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order.mutate", "order %s not found", orderID)
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	s.orders[orderID] = working.Clone()
	return working, nil
}
