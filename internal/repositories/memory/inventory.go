package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Inventory keeps products, their per-variant stock and reservations behind one lock, so the
// ledger check-and-decrement and the reservation check-and-hold are each a single critical section.
type Inventory struct {
	mu           sync.Mutex
	products     map[string]domain.Product
	reservations map[string]domain.Reservation
}

var (
	_ repositories.ProductRepository     = (*Inventory)(nil)
	_ repositories.StockLedger           = (*Inventory)(nil)
	_ repositories.ReservationRepository = (*Inventory)(nil)
)

// NewInventory constructs an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		products:     make(map[string]domain.Product),
		reservations: make(map[string]domain.Reservation),
	}
}

// GetProduct returns the product including its current stock map.
func (s *Inventory) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, notFound("product.get", "product %s not found", productID)
	}
	return cloneProduct(product), nil
}

// UpsertProduct stores the product, replacing stock levels with product.Variants.
func (s *Inventory) UpsertProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("product.upsert: id is required")
	}
	for variant, qty := range product.Variants {
		if qty < 0 {
			return fmt.Errorf("product.upsert: variant %s has negative stock", variant)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = cloneProduct(product)
	return nil
}

// GetAvailable returns the ledger quantity for the key.
func (s *Inventory) GetAvailable(_ context.Context, key domain.StockKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	available, err := s.availableLocked("ledger.get", key)
	if err != nil {
		return 0, err
	}
	return available, nil
}

// TryDecrement subtracts quantity when enough stock remains, otherwise it leaves the ledger
// untouched and reports the shortfall.
func (s *Inventory) TryDecrement(_ context.Context, key domain.StockKey, quantity int, now time.Time) (domain.StockRecord, error) {
	if quantity <= 0 {
		return domain.StockRecord{}, invalidQuantity("ledger.decrement", quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	available, err := s.availableLocked("ledger.decrement", key)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if available < quantity {
		invErr := repositories.NewInsufficientStockError(key.String(), quantity, available)
		invErr.Op = "ledger.decrement"
		return domain.StockRecord{}, invErr
	}
	return s.setLocked(key, available-quantity, now), nil
}

// Increment adds quantity back to the ledger.
func (s *Inventory) Increment(_ context.Context, key domain.StockKey, quantity int, now time.Time) (domain.StockRecord, error) {
	if quantity <= 0 {
		return domain.StockRecord{}, invalidQuantity("ledger.increment", quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	available, err := s.availableLocked("ledger.increment", key)
	if err != nil {
		return domain.StockRecord{}, err
	}
	return s.setLocked(key, available+quantity, now), nil
}

// Reserve holds stock when available minus live holds covers the request.
func (s *Inventory) Reserve(_ context.Context, req repositories.ReserveRequest) (domain.Reservation, error) {
	reservation := req.Reservation
	if strings.TrimSpace(reservation.ID) == "" {
		return domain.Reservation{}, fmt.Errorf("reservation.reserve: id is required")
	}
	if reservation.Quantity <= 0 {
		return domain.Reservation{}, invalidQuantity("reservation.reserve", reservation.Quantity)
	}
	now := req.Now.UTC()
	key := reservation.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[reservation.ID]; exists {
		return domain.Reservation{}, conflict("reservation.reserve", "reservation %s already exists", reservation.ID)
	}
	available, err := s.availableLocked("reservation.reserve", key)
	if err != nil {
		return domain.Reservation{}, err
	}
	free := available - s.heldLocked(key, now)
	if free < reservation.Quantity {
		invErr := repositories.NewInsufficientStockError(key.String(), reservation.Quantity, free)
		invErr.Op = "reservation.reserve"
		return domain.Reservation{}, invErr
	}

	reservation.Status = domain.ReservationStatusActive
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.ReleasedAt = nil
	s.reservations[reservation.ID] = reservation
	return reservation, nil
}

// Close transitions an active reservation. Holds that already lapsed are marked expired instead
// and reported as unchanged.
func (s *Inventory) Close(_ context.Context, reservationID string, status domain.ReservationStatus, now time.Time) (domain.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, false, repositories.NewInventoryError(
			repositories.InventoryErrorReservationNotFound,
			fmt.Sprintf("reservation %s not found", reservationID), nil)
	}
	if reservation.Status != domain.ReservationStatusActive {
		return reservation, false, nil
	}

	now = now.UTC()
	if !reservation.IsLive(now) {
		reservation.Status = domain.ReservationStatusExpired
		reservation.ReleasedAt = &now
		s.reservations[reservationID] = reservation
		return reservation, false, nil
	}

	reservation.Status = status
	reservation.ReleasedAt = &now
	s.reservations[reservationID] = reservation
	return reservation, true, nil
}

// HeldQuantity sums the live holds for the key.
func (s *Inventory) HeldQuantity(_ context.Context, key domain.StockKey, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldLocked(key, now.UTC()), nil
}

// ExpireDue marks the oldest lapsed holds as expired.
func (s *Inventory) ExpireDue(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]domain.Reservation, 0)
	for _, reservation := range s.reservations {
		if reservation.Status == domain.ReservationStatusActive && !reservation.ExpiresAt.After(now) {
			due = append(due, reservation)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ExpiresAt.Before(due[j].ExpiresAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, reservation := range due {
		reservation.Status = domain.ReservationStatusExpired
		expiredAt := now
		reservation.ReleasedAt = &expiredAt
		s.reservations[reservation.ID] = reservation
	}
	return len(due), nil
}

func (s *Inventory) availableLocked(op string, key domain.StockKey) (int, error) {
	product, ok := s.products[key.ProductID]
	if !ok || !product.HasVariant(key.VariantKey) {
		return 0, repositories.NewInventoryError(
			repositories.InventoryErrorStockNotFound,
			fmt.Sprintf("%s: no stock record for %s", op, key), nil)
	}
	return product.Variants[key.VariantKey], nil
}

func (s *Inventory) setLocked(key domain.StockKey, available int, now time.Time) domain.StockRecord {
	product := s.products[key.ProductID]
	variants := maps.Clone(product.Variants)
	variants[key.VariantKey] = available
	product.Variants = variants
	product.UpdatedAt = now.UTC()
	s.products[key.ProductID] = product
	return domain.StockRecord{Key: key, Available: available, UpdatedAt: product.UpdatedAt}
}

func (s *Inventory) heldLocked(key domain.StockKey, now time.Time) int {
	held := 0
	for _, reservation := range s.reservations {
		if reservation.ProductID == key.ProductID && reservation.VariantKey == key.VariantKey && reservation.IsLive(now) {
			held += reservation.Quantity
		}
	}
	return held
}

func invalidQuantity(op string, quantity int) *repositories.InventoryError {
	err := repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity,
		fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	err.Op = op
	return err
}

func cloneProduct(product domain.Product) domain.Product {
	out := product
	out.Variants = maps.Clone(product.Variants)
	return out
}
