package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	defaultReservationTTL = 15 * time.Minute
	defaultSweepBatch     = 200
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryNotFound indicates the product or variant has no stock record.
	ErrInventoryNotFound = errors.New("inventory: stock not found")
)

// InsufficientStockError names the key that could not be satisfied and by how much.
type InsufficientStockError struct {
	Key       StockKey
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: %s requested %d, available %d", ErrInventoryInsufficientStock, e.Key, e.Requested, e.Available)
}

// Unwrap allows errors.Is(err, ErrInventoryInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return ErrInventoryInsufficientStock
}

// Shortfall returns the number of missing units.
func (e *InsufficientStockError) Shortfall() int {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Ledger         repositories.StockLedger
	Reservations   repositories.ReservationRepository
	ReservationTTL time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)

	// LowStockThreshold logs inventory.low_stock when a decrement leaves this many units or
	// fewer. Zero disables the warning.
	LowStockThreshold int
}

type inventoryService struct {
	ledger       repositories.StockLedger
	reservations repositories.ReservationRepository
	ttl          time.Duration
	lowStock     int
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("inventory service: stock ledger is required")
	}
	if deps.Reservations == nil {
		return nil, errors.New("inventory service: reservation repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}

	return &inventoryService{
		ledger:       deps.Ledger,
		reservations: deps.Reservations,
		ttl:          ttl,
		lowStock:     deps.LowStockThreshold,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) GetAvailable(ctx context.Context, key StockKey) (int, error) {
	if !key.Valid() {
		return 0, fmt.Errorf("%w: product id and variant are required", ErrInventoryInvalidInput)
	}
	available, err := s.ledger.GetAvailable(ctx, key)
	if err != nil {
		return 0, s.mapError(key, err)
	}
	return available, nil
}

func (s *inventoryService) TryDecrement(ctx context.Context, key StockKey, quantity int) (domain.StockRecord, error) {
	if err := validateStockInput(key, quantity); err != nil {
		return domain.StockRecord{}, err
	}
	record, err := s.ledger.TryDecrement(ctx, key, quantity, s.clock())
	if err != nil {
		return domain.StockRecord{}, s.mapError(key, err)
	}
	s.logger(ctx, "inventory.decrement", map[string]any{
		"key":       key.String(),
		"quantity":  quantity,
		"available": record.Available,
	})
	if s.lowStock > 0 && record.Available <= s.lowStock {
		s.logger(ctx, "inventory.low_stock", map[string]any{
			"level":     "warn",
			"key":       key.String(),
			"available": record.Available,
		})
	}
	return record, nil
}

func (s *inventoryService) Increment(ctx context.Context, key StockKey, quantity int) (domain.StockRecord, error) {
	if err := validateStockInput(key, quantity); err != nil {
		return domain.StockRecord{}, err
	}
	record, err := s.ledger.Increment(ctx, key, quantity, s.clock())
	if err != nil {
		return domain.StockRecord{}, s.mapError(key, err)
	}
	s.logger(ctx, "inventory.increment", map[string]any{
		"key":       key.String(),
		"quantity":  quantity,
		"available": record.Available,
	})
	return record, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd ReserveCommand) (Reservation, error) {
	if err := validateStockInput(cmd.Key, cmd.Quantity); err != nil {
		return Reservation{}, err
	}
	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.clock()

	reservation, err := s.reservations.Reserve(ctx, repositories.ReserveRequest{
		Reservation: domain.Reservation{
			ID:         ensureReservationID(s.newID()),
			ProductID:  strings.TrimSpace(cmd.Key.ProductID),
			VariantKey: strings.TrimSpace(cmd.Key.VariantKey),
			Quantity:   cmd.Quantity,
			OwnerID:    strings.TrimSpace(cmd.OwnerID),
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
		},
		Now: now,
	})
	if err != nil {
		return Reservation{}, s.mapError(cmd.Key, err)
	}
	s.logger(ctx, "inventory.reserve", map[string]any{
		"reservationId": reservation.ID,
		"key":           cmd.Key.String(),
		"quantity":      cmd.Quantity,
		"expiresAt":     reservation.ExpiresAt,
	})
	return reservation, nil
}

// Release drops a hold. Unknown, released and expired reservations are a no-op.
func (s *inventoryService) Release(ctx context.Context, reservationID string) error {
	return s.close(ctx, reservationID, domain.ReservationStatusReleased)
}

// Supersede closes a hold whose units were decremented from the ledger.
func (s *inventoryService) Supersede(ctx context.Context, reservationID string) error {
	return s.close(ctx, reservationID, domain.ReservationStatusSuperseded)
}

func (s *inventoryService) close(ctx context.Context, reservationID string, status domain.ReservationStatus) error {
	id := strings.TrimSpace(reservationID)
	if id == "" {
		return fmt.Errorf("%w: reservation id is required", ErrInventoryInvalidInput)
	}
	reservation, changed, err := s.reservations.Close(ctx, id, status, s.clock())
	if err != nil {
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorReservationNotFound {
			return nil
		}
		return fmt.Errorf("inventory: close reservation %s: %w", id, err)
	}
	if changed {
		s.logger(ctx, "inventory.reservation."+string(status), map[string]any{
			"reservationId": id,
			"key":           reservation.Key().String(),
			"quantity":      reservation.Quantity,
		})
	}
	return nil
}

func (s *inventoryService) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	expired, err := s.reservations.ExpireDue(ctx, s.clock(), limit)
	if err != nil {
		return expired, fmt.Errorf("inventory: sweep expired reservations: %w", err)
	}
	if expired > 0 {
		s.logger(ctx, "inventory.reservation.sweep", map[string]any{"expired": expired})
	}
	return expired, nil
}

func (s *inventoryService) mapError(key StockKey, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{Key: key, Requested: invErr.Requested, Available: max(invErr.Available, 0)}
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryNotFound, key)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}
	if repositories.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrInventoryNotFound, key)
	}
	return fmt.Errorf("inventory: %s: %w", key, err)
}

func validateStockInput(key StockKey, quantity int) error {
	if !key.Valid() {
		return fmt.Errorf("%w: product id and variant are required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}
	return nil
}

func ensureReservationID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "rsv_") {
		return id
	}
	return "rsv_" + id
}
