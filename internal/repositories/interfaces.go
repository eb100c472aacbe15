package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err carries a repository not-found classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a repository conflict classification, such as a create
// against an existing document.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a transient backend failure worth retrying.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// ProductRepository is the catalog lookup: products with an embedded per-variant stock map.
type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) error
}

// StockLedger is the authoritative available quantity per (product, variant). Every mutation is
// a single conditional operation per key.
type StockLedger interface {
	GetAvailable(ctx context.Context, key domain.StockKey) (int, error)
	TryDecrement(ctx context.Context, key domain.StockKey, quantity int, now time.Time) (domain.StockRecord, error)
	Increment(ctx context.Context, key domain.StockKey, quantity int, now time.Time) (domain.StockRecord, error)
}

// ReservationRepository stores TTL holds against the ledger.
type ReservationRepository interface {
	// Reserve checks available minus live reservations and creates the hold in one atomic step.
	Reserve(ctx context.Context, req ReserveRequest) (domain.Reservation, error)
	// Close moves an active reservation to a closed status. The boolean reports whether the
	// reservation changed; closing an already closed or expired reservation is not an error.
	Close(ctx context.Context, reservationID string, status domain.ReservationStatus, now time.Time) (domain.Reservation, bool, error)
	// HeldQuantity sums live reservations for the key at now.
	HeldQuantity(ctx context.Context, key domain.StockKey, now time.Time) (int, error)
	// ExpireDue marks up to limit reservations past their expiry as expired.
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// ReserveRequest describes a hold to be created.
type ReserveRequest struct {
	Reservation domain.Reservation
	Now         time.Time
}

// CartRepository is the durable cart store keyed by identity.
type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
}

// CartCache is the fast local mirror consulted when the durable cart store is unreachable.
type CartCache interface {
	Get(ctx context.Context, cartID string) (domain.Cart, bool)
	Put(ctx context.Context, cart domain.Cart)
}

// OrderRepository persists placed orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	// Mutate applies fn to the stored order inside a read-modify-write boundary. fn may be invoked
	// more than once when the backend retries.
	Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, now time.Time) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
