package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	productsCollection     = "products"
	reservationsCollection = "reservations"
)

// productDocument stores a catalog product with its per-variant stock map. holdVersion is bumped by
// every reservation so concurrent reservers of the same product conflict inside their transactions.
type productDocument struct {
	Name        string           `firestore:"name"`
	Price       string           `firestore:"price"`
	ImageRef    string           `firestore:"imageRef,omitempty"`
	Variants    map[string]int64 `firestore:"variants"`
	Active      bool             `firestore:"active"`
	HoldVersion int64            `firestore:"holdVersion"`
	UpdatedAt   time.Time        `firestore:"updatedAt"`
}

type reservationDocument struct {
	ProductID  string     `firestore:"productId"`
	VariantKey string     `firestore:"variantKey"`
	Quantity   int        `firestore:"quantity"`
	OwnerID    string     `firestore:"ownerId"`
	Status     string     `firestore:"status"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	ExpiresAt  time.Time  `firestore:"expiresAt"`
	ReleasedAt *time.Time `firestore:"releasedAt,omitempty"`
}

// InventoryRepository implements the product catalog, the stock ledger and reservation holds on
// top of the products and reservations collections.
type InventoryRepository struct {
	provider     *pfirestore.Provider
	products     *pfirestore.BaseRepository[productDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

var (
	_ repositories.ProductRepository     = (*InventoryRepository)(nil)
	_ repositories.StockLedger           = (*InventoryRepository)(nil)
	_ repositories.ReservationRepository = (*InventoryRepository)(nil)
)

func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider:     provider,
		products:     pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		reservations: pfirestore.NewBaseRepository[reservationDocument](provider, reservationsCollection),
	}, nil
}

func (r *InventoryRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("inventory repository not initialised")
	}
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// UpsertProduct writes catalog fields and stock levels. The hold version is preserved.
func (r *InventoryRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("products.upsert: id is required")
	}
	variants := make(map[string]int64, len(product.Variants))
	for key, qty := range product.Variants {
		if qty < 0 {
			return fmt.Errorf("products.upsert: variant %s has negative stock", key)
		}
		variants[key] = int64(qty)
	}
	updatedAt := product.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.products.Set(ctx, id, productDocument{
		Name:      strings.TrimSpace(product.Name),
		Price:     product.Price.StringFixed(2),
		ImageRef:  strings.TrimSpace(product.ImageRef),
		Variants:  variants,
		Active:    product.Active,
		UpdatedAt: updatedAt,
	}, firestore.Merge(
		firestore.FieldPath{"name"},
		firestore.FieldPath{"price"},
		firestore.FieldPath{"imageRef"},
		firestore.FieldPath{"variants"},
		firestore.FieldPath{"active"},
		firestore.FieldPath{"updatedAt"},
	))
	return err
}

func (r *InventoryRepository) GetAvailable(ctx context.Context, key domain.StockKey) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("inventory repository not initialised")
	}
	doc, err := r.products.Get(ctx, key.ProductID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return 0, stockNotFound("ledger.get", key, err)
		}
		return 0, err
	}
	qty, ok := doc.Data.Variants[key.VariantKey]
	if !ok {
		return 0, stockNotFound("ledger.get", key, nil)
	}
	return int(qty), nil
}

// TryDecrement reads and conditionally writes the variant count in one transaction.
func (r *InventoryRepository) TryDecrement(ctx context.Context, key domain.StockKey, quantity int, now time.Time) (domain.StockRecord, error) {
	if quantity <= 0 {
		return domain.StockRecord{}, invalidQuantity("ledger.decrement", quantity)
	}
	return r.adjust(ctx, "ledger.decrement", key, now, func(available int) (int, error) {
		if available < quantity {
			return 0, repositories.NewInsufficientStockError(key.String(), quantity, available)
		}
		return available - quantity, nil
	})
}

func (r *InventoryRepository) Increment(ctx context.Context, key domain.StockKey, quantity int, now time.Time) (domain.StockRecord, error) {
	if quantity <= 0 {
		return domain.StockRecord{}, invalidQuantity("ledger.increment", quantity)
	}
	return r.adjust(ctx, "ledger.increment", key, now, func(available int) (int, error) {
		return available + quantity, nil
	})
}

func (r *InventoryRepository) adjust(ctx context.Context, op string, key domain.StockKey, now time.Time, next func(available int) (int, error)) (domain.StockRecord, error) {
	if r == nil || r.provider == nil {
		return domain.StockRecord{}, errors.New("inventory repository not initialised")
	}
	now = now.UTC()

	var record domain.StockRecord
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, key.ProductID)
		if err != nil {
			return err
		}
		doc, err := r.getProduct(ctx, tx, ref, op, key)
		if err != nil {
			return err
		}
		current, ok := doc.Variants[key.VariantKey]
		if !ok {
			return stockNotFound(op, key, nil)
		}
		updated, err := next(int(current))
		if err != nil {
			return err
		}
		record = domain.StockRecord{Key: key, Available: updated, UpdatedAt: now}
		return tx.Update(ref, []firestore.Update{
			{FieldPath: firestore.FieldPath{"variants", key.VariantKey}, Value: int64(updated)},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return domain.StockRecord{}, wrapInventoryError(op, err)
	}
	return record, nil
}

// Reserve sums live holds and creates the new hold in the same transaction. The product document
// is rewritten so a concurrent reserver observes a conflict and retries against fresh data.
func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.ReserveRequest) (domain.Reservation, error) {
	if r == nil || r.provider == nil {
		return domain.Reservation{}, errors.New("inventory repository not initialised")
	}
	reservation := req.Reservation
	if strings.TrimSpace(reservation.ID) == "" {
		return domain.Reservation{}, errors.New("reservations.reserve: id is required")
	}
	if reservation.Quantity <= 0 {
		return domain.Reservation{}, invalidQuantity("reservations.reserve", reservation.Quantity)
	}
	now := req.Now.UTC()
	key := reservation.Key()
	reservation.Status = domain.ReservationStatusActive
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.ReleasedAt = nil

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef, err := r.products.DocumentRef(ctx, key.ProductID)
		if err != nil {
			return err
		}
		resRef, err := r.reservations.DocumentRef(ctx, reservation.ID)
		if err != nil {
			return err
		}
		doc, err := r.getProduct(ctx, tx, productRef, "reservations.reserve", key)
		if err != nil {
			return err
		}
		available, ok := doc.Variants[key.VariantKey]
		if !ok {
			return stockNotFound("reservations.reserve", key, nil)
		}

		coll, err := r.reservations.CollectionRef(ctx)
		if err != nil {
			return err
		}
		held, err := sumLive(tx.Documents(liveQuery(coll, key)), now)
		if err != nil {
			return err
		}
		free := int(available) - held
		if free < reservation.Quantity {
			return repositories.NewInsufficientStockError(key.String(), reservation.Quantity, free)
		}

		if err := tx.Create(resRef, newReservationDocument(reservation)); err != nil {
			return err
		}
		return tx.Update(productRef, []firestore.Update{
			{Path: "holdVersion", Value: firestore.Increment(1)},
		})
	})
	if err != nil {
		return domain.Reservation{}, wrapInventoryError("reservations.reserve", err)
	}
	return reservation, nil
}

func (r *InventoryRepository) Close(ctx context.Context, reservationID string, target domain.ReservationStatus, now time.Time) (domain.Reservation, bool, error) {
	if r == nil || r.provider == nil {
		return domain.Reservation{}, false, errors.New("inventory repository not initialised")
	}
	now = now.UTC()

	var (
		result  domain.Reservation
		changed bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		ref, err := r.reservations.DocumentRef(ctx, reservationID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), nil)
			}
			return err
		}
		decoded, err := r.reservations.Decode(ctx, snap)
		if err != nil {
			return err
		}
		result = decoded.Data.toDomain(reservationID)
		if result.Status != domain.ReservationStatusActive {
			return nil
		}

		if result.IsLive(now) {
			result.Status = target
			changed = true
		} else {
			result.Status = domain.ReservationStatusExpired
		}
		result.ReleasedAt = &now
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(result.Status)},
			{Path: "releasedAt", Value: now},
		})
	})
	if err != nil {
		return domain.Reservation{}, false, wrapInventoryError("reservations.close", err)
	}
	return result, changed, nil
}

func (r *InventoryRepository) HeldQuantity(ctx context.Context, key domain.StockKey, now time.Time) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("inventory repository not initialised")
	}
	coll, err := r.reservations.CollectionRef(ctx)
	if err != nil {
		return 0, err
	}
	held, err := sumLive(liveQuery(coll, key).Documents(ctx), now.UTC())
	if err != nil {
		return 0, pfirestore.WrapError("reservations.held", err)
	}
	return held, nil
}

// ExpireDue marks lapsed holds expired. Each hold is closed in its own transaction so a concurrent
// release or supersede wins cleanly.
func (r *InventoryRepository) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("inventory repository not initialised")
	}
	now = now.UTC()
	docs, err := r.reservations.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.ReservationStatusActive)).
			Where("expiresAt", "<=", now).
			OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, doc := range docs {
		closed, _, err := r.Close(ctx, doc.ID, domain.ReservationStatusExpired, now)
		if err != nil {
			return expired, err
		}
		if closed.Status == domain.ReservationStatusExpired {
			expired++
		}
	}
	return expired, nil
}

func (r *InventoryRepository) getProduct(ctx context.Context, tx *firestore.Transaction, ref *firestore.DocumentRef, op string, key domain.StockKey) (productDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return productDocument{}, stockNotFound(op, key, err)
		}
		return productDocument{}, err
	}
	decoded, err := r.products.Decode(ctx, snap)
	if err != nil {
		return productDocument{}, fmt.Errorf("decode product %s: %w", key.ProductID, err)
	}
	return decoded.Data, nil
}

func liveQuery(coll *firestore.CollectionRef, key domain.StockKey) firestore.Query {
	return coll.Where("productId", "==", key.ProductID).
		Where("variantKey", "==", key.VariantKey).
		Where("status", "==", string(domain.ReservationStatusActive))
}

func sumLive(iter *firestore.DocumentIterator, now time.Time) (int, error) {
	defer iter.Stop()
	held := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return held, nil
		}
		if err != nil {
			return 0, err
		}
		var doc reservationDocument
		if err := snap.DataTo(&doc); err != nil {
			return 0, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
		}
		if now.Before(doc.ExpiresAt) {
			held += doc.Quantity
		}
	}
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price := decimal.Zero
	if strings.TrimSpace(d.Price) != "" {
		parsed, err := decimal.NewFromString(d.Price)
		if err != nil {
			return domain.Product{}, fmt.Errorf("decode product %s price: %w", id, err)
		}
		price = parsed
	}
	variants := make(map[string]int, len(d.Variants))
	for key, qty := range d.Variants {
		variants[key] = int(qty)
	}
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Price:     price,
		ImageRef:  d.ImageRef,
		Variants:  variants,
		Active:    d.Active,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func newReservationDocument(res domain.Reservation) reservationDocument {
	return reservationDocument{
		ProductID:  strings.TrimSpace(res.ProductID),
		VariantKey: strings.TrimSpace(res.VariantKey),
		Quantity:   res.Quantity,
		OwnerID:    strings.TrimSpace(res.OwnerID),
		Status:     string(res.Status),
		CreatedAt:  res.CreatedAt.UTC(),
		ExpiresAt:  res.ExpiresAt.UTC(),
		ReleasedAt: res.ReleasedAt,
	}
}

func (d reservationDocument) toDomain(id string) domain.Reservation {
	return domain.Reservation{
		ID:         id,
		ProductID:  d.ProductID,
		VariantKey: d.VariantKey,
		Quantity:   d.Quantity,
		OwnerID:    d.OwnerID,
		Status:     domain.ReservationStatus(d.Status),
		CreatedAt:  d.CreatedAt,
		ExpiresAt:  d.ExpiresAt,
		ReleasedAt: d.ReleasedAt,
	}
}

func stockNotFound(op string, key domain.StockKey, err error) *repositories.InventoryError {
	invErr := repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock record for %s", key), err)
	invErr.Op = op
	return invErr
}

func invalidQuantity(op string, quantity int) *repositories.InventoryError {
	invErr := repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	invErr.Op = op
	return invErr
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
