package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber     string                 `firestore:"orderNumber"`
	UserID          string                 `firestore:"userId"`
	Items           []orderItemDocument    `firestore:"items"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	BillingAddress  addressDocument        `firestore:"billingAddress"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	Currency        string                 `firestore:"currency"`
	Subtotal        string                 `firestore:"subtotal"`
	Discount        string                 `firestore:"discount"`
	Tax             string                 `firestore:"tax"`
	ShippingFee     string                 `firestore:"shippingFee"`
	Total           string                 `firestore:"total"`
	DiscountPercent int                    `firestore:"discountPercent"`
	PromoCode       *string                `firestore:"promoCode,omitempty"`
	IsPaid          bool                   `firestore:"isPaid"`
	PaidAt          *time.Time             `firestore:"paidAt,omitempty"`
	Status          string                 `firestore:"status"`
	StatusHistory   []statusChangeDocument `firestore:"statusHistory"`
	CancelReason    *string                `firestore:"cancelReason,omitempty"`
	IdempotencyKey  string                 `firestore:"idempotencyKey,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	VariantKey  string `firestore:"variantKey"`
	DisplayName string `firestore:"displayName"`
	ImageRef    string `firestore:"imageRef,omitempty"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   string `firestore:"unitPrice"`
	LineTotal   string `firestore:"lineTotal"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type statusChangeDocument struct {
	From   string    `firestore:"from"`
	To     string    `firestore:"to"`
	Reason string    `firestore:"reason,omitempty"`
	At     time.Time `firestore:"at"`
}

// OrderRepository stores orders in the orders collection keyed by order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document. An existing document with the same id is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	_, err := r.base.Create(ctx, order.ID, newOrderDocument(order))
	return err
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// ListByUser returns the user's visible orders, newest first. Voided records are skipped.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", strings.TrimSpace(userID)).
			OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.Status == string(domain.OrderStatusVoided) {
			continue
		}
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
		if limit > 0 && len(orders) == limit {
			break
		}
	}
	return orders, nil
}

// Mutate runs fn inside a transaction over the order document.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("orders.mutate", fmt.Sprintf("order %s not found", orderID))
			}
			return err
		}
		decoded, err := r.base.Decode(ctx, snap)
		if err != nil {
			return err
		}
		order, err := decoded.Data.toDomain(orderID)
		if err != nil {
			return err
		}
		if err := fn(&order); err != nil {
			return err
		}
		updated = order
		return tx.Set(ref, newOrderDocument(order))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			VariantKey:  item.VariantKey,
			DisplayName: item.DisplayName,
			ImageRef:    item.ImageRef,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			LineTotal:   item.LineTotal.StringFixed(2),
		})
	}
	history := make([]statusChangeDocument, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		history = append(history, statusChangeDocument{
			From:   string(change.From),
			To:     string(change.To),
			Reason: change.Reason,
			At:     change.At.UTC(),
		})
	}
	return orderDocument{
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Items:           items,
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		BillingAddress:  newAddressDocument(order.BillingAddress),
		PaymentMethod:   string(order.PaymentMethod),
		Currency:        order.Currency,
		Subtotal:        order.Subtotal.StringFixed(2),
		Discount:        order.Discount.StringFixed(2),
		Tax:             order.Tax.StringFixed(2),
		ShippingFee:     order.ShippingFee.StringFixed(2),
		Total:           order.Total.StringFixed(2),
		DiscountPercent: order.DiscountPercent,
		PromoCode:       order.PromoCode,
		IsPaid:          order.IsPaid,
		PaidAt:          order.PaidAt,
		Status:          string(order.Status),
		StatusHistory:   history,
		CancelReason:    order.CancelReason,
		IdempotencyKey:  order.IdempotencyKey,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	amounts := make([]decimal.Decimal, 5)
	for i, raw := range []string{d.Subtotal, d.Discount, d.Tax, d.ShippingFee, d.Total} {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s amount: %w", id, err)
		}
		amounts[i] = value
	}

	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		unitPrice, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s unit price: %w", id, err)
		}
		lineTotal, err := decimal.NewFromString(item.LineTotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s line total: %w", id, err)
		}
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			VariantKey:  item.VariantKey,
			DisplayName: item.DisplayName,
			ImageRef:    item.ImageRef,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
	}

	history := make([]domain.StatusChange, 0, len(d.StatusHistory))
	for _, change := range d.StatusHistory {
		history = append(history, domain.StatusChange{
			From:   domain.OrderStatus(change.From),
			To:     domain.OrderStatus(change.To),
			Reason: change.Reason,
			At:     change.At,
		})
	}

	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		Items:           items,
		ShippingAddress: d.ShippingAddress.toDomain(),
		BillingAddress:  d.BillingAddress.toDomain(),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		Currency:        d.Currency,
		Subtotal:        amounts[0],
		Discount:        amounts[1],
		Tax:             amounts[2],
		ShippingFee:     amounts[3],
		Total:           amounts[4],
		DiscountPercent: d.DiscountPercent,
		PromoCode:       d.PromoCode,
		IsPaid:          d.IsPaid,
		PaidAt:          d.PaidAt,
		Status:          domain.OrderStatus(d.Status),
		StatusHistory:   history,
		CancelReason:    d.CancelReason,
		IdempotencyKey:  d.IdempotencyKey,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}
