package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const cartCollection = "carts"

type cartDocument struct {
	UserID          string             `firestore:"userId,omitempty"`
	SessionID       string             `firestore:"sessionId,omitempty"`
	Items           []cartItemDocument `firestore:"items"`
	DiscountPercent int                `firestore:"discountPercent"`
	PromoCode       *string            `firestore:"promoCode"`
	Currency        string             `firestore:"currency"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID         string    `firestore:"productId"`
	VariantKey        string    `firestore:"variantKey"`
	Quantity          int       `firestore:"quantity"`
	UnitPrice         string    `firestore:"unitPrice"`
	UnitPriceOriginal string    `firestore:"unitPriceOriginal"`
	DisplayName       string    `firestore:"displayName"`
	ImageRef          string    `firestore:"imageRef,omitempty"`
	AddedAt           time.Time `firestore:"addedAt"`
}

// CartRepository persists whole cart documents keyed by identity. Saves replace the document;
// concurrent writers resolve as last writer wins.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
	}, nil
}

func (r *CartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(cartID))
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	if _, err := r.base.Set(ctx, cartID, newCartDocument(cart)); err != nil {
		return domain.Cart{}, err
	}
	saved := cart.Clone()
	saved.ID = cartID
	return saved, nil
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ProductID:         item.ProductID,
			VariantKey:        item.VariantKey,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice.StringFixed(2),
			UnitPriceOriginal: item.UnitPriceOriginal.StringFixed(2),
			DisplayName:       item.DisplayName,
			ImageRef:          item.ImageRef,
			AddedAt:           item.AddedAt.UTC(),
		})
	}
	return cartDocument{
		UserID:          strings.TrimSpace(cart.Owner.UserID),
		SessionID:       strings.TrimSpace(cart.Owner.SessionID),
		Items:           items,
		DiscountPercent: cart.DiscountPercent,
		PromoCode:       cart.PromoCode,
		Currency:        strings.ToUpper(strings.TrimSpace(cart.Currency)),
		CreatedAt:       cart.CreatedAt.UTC(),
		UpdatedAt:       cart.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toDomain(id string) (domain.Cart, error) {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		unitPrice, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("decode cart %s unit price: %w", id, err)
		}
		original, err := decimal.NewFromString(item.UnitPriceOriginal)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("decode cart %s original price: %w", id, err)
		}
		items = append(items, domain.LineItem{
			ProductID:         item.ProductID,
			VariantKey:        item.VariantKey,
			Quantity:          item.Quantity,
			UnitPrice:         unitPrice,
			UnitPriceOriginal: original,
			DisplayName:       item.DisplayName,
			ImageRef:          item.ImageRef,
			AddedAt:           item.AddedAt,
		})
	}
	return domain.Cart{
		ID:              id,
		Owner:           domain.Identity{UserID: d.UserID, SessionID: d.SessionID},
		Items:           items,
		DiscountPercent: d.DiscountPercent,
		PromoCode:       d.PromoCode,
		Currency:        d.Currency,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}
