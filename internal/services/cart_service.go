package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxLineItemQuantity = 999

var (
	// ErrCartInvalidIdentity indicates the request carried neither a user nor a session.
	ErrCartInvalidIdentity = errors.New("cart service: identity is required")
	// ErrCartInvalidQuantity indicates a quantity below one or above the per-line limit.
	ErrCartInvalidQuantity = errors.New("cart service: invalid quantity")
	// ErrCartItemNotFound indicates the cart holds no line item for the key.
	ErrCartItemNotFound = errors.New("cart service: item not found")
	// ErrCartProductNotFound indicates the product or variant is not sold.
	ErrCartProductNotFound = errors.New("cart service: product not found")
	// ErrCartInvalidPromoCode indicates the promo code did not match any rule.
	ErrCartInvalidPromoCode = errors.New("cart service: invalid promo code")
	// ErrCartInvalidMerge indicates the merge source or target identity is unsuitable.
	ErrCartInvalidMerge = errors.New("cart service: invalid merge")
)

// CartServiceDeps wires the store, catalog and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Store         *TieredCartStore
	Catalog       CatalogService
	Promotions    PromotionService
	Pricer        PricingEngine
	Notifications NotificationSink
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
}

type cartService struct {
	store      *TieredCartStore
	catalog    CatalogService
	promotions PromotionService
	pricer     PricingEngine
	notify     NotificationSink
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Store == nil {
		return nil, errors.New("cart service: store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("cart service: promotion service is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("cart service: pricing engine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		store:      deps.Store,
		catalog:    deps.Catalog,
		promotions: deps.Promotions,
		pricer:     deps.Pricer,
		notify:     deps.Notifications,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, identity Identity) (CartView, error) {
	cart, stale, err := s.load(ctx, identity)
	if err != nil {
		return CartView{}, err
	}
	return s.view(cart, stale), nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddItemCommand) (CartView, error) {
	key := StockKey{ProductID: strings.TrimSpace(cmd.ProductID), VariantKey: strings.TrimSpace(cmd.VariantKey)}
	if !key.Valid() {
		return CartView{}, fmt.Errorf("%w: product id and variant are required", ErrCartProductNotFound)
	}
	if cmd.Quantity < 1 || cmd.Quantity > maxLineItemQuantity {
		return CartView{}, fmt.Errorf("%w: %d", ErrCartInvalidQuantity, cmd.Quantity)
	}

	product, err := s.catalog.GetProduct(ctx, key.ProductID)
	if err != nil {
		if errors.Is(err, ErrCatalogProductNotFound) || errors.Is(err, ErrCatalogInvalidInput) {
			return CartView{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, key)
		}
		return CartView{}, err
	}
	if !product.HasVariant(key.VariantKey) {
		return CartView{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, key)
	}

	return s.mutate(ctx, cmd.Identity, "cart.item_added", func(cart *Cart, now time.Time) error {
		if idx := cart.FindItem(key); idx >= 0 {
			total := cart.Items[idx].Quantity + cmd.Quantity
			if total > maxLineItemQuantity {
				return fmt.Errorf("%w: %d exceeds the per-line limit", ErrCartInvalidQuantity, total)
			}
			cart.Items[idx].Quantity = total
			return nil
		}
		cart.Items = append(cart.Items, LineItem{
			ProductID:         key.ProductID,
			VariantKey:        key.VariantKey,
			Quantity:          cmd.Quantity,
			UnitPrice:         product.Price,
			UnitPriceOriginal: product.Price,
			DisplayName:       product.Name,
			ImageRef:          product.ImageRef,
			AddedAt:           now,
		})
		return nil
	})
}

func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateQuantityCommand) (CartView, error) {
	if cmd.Quantity < 1 || cmd.Quantity > maxLineItemQuantity {
		return CartView{}, fmt.Errorf("%w: %d", ErrCartInvalidQuantity, cmd.Quantity)
	}
	key := StockKey{ProductID: strings.TrimSpace(cmd.ProductID), VariantKey: strings.TrimSpace(cmd.VariantKey)}
	return s.mutate(ctx, cmd.Identity, "cart.quantity_updated", func(cart *Cart, _ time.Time) error {
		idx := cart.FindItem(key)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrCartItemNotFound, key)
		}
		cart.Items[idx].Quantity = cmd.Quantity
		return nil
	})
}

// RemoveItem drops the line item. Removing an absent item returns the cart unchanged.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveItemCommand) (CartView, error) {
	key := StockKey{ProductID: strings.TrimSpace(cmd.ProductID), VariantKey: strings.TrimSpace(cmd.VariantKey)}
	cart, stale, err := s.load(ctx, cmd.Identity)
	if err != nil {
		return CartView{}, err
	}
	idx := cart.FindItem(key)
	if idx < 0 {
		return s.view(cart, stale), nil
	}
	return s.mutate(ctx, cmd.Identity, "cart.item_removed", func(cart *Cart, _ time.Time) error {
		if idx := cart.FindItem(key); idx >= 0 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		}
		return nil
	})
}

func (s *cartService) Clear(ctx context.Context, identity Identity) (CartView, error) {
	return s.mutate(ctx, identity, "cart.cleared", func(cart *Cart, _ time.Time) error {
		resetCart(cart)
		return nil
	})
}

// ApplyPromoCode sets the discount for a known code. Unknown codes leave the cart untouched.
func (s *cartService) ApplyPromoCode(ctx context.Context, cmd ApplyPromoCommand) (CartView, error) {
	code := strings.TrimSpace(cmd.Code)
	pct, err := s.promotions.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, ErrPromotionNotFound) || errors.Is(err, ErrPromotionInvalidCode) {
			s.notifyPromoRejected(ctx, cmd.Identity, code)
			return CartView{}, fmt.Errorf("%w: %q", ErrCartInvalidPromoCode, code)
		}
		return CartView{}, err
	}
	return s.mutate(ctx, cmd.Identity, "cart.promo_applied", func(cart *Cart, _ time.Time) error {
		cart.DiscountPercent = pct
		cart.PromoCode = &code
		return nil
	})
}

// MergeCarts folds the anonymous source cart into the target user's cart and empties the source.
func (s *cartService) MergeCarts(ctx context.Context, cmd MergeCartsCommand) (CartView, error) {
	if !cmd.Source.IsAnonymous() {
		return CartView{}, fmt.Errorf("%w: source must be an anonymous session", ErrCartInvalidMerge)
	}
	if strings.TrimSpace(cmd.Target.UserID) == "" {
		return CartView{}, fmt.Errorf("%w: target must be a signed-in user", ErrCartInvalidMerge)
	}
	target := Identity{UserID: strings.TrimSpace(cmd.Target.UserID)}

	source, _, err := s.load(ctx, cmd.Source)
	if err != nil {
		return CartView{}, err
	}
	if source.IsEmpty() && source.DiscountPercent == 0 {
		return s.GetCart(ctx, target)
	}

	// The source is emptied before the target grows, so a retried merge never adds the same
	// lines twice. A failed target write puts the source back.
	if _, err := s.Clear(ctx, cmd.Source); err != nil {
		return CartView{}, err
	}

	view, err := s.mutate(ctx, target, "cart.merged", func(cart *Cart, _ time.Time) error {
		mergeCartInto(cart, source)
		return nil
	})
	if err != nil {
		if _, restoreErr := s.store.Save(context.WithoutCancel(ctx), source); restoreErr != nil {
			s.logger(ctx, "cart.merge.source_restore_failed", map[string]any{
				"level":  "error",
				"source": cmd.Source.Key(),
				"target": target.Key(),
				"items":  len(source.Items),
				"error":  restoreErr.Error(),
			})
		}
		return CartView{}, err
	}
	return view, nil
}

func (s *cartService) load(ctx context.Context, identity Identity) (Cart, bool, error) {
	cartID := identity.Key()
	if cartID == "" {
		return Cart{}, false, ErrCartInvalidIdentity
	}
	cart, found, stale, err := s.store.Load(ctx, cartID)
	if err != nil {
		return Cart{}, false, err
	}
	if !found {
		return s.newCart(identity), false, nil
	}
	cart.ID = cartID
	if cart.Currency == "" {
		cart.Currency = s.pricer.Currency()
	}
	return cart, stale, nil
}

func (s *cartService) mutate(ctx context.Context, identity Identity, event string, fn func(cart *Cart, now time.Time) error) (CartView, error) {
	current, _, err := s.load(ctx, identity)
	if err != nil {
		return CartView{}, err
	}
	now := s.now()
	cart := current.Clone()
	if err := fn(&cart, now); err != nil {
		return CartView{}, err
	}
	cart.UpdatedAt = now
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}

	saved, err := s.store.Save(ctx, cart)
	if err != nil {
		s.logger(ctx, "cart.save_failed", map[string]any{
			"cartID": cart.ID,
			"event":  event,
			"error":  err.Error(),
		})
		return CartView{}, err
	}
	s.logger(ctx, event, map[string]any{
		"cartID": saved.ID,
		"items":  len(saved.Items),
	})
	return s.view(saved, false), nil
}

func (s *cartService) view(cart Cart, stale bool) CartView {
	return CartView{
		Cart:   cart,
		Totals: s.pricer.Calculate(cart.Items, cart.DiscountPercent),
		Stale:  stale,
	}
}

func (s *cartService) newCart(identity Identity) Cart {
	return Cart{
		ID: identity.Key(),
		Owner: Identity{
			UserID:    strings.TrimSpace(identity.UserID),
			SessionID: strings.TrimSpace(identity.SessionID),
		},
		Items:    []LineItem{},
		Currency: s.pricer.Currency(),
	}
}

func (s *cartService) notifyPromoRejected(ctx context.Context, identity Identity, code string) {
	notifyQuietly(ctx, s.notify, s.logger, Notification{
		Kind:       NotificationCartPromoFailed,
		Identity:   identity.Key(),
		Message:    fmt.Sprintf("Promo code %q is not valid.", code),
		Attributes: map[string]string{"code": code},
		OccurredAt: s.now(),
	})
}

// resetCart empties the cart and drops any discount.
func resetCart(cart *Cart) {
	cart.Items = []LineItem{}
	cart.DiscountPercent = 0
	cart.PromoCode = nil
}

// mergeCartInto sums quantities on matching keys, appends the rest in source order and keeps the
// higher discount together with its promo code.
func mergeCartInto(target *Cart, source Cart) {
	for _, item := range source.Items {
		if idx := target.FindItem(item.Key()); idx >= 0 {
			target.Items[idx].Quantity += item.Quantity
			continue
		}
		target.Items = append(target.Items, item)
	}
	if source.DiscountPercent > target.DiscountPercent {
		target.DiscountPercent = source.DiscountPercent
		if source.PromoCode != nil {
			code := *source.PromoCode
			target.PromoCode = &code
		} else {
			target.PromoCode = nil
		}
	}
}
