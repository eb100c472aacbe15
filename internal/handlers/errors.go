package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

const transientRetryAfter = 2 * time.Second

// writeServiceError maps service and repository errors onto the API error vocabulary.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, serviceError(err))
}

func serviceError(err error) httpx.Error {
	var unavailable *services.StockUnavailableError
	var insufficient *services.InsufficientStockError

	switch {
	case errors.As(err, &unavailable):
		items := make([]map[string]any, 0, len(unavailable.Items))
		for _, item := range unavailable.Items {
			items = append(items, map[string]any{
				"productId":  item.Key.ProductID,
				"variantKey": item.Key.VariantKey,
				"requested":  item.Requested,
				"available":  item.Available,
				"shortfall":  item.Shortfall(),
			})
		}
		return httpx.NewError("stock_unavailable", "some items are no longer available in the requested quantity", http.StatusConflict).
			WithDetails(map[string]any{"items": items})
	case errors.As(err, &insufficient):
		return httpx.NewError("insufficient_stock", "insufficient stock", http.StatusConflict).
			WithDetails(map[string]any{"shortfall": insufficient.Shortfall()})
	case errors.Is(err, services.ErrPlacementStockChanged):
		return httpx.NewError("stock_changed", "stock changed while placing the order; review the cart and retry", http.StatusConflict)
	case errors.Is(err, services.ErrPlacementRollbackFailed):
		return httpx.NewError("contact_support", "the order could not be completed; contact support", http.StatusInternalServerError)
	case errors.Is(err, services.ErrOrderRestockFailed):
		return httpx.NewError("contact_support", "the order was cancelled but stock could not be restored; contact support", http.StatusInternalServerError)
	case errors.Is(err, services.ErrPlacementTransient), repositories.IsUnavailable(err):
		return httpx.NewError("try_again", "service temporarily unavailable; try again", http.StatusServiceUnavailable).
			WithRetryAfter(transientRetryAfter)
	case errors.Is(err, services.ErrPlacementInProgress):
		return httpx.NewError("request_in_progress", "an order with this idempotency key is being placed", http.StatusConflict).
			WithRetryAfter(transientRetryAfter)
	case errors.Is(err, services.ErrPlacementIdempotencyConflict):
		return httpx.NewError("idempotency_conflict", "idempotency key was used for a different request", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrPlacementEmptyCart):
		return httpx.NewError("empty_cart", "cart is empty", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrCartInvalidQuantity):
		return httpx.NewError("invalid_quantity", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrCartInvalidPromoCode):
		return httpx.NewError("invalid_promo_code", "promo code is not valid", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrCartInvalidIdentity):
		return httpx.NewError("unauthenticated", "a signed-in user or session is required", http.StatusUnauthorized)
	case errors.Is(err, services.ErrCartInvalidMerge),
		errors.Is(err, services.ErrPlacementInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderInvalidTransition):
		return httpx.NewError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		return httpx.NewError("insufficient_stock", "insufficient stock", http.StatusConflict)
	case errors.Is(err, services.ErrCartItemNotFound):
		return httpx.NewError("item_not_found", "cart item not found", http.StatusNotFound)
	case errors.Is(err, services.ErrCartProductNotFound),
		errors.Is(err, services.ErrCatalogProductNotFound):
		return httpx.NewError("product_not_found", "product not found", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NewError("order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrInventoryNotFound), repositories.IsNotFound(err):
		return httpx.NewError("not_found", "resource not found", http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("try_again", "request timed out; try again", http.StatusServiceUnavailable).
			WithRetryAfter(transientRetryAfter)
	default:
		return httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError)
	}
}
