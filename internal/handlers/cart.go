package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the shopper cart. Signed-in users address their own cart; anonymous
// callers address the cart of their session.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. Tokens are verified when present but not required.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productId}/{variantKey}", h.updateItem)
	r.Delete("/items/{productId}/{variantKey}", h.removeItem)
	r.Post("/promo", h.applyPromo)
	r.Post("/merge", h.mergeCarts)
}

type addItemRequest struct {
	ProductID  string `json:"productId"`
	VariantKey string `json:"variantKey"`
	Quantity   int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type applyPromoRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	view, err := h.carts.GetCart(r.Context(), auth.Shopper(r.Context()))
	h.respond(w, r, view, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	view, err := h.carts.Clear(r.Context(), auth.Shopper(r.Context()))
	h.respond(w, r, view, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req addItemRequest
	if !decodeBody(w, r, &req, maxCartBodySize) {
		return
	}
	view, err := h.carts.AddItem(r.Context(), services.AddItemCommand{
		Identity:   auth.Shopper(r.Context()),
		ProductID:  strings.TrimSpace(req.ProductID),
		VariantKey: strings.TrimSpace(req.VariantKey),
		Quantity:   req.Quantity,
	})
	h.respond(w, r, view, err)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req updateItemRequest
	if !decodeBody(w, r, &req, maxCartBodySize) {
		return
	}
	view, err := h.carts.UpdateQuantity(r.Context(), services.UpdateQuantityCommand{
		Identity:   auth.Shopper(r.Context()),
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		VariantKey: strings.TrimSpace(chi.URLParam(r, "variantKey")),
		Quantity:   req.Quantity,
	})
	h.respond(w, r, view, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	view, err := h.carts.RemoveItem(r.Context(), services.RemoveItemCommand{
		Identity:   auth.Shopper(r.Context()),
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		VariantKey: strings.TrimSpace(chi.URLParam(r, "variantKey")),
	})
	h.respond(w, r, view, err)
}

func (h *CartHandlers) applyPromo(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req applyPromoRequest
	if !decodeBody(w, r, &req, maxCartBodySize) {
		return
	}
	view, err := h.carts.ApplyPromoCode(r.Context(), services.ApplyPromoCommand{
		Identity: auth.Shopper(r.Context()),
		Code:     req.Code,
	})
	h.respond(w, r, view, err)
}

// mergeCarts folds the cart of the X-Session-ID session into the signed-in user's cart.
func (h *CartHandlers) mergeCarts(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	source := services.Identity{SessionID: requestctx.SessionID(ctx)}
	if source.SessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required to merge carts", http.StatusBadRequest))
		return
	}
	view, err := h.carts.MergeCarts(ctx, services.MergeCartsCommand{
		Source: source,
		Target: services.Identity{UserID: identity.UID},
	})
	h.respond(w, r, view, err)
}

func (h *CartHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, view services.CartView, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setCartResponseHeaders(w, view)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(view)})
}

func setCartResponseHeaders(w http.ResponseWriter, view services.CartView) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !view.Cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", view.Cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(view.Cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
	if view.Stale {
		w.Header().Set("Warning", `110 - "cart served from cache"`)
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano(), len(cart.Items))
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID              string            `json:"id"`
	Owner           string            `json:"owner"`
	Currency        string            `json:"currency"`
	ItemsCount      int               `json:"itemsCount"`
	Items           []cartItemPayload `json:"items"`
	PromoCode       string            `json:"promoCode,omitempty"`
	DiscountPercent int               `json:"discountPercent"`
	Totals          totalsPayload     `json:"totals"`
	Stale           bool              `json:"stale,omitempty"`
	UpdatedAt       string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ProductID         string `json:"productId"`
	VariantKey        string `json:"variantKey"`
	DisplayName       string `json:"displayName"`
	ImageRef          string `json:"imageRef,omitempty"`
	Quantity          int    `json:"quantity"`
	UnitPrice         string `json:"unitPrice"`
	UnitPriceOriginal string `json:"unitPriceOriginal"`
	LineTotal         string `json:"lineTotal"`
	AddedAt           string `json:"addedAt,omitempty"`
}

type totalsPayload struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

func buildCartPayload(view services.CartView) cartPayload {
	cart := view.Cart
	payload := cartPayload{
		ID:              cart.ID,
		Owner:           cart.Owner.Key(),
		Currency:        strings.ToUpper(cart.Currency),
		ItemsCount:      len(cart.Items),
		Items:           make([]cartItemPayload, 0, len(cart.Items)),
		DiscountPercent: cart.DiscountPercent,
		Totals: totalsPayload{
			Subtotal: money(view.Totals.Subtotal),
			Discount: money(view.Totals.Discount),
			Tax:      money(view.Totals.Tax),
			Shipping: money(view.Totals.Shipping),
			Total:    money(view.Totals.Total),
		},
		Stale:     view.Stale,
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	if payload.Currency == "" {
		payload.Currency = strings.ToUpper(view.Totals.Currency)
	}
	if cart.PromoCode != nil {
		payload.PromoCode = *cart.PromoCode
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:         item.ProductID,
			VariantKey:        item.VariantKey,
			DisplayName:       item.DisplayName,
			ImageRef:          item.ImageRef,
			Quantity:          item.Quantity,
			UnitPrice:         money(item.UnitPrice),
			UnitPriceOriginal: money(item.UnitPriceOriginal),
			LineTotal:         money(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
			AddedAt:           formatTime(item.AddedAt),
		})
	}
	return payload
}

func money(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
