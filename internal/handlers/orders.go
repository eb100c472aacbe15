package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	defaultOrderPageSize      = 20
	maxOrderPageSize          = 100
	maxOrderBodySize          = 16 * 1024
	defaultIdempotencyHeader  = "Idempotency-Key"
	maxIdempotencyKeyLength   = 200
	defaultPlacementRateLimit = 10
	defaultPlacementWindow    = time.Minute
)

// OrderHandlers exposes order placement and the shopper's own order history.
type OrderHandlers struct {
	authn     *auth.Authenticator
	carts     services.CartService
	placement services.PlacementService
	orders    services.OrderService

	idempotencyHeader string
	limiter           rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithIdempotencyHeader overrides the header carrying the placement idempotency key.
func WithIdempotencyHeader(name string) OrderOption {
	return func(h *OrderHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.idempotencyHeader = name
		}
	}
}

// WithPlacementRateLimit caps order placements per user within window. A non-positive limit
// disables the cap.
func WithPlacementRateLimit(limit int, window time.Duration, clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs order handlers. Every route requires a verified Firebase user.
func NewOrderHandlers(authn *auth.Authenticator, carts services.CartService, placement services.PlacementService, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:             authn,
		carts:             carts,
		placement:         placement,
		orders:            orders,
		idempotencyHeader: defaultIdempotencyHeader,
		limiter:           newSimpleRateLimiter(defaultPlacementRateLimit, defaultPlacementWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
	r.Post("/{orderId}/cancel", h.cancelOrder)
}

type addressRequest struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (a addressRequest) toDomain() services.Address {
	return services.Address{
		Recipient:  strings.TrimSpace(a.Recipient),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      trimmedPointer(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      trimmedPointer(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      trimmedPointer(a.Phone),
	}
}

type placeOrderRequest struct {
	ShippingAddress addressRequest  `json:"shippingAddress"`
	BillingAddress  *addressRequest `json:"billingAddress,omitempty"`
	PaymentMethod   string          `json:"paymentMethod"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.placement == nil || h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many orders placed; slow down", http.StatusTooManyRequests).
			WithRetryAfter(defaultPlacementWindow))
		return
	}

	key := strings.TrimSpace(r.Header.Get(h.idempotencyHeader))
	if len(key) > maxIdempotencyKeyLength {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", h.idempotencyHeader+" is too long", http.StatusBadRequest))
		return
	}

	var req placeOrderRequest
	if !decodeBody(w, r, &req, maxOrderBodySize) {
		return
	}

	view, err := h.carts.GetCart(ctx, services.Identity{UserID: userID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if view.Stale {
		httpx.WriteError(ctx, w, httpx.NewError("try_again", "cart storage is unavailable; try again", http.StatusServiceUnavailable).
			WithRetryAfter(transientRetryAfter))
		return
	}

	cmd := services.PlaceOrderCommand{
		UserID:          userID,
		Cart:            view.Cart,
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   services.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		IdempotencyKey:  key,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}

	result, err := h.placement.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.OrderID)
	httpx.WriteJSON(w, status, result)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			limit = defaultOrderPageSize
		case size > maxOrderPageSize:
			limit = maxOrderPageSize
		default:
			limit = size
		}
	}

	orders, err := h.orders.ListOrders(ctx, userID, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := orderListResponse{Orders: make([]orderPayload, 0, len(orders))}
	for _, order := range orders {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, userID, strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeOptionalBody(w, r, &req, maxOrderBodySize) {
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		UserID:  userID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders []orderPayload `json:"orders"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"orderNumber"`
	Status          string                `json:"status"`
	PaymentMethod   string                `json:"paymentMethod"`
	IsPaid          bool                  `json:"isPaid"`
	PaidAt          string                `json:"paidAt,omitempty"`
	Currency        string                `json:"currency"`
	Items           []orderItemPayload    `json:"items"`
	Totals          totalsPayload         `json:"totals"`
	DiscountPercent int                   `json:"discountPercent"`
	PromoCode       string                `json:"promoCode,omitempty"`
	ShippingAddress addressPayload        `json:"shippingAddress"`
	BillingAddress  addressPayload        `json:"billingAddress"`
	CancelReason    string                `json:"cancelReason,omitempty"`
	StatusHistory   []statusChangePayload `json:"statusHistory"`
	CreatedAt       string                `json:"createdAt"`
	UpdatedAt       string                `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"productId"`
	VariantKey  string `json:"variantKey"`
	DisplayName string `json:"displayName"`
	ImageRef    string `json:"imageRef,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type statusChangePayload struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	At     string `json:"at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		IsPaid:        order.IsPaid,
		Currency:      order.Currency,
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		Totals: totalsPayload{
			Subtotal: money(order.Subtotal),
			Discount: money(order.Discount),
			Tax:      money(order.Tax),
			Shipping: money(order.ShippingFee),
			Total:    money(order.Total),
		},
		DiscountPercent: order.DiscountPercent,
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		StatusHistory:   make([]statusChangePayload, 0, len(order.StatusHistory)),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.PaidAt != nil {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	if order.PromoCode != nil {
		payload.PromoCode = *order.PromoCode
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			VariantKey:  item.VariantKey,
			DisplayName: item.DisplayName,
			ImageRef:    item.ImageRef,
			Quantity:    item.Quantity,
			UnitPrice:   money(item.UnitPrice),
			LineTotal:   money(item.LineTotal),
		})
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			From:   string(change.From),
			To:     string(change.To),
			Reason: change.Reason,
			At:     formatTime(change.At),
		})
	}
	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	deref := func(value *string) string {
		if value == nil {
			return ""
		}
		return *value
	}
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      deref(addr.Line2),
		City:       addr.City,
		State:      deref(addr.State),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      deref(addr.Phone),
	}
}
