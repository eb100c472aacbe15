package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// StaffHandlers exposes order operations reserved for staff: payment confirmation, fulfilment
// progress and cancellation on behalf of the customer.
type StaffHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewStaffHandlers constructs staff handlers.
func NewStaffHandlers(authn *auth.Authenticator, orders services.OrderService) *StaffHandlers {
	return &StaffHandlers{authn: authn, orders: orders}
}

// Routes registers the /staff endpoints. Callers must hold the staff or admin role.
func (h *StaffHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/orders/{orderId}/paid", h.markPaid)
	r.Post("/orders/{orderId}/advance", h.advance)
	r.Post("/orders/{orderId}/cancel", h.cancel)
}

func (h *StaffHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	order, err := h.orders.MarkOrderPaid(r.Context(), strings.TrimSpace(chi.URLParam(r, "orderId")))
	h.respond(w, r, order, err)
}

func (h *StaffHandlers) advance(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	order, err := h.orders.AdvanceOrder(r.Context(), strings.TrimSpace(chi.URLParam(r, "orderId")))
	h.respond(w, r, order, err)
}

func (h *StaffHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req cancelOrderRequest
	if !decodeOptionalBody(w, r, &req, maxOrderBodySize) {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		Reason:  req.Reason,
	})
	h.respond(w, r, order, err)
}

func (h *StaffHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *StaffHandlers) respond(w http.ResponseWriter, r *http.Request, order services.Order, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
