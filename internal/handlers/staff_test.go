package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

func newStaffRouter(orders services.OrderService) http.Handler {
	r := chi.NewRouter()
	r.Route("/staff", NewStaffHandlers(testAuthenticator(), orders).Routes)
	return r
}

func staffRequest(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestStaffHandlersRequireStaffRole(t *testing.T) {
	orders := &stubOrderService{paidFn: func(context.Context, string) (services.Order, error) {
		t.Fatalf("service must not be called")
		return services.Order{}, nil
	}}
	rr := httptest.NewRecorder()
	newStaffRouter(orders).ServeHTTP(rr, staffRequest("/staff/orders/ord_1/paid", "user-token"))

	if rr.Code != http.StatusForbidden || decodeErrorCode(t, rr) != "insufficient_role" {
		t.Fatalf("expected 403 insufficient_role, got %d", rr.Code)
	}
}

func TestStaffHandlersMarkPaidAndAdvance(t *testing.T) {
	var paid, advanced string
	orders := &stubOrderService{
		paidFn: func(_ context.Context, orderID string) (services.Order, error) {
			paid = orderID
			order := sampleOrder(orderID, domain.OrderStatusPending)
			order.IsPaid = true
			return order, nil
		},
		advanceFn: func(_ context.Context, orderID string) (services.Order, error) {
			advanced = orderID
			if orderID == "ord_done" {
				return services.Order{}, fmt.Errorf("%w: delivered is final", services.ErrOrderInvalidTransition)
			}
			return sampleOrder(orderID, domain.OrderStatusProcessing), nil
		},
	}
	router := newStaffRouter(orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest("/staff/orders/ord_1/paid", "staff-token"))
	if rr.Code != http.StatusOK || paid != "ord_1" {
		t.Fatalf("expected mark paid, got %d %q", rr.Code, paid)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest("/staff/orders/ord_1/advance", "staff-token"))
	if rr.Code != http.StatusOK || advanced != "ord_1" {
		t.Fatalf("expected advance, got %d %q", rr.Code, advanced)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest("/staff/orders/ord_done/advance", "staff-token"))
	if rr.Code != http.StatusConflict || decodeErrorCode(t, rr) != "invalid_transition" {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestStaffHandlersCancelIgnoresOwner(t *testing.T) {
	var got services.CancelOrderCommand
	orders := &stubOrderService{cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
		got = cmd
		return sampleOrder(cmd.OrderID, domain.OrderStatusCancelled), nil
	}}
	rr := httptest.NewRecorder()
	newStaffRouter(orders).ServeHTTP(rr, staffRequest("/staff/orders/ord_1/cancel", "staff-token"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.OrderID != "ord_1" || got.UserID != "" {
		t.Fatalf("staff cancel must not scope to an owner, got %+v", got)
	}
}
