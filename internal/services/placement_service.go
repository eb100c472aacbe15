package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	placementInstrumentation = "github.com/hanko-field/commerce/internal/services"
	defaultPlacementTimeout  = 30 * time.Second
	defaultRollbackTimeout   = 15 * time.Second
	voidReason               = "placement rolled back"
)

var (
	// ErrPlacementInvalidInput indicates the order request is missing required data.
	ErrPlacementInvalidInput = errors.New("placement: invalid input")
	// ErrPlacementEmptyCart indicates the cart snapshot holds no items.
	ErrPlacementEmptyCart = errors.New("placement: cart is empty")
	// ErrPlacementStockUnavailable indicates at least one item could not be reserved.
	ErrPlacementStockUnavailable = errors.New("placement: stock unavailable")
	// ErrPlacementStockChanged indicates stock moved between reservation and decrement.
	ErrPlacementStockChanged = errors.New("placement: stock changed")
	// ErrPlacementTransient indicates storage stayed unreachable after retries. Callers may retry.
	ErrPlacementTransient = errors.New("placement: temporarily unavailable")
	// ErrPlacementRollbackFailed indicates compensation after a failure did not complete.
	ErrPlacementRollbackFailed = errors.New("placement: rollback failed, contact support")
	// ErrPlacementInProgress indicates another request with the same idempotency key is running.
	ErrPlacementInProgress = errors.New("placement: request already in progress")
	// ErrPlacementIdempotencyConflict indicates the idempotency key was used for a different cart.
	ErrPlacementIdempotencyConflict = errors.New("placement: idempotency key reused with different request")
)

// UnavailableItem describes one cart line that could not be reserved.
type UnavailableItem struct {
	Key       StockKey
	Requested int
	Available int
}

// Shortfall returns the number of missing units.
func (i UnavailableItem) Shortfall() int {
	if i.Requested <= i.Available {
		return 0
	}
	return i.Requested - i.Available
}

// StockUnavailableError lists every item that failed reservation.
type StockUnavailableError struct {
	Items []UnavailableItem
}

func (e *StockUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, fmt.Sprintf("%s short %d", item.Key, item.Shortfall()))
	}
	return fmt.Sprintf("%s: %s", ErrPlacementStockUnavailable, strings.Join(parts, ", "))
}

// Unwrap allows errors.Is(err, ErrPlacementStockUnavailable).
func (e *StockUnavailableError) Unwrap() error {
	return ErrPlacementStockUnavailable
}

// PlacementServiceDeps wires the collaborators of the order placement orchestrator.
type PlacementServiceDeps struct {
	Inventory     InventoryService
	Orders        repositories.OrderRepository
	Counter       CounterService
	Pricer        PricingEngine
	Carts         CartService
	Idempotency   idempotency.Store
	Notifications NotificationSink

	Timeout             time.Duration
	ReservationTTL      time.Duration
	IdempotencyTTL      time.Duration
	RetryAttempts       int
	RetryInitial        time.Duration
	RetryMax            time.Duration
	StockChangedRetries *int

	Clock       func() time.Time
	IDGenerator func() string
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Tracer      trace.Tracer
	Meter       metric.Meter
}

type placementService struct {
	inventory   InventoryService
	orders      repositories.OrderRepository
	counter     CounterService
	pricer      PricingEngine
	carts       CartService
	idempotency idempotency.Store
	notify      NotificationSink

	timeout             time.Duration
	reservationTTL      time.Duration
	idempotencyTTL      time.Duration
	retry               transientRetry
	stockChangedRetries int

	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
	tracer trace.Tracer

	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewPlacementService constructs the orchestrator validating required dependencies.
func NewPlacementService(deps PlacementServiceDeps) (PlacementService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("placement service: inventory service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("placement service: order repository is required")
	}
	if deps.Counter == nil {
		return nil, errors.New("placement service: counter service is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("placement service: pricing engine is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("placement service: cart service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(placementInstrumentation)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(placementInstrumentation)
	}

	svc := &placementService{
		inventory:           deps.Inventory,
		orders:              deps.Orders,
		counter:             deps.Counter,
		pricer:              deps.Pricer,
		carts:               deps.Carts,
		idempotency:         deps.Idempotency,
		notify:              deps.Notifications,
		timeout:             positiveOr(deps.Timeout, defaultPlacementTimeout),
		reservationTTL:      deps.ReservationTTL,
		idempotencyTTL:      positiveOr(deps.IdempotencyTTL, idempotency.DefaultTTL),
		retry:               newTransientRetry(deps.RetryAttempts, deps.RetryInitial, deps.RetryMax, deps.Sleep),
		stockChangedRetries: 1,
		now:                 func() time.Time { return clock().UTC() },
		newID:               idGen,
		logger:              logger,
		tracer:              tracer,
	}
	if deps.StockChangedRetries != nil && *deps.StockChangedRetries >= 0 {
		svc.stockChangedRetries = *deps.StockChangedRetries
	}

	var err error
	svc.outcomes, err = meter.Int64Counter(
		"placement.orders",
		metric.WithDescription("Order placement attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("placement service: register outcome metric: %w", err)
	}
	svc.latency, err = meter.Float64Histogram(
		"placement.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of order placement"),
	)
	if err != nil {
		return nil, fmt.Errorf("placement service: register latency metric: %w", err)
	}
	return svc, nil
}

// PlaceOrder turns the cart snapshot into an order. Either every effect is applied or the ones
// that were applied are compensated before an error is returned.
func (s *placementService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (result PlacementResult, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "PlaceOrder", trace.WithAttributes(
		attribute.String("user.id", cmd.UserID),
		attribute.Int("cart.items", len(cmd.Cart.Items)),
		attribute.String("payment.method", string(cmd.PaymentMethod)),
	))
	defer func() {
		outcome := placementOutcome(result, err)
		span.SetAttributes(attribute.String("placement.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, outcome)
		}
		span.End()
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		s.outcomes.Add(context.WithoutCancel(ctx), 1, attrs)
		s.latency.Record(context.WithoutCancel(ctx), float64(time.Since(started).Milliseconds()), attrs)
	}()

	cmd.UserID = strings.TrimSpace(cmd.UserID)
	if cmd.UserID == "" {
		return PlacementResult{}, fmt.Errorf("%w: user id is required", ErrPlacementInvalidInput)
	}

	// The key is checked before the cart: a retry that arrives after the first placement
	// finished sees the already cleared cart and must still get the original order back.
	key := strings.TrimSpace(cmd.IdempotencyKey)
	scopedKey := ""
	fingerprint := ""
	if key != "" && s.idempotency != nil {
		scopedKey = cmd.UserID + ":" + key
		fingerprint = placementFingerprint(cmd)
		replay, done, err := s.reserveIdempotencyKey(ctx, scopedKey, fingerprint)
		if err != nil || done {
			return replay, err
		}
	}

	if err := validatePlacement(cmd); err != nil {
		s.releaseIdempotencyKey(context.WithoutCancel(ctx), cmd.UserID, scopedKey)
		return PlacementResult{}, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		result, err = s.attempt(attemptCtx, cmd)
		if !errors.Is(err, ErrPlacementStockChanged) || attempt >= s.stockChangedRetries || attemptCtx.Err() != nil {
			break
		}
		s.logger(ctx, "placement.retry_stock_changed", map[string]any{
			"userID":  cmd.UserID,
			"attempt": attempt + 1,
		})
	}

	detached := context.WithoutCancel(ctx)
	if err != nil {
		s.releaseIdempotencyKey(detached, cmd.UserID, scopedKey)
		s.logger(ctx, "placement.failed", map[string]any{
			"userID": cmd.UserID,
			"error":  err.Error(),
		})
		notifyQuietly(detached, s.notify, s.logger, Notification{
			Kind:       NotificationOrderFailed,
			Identity:   Identity{UserID: cmd.UserID}.Key(),
			Message:    placementFailureMessage(err),
			OccurredAt: s.now(),
		})
		return PlacementResult{}, err
	}

	if scopedKey != "" {
		payload, marshalErr := json.Marshal(result)
		if marshalErr == nil {
			marshalErr = s.idempotency.Complete(detached, scopedKey, fingerprint, payload, s.now(), s.idempotencyTTL)
		}
		if marshalErr != nil {
			s.logger(ctx, "placement.idempotency_complete_failed", map[string]any{
				"orderID": result.OrderID,
				"error":   marshalErr.Error(),
			})
		}
	}
	return result, nil
}

func (s *placementService) reserveIdempotencyKey(ctx context.Context, key, fingerprint string) (PlacementResult, bool, error) {
	reservation, err := s.idempotency.Reserve(ctx, key, fingerprint, s.now(), s.idempotencyTTL)
	if err != nil {
		if errors.Is(err, idempotency.ErrFingerprintMismatch) {
			return PlacementResult{}, true, ErrPlacementIdempotencyConflict
		}
		return PlacementResult{}, true, fmt.Errorf("%w: idempotency reserve: %w", ErrPlacementTransient, err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		var replay PlacementResult
		if err := json.Unmarshal(reservation.Record.Result, &replay); err != nil {
			return PlacementResult{}, true, fmt.Errorf("placement: decode stored result: %w", err)
		}
		replay.Replayed = true
		s.logger(ctx, "placement.replayed", map[string]any{"orderID": replay.OrderID})
		return replay, true, nil
	case idempotency.ReservationStatePending:
		return PlacementResult{}, true, ErrPlacementInProgress
	default:
		return PlacementResult{}, false, nil
	}
}

func (s *placementService) releaseIdempotencyKey(ctx context.Context, userID, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		s.logger(ctx, "placement.idempotency_release_failed", map[string]any{
			"level":  "warn",
			"userID": userID,
			"error":  err.Error(),
		})
	}
}

// compensation undoes one applied effect.
type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *placementService) attempt(ctx context.Context, cmd PlaceOrderCommand) (PlacementResult, error) {
	items := cmd.Cart.Items
	var undo []compensation

	reservations, err := s.reserveAll(ctx, cmd.UserID, items)
	for _, reservation := range reservations {
		id := reservation.ID
		undo = append(undo, compensation{name: "release " + id, fn: func(ctx context.Context) error {
			return s.inventory.Release(ctx, id)
		}})
	}
	if err != nil {
		return PlacementResult{}, s.rollback(ctx, undo, err)
	}

	totals := s.pricer.Calculate(items, cmd.Cart.DiscountPercent)

	var orderNumber string
	err = s.withRetry(ctx, "counter.next", func(int) error {
		var err error
		orderNumber, err = s.counter.NextOrderNumber(ctx)
		return err
	})
	if err != nil {
		return PlacementResult{}, s.rollback(ctx, undo, classifyStorageError("order number", err))
	}

	order := s.buildOrder(cmd, orderNumber, totals)
	err = s.withRetry(ctx, "orders.insert", func(attempt int) error {
		err := s.orders.Insert(ctx, order)
		if err != nil && attempt > 0 && repositories.IsConflict(err) {
			// An earlier attempt landed before its response was lost.
			return nil
		}
		return err
	})
	if err != nil {
		return PlacementResult{}, s.rollback(ctx, undo, classifyStorageError("insert order", err))
	}
	undo = append(undo, compensation{name: "void " + order.ID, fn: func(ctx context.Context) error {
		return s.voidOrder(ctx, order.ID)
	}})

	for _, item := range items {
		key := item.Key()
		qty := item.Quantity
		err := s.withRetry(ctx, "inventory.decrement", func(int) error {
			_, err := s.inventory.TryDecrement(ctx, key, qty)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrInventoryInsufficientStock) || errors.Is(err, ErrInventoryNotFound) {
				err = fmt.Errorf("%w: %w", ErrPlacementStockChanged, err)
			} else {
				err = classifyStorageError("decrement "+key.String(), err)
			}
			return PlacementResult{}, s.rollback(ctx, undo, err)
		}
		undo = append(undo, compensation{name: "restock " + key.String(), fn: func(ctx context.Context) error {
			_, err := s.inventory.Increment(ctx, key, qty)
			return err
		}})
	}

	// The order is durable and stock is decremented from here on. Holds left behind still
	// expire by TTL and a cart left behind is only cosmetic, so failures are retried then logged.
	for _, reservation := range reservations {
		id := reservation.ID
		err := s.withRetry(ctx, "inventory.supersede", func(int) error {
			return s.inventory.Supersede(ctx, id)
		})
		if err != nil {
			s.logger(ctx, "placement.supersede_failed", map[string]any{
				"level":         "error",
				"orderID":       order.ID,
				"reservationID": id,
				"error":         err.Error(),
			})
		}
	}

	err = s.withRetry(ctx, "carts.clear", func(int) error {
		_, err := s.carts.Clear(ctx, Identity{UserID: cmd.UserID})
		return err
	})
	if err != nil {
		s.logger(ctx, "placement.cart_clear_failed", map[string]any{
			"level":   "error",
			"orderID": order.ID,
			"userID":  cmd.UserID,
			"error":   err.Error(),
		})
	}

	s.logger(ctx, "placement.completed", map[string]any{
		"orderID":     order.ID,
		"orderNumber": order.OrderNumber,
		"userID":      cmd.UserID,
		"total":       order.Total.StringFixed(2),
	})
	notifyQuietly(context.WithoutCancel(ctx), s.notify, s.logger, Notification{
		Kind:     NotificationOrderPlaced,
		Identity: Identity{UserID: cmd.UserID}.Key(),
		OrderID:  order.ID,
		Message:  fmt.Sprintf("Order %s placed. Total %s.", order.OrderNumber, FormatMoney(order.Currency, order.Total)),
		Attributes: map[string]string{
			"orderNumber":   order.OrderNumber,
			"total":         order.Total.StringFixed(2),
			"currency":      order.Currency,
			"paymentMethod": string(order.PaymentMethod),
		},
		OccurredAt: s.now(),
	})

	return PlacementResult{OrderID: order.ID, OrderNumber: order.OrderNumber}, nil
}

// reserveAll attempts every item so the error can list all shortfalls. The acquired holds are
// returned even on failure so the caller can release them.
func (s *placementService) reserveAll(ctx context.Context, ownerID string, items []LineItem) ([]Reservation, error) {
	reservations := make([]Reservation, 0, len(items))
	var unavailable []UnavailableItem
	for _, item := range items {
		var reservation Reservation
		err := s.withRetry(ctx, "inventory.reserve", func(int) error {
			var err error
			reservation, err = s.inventory.Reserve(ctx, ReserveCommand{
				Key:      item.Key(),
				Quantity: item.Quantity,
				OwnerID:  ownerID,
				TTL:      s.reservationTTL,
			})
			return err
		})
		if err == nil {
			reservations = append(reservations, reservation)
			continue
		}

		var stockErr *InsufficientStockError
		switch {
		case errors.As(err, &stockErr):
			unavailable = append(unavailable, UnavailableItem{Key: item.Key(), Requested: item.Quantity, Available: stockErr.Available})
		case errors.Is(err, ErrInventoryNotFound):
			unavailable = append(unavailable, UnavailableItem{Key: item.Key(), Requested: item.Quantity})
		default:
			return reservations, classifyStorageError("reserve "+item.Key().String(), err)
		}
	}
	if len(unavailable) > 0 {
		return reservations, &StockUnavailableError{Items: unavailable}
	}
	return reservations, nil
}

// rollback runs the compensations in reverse order on a context that outlives the caller's
// deadline. Any failed compensation escalates the error to ErrPlacementRollbackFailed.
func (s *placementService) rollback(ctx context.Context, undo []compensation, cause error) error {
	if len(undo) == 0 {
		return cause
	}
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRollbackTimeout)
	defer cancel()

	var failures []error
	for i := len(undo) - 1; i >= 0; i-- {
		step := undo[i]
		err := s.withRetry(rollbackCtx, "rollback", func(int) error {
			return step.fn(rollbackCtx)
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	if len(failures) == 0 {
		s.logger(ctx, "placement.rolled_back", map[string]any{
			"steps": len(undo),
			"cause": cause.Error(),
		})
		return cause
	}

	joined := errors.Join(failures...)
	s.logger(ctx, "placement.rollback_failed", map[string]any{
		"level": "error",
		"cause": cause.Error(),
		"error": joined.Error(),
	})
	return errors.Join(ErrPlacementRollbackFailed, cause, joined)
}

func (s *placementService) voidOrder(ctx context.Context, orderID string) error {
	_, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		if order.Status == domain.OrderStatusVoided {
			return nil
		}
		now := s.now()
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From:   order.Status,
			To:     domain.OrderStatusVoided,
			Reason: voidReason,
			At:     now,
		})
		order.Status = domain.OrderStatusVoided
		order.UpdatedAt = now
		return nil
	})
	return err
}

// withRetry retries fn while it reports a transient storage error, backing off between attempts.
func (s *placementService) withRetry(ctx context.Context, op string, fn func(attempt int) error) error {
	return s.retry.do(ctx, fn, func(attempt int, pause time.Duration, err error) {
		s.logger(ctx, "placement.retry", map[string]any{
			"op":      op,
			"attempt": attempt,
			"pause":   pause.String(),
			"error":   err.Error(),
		})
	})
}

func (s *placementService) buildOrder(cmd PlaceOrderCommand, orderNumber string, totals PricingBreakdown) Order {
	now := s.now()
	items := make([]OrderItem, 0, len(cmd.Cart.Items))
	for _, item := range cmd.Cart.Items {
		items = append(items, OrderItem{
			ProductID:   item.ProductID,
			VariantKey:  item.VariantKey,
			DisplayName: item.DisplayName,
			ImageRef:    item.ImageRef,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   domain.Round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}

	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil {
		billing = *cmd.BillingAddress
	}

	var promo *string
	if cmd.Cart.PromoCode != nil && totals.DiscountPercent > 0 {
		code := *cmd.Cart.PromoCode
		promo = &code
	}

	order := Order{
		ID:              ensureOrderID(s.newID()),
		OrderNumber:     orderNumber,
		UserID:          cmd.UserID,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		PaymentMethod:   cmd.PaymentMethod,
		Currency:        totals.Currency,
		Subtotal:        totals.Subtotal,
		Discount:        totals.Discount,
		Tax:             totals.Tax,
		ShippingFee:     totals.Shipping,
		Total:           totals.Total,
		DiscountPercent: totals.DiscountPercent,
		PromoCode:       promo,
		Status:          domain.OrderStatusPending,
		StatusHistory: []domain.StatusChange{{
			To: domain.OrderStatusPending,
			At: now,
		}},
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cmd.PaymentMethod.CapturesImmediately() {
		paidAt := now
		order.IsPaid = true
		order.PaidAt = &paidAt
	}
	return order
}

func validatePlacement(cmd PlaceOrderCommand) error {
	if cmd.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrPlacementInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrPlacementInvalidInput, cmd.PaymentMethod)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return fmt.Errorf("%w: shipping address: %s", ErrPlacementInvalidInput, err)
	}
	if cmd.BillingAddress != nil {
		if err := validateAddress(*cmd.BillingAddress); err != nil {
			return fmt.Errorf("%w: billing address: %s", ErrPlacementInvalidInput, err)
		}
	}
	if cmd.Cart.IsEmpty() {
		return ErrPlacementEmptyCart
	}
	seen := make(map[StockKey]struct{}, len(cmd.Cart.Items))
	for _, item := range cmd.Cart.Items {
		if !item.Key().Valid() || item.Quantity < 1 {
			return fmt.Errorf("%w: malformed line item %s", ErrPlacementInvalidInput, item.Key())
		}
		if _, dup := seen[item.Key()]; dup {
			return fmt.Errorf("%w: duplicate line item %s", ErrPlacementInvalidInput, item.Key())
		}
		seen[item.Key()] = struct{}{}
	}
	return nil
}

func validateAddress(addr Address) error {
	missing := make([]string, 0, 5)
	for field, value := range map[string]string{
		"recipient":  addr.Recipient,
		"line1":      addr.Line1,
		"city":       addr.City,
		"postalCode": addr.PostalCode,
		"country":    addr.Country,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// placementFingerprint identifies the request behind an idempotency key: the user, the items
// with their quantities and prices, and the discount.
func placementFingerprint(cmd PlaceOrderCommand) string {
	parts := make([]string, 0, len(cmd.Cart.Items)+2)
	parts = append(parts, cmd.UserID)
	for _, item := range cmd.Cart.Items {
		parts = append(parts, item.Key().String()+"x"+strconv.Itoa(item.Quantity)+"@"+item.UnitPrice.StringFixed(2))
	}
	parts = append(parts, "discount="+strconv.Itoa(cmd.Cart.DiscountPercent))
	return idempotency.Fingerprint(parts...)
}

func classifyStorageError(step string, err error) error {
	if repositories.IsUnavailable(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrPlacementTransient, step, err)
	}
	return fmt.Errorf("placement: %s: %w", step, err)
}

func placementOutcome(result PlacementResult, err error) string {
	switch {
	case err == nil && result.Replayed:
		return "replayed"
	case err == nil:
		return "placed"
	case errors.Is(err, ErrPlacementRollbackFailed):
		return "rollback_failed"
	case errors.Is(err, ErrPlacementStockUnavailable):
		return "stock_unavailable"
	case errors.Is(err, ErrPlacementStockChanged):
		return "stock_changed"
	case errors.Is(err, ErrPlacementTransient):
		return "transient"
	case errors.Is(err, ErrPlacementEmptyCart), errors.Is(err, ErrPlacementInvalidInput):
		return "invalid"
	case errors.Is(err, ErrPlacementInProgress), errors.Is(err, ErrPlacementIdempotencyConflict):
		return "duplicate"
	default:
		return "error"
	}
}

func placementFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrPlacementRollbackFailed):
		return "We could not complete your order. Please contact support."
	case errors.Is(err, ErrPlacementStockUnavailable), errors.Is(err, ErrPlacementStockChanged):
		return "Some items in your cart are no longer available."
	case errors.Is(err, ErrPlacementTransient):
		return "We could not place your order right now. Please try again."
	default:
		return "Your order could not be placed."
	}
}

func ensureOrderID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "ord_") {
		return id
	}
	return "ord_" + id
}

func positiveOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
