package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart             = domain.Cart
	LineItem         = domain.LineItem
	Identity         = domain.Identity
	StockKey         = domain.StockKey
	Product          = domain.Product
	Reservation      = domain.Reservation
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	Address          = domain.Address
	PaymentMethod    = domain.PaymentMethod
	PricingBreakdown = domain.PricingBreakdown
)

// InventoryService fronts the stock ledger and the reservation holds placed against it.
type InventoryService interface {
	GetAvailable(ctx context.Context, key StockKey) (int, error)
	TryDecrement(ctx context.Context, key StockKey, quantity int) (domain.StockRecord, error)
	Increment(ctx context.Context, key StockKey, quantity int) (domain.StockRecord, error)
	Reserve(ctx context.Context, cmd ReserveCommand) (Reservation, error)
	Release(ctx context.Context, reservationID string) error
	Supersede(ctx context.Context, reservationID string) error
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// CatalogService looks up products in the catalog.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	UpsertProduct(ctx context.Context, product Product) (Product, error)
}

// PromotionService resolves promo codes against the configured rule set.
type PromotionService interface {
	Lookup(ctx context.Context, code string) (int, error)
}

// PricingEngine computes cart and order totals under the configured policy.
type PricingEngine interface {
	Calculate(items []LineItem, discountPercent int) PricingBreakdown
	Currency() string
}

// CartService manages per-identity carts.
type CartService interface {
	GetCart(ctx context.Context, identity Identity) (CartView, error)
	AddItem(ctx context.Context, cmd AddItemCommand) (CartView, error)
	UpdateQuantity(ctx context.Context, cmd UpdateQuantityCommand) (CartView, error)
	RemoveItem(ctx context.Context, cmd RemoveItemCommand) (CartView, error)
	Clear(ctx context.Context, identity Identity) (CartView, error)
	ApplyPromoCode(ctx context.Context, cmd ApplyPromoCommand) (CartView, error)
	MergeCarts(ctx context.Context, cmd MergeCartsCommand) (CartView, error)
}

// PlacementService turns a cart snapshot into a durable order.
type PlacementService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacementResult, error)
}

// OrderService covers order reads and status transitions after placement.
type OrderService interface {
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkOrderPaid(ctx context.Context, orderID string) (Order, error)
	AdvanceOrder(ctx context.Context, orderID string) (Order, error)
}

// CounterService issues human readable sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// NotificationSink receives human readable outcome messages. Delivery is best effort.
type NotificationSink interface {
	Notify(ctx context.Context, msg Notification) error
}

// Notification is a message pushed to the sink after cart and order events.
type Notification struct {
	Kind       string
	Identity   string
	OrderID    string
	Message    string
	Attributes map[string]string
	OccurredAt time.Time
}

// Notification kinds.
const (
	NotificationOrderPlaced     = "order.placed"
	NotificationOrderFailed     = "order.failed"
	NotificationOrderCancelled  = "order.cancelled"
	NotificationOrderPaid       = "order.paid"
	NotificationCartPromoFailed = "cart.promo_rejected"
)

// ReserveCommand asks for a hold of Quantity units of Key on behalf of OwnerID.
type ReserveCommand struct {
	Key      StockKey
	Quantity int
	OwnerID  string
	TTL      time.Duration
}

// CartView is a cart together with its computed totals. Stale is set when the cart was served from
// the local cache because the durable store could not be reached.
type CartView struct {
	Cart   Cart
	Totals PricingBreakdown
	Stale  bool
}

type AddItemCommand struct {
	Identity   Identity
	ProductID  string
	VariantKey string
	Quantity   int
}

type UpdateQuantityCommand struct {
	Identity   Identity
	ProductID  string
	VariantKey string
	Quantity   int
}

type RemoveItemCommand struct {
	Identity   Identity
	ProductID  string
	VariantKey string
}

type ApplyPromoCommand struct {
	Identity Identity
	Code     string
}

// MergeCartsCommand folds the anonymous Source cart into the signed-in Target cart.
type MergeCartsCommand struct {
	Source Identity
	Target Identity
}

// PlaceOrderCommand carries everything needed to place an order from a cart snapshot.
type PlaceOrderCommand struct {
	UserID          string
	Cart            Cart
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethod   PaymentMethod
	IdempotencyKey  string
}

// PlacementResult identifies the order created by a placement.
type PlacementResult struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Replayed    bool   `json:"-"`
}

type CancelOrderCommand struct {
	OrderID string
	// UserID restricts cancellation to the owner when set. Staff cancellations leave it empty.
	UserID string
	Reason string
}
