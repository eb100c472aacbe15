package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Identity names the owner of a cart: an authenticated user or an anonymous browser session.
type Identity struct {
	UserID    string
	SessionID string
}

// IsZero reports whether neither a user nor a session is set.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.UserID) == "" && strings.TrimSpace(i.SessionID) == ""
}

// IsAnonymous reports whether the identity refers to a session rather than a user.
func (i Identity) IsAnonymous() bool {
	return strings.TrimSpace(i.UserID) == "" && strings.TrimSpace(i.SessionID) != ""
}

// Key returns the storage key for the identity. User ids take precedence over session ids.
func (i Identity) Key() string {
	if user := strings.TrimSpace(i.UserID); user != "" {
		return "user:" + user
	}
	if session := strings.TrimSpace(i.SessionID); session != "" {
		return "session:" + session
	}
	return ""
}

// StockKey addresses a single sellable variant of a product.
type StockKey struct {
	ProductID  string
	VariantKey string
}

// String renders the key as productId/variantKey.
func (k StockKey) String() string {
	return k.ProductID + "/" + k.VariantKey
}

// Valid reports whether both parts of the key are present.
func (k StockKey) Valid() bool {
	return strings.TrimSpace(k.ProductID) != "" && strings.TrimSpace(k.VariantKey) != ""
}

// Product is the catalog projection consumed by the cart: name, price, image and stock per variant.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	ImageRef  string
	Variants  map[string]int
	Active    bool
	UpdatedAt time.Time
}

// HasVariant reports whether the product tracks stock for the variant.
func (p Product) HasVariant(variantKey string) bool {
	if p.Variants == nil {
		return false
	}
	_, ok := p.Variants[variantKey]
	return ok
}

// LineItem is a single (product, variant) entry in a cart. Price fields are captured when the
// item is added and are not refreshed by later catalog changes.
type LineItem struct {
	ProductID         string
	VariantKey        string
	Quantity          int
	UnitPrice         decimal.Decimal
	UnitPriceOriginal decimal.Decimal
	DisplayName       string
	ImageRef          string
	AddedAt           time.Time
}

// Key returns the identity key of the line item.
func (l LineItem) Key() StockKey {
	return StockKey{ProductID: l.ProductID, VariantKey: l.VariantKey}
}

// Cart aggregates the mutable shopping cart state for an identity.
type Cart struct {
	ID              string
	Owner           Identity
	Items           []LineItem
	DiscountPercent int
	PromoCode       *string
	Currency        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the cart so callers can mutate it without aliasing.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]LineItem, len(c.Items))
		copy(out.Items, c.Items)
	}
	if c.PromoCode != nil {
		code := *c.PromoCode
		out.PromoCode = &code
	}
	return out
}

// IsEmpty reports whether the cart holds no line items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindItem returns the index of the line item with the key, or -1.
func (c Cart) FindItem(key StockKey) int {
	for i, item := range c.Items {
		if item.ProductID == key.ProductID && item.VariantKey == key.VariantKey {
			return i
		}
	}
	return -1
}

// StockRecord is the available quantity tracked for a variant. Available is never negative.
type StockRecord struct {
	Key       StockKey
	Available int
	UpdatedAt time.Time
}

// ReservationStatus enumerates the lifecycle of a stock reservation.
type ReservationStatus string

const (
	// ReservationStatusActive holds stock until it expires or is released.
	ReservationStatusActive ReservationStatus = "active"
	// ReservationStatusReleased indicates the hold was dropped without a sale.
	ReservationStatusReleased ReservationStatus = "released"
	// ReservationStatusSuperseded indicates the hold was replaced by a real decrement.
	ReservationStatusSuperseded ReservationStatus = "superseded"
	// ReservationStatusExpired indicates the hold timed out.
	ReservationStatusExpired ReservationStatus = "expired"
)

// Reservation earmarks stock for an owner without decrementing the ledger.
type Reservation struct {
	ID         string
	ProductID  string
	VariantKey string
	Quantity   int
	OwnerID    string
	Status     ReservationStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ReleasedAt *time.Time
}

// Key returns the stock key held by the reservation.
func (r Reservation) Key() StockKey {
	return StockKey{ProductID: r.ProductID, VariantKey: r.VariantKey}
}

// IsLive reports whether the reservation still holds stock at the given instant.
func (r Reservation) IsLive(now time.Time) bool {
	return r.Status == ReservationStatusActive && now.Before(r.ExpiresAt)
}

// Address represents postal address structures used on orders.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// PaymentMethod identifies how the customer pays for an order.
type PaymentMethod string

const (
	// PaymentMethodCOD collects payment on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodCard is confirmed asynchronously by a payment gateway.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodUPI is confirmed asynchronously by a payment gateway.
	PaymentMethodUPI PaymentMethod = "upi"
	// PaymentMethodWallet is captured from store credit at placement time.
	PaymentMethodWallet PaymentMethod = "wallet"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI, PaymentMethodWallet:
		return true
	default:
		return false
	}
}

// CapturesImmediately reports whether placing the order also captures the payment.
func (m PaymentMethod) CapturesImmediately() bool {
	return m == PaymentMethodWallet
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the state of a freshly placed order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipping.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusVoided marks an order record whose placement was rolled back.
	OrderStatusVoided OrderStatus = "voided"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusVoided:
		return true
	default:
		return false
	}
}

// OrderItem is the immutable copy of a cart line item taken at placement time.
type OrderItem struct {
	ProductID   string
	VariantKey  string
	DisplayName string
	ImageRef    string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// Key returns the stock key of the item.
func (i OrderItem) Key() StockKey {
	return StockKey{ProductID: i.ProductID, VariantKey: i.VariantKey}
}

// StatusChange is an append-only entry in an order's status history.
type StatusChange struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
	At     time.Time
}

// Order is immutable once placed except for status, payment flags and history.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   PaymentMethod
	Currency        string
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	ShippingFee     decimal.Decimal
	Total           decimal.Decimal
	DiscountPercent int
	PromoCode       *string
	IsPaid          bool
	PaidAt          *time.Time
	Status          OrderStatus
	StatusHistory   []StatusChange
	CancelReason    *string
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy of the order whose slices can be modified independently.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	return out
}

// Quantities returns the ordered quantity per stock key.
func (o Order) Quantities() map[StockKey]int {
	out := make(map[StockKey]int, len(o.Items))
	for _, item := range o.Items {
		out[item.Key()] += item.Quantity
	}
	return out
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
