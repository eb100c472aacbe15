package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for ledger and reservation operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorStockNotFound indicates the product or variant has no stock record.
	InventoryErrorStockNotFound InventoryErrorCode = "inventory_stock_not_found"
	// InventoryErrorReservationNotFound indicates the reservation document is missing.
	InventoryErrorReservationNotFound InventoryErrorCode = "inventory_reservation_not_found"
	// InventoryErrorInvalidQuantity indicates a non-positive quantity was supplied.
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError wraps inventory-specific failures with machine readable codes. For
// insufficient stock, Requested and Available describe the shortfall.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	Message   string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Shortfall returns how many units are missing to satisfy the request.
func (e *InventoryError) Shortfall() int {
	if e == nil || e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports that only available units remain for a request of requested.
func NewInsufficientStockError(key string, requested, available int) *InventoryError {
	if available < 0 {
		available = 0
	}
	err := NewInventoryError(InventoryErrorInsufficientStock,
		fmt.Sprintf("insufficient stock for %s: requested %d, available %d", key, requested, available), nil)
	err.Requested = requested
	err.Available = available
	return err
}
