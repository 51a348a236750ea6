/*
errors.go - Centralized error types for the rental engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error reaching the API layer carries its specific reason. Nothing
  here is swallowed or retried silently.

ERROR CATEGORIES:
  1. Catalog errors    - Target, promo or booking cannot be resolved
  2. Allocation errors - Not enough free units, concurrent claims
  3. Validation errors - Date range, quantity, down payment, status

RETRY POLICY:
  Only ErrConcurrentAllocationConflict warrants an automatic retry, and
  only once (see booking/service.go).

USAGE:
  var insufficient *inventory.InsufficientInventoryError
  if errors.As(err, &insufficient) {
      fmt.Println(insufficient.Shortfall, insufficient.Bottleneck)
  }

SEE ALSO:
  - allocator.go: Produces InsufficientInventoryError
  - payment/payment.go: Produces DownPaymentError
  - api/handlers.go: Maps errors to HTTP statuses
*/
package inventory

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTargetNotFound is returned when a product or bundle id does not resolve.
	// Read paths treat it as zero availability; allocation rejects it.
	ErrTargetNotFound = errors.New("target not found")

	// ErrInsufficientInventory is returned when a request exceeds free units.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrInvalidDateRange is returned when end precedes start.
	ErrInvalidDateRange = errors.New("invalid date range: end before start")

	// ErrInvalidDownPayment is returned when a down payment is outside its valid range.
	ErrInvalidDownPayment = errors.New("invalid down payment")

	// ErrConcurrentAllocationConflict is returned when a unit was claimed by
	// another line item after the availability snapshot was read.
	ErrConcurrentAllocationConflict = errors.New("concurrent allocation conflict")

	// ErrConcurrentModification is returned when a booking version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrBookingNotFound  = errors.New("booking not found")
	ErrLineItemNotFound = errors.New("line item not found")
	ErrPromoNotFound    = errors.New("promo not found")
	ErrPromoInactive    = errors.New("promo is not active")
	ErrInvalidPromo     = errors.New("invalid promo")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrInvalidStatus    = errors.New("invalid booking status")
	ErrInvalidTarget    = errors.New("invalid line item target")
	ErrInvalidCatalog   = errors.New("invalid catalog entry")
	ErrInvalidAddOn     = errors.New("invalid add-on")

	// ErrAmountOverflow is returned when a monetary figure does not fit in
	// an int64 of the smallest currency unit.
	ErrAmountOverflow = errors.New("amount exceeds representable range")

	// ErrLastLineItem is returned when removing the only line item of a booking.
	ErrLastLineItem = errors.New("booking must keep at least one line item")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TargetNotFoundError names the unresolved target.
type TargetNotFoundError struct {
	Target Target
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target not found: %s", e.Target)
}

func (e *TargetNotFoundError) Unwrap() error { return ErrTargetNotFound }

// InsufficientInventoryError describes an allocation shortfall.
//
// Requested and Available are counted in target units (products or bundles).
// For bundles, Bottleneck is the first component in bundle order that cannot
// supply its share, and Shortfall is counted in that component's units.
type InsufficientInventoryError struct {
	Target    Target
	Requested int
	Available int
	Shortfall int

	Bottleneck         *ProductID
	ComponentRequired  int
	ComponentAvailable int
}

func (e *InsufficientInventoryError) Error() string {
	if e.Bottleneck != nil {
		return fmt.Sprintf("insufficient inventory for %s: requested %d, available %d; product %d needs %d units, %d free (shortfall %d)",
			e.Target, e.Requested, e.Available, *e.Bottleneck, e.ComponentRequired, e.ComponentAvailable, e.Shortfall)
	}
	return fmt.Sprintf("insufficient inventory for %s: requested %d, available %d (shortfall %d)",
		e.Target, e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// DateRangeError carries the rejected range.
type DateRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *DateRangeError) Error() string {
	return fmt.Sprintf("invalid date range: end %s precedes start %s",
		e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

func (e *DateRangeError) Unwrap() error { return ErrInvalidDateRange }

// DownPaymentError carries the valid range in its message.
type DownPaymentError struct {
	Amount int64
	Min    int64
	Max    int64
}

func (e *DownPaymentError) Error() string {
	return fmt.Sprintf("invalid down payment %d: must be between %d and %d", e.Amount, e.Min, e.Max)
}

func (e *DownPaymentError) Unwrap() error { return ErrInvalidDownPayment }

// AllocationConflictError names the unit that was claimed concurrently.
type AllocationConflictError struct {
	UnitID UnitID
	HeldBy LineItemID
}

func (e *AllocationConflictError) Error() string {
	if e.HeldBy == 0 {
		return fmt.Sprintf("concurrent allocation conflict on unit %d", e.UnitID)
	}
	return fmt.Sprintf("concurrent allocation conflict: unit %d already held by line item %d", e.UnitID, e.HeldBy)
}

func (e *AllocationConflictError) Unwrap() error { return ErrConcurrentAllocationConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentAllocationConflict) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrInvalidDownPayment) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrInvalidPromo) ||
		errors.Is(err, ErrInvalidCatalog) ||
		errors.Is(err, ErrInvalidAddOn) ||
		errors.Is(err, ErrPromoInactive) ||
		errors.Is(err, ErrAmountOverflow) ||
		errors.Is(err, ErrLastLineItem)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrLineItemNotFound) ||
		errors.Is(err, ErrPromoNotFound)
}
