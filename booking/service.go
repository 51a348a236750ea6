/*
Package booking is the inbound API of the rental engine.

PURPOSE:
  Orchestrates catalog, ledger, allocator, pricing and payment state
  machine behind the operations the UI/API layer calls. Every mutation runs
  inside TxStore.WithTx, so check-then-assign and the financial write-back
  commit together or not at all.

OPERATIONS:
  CreateBooking           New booking with its line items
  CreateOrUpdateLineItem  Allocate units for one line item
  RemoveLineItem          Drop a line item (never the last one)
  RescheduleBooking       New date range, reallocates every line item
  SetPromo / SetAddOns    Change pricing inputs
  RecomputePricing        Re-run the single pricing path
  SetDownPayment          Validated down payment edit
  EditDownPayment         Inferential down payment edit
  SetStatus               Explicit status action

RETRY POLICY:
  ErrConcurrentAllocationConflict retries the whole transaction once.
  Every other error reaches the caller untouched.

REACTIVATION:
  A booking leaving the active set (cancelled or finished, by status
  action, down payment edit or repricing) has its line items saved without
  units. Moving it back to an active status reallocates every line item
  all-or-nothing first.

SEE ALSO:
  - inventory/allocator.go: Unit selection
  - pricing/pricing.go: Grand total
  - payment/payment.go: Status and settlement figures
  - integrity.go: Periodic drift and double-booking audit
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/logger"
	"github.com/warp/rental-engine/payment"
	"github.com/warp/rental-engine/pricing"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service exposes the engine's operations over a transactional store.
type Service struct {
	store  inventory.TxStore
	policy payment.Policy
	log    *slog.Logger
}

type Option func(*Service)

// WithPolicy sets the settlement ratios.
func WithPolicy(p payment.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(store inventory.TxStore, opts ...Option) *Service {
	s := &Service{store: store, policy: payment.DefaultPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithComponent("booking")
	}
	return s
}

// Policy returns the settlement policy in effect.
func (s *Service) Policy() payment.Policy { return s.policy }

// =============================================================================
// REQUESTS & RESULTS
// =============================================================================

// ItemRequest is one line of a new booking or quote.
type ItemRequest struct {
	Target   inventory.Target
	Quantity int
}

type CreateBookingRequest struct {
	CustomerRef string
	Range       inventory.DateRange
	PromoID     *inventory.PromoID
	Items       []ItemRequest
	AddOns      []inventory.AddOn

	// DownPayment defaults to the minimum down payment.
	DownPayment *int64
}

// LineItemRequest creates (LineItemID zero) or updates a line item.
// A non-zero Range different from the booking's reschedules the booking.
type LineItemRequest struct {
	BookingID  inventory.BookingID
	LineItemID inventory.LineItemID
	Target     inventory.Target
	Quantity   int
	Range      inventory.DateRange
}

// View is a booking with its line items and a fresh pricing breakdown.
type View struct {
	Booking   inventory.Booking
	LineItems []inventory.LineItem
	Breakdown pricing.Breakdown
}

type LineItemResult struct {
	LineItem        inventory.LineItem
	AssignedUnitIDs []inventory.UnitID
	Breakdown       pricing.Breakdown
	Financials      payment.Financials
}

type DownPaymentResult struct {
	Status           inventory.Status
	RemainingPayment int64
}

type StatusResult struct {
	DownPayment      int64
	RemainingPayment int64
}

type QuoteRequest struct {
	Range   inventory.DateRange
	PromoID *inventory.PromoID
	Items   []ItemRequest
	AddOns  []inventory.AddOn
}

// =============================================================================
// BOOKINGS
// =============================================================================

// CreateBooking allocates every item and persists the booking with its
// derived financial figures. Nothing is persisted if any item is short.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*View, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: a booking needs at least one line item", inventory.ErrInvalidQuantity)
	}
	if err := req.Range.Validate(); err != nil {
		return nil, err
	}
	if err := validateAddOns(req.AddOns); err != nil {
		return nil, err
	}

	var view *View
	err := s.allocating(ctx, "create_booking", func(tx inventory.Store) error {
		if req.PromoID != nil {
			if _, err := requireActivePromo(ctx, tx, *req.PromoID); err != nil {
				return err
			}
		}

		b := &inventory.Booking{
			CustomerRef: req.CustomerRef,
			Range:       req.Range,
			PromoID:     req.PromoID,
			Status:      inventory.StatusPending,
			AddOns:      req.AddOns,
		}
		if err := tx.CreateBooking(ctx, b); err != nil {
			return err
		}

		alloc := inventory.NewStoreAllocator(tx)
		items := make([]inventory.LineItem, 0, len(req.Items))
		for _, item := range req.Items {
			units, err := alloc.Allocate(ctx, item.Target, item.Quantity, b.Range, nil)
			if err != nil {
				return err
			}
			li := inventory.LineItem{
				BookingID: b.ID,
				Target:    item.Target,
				Quantity:  item.Quantity,
				UnitIDs:   units,
			}
			if err := tx.SaveLineItem(ctx, &li); err != nil {
				return err
			}
			items = append(items, li)
		}

		breakdown, err := pricing.ForBooking(ctx, tx, tx, *b, items)
		if err != nil {
			return err
		}
		fin, err := s.policy.Open(breakdown.GrandTotal, req.DownPayment)
		if err != nil {
			return err
		}
		fin.ApplyTo(b)
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		view = &View{Booking: *b, LineItems: items, Breakdown: breakdown}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "booking created",
		"booking_id", view.Booking.ID,
		"line_items", len(view.LineItems),
		"grand_total", view.Booking.GrandTotal,
		"status", view.Booking.Status)
	return view, nil
}

// GetBooking returns the booking, its line items and a fresh breakdown.
func (s *Service) GetBooking(ctx context.Context, id inventory.BookingID) (*View, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListLineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	breakdown, err := pricing.ForBooking(ctx, s.store, s.store, *b, items)
	if err != nil {
		return nil, err
	}
	return &View{Booking: *b, LineItems: items, Breakdown: breakdown}, nil
}

func (s *Service) ListBookings(ctx context.Context, filter inventory.BookingFilter) ([]inventory.Booking, error) {
	return s.store.ListBookings(ctx, filter)
}

// RescheduleBooking moves the booking to r and reallocates every line item.
func (s *Service) RescheduleBooking(ctx context.Context, id inventory.BookingID, r inventory.DateRange) (*View, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var view *View
	err := s.allocating(ctx, "reschedule_booking", func(tx inventory.Store) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		b.Range = r
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		items, err := tx.ListLineItems(ctx, id)
		if err != nil {
			return err
		}
		if err := s.reallocateAll(ctx, tx, b, items); err != nil {
			return err
		}

		breakdown, items, err := s.reprice(ctx, tx, b)
		if err != nil {
			return err
		}
		view = &View{Booking: *b, LineItems: items, Breakdown: breakdown}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// CreateOrUpdateLineItem allocates units for one line item and re-prices the
// booking. The item's own previous assignment never counts as taken.
func (s *Service) CreateOrUpdateLineItem(ctx context.Context, req LineItemRequest) (*LineItemResult, error) {
	if req.Quantity < 1 {
		return nil, inventory.ErrInvalidQuantity
	}
	if req.Target.IsZero() {
		return nil, inventory.ErrInvalidTarget
	}
	if !req.Range.IsZero() {
		if err := req.Range.Validate(); err != nil {
			return nil, err
		}
	}

	var result *LineItemResult
	err := s.allocating(ctx, "save_line_item", func(tx inventory.Store) error {
		b, err := tx.GetBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		items, err := tx.ListLineItems(ctx, b.ID)
		if err != nil {
			return err
		}

		idx := -1
		for i := range items {
			if items[i].ID == req.LineItemID {
				idx = i
			}
		}
		if req.LineItemID != 0 && idx < 0 {
			return fmt.Errorf("%w: %d in booking %d", inventory.ErrLineItemNotFound, req.LineItemID, b.ID)
		}
		if idx < 0 {
			items = append(items, inventory.LineItem{BookingID: b.ID})
			idx = len(items) - 1
		}
		items[idx].Target = req.Target
		items[idx].Quantity = req.Quantity

		if !req.Range.IsZero() && !req.Range.Equal(b.Range) {
			b.Range = req.Range
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
			if err := s.reallocateAll(ctx, tx, b, items); err != nil {
				return err
			}
		} else if !b.Status.IsActive() {
			items[idx].UnitIDs = nil
			if err := tx.SaveLineItem(ctx, &items[idx]); err != nil {
				return err
			}
		} else {
			alloc := inventory.NewStoreAllocator(tx)
			units, err := alloc.Allocate(ctx, req.Target, req.Quantity, b.Range, []inventory.LineItemID{items[idx].ID})
			if err != nil {
				return err
			}
			items[idx].UnitIDs = units
			if err := tx.SaveLineItem(ctx, &items[idx]); err != nil {
				return err
			}
		}

		breakdown, current, err := s.reprice(ctx, tx, b)
		if err != nil {
			return err
		}
		saved := items[idx]
		for _, li := range current {
			if li.ID == saved.ID {
				saved = li
			}
		}
		result = &LineItemResult{
			LineItem:        saved,
			AssignedUnitIDs: saved.UnitIDs,
			Breakdown:       breakdown,
			Financials:      payment.FromBooking(*b),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "line item allocated",
		"booking_id", req.BookingID,
		"line_item_id", result.LineItem.ID,
		"target", req.Target.String(),
		"units", len(result.AssignedUnitIDs))
	return result, nil
}

// RemoveLineItem deletes a line item, releasing its units, and re-prices.
func (s *Service) RemoveLineItem(ctx context.Context, bookingID inventory.BookingID, lineItemID inventory.LineItemID) (*View, error) {
	var view *View
	err := s.store.WithTx(ctx, func(tx inventory.Store) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		items, err := tx.ListLineItems(ctx, bookingID)
		if err != nil {
			return err
		}

		var kept []inventory.LineItem
		found := false
		for _, li := range items {
			if li.ID == lineItemID {
				found = true
				continue
			}
			kept = append(kept, li)
		}
		if !found {
			return fmt.Errorf("%w: %d in booking %d", inventory.ErrLineItemNotFound, lineItemID, bookingID)
		}
		if len(kept) == 0 {
			return inventory.ErrLastLineItem
		}
		if err := tx.DeleteLineItem(ctx, lineItemID); err != nil {
			return err
		}

		breakdown, kept, err := s.reprice(ctx, tx, b)
		if err != nil {
			return err
		}
		view = &View{Booking: *b, LineItems: kept, Breakdown: breakdown}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// =============================================================================
// PRICING INPUTS
// =============================================================================

// SetPromo attaches (or with nil, detaches) a promo and re-prices.
func (s *Service) SetPromo(ctx context.Context, bookingID inventory.BookingID, promoID *inventory.PromoID) (pricing.Breakdown, error) {
	var breakdown pricing.Breakdown
	err := s.store.WithTx(ctx, func(tx inventory.Store) error {
		if promoID != nil {
			if _, err := requireActivePromo(ctx, tx, *promoID); err != nil {
				return err
			}
		}
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		b.PromoID = promoID
		breakdown, _, err = s.reprice(ctx, tx, b)
		return err
	})
	return breakdown, err
}

// SetAddOns replaces the booking's flat add-on charges and re-prices.
func (s *Service) SetAddOns(ctx context.Context, bookingID inventory.BookingID, addOns []inventory.AddOn) (pricing.Breakdown, error) {
	if err := validateAddOns(addOns); err != nil {
		return pricing.Breakdown{}, err
	}

	var breakdown pricing.Breakdown
	err := s.store.WithTx(ctx, func(tx inventory.Store) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		b.AddOns = addOns
		breakdown, _, err = s.reprice(ctx, tx, b)
		return err
	})
	return breakdown, err
}

// RecomputePricing re-runs the pricing path and re-validates the down payment.
func (s *Service) RecomputePricing(ctx context.Context, bookingID inventory.BookingID) (pricing.Breakdown, error) {
	var breakdown pricing.Breakdown
	err := s.store.WithTx(ctx, func(tx inventory.Store) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		breakdown, _, err = s.reprice(ctx, tx, b)
		return err
	})
	return breakdown, err
}

// Quote prices items without touching the ledger.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (pricing.Breakdown, error) {
	if err := req.Range.Validate(); err != nil {
		return pricing.Breakdown{}, err
	}
	if err := validateAddOns(req.AddOns); err != nil {
		return pricing.Breakdown{}, err
	}

	lines := make([]pricing.Line, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return pricing.Breakdown{}, inventory.ErrInvalidQuantity
		}
		price, err := pricing.UnitPrice(ctx, s.store, item.Target)
		if err != nil {
			return pricing.Breakdown{}, err
		}
		lines = append(lines, pricing.Line{UnitPrice: price, Quantity: item.Quantity})
	}

	var promo *inventory.Promo
	if req.PromoID != nil {
		p, err := requireActivePromo(ctx, s.store, *req.PromoID)
		if err != nil {
			return pricing.Breakdown{}, err
		}
		promo = p
	}
	return pricing.ComputeGrandTotal(lines, req.Range.Days(), promo, req.AddOns...)
}

// =============================================================================
// PAYMENT & STATUS
// =============================================================================

// SetDownPayment rejects amounts outside [minimum, grand total] and infers
// the status from the accepted amount.
func (s *Service) SetDownPayment(ctx context.Context, bookingID inventory.BookingID, amount int64) (*DownPaymentResult, error) {
	return s.editDownPayment(ctx, bookingID, "set_down_payment", func(f payment.Financials) (payment.Financials, error) {
		return s.policy.SetDownPayment(f, amount)
	})
}

// EditDownPayment accepts any amount and infers the status from it. An
// amount below the minimum cancels the booking.
func (s *Service) EditDownPayment(ctx context.Context, bookingID inventory.BookingID, amount int64) (*DownPaymentResult, error) {
	return s.editDownPayment(ctx, bookingID, "edit_down_payment", func(f payment.Financials) (payment.Financials, error) {
		return s.policy.OnDownPaymentEdited(f, amount), nil
	})
}

func (s *Service) editDownPayment(ctx context.Context, bookingID inventory.BookingID, op string, derive func(payment.Financials) (payment.Financials, error)) (*DownPaymentResult, error) {
	var result *DownPaymentResult
	err := s.allocating(ctx, op, func(tx inventory.Store) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		fin, err := derive(payment.FromBooking(*b))
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, b, fin); err != nil {
			return err
		}
		result = &DownPaymentResult{Status: b.Status, RemainingPayment: b.RemainingPayment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetStatus applies an explicit status action. paid, rented and finished
// force the down payment to the grand total.
func (s *Service) SetStatus(ctx context.Context, bookingID inventory.BookingID, status inventory.Status) (*StatusResult, error) {
	if _, err := inventory.ParseStatus(string(status)); err != nil {
		return nil, err
	}

	var result *StatusResult
	err := s.allocating(ctx, "set_status", func(tx inventory.Store) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		fin, err := s.policy.SetStatus(payment.FromBooking(*b), status)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, b, fin); err != nil {
			return err
		}
		result = &StatusResult{DownPayment: b.DownPayment, RemainingPayment: b.RemainingPayment}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "booking status set", "booking_id", bookingID, "status", status)
	return result, nil
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// Availability is a read-only availability query.
func (s *Service) Availability(ctx context.Context, target inventory.Target, r inventory.DateRange, exclude []inventory.LineItemID) (inventory.Availability, error) {
	return inventory.NewCalculator(s.store, s.store).AvailableUnits(ctx, target, r, exclude)
}

// =============================================================================
// INTERNALS
// =============================================================================

// allocating runs fn in a transaction and retries it once on an allocation
// conflict. fn must rebuild all of its state on each call.
func (s *Service) allocating(ctx context.Context, op string, fn func(inventory.Store) error) error {
	err := s.store.WithTx(ctx, fn)
	if errors.Is(err, inventory.ErrConcurrentAllocationConflict) {
		s.log.WarnContext(ctx, "allocation conflict, retrying once", "op", op, "error", err)
		err = s.store.WithTx(ctx, fn)
		if err != nil {
			s.log.ErrorContext(ctx, "allocation retry failed", "op", op, "error", err)
		}
	}
	return err
}

// reallocateAll releases every unit of the booking's line items and then
// allocates them again in order over the booking's current range.
// New line items (ID zero) are inserted by the second pass. Line items of a
// cancelled or finished booking are saved without units.
func (s *Service) reallocateAll(ctx context.Context, tx inventory.Store, b *inventory.Booking, items []inventory.LineItem) error {
	if !b.Status.IsActive() {
		for i := range items {
			items[i].UnitIDs = nil
			if err := tx.SaveLineItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	}

	for i := range items {
		if items[i].ID == 0 || len(items[i].UnitIDs) == 0 {
			continue
		}
		items[i].UnitIDs = nil
		if err := tx.SaveLineItem(ctx, &items[i]); err != nil {
			return err
		}
	}

	alloc := inventory.NewStoreAllocator(tx)
	for i := range items {
		units, err := alloc.Allocate(ctx, items[i].Target, items[i].Quantity, b.Range, []inventory.LineItemID{items[i].ID})
		if err != nil {
			return err
		}
		items[i].UnitIDs = units
		if err := tx.SaveLineItem(ctx, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

// reprice recomputes the grand total, re-validates the down payment and
// writes the booking. It returns the booking's current line items, without
// units when the new figures cancelled it.
func (s *Service) reprice(ctx context.Context, tx inventory.Store, b *inventory.Booking) (pricing.Breakdown, []inventory.LineItem, error) {
	items, err := tx.ListLineItems(ctx, b.ID)
	if err != nil {
		return pricing.Breakdown{}, nil, err
	}
	breakdown, err := pricing.ForBooking(ctx, tx, tx, *b, items)
	if err != nil {
		return pricing.Breakdown{}, nil, err
	}

	before := b.Status
	s.policy.Reprice(payment.FromBooking(*b), breakdown.GrandTotal).ApplyTo(b)
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return pricing.Breakdown{}, nil, err
	}

	if before.IsActive() && !b.Status.IsActive() {
		s.log.WarnContext(ctx, "booking cancelled: down payment below new minimum",
			"booking_id", b.ID,
			"down_payment", b.DownPayment,
			"minimum", s.policy.MinDownPayment(b.GrandTotal))
		if err := releaseUnits(ctx, tx, items); err != nil {
			return pricing.Breakdown{}, nil, err
		}
	}
	return breakdown, items, nil
}

// transition persists new financials. A booking leaving the active set
// releases its units; one moving back gets them reallocated.
func (s *Service) transition(ctx context.Context, tx inventory.Store, b *inventory.Booking, fin payment.Financials) error {
	wasActive := b.Status.IsActive()
	fin.ApplyTo(b)
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return err
	}
	if wasActive == b.Status.IsActive() {
		return nil
	}

	items, err := tx.ListLineItems(ctx, b.ID)
	if err != nil {
		return err
	}
	if wasActive {
		if err := releaseUnits(ctx, tx, items); err != nil {
			return err
		}
		s.log.InfoContext(ctx, "booking deactivated, units released", "booking_id", b.ID, "status", b.Status)
		return nil
	}
	if err := s.reallocateAll(ctx, tx, b, items); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "booking reactivated, units reallocated", "booking_id", b.ID, "status", b.Status)
	return nil
}

// releaseUnits clears and saves the unit sets of items in place.
func releaseUnits(ctx context.Context, tx inventory.Store, items []inventory.LineItem) error {
	for i := range items {
		if len(items[i].UnitIDs) == 0 {
			continue
		}
		items[i].UnitIDs = nil
		if err := tx.SaveLineItem(ctx, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

func requireActivePromo(ctx context.Context, promos inventory.PromoStore, id inventory.PromoID) (*inventory.Promo, error) {
	p, err := promos.GetPromo(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", inventory.ErrPromoInactive, p.Code)
	}
	return p, nil
}

func validateAddOns(addOns []inventory.AddOn) error {
	for _, a := range addOns {
		if a.Name == "" {
			return fmt.Errorf("%w: name is required", inventory.ErrInvalidAddOn)
		}
		if a.Amount < 0 {
			return fmt.Errorf("%w: %q has negative amount %d", inventory.ErrInvalidAddOn, a.Name, a.Amount)
		}
	}
	return nil
}
