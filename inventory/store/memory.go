// Package store provides an in-memory inventory.Backend.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/rental-engine/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a mutex-guarded inventory.Backend. WithTx holds the write lock for
// the whole callback and restores a snapshot when the callback fails.
type Memory struct {
	mu    sync.RWMutex
	state *state

	now func() time.Time
}

func NewMemory() *Memory {
	m := &Memory{now: time.Now}
	m.state = newState(m.clock)
	return m
}

func (m *Memory) clock() time.Time { return m.now().UTC() }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetProduct(ctx, id)
}

func (m *Memory) GetBundle(ctx context.Context, id inventory.BundleID) (*inventory.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetBundle(ctx, id)
}

func (m *Memory) ListUnits(ctx context.Context, productID inventory.ProductID) ([]inventory.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListUnits(ctx, productID)
}

func (m *Memory) GetPromo(ctx context.Context, id inventory.PromoID) (*inventory.Promo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPromo(ctx, id)
}

func (m *Memory) SaveProduct(ctx context.Context, p *inventory.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveProduct(p)
}

func (m *Memory) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listProducts(), nil
}

func (m *Memory) SaveUnit(ctx context.Context, u *inventory.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveUnit(u)
}

func (m *Memory) SaveBundle(ctx context.Context, b *inventory.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveBundle(b)
}

func (m *Memory) ListBundles(ctx context.Context) ([]inventory.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listBundles(), nil
}

func (m *Memory) SavePromo(ctx context.Context, p *inventory.Promo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.savePromo(p)
}

func (m *Memory) ListPromos(ctx context.Context) ([]inventory.Promo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listPromos(), nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) ActiveAssignments(ctx context.Context, productIDs []inventory.ProductID, r inventory.DateRange) ([]inventory.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ActiveAssignments(ctx, productIDs, r)
}

func (m *Memory) CreateBooking(ctx context.Context, b *inventory.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateBooking(ctx, b)
}

func (m *Memory) GetBooking(ctx context.Context, id inventory.BookingID) (*inventory.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetBooking(ctx, id)
}

func (m *Memory) UpdateBooking(ctx context.Context, b *inventory.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateBooking(ctx, b)
}

func (m *Memory) ListBookings(ctx context.Context, filter inventory.BookingFilter) ([]inventory.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListBookings(ctx, filter)
}

func (m *Memory) ListLineItems(ctx context.Context, bookingID inventory.BookingID) ([]inventory.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListLineItems(ctx, bookingID)
}

func (m *Memory) SaveLineItem(ctx context.Context, li *inventory.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveLineItem(ctx, li)
}

func (m *Memory) DeleteLineItem(ctx context.Context, id inventory.LineItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteLineItem(ctx, id)
}

// =============================================================================
// INTEGRITY RUNS & ADMIN
// =============================================================================

func (m *Memory) SaveIntegrityRun(ctx context.Context, run inventory.IntegrityRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveRun(run)
	return nil
}

func (m *Memory) ListIntegrityRuns(ctx context.Context, limit int) ([]inventory.IntegrityRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRuns(limit), nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState(m.clock)
	return nil
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// STATE - unlocked data, also the transactional view handed to WithTx
// =============================================================================

type sequences struct {
	product, unit, bundle, promo, booking, lineItem int64
}

type state struct {
	products  map[inventory.ProductID]inventory.Product
	units     map[inventory.UnitID]inventory.Unit
	bundles   map[inventory.BundleID]inventory.Bundle
	promos    map[inventory.PromoID]inventory.Promo
	bookings  map[inventory.BookingID]inventory.Booking
	lineItems map[inventory.LineItemID]inventory.LineItem
	runs      map[string]inventory.IntegrityRun
	seq       sequences

	clock func() time.Time
}

func newState(clock func() time.Time) *state {
	return &state{
		products:  make(map[inventory.ProductID]inventory.Product),
		units:     make(map[inventory.UnitID]inventory.Unit),
		bundles:   make(map[inventory.BundleID]inventory.Bundle),
		promos:    make(map[inventory.PromoID]inventory.Promo),
		bookings:  make(map[inventory.BookingID]inventory.Booking),
		lineItems: make(map[inventory.LineItemID]inventory.LineItem),
		runs:      make(map[string]inventory.IntegrityRun),
		clock:     clock,
	}
}

func (s *state) clone() *state {
	c := newState(s.clock)
	c.seq = s.seq
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.bundles {
		c.bundles[k] = cloneBundle(v)
	}
	for k, v := range s.promos {
		c.promos[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = cloneBooking(v)
	}
	for k, v := range s.lineItems {
		c.lineItems[k] = cloneLineItem(v)
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// catalog

func (s *state) GetProduct(_ context.Context, id inventory.ProductID) (*inventory.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, &inventory.TargetNotFoundError{Target: inventory.ProductTarget(id)}
	}
	return &p, nil
}

func (s *state) GetBundle(_ context.Context, id inventory.BundleID) (*inventory.Bundle, error) {
	b, ok := s.bundles[id]
	if !ok {
		return nil, &inventory.TargetNotFoundError{Target: inventory.BundleTarget(id)}
	}
	c := cloneBundle(b)
	return &c, nil
}

func (s *state) ListUnits(_ context.Context, productID inventory.ProductID) ([]inventory.Unit, error) {
	var units []inventory.Unit
	for _, u := range s.units {
		if u.ProductID == productID {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

func (s *state) GetPromo(_ context.Context, id inventory.PromoID) (*inventory.Promo, error) {
	p, ok := s.promos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", inventory.ErrPromoNotFound, id)
	}
	return &p, nil
}

func (s *state) saveProduct(p *inventory.Product) error {
	if p.Status == "" {
		p.Status = inventory.ProductActive
	}
	if err := inventory.ValidateProduct(*p); err != nil {
		return err
	}
	if p.ID == 0 {
		s.seq.product++
		p.ID = inventory.ProductID(s.seq.product)
	} else if int64(p.ID) > s.seq.product {
		s.seq.product = int64(p.ID)
	}
	s.products[p.ID] = *p
	return nil
}

func (s *state) listProducts() []inventory.Product {
	out := make([]inventory.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) saveUnit(u *inventory.Unit) error {
	if _, ok := s.products[u.ProductID]; !ok {
		return &inventory.TargetNotFoundError{Target: inventory.ProductTarget(u.ProductID)}
	}
	if u.ID == 0 {
		s.seq.unit++
		u.ID = inventory.UnitID(s.seq.unit)
	} else if int64(u.ID) > s.seq.unit {
		s.seq.unit = int64(u.ID)
	}
	s.units[u.ID] = *u
	return nil
}

func (s *state) saveBundle(b *inventory.Bundle) error {
	if err := inventory.ValidateBundle(*b); err != nil {
		return err
	}
	for _, c := range b.Components {
		if _, ok := s.products[c.ProductID]; !ok {
			return &inventory.TargetNotFoundError{Target: inventory.ProductTarget(c.ProductID)}
		}
	}
	if b.ID == 0 {
		s.seq.bundle++
		b.ID = inventory.BundleID(s.seq.bundle)
	} else if int64(b.ID) > s.seq.bundle {
		s.seq.bundle = int64(b.ID)
	}
	s.bundles[b.ID] = cloneBundle(*b)
	return nil
}

func (s *state) listBundles() []inventory.Bundle {
	out := make([]inventory.Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		out = append(out, cloneBundle(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) savePromo(p *inventory.Promo) error {
	if err := inventory.ValidatePromo(*p); err != nil {
		return err
	}
	for _, existing := range s.promos {
		if existing.Code == p.Code && existing.ID != p.ID {
			return fmt.Errorf("%w: code %q already exists", inventory.ErrInvalidPromo, p.Code)
		}
	}
	if p.ID == 0 {
		s.seq.promo++
		p.ID = inventory.PromoID(s.seq.promo)
	} else if int64(p.ID) > s.seq.promo {
		s.seq.promo = int64(p.ID)
	}
	s.promos[p.ID] = *p
	return nil
}

func (s *state) listPromos() []inventory.Promo {
	out := make([]inventory.Promo, 0, len(s.promos))
	for _, p := range s.promos {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ledger

func (s *state) ActiveAssignments(_ context.Context, productIDs []inventory.ProductID, r inventory.DateRange) ([]inventory.Assignment, error) {
	wanted := make(map[inventory.ProductID]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}

	var out []inventory.Assignment
	for _, li := range s.sortedLineItems() {
		b, ok := s.bookings[li.BookingID]
		if !ok || !b.Status.IsActive() || !b.Range.Overlaps(r) {
			continue
		}
		for _, unitID := range li.UnitIDs {
			if len(wanted) > 0 && !wanted[s.units[unitID].ProductID] {
				continue
			}
			out = append(out, inventory.Assignment{
				UnitID:     unitID,
				LineItemID: li.ID,
				BookingID:  b.ID,
				Range:      b.Range,
				Status:     b.Status,
			})
		}
	}
	return out, nil
}

func (s *state) CreateBooking(_ context.Context, b *inventory.Booking) error {
	if err := b.Range.Validate(); err != nil {
		return err
	}
	now := s.clock()
	s.seq.booking++
	b.ID = inventory.BookingID(s.seq.booking)
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	s.bookings[b.ID] = cloneBooking(*b)
	return nil
}

func (s *state) GetBooking(_ context.Context, id inventory.BookingID) (*inventory.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", inventory.ErrBookingNotFound, id)
	}
	c := cloneBooking(b)
	return &c, nil
}

func (s *state) UpdateBooking(_ context.Context, b *inventory.Booking) error {
	existing, ok := s.bookings[b.ID]
	if !ok {
		return fmt.Errorf("%w: %d", inventory.ErrBookingNotFound, b.ID)
	}
	if existing.Version != b.Version {
		return fmt.Errorf("%w: booking %d at version %d, have %d",
			inventory.ErrConcurrentModification, b.ID, existing.Version, b.Version)
	}
	if err := b.Range.Validate(); err != nil {
		return err
	}
	b.Version++
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = s.clock()
	s.bookings[b.ID] = cloneBooking(*b)
	return nil
}

func (s *state) ListBookings(_ context.Context, filter inventory.BookingFilter) ([]inventory.Booking, error) {
	var out []inventory.Booking
	for _, b := range s.bookings {
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		out = append(out, cloneBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *state) ListLineItems(_ context.Context, bookingID inventory.BookingID) ([]inventory.LineItem, error) {
	var out []inventory.LineItem
	for _, li := range s.sortedLineItems() {
		if li.BookingID == bookingID {
			out = append(out, cloneLineItem(li))
		}
	}
	return out, nil
}

func (s *state) SaveLineItem(_ context.Context, li *inventory.LineItem) error {
	booking, ok := s.bookings[li.BookingID]
	if !ok {
		return fmt.Errorf("%w: %d", inventory.ErrBookingNotFound, li.BookingID)
	}
	if li.Target.IsZero() {
		return inventory.ErrInvalidTarget
	}
	if li.Quantity < 1 {
		return inventory.ErrInvalidQuantity
	}

	if li.ID != 0 {
		existing, ok := s.lineItems[li.ID]
		if !ok {
			return fmt.Errorf("%w: %d", inventory.ErrLineItemNotFound, li.ID)
		}
		if existing.Version != li.Version {
			return fmt.Errorf("%w: line item %d at version %d, have %d",
				inventory.ErrConcurrentAllocationConflict, li.ID, existing.Version, li.Version)
		}
	}

	if err := s.checkClaims(booking, li); err != nil {
		return err
	}

	if li.ID == 0 {
		s.seq.lineItem++
		li.ID = inventory.LineItemID(s.seq.lineItem)
		li.Version = 1
	} else {
		li.Version++
	}
	s.lineItems[li.ID] = cloneLineItem(*li)
	return nil
}

// checkClaims rejects units held by another line item of the same booking
// or of an active booking overlapping this one.
func (s *state) checkClaims(booking inventory.Booking, li *inventory.LineItem) error {
	claims := make(map[inventory.UnitID]bool, len(li.UnitIDs))
	for _, id := range li.UnitIDs {
		if _, ok := s.units[id]; !ok {
			return fmt.Errorf("%w: unit %d does not exist", inventory.ErrInvalidCatalog, id)
		}
		if claims[id] {
			return fmt.Errorf("%w: unit %d listed twice", inventory.ErrInvalidCatalog, id)
		}
		claims[id] = true
	}

	for _, other := range s.sortedLineItems() {
		if other.ID == li.ID {
			continue
		}
		if other.BookingID != booking.ID {
			ob, ok := s.bookings[other.BookingID]
			if !booking.Status.IsActive() || !ok || !ob.Status.IsActive() || !ob.Range.Overlaps(booking.Range) {
				continue
			}
		}
		for _, id := range other.UnitIDs {
			if claims[id] {
				return &inventory.AllocationConflictError{UnitID: id, HeldBy: other.ID}
			}
		}
	}
	return nil
}

func (s *state) DeleteLineItem(_ context.Context, id inventory.LineItemID) error {
	if _, ok := s.lineItems[id]; !ok {
		return fmt.Errorf("%w: %d", inventory.ErrLineItemNotFound, id)
	}
	delete(s.lineItems, id)
	return nil
}

func (s *state) sortedLineItems() []inventory.LineItem {
	out := make([]inventory.LineItem, 0, len(s.lineItems))
	for _, li := range s.lineItems {
		out = append(out, li)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// integrity runs

func (s *state) saveRun(run inventory.IntegrityRun) {
	s.runs[run.ID] = run
}

func (s *state) listRuns(limit int) []inventory.IntegrityRun {
	out := make([]inventory.IntegrityRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func cloneBooking(b inventory.Booking) inventory.Booking {
	if b.PromoID != nil {
		id := *b.PromoID
		b.PromoID = &id
	}
	b.AddOns = append([]inventory.AddOn(nil), b.AddOns...)
	return b
}

func cloneLineItem(li inventory.LineItem) inventory.LineItem {
	li.UnitIDs = append([]inventory.UnitID(nil), li.UnitIDs...)
	return li
}

func cloneBundle(b inventory.Bundle) inventory.Bundle {
	b.Components = append([]inventory.BundleComponent(nil), b.Components...)
	return b
}
