package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/rental-engine/inventory"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against one querier. Inside WithTx it is
// bound to the *sql.Tx and is the inventory.Store handed to the callback.
type queries struct {
	q     querier
	clock func() time.Time
}

var _ inventory.Store = (*queries)(nil)

// =============================================================================
// CATALOG
// =============================================================================

func (qs *queries) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	var p inventory.Product
	err := qs.q.QueryRowContext(ctx,
		`SELECT id, name, unit_price, status FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &inventory.TargetNotFoundError{Target: inventory.ProductTarget(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (qs *queries) GetBundle(ctx context.Context, id inventory.BundleID) (*inventory.Bundle, error) {
	var b inventory.Bundle
	err := qs.q.QueryRowContext(ctx,
		`SELECT id, name, price FROM bundles WHERE id = ?`, id,
	).Scan(&b.ID, &b.Name, &b.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &inventory.TargetNotFoundError{Target: inventory.BundleTarget(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}

	b.Components, err = qs.bundleComponents(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (qs *queries) bundleComponents(ctx context.Context, id inventory.BundleID) ([]inventory.BundleComponent, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT product_id, quantity FROM bundle_components
		WHERE bundle_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query bundle components: %w", err)
	}
	defer rows.Close()

	var out []inventory.BundleComponent
	for rows.Next() {
		var c inventory.BundleComponent
		if err := rows.Scan(&c.ProductID, &c.Quantity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (qs *queries) ListUnits(ctx context.Context, productID inventory.ProductID) ([]inventory.Unit, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT id, product_id, serial, available FROM units
		WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []inventory.Unit
	for rows.Next() {
		var u inventory.Unit
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Serial, &u.Available); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (qs *queries) GetPromo(ctx context.Context, id inventory.PromoID) (*inventory.Promo, error) {
	p, err := scanPromo(qs.q.QueryRowContext(ctx,
		`SELECT id, code, name, type, rule_json, active FROM promos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", inventory.ErrPromoNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo: %w", err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPromo(row scanner) (*inventory.Promo, error) {
	var p inventory.Promo
	var ruleJSON string
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Type, &ruleJSON, &p.Active); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ruleJSON), &p.Rule); err != nil {
		return nil, fmt.Errorf("failed to decode promo rule: %w", err)
	}
	return &p, nil
}

func (qs *queries) saveProduct(ctx context.Context, p *inventory.Product) error {
	if p.Status == "" {
		p.Status = inventory.ProductActive
	}
	if err := inventory.ValidateProduct(*p); err != nil {
		return err
	}

	if p.ID == 0 {
		res, err := qs.q.ExecContext(ctx,
			`INSERT INTO products (name, unit_price, status) VALUES (?, ?, ?)`,
			p.Name, p.UnitPrice, p.Status)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = inventory.ProductID(id)
		return nil
	}

	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO products (id, name, unit_price, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit_price = excluded.unit_price,
			status = excluded.status`,
		p.ID, p.Name, p.UnitPrice, p.Status)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (qs *queries) listProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := qs.q.QueryContext(ctx, `SELECT id, name, unit_price, status FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []inventory.Product
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Status); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (qs *queries) saveUnit(ctx context.Context, u *inventory.Unit) error {
	if _, err := qs.GetProduct(ctx, u.ProductID); err != nil {
		return err
	}

	if u.ID == 0 {
		res, err := qs.q.ExecContext(ctx,
			`INSERT INTO units (product_id, serial, available) VALUES (?, ?, ?)`,
			u.ProductID, u.Serial, boolInt(u.Available))
		if err != nil {
			return fmt.Errorf("failed to insert unit: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		u.ID = inventory.UnitID(id)
		return nil
	}

	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO units (id, product_id, serial, available) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			serial = excluded.serial,
			available = excluded.available`,
		u.ID, u.ProductID, u.Serial, boolInt(u.Available))
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

func (qs *queries) saveBundle(ctx context.Context, b *inventory.Bundle) error {
	if err := inventory.ValidateBundle(*b); err != nil {
		return err
	}
	for _, c := range b.Components {
		if _, err := qs.GetProduct(ctx, c.ProductID); err != nil {
			return err
		}
	}

	if b.ID == 0 {
		res, err := qs.q.ExecContext(ctx,
			`INSERT INTO bundles (name, price) VALUES (?, ?)`, b.Name, b.Price)
		if err != nil {
			return fmt.Errorf("failed to insert bundle: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		b.ID = inventory.BundleID(id)
	} else {
		_, err := qs.q.ExecContext(ctx, `
			INSERT INTO bundles (id, name, price) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, price = excluded.price`,
			b.ID, b.Name, b.Price)
		if err != nil {
			return fmt.Errorf("failed to save bundle: %w", err)
		}
	}

	if _, err := qs.q.ExecContext(ctx, `DELETE FROM bundle_components WHERE bundle_id = ?`, b.ID); err != nil {
		return fmt.Errorf("failed to clear bundle components: %w", err)
	}
	for i, c := range b.Components {
		_, err := qs.q.ExecContext(ctx, `
			INSERT INTO bundle_components (bundle_id, position, product_id, quantity)
			VALUES (?, ?, ?, ?)`, b.ID, i, c.ProductID, c.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert bundle component: %w", err)
		}
	}
	return nil
}

func (qs *queries) listBundles(ctx context.Context) ([]inventory.Bundle, error) {
	rows, err := qs.q.QueryContext(ctx, `SELECT id, name, price FROM bundles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bundles: %w", err)
	}

	var out []inventory.Bundle
	for rows.Next() {
		var b inventory.Bundle
		if err := rows.Scan(&b.ID, &b.Name, &b.Price); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Components are loaded after the rows are closed: the pool has one connection.
	for i := range out {
		if out[i].Components, err = qs.bundleComponents(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (qs *queries) savePromo(ctx context.Context, p *inventory.Promo) error {
	if err := inventory.ValidatePromo(*p); err != nil {
		return err
	}
	ruleJSON, err := json.Marshal(p.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode promo rule: %w", err)
	}

	if p.ID == 0 {
		var res sql.Result
		res, err = qs.q.ExecContext(ctx, `
			INSERT INTO promos (code, name, type, rule_json, active) VALUES (?, ?, ?, ?, ?)`,
			p.Code, p.Name, p.Type, string(ruleJSON), boolInt(p.Active))
		if err == nil {
			var id int64
			if id, err = res.LastInsertId(); err == nil {
				p.ID = inventory.PromoID(id)
			}
		}
	} else {
		_, err = qs.q.ExecContext(ctx, `
			INSERT INTO promos (id, code, name, type, rule_json, active) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				code = excluded.code,
				name = excluded.name,
				type = excluded.type,
				rule_json = excluded.rule_json,
				active = excluded.active`,
			p.ID, p.Code, p.Name, p.Type, string(ruleJSON), boolInt(p.Active))
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: code %q already exists", inventory.ErrInvalidPromo, p.Code)
	}
	if err != nil {
		return fmt.Errorf("failed to save promo: %w", err)
	}
	return nil
}

func (qs *queries) listPromos(ctx context.Context) ([]inventory.Promo, error) {
	rows, err := qs.q.QueryContext(ctx,
		`SELECT id, code, name, type, rule_json, active FROM promos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query promos: %w", err)
	}
	defer rows.Close()

	var out []inventory.Promo
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

var activeStatusArgs = []any{
	string(inventory.StatusPending),
	string(inventory.StatusPaid),
	string(inventory.StatusRented),
}

func (qs *queries) ActiveAssignments(ctx context.Context, productIDs []inventory.ProductID, r inventory.DateRange) ([]inventory.Assignment, error) {
	query := `
		SELECT ua.unit_id, ua.line_item_id, b.id, b.start_at, b.end_at, b.status
		FROM unit_assignments ua
		JOIN line_items li ON li.id = ua.line_item_id
		JOIN bookings b ON b.id = li.booking_id
		JOIN units u ON u.id = ua.unit_id
		WHERE b.status IN (?, ?, ?)
		  AND b.start_at <= ? AND ? <= b.end_at`
	args := append([]any{}, activeStatusArgs...)
	args = append(args, formatTime(r.End), formatTime(r.Start))

	if len(productIDs) > 0 {
		query += ` AND u.product_id IN (` + placeholders(len(productIDs)) + `)`
		for _, id := range productIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY li.id, ua.position`

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []inventory.Assignment
	for rows.Next() {
		var a inventory.Assignment
		var start, end string
		if err := rows.Scan(&a.UnitID, &a.LineItemID, &a.BookingID, &start, &end, &a.Status); err != nil {
			return nil, err
		}
		if a.Range, err = parseRange(start, end); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (qs *queries) CreateBooking(ctx context.Context, b *inventory.Booking) error {
	if err := b.Range.Validate(); err != nil {
		return err
	}
	addOns, err := encodeAddOns(b.AddOns)
	if err != nil {
		return err
	}

	now := qs.clock()
	res, err := qs.q.ExecContext(ctx, `
		INSERT INTO bookings (
			customer_ref, start_at, end_at, promo_id, status, add_ons_json,
			grand_total, down_payment, remaining_payment, cancellation_fee,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		b.CustomerRef, formatTime(b.Range.Start), formatTime(b.Range.End),
		nullPromo(b.PromoID), b.Status, addOns,
		b.GrandTotal, b.DownPayment, b.RemainingPayment, b.CancellationFee,
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	b.ID = inventory.BookingID(id)
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

const bookingColumns = `id, customer_ref, start_at, end_at, promo_id, status, add_ons_json,
	grand_total, down_payment, remaining_payment, cancellation_fee,
	version, created_at, updated_at`

func (qs *queries) GetBooking(ctx context.Context, id inventory.BookingID) (*inventory.Booking, error) {
	b, err := scanBooking(qs.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", inventory.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func scanBooking(row scanner) (*inventory.Booking, error) {
	var (
		b                            inventory.Booking
		start, end, created, updated string
		promoID                      sql.NullInt64
		addOns                       string
	)
	err := row.Scan(&b.ID, &b.CustomerRef, &start, &end, &promoID, &b.Status, &addOns,
		&b.GrandTotal, &b.DownPayment, &b.RemainingPayment, &b.CancellationFee,
		&b.Version, &created, &updated)
	if err != nil {
		return nil, err
	}

	if b.Range, err = parseRange(start, end); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if promoID.Valid {
		id := inventory.PromoID(promoID.Int64)
		b.PromoID = &id
	}
	if err := json.Unmarshal([]byte(addOns), &b.AddOns); err != nil {
		return nil, fmt.Errorf("failed to decode add-ons: %w", err)
	}
	return &b, nil
}

func (qs *queries) UpdateBooking(ctx context.Context, b *inventory.Booking) error {
	if err := b.Range.Validate(); err != nil {
		return err
	}
	addOns, err := encodeAddOns(b.AddOns)
	if err != nil {
		return err
	}

	now := qs.clock()
	res, err := qs.q.ExecContext(ctx, `
		UPDATE bookings SET
			customer_ref = ?, start_at = ?, end_at = ?, promo_id = ?, status = ?,
			add_ons_json = ?, grand_total = ?, down_payment = ?,
			remaining_payment = ?, cancellation_fee = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.CustomerRef, formatTime(b.Range.Start), formatTime(b.Range.End),
		nullPromo(b.PromoID), b.Status, addOns,
		b.GrandTotal, b.DownPayment, b.RemainingPayment, b.CancellationFee,
		formatTime(now), b.ID, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var version int64
		err := qs.q.QueryRowContext(ctx, `SELECT version FROM bookings WHERE id = ?`, b.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", inventory.ErrBookingNotFound, b.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to check booking version: %w", err)
		}
		return fmt.Errorf("%w: booking %d at version %d, have %d",
			inventory.ErrConcurrentModification, b.ID, version, b.Version)
	}

	b.Version++
	b.UpdatedAt = now
	return nil
}

func (qs *queries) ListBookings(ctx context.Context, filter inventory.BookingFilter) ([]inventory.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []inventory.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (qs *queries) ListLineItems(ctx context.Context, bookingID inventory.BookingID) ([]inventory.LineItem, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT id, booking_id, target_type, target_id, quantity, version
		FROM line_items WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}

	var items []inventory.LineItem
	for rows.Next() {
		var (
			li   inventory.LineItem
			kind string
			id   int64
		)
		if err := rows.Scan(&li.ID, &li.BookingID, &kind, &id, &li.Quantity, &li.Version); err != nil {
			rows.Close()
			return nil, err
		}
		if li.Target, err = inventory.ParseTarget(kind, id); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, li)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		if items[i].UnitIDs, err = qs.assignedUnits(ctx, items[i].ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (qs *queries) assignedUnits(ctx context.Context, id inventory.LineItemID) ([]inventory.UnitID, error) {
	rows, err := qs.q.QueryContext(ctx,
		`SELECT unit_id FROM unit_assignments WHERE line_item_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []inventory.UnitID
	for rows.Next() {
		var u inventory.UnitID
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (qs *queries) SaveLineItem(ctx context.Context, li *inventory.LineItem) error {
	if li.Target.IsZero() {
		return inventory.ErrInvalidTarget
	}
	if li.Quantity < 1 {
		return inventory.ErrInvalidQuantity
	}
	booking, err := qs.GetBooking(ctx, li.BookingID)
	if err != nil {
		return err
	}

	if li.ID != 0 {
		var version int64
		err := qs.q.QueryRowContext(ctx, `SELECT version FROM line_items WHERE id = ?`, li.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", inventory.ErrLineItemNotFound, li.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to check line item version: %w", err)
		}
		if version != li.Version {
			return fmt.Errorf("%w: line item %d at version %d, have %d",
				inventory.ErrConcurrentAllocationConflict, li.ID, version, li.Version)
		}
	}

	if err := qs.checkClaims(ctx, booking, li); err != nil {
		return err
	}

	if li.ID == 0 {
		res, err := qs.q.ExecContext(ctx, `
			INSERT INTO line_items (booking_id, target_type, target_id, quantity, version)
			VALUES (?, ?, ?, ?, 1)`,
			li.BookingID, li.Target.Kind(), li.Target.ID(), li.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		li.ID = inventory.LineItemID(id)
		li.Version = 1
	} else {
		_, err := qs.q.ExecContext(ctx, `
			UPDATE line_items SET target_type = ?, target_id = ?, quantity = ?, version = version + 1
			WHERE id = ?`,
			li.Target.Kind(), li.Target.ID(), li.Quantity, li.ID)
		if err != nil {
			return fmt.Errorf("failed to update line item: %w", err)
		}
		li.Version++
	}

	if _, err := qs.q.ExecContext(ctx, `DELETE FROM unit_assignments WHERE line_item_id = ?`, li.ID); err != nil {
		return fmt.Errorf("failed to release units: %w", err)
	}
	for i, unitID := range li.UnitIDs {
		_, err := qs.q.ExecContext(ctx,
			`INSERT INTO unit_assignments (line_item_id, unit_id, position) VALUES (?, ?, ?)`,
			li.ID, unitID, i)
		if err != nil {
			return fmt.Errorf("failed to assign unit %d: %w", unitID, err)
		}
	}
	return nil
}

// checkClaims rejects units held by another line item of the same booking
// or of an active booking overlapping this one.
func (qs *queries) checkClaims(ctx context.Context, booking *inventory.Booking, li *inventory.LineItem) error {
	if len(li.UnitIDs) == 0 {
		return nil
	}

	seen := make(map[inventory.UnitID]bool, len(li.UnitIDs))
	args := make([]any, 0, len(li.UnitIDs))
	for _, id := range li.UnitIDs {
		if seen[id] {
			return fmt.Errorf("%w: unit %d listed twice", inventory.ErrInvalidCatalog, id)
		}
		seen[id] = true
		args = append(args, id)
	}

	var count int
	err := qs.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM units WHERE id IN (`+placeholders(len(args))+`)`, args...,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check units: %w", err)
	}
	if count != len(args) {
		return fmt.Errorf("%w: unknown unit in %v", inventory.ErrInvalidCatalog, li.UnitIDs)
	}

	query := `
		SELECT ua.unit_id, ua.line_item_id
		FROM unit_assignments ua
		JOIN line_items li ON li.id = ua.line_item_id
		JOIN bookings b ON b.id = li.booking_id
		WHERE ua.unit_id IN (` + placeholders(len(args)) + `)
		  AND ua.line_item_id != ?
		  AND (b.id = ? OR (? = 1 AND b.status IN (?, ?, ?) AND b.start_at <= ? AND ? <= b.end_at))
		ORDER BY ua.line_item_id, ua.unit_id
		LIMIT 1`
	args = append(args, li.ID, booking.ID, boolInt(booking.Status.IsActive()))
	args = append(args, activeStatusArgs...)
	args = append(args, formatTime(booking.Range.End), formatTime(booking.Range.Start))

	var conflict inventory.AllocationConflictError
	err = qs.q.QueryRowContext(ctx, query, args...).Scan(&conflict.UnitID, &conflict.HeldBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check unit claims: %w", err)
	}
	return &conflict
}

func (qs *queries) DeleteLineItem(ctx context.Context, id inventory.LineItemID) error {
	if _, err := qs.q.ExecContext(ctx, `DELETE FROM unit_assignments WHERE line_item_id = ?`, id); err != nil {
		return fmt.Errorf("failed to release units: %w", err)
	}
	res, err := qs.q.ExecContext(ctx, `DELETE FROM line_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete line item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", inventory.ErrLineItemNotFound, id)
	}
	return nil
}

// =============================================================================
// INTEGRITY RUNS
// =============================================================================

func (qs *queries) saveIntegrityRun(ctx context.Context, run inventory.IntegrityRun) error {
	var completed sql.NullString
	if run.CompletedAt != nil {
		completed = nullString(formatTime(*run.CompletedAt))
	}

	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO integrity_runs (
			id, status, bookings_checked, drift_fixed, conflicts, error, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			bookings_checked = excluded.bookings_checked,
			drift_fixed = excluded.drift_fixed,
			conflicts = excluded.conflicts,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.Status, run.BookingsChecked, run.DriftFixed, run.Conflicts,
		nullString(run.Error), formatTime(run.StartedAt), completed)
	if err != nil {
		return fmt.Errorf("failed to save integrity run: %w", err)
	}
	return nil
}

func (qs *queries) listIntegrityRuns(ctx context.Context, limit int) ([]inventory.IntegrityRun, error) {
	query := `
		SELECT id, status, bookings_checked, drift_fixed, conflicts, error, started_at, completed_at
		FROM integrity_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrity runs: %w", err)
	}
	defer rows.Close()

	var out []inventory.IntegrityRun
	for rows.Next() {
		var (
			run       inventory.IntegrityRun
			errMsg    sql.NullString
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Status, &run.BookingsChecked, &run.DriftFixed,
			&run.Conflicts, &errMsg, &started, &completed); err != nil {
			return nil, err
		}
		run.Error = errMsg.String
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			t, err := parseTime(completed.String)
			if err != nil {
				return nil, err
			}
			run.CompletedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func parseRange(start, end string) (inventory.DateRange, error) {
	s, err := parseTime(start)
	if err != nil {
		return inventory.DateRange{}, err
	}
	e, err := parseTime(end)
	if err != nil {
		return inventory.DateRange{}, err
	}
	return inventory.DateRange{Start: s, End: e}, nil
}

func encodeAddOns(addOns []inventory.AddOn) (string, error) {
	if addOns == nil {
		addOns = []inventory.AddOn{}
	}
	data, err := json.Marshal(addOns)
	if err != nil {
		return "", fmt.Errorf("failed to encode add-ons: %w", err)
	}
	return string(data), nil
}

func nullPromo(id *inventory.PromoID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}
