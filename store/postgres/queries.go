package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/warp/rental-engine/inventory"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs statements against the pool or a transaction. forUpdate
// makes booking reads lock the row.
type queries struct {
	q         querier
	forUpdate bool
}

var _ inventory.Store = (*queries)(nil)

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// =============================================================================
// CATALOG
// =============================================================================

func (r *queries) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	p := &inventory.Product{}
	query := `SELECT id, name, unit_price, status FROM products WHERE id = $1`
	err := r.q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &inventory.TargetNotFoundError{Target: inventory.ProductTarget(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (r *queries) GetBundle(ctx context.Context, id inventory.BundleID) (*inventory.Bundle, error) {
	b := &inventory.Bundle{}
	query := `SELECT id, name, price FROM bundles WHERE id = $1`
	err := r.q.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Name, &b.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &inventory.TargetNotFoundError{Target: inventory.BundleTarget(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}
	if b.Components, err = r.bundleComponents(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *queries) bundleComponents(ctx context.Context, id inventory.BundleID) ([]inventory.BundleComponent, error) {
	query := `SELECT product_id, quantity FROM bundle_components WHERE bundle_id = $1 ORDER BY position`
	rows, err := r.q.QueryContext(ctx, query, id)
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

func (r *queries) ListUnits(ctx context.Context, productID inventory.ProductID) ([]inventory.Unit, error) {
	query := `SELECT id, product_id, serial, available FROM units WHERE product_id = $1 ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, productID)
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

func (r *queries) GetPromo(ctx context.Context, id inventory.PromoID) (*inventory.Promo, error) {
	query := `SELECT id, code, name, type, rule, active FROM promos WHERE id = $1`
	p, err := scanPromo(r.q.QueryRowContext(ctx, query, id))
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
	p := &inventory.Promo{}
	var rule []byte
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Type, &rule, &p.Active); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rule, &p.Rule); err != nil {
		return nil, fmt.Errorf("failed to decode promo rule: %w", err)
	}
	return p, nil
}

func (r *queries) SaveProduct(ctx context.Context, p *inventory.Product) error {
	if p.Status == "" {
		p.Status = inventory.ProductActive
	}
	if err := inventory.ValidateProduct(*p); err != nil {
		return err
	}
	if p.ID == 0 {
		query := `INSERT INTO products (name, unit_price, status) VALUES ($1, $2, $3) RETURNING id`
		return r.q.QueryRowContext(ctx, query, p.Name, p.UnitPrice, p.Status).Scan(&p.ID)
	}
	query := `INSERT INTO products (id, name, unit_price, status) VALUES ($1, $2, $3, $4)
	          ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, unit_price = EXCLUDED.unit_price, status = EXCLUDED.status`
	_, err := r.q.ExecContext(ctx, query, p.ID, p.Name, p.UnitPrice, p.Status)
	return err
}

func (r *queries) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, unit_price, status FROM products ORDER BY id`)
	if err != nil {
		return nil, err
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

func (r *queries) SaveUnit(ctx context.Context, u *inventory.Unit) error {
	if _, err := r.GetProduct(ctx, u.ProductID); err != nil {
		return err
	}
	if u.ID == 0 {
		query := `INSERT INTO units (product_id, serial, available) VALUES ($1, $2, $3) RETURNING id`
		return r.q.QueryRowContext(ctx, query, u.ProductID, u.Serial, u.Available).Scan(&u.ID)
	}
	query := `INSERT INTO units (id, product_id, serial, available) VALUES ($1, $2, $3, $4)
	          ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id, serial = EXCLUDED.serial, available = EXCLUDED.available`
	_, err := r.q.ExecContext(ctx, query, u.ID, u.ProductID, u.Serial, u.Available)
	return err
}

func (r *queries) saveBundle(ctx context.Context, b *inventory.Bundle) error {
	if err := inventory.ValidateBundle(*b); err != nil {
		return err
	}
	for _, c := range b.Components {
		if _, err := r.GetProduct(ctx, c.ProductID); err != nil {
			return err
		}
	}

	if b.ID == 0 {
		query := `INSERT INTO bundles (name, price) VALUES ($1, $2) RETURNING id`
		if err := r.q.QueryRowContext(ctx, query, b.Name, b.Price).Scan(&b.ID); err != nil {
			return fmt.Errorf("failed to insert bundle: %w", err)
		}
	} else {
		query := `INSERT INTO bundles (id, name, price) VALUES ($1, $2, $3)
		          ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`
		if _, err := r.q.ExecContext(ctx, query, b.ID, b.Name, b.Price); err != nil {
			return fmt.Errorf("failed to save bundle: %w", err)
		}
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM bundle_components WHERE bundle_id = $1`, b.ID); err != nil {
		return err
	}
	for i, c := range b.Components {
		query := `INSERT INTO bundle_components (bundle_id, position, product_id, quantity) VALUES ($1, $2, $3, $4)`
		if _, err := r.q.ExecContext(ctx, query, b.ID, i, c.ProductID, c.Quantity); err != nil {
			return fmt.Errorf("failed to insert bundle component: %w", err)
		}
	}
	return nil
}

func (r *queries) ListBundles(ctx context.Context) ([]inventory.Bundle, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, price FROM bundles ORDER BY id`)
	if err != nil {
		return nil, err
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

	for i := range out {
		if out[i].Components, err = r.bundleComponents(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *queries) SavePromo(ctx context.Context, p *inventory.Promo) error {
	if err := inventory.ValidatePromo(*p); err != nil {
		return err
	}
	rule, err := json.Marshal(p.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode promo rule: %w", err)
	}

	if p.ID == 0 {
		query := `INSERT INTO promos (code, name, type, rule, active) VALUES ($1, $2, $3, $4, $5) RETURNING id`
		err = r.q.QueryRowContext(ctx, query, p.Code, p.Name, p.Type, rule, p.Active).Scan(&p.ID)
	} else {
		query := `INSERT INTO promos (id, code, name, type, rule, active) VALUES ($1, $2, $3, $4, $5, $6)
		          ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name,
		          type = EXCLUDED.type, rule = EXCLUDED.rule, active = EXCLUDED.active`
		_, err = r.q.ExecContext(ctx, query, p.ID, p.Code, p.Name, p.Type, rule, p.Active)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: code %q already exists", inventory.ErrInvalidPromo, p.Code)
	}
	return err
}

func (r *queries) ListPromos(ctx context.Context) ([]inventory.Promo, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, code, name, type, rule, active FROM promos ORDER BY id`)
	if err != nil {
		return nil, err
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

var activeStatuses = pq.Array([]string{
	string(inventory.StatusPending),
	string(inventory.StatusPaid),
	string(inventory.StatusRented),
})

func (r *queries) ActiveAssignments(ctx context.Context, productIDs []inventory.ProductID, dr inventory.DateRange) ([]inventory.Assignment, error) {
	query := `SELECT ua.unit_id, ua.line_item_id, b.id, b.start_at, b.end_at, b.status
	          FROM unit_assignments ua
	          JOIN line_items li ON li.id = ua.line_item_id
	          JOIN bookings b ON b.id = li.booking_id
	          JOIN units u ON u.id = ua.unit_id
	          WHERE b.status = ANY($1) AND b.start_at <= $2 AND $3 <= b.end_at`
	args := []interface{}{activeStatuses, dr.End, dr.Start}
	if len(productIDs) > 0 {
		query += " AND u.product_id = ANY($4)"
		args = append(args, pq.Array(int64s(productIDs)))
	}
	query += " ORDER BY li.id, ua.position"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query assignments: %w", err))
	}
	defer rows.Close()

	var out []inventory.Assignment
	for rows.Next() {
		var a inventory.Assignment
		if err := rows.Scan(&a.UnitID, &a.LineItemID, &a.BookingID, &a.Range.Start, &a.Range.End, &a.Status); err != nil {
			return nil, err
		}
		a.Range = inventory.DateRange{Start: a.Range.Start.UTC(), End: a.Range.End.UTC()}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *queries) CreateBooking(ctx context.Context, b *inventory.Booking) error {
	if err := b.Range.Validate(); err != nil {
		return err
	}
	addOns, err := encodeAddOns(b.AddOns)
	if err != nil {
		return err
	}

	ts := now()
	query := `INSERT INTO bookings (customer_ref, start_at, end_at, promo_id, status, add_ons,
	              grand_total, down_payment, remaining_payment, cancellation_fee, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12) RETURNING id`
	err = r.q.QueryRowContext(ctx, query, b.CustomerRef, b.Range.Start, b.Range.End, nullPromo(b.PromoID),
		b.Status, addOns, b.GrandTotal, b.DownPayment, b.RemainingPayment, b.CancellationFee, ts, ts).Scan(&b.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert booking: %w", err))
	}
	b.Version = 1
	b.CreatedAt = ts
	b.UpdatedAt = ts
	return nil
}

const bookingColumns = `id, customer_ref, start_at, end_at, promo_id, status, add_ons,
	grand_total, down_payment, remaining_payment, cancellation_fee, version, created_at, updated_at`

func (r *queries) GetBooking(ctx context.Context, id inventory.BookingID) (*inventory.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if r.forUpdate {
		query += " FOR UPDATE"
	}
	b, err := scanBooking(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", inventory.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get booking: %w", err))
	}
	return b, nil
}

func scanBooking(row scanner) (*inventory.Booking, error) {
	b := &inventory.Booking{}
	var promoID sql.NullInt64
	var addOns []byte
	err := row.Scan(&b.ID, &b.CustomerRef, &b.Range.Start, &b.Range.End, &promoID, &b.Status, &addOns,
		&b.GrandTotal, &b.DownPayment, &b.RemainingPayment, &b.CancellationFee,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Range = inventory.DateRange{Start: b.Range.Start.UTC(), End: b.Range.End.UTC()}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	if promoID.Valid {
		id := inventory.PromoID(promoID.Int64)
		b.PromoID = &id
	}
	if err := json.Unmarshal(addOns, &b.AddOns); err != nil {
		return nil, fmt.Errorf("failed to decode add-ons: %w", err)
	}
	return b, nil
}

func (r *queries) UpdateBooking(ctx context.Context, b *inventory.Booking) error {
	if err := b.Range.Validate(); err != nil {
		return err
	}
	addOns, err := encodeAddOns(b.AddOns)
	if err != nil {
		return err
	}

	ts := now()
	query := `UPDATE bookings SET customer_ref=$1, start_at=$2, end_at=$3, promo_id=$4, status=$5, add_ons=$6,
	              grand_total=$7, down_payment=$8, remaining_payment=$9, cancellation_fee=$10,
	              version=version+1, updated_at=$11
	          WHERE id=$12 AND version=$13`
	res, err := r.q.ExecContext(ctx, query, b.CustomerRef, b.Range.Start, b.Range.End, nullPromo(b.PromoID),
		b.Status, addOns, b.GrandTotal, b.DownPayment, b.RemainingPayment, b.CancellationFee, ts, b.ID, b.Version)
	if err != nil {
		return mapError(fmt.Errorf("failed to update booking: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var version int64
		err := r.q.QueryRowContext(ctx, `SELECT version FROM bookings WHERE id = $1`, b.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", inventory.ErrBookingNotFound, b.ID)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: booking %d at version %d, have %d",
			inventory.ErrConcurrentModification, b.ID, version, b.Version)
	}
	b.Version++
	b.UpdatedAt = ts
	return nil
}

func (r *queries) ListBookings(ctx context.Context, filter inventory.BookingFilter) ([]inventory.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	args := []interface{}{}
	argIdx := 1
	if filter.Status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

func (r *queries) ListLineItems(ctx context.Context, bookingID inventory.BookingID) ([]inventory.LineItem, error) {
	query := `SELECT li.id, li.booking_id, li.target_type, li.target_id, li.quantity, li.version,
	              COALESCE(array_agg(ua.unit_id ORDER BY ua.position) FILTER (WHERE ua.unit_id IS NOT NULL), '{}')
	          FROM line_items li
	          LEFT JOIN unit_assignments ua ON ua.line_item_id = li.id
	          WHERE li.booking_id = $1
	          GROUP BY li.id
	          ORDER BY li.id`
	rows, err := r.q.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query line items: %w", err))
	}
	defer rows.Close()

	var items []inventory.LineItem
	for rows.Next() {
		var (
			li       inventory.LineItem
			kind     string
			targetID int64
			units    []int64
		)
		if err := rows.Scan(&li.ID, &li.BookingID, &kind, &targetID, &li.Quantity, &li.Version, pq.Array(&units)); err != nil {
			return nil, err
		}
		if li.Target, err = inventory.ParseTarget(kind, targetID); err != nil {
			return nil, err
		}
		for _, u := range units {
			li.UnitIDs = append(li.UnitIDs, inventory.UnitID(u))
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (r *queries) SaveLineItem(ctx context.Context, li *inventory.LineItem) error {
	if li.Target.IsZero() {
		return inventory.ErrInvalidTarget
	}
	if li.Quantity < 1 {
		return inventory.ErrInvalidQuantity
	}
	booking, err := r.GetBooking(ctx, li.BookingID)
	if err != nil {
		return err
	}

	if li.ID != 0 {
		var version int64
		err := r.q.QueryRowContext(ctx, `SELECT version FROM line_items WHERE id = $1`, li.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", inventory.ErrLineItemNotFound, li.ID)
		}
		if err != nil {
			return mapError(err)
		}
		if version != li.Version {
			return fmt.Errorf("%w: line item %d at version %d, have %d",
				inventory.ErrConcurrentAllocationConflict, li.ID, version, li.Version)
		}
	}

	if err := r.checkClaims(ctx, booking, li); err != nil {
		return err
	}

	if li.ID == 0 {
		query := `INSERT INTO line_items (booking_id, target_type, target_id, quantity, version)
		          VALUES ($1, $2, $3, $4, 1) RETURNING id`
		if err := r.q.QueryRowContext(ctx, query, li.BookingID, li.Target.Kind(), li.Target.ID(), li.Quantity).Scan(&li.ID); err != nil {
			return mapError(fmt.Errorf("failed to insert line item: %w", err))
		}
		li.Version = 1
	} else {
		query := `UPDATE line_items SET target_type=$1, target_id=$2, quantity=$3, version=version+1 WHERE id=$4`
		if _, err := r.q.ExecContext(ctx, query, li.Target.Kind(), li.Target.ID(), li.Quantity, li.ID); err != nil {
			return mapError(fmt.Errorf("failed to update line item: %w", err))
		}
		li.Version++
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM unit_assignments WHERE line_item_id = $1`, li.ID); err != nil {
		return mapError(fmt.Errorf("failed to release units: %w", err))
	}
	if len(li.UnitIDs) > 0 {
		query := `INSERT INTO unit_assignments (line_item_id, unit_id, position)
		          SELECT $1, u.id, u.ord - 1 FROM unnest($2::bigint[]) WITH ORDINALITY AS u(id, ord)`
		if _, err := r.q.ExecContext(ctx, query, li.ID, pq.Array(int64s(li.UnitIDs))); err != nil {
			return mapError(fmt.Errorf("failed to assign units: %w", err))
		}
	}
	return nil
}

// checkClaims rejects units held by another line item of the same booking
// or of an active booking overlapping this one.
func (r *queries) checkClaims(ctx context.Context, booking *inventory.Booking, li *inventory.LineItem) error {
	if len(li.UnitIDs) == 0 {
		return nil
	}
	seen := make(map[inventory.UnitID]bool, len(li.UnitIDs))
	for _, id := range li.UnitIDs {
		if seen[id] {
			return fmt.Errorf("%w: unit %d listed twice", inventory.ErrInvalidCatalog, id)
		}
		seen[id] = true
	}
	units := pq.Array(int64s(li.UnitIDs))

	var count int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM units WHERE id = ANY($1)`, units).Scan(&count); err != nil {
		return mapError(err)
	}
	if count != len(li.UnitIDs) {
		return fmt.Errorf("%w: unknown unit in %v", inventory.ErrInvalidCatalog, li.UnitIDs)
	}

	query := `SELECT ua.unit_id, ua.line_item_id
	          FROM unit_assignments ua
	          JOIN line_items li ON li.id = ua.line_item_id
	          JOIN bookings b ON b.id = li.booking_id
	          WHERE ua.unit_id = ANY($1) AND ua.line_item_id <> $2
	            AND (b.id = $3 OR ($4 AND b.status = ANY($5) AND b.start_at <= $6 AND $7 <= b.end_at))
	          ORDER BY ua.line_item_id, ua.unit_id
	          LIMIT 1`
	var conflict inventory.AllocationConflictError
	err := r.q.QueryRowContext(ctx, query, units, li.ID, booking.ID, booking.Status.IsActive(),
		activeStatuses, booking.Range.End, booking.Range.Start).Scan(&conflict.UnitID, &conflict.HeldBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return mapError(fmt.Errorf("failed to check unit claims: %w", err))
	}
	return &conflict
}

func (r *queries) DeleteLineItem(ctx context.Context, id inventory.LineItemID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM unit_assignments WHERE line_item_id = $1`, id); err != nil {
		return mapError(err)
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM line_items WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
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

func (r *queries) SaveIntegrityRun(ctx context.Context, run inventory.IntegrityRun) error {
	query := `INSERT INTO integrity_runs (id, status, bookings_checked, drift_fixed, conflicts, error, started_at, completed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, bookings_checked = EXCLUDED.bookings_checked,
	          drift_fixed = EXCLUDED.drift_fixed, conflicts = EXCLUDED.conflicts, error = EXCLUDED.error,
	          completed_at = EXCLUDED.completed_at`
	var errMsg sql.NullString
	if run.Error != "" {
		errMsg = sql.NullString{String: run.Error, Valid: true}
	}
	_, err := r.q.ExecContext(ctx, query, run.ID, run.Status, run.BookingsChecked, run.DriftFixed,
		run.Conflicts, errMsg, run.StartedAt, run.CompletedAt)
	return err
}

func (r *queries) ListIntegrityRuns(ctx context.Context, limit int) ([]inventory.IntegrityRun, error) {
	query := `SELECT id, status, bookings_checked, drift_fixed, conflicts, error, started_at, completed_at
	          FROM integrity_runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.IntegrityRun
	for rows.Next() {
		var (
			run       inventory.IntegrityRun
			errMsg    sql.NullString
			completed sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Status, &run.BookingsChecked, &run.DriftFixed,
			&run.Conflicts, &errMsg, &run.StartedAt, &completed); err != nil {
			return nil, err
		}
		run.Error = errMsg.String
		run.StartedAt = run.StartedAt.UTC()
		if completed.Valid {
			t := completed.Time.UTC()
			run.CompletedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func encodeAddOns(addOns []inventory.AddOn) ([]byte, error) {
	if addOns == nil {
		addOns = []inventory.AddOn{}
	}
	data, err := json.Marshal(addOns)
	if err != nil {
		return nil, fmt.Errorf("failed to encode add-ons: %w", err)
	}
	return data, nil
}

func nullPromo(id *inventory.PromoID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}
