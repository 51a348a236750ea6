/*
Package payment derives booking status and settlement figures.

PURPOSE:
  Given a grand total and a down payment, derives or validates the
  booking's status, remaining balance and cancellation fee. This is the
  only place those figures are computed.

TWO ENTRY POINTS:
  SetStatus            Explicit staff action. Authoritative.
                       paid/rented/finished force down_payment = grand_total.
                       cancelled keeps whatever was actually collected.
  OnDownPaymentEdited  Inferential. Runs only when the down payment itself
                       is edited:
                         dp <= 0                  -> cancelled
                         dp <  floor(gt x 0.5)    -> cancelled
                         floor <= dp < gt         -> pending
                         dp >= gt                 -> paid (rented/finished stay)
  Neither calls the other.

REPRICING:
  Reprice keeps the collected down payment (capped at the new total) and
  re-runs the inference for pending and paid bookings. It never raises the
  down payment, so a grown total shows up as remaining payment.

INVARIANTS:
  remaining_payment = max(0, grand_total - down_payment)
  cancellation_fee  = floor(grand_total x 0.5), changes only with grand_total
  down_payment in [floor(gt x 0.5), gt] for every pending or paid booking

RATIOS:
  Both 0.5 ratios are fields of Policy, passed in by the caller.

SEE ALSO:
  - pricing/pricing.go: Produces the grand total
  - booking/service.go: Persists Financials onto bookings
*/
package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/inventory"
)

// Policy holds the settlement ratios.
type Policy struct {
	MinDownPaymentRatio  decimal.Decimal
	CancellationFeeRatio decimal.Decimal
}

var half = decimal.New(5, -1)

// DefaultPolicy is 50% minimum down payment and 50% cancellation fee.
func DefaultPolicy() Policy {
	return Policy{MinDownPaymentRatio: half, CancellationFeeRatio: half}
}

// NewPolicy parses both ratios. Each must lie in [0, 1].
func NewPolicy(minDownPayment, cancellationFee string) (Policy, error) {
	dp, err := parseRatio("min_down_payment_ratio", minDownPayment)
	if err != nil {
		return Policy{}, err
	}
	fee, err := parseRatio("cancellation_fee_ratio", cancellationFee)
	if err != nil {
		return Policy{}, err
	}
	return Policy{MinDownPaymentRatio: dp, CancellationFeeRatio: fee}, nil
}

func parseRatio(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return half, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: must be between 0 and 1", name, value)
	}
	return d, nil
}

// MinDownPayment is floor(grandTotal x MinDownPaymentRatio).
func (p Policy) MinDownPayment(grandTotal int64) int64 {
	return floorRatio(grandTotal, p.MinDownPaymentRatio)
}

// CancellationFee is floor(grandTotal x CancellationFeeRatio).
func (p Policy) CancellationFee(grandTotal int64) int64 {
	return floorRatio(grandTotal, p.CancellationFeeRatio)
}

func floorRatio(amount int64, ratio decimal.Decimal) int64 {
	if amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(ratio).Floor().IntPart()
}

// =============================================================================
// FINANCIALS
// =============================================================================

// Financials are the persisted money figures and status of a booking.
type Financials struct {
	Status           inventory.Status `json:"status"`
	GrandTotal       int64            `json:"grand_total"`
	DownPayment      int64            `json:"down_payment"`
	RemainingPayment int64            `json:"remaining_payment"`
	CancellationFee  int64            `json:"cancellation_fee"`
}

func FromBooking(b inventory.Booking) Financials {
	return Financials{
		Status:           b.Status,
		GrandTotal:       b.GrandTotal,
		DownPayment:      b.DownPayment,
		RemainingPayment: b.RemainingPayment,
		CancellationFee:  b.CancellationFee,
	}
}

// ApplyTo copies the figures onto b.
func (f Financials) ApplyTo(b *inventory.Booking) {
	b.Status = f.Status
	b.GrandTotal = f.GrandTotal
	b.DownPayment = f.DownPayment
	b.RemainingPayment = f.RemainingPayment
	b.CancellationFee = f.CancellationFee
}

// Remaining is max(0, grandTotal - downPayment).
func Remaining(grandTotal, downPayment int64) int64 {
	if r := grandTotal - downPayment; r > 0 {
		return r
	}
	return 0
}

func (f Financials) settle() Financials {
	f.RemainingPayment = Remaining(f.GrandTotal, f.DownPayment)
	return f
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Open returns the figures of a new booking. Without an explicit down
// payment the booking opens pending at the minimum down payment.
func (p Policy) Open(grandTotal int64, downPayment *int64) (Financials, error) {
	f := Financials{
		Status:          inventory.StatusPending,
		GrandTotal:      grandTotal,
		DownPayment:     p.MinDownPayment(grandTotal),
		CancellationFee: p.CancellationFee(grandTotal),
	}
	if downPayment == nil {
		return f.settle(), nil
	}
	return p.SetDownPayment(f, *downPayment)
}

// SetStatus applies an explicit status action.
//
// Moving to pending requires the collected down payment to be within the
// valid range, otherwise a *inventory.DownPaymentError is returned.
func (p Policy) SetStatus(f Financials, status inventory.Status) (Financials, error) {
	if _, err := inventory.ParseStatus(string(status)); err != nil {
		return f, err
	}

	switch {
	case status.IsSettled():
		f.DownPayment = f.GrandTotal
	case status == inventory.StatusCancelled:
		f.DownPayment = capAt(f.DownPayment, f.GrandTotal)
	case status == inventory.StatusPending:
		if err := p.validate(f.GrandTotal, f.DownPayment); err != nil {
			return f, err
		}
	}
	f.Status = status
	return f.settle(), nil
}

// OnDownPaymentEdited infers status from a directly edited down payment.
// Amounts above the grand total are capped at it.
func (p Policy) OnDownPaymentEdited(f Financials, downPayment int64) Financials {
	floor := p.MinDownPayment(f.GrandTotal)

	switch {
	case f.GrandTotal > 0 && downPayment <= 0:
		f.Status = inventory.StatusCancelled
		downPayment = 0
	case downPayment < floor:
		f.Status = inventory.StatusCancelled
	case downPayment < f.GrandTotal:
		f.Status = inventory.StatusPending
	default:
		if f.Status != inventory.StatusRented && f.Status != inventory.StatusFinished {
			f.Status = inventory.StatusPaid
		}
		downPayment = f.GrandTotal
	}

	f.DownPayment = downPayment
	return f.settle()
}

// SetDownPayment validates the amount against [MinDownPayment, GrandTotal]
// and then infers status from it.
func (p Policy) SetDownPayment(f Financials, downPayment int64) (Financials, error) {
	if err := p.validate(f.GrandTotal, downPayment); err != nil {
		return f, err
	}
	return p.OnDownPaymentEdited(f, downPayment), nil
}

// Reprice re-validates the collected down payment against a new grand total.
// The down payment is never raised, only capped at the new total. Pending
// and paid bookings then take the status OnDownPaymentEdited infers from
// it, so a paid booking whose total grows becomes pending with a balance.
// Cancelled bookings stay cancelled. Rented and finished bookings keep their
// status and carry any shortfall as remaining payment. The cancellation fee
// follows the new total.
func (p Policy) Reprice(f Financials, grandTotal int64) Financials {
	f.GrandTotal = grandTotal
	f.CancellationFee = p.CancellationFee(grandTotal)
	collected := capAt(f.DownPayment, grandTotal)

	switch f.Status {
	case inventory.StatusPending, inventory.StatusPaid:
		return p.OnDownPaymentEdited(f, collected)
	default:
		f.DownPayment = collected
		return f.settle()
	}
}

func (p Policy) validate(grandTotal, downPayment int64) error {
	lo := p.MinDownPayment(grandTotal)
	if downPayment < lo || downPayment > grandTotal {
		return &inventory.DownPaymentError{Amount: downPayment, Min: lo, Max: grandTotal}
	}
	return nil
}

func capAt(v, hi int64) int64 {
	if v > hi {
		return hi
	}
	if v < 0 {
		return 0
	}
	return v
}
