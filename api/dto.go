/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in inventory/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

TIME FORMAT:
  Instants are RFC3339. Request fields also accept a plain date
  (2006-01-02), read as midnight UTC.

TARGETS:
  {"type": "product", "id": 3} or {"type": "bundle", "id": 1}

SEE ALSO:
  - handlers.go: Uses these types
  - factory/promo.go: PromoJSON type
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/payment"
	"github.com/warp/rental-engine/pricing"
)

// =============================================================================
// CATALOG
// =============================================================================

type ProductDTO struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"`
	Status    string    `json:"status"`
	Units     []UnitDTO `json:"units,omitempty"`
}

// CreateProductRequest creates a product and optionally Units serialized
// units named SerialPrefix-1..N.
type CreateProductRequest struct {
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unit_price"`
	Status       string `json:"status,omitempty"`
	Units        int    `json:"units,omitempty"`
	SerialPrefix string `json:"serial_prefix,omitempty"`
}

type UnitDTO struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Serial    string `json:"serial"`
	Available bool   `json:"available"`
}

type CreateUnitRequest struct {
	Serial    string `json:"serial"`
	Available *bool  `json:"available,omitempty"`
}

type BundleComponentDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type BundleDTO struct {
	ID         int64                `json:"id"`
	Name       string               `json:"name"`
	Price      int64                `json:"price"`
	Components []BundleComponentDTO `json:"components"`
}

type CreateBundleRequest struct {
	Name       string               `json:"name"`
	Price      int64                `json:"price"`
	Components []BundleComponentDTO `json:"components"`
}

func toProductDTO(p inventory.Product, units []inventory.Unit) ProductDTO {
	dto := ProductDTO{
		ID:        int64(p.ID),
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		Status:    string(p.Status),
	}
	for _, u := range units {
		dto.Units = append(dto.Units, toUnitDTO(u))
	}
	return dto
}

func toUnitDTO(u inventory.Unit) UnitDTO {
	return UnitDTO{ID: int64(u.ID), ProductID: int64(u.ProductID), Serial: u.Serial, Available: u.Available}
}

func toBundleDTO(b inventory.Bundle) BundleDTO {
	dto := BundleDTO{ID: int64(b.ID), Name: b.Name, Price: b.Price, Components: []BundleComponentDTO{}}
	for _, c := range b.Components {
		dto.Components = append(dto.Components, BundleComponentDTO{ProductID: int64(c.ProductID), Quantity: c.Quantity})
	}
	return dto
}

func (req CreateBundleRequest) toBundle() inventory.Bundle {
	b := inventory.Bundle{Name: req.Name, Price: req.Price}
	for _, c := range req.Components {
		b.Components = append(b.Components, inventory.BundleComponent{
			ProductID: inventory.ProductID(c.ProductID),
			Quantity:  c.Quantity,
		})
	}
	return b
}

// =============================================================================
// AVAILABILITY & QUOTES
// =============================================================================

type ComponentAvailabilityDTO struct {
	ProductID int64   `json:"product_id"`
	Required  int     `json:"required"`
	Free      int     `json:"free"`
	UnitIDs   []int64 `json:"unit_ids"`
}

type AvailabilityDTO struct {
	Target     inventory.Target           `json:"target"`
	Start      string                     `json:"start"`
	End        string                     `json:"end"`
	Count      int                        `json:"count"`
	UnitIDs    []int64                    `json:"unit_ids"`
	Components []ComponentAvailabilityDTO `json:"components"`
}

func toAvailabilityDTO(a inventory.Availability, r inventory.DateRange) AvailabilityDTO {
	dto := AvailabilityDTO{
		Target:     a.Target,
		Start:      formatTime(r.Start),
		End:        formatTime(r.End),
		Count:      a.Count,
		UnitIDs:    unitIDs(a.UnitIDs),
		Components: []ComponentAvailabilityDTO{},
	}
	for _, c := range a.Components {
		dto.Components = append(dto.Components, ComponentAvailabilityDTO{
			ProductID: int64(c.ProductID),
			Required:  c.Required,
			Free:      c.Free(),
			UnitIDs:   unitIDs(c.UnitIDs),
		})
	}
	return dto
}

// ItemDTO is one requested line: a target and a quantity.
type ItemDTO struct {
	Target   inventory.Target `json:"target"`
	Quantity int              `json:"quantity"`
}

type QuoteRequest struct {
	Start   string            `json:"start"`
	End     string            `json:"end"`
	PromoID *int64            `json:"promo_id,omitempty"`
	Items   []ItemDTO         `json:"items"`
	AddOns  []inventory.AddOn `json:"add_ons,omitempty"`
}

func (req QuoteRequest) toQuote() (booking.QuoteRequest, error) {
	r, err := parseRange(req.Start, req.End)
	if err != nil {
		return booking.QuoteRequest{}, err
	}
	return booking.QuoteRequest{
		Range:   r,
		PromoID: promoID(req.PromoID),
		Items:   toItems(req.Items),
		AddOns:  req.AddOns,
	}, nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

type LineItemDTO struct {
	ID       int64            `json:"id"`
	Target   inventory.Target `json:"target"`
	Quantity int              `json:"quantity"`
	UnitIDs  []int64          `json:"unit_ids"`
	Version  int64            `json:"version"`
}

type BookingDTO struct {
	ID               int64             `json:"id"`
	CustomerRef      string            `json:"customer_ref,omitempty"`
	Start            string            `json:"start"`
	End              string            `json:"end"`
	Duration         int               `json:"duration"`
	PromoID          *int64            `json:"promo_id,omitempty"`
	Status           string            `json:"status"`
	AddOns           []inventory.AddOn `json:"add_ons"`
	GrandTotal       int64             `json:"grand_total"`
	DownPayment      int64             `json:"down_payment"`
	RemainingPayment int64             `json:"remaining_payment"`
	CancellationFee  int64             `json:"cancellation_fee"`
	Version          int64             `json:"version"`
	CreatedAt        string            `json:"created_at,omitempty"`
	UpdatedAt        string            `json:"updated_at,omitempty"`

	LineItems []LineItemDTO       `json:"line_items,omitempty"`
	Breakdown *pricing.Breakdown `json:"breakdown,omitempty"`
}

type CreateBookingRequest struct {
	CustomerRef string            `json:"customer_ref"`
	Start       string            `json:"start"`
	End         string            `json:"end"`
	PromoID     *int64            `json:"promo_id,omitempty"`
	Items       []ItemDTO         `json:"items"`
	AddOns      []inventory.AddOn `json:"add_ons,omitempty"`
	DownPayment *int64            `json:"down_payment,omitempty"`
}

func (req CreateBookingRequest) toCreate() (booking.CreateBookingRequest, error) {
	r, err := parseRange(req.Start, req.End)
	if err != nil {
		return booking.CreateBookingRequest{}, err
	}
	return booking.CreateBookingRequest{
		CustomerRef: req.CustomerRef,
		Range:       r,
		PromoID:     promoID(req.PromoID),
		Items:       toItems(req.Items),
		AddOns:      req.AddOns,
		DownPayment: req.DownPayment,
	}, nil
}

// LineItemRequest creates (line_item_id omitted) or updates a line item.
// start/end are optional; a range different from the booking's reschedules it.
type LineItemRequest struct {
	LineItemID int64            `json:"line_item_id,omitempty"`
	Target     inventory.Target `json:"target"`
	Quantity   int              `json:"quantity"`
	Start      string           `json:"start,omitempty"`
	End        string           `json:"end,omitempty"`
}

type LineItemResponse struct {
	LineItem        LineItemDTO        `json:"line_item"`
	AssignedUnitIDs []int64            `json:"assigned_unit_ids"`
	Breakdown       pricing.Breakdown  `json:"breakdown"`
	Financials      payment.Financials `json:"financials"`
}

type ScheduleRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type PromoRequest struct {
	PromoID *int64 `json:"promo_id"`
}

type AddOnsRequest struct {
	AddOns []inventory.AddOn `json:"add_ons"`
}

// DownPaymentRequest sets the down payment. With infer=true any amount is
// accepted and the status follows from it.
type DownPaymentRequest struct {
	Amount int64 `json:"amount"`
	Infer  bool  `json:"infer,omitempty"`
}

type DownPaymentResponse struct {
	Status           string `json:"status"`
	RemainingPayment int64  `json:"remaining_payment"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	DownPayment      int64 `json:"down_payment"`
	RemainingPayment int64 `json:"remaining_payment"`
}

func toBookingDTO(b inventory.Booking) BookingDTO {
	dto := BookingDTO{
		ID:               int64(b.ID),
		CustomerRef:      b.CustomerRef,
		Start:            formatTime(b.Range.Start),
		End:              formatTime(b.Range.End),
		Duration:         b.Duration(),
		Status:           string(b.Status),
		AddOns:           b.AddOns,
		GrandTotal:       b.GrandTotal,
		DownPayment:      b.DownPayment,
		RemainingPayment: b.RemainingPayment,
		CancellationFee:  b.CancellationFee,
		Version:          b.Version,
	}
	if dto.AddOns == nil {
		dto.AddOns = []inventory.AddOn{}
	}
	if b.PromoID != nil {
		id := int64(*b.PromoID)
		dto.PromoID = &id
	}
	if !b.CreatedAt.IsZero() {
		dto.CreatedAt = formatTime(b.CreatedAt)
	}
	if !b.UpdatedAt.IsZero() {
		dto.UpdatedAt = formatTime(b.UpdatedAt)
	}
	return dto
}

func toBookingViewDTO(v *booking.View) BookingDTO {
	dto := toBookingDTO(v.Booking)
	for _, li := range v.LineItems {
		dto.LineItems = append(dto.LineItems, toLineItemDTO(li))
	}
	breakdown := v.Breakdown
	dto.Breakdown = &breakdown
	return dto
}

func toLineItemDTO(li inventory.LineItem) LineItemDTO {
	return LineItemDTO{
		ID:       int64(li.ID),
		Target:   li.Target,
		Quantity: li.Quantity,
		UnitIDs:  unitIDs(li.UnitIDs),
		Version:  li.Version,
	}
}

// =============================================================================
// INTEGRITY & SCENARIOS
// =============================================================================

type IntegrityRunDTO struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	BookingsChecked int    `json:"bookings_checked"`
	DriftFixed      int    `json:"drift_fixed"`
	Conflicts       int    `json:"conflicts"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

func toIntegrityRunDTO(run inventory.IntegrityRun) IntegrityRunDTO {
	dto := IntegrityRunDTO{
		ID:              run.ID,
		Status:          run.Status,
		BookingsChecked: run.BookingsChecked,
		DriftFixed:      run.DriftFixed,
		Conflicts:       run.Conflicts,
		Error:           run.Error,
		StartedAt:       formatTime(run.StartedAt),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = formatTime(*run.CompletedAt)
	}
	return dto
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseInstant accepts RFC3339 or a plain date.
func parseInstant(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", inventory.ErrInvalidDateRange, value)
}

func parseRange(start, end string) (inventory.DateRange, error) {
	s, err := parseInstant(start)
	if err != nil {
		return inventory.DateRange{}, err
	}
	e, err := parseInstant(end)
	if err != nil {
		return inventory.DateRange{}, err
	}
	return inventory.NewDateRange(s, e)
}

func unitIDs(ids []inventory.UnitID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func promoID(id *int64) *inventory.PromoID {
	if id == nil {
		return nil
	}
	p := inventory.PromoID(*id)
	return &p
}

func toItems(items []ItemDTO) []booking.ItemRequest {
	out := make([]booking.ItemRequest, len(items))
	for i, item := range items {
		out[i] = booking.ItemRequest{Target: item.Target, Quantity: item.Quantity}
	}
	return out
}
