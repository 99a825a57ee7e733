/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Amounts cross
  the wire as float64 and are converted to decimal at the boundary; the
  engine never sees a float.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltgrid/energy-market/engine"
	"github.com/voltgrid/energy-market/stats"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccountRequest opens an account with an initial credit balance.
type CreateAccountRequest struct {
	Name          string  `json:"name"`
	Role          string  `json:"role"` // "producer" or "consumer"
	InitialCredit float64 `json:"initial_credit"`
}

// TopUpRequest adds credit to an account.
type TopUpRequest struct {
	Amount float64 `json:"amount"`
}

type AccountDTO struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	Credit    float64 `json:"credit"`
	CreatedAt string  `json:"created_at,omitempty"`
}

func toAccountDTO(a *engine.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		Name:      a.Name,
		Role:      string(a.Role),
		Credit:    a.Credit.InexactFloat64(),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SLOTS
// =============================================================================

// PublishSlotRequest creates or updates one producer hour.
type PublishSlotRequest struct {
	ProducerID  string  `json:"producer_id"`
	Date        string  `json:"date"` // YYYY-MM-DD
	Hour        int     `json:"hour"` // 0-23
	CapacityKwh float64 `json:"capacity_kwh"`
	PricePerKwh float64 `json:"price_per_kwh"`
}

type SlotDTO struct {
	ID          string  `json:"id"`
	ProducerID  string  `json:"producer_id"`
	Date        string  `json:"date"`
	Hour        int     `json:"hour"`
	CapacityKwh float64 `json:"capacity_kwh"`
	PricePerKwh float64 `json:"price_per_kwh"`
	Disabled    bool    `json:"disabled"`
	DisabledAt  *string `json:"disabled_at,omitempty"`
}

func toSlotDTO(s *engine.Slot) SlotDTO {
	dto := SlotDTO{
		ID:          string(s.ID),
		ProducerID:  string(s.ProducerID),
		Date:        s.Date,
		Hour:        s.Hour,
		CapacityKwh: s.CapacityKwh.InexactFloat64(),
		PricePerKwh: s.PricePerKwh.InexactFloat64(),
		Disabled:    s.Disabled,
	}
	if s.DisabledAt != nil {
		t := s.DisabledAt.Format(time.RFC3339)
		dto.DisabledAt = &t
	}
	return dto
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// CreateReservationRequest books kWh against a slot. The slot is addressed
// by its (producer, date, hour) key, not its internal id.
type CreateReservationRequest struct {
	ConsumerID   string  `json:"consumer_id"`
	ProducerID   string  `json:"producer_id"`
	Date         string  `json:"date"`
	Hour         int     `json:"hour"`
	RequestedKwh float64 `json:"requested_kwh"`
}

// UpdateReservationRequest amends a reservation; requested_kwh == 0 cancels.
type UpdateReservationRequest struct {
	ConsumerID   string  `json:"consumer_id"`
	RequestedKwh float64 `json:"requested_kwh"`
}

type ReservationDTO struct {
	ID               string  `json:"id"`
	ConsumerID       string  `json:"consumer_id"`
	SlotID           string  `json:"slot_id"`
	RequestedKwh     float64 `json:"requested_kwh"`
	AllocatedKwh     float64 `json:"allocated_kwh"`
	TotalCostCharged float64 `json:"total_cost_charged"`
	Status           string  `json:"status"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

func toReservationDTO(r *engine.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:               string(r.ID),
		ConsumerID:       string(r.ConsumerID),
		SlotID:           string(r.SlotID),
		RequestedKwh:     r.RequestedKwh.InexactFloat64(),
		AllocatedKwh:     r.AllocatedKwh.InexactFloat64(),
		TotalCostCharged: r.TotalCostCharged.InexactFloat64(),
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SETTLEMENT AND STATS
// =============================================================================

// ResolveDayRequest triggers settlement of one producer day.
type ResolveDayRequest struct {
	Date string `json:"date"` // YYYY-MM-DD
}

type DayEarningsDTO struct {
	ProducerID  string            `json:"producer_id"`
	Date        string            `json:"date"`
	TotalEarned float64           `json:"total_earned"`
	TotalSold   float64           `json:"total_sold_kwh"`
	Hours       []HourEarningsDTO `json:"hours"`
}

type HourEarningsDTO struct {
	Hour        int     `json:"hour"`
	CapacityKwh float64 `json:"capacity_kwh"`
	SoldKwh     float64 `json:"sold_kwh"`
	Earned      float64 `json:"earned"`
}

func toDayEarningsDTO(e *stats.DayEarnings) DayEarningsDTO {
	dto := DayEarningsDTO{
		ProducerID:  string(e.ProducerID),
		Date:        e.Date,
		TotalEarned: e.TotalEarned.InexactFloat64(),
		TotalSold:   e.TotalSold.InexactFloat64(),
	}
	for _, h := range e.Hours {
		dto.Hours = append(dto.Hours, HourEarningsDTO{
			Hour:        h.Hour,
			CapacityKwh: h.CapacityKwh.InexactFloat64(),
			SoldKwh:     h.SoldKwh.InexactFloat64(),
			Earned:      h.Earned.InexactFloat64(),
		})
	}
	return dto
}

type ConsumerSummaryDTO struct {
	ConsumerID   string  `json:"consumer_id"`
	Pending      int     `json:"pending"`
	Allocated    int     `json:"allocated"`
	Cancelled    int     `json:"cancelled"`
	ReceivedKwh  float64 `json:"received_kwh"`
	TotalCharged float64 `json:"total_charged"`
}

func toConsumerSummaryDTO(s *stats.ConsumerSummary) ConsumerSummaryDTO {
	return ConsumerSummaryDTO{
		ConsumerID:   string(s.ConsumerID),
		Pending:      s.Pending,
		Allocated:    s.Allocated,
		Cancelled:    s.Cancelled,
		ReceivedKwh:  s.ReceivedKwh.InexactFloat64(),
		TotalCharged: s.TotalCharged.InexactFloat64(),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// kwh converts a wire float to the engine's decimal representation.
func kwh(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
