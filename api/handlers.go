/*
handlers.go - HTTP API handlers for the energy market

PURPOSE:
  Exposes the reservation and settlement engine via REST. Handlers parse
  JSON, validate the transport-level shape, and delegate to the engine; all
  business rules live behind those calls.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                       Create account
    GET    /api/accounts/{id}                  Get account
    POST   /api/accounts/{id}/topup            Add credit

  Slots:
    POST   /api/slots                          Publish/update a producer hour
    GET    /api/producers/{id}/slots?date=     List a day's slots (incl. settled)

  Reservations:
    POST   /api/reservations                   Book kWh against a slot
    PUT    /api/reservations/{id}              Amend (kwh=0 cancels)
    GET    /api/consumers/{id}/reservations    Reservation history

  Settlement and stats:
    POST   /api/producers/{id}/resolve         Settle one day
    GET    /api/producers/{id}/earnings?date=  Settled-day earnings
    GET    /api/consumers/{id}/summary         Consumer totals

ERROR HANDLING:
  Domain errors keep their machine-readable code in the JSON body and map to:
  - 400: INVALID_KWH, INVALID_HOUR, SLOT_NOT_BOOKABLE_24H,
         MODIFICATION_NOT_ALLOWED_24H, INSUFFICIENT_CREDIT
  - 403: FORBIDDEN
  - 404: CONSUMER_NOT_FOUND, SLOT_NOT_FOUND, RESERVATION_NOT_FOUND
  - 409: RESERVATION_NOT_EDITABLE
  Everything else is logged and returned as a generic 500.

SECURITY NOTE:
  Identity is supplied by the caller; no authentication happens here. The
  engine trusts the IDs it is given, per the system's identity-layer split.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltgrid/energy-market/engine"
	"github.com/voltgrid/energy-market/metrics"
	"github.com/voltgrid/energy-market/stats"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      engine.TxStore
	Clock      engine.Clock
	Booking    *engine.BookingService
	Settlement *engine.SettlementService
	Slots      *engine.SlotService
	Stats      *stats.Service
}

// NewHandler wires the engine services around one store and clock.
func NewHandler(store engine.TxStore, clock engine.Clock) *Handler {
	return &Handler{
		Store:      store,
		Clock:      clock,
		Booking:    engine.NewBookingService(store, clock),
		Settlement: engine.NewSettlementService(store, clock),
		Slots:      engine.NewSlotService(store, clock),
		Stats:      stats.NewService(store),
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens an account with an opening credit balance.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	role := engine.Role(req.Role)
	if role != engine.RoleProducer && role != engine.RoleConsumer {
		writeError(w, http.StatusBadRequest, "role must be 'producer' or 'consumer'", nil)
		return
	}
	if req.InitialCredit < 0 {
		writeError(w, http.StatusBadRequest, "initial_credit cannot be negative", nil)
		return
	}

	account := &engine.Account{
		ID:        engine.AccountID(uuid.NewString()),
		Name:      req.Name,
		Role:      role,
		Credit:    engine.RoundCredit(decimal.NewFromFloat(req.InitialCredit)),
		CreatedAt: h.Clock.Now(),
	}
	if err := h.Store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns one account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))
	account, err := h.Store.GetAccount(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load account", err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// TopUp adds credit to an account inside one transaction.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	var updated *engine.Account
	err := h.Store.WithTx(r.Context(), func(st engine.Store) error {
		account, err := st.GetAccount(r.Context(), id, true)
		if err != nil {
			return err
		}
		if account == nil {
			return engine.NewDomainError(engine.ErrConsumerNotFound, "account %s not found", id)
		}
		account.Credit = account.Credit.Add(engine.RoundCredit(decimal.NewFromFloat(req.Amount)))
		if err := st.UpdateAccountCredit(r.Context(), id, account.Credit); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(updated))
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

// PublishSlot creates or updates a producer hour.
func (h *Handler) PublishSlot(w http.ResponseWriter, r *http.Request) {
	var req PublishSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if !validDate(req.Date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
		return
	}

	slot, err := h.Slots.PublishSlot(r.Context(),
		engine.AccountID(req.ProducerID), req.Date, req.Hour,
		decimal.NewFromFloat(req.CapacityKwh), decimal.NewFromFloat(req.PricePerKwh))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotDTO(slot))
}

// ListSlots returns every slot of one producer day, settled hours included.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	producerID := engine.AccountID(chi.URLParam(r, "id"))
	date := r.URL.Query().Get("date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date query parameter must be YYYY-MM-DD", nil)
		return
	}

	slots, err := h.Store.ListSlotsForDay(r.Context(), producerID, date, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list slots", err)
		return
	}
	dtos := make([]SlotDTO, len(slots))
	for i := range slots {
		dtos[i] = toSlotDTO(&slots[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation books kWh against a slot.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if !validDate(req.Date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
		return
	}

	key := engine.SlotKey{
		ProducerID: engine.AccountID(req.ProducerID),
		Date:       req.Date,
		Hour:       req.Hour,
	}
	res, err := h.Booking.CreateReservation(r.Context(),
		engine.AccountID(req.ConsumerID), key, kwh(req.RequestedKwh))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.ReservationsCreated.Inc()
	writeJSON(w, http.StatusCreated, toReservationDTO(res))
}

// UpdateReservation amends or cancels a reservation (requested_kwh == 0).
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	var req UpdateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	res, err := h.Booking.UpdateReservation(r.Context(),
		engine.AccountID(req.ConsumerID), id, kwh(req.RequestedKwh))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if res.Status == engine.StatusCancelled {
		metrics.ReservationsCancelled.Inc()
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// ListReservations returns a consumer's reservation history.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	consumerID := engine.AccountID(chi.URLParam(r, "id"))
	reservations, err := h.Store.ListByConsumer(r.Context(), consumerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reservations", err)
		return
	}
	dtos := make([]ReservationDTO, len(reservations))
	for i := range reservations {
		dtos[i] = toReservationDTO(&reservations[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SETTLEMENT AND STATS HANDLERS
// =============================================================================

// ResolveDay settles every slot of one producer day.
func (h *Handler) ResolveDay(w http.ResponseWriter, r *http.Request) {
	producerID := engine.AccountID(chi.URLParam(r, "id"))
	var req ResolveDayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if !validDate(req.Date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
		return
	}

	started := time.Now()
	summary, err := h.Settlement.ResolveDay(r.Context(), producerID, req.Date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	metrics.SlotsSettled.Add(float64(summary.ResolvedHours))
	metrics.OversubscribedHours.Add(float64(summary.OversubscribedHours))

	writeJSON(w, http.StatusOK, summary)
}

// Earnings reports a producer's settled-day totals.
func (h *Handler) Earnings(w http.ResponseWriter, r *http.Request) {
	producerID := engine.AccountID(chi.URLParam(r, "id"))
	date := r.URL.Query().Get("date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date query parameter must be YYYY-MM-DD", nil)
		return
	}

	earnings, err := h.Stats.ProducerEarnings(r.Context(), producerID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, toDayEarningsDTO(earnings))
}

// ConsumerSummary reports a consumer's reservation totals.
func (h *Handler) ConsumerSummary(w http.ResponseWriter, r *http.Request) {
	consumerID := engine.AccountID(chi.URLParam(r, "id"))
	summary, err := h.Stats.Summarize(r.Context(), consumerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize", err)
		return
	}
	writeJSON(w, http.StatusOK, toConsumerSummaryDTO(summary))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		log.Printf("api error (%d): %s: %v", status, msg, err)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeEngineError maps domain errors to 4xx responses with their code;
// anything else is an unexpected failure and becomes a logged 500.
func writeEngineError(w http.ResponseWriter, err error) {
	if derr, ok := engine.AsDomainError(err); ok {
		writeJSON(w, statusForCode(derr.Code), ErrorResponse{
			Error: derr.Message,
			Code:  string(derr.Code),
		})
		return
	}
	log.Printf("internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func statusForCode(code engine.ErrorCode) int {
	switch code {
	case engine.ErrConsumerNotFound, engine.ErrSlotNotFound, engine.ErrReservationNotFound:
		return http.StatusNotFound
	case engine.ErrForbidden:
		return http.StatusForbidden
	case engine.ErrReservationNotEditable:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func validDate(date string) bool {
	_, err := time.Parse(engine.DateLayout, date)
	return err == nil
}
