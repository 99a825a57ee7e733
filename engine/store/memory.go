// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/voltgrid/energy-market/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all rows in maps behind a single mutex. The forUpdate flags on
// reads are no-ops here: WithTx holds the store lock for the whole
// transaction, which serializes everything row locks would.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[engine.AccountID]engine.Account
	slots        map[engine.SlotID]engine.Slot
	slotKeys     map[engine.SlotKey]engine.SlotID
	reservations map[engine.ReservationID]engine.Reservation
	resOrder     []engine.ReservationID // creation order
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[engine.AccountID]engine.Account),
		slots:        make(map[engine.SlotID]engine.Slot),
		slotKeys:     make(map[engine.SlotKey]engine.SlotID),
		reservations: make(map[engine.ReservationID]engine.Reservation),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a *engine.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Memory) createAccountLocked(a *engine.Account) error {
	m.accounts[a.ID] = *a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id engine.AccountID, _ bool) (*engine.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id engine.AccountID) (*engine.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) UpdateAccountCredit(_ context.Context, id engine.AccountID, credit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAccountCreditLocked(id, credit)
}

func (m *Memory) updateAccountCreditLocked(id engine.AccountID, credit decimal.Decimal) error {
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	a.Credit = credit
	m.accounts[id] = a
	return nil
}

// =============================================================================
// SLOTS
// =============================================================================

func (m *Memory) CreateSlot(_ context.Context, s *engine.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSlotLocked(s)
}

func (m *Memory) createSlotLocked(s *engine.Slot) error {
	m.slots[s.ID] = *s
	m.slotKeys[s.Key()] = s.ID
	return nil
}

func (m *Memory) UpdateSlot(_ context.Context, s *engine.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSlotLocked(s)
}

func (m *Memory) updateSlotLocked(s *engine.Slot) error {
	m.slots[s.ID] = *s
	return nil
}

func (m *Memory) GetSlot(_ context.Context, id engine.SlotID, _ bool) (*engine.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSlotLocked(id)
}

func (m *Memory) getSlotLocked(id engine.SlotID) (*engine.Slot, error) {
	s, ok := m.slots[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) GetSlotByKey(_ context.Context, key engine.SlotKey, _ bool) (*engine.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSlotByKeyLocked(key)
}

func (m *Memory) getSlotByKeyLocked(key engine.SlotKey) (*engine.Slot, error) {
	id, ok := m.slotKeys[key]
	if !ok {
		return nil, nil
	}
	return m.getSlotLocked(id)
}

func (m *Memory) ListSlotsForDay(_ context.Context, producerID engine.AccountID, date string, _ bool) ([]engine.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSlotsForDayLocked(producerID, date)
}

func (m *Memory) listSlotsForDayLocked(producerID engine.AccountID, date string) ([]engine.Slot, error) {
	var result []engine.Slot
	for _, s := range m.slots {
		if s.ProducerID == producerID && s.Date == date {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Hour < result[j].Hour })
	return result, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (m *Memory) CreateReservation(_ context.Context, r *engine.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createReservationLocked(r)
}

func (m *Memory) createReservationLocked(r *engine.Reservation) error {
	m.reservations[r.ID] = *r
	m.resOrder = append(m.resOrder, r.ID)
	return nil
}

func (m *Memory) GetReservation(_ context.Context, id engine.ReservationID, _ bool) (*engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReservationLocked(id)
}

func (m *Memory) getReservationLocked(id engine.ReservationID) (*engine.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) UpdateReservation(_ context.Context, r *engine.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateReservationLocked(r)
}

func (m *Memory) updateReservationLocked(r *engine.Reservation) error {
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) ListPendingBySlot(_ context.Context, slotID engine.SlotID, _ bool) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPendingBySlotLocked(slotID)
}

func (m *Memory) listPendingBySlotLocked(slotID engine.SlotID) ([]engine.Reservation, error) {
	var result []engine.Reservation
	for _, id := range m.resOrder {
		r := m.reservations[id]
		if r.SlotID == slotID && r.Status == engine.StatusPending {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) ListBySlot(_ context.Context, slotID engine.SlotID) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBySlotLocked(slotID)
}

func (m *Memory) listBySlotLocked(slotID engine.SlotID) ([]engine.Reservation, error) {
	var result []engine.Reservation
	for _, id := range m.resOrder {
		r := m.reservations[id]
		if r.SlotID == slotID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) ListByConsumer(_ context.Context, consumerID engine.AccountID) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByConsumerLocked(consumerID)
}

func (m *Memory) listByConsumerLocked(consumerID engine.AccountID) ([]engine.Reservation, error) {
	var result []engine.Reservation
	for _, id := range m.resOrder {
		r := m.reservations[id]
		if r.ConsumerID == consumerID {
			result = append(result, r)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts     map[engine.AccountID]engine.Account
	slots        map[engine.SlotID]engine.Slot
	slotKeys     map[engine.SlotKey]engine.SlotID
	reservations map[engine.ReservationID]engine.Reservation
	resOrder     []engine.ReservationID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:     make(map[engine.AccountID]engine.Account, len(tm.accounts)),
		slots:        make(map[engine.SlotID]engine.Slot, len(tm.slots)),
		slotKeys:     make(map[engine.SlotKey]engine.SlotID, len(tm.slotKeys)),
		reservations: make(map[engine.ReservationID]engine.Reservation, len(tm.reservations)),
		resOrder:     append([]engine.ReservationID{}, tm.resOrder...),
	}
	for k, v := range tm.accounts {
		s.accounts[k] = v
	}
	for k, v := range tm.slots {
		s.slots[k] = v
	}
	for k, v := range tm.slotKeys {
		s.slotKeys[k] = v
	}
	for k, v := range tm.reservations {
		s.reservations[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.slots = s.slots
	tm.slotKeys = s.slotKeys
	tm.reservations = s.reservations
	tm.resOrder = s.resOrder
}

// txMemoryView routes calls to the parent's locked methods; the parent mutex
// is already held for the duration of WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateAccount(_ context.Context, a *engine.Account) error {
	return tv.parent.createAccountLocked(a)
}

func (tv *txMemoryView) GetAccount(_ context.Context, id engine.AccountID, _ bool) (*engine.Account, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txMemoryView) UpdateAccountCredit(_ context.Context, id engine.AccountID, credit decimal.Decimal) error {
	return tv.parent.updateAccountCreditLocked(id, credit)
}

func (tv *txMemoryView) CreateSlot(_ context.Context, s *engine.Slot) error {
	return tv.parent.createSlotLocked(s)
}

func (tv *txMemoryView) UpdateSlot(_ context.Context, s *engine.Slot) error {
	return tv.parent.updateSlotLocked(s)
}

func (tv *txMemoryView) GetSlot(_ context.Context, id engine.SlotID, _ bool) (*engine.Slot, error) {
	return tv.parent.getSlotLocked(id)
}

func (tv *txMemoryView) GetSlotByKey(_ context.Context, key engine.SlotKey, _ bool) (*engine.Slot, error) {
	return tv.parent.getSlotByKeyLocked(key)
}

func (tv *txMemoryView) ListSlotsForDay(_ context.Context, producerID engine.AccountID, date string, _ bool) ([]engine.Slot, error) {
	return tv.parent.listSlotsForDayLocked(producerID, date)
}

func (tv *txMemoryView) CreateReservation(_ context.Context, r *engine.Reservation) error {
	return tv.parent.createReservationLocked(r)
}

func (tv *txMemoryView) GetReservation(_ context.Context, id engine.ReservationID, _ bool) (*engine.Reservation, error) {
	return tv.parent.getReservationLocked(id)
}

func (tv *txMemoryView) UpdateReservation(_ context.Context, r *engine.Reservation) error {
	return tv.parent.updateReservationLocked(r)
}

func (tv *txMemoryView) ListPendingBySlot(_ context.Context, slotID engine.SlotID, _ bool) ([]engine.Reservation, error) {
	return tv.parent.listPendingBySlotLocked(slotID)
}

func (tv *txMemoryView) ListBySlot(_ context.Context, slotID engine.SlotID) ([]engine.Reservation, error) {
	return tv.parent.listBySlotLocked(slotID)
}

func (tv *txMemoryView) ListByConsumer(_ context.Context, consumerID engine.AccountID) ([]engine.Reservation, error) {
	return tv.parent.listByConsumerLocked(consumerID)
}
