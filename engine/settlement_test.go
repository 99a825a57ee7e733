package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/energy-market/engine"
)

// =============================================================================
// SINGLE SLOT
// =============================================================================

func TestResolveDay_Undersubscribed_NoCut(t *testing.T) {
	// GIVEN: 4 + 3 kWh pending against a 10 kWh slot
	// WHEN: Resolving the day
	// THEN: Both get their full request, no refunds, hour not oversubscribed

	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	c1 := h.addAccount(t, "cons-1", engine.RoleConsumer, "100")
	c2 := h.addAccount(t, "cons-2", engine.RoleConsumer, "100")
	h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.0")

	ctx := context.Background()
	key := engine.SlotKey{ProducerID: producer, Date: dayAfterTomorrow, Hour: 10}
	r1, err := h.booking.CreateReservation(ctx, c1, key, dec("4"))
	require.NoError(t, err)
	r2, err := h.booking.CreateReservation(ctx, c2, key, dec("3"))
	require.NoError(t, err)

	summary, err := h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ResolvedHours)
	assert.Equal(t, 0, summary.OversubscribedHours)

	got1, _ := h.store.GetReservation(ctx, r1.ID, false)
	got2, _ := h.store.GetReservation(ctx, r2.ID, false)
	assert.Equal(t, engine.StatusAllocated, got1.Status)
	assert.True(t, got1.AllocatedKwh.Equal(dec("4")))
	assert.True(t, got2.AllocatedKwh.Equal(dec("3")))

	assert.True(t, h.credit(t, c1).Equal(dec("96")), "no refund expected")
	assert.True(t, h.credit(t, c2).Equal(dec("97")))
}

func TestResolveDay_Oversubscribed_ProportionalCutAndRefund(t *testing.T) {
	// GIVEN: Two consumers each reserving 8 kWh of a 10 kWh slot at 1.0/kWh
	// WHEN: Resolving
	// THEN: Each receives 5 kWh, pays 5, and is refunded 3

	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	c1 := h.addAccount(t, "cons-1", engine.RoleConsumer, "100")
	c2 := h.addAccount(t, "cons-2", engine.RoleConsumer, "100")
	h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.0")

	ctx := context.Background()
	key := engine.SlotKey{ProducerID: producer, Date: dayAfterTomorrow, Hour: 10}
	r1, err := h.booking.CreateReservation(ctx, c1, key, dec("8"))
	require.NoError(t, err)
	r2, err := h.booking.CreateReservation(ctx, c2, key, dec("8"))
	require.NoError(t, err)

	summary, err := h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ResolvedHours)
	assert.Equal(t, 1, summary.OversubscribedHours)

	got1, _ := h.store.GetReservation(ctx, r1.ID, false)
	got2, _ := h.store.GetReservation(ctx, r2.ID, false)
	assert.True(t, got1.AllocatedKwh.Equal(dec("5")), "got %s", got1.AllocatedKwh)
	assert.True(t, got2.AllocatedKwh.Equal(dec("5")))
	assert.True(t, got1.TotalCostCharged.Equal(dec("5")))

	// Paid 8 up front, refunded 3.
	assert.True(t, h.credit(t, c1).Equal(dec("95")), "got %s", h.credit(t, c1))
	assert.True(t, h.credit(t, c2).Equal(dec("95")))
}

func TestResolveDay_DisablesSettledSlots(t *testing.T) {
	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	c1 := h.addAccount(t, "cons-1", engine.RoleConsumer, "100")
	slot := h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.0")

	ctx := context.Background()
	key := slot.Key()
	_, err := h.booking.CreateReservation(ctx, c1, key, dec("4"))
	require.NoError(t, err)

	_, err = h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)

	got, _ := h.store.GetSlot(ctx, slot.ID, false)
	require.True(t, got.Disabled)
	require.NotNil(t, got.DisabledAt)

	// No further booking can land on the settled hour, window or not.
	_, err = h.booking.CreateReservation(ctx, c1, key, dec("1"))
	requireCode(t, err, engine.ErrSlotNotFound)
}

func TestResolveDay_SkipsSlotsWithNothingPending(t *testing.T) {
	// An hour with no pending claims is left untouched: not disabled, not
	// counted. That is also what makes a second run over the day a no-op.

	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	c1 := h.addAccount(t, "cons-1", engine.RoleConsumer, "100")
	empty := h.publish(t, producer, dayAfterTomorrow, 9, "10", "1.0")
	h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.0")

	ctx := context.Background()
	_, err := h.booking.CreateReservation(ctx, c1,
		engine.SlotKey{ProducerID: producer, Date: dayAfterTomorrow, Hour: 10}, dec("4"))
	require.NoError(t, err)

	summary, err := h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ResolvedHours)

	got, _ := h.store.GetSlot(ctx, empty.ID, false)
	assert.False(t, got.Disabled, "empty hour must stay open")
}

func TestResolveDay_SecondRunIsNoOp(t *testing.T) {
	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	c1 := h.addAccount(t, "cons-1", engine.RoleConsumer, "100")
	h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.0")

	ctx := context.Background()
	key := engine.SlotKey{ProducerID: producer, Date: dayAfterTomorrow, Hour: 10}
	_, err := h.booking.CreateReservation(ctx, c1, key, dec("8"))
	require.NoError(t, err)

	_, err = h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)
	creditAfterFirst := h.credit(t, c1)

	summary, err := h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.ResolvedHours)
	assert.Equal(t, 0, summary.OversubscribedHours)
	assert.True(t, h.credit(t, c1).Equal(creditAfterFirst), "re-run must not move credit")
}

func TestResolveDay_CancelledReservationsIgnored(t *testing.T) {
	// A cancelled claim takes no capacity and gets nothing.

	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	c1 := h.addAccount(t, "cons-1", engine.RoleConsumer, "100")
	c2 := h.addAccount(t, "cons-2", engine.RoleConsumer, "100")
	h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.0")

	ctx := context.Background()
	key := engine.SlotKey{ProducerID: producer, Date: dayAfterTomorrow, Hour: 10}
	cancelled, err := h.booking.CreateReservation(ctx, c1, key, dec("8"))
	require.NoError(t, err)
	kept, err := h.booking.CreateReservation(ctx, c2, key, dec("8"))
	require.NoError(t, err)

	_, err = h.booking.UpdateReservation(ctx, c1, cancelled.ID, decimal.Zero)
	require.NoError(t, err)

	summary, err := h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.OversubscribedHours, "remaining 8 fits in 10")

	got, _ := h.store.GetReservation(ctx, kept.ID, false)
	assert.True(t, got.AllocatedKwh.Equal(dec("8")))
	gone, _ := h.store.GetReservation(ctx, cancelled.ID, false)
	assert.Equal(t, engine.StatusCancelled, gone.Status)
	assert.True(t, gone.AllocatedKwh.IsZero())
}

// =============================================================================
// MULTI-SLOT AND REFUND BATCHING
// =============================================================================

func TestResolveDay_AccumulatesRefundsAcrossHours(t *testing.T) {
	// GIVEN: One consumer oversubscribed on two different hours
	// WHEN: Resolving
	// THEN: Both refunds land, exactly once

	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	c1 := h.addAccount(t, "cons-1", engine.RoleConsumer, "100")
	c2 := h.addAccount(t, "cons-2", engine.RoleConsumer, "100")
	h.publish(t, producer, dayAfterTomorrow, 9, "10", "1.0")
	h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.0")

	ctx := context.Background()
	key9 := engine.SlotKey{ProducerID: producer, Date: dayAfterTomorrow, Hour: 9}
	key10 := engine.SlotKey{ProducerID: producer, Date: dayAfterTomorrow, Hour: 10}

	// Hour 9: c1 and c2 each want 8 of 10 -> 5 each, refund 3 each.
	_, err := h.booking.CreateReservation(ctx, c1, key9, dec("8"))
	require.NoError(t, err)
	_, err = h.booking.CreateReservation(ctx, c2, key9, dec("8"))
	require.NoError(t, err)
	// Hour 10: c1 alone wants 20 of 10 -> 10, refund 10.
	_, err = h.booking.CreateReservation(ctx, c1, key10, dec("20"))
	require.NoError(t, err)

	summary, err := h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ResolvedHours)
	assert.Equal(t, 2, summary.OversubscribedHours)

	// c1: 100 - 8 - 20 + 3 + 10 = 85; c2: 100 - 8 + 3 = 95.
	assert.True(t, h.credit(t, c1).Equal(dec("85")), "got %s", h.credit(t, c1))
	assert.True(t, h.credit(t, c2).Equal(dec("95")), "got %s", h.credit(t, c2))
}

func TestResolveDay_ConservationPerSlot(t *testing.T) {
	// For a settled slot: sum(allocated) <= capacity, and for each reservation
	// charge + refund equals the original prepayment.

	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")
	consumers := []engine.AccountID{
		h.addAccount(t, "cons-1", engine.RoleConsumer, "1000"),
		h.addAccount(t, "cons-2", engine.RoleConsumer, "1000"),
		h.addAccount(t, "cons-3", engine.RoleConsumer, "1000"),
	}
	slot := h.publish(t, producer, dayAfterTomorrow, 10, "10", "1.5")

	ctx := context.Background()
	key := slot.Key()
	requests := []string{"7.5", "3.2", "4.9"} // total 15.6 > 10
	paid := make(map[engine.ReservationID]decimal.Decimal)
	for i, c := range consumers {
		r, err := h.booking.CreateReservation(ctx, c, key, dec(requests[i]))
		require.NoError(t, err)
		paid[r.ID] = r.TotalCostCharged
	}

	_, err := h.settle.ResolveDay(ctx, producer, dayAfterTomorrow)
	require.NoError(t, err)

	all, err := h.store.ListBySlot(ctx, slot.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)

	totalAllocated := decimal.Zero
	for _, r := range all {
		require.Equal(t, engine.StatusAllocated, r.Status)
		assert.True(t, r.AllocatedKwh.LessThanOrEqual(r.RequestedKwh))
		totalAllocated = totalAllocated.Add(r.AllocatedKwh)

		refund := engine.RoundCredit(r.RequestedKwh.Sub(r.AllocatedKwh).Mul(slot.PricePerKwh))
		diff := paid[r.ID].Sub(r.TotalCostCharged).Sub(refund).Abs()
		assert.True(t, diff.LessThanOrEqual(dec("0.01")),
			"paid %s != charged %s + refund %s", paid[r.ID], r.TotalCostCharged, refund)
	}
	assert.True(t, totalAllocated.LessThanOrEqual(slot.CapacityKwh.Add(dec("0.003"))),
		"allocated %s vs capacity %s", totalAllocated, slot.CapacityKwh)
}

func TestResolveDay_EmptyDay(t *testing.T) {
	h := newHarness(t)
	producer := h.addAccount(t, "prod-1", engine.RoleProducer, "0")

	summary, err := h.settle.ResolveDay(context.Background(), producer, dayAfterTomorrow)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ResolvedHours)
	assert.Equal(t, 0, summary.OversubscribedHours)
	assert.Equal(t, dayAfterTomorrow, summary.Date)
}
