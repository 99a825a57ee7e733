package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/voltgrid/energy-market/engine"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func claims(kwh ...string) []engine.Claim {
	out := make([]engine.Claim, len(kwh))
	for i, k := range kwh {
		out[i] = engine.Claim{
			ReservationID: engine.ReservationID(string(rune('a' + i))),
			RequestedKwh:  dec(k),
		}
	}
	return out
}

// =============================================================================
// REGIME SELECTION
// =============================================================================

func TestSelectRegime(t *testing.T) {
	assert.Equal(t, engine.NoCut, engine.SelectRegime(dec("10"), dec("10")), "demand == capacity is not a cut")
	assert.Equal(t, engine.NoCut, engine.SelectRegime(dec("9.999"), dec("10")))
	assert.Equal(t, engine.ProportionalCut, engine.SelectRegime(dec("10.001"), dec("10")))
	assert.Equal(t, engine.NoCut, engine.SelectRegime(decimal.Zero, dec("10")))
}

// =============================================================================
// ALLOCATION TABLES
// =============================================================================

func TestAllocate_NoCut_EveryoneGetsRequest(t *testing.T) {
	// GIVEN: Total demand (9 kWh) fits inside capacity (10 kWh)
	// WHEN: Allocating
	// THEN: Every claim is granted in full

	grants := engine.Allocate(claims("4", "3", "2"), dec("10"))
	require.Len(t, grants, 3)
	assert.True(t, grants[0].AllocatedKwh.Equal(dec("4")))
	assert.True(t, grants[1].AllocatedKwh.Equal(dec("3")))
	assert.True(t, grants[2].AllocatedKwh.Equal(dec("2")))
}

func TestAllocate_ProportionalCut_UniformRatio(t *testing.T) {
	// GIVEN: Two 8 kWh claims against a 10 kWh slot
	// WHEN: Allocating
	// THEN: Each is cut by ratio 10/16 = 0.625 to 5 kWh

	grants := engine.Allocate(claims("8", "8"), dec("10"))
	require.Len(t, grants, 2)
	assert.True(t, grants[0].AllocatedKwh.Equal(dec("5")), "got %s", grants[0].AllocatedKwh)
	assert.True(t, grants[1].AllocatedKwh.Equal(dec("5")), "got %s", grants[1].AllocatedKwh)
}

func TestAllocate_ProportionalCut_RoundsToThreeDecimals(t *testing.T) {
	// 10/30 ratio applied to 10 is 3.333... -> 3.333
	grants := engine.Allocate(claims("10", "10", "10"), dec("10"))
	require.Len(t, grants, 3)
	for _, g := range grants {
		assert.True(t, g.AllocatedKwh.Equal(dec("3.333")), "got %s", g.AllocatedKwh)
	}
}

func TestAllocate_ExactFit_IsNoCut(t *testing.T) {
	grants := engine.Allocate(claims("6", "4"), dec("10"))
	require.Len(t, grants, 2)
	assert.True(t, grants[0].AllocatedKwh.Equal(dec("6")))
	assert.True(t, grants[1].AllocatedKwh.Equal(dec("4")))
}

func TestAllocate_ZeroTotal_ReturnsNil(t *testing.T) {
	assert.Nil(t, engine.Allocate(nil, dec("10")))
	assert.Nil(t, engine.Allocate([]engine.Claim{}, dec("10")))
}

func TestAllocate_PreservesInputOrder(t *testing.T) {
	cs := claims("1", "2", "3")
	grants := engine.Allocate(cs, dec("2"))
	require.Len(t, grants, 3)
	for i := range cs {
		assert.Equal(t, cs[i].ReservationID, grants[i].ReservationID)
	}
}

// =============================================================================
// PROPERTIES
// =============================================================================

func genClaims(t *rapid.T) []engine.Claim {
	n := rapid.IntRange(1, 20).Draw(t, "n")
	cs := make([]engine.Claim, n)
	for i := range cs {
		// 0.100 .. 500.000 kWh at millis granularity
		millis := rapid.Int64Range(100, 500_000).Draw(t, "kwh")
		cs[i] = engine.Claim{
			ReservationID: engine.ReservationID(rune('a' + i)),
			RequestedKwh:  decimal.New(millis, -3),
		}
	}
	return cs
}

func TestAllocate_NeverExceedsRequest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cs := genClaims(t)
		capacity := decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "cap"), -3)

		grants := engine.Allocate(cs, capacity)
		require.Len(t, grants, len(cs))
		for i, g := range grants {
			assert.True(t, g.AllocatedKwh.LessThanOrEqual(cs[i].RequestedKwh),
				"grant %s exceeds request %s", g.AllocatedKwh, cs[i].RequestedKwh)
			assert.False(t, g.AllocatedKwh.IsNegative())
		}
	})
}

func TestAllocate_ConservesCapacityUnderCut(t *testing.T) {
	// Under ProportionalCut the granted total never exceeds capacity plus the
	// worst-case per-claim rounding (half a milli-kWh each).
	rapid.Check(t, func(t *rapid.T) {
		cs := genClaims(t)
		capacity := decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "cap"), -3)
		total := engine.TotalRequested(cs)
		if !total.GreaterThan(capacity) {
			t.Skip("no cut")
		}

		grants := engine.Allocate(cs, capacity)
		sum := decimal.Zero
		for _, g := range grants {
			sum = sum.Add(g.AllocatedKwh)
		}
		slack := decimal.New(int64(len(cs)), -3) // rounding headroom
		assert.True(t, sum.LessThanOrEqual(capacity.Add(slack)),
			"granted %s vs capacity %s", sum, capacity)
	})
}

func TestAllocate_NoCutIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cs := genClaims(t)
		total := engine.TotalRequested(cs)
		// Capacity at or above demand: everyone gets exactly their request.
		grants := engine.Allocate(cs, total)
		require.Len(t, grants, len(cs))
		for i, g := range grants {
			assert.True(t, g.AllocatedKwh.Equal(cs[i].RequestedKwh))
		}
	})
}
