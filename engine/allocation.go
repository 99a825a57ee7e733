/*
allocation.go - Pure allocation strategy for settling one slot

PURPOSE:
  Given the pending claims against one slot and the slot's capacity, compute
  each claim's final grant. Two regimes exist:

    NoCut:           total requested <= capacity, everyone gets their request
    ProportionalCut: total requested >  capacity, every claim is shrunk by the
                     uniform ratio capacity/totalRequested

  The regime is re-derived from the inputs every time it is needed; nothing is
  cached, because new reservations may arrive between an estimate and the
  actual settlement.

PURITY:
  Allocate does no I/O and has no side effects. Each grant is an independent
  multiplication, so input order never changes an individual result, but the
  output preserves input order to keep downstream refund bookkeeping stable.

NUMERIC POLICY:
  Grants are rounded to 3 decimal places and clamped to the request, so
  floating-point style overshoot from the multiplication can never grant more
  than was asked for.

SEE ALSO:
  - settlement.go: The only caller
*/
package engine

import "github.com/shopspring/decimal"

// =============================================================================
// REGIME - Closed two-case variant
// =============================================================================

type Regime int

const (
	NoCut Regime = iota
	ProportionalCut
)

func (r Regime) String() string {
	if r == ProportionalCut {
		return "proportional_cut"
	}
	return "no_cut"
}

// SelectRegime is the pure decision function: NoCut when demand fits,
// ProportionalCut otherwise.
func SelectRegime(totalRequested, capacityKwh decimal.Decimal) Regime {
	if totalRequested.GreaterThan(capacityKwh) {
		return ProportionalCut
	}
	return NoCut
}

// =============================================================================
// CLAIMS AND GRANTS
// =============================================================================

// Claim is one pending reservation's view as the strategy sees it.
type Claim struct {
	ReservationID ReservationID
	RequestedKwh  decimal.Decimal
}

// Grant is the strategy's verdict for one claim.
type Grant struct {
	ReservationID ReservationID
	AllocatedKwh  decimal.Decimal
}

// TotalRequested sums the claims' requested kWh.
func TotalRequested(claims []Claim) decimal.Decimal {
	total := decimal.Zero
	for _, c := range claims {
		total = total.Add(c.RequestedKwh)
	}
	return total
}

// Allocate maps claims to grants for a slot of capacityKwh.
// A zero total short-circuits to an empty allocation so the ratio division
// can never divide by zero.
func Allocate(claims []Claim, capacityKwh decimal.Decimal) []Grant {
	total := TotalRequested(claims)
	if total.IsZero() {
		return nil
	}

	grants := make([]Grant, 0, len(claims))
	switch SelectRegime(total, capacityKwh) {
	case NoCut:
		for _, c := range claims {
			grants = append(grants, Grant{
				ReservationID: c.ReservationID,
				AllocatedKwh:  RoundKwh(c.RequestedKwh),
			})
		}
	case ProportionalCut:
		ratio := capacityKwh.Div(total) // 0 < ratio < 1
		for _, c := range claims {
			allocated := RoundKwh(c.RequestedKwh.Mul(ratio))
			if allocated.GreaterThan(c.RequestedKwh) {
				allocated = c.RequestedKwh
			}
			grants = append(grants, Grant{
				ReservationID: c.ReservationID,
				AllocatedKwh:  allocated,
			})
		}
	}
	return grants
}
