package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSettlementAddsChargeAndRefund(t *testing.T) {
	m := Paymaster()
	chargedBefore := testutil.ToFloat64(m.chargedWei)
	refundedBefore := testutil.ToFloat64(m.refundedWei)

	m.ObserveSettlement("succeeded", big.NewInt(190), big.NewInt(510))

	if got := testutil.ToFloat64(m.chargedWei) - chargedBefore; got != 190 {
		t.Fatalf("charged delta = %v, want 190", got)
	}
	if got := testutil.ToFloat64(m.refundedWei) - refundedBefore; got != 510 {
		t.Fatalf("refunded delta = %v, want 510", got)
	}
}

func TestObserveSettlementSkipsEmptyAmounts(t *testing.T) {
	m := Paymaster()
	chargedBefore := testutil.ToFloat64(m.chargedWei)
	refundedBefore := testutil.ToFloat64(m.refundedWei)

	m.ObserveSettlement("postop_reverted", big.NewInt(0), nil)

	if got := testutil.ToFloat64(m.chargedWei); got != chargedBefore {
		t.Fatalf("charged must not move, delta %v", got-chargedBefore)
	}
	if got := testutil.ToFloat64(m.refundedWei); got != refundedBefore {
		t.Fatalf("refunded must not move, delta %v", got-refundedBefore)
	}
}

func TestObserveValidationAccumulatesReserved(t *testing.T) {
	m := Paymaster()
	before := testutil.ToFloat64(m.reservedWei)

	m.ObserveValidation("validated", big.NewInt(700))
	m.ObserveValidation("rejected", nil)

	if got := testutil.ToFloat64(m.reservedWei) - before; got != 700 {
		t.Fatalf("reserved delta = %v, want 700", got)
	}
}
