package lnwallet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialFeeMatchesWorkedExample(t *testing.T) {
	// spec.md §8 scenario 1: anchor 1,000,000 sat, fee_rate 50000,
	// no HTLCs yet -> fee_msat = 16,900,000, all paid by the funder.
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)
	require.Equal(t, uint64(16_900_000), cs.Local.FeeMsat+cs.Remote.FeeMsat)
	require.Equal(t, uint64(16_900_000), cs.Local.FeeMsat)
	require.Equal(t, uint64(0), cs.Remote.FeeMsat)
	require.NoError(t, cs.CheckInvariants(0))
}

func TestAddHTLCFeeMatchesWorkedExample(t *testing.T) {
	// spec.md §8 scenario 2: adding one non-dust HTLC raises the
	// commitment size to 370 bytes, raising fee_msat to 18,500,000,
	// still fully paid by the funder since the fundee has no balance.
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)

	ok := cs.AddHTLC(Local, 5_000_000, 10_000, DefaultDustLimit)
	require.True(t, ok)
	require.Equal(t, uint32(1), cs.NumNondustHTLCs)
	require.Equal(t, uint64(18_500_000), cs.Local.FeeMsat+cs.Remote.FeeMsat)
	require.Equal(t, uint64(0), cs.Remote.FeeMsat)
	require.NoError(t, cs.CheckInvariants(5_000_000))
}

func TestWorkedScenarioOpenAddFulfill(t *testing.T) {
	// spec.md §8 scenarios 1-3, literal numbers.
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)
	require.Equal(t, uint64(983_100_000), cs.Local.PayMsat)
	require.Equal(t, uint64(16_900_000), cs.Local.FeeMsat)
	require.Equal(t, uint64(0), cs.Remote.PayMsat)
	require.Equal(t, uint64(0), cs.Remote.FeeMsat)

	ok := cs.AddHTLC(Local, 100_000_000, 100_000, DefaultDustLimit)
	require.True(t, ok)
	require.Equal(t, uint64(881_500_000), cs.Local.PayMsat)
	require.Equal(t, uint64(18_500_000), cs.Local.FeeMsat)
	require.Equal(t, uint64(0), cs.Remote.PayMsat)
	require.NoError(t, cs.CheckInvariants(100_000_000))

	cs.FulfillHTLC(Local, 100_000_000, 100_000, DefaultDustLimit)
	require.Equal(t, uint32(0), cs.NumNondustHTLCs)
	// Total fee_msat returns to the scenario-1 value of 16,900,000, but
	// now that the fundee carries a balance it can cover its own half
	// (8,450,000) and the fee no longer spills entirely to the funder.
	require.Equal(t, uint64(16_900_000), cs.Local.FeeMsat+cs.Remote.FeeMsat)
	require.Equal(t, uint64(891_550_000), cs.Local.PayMsat)
	require.Equal(t, uint64(91_550_000), cs.Remote.PayMsat)
	require.NoError(t, cs.CheckInvariants(0))
}

func TestAddHTLCRejectsWhenPayerCantAffordFee(t *testing.T) {
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)

	// The fundee has zero balance and should not be able to offer an
	// HTLC of any size.
	ok := cs.AddHTLC(Remote, 1_000, 10_000, DefaultDustLimit)
	require.False(t, ok)
	require.Equal(t, uint32(0), cs.NumNondustHTLCs)
}

func TestFulfillHTLCRoundTrip(t *testing.T) {
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)

	ok := cs.AddHTLC(Local, 5_000_000, 10_000, DefaultDustLimit)
	require.True(t, ok)

	before := cs.Copy()
	cs.FulfillHTLC(Local, 5_000_000, 10_000, DefaultDustLimit)

	require.Equal(t, uint32(0), cs.NumNondustHTLCs)
	// The fulfilled value lands on the remote side, and the fee re-split
	// then charges remote its share out of that credit.
	require.Equal(t, before.Remote.PayMsat+before.Remote.FeeMsat+5_000_000, cs.Remote.PayMsat+cs.Remote.FeeMsat)
	require.NoError(t, cs.CheckInvariants(0))
}

func TestFailHTLCRefundsOfferer(t *testing.T) {
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)

	ok := cs.AddHTLC(Local, 5_000_000, 10_000, DefaultDustLimit)
	require.True(t, ok)

	remoteBefore := cs.Remote.PayMsat
	cs.FailHTLC(Local, 5_000_000, 10_000, DefaultDustLimit)

	require.Equal(t, uint32(0), cs.NumNondustHTLCs)
	require.Equal(t, remoteBefore, cs.Remote.PayMsat)
	require.NoError(t, cs.CheckInvariants(0))
}

func TestDustHTLCDoesNotCountTowardNondust(t *testing.T) {
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)

	ok := cs.AddHTLC(Local, 1_000, 100, StaticDustLimit(546))
	require.True(t, ok)
	require.Equal(t, uint32(0), cs.NumNondustHTLCs)
	require.Equal(t, uint32(1), cs.Local.NumHTLCs)
}

func TestAdjustFeeRebalances(t *testing.T) {
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)

	cs.AdjustFee(10_000)
	require.Equal(t, uint64(10_000), cs.FeeRate)
	require.NoError(t, cs.CheckInvariants(0))
}

func TestCopyIsIndependent(t *testing.T) {
	cs, err := Initial(1_000_000, 50_000, Local)
	require.NoError(t, err)

	dup := cs.Copy()
	dup.Local.PayMsat = 0

	require.NotEqual(t, cs.Local.PayMsat, dup.Local.PayMsat)
}
