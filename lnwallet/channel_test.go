package lnwallet

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

// firstRemoteRevocationPreimage/Hash are the counterparty's seeded
// commit_num-0 revocation values, so tests can carry a revocation all
// the way through without reaching into channel internals.
var firstRemoteRevocationPreimage = [32]byte{0xbb}
var firstRemoteRevocationHash = sha256.Sum256(firstRemoteRevocationPreimage[:])

func newTestChannel(t *testing.T) *Channel {
	t.Helper()

	local := PeerChannelConfig{FeeRate: 50_000}
	remote := PeerChannelConfig{FeeRate: 50_000, NextRevocationHash: firstRemoteRevocationHash}

	c, err := NewChannel(1_000_000, Local, local, remote, [32]byte{0x42}, DefaultDustLimit)
	require.NoError(t, err)
	c.status = statusNormal
	return c
}

func TestProposeHTLCMovesToSentAddHTLC(t *testing.T) {
	c := newTestChannel(t)

	h, err := c.ProposeHTLC(100_000_000, [32]byte{1}, 500_000, nil)
	require.NoError(t, err)
	require.Equal(t, StateSentAddHTLC, h.State)
	require.Equal(t, uint32(1), c.LocalStaging().NumNondustHTLCs)
}

func TestReceiveAddHTLCRejectsWhenFundeeCantAfford(t *testing.T) {
	c := newTestChannel(t)

	// The Remote side starts with zero balance and cannot offer an
	// HTLC of any size.
	_, err := c.ReceiveAddHTLC(0, 1_000, [32]byte{1}, 500_000, nil)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestReceiveAddHTLCRejectsZeroAmount(t *testing.T) {
	c := newTestChannel(t)

	// spec.md §8 scenario 5.
	_, err := c.ReceiveAddHTLC(0, 0, [32]byte{1}, 500_000, nil)
	require.EqualError(t, err, "Invalid amount_msat")
}

func TestFullCommitRevocationRoundTrip(t *testing.T) {
	c := newTestChannel(t)

	h, err := c.ProposeHTLC(100_000_000, [32]byte{1}, 500_000, nil)
	require.NoError(t, err)
	require.Equal(t, StateSentAddHTLC, h.State)

	// We send UPDATE_COMMIT: mints a new remote.commit, advances our
	// offered HTLC to SENT_ADD_COMMIT.
	rc, err := c.SendCommit()
	require.NoError(t, err)
	require.Equal(t, uint64(1), rc.CommitNum)
	require.Equal(t, StateSentAddCommit, h.State)

	// They reply with UPDATE_REVOCATION for their previous (commit_num
	// 0) commitment, whose hash was disclosed as remote.NextRevocationHash
	// at channel construction.
	err = c.ReceiveRevocation(firstRemoteRevocationPreimage, [32]byte{0xcc})
	require.NoError(t, err)
	require.Equal(t, StateRcvdAddRevocation, h.State)

	// A second identical preimage at the same shachain index must now
	// be rejected (spec.md §8 scenario 4) -- simulate the counterparty
	// resending by restoring the pending-revocation witness.
	c.theirPrevRevocationHash = firstRemoteRevocationHash
	c.haveTheirPrevRevocationHash = true
	err = c.ReceiveRevocation(firstRemoteRevocationPreimage, [32]byte{0xcc})
	require.Error(t, err)

	// Now they send their own UPDATE_COMMIT; we mint a new local.commit
	// and reply with our revocation.
	preimage, nextHash, err := c.ReceiveCommit([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, nextHash)
	require.Equal(t, c.ourRevocationPreimage(0), preimage)
	require.Equal(t, StateSentAddAckRevocation, h.State)

	require.Equal(t, uint64(1), c.LocalCommit().CommitNum)
}

func TestReceiveRevocationRejectsWrongPreimage(t *testing.T) {
	c := newTestChannel(t)
	c.theirPrevRevocationHash = sha256.Sum256([]byte("expected"))
	c.haveTheirPrevRevocationHash = true

	err := c.ReceiveRevocation([32]byte{0x01}, [32]byte{0x02})
	require.ErrorIs(t, err, ErrInvalidRevocationPreimage)
}

func TestReceiveRevocationRejectsWhenNonePending(t *testing.T) {
	c := newTestChannel(t)
	err := c.ReceiveRevocation([32]byte{0x01}, [32]byte{0x02})
	require.ErrorIs(t, err, ErrNoPendingRevocation)
}

func TestFulfillRequiresCorrectState(t *testing.T) {
	c := newTestChannel(t)

	h, err := c.ProposeHTLC(100_000_000, [32]byte{1}, 500_000, nil)
	require.NoError(t, err)

	preimage := [32]byte{0x99}
	h.RHash = sha256.Sum256(preimage[:])

	// Still in SENT_ADD_HTLC, not SENT_ADD_ACK_REVOCATION.
	_, err = c.ReceiveFulfillHTLC(h.ID, preimage)
	require.ErrorIs(t, err, ErrHTLCWrongState)

	h.State = StateSentAddAckRevocation
	fulfilled, err := c.ReceiveFulfillHTLC(h.ID, preimage)
	require.NoError(t, err)
	require.True(t, fulfilled.HasPreimage)

	// A second fulfill of the same HTLC is reported, not an error.
	again, err := c.ReceiveFulfillHTLC(h.ID, preimage)
	require.NoError(t, err)
	require.Equal(t, fulfilled.ID, again.ID)
}

func TestOperationsRejectedAfterClose(t *testing.T) {
	c := newTestChannel(t)
	c.MarkClosed()

	_, err := c.ProposeHTLC(1000, [32]byte{1}, 500_000, nil)
	require.ErrorIs(t, err, ErrChanClosing)
}
