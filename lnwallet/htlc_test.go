package lnwallet

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceFollowsOfferedLocallyLadder(t *testing.T) {
	s := StateSentAddHTLC
	s = Advance(s)
	require.Equal(t, StateSentAddCommit, s)
	s = Advance(s)
	require.Equal(t, StateRcvdAddRevocation, s)
	s = Advance(s)
	require.Equal(t, StateRcvdAddAckCommit, s)
	s = Advance(s)
	require.Equal(t, StateSentAddAckRevocation, s)
	require.True(t, s.IsTerminal())
}

func TestAdvanceFollowsReceivedLadder(t *testing.T) {
	s := StateRcvdAddHTLC
	s = Advance(s)
	require.Equal(t, StateRcvdAddCommit, s)
	s = Advance(s)
	require.Equal(t, StateSentAddRevocation, s)
	s = Advance(s)
	require.Equal(t, StateSentAddAckCommit, s)
	s = Advance(s)
	require.Equal(t, StateRcvdAddAckRevocation, s)
	require.True(t, s.IsTerminal())
}

func TestAdvanceFromTerminalStatePanics(t *testing.T) {
	require.Panics(t, func() {
		Advance(StateSentAddAckRevocation)
	})
}

func TestCheckTransitionRejectsNonAdjacentMove(t *testing.T) {
	err := CheckTransition(StateSentAddHTLC, StateRcvdAddAckCommit)
	require.Error(t, err)
	var illegal *ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
}

func TestCheckTransitionAcceptsLegalMove(t *testing.T) {
	require.NoError(t, CheckTransition(StateSentAddHTLC, StateSentAddCommit))
}

func TestRegistryAllocatesLocalIDsMonotonically(t *testing.T) {
	r := NewRegistry()

	h1, err := r.NewHTLC(Local, 0, 1000, [32]byte{1}, 500_000, nil, StateSentAddHTLC)
	require.NoError(t, err)
	require.Equal(t, uint64(0), h1.ID)

	h2, err := r.NewHTLC(Local, 0, 2000, [32]byte{2}, 500_000, nil, StateSentAddHTLC)
	require.NoError(t, err)
	require.Equal(t, uint64(1), h2.ID)

	require.Equal(t, uint64(2), r.NextLocalID())
}

func TestRegistryRejectsDuplicateRemoteID(t *testing.T) {
	r := NewRegistry()

	_, err := r.NewHTLC(Remote, 7, 1000, [32]byte{1}, 500_000, nil, StateRcvdAddHTLC)
	require.NoError(t, err)

	_, err = r.NewHTLC(Remote, 7, 1000, [32]byte{1}, 500_000, nil, StateRcvdAddHTLC)
	require.Error(t, err)
}

func TestRegistryGetAndDelete(t *testing.T) {
	r := NewRegistry()
	h, err := r.NewHTLC(Local, 0, 1000, [32]byte{1}, 500_000, nil, StateSentAddHTLC)
	require.NoError(t, err)

	require.Equal(t, h, r.Get(Local, 0))
	r.Delete(Local, 0)
	require.Nil(t, r.Get(Local, 0))
}

func TestHTLCVerifyPreimage(t *testing.T) {
	preimage := [32]byte{0x61, 0x62, 0x63} // "abc"
	h := &HTLC{RHash: sha256.Sum256(preimage[:])}
	require.True(t, h.VerifyPreimage(preimage))

	wrong := preimage
	wrong[0] ^= 0xff
	require.False(t, h.VerifyPreimage(wrong))
}
