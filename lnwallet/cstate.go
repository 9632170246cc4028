package lnwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Owner identifies which side of a channel a value belongs to, from the
// point of view of the node holding the Channel. It is used both for
// ChannelState's two balance sides and for an HTLC's owner (spec.md §3).
type Owner uint8

const (
	// Local identifies values belonging to this node.
	Local Owner = iota

	// Remote identifies values belonging to the counterparty.
	Remote
)

// String returns a human readable owner name.
func (o Owner) String() string {
	if o == Local {
		return "local"
	}
	return "remote"
}

// Opposite returns the other side.
func (o Owner) Opposite() Owner {
	if o == Local {
		return Remote
	}
	return Local
}

// baseCommitSizeBytes is the fixed portion of a commitment transaction's
// byte count (spec.md §4.1): version, locktime, two non-HTLC outputs, the
// anchor input, and signature witness data, modeled as a constant.
const baseCommitSizeBytes = 338

// nonDustHTLCSizeBytes is the marginal byte cost of one non-dust HTLC
// output plus its witness script (spec.md §4.1).
const nonDustHTLCSizeBytes = 32

// Side holds one party's view of the msat accounting within a
// ChannelState (spec.md §3).
type Side struct {
	// PayMsat is the balance this side can spend, exclusive of fees.
	PayMsat uint64

	// FeeMsat is the portion of the commitment fee charged to this
	// side.
	FeeMsat uint64

	// NumHTLCs is the number of HTLCs currently offered by this side
	// (dust and non-dust).
	NumHTLCs uint32
}

// ChannelState is the pure, side-effect-free value described in spec.md
// §3: the anchor amount, the chosen fee rate, the count of non-dust
// HTLCs that will appear as commitment outputs, and each side's balance.
// Every mutator here is deterministic and never touches the network or a
// database; the Commitment/Revocation Engine is the only caller allowed
// to apply these mutations to a channel's staging state.
type ChannelState struct {
	AnchorSatoshis btcutil.Amount
	FeeRate        uint64 // satoshis per 1000 bytes

	NumNondustHTLCs uint32

	Local  Side
	Remote Side
}

// DustLimiter decides whether an HTLC's satoshi value is dust, i.e. too
// small to be worth giving its own commitment output. It is supplied by
// the collaborator that knows the current relay fee policy (spec.md
// §4.1); this package only consumes the predicate.
type DustLimiter interface {
	IsDust(satoshis uint64) bool
}

// StaticDustLimit is a DustLimiter with a fixed satoshi threshold,
// sufficient for tests and for deployments that don't dynamically track
// relay fees.
type StaticDustLimit uint64

// IsDust implements DustLimiter.
func (d StaticDustLimit) IsDust(satoshis uint64) bool {
	return satoshis < uint64(d)
}

// DefaultDustLimit is the dust threshold used when no DustLimiter is
// supplied.
const DefaultDustLimit = StaticDustLimit(546)

// commitSizeBytes returns the modeled byte count of a commitment
// transaction with numNondustHTLCs outputs.
func commitSizeBytes(numNondustHTLCs uint32) uint64 {
	return baseCommitSizeBytes + nonDustHTLCSizeBytes*uint64(numNondustHTLCs)
}

// computeFeeMsat applies spec.md §4.1's fee rule: the byte count times
// the fee rate per 1000 bytes, truncated to an even satoshi count before
// scaling to millisatoshis.
func computeFeeMsat(numNondustHTLCs uint32, feeRate uint64) uint64 {
	bytes := commitSizeBytes(numNondustHTLCs)
	halfSat := (bytes * feeRate) / 2000
	feeSat := halfSat * 2
	return feeSat * 1000
}

// ErrAnchorTooSmall is returned by Initial when the anchor can't cover
// the initial commitment fee.
var ErrAnchorTooSmall = fmt.Errorf("initial cstate: anchor_satoshis * 1000 < fee_msat")

// ErrAnchorTooLarge is returned by Initial when the anchor amount exceeds
// the maximum representable in this implementation's fixed-width anchor
// field (2^32/1000 satoshis, spec.md §4.1).
var ErrAnchorTooLarge = fmt.Errorf("initial cstate: anchor_satoshis exceeds 2^32/1000")

const maxAnchorSatoshis = (uint64(1) << 32) / 1000

// Initial builds the ChannelState for a freshly opened channel with no
// HTLCs (spec.md §4.1's initial_cstate). funder identifies which side
// contributed the anchor.
func Initial(anchorSatoshis btcutil.Amount, feeRate uint64, funder Owner) (*ChannelState, error) {
	if uint64(anchorSatoshis) > maxAnchorSatoshis {
		return nil, ErrAnchorTooLarge
	}

	feeMsat := computeFeeMsat(0, feeRate)
	anchorMsat := uint64(anchorSatoshis) * 1000
	if anchorMsat < feeMsat {
		return nil, ErrAnchorTooSmall
	}

	cs := &ChannelState{
		AnchorSatoshis:  anchorSatoshis,
		FeeRate:         feeRate,
		NumNondustHTLCs: 0,
	}

	// The funder holds the entire anchor before the fee split; the
	// fundee holds nothing. splitFee then divides feeMsat between them
	// according to what each can actually afford.
	funderPay := anchorMsat
	fundeePay := uint64(0)

	fFee, tFee := splitFee(funderPay, fundeePay, feeMsat)

	local := Side{PayMsat: funderPay - fFee, FeeMsat: fFee}
	remote := Side{PayMsat: fundeePay - tFee, FeeMsat: tFee}

	if funder == Local {
		cs.Local, cs.Remote = local, remote
	} else {
		cs.Local, cs.Remote = remote, local
	}

	return cs, nil
}

// splitFee divides feeMsat between two sides with the given payable
// balances, per spec.md §4.1: each side first pays feeMsat/2 from its own
// balance; a side that can't cover its half drains its balance entirely
// and the shortfall spills to the other side, which in turn spills to
// zero if it too is insufficient.
func splitFee(aPay, bPay, feeMsat uint64) (aFee, bFee uint64) {
	half := feeMsat / 2

	aFee = min64(half, aPay)
	bFee = min64(half, bPay)

	aShort := half - aFee
	bShort := half - bFee

	if aShort > 0 {
		avail := bPay - bFee
		add := min64(aShort, avail)
		bFee += add
	}
	if bShort > 0 {
		avail := aPay - aFee
		add := min64(bShort, avail)
		aFee += add
	}

	return aFee, bFee
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Copy returns a deep copy of the ChannelState.
func (cs *ChannelState) Copy() *ChannelState {
	dup := *cs
	return &dup
}

// totalMsat returns the sum of both sides' pay and fee balances, which
// together with the value locked in any pending HTLCs must always equal
// AnchorSatoshis*1000 (spec.md §3's conservation invariant).
func (cs *ChannelState) totalMsat() uint64 {
	return cs.Local.PayMsat + cs.Local.FeeMsat + cs.Remote.PayMsat + cs.Remote.FeeMsat
}

// CheckInvariants verifies the conservation and non-negativity
// invariants of spec.md §3/§4.1. pendingHTLCMsat is the sum of the
// msatoshi values of every HTLC currently offered on either side, which
// is held outside both sides' balances while in flight; it is called
// after every mutation in tests and by the engine after applying a
// delta.
func (cs *ChannelState) CheckInvariants(pendingHTLCMsat uint64) error {
	if got, want := cs.totalMsat()+pendingHTLCMsat, uint64(cs.AnchorSatoshis)*1000; got != want {
		return fmt.Errorf("cstate: conservation violated: got %d want %d", got, want)
	}
	if int32(cs.NumNondustHTLCs) < 0 {
		return fmt.Errorf("cstate: num_nondust_htlcs negative")
	}
	return nil
}

// recomputeFee recalculates FeeMsat for both sides from the current
// NumNondustHTLCs and FeeRate, folding any previously assigned fee back
// into each side's payable balance first so the re-split starts from the
// same base spec.md's worked examples use.
func (cs *ChannelState) recomputeFee() {
	localPay := cs.Local.PayMsat + cs.Local.FeeMsat
	remotePay := cs.Remote.PayMsat + cs.Remote.FeeMsat

	feeMsat := computeFeeMsat(cs.NumNondustHTLCs, cs.FeeRate)

	lFee, rFee := splitFee(localPay, remotePay, feeMsat)

	cs.Local.PayMsat = localPay - lFee
	cs.Local.FeeMsat = lFee
	cs.Remote.PayMsat = remotePay - rFee
	cs.Remote.FeeMsat = rFee
}

// AdjustFee changes the fee rate and recomputes both sides' fee split
// (spec.md §4.1's adjust_fee).
func (cs *ChannelState) AdjustFee(feeRate uint64) {
	cs.FeeRate = feeRate
	cs.recomputeFee()
}

// ForceFee overrides the fee in satoshis directly (used when replaying
// a previously-agreed fee on restart). Returns false if the anchor can't
// cover it.
func (cs *ChannelState) ForceFee(feeSat uint64) bool {
	feeMsat := feeSat * 1000
	if feeMsat > uint64(cs.AnchorSatoshis)*1000 {
		return false
	}

	localPay := cs.Local.PayMsat + cs.Local.FeeMsat
	remotePay := cs.Remote.PayMsat + cs.Remote.FeeMsat

	lFee, rFee := splitFee(localPay, remotePay, feeMsat)

	cs.Local.PayMsat = localPay - lFee
	cs.Local.FeeMsat = lFee
	cs.Remote.PayMsat = remotePay - rFee
	cs.Remote.FeeMsat = rFee
	return true
}

// AddHTLC attempts to add htlc (msatoshis, satoshi value, owner, dust
// predicate) to the state. Returns false if the paying side can't afford
// the HTLC plus its post-addition share of the fee (spec.md §4.1's add
// constraint); the state is left unmodified on rejection.
func (cs *ChannelState) AddHTLC(owner Owner, msatoshis, satoshiValue uint64, dust DustLimiter) bool {
	if dust == nil {
		dust = DefaultDustLimit
	}

	isNondust := !dust.IsDust(satoshiValue)

	trial := cs.Copy()
	paying := &trial.Local
	if owner == Remote {
		paying = &trial.Remote
	}

	if isNondust {
		trial.NumNondustHTLCs++
	}
	paying.NumHTLCs++

	feeMsat := computeFeeMsat(trial.NumNondustHTLCs, trial.FeeRate)
	halfAfter := feeMsat / 2

	payingTotal := paying.PayMsat + paying.FeeMsat
	if payingTotal < msatoshis+halfAfter {
		return false
	}

	paying.PayMsat = payingTotal - msatoshis
	paying.FeeMsat = 0

	trial.recomputeFee()

	*cs = *trial
	return true
}

// FulfillHTLC credits the counterparty of the offering side and
// recomputes the fee. Infallible (spec.md §4.1).
func (cs *ChannelState) FulfillHTLC(owner Owner, msatoshis, satoshiValue uint64, dust DustLimiter) {
	cs.removeHTLC(owner, msatoshis, satoshiValue, dust, owner.Opposite())
}

// FailHTLC refunds the offering side and recomputes the fee. Infallible
// (spec.md §4.1).
func (cs *ChannelState) FailHTLC(owner Owner, msatoshis, satoshiValue uint64, dust DustLimiter) {
	cs.removeHTLC(owner, msatoshis, satoshiValue, dust, owner)
}

// removeHTLC is the shared implementation of FulfillHTLC/FailHTLC:
// credited receives the HTLC's value back, and the owning side's HTLC
// count (dust or not) is decremented.
func (cs *ChannelState) removeHTLC(owner Owner, msatoshis, satoshiValue uint64, dust DustLimiter, credited Owner) {
	if dust == nil {
		dust = DefaultDustLimit
	}

	owning := &cs.Local
	if owner == Remote {
		owning = &cs.Remote
	}
	creditedSide := &cs.Local
	if credited == Remote {
		creditedSide = &cs.Remote
	}

	if !dust.IsDust(satoshiValue) {
		cs.NumNondustHTLCs--
	}
	owning.NumHTLCs--

	if owning == creditedSide {
		// FailHTLC: the offering side gets its own HTLC value back.
		owning.PayMsat += owning.FeeMsat + msatoshis
		owning.FeeMsat = 0
	} else {
		// FulfillHTLC: the two sides are distinct, fold each one's
		// outstanding fee back into its own balance before crediting
		// the HTLC value to the receiving side.
		creditedSide.PayMsat += creditedSide.FeeMsat + msatoshis
		creditedSide.FeeMsat = 0
		owning.PayMsat += owning.FeeMsat
		owning.FeeMsat = 0
	}

	cs.recomputeFee()
}
