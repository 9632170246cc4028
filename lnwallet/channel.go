package lnwallet

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/asoltys/lightning/shachain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrChanClosing is returned when a caller attempts to mutate a
	// channel that has already moved to CLOSED.
	ErrChanClosing = fmt.Errorf("channel is being closed, operation disallowed")

	// ErrInsufficientBalance is returned when a proposed HTLC or fee
	// change would exceed the available balance.
	ErrInsufficientBalance = fmt.Errorf("insufficient local balance")

	// ErrMaxHTLCNumber is returned when a proposed HTLC would push the
	// offering side over the 300-HTLC cap of spec.md §4.5.
	ErrMaxHTLCNumber = fmt.Errorf("commitment would exceed max htlc number")

	// ErrDuplicateHTLCID is returned when an inbound ADD_HTLC reuses an
	// id already present on the receiving side.
	ErrDuplicateHTLCID = fmt.Errorf("htlc id already present")

	// ErrNoPendingRevocation is returned when a REVOCATION arrives but
	// we have no outstanding their_prev_revocation_hash to check it
	// against.
	ErrNoPendingRevocation = fmt.Errorf("no revocation currently pending")

	// ErrInvalidRevocationPreimage is returned when a REVOCATION's
	// preimage does not hash to the expected their_prev_revocation_hash.
	ErrInvalidRevocationPreimage = fmt.Errorf("revocation preimage does not match expected hash")

	// ErrHTLCNotFound is returned when a FULFILL or FAIL references an
	// id not present on the expected side.
	ErrHTLCNotFound = fmt.Errorf("htlc not found")

	// ErrHTLCWrongState is returned when a FULFILL or FAIL arrives for
	// an HTLC that isn't yet SENT_ADD_ACK_REVOCATION (spec.md §4.5).
	ErrHTLCWrongState = fmt.Errorf("htlc is not in a fulfillable/failable state")

	// ErrPreimageMismatch is returned when a FULFILL's preimage doesn't
	// hash to the HTLC's rhash.
	ErrPreimageMismatch = fmt.Errorf("preimage does not match htlc rhash")

	// ErrInvalidLastCommitSecret is returned when a counterparty's
	// reestablish message discloses a commit secret that doesn't match
	// the one we last received.
	ErrInvalidLastCommitSecret = fmt.Errorf("commit secret is incorrect")

	// ErrCommitSyncDataLoss is returned when a counterparty's
	// reestablish advertises a commit height beyond what we have
	// recorded, meaning we may have lost state.
	ErrCommitSyncDataLoss = fmt.Errorf("possible commitment state data loss")
)

// channelStatus tracks the lifecycle of spec.md §3: a channel is created
// when OPEN is exchanged, moves through anchor-pending states to NORMAL,
// then optionally SHUTDOWN and CLOSED.
type channelStatus uint8

const (
	statusPendingOpen channelStatus = iota
	statusPendingAnchor
	statusNormal
	statusShutdown
	statusClosed
)

// CommitInfo is a snapshot of one commitment in a chain, spec.md §3.
type CommitInfo struct {
	CommitNum      uint64
	RevocationHash [32]byte
	Order          uint64
	Sig            []byte // counterparty's signature over this commitment, if received
	State          *ChannelState

	// TxID is a reference to the built commitment transaction. Actual
	// transaction construction and signing are external-collaborator
	// concerns (spec.md §1); this is the opaque handle the chain watcher
	// and persistence layer key off of.
	TxID chainhash.Hash
}

// PeerChannelConfig holds the long-term, slowly-changing parameters one
// side of a channel advertised at open time (spec.md §3's "local and
// remote sides").
type PeerChannelConfig struct {
	CommitKey          [33]byte
	FinalKey           [33]byte
	RelativeLocktime   uint32
	MinDepth           uint32
	FeeRate            uint64
	NextRevocationHash [32]byte
}

// ClosingState tracks a channel's cooperative-close negotiation,
// spec.md §3.
type ClosingState struct {
	OurFee        uint64
	TheirFee      uint64
	TheirSig      []byte
	OurScript     []byte
	TheirScript   []byte
	ShutdownOrder uint64
	ClosingOrder  uint64
	SigsIn        uint32
}

// Channel implements the per-peer Commitment/Revocation Engine of
// spec.md §4.4: it owns the pair of commitment chains and staging
// cstates, the HTLC registry, and the shachain store, and is the only
// component permitted to mutate any of them (spec.md §2).
//
// The engine has four main entry points, one per protocol event:
//   - ProposeHTLC / ProposeFulfill / ProposeFail: a local command
//     mutates both staging cstates and moves the HTLC to SENT_*_HTLC.
//   - SendCommit: we emit UPDATE_COMMIT, minting a new remote.commit.
//   - ReceiveCommit: their UPDATE_COMMIT arrives, minting a new
//     local.commit and producing our own revocation reply.
//   - ReceiveRevocation: their UPDATE_REVOCATION arrives, accepted iff
//     it matches their_prev_revocation_hash.
//
// See the individual method comments for the state-machine detail.
type Channel struct {
	sync.RWMutex

	status channelStatus

	AnchorSatoshis btcutil.Amount
	Funder         Owner

	Local  PeerChannelConfig
	Remote PeerChannelConfig

	dustLimit DustLimiter

	localStaging  *ChannelState
	remoteStaging *ChannelState

	localCommit  *CommitInfo
	remoteCommit *CommitInfo

	// theirPrevRevocationHash is the "hack where we temporarily store
	// their previous revocation hash" (spec.md §9): the verification
	// witness for the next REVOCATION we expect from the counterparty.
	// It is populated by SendCommit and consumed by ReceiveRevocation.
	theirPrevRevocationHash    [32]byte
	haveTheirPrevRevocationHash bool

	// revocationSeed derives every local revocation preimage we will
	// ever disclose, deterministically by commit_num (spec.md §4.4).
	revocationSeed [32]byte

	htlcs    *Registry
	shachain *shachain.Store

	// lastRevocation caches the preimage/next-hash pair most recently
	// returned by ReceiveCommit, so a RECONNECT that finds the peer
	// missing our last REVOCATION can retransmit it (spec.md §4.4's
	// "resend in order any packets with order>ack").
	lastRevocationPreimage [32]byte
	lastRevocationNextHash [32]byte
	haveLastRevocation     bool

	orderCounter uint64

	closing *ClosingState

	quit chan struct{}
}

// NewChannel constructs a Channel immediately after a successful OPEN
// exchange, with no HTLCs and commit_num 0 on both chains.
func NewChannel(anchorSatoshis btcutil.Amount, funder Owner, local, remote PeerChannelConfig, revocationSeed [32]byte, dustLimit DustLimiter) (*Channel, error) {
	if dustLimit == nil {
		dustLimit = DefaultDustLimit
	}

	feeRate := local.FeeRate
	localCS, err := Initial(anchorSatoshis, feeRate, funder)
	if err != nil {
		return nil, err
	}
	remoteCS := localCS.Copy()

	c := &Channel{
		status:         statusPendingOpen,
		AnchorSatoshis: anchorSatoshis,
		Funder:         funder,
		Local:          local,
		Remote:         remote,
		dustLimit:      dustLimit,
		localStaging:   localCS,
		remoteStaging:  remoteCS,
		revocationSeed: revocationSeed,
		htlcs:          NewRegistry(),
		shachain:       shachain.NewStore(),
		quit:           make(chan struct{}),
	}

	c.localCommit = &CommitInfo{
		CommitNum:      0,
		RevocationHash: c.ourRevocationHash(0),
		State:          localCS.Copy(),
	}
	c.remoteCommit = &CommitInfo{
		CommitNum:      0,
		RevocationHash: remote.NextRevocationHash,
		State:          remoteCS.Copy(),
	}

	return c, nil
}

// RestoredHTLC is one row of replay input to RestoreChannel: a fully
// resolved HTLC snapshot as read back from durable storage, in the shape
// the persistence layer's restart reconstruction (spec.md §4.6) already
// has on hand.
type RestoredHTLC struct {
	Owner     Owner
	ID        uint64
	Msatoshis uint64
	RHash     [32]byte
	Expiry    uint32
	Routing   []byte
	State     HTLCState

	Preimage    [32]byte
	HasPreimage bool

	UpstreamPeer string
	UpstreamID   uint64
	HasUpstream  bool
}

// RestoreConfig bundles everything the persistence layer has reconstructed
// for one peer after a restart (spec.md §4.6): both commitment chains,
// every outstanding HTLC, the shachain store, and the order counter.
type RestoreConfig struct {
	Status         channelStatus
	AnchorSatoshis btcutil.Amount
	Funder         Owner
	Local          PeerChannelConfig
	Remote         PeerChannelConfig
	RevocationSeed [32]byte
	DustLimit      DustLimiter

	LocalCommit  *CommitInfo
	RemoteCommit *CommitInfo

	HaveTheirPrevRevocationHash bool
	TheirPrevRevocationHash     [32]byte

	OrderCounter uint64
	NextLocalID  uint64

	HTLCs []RestoredHTLC

	Shachain *shachain.Store

	Closing *ClosingState
}

// RestoreChannel rebuilds a live Channel from what persistence read back
// at startup, instead of starting a fresh one at commit_num 0 (spec.md
// §4.6's restart-equivalence property: a restored channel behaves
// identically to one that never restarted).
func RestoreChannel(cfg RestoreConfig) *Channel {
	dustLimit := cfg.DustLimit
	if dustLimit == nil {
		dustLimit = DefaultDustLimit
	}

	htlcs := NewRegistry()
	for _, rh := range cfg.HTLCs {
		h := &HTLC{
			ID:           rh.ID,
			Owner:        rh.Owner,
			Msatoshis:    rh.Msatoshis,
			RHash:        rh.RHash,
			Expiry:       rh.Expiry,
			Routing:      rh.Routing,
			State:        rh.State,
			Preimage:     rh.Preimage,
			HasPreimage:  rh.HasPreimage,
			UpstreamPeer: rh.UpstreamPeer,
			UpstreamID:   rh.UpstreamID,
			HasUpstream:  rh.HasUpstream,
		}
		htlcs.RestoreHTLC(h)
	}
	htlcs.SetNextLocalID(cfg.NextLocalID)

	store := cfg.Shachain
	if store == nil {
		store = shachain.NewStore()
	}

	c := &Channel{
		status:                      cfg.Status,
		AnchorSatoshis:              cfg.AnchorSatoshis,
		Funder:                      cfg.Funder,
		Local:                       cfg.Local,
		Remote:                      cfg.Remote,
		dustLimit:                   dustLimit,
		localStaging:                cfg.LocalCommit.State.Copy(),
		remoteStaging:               cfg.RemoteCommit.State.Copy(),
		localCommit:                 cfg.LocalCommit,
		remoteCommit:                cfg.RemoteCommit,
		haveTheirPrevRevocationHash: cfg.HaveTheirPrevRevocationHash,
		theirPrevRevocationHash:     cfg.TheirPrevRevocationHash,
		revocationSeed:              cfg.RevocationSeed,
		htlcs:                       htlcs,
		shachain:                    store,
		orderCounter:                cfg.OrderCounter,
		closing:                     cfg.Closing,
		quit:                        make(chan struct{}),
	}

	return c
}

// MarkAnchorConfirmed transitions the channel to NORMAL once the chain
// watcher (an external collaborator) reports sufficient confirmations.
func (c *Channel) MarkAnchorConfirmed() {
	c.Lock()
	defer c.Unlock()
	c.status = statusNormal
}

// nextOrder returns the next retransmit-ordering counter value,
// spec.md §4.4.
func (c *Channel) nextOrder() uint64 {
	o := c.orderCounter
	c.orderCounter++
	return o
}

// RestoreOrderCounter sets the order counter after a restart, per
// spec.md §4.4's "order_counter = 1 + max(...)" reconstruction rule. The
// caller (persistence layer) computes the max across both commit chains
// and the closing state.
func (c *Channel) RestoreOrderCounter(value uint64) {
	c.Lock()
	defer c.Unlock()
	c.orderCounter = value
}

// ourRevocationPreimage deterministically derives the preimage we will
// reveal to revoke our commit_num-th local commitment (spec.md §4.4).
func (c *Channel) ourRevocationPreimage(commitNum uint64) [32]byte {
	var buf [40]byte
	copy(buf[:32], c.revocationSeed[:])
	binary.BigEndian.PutUint64(buf[32:], commitNum)
	return sha256.Sum256(buf[:])
}

// ourRevocationHash returns the hash of ourRevocationPreimage(commitNum),
// the value we disclose in advance as our "next_revocation_hash".
func (c *Channel) ourRevocationHash(commitNum uint64) [32]byte {
	p := c.ourRevocationPreimage(commitNum)
	return sha256.Sum256(p[:])
}

// checkLive returns ErrChanClosing once the channel is shutting down or
// closed, and nil otherwise.
func (c *Channel) checkLive() error {
	if c.status == statusClosed || c.status == statusShutdown {
		return ErrChanClosing
	}
	return nil
}

// ProposeHTLC is a local command to offer a new HTLC. It mutates both
// staging cstates and records the HTLC as SENT_ADD_HTLC (spec.md §4.4
// step 1). Returns ErrInsufficientBalance if the paying side (us)
// cannot afford it, per ChannelState.AddHTLC's add constraint.
func (c *Channel) ProposeHTLC(msatoshis uint64, rhash [32]byte, expiry uint32, routing []byte) (*HTLC, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return nil, err
	}
	if c.htlcs.CountOffered(Local) >= 300 {
		return nil, ErrMaxHTLCNumber
	}

	satVal := msatoshis / 1000

	localTrial := c.localStaging.Copy()
	if !localTrial.AddHTLC(Local, msatoshis, satVal, c.dustLimit) {
		return nil, ErrInsufficientBalance
	}
	remoteTrial := c.remoteStaging.Copy()
	if !remoteTrial.AddHTLC(Local, msatoshis, satVal, c.dustLimit) {
		return nil, ErrInsufficientBalance
	}

	h, err := c.htlcs.NewHTLC(Local, 0, msatoshis, rhash, expiry, routing, StateSentAddHTLC)
	if err != nil {
		return nil, err
	}

	c.localStaging = localTrial
	c.remoteStaging = remoteTrial

	log.Debugf("proposed htlc %d: %s", h.ID, spew.Sdump(h))
	return h, nil
}

// ProposeFulfill is a local command fulfilling a remotely-offered HTLC
// (owner Remote) that we hold the preimage for.
func (c *Channel) ProposeFulfill(id uint64, preimage [32]byte) error {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return err
	}

	h := c.htlcs.Get(Remote, id)
	if h == nil {
		return ErrHTLCNotFound
	}
	if !h.VerifyPreimage(preimage) {
		return ErrPreimageMismatch
	}

	c.localStaging.FulfillHTLC(Remote, h.Msatoshis, h.SatoshiValue(), c.dustLimit)
	c.remoteStaging.FulfillHTLC(Remote, h.Msatoshis, h.SatoshiValue(), c.dustLimit)

	h.Preimage = preimage
	h.HasPreimage = true
	h.State = StateSentRemoveHTLC
	return nil
}

// ProposeFail is a local command failing a remotely-offered HTLC.
func (c *Channel) ProposeFail(id uint64) error {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return err
	}

	h := c.htlcs.Get(Remote, id)
	if h == nil {
		return ErrHTLCNotFound
	}

	c.localStaging.FailHTLC(Remote, h.Msatoshis, h.SatoshiValue(), c.dustLimit)
	c.remoteStaging.FailHTLC(Remote, h.Msatoshis, h.SatoshiValue(), c.dustLimit)

	h.State = StateSentRemoveHTLC
	return nil
}

// ReceiveAddHTLC validates and applies an inbound UPDATE_ADD_HTLC per
// spec.md §4.5: amount_msat > 0, the id isn't already present, and the
// offered-to-us staging side would stay under the 300-HTLC cap.
func (c *Channel) ReceiveAddHTLC(id, msatoshis uint64, rhash [32]byte, expiry uint32, routing []byte) (*HTLC, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return nil, err
	}
	if msatoshis == 0 {
		return nil, fmt.Errorf("Invalid amount_msat")
	}
	if c.htlcs.Has(Remote, id) {
		return nil, ErrDuplicateHTLCID
	}
	if c.htlcs.CountOffered(Remote) >= 300 {
		return nil, ErrMaxHTLCNumber
	}

	satVal := msatoshis / 1000

	localTrial := c.localStaging.Copy()
	if !localTrial.AddHTLC(Remote, msatoshis, satVal, c.dustLimit) {
		return nil, ErrInsufficientBalance
	}
	remoteTrial := c.remoteStaging.Copy()
	if !remoteTrial.AddHTLC(Remote, msatoshis, satVal, c.dustLimit) {
		return nil, ErrInsufficientBalance
	}

	h, err := c.htlcs.NewHTLC(Remote, id, msatoshis, rhash, expiry, routing, StateRcvdAddHTLC)
	if err != nil {
		return nil, err
	}

	c.localStaging = localTrial
	c.remoteStaging = remoteTrial
	return h, nil
}

// ReceiveFulfillHTLC validates and applies an inbound
// UPDATE_FULFILL_HTLC per spec.md §4.5: the HTLC must be found on the
// LOCAL side (we offered it), in state SENT_ADD_ACK_REVOCATION, and the
// preimage must hash to its rhash.
func (c *Channel) ReceiveFulfillHTLC(id uint64, preimage [32]byte) (*HTLC, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return nil, err
	}

	h := c.htlcs.Get(Local, id)
	if h == nil {
		return nil, ErrHTLCNotFound
	}
	if h.HasPreimage {
		// Duplicate fulfill: reported, not an error (spec.md §4.5).
		return h, nil
	}
	if h.State != StateSentAddAckRevocation {
		return nil, ErrHTLCWrongState
	}
	if !h.VerifyPreimage(preimage) {
		return nil, ErrPreimageMismatch
	}

	c.localStaging.FulfillHTLC(Local, h.Msatoshis, h.SatoshiValue(), c.dustLimit)
	c.remoteStaging.FulfillHTLC(Local, h.Msatoshis, h.SatoshiValue(), c.dustLimit)

	h.Preimage = preimage
	h.HasPreimage = true
	h.State = StateRcvdRemoveHTLC
	return h, nil
}

// ReceiveFailHTLC validates and applies an inbound UPDATE_FAIL_HTLC,
// same lookup/state constraint as ReceiveFulfillHTLC.
func (c *Channel) ReceiveFailHTLC(id uint64) (*HTLC, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return nil, err
	}

	h := c.htlcs.Get(Local, id)
	if h == nil {
		return nil, ErrHTLCNotFound
	}
	if h.State != StateSentAddAckRevocation {
		return nil, ErrHTLCWrongState
	}

	c.localStaging.FailHTLC(Local, h.Msatoshis, h.SatoshiValue(), c.dustLimit)
	c.remoteStaging.FailHTLC(Local, h.Msatoshis, h.SatoshiValue(), c.dustLimit)

	h.State = StateRcvdRemoveHTLC
	return h, nil
}

// AdjustFee is a local command changing the fee rate, applied to both
// staging cstates identically so the next commitment built from either
// agrees (spec.md §4.4's fee-change note).
func (c *Channel) AdjustFee(feeRate uint64) {
	c.Lock()
	defer c.Unlock()
	c.localStaging.AdjustFee(feeRate)
	c.remoteStaging.AdjustFee(feeRate)
}

// advanceEvent moves every HTLC whose current state is in from to its
// legal successor. Used by the four protocol-event handlers below to
// apply spec.md §4.4's "every HTLC currently in ... advances one step"
// rule uniformly across the add and remove ladders.
func (c *Channel) advanceEvent(from ...HTLCState) {
	set := make(map[HTLCState]bool, len(from))
	for _, s := range from {
		set[s] = true
	}
	c.htlcs.ForEach(func(h *HTLC) {
		if set[h.State] {
			h.State = Advance(h.State)
		}
	})
}

// SendCommit mints a new remote.commit from remote.staging_cstate,
// following spec.md §4.4 step 2. The new commit's revocation_hash is
// c.Remote.NextRevocationHash, the value they disclosed in advance (via
// OPEN or the last REVOCATION).
func (c *Channel) SendCommit() (*CommitInfo, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return nil, err
	}

	// Event A: our locally-authored adds/removes move past their first
	// commit round, and anything already revocation-acked by us on the
	// received ladder becomes "ack committed" on our new commit too.
	c.advanceEvent(StateSentAddHTLC, StateSentRemoveHTLC, StateSentAddRevocation, StateSentRemoveRevocation)

	had := c.remoteCommit != nil
	var oldRevHash [32]byte
	newCommitNum := uint64(0)
	if had {
		oldRevHash = c.remoteCommit.RevocationHash
		newCommitNum = c.remoteCommit.CommitNum + 1
	}

	nc := &CommitInfo{
		CommitNum:      newCommitNum,
		RevocationHash: c.Remote.NextRevocationHash,
		Order:          c.nextOrder(),
		State:          c.remoteStaging.Copy(),
	}

	if had {
		c.theirPrevRevocationHash = oldRevHash
		c.haveTheirPrevRevocationHash = true
	}

	c.remoteCommit = nc
	return nc, nil
}

// ReceiveCommit handles an inbound UPDATE_COMMIT: verifies sig against
// our next local commitment built from local.staging_cstate, mints a
// new local.commit, and returns the revocation preimage for the
// previous local commitment plus our new next_revocation_hash to send
// back, per spec.md §4.4 step 4.
func (c *Channel) ReceiveCommit(sig []byte) (preimage [32]byte, nextRevocationHash [32]byte, err error) {
	c.Lock()
	defer c.Unlock()

	if err = c.checkLive(); err != nil {
		return
	}

	prevCommitNum := c.localCommit.CommitNum

	// Event C: remotely-offered HTLCs we haven't yet committed to
	// locally, and anything already revocation-acked on the offered
	// ladder, become part of our new local commitment.
	c.advanceEvent(StateRcvdAddHTLC, StateRcvdRemoveHTLC, StateRcvdAddRevocation, StateRcvdRemoveRevocation)

	c.localCommit = &CommitInfo{
		CommitNum:      prevCommitNum + 1,
		RevocationHash: c.ourRevocationHash(prevCommitNum + 1),
		Order:          c.nextOrder(),
		Sig:            sig,
		State:          c.localStaging.Copy(),
	}

	// Event D: reply with the revocation for the commitment we're
	// superseding.
	c.advanceEvent(StateRcvdAddCommit, StateRcvdRemoveCommit, StateRcvdAddAckCommit, StateRcvdRemoveAckCommit)

	preimage = c.ourRevocationPreimage(prevCommitNum)
	nextRevocationHash = c.ourRevocationHash(prevCommitNum + 2)
	c.lastRevocationPreimage = preimage
	c.lastRevocationNextHash = nextRevocationHash
	c.haveLastRevocation = true
	commitsReceived.Inc()
	return preimage, nextRevocationHash, nil
}

// LastRevocation returns the preimage/next-hash pair of the most
// recently produced REVOCATION reply, for RECONNECT retransmission.
func (c *Channel) LastRevocation() (preimage [32]byte, nextHash [32]byte, ok bool) {
	c.RLock()
	defer c.RUnlock()
	return c.lastRevocationPreimage, c.lastRevocationNextHash, c.haveLastRevocation
}

// ReceiveRevocation handles an inbound UPDATE_REVOCATION: accepted iff
// SHA256(preimage) == their_prev_revocation_hash, per spec.md §4.4 step
// 3. On success, preimage is stored in the shachain and their
// next_revocation_hash is updated for the following SendCommit.
func (c *Channel) ReceiveRevocation(preimage, nextHash [32]byte) error {
	c.Lock()
	defer c.Unlock()

	if err := c.checkLive(); err != nil {
		return err
	}
	if !c.haveTheirPrevRevocationHash {
		return ErrNoPendingRevocation
	}

	sum := sha256.Sum256(preimage[:])
	if sum != c.theirPrevRevocationHash {
		return ErrInvalidRevocationPreimage
	}

	index := shachain.RevocationIndex(c.remoteCommit.CommitNum - 1)
	if err := c.shachain.AddHash(index, preimage); err != nil {
		return err
	}

	c.haveTheirPrevRevocationHash = false
	c.theirPrevRevocationHash = [32]byte{}
	c.Remote.NextRevocationHash = nextHash

	// Event B: every HTLC waiting on this revocation (SENT_*_COMMIT and
	// SENT_*_ACK_COMMIT) advances one step on its ladder.
	c.advanceEvent(StateSentAddCommit, StateSentRemoveCommit, StateSentAddAckCommit, StateSentRemoveAckCommit)

	revocationsReceived.Inc()
	return nil
}

// Registry exposes the HTLC registry for callers that need direct
// iteration, such as the persistence layer replaying state on restart.
func (c *Channel) Registry() *Registry {
	return c.htlcs
}

// Shachain exposes the shachain store for persistence.
func (c *Channel) Shachain() *shachain.Store {
	return c.shachain
}

// LocalCommit and RemoteCommit return the current tip of each chain.
func (c *Channel) LocalCommit() *CommitInfo {
	c.RLock()
	defer c.RUnlock()
	return c.localCommit
}

func (c *Channel) RemoteCommit() *CommitInfo {
	c.RLock()
	defer c.RUnlock()
	return c.remoteCommit
}

// LocalStaging and RemoteStaging return copies of the current staging
// cstates, safe for the caller to inspect without locking further.
func (c *Channel) LocalStaging() *ChannelState {
	c.RLock()
	defer c.RUnlock()
	return c.localStaging.Copy()
}

func (c *Channel) RemoteStaging() *ChannelState {
	c.RLock()
	defer c.RUnlock()
	return c.remoteStaging.Copy()
}

// OrderCounter returns the current retransmit-ordering counter value.
func (c *Channel) OrderCounter() uint64 {
	c.RLock()
	defer c.RUnlock()
	return c.orderCounter
}

// InitiateShutdown begins a cooperative close, stamping ShutdownOrder.
func (c *Channel) InitiateShutdown(ourScript []byte) *ClosingState {
	c.Lock()
	defer c.Unlock()

	c.status = statusShutdown
	c.closing = &ClosingState{
		OurScript:     ourScript,
		ShutdownOrder: c.nextOrder(),
	}
	return c.closing
}

// MarkClosed transitions the channel to CLOSED, its terminal state.
func (c *Channel) MarkClosed() {
	c.Lock()
	defer c.Unlock()
	c.status = statusClosed
	close(c.quit)
}
