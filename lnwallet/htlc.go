package lnwallet

import (
	"crypto/sha256"
	"fmt"
)

// HTLCState is a position in the 20-state machine (four five-state
// ladders) of spec.md §3. Only the
// transitions wired up in legalNext are ever permitted; attempting any
// other move is a programming error, not a recoverable one.
type HTLCState uint8

const (
	// Offered locally.
	StateSentAddHTLC HTLCState = iota
	StateSentAddCommit
	StateRcvdAddRevocation
	StateRcvdAddAckCommit
	StateSentAddAckRevocation

	// Offered by the counterparty.
	StateRcvdAddHTLC
	StateRcvdAddCommit
	StateSentAddRevocation
	StateSentAddAckCommit
	StateRcvdAddAckRevocation

	// Removal, mirroring the add ladders.
	StateSentRemoveHTLC
	StateSentRemoveCommit
	StateRcvdRemoveRevocation
	StateRcvdRemoveAckCommit
	StateSentRemoveAckRevocation

	StateRcvdRemoveHTLC
	StateRcvdRemoveCommit
	StateSentRemoveRevocation
	StateSentRemoveAckCommit
	StateRcvdRemoveAckRevocation
)

var stateNames = map[HTLCState]string{
	StateSentAddHTLC:            "SENT_ADD_HTLC",
	StateSentAddCommit:          "SENT_ADD_COMMIT",
	StateRcvdAddRevocation:      "RCVD_ADD_REVOCATION",
	StateRcvdAddAckCommit:       "RCVD_ADD_ACK_COMMIT",
	StateSentAddAckRevocation:   "SENT_ADD_ACK_REVOCATION",
	StateRcvdAddHTLC:            "RCVD_ADD_HTLC",
	StateRcvdAddCommit:          "RCVD_ADD_COMMIT",
	StateSentAddRevocation:      "SENT_ADD_REVOCATION",
	StateSentAddAckCommit:       "SENT_ADD_ACK_COMMIT",
	StateRcvdAddAckRevocation:   "RCVD_ADD_ACK_REVOCATION",
	StateSentRemoveHTLC:         "SENT_REMOVE_HTLC",
	StateSentRemoveCommit:       "SENT_REMOVE_COMMIT",
	StateRcvdRemoveRevocation:   "RCVD_REMOVE_REVOCATION",
	StateRcvdRemoveAckCommit:    "RCVD_REMOVE_ACK_COMMIT",
	StateSentRemoveAckRevocation: "SENT_REMOVE_ACK_REVOCATION",
	StateRcvdRemoveHTLC:         "RCVD_REMOVE_HTLC",
	StateRcvdRemoveCommit:       "RCVD_REMOVE_COMMIT",
	StateSentRemoveRevocation:   "SENT_REMOVE_REVOCATION",
	StateSentRemoveAckCommit:    "SENT_REMOVE_ACK_COMMIT",
	StateRcvdRemoveAckRevocation: "RCVD_REMOVE_ACK_REVOCATION",
}

func (s HTLCState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("HTLCState(%d)", uint8(s))
}

// legalNext enumerates, for each state, the single state a transition may
// advance to. The ladders of spec.md §3 are linear, so each state has at
// most one legal successor; a state with none is terminal
// (*_ACK_REVOCATION).
var legalNext = map[HTLCState]HTLCState{
	StateSentAddHTLC:          StateSentAddCommit,
	StateSentAddCommit:        StateRcvdAddRevocation,
	StateRcvdAddRevocation:    StateRcvdAddAckCommit,
	StateRcvdAddAckCommit:     StateSentAddAckRevocation,

	StateRcvdAddHTLC:       StateRcvdAddCommit,
	StateRcvdAddCommit:     StateSentAddRevocation,
	StateSentAddRevocation: StateSentAddAckCommit,
	StateSentAddAckCommit:  StateRcvdAddAckRevocation,

	StateSentRemoveHTLC:       StateSentRemoveCommit,
	StateSentRemoveCommit:     StateRcvdRemoveRevocation,
	StateRcvdRemoveRevocation: StateRcvdRemoveAckCommit,
	StateRcvdRemoveAckCommit:  StateSentRemoveAckRevocation,

	StateRcvdRemoveHTLC:       StateRcvdRemoveCommit,
	StateRcvdRemoveCommit:     StateSentRemoveRevocation,
	StateSentRemoveRevocation: StateSentRemoveAckCommit,
	StateSentRemoveAckCommit:  StateRcvdRemoveAckRevocation,
}

// IsTerminal reports whether s is one of the four *_ACK_REVOCATION states
// where both sides have fully committed (or fully resolved) the HTLC.
func (s HTLCState) IsTerminal() bool {
	switch s {
	case StateSentAddAckRevocation, StateRcvdAddAckRevocation,
		StateSentRemoveAckRevocation, StateRcvdRemoveAckRevocation:
		return true
	}
	return false
}

// WasCommittedLocally and CommittedLocally implement the two derivable
// flag bits of spec.md §3 for the LOCAL commitment chain: whether the
// HTLC has ever appeared, and whether it currently appears, in a
// commitment we hold.
func (s HTLCState) WasCommittedLocally() bool {
	switch s {
	case StateSentAddCommit, StateRcvdAddRevocation, StateRcvdAddAckCommit, StateSentAddAckRevocation,
		StateRcvdAddCommit, StateSentAddRevocation, StateSentAddAckCommit, StateRcvdAddAckRevocation,
		StateSentRemoveHTLC, StateSentRemoveCommit, StateRcvdRemoveRevocation, StateRcvdRemoveAckCommit,
		StateRcvdRemoveHTLC, StateRcvdRemoveCommit, StateSentRemoveRevocation, StateSentRemoveAckCommit:
		return true
	}
	return false
}

// CommittedLocally reports whether the HTLC is present in the current
// local commitment — true from the point it's first signed locally
// until its removal is locally acked.
func (s HTLCState) CommittedLocally() bool {
	return s.WasCommittedLocally() && !s.removalAckedLocally()
}

func (s HTLCState) removalAckedLocally() bool {
	return s.IsRemovalAcked()
}

// IsRemovalAcked reports whether both sides have revocation-acked this
// HTLC's removal, the point at which persistence can drop its row
// (spec.md §4.6).
func (s HTLCState) IsRemovalAcked() bool {
	switch s {
	case StateSentRemoveAckRevocation, StateRcvdRemoveAckRevocation:
		return true
	}
	return false
}

// ErrIllegalTransition is a fatal programming error: the caller asked for
// a state move that spec.md §3's ladders do not permit.
type ErrIllegalTransition struct {
	From, To HTLCState
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("htlc: illegal transition %s -> %s", e.From, e.To)
}

// Advance moves an HTLC's state to its one legal successor, or panics:
// per spec.md §4.2, a non-adjacent transition attempt is a fatal
// programming error, never a recoverable one.
func Advance(from HTLCState) HTLCState {
	to, ok := legalNext[from]
	if !ok {
		panic(&ErrIllegalTransition{From: from, To: from})
	}
	return to
}

// CheckTransition validates a proposed from->to move without applying it,
// for callers (e.g. persistence replay) that want an error instead of a
// panic.
func CheckTransition(from, to HTLCState) error {
	want, ok := legalNext[from]
	if !ok || want != to {
		return &ErrIllegalTransition{From: from, To: to}
	}
	return nil
}

// HTLC is one conditional payment as described in spec.md §3.
type HTLC struct {
	ID        uint64
	Owner     Owner
	Msatoshis uint64
	RHash     [32]byte
	Expiry    uint32 // absolute block height
	Routing   []byte
	State     HTLCState

	// Preimage is set once the payment is fulfilled.
	Preimage     [32]byte
	HasPreimage  bool

	// Upstream identifies the (peer, htlc id) this HTLC forwards to or
	// from on another channel of the same process; it is a lookup key,
	// never an owning pointer (spec.md §3 "Ownership").
	UpstreamPeer string
	UpstreamID   uint64
	HasUpstream  bool
}

// SatoshiValue returns the HTLC's value rounded down to whole satoshis,
// the quantity a DustLimiter compares against.
func (h *HTLC) SatoshiValue() uint64 {
	return h.Msatoshis / 1000
}

// VerifyPreimage reports whether preimage hashes to h.RHash.
func (h *HTLC) VerifyPreimage(preimage [32]byte) bool {
	sum := sha256.Sum256(preimage[:])
	return sum == h.RHash
}

// Registry is the per-channel collection of HTLCs keyed by (owner, id),
// spec.md §4.2.
type Registry struct {
	byOwner map[Owner]map[uint64]*HTLC
	nextID  uint64
}

// NewRegistry returns an empty HTLC registry.
func NewRegistry() *Registry {
	return &Registry{
		byOwner: map[Owner]map[uint64]*HTLC{
			Local:  {},
			Remote: {},
		},
	}
}

// NewHTLC allocates and stores a new HTLC. For owner Local, id is drawn
// from this registry's monotonic counter (spec.md §3: "owner-LOCAL ids
// are allocated from a per-peer monotonic counter"); for owner Remote,
// id must be supplied by the caller (it was assigned by the counterparty).
func (r *Registry) NewHTLC(owner Owner, id uint64, msatoshis uint64, rhash [32]byte, expiry uint32, routing []byte, state HTLCState) (*HTLC, error) {
	if owner == Local {
		id = r.nextID
	}
	if _, exists := r.byOwner[owner][id]; exists {
		return nil, fmt.Errorf("htlc: id %d already present for owner %s", id, owner)
	}

	h := &HTLC{
		ID:        id,
		Owner:     owner,
		Msatoshis: msatoshis,
		RHash:     rhash,
		Expiry:    expiry,
		Routing:   routing,
		State:     state,
	}
	r.byOwner[owner][id] = h

	if owner == Local {
		r.nextID++
	} else if id >= r.nextID {
		// Remote ids do not advance the local counter: ids are only
		// unique per owner.
	}

	return h, nil
}

// Get returns the HTLC at (owner, id), or nil if absent.
func (r *Registry) Get(owner Owner, id uint64) *HTLC {
	return r.byOwner[owner][id]
}

// Has reports whether (owner, id) is present, used by ADD_HTLC
// validation (spec.md §4.5: "id is not already present on the receive
// side").
func (r *Registry) Has(owner Owner, id uint64) bool {
	_, ok := r.byOwner[owner][id]
	return ok
}

// Delete removes an HTLC once both sides have revocation-acked its
// removal.
func (r *Registry) Delete(owner Owner, id uint64) {
	delete(r.byOwner[owner], id)
}

// ForEach iterates every HTLC in the registry in no particular order.
func (r *Registry) ForEach(fn func(*HTLC)) {
	for _, side := range r.byOwner {
		for _, h := range side {
			fn(h)
		}
	}
}

// CountOffered returns the number of live HTLCs currently offered by
// owner, used to enforce the 300-HTLC cap of spec.md §4.5.
func (r *Registry) CountOffered(owner Owner) int {
	return len(r.byOwner[owner])
}

// RestoreHTLC inserts a fully-formed HTLC directly, bypassing id
// allocation. Used only by restart reconstruction, which is replaying
// HTLCs that already have their durable ids and states.
func (r *Registry) RestoreHTLC(h *HTLC) {
	r.byOwner[h.Owner][h.ID] = h
}

// NextLocalID previews the id the next Local HTLC will receive.
func (r *Registry) NextLocalID() uint64 {
	return r.nextID
}

// SetNextLocalID restores the monotonic counter on restart so replay
// resumes exactly where it left off (spec.md §8's restart-equivalence
// property).
func (r *Registry) SetNextLocalID(id uint64) {
	r.nextID = id
}
