package lnwire

import (
	"fmt"
	"io"
)

// AnchorOffer indicates which side of a channel will fund the anchor.
type AnchorOffer uint8

const (
	// WillCreate indicates the sender will create (fund) the anchor.
	WillCreate AnchorOffer = iota

	// WontCreate indicates the sender expects the counterparty to fund
	// the anchor.
	WontCreate
)

// Open is the first packet of the funding workflow (§4.5, §6). It carries
// the fields every acceptor validation in §4.5 checks against config.
type Open struct {
	ChanID ChannelID

	// AnchorOffer indicates whether the sender intends to fund the
	// anchor.
	AnchorOffer AnchorOffer

	// DelayBlocks is the relative locktime, in blocks, the sender
	// requires of their own delayed outputs.
	DelayBlocks uint32

	// MinDepth is the number of confirmations the sender requires of
	// the anchor before treating the channel as usable.
	MinDepth uint32

	// InitialFeeRate is the initial fee rate, in satoshis per 1000
	// bytes, proposed for the first commitment.
	InitialFeeRate uint64

	CommitKey [33]byte
	FinalKey  [33]byte

	RevocationHash [32]byte
}

var _ Message = (*Open)(nil)

func (c *Open) Decode(r io.Reader, pver uint32) error {
	var anchorOffer uint8
	if err := readElements(r,
		&c.ChanID,
		&anchorOffer,
		&c.DelayBlocks,
		&c.MinDepth,
		&c.InitialFeeRate,
		c.CommitKey[:],
		c.FinalKey[:],
		c.RevocationHash[:],
	); err != nil {
		return err
	}
	c.AnchorOffer = AnchorOffer(anchorOffer)
	return nil
}

func (c *Open) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.ChanID,
		uint8(c.AnchorOffer),
		c.DelayBlocks,
		c.MinDepth,
		c.InitialFeeRate,
		c.CommitKey[:],
		c.FinalKey[:],
		c.RevocationHash[:],
	)
}

func (c *Open) MsgType() MessageType { return MsgOpen }

func (c *Open) MaxPayloadLength(uint32) uint32 {
	return 8 + 1 + 4 + 4 + 8 + 33 + 33 + 32
}

func (c *Open) Validate() error {
	if c.CommitKey == ([33]byte{}) {
		return fmt.Errorf("commit key must be set")
	}
	return nil
}

// OpenAnchor follows Open, naming the on-chain anchor output once the
// funder has selected it.
type OpenAnchor struct {
	ChanID ChannelID

	TxID [32]byte

	OutputIndex uint32

	AmountSatoshis uint64
}

var _ Message = (*OpenAnchor)(nil)

func (c *OpenAnchor) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, c.TxID[:], &c.OutputIndex, &c.AmountSatoshis)
}

func (c *OpenAnchor) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.TxID[:], c.OutputIndex, c.AmountSatoshis)
}

func (c *OpenAnchor) MsgType() MessageType { return MsgOpenAnchor }

func (c *OpenAnchor) MaxPayloadLength(uint32) uint32 { return 8 + 32 + 4 + 8 }

func (c *OpenAnchor) Validate() error { return nil }

// OpenCommitSig carries the counterparty's signature over the funder's
// initial commitment transaction.
type OpenCommitSig struct {
	ChanID ChannelID

	CommitSig [64]byte
}

var _ Message = (*OpenCommitSig)(nil)

func (c *OpenCommitSig) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, c.CommitSig[:])
}

func (c *OpenCommitSig) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.CommitSig[:])
}

func (c *OpenCommitSig) MsgType() MessageType { return MsgOpenCommitSig }

func (c *OpenCommitSig) MaxPayloadLength(uint32) uint32 { return 8 + 64 }

func (c *OpenCommitSig) Validate() error {
	if c.CommitSig == ([64]byte{}) {
		return fmt.Errorf("commit sig must be set")
	}
	return nil
}

// OpenComplete is sent by each side once the anchor has reached the
// counterparty's required minimum depth, moving the channel to NORMAL.
type OpenComplete struct {
	ChanID ChannelID
}

var _ Message = (*OpenComplete)(nil)

func (c *OpenComplete) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID)
}

func (c *OpenComplete) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID)
}

func (c *OpenComplete) MsgType() MessageType { return MsgOpenComplete }

func (c *OpenComplete) MaxPayloadLength(uint32) uint32 { return 8 }

func (c *OpenComplete) Validate() error { return nil }

// UpdateAddHTLC proposes a new HTLC on the receiving side's staging
// commitment.
type UpdateAddHTLC struct {
	ChanID ChannelID

	ID uint64

	AmountMSat uint64

	RHash [32]byte

	// Expiry is an absolute block height, not a relative delta or a time
	// in seconds (§4.5).
	Expiry uint32

	Routing []byte
}

var _ Message = (*UpdateAddHTLC)(nil)

func (c *UpdateAddHTLC) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r,
		&c.ChanID, &c.ID, &c.AmountMSat, c.RHash[:], &c.Expiry,
	); err != nil {
		return err
	}
	routing, err := readVarBytes(r)
	if err != nil {
		return err
	}
	c.Routing = routing
	return nil
}

func (c *UpdateAddHTLC) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w,
		c.ChanID, c.ID, c.AmountMSat, c.RHash[:], c.Expiry,
	); err != nil {
		return err
	}
	return writeVarBytes(w, c.Routing)
}

func (c *UpdateAddHTLC) MsgType() MessageType { return MsgUpdateAddHTLC }

func (c *UpdateAddHTLC) MaxPayloadLength(uint32) uint32 {
	return 8 + 8 + 8 + 32 + 4 + 4 + MaxMessagePayload
}

func (c *UpdateAddHTLC) Validate() error {
	if c.AmountMSat == 0 {
		return fmt.Errorf("Invalid amount_msat")
	}
	return nil
}

// UpdateFulfillHTLC settles a previously added HTLC by revealing its
// preimage.
type UpdateFulfillHTLC struct {
	ChanID ChannelID

	ID uint64

	PaymentPreimage [32]byte
}

var _ Message = (*UpdateFulfillHTLC)(nil)

func (c *UpdateFulfillHTLC) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.ID, c.PaymentPreimage[:])
}

func (c *UpdateFulfillHTLC) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.ID, c.PaymentPreimage[:])
}

func (c *UpdateFulfillHTLC) MsgType() MessageType { return MsgUpdateFulfillHTLC }

func (c *UpdateFulfillHTLC) MaxPayloadLength(uint32) uint32 { return 8 + 8 + 32 }

func (c *UpdateFulfillHTLC) Validate() error { return nil }

// FailReason identifies why an HTLC failed. Opaque carries an upstream
// failure blob through verbatim, for the case where this node is only a
// forwarding hop (Open Question (a)).
type FailReason uint8

const (
	FailIncorrectPaymentAmount FailReason = iota
	FailUnknownPaymentHash
	FailTemporaryChannelFailure
	FailPermanentChannelFailure
	FailExpiryTooSoon
	FailOpaque
)

// UpdateFailHTLC fails a previously added HTLC.
type UpdateFailHTLC struct {
	ChanID ChannelID

	ID uint64

	Reason FailReason

	// OpaqueReason carries a verbatim upstream failure blob when Reason
	// is FailOpaque.
	OpaqueReason []byte
}

var _ Message = (*UpdateFailHTLC)(nil)

func (c *UpdateFailHTLC) Decode(r io.Reader, pver uint32) error {
	var reason uint8
	if err := readElements(r, &c.ChanID, &c.ID, &reason); err != nil {
		return err
	}
	c.Reason = FailReason(reason)
	opaque, err := readVarBytes(r)
	if err != nil {
		return err
	}
	c.OpaqueReason = opaque
	return nil
}

func (c *UpdateFailHTLC) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w, c.ChanID, c.ID, uint8(c.Reason)); err != nil {
		return err
	}
	return writeVarBytes(w, c.OpaqueReason)
}

func (c *UpdateFailHTLC) MsgType() MessageType { return MsgUpdateFailHTLC }

func (c *UpdateFailHTLC) MaxPayloadLength(uint32) uint32 { return 8 + 8 + 1 + MaxMessagePayload }

func (c *UpdateFailHTLC) Validate() error { return nil }

// UpdateFee changes the fee rate used on both sides' staging cstates
// (§9's supplemented fee-rate packet).
type UpdateFee struct {
	ChanID ChannelID

	FeeRate uint64
}

var _ Message = (*UpdateFee)(nil)

func (c *UpdateFee) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.FeeRate)
}

func (c *UpdateFee) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.FeeRate)
}

func (c *UpdateFee) MsgType() MessageType { return MsgUpdateFee }

func (c *UpdateFee) MaxPayloadLength(uint32) uint32 { return 8 + 8 }

func (c *UpdateFee) Validate() error { return nil }

// UpdateCommit signs the counterparty's next commitment, advancing every
// HTLC currently in a SENT_*_HTLC or SENT_*_REVOCATION state one step
// (§4.4 step 2).
type UpdateCommit struct {
	ChanID ChannelID

	CommitSig [64]byte
}

var _ Message = (*UpdateCommit)(nil)

func (c *UpdateCommit) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, c.CommitSig[:])
}

func (c *UpdateCommit) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.CommitSig[:])
}

func (c *UpdateCommit) MsgType() MessageType { return MsgUpdateCommit }

func (c *UpdateCommit) MaxPayloadLength(uint32) uint32 { return 8 + 64 }

func (c *UpdateCommit) Validate() error {
	if c.CommitSig == ([64]byte{}) {
		return fmt.Errorf("commit sig must be set")
	}
	return nil
}

// UpdateRevocation reveals the preimage that revokes the previous
// commitment and advertises the hash that will revoke the next one
// (§4.4 step 3).
type UpdateRevocation struct {
	ChanID ChannelID

	Preimage [32]byte

	NextRevocationHash [32]byte
}

var _ Message = (*UpdateRevocation)(nil)

func (c *UpdateRevocation) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, c.Preimage[:], c.NextRevocationHash[:])
}

func (c *UpdateRevocation) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.Preimage[:], c.NextRevocationHash[:])
}

func (c *UpdateRevocation) MsgType() MessageType { return MsgUpdateRevocation }

func (c *UpdateRevocation) MaxPayloadLength(uint32) uint32 { return 8 + 32 + 32 }

func (c *UpdateRevocation) Validate() error { return nil }

// CloseShutdown begins a cooperative close, proposing the sender's final
// delivery script.
type CloseShutdown struct {
	ChanID ChannelID

	Script []byte
}

var _ Message = (*CloseShutdown)(nil)

func (c *CloseShutdown) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r, &c.ChanID); err != nil {
		return err
	}
	script, err := readVarBytes(r)
	if err != nil {
		return err
	}
	c.Script = script
	return nil
}

func (c *CloseShutdown) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w, c.ChanID); err != nil {
		return err
	}
	return writeVarBytes(w, c.Script)
}

func (c *CloseShutdown) MsgType() MessageType { return MsgCloseShutdown }

func (c *CloseShutdown) MaxPayloadLength(uint32) uint32 { return 8 + MaxMessagePayload }

func (c *CloseShutdown) Validate() error { return nil }

// CloseSignature proposes a closing fee and signs the resulting
// cooperative close transaction.
type CloseSignature struct {
	ChanID ChannelID

	FeeSatoshis uint64

	Sig [64]byte
}

var _ Message = (*CloseSignature)(nil)

func (c *CloseSignature) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.FeeSatoshis, c.Sig[:])
}

func (c *CloseSignature) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.FeeSatoshis, c.Sig[:])
}

func (c *CloseSignature) MsgType() MessageType { return MsgCloseSignature }

func (c *CloseSignature) MaxPayloadLength(uint32) uint32 { return 8 + 8 + 64 }

func (c *CloseSignature) Validate() error { return nil }

// Error carries a human-readable problem description. Receiving one ends
// the channel: the peer disconnects and the channel is marked closed. The
// Error packets this daemon sends when it rejects an inbound packet do not
// end the channel; it stays open after them.
type Error struct {
	ChanID ChannelID

	Problem string
}

var _ Message = (*Error)(nil)

func (c *Error) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r, &c.ChanID); err != nil {
		return err
	}
	problem, err := readVarBytes(r)
	if err != nil {
		return err
	}
	c.Problem = string(problem)
	return nil
}

func (c *Error) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w, c.ChanID); err != nil {
		return err
	}
	return writeVarBytes(w, []byte(c.Problem))
}

func (c *Error) MsgType() MessageType { return MsgError }

func (c *Error) MaxPayloadLength(uint32) uint32 { return 8 + MaxMessagePayload }

func (c *Error) Validate() error { return nil }

// NewErrorPacket builds an Error packet for the given channel and problem
// description, the standard return value of a failed packet acceptor.
func NewErrorPacket(chanID ChannelID, problem string) *Error {
	return &Error{ChanID: chanID, Problem: problem}
}

// Reconnect is sent immediately upon reestablishing the transport. Ack is
// the highest order stamp of the sender's current local and remote
// commitments, so the counterparty knows which packets to retransmit
// (§4.4 "Ordering"). LastCommitSecret is the revocation preimage the
// sender's shachain holds for the counterparty's commitment one below its
// current commit_num (all zeros when there is none), letting the receiver confirm both
// sides agree on history before trusting Ack (§9's reestablish taxonomy).
type Reconnect struct {
	ChanID ChannelID

	Ack uint64

	LastCommitSecret [32]byte
}

var _ Message = (*Reconnect)(nil)

func (c *Reconnect) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.Ack, c.LastCommitSecret[:])
}

func (c *Reconnect) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.Ack, c.LastCommitSecret[:])
}

func (c *Reconnect) MsgType() MessageType { return MsgReconnect }

func (c *Reconnect) MaxPayloadLength(uint32) uint32 { return 8 + 8 + 32 }

func (c *Reconnect) Validate() error { return nil }
