package main

import (
	"database/sql"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/asoltys/lightning/channeldb"
	"github.com/asoltys/lightning/lnwallet"
	"github.com/asoltys/lightning/lnwire"
	"github.com/asoltys/lightning/shachain"
	"github.com/davecgh/go-spew/spew"
	"github.com/go-errors/errors"
)

const (
	// outgoingQueueLen is the buffer size of the channel which houses
	// messages to be sent across the wire, requested by objects outside
	// this struct.
	outgoingQueueLen = 50
)

// outgoingMsg packages an lnwire.Message to be sent out on the wire,
// along with a buffered channel that is closed once the write completes.
type outgoingMsg struct {
	msg  lnwire.Message
	sent chan struct{} // MUST be buffered.
}

// peer is the Packet Acceptor/Producer of spec.md §2/§4.4: one per
// connected counterparty, owning that counterparty's Channel engine and
// the single goroutine permitted to mutate it. All state mutation of a
// given peer happens on this goroutine (spec.md §5); there is no
// inter-peer locking because peers are disjoint.
type peer struct {
	started    int32 // atomic
	disconnect int32 // atomic

	pubkey [33]byte
	conn   net.Conn

	chanID  lnwire.ChannelID
	channel *lnwallet.Channel

	db *channeldb.DB

	outgoingQueue chan outgoingMsg

	quit chan struct{}
	wg   sync.WaitGroup
}

// newPeer wraps an already-connected transport and channel engine. The
// channel may be freshly opened or restored from persistence; either way
// this peer's goroutines are its only mutator from here on.
func newPeer(pubkey [33]byte, conn net.Conn, channel *lnwallet.Channel, db *channeldb.DB) *peer {
	return &peer{
		pubkey:        pubkey,
		conn:          conn,
		channel:       channel,
		db:            db,
		outgoingQueue: make(chan outgoingMsg, outgoingQueueLen),
		quit:          make(chan struct{}),
	}
}

// Start launches the peer's read and write loops.
func (p *peer) Start() {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}
	p.wg.Add(2)
	go p.readHandler()
	go p.writeHandler()
}

// Disconnect tears down the peer's transport and signals its loops to
// exit, per spec.md §5's cancellation rule.
func (p *peer) Disconnect() {
	if !atomic.CompareAndSwapInt32(&p.disconnect, 0, 1) {
		return
	}
	close(p.quit)
	p.conn.Close()
	p.channel.MarkClosed()
}

// queueMsg enqueues msg for transmission without blocking the caller on
// the write itself.
func (p *peer) queueMsg(msg lnwire.Message) {
	select {
	case p.outgoingQueue <- outgoingMsg{msg: msg, sent: make(chan struct{}, 1)}:
	case <-p.quit:
	}
}

func (p *peer) writeHandler() {
	defer p.wg.Done()
	for {
		select {
		case out := <-p.outgoingQueue:
			if _, err := lnwire.WriteMessage(p.conn, out.msg, 0); err != nil {
				log.Errorf("peer %x: write failed: %v", p.pubkey, err)
				p.Disconnect()
				return
			}
			close(out.sent)
		case <-p.quit:
			return
		}
	}
}

// readHandler is the Packet Acceptor: packets within one peer are
// processed strictly in arrival order (spec.md §5), each translated into
// the corresponding lnwallet.Channel call and, on rejection, answered
// with an Error packet rather than tearing down the channel (a
// CapacityRejection, not a ProtocolViolation, per spec.md §7's taxonomy).
func (p *peer) readHandler() {
	defer p.wg.Done()
	for {
		msg, err := lnwire.ReadMessage(p.conn, 0)
		if err != nil {
			log.Errorf("peer %x: read failed: %v", p.pubkey, err)
			p.Disconnect()
			return
		}

		if err := p.acceptPacket(msg); err != nil {
			log.Debugf("peer %x: rejected %T: %v", p.pubkey, msg, err)
		}

		select {
		case <-p.quit:
			return
		default:
		}
	}
}

// acceptPacket dispatches one inbound wire message to the channel engine.
func (p *peer) acceptPacket(msg lnwire.Message) error {
	switch m := msg.(type) {
	case *lnwire.UpdateAddHTLC:
		h, err := p.channel.ReceiveAddHTLC(m.ID, m.AmountMSat, m.RHash, m.Expiry, m.Routing)
		if err != nil {
			p.queueMsg(lnwire.NewErrorPacket(p.chanID, err.Error()))
			return err
		}
		log.Debugf("peer %x: accepted add htlc: %s", p.pubkey, spew.Sdump(h))
		if err := p.persistAfterStep(); err != nil {
			p.Disconnect()
			return err
		}
		return nil

	case *lnwire.UpdateFulfillHTLC:
		_, err := p.channel.ReceiveFulfillHTLC(m.ID, m.PaymentPreimage)
		if err != nil {
			p.queueMsg(lnwire.NewErrorPacket(p.chanID, err.Error()))
			return err
		}
		if err := p.persistAfterStep(); err != nil {
			p.Disconnect()
			return err
		}
		return nil

	case *lnwire.UpdateFailHTLC:
		_, err := p.channel.ReceiveFailHTLC(m.ID)
		if err != nil {
			p.queueMsg(lnwire.NewErrorPacket(p.chanID, err.Error()))
			return err
		}
		if err := p.persistAfterStep(); err != nil {
			p.Disconnect()
			return err
		}
		return nil

	case *lnwire.UpdateFee:
		p.channel.AdjustFee(m.FeeRate)
		return nil

	case *lnwire.UpdateCommit:
		preimage, nextHash, err := p.channel.ReceiveCommit(m.CommitSig[:])
		if err != nil {
			p.queueMsg(lnwire.NewErrorPacket(p.chanID, err.Error()))
			return err
		}
		if err := p.persistAfterStep(); err != nil {
			p.Disconnect()
			return err
		}
		p.queueMsg(&lnwire.UpdateRevocation{
			ChanID:             p.chanID,
			Preimage:           preimage,
			NextRevocationHash: nextHash,
		})
		return nil

	case *lnwire.UpdateRevocation:
		if err := p.channel.ReceiveRevocation(m.Preimage, m.NextRevocationHash); err != nil {
			p.queueMsg(lnwire.NewErrorPacket(p.chanID, err.Error()))
			return err
		}
		if err := p.persistAfterStep(); err != nil {
			p.Disconnect()
			return err
		}
		return nil

	case *lnwire.Reconnect:
		return p.handleReconnect(m)

	case *lnwire.CloseShutdown:
		p.channel.InitiateShutdown(m.Script)
		return nil

	case *lnwire.Error:
		log.Errorf("peer %x: received channel error: %s", p.pubkey, m.Problem)
		p.Disconnect()
		return fmt.Errorf("remote error: %s", m.Problem)

	default:
		return fmt.Errorf("peer %x: unhandled packet type %T", p.pubkey, msg)
	}
}

// sendReconnect announces this side's high-water mark to the counterparty
// immediately after a transport is reattached to a channel with existing
// history, per spec.md §4.4's "upon reestablishing the transport" trigger.
func (p *peer) sendReconnect() {
	local := p.channel.LocalCommit()
	remote := p.channel.RemoteCommit()

	ack := local.Order
	if remote.Order > ack {
		ack = remote.Order
	}

	var secret [32]byte
	if remote.CommitNum > 0 {
		idx := shachain.RevocationIndex(remote.CommitNum - 1)
		if h, err := p.channel.Shachain().LookupHash(idx); err == nil {
			secret = h
		}
	}

	p.queueMsg(&lnwire.Reconnect{
		ChanID:           p.chanID,
		Ack:              ack,
		LastCommitSecret: secret,
	})
}

// handleReconnect answers an inbound RECONNECT by validating the
// counterparty's claimed high-water mark against our own order_counter
// history and retransmitting whichever of our current commit/revocation
// replies it is still missing (spec.md §4.4, §9's reestablish taxonomy).
// Because only the latest commit/revocation state is persisted, "resend
// in order any packets with order>ack" necessarily collapses to "resend
// the current outstanding step" rather than a full historical replay.
func (p *peer) handleReconnect(m *lnwire.Reconnect) error {
	local := p.channel.LocalCommit()
	remote := p.channel.RemoteCommit()

	highest := local.Order
	if remote.Order > highest {
		highest = remote.Order
	}
	if m.Ack > highest {
		p.queueMsg(lnwire.NewErrorPacket(p.chanID, lnwallet.ErrCommitSyncDataLoss.Error()))
		return lnwallet.ErrCommitSyncDataLoss
	}

	if remote.CommitNum > 0 {
		idx := shachain.RevocationIndex(remote.CommitNum - 1)
		if expect, err := p.channel.Shachain().LookupHash(idx); err == nil && expect != m.LastCommitSecret {
			p.queueMsg(lnwire.NewErrorPacket(p.chanID, lnwallet.ErrInvalidLastCommitSecret.Error()))
			return lnwallet.ErrInvalidLastCommitSecret
		}
	}

	if m.Ack < local.Order {
		p.queueMsg(&lnwire.UpdateCommit{ChanID: p.chanID, CommitSig: sigArray(local.Sig)})
	}
	if m.Ack < remote.Order {
		if preimage, nextHash, ok := p.channel.LastRevocation(); ok {
			p.queueMsg(&lnwire.UpdateRevocation{
				ChanID:             p.chanID,
				Preimage:           preimage,
				NextRevocationHash: nextHash,
			})
		}
	}
	return nil
}

// sigArray right-pads or truncates a variable-length signature into the
// fixed 64-byte form lnwire.UpdateCommit carries on the wire.
func sigArray(sig []byte) [64]byte {
	var out [64]byte
	copy(out[:], sig)
	return out
}

// ownerColumn maps an in-memory HTLC owner to the uppercase string the
// channeldb htlcs table stores it under (channeldb/restart.go's ownerFor
// is the inverse of this mapping).
func ownerColumn(o lnwallet.Owner) string {
	if o == lnwallet.Local {
		return "LOCAL"
	}
	return "REMOTE"
}

// persistAfterStep commits the channel's current commit/revocation state
// to durable storage. Callers invoke this before returning from
// acceptPacket, so a queued reply's transaction has committed ahead of
// the write loop draining the queue.
func (p *peer) persistAfterStep() error {
	tx, err := p.db.BeginTransaction()
	if err != nil {
		return errors.Wrap(err, 0)
	}

	local := p.channel.LocalCommit()
	remote := p.channel.RemoteCommit()

	if err := p.db.PutCommitInfo(tx, p.pubkey, channeldb.CommitInfoRecord{
		Side:           "OURS",
		CommitNum:      local.CommitNum,
		RevocationHash: local.RevocationHash,
		XmitOrder:      local.Order,
		Sig:            local.Sig,
	}); err != nil {
		p.db.AbortTransaction()
		return errors.Wrap(err, 0)
	}
	if err := p.db.PutCommitInfo(tx, p.pubkey, channeldb.CommitInfoRecord{
		Side:           "THEIRS",
		CommitNum:      remote.CommitNum,
		RevocationHash: remote.RevocationHash,
		XmitOrder:      remote.Order,
		Sig:            remote.Sig,
	}); err != nil {
		p.db.AbortTransaction()
		return errors.Wrap(err, 0)
	}
	if err := p.db.PutShachain(tx, p.pubkey, p.channel.Shachain()); err != nil {
		p.db.AbortTransaction()
		return errors.Wrap(err, 0)
	}
	if err := p.persistHTLCDeltas(tx); err != nil {
		p.db.AbortTransaction()
		return errors.Wrap(err, 0)
	}

	return p.db.CommitTransaction()
}

// persistHTLCDeltas reconciles the channel's in-memory HTLC registry
// against the persisted htlcs rows: newly proposed/received HTLCs are
// inserted, state advances and revealed preimages are written with
// UpdateHTLCState/SetHTLCPreimage, and HTLCs both sides have
// revocation-acked the removal of are deleted and dropped from the
// registry (channeldb/restart.go's replay loop is the read side of this).
func (p *peer) persistHTLCDeltas(tx *sql.Tx) error {
	prior, err := p.db.FetchHTLCs(p.pubkey)
	if err != nil {
		return err
	}

	type htlcKey struct {
		owner string
		id    uint64
	}
	priorByKey := make(map[htlcKey]channeldb.HTLCRecord, len(prior))
	for _, r := range prior {
		priorByKey[htlcKey{r.Owner, r.ID}] = r
	}

	var stepErr error
	p.channel.Registry().ForEach(func(h *lnwallet.HTLC) {
		if stepErr != nil {
			return
		}
		key := htlcKey{ownerColumn(h.Owner), h.ID}
		old, existed := priorByKey[key]

		if h.State.IsRemovalAcked() {
			if existed {
				stepErr = p.db.DeleteHTLC(tx, p.pubkey, key.owner, key.id)
			}
			p.channel.Registry().Delete(h.Owner, h.ID)
			return
		}

		curState := h.State.String()
		if !existed {
			var srcPeer [33]byte
			if h.HasUpstream {
				copy(srcPeer[:], h.UpstreamPeer)
			}
			stepErr = p.db.InsertHTLC(tx, p.pubkey, channeldb.HTLCRecord{
				ID:          h.ID,
				Owner:       key.owner,
				State:       curState,
				Msatoshis:   h.Msatoshis,
				Expiry:      h.Expiry,
				RHash:       h.RHash,
				Routing:     h.Routing,
				HasUpstream: h.HasUpstream,
				SrcPeer:     srcPeer,
				SrcID:       h.UpstreamID,
			})
			return
		}

		switch {
		case h.HasPreimage && !old.HasR:
			stepErr = p.db.SetHTLCPreimage(tx, p.pubkey, key.owner, key.id, h.Preimage, old.State, curState)
		case old.State != curState:
			stepErr = p.db.UpdateHTLCState(tx, p.pubkey, key.owner, key.id, old.State, curState)
		}
	})
	return stepErr
}
