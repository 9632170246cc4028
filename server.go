package main

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/asoltys/lightning/bootstrap"
	"github.com/asoltys/lightning/channeldb"
	"github.com/asoltys/lightning/lnwallet"
	"github.com/asoltys/lightning/lnwire"
	"github.com/btcsuite/btcd/btcec/v2"
)

// server houses the process-wide peer map and listens for inbound
// connections. Per spec.md §3's ownership note, upstream HTLC links are
// resolved by looking up the (peer, id) pair across this map, never by an
// owning pointer between peers.
type server struct {
	db *channeldb.DB

	listener net.Listener

	mu    sync.RWMutex
	peers map[[33]byte]*peer

	quit chan struct{}
}

func newServer(db *channeldb.DB) *server {
	return &server{
		db:    db,
		peers: make(map[[33]byte]*peer),
		quit:  make(chan struct{}),
	}
}

// Start restores every peer persisted from a previous run and begins
// accepting inbound connections on listenAddr, per spec.md §4.6's
// restart-reconstruction path. Restored peers are registered without a
// live transport; they start their loops once Connect or an inbound
// accept supplies one.
func (s *server) Start(listenAddr string) error {
	restored, err := s.db.RestoreAll()
	if err != nil {
		return err
	}
	for _, rp := range restored {
		log.Infof("restored peer %x with channel at commit_num local=%d remote=%d",
			rp.Pubkey, rp.Channel.LocalCommit().CommitNum, rp.Channel.RemoteCommit().CommitNum)

		p := newPeer(rp.Pubkey, nil, rp.Channel, s.db)
		s.mu.Lock()
		s.peers[rp.Pubkey] = p
		s.mu.Unlock()
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	s.listener = lis

	go s.acceptLoop()
	return nil
}

func (s *server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Errorf("accept failed: %v", err)
				continue
			}
		}
		go s.handleInbound(conn)
	}
}

// handleInbound reads the OPEN packet off a freshly accepted transport
// and attaches it to that pubkey's peer. Full funding negotiation (anchor
// selection, signature exchange building the first commitment) is
// external-collaborator territory (spec.md §1); a channel only becomes
// live here if one was already restored for this pubkey from a prior run
// (a reconnect), matching spec.md §4.4's reconnect/reestablish path.
func (s *server) handleInbound(conn net.Conn) {
	msg, err := lnwire.ReadMessage(conn, 0)
	if err != nil {
		conn.Close()
		return
	}

	open, ok := msg.(*lnwire.Open)
	if !ok {
		conn.Close()
		return
	}

	var pubkey [33]byte
	copy(pubkey[:], open.CommitKey[:])

	if _, err := btcec.ParsePubKey(pubkey[:]); err != nil {
		log.Debugf("inbound OPEN with malformed commit key: %v", err)
		conn.Close()
		return
	}

	s.attachTransport(pubkey, conn)
}

// attachTransport binds a live connection to a known peer's loops,
// disconnecting any prior transport for the same pubkey first (a
// reconnect supersedes a stale connection).
func (s *server) attachTransport(pubkey [33]byte, conn net.Conn) {
	s.mu.Lock()
	p, ok := s.peers[pubkey]
	s.mu.Unlock()

	if !ok {
		log.Debugf("inbound connection from unknown pubkey %x", pubkey)
		conn.Close()
		return
	}

	// Stop only the stale transport and its loops; unlike Disconnect this
	// leaves the channel live for the new transport. A restored peer has
	// no transport yet.
	if atomic.CompareAndSwapInt32(&p.disconnect, 0, 1) {
		close(p.quit)
		if p.conn != nil {
			p.conn.Close()
		}
	}

	newP := newPeer(pubkey, conn, p.channel, s.db)
	s.mu.Lock()
	s.peers[pubkey] = newP
	s.mu.Unlock()
	newP.Start()
	newP.sendReconnect()
}

// RegisterChannel attaches a freshly negotiated channel to a live
// transport, used once OPEN/OPEN_ANCHOR/OPEN_COMMIT_SIG/OPEN_COMPLETE
// have all been exchanged over an existing connection.
func (s *server) RegisterChannel(pubkey [33]byte, conn net.Conn, channel *lnwallet.Channel) {
	p := newPeer(pubkey, conn, channel, s.db)

	s.mu.Lock()
	if existing, ok := s.peers[pubkey]; ok {
		existing.Disconnect()
	}
	s.peers[pubkey] = p
	s.mu.Unlock()

	p.Start()
}

// Connect initiates an outbound bootstrap attempt to host:port, the
// resolve-then-connect race of spec.md §4.7. A successful connect hands
// the raw net.Conn back to the caller, which drives the OPEN handshake
// and calls RegisterChannel once it completes.
func (s *server) Connect(host, port string, resolver *bootstrap.Resolver, onConn func(net.Conn), onFail func(error)) {
	attempt := bootstrap.NewAttempt(host, port, resolver, nil, onConn, onFail)
	attempt.Start()
}

// Stop tears down every peer and the listener.
func (s *server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		p.Disconnect()
	}
}
