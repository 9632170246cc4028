package channeldb

import (
	"database/sql"
)

// PeerRecord is the row shape of the peers table, spec.md §4.6.
type PeerRecord struct {
	Pubkey        [33]byte
	State         string
	OfferedAnchor bool
	OurFeerate    uint64
}

// CreatePeer inserts a new peer row. Called when OPEN is successfully
// exchanged (spec.md §3's db_create_peer lifecycle event), inside the
// caller's open transaction.
func (db *DB) CreatePeer(tx *sql.Tx, p PeerRecord) error {
	db.assertInTransaction()
	_, err := tx.Exec(
		`INSERT INTO peers (peer_pubkey, state, offered_anchor, our_feerate) VALUES (?, ?, ?, ?)`,
		p.Pubkey[:], p.State, p.OfferedAnchor, p.OurFeerate,
	)
	return err
}

// UpdatePeerState sets the peer's lifecycle state (e.g. moving from a
// pending-anchor state to NORMAL, or to CLOSED).
func (db *DB) UpdatePeerState(tx *sql.Tx, pubkey [33]byte, state string) error {
	db.assertInTransaction()
	_, err := tx.Exec(`UPDATE peers SET state = ? WHERE peer_pubkey = ?`, state, pubkey[:])
	return err
}

// FetchPeer loads a peer row outside of any transaction (a read).
func (db *DB) FetchPeer(pubkey [33]byte) (*PeerRecord, error) {
	var p PeerRecord
	copy(p.Pubkey[:], pubkey[:])
	row := db.QueryRow(
		`SELECT state, offered_anchor, our_feerate FROM peers WHERE peer_pubkey = ?`,
		pubkey[:],
	)
	if err := row.Scan(&p.State, &p.OfferedAnchor, &p.OurFeerate); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPeerNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FetchAllPeers returns every stored peer pubkey, for restart
// reconstruction (spec.md §4.6).
func (db *DB) FetchAllPeers() ([][33]byte, error) {
	rows, err := db.Query(`SELECT peer_pubkey FROM peers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][33]byte
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var k [33]byte
		copy(k[:], blob)
		out = append(out, k)
	}
	return out, rows.Err()
}

// PeerSecrets is the row shape of peer_secrets, spec.md §4.6.
type PeerSecrets struct {
	CommitKey      [32]byte
	FinalKey       [32]byte
	RevocationSeed [32]byte
}

func (db *DB) PutPeerSecrets(tx *sql.Tx, pubkey [33]byte, s PeerSecrets) error {
	db.assertInTransaction()
	_, err := tx.Exec(
		`INSERT INTO peer_secrets (peer, commitkey, finalkey, revocation_seed) VALUES (?, ?, ?, ?)`,
		pubkey[:], s.CommitKey[:], s.FinalKey[:], s.RevocationSeed[:],
	)
	return err
}

func (db *DB) FetchPeerSecrets(pubkey [33]byte) (*PeerSecrets, error) {
	var s PeerSecrets
	var ck, fk, rs []byte
	row := db.QueryRow(`SELECT commitkey, finalkey, revocation_seed FROM peer_secrets WHERE peer = ?`, pubkey[:])
	if err := row.Scan(&ck, &fk, &rs); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPeerNotFound
		}
		return nil, err
	}
	copy(s.CommitKey[:], ck)
	copy(s.FinalKey[:], fk)
	copy(s.RevocationSeed[:], rs)
	return &s, nil
}

func (db *DB) PutPeerAddress(tx *sql.Tx, pubkey [33]byte, addr []byte) error {
	db.assertInTransaction()
	_, err := tx.Exec(
		`INSERT INTO peer_address (peer, addr) VALUES (?, ?)
		 ON CONFLICT(peer) DO UPDATE SET addr = excluded.addr`,
		pubkey[:], addr,
	)
	return err
}

func (db *DB) FetchPeerAddress(pubkey [33]byte) ([]byte, error) {
	var addr []byte
	err := db.QueryRow(`SELECT addr FROM peer_address WHERE peer = ?`, pubkey[:]).Scan(&addr)
	if err == sql.ErrNoRows {
		return nil, ErrPeerNotFound
	}
	return addr, err
}

// AnchorRecord is the row shape of anchors, spec.md §4.6.
type AnchorRecord struct {
	TxID     [32]byte
	Index    uint32
	Amount   uint64
	OkDepth  uint32
	MinDepth uint32
	Ours     bool
}

func (db *DB) PutAnchor(tx *sql.Tx, pubkey [33]byte, a AnchorRecord) error {
	db.assertInTransaction()
	_, err := tx.Exec(
		`INSERT INTO anchors (peer, txid, idx, amount, ok_depth, min_depth, ours) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pubkey[:], a.TxID[:], a.Index, a.Amount, a.OkDepth, a.MinDepth, a.Ours,
	)
	return err
}

func (db *DB) UpdateAnchorDepth(tx *sql.Tx, pubkey [33]byte, okDepth uint32) error {
	db.assertInTransaction()
	_, err := tx.Exec(`UPDATE anchors SET ok_depth = ? WHERE peer = ?`, okDepth, pubkey[:])
	return err
}

func (db *DB) FetchAnchor(pubkey [33]byte) (*AnchorRecord, error) {
	var a AnchorRecord
	var txid []byte
	row := db.QueryRow(
		`SELECT txid, idx, amount, ok_depth, min_depth, ours FROM anchors WHERE peer = ?`,
		pubkey[:],
	)
	if err := row.Scan(&txid, &a.Index, &a.Amount, &a.OkDepth, &a.MinDepth, &a.Ours); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoAnchor
		}
		return nil, err
	}
	copy(a.TxID[:], txid)
	return &a, nil
}

// TheirVisibleState is the row shape of their_visible_state, spec.md §4.6.
type TheirVisibleState struct {
	OfferedAnchor      bool
	CommitKey          [33]byte
	FinalKey           [33]byte
	Locktime           uint32
	MinDepth           uint32
	CommitFeeRate      uint64
	NextRevocationHash [32]byte
}

func (db *DB) PutTheirVisibleState(tx *sql.Tx, pubkey [33]byte, s TheirVisibleState) error {
	db.assertInTransaction()
	_, err := tx.Exec(
		`INSERT INTO their_visible_state
			(peer, offered_anchor, commitkey, finalkey, locktime, mindepth, commit_fee_rate, next_revocation_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(peer) DO UPDATE SET
			offered_anchor = excluded.offered_anchor,
			commitkey = excluded.commitkey,
			finalkey = excluded.finalkey,
			locktime = excluded.locktime,
			mindepth = excluded.mindepth,
			commit_fee_rate = excluded.commit_fee_rate,
			next_revocation_hash = excluded.next_revocation_hash`,
		pubkey[:], s.OfferedAnchor, s.CommitKey[:], s.FinalKey[:], s.Locktime, s.MinDepth,
		s.CommitFeeRate, s.NextRevocationHash[:],
	)
	return err
}

func (db *DB) FetchTheirVisibleState(pubkey [33]byte) (*TheirVisibleState, error) {
	var s TheirVisibleState
	var ck, fk, nrh []byte
	row := db.QueryRow(
		`SELECT offered_anchor, commitkey, finalkey, locktime, mindepth, commit_fee_rate, next_revocation_hash
		 FROM their_visible_state WHERE peer = ?`,
		pubkey[:],
	)
	if err := row.Scan(&s.OfferedAnchor, &ck, &fk, &s.Locktime, &s.MinDepth, &s.CommitFeeRate, &nrh); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPeerNotFound
		}
		return nil, err
	}
	copy(s.CommitKey[:], ck)
	copy(s.FinalKey[:], fk)
	copy(s.NextRevocationHash[:], nrh)
	return &s, nil
}

// CommitInfoRecord is the row shape of commit_info, spec.md §4.6.
type CommitInfoRecord struct {
	Side                string // "OURS" or "THEIRS"
	CommitNum           uint64
	RevocationHash      [32]byte
	XmitOrder           uint64
	Sig                 []byte
	HasPrevRevocationHash bool
	PrevRevocationHash  [32]byte
}

func (db *DB) PutCommitInfo(tx *sql.Tx, pubkey [33]byte, c CommitInfoRecord) error {
	db.assertInTransaction()

	var prev interface{}
	if c.HasPrevRevocationHash {
		prev = c.PrevRevocationHash[:]
	}

	_, err := tx.Exec(
		`INSERT INTO commit_info (peer, side, commit_num, revocation_hash, xmit_order, sig, prev_revocation_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(peer, side) DO UPDATE SET
			commit_num = excluded.commit_num,
			revocation_hash = excluded.revocation_hash,
			xmit_order = excluded.xmit_order,
			sig = excluded.sig,
			prev_revocation_hash = excluded.prev_revocation_hash`,
		pubkey[:], c.Side, c.CommitNum, c.RevocationHash[:], c.XmitOrder, c.Sig, prev,
	)
	return err
}

func (db *DB) FetchCommitInfo(pubkey [33]byte, side string) (*CommitInfoRecord, error) {
	var c CommitInfoRecord
	c.Side = side
	var rh []byte
	var sig, prev []byte
	row := db.QueryRow(
		`SELECT commit_num, revocation_hash, xmit_order, sig, prev_revocation_hash
		 FROM commit_info WHERE peer = ? AND side = ?`,
		pubkey[:], side,
	)
	if err := row.Scan(&c.CommitNum, &rh, &c.XmitOrder, &sig, &prev); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoCommitInfo
		}
		return nil, err
	}
	copy(c.RevocationHash[:], rh)
	c.Sig = sig
	if prev != nil {
		c.HasPrevRevocationHash = true
		copy(c.PrevRevocationHash[:], prev)
	}
	return &c, nil
}

func (db *DB) PutTheirCommitment(tx *sql.Tx, pubkey [33]byte, txid [32]byte, commitNum uint64) error {
	db.assertInTransaction()
	_, err := tx.Exec(
		`INSERT INTO their_commitments (peer, txid, commit_num) VALUES (?, ?, ?)`,
		pubkey[:], txid[:], commitNum,
	)
	return err
}

// ClosingStateRecord is the row shape of closing, spec.md §4.6.
type ClosingStateRecord struct {
	OurFee        uint64
	TheirFee      uint64
	TheirSig      []byte
	OurScript     []byte
	TheirScript   []byte
	ShutdownOrder uint64
	ClosingOrder  uint64
	SigsIn        uint32
}

func (db *DB) PutClosingState(tx *sql.Tx, pubkey [33]byte, c ClosingStateRecord) error {
	db.assertInTransaction()
	_, err := tx.Exec(
		`INSERT INTO closing
			(peer, our_fee, their_fee, their_sig, our_script, their_script, shutdown_order, closing_order, sigs_in)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(peer) DO UPDATE SET
			our_fee = excluded.our_fee,
			their_fee = excluded.their_fee,
			their_sig = excluded.their_sig,
			our_script = excluded.our_script,
			their_script = excluded.their_script,
			shutdown_order = excluded.shutdown_order,
			closing_order = excluded.closing_order,
			sigs_in = excluded.sigs_in`,
		pubkey[:], c.OurFee, c.TheirFee, c.TheirSig, c.OurScript, c.TheirScript,
		c.ShutdownOrder, c.ClosingOrder, c.SigsIn,
	)
	return err
}

func (db *DB) FetchClosingState(pubkey [33]byte) (*ClosingStateRecord, error) {
	var c ClosingStateRecord
	row := db.QueryRow(
		`SELECT our_fee, their_fee, their_sig, our_script, their_script, shutdown_order, closing_order, sigs_in
		 FROM closing WHERE peer = ?`,
		pubkey[:],
	)
	if err := row.Scan(&c.OurFee, &c.TheirFee, &c.TheirSig, &c.OurScript, &c.TheirScript,
		&c.ShutdownOrder, &c.ClosingOrder, &c.SigsIn); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoClosingState
		}
		return nil, err
	}
	return &c, nil
}
