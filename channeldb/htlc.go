package channeldb

import (
	"database/sql"
)

// HTLCRecord is the row shape of the htlcs table, spec.md §4.6.
type HTLCRecord struct {
	ID        uint64
	Owner     string // "LOCAL" or "REMOTE"
	State     string
	Msatoshis uint64
	Expiry    uint32
	RHash     [32]byte
	HasR      bool
	R         [32]byte
	Routing   []byte

	HasUpstream bool
	SrcPeer     [33]byte
	SrcID       uint64
}

// InsertHTLC writes a newly proposed or received HTLC. Part of the same
// transaction as the UPDATE_ADD_HTLC protocol step, per spec.md §4.6.
func (db *DB) InsertHTLC(tx *sql.Tx, peer [33]byte, h HTLCRecord) error {
	db.assertInTransaction()

	var srcPeer interface{}
	var srcID interface{}
	if h.HasUpstream {
		srcPeer = h.SrcPeer[:]
		srcID = h.SrcID
	}

	_, err := tx.Exec(
		`INSERT INTO htlcs (peer, id, owner, state, msatoshis, expiry, rhash, r, routing, src_peer, src_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		peer[:], h.ID, h.Owner, h.State, h.Msatoshis, h.Expiry, h.RHash[:], nil, h.Routing,
		srcPeer, srcID,
	)
	return err
}

// UpdateHTLCState advances an HTLC's persisted state using the
// update-with-guard pattern of spec.md §4.6: the UPDATE only matches the
// row if it is still in fromState, so a racing or replayed write is
// caught rather than silently clobbered.
func (db *DB) UpdateHTLCState(tx *sql.Tx, peer [33]byte, owner string, id uint64, fromState, toState string) error {
	db.assertInTransaction()

	res, err := tx.Exec(
		`UPDATE htlcs SET state = ? WHERE peer = ? AND owner = ? AND id = ? AND state = ?`,
		toState, peer[:], owner, id, fromState,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrHTLCUpdateNoMatch
	}
	return nil
}

// SetHTLCPreimage records the revealed preimage alongside a fulfilled
// HTLC, guarded the same way as UpdateHTLCState.
func (db *DB) SetHTLCPreimage(tx *sql.Tx, peer [33]byte, owner string, id uint64, preimage [32]byte, fromState, toState string) error {
	db.assertInTransaction()

	res, err := tx.Exec(
		`UPDATE htlcs SET state = ?, r = ? WHERE peer = ? AND owner = ? AND id = ? AND state = ?`,
		toState, preimage[:], peer[:], owner, id, fromState,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrHTLCUpdateNoMatch
	}
	return nil
}

// DeleteHTLC removes a row once both sides have acked its removal
// revocation (RCVD_REMOVE_ACK_REVOCATION / SENT_REMOVE_ACK_REVOCATION) —
// nothing downstream ever needs to look at it again.
func (db *DB) DeleteHTLC(tx *sql.Tx, peer [33]byte, owner string, id uint64) error {
	db.assertInTransaction()
	_, err := tx.Exec(`DELETE FROM htlcs WHERE peer = ? AND owner = ? AND id = ?`, peer[:], owner, id)
	return err
}

// FetchHTLCs loads every HTLC stored for a peer, ordered by owner and
// then by id ascending within each owner, so each side's HTLCs replay in
// the order that side created them (spec.md §4.6's restart
// reconstruction).
func (db *DB) FetchHTLCs(peer [33]byte) ([]HTLCRecord, error) {
	rows, err := db.Query(
		`SELECT id, owner, state, msatoshis, expiry, rhash, r, routing, src_peer, src_id
		 FROM htlcs WHERE peer = ? ORDER BY owner, id ASC`,
		peer[:],
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HTLCRecord
	for rows.Next() {
		var h HTLCRecord
		var rhash []byte
		var r, routing, srcPeer []byte
		var srcID sql.NullInt64

		if err := rows.Scan(&h.ID, &h.Owner, &h.State, &h.Msatoshis, &h.Expiry, &rhash, &r, &routing, &srcPeer, &srcID); err != nil {
			return nil, err
		}
		copy(h.RHash[:], rhash)
		h.Routing = routing
		if r != nil {
			h.HasR = true
			copy(h.R[:], r)
		}
		if srcPeer != nil {
			h.HasUpstream = true
			copy(h.SrcPeer[:], srcPeer)
			h.SrcID = uint64(srcID.Int64)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// FetchUpstreamHTLC looks up the HTLC that forwarded payment downstream
// to (srcPeer, srcID) — used to walk the route backwards when settling
// or failing a forwarded payment (spec.md §4.4/§9's upstream linkage).
func (db *DB) FetchUpstreamHTLC(srcPeer [33]byte, srcID uint64) (peer [33]byte, rec HTLCRecord, err error) {
	row := db.QueryRow(
		`SELECT peer, id, owner, state, msatoshis, expiry, rhash, r, routing
		 FROM htlcs WHERE src_peer = ? AND src_id = ?`,
		srcPeer[:], srcID,
	)

	var peerBlob, rhash, r, routing []byte
	if scanErr := row.Scan(&peerBlob, &rec.ID, &rec.Owner, &rec.State, &rec.Msatoshis, &rec.Expiry, &rhash, &r, &routing); scanErr != nil {
		err = scanErr
		return
	}
	copy(peer[:], peerBlob)
	copy(rec.RHash[:], rhash)
	rec.Routing = routing
	if r != nil {
		rec.HasR = true
		copy(rec.R[:], r)
	}
	return
}
