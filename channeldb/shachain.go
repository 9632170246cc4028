package channeldb

import (
	"database/sql"

	"github.com/asoltys/lightning/shachain"
)

// PutShachain persists the peer's compressed revocation store as its
// linearized blob, spec.md §4.3/§4.6. Overwritten wholesale on each
// write since the linearized form is small and fixed-size.
func (db *DB) PutShachain(tx *sql.Tx, peer [33]byte, store *shachain.Store) error {
	db.assertInTransaction()
	blob := store.Linearize()
	_, err := tx.Exec(
		`INSERT INTO shachain (peer, shachain) VALUES (?, ?)
		 ON CONFLICT(peer) DO UPDATE SET shachain = excluded.shachain`,
		peer[:], blob,
	)
	return err
}

// FetchShachain loads and reconstructs a peer's revocation store.
func (db *DB) FetchShachain(peer [33]byte) (*shachain.Store, error) {
	var blob []byte
	err := db.QueryRow(`SELECT shachain FROM shachain WHERE peer = ?`, peer[:]).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNoShachain
	}
	if err != nil {
		return nil, err
	}
	return shachain.Delinearize(blob)
}
