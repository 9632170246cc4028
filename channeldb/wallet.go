package channeldb

import "database/sql"

// PutWalletKey stores the node's long-term private key. Called once,
// outside any protocol-step transaction, at first startup.
func (db *DB) PutWalletKey(privkey [32]byte) error {
	_, err := db.Exec(`DELETE FROM wallet`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO wallet (privkey) VALUES (?)`, privkey[:])
	return err
}

// FetchWalletKey loads the node's long-term private key.
func (db *DB) FetchWalletKey() ([32]byte, error) {
	var key [32]byte
	var blob []byte
	err := db.QueryRow(`SELECT privkey FROM wallet LIMIT 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return key, ErrNoWalletExists
	}
	if err != nil {
		return key, err
	}
	copy(key[:], blob)
	return key, nil
}
