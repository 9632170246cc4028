// Package chainntfs defines the chain-watcher boundary spec.md §1 places
// out of scope: the Commitment/Revocation Engine and Persistence consume
// confirmation and spend notifications through this interface, but no
// concrete backend (btcd websockets, ZeroMQ, Electrum, etc.) is
// implemented here.
package chainntfs

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// ChainNotifier is a trusted source of confirmation-depth and spend
// events for txids the engine cares about: an anchor reaching MinDepth
// (spec.md §4.4's anchor-confirmed transition) or a commitment output
// being spent (the on-chain-dispute trigger spec.md's Non-goals exclude
// resolving, but whose occurrence still needs to be observed).
type ChainNotifier interface {
	// RegisterConfirmationsNtfn registers an intent to be notified once
	// txid reaches numConfs confirmations.
	RegisterConfirmationsNtfn(txid chainhash.Hash, numConfs uint32) (*ConfirmationEvent, error)

	// RegisterSpendNtfn registers an intent to be notified once the
	// given outpoint is spent in a confirmed transaction.
	RegisterSpendNtfn(txid chainhash.Hash, index uint32) (*SpendEvent, error)

	Start() error
	Stop() error
}

// ConfirmationEvent is sent on once the target txid reaches the
// requested depth, or on NegativeConf if it's reorg'd out first.
type ConfirmationEvent struct {
	Confirmed    chan uint32 // MUST be buffered.
	NegativeConf chan int32  // MUST be buffered.
}

// SpendDetail carries the minimal identifying information of a detected
// spend: which (engine-tracked) output was spent, in which transaction,
// at which height. Full transaction bytes are an external-collaborator
// concern (spec.md §1); the engine only needs enough to decide "this
// commitment is no longer the live one."
type SpendDetail struct {
	SpentTxID      chainhash.Hash
	SpentIndex     uint32
	SpendingTxID   chainhash.Hash
	SpendingHeight int32
}

// SpendEvent is sent on once the registered output is spent.
type SpendEvent struct {
	Spend chan *SpendDetail // MUST be buffered.
}
