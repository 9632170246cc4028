package channeldb

import "fmt"

var (
	ErrNoWalletExists = fmt.Errorf("no wallet key stored")
	ErrPeerNotFound   = fmt.Errorf("peer not found")
	ErrNoAnchor       = fmt.Errorf("peer has no recorded anchor")
	ErrNoShachain     = fmt.Errorf("peer has no recorded shachain")
	ErrNoCommitInfo   = fmt.Errorf("peer has no recorded commit_info for that side")
	ErrNoClosingState = fmt.Errorf("peer has no recorded closing state")

	// ErrHTLCUpdateNoMatch is the update-with-guard failure of spec.md
	// §4.6: an UPDATE ... WHERE id=? AND state=<old> affected zero rows,
	// meaning the in-memory and durable states have diverged.
	ErrHTLCUpdateNoMatch = fmt.Errorf("htlc state update matched no row: guard failed")
)
