package lnwallet

import (
	"github.com/btcsuite/btclog"
)

// log is the package-wide logger used by the Commitment/Revocation
// Engine. It is disabled by default; callers wire in a real backend with
// UseLogger, following the per-subsystem logger convention used
// throughout this tree.
var log = btclog.Disabled

// UseLogger sets the package-wide logger for lnwallet.
func UseLogger(logger btclog.Logger) {
	log = logger
}
