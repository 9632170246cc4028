package lnwallet

import "github.com/prometheus/client_golang/prometheus"

// Metrics on the Commitment/Revocation Engine: commits received and
// revocations accepted are the two state-advancing events an operator
// needs visibility into per channel-step (spec.md §9 error taxonomy
// distinguishes a ProtocolViolation from ordinary progress; these
// counters give the latter a signal of its own).
var (
	commitsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lnd",
		Subsystem: "channel",
		Name:      "commits_received_total",
		Help:      "Number of UPDATE_COMMIT messages accepted.",
	})

	revocationsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lnd",
		Subsystem: "channel",
		Name:      "revocations_received_total",
		Help:      "Number of UPDATE_REVOCATION messages accepted.",
	})
)

func init() {
	prometheus.MustRegister(commitsReceived, revocationsReceived)
}
