// Package bootstrap implements the asynchronous resolve-then-connect peer
// bootstrap of spec.md §4.7: DNS resolution runs off the caller's event
// loop in an isolated worker, then each resulting address is tried in
// turn until one connects.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/miekg/dns"
)

var log = btclog.Disabled

// UseLogger sets the package's logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// ErrNoAddresses is returned by a Resolver when a hostname resolves to
// zero usable addresses.
var ErrNoAddresses = fmt.Errorf("bootstrap: no addresses returned for host")

// Resolver looks up the addresses behind a host:port string off the main
// event loop. It queries the host's system resolver first and then every
// configured DNS server, merging all the addresses found; the zero value
// uses the system resolver only.
type Resolver struct {
	// Servers is an optional list of DNS server addresses ("host:53") to
	// query directly via miekg/dns after the system resolver. Empty means
	// system-resolver only.
	Servers []string

	// Timeout bounds a single DNS query; zero leaves the dns.Client's own
	// default timeouts in place.
	Timeout time.Duration
}

// Resolve looks up host, returning every address found across the system
// resolver and any configured DNS servers, in the order discovered.
// Duplicates are removed. This call is expected to run inside the
// isolated worker goroutine spec.md §4.7 describes, never on the peer's
// event-loop goroutine.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(addr string) {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}

	if ips, err := net.DefaultResolver.LookupHost(ctx, host); err == nil {
		for _, ip := range ips {
			add(ip)
		}
	}

	for _, server := range r.Servers {
		ips, err := r.queryServer(host, server)
		if err != nil {
			log.Debugf("bootstrap: dns server %s failed for %s: %v", server, host, err)
			continue
		}
		for _, ip := range ips {
			add(ip)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoAddresses
	}
	return out, nil
}

// queryServer issues an A-record query for host directly against a DNS
// server, the explicit-seed-list path of spec.md §4.9's DNS bootstrap
// wiring.
func (r *Resolver) queryServer(host, server string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	c := new(dns.Client)
	if r.Timeout > 0 {
		c.Timeout = r.Timeout
	}

	resp, _, err := c.Exchange(m, server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("bootstrap: dns query failed with rcode %d", resp.Rcode)
	}

	var out []string
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return out, nil
}
