package lnwire

import "fmt"

// ChannelID uniquely identifies a channel within this daemon. Unlike the
// real protocol's 32-byte channel ID derived from the funding outpoint, the
// wire serialization of packets is out of scope here (spec treats it as an
// opaque bijection), so a compact uint64 peer-local handle is used instead.
type ChannelID uint64

// String returns the channel ID as 16 zero-padded hex digits.
func (c ChannelID) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}
