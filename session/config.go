package session

import "github.com/wlanprov/blufi/fragment"

// Config bundles the knobs spec §4.10 calls out for Session construction
// (mtu, max reassembled message length, starting sequence numbers for
// tests), grounded on the teacher's Config/DefaultConfig() in config.go (a
// plain struct of negotiated/kept values, not a builder).
type Config struct {
	// MTU is the effective link MTU new outbound frames are split by. Must
	// be >= MinMTU; DefaultConfig uses DefaultMTU (spec §4.7 Construction).
	MTU int

	// MaxMessageLen bounds the fragment decoder's reassembled message size
	// (spec §5 resource discipline); DefaultConfig uses
	// fragment.DefaultMaxMessageLen.
	MaxMessageLen int

	// StartingAppSequenceNumber and StartingDeviceSequenceNumber seed the
	// inbound/outbound counters; DefaultConfig starts both at zero (spec
	// §3 "Sequence numbers reset to 0 on construction"). Non-zero values
	// start a session mid-stream.
	StartingAppSequenceNumber    uint8
	StartingDeviceSequenceNumber uint8
}

// DefaultConfig returns the construction defaults: DefaultMTU,
// fragment.DefaultMaxMessageLen, and both sequence counters at zero.
func DefaultConfig() Config {
	return Config{
		MTU:           DefaultMTU,
		MaxMessageLen: fragment.DefaultMaxMessageLen,
	}
}
