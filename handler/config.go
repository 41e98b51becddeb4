package handler

// Config selects which optional §4.8 assertions are fatal versus merely
// logged, grounded on the teacher's Config/DefaultConfig() in config.go
// (a plain struct of negotiated/kept knobs, not a builder).
type Config struct {
	// RequireChecksumEnabled makes a SetSecurityMode carrying
	// checksum_enabled == false return ErrAssertionFailed instead of only
	// being logged.
	RequireChecksumEnabled bool

	// RequireStaMode makes a SetWifiOpMode other than Sta return
	// ErrAssertionFailed instead of only being logged.
	RequireStaMode bool
}

// DefaultConfig returns the lenient configuration: both assertions are
// logged as warnings but do not fail the dialogue, matching the reference
// firmware's tolerance for clients that diverge slightly from the expected
// sequence.
func DefaultConfig() Config {
	return Config{}
}
