// Package wire provides the fixed-offset, fixed-width byte accessors the
// BluFi codecs are built from. It plays the role the teacher project used
// github.com/msgboxio/packets for: a one-function-per-width read/write pair
// operating on a byte slice at an explicit offset, not a general-purpose
// binary codec.
package wire

import "fmt"

// ErrShortBuffer is returned by the accessors below when the requested
// offset/width does not fit in the supplied slice.
type ErrShortBuffer struct {
	Offset, Width, Len int
}

func (e ErrShortBuffer) Error() string {
	return fmt.Sprintf("wire: need %d bytes at offset %d, have %d", e.Width, e.Offset, e.Len)
}

// Uint8 reads a single byte at off.
func Uint8(b []byte, off int) (uint8, error) {
	if off < 0 || off+1 > len(b) {
		return 0, ErrShortBuffer{off, 1, len(b)}
	}
	return b[off], nil
}

// PutUint8 writes a single byte at off.
func PutUint8(b []byte, off int, v uint8) error {
	if off < 0 || off+1 > len(b) {
		return ErrShortBuffer{off, 1, len(b)}
	}
	b[off] = v
	return nil
}

// Uint16LE reads a little-endian 16 bit integer at off.
func Uint16LE(b []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(b) {
		return 0, ErrShortBuffer{off, 2, len(b)}
	}
	return uint16(b[off]) | uint16(b[off+1])<<8, nil
}

// PutUint16LE writes a little-endian 16 bit integer at off.
func PutUint16LE(b []byte, off int, v uint16) error {
	if off < 0 || off+2 > len(b) {
		return ErrShortBuffer{off, 2, len(b)}
	}
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	return nil
}

// Uint16BE reads a big-endian 16 bit integer at off.
//
// BluFi's Negotiation1 payload length prefixes are big-endian, unlike the
// frame header's total_content_length/check_sum fields — an intrinsic
// protocol asymmetry (spec §4.5/§9), not a mistake at either call site.
func Uint16BE(b []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(b) {
		return 0, ErrShortBuffer{off, 2, len(b)}
	}
	return uint16(b[off])<<8 | uint16(b[off+1]), nil
}

// PutUint16BE writes a big-endian 16 bit integer at off.
func PutUint16BE(b []byte, off int, v uint16) error {
	if off < 0 || off+2 > len(b) {
		return ErrShortBuffer{off, 2, len(b)}
	}
	b[off] = byte(v >> 8)
	b[off+1] = byte(v)
	return nil
}
