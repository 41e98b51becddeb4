// Package frame implements bit-exact encode/decode of one BluFi frame.
//
// Grounded on the teacher's IkeHeader/PayloadHeader codec in protocol.go
// (fixed-offset field reads via a small accessor package, doc comment
// showing the bit layout above the struct) and on wire.go, which stands in
// for the teacher's packets.ReadB8/WriteB16 family.
package frame

import (
	"github.com/pkg/errors"

	"github.com/wlanprov/blufi/wire"
)

// Type is the 1-bit frame type.
type Type uint8

const (
	Control Type = 0
	Data    Type = 1
)

// Control subtypes (spec §6 supported subset).
const (
	SubtypeAck             uint8 = 0x00
	SubtypeSetSecurityMode uint8 = 0x01
	SubtypeSetOpMode       uint8 = 0x02
	SubtypeConnectAp       uint8 = 0x03
	SubtypeGetWifiList     uint8 = 0x09
)

// Data subtypes (spec §6 supported subset).
const (
	SubtypeNegotiation uint8 = 0x00
	SubtypeSsid        uint8 = 0x02
	SubtypePassword    uint8 = 0x03
	SubtypeWifiList    uint8 = 0x11
	SubtypeCustomData  uint8 = 0x13
)

// FrameControl bit flags (blufi_types.h: BLUFI_FRAME_CONTROL_*).
const (
	FCEncrypted   uint8 = 1 << 0
	FCHasChecksum uint8 = 1 << 1
	FCDirection   uint8 = 1 << 2
	FCRequiresAck uint8 = 1 << 3
	FCFragment    uint8 = 1 << 4

	fcAllBits = FCEncrypted | FCHasChecksum | FCDirection | FCRequiresAck | FCFragment
)

// Direction values, stored as the FCDirection bit.
const (
	DirectionAppToDevice = 0
	DirectionDeviceToApp = FCDirection
)

// ErrInvalidFrame reports a frame that fails the structural invariants of
// §3: unknown type, unknown frame_control bits, or inconsistent lengths.
type ErrInvalidFrame struct {
	Reason string
}

func (e ErrInvalidFrame) Error() string { return "blufi: invalid frame: " + e.Reason }

// ErrDecode reports a byte buffer that cannot be parsed as a frame at all:
// too short, a truncated optional field, or leftover trailing bytes.
type ErrDecode struct {
	Reason string
}

func (e ErrDecode) Error() string { return "blufi: frame decode error: " + e.Reason }

// Frame is one on-wire BluFi protocol data unit (spec §3).
type Frame struct {
	Type               Type
	Subtype            uint8
	FrameControl       uint8
	SequenceNumber     uint8
	DataLength         uint8
	TotalContentLength uint16
	Data               []byte
	CheckSum           uint16
}

func (f *Frame) HasFlag(bit uint8) bool { return f.FrameControl&bit != 0 }

// controlSubtypes and dataSubtypes enumerate every subtype recognised at
// the frame level, including ones with no payload decoder (spec §6: those
// are "accepted at the frame level but produce no payload value").
var controlSubtypes = map[uint8]bool{
	0x00: true, 0x01: true, 0x02: true, 0x03: true, 0x04: true,
	0x05: true, 0x06: true, 0x07: true, 0x08: true, 0x09: true,
}

var dataSubtypes = map[uint8]bool{
	0x00: true, 0x01: true, 0x02: true, 0x03: true, 0x04: true,
	0x05: true, 0x06: true, 0x07: true, 0x08: true, 0x09: true,
	0x0A: true, 0x0B: true, 0x0C: true, 0x0D: true, 0x0E: true,
	0x0F: true, 0x10: true, 0x11: true, 0x12: true, 0x13: true,
}

// Validate checks the §3 invariants against an already-populated Frame.
func Validate(f *Frame) error {
	switch f.Type {
	case Control:
		if !controlSubtypes[f.Subtype] {
			return ErrInvalidFrame{"unknown control subtype"}
		}
	case Data:
		if !dataSubtypes[f.Subtype] {
			return ErrInvalidFrame{"unknown data subtype"}
		}
	default:
		return ErrInvalidFrame{"unknown frame type"}
	}

	if f.FrameControl&^fcAllBits != 0 {
		return ErrInvalidFrame{"frame_control has bits outside the defined flags"}
	}

	fragmented := f.HasFlag(FCFragment)
	if fragmented {
		if f.TotalContentLength == 0 {
			return ErrInvalidFrame{"HasSubsequentFragments requires total_content_length > 0"}
		}
		if f.DataLength < 2 {
			return ErrInvalidFrame{"HasSubsequentFragments requires data_length >= 2"}
		}
	} else if f.TotalContentLength != 0 {
		return ErrInvalidFrame{"total_content_length set without HasSubsequentFragments"}
	}

	want := int(f.DataLength)
	if fragmented {
		want -= 2
	}
	if len(f.Data) != want {
		return ErrInvalidFrame{"data region length does not match data_length"}
	}
	return nil
}

// Encode serializes f to its wire form. See §4.3 for the exact byte order.
func Encode(f *Frame) ([]byte, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}

	fragmented := f.HasFlag(FCFragment)
	checksummed := f.HasFlag(FCHasChecksum)

	size := 4 + int(f.DataLength)
	if checksummed {
		size += 2
	}
	b := make([]byte, size)

	if err := wire.PutUint8(b, 0, uint8(f.Type)|f.Subtype<<2); err != nil {
		return nil, errors.Wrap(err, "encoding type/subtype")
	}
	if err := wire.PutUint8(b, 1, f.FrameControl); err != nil {
		return nil, errors.Wrap(err, "encoding frame_control")
	}
	if err := wire.PutUint8(b, 2, f.SequenceNumber); err != nil {
		return nil, errors.Wrap(err, "encoding sequence_number")
	}
	if err := wire.PutUint8(b, 3, f.DataLength); err != nil {
		return nil, errors.Wrap(err, "encoding data_length")
	}

	off := 4
	if fragmented {
		if err := wire.PutUint16LE(b, off, f.TotalContentLength); err != nil {
			return nil, errors.Wrap(err, "encoding total_content_length")
		}
		off += 2
	}

	copy(b[off:], f.Data)
	off += len(f.Data)

	if checksummed {
		if err := wire.PutUint16LE(b, off, f.CheckSum); err != nil {
			return nil, errors.Wrap(err, "encoding check_sum")
		}
	}
	return b, nil
}

// Decode parses one frame out of b. The entire slice must be consumed;
// any shortfall or leftover bytes is an ErrDecode (spec §4.3).
func Decode(b []byte) (*Frame, error) {
	if len(b) < 4 {
		return nil, ErrDecode{"buffer shorter than the 4-byte header"}
	}

	typeSubtype, _ := wire.Uint8(b, 0)
	f := &Frame{
		Type:    Type(typeSubtype & 0x1),
		Subtype: typeSubtype >> 2,
	}
	f.FrameControl, _ = wire.Uint8(b, 1)
	f.SequenceNumber, _ = wire.Uint8(b, 2)
	f.DataLength, _ = wire.Uint8(b, 3)

	off := 4
	fragmented := f.HasFlag(FCFragment)
	if fragmented {
		tcl, err := wire.Uint16LE(b, off)
		if err != nil {
			return nil, ErrDecode{"truncated total_content_length"}
		}
		f.TotalContentLength = tcl
		off += 2
	}

	dataLen := int(f.DataLength)
	if fragmented {
		dataLen -= 2
	}
	if dataLen < 0 || off+dataLen > len(b) {
		return nil, ErrDecode{"data_length overruns the buffer"}
	}
	if dataLen > 0 {
		f.Data = append([]byte(nil), b[off:off+dataLen]...)
	}
	off += dataLen

	checksummed := f.HasFlag(FCHasChecksum)
	if checksummed {
		cs, err := wire.Uint16LE(b, off)
		if err != nil {
			return nil, ErrDecode{"truncated check_sum"}
		}
		f.CheckSum = cs
		off += 2
	}

	if off != len(b) {
		return nil, ErrDecode{"trailing bytes after frame"}
	}

	if err := Validate(f); err != nil {
		return nil, err
	}
	return f, nil
}
