package fragment

import (
	"errors"

	"github.com/wlanprov/blufi/crc16"
	"github.com/wlanprov/blufi/frame"
)

// ErrInvalidMTU is returned when the effective per-frame payload capacity
// computed from the caller's MTU is too small to carry any fragment
// (spec §4.6).
var ErrInvalidMTU = errors.New("blufi: mtu too small to fragment a frame")

// EncodeOptions carries the caller-supplied parameters for Encode.
type EncodeOptions struct {
	Type           frame.Type
	Subtype        uint8
	FrameControl   uint8 // Encrypted, HasChecksum, Direction, RequiresAck only
	SequenceNumber uint8 // starting sequence number
	MTU            int
}

// Encode splits payload into a sequence of frames bounded by opts.MTU
// (spec §4.6). HasSubsequentFragments is computed; callers must not set it
// in opts.FrameControl.
func Encode(payload []byte, opts EncodeOptions) ([]*frame.Frame, error) {
	c := opts.MTU - 6
	if c < 3 {
		return nil, ErrInvalidMTU
	}

	baseFC := opts.FrameControl &^ frame.FCFragment
	checksummed := baseFC&frame.FCHasChecksum != 0

	var frames []*frame.Frame
	seq := opts.SequenceNumber
	off := 0
	n := len(payload)

	// Whether the whole payload needs fragmenting at all is decided against
	// the per-frame capacity c. Once fragmenting has started, a non-terminal
	// frame always carries a fixed c−2 byte chunk; the following frame
	// becomes terminal (carrying everything left, uncapped by c) as soon as
	// that remainder fits in the 8-bit data_length field, since the terminal
	// frame has no −2 prefix reservation to bound it the way non-terminal
	// frames are bounded (spec §3/§4.6).
	for {
		remaining := n - off
		fitsAsTerminal := (off == 0 && remaining <= c) || (off > 0 && remaining <= 0xFF)

		var chunk []byte
		var fc uint8
		var dataLength uint8
		var totalContentLength uint16

		if fitsAsTerminal {
			chunk = payload[off:]
			fc = baseFC
			dataLength = uint8(remaining)
		} else {
			chunk = payload[off : off+(c-2)]
			fc = baseFC | frame.FCFragment
			dataLength = uint8(c)
			totalContentLength = uint16(n)
		}

		f := &frame.Frame{
			Type:               opts.Type,
			Subtype:            opts.Subtype,
			FrameControl:       fc,
			SequenceNumber:     seq,
			DataLength:         dataLength,
			TotalContentLength: totalContentLength,
			Data:               chunk,
		}
		if checksummed {
			f.CheckSum = crc16.Frame(f.SequenceNumber, uint8(len(f.Data)), f.Data)
		}
		frames = append(frames, f)

		off += len(chunk)
		seq++
		if fitsAsTerminal {
			break
		}
	}

	return frames, nil
}
