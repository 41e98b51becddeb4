// Package fragment accumulates BluFi frames sharing one logical message
// into a reassembled payload, and splits an outbound payload back into a
// sequence of frames bounded by the link MTU.
//
// Grounded on the teacher's conn.go ReadMessage loop (accumulate, validate,
// hand a complete unit upward) and tkm.go's ordering checks, generalized
// from IKE message boundaries to BluFi's sequence-numbered fragment chain.
package fragment

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wlanprov/blufi/crc16"
	"github.com/wlanprov/blufi/frame"
)

// State is the fragment decoder's current aggregation state (spec §3/§4.4).
type State int

const (
	Empty State = iota
	TypeMismatch
	SubtypeMismatch
	DirectionMismatch
	ChecksumMismatch
	SequenceSkipped
	InvalidContentLength
	NeedMore
	Ready
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case TypeMismatch:
		return "TypeMismatch"
	case SubtypeMismatch:
		return "SubtypeMismatch"
	case DirectionMismatch:
		return "DirectionMismatch"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case SequenceSkipped:
		return "SequenceSkipped"
	case InvalidContentLength:
		return "InvalidContentLength"
	case NeedMore:
		return "NeedMore"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

// ErrMessageTooLarge is returned when a completely reassembled message is
// longer than the decoder's MaxMessageLen (spec §5 resource discipline).
// The check runs once the terminal frame arrives, not on the first fragment.
type ErrMessageTooLarge struct {
	Declared, Limit int
}

func (e ErrMessageTooLarge) Error() string {
	return "blufi: fragment message too large: declared length exceeds policy ceiling"
}

// DefaultMaxMessageLen is the policy ceiling on a reassembled message's
// size; the protocol does not specify one, so a safe default is used
// (spec §5).
const DefaultMaxMessageLen = 4096

// Decoder accumulates frames belonging to one logical message.
type Decoder struct {
	MaxMessageLen int

	frames []*frame.Frame
	state  State
}

// NewDecoder constructs an empty decoder with the default message ceiling.
func NewDecoder() *Decoder {
	return &Decoder{MaxMessageLen: DefaultMaxMessageLen, state: Empty}
}

func (d *Decoder) State() State { return d.state }

// Update feeds one frame into the decoder and returns the resulting state.
func (d *Decoder) Update(f *frame.Frame) (State, error) {
	if len(d.frames) > 0 {
		head := d.frames[0]
		if head.Type != f.Type {
			d.state = TypeMismatch
			return d.state, nil
		}
		if head.Subtype != f.Subtype {
			d.state = SubtypeMismatch
			return d.state, nil
		}
		if head.FrameControl&frame.FCDirection != f.FrameControl&frame.FCDirection {
			d.state = DirectionMismatch
			return d.state, nil
		}
	}

	if f.HasFlag(frame.FCHasChecksum) {
		want := crc16.Frame(f.SequenceNumber, uint8(len(f.Data)), f.Data)
		if want != f.CheckSum {
			d.state = ChecksumMismatch
			return d.state, nil
		}
	}

	d.frames = append(d.frames, f)
	sort.SliceStable(d.frames, func(i, j int) bool {
		return d.frames[i].SequenceNumber < d.frames[j].SequenceNumber
	})

	for i := 1; i < len(d.frames); i++ {
		if d.frames[i].SequenceNumber != d.frames[i-1].SequenceNumber+1 {
			d.state = SequenceSkipped
			return d.state, nil
		}
	}

	last := d.frames[len(d.frames)-1]
	if last.HasFlag(frame.FCFragment) {
		d.state = NeedMore
		return d.state, nil
	}

	total, err := d.validateContentLength()
	if err != nil {
		d.state = InvalidContentLength
		return d.state, nil
	}
	if d.MaxMessageLen > 0 && total > d.MaxMessageLen {
		return d.state, ErrMessageTooLarge{total, d.MaxMessageLen}
	}

	d.state = Ready
	return d.state, nil
}

// validateContentLength checks that every fragment frame declares the same
// total_content_length and that the sum of payload bytes equals it
// (spec §4.4 step 6).
func (d *Decoder) validateContentLength() (int, error) {
	var declared uint16
	var haveDeclared bool
	sum := 0
	for _, f := range d.frames {
		sum += len(f.Data)
		if f.HasFlag(frame.FCFragment) {
			if !haveDeclared {
				declared = f.TotalContentLength
				haveDeclared = true
			} else if f.TotalContentLength != declared {
				return 0, errors.New("inconsistent total_content_length across fragments")
			}
		}
	}
	if haveDeclared && sum != int(declared) {
		return 0, errors.New("reassembled length does not match declared total_content_length")
	}
	return sum, nil
}

// Drain concatenates the accumulated payload bytes in sequence order and
// resets the decoder to Empty. Valid only when State() == Ready.
func (d *Decoder) Drain() ([]byte, error) {
	if d.state != Ready {
		return nil, errors.Errorf("fragment: drain called in state %s, want Ready", d.state)
	}
	var out []byte
	for _, f := range d.frames {
		out = append(out, f.Data...)
	}
	d.frames = nil
	d.state = Empty
	return out, nil
}

// Reset unconditionally releases the in-flight frame list (spec §9:
// the decoder's buffer must be released independently of any other
// cleanup path, not only through drain or session teardown).
func (d *Decoder) Reset() {
	d.frames = nil
	d.state = Empty
}
