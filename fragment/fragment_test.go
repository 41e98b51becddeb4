package fragment

import (
	"bytes"
	"testing"

	"github.com/wlanprov/blufi/frame"
)

func makeFrame(t *testing.T, fc uint8, seq uint8, data []byte, fragment bool, total uint16) *frame.Frame {
	t.Helper()
	f := &frame.Frame{
		Type:           frame.Data,
		Subtype:        frame.SubtypeCustomData,
		FrameControl:   fc,
		SequenceNumber: seq,
		Data:           data,
	}
	if fragment {
		f.FrameControl |= frame.FCFragment
		f.TotalContentLength = total
		f.DataLength = uint8(len(data) + 2)
	} else {
		f.DataLength = uint8(len(data))
	}
	return f
}

func TestTwoFrameFragmentedCustomData(t *testing.T) {
	payload := []byte("AABBCCDDEEFF") // 12 bytes, A..L stand-in
	frames, err := Encode(payload, EncodeOptions{
		Type:           frame.Data,
		Subtype:        frame.SubtypeCustomData,
		FrameControl:   frame.FCDirection,
		SequenceNumber: 0,
		MTU:            10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !frames[0].HasFlag(frame.FCFragment) || frames[0].DataLength != 4 || frames[0].TotalContentLength != 12 {
		t.Fatalf("frame0 = %+v", frames[0])
	}
	if !bytes.Equal(frames[0].Data, payload[:2]) {
		t.Fatalf("frame0 data = %x, want %x", frames[0].Data, payload[:2])
	}
	if frames[1].HasFlag(frame.FCFragment) || frames[1].DataLength != 10 {
		t.Fatalf("frame1 = %+v", frames[1])
	}
	if !bytes.Equal(frames[1].Data, payload[2:]) {
		t.Fatalf("frame1 data = %x, want %x", frames[1].Data, payload[2:])
	}

	d := NewDecoder()
	s1, err := d.Update(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if s1 != NeedMore {
		t.Fatalf("state after frame0 = %s, want NeedMore", s1)
	}
	s2, err := d.Update(frames[1])
	if err != nil {
		t.Fatal(err)
	}
	if s2 != Ready {
		t.Fatalf("state after frame1 = %s, want Ready", s2)
	}

	out, err := d.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("drain = %q, want %q", out, payload)
	}
	if d.State() != Empty {
		t.Fatalf("state after drain = %s, want Empty", d.State())
	}
}

func TestChecksumMismatch(t *testing.T) {
	data := []byte("HELLO")
	d := NewDecoder()
	f := makeFrame(t, frame.FCHasChecksum|frame.FCDirection, 5, data, false, 0)
	f.CheckSum = 0x0000 // deliberately wrong

	state, err := d.Update(f)
	if err != nil {
		t.Fatal(err)
	}
	if state != ChecksumMismatch {
		t.Fatalf("state = %s, want ChecksumMismatch", state)
	}
}

func TestSequenceSkip(t *testing.T) {
	d := NewDecoder()
	f0 := makeFrame(t, frame.FCDirection|frame.FCFragment, 0, []byte{0x01, 0x02}, true, 4)
	f2 := makeFrame(t, frame.FCDirection, 2, []byte{0x03, 0x04}, false, 0)

	if _, err := d.Update(f0); err != nil {
		t.Fatal(err)
	}
	state, err := d.Update(f2)
	if err != nil {
		t.Fatal(err)
	}
	if state != SequenceSkipped {
		t.Fatalf("state = %s, want SequenceSkipped", state)
	}
}

func TestDirectionMismatch(t *testing.T) {
	d := NewDecoder()
	f0 := makeFrame(t, 0, 0, []byte{0x01}, false, 0)
	f1 := makeFrame(t, frame.FCDirection, 1, []byte{0x02}, false, 0)

	if _, err := d.Update(f0); err != nil {
		t.Fatal(err)
	}
	state, err := d.Update(f1)
	if err != nil {
		t.Fatal(err)
	}
	if state != DirectionMismatch {
		t.Fatalf("state = %s, want DirectionMismatch", state)
	}
}

func TestEncodeDecodeRoundTripSingleFrame(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	frames, err := Encode(payload, EncodeOptions{
		Type:           frame.Control,
		Subtype:        frame.SubtypeAck,
		FrameControl:   frame.FCDirection,
		SequenceNumber: 9,
		MTU:            125,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	d := NewDecoder()
	state, err := d.Update(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if state != Ready {
		t.Fatalf("state = %s, want Ready", state)
	}
	out, err := d.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("drain = %x, want %x", out, payload)
	}
}

func TestInvalidMTU(t *testing.T) {
	if _, err := Encode([]byte{1, 2, 3}, EncodeOptions{MTU: 10 /* c=4, ok */}); err != nil {
		t.Fatal(err)
	}
	if _, err := Encode([]byte{1, 2, 3}, EncodeOptions{MTU: 6}); err != ErrInvalidMTU {
		t.Fatalf("err = %v, want ErrInvalidMTU", err)
	}
}

func TestResetReleasesBuffer(t *testing.T) {
	d := NewDecoder()
	f0 := makeFrame(t, frame.FCDirection|frame.FCFragment, 0, []byte{0x01, 0x02}, true, 4)
	if _, err := d.Update(f0); err != nil {
		t.Fatal(err)
	}
	d.Reset()
	if d.State() != Empty {
		t.Fatalf("state after reset = %s, want Empty", d.State())
	}
}

func TestMessageTooLarge(t *testing.T) {
	d := NewDecoder()
	d.MaxMessageLen = 4

	f0 := makeFrame(t, frame.FCDirection|frame.FCFragment, 0, []byte{0x01, 0x02}, true, 6)
	if _, err := d.Update(f0); err != nil {
		t.Fatal(err)
	}
	f1 := makeFrame(t, frame.FCDirection, 1, []byte{0x03, 0x04, 0x05, 0x06}, false, 0)
	_, err := d.Update(f1)
	if err == nil {
		t.Fatal("expected ErrMessageTooLarge")
	}
	if _, ok := err.(ErrMessageTooLarge); !ok {
		t.Fatalf("err = %T, want ErrMessageTooLarge", err)
	}
}
