package session

import (
	"bytes"
	"testing"

	"github.com/wlanprov/blufi/crypto"
	"github.com/wlanprov/blufi/fragment"
	"github.com/wlanprov/blufi/frame"
	"github.com/wlanprov/blufi/payload"
)

type recordingWriter struct {
	frames [][]*frame.Frame
}

func (w *recordingWriter) Write(frames []*frame.Frame) error {
	w.frames = append(w.frames, frames)
	return nil
}

type failingWriter struct{ err error }

func (w *failingWriter) Write(frames []*frame.Frame) error { return w.err }

func TestPostAckEncodesLastAcknowledgedSequence(t *testing.T) {
	w := &recordingWriter{}
	s := New(w, nil)
	s.appSequenceNumber = 5

	if err := s.PostAck(); err != nil {
		t.Fatal(err)
	}
	got := w.frames[0][0]
	if !bytes.Equal(got.Data, []byte{4}) {
		t.Fatalf("ack payload = %x, want 04", got.Data)
	}
	if got.FrameControl&frame.FCDirection == 0 {
		t.Fatal("expected Direction=device->app on posted ack")
	}
}

func TestUpdateEnforcesSequence(t *testing.T) {
	w := &recordingWriter{}
	s := New(w, nil)

	f := &frame.Frame{Type: frame.Control, Subtype: frame.SubtypeAck, FrameControl: 0, SequenceNumber: 1, DataLength: 1, Data: []byte{0}}
	b, err := frame.Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(b); err == nil {
		t.Fatal("expected ErrSequenceViolation for out-of-order first frame")
	}
	if s.AppSequenceNumber() != 0 {
		t.Fatal("sequence number must not advance on violation")
	}
}

func TestUpdateAdvancesSequenceOnReady(t *testing.T) {
	w := &recordingWriter{}
	s := New(w, nil)

	f := &frame.Frame{Type: frame.Control, Subtype: frame.SubtypeAck, FrameControl: 0, SequenceNumber: 0, DataLength: 1, Data: []byte{6}}
	b, err := frame.Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	state, err := s.Update(b)
	if err != nil {
		t.Fatal(err)
	}
	if state != fragment.Ready {
		t.Fatalf("state = %v, want Ready", state)
	}
	if s.AppSequenceNumber() != 1 {
		t.Fatalf("app_sequence_number = %d, want 1", s.AppSequenceNumber())
	}

	v, err := s.DecodeFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != payload.KindAck || v.Ack.RequestSequence != 6 {
		t.Fatalf("got %+v", v)
	}
}

func TestPostCustomDataRequiresNegotiation(t *testing.T) {
	w := &recordingWriter{}
	s := New(w, nil)
	if err := s.PostCustomData([]byte("hi")); err != ErrNotNegotiated {
		t.Fatalf("err = %v, want ErrNotNegotiated", err)
	}
}

func TestWriterFailurePropagatesVerbatim(t *testing.T) {
	underlying := errNewWriterFailure
	w := &failingWriter{err: underlying}
	s := New(w, nil)

	err := s.PostAck()
	wf, ok := err.(ErrWriterFailure)
	if !ok {
		t.Fatalf("err = %T, want ErrWriterFailure", err)
	}
	if wf.Unwrap() != underlying {
		t.Fatal("underlying writer error not preserved")
	}
}

var errNewWriterFailure = &testError{"transport closed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestNegotiationHandshakeEndToEnd(t *testing.T) {
	deviceWriter := &recordingWriter{}
	device := New(deviceWriter, nil)

	peerKeys, err := crypto.GenerateKeyPair(crypto.DHPrime1024, nil)
	if err != nil {
		t.Fatal(err)
	}

	deviceKeys, err := device.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	peerShared := peerKeys.DeriveShared(deviceKeys.Public)
	_ = peerShared
	deviceShared := device.DeriveShared(peerKeys.Public)

	if err := device.PostNegotiation(deviceKeys.PublicKeyBytes(), deviceShared); err != nil {
		t.Fatal(err)
	}
	if !device.Negotiated() {
		t.Fatal("expected session to be negotiated after PostNegotiation")
	}

	peerDerivedKey := crypto.DeriveKey(peerKeys.SharedSecretBytes())
	deviceDerivedKey := crypto.DeriveKey(deviceShared)
	if peerDerivedKey != deviceDerivedKey {
		t.Fatalf("MD5(shared_secret) mismatch: peer=%x device=%x", peerDerivedKey, deviceDerivedKey)
	}

	// The 128-byte key exceeds the per-frame capacity at DefaultMTU
	// (125-6 = 119 bytes), so it goes out as two frames in one Write.
	if len(deviceWriter.frames) != 1 || len(deviceWriter.frames[0]) != 2 {
		t.Fatalf("expected one write of two negotiation frames, got %+v", deviceWriter.frames)
	}
	negFrame := deviceWriter.frames[0][0]
	if negFrame.Type != frame.Data || negFrame.Subtype != frame.SubtypeNegotiation {
		t.Fatalf("unexpected negotiation frame: %+v", negFrame)
	}
}

func TestCloseReleasesState(t *testing.T) {
	w := &recordingWriter{}
	s := New(w, nil)
	if _, err := s.GenerateKeyPair(); err != nil {
		t.Fatal(err)
	}
	s.negotiated = true

	s.Close()

	if s.Negotiated() {
		t.Fatal("expected negotiated=false after Close")
	}
	if s.keys != nil {
		t.Fatal("expected keys to be released after Close")
	}
}
