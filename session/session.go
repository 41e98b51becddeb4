// Package session multiplexes one peer's inbound and outbound BluFi
// sequence-numbered stream: frame decode, Diffie-Hellman negotiation,
// AES-CFB128 encrypt/decrypt, and the high-level post_* operations the
// handler state machine drives (spec §4.7).
//
// Grounded on the teacher's session.go bookkeeping — isMessageValid's
// sequence-number checks, handleEncryptedMessage's decrypt-then-decode
// order, sendMsg/msgIdInc's outbound sequencing — generalized from IKE's
// request/response message IDs to BluFi's single per-direction counter,
// and from the teacher's channel/select event loop to the mutex-guarded
// synchronous callback model spec §5 requires (see DESIGN.md).
package session

import (
	"math/big"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/wlanprov/blufi/crypto"
	"github.com/wlanprov/blufi/fragment"
	"github.com/wlanprov/blufi/frame"
	"github.com/wlanprov/blufi/payload"
)

// DefaultMTU is the effective link MTU used until the transport updates it
// (spec §4.7: "the reference implementation uses 125").
const DefaultMTU = 125

// MinMTU is the smallest MTU the session will accept (spec §3: "bounded
// >= 12").
const MinMTU = 12

// Writer transmits a list of already-encoded frames to the peer as
// notifications. It is invoked while the session mutex is held and must
// not block (spec §5/§6).
type Writer interface {
	Write(frames []*frame.Frame) error
}

// ErrSequenceViolation reports an inbound frame whose sequence_number did
// not equal the expected app_sequence_number (spec §7).
type ErrSequenceViolation struct {
	Got, Want uint8
}

func (e ErrSequenceViolation) Error() string {
	return "blufi: session: sequence violation"
}

// ErrNotNegotiated reports an attempted encrypted-tier post before the
// Diffie-Hellman handshake completed (spec §7).
var ErrNotNegotiated = errors.New("blufi: session: not negotiated")

// ErrWriterFailure wraps a transport write failure, propagated verbatim
// (spec §7).
type ErrWriterFailure struct{ Err error }

func (e ErrWriterFailure) Error() string { return "blufi: session: writer failed: " + e.Err.Error() }
func (e ErrWriterFailure) Unwrap() error { return e.Err }

// FragmentState reports the terminal states a fragment decoder may be
// left in after Update; anything other than NeedMore/Ready/Empty is a
// session failure the caller should tear the session down over.
type FragmentState = fragment.State

// Session owns one peer connection's sequence numbers, keys, decoder, and
// outbound writer (spec §3 "Session").
type Session struct {
	mu sync.Mutex

	mtu int

	appSequenceNumber    uint8
	deviceSequenceNumber uint8

	keys       *crypto.KeyPair
	sharedKey  [16]byte
	negotiated bool

	decoder *fragment.Decoder
	writer  Writer
	log     log.Logger
}

// New constructs a Session bound to writer, with sequence numbers at zero
// and a default MTU (spec §4.7 Construction).
func New(writer Writer, logger log.Logger) *Session {
	return NewWithConfig(writer, logger, DefaultConfig())
}

// NewWithConfig constructs a Session per cfg (spec §4.10), for callers that
// need a non-default MTU, message ceiling, or starting sequence numbers
// (e.g. tests resuming mid-stream).
func NewWithConfig(writer Writer, logger log.Logger, cfg Config) *Session {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	decoder := fragment.NewDecoder()
	if cfg.MaxMessageLen > 0 {
		decoder.MaxMessageLen = cfg.MaxMessageLen
	}
	return &Session{
		mtu:                  mtu,
		appSequenceNumber:    cfg.StartingAppSequenceNumber,
		deviceSequenceNumber: cfg.StartingDeviceSequenceNumber,
		decoder:              decoder,
		writer:               writer,
		log:                  logger,
	}
}

// SetMTU updates the effective link MTU; must be called before any
// post-operation to take effect on that operation's fragmentation.
func (s *Session) SetMTU(mtu int) error {
	if mtu < MinMTU {
		return errors.Errorf("blufi: session: mtu %d below minimum %d", mtu, MinMTU)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mtu = mtu
	return nil
}

// Negotiated reports whether the Diffie-Hellman handshake has completed.
func (s *Session) Negotiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated
}

// AppSequenceNumber reports the next expected inbound sequence number.
func (s *Session) AppSequenceNumber() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appSequenceNumber
}

// Update decodes one frame out of b, decrypts it if required, enforces
// sequence and direction, and forwards it to the fragment decoder
// (spec §4.7 update(bytes)).
func (s *Session) Update(b []byte) (FragmentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := frame.Decode(b)
	if err != nil {
		return fragment.Empty, err
	}

	if f.HasFlag(frame.FCEncrypted) && s.negotiated {
		if err := crypto.CryptCFB128(s.sharedKey, f.SequenceNumber, f.Data, true, s.log); err != nil {
			return fragment.Empty, crypto.ErrCryptoFailure{Err: err}
		}
	}

	if f.SequenceNumber != s.appSequenceNumber {
		return fragment.Empty, ErrSequenceViolation{Got: f.SequenceNumber, Want: s.appSequenceNumber}
	}
	if f.FrameControl&frame.FCDirection != frame.DirectionAppToDevice {
		return fragment.Empty, errors.New("blufi: session: unexpected device-to-app direction on inbound frame")
	}

	state, err := s.decoder.Update(f)
	if err != nil {
		return state, err
	}
	if state == fragment.NeedMore || state == fragment.Ready {
		s.appSequenceNumber++
	}
	return state, nil
}

// DecodeFrame drains the fragment decoder (when Ready) and runs the
// payload codec over the reassembled bytes, using hdr's
// type/subtype/frame_control as the dispatch key (spec §4.7 decode()).
// hdr is normally the last frame handed to Update. Returns nil, nil when
// the decoder is not Ready.
func (s *Session) DecodeFrame(hdr *frame.Frame) (*payload.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decoder.State() != fragment.Ready {
		return nil, nil
	}
	data, err := s.decoder.Drain()
	if err != nil {
		return nil, err
	}
	return payload.Decode(hdr, data)
}

// PostAck encodes a single-frame Control/Ack acknowledging the last
// consumed inbound sequence number (spec §4.7 post_ack).
func (s *Session) PostAck() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.postUnencrypted(frame.Control, frame.SubtypeAck, payload.EncodeAck(s.appSequenceNumber))
}

// PostNegotiation encodes a single Data/Negotiation frame carrying
// publicKey and, on success, marks the session negotiated (spec §4.7
// post_negotiation).
func (s *Session) PostNegotiation(publicKey []byte, sharedSecret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := payload.EncodeNegotiation1(publicKey)
	if err := s.postUnencrypted(frame.Data, frame.SubtypeNegotiation, body); err != nil {
		return err
	}
	s.sharedKey = crypto.DeriveKey(sharedSecret)
	s.negotiated = true
	level.Info(s.log).Log("msg", "session negotiated")
	return nil
}

// PostCustomData encodes and transmits a CustomData frame. Requires a
// completed negotiation (spec §4.7 post_custom_data).
func (s *Session) PostCustomData(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.negotiated {
		return ErrNotNegotiated
	}
	return s.postEncrypted(frame.Data, frame.SubtypeCustomData, payload.EncodeCustomData(data))
}

// PostWifiList encodes and transmits a Wi-Fi scan result list. Requires a
// completed negotiation (spec §4.7 post_wifi_list).
func (s *Session) PostWifiList(aps []payload.WifiAp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.negotiated {
		return ErrNotNegotiated
	}
	return s.postEncrypted(frame.Data, frame.SubtypeWifiList, payload.EncodeWifiList(aps))
}

// GenerateKeyPair draws this side's Diffie-Hellman key pair, grounded on
// crypto.GenerateKeyPair, and remembers it for DeriveShared.
func (s *Session) GenerateKeyPair() (*crypto.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair(crypto.DHPrime1024, s.log)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.keys = kp
	s.mu.Unlock()
	return kp, nil
}

// DeriveShared computes the shared secret from the peer's public key,
// using this session's stored private key.
func (s *Session) DeriveShared(peerPublic *big.Int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys.DeriveShared(peerPublic)
	return s.keys.SharedSecretBytes()
}

// Close releases the session's decoder and key material unconditionally
// (spec §9: both the handler's slot-free and the session's own teardown
// must independently release their resources — do not rely on only one
// path running).
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoder.Reset()
	s.keys = nil
	s.sharedKey = [16]byte{}
	s.negotiated = false
}

func (s *Session) postUnencrypted(t frame.Type, subtype uint8, body []byte) error {
	return s.post(t, subtype, body, false)
}

func (s *Session) postEncrypted(t frame.Type, subtype uint8, body []byte) error {
	return s.post(t, subtype, body, s.negotiated)
}

// post fragments body by the current MTU starting at
// device_sequence_number, encrypts each frame's payload in place when
// encrypt is true, hands the whole frame list to the writer in one Write
// call, and on success advances device_sequence_number by the number of
// frames written (spec §4.7).
func (s *Session) post(t frame.Type, subtype uint8, body []byte, encrypt bool) error {
	fc := uint8(frame.FCDirection)
	if encrypt {
		fc |= frame.FCEncrypted
	}

	frames, err := fragment.Encode(body, fragment.EncodeOptions{
		Type:           t,
		Subtype:        subtype,
		FrameControl:   fc,
		SequenceNumber: s.deviceSequenceNumber,
		MTU:            s.mtu,
	})
	if err != nil {
		return err
	}

	if encrypt {
		for _, f := range frames {
			if err := crypto.CryptCFB128(s.sharedKey, f.SequenceNumber, f.Data, false, s.log); err != nil {
				return crypto.ErrCryptoFailure{Err: err}
			}
		}
	}

	if err := s.writer.Write(frames); err != nil {
		return ErrWriterFailure{Err: err}
	}
	s.deviceSequenceNumber += uint8(len(frames))
	return nil
}
