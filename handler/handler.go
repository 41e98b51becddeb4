// Package handler drives the negotiation → credential-exchange → connect
// dialogue (spec §4.8) on top of one session.Session, dispatching decoded
// payload values to the Wi-Fi driver, command dispatcher, and token store
// collaborators.
//
// Grounded on the teacher's session.go per-message-type callback table
// (HandleIkeSaInit, HandleIkeAuth, CheckSa — one method per inbound message
// kind, mutating a Config/Session in place as the exchange proceeds) and
// config.go's "negotiated values accumulate on a plain struct" shape, which
// the slot fields below reproduce directly. The teacher's generic event-bus
// (msgboxio/state.Fsm) has no fetchable module and no matching shape here —
// §4.8's table is a flat one-payload-at-a-time dispatch, so Handle uses a
// plain switch on payload.Value.Kind instead.
package handler

import (
	"math/big"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/wlanprov/blufi/payload"
	"github.com/wlanprov/blufi/session"
)

// WifiDriver is the Wi-Fi collaborator the handler drives (spec §6).
type WifiDriver interface {
	// StartScan begins an asynchronous scan; results later reach the
	// handler through OnScanComplete.
	StartScan() error
	SetCredentials(ssid, password string) error
	Reconnect() error
}

// CommandDispatcher executes an application-level custom command and
// invokes reply with the response bytes once available (spec §6
// execute_custom_cmd). reply may be called synchronously or later.
type CommandDispatcher interface {
	Execute(data []byte, reply func([]byte)) error
}

// TokenStore reports whether a device token is already held, in which case
// SSID/Password writes are ignored and ConnectAp answers with a Status
// response instead of touching the Wi-Fi driver (spec §6/§4.8).
type TokenStore interface {
	HasDeviceToken() bool
}

// ErrAssertionFailed reports a §4.8 precondition the peer violated that this
// Config treats as fatal rather than advisory.
type ErrAssertionFailed struct{ Reason string }

func (e ErrAssertionFailed) Error() string { return "blufi: handler: assertion failed: " + e.Reason }

// ErrNegotiationAlreadyComplete reports a second Negotiation1 on a session
// that already completed one (spec §4.8: "Negotiation1 not yet set").
var ErrNegotiationAlreadyComplete = errors.New("blufi: handler: negotiation already completed")

// statusOK is the single-byte Status CustomData body emitted in place of a
// Wi-Fi connect attempt when a device token is already held.
var statusOK = []byte{0x00}

// Handler holds one connection's dialogue state: the session it drives and
// the slot values retained across the exchange (spec §3 "Handler context").
type Handler struct {
	mu sync.Mutex

	sess   *session.Session
	wifi   WifiDriver
	cmds   CommandDispatcher
	tokens TokenStore
	cfg    Config
	log    log.Logger

	negotiation0 *payload.Negotiation0
	negotiation1 *payload.Negotiation1
	securityMode *payload.SetSecurityMode
	opMode       *payload.SetWifiOpMode
	ssid         *payload.SetSsid
	password     *payload.SetPassword
}

// New constructs a Handler bound to sess and its collaborators.
func New(sess *session.Session, wifi WifiDriver, cmds CommandDispatcher, tokens TokenStore, cfg Config, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{sess: sess, wifi: wifi, cmds: cmds, tokens: tokens, cfg: cfg, log: logger}
}

// Handle dispatches one decoded payload value per the §4.8 transition
// table. Callers run decoded payloads through Handle to completion before
// feeding the session the next inbound frame (spec §4.8 "cooperative-
// sequential").
func (h *Handler) Handle(v *payload.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch v.Kind {
	case payload.KindAck:
		return nil
	case payload.KindNegotiation0:
		h.negotiation0 = v.Negotiation0
		return nil
	case payload.KindNegotiation1:
		return h.handleNegotiation1(v.Negotiation1)
	case payload.KindSetSecurityMode:
		return h.handleSetSecurityMode(v)
	case payload.KindSetWifiOpMode:
		return h.handleSetWifiOpMode(v)
	case payload.KindCustomData:
		return h.handleCustomData(v.CustomData)
	case payload.KindGetWifiList:
		return h.requireNegotiated(h.wifi.StartScan)
	case payload.KindSetSsid:
		return h.handleSetSsid(v.SetSsid)
	case payload.KindSetPassword:
		return h.handleSetPassword(v.SetPassword)
	case payload.KindConnectAp:
		return h.handleConnectAp()
	default:
		level.Warn(h.log).Log("msg", "unhandled payload kind", "kind", v.Kind)
		return nil
	}
}

func (h *Handler) requireNegotiated(fn func() error) error {
	if !h.sess.Negotiated() {
		return session.ErrNotNegotiated
	}
	return fn()
}

// handleNegotiation1 generates this side's DH pair, derives the shared
// secret against the peer's public key, and posts the public key back —
// the session becomes negotiated on success (spec §4.8 Negotiation1 row).
// The peer's public key is used as received; it is not authenticated, so an
// on-path attacker can substitute its own key (inherited from BluFi v1).
func (h *Handler) handleNegotiation1(n1 *payload.Negotiation1) error {
	if h.negotiation1 != nil {
		return ErrNegotiationAlreadyComplete
	}

	kp, err := h.sess.GenerateKeyPair()
	if err != nil {
		return err
	}
	peerPublic := new(big.Int).SetBytes(n1.PubKey)
	shared := h.sess.DeriveShared(peerPublic)

	if err := h.sess.PostNegotiation(kp.PublicKeyBytes(), shared); err != nil {
		return err
	}
	h.negotiation1 = n1
	level.Info(h.log).Log("msg", "negotiation complete")
	return nil
}

func (h *Handler) handleSetSecurityMode(v *payload.Value) error {
	if !h.sess.Negotiated() {
		return session.ErrNotNegotiated
	}
	h.securityMode = v.SetSecurityMode
	if !v.SetSecurityMode.ChecksumEnabled {
		if h.cfg.RequireChecksumEnabled {
			return ErrAssertionFailed{"SetSecurityMode.checksum_enabled == false"}
		}
		level.Warn(h.log).Log("msg", "peer disabled checksum", "subtype", "SetSecurityMode")
	}
	return nil
}

func (h *Handler) handleSetWifiOpMode(v *payload.Value) error {
	if !h.sess.Negotiated() {
		return session.ErrNotNegotiated
	}
	h.opMode = v.SetWifiOpMode
	if v.Flags.RequiresAck {
		if err := h.sess.PostAck(); err != nil {
			return err
		}
	}
	if v.SetWifiOpMode.Mode != payload.OpModeSta {
		if h.cfg.RequireStaMode {
			return ErrAssertionFailed{"SetWifiOpMode.mode != Sta"}
		}
		level.Warn(h.log).Log("msg", "peer requested non-Sta op mode", "mode", v.SetWifiOpMode.Mode)
	}
	return nil
}

func (h *Handler) handleCustomData(cd *payload.CustomData) error {
	if !h.sess.Negotiated() {
		return session.ErrNotNegotiated
	}
	return h.cmds.Execute(cd.Bytes, func(resp []byte) {
		if err := h.sess.PostCustomData(resp); err != nil {
			level.Warn(h.log).Log("msg", "posting custom data reply failed", "err", err)
		}
	})
}

func (h *Handler) handleSetSsid(s *payload.SetSsid) error {
	if !h.sess.Negotiated() {
		return session.ErrNotNegotiated
	}
	if h.tokens.HasDeviceToken() {
		return nil
	}
	h.ssid = s
	return nil
}

func (h *Handler) handleSetPassword(p *payload.SetPassword) error {
	if !h.sess.Negotiated() {
		return session.ErrNotNegotiated
	}
	if h.tokens.HasDeviceToken() {
		return nil
	}
	h.password = p
	return nil
}

// handleConnectAp calls the Wi-Fi collaborator with the stored credentials,
// or, if a device token is already held, answers with a Status CustomData
// instead of touching the Wi-Fi driver (spec §4.8 ConnectAp row).
func (h *Handler) handleConnectAp() error {
	if !h.sess.Negotiated() {
		return session.ErrNotNegotiated
	}
	if h.tokens.HasDeviceToken() {
		return h.sess.PostCustomData(statusOK)
	}
	if h.ssid == nil || h.password == nil {
		return ErrAssertionFailed{"ConnectAp requires both Ssid and Password to be set"}
	}
	if err := h.wifi.SetCredentials(h.ssid.Ssid, h.password.Password); err != nil {
		return err
	}
	return h.wifi.Reconnect()
}

// OnScanComplete is the Wi-Fi collaborator's scan-completion callback
// (spec §6 on_scan_complete); it posts the results as a WifiList frame.
func (h *Handler) OnScanComplete(aps []payload.WifiAp) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess.PostWifiList(aps)
}

// Disconnect releases the handler's slot values and tears the session down.
// Both release paths are unconditional and independent of one another
// (spec §9 "Potential bug observed" — session.Session.Close independently
// drops the fragment decoder and keys; this method independently drops the
// slots, so neither path is "redundant" with the other).
func (h *Handler) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.negotiation0 = nil
	h.negotiation1 = nil
	h.securityMode = nil
	h.opMode = nil
	h.ssid = nil
	h.password = nil
	h.sess.Close()
}
