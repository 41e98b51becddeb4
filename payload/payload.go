// Package payload maps (type, subtype, bytes) to and from BluFi's tagged
// payload value model (spec §4.5).
//
// Grounded on the teacher's payload decoding in protocol.go (dispatch on a
// header field, per-variant decode into a closed type), adapted from IKE's
// open extensible payload chain to BluFi's small fixed dispatch table.
package payload

import (
	"github.com/pkg/errors"

	"github.com/wlanprov/blufi/frame"
	"github.com/wlanprov/blufi/wire"
)

// OpMode is the Wi-Fi operation mode carried by SetWifiOpMode.
type OpMode uint8

const (
	OpModeNull   OpMode = 0
	OpModeSta    OpMode = 1
	OpModeSoftAp OpMode = 2
	OpModeBoth   OpMode = 3
)

// Flags is the originating frame_control masked to the subset the
// protocol exposes at the payload level (spec §3).
type Flags struct {
	Encrypted   bool
	HasChecksum bool
	Direction   uint8
	RequiresAck bool
}

func flagsFromFrameControl(fc uint8) Flags {
	return Flags{
		Encrypted:   fc&frame.FCEncrypted != 0,
		HasChecksum: fc&frame.FCHasChecksum != 0,
		Direction:   fc & frame.FCDirection,
		RequiresAck: fc&frame.FCRequiresAck != 0,
	}
}

// Value is the tagged payload sum type. Exactly one of the embedded
// pointers is non-nil, selected by Kind.
type Value struct {
	Kind  Kind
	Flags Flags

	Ack             *Ack
	Negotiation0    *Negotiation0
	Negotiation1    *Negotiation1
	SetSecurityMode *SetSecurityMode
	SetWifiOpMode   *SetWifiOpMode
	CustomData      *CustomData
	GetWifiList     *GetWifiList
	SetSsid         *SetSsid
	SetPassword     *SetPassword
	ConnectAp       *ConnectAp
}

// Kind discriminates the Value arms.
type Kind int

const (
	KindAck Kind = iota
	KindNegotiation0
	KindNegotiation1
	KindSetSecurityMode
	KindSetWifiOpMode
	KindCustomData
	KindGetWifiList
	KindSetSsid
	KindSetPassword
	KindConnectAp
)

type Ack struct{ RequestSequence uint8 }
type Negotiation0 struct{ PkgLen uint16 }
type Negotiation1 struct {
	Prime     []byte
	Generator []byte
	PubKey    []byte
}
type SetSecurityMode struct{ ChecksumEnabled bool }
type SetWifiOpMode struct{ Mode OpMode }
type CustomData struct{ Bytes []byte }
type GetWifiList struct{}
type SetSsid struct{ Ssid string }
type SetPassword struct{ Password string }
type ConnectAp struct{}

// ErrUnsupported reports a (type, subtype) pair recognised at the frame
// level but carrying no payload decoder (spec §4.5: callers may log and
// discard).
type ErrUnsupported struct {
	Type    frame.Type
	Subtype uint8
}

func (e ErrUnsupported) Error() string {
	return "blufi: payload: no decoder for this (type, subtype) pair"
}

// Decode dispatches on (f.Type, f.Subtype) and parses data (the drained
// fragment payload) into a tagged Value.
func Decode(f *frame.Frame, data []byte) (*Value, error) {
	flags := flagsFromFrameControl(f.FrameControl)

	switch f.Type {
	case frame.Control:
		switch f.Subtype {
		case frame.SubtypeAck:
			if len(data) != 1 {
				return nil, errors.New("blufi: payload: Ack requires exactly 1 byte")
			}
			return &Value{Kind: KindAck, Flags: flags, Ack: &Ack{RequestSequence: data[0]}}, nil
		case frame.SubtypeSetSecurityMode:
			if len(data) != 1 {
				return nil, errors.New("blufi: payload: SetSecurityMode requires exactly 1 byte")
			}
			return &Value{Kind: KindSetSecurityMode, Flags: flags, SetSecurityMode: &SetSecurityMode{ChecksumEnabled: data[0] != 0}}, nil
		case frame.SubtypeSetOpMode:
			if len(data) != 1 {
				return nil, errors.New("blufi: payload: SetWifiOpMode requires exactly 1 byte")
			}
			return &Value{Kind: KindSetWifiOpMode, Flags: flags, SetWifiOpMode: &SetWifiOpMode{Mode: OpMode(data[0])}}, nil
		case frame.SubtypeConnectAp:
			return &Value{Kind: KindConnectAp, Flags: flags, ConnectAp: &ConnectAp{}}, nil
		case frame.SubtypeGetWifiList:
			return &Value{Kind: KindGetWifiList, Flags: flags, GetWifiList: &GetWifiList{}}, nil
		}
	case frame.Data:
		switch f.Subtype {
		case frame.SubtypeNegotiation:
			return decodeNegotiation(flags, data)
		case frame.SubtypeSsid:
			return &Value{Kind: KindSetSsid, Flags: flags, SetSsid: &SetSsid{Ssid: string(data)}}, nil
		case frame.SubtypePassword:
			return &Value{Kind: KindSetPassword, Flags: flags, SetPassword: &SetPassword{Password: string(data)}}, nil
		case frame.SubtypeCustomData:
			return &Value{Kind: KindCustomData, Flags: flags, CustomData: &CustomData{Bytes: append([]byte(nil), data...)}}, nil
		}
	}
	return nil, ErrUnsupported{f.Type, f.Subtype}
}

// decodeNegotiation handles the Negotiation0/Negotiation1 tag byte split
// (spec §4.5). Length prefixes here are big-endian — an intrinsic
// asymmetry with the frame header's little-endian fields (see wire.go).
func decodeNegotiation(flags Flags, data []byte) (*Value, error) {
	if len(data) < 1 {
		return nil, errors.New("blufi: payload: negotiation frame missing tag byte")
	}
	tag := data[0]
	body := data[1:]

	switch tag {
	case 0:
		pkgLen, err := wire.Uint16BE(body, 0)
		if err != nil {
			return nil, errors.Wrap(err, "decoding Negotiation0.pkg_len")
		}
		return &Value{Kind: KindNegotiation0, Flags: flags, Negotiation0: &Negotiation0{PkgLen: pkgLen}}, nil
	case 1:
		off := 0
		primeLen, err := wire.Uint16BE(body, off)
		if err != nil {
			return nil, errors.Wrap(err, "decoding Negotiation1.prime_len")
		}
		off += 2
		if off+int(primeLen) > len(body) {
			return nil, errors.New("blufi: payload: Negotiation1 prime overruns buffer")
		}
		prime := body[off : off+int(primeLen)]
		off += int(primeLen)

		generatorLen, err := wire.Uint16BE(body, off)
		if err != nil {
			return nil, errors.Wrap(err, "decoding Negotiation1.generator_len")
		}
		off += 2
		if off+int(generatorLen) > len(body) {
			return nil, errors.New("blufi: payload: Negotiation1 generator overruns buffer")
		}
		generator := body[off : off+int(generatorLen)]
		off += int(generatorLen)

		pubkeyLen, err := wire.Uint16BE(body, off)
		if err != nil {
			return nil, errors.Wrap(err, "decoding Negotiation1.pubkey_len")
		}
		off += 2
		if off+int(pubkeyLen) > len(body) {
			return nil, errors.New("blufi: payload: Negotiation1 pubkey overruns buffer")
		}
		pubkey := body[off : off+int(pubkeyLen)]

		return &Value{
			Kind:  KindNegotiation1,
			Flags: flags,
			Negotiation1: &Negotiation1{
				Prime:     append([]byte(nil), prime...),
				Generator: append([]byte(nil), generator...),
				PubKey:    append([]byte(nil), pubkey...),
			},
		}, nil
	default:
		return nil, errors.Errorf("blufi: payload: unknown negotiation tag %d", tag)
	}
}

// EncodeAck builds the Ack payload bytes, echoing sequenceNumber−1
// (spec §4.7 post_ack).
func EncodeAck(sequenceNumber uint8) []byte {
	return []byte{sequenceNumber - 1}
}

// EncodeNegotiation1 builds the device's Negotiation(1) payload: the raw
// public key blob, no length prefix (the payload *is* the key).
func EncodeNegotiation1(publicKey []byte) []byte {
	return append([]byte(nil), publicKey...)
}

// EncodeCustomData builds a CustomData payload (raw blob passthrough).
func EncodeCustomData(data []byte) []byte {
	return append([]byte(nil), data...)
}

// WifiAp is one entry in a Wi-Fi scan result list (spec §4.7).
type WifiAp struct {
	Ssid string
	Rssi int8
}

// notExistApSentinel is the client-compatibility workaround the reference
// implementation always prepends to a Wi-Fi list response.
var notExistApSentinel = WifiAp{Ssid: "not exist ap", Rssi: -1}

// EncodeWifiList builds the Wi-Fi list payload: for each AP, a 1-byte
// length (len(ssid)+1), a 1-byte signed rssi, then the raw ssid bytes.
// The sentinel "not exist ap" entry (rssi 0xFF) is always prepended.
func EncodeWifiList(aps []WifiAp) []byte {
	all := append([]WifiAp{notExistApSentinel}, aps...)
	var out []byte
	for _, ap := range all {
		out = append(out, byte(len(ap.Ssid)+1), byte(ap.Rssi))
		out = append(out, []byte(ap.Ssid)...)
	}
	return out
}
