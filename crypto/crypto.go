// Package crypto implements the Diffie-Hellman negotiation and the
// AES-CFB128 symmetric cipher BluFi sessions use once negotiated.
//
// Grounded on the teacher's tkm.go (DhCreate/DhGenerateKey: draw a private
// key, reject and redraw until it is smaller than the prime, then modexp
// for the public/shared value) and crypto/cipher.go (AES via crypto/aes +
// crypto/cipher, go-kit/log leveled dumps of the encrypt/decrypt path).
// BluFi fixes one cipher suite — AES-CFB128 keyed by MD5(shared secret) —
// so there is no transform-negotiation machinery here, unlike the teacher's
// pluggable CipherSuite: that concern simply does not exist for this
// protocol (see DESIGN.md).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// KeySize is the fixed width, in bytes, of the big-endian DH key blobs
// exchanged on the wire (private key, public key and shared secret are all
// serialized to this width).
const KeySize = 128

// DHPrime1024 is BluFi's fixed 1024-bit Diffie-Hellman modulus (RFC 2409
// Second Oakley Group). It and the generator below must be preserved
// bit-exactly across implementations for interoperability (spec §4.2/§6).
const DHPrime1024 = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
	"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
	"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381FFFFFFFFFFFFFFFF"

// DHGenerator is the decimal Diffie-Hellman generator, g=2.
const DHGenerator = 2

var dhMaxRetries = 64

// ErrCryptoFailure wraps an underlying crypto primitive failure (§7
// CryptoFailure).
type ErrCryptoFailure struct {
	Err error
}

func (e ErrCryptoFailure) Error() string { return "blufi: crypto failure: " + e.Err.Error() }
func (e ErrCryptoFailure) Unwrap() error { return e.Err }

// KeyPair holds one side's Diffie-Hellman private/public key pair and,
// once the peer's public key is known, the derived shared secret.
type KeyPair struct {
	Prime   *big.Int
	Private *big.Int
	Public  *big.Int
	Shared  *big.Int
}

// GenerateKeyPair draws a private key x uniformly from 128 random bytes,
// rejecting and redrawing while x >= p (spec §4.2), then computes the
// public key y = g^x mod p.
func GenerateKeyPair(primeHex string, log log.Logger) (*KeyPair, error) {
	p, ok := new(big.Int).SetString(primeHex, 16)
	if !ok {
		return nil, ErrCryptoFailure{errors.New("invalid DH prime")}
	}
	g := big.NewInt(DHGenerator)

	var x *big.Int
	for i := 0; i < dhMaxRetries; i++ {
		buf := make([]byte, KeySize)
		if _, err := rand.Read(buf); err != nil {
			return nil, ErrCryptoFailure{errors.Wrap(err, "reading DH private key entropy")}
		}
		cand := new(big.Int).SetBytes(buf)
		if cand.Cmp(p) < 0 {
			x = cand
			break
		}
	}
	if x == nil {
		return nil, ErrCryptoFailure{errors.New("could not draw a private key smaller than the prime")}
	}

	y := new(big.Int).Exp(g, x, p)
	if log != nil {
		level.Debug(log).Log("msg", "generated DH key pair", "public", hex.EncodeToString(toFixed(y, KeySize)))
	}
	return &KeyPair{Prime: p, Private: x, Public: y}, nil
}

// DeriveShared computes the shared secret s = peerPublic^private mod p and
// stores it on the key pair.
func (k *KeyPair) DeriveShared(peerPublic *big.Int) *big.Int {
	k.Shared = new(big.Int).Exp(peerPublic, k.Private, k.Prime)
	return k.Shared
}

// PublicKeyBytes serializes the public key as a 128-byte big-endian blob.
func (k *KeyPair) PublicKeyBytes() []byte { return toFixed(k.Public, KeySize) }

// PrivateKeyBytes serializes the private key as a 128-byte big-endian blob.
func (k *KeyPair) PrivateKeyBytes() []byte { return toFixed(k.Private, KeySize) }

// SharedSecretBytes serializes the shared secret as a 128-byte big-endian
// blob, or nil if DeriveShared has not been called yet.
func (k *KeyPair) SharedSecretBytes() []byte {
	if k.Shared == nil {
		return nil
	}
	return toFixed(k.Shared, KeySize)
}

// toFixed serializes n as a big-endian integer padded/truncated to exactly
// width bytes, matching the wire's fixed-width key blobs.
func toFixed(n *big.Int, width int) []byte {
	raw := n.Bytes()
	if len(raw) >= width {
		return raw[len(raw)-width:]
	}
	out := make([]byte, width)
	copy(out[width-len(raw):], raw)
	return out
}

// DeriveKey derives the AES key K = MD5(sharedSecret) (spec §4.2).
//
// MD5 is a known-weak choice of KDF for a 16-byte AES-128 key; it is
// preserved here bit-exactly for interoperability with existing BluFi
// peers, not because it is recommended (see DESIGN.md Open Questions).
func DeriveKey(sharedSecret []byte) [16]byte {
	return md5.Sum(sharedSecret)
}

// IV derives the 16-byte CFB128 IV for a frame carrying the given sequence
// number: byte 0 is the sequence number, the remaining 15 bytes are zero
// (spec §4.2). The same construction is used for inbound decrypt and
// outbound encrypt on the frame with that sequence number.
func IV(sequenceNumber uint8) [16]byte {
	var iv [16]byte
	iv[0] = sequenceNumber
	return iv
}

// CryptCFB128 runs AES-CFB128 over data in place, using key and the IV
// derived from sequenceNumber. CFB128 is symmetric between encrypt and
// decrypt, except for which keystream generator
// (cipher.NewCFBEncrypter/NewCFBDecrypter) is used — the caller selects
// that with decrypt.
func CryptCFB128(key [16]byte, sequenceNumber uint8, data []byte, decrypt bool, log log.Logger) error {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return ErrCryptoFailure{errors.Wrap(err, "creating AES cipher")}
	}
	iv := IV(sequenceNumber)
	var stream cipher.Stream
	if decrypt {
		stream = cipher.NewCFBDecrypter(block, iv[:])
	} else {
		stream = cipher.NewCFBEncrypter(block, iv[:])
	}
	stream.XORKeyStream(data, data)
	if log != nil {
		level.Debug(log).Log(
			"msg", "AES-CFB128 crypt",
			"decrypt", decrypt,
			"seq", sequenceNumber,
			"len", len(data))
	}
	return nil
}
