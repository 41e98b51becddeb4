package crypto

import (
	"bytes"
	"crypto/md5"
	"math/big"
	"testing"
)

func TestDHAgreement(t *testing.T) {
	a, err := GenerateKeyPair(DHPrime1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateKeyPair(DHPrime1024, nil)
	if err != nil {
		t.Fatal(err)
	}

	sharedA := a.DeriveShared(b.Public)
	sharedB := b.DeriveShared(a.Public)

	if sharedA.Cmp(sharedB) != 0 {
		t.Fatalf("shared secrets disagree:\na=%x\nb=%x", sharedA, sharedB)
	}
	if len(a.SharedSecretBytes()) != KeySize {
		t.Fatalf("shared secret blob width = %d, want %d", len(a.SharedSecretBytes()), KeySize)
	}
}

func TestGenerateKeyPairRejectsPrivateKeyAboveModulus(t *testing.T) {
	k, err := GenerateKeyPair(DHPrime1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	if k.Private.Cmp(k.Prime) < 0 {
		return
	}
	t.Fatalf("private key not below prime")
}

func TestGenerateKeyPairInvalidPrime(t *testing.T) {
	if _, err := GenerateKeyPair("not-hex", nil); err == nil {
		t.Fatal("expected error for malformed prime")
	}
}

func TestToFixedPadsAndTruncates(t *testing.T) {
	small := big.NewInt(1)
	got := toFixed(small, 4)
	want := []byte{0, 0, 0, 1}
	if !bytes.Equal(got, want) {
		t.Fatalf("toFixed small = %x, want %x", got, want)
	}

	big1 := new(big.Int).Lsh(big.NewInt(1), 40) // wider than 4 bytes
	got = toFixed(big1, 4)
	if len(got) != 4 {
		t.Fatalf("toFixed did not truncate to width: len=%d", len(got))
	}
}

func TestDeriveKeyIsMD5(t *testing.T) {
	secret := []byte("shared-secret-bytes")
	want := md5.Sum(secret)
	if got := DeriveKey(secret); got != want {
		t.Fatalf("DeriveKey = %x, want %x", got, want)
	}
}

func TestIVUsesSequenceNumberInByteZero(t *testing.T) {
	iv := IV(0x07)
	if iv[0] != 0x07 {
		t.Fatalf("iv[0] = %x, want 07", iv[0])
	}
	for i := 1; i < len(iv); i++ {
		if iv[i] != 0 {
			t.Fatalf("iv[%d] = %x, want 0", i, iv[i])
		}
	}
}

func TestCryptCFB128RoundTrip(t *testing.T) {
	key := DeriveKey([]byte("some shared secret"))
	plaintext := []byte("SSID=my-network;PASSWORD=hunter2")

	ciphertext := append([]byte(nil), plaintext...)
	if err := CryptCFB128(key, 3, ciphertext, false, nil); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	recovered := append([]byte(nil), ciphertext...)
	if err := CryptCFB128(key, 3, recovered, true, nil); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("recovered = %q, want %q", recovered, plaintext)
	}
}

func TestCryptCFB128DifferentSequenceNumbersDifferentKeystream(t *testing.T) {
	key := DeriveKey([]byte("some shared secret"))
	plaintext := []byte("0123456789ABCDEF")

	c1 := append([]byte(nil), plaintext...)
	if err := CryptCFB128(key, 1, c1, false, nil); err != nil {
		t.Fatal(err)
	}
	c2 := append([]byte(nil), plaintext...)
	if err := CryptCFB128(key, 2, c2, false, nil); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(c1, c2) {
		t.Fatal("ciphertexts for different sequence numbers matched")
	}
}
