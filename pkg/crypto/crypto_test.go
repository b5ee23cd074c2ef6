package crypto

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func fixedKey(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := fixedKey(0x11, SymmetricKeySize)
	iv := fixedKey(0x22, AESIVSize)

	// Boundary lengths around the block size
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32, 33, 1024} {
		plain := fixedKey(byte(n), n)

		ct, err := EncryptAESCBC(key, iv, plain)
		if err != nil {
			t.Fatalf("EncryptAESCBC(%d) error = %v", n, err)
		}
		if len(ct)%16 != 0 || len(ct) <= n {
			t.Errorf("ciphertext length %d for plaintext %d", len(ct), n)
		}

		got, err := DecryptAESCBC(key, iv, ct)
		if err != nil {
			t.Fatalf("DecryptAESCBC(%d) error = %v", n, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("round trip mismatch for length %d", n)
		}
	}
}

func TestSymmetricRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]CipherKind{CipherRSAAES256, CipherECDHAES256SHA256, CipherECDHChaCha20SHA256}).Draw(t, "kind")
		key := rapid.SliceOfN(rapid.Byte(), SymmetricKeySize, SymmetricKeySize).Draw(t, "key")
		iv := rapid.SliceOfN(rapid.Byte(), kind.IVSize(), kind.IVSize()).Draw(t, "iv")
		plain := rapid.SliceOfN(rapid.Byte(), 0, 600).Draw(t, "plain")

		ct, err := kind.Encrypt(key, iv, plain)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := kind.Decrypt(key, iv, ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("round trip mismatch")
		}
	})
}

func TestAESCBCRejectsBadInput(t *testing.T) {
	key := fixedKey(1, SymmetricKeySize)
	iv := fixedKey(2, AESIVSize)

	if _, err := EncryptAESCBC(key[:16], iv, []byte("x")); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("short key error = %v, want ErrInvalidKeySize", err)
	}
	if _, err := DecryptAESCBC(key, iv, []byte("not a block")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("partial block error = %v, want ErrInvalidCiphertext", err)
	}

	// Dropping the padding block exposes the plaintext's last byte as the pad length
	for _, last := range []byte{0x00, 0x11} {
		plain := append(fixedKey('a', 15), last)
		ct, err := EncryptAESCBC(key, iv, plain)
		if err != nil {
			t.Fatalf("EncryptAESCBC() error = %v", err)
		}
		if _, err := DecryptAESCBC(key, iv, ct[:16]); !errors.Is(err, ErrInvalidPadding) {
			t.Errorf("pad byte %#x error = %v, want ErrInvalidPadding", last, err)
		}
	}

	var cryptoErr *Error
	_, err := DecryptAESCBC(key, iv, nil)
	if !errors.As(err, &cryptoErr) {
		t.Errorf("error %T is not *Error", err)
	}
}

func TestChaCha20KnownProperties(t *testing.T) {
	key := fixedKey(3, SymmetricKeySize)
	nonce := fixedKey(4, ChaChaNonceSize)

	ct, err := XORChaCha20(key, nonce, []byte("hello world"))
	if err != nil {
		t.Fatalf("XORChaCha20 error = %v", err)
	}
	if len(ct) != 11 {
		t.Errorf("stream cipher changed length to %d", len(ct))
	}
	if _, err := XORChaCha20(key, nonce[:8], ct); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("short nonce error = %v", err)
	}
}

func TestChecksumDeterministicAndSensitive(t *testing.T) {
	macKey := fixedKey(9, MACKeySize)

	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]ChecksumKind{ChecksumSHA2256, ChecksumSHA3256, ChecksumHMAC256, ChecksumPoly1305}).Draw(t, "kind")
		msg := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(t, "msg")
		bit := rapid.IntRange(0, len(msg)*8-1).Draw(t, "bit")

		a, err := Checksum(kind, macKey, msg)
		if err != nil {
			t.Fatalf("checksum: %v", err)
		}
		b, _ := Checksum(kind, macKey, msg)
		if !bytes.Equal(a, b) {
			t.Fatalf("%s not deterministic", kind)
		}
		if len(a) != kind.Size() {
			t.Fatalf("%s tag is %d bytes, want %d", kind, len(a), kind.Size())
		}

		mutated := append([]byte(nil), msg...)
		mutated[bit/8] ^= 1 << (bit % 8)
		c, _ := Checksum(kind, macKey, mutated)
		if bytes.Equal(a, c) {
			t.Fatalf("%s tag unchanged after flipping bit %d", kind, bit)
		}

		if err := VerifyChecksum(kind, macKey, msg, a); err != nil {
			t.Fatalf("verify: %v", err)
		}
		if err := VerifyChecksum(kind, macKey, mutated, a); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("verify mutated = %v", err)
		}
	})
}

func TestPasswordDigest(t *testing.T) {
	tests := []struct {
		password string
		want     string
	}{
		{"", "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{"password", "5baa61e4c9b93f3f0682250b6cf8331b7ee68fd8"},
	}
	for _, tt := range tests {
		if got := PasswordDigest(tt.password); got != tt.want {
			t.Errorf("PasswordDigest(%q) = %s, want %s", tt.password, got, tt.want)
		}
	}
}

func TestProofIsOrderSensitive(t *testing.T) {
	a, b := []byte("digest"), []byte("public key")
	if Proof(a, b) == Proof(b, a) {
		t.Error("Proof(a, b) should differ from Proof(b, a)")
	}
	if len(Proof(a, b)) != 64 {
		t.Errorf("proof length = %d, want 64 hex chars", len(Proof(a, b)))
	}
	if !EqualProof([]byte(Proof(a, b)), []byte(Proof(a, b))) {
		t.Error("EqualProof on identical proofs returned false")
	}
}

func TestECDHSharedSecretAgreement(t *testing.T) {
	alice, err := GenerateECDHKey()
	if err != nil {
		t.Fatalf("GenerateECDHKey() error = %v", err)
	}
	bob, err := GenerateECDHKey()
	if err != nil {
		t.Fatalf("GenerateECDHKey() error = %v", err)
	}

	if len(alice.PublicKey().Bytes()) != ECDHPublicKeySize {
		t.Errorf("public key is %d bytes, want %d", len(alice.PublicKey().Bytes()), ECDHPublicKeySize)
	}

	s1, err := SharedSecret(alice, bob.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("SharedSecret(alice) error = %v", err)
	}
	s2, err := SharedSecret(bob, alice.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("SharedSecret(bob) error = %v", err)
	}
	if !bytes.Equal(s1, s2) {
		t.Error("shared secrets differ")
	}

	k1, _ := DeriveKey(s1, []byte("salt"), "info", 48)
	k2, _ := DeriveKey(s2, []byte("salt"), "info", 48)
	if !bytes.Equal(k1, k2) || len(k1) != 48 {
		t.Error("derived keys differ")
	}
	k3, _ := DeriveKey(s1, []byte("other salt"), "info", 48)
	if bytes.Equal(k1, k3) {
		t.Error("salt did not change derived key")
	}

	if _, err := SharedSecret(alice, []byte{4, 1, 2, 3}); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("invalid peer key error = %v", err)
	}
}

func TestSigningKeyFromSeed(t *testing.T) {
	seed := fixedKey(7, 32)

	k1, err := SigningKeyFromSeed(seed)
	if err != nil {
		t.Fatalf("SigningKeyFromSeed() error = %v", err)
	}
	k2, _ := SigningKeyFromSeed(seed)

	pub1, err := MarshalSigningKey(&k1.PublicKey)
	if err != nil {
		t.Fatalf("MarshalSigningKey() error = %v", err)
	}
	pub2, _ := MarshalSigningKey(&k2.PublicKey)
	if !bytes.Equal(pub1, pub2) {
		t.Fatal("same seed produced different keys")
	}
	if len(pub1) != SigningPublicKeySize {
		t.Errorf("signing key is %d bytes", len(pub1))
	}

	sig, err := Sign(k1, []byte("proof"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	parsed, err := ParseSigningKey(pub1)
	if err != nil {
		t.Fatalf("ParseSigningKey() error = %v", err)
	}
	if err := Verify(parsed, []byte("proof"), sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if err := Verify(parsed, []byte("other"), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify(wrong data) = %v", err)
	}

	other, _ := SigningKeyFromSeed(fixedKey(8, 32))
	otherPub, _ := MarshalSigningKey(&other.PublicKey)
	if bytes.Equal(pub1, otherPub) {
		t.Error("different seeds produced the same key")
	}
}

func TestRSARoundTrip(t *testing.T) {
	key, err := GenerateRSAKey(1024)
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}

	der, err := MarshalRSAPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalRSAPublicKey() error = %v", err)
	}
	pub, err := ParseRSAPublicKey(der)
	if err != nil {
		t.Fatalf("ParseRSAPublicKey() error = %v", err)
	}

	ct, err := RSAEncrypt(pub, []byte("session key"))
	if err != nil {
		t.Fatalf("RSAEncrypt() error = %v", err)
	}
	pt, err := RSADecrypt(key, ct)
	if err != nil {
		t.Fatalf("RSADecrypt() error = %v", err)
	}
	if string(pt) != "session key" {
		t.Errorf("decrypted %q", pt)
	}

	ct[0] ^= 0xFF
	if _, err := RSADecrypt(key, ct); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("tampered ciphertext error = %v", err)
	}

	if _, err := RSAEncrypt(pub, make([]byte, 200)); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("oversize message error = %v", err)
	}

	if _, err := ParseRSAPublicKey([]byte("junk")); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("junk key error = %v", err)
	}

	restored, err := ParseRSAPrivateKeyPEM(EncodeRSAPrivateKeyPEM(key))
	if err != nil {
		t.Fatalf("PEM round trip error = %v", err)
	}
	if !restored.Equal(key) {
		t.Error("PEM round trip changed key")
	}

	if Fingerprint(der) == Fingerprint(der[1:]) || len(Fingerprint(der)) != 64 {
		t.Error("unexpected fingerprint")
	}
}

func TestParseKinds(t *testing.T) {
	for _, k := range []CipherKind{CipherNone, CipherRSAAES256, CipherECDHAES256SHA256, CipherECDHChaCha20SHA256} {
		got, err := ParseCipherKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseCipherKind(%s) = %v, %v", k, got, err)
		}
	}
	for _, k := range []ChecksumKind{ChecksumNone, ChecksumSHA2256, ChecksumSHA3256, ChecksumHMAC256, ChecksumPoly1305} {
		got, err := ParseChecksumKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseChecksumKind(%s) = %v, %v", k, got, err)
		}
	}
	if _, err := ParseCipherKind("rot13"); !errors.Is(err, ErrUnsupportedCipher) {
		t.Errorf("ParseCipherKind(rot13) error = %v", err)
	}
	if _, err := ParseChecksumKind("crc32"); !errors.Is(err, ErrUnsupportedCheck) {
		t.Errorf("ParseChecksumKind(crc32) error = %v", err)
	}
	if CipherKind(42).Valid() || ChecksumKind(42).Valid() {
		t.Error("unknown kinds reported valid")
	}
}
