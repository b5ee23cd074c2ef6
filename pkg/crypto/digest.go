package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/poly1305"
	"golang.org/x/crypto/sha3"
)

// Checksum computes the kind's tag over data. key is ignored by the plain
// digests and must be 32 bytes for HMAC and Poly1305.
func Checksum(kind ChecksumKind, key, data []byte) ([]byte, error) {
	switch kind {
	case ChecksumSHA2256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case ChecksumSHA3256:
		sum := sha3.Sum256(data)
		return sum[:], nil
	case ChecksumHMAC256:
		if len(key) == 0 {
			return nil, failf("hmac", ErrInvalidKeySize, "empty key")
		}
		mac := hmac.New(sha256.New, key)
		mac.Write(data)
		return mac.Sum(nil), nil
	case ChecksumPoly1305:
		if len(key) != poly1305.TagSize*2 {
			return nil, failf("poly1305", ErrInvalidKeySize, "key is %d bytes", len(key))
		}
		var k [32]byte
		var tag [poly1305.TagSize]byte
		copy(k[:], key)
		poly1305.Sum(&tag, data, &k)
		return tag[:], nil
	}
	return nil, failf("checksum", ErrUnsupportedCheck, "%s", kind)
}

// VerifyChecksum recomputes the tag and compares it in constant time.
func VerifyChecksum(kind ChecksumKind, key, data, tag []byte) error {
	want, err := Checksum(kind, key, data)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, tag) != 1 {
		return fail("checksum verify", ErrChecksumMismatch)
	}
	return nil
}

// PasswordDigest is the hex SHA-1 of password, sent at login and mixed into
// the handshake proofs. The empty password hashes like any other string.
func PasswordDigest(password string) string {
	sum := sha1.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Proof returns hex(SHA-256(a || b)).
func Proof(a, b []byte) string {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// EqualProof compares two proofs in constant time.
func EqualProof(a, b []byte) bool {
	return hmac.Equal(a, b)
}
