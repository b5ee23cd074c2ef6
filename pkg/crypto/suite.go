// Package crypto provides the P7 cipher suite: RSA and ECDH key agreement,
// ECDSA signatures, AES-256-CBC and ChaCha20 encryption, frame checksums and
// the per-connection CipherState.
package crypto

import (
	"fmt"
	"strings"
)

const (
	// SymmetricKeySize is the key size of every supported symmetric cipher.
	SymmetricKeySize = 32

	// AESIVSize is the AES-CBC IV size.
	AESIVSize = 16

	// ChaChaNonceSize is the ChaCha20 nonce size.
	ChaChaNonceSize = 12

	// MACKeySize is the size of HMAC and Poly1305 master keys.
	MACKeySize = 32
)

// CipherKind is a negotiated cipher. Values match the p7.handshake.encryption enum.
type CipherKind uint32

const (
	CipherNone               CipherKind = 0
	CipherRSAAES256          CipherKind = 1
	CipherECDHAES256SHA256   CipherKind = 2
	CipherECDHChaCha20SHA256 CipherKind = 3
)

var cipherNames = map[CipherKind]string{
	CipherNone:               "none",
	CipherRSAAES256:          "rsa_aes256",
	CipherECDHAES256SHA256:   "ecdh_aes256_sha256",
	CipherECDHChaCha20SHA256: "ecdh_chacha20_sha256",
}

// ParseCipherKind parses a config value such as "rsa_aes256".
func ParseCipherKind(s string) (CipherKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CipherNone, nil
	}
	for k, name := range cipherNames {
		if name == s {
			return k, nil
		}
	}
	return CipherNone, fmt.Errorf("%w: %q", ErrUnsupportedCipher, s)
}

func (k CipherKind) String() string {
	if name, ok := cipherNames[k]; ok {
		return name
	}
	return fmt.Sprintf("cipher(%d)", uint32(k))
}

// Valid reports whether k is a known cipher.
func (k CipherKind) Valid() bool {
	_, ok := cipherNames[k]
	return ok
}

// IsECDH reports whether k uses an ECDH key exchange.
func (k CipherKind) IsECDH() bool {
	return k == CipherECDHAES256SHA256 || k == CipherECDHChaCha20SHA256
}

// IVSize returns the IV or nonce size of k.
func (k CipherKind) IVSize() int {
	switch k {
	case CipherRSAAES256, CipherECDHAES256SHA256:
		return AESIVSize
	case CipherECDHChaCha20SHA256:
		return ChaChaNonceSize
	}
	return 0
}

// Encrypt is a one-shot encryption with an explicit key and IV, used for
// handshake values before a CipherState exists.
func (k CipherKind) Encrypt(key, iv, plain []byte) ([]byte, error) {
	switch k {
	case CipherRSAAES256, CipherECDHAES256SHA256:
		return EncryptAESCBC(key, iv, plain)
	case CipherECDHChaCha20SHA256:
		return XORChaCha20(key, iv, plain)
	}
	return nil, failf("encrypt", ErrUnsupportedCipher, "%s", k)
}

// Decrypt reverses Encrypt.
func (k CipherKind) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	switch k {
	case CipherRSAAES256, CipherECDHAES256SHA256:
		return DecryptAESCBC(key, iv, ciphertext)
	case CipherECDHChaCha20SHA256:
		return XORChaCha20(key, iv, ciphertext)
	}
	return nil, failf("decrypt", ErrUnsupportedCipher, "%s", k)
}

// ChecksumKind is a negotiated frame checksum. Values match the
// p7.handshake.checksum enum.
type ChecksumKind uint32

const (
	ChecksumNone     ChecksumKind = 0
	ChecksumSHA2256  ChecksumKind = 2
	ChecksumSHA3256  ChecksumKind = 3
	ChecksumHMAC256  ChecksumKind = 4
	ChecksumPoly1305 ChecksumKind = 5
)

var checksumNames = map[ChecksumKind]string{
	ChecksumNone:     "none",
	ChecksumSHA2256:  "sha2_256",
	ChecksumSHA3256:  "sha3_256",
	ChecksumHMAC256:  "hmac_256",
	ChecksumPoly1305: "poly_1305",
}

// ParseChecksumKind parses a config value such as "hmac_256".
func ParseChecksumKind(s string) (ChecksumKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ChecksumNone, nil
	}
	for k, name := range checksumNames {
		if name == s {
			return k, nil
		}
	}
	return ChecksumNone, fmt.Errorf("%w: %q", ErrUnsupportedCheck, s)
}

func (k ChecksumKind) String() string {
	if name, ok := checksumNames[k]; ok {
		return name
	}
	return fmt.Sprintf("checksum(%d)", uint32(k))
}

// Valid reports whether k is a known checksum.
func (k ChecksumKind) Valid() bool {
	_, ok := checksumNames[k]
	return ok
}

// Size returns the trailer length produced by k.
func (k ChecksumKind) Size() int {
	switch k {
	case ChecksumSHA2256, ChecksumSHA3256, ChecksumHMAC256:
		return 32
	case ChecksumPoly1305:
		return 16
	}
	return 0
}

// Keyed reports whether k needs a MAC key.
func (k ChecksumKind) Keyed() bool {
	return k == ChecksumHMAC256 || k == ChecksumPoly1305
}
