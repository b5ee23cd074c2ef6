package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultRSABits is the size of generated server RSA keys.
	DefaultRSABits = 2048

	// ECDHPublicKeySize is the uncompressed P-521 point size.
	ECDHPublicKeySize = 133

	// SigningPublicKeySize is the uncompressed P-256 point size.
	SigningPublicKeySize = 65

	signingKeyInfo = "p7 signing key"
)

// GenerateRSAKey generates an RSA private key of the given size.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fail("rsa generate", ErrKeyGeneration)
	}
	return key, nil
}

// MarshalRSAPublicKey encodes a public key as PKIX DER.
func MarshalRSAPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, failf("rsa marshal", ErrInvalidPublicKey, "%v", err)
	}
	return der, nil
}

// ParseRSAPublicKey decodes a PKIX DER public key.
func ParseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, failf("rsa parse", ErrInvalidPublicKey, "%v", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, failf("rsa parse", ErrInvalidPublicKey, "not an RSA key")
	}
	return pub, nil
}

// EncodeRSAPrivateKeyPEM encodes a private key as a PKCS#1 PEM block.
func EncodeRSAPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// ParseRSAPrivateKeyPEM decodes a PKCS#1 PEM block.
func ParseRSAPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, failf("rsa parse", ErrInvalidKeySize, "no RSA PEM block")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, failf("rsa parse", ErrInvalidKeySize, "%v", err)
	}
	return key, nil
}

// RSAEncrypt encrypts msg with RSA-OAEP/SHA-1.
func RSAEncrypt(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, msg, nil)
	if err != nil {
		return nil, failf("rsa encrypt", ErrMessageTooLong, "%v", err)
	}
	return out, nil
}

// RSADecrypt decrypts an RSA-OAEP/SHA-1 ciphertext.
func RSADecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fail("rsa decrypt", ErrInvalidCiphertext)
	}
	return out, nil
}

// Fingerprint returns the hex SHA-256 of an encoded public key.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// GenerateECDHKey generates an ephemeral P-521 key pair.
func GenerateECDHKey() (*ecdh.PrivateKey, error) {
	key, err := ecdh.P521().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fail("ecdh generate", ErrKeyGeneration)
	}
	return key, nil
}

// SharedSecret computes the ECDH shared secret between priv and an
// uncompressed P-521 peer public key.
func SharedSecret(priv *ecdh.PrivateKey, peerPublic []byte) ([]byte, error) {
	pub, err := ecdh.P521().NewPublicKey(peerPublic)
	if err != nil {
		return nil, failf("ecdh", ErrInvalidPublicKey, "%v", err)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, failf("ecdh", ErrKeyAgreement, "%v", err)
	}
	return secret, nil
}

// DeriveKey expands secret with HKDF-SHA512 into n bytes. Callers split the
// output into key, IV and MAC key in that order.
func DeriveKey(secret, salt []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha512.New, secret, salt, []byte(info)), out); err != nil {
		return nil, failf("hkdf", ErrKeyAgreement, "%v", err)
	}
	return out, nil
}

// SigningKeyFromSeed derives a P-256 ECDSA key from seed. Both ends of an
// ECDH exchange derive the same key from the same seed.
func SigningKeyFromSeed(seed []byte) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha512.New, seed, nil, []byte(signingKeyInfo))
	scalar := make([]byte, 32)

	// A candidate is rejected only when it is zero or not below the group
	// order, so a handful of attempts is plenty.
	for i := 0; i < 16; i++ {
		if _, err := io.ReadFull(r, scalar); err != nil {
			return nil, failf("ecdsa derive", ErrKeyGeneration, "%v", err)
		}
		k, err := ecdh.P256().NewPrivateKey(scalar)
		if err != nil {
			continue
		}
		pub, err := parseP256Point(k.PublicKey().Bytes())
		if err != nil {
			return nil, err
		}
		return &ecdsa.PrivateKey{PublicKey: *pub, D: new(big.Int).SetBytes(scalar)}, nil
	}
	return nil, fail("ecdsa derive", ErrKeyGeneration)
}

// MarshalSigningKey encodes an ECDSA P-256 public key as an uncompressed point.
func MarshalSigningKey(pub *ecdsa.PublicKey) ([]byte, error) {
	k, err := pub.ECDH()
	if err != nil {
		return nil, failf("ecdsa marshal", ErrInvalidPublicKey, "%v", err)
	}
	return k.Bytes(), nil
}

// ParseSigningKey decodes an uncompressed P-256 point.
func ParseSigningKey(b []byte) (*ecdsa.PublicKey, error) {
	if _, err := ecdh.P256().NewPublicKey(b); err != nil {
		return nil, failf("ecdsa parse", ErrInvalidPublicKey, "%v", err)
	}
	return parseP256Point(b)
}

func parseP256Point(b []byte) (*ecdsa.PublicKey, error) {
	if len(b) != SigningPublicKeySize || b[0] != 4 {
		return nil, failf("ecdsa parse", ErrInvalidPublicKey, "bad point length %d", len(b))
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(b[1:33]),
		Y:     new(big.Int).SetBytes(b[33:]),
	}, nil
}

// Sign returns an ASN.1 ECDSA signature over SHA-256(data).
func Sign(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, failf("ecdsa sign", ErrInvalidSignature, "%v", err)
	}
	return sig, nil
}

// Verify checks an ASN.1 ECDSA signature over SHA-256(data).
func Verify(pub *ecdsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return fail("ecdsa verify", ErrInvalidSignature)
	}
	return nil
}
