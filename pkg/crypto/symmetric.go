package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/chacha20"
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, failf("random", ErrKeyGeneration, "%v", err)
	}
	return b, nil
}

// RandomIV returns a fresh IV or nonce sized for kind.
func RandomIV(kind CipherKind) ([]byte, error) {
	if kind.IVSize() == 0 {
		return nil, failf("random iv", ErrUnsupportedCipher, "%s", kind)
	}
	return RandomBytes(kind.IVSize())
}

// EncryptAESCBC encrypts plain with AES-256-CBC and PKCS#7 padding.
func EncryptAESCBC(key, iv, plain []byte) ([]byte, error) {
	block, err := newAES(key, iv)
	if err != nil {
		return nil, err
	}

	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	out := make([]byte, len(plain)+padLen)
	copy(out, plain)
	for i := len(plain); i < len(out); i++ {
		out[i] = byte(padLen)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, out)
	return out, nil
}

// DecryptAESCBC decrypts an AES-256-CBC ciphertext and strips PKCS#7 padding.
func DecryptAESCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newAES(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, failf("aes-cbc decrypt", ErrInvalidCiphertext, "length %d", len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	padLen := int(out[len(out)-1])
	if padLen == 0 || padLen > aes.BlockSize {
		return nil, fail("aes-cbc decrypt", ErrInvalidPadding)
	}
	good := 1
	for _, b := range out[len(out)-padLen:] {
		good &= subtle.ConstantTimeByteEq(b, byte(padLen))
	}
	if good != 1 {
		return nil, fail("aes-cbc decrypt", ErrInvalidPadding)
	}
	return out[:len(out)-padLen], nil
}

func newAES(key, iv []byte) (cipher.Block, error) {
	if len(key) != SymmetricKeySize {
		return nil, failf("aes", ErrInvalidKeySize, "key is %d bytes", len(key))
	}
	if len(iv) != AESIVSize {
		return nil, failf("aes", ErrInvalidKeySize, "iv is %d bytes", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, failf("aes", ErrInvalidKeySize, "%v", err)
	}
	return block, nil
}

// XORChaCha20 applies the ChaCha20 keystream for key and nonce to data.
// Encryption and decryption are the same operation.
func XORChaCha20(key, nonce, data []byte) ([]byte, error) {
	if len(key) != chacha20.KeySize {
		return nil, failf("chacha20", ErrInvalidKeySize, "key is %d bytes", len(key))
	}
	if len(nonce) != chacha20.NonceSize {
		return nil, failf("chacha20", ErrInvalidKeySize, "nonce is %d bytes", len(nonce))
	}
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, failf("chacha20", ErrInvalidKeySize, "%v", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}
