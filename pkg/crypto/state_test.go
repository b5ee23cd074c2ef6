package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type helperT interface {
	require.TestingT
	Helper()
}

func statePair(t helperT, kind CipherKind, checksum ChecksumKind) (*CipherState, *CipherState) {
	t.Helper()
	key := fixedKey(0x42, SymmetricKeySize)
	iv := fixedKey(0x24, kind.IVSize())
	mac := fixedKey(0x99, MACKeySize)

	client, err := NewCipherState(kind, checksum, key, iv, mac, RoleClient)
	require.NoError(t, err)
	server, err := NewCipherState(kind, checksum, key, iv, mac, RoleServer)
	require.NoError(t, err)
	return client, server
}

func TestCipherStateSealOpen(t *testing.T) {
	kinds := []CipherKind{CipherRSAAES256, CipherECDHAES256SHA256, CipherECDHChaCha20SHA256}
	checksums := []ChecksumKind{ChecksumNone, ChecksumSHA2256, ChecksumSHA3256, ChecksumHMAC256, ChecksumPoly1305}

	for _, kind := range kinds {
		for _, checksum := range checksums {
			t.Run(kind.String()+"/"+checksum.String(), func(t *testing.T) {
				client, server := statePair(t, kind, checksum)

				for i, msg := range [][]byte{[]byte("first"), {}, bytes.Repeat([]byte("x"), 100)} {
					ct, tag, err := client.Seal(msg)
					require.NoError(t, err)
					assert.Len(t, tag, checksum.Size())

					got, err := server.Open(ct, tag)
					require.NoError(t, err, "frame %d", i)
					assert.Equal(t, msg, got)
				}

				ct, tag, err := server.Seal([]byte("reply"))
				require.NoError(t, err)
				got, err := client.Open(ct, tag)
				require.NoError(t, err)
				assert.Equal(t, []byte("reply"), got)
			})
		}
	}
}

func TestCipherStateFreshIVPerFrame(t *testing.T) {
	for _, kind := range []CipherKind{CipherRSAAES256, CipherECDHChaCha20SHA256} {
		client, _ := statePair(t, kind, ChecksumNone)
		a, _, err := client.Seal([]byte("same plaintext"))
		require.NoError(t, err)
		b, _, err := client.Seal([]byte("same plaintext"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b, kind.String())
	}
}

func TestCipherStateDirectionsDiffer(t *testing.T) {
	client, server := statePair(t, CipherECDHChaCha20SHA256, ChecksumHMAC256)

	fromClient, _, _ := client.Seal([]byte("same"))
	fromServer, _, _ := server.Seal([]byte("same"))
	assert.NotEqual(t, fromClient, fromServer)
}

func TestCipherStateTamperDetected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]CipherKind{CipherRSAAES256, CipherECDHAES256SHA256, CipherECDHChaCha20SHA256}).Draw(t, "kind")
		checksum := rapid.SampledFrom([]ChecksumKind{ChecksumSHA2256, ChecksumSHA3256, ChecksumHMAC256, ChecksumPoly1305}).Draw(t, "checksum")
		msg := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(t, "msg")

		client, server := statePair(t, kind, checksum)
		ct, tag, err := client.Seal(msg)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}

		bit := rapid.IntRange(0, len(ct)*8-1).Draw(t, "bit")
		ct[bit/8] ^= 1 << (bit % 8)

		_, err = server.Open(ct, tag)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("tampered frame error = %v", err)
		}
	})
}

func TestCipherStateReplayRejected(t *testing.T) {
	client, server := statePair(t, CipherRSAAES256, ChecksumHMAC256)

	ct, tag, err := client.Seal([]byte("once"))
	require.NoError(t, err)
	_, err = server.Open(ct, tag)
	require.NoError(t, err)

	_, err = server.Open(ct, tag)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCipherStateValidation(t *testing.T) {
	key := fixedKey(1, SymmetricKeySize)

	_, err := NewCipherState(CipherNone, ChecksumNone, key, nil, nil, RoleClient)
	assert.ErrorIs(t, err, ErrUnsupportedCipher)

	_, err = NewCipherState(CipherRSAAES256, ChecksumNone, key[:10], fixedKey(1, 16), nil, RoleClient)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewCipherState(CipherECDHChaCha20SHA256, ChecksumNone, key, fixedKey(1, 16), nil, RoleClient)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewCipherState(CipherRSAAES256, ChecksumHMAC256, key, fixedKey(1, 16), nil, RoleClient)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestCipherStateZero(t *testing.T) {
	key := fixedKey(5, SymmetricKeySize)
	s, err := NewCipherState(CipherRSAAES256, ChecksumHMAC256, key, fixedKey(6, 16), fixedKey(7, 32), RoleClient)
	require.NoError(t, err)

	s.Zero()
	assert.Equal(t, make([]byte, SymmetricKeySize), s.key)
	assert.Equal(t, make([]byte, MACKeySize), s.macKey)
	assert.Equal(t, CipherNone, s.Kind())

	// Caller's slice was copied, not wiped
	assert.Equal(t, fixedKey(5, SymmetricKeySize), key)

	_, _, err = s.Seal([]byte("x"))
	assert.Error(t, err)
}
