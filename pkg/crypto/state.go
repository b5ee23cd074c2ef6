package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Role selects which sequence direction a CipherState sends on.
type Role uint8

const (
	RoleClient Role = 0
	RoleServer Role = 1
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// CipherState holds the negotiated symmetric keys of one channel.
//
// Every frame gets its own IV (AES) or nonce (ChaCha20) and, for Poly1305, its
// own one-time key, derived from the base material, the direction and a
// per-direction sequence number. Seal must be serialized by the caller's write
// lock and Open by its single reader.
type CipherState struct {
	kind     CipherKind
	checksum ChecksumKind
	role     Role

	key    []byte
	iv     []byte
	macKey []byte
	block  cipher.Block

	sendSeq uint64
	recvSeq uint64
}

// NewCipherState validates the key material for kind and checksum. The
// slices are copied.
func NewCipherState(kind CipherKind, checksum ChecksumKind, key, iv, macKey []byte, role Role) (*CipherState, error) {
	if !kind.Valid() || kind == CipherNone {
		return nil, failf("cipher state", ErrUnsupportedCipher, "%s", kind)
	}
	if !checksum.Valid() {
		return nil, failf("cipher state", ErrUnsupportedCheck, "%s", checksum)
	}
	if len(key) != SymmetricKeySize {
		return nil, failf("cipher state", ErrInvalidKeySize, "key is %d bytes", len(key))
	}
	if len(iv) != kind.IVSize() {
		return nil, failf("cipher state", ErrInvalidKeySize, "iv is %d bytes", len(iv))
	}
	if checksum.Keyed() && len(macKey) != MACKeySize {
		return nil, failf("cipher state", ErrInvalidKeySize, "mac key is %d bytes", len(macKey))
	}

	s := &CipherState{
		kind:     kind,
		checksum: checksum,
		role:     role,
		key:      append([]byte(nil), key...),
		iv:       append([]byte(nil), iv...),
		macKey:   append([]byte(nil), macKey...),
	}
	if kind != CipherECDHChaCha20SHA256 {
		block, err := aes.NewCipher(s.key)
		if err != nil {
			return nil, failf("cipher state", ErrInvalidKeySize, "%v", err)
		}
		s.block = block
	}
	return s, nil
}

// Kind returns the negotiated cipher.
func (s *CipherState) Kind() CipherKind { return s.kind }

// Checksum returns the negotiated checksum.
func (s *CipherState) Checksum() ChecksumKind { return s.checksum }

// TagSize returns the trailer length of sealed frames.
func (s *CipherState) TagSize() int { return s.checksum.Size() }

// Seal encrypts plain for the next outbound frame and returns the ciphertext
// and its checksum trailer.
func (s *CipherState) Seal(plain []byte) (ciphertext, tag []byte, err error) {
	if s.kind == CipherNone {
		return nil, nil, fail("seal", ErrUnsupportedCipher)
	}
	dir := uint8(s.role)
	seq := s.sendSeq

	ciphertext, err = s.kind.Encrypt(s.key, s.frameIV(dir, seq), plain)
	if err != nil {
		return nil, nil, err
	}
	tag, err = s.tag(dir, seq, ciphertext)
	if err != nil {
		return nil, nil, err
	}

	s.sendSeq++
	return ciphertext, tag, nil
}

// Open verifies the trailer of the next inbound frame and decrypts it.
func (s *CipherState) Open(ciphertext, tag []byte) ([]byte, error) {
	if s.kind == CipherNone {
		return nil, fail("open", ErrUnsupportedCipher)
	}
	dir := uint8(1 - s.role)
	seq := s.recvSeq

	if s.checksum != ChecksumNone {
		want, err := s.tag(dir, seq, ciphertext)
		if err != nil {
			return nil, err
		}
		if !hmac.Equal(want, tag) {
			return nil, fail("open", ErrChecksumMismatch)
		}
	}

	plain, err := s.kind.Decrypt(s.key, s.frameIV(dir, seq), ciphertext)
	if err != nil {
		return nil, err
	}

	s.recvSeq++
	return plain, nil
}

// frameIV derives the IV or nonce for frame seq in direction dir.
func (s *CipherState) frameIV(dir uint8, seq uint64) []byte {
	iv := append([]byte(nil), s.iv...)
	counter := seq | uint64(dir)<<63

	if s.kind == CipherECDHChaCha20SHA256 {
		var c [8]byte
		binary.BigEndian.PutUint64(c[:], counter)
		for i := range c {
			iv[4+i] ^= c[i]
		}
		return iv
	}

	// AES: encrypt (base IV XOR counter block) so successive IVs are unpredictable.
	var c [aes.BlockSize]byte
	binary.BigEndian.PutUint64(c[8:], counter)
	for i := range c {
		iv[i] ^= c[i]
	}
	s.block.Encrypt(iv, iv)
	return iv
}

func (s *CipherState) tag(dir uint8, seq uint64, ciphertext []byte) ([]byte, error) {
	switch s.checksum {
	case ChecksumNone:
		return nil, nil
	case ChecksumSHA2256, ChecksumSHA3256:
		return Checksum(s.checksum, nil, ciphertext)
	case ChecksumHMAC256:
		return Checksum(s.checksum, s.macKey, append(sequenceHeader(dir, seq), ciphertext...))
	case ChecksumPoly1305:
		mac := hmac.New(sha256.New, s.macKey)
		mac.Write([]byte("poly1305"))
		mac.Write(sequenceHeader(dir, seq))
		return Checksum(s.checksum, mac.Sum(nil), ciphertext)
	}
	return nil, failf("checksum", ErrUnsupportedCheck, "%s", s.checksum)
}

func sequenceHeader(dir uint8, seq uint64) []byte {
	b := make([]byte, 9)
	b[0] = dir
	binary.BigEndian.PutUint64(b[1:], seq)
	return b
}

// Zero wipes the key material. The state is unusable afterwards.
func (s *CipherState) Zero() {
	for _, b := range [][]byte{s.key, s.iv, s.macKey} {
		for i := range b {
			b[i] = 0
		}
	}
	s.block = nil
	s.kind = CipherNone
	s.sendSeq, s.recvSeq = 0, 0
}
