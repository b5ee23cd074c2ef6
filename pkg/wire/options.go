package wire

import (
	"crypto/rsa"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
)

// DefaultTimeout bounds the whole handshake.
const DefaultTimeout = 30 * time.Second

// Options configure the client half of a handshake.
type Options struct {
	Cipher      crypto.CipherKind
	Compression protocol.Compression
	Checksum    crypto.ChecksumKind

	Username string
	Password string

	Timeout      time.Duration
	MaxFrameSize uint32

	// VerifyServerKey is called with the server's RSA public key before any
	// credentials are sent. Returning an error aborts the handshake.
	VerifyServerKey func(fingerprint string, publicKey []byte) error

	// Handshaking is called once the connection is up, before the first
	// handshake message is sent.
	Handshaking func()

	Logger *zerolog.Logger
}

// DefaultOptions returns RSA/AES-256 with HMAC-SHA256 checksums and no
// compression, logging in as guest.
func DefaultOptions() Options {
	return Options{
		Cipher:   crypto.CipherRSAAES256,
		Checksum: crypto.ChecksumHMAC256,
		Username: "guest",
		Timeout:  DefaultTimeout,
	}
}

func (o Options) validate() error {
	if !o.Cipher.Valid() {
		return NewProtocolError(KindCipherRejected, "unknown cipher %s", o.Cipher)
	}
	if !o.Checksum.Valid() {
		return NewProtocolError(KindCipherRejected, "unknown checksum %s", o.Checksum)
	}
	if o.Cipher == crypto.CipherNone && o.Checksum != crypto.ChecksumNone {
		return NewProtocolError(KindCipherRejected, "checksum %s requires a cipher", o.Checksum)
	}
	switch o.Compression {
	case protocol.CompressionNone, protocol.CompressionDeflate, protocol.CompressionLZ4:
	default:
		return NewProtocolError(KindCipherRejected, "unknown compression %s", o.Compression)
	}
	return nil
}

// PasswordProvider resolves the stored password digest (hex SHA-1) of a
// login. ok is false for unknown logins.
type PasswordProvider interface {
	PasswordDigest(login string) (digest string, ok bool)
}

// PasswordFunc adapts a function to PasswordProvider.
type PasswordFunc func(login string) (string, bool)

func (f PasswordFunc) PasswordDigest(login string) (string, bool) { return f(login) }

// ServerPolicy configures the accepting half of a handshake. The first
// entry of each allowed list is the fallback offered when a client
// proposes something not on the list.
type ServerPolicy struct {
	Ciphers      []crypto.CipherKind
	Compressions []protocol.Compression
	Checksums    []crypto.ChecksumKind

	// RSAKey is required when Ciphers contains rsa_aes256.
	RSAKey    *rsa.PrivateKey
	Passwords PasswordProvider

	Timeout      time.Duration
	MaxFrameSize uint32
	Logger       *zerolog.Logger
}

func (p ServerPolicy) validate() error {
	if slices.Contains(p.Ciphers, crypto.CipherRSAAES256) && p.RSAKey == nil {
		return NewProtocolError(KindCipherRejected, "rsa_aes256 allowed without a server key")
	}
	if p.Passwords == nil {
		return NewProtocolError(KindAuthenticationFailed, "no password provider")
	}
	return nil
}

// negotiate returns proposed if allowed, otherwise the fallback. An empty
// list allows only the zero value.
func negotiate[T comparable](proposed T, allowed []T) T {
	if slices.Contains(allowed, proposed) {
		return proposed
	}
	if len(allowed) == 0 {
		var zero T
		return zero
	}
	return allowed[0]
}

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
