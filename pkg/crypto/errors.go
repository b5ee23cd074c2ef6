package crypto

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKeySize    = errors.New("invalid key size")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrInvalidPadding    = errors.New("invalid padding")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrKeyAgreement      = errors.New("key agreement failed")
	ErrKeyGeneration     = errors.New("key generation failed")
	ErrUnsupportedCipher = errors.New("unsupported cipher")
	ErrUnsupportedCheck  = errors.New("unsupported checksum")
	ErrMessageTooLong    = errors.New("message too long for key")
)

// Error is returned by every operation in this package. Any Error observed on
// a live channel is fatal for that channel.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(op string, err error) error {
	return &Error{Op: op, Err: err}
}

func failf(op string, sentinel error, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}
