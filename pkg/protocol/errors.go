package protocol

import (
	"errors"
	"fmt"

	"github.com/aeolun/wired/pkg/spec"
)

var (
	ErrTruncated         = errors.New("truncated message")
	ErrTypeMismatch      = errors.New("wire type does not match field definition")
	ErrFieldTypeMismatch = errors.New("value does not match field type")
	ErrMissingField      = errors.New("missing required field")
)

// DecodeKind classifies a DecodeError.
type DecodeKind int

const (
	KindTruncated DecodeKind = iota
	KindTypeMismatch
)

func (k DecodeKind) String() string {
	if k == KindTypeMismatch {
		return "type mismatch"
	}
	return "truncated"
}

// DecodeError reports a frame payload that cannot be decoded.
type DecodeError struct {
	Kind   DecodeKind
	Field  string
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode: %s at offset %d", e.Kind, e.Offset)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	if e.Kind == KindTypeMismatch {
		return ErrTypeMismatch
	}
	return ErrTruncated
}

// FieldTypeMismatch is returned by Message.Set when the Go value does not
// match the field's catalog type.
type FieldTypeMismatch struct {
	Field string
	Want  spec.FieldType
	Got   string
}

func (e *FieldTypeMismatch) Error() string {
	return fmt.Sprintf("field %s is %s, got %s", e.Field, e.Want, e.Got)
}

func (e *FieldTypeMismatch) Unwrap() error { return ErrFieldTypeMismatch }
