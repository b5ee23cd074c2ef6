package protocol

import (
	"errors"
	"io"
)

const (
	// MaxFrameSize is the default upper bound for a frame payload (16 MB)
	MaxFrameSize = 16 * 1024 * 1024

	// FrameHeaderSize is the size of the length prefix.
	FrameHeaderSize = 4
)

var (
	ErrFrameTooLarge        = errors.New("frame exceeds maximum size")
	ErrInvalidFrameLength   = errors.New("invalid frame length")
	ErrDecompressionFailed  = errors.New("decompression failed")
	ErrInvalidCompressedLen = errors.New("invalid compressed payload length")
)

// Frame is one unit on the wire.
// Format: [Length (4 bytes)][Payload (Length bytes)][Trailer (fixed by negotiated checksum)]
type Frame struct {
	Payload []byte
	Trailer []byte
}

// EncodeFrame writes a frame to the writer in a single Write call so that
// concurrent writers serialized by the caller never interleave partial frames.
func EncodeFrame(w io.Writer, f *Frame, maxSize uint32) error {
	if maxSize == 0 {
		maxSize = MaxFrameSize
	}
	if uint64(len(f.Payload)) > uint64(maxSize) {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 0, FrameHeaderSize+len(f.Payload)+len(f.Trailer))
	buf = append(buf, byte(len(f.Payload)>>24), byte(len(f.Payload)>>16), byte(len(f.Payload)>>8), byte(len(f.Payload)))
	buf = append(buf, f.Payload...)
	buf = append(buf, f.Trailer...)

	if _, err := w.Write(buf); err != nil {
		return err
	}

	// Flush if the writer supports it (e.g., *bufio.Writer)
	type flusher interface {
		Flush() error
	}
	if fl, ok := w.(flusher); ok {
		return fl.Flush()
	}

	return nil
}

// DecodeFrame reads a frame whose trailer is trailerLen bytes long.
func DecodeFrame(r io.Reader, maxSize uint32, trailerLen int) (*Frame, error) {
	if maxSize == 0 {
		maxSize = MaxFrameSize
	}
	if trailerLen < 0 {
		return nil, ErrInvalidFrameLength
	}

	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if length > maxSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	var trailer []byte
	if trailerLen > 0 {
		trailer = make([]byte, trailerLen)
		if _, err := io.ReadFull(r, trailer); err != nil {
			return nil, err
		}
	}

	return &Frame{Payload: payload, Trailer: trailer}, nil
}
