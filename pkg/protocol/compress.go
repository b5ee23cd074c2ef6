package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
)

// Compression is a negotiated payload compression. Values match the
// p7.handshake.compression enum.
type Compression uint32

const (
	CompressionNone    Compression = 0
	CompressionDeflate Compression = 2
	CompressionLZ4     Compression = 3
)

// lz4 payloads carry a one byte mode: stored or block-compressed.
const (
	lz4Stored     = 0x00
	lz4Compressed = 0x01
)

// ParseCompression parses a config value such as "deflate".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "deflate":
		return CompressionDeflate, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionDeflate:
		return "deflate"
	case CompressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("compression(%d)", uint32(c))
}

// Compress applies c to data.
func Compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		if compressed, ok := CompressPayload(data); ok {
			return append([]byte{lz4Compressed}, compressed...), nil
		}
		return append([]byte{lz4Stored}, data...), nil
	}
	return nil, fmt.Errorf("unsupported compression %s", c)
}

// Decompress reverses Compress, refusing output larger than max bytes.
func Decompress(c Compression, data []byte, max uint32) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		if uint32(len(out)) > max {
			return nil, ErrFrameTooLarge
		}
		return out, nil
	case CompressionLZ4:
		if len(data) == 0 {
			return nil, ErrInvalidCompressedLen
		}
		switch data[0] {
		case lz4Stored:
			return data[1:], nil
		case lz4Compressed:
			return DecompressPayload(data[1:], max)
		}
		return nil, ErrDecompressionFailed
	}
	return nil, fmt.Errorf("unsupported compression %s", c)
}

// CompressPayload compresses data using LZ4 and prepends the uncompressed size.
// Format: [Uncompressed Size (4 bytes, big-endian)][LZ4 Compressed Data]
// Returns the original data if compression doesn't reduce size.
func CompressPayload(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}

	maxCompressedSize := lz4.CompressBlockBound(len(data))
	compressed := make([]byte, 4+maxCompressedSize)
	binary.BigEndian.PutUint32(compressed[:4], uint32(len(data)))

	n, err := lz4.CompressBlock(data, compressed[4:], nil)
	if err != nil || n == 0 {
		// Incompressible
		return data, false
	}

	compressedTotal := 4 + n
	if compressedTotal >= len(data) {
		return data, false
	}

	return compressed[:compressedTotal], true
}

// DecompressPayload decompresses data produced by CompressPayload.
func DecompressPayload(data []byte, max uint32) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrInvalidCompressedLen
	}

	uncompressedSize := binary.BigEndian.Uint32(data[:4])
	if uncompressedSize > max {
		return nil, ErrFrameTooLarge
	}

	decompressed := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[4:], decompressed)
	if err != nil {
		return nil, ErrDecompressionFailed
	}
	if n != int(uncompressedSize) {
		return nil, ErrDecompressionFailed
	}

	return decompressed, nil
}
