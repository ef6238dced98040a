package frame

import (
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression names the body compression algorithm negotiated in
// STARTUP, native protocol v4 §4.1.1.
type Compression = string

const (
	CompressionNone   Compression = ""
	CompressionLZ4    Compression = "lz4"
	CompressionSnappy Compression = "snappy"
)

// CompressBody compresses body for the given algorithm. LZ4 frames are
// prefixed with a 4-byte big-endian uncompressed length, matching what
// the server expects (native protocol v4 §4.1.1).
func CompressBody(algo Compression, body []byte) ([]byte, error) {
	switch algo {
	case CompressionLZ4:
		out := make([]byte, 4, 4+lz4.CompressBlockBound(len(body)))
		out[0] = byte(len(body) >> 24)
		out[1] = byte(len(body) >> 16)
		out[2] = byte(len(body) >> 8)
		out[3] = byte(len(body))

		var c lz4.Compressor
		buf := make([]byte, lz4.CompressBlockBound(len(body)))
		n, err := c.CompressBlock(body, buf)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return append(out, buf[:n]...), nil
	case CompressionSnappy:
		return snappy.Encode(nil, body), nil
	case CompressionNone:
		return body, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}

// DecompressBody reverses CompressBody.
func DecompressBody(algo Compression, body []byte) ([]byte, error) {
	switch algo {
	case CompressionLZ4:
		if len(body) < 4 {
			return nil, fmt.Errorf("lz4 frame too short: %d bytes", len(body))
		}
		uncompressedLen := int(body[0])<<24 | int(body[1])<<16 | int(body[2])<<8 | int(body[3])
		out := make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(body[4:], out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out[:n], nil
	case CompressionSnappy:
		return snappy.Decode(nil, body)
	case CompressionNone:
		return body, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}
