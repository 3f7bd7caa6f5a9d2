package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor transforms cache payloads. Implementations must be safe for concurrent use.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// ZstdCompressor compresses entries with zstd using stateless EncodeAll/DecodeAll calls.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a compressor tuned for small, latency sensitive payloads.
func NewZstdCompressor() (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

// Compress implements Compressor.
func (z *ZstdCompressor) Compress(src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decompress implements Compressor.
func (z *ZstdCompressor) Decompress(src []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases encoder and decoder resources.
func (z *ZstdCompressor) Close() {
	_ = z.encoder.Close()
	z.decoder.Close()
}
