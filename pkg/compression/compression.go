// Package compression picks a byte-stream codec for the sharded-file
// storage adapter (pkg/storage/shardedfile), trading write-time CPU for
// on-disk size. Each algorithm is implemented as a codec satisfying a
// common interface so Compressor itself stays a thin dispatcher.
package compression

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a supported compression codec.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmSnappy
	AlgorithmZstd
	AlgorithmGzip
	AlgorithmZlib
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZlib:
		return "zlib"
	default:
		return "unknown"
	}
}

// Config selects an Algorithm and, for the ones that support it, a level.
type Config struct {
	Algorithm Algorithm
	Level     int
}

// DefaultConfig favors Zstd at its balanced default level.
func DefaultConfig() *Config {
	return &Config{Algorithm: AlgorithmZstd, Level: 3}
}

// SnappyConfig selects Snappy, which ignores Level.
func SnappyConfig() *Config {
	return &Config{Algorithm: AlgorithmSnappy}
}

// GzipConfig selects Gzip at level, clamped to gzip's valid range.
func GzipConfig(level int) *Config {
	if level < gzip.NoCompression || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Config{Algorithm: AlgorithmGzip, Level: level}
}

// ZstdConfig selects Zstd at level (1 fastest .. 19 smallest), clamped to
// a sane default when out of range.
func ZstdConfig(level int) *Config {
	if level < 1 || level > 19 {
		level = 3
	}
	return &Config{Algorithm: AlgorithmZstd, Level: level}
}

// codec is the per-algorithm strategy a Compressor dispatches to.
type codec interface {
	compress(data []byte) ([]byte, error)
	decompress(data []byte) ([]byte, error)
	close() error
}

// Compressor compresses and decompresses byte slices using whichever
// codec its Config selected. Safe for concurrent use except where the
// underlying codec documents otherwise (zstd's encoder/decoder are safe;
// gzip/zlib share one scratch buffer per Compressor and so are not).
type Compressor struct {
	algorithm Algorithm
	impl      codec
}

// NewCompressor builds a Compressor for config, or DefaultConfig if nil.
func NewCompressor(config *Config) (*Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var impl codec
	var err error
	switch config.Algorithm {
	case AlgorithmNone:
		impl = noneCodec{}
	case AlgorithmSnappy:
		impl = snappyCodec{}
	case AlgorithmZstd:
		impl, err = newZstdCodec(config.Level)
	case AlgorithmGzip:
		impl = &flateCodec{newWriter: func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriterLevel(w, config.Level) }, newReader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }}
	case AlgorithmZlib:
		impl = &flateCodec{newWriter: func(w io.Writer) (io.WriteCloser, error) { return zlib.NewWriterLevel(w, config.Level) }, newReader: func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) }}
	default:
		return nil, fmt.Errorf("compression: unsupported algorithm %v", config.Algorithm)
	}
	if err != nil {
		return nil, err
	}

	return &Compressor{algorithm: config.Algorithm, impl: impl}, nil
}

// Compress returns data compressed under the configured algorithm. Empty
// input passes through unchanged.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	out, err := c.impl.compress(data)
	if err != nil {
		return nil, fmt.Errorf("compression: %s compress: %w", c.algorithm, err)
	}
	return out, nil
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	out, err := c.impl.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("compression: %s decompress: %w", c.algorithm, err)
	}
	return out, nil
}

// Close releases any resources the codec holds (zstd's encoder/decoder
// goroutines, principally).
func (c *Compressor) Close() error {
	return c.impl.close()
}

type noneCodec struct{}

func (noneCodec) compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCodec) decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) close() error                           { return nil }

type snappyCodec struct{}

func (snappyCodec) compress(data []byte) ([]byte, error) { return snappy.Encode(nil, data), nil }
func (snappyCodec) decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
func (snappyCodec) close() error { return nil }

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec(level int) (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("new encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (z *zstdCodec) compress(data []byte) ([]byte, error) { return z.enc.EncodeAll(data, nil), nil }
func (z *zstdCodec) decompress(data []byte) ([]byte, error) {
	return z.dec.DecodeAll(data, nil)
}
func (z *zstdCodec) close() error {
	z.dec.Close()
	return z.enc.Close()
}

// flateCodec wraps compress/gzip or compress/zlib, both of which share the
// same WriteCloser/ReadCloser shape around a flate stream. One scratch
// buffer is reused across calls, so a flateCodec is not safe for
// concurrent use by itself (Compressor callers in this module serialize
// access per adapter instance).
type flateCodec struct {
	newWriter func(io.Writer) (io.WriteCloser, error)
	newReader func(io.Reader) (io.ReadCloser, error)
	buf       bytes.Buffer
}

func (f *flateCodec) compress(data []byte) ([]byte, error) {
	f.buf.Reset()
	w, err := f.newWriter(&f.buf)
	if err != nil {
		return nil, fmt.Errorf("new writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	out := make([]byte, f.buf.Len())
	copy(out, f.buf.Bytes())
	return out, nil
}

func (f *flateCodec) decompress(data []byte) ([]byte, error) {
	r, err := f.newReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("new reader: %w", err)
	}
	defer r.Close()

	f.buf.Reset()
	if _, err := io.Copy(&f.buf, r); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	out := make([]byte, f.buf.Len())
	copy(out, f.buf.Bytes())
	return out, nil
}

func (f *flateCodec) close() error { return nil }

// CompressionRatio is compressed/original size, in [0,1] for data that
// shrank. Returns 0 for empty input.
func CompressionRatio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}

// SpaceSavings is the percentage of originalSize reclaimed by compression.
func SpaceSavings(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return (1.0 - CompressionRatio(originalSize, compressedSize)) * 100
}
