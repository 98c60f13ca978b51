package compression

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, config *Config, data []byte) []byte {
	t.Helper()
	c, err := NewCompressor(config)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	defer c.Close()

	compressed, err := c.Compress(data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(decompressed), len(data))
	}
	return compressed
}

func TestCodecsRoundTrip(t *testing.T) {
	repeating := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 100))

	tests := []struct {
		name   string
		config *Config
	}{
		{"None", &Config{Algorithm: AlgorithmNone}},
		{"Snappy", SnappyConfig()},
		{"Zstd", ZstdConfig(3)},
		{"Gzip", GzipConfig(6)},
		{"Zlib", &Config{Algorithm: AlgorithmZlib, Level: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roundTrip(t, tt.config, repeating)
		})
	}
}

func TestNoneCodecDoesNotTransformData(t *testing.T) {
	data := []byte("hello world")
	compressed := roundTrip(t, &Config{Algorithm: AlgorithmNone}, data)
	if !bytes.Equal(compressed, data) {
		t.Error("AlgorithmNone should pass data through unchanged")
	}
}

func TestZstdActuallyShrinksRepetitiveData(t *testing.T) {
	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 100))
	compressed := roundTrip(t, ZstdConfig(3), data)
	if len(compressed) >= len(data) {
		t.Errorf("compressed size %d should be smaller than original %d for repetitive input", len(compressed), len(data))
	}
}

func TestEmptyDataPassesThroughEveryCodec(t *testing.T) {
	configs := []*Config{{Algorithm: AlgorithmNone}, SnappyConfig(), ZstdConfig(3), GzipConfig(6), {Algorithm: AlgorithmZlib, Level: 6}}
	for _, config := range configs {
		compressed := roundTrip(t, config, []byte{})
		if len(compressed) != 0 {
			t.Errorf("%s: expected empty compressed output, got %d bytes", config.Algorithm, len(compressed))
		}
	}
}

func TestIncompressibleDataStillRoundTrips(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	roundTrip(t, ZstdConfig(3), data)
}

func TestNewCompressorRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewCompressor(&Config{Algorithm: Algorithm(999)})
	if err == nil {
		t.Error("expected an error for an unsupported algorithm")
	}
}

func TestCompressionRatioAndSpaceSavings(t *testing.T) {
	tests := []struct {
		original, compressed int
		wantRatio, wantSaved float64
	}{
		{1000, 500, 0.5, 50.0},
		{1000, 250, 0.25, 75.0},
		{1000, 1000, 1.0, 0.0},
		{0, 0, 0.0, 0.0},
	}
	for _, tt := range tests {
		if got := CompressionRatio(tt.original, tt.compressed); got != tt.wantRatio {
			t.Errorf("CompressionRatio(%d, %d) = %f, want %f", tt.original, tt.compressed, got, tt.wantRatio)
		}
		if got := SpaceSavings(tt.original, tt.compressed); got != tt.wantSaved {
			t.Errorf("SpaceSavings(%d, %d) = %f, want %f", tt.original, tt.compressed, got, tt.wantSaved)
		}
	}
}

func TestAlgorithmString(t *testing.T) {
	tests := []struct {
		algo Algorithm
		want string
	}{
		{AlgorithmNone, "none"},
		{AlgorithmSnappy, "snappy"},
		{AlgorithmZstd, "zstd"},
		{AlgorithmGzip, "gzip"},
		{AlgorithmZlib, "zlib"},
		{Algorithm(999), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.algo.String(); got != tt.want {
			t.Errorf("Algorithm(%d).String() = %s, want %s", tt.algo, got, tt.want)
		}
	}
}

func TestGzipAndZstdLevelsClampOutOfRange(t *testing.T) {
	if cfg := GzipConfig(99); cfg.Level != gzip.DefaultCompression {
		t.Errorf("GzipConfig(99) = level %d, want gzip.DefaultCompression", cfg.Level)
	}
	if cfg := ZstdConfig(0); cfg.Level != 3 {
		t.Errorf("ZstdConfig(0) = level %d, want the clamped default 3", cfg.Level)
	}
	if cfg := ZstdConfig(20); cfg.Level != 3 {
		t.Errorf("ZstdConfig(20) = level %d, want the clamped default 3", cfg.Level)
	}
}
