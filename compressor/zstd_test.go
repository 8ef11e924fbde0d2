package compressor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdRoundTripsAtEveryLevel(t *testing.T) {
	z := NewZstd()
	payload := []byte(strings.Repeat("taskgraph compressible payload ", 64))

	for level := 1; level <= 10; level++ {
		compressed, err := z.Compress(payload, level)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(payload), "a highly repetitive payload should shrink")

		decompressed, err := z.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, payload, decompressed)
	}
}

func TestZstdTagIsStable(t *testing.T) {
	z := NewZstd()
	assert.Equal(t, "zstd", z.Tag())
}

func TestZstdDecompressRejectsNonZstdData(t *testing.T) {
	z := NewZstd()
	_, err := z.Decompress([]byte("not a zstd frame"))
	assert.Error(t, err)
}
