package compress

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 127 * 1024, 128 * 1024, 128*1024 + 1, 500 * 1024}
	for _, size := range sizes {
		data := bytes.Repeat([]byte{0x42}, size)
		compressed, err := Compress(context.Background(), data)
		require.NoError(t, err)
		if size > 0 {
			assert.True(t, IsCompressed(compressed))
		}

		decompressed, err := Decompress(context.Background(), compressed)
		require.NoError(t, err)
		assert.Equal(t, data, decompressed)
	}
}

func TestCompressIsIdempotent(t *testing.T) {
	data := []byte("reproducible builds are worth verifying")
	once, err := Compress(context.Background(), data)
	require.NoError(t, err)

	twice, err := Compress(context.Background(), once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestDecompressPassesThroughUncompressed(t *testing.T) {
	data := []byte("not compressed")
	out, err := Decompress(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestIsCompressedMagic(t *testing.T) {
	assert.False(t, IsCompressed(nil))
	assert.False(t, IsCompressed([]byte{0, 1, 2, 3}))
	assert.True(t, IsCompressed([]byte{0x28, 0xB5, 0x2F, 0xFD, 0x00}))
}
