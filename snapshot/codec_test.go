package snapshot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	snaperrors "github.com/c360/snapstream/errors"
)

func TestEncodeDecodeAllCodecs(t *testing.T) {
	elements := [][]byte{
		[]byte("first"),
		{},
		[]byte("a much longer element that should compress reasonably well well well well"),
		{0x00, 0xff, 0x10},
	}

	for _, compression := range []string{CompressionNone, CompressionGzip, CompressionLZ4} {
		t.Run("codec="+compression, func(t *testing.T) {
			data, err := EncodeChunk(elements, compression)
			require.NoError(t, err)

			count, err := ChunkElementCount(data)
			require.NoError(t, err)
			assert.Equal(t, int64(len(elements)), count)

			decoded, err := DecodeChunk(data, compression)
			require.NoError(t, err)
			if diff := cmp.Diff(elements, decoded); diff != "" {
				t.Errorf("decoded elements mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeEmptyChunk(t *testing.T) {
	data, err := EncodeChunk(nil, CompressionNone)
	require.NoError(t, err)

	decoded, err := DecodeChunk(data, CompressionNone)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeRejectsCorruption(t *testing.T) {
	data, err := EncodeChunk([][]byte{[]byte("payload")}, CompressionNone)
	require.NoError(t, err)

	// Flip a body byte: checksum must catch it.
	corrupted := append([]byte(nil), data...)
	corrupted[chunkHeaderSize] ^= 0xff
	_, err = DecodeChunk(corrupted, CompressionNone)
	assert.ErrorIs(t, err, snaperrors.ErrChecksumFailed)

	// Truncated below header size.
	_, err = DecodeChunk(data[:4], CompressionNone)
	assert.ErrorIs(t, err, snaperrors.ErrChunkCorrupted)

	// Wrong magic.
	bad := append([]byte("XXXXXXXX"), data[8:]...)
	_, err = DecodeChunk(bad, CompressionNone)
	assert.ErrorIs(t, err, snaperrors.ErrChunkCorrupted)
}

func TestUnknownCompressionRejected(t *testing.T) {
	_, err := EncodeChunk(nil, "zstd")
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)

	data, err := EncodeChunk([][]byte{[]byte("x")}, CompressionNone)
	require.NoError(t, err)
	_, err = DecodeChunk(data, "zstd")
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)
}
