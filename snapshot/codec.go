package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/pierrec/lz4/v4"

	snaperrors "github.com/c360/snapstream/errors"
)

// Compression codec names, recorded in the stream metadata so readers can
// decode without out-of-band knowledge. The system wraps existing codecs
// rather than implementing its own.
const (
	CompressionNone = ""
	CompressionGzip = "gzip"
	CompressionLZ4  = "lz4"
)

// Chunk file format:
//
//	magic(8) | elementCount uint32 BE | body | crc32c uint32 BE
//
// body is a sequence of elementCount frames (uint32 BE length + payload),
// compressed as a whole when a codec is configured. The checksum covers
// everything before the trailer. A chunk file is always written in one
// atomic publish, so the count header can be exact.
var chunkMagic = []byte("SSCHUNK1")

const (
	chunkHeaderSize  = 12 // magic + count
	chunkTrailerSize = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ValidCompression reports whether name is a supported codec.
func ValidCompression(name string) bool {
	switch name {
	case CompressionNone, CompressionGzip, CompressionLZ4:
		return true
	}
	return false
}

// EncodeChunk serializes elements into a self-describing chunk file.
func EncodeChunk(elements [][]byte, compression string) ([]byte, error) {
	if !ValidCompression(compression) {
		return nil, fmt.Errorf("snapshot: unknown compression %q: %w", compression, snaperrors.ErrInvalidConfig)
	}

	var body bytes.Buffer
	frameWriter, closeFrames, err := compressor(&body, compression)
	if err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	for _, el := range elements {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(el)))
		if _, err := frameWriter.Write(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("snapshot: encode frame: %w", err)
		}
		if _, err := frameWriter.Write(el); err != nil {
			return nil, fmt.Errorf("snapshot: encode frame: %w", err)
		}
	}
	if err := closeFrames(); err != nil {
		return nil, fmt.Errorf("snapshot: finish compression: %w", err)
	}

	out := make([]byte, 0, chunkHeaderSize+body.Len()+chunkTrailerSize)
	out = append(out, chunkMagic...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(elements)))
	out = append(out, body.Bytes()...)
	out = binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
	return out, nil
}

// DecodeChunk parses a chunk file and returns its elements in write order.
func DecodeChunk(data []byte, compression string) ([][]byte, error) {
	count, body, err := parseChunk(data)
	if err != nil {
		return nil, err
	}

	frameReader, err := decompressor(bytes.NewReader(body), compression)
	if err != nil {
		return nil, err
	}

	elements := make([][]byte, 0, count)
	var lenBuf [4]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(frameReader, lenBuf[:]); err != nil {
			return nil, snaperrors.WrapFatal(snaperrors.ErrChunkCorrupted, "snapshot", "DecodeChunk",
				fmt.Sprintf("truncated frame header at element %d", i))
		}
		el := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(frameReader, el); err != nil {
			return nil, snaperrors.WrapFatal(snaperrors.ErrChunkCorrupted, "snapshot", "DecodeChunk",
				fmt.Sprintf("truncated element %d", i))
		}
		elements = append(elements, el)
	}
	return elements, nil
}

// ChunkElementCount reads the element count header without decoding the
// body. Used by diagnostics and the chunk-listing primitive.
func ChunkElementCount(data []byte) (int64, error) {
	count, _, err := parseChunk(data)
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}

func parseChunk(data []byte) (uint32, []byte, error) {
	if len(data) < chunkHeaderSize+chunkTrailerSize {
		return 0, nil, snaperrors.WrapFatal(snaperrors.ErrChunkCorrupted, "snapshot", "parseChunk",
			"chunk shorter than header")
	}
	if !bytes.Equal(data[:len(chunkMagic)], chunkMagic) {
		return 0, nil, snaperrors.WrapFatal(snaperrors.ErrChunkCorrupted, "snapshot", "parseChunk",
			"bad chunk magic")
	}

	trailerAt := len(data) - chunkTrailerSize
	want := binary.BigEndian.Uint32(data[trailerAt:])
	if got := crc32.Checksum(data[:trailerAt], castagnoli); got != want {
		return 0, nil, snaperrors.WrapFatal(snaperrors.ErrChecksumFailed, "snapshot", "parseChunk",
			fmt.Sprintf("chunk checksum mismatch: got %08x want %08x", got, want))
	}

	count := binary.BigEndian.Uint32(data[len(chunkMagic):chunkHeaderSize])
	return count, data[chunkHeaderSize:trailerAt], nil
}

func compressor(w io.Writer, compression string) (io.Writer, func() error, error) {
	switch compression {
	case CompressionNone:
		return w, func() error { return nil }, nil
	case CompressionGzip:
		gw := gzip.NewWriter(w)
		return gw, gw.Close, nil
	case CompressionLZ4:
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	}
	return nil, nil, fmt.Errorf("snapshot: unknown compression %q: %w", compression, snaperrors.ErrInvalidConfig)
}

func decompressor(r io.Reader, compression string) (io.Reader, error) {
	switch compression {
	case CompressionNone:
		return r, nil
	case CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, snaperrors.WrapFatal(snaperrors.ErrChunkCorrupted, "snapshot", "decompressor",
				"bad gzip stream")
		}
		return gr, nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil
	}
	return nil, fmt.Errorf("snapshot: unknown compression %q: %w", compression, snaperrors.ErrInvalidConfig)
}
