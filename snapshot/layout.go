package snapshot

import (
	"fmt"
	"strconv"
	"strings"

	snaperrors "github.com/c360/snapstream/errors"
)

// Persisted layout under a stream root:
//
//	<root>/snapshot.json                  stream metadata record
//	<root>/chunks/chunk_<number>          committed chunks, dispatcher-numbered
//	<root>/staging/split_<idx>_<uuid>     staged chunks awaiting commit
//
// Chunk numbers are zero-padded so lexicographic listing order equals
// numeric order.
const (
	metadataName  = "snapshot.json"
	chunksDir     = "chunks"
	stagingDir    = "staging"
	chunkBaseName = "chunk_"
	chunkNumWidth = 16
)

func normalizeRoot(root string) string {
	return strings.Trim(root, "/")
}

func join(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// MetadataKey returns the store key of the stream metadata record.
func MetadataKey(root string) string {
	return join(normalizeRoot(root), metadataName)
}

// ChunkKey returns the store key of committed chunk number n.
func ChunkKey(root string, n int64) string {
	return join(normalizeRoot(root), chunksDir, fmt.Sprintf("%s%0*d", chunkBaseName, chunkNumWidth, n))
}

// ChunkPrefix returns the listing prefix that matches all committed chunks.
func ChunkPrefix(root string) string {
	return join(normalizeRoot(root), chunksDir, chunkBaseName)
}

// StagingKey returns a store key in the staging namespace for a chunk
// produced by the given split. The id disambiguates chunks of the same
// split and re-executions after reassignment.
func StagingKey(root string, splitIndex int64, id string) string {
	return join(normalizeRoot(root), stagingDir, fmt.Sprintf("split_%d_%s", splitIndex, id))
}

// ParseChunkNumber extracts the chunk number from a committed chunk key.
func ParseChunkNumber(key string) (int64, error) {
	base := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		base = key[i+1:]
	}
	numStr, ok := strings.CutPrefix(base, chunkBaseName)
	if !ok {
		return 0, fmt.Errorf("snapshot: %q is not a chunk key: %w", key, snaperrors.ErrInvalidConfig)
	}
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snapshot: bad chunk number in %q: %w", key, err)
	}
	return n, nil
}
