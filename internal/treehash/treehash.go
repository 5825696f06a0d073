// Package treehash computes the two-level SHA-256 tree hash used to verify
// archives and archive parts end to end.
//
// Input is split into 1 MiB leaves. Leaves are grouped into chunks of a
// power-of-two number of leaves; each chunk digest is the pairwise tree
// reduction of its leaf digests, and the root is the same reduction over the
// chunk digests. Because chunk sizes are powers of two the root equals the
// tree hash over all leaves, while the chunk digests double as the digests of
// multipart upload parts.
package treehash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// LeafSize is the size of one hashed leaf.
const LeafSize = 1 << 20

// ErrChunkSize is returned when the chunk size is not a positive power of two.
var ErrChunkSize = errors.New("chunk size must be a positive power of two")

// Result holds the root digest and one digest per chunk.
type Result struct {
	Root   []byte
	Chunks [][]byte
	Size   int64
}

// RootHex returns the root digest hex encoded.
func (r Result) RootHex() string {
	return hex.EncodeToString(r.Root)
}

// ChunksHex returns the chunk digests hex encoded.
func (r Result) ChunksHex() []string {
	out := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		out[i] = hex.EncodeToString(c)
	}
	return out
}

// ProgressFunc receives the cumulative number of bytes hashed.
type ProgressFunc func(total int64)

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Sum hashes r with chunks of chunkSizeMiB leaves. The result does not
// depend on how r buffers its reads. progress, when set, is called after
// every leaf.
func Sum(r io.Reader, chunkSizeMiB int, progress ProgressFunc) (Result, error) {
	if !IsPowerOfTwo(chunkSizeMiB) {
		return Result{}, fmt.Errorf("%w: %d", ErrChunkSize, chunkSizeMiB)
	}

	var (
		buf    = make([]byte, LeafSize)
		leaves = make([][]byte, 0, chunkSizeMiB)
		chunks [][]byte
		total  int64
	)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])
			leaves = append(leaves, sum[:])
			total += int64(n)

			if progress != nil {
				progress(total)
			}

			if len(leaves) == chunkSizeMiB {
				chunks = append(chunks, Reduce(leaves))
				leaves = make([][]byte, 0, chunkSizeMiB)
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to read input: %w", err)
		}
	}

	if len(leaves) > 0 {
		chunks = append(chunks, Reduce(leaves))
	}

	if total == 0 {
		empty := sha256.Sum256(nil)
		chunks = [][]byte{empty[:]}
	}

	return Result{
		Root:   Reduce(chunks),
		Chunks: chunks,
		Size:   total,
	}, nil
}

// SumBytes hashes an in-memory buffer.
func SumBytes(b []byte, chunkSizeMiB int) (Result, error) {
	return Sum(bytes.NewReader(b), chunkSizeMiB, nil)
}

// Reduce combines digests pairwise, left to right, carrying an odd trailing
// digest up unchanged, until a single digest remains. Reduce of an empty
// list is nil.
func Reduce(digests [][]byte) []byte {
	if len(digests) == 0 {
		return nil
	}

	level := digests
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}

	return level[0]
}
