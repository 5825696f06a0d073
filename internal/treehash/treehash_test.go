package treehash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"testing/iotest"

	"github.com/aws/aws-sdk-go/service/glacier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func digest(b []byte) []byte {
	s := sha256.Sum256(b)
	return s[:]
}

func pair(a, b []byte) []byte {
	return digest(append(append([]byte{}, a...), b...))
}

func TestSumEmptyInput(t *testing.T) {
	t.Parallel()

	res, err := SumBytes(nil, 1)
	require.NoError(t, err)

	want := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(want[:]), res.RootHex())
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, want[:], res.Chunks[0])
	assert.Equal(t, int64(0), res.Size)
}

func TestSumSingleByte(t *testing.T) {
	t.Parallel()

	res, err := SumBytes([]byte{0x30}, 1)
	require.NoError(t, err)

	assert.Equal(t, digest([]byte{0x30}), res.Root)
	assert.Len(t, res.Chunks, 1)
}

func TestSumExactlyOneChunk(t *testing.T) {
	t.Parallel()

	data := pattern(2 * LeafSize)
	res, err := SumBytes(data, 2)
	require.NoError(t, err)

	want := pair(digest(data[:LeafSize]), digest(data[LeafSize:]))
	assert.Equal(t, want, res.Root)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, want, res.Chunks[0])
}

func TestSumTwoChunks(t *testing.T) {
	t.Parallel()

	data := pattern(2 * LeafSize)
	res, err := SumBytes(data, 1)
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, digest(data[:LeafSize]), res.Chunks[0])
	assert.Equal(t, digest(data[LeafSize:]), res.Chunks[1])
	assert.Equal(t, pair(res.Chunks[0], res.Chunks[1]), res.Root)
}

func TestSumOddLeafCarriesUp(t *testing.T) {
	t.Parallel()

	data := pattern(3 * LeafSize)
	res, err := SumBytes(data, 4)
	require.NoError(t, err)

	l0 := digest(data[:LeafSize])
	l1 := digest(data[LeafSize : 2*LeafSize])
	l2 := digest(data[2*LeafSize:])
	assert.Equal(t, pair(pair(l0, l1), l2), res.Root)
	assert.Len(t, res.Chunks, 1)
}

func TestSumIndependentOfBuffering(t *testing.T) {
	t.Parallel()

	data := pattern(LeafSize + 17)

	whole, err := SumBytes(data, 1)
	require.NoError(t, err)

	trickle, err := Sum(iotest.HalfReader(bytes.NewReader(data)), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, whole.Root, trickle.Root)
	assert.Equal(t, whole.Chunks, trickle.Chunks)
}

func TestSumMatchesServiceTreeHash(t *testing.T) {
	t.Parallel()

	data := pattern(4*LeafSize + 5)

	for _, chunk := range []int{1, 2, 4, 8} {
		res, err := SumBytes(data, chunk)
		require.NoError(t, err)

		want := glacier.ComputeHashes(bytes.NewReader(data)).TreeHash
		assert.Equal(t, want, res.Root, "chunk size %d", chunk)
	}
}

func TestSumRejectsBadChunkSize(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -2, 3, 12} {
		_, err := SumBytes([]byte("x"), n)
		assert.ErrorIs(t, err, ErrChunkSize, "chunk size %d", n)
	}
}

func TestSumReportsProgress(t *testing.T) {
	t.Parallel()

	data := pattern(2*LeafSize + 1)
	var seen []int64

	_, err := Sum(bytes.NewReader(data), 1, func(total int64) {
		seen = append(seen, total)
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{LeafSize, 2 * LeafSize, 2*LeafSize + 1}, seen)
}

func TestReduce(t *testing.T) {
	t.Parallel()

	a, b, c := digest([]byte("a")), digest([]byte("b")), digest([]byte("c"))

	assert.Nil(t, Reduce(nil))
	assert.Equal(t, a, Reduce([][]byte{a}))
	assert.Equal(t, pair(a, b), Reduce([][]byte{a, b}))
	assert.Equal(t, pair(pair(a, b), c), Reduce([][]byte{a, b, c}))
}

func TestIsPowerOfTwo(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 4, 1024} {
		assert.True(t, IsPowerOfTwo(n), n)
	}
	for _, n := range []int{0, -1, 3, 6, 1000} {
		assert.False(t, IsPowerOfTwo(n), n)
	}
}
