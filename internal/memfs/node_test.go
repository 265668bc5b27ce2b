package memfs

import (
	"bytes"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 4096),
		{0},
	}

	for _, payload := range payloads {
		n := newFileNode("f", 0o644, time.Now())
		written, err := n.WriteAt(0, payload)
		require.NoError(t, err)
		assert.Equal(t, len(payload), written)

		got, err := n.ReadAt(0, len(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.True(t, n.Dirty())
	}
}

func TestNodeSparseWrite(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())
	_, err := n.WriteAt(10, []byte("Z"))
	require.NoError(t, err)

	assert.Equal(t, int64(11), n.Stat().Size)
	got, err := n.ReadAt(0, 11)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), got[:10])
	assert.Equal(t, byte('Z'), got[10])
}

func TestNodeGrowthPolicy(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())

	_, err := n.WriteAt(0, []byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n.Stat().Size)
	assert.Equal(t, 10, n.Capacity())

	_, err = n.WriteAt(8, []byte("abcde"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), n.Stat().Size)
	assert.Equal(t, 15, n.Capacity())

	got, err := n.ReadAt(0, 13)
	require.NoError(t, err)
	assert.Equal(t, "01234567abcde", string(got))

	// a write far beyond 1.5x capacity allocates exactly what it needs
	_, err = n.WriteAt(100, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 101, n.Capacity())
}

func TestNodeGrowthPreservesContent(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())
	var expected []byte
	lastCap := 0

	for i := 0; i < 200; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i%7+1)
		_, err := n.WriteAt(int64(len(expected)), chunk)
		require.NoError(t, err)
		expected = append(expected, chunk...)

		capacity := n.Capacity()
		assert.GreaterOrEqual(t, int64(capacity), n.Stat().Size)
		assert.GreaterOrEqual(t, capacity, lastCap, "capacity must never shrink")
		lastCap = capacity
	}

	got, err := n.ReadAt(0, len(expected))
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestNodeReadBounds(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())
	_, err := n.WriteAt(0, []byte("hello"))
	require.NoError(t, err)

	got, err := n.ReadAt(5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = n.ReadAt(3, 10)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(got))

	got, err = n.ReadAt(0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNodeWriteBounds(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())

	tests := []struct {
		name   string
		offset int64
		err    error
	}{
		{"negative offset", -1, ErrInvalid},
		{"offset overflows", math.MaxInt64, ErrTooLarge},
		{"end past limit", MaxFileSize, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			written, err := n.WriteAt(tt.offset, []byte("a"))
			assert.ErrorIs(t, err, tt.err)
			assert.Zero(t, written)
		})
	}

	assert.ErrorIs(t, n.Truncate(MaxFileSize+1), ErrTooLarge)
	assert.Equal(t, int64(0), n.Stat().Size)
	assert.Equal(t, 0, n.Capacity())
	assert.False(t, n.Dirty())
}

func TestNodeConcurrentAppend(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())

	const writers, appends = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < appends; i++ {
				_, err := n.Append([]byte("xy"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(writers*appends*2), n.Stat().Size)
	got, err := n.ReadAt(0, writers*appends*2)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("xy", writers*appends), string(got))
}

func TestNodeReadWithoutBuffer(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())
	n.size = 8

	_, err := n.ReadAt(0, 4)
	assert.ErrorIs(t, err, ErrIO)
}

func TestNodeTruncate(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())
	_, err := n.WriteAt(0, []byte("abcdefgh"))
	require.NoError(t, err)

	require.NoError(t, n.Truncate(3))
	assert.Equal(t, int64(3), n.Stat().Size)
	assert.Equal(t, 8, n.Capacity())

	// extending again must not resurrect the old tail
	require.NoError(t, n.Truncate(6))
	got, err := n.ReadAt(0, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0}, got)

	dir := newDirNode("d", 0o755, time.Now(), "")
	assert.ErrorIs(t, dir.Truncate(0), ErrIsDir)
}

func TestNodeStatDirectorySize(t *testing.T) {
	dir := newDirNode("d", 0o755, time.Now(), "")
	attrs := dir.Stat()
	assert.True(t, attrs.IsDir())
	assert.Equal(t, int64(DirSize), attrs.Size)
}

func TestNodeSetTimesAndChmod(t *testing.T) {
	n := newFileNode("f", 0o644, time.Now())
	atime := time.Unix(1000, 0)
	mtime := time.Unix(2000, 0)
	n.SetTimes(atime, mtime)
	n.Chmod(0o600)

	attrs := n.Stat()
	assert.True(t, attrs.Atime.Equal(atime))
	assert.True(t, attrs.Mtime.Equal(mtime))
	assert.Equal(t, "-rw-------", attrs.Mode.String())

	dir := newDirNode("d", 0o755, time.Now(), "")
	dir.Chmod(0o700)
	assert.True(t, dir.Stat().IsDir())
}

func TestNodeChildSetOrdered(t *testing.T) {
	dir := newDirNode("d", 0o755, time.Now(), "")
	assert.Nil(t, dir.childNames())

	for _, name := range []string{"c", "a", "b", "a"} {
		dir.addChild(name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, dir.childNames())
	assert.True(t, dir.hasChild("b"))

	dir.removeChild("b")
	assert.False(t, dir.hasChild("b"))
	assert.Equal(t, 2, dir.childCount())
}
