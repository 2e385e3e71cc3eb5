package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirMetaCacheBorrowAndRelease(t *testing.T) {
	c := NewDirMetaCache()

	_, ok := c.Get("abc")
	require.False(t, ok)

	release := c.Borrow()
	c.Put("abc", []byte("payload"))

	got, ok := c.Get("abc")
	require.True(t, ok)
	require.Equal(t, []byte("payload"), got)

	release()

	_, ok = c.Get("abc")
	require.False(t, ok, "cache entries should be dropped once the last borrow releases")
}

func TestDirMetaCachePutWithoutBorrowIsNoOp(t *testing.T) {
	c := NewDirMetaCache()
	c.Put("abc", []byte("payload"))

	_, ok := c.Get("abc")
	require.False(t, ok)
}

func TestDirMetaCacheMultipleBorrowersShareEntries(t *testing.T) {
	c := NewDirMetaCache()

	releaseA := c.Borrow()
	releaseB := c.Borrow()

	c.Put("k", []byte("v"))
	releaseA()

	got, ok := c.Get("k")
	require.True(t, ok, "entries survive while at least one borrower remains")
	require.Equal(t, []byte("v"), got)

	releaseB()
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestDirMetaCacheReleaseIsIdempotent(t *testing.T) {
	c := NewDirMetaCache()
	release := c.Borrow()
	release()
	require.NotPanics(t, release)
}
