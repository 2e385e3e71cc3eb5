package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStagingAllocatorAcquireCreatesNewDir(t *testing.T) {
	tmp := t.TempDir()
	a := NewStagingAllocator(tmp, "staging-boot1-")

	dir, err := a.Acquire()
	require.NoError(t, err)
	require.DirExists(t, dir.Path)
	require.FileExists(t, dir.Path+"-lock")

	require.NoError(t, dir.Release())
}

func TestStagingAllocatorReusesUnlockedDir(t *testing.T) {
	tmp := t.TempDir()
	a := NewStagingAllocator(tmp, "staging-boot1-")

	first, err := a.Acquire()
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := a.Acquire()
	require.NoError(t, err)
	require.Equal(t, first.Path, second.Path)
	require.NoError(t, second.Release())
}

func TestStagingAllocatorSkipsLockedDir(t *testing.T) {
	tmp := t.TempDir()
	a := NewStagingAllocator(tmp, "staging-boot1-")

	first, err := a.Acquire()
	require.NoError(t, err)
	// first stays locked (no Release).

	second, err := a.Acquire()
	require.NoError(t, err)
	require.NotEqual(t, first.Path, second.Path)

	require.NoError(t, first.Release())
	require.NoError(t, second.Release())
}

func TestReaperRemovesStaleUnlockedDirs(t *testing.T) {
	tmp := t.TempDir()
	a := NewStagingAllocator(tmp, "staging-oldboot-")

	dir, err := a.Acquire()
	require.NoError(t, err)
	require.NoError(t, dir.Release())

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(dir.Path, old, old))

	reaper := NewReaper(tmp, "staging-oldboot-", time.Hour, "staging-currentboot-")
	removed, err := reaper.Reap()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.NoDirExists(t, dir.Path)
}

func TestReaperLeavesFreshDirsAlone(t *testing.T) {
	tmp := t.TempDir()
	a := NewStagingAllocator(tmp, "staging-boot1-")

	dir, err := a.Acquire()
	require.NoError(t, err)
	require.NoError(t, dir.Release())

	reaper := NewReaper(tmp, "staging-boot1-", time.Hour, "staging-boot1-")
	removed, err := reaper.Reap()
	require.NoError(t, err)
	require.Equal(t, 0, removed)
	require.DirExists(t, dir.Path)
}

func TestReaperOnMissingTmpDir(t *testing.T) {
	reaper := NewReaper(filepath.Join(t.TempDir(), "missing"), "staging-", time.Hour, "")
	removed, err := reaper.Reap()
	require.NoError(t, err)
	require.Equal(t, 0, removed)
}
