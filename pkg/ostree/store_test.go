// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, mode RepoMode) *Repo {
	t.Helper()
	dir := t.TempDir()
	r, err := Create(Options{Path: dir}, mode, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestStoreAndLoadFileBare(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	obj := FileObject{
		Kind: FileRegular,
		Mode: 0o100644,
		Data: io.NopCloser(bytes.NewReader([]byte("hello world"))),
	}

	digest, err := r.StoreFile(obj)
	require.NoError(t, err)
	require.True(t, ValidDigest(digest))

	has, err := r.HasObject(digest, ObjectFile)
	require.NoError(t, err)
	require.True(t, has)

	got, err := r.LoadFile(digest)
	require.NoError(t, err)
	data, err := io.ReadAll(got.Data)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestStoreFileIsContentAddressed(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	obj := func() FileObject {
		return FileObject{Kind: FileRegular, Mode: 0o100644, Data: io.NopCloser(bytes.NewReader([]byte("same content")))}
	}

	d1, err := r.StoreFile(obj())
	require.NoError(t, err)
	d2, err := r.StoreFile(obj())
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestStoreAndLoadFileArchive(t *testing.T) {
	r := newTestRepo(t, ModeArchiveZ2)

	obj := FileObject{
		Kind: FileRegular,
		Mode: 0o100644,
		Data: io.NopCloser(bytes.NewReader([]byte("compressed content"))),
	}
	digest, err := r.StoreFile(obj)
	require.NoError(t, err)

	got, err := r.LoadFile(digest)
	require.NoError(t, err)
	data, err := io.ReadAll(got.Data)
	require.NoError(t, err)
	require.Equal(t, "compressed content", string(data))
}

func TestStoreAndLoadMetadataObjects(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	dmDigest, err := r.StoreDirMeta(DirMeta{UID: 0, GID: 0, Mode: 0o40755})
	require.NoError(t, err)
	dm, err := r.LoadDirMeta(dmDigest)
	require.NoError(t, err)
	require.Equal(t, uint32(0o40755), dm.Mode)

	dtDigest, err := r.StoreDirTree(DirTree{Files: []DirTreeFile{{Name: "a", Digest: dmDigest}}})
	require.NoError(t, err)
	dt, err := r.LoadDirTree(dtDigest)
	require.NoError(t, err)
	require.Len(t, dt.Files, 1)
	require.Equal(t, "a", dt.Files[0].Name)

	commit := Commit{
		Subject:     "initial commit",
		Timestamp:   time.Now().UTC().Truncate(time.Second),
		RootTree:    dtDigest,
		RootDirMeta: dmDigest,
	}
	cDigest, err := r.StoreCommit(commit)
	require.NoError(t, err)
	loaded, err := r.LoadCommit(cDigest)
	require.NoError(t, err)
	require.Equal(t, "initial commit", loaded.Subject)
	require.Equal(t, commit.Timestamp, loaded.Timestamp)
}

func TestDetachedMetadataDefaultsEmpty(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	cDigest, err := r.StoreCommit(Commit{Subject: "x", Timestamp: time.Now().UTC().Truncate(time.Second)})
	require.NoError(t, err)

	dm, err := r.LoadDetachedMetadata(cDigest)
	require.NoError(t, err)
	require.Empty(t, dm.GPGSigs)

	dm.GPGSigs = [][]byte{[]byte("sig-bytes")}
	require.NoError(t, r.StoreDetachedMetadata(cDigest, dm))

	reloaded, err := r.LoadDetachedMetadata(cDigest)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("sig-bytes")}, reloaded.GPGSigs)
}

func TestTombstoneRoundTrip(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	_, err := r.StoreTombstone(Tombstone{CommitDigest: "deadbeef"})
	require.NoError(t, err)

	got, err := r.LoadTombstone("deadbeef")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", got.CommitDigest)
}

func TestDeleteCommitRemovesCommitMeta(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	cDigest, err := r.StoreCommit(Commit{Subject: "x", Timestamp: time.Now().UTC().Truncate(time.Second)})
	require.NoError(t, err)
	require.NoError(t, r.StoreDetachedMetadata(cDigest, DetachedMetadata{GPGSigs: [][]byte{[]byte("sig")}}))

	require.NoError(t, r.DeleteObject(cDigest, ObjectCommit))

	_, err = r.LoadCommit(cDigest)
	require.ErrorIs(t, err, ErrNotFound)

	dm, err := r.LoadDetachedMetadata(cDigest)
	require.NoError(t, err)
	require.Empty(t, dm.GPGSigs)
}

func TestDeleteCommitWritesTombstoneWhenEnabled(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	cfgPath := filepath.Join(r.Path(), "config")
	content := "[core]\nrepo_version=1\nmode=bare\ntombstone-commits=true\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	require.NoError(t, r.ReloadConfig())

	cDigest, err := r.StoreCommit(Commit{Subject: "x", Timestamp: time.Now().UTC().Truncate(time.Second)})
	require.NoError(t, err)

	require.NoError(t, r.DeleteObject(cDigest, ObjectCommit))

	tomb, err := r.LoadTombstone(cDigest)
	require.NoError(t, err)
	require.Equal(t, cDigest, tomb.CommitDigest)
}

func TestStoreFilePopulatesUncompressedCache(t *testing.T) {
	r := newTestRepo(t, ModeArchiveZ2)

	obj := FileObject{
		Kind: FileRegular,
		Mode: 0o100644,
		Data: io.NopCloser(bytes.NewReader([]byte("compressed content"))),
	}
	digest, err := r.StoreFile(obj)
	require.NoError(t, err)

	cachePath := r.uncompressedCachePath(digest)
	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	require.Equal(t, "compressed content", string(data))

	got, err := r.LoadFile(digest)
	require.NoError(t, err)
	read, err := io.ReadAll(got.Data)
	require.NoError(t, err)
	require.Equal(t, "compressed content", string(read))
}

func TestLoadFileFallsBackWhenUncompressedCacheDisabled(t *testing.T) {
	r := newTestRepo(t, ModeArchiveZ2)

	cfgPath := filepath.Join(r.Path(), "config")
	content := "[core]\nrepo_version=1\nmode=archive-z2\nenable-uncompressed-cache=false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	require.NoError(t, r.ReloadConfig())

	obj := FileObject{
		Kind: FileRegular,
		Mode: 0o100644,
		Data: io.NopCloser(bytes.NewReader([]byte("compressed content"))),
	}
	digest, err := r.StoreFile(obj)
	require.NoError(t, err)
	require.NoFileExists(t, r.uncompressedCachePath(digest))

	got, err := r.LoadFile(digest)
	require.NoError(t, err)
	read, err := io.ReadAll(got.Data)
	require.NoError(t, err)
	require.Equal(t, "compressed content", string(read))
}

func TestStoreFileDropsXAttrsWhenDisabled(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	cfgPath := filepath.Join(r.Path(), "config")
	content := "[core]\nrepo_version=1\nmode=bare\ndisable-xattrs=true\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	require.NoError(t, r.ReloadConfig())

	obj := FileObject{
		Kind:   FileRegular,
		Mode:   0o100644,
		Data:   io.NopCloser(bytes.NewReader([]byte("content"))),
		XAttrs: []XAttr{{Name: "user.test", Value: []byte("value")}},
	}
	digest, err := r.StoreFile(obj)
	require.NoError(t, err)

	got, err := r.LoadFile(digest)
	require.NoError(t, err)
	require.Empty(t, got.XAttrs)
}

func TestLoadFileNotFound(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	digest := strings.Repeat("0", 64)
	_, err := r.LoadFile(digest)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEnumerateObjects(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	_, err := r.StoreFile(FileObject{Kind: FileRegular, Mode: 0o100644, Data: io.NopCloser(bytes.NewReader([]byte("x")))})
	require.NoError(t, err)
	_, err = r.StoreDirMeta(DirMeta{Mode: 0o40755})
	require.NoError(t, err)

	seen := map[ObjectType]int{}
	require.NoError(t, r.EnumerateObjects(func(digest string, kind ObjectType) error {
		require.True(t, ValidDigest(digest))
		seen[kind]++
		return nil
	}))
	require.Equal(t, 1, seen[ObjectFile])
	require.Equal(t, 1, seen[ObjectDirMeta])
}

func TestImportObject(t *testing.T) {
	src := newTestRepo(t, ModeBare)
	dst := newTestRepo(t, ModeBare)

	digest, err := src.StoreFile(FileObject{Kind: FileRegular, Mode: 0o100644, Data: io.NopCloser(bytes.NewReader([]byte("shared")))})
	require.NoError(t, err)

	require.NoError(t, dst.ImportObject(src, digest, ObjectFile))

	has, err := dst.HasObject(digest, ObjectFile)
	require.NoError(t, err)
	require.True(t, has)
}
