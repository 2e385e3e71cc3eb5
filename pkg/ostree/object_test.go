// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ciq.dev/ostreecore/internal/pkg/variant"
)

func TestValidDigest(t *testing.T) {
	require.True(t, ValidDigest("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"))
	require.False(t, ValidDigest("not-a-digest"))
	require.False(t, ValidDigest("0123456789ABCDEF0123456789abcdef0123456789abcdef0123456789abcd")) // uppercase
	require.False(t, ValidDigest("0123"))
}

func TestLoosePath(t *testing.T) {
	d := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"

	dir, file, err := loosePath(d, ObjectFile, ModeBare)
	require.NoError(t, err)
	require.Equal(t, "01", dir)
	require.Equal(t, d[2:]+".file", file)

	_, file, err = loosePath(d, ObjectFile, ModeArchiveZ2)
	require.NoError(t, err)
	require.Equal(t, d[2:]+".filez", file)

	_, _, err = loosePath("bad", ObjectFile, ModeBare)
	require.Error(t, err)
}

func TestDirMetaEncodeDecode(t *testing.T) {
	dm := DirMeta{
		UID:  1000,
		GID:  1000,
		Mode: 0o40755,
		XAttrs: []XAttr{
			{Name: "security.selinux", Value: []byte("unconfined_u")},
		},
	}
	decoded, err := decodeDirMeta(dm.encode())
	require.NoError(t, err)
	require.Equal(t, dm, decoded)
}

func TestDirTreeEncodeDecode(t *testing.T) {
	dt := DirTree{
		Files: []DirTreeFile{
			{Name: "a.txt", Digest: "aaaa"},
			{Name: "b.txt", Digest: "bbbb"},
		},
		Dirs: []DirTreeDir{
			{Name: "subdir", TreeDigest: "tttt", MetaDigest: "mmmm"},
		},
	}
	decoded, err := decodeDirTree(dt.encode())
	require.NoError(t, err)
	require.Equal(t, dt, decoded)
}

func TestCommitEncodeDecode(t *testing.T) {
	c := Commit{
		Metadata:    []variant.StringBytesPair{{Key: "version", Value: []byte("1.0")}},
		Parent:      "parentdigest",
		Related:     []variant.StringStringPair{{Key: "ref", Value: "stable"}},
		Subject:     "a commit",
		Body:        "body text",
		Timestamp:   time.Unix(1700000000, 0).UTC(),
		RootTree:    "treedigest",
		RootDirMeta: "metadigest",
	}
	decoded, err := decodeCommit(c.encode())
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

func TestCommitEncodeDecodeNoParent(t *testing.T) {
	c := Commit{
		Subject:   "initial",
		Timestamp: time.Unix(0, 0).UTC(),
	}
	decoded, err := decodeCommit(c.encode())
	require.NoError(t, err)
	require.Empty(t, decoded.Parent)
	require.Equal(t, "initial", decoded.Subject)
}

func TestDetachedMetadataEncodeDecode(t *testing.T) {
	dm := DetachedMetadata{
		GPGSigs: [][]byte{[]byte("sig-one"), []byte("sig-two")},
	}
	decoded, err := decodeDetachedMetadata(dm.encode())
	require.NoError(t, err)
	require.Equal(t, dm.GPGSigs, decoded.GPGSigs)
}

func TestTombstoneEncodeDecode(t *testing.T) {
	tomb := Tombstone{CommitDigest: "deadbeefcafe"}
	decoded, err := decodeTombstone(tomb.encode())
	require.NoError(t, err)
	require.Equal(t, tomb, decoded)
}

func TestObjectTypeExtension(t *testing.T) {
	tests := []struct {
		t    ObjectType
		mode RepoMode
		want string
	}{
		{ObjectFile, ModeBare, ".file"},
		{ObjectFile, ModeArchiveZ2, ".filez"},
		{ObjectDirTree, ModeBare, ".dirtree"},
		{ObjectDirMeta, ModeBare, ".dirmeta"},
		{ObjectCommit, ModeBare, ".commit"},
		{ObjectCommitMeta, ModeBare, ".commitmeta"},
		{ObjectTombstoneCommit, ModeBare, ".commit-tombstone"},
	}
	for _, tc := range tests {
		got, err := tc.t.extension(tc.mode)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestObjectTypeString(t *testing.T) {
	require.Equal(t, "file", ObjectFile.String())
	require.Equal(t, "tombstone-commit", ObjectTombstoneCommit.String())
}
