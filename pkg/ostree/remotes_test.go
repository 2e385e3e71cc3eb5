// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddGetListRemote(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	require.NoError(t, r.AddRemote("origin", "https://example.com/repo", nil, false))

	rem, err := r.GetRemote("origin")
	require.NoError(t, err)
	require.Equal(t, "origin", rem.Name)
	require.Equal(t, "https://example.com/repo", rem.Options["url"])

	require.Equal(t, []string{"origin"}, r.ListRemotes())
}

func TestAddRemoteRejectsDuplicate(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	require.NoError(t, r.AddRemote("origin", "https://example.com/repo", nil, false))

	err := r.AddRemote("origin", "https://example.com/other", nil, false)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrExists)
}

func TestAddRemoteFileBacked(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	require.NoError(t, r.AddRemote("mirror", "https://mirror.example.com/repo", nil, true))

	rem, err := r.GetRemote("mirror")
	require.NoError(t, err)
	require.NotEmpty(t, rem.OriginFile)
	require.FileExists(t, rem.OriginFile)
}

func TestDeleteRemote(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	require.NoError(t, r.AddRemote("origin", "https://example.com/repo", nil, false))

	require.NoError(t, r.DeleteRemote("origin"))
	_, err := r.GetRemote("origin")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemoteNotFound(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	err := r.DeleteRemote("missing")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetRemoteFileURLBypass(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	rem, err := r.GetRemote("file:///tmp/local-repo")
	require.NoError(t, err)
	require.Equal(t, "false", rem.Options["gpg-verify"])
	require.False(t, rem.GPGVerify())
}

func TestGetRemoteOptionInheritsFromParent(t *testing.T) {
	parentDir := t.TempDir()
	parent, err := Create(Options{Path: parentDir}, ModeBare, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = parent.Close() })
	require.NoError(t, parent.AddRemote("shared", "https://example.com/repo", map[string]string{"gpg-verify": "false"}, false))

	child := newTestRepo(t, ModeBare)
	child.parent = parent

	v, err := child.GetRemoteOption("shared", "gpg-verify", "true")
	require.NoError(t, err)
	require.Equal(t, "false", v)
}

func TestChangeRemoteAddIfAbsent(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	require.NoError(t, r.ChangeRemote(ChangeAddIfAbsent, "origin", "https://example.com/repo", nil, false))
	require.NoError(t, r.ChangeRemote(ChangeAddIfAbsent, "origin", "https://example.com/other", nil, false))

	rem, err := r.GetRemote("origin")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/repo", rem.Options["url"])
}

func TestChangeRemoteDeleteIfPresent(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	require.NoError(t, r.ChangeRemote(ChangeDeleteIfPresent, "missing", "", nil, false))

	require.NoError(t, r.AddRemote("origin", "https://example.com/repo", nil, false))
	require.NoError(t, r.ChangeRemote(ChangeDeleteIfPresent, "origin", "", nil, false))
	_, err := r.GetRemote("origin")
	require.Error(t, err)
}

func TestRemoteMetalinkURL(t *testing.T) {
	r := newTestRepo(t, ModeBare)
	require.NoError(t, r.AddRemote("meta", "metalink=https://example.com/metalink", nil, false))

	rem, err := r.GetRemote("meta")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/metalink", rem.Options["metalink"])
	require.NotContains(t, rem.Options, "url")
}
