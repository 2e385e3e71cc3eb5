// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

// RepoMode is the physical storage mode a repository was created with.
// The mode is fixed at creation time and recorded in config.
type RepoMode string

const (
	ModeBare         RepoMode = "bare"
	ModeBareUser     RepoMode = "bare-user"
	ModeBareUserOnly RepoMode = "bare-user-only"
	ModeArchiveZ2    RepoMode = "archive-z2"

	// modeArchiveObsolete is the legacy "archive" mode name rejected by
	// Open/ReloadConfig as an obsolete format.
	modeArchiveObsolete = "archive"
)

func parseRepoMode(s string) (RepoMode, error) {
	switch RepoMode(s) {
	case ModeBare, ModeBareUser, ModeBareUserOnly, ModeArchiveZ2:
		return RepoMode(s), nil
	case modeArchiveObsolete:
		return "", unsupported("repo.mode", errArchiveObsolete)
	default:
		return "", invalidConfig("repo.mode", errUnknownMode(s))
	}
}
