// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"fmt"

	"go.ciq.dev/ostreecore/internal/pkg/keyfile"
)

const configRepoVersion = "1"

// tunables holds every value drawn from the repository's "config" keyfile.
type tunables struct {
	mode                    RepoMode
	fsync                   bool
	enableUncompressedCache bool
	disableXAttrs           bool
	tmpExpirySecs           int
	zlibLevel               int
	minFreeSpacePercent     int
	collectionID            string
	parentPath              string
	tombstoneCommits        bool
}

func defaultTunables(mode RepoMode) tunables {
	return tunables{
		mode:                    mode,
		fsync:                   true,
		enableUncompressedCache: true,
		disableXAttrs:           false,
		tmpExpirySecs:           86400,
		zlibLevel:               6,
		minFreeSpacePercent:     3,
	}
}

// loadTunables parses dir/config and validates repo_version.
func loadTunables(path string) (tunables, error) {
	kf, err := keyfile.Load(path)
	if err != nil {
		return tunables{}, ioErr("config.load", err)
	}

	core := kf.Section("core")
	version := core.Key("repo_version").MustString("")
	if version != configRepoVersion {
		return tunables{}, invalidConfig("config.load",
			fmt.Errorf("unsupported repo_version %q, expected %q", version, configRepoVersion))
	}

	modeStr := core.Key("mode").MustString("")
	if modeStr == "" {
		return tunables{}, invalidConfig("config.load", fmt.Errorf("core/mode is required"))
	}
	mode, err := parseRepoMode(modeStr)
	if err != nil {
		return tunables{}, err
	}

	t := defaultTunables(mode)
	t.fsync = core.Key("fsync").MustBool(true)
	t.enableUncompressedCache = core.Key("enable-uncompressed-cache").MustBool(true)
	t.disableXAttrs = core.Key("disable-xattrs").MustBool(false)
	t.tmpExpirySecs = core.Key("tmp-expiry-secs").MustInt(86400)
	t.minFreeSpacePercent = core.Key("min-free-space-percent").MustInt(3)
	t.collectionID = core.Key("collection-id").MustString("")
	t.parentPath = core.Key("parent").MustString("")
	t.tombstoneCommits = core.Key("tombstone-commits").MustBool(false)

	if t.minFreeSpacePercent > 99 {
		return tunables{}, invalidConfig("config.load",
			fmt.Errorf("core/min-free-space-percent %d exceeds 99", t.minFreeSpacePercent))
	}

	if t.collectionID != "" {
		if err := validateCollectionID(t.collectionID); err != nil {
			return tunables{}, invalidConfig("config.load", err)
		}
	}

	archive := kf.Section("archive")
	t.zlibLevel = clamp(archive.Key("zlib-level").MustInt(6), 1, 9)

	return t, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// writeDefaultConfig writes the config file produced by Create:
// "[core]\nrepo_version=1\nmode=<mode>\n" plus an optional collection-id.
func writeDefaultConfig(path string, mode RepoMode, collectionID string, fsync bool) error {
	kf := keyfile.New()
	core := kf.Section("core")
	_, _ = core.NewKey("repo_version", configRepoVersion)
	_, _ = core.NewKey("mode", string(mode))
	if collectionID != "" {
		_, _ = core.NewKey("collection-id", collectionID)
	}
	return kf.SaveAtomic(path, fsync)
}

// validateCollectionID enforces the reverse-DNS shape, e.g.
// "org.example.Collection".
func validateCollectionID(id string) error {
	if id == "" {
		return fmt.Errorf("collection id must not be empty")
	}
	parts := splitDots(id)
	if len(parts) < 2 {
		return fmt.Errorf("collection id %q must have at least two dot-separated components", id)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("collection id %q has an empty component", id)
		}
		for _, r := range p {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
			if !isAlnum {
				return fmt.Errorf("collection id %q contains invalid character %q", id, string(r))
			}
		}
	}
	return nil
}

func splitDots(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
