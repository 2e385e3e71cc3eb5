// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package keyfile wraps github.com/go-ini/ini for the repository's two
// keyfile formats: the top-level "config" file (plain
// "[section]"/"key=value" groups) and remote definitions, which use the
// quoted-name convention `[remote "name"]` shared with familiar VCS config
// files. go-ini treats the quoted literal as an opaque section name, so
// SplitGroupName/JoinGroupName below translate between that literal and
// the (kind, name) pair callers want.
package keyfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
)

// File wraps a parsed keyfile.
type File struct {
	ini *ini.File
}

// Load parses the keyfile at path.
func Load(path string) (*File, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowNonUniqueSections: false,
		SpaceBeforeInlineComment: true,
	}, path)
	if err != nil {
		return nil, err
	}
	return &File{ini: f}, nil
}

// New creates an empty in-memory keyfile.
func New() *File {
	return &File{ini: ini.Empty()}
}

// Section returns (creating if absent) the named section.
func (f *File) Section(name string) *ini.Section {
	return f.ini.Section(name)
}

// HasSection reports whether name exists.
func (f *File) HasSection(name string) bool {
	return f.ini.HasSection(name)
}

// SectionNames returns all section names except the anonymous default one.
func (f *File) SectionNames() []string {
	var names []string
	for _, s := range f.ini.Sections() {
		if s.Name() == ini.DefaultSection {
			continue
		}
		names = append(names, s.Name())
	}
	return names
}

// DeleteSection removes a section if present.
func (f *File) DeleteSection(name string) {
	f.ini.DeleteSection(name)
}

// SaveAtomic writes the keyfile to path via a temp file + rename, with an
// optional fdatasync, matching the repository's "write temp + rename"
// atomic-write convention used throughout for durable writes.
func (f *File) SaveAtomic(path string, fsync bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".keyfile-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := f.ini.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if fsync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// GroupName builds the `kind "name"` quoted section literal, e.g.
// GroupName("remote", "upstream") -> `remote "upstream"`.
func GroupName(kind, name string) string {
	return fmt.Sprintf("%s %q", kind, name)
}

// SplitGroupName parses a `kind "name"` section literal. ok is false if
// literal does not match that shape.
func SplitGroupName(literal, kind string) (name string, ok bool) {
	prefix := kind + " \""
	if !strings.HasPrefix(literal, prefix) || !strings.HasSuffix(literal, "\"") {
		return "", false
	}
	return literal[len(prefix) : len(literal)-1], true
}
