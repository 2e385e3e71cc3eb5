// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"fmt"
	"regexp"
	"time"

	"github.com/opencontainers/go-digest"

	"go.ciq.dev/ostreecore/internal/pkg/variant"
)

// ObjectType identifies one of the object kinds the repository stores.
type ObjectType int

const (
	ObjectFile ObjectType = iota
	ObjectDirTree
	ObjectDirMeta
	ObjectCommit
	ObjectCommitMeta
	ObjectTombstoneCommit
)

// extension returns the on-disk filename suffix for t in the given mode.
// Only ObjectFile varies by mode: ".filez" in archive-z2, ".file" in the
// bare variants.
func (t ObjectType) extension(mode RepoMode) (string, error) {
	switch t {
	case ObjectFile:
		if mode == ModeArchiveZ2 {
			return ".filez", nil
		}
		return ".file", nil
	case ObjectDirTree:
		return ".dirtree", nil
	case ObjectDirMeta:
		return ".dirmeta", nil
	case ObjectCommit:
		return ".commit", nil
	case ObjectCommitMeta:
		return ".commitmeta", nil
	case ObjectTombstoneCommit:
		return ".commit-tombstone", nil
	default:
		return "", fmt.Errorf("unknown object type %d", t)
	}
}

func (t ObjectType) String() string {
	switch t {
	case ObjectFile:
		return "file"
	case ObjectDirTree:
		return "dirtree"
	case ObjectDirMeta:
		return "dirmeta"
	case ObjectCommit:
		return "commit"
	case ObjectCommitMeta:
		return "commitmeta"
	case ObjectTombstoneCommit:
		return "tombstone-commit"
	default:
		return "unknown"
	}
}

// isMeta reports whether t is loaded through the loose-metadata path
// (mmap-or-buffer + variant decode) as opposed to the loose-file path.
func (t ObjectType) isMeta() bool {
	return t != ObjectFile
}

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Digest is a 256-bit content digest rendered as 64 lowercase hex
// characters.
type Digest string

// ValidDigest reports whether d is a syntactically well-formed digest: 64
// lowercase hex characters that also validate as a SHA-256 go-digest when
// given the "sha256:" algorithm prefix the on-disk form omits.
func ValidDigest(d string) bool {
	if !digestPattern.MatchString(d) {
		return false
	}
	return digest.NewDigestFromHex(digest.SHA256.String(), d).Validate() == nil
}

// loosePath returns the "XX/YYYY...EXT" path components (without the
// "objects/" prefix) for digest d of kind t in the given mode.
func loosePath(d string, t ObjectType, mode RepoMode) (dir, file string, err error) {
	if !ValidDigest(d) {
		return "", "", fmt.Errorf("invalid digest %q", d)
	}
	ext, err := t.extension(mode)
	if err != nil {
		return "", "", err
	}
	return d[:2], d[2:] + ext, nil
}

// XAttr is a single extended attribute (name, value) pair.
type XAttr struct {
	Name  string
	Value []byte
}

// DirMeta is the identity of a directory: owner, group, permission bits,
// and extended attributes. It is also the layout used for the
// user.ostreemeta xattr on bare-user regular files.
type DirMeta struct {
	UID    uint32
	GID    uint32
	Mode   uint32
	XAttrs []XAttr
}

func (m DirMeta) encode() []byte {
	w := variant.NewWriter()
	w.WriteUint32(m.UID)
	w.WriteUint32(m.GID)
	w.WriteUint32(m.Mode)
	pairs := make([]variant.StringBytesPair, len(m.XAttrs))
	for i, x := range m.XAttrs {
		pairs[i] = variant.StringBytesPair{Key: x.Name, Value: x.Value}
	}
	w.WriteStringPairs(pairs)
	return w.Bytes()
}

func decodeDirMeta(data []byte) (DirMeta, error) {
	r := variant.NewReader(data)
	uid, err := r.ReadUint32()
	if err != nil {
		return DirMeta{}, err
	}
	gid, err := r.ReadUint32()
	if err != nil {
		return DirMeta{}, err
	}
	mode, err := r.ReadUint32()
	if err != nil {
		return DirMeta{}, err
	}
	pairs, err := r.ReadStringPairs()
	if err != nil {
		return DirMeta{}, err
	}
	xattrs := make([]XAttr, len(pairs))
	for i, p := range pairs {
		xattrs[i] = XAttr{Name: p.Key, Value: p.Value}
	}
	return DirMeta{UID: uid, GID: gid, Mode: mode, XAttrs: xattrs}, nil
}

// DirTreeFile is one file entry in a DirTree: name to FILE digest.
type DirTreeFile struct {
	Name   string
	Digest string
}

// DirTreeDir is one subdirectory entry: name to (dirtree, dirmeta) digest
// pair.
type DirTreeDir struct {
	Name       string
	TreeDigest string
	MetaDigest string
}

// DirTree is a directory listing referencing child file and dirtree
// objects by digest.
type DirTree struct {
	Files []DirTreeFile
	Dirs  []DirTreeDir
}

func (d DirTree) encode() []byte {
	w := variant.NewWriter()
	w.WriteUint32(uint32(len(d.Files)))
	for _, f := range d.Files {
		w.WriteString(f.Name)
		w.WriteString(f.Digest)
	}
	w.WriteUint32(uint32(len(d.Dirs)))
	for _, dd := range d.Dirs {
		w.WriteString(dd.Name)
		w.WriteString(dd.TreeDigest)
		w.WriteString(dd.MetaDigest)
	}
	return w.Bytes()
}

func decodeDirTree(data []byte) (DirTree, error) {
	r := variant.NewReader(data)
	nFiles, err := r.ReadUint32()
	if err != nil {
		return DirTree{}, err
	}
	files := make([]DirTreeFile, 0, nFiles)
	for i := uint32(0); i < nFiles; i++ {
		name, err := r.ReadString()
		if err != nil {
			return DirTree{}, err
		}
		digest, err := r.ReadString()
		if err != nil {
			return DirTree{}, err
		}
		files = append(files, DirTreeFile{Name: name, Digest: digest})
	}

	nDirs, err := r.ReadUint32()
	if err != nil {
		return DirTree{}, err
	}
	dirs := make([]DirTreeDir, 0, nDirs)
	for i := uint32(0); i < nDirs; i++ {
		name, err := r.ReadString()
		if err != nil {
			return DirTree{}, err
		}
		tree, err := r.ReadString()
		if err != nil {
			return DirTree{}, err
		}
		meta, err := r.ReadString()
		if err != nil {
			return DirTree{}, err
		}
		dirs = append(dirs, DirTreeDir{Name: name, TreeDigest: tree, MetaDigest: meta})
	}

	return DirTree{Files: files, Dirs: dirs}, nil
}

// Commit is the root object of a revision: a tree+dirmeta snapshot with an
// optional parent, a timestamp, and free-form subject/body/metadata.
type Commit struct {
	Metadata    []variant.StringBytesPair
	Parent      string // empty for the initial commit
	Related     []variant.StringStringPair
	Subject     string
	Body        string
	Timestamp   time.Time
	RootTree    string
	RootDirMeta string
}

func (c Commit) encode() []byte {
	w := variant.NewWriter()
	w.WriteStringPairs(c.Metadata)
	w.WriteString(c.Parent)
	w.WriteStringStringMap(c.Related)
	w.WriteString(c.Subject)
	w.WriteString(c.Body)
	w.WriteUint64(uint64(c.Timestamp.Unix()))
	w.WriteString(c.RootTree)
	w.WriteString(c.RootDirMeta)
	return w.Bytes()
}

func decodeCommit(data []byte) (Commit, error) {
	r := variant.NewReader(data)
	md, err := r.ReadStringPairs()
	if err != nil {
		return Commit{}, err
	}
	parent, err := r.ReadString()
	if err != nil {
		return Commit{}, err
	}
	related, err := r.ReadStringStringMap()
	if err != nil {
		return Commit{}, err
	}
	subject, err := r.ReadString()
	if err != nil {
		return Commit{}, err
	}
	body, err := r.ReadString()
	if err != nil {
		return Commit{}, err
	}
	ts, err := r.ReadUint64()
	if err != nil {
		return Commit{}, err
	}
	rootTree, err := r.ReadString()
	if err != nil {
		return Commit{}, err
	}
	rootMeta, err := r.ReadString()
	if err != nil {
		return Commit{}, err
	}
	return Commit{
		Metadata:    md,
		Parent:      parent,
		Related:     related,
		Subject:     subject,
		Body:        body,
		Timestamp:   time.Unix(int64(ts), 0).UTC(),
		RootTree:    rootTree,
		RootDirMeta: rootMeta,
	}, nil
}

// DetachedMetadata is the a{sv}-shaped dictionary co-located with a commit
// as its COMMIT_META object; the only key this engine interprets is
// ostree.gpgsigs, an array of detached OpenPGP signature packets.
type DetachedMetadata struct {
	GPGSigs [][]byte
	Extra   []variant.StringBytesPair
}

func (d DetachedMetadata) encode() []byte {
	w := variant.NewWriter()
	w.WriteUint32(uint32(len(d.GPGSigs)))
	for _, sig := range d.GPGSigs {
		w.WriteBytes(sig)
	}
	pairs := d.Extra
	w.WriteStringPairs(pairs)
	return w.Bytes()
}

func decodeDetachedMetadata(data []byte) (DetachedMetadata, error) {
	r := variant.NewReader(data)
	n, err := r.ReadUint32()
	if err != nil {
		return DetachedMetadata{}, err
	}
	sigs := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		sig, err := r.ReadBytes()
		if err != nil {
			return DetachedMetadata{}, err
		}
		sigs = append(sigs, append([]byte(nil), sig...))
	}
	extra, err := r.ReadStringPairs()
	if err != nil {
		return DetachedMetadata{}, err
	}
	return DetachedMetadata{GPGSigs: sigs, Extra: extra}, nil
}

// Tombstone records a deleted commit's digest when core/tombstone-commits
// is enabled.
type Tombstone struct {
	CommitDigest string
}

func (t Tombstone) encode() []byte {
	w := variant.NewWriter()
	w.WriteStringPairs([]variant.StringBytesPair{
		{Key: "commit", Value: []byte(t.CommitDigest)},
	})
	return w.Bytes()
}

func decodeTombstone(data []byte) (Tombstone, error) {
	r := variant.NewReader(data)
	pairs, err := r.ReadStringPairs()
	if err != nil {
		return Tombstone{}, err
	}
	for _, p := range pairs {
		if p.Key == "commit" {
			return Tombstone{CommitDigest: string(p.Value)}, nil
		}
	}
	return Tombstone{}, fmt.Errorf("tombstone missing commit key")
}
