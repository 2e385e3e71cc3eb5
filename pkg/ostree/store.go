// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"go.ciq.dev/ostreecore/internal/pkg/codec"
	"go.ciq.dev/ostreecore/internal/pkg/variant"
)

// FileKind distinguishes the three shapes a FILE object's content can take.
type FileKind int

const (
	FileRegular FileKind = iota
	FileSymlink
	FileDevice
)

// FileObject is a FILE object's abstract content: POSIX identity, xattrs,
// and either a data stream (regular), a link target (symlink) or a device
// number (device).
type FileObject struct {
	Kind          FileKind
	UID           uint32
	GID           uint32
	Mode          uint32
	Size          int64
	SymlinkTarget string
	Rdev          uint32
	XAttrs        []XAttr
	Data          io.ReadCloser
}

func toCodecObject(obj FileObject) codec.ContentObject {
	xattrs := make([]codec.XAttr, len(obj.XAttrs))
	for i, x := range obj.XAttrs {
		xattrs[i] = codec.XAttr{Name: x.Name, Value: x.Value}
	}
	kind := codec.KindRegular
	switch obj.Kind {
	case FileSymlink:
		kind = codec.KindSymlink
	case FileDevice:
		kind = codec.KindDevice
	}
	return codec.ContentObject{
		Info: codec.FileInfo{
			Kind:          kind,
			UID:           obj.UID,
			GID:           obj.GID,
			Mode:          obj.Mode,
			Size:          obj.Size,
			SymlinkTarget: obj.SymlinkTarget,
			Rdev:          obj.Rdev,
		},
		XAttrs: xattrs,
		Data:   obj.Data,
	}
}

func fromCodecObject(co codec.ContentObject) FileObject {
	xattrs := make([]XAttr, len(co.XAttrs))
	for i, x := range co.XAttrs {
		xattrs[i] = XAttr{Name: x.Name, Value: x.Value}
	}
	kind := FileRegular
	switch co.Info.Kind {
	case codec.KindSymlink:
		kind = FileSymlink
	case codec.KindDevice:
		kind = FileDevice
	}
	return FileObject{
		Kind:          kind,
		UID:           co.Info.UID,
		GID:           co.Info.GID,
		Mode:          co.Info.Mode,
		Size:          co.Info.Size,
		SymlinkTarget: co.Info.SymlinkTarget,
		Rdev:          co.Info.Rdev,
		XAttrs:        xattrs,
		Data:          co.Data,
	}
}

// hashIdentity feeds obj's POSIX identity and xattrs into h in the same
// field order the archive-z2 header uses, so a FILE object's digest is
// independent of which storage mode wrote it.
func hashIdentity(h io.Writer, obj FileObject) {
	w := variant.NewWriter()
	w.WriteUint32(obj.UID)
	w.WriteUint32(obj.GID)
	w.WriteUint32(obj.Mode)
	pairs := make([]variant.StringBytesPair, len(obj.XAttrs))
	for i, x := range obj.XAttrs {
		pairs[i] = variant.StringBytesPair{Key: x.Name, Value: x.Value}
	}
	w.WriteStringPairs(pairs)
	_, _ = h.Write(w.Bytes())
}

// uncompressedCachePath returns the path a regular file's decompressed
// content would live at under the repo's uncompressed-objects-cache
// directory, sharded the same way loose objects are.
func (r *Repo) uncompressedCachePath(fileDigest string) string {
	return filepath.Join(r.opts.Path, "uncompressed-objects-cache", fileDigest[:2], fileDigest[2:])
}

// StoreFile computes obj's content digest and writes it as a loose FILE
// object if not already present, returning the digest. The content is
// hashed and buffered inside a staging directory acquired from the
// repository's staging allocator rather than a bare tmp file, so the
// allocation participates in the same per-boot reuse and reaping as the
// rest of a transaction's scratch space.
func (r *Repo) StoreFile(obj FileObject) (string, error) {
	const op = "objectstore.StoreFile"

	if err := r.checkFreeSpace(op); err != nil {
		return "", err
	}

	if r.tunables.disableXAttrs {
		obj.XAttrs = nil
	}

	staging, err := r.staging.Acquire()
	if err != nil {
		return "", ioErr(op, err)
	}
	defer staging.Release()

	tmpFile, err := os.CreateTemp(staging.Path, "filehash-")
	if err != nil {
		return "", ioErr(op, err)
	}
	tmpContentPath := tmpFile.Name()
	defer os.Remove(tmpContentPath)

	digester := digest.Canonical.Digester()
	h := digester.Hash()
	hashIdentity(h, obj)

	switch obj.Kind {
	case FileSymlink:
		h.Write([]byte(obj.SymlinkTarget))
	case FileDevice:
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], obj.Rdev)
		h.Write(buf[:])
	default:
		mw := io.MultiWriter(tmpFile, h)
		if obj.Data != nil {
			if _, err := io.Copy(mw, obj.Data); err != nil {
				tmpFile.Close()
				return "", ioErr(op, err)
			}
		}
	}
	if err := tmpFile.Close(); err != nil {
		return "", ioErr(op, err)
	}

	fileDigest := digester.Digest().Hex()

	mode := r.Mode()
	dir, file, err := loosePath(fileDigest, ObjectFile, mode)
	if err != nil {
		return "", corruption(op, err)
	}
	destDir := filepath.Join(r.objectsPath(), dir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", ioErr(op, err)
	}
	destPath := filepath.Join(destDir, file)

	if _, err := os.Stat(destPath); err == nil {
		return fileDigest, nil
	}

	writeObj := obj
	if obj.Kind == FileRegular {
		f, err := os.Open(tmpContentPath)
		if err != nil {
			return "", ioErr(op, err)
		}
		writeObj.Data = f
		defer f.Close()
	}

	stagingPath := filepath.Join(destDir, "."+file+"-"+uuid.NewString())

	if mode == ModeArchiveZ2 {
		out, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return "", ioErr(op, err)
		}
		if err := codec.EncodeArchive(out, toCodecObject(writeObj), r.tunables.zlibLevel); err != nil {
			out.Close()
			os.Remove(stagingPath)
			return "", ioErr(op, err)
		}
		if err := out.Close(); err != nil {
			os.Remove(stagingPath)
			return "", ioErr(op, err)
		}
	} else {
		if err := codec.Write(codec.Mode(mode), stagingPath, toCodecObject(writeObj)); err != nil {
			os.Remove(stagingPath)
			return "", ioErr(op, err)
		}
	}

	if err := os.Rename(stagingPath, destPath); err != nil {
		os.Remove(stagingPath)
		return "", ioErr(op, err)
	}

	if mode == ModeArchiveZ2 && obj.Kind == FileRegular && r.tunables.enableUncompressedCache {
		r.cacheUncompressed(fileDigest, tmpContentPath)
	}

	return fileDigest, nil
}

// cacheUncompressed copies the already-hashed, not-yet-compressed content
// at srcPath into the uncompressed-objects-cache, so a later LoadFile call
// can skip zlib decompression entirely. Failures are non-fatal: the
// compressed loose object is already durable, and a missing cache entry
// just falls back to decompressing it on the next read.
func (r *Repo) cacheUncompressed(fileDigest, srcPath string) {
	src, err := os.Open(srcPath)
	if err != nil {
		return
	}
	defer src.Close()
	r.writeUncompressedCache(fileDigest, src)
}

// cacheUncompressedBytes is cacheUncompressed for content already fully
// decompressed in memory (the post-decompression fallback path in
// LoadFile, which backfills the cache for the next read).
func (r *Repo) cacheUncompressedBytes(fileDigest string, data []byte) {
	r.writeUncompressedCache(fileDigest, bytes.NewReader(data))
}

func (r *Repo) writeUncompressedCache(fileDigest string, src io.Reader) {
	destPath := r.uncompressedCachePath(fileDigest)
	if _, err := os.Stat(destPath); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return
	}

	stagingPath := destPath + "." + uuid.NewString()
	out, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(stagingPath)
		return
	}
	if err := out.Close(); err != nil {
		os.Remove(stagingPath)
		return
	}
	if err := os.Rename(stagingPath, destPath); err != nil {
		os.Remove(stagingPath)
	}
}

// uncompressedCacheHit reads back a regular file's cached decompressed
// content, if core/enable-uncompressed-cache is set and an entry exists. A
// miss (disabled or absent) is reported as (nil, nil), not an error — the
// caller falls back to decompressing the loose object.
func (r *Repo) uncompressedCacheHit(fileDigest string) ([]byte, error) {
	if !r.tunables.enableUncompressedCache {
		return nil, nil
	}
	data, err := os.ReadFile(r.uncompressedCachePath(fileDigest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// LoadFile reads back the FILE object addressed by digest, consulting the
// parent chain if absent locally. When core/disable-xattrs is set, the
// returned object's xattrs are always empty regardless of what the loose
// object itself carries on disk.
func (r *Repo) LoadFile(digest string) (FileObject, error) {
	const op = "objectstore.LoadFile"
	if !ValidDigest(digest) {
		return FileObject{}, corruption(op, fmt.Errorf("invalid digest %q", digest))
	}

	path, found, err := r.resolveLoosePath(digest, ObjectFile)
	if err != nil {
		return FileObject{}, err
	}
	if !found {
		return FileObject{}, notFound(op, fmt.Errorf("object %s not found", digest))
	}

	mode := r.Mode()
	if mode == ModeArchiveZ2 {
		f, err := os.Open(path)
		if err != nil {
			return FileObject{}, ioErr(op, err)
		}
		defer f.Close()

		info, xattrs, pending, rest, err := codec.PeekArchiveMeta(f)
		if err != nil {
			return FileObject{}, corruption(op, err)
		}

		var co codec.ContentObject
		if !pending {
			co = codec.ContentObject{Info: info, XAttrs: xattrs}
		} else if cached, err := r.uncompressedCacheHit(digest); err == nil && cached != nil {
			info.Kind = codec.KindRegular
			info.Size = int64(len(cached))
			co = codec.ContentObject{Info: info, XAttrs: xattrs, Data: io.NopCloser(bytes.NewReader(cached))}
		} else {
			data, err := codec.DecompressRegular(rest)
			if err != nil {
				return FileObject{}, corruption(op, err)
			}
			info.Kind = codec.KindRegular
			info.Size = int64(len(data))
			co = codec.ContentObject{Info: info, XAttrs: xattrs, Data: io.NopCloser(bytes.NewReader(data))}
			if r.tunables.enableUncompressedCache {
				r.cacheUncompressedBytes(digest, data)
			}
		}

		obj := fromCodecObject(co)
		if r.tunables.disableXAttrs {
			obj.XAttrs = nil
		}
		return obj, nil
	}

	co, err := codec.Read(codec.Mode(mode), path)
	if err != nil {
		return FileObject{}, ioErr(op, err)
	}
	obj := fromCodecObject(co)
	if r.tunables.disableXAttrs {
		obj.XAttrs = nil
	}
	return obj, nil
}

// resolveLoosePath finds the absolute path to an object in this repo or,
// failing that, walks the parent chain.
func (r *Repo) resolveLoosePath(digest string, t ObjectType) (string, bool, error) {
	dir, file, err := loosePath(digest, t, r.Mode())
	if err != nil {
		return "", false, corruption("objectstore", err)
	}
	path := filepath.Join(r.objectsPath(), dir, file)
	if _, err := os.Stat(path); err == nil {
		return path, true, nil
	}
	if r.parent != nil {
		return r.parent.resolveLoosePath(digest, t)
	}
	return "", false, nil
}

// HasObject reports whether digest is present as an object of kind t,
// locally or in the parent chain.
func (r *Repo) HasObject(digest string, t ObjectType) (bool, error) {
	if !ValidDigest(digest) {
		return false, corruption("objectstore.HasObject", fmt.Errorf("invalid digest %q", digest))
	}
	_, found, err := r.resolveLoosePath(digest, t)
	return found, err
}

// ObjectSize returns the on-disk size in bytes of the loose object
// addressed by (digest, t).
func (r *Repo) ObjectSize(digest string, t ObjectType) (int64, error) {
	const op = "objectstore.ObjectSize"
	path, found, err := r.resolveLoosePath(digest, t)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, notFound(op, fmt.Errorf("object %s not found", digest))
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, ioErr(op, err)
	}
	return st.Size(), nil
}

// DeleteObject removes the loose object addressed by (digest, t) from this
// repository. It does not touch the parent chain. Deleting a COMMIT also
// removes its COMMIT_META twin, if any, and, when core/tombstone-commits is
// enabled, records a TOMBSTONE_COMMIT for the deleted digest.
func (r *Repo) DeleteObject(digest string, t ObjectType) error {
	const op = "objectstore.DeleteObject"
	dir, file, err := loosePath(digest, t, r.Mode())
	if err != nil {
		return corruption(op, err)
	}
	path := filepath.Join(r.objectsPath(), dir, file)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return notFound(op, fmt.Errorf("object %s not found", digest))
		}
		return ioErr(op, err)
	}

	if t != ObjectCommit {
		return nil
	}

	if metaDir, metaFile, err := loosePath(digest, ObjectCommitMeta, r.Mode()); err == nil {
		metaPath := filepath.Join(r.objectsPath(), metaDir, metaFile)
		if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
			return ioErr(op, err)
		}
	}

	if r.tunables.tombstoneCommits {
		if _, err := r.StoreTombstone(Tombstone{CommitDigest: digest}); err != nil {
			return err
		}
	}

	return nil
}

// storeMeta computes the sha256 digest of encoded and writes it as a loose
// object of kind t, returning the digest. Used by the self-addressed
// metadata object types (dirmeta, dirtree, commit); commitmeta and
// tombstone objects are keyed by a foreign digest and go through
// storeMetaAt.
func (r *Repo) storeMeta(op string, t ObjectType, encoded []byte) (string, error) {
	if err := r.checkFreeSpace(op); err != nil {
		return "", err
	}

	metaDigest := digest.FromBytes(encoded).Hex()

	dir, file, err := loosePath(metaDigest, t, r.Mode())
	if err != nil {
		return "", corruption(op, err)
	}
	destDir := filepath.Join(r.objectsPath(), dir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", ioErr(op, err)
	}
	destPath := filepath.Join(destDir, file)

	if _, err := os.Stat(destPath); err == nil {
		return metaDigest, nil
	}

	stagingPath := filepath.Join(destDir, "."+file+"-"+uuid.NewString())
	if err := os.WriteFile(stagingPath, encoded, 0o644); err != nil {
		return "", ioErr(op, err)
	}
	if err := os.Rename(stagingPath, destPath); err != nil {
		os.Remove(stagingPath)
		return "", ioErr(op, err)
	}
	return metaDigest, nil
}

func (r *Repo) loadMeta(op string, digest string, t ObjectType) ([]byte, error) {
	if !ValidDigest(digest) {
		return nil, corruption(op, fmt.Errorf("invalid digest %q", digest))
	}
	path, found, err := r.resolveLoosePath(digest, t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(op, fmt.Errorf("object %s not found", digest))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr(op, err)
	}
	return data, nil
}

// StoreDirMeta writes m as a loose DIR_META object, returning its digest.
// The encoded payload is also seeded into the repository's dirmeta cache
// so a subsequent LoadDirMeta call made while the cache is borrowed (see
// BorrowDirMetaCache) skips the disk read.
func (r *Repo) StoreDirMeta(m DirMeta) (string, error) {
	encoded := m.encode()
	digest, err := r.storeMeta("objectstore.StoreDirMeta", ObjectDirMeta, encoded)
	if err != nil {
		return "", err
	}
	r.dirmeta.Put(digest, encoded)
	return digest, nil
}

// LoadDirMeta reads back the DIR_META object addressed by digest, serving
// it from the repository's dirmeta cache when the cache is currently
// borrowed and already holds it.
func (r *Repo) LoadDirMeta(digest string) (DirMeta, error) {
	if data, ok := r.dirmeta.Get(digest); ok {
		m, err := decodeDirMeta(data)
		if err != nil {
			return DirMeta{}, corruption("objectstore.LoadDirMeta", err)
		}
		return m, nil
	}

	data, err := r.loadMeta("objectstore.LoadDirMeta", digest, ObjectDirMeta)
	if err != nil {
		return DirMeta{}, err
	}
	m, err := decodeDirMeta(data)
	if err != nil {
		return DirMeta{}, corruption("objectstore.LoadDirMeta", err)
	}
	r.dirmeta.Put(digest, data)
	return m, nil
}

// BorrowDirMetaCache marks one active user of the repository's dirmeta
// cache, such as a single commit-tree traversal, for the duration between
// the call and invoking the returned release function. Concurrent
// traversals share the same cache instance while any one of them holds it
// open.
func (r *Repo) BorrowDirMetaCache() (release func()) {
	return r.dirmeta.Borrow()
}

// StoreDirTree writes d as a loose DIR_TREE object, returning its digest.
func (r *Repo) StoreDirTree(d DirTree) (string, error) {
	return r.storeMeta("objectstore.StoreDirTree", ObjectDirTree, d.encode())
}

// LoadDirTree reads back the DIR_TREE object addressed by digest.
func (r *Repo) LoadDirTree(digest string) (DirTree, error) {
	data, err := r.loadMeta("objectstore.LoadDirTree", digest, ObjectDirTree)
	if err != nil {
		return DirTree{}, err
	}
	d, err := decodeDirTree(data)
	if err != nil {
		return DirTree{}, corruption("objectstore.LoadDirTree", err)
	}
	return d, nil
}

// StoreCommit writes c as a loose COMMIT object, returning its digest.
func (r *Repo) StoreCommit(c Commit) (string, error) {
	return r.storeMeta("objectstore.StoreCommit", ObjectCommit, c.encode())
}

// LoadCommit reads back the COMMIT object addressed by digest.
func (r *Repo) LoadCommit(digest string) (Commit, error) {
	data, err := r.loadMeta("objectstore.LoadCommit", digest, ObjectCommit)
	if err != nil {
		return Commit{}, err
	}
	c, err := decodeCommit(data)
	if err != nil {
		return Commit{}, corruption("objectstore.LoadCommit", err)
	}
	return c, nil
}

// StoreDetachedMetadata writes d as the loose COMMIT_META object paired
// with a commit digest, keyed under the commit's own digest.
func (r *Repo) StoreDetachedMetadata(commitDigest string, d DetachedMetadata) error {
	_, err := r.storeMetaAt("objectstore.StoreDetachedMetadata", commitDigest, ObjectCommitMeta, d.encode())
	return err
}

// LoadDetachedMetadata reads back the COMMIT_META object for commitDigest,
// returning a zero-value DetachedMetadata (no error) if none was ever
// written.
func (r *Repo) LoadDetachedMetadata(commitDigest string) (DetachedMetadata, error) {
	data, err := r.loadMeta("objectstore.LoadDetachedMetadata", commitDigest, ObjectCommitMeta)
	if err != nil {
		if e, ok := asErr(err); ok && e.Kind == KindNotFound {
			return DetachedMetadata{}, nil
		}
		return DetachedMetadata{}, err
	}
	d, err := decodeDetachedMetadata(data)
	if err != nil {
		return DetachedMetadata{}, corruption("objectstore.LoadDetachedMetadata", err)
	}
	return d, nil
}

// StoreTombstone writes a TOMBSTONE_COMMIT object for a deleted commit
// when core/tombstone-commits is enabled.
func (r *Repo) StoreTombstone(t Tombstone) (string, error) {
	tombstoneDigest := digest.FromString(t.CommitDigest).Hex()
	return r.storeMetaAt("objectstore.StoreTombstone", tombstoneDigest, ObjectTombstoneCommit, t.encode())
}

// LoadTombstone reads back the tombstone recorded for commitDigest.
func (r *Repo) LoadTombstone(commitDigest string) (Tombstone, error) {
	tombstoneDigest := digest.FromString(commitDigest).Hex()
	data, err := r.loadMeta("objectstore.LoadTombstone", tombstoneDigest, ObjectTombstoneCommit)
	if err != nil {
		return Tombstone{}, err
	}
	t, err := decodeTombstone(data)
	if err != nil {
		return Tombstone{}, corruption("objectstore.LoadTombstone", err)
	}
	return t, nil
}

// storeMetaAt writes encoded at the loose path for a caller-supplied
// digest rather than one derived from encoded's own hash, for object kinds
// keyed by a foreign digest (COMMIT_META by its commit's digest,
// TOMBSTONE_COMMIT by the deleted commit's digest).
func (r *Repo) storeMetaAt(op, digest string, t ObjectType, encoded []byte) (string, error) {
	if err := r.checkFreeSpace(op); err != nil {
		return "", err
	}

	dir, file, err := loosePath(digest, t, r.Mode())
	if err != nil {
		return "", corruption(op, err)
	}
	destDir := filepath.Join(r.objectsPath(), dir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", ioErr(op, err)
	}
	destPath := filepath.Join(destDir, file)

	stagingPath := filepath.Join(destDir, "."+file+"-"+uuid.NewString())
	if err := os.WriteFile(stagingPath, encoded, 0o644); err != nil {
		return "", ioErr(op, err)
	}
	if err := os.Rename(stagingPath, destPath); err != nil {
		os.Remove(stagingPath)
		return "", ioErr(op, err)
	}
	return digest, nil
}

func asErr(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// EnumerateObjects calls fn once for every loose object in this
// repository's own objects/ directory (not the parent chain), in
// unspecified order. fn receives the object's digest and type as parsed
// from its filename.
func (r *Repo) EnumerateObjects(fn func(digest string, t ObjectType) error) error {
	const op = "objectstore.EnumerateObjects"
	entries, err := os.ReadDir(r.objectsPath())
	if err != nil {
		return ioErr(op, err)
	}

	mode := r.Mode()
	for _, shard := range entries {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardPath := filepath.Join(r.objectsPath(), shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return ioErr(op, err)
		}
		for _, f := range files {
			name := f.Name()
			if len(name) > 0 && name[0] == '.' {
				continue
			}
			digest, t, ok := parseLooseFilename(shard.Name(), name, mode)
			if !ok {
				continue
			}
			if err := fn(digest, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseLooseFilename(shard, name string, mode RepoMode) (digest string, t ObjectType, ok bool) {
	suffixes := []struct {
		ext string
		t   ObjectType
	}{
		{".commit-tombstone", ObjectTombstoneCommit},
		{".commitmeta", ObjectCommitMeta},
		{".commit", ObjectCommit},
		{".dirmeta", ObjectDirMeta},
		{".dirtree", ObjectDirTree},
		{".filez", ObjectFile},
		{".file", ObjectFile},
	}
	for _, s := range suffixes {
		if len(name) > len(s.ext) && name[len(name)-len(s.ext):] == s.ext {
			rest := name[:len(name)-len(s.ext)]
			d := shard + rest
			if ValidDigest(d) {
				return d, s.t, true
			}
		}
	}
	return "", 0, false
}

// ImportObject copies the object addressed by (digest, t) from src into r
// if r does not already have it, re-encoding FILE objects if the two
// repositories use different storage modes. This backs local (non-HTTP)
// repo-to-repo replication; the network pull driver is out of scope.
func (r *Repo) ImportObject(src *Repo, digest string, t ObjectType) error {
	const op = "objectstore.ImportObject"
	if has, err := r.HasObject(digest, t); err != nil {
		return err
	} else if has {
		return nil
	}

	if t == ObjectFile {
		obj, err := src.LoadFile(digest)
		if err != nil {
			return err
		}
		if obj.Data != nil {
			defer obj.Data.Close()
		}
		got, err := r.StoreFile(obj)
		if err != nil {
			return err
		}
		if got != digest {
			return corruption(op, fmt.Errorf("re-encoded digest %s does not match source %s", got, digest))
		}
		return nil
	}

	data, err := src.loadMeta(op, digest, t)
	if err != nil {
		return err
	}
	if _, err := r.storeMetaAt(op, digest, t, data); err != nil {
		return err
	}
	return nil
}

// ObjectRef names one object by digest and kind, as consumed by
// ImportObjects.
type ObjectRef struct {
	Digest string
	Type   ObjectType
}

// ImportObjects imports a batch of objects from src concurrently, up to
// concurrency workers at a time, stopping and returning the first error
// once ctx is cancelled (a bounded worker-pool-over-a-walk shape, the same
// pattern used elsewhere for concurrent per-file repository cleanup).
func (r *Repo) ImportObjects(ctx context.Context, src *Repo, refs []ObjectRef, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 16
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for _, ref := range refs {
		ref := ref
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			return r.ImportObject(src, ref.Digest, ref.Type)
		})
	}

	return eg.Wait()
}
