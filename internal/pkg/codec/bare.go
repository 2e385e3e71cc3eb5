// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"go.ciq.dev/ostreecore/internal/pkg/variant"
)

// userMetaXattr is the xattr name bare-user and bare-user-only use to carry
// the POSIX identity a non-root writer cannot apply to the real inode.
const userMetaXattr = "user.ostreemeta"

// WriteBare writes obj's content and xattrs directly to path, applying its
// POSIX ownership and mode to the inode itself. Requires CAP_CHOWN/root for
// arbitrary uid/gid; callers running unprivileged should use WriteBareUser
// instead.
func WriteBare(path string, obj ContentObject) error {
	switch obj.Info.Kind {
	case KindSymlink:
		if err := os.Symlink(obj.Info.SymlinkTarget, path); err != nil {
			return err
		}
	case KindDevice:
		mode := uint32(unix.S_IFCHR) | (obj.Info.Mode & 0o7777)
		if err := unix.Mknod(path, mode, int(obj.Info.Rdev)); err != nil {
			return err
		}
	default:
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, os.FileMode(obj.Info.Mode&0o7777))
		if err != nil {
			return err
		}
		if obj.Data != nil {
			if _, err := io.Copy(f, obj.Data); err != nil {
				f.Close()
				return err
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if err := unix.Lchown(path, int(obj.Info.UID), int(obj.Info.GID)); err != nil {
		return fmt.Errorf("bare: chown %s: %w", path, err)
	}
	if obj.Info.Kind != KindSymlink {
		if err := os.Chmod(path, os.FileMode(obj.Info.Mode&0o7777)); err != nil {
			return err
		}
	}
	for _, x := range obj.XAttrs {
		if err := unix.Lsetxattr(path, x.Name, x.Value, 0); err != nil {
			return fmt.Errorf("bare: setxattr %s on %s: %w", x.Name, path, err)
		}
	}
	return nil
}

// ReadBare reads a bare-mode object's content, POSIX identity and xattrs
// back from its on-disk inode at path.
func ReadBare(path string) (ContentObject, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return ContentObject{}, err
	}

	info := FileInfo{
		UID:  st.Uid,
		GID:  st.Gid,
		Mode: uint32(st.Mode) & 0o7777,
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		target, err := os.Readlink(path)
		if err != nil {
			return ContentObject{}, err
		}
		info.Kind = KindSymlink
		info.SymlinkTarget = target
		return ContentObject{Info: info, XAttrs: listXAttrs(path)}, nil
	case unix.S_IFCHR, unix.S_IFBLK:
		info.Kind = KindDevice
		info.Rdev = uint32(st.Rdev)
		return ContentObject{Info: info, XAttrs: listXAttrs(path)}, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return ContentObject{}, err
		}
		info.Kind = KindRegular
		info.Size = st.Size
		return ContentObject{Info: info, XAttrs: listXAttrs(path), Data: f}, nil
	}
}

// listXAttrs enumerates and reads every xattr on path, skipping the
// bare-user identity overlay (userMetaXattr), which is not a real content
// xattr.
func listXAttrs(path string) []XAttr {
	size, err := unix.Llistxattr(path, nil)
	if err != nil || size == 0 {
		return nil
	}
	namesBuf := make([]byte, size)
	n, err := unix.Llistxattr(path, namesBuf)
	if err != nil {
		return nil
	}
	var out []XAttr
	for _, name := range splitNulTerminated(namesBuf[:n]) {
		if name == userMetaXattr {
			continue
		}
		vsize, err := unix.Lgetxattr(path, name, nil)
		if err != nil {
			continue
		}
		val := make([]byte, vsize)
		if vsize > 0 {
			if _, err := unix.Lgetxattr(path, name, val); err != nil {
				continue
			}
		}
		out = append(out, XAttr{Name: name, Value: val})
	}
	return out
}

func splitNulTerminated(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

// encodeUserMeta packs the POSIX identity a bare-user writer cannot apply
// to the inode into the user.ostreemeta xattr payload: uid, gid, mode and
// the "real" xattr list.
func encodeUserMeta(info FileInfo, xattrs []XAttr) []byte {
	w := variant.NewWriter()
	w.WriteUint32(info.UID)
	w.WriteUint32(info.GID)
	w.WriteUint32(info.Mode)
	pairs := make([]variant.StringBytesPair, len(xattrs))
	for i, x := range xattrs {
		pairs[i] = variant.StringBytesPair{Key: x.Name, Value: x.Value}
	}
	w.WriteStringPairs(pairs)
	return w.Bytes()
}

func decodeUserMeta(data []byte) (FileInfo, []XAttr, error) {
	r := variant.NewReader(data)
	uid, err := r.ReadUint32()
	if err != nil {
		return FileInfo{}, nil, err
	}
	gid, err := r.ReadUint32()
	if err != nil {
		return FileInfo{}, nil, err
	}
	mode, err := r.ReadUint32()
	if err != nil {
		return FileInfo{}, nil, err
	}
	pairs, err := r.ReadStringPairs()
	if err != nil {
		return FileInfo{}, nil, err
	}
	xattrs := make([]XAttr, len(pairs))
	for i, p := range pairs {
		xattrs[i] = XAttr{Name: p.Key, Value: p.Value}
	}
	return FileInfo{UID: uid, GID: gid, Mode: mode}, xattrs, nil
}
