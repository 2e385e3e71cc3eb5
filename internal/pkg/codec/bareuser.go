// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// WriteBareUser writes obj to path as a bare-user object: the inode is
// created and owned by the calling (possibly unprivileged) process, and
// the object's real POSIX identity and xattrs are packed into the
// user.ostreemeta xattr instead of applied to the inode.
func WriteBareUser(path string, obj ContentObject) error {
	switch obj.Info.Kind {
	case KindSymlink:
		// Bare-user never creates real symlinks: a malicious tree could
		// otherwise point one at an arbitrary path outside the repo.
		// The target is stored as regular content instead and the kind
		// recovered from user.ostreemeta on read.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(f, obj.Info.SymlinkTarget); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	case KindDevice:
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	default:
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
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

	meta := encodeUserMeta(obj.Info, obj.XAttrs)
	if err := unix.Lsetxattr(path, userMetaXattr, meta, 0); err != nil {
		return err
	}
	return os.Chmod(path, 0o644)
}

// ReadBareUser reads a bare-user object's real identity and xattrs back
// out of its user.ostreemeta xattr, recovering its content stream from the
// underlying regular inode.
func ReadBareUser(path string) (ContentObject, error) {
	size, err := unix.Lgetxattr(path, userMetaXattr, nil)
	if err != nil {
		return ContentObject{}, err
	}
	buf := make([]byte, size)
	if _, err := unix.Lgetxattr(path, userMetaXattr, buf); err != nil {
		return ContentObject{}, err
	}
	info, xattrs, err := decodeUserMeta(buf)
	if err != nil {
		return ContentObject{}, err
	}

	switch info.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		target, err := os.ReadFile(path)
		if err != nil {
			return ContentObject{}, err
		}
		info.Kind = KindSymlink
		info.SymlinkTarget = string(target)
		return ContentObject{Info: info, XAttrs: xattrs}, nil
	case unix.S_IFCHR, unix.S_IFBLK:
		info.Kind = KindDevice
		return ContentObject{Info: info, XAttrs: xattrs}, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return ContentObject{}, err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return ContentObject{}, err
		}
		info.Kind = KindRegular
		info.Size = st.Size()
		return ContentObject{Info: info, XAttrs: xattrs, Data: f}, nil
	}
}

// WriteBareUserOnly writes obj to path canonicalized to uid 0, gid 0 and
// no extended attributes: bare-user-only never round-trips arbitrary
// ownership or xattrs, matching content that will only ever be deployed
// inside a user namespace that remaps identity on its own.
func WriteBareUserOnly(path string, obj ContentObject) error {
	canon := ContentObject{
		Info: FileInfo{
			Kind:          obj.Info.Kind,
			Mode:          obj.Info.Mode,
			Size:          obj.Info.Size,
			SymlinkTarget: obj.Info.SymlinkTarget,
			Rdev:          obj.Info.Rdev,
		},
		Data: obj.Data,
	}
	return WriteBare(path, canon)
}

// ReadBareUserOnly reads a bare-user-only object; identity is always the
// canonical uid 0 / gid 0 WriteBareUserOnly applies, and xattrs are always
// empty, whatever the inode itself carries.
func ReadBareUserOnly(path string) (ContentObject, error) {
	obj, err := ReadBare(path)
	if err != nil {
		return ContentObject{}, err
	}
	obj.Info.UID = 0
	obj.Info.GID = 0
	obj.XAttrs = nil
	return obj, nil
}
