// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"go.ciq.dev/ostreecore/internal/pkg/variant"
)

// archive-z2 framing: a DIR_META-shaped header (uid, gid, mode, xattrs)
// followed by a one-byte file-kind tag and the payload. Regular file
// payloads are zlib-compressed; symlink payloads are the raw target
// bytes; device payloads are the 4-byte big-endian rdev.
const (
	tagRegular = byte(0)
	tagSymlink = byte(1)
	tagDevice  = byte(2)
)

// EncodeArchive writes obj as an archive-z2 FILE object to w, compressing
// regular-file content at the given zlib level (clamped to [1,9] by the
// caller via the archive/zlib-level tunable).
func EncodeArchive(w io.Writer, obj ContentObject, zlibLevel int) error {
	header := variant.NewWriter()
	header.WriteUint32(obj.Info.UID)
	header.WriteUint32(obj.Info.GID)
	header.WriteUint32(obj.Info.Mode)
	pairs := make([]variant.StringBytesPair, len(obj.XAttrs))
	for i, x := range obj.XAttrs {
		pairs[i] = variant.StringBytesPair{Key: x.Name, Value: x.Value}
	}
	header.WriteStringPairs(pairs)

	headerBytes := header.Bytes()
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerBytes))); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}

	switch obj.Info.Kind {
	case KindSymlink:
		if _, err := w.Write([]byte{tagSymlink}); err != nil {
			return err
		}
		_, err := io.WriteString(w, obj.Info.SymlinkTarget)
		return err
	case KindDevice:
		if _, err := w.Write([]byte{tagDevice}); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, obj.Info.Rdev)
	default:
		if _, err := w.Write([]byte{tagRegular}); err != nil {
			return err
		}
		zw, err := zlib.NewWriterLevel(w, zlibLevel)
		if err != nil {
			return err
		}
		if obj.Data != nil {
			if _, err := io.Copy(zw, obj.Data); err != nil {
				zw.Close()
				return err
			}
		}
		return zw.Close()
	}
}

// DecodeArchive reads an archive-z2 FILE object from r.
func DecodeArchive(r io.Reader) (ContentObject, error) {
	info, xattrs, pending, rest, err := PeekArchiveMeta(r)
	if err != nil {
		return ContentObject{}, err
	}
	if !pending {
		return ContentObject{Info: info, XAttrs: xattrs}, nil
	}

	data, err := DecompressRegular(rest)
	if err != nil {
		return ContentObject{}, err
	}
	info.Kind = KindRegular
	info.Size = int64(len(data))
	return ContentObject{Info: info, XAttrs: xattrs, Data: io.NopCloser(bytes.NewReader(data))}, nil
}

// DecompressRegular completes the pending case PeekArchiveMeta reports for
// a regular file: rest is the reader PeekArchiveMeta returned, positioned
// right after the payload tag, and the result is the file's decompressed
// content.
func DecompressRegular(rest io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(rest)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		zr.Close()
		return nil, err
	}
	if err := zr.Close(); err != nil {
		return nil, err
	}
	return data, nil
}

// PeekArchiveMeta reads an archive-z2 object's header and payload tag from
// r without paying for zlib decompression. For symlink and device objects
// (whose payload is small and uncompressed) it reads the payload too and
// returns the complete FileInfo with pending=false. For a regular file it
// leaves r positioned right after the tag byte and returns pending=true,
// so a caller that keeps an out-of-band uncompressed copy of the content
// (see core/enable-uncompressed-cache) can skip decompressing rest
// entirely.
func PeekArchiveMeta(r io.Reader) (info FileInfo, xattrs []XAttr, pending bool, rest io.Reader, err error) {
	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return FileInfo{}, nil, false, nil, fmt.Errorf("archive: read header length: %w", err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return FileInfo{}, nil, false, nil, fmt.Errorf("archive: read header: %w", err)
	}

	hr := variant.NewReader(headerBytes)
	uid, err := hr.ReadUint32()
	if err != nil {
		return FileInfo{}, nil, false, nil, err
	}
	gid, err := hr.ReadUint32()
	if err != nil {
		return FileInfo{}, nil, false, nil, err
	}
	mode, err := hr.ReadUint32()
	if err != nil {
		return FileInfo{}, nil, false, nil, err
	}
	pairs, err := hr.ReadStringPairs()
	if err != nil {
		return FileInfo{}, nil, false, nil, err
	}
	xattrs = make([]XAttr, len(pairs))
	for i, p := range pairs {
		xattrs[i] = XAttr{Name: p.Key, Value: p.Value}
	}

	tagBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, tagBuf); err != nil {
		return FileInfo{}, nil, false, nil, fmt.Errorf("archive: read tag: %w", err)
	}

	info = FileInfo{UID: uid, GID: gid, Mode: mode}

	switch tagBuf[0] {
	case tagSymlink:
		target, err := io.ReadAll(r)
		if err != nil {
			return FileInfo{}, nil, false, nil, err
		}
		info.Kind = KindSymlink
		info.SymlinkTarget = string(target)
		return info, xattrs, false, nil, nil
	case tagDevice:
		var rdev uint32
		if err := binary.Read(r, binary.BigEndian, &rdev); err != nil {
			return FileInfo{}, nil, false, nil, err
		}
		info.Kind = KindDevice
		info.Rdev = rdev
		return info, xattrs, false, nil, nil
	case tagRegular:
		return info, xattrs, true, r, nil
	default:
		return FileInfo{}, nil, false, nil, fmt.Errorf("archive: unknown payload tag %d", tagBuf[0])
	}
}
