// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import "context"

// PullProgress reports incremental status for a PullDriver's Pull call:
// bytes/objects transferred so far against whatever totals the driver can
// estimate.
type PullProgress struct {
	Remote           string
	Ref              string
	BytesTransferred int64
	BytesTotal       int64
	ObjectsFetched   int
	ObjectsTotal     int
}

// PullDriver is implemented by an external HTTP pull component that
// fetches objects from a remote into this repository's object store. The
// network transport itself is out of scope for this module; a caller
// wires a concrete driver against the Repo's StoreFile/StoreDirTree/
// StoreCommit/ImportObject methods.
type PullDriver interface {
	Pull(ctx context.Context, remote string, refs []string, progress chan<- PullProgress) error
}

// TreeWriter is implemented by an external mutable-tree/commit-writer
// component (e.g. a filesystem-to-commit checkout builder) that produces
// objects whose digest this module verifies before accepting.
type TreeWriter interface {
	WriteMetadata(ctx context.Context, kind ObjectType, expectedDigest string, data []byte) (digest string, err error)
	WriteContent(ctx context.Context, expectedDigest string, content FileObject) (digest string, err error)
}

// DeltaName identifies a static delta by its endpoint commits.
type DeltaName struct {
	From string // empty for a "from scratch" delta
	To   string
}

// DeltaEngine is implemented by an external static-delta component. This
// module only needs to enumerate and locate delta superblocks to publish
// their digests in the summary file; building and applying deltas is out
// of scope.
type DeltaEngine interface {
	List(ctx context.Context) ([]DeltaName, error)
	ParseName(name string) (from, to string, err error)
	SuperblockPath(name string) string
}
