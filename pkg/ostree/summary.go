// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.ciq.dev/ostreecore/internal/pkg/variant"
)

const summaryCommitTimestampKey = "ostree.commit.timestamp"

// SummaryRef is one ref's entry in a summary: a branch name mapped to the
// commit digest it currently points at, plus the commit metadata a client
// consults before fetching it (its encoded size and timestamp).
type SummaryRef struct {
	Name            string
	Checksum        string
	CommitSize      int64
	CommitTimestamp time.Time
}

// Summary is the decoded form of the repository's "summary" file: a
// refs/static-delta/collection index.
type Summary struct {
	Refs          []SummaryRef
	StaticDeltas  map[string][]byte // "<from>-<to>" -> 32-byte delta superblock digest
	LastModified  time.Time
	CollectionID  string
	CollectionMap map[string][]SummaryRef
}

// BuildSummary assembles a Summary from the repository's current refs and
// static-delta index. Refs belonging to the repo's own collection ID (if
// any) are placed in the main refs array; refs tagged with a different
// collection ID go into the collection map entry for that collection.
func BuildSummary(refs []SummaryRef, refCollections map[string]string, staticDeltas map[string][]byte, collectionID string) Summary {
	s := Summary{
		StaticDeltas: staticDeltas,
		LastModified: time.Now().UTC(),
		CollectionID: collectionID,
	}

	byCollection := make(map[string][]SummaryRef)
	for _, ref := range refs {
		col := refCollections[ref.Name]
		if col == "" || col == collectionID {
			s.Refs = append(s.Refs, ref)
			continue
		}
		byCollection[col] = append(byCollection[col], ref)
	}
	if len(byCollection) > 0 {
		s.CollectionMap = byCollection
	}
	return s
}

// encodeRef appends one ref's (name, (commit_size, commit_digest_bytes,
// commit_meta_dict)) entry to w. The commit digest is stored as raw bytes
// rather than hex text, and the metadata dict carries the commit's
// timestamp under "ostree.commit.timestamp" when known, matching the
// nested framing a real summary file uses.
func encodeRef(w *variant.Writer, ref SummaryRef) error {
	digestBytes, err := hex.DecodeString(ref.Checksum)
	if err != nil {
		return fmt.Errorf("ref %q: invalid checksum: %w", ref.Name, err)
	}

	inner := variant.NewWriter()
	inner.WriteUint64(uint64(ref.CommitSize))
	inner.WriteBytes(digestBytes)

	var metaPairs []variant.StringBytesPair
	if !ref.CommitTimestamp.IsZero() {
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], uint64(ref.CommitTimestamp.Unix()))
		metaPairs = append(metaPairs, variant.StringBytesPair{Key: summaryCommitTimestampKey, Value: tsBuf[:]})
	}
	inner.WriteStringPairs(metaPairs)

	w.WriteString(ref.Name)
	w.WriteBytes(inner.Bytes())
	return nil
}

func decodeRef(r *variant.Reader) (SummaryRef, error) {
	name, err := r.ReadString()
	if err != nil {
		return SummaryRef{}, fmt.Errorf("ref name: %w", err)
	}
	blob, err := r.ReadBytes()
	if err != nil {
		return SummaryRef{}, fmt.Errorf("ref %q: commit entry: %w", name, err)
	}

	inner := variant.NewReader(blob)
	size, err := inner.ReadUint64()
	if err != nil {
		return SummaryRef{}, fmt.Errorf("ref %q: commit size: %w", name, err)
	}
	digestBytes, err := inner.ReadBytes()
	if err != nil {
		return SummaryRef{}, fmt.Errorf("ref %q: commit digest: %w", name, err)
	}
	metaPairs, err := inner.ReadStringPairs()
	if err != nil {
		return SummaryRef{}, fmt.Errorf("ref %q: commit meta: %w", name, err)
	}

	ref := SummaryRef{
		Name:       name,
		Checksum:   hex.EncodeToString(digestBytes),
		CommitSize: int64(size),
	}
	for _, p := range metaPairs {
		if p.Key == summaryCommitTimestampKey && len(p.Value) == 8 {
			ref.CommitTimestamp = time.Unix(int64(binary.BigEndian.Uint64(p.Value)), 0).UTC()
		}
	}
	return ref, nil
}

// Encode serializes s as the variant tuple (refs_array, metadata_dict),
// with the refs array sorted strictly increasing by name and the
// collection map sorted strictly increasing by collection ID.
func (s Summary) Encode() []byte {
	refs := append([]SummaryRef(nil), s.Refs...)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	w := variant.NewWriter()
	w.WriteUint32(uint32(len(refs)))
	for _, ref := range refs {
		_ = encodeRef(w, ref)
	}

	var deltaKeys []string
	for k := range s.StaticDeltas {
		deltaKeys = append(deltaKeys, k)
	}
	sort.Strings(deltaKeys)
	deltaPairs := make([]variant.StringBytesPair, len(deltaKeys))
	for i, k := range deltaKeys {
		deltaPairs[i] = variant.StringBytesPair{Key: k, Value: s.StaticDeltas[k]}
	}
	w.WriteStringPairs(deltaPairs)

	w.WriteUint64(uint64(s.LastModified.Unix()))
	w.WriteString(s.CollectionID)

	var colKeys []string
	for k := range s.CollectionMap {
		colKeys = append(colKeys, k)
	}
	sort.Strings(colKeys)
	w.WriteUint32(uint32(len(colKeys)))
	for _, col := range colKeys {
		w.WriteString(col)
		colRefs := append([]SummaryRef(nil), s.CollectionMap[col]...)
		sort.Slice(colRefs, func(i, j int) bool { return colRefs[i].Name < colRefs[j].Name })
		w.WriteUint32(uint32(len(colRefs)))
		for _, ref := range colRefs {
			_ = encodeRef(w, ref)
		}
	}

	return w.Bytes()
}

// DecodeSummary parses the bytes of a "summary" file.
func DecodeSummary(data []byte) (Summary, error) {
	r := variant.NewReader(data)

	nRefs, err := r.ReadUint32()
	if err != nil {
		return Summary{}, fmt.Errorf("summary: refs count: %w", err)
	}
	refs := make([]SummaryRef, 0, nRefs)
	for i := uint32(0); i < nRefs; i++ {
		ref, err := decodeRef(r)
		if err != nil {
			return Summary{}, fmt.Errorf("summary: %w", err)
		}
		refs = append(refs, ref)
	}

	deltaPairs, err := r.ReadStringPairs()
	if err != nil {
		return Summary{}, fmt.Errorf("summary: static deltas: %w", err)
	}
	deltas := make(map[string][]byte, len(deltaPairs))
	for _, p := range deltaPairs {
		deltas[p.Key] = p.Value
	}

	ts, err := r.ReadUint64()
	if err != nil {
		return Summary{}, fmt.Errorf("summary: last-modified: %w", err)
	}
	collectionID, err := r.ReadString()
	if err != nil {
		return Summary{}, fmt.Errorf("summary: collection-id: %w", err)
	}

	nCols, err := r.ReadUint32()
	if err != nil {
		return Summary{}, fmt.Errorf("summary: collection-map count: %w", err)
	}
	var collectionMap map[string][]SummaryRef
	if nCols > 0 {
		collectionMap = make(map[string][]SummaryRef, nCols)
	}
	for i := uint32(0); i < nCols; i++ {
		col, err := r.ReadString()
		if err != nil {
			return Summary{}, fmt.Errorf("summary: collection key: %w", err)
		}
		nColRefs, err := r.ReadUint32()
		if err != nil {
			return Summary{}, fmt.Errorf("summary: collection refs count: %w", err)
		}
		colRefs := make([]SummaryRef, 0, nColRefs)
		for j := uint32(0); j < nColRefs; j++ {
			ref, err := decodeRef(r)
			if err != nil {
				return Summary{}, fmt.Errorf("summary: collection %q: %w", col, err)
			}
			colRefs = append(colRefs, ref)
		}
		collectionMap[col] = colRefs
	}

	return Summary{
		Refs:          refs,
		StaticDeltas:  deltas,
		LastModified:  time.Unix(int64(ts), 0).UTC(),
		CollectionID:  collectionID,
		CollectionMap: collectionMap,
	}, nil
}

// WriteSummary writes s to the repository's "summary" file and
// unconditionally removes any existing "summary.sig" (missing is OK),
// since a signature over the old content is no longer valid.
func (r *Repo) WriteSummary(s Summary) error {
	const op = "summary.Write"

	path := filepath.Join(r.opts.Path, "summary")
	sigPath := filepath.Join(r.opts.Path, "summary.sig")

	encoded, err := s.encodeChecked()
	if err != nil {
		return corruption(op, err)
	}

	stagingPath := path + ".tmp"
	if err := os.WriteFile(stagingPath, encoded, 0o644); err != nil {
		return ioErr(op, err)
	}
	if err := os.Rename(stagingPath, path); err != nil {
		os.Remove(stagingPath)
		return ioErr(op, err)
	}

	if err := os.Remove(sigPath); err != nil && !os.IsNotExist(err) {
		return ioErr(op, err)
	}
	return nil
}

// encodeChecked is Encode with up-front checksum validation, so a malformed
// ref fails WriteSummary before any bytes reach disk.
func (s Summary) encodeChecked() ([]byte, error) {
	for _, ref := range s.Refs {
		if _, err := hex.DecodeString(ref.Checksum); err != nil {
			return nil, fmt.Errorf("ref %q: invalid checksum: %w", ref.Name, err)
		}
	}
	for col, refs := range s.CollectionMap {
		for _, ref := range refs {
			if _, err := hex.DecodeString(ref.Checksum); err != nil {
				return nil, fmt.Errorf("collection %q ref %q: invalid checksum: %w", col, ref.Name, err)
			}
		}
	}
	return s.Encode(), nil
}

// ReadSummary reads and decodes the repository's "summary" file.
func (r *Repo) ReadSummary() (Summary, error) {
	const op = "summary.Read"
	data, err := os.ReadFile(filepath.Join(r.opts.Path, "summary"))
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, notFound(op, err)
		}
		return Summary{}, ioErr(op, err)
	}
	s, err := DecodeSummary(data)
	if err != nil {
		return Summary{}, corruption(op, err)
	}
	return s, nil
}
