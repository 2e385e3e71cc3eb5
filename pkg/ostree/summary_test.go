// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSummaryEncodeDecodeRoundTrip(t *testing.T) {
	s := BuildSummary(
		[]SummaryRef{
			{Name: "b", Checksum: "deadbeef"},
			{Name: "a", Checksum: "cafebabe"},
		},
		map[string]string{"a": "", "b": ""},
		map[string][]byte{"-deadbeef": []byte("32-byte-digest-placeholder-here")},
		"",
	)

	encoded := s.Encode()
	decoded, err := DecodeSummary(encoded)
	require.NoError(t, err)

	require.Len(t, decoded.Refs, 2)
	require.Equal(t, "a", decoded.Refs[0].Name)
	require.Equal(t, "b", decoded.Refs[1].Name)
	require.Equal(t, []byte("32-byte-digest-placeholder-here"), decoded.StaticDeltas["-deadbeef"])
}

func TestSummaryRefOrdering(t *testing.T) {
	s := Summary{
		Refs: []SummaryRef{
			{Name: "z", Checksum: "10"},
			{Name: "a", Checksum: "20"},
			{Name: "m", Checksum: "30"},
		},
	}
	decoded, err := DecodeSummary(s.Encode())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "m", "z"}, []string{decoded.Refs[0].Name, decoded.Refs[1].Name, decoded.Refs[2].Name})
}

func TestSummaryRefCarriesCommitSizeAndTimestamp(t *testing.T) {
	ts := time.Now().UTC().Truncate(time.Second)
	s := Summary{
		Refs: []SummaryRef{
			{Name: "stable", Checksum: "cafebabe", CommitSize: 4096, CommitTimestamp: ts},
		},
	}
	decoded, err := DecodeSummary(s.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.Refs, 1)
	require.Equal(t, int64(4096), decoded.Refs[0].CommitSize)
	require.Equal(t, ts, decoded.Refs[0].CommitTimestamp)
	require.Equal(t, "cafebabe", decoded.Refs[0].Checksum)
}

func TestSummaryEncodeRejectsInvalidChecksum(t *testing.T) {
	s := Summary{Refs: []SummaryRef{{Name: "bad", Checksum: "not-hex"}}}
	_, err := s.encodeChecked()
	require.Error(t, err)
}

func TestSummaryCollectionMap(t *testing.T) {
	refs := []SummaryRef{
		{Name: "local-ref", Checksum: "aaaa"},
		{Name: "other-ref", Checksum: "bbbb"},
	}
	refCollections := map[string]string{
		"local-ref": "org.example.Local",
		"other-ref": "org.example.Other",
	}

	s := BuildSummary(refs, refCollections, nil, "org.example.Local")
	require.Len(t, s.Refs, 1)
	require.Equal(t, "local-ref", s.Refs[0].Name)
	require.Contains(t, s.CollectionMap, "org.example.Other")

	decoded, err := DecodeSummary(s.Encode())
	require.NoError(t, err)
	require.Equal(t, "org.example.Local", decoded.CollectionID)
	require.Len(t, decoded.CollectionMap["org.example.Other"], 1)
}

func TestWriteSummaryUnlinksSig(t *testing.T) {
	r := newTestRepo(t, ModeBare)

	require.NoError(t, r.WriteSummary(Summary{Refs: []SummaryRef{{Name: "a", Checksum: "ab"}}}))

	sigPath := filepath.Join(r.Path(), "summary.sig")
	require.NoError(t, os.WriteFile(sigPath, []byte("stale-sig"), 0o644))

	require.NoError(t, r.WriteSummary(Summary{Refs: []SummaryRef{{Name: "a", Checksum: "cd"}}}))
	require.NoFileExists(t, sigPath)

	got, err := r.ReadSummary()
	require.NoError(t, err)
	require.Equal(t, "cd", got.Refs[0].Checksum)
}
