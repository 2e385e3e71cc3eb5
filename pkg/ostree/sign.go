// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/openpgp" //nolint:staticcheck
	"golang.org/x/crypto/openpgp/packet"
)

func summaryPaths(repoPath string) (summary, sig string) {
	return filepath.Join(repoPath, "summary"), filepath.Join(repoPath, "summary.sig")
}

// allRemotesSentinel requests verification against the union of every
// configured remote's keyring (plus the global trust store when none of
// them has a keyring), rather than one named remote's.
const allRemotesSentinel = "*"

// AllRemotes is passed as the remote name to VerifyCommit to check a
// signature against every configured remote's keyring, instead of a single
// named remote's. The global trust store is added only when none of the
// remotes contributes a keyring.
const AllRemotes = allRemotesSentinel

// KeyringOptions extends the keyrings consulted by VerifyCommit/VerifySummary
// beyond what remote configuration alone would select.
type KeyringOptions struct {
	// ExtraKeyringPaths are additional armored or binary keyring files
	// merged in regardless of remote.
	ExtraKeyringPaths []string
	// ExtraKeyringDirs are directories globbed for "*.gpg" and "*.asc"
	// files, merged in the same way.
	ExtraKeyringDirs []string
}

// SignCommit produces a detached OpenPGP signature over the raw encoded
// bytes of the COMMIT object addressed by digest, using signer, and
// appends it to the commit's COMMIT_META ostree.gpgsigs list. Fails with
// an "exists" error if a signature from signer's key is already present.
func (r *Repo) SignCommit(digest string, signer *openpgp.Entity) error {
	const op = "sign.SignCommit"

	raw, err := r.loadMeta(op, digest, ObjectCommit)
	if err != nil {
		return err
	}

	detached, err := r.LoadDetachedMetadata(digest)
	if err != nil {
		return err
	}

	keyID := signer.PrimaryKey.KeyId
	for _, sig := range detached.GPGSigs {
		if id, ok := signaturePacketKeyID(sig); ok && id == keyID {
			return exists(op, fmt.Errorf("commit %s already has a signature from key %016X", digest, keyID))
		}
	}

	var sigBuf bytes.Buffer
	if err := openpgp.DetachSign(&sigBuf, signer, bytes.NewReader(raw), &packet.Config{}); err != nil {
		return signatureErr(op, err)
	}
	detached.GPGSigs = append(detached.GPGSigs, sigBuf.Bytes())

	return r.StoreDetachedMetadata(digest, detached)
}

// signaturePacketKeyID decodes a single detached-signature packet and
// returns the issuing key ID, if the packet carries one.
func signaturePacketKeyID(data []byte) (uint64, bool) {
	pkt, err := packet.Read(bytes.NewReader(data))
	if err != nil {
		return 0, false
	}
	sig, ok := pkt.(*packet.Signature)
	if !ok || sig.IssuerKeyId == nil {
		return 0, false
	}
	return *sig.IssuerKeyId, true
}

// VerifyCommit checks every detached signature stored in the commit's
// COMMIT_META object against the keyring selected for remoteName (or
// AllRemotes), returning nil if at least one signature verifies against a
// trusted key.
func (r *Repo) VerifyCommit(digest, remoteName string, extra KeyringOptions) error {
	const op = "sign.VerifyCommit"

	raw, err := r.loadMeta(op, digest, ObjectCommit)
	if err != nil {
		return err
	}

	detached, err := r.LoadDetachedMetadata(digest)
	if err != nil {
		return err
	}
	if len(detached.GPGSigs) == 0 {
		return signatureErr(op, fmt.Errorf("commit %s has no detached signatures", digest))
	}

	keyring, err := r.selectKeyring(remoteName, extra)
	if err != nil {
		return err
	}
	if len(keyring) == 0 {
		return signatureErr(op, fmt.Errorf("no trusted keys configured for %q", remoteName))
	}

	var lastErr error
	for _, sig := range detached.GPGSigs {
		if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(raw), bytes.NewReader(sig)); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return signatureErr(op, fmt.Errorf("no signature verified against the trusted keyring: %w", lastErr))
}

// SignSummary signs the repository's current "summary" file with signer,
// appending the new detached signature packet to any already in
// "summary.sig" and atomically rewriting it.
func (r *Repo) SignSummary(signer *openpgp.Entity) error {
	const op = "sign.SignSummary"

	summaryPath, sigPath := summaryPaths(r.opts.Path)
	raw, err := os.ReadFile(summaryPath)
	if err != nil {
		return ioErr(op, err)
	}

	var sigBuf bytes.Buffer
	if err := openpgp.DetachSign(&sigBuf, signer, bytes.NewReader(raw), &packet.Config{}); err != nil {
		return signatureErr(op, err)
	}

	existing, err := os.ReadFile(sigPath)
	if err != nil && !os.IsNotExist(err) {
		return ioErr(op, err)
	}
	combined := append(append([]byte(nil), existing...), sigBuf.Bytes()...)

	stagingPath := sigPath + ".tmp"
	if err := os.WriteFile(stagingPath, combined, 0o644); err != nil {
		return ioErr(op, err)
	}
	if err := os.Rename(stagingPath, sigPath); err != nil {
		os.Remove(stagingPath)
		return ioErr(op, err)
	}
	return nil
}

// VerifySummary checks the repository's "summary.sig" (one or more
// concatenated detached signature packets) against the keyring selected
// for remoteName, succeeding if at least one signature verifies.
func (r *Repo) VerifySummary(remoteName string, extra KeyringOptions) error {
	const op = "sign.VerifySummary"

	summaryPath, sigPath := summaryPaths(r.opts.Path)
	raw, err := os.ReadFile(summaryPath)
	if err != nil {
		return ioErr(op, err)
	}
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return signatureErr(op, fmt.Errorf("summary.sig does not exist"))
		}
		return ioErr(op, err)
	}

	keyring, err := r.selectKeyring(remoteName, extra)
	if err != nil {
		return err
	}
	if len(keyring) == 0 {
		return signatureErr(op, fmt.Errorf("no trusted keys configured for %q", remoteName))
	}

	sigs, err := splitSignaturePackets(sigData)
	if err != nil {
		return signatureErr(op, err)
	}

	var lastErr error
	for _, sig := range sigs {
		if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(raw), bytes.NewReader(sig)); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return signatureErr(op, fmt.Errorf("no signature in summary.sig verified against the trusted keyring: %w", lastErr))
}

// splitSignaturePackets splits a summary.sig file, which may hold several
// concatenated detached-signature packets (one per signing key), into the
// individual packet byte ranges CheckDetachedSignature expects.
func splitSignaturePackets(data []byte) ([][]byte, error) {
	var sigs [][]byte
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		start := len(data) - r.Len()
		pkt, err := packet.Read(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, ok := pkt.(*packet.Signature); !ok {
			continue
		}
		end := len(data) - r.Len()
		sigs = append(sigs, data[start:end])
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no signature packets found")
	}
	return sigs, nil
}

// selectKeyring implements the keyring search order: a named remote's own
// gpgkeypath (one key file or a colon-separated list of them), then its "<name>.trustedkeys.gpg" file (checked in both the
// repository root and its remotes.d origin directory), then AllRemotes
// unions every configured remote's keyring, then every extra path/dir.
// The deprecated global trust store (<sysconf>/ostree/trusted.gpg.d/*.gpg
// and <repo>/trusted.gpg) is consulted only when no remote-specific
// keyring contributed any entity — a remote that carries its own keyring
// must not be validated against keys that are only globally trusted.
func (r *Repo) selectKeyring(remoteName string, extra KeyringOptions) (openpgp.EntityList, error) {
	var keyring openpgp.EntityList
	seen := map[string]bool{}

	addFile := func(path string) bool {
		if path == "" || seen[path] {
			return false
		}
		seen[path] = true
		entities, err := loadKeyringFile(path)
		if err != nil {
			return false
		}
		keyring = append(keyring, entities...)
		return len(entities) > 0
	}

	addRemote := func(rem *Remote) bool {
		found := false
		if kp, ok := rem.option("gpgkeypath"); ok {
			for _, p := range strings.Split(kp, ":") {
				found = addFile(p) || found
			}
		}
		found = addFile(filepath.Join(r.opts.Path, rem.KeyringFile())) || found
		if rem.OriginFile != "" {
			found = addFile(filepath.Join(filepath.Dir(rem.OriginFile), rem.KeyringFile())) || found
		}
		return found
	}

	remoteKeyringFound := false
	switch {
	case remoteName == allRemotesSentinel:
		for _, name := range r.ListRemotes() {
			if rem, err := r.GetRemote(name); err == nil {
				remoteKeyringFound = addRemote(rem) || remoteKeyringFound
			}
		}
	case remoteName != "":
		rem, err := r.GetRemote(remoteName)
		if err != nil {
			return nil, err
		}
		remoteKeyringFound = addRemote(rem)
	}

	for _, p := range extra.ExtraKeyringPaths {
		addFile(p)
	}
	for _, dir := range extra.ExtraKeyringDirs {
		addGlobbed(dir, &keyring, seen)
	}

	if remoteName == "" || !remoteKeyringFound {
		addGlobbed(r.globalTrustDir(), &keyring, seen)
		addFile(filepath.Join(r.opts.Path, "trusted.gpg"))
	}

	return keyring, nil
}

func (r *Repo) globalTrustDir() string {
	sysconf := defaultSysconfDir
	if r.opts.SysrootPath != "" {
		sysconf = filepath.Join(r.opts.SysrootPath, "etc")
	}
	return filepath.Join(sysconf, "ostree", "trusted.gpg.d")
}

func addGlobbed(dir string, keyring *openpgp.EntityList, seen map[string]bool) {
	if dir == "" {
		return
	}
	for _, pattern := range []string{"*.gpg", "*.asc"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			entities, err := loadKeyringFile(m)
			if err != nil {
				continue
			}
			*keyring = append(*keyring, entities...)
		}
	}
}

// loadKeyringFile reads a keyring file, trying the binary OpenPGP packet
// format first and falling back to ASCII-armored.
func loadKeyringFile(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if entities, err := openpgp.ReadKeyRing(bytes.NewReader(data)); err == nil {
		return entities, nil
	}
	return openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
}
