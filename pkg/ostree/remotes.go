// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ostree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"go.ciq.dev/ostreecore/internal/pkg/keyfile"
)

const (
	defaultSysconfDir  = "/etc"
	remotesDropinGroup = "remote"
)

// Remote is a named remote configuration record.
type Remote struct {
	Name       string
	Options    map[string]string
	OriginFile string // non-empty when file-backed (a remotes.d drop-in)
}

// KeyringFile returns the remote's derived keyring filename.
func (r *Remote) KeyringFile() string {
	return r.Name + ".trustedkeys.gpg"
}

func (r *Remote) option(key string) (string, bool) {
	v, ok := r.Options[key]
	return v, ok
}

func (r *Remote) GPGVerify() bool {
	if v, ok := r.option("gpg-verify"); ok {
		return parseBoolDefault(v, true)
	}
	return !strings.HasPrefix(r.Options["url"], "file://")
}

func (r *Remote) GPGVerifySummary() bool {
	if v, ok := r.option("gpg-verify-summary"); ok {
		return parseBoolDefault(v, false)
	}
	return false
}

func parseBoolDefault(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// remoteRegistry is the Repo's name -> Remote mapping, guarded by a
// mutex so list/get/mutate observe a consistent snapshot.
type remoteRegistry struct {
	mu      sync.Mutex
	remotes map[string]*Remote
}

func newRemoteRegistry() *remoteRegistry {
	return &remoteRegistry{remotes: make(map[string]*Remote)}
}

// loadRemotesRegistry ingests every
// `remote "…"` group from the repo config, then every remotes.d/*.conf
// drop-in reachable via the sysroot. Both sources are parsed into a
// staging map first; any duplicate-name or parse error aggregates via
// multierror and the registry is only updated once the full load
// succeeds, per "the registry is updated atomically after full
// validation".
func loadRemotesRegistry(r *Repo) (*remoteRegistry, error) {
	staged := make(map[string]*Remote)
	var errs *multierror.Error

	ingestGroup := func(name string, opts map[string]string, originFile string) {
		if _, dup := staged[name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("duplicate remote %q", name))
			return
		}
		staged[name] = &Remote{Name: name, Options: opts, OriginFile: originFile}
	}

	if kf, err := keyfile.Load(r.configPath()); err == nil {
		for _, secName := range kf.SectionNames() {
			name, ok := keyfile.SplitGroupName(secName, remotesDropinGroup)
			if !ok {
				continue
			}
			ingestGroup(name, sectionOptions(kf, secName), "")
		}
	} else if !os.IsNotExist(err) {
		errs = multierror.Append(errs, err)
	}

	for _, confPath := range remotesDropinFiles(r) {
		kf, err := keyfile.Load(confPath)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("load %s: %w", confPath, err))
			continue
		}
		for _, secName := range kf.SectionNames() {
			name, ok := keyfile.SplitGroupName(secName, remotesDropinGroup)
			if !ok {
				continue
			}
			ingestGroup(name, sectionOptions(kf, secName), confPath)
		}
	}

	if errs != nil {
		return nil, invalidConfig("remotes.load", errs.ErrorOrNil())
	}

	reg := newRemoteRegistry()
	reg.remotes = staged
	return reg, nil
}

func sectionOptions(kf *keyfile.File, secName string) map[string]string {
	sec := kf.Section(secName)
	opts := make(map[string]string)
	for _, key := range sec.Keys() {
		opts[key.Name()] = key.Value()
	}
	// metalink=<url> is split into its own key rather than stored as url.
	if url, ok := opts["url"]; ok && strings.HasPrefix(url, "metalink=") {
		delete(opts, "url")
		opts["metalink"] = strings.TrimPrefix(url, "metalink=")
	}
	return opts
}

func remotesDropinFiles(r *Repo) []string {
	sysconf := defaultSysconfDir
	if r.opts.SysrootPath != "" {
		sysconf = filepath.Join(r.opts.SysrootPath, "etc")
	}
	dir := r.opts.RemotesConfigDir
	if dir == "" {
		dir = filepath.Join(sysconf, "ostree", "remotes.d")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.conf"))
	sort.Strings(matches)
	return matches
}

// ListRemotes returns every remote name in lexicographic order.
func (r *Repo) ListRemotes() []string {
	r.remotes.mu.Lock()
	defer r.remotes.mu.Unlock()

	names := make([]string, 0, len(r.remotes.remotes))
	for name := range r.remotes.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetRemote looks up a remote by name. A "file://..." name is accepted as
// a transient bypass remote whose URL is itself and whose GPG verification
// is disabled, without being persisted.
func (r *Repo) GetRemote(name string) (*Remote, error) {
	if strings.HasPrefix(name, "file://") {
		return &Remote{
			Name:    name,
			Options: map[string]string{"url": name, "gpg-verify": "false"},
		}, nil
	}

	r.remotes.mu.Lock()
	rem, ok := r.remotes.remotes[name]
	r.remotes.mu.Unlock()
	if ok {
		return rem, nil
	}

	if r.parent != nil {
		return r.parent.GetRemote(name)
	}

	return nil, notFound("repo.GetRemote", fmt.Errorf("remote %q not found", name))
}

// GetRemoteOption cascades to the parent repo: when
// the remote exists locally but lacks key, or the remote does not exist
// locally at all, the parent is consulted before returning def.
func (r *Repo) GetRemoteOption(name, key, def string) (string, error) {
	r.remotes.mu.Lock()
	rem, ok := r.remotes.remotes[name]
	r.remotes.mu.Unlock()

	if ok {
		if v, has := rem.option(key); has {
			return v, nil
		}
		if r.parent != nil {
			if v, err := r.parent.GetRemoteOption(name, key, ""); err == nil && v != "" {
				return v, nil
			}
		}
		return def, nil
	}

	if r.parent != nil {
		return r.parent.GetRemoteOption(name, key, def)
	}

	return "", notFound("repo.GetRemoteOption", fmt.Errorf("remote %q not found", name))
}

// GetRemoteOptionBool is the typed boolean form of GetRemoteOption.
func (r *Repo) GetRemoteOptionBool(name, key string, def bool) (bool, error) {
	v, err := r.GetRemoteOption(name, key, "")
	if err != nil {
		return false, err
	}
	if v == "" {
		return def, nil
	}
	return parseBoolDefault(v, def), nil
}

// GetRemoteOptionList is the typed string-list form (comma-separated) of
// GetRemoteOption.
func (r *Repo) GetRemoteOptionList(name, key string) ([]string, error) {
	v, err := r.GetRemoteOption(name, key, "")
	if err != nil {
		return nil, err
	}
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// AddRemote registers a new remote, persisting it either into the repo
// config or, if fileBacked is true, as its own remotes.d drop-in file.
func (r *Repo) AddRemote(name, url string, options map[string]string, fileBacked bool) error {
	r.remotes.mu.Lock()
	if _, already := r.remotes.remotes[name]; already {
		r.remotes.mu.Unlock()
		return remoteExistsErr("repo.AddRemote", name)
	}
	r.remotes.mu.Unlock()

	opts := map[string]string{}
	for k, v := range options {
		opts[k] = v
	}
	if strings.HasPrefix(url, "metalink=") {
		opts["metalink"] = strings.TrimPrefix(url, "metalink=")
	} else {
		opts["url"] = url
	}
	if _, ok := opts["gpg-verify"]; !ok {
		opts["gpg-verify"] = strconv.FormatBool(!strings.HasPrefix(url, "file://"))
	}

	rem := &Remote{Name: name, Options: opts}

	if fileBacked {
		dropinDir := r.remotesDropinDir()
		if err := os.MkdirAll(dropinDir, 0o755); err != nil {
			return ioErr("repo.AddRemote", err)
		}
		path := filepath.Join(dropinDir, name+".conf")
		kf := keyfile.New()
		writeRemoteSection(kf, rem)
		if err := kf.SaveAtomic(path, r.tunables.fsync); err != nil {
			return ioErr("repo.AddRemote", err)
		}
		rem.OriginFile = path
	} else {
		if err := r.persistConfigRemotes(func(kf *keyfile.File) {
			writeRemoteSection(kf, rem)
		}); err != nil {
			return err
		}
	}

	r.remotes.mu.Lock()
	r.remotes.remotes[name] = rem
	r.remotes.mu.Unlock()
	return nil
}

// DeleteRemote removes a remote and, if present, its keyring file.
func (r *Repo) DeleteRemote(name string) error {
	r.remotes.mu.Lock()
	rem, ok := r.remotes.remotes[name]
	if ok {
		delete(r.remotes.remotes, name)
	}
	r.remotes.mu.Unlock()

	if !ok {
		return notFound("repo.DeleteRemote", fmt.Errorf("remote %q not found", name))
	}

	if rem.OriginFile != "" {
		if err := os.Remove(rem.OriginFile); err != nil && !os.IsNotExist(err) {
			return ioErr("repo.DeleteRemote", err)
		}
	} else if err := r.persistConfigRemotes(func(kf *keyfile.File) {
		kf.DeleteSection(keyfile.GroupName(remotesDropinGroup, name))
	}); err != nil {
		return err
	}

	keyringPath := filepath.Join(r.opts.Path, rem.KeyringFile())
	_ = os.Remove(keyringPath) // missing is OK

	return nil
}

// ChangeOp is the operation requested of Repo.ChangeRemote.
type ChangeOp int

const (
	ChangeAdd ChangeOp = iota
	ChangeAddIfAbsent
	ChangeDelete
	ChangeDeleteIfPresent
)

// ChangeRemote implements the combined add/delete mutation entry point.
func (r *Repo) ChangeRemote(op ChangeOp, name, url string, options map[string]string, fileBacked bool) error {
	switch op {
	case ChangeAdd:
		return r.AddRemote(name, url, options, fileBacked)
	case ChangeAddIfAbsent:
		if _, err := r.GetRemote(name); err == nil {
			return nil
		}
		return r.AddRemote(name, url, options, fileBacked)
	case ChangeDelete:
		return r.DeleteRemote(name)
	case ChangeDeleteIfPresent:
		if err := r.DeleteRemote(name); err != nil {
			if asOstreeErr(err).Kind == KindNotFound {
				return nil
			}
			return err
		}
		return nil
	default:
		return invalidConfig("repo.ChangeRemote", fmt.Errorf("unknown change op %d", op))
	}
}

func (r *Repo) remotesDropinDir() string {
	sysconf := defaultSysconfDir
	if r.opts.SysrootPath != "" {
		sysconf = filepath.Join(r.opts.SysrootPath, "etc")
	}
	if r.opts.RemotesConfigDir != "" {
		return r.opts.RemotesConfigDir
	}
	return filepath.Join(sysconf, "ostree", "remotes.d")
}

func (r *Repo) persistConfigRemotes(mutate func(kf *keyfile.File)) error {
	kf, err := keyfile.Load(r.configPath())
	if err != nil {
		return ioErr("repo.persistConfigRemotes", err)
	}
	mutate(kf)
	if err := kf.SaveAtomic(r.configPath(), r.tunables.fsync); err != nil {
		return ioErr("repo.persistConfigRemotes", err)
	}
	return nil
}

func writeRemoteSection(kf *keyfile.File, rem *Remote) {
	sec := kf.Section(keyfile.GroupName(remotesDropinGroup, rem.Name))
	for k, v := range rem.Options {
		_, _ = sec.NewKey(k, v)
	}
}

func remoteExistsErr(op, name string) *Error {
	return exists(op, fmt.Errorf("remote %q already exists", name))
}

func asOstreeErr(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindIO, Op: "unknown", Err: err}
}
