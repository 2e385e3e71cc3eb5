// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package ostree implements the core of a content-addressed object store
// for versioning complete operating-system trees: loose objects, repository
// lifecycle, remotes configuration, and OpenPGP signature verification.
package ostree

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"go.ciq.dev/ostreecore/internal/pkg/cache"
	"go.ciq.dev/ostreecore/internal/pkg/logging"
)

// Options configures the construction of a Repo. Construction itself does
// no I/O; Open (called internally by Create and exported directly)
// performs it.
type Options struct {
	// Path is the repository directory.
	Path string
	// SysrootPath, if set, is used to locate /etc/ostree/remotes.d and to
	// detect whether this repo is the system repo.
	SysrootPath string
	// RemotesConfigDir overrides the remotes.d drop-in directory
	// (defaults to "<sysconfdir>/ostree/remotes.d").
	RemotesConfigDir string
	// Logger receives lifecycle and mutation events. Defaults to a quiet
	// stderr text logger.
	Logger *slog.Logger
}

// Repo is the root handle bound to a repository directory: open directory
// descriptors, mode, configuration, parent chain, and cached state.
type Repo struct {
	opts Options

	mu          sync.Mutex
	initialized bool

	rootDir    *os.File
	objectsDir *os.File
	tmpDir     *os.File

	bootID         string
	stagingPrefix  string
	objectsOwnerID uint32
	isSystemRepo   bool

	writableErr atomic.Pointer[string]

	tunables tunables
	parent   *Repo

	remotes *remoteRegistry

	dirmeta *cache.DirMetaCache
	staging *cache.StagingAllocator

	logger *slog.Logger
}

// New constructs an uninitialized Repo bound to opts.Path. Call Open (or
// Create) before using it.
func New(opts Options) *Repo {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Repo{opts: opts, logger: logger}
}

func (r *Repo) configPath() string  { return filepath.Join(r.opts.Path, "config") }
func (r *Repo) objectsPath() string { return filepath.Join(r.opts.Path, "objects") }
func (r *Repo) tmpPath() string     { return filepath.Join(r.opts.Path, "tmp") }

// stateDirs are the subdirectories Create provisions under the repo root.
var stateDirs = []string{
	"objects",
	"tmp",
	"extensions",
	"state",
	"refs",
	filepath.Join("refs", "heads"),
	filepath.Join("refs", "mirrors"),
	filepath.Join("refs", "remotes"),
}

// Create creates the repository directory structure if absent, writes the
// default config, and opens the repository.
func Create(opts Options, mode RepoMode, collectionID string) (*Repo, error) {
	if opts.Path == "" {
		return nil, invalidConfig("repo.Create", fmt.Errorf("path must not be empty"))
	}

	if _, err := parseRepoMode(string(mode)); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, ioErr("repo.Create", err)
	}

	for _, d := range stateDirs {
		if err := os.MkdirAll(filepath.Join(opts.Path, d), 0o755); err != nil {
			return nil, ioErr("repo.Create", err)
		}
	}

	if mode == ModeBareUser {
		if err := probeUserXAttrSupport(filepath.Join(opts.Path, "tmp")); err != nil {
			return nil, ioErr("repo.Create", fmt.Errorf("bare-user xattr probe: %w", err))
		}
	}

	cfgPath := filepath.Join(opts.Path, "config")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(cfgPath, mode, collectionID, true); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, ioErr("repo.Create", err)
	}

	r := New(opts)
	if err := r.Open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Open transitions the handle from uninitialized to initialized. A second
// call is a no-op.
func (r *Repo) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	bootID, err := resolveBootID()
	if err != nil {
		return ioErr("repo.Open", err)
	}
	r.bootID = bootID
	r.stagingPrefix = "staging-" + bootID + "-"

	rootDir, err := openDir(r.opts.Path)
	if err != nil {
		return ioErr("repo.Open", fmt.Errorf("open repo root: %w", err))
	}

	objectsDir, err := openDir(r.objectsPath())
	if err != nil {
		rootDir.Close()
		return ioErr("repo.Open", fmt.Errorf("open objects dir: %w", err))
	}

	tmpPath := r.tmpPath()
	if err := os.MkdirAll(tmpPath, 0o755); err != nil {
		rootDir.Close()
		objectsDir.Close()
		return ioErr("repo.Open", fmt.Errorf("mkdir tmp: %w", err))
	}
	tmpDir, err := openDir(tmpPath)
	if err != nil {
		rootDir.Close()
		objectsDir.Close()
		return ioErr("repo.Open", fmt.Errorf("open tmp dir: %w", err))
	}

	t, err := loadTunables(r.configPath())
	if err != nil {
		rootDir.Close()
		objectsDir.Close()
		tmpDir.Close()
		return err
	}

	var parent *Repo
	if t.parentPath != "" {
		parent = New(Options{Path: t.parentPath, SysrootPath: r.opts.SysrootPath, Logger: r.logger})
		if err := parent.Open(); err != nil {
			rootDir.Close()
			objectsDir.Close()
			tmpDir.Close()
			return ioErr("repo.Open", fmt.Errorf("open parent repo: %w", err))
		}
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(objectsDir.Fd()), &st); err == nil {
		r.objectsOwnerID = st.Uid
	}

	writability := probeWritable(objectsDir)

	registry, err := loadRemotesRegistry(r)
	if err != nil {
		rootDir.Close()
		objectsDir.Close()
		tmpDir.Close()
		return err
	}

	r.rootDir = rootDir
	r.objectsDir = objectsDir
	r.tmpDir = tmpDir
	r.tunables = t
	r.parent = parent
	r.remotes = registry
	r.dirmeta = cache.NewDirMetaCache()
	r.staging = cache.NewStagingAllocator(tmpPath, r.stagingPrefix)
	r.isSystemRepo = detectSystemRepo(r.opts.Path)

	if writability != nil {
		msg := writability.Error()
		r.writableErr.Store(&msg)
	}

	r.initialized = true
	r.logger.Debug("opened repository", "path", r.opts.Path, "mode", t.mode)
	return nil
}

// ReloadConfig reparses the config file, resets mode/parent/tunables, then
// fully rebuilds the remotes registry.
func (r *Repo) ReloadConfig() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return invalidConfig("repo.ReloadConfig", fmt.Errorf("repo not open"))
	}

	t, err := loadTunables(r.configPath())
	if err != nil {
		return err
	}

	var parent *Repo
	if t.parentPath != "" {
		parent = New(Options{Path: t.parentPath, SysrootPath: r.opts.SysrootPath, Logger: r.logger})
		if err := parent.Open(); err != nil {
			return ioErr("repo.ReloadConfig", fmt.Errorf("open parent repo: %w", err))
		}
	}

	registry, err := loadRemotesRegistry(r)
	if err != nil {
		return err
	}

	r.tunables = t
	r.parent = parent
	r.remotes = registry
	r.logger.Debug("reloaded repository config", "path", r.opts.Path)
	return nil
}

// Close releases the directory descriptors owned by this handle. It does
// not close the parent chain's descriptors (those are owned by the parent
// handles themselves, which callers constructed or that Open opened on
// their behalf and which remain reachable via Parent()).
func (r *Repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, f := range []*os.File{r.rootDir, r.objectsDir, r.tmpDir} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.initialized = false
	return firstErr
}

// Mode returns the repository's fixed storage mode.
func (r *Repo) Mode() RepoMode { return r.tunables.mode }

// Path returns the repository's root directory.
func (r *Repo) Path() string { return r.opts.Path }

// Parent returns the fallback repository configured via core/parent, or
// nil.
func (r *Repo) Parent() *Repo { return r.parent }

// CollectionID returns the repository's reverse-DNS collection identifier,
// or "" if unset.
func (r *Repo) CollectionID() string { return r.tunables.collectionID }

// IsWritable reports whether the repo accepted writes at Open time, and
// the diagnostic captured if not.
func (r *Repo) IsWritable() (bool, error) {
	if p := r.writableErr.Load(); p != nil {
		return false, fmt.Errorf("%s", *p)
	}
	return true, nil
}

// IsSystemRepo reports whether this repo's directory is the same
// filesystem entry as /ostree/repo.
func (r *Repo) IsSystemRepo() bool { return r.isSystemRepo }

// Reap removes stale, unlocked staging directories left under tmp/ by
// previous boots or crashed processes, using core/tmp-expiry-secs as the
// staleness threshold. It never touches this boot's own staging prefix.
func (r *Repo) Reap() (int, error) {
	const op = "repo.Reap"
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return 0, invalidConfig(op, fmt.Errorf("repo not open"))
	}
	tmpPath := r.tmpPath()
	maxAge := time.Duration(r.tunables.tmpExpirySecs) * time.Second
	currentPrefix := r.stagingPrefix
	r.mu.Unlock()

	reaper := cache.NewReaper(tmpPath, "staging-", maxAge, currentPrefix)
	n, err := reaper.Reap()
	if err != nil {
		return n, ioErr(op, err)
	}
	return n, nil
}

func openDir(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return f, nil
}

// checkFreeSpace refuses a write when the filesystem backing the repo root
// has less free space remaining than core/min-free-space-percent allows. A
// zero tunable (the Create-time default before any config is loaded) or a
// failed statfs call never blocks a write; only a confirmed, out-of-budget
// reading does.
func (r *Repo) checkFreeSpace(op string) error {
	if r.tunables.minFreeSpacePercent <= 0 {
		return nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(r.opts.Path, &st); err != nil {
		return nil
	}
	if st.Blocks == 0 {
		return nil
	}
	freePercent := float64(st.Bavail) * 100 / float64(st.Blocks)
	if freePercent < float64(r.tunables.minFreeSpacePercent) {
		return diskFull(op, fmt.Errorf("free space %.1f%% is below core/min-free-space-percent=%d",
			freePercent, r.tunables.minFreeSpacePercent))
	}
	return nil
}

func probeWritable(dir *os.File) error {
	err := unix.Faccessat(int(dir.Fd()), ".", unix.W_OK, 0)
	if err != nil {
		return fmt.Errorf("objects directory is not writable: %w", err)
	}
	return nil
}

func detectSystemRepo(path string) bool {
	const systemRepoPath = "/ostree/repo"
	a, err := os.Stat(path)
	if err != nil {
		return false
	}
	b, err := os.Stat(systemRepoPath)
	if err != nil {
		return false
	}
	as, aok := a.Sys().(*syscall.Stat_t)
	bs, bok := b.Sys().(*syscall.Stat_t)
	if !aok || !bok {
		return false
	}
	return as.Dev == bs.Dev && as.Ino == bs.Ino
}

// probeUserXAttrSupport writes a scratch file under dir with a test
// user.ostreemeta xattr to verify the filesystem supports user xattrs, as
// bare-user mode requires.
func probeUserXAttrSupport(dir string) error {
	f, err := os.CreateTemp(dir, ".xattr-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	defer os.Remove(name)
	defer f.Close()

	if err := unix.Fsetxattr(int(f.Fd()), "user.ostreemeta", []byte{0}, 0); err != nil {
		return fmt.Errorf("filesystem does not support user xattrs: %w", err)
	}
	return nil
}

func resolveBootID() (string, error) {
	if env := os.Getenv("OSTREE_BOOTID"); env != "" {
		return env, nil
	}
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return "", err
	}
	id := string(data)
	id = trimNewline(id)
	return id, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
