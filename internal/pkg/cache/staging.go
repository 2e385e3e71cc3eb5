// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// StagingAllocator allocates per-boot staging directories under tmp/,
// each paired with an external "<name>-lock" advisory lock file that
// outlives the directory so a reaper can tell a held directory from an
// abandoned one.
type StagingAllocator struct {
	tmpDir string
	prefix string
}

func NewStagingAllocator(tmpDir, prefix string) *StagingAllocator {
	return &StagingAllocator{tmpDir: tmpDir, prefix: prefix}
}

// StagingDir is a staging directory held locked for the caller's use.
type StagingDir struct {
	Path     string
	lockPath string
	lockFile *os.File
}

// Release unlocks and closes the staging directory's lock file, making it
// eligible for reuse or reaping. It does not remove the directory itself.
func (s *StagingDir) Release() error {
	if s.lockFile == nil {
		return nil
	}
	_ = unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
	return s.lockFile.Close()
}

// Acquire reuses an unlocked existing staging dir if one exists, otherwise
// creates a new one and locks it, retrying on a creation race.
func (a *StagingAllocator) Acquire() (*StagingDir, error) {
	if dir, err := a.reuseExisting(); err != nil {
		return nil, err
	} else if dir != nil {
		return dir, nil
	}

	for attempt := 0; attempt < 32; attempt++ {
		suffix := uuid.NewString()
		path := filepath.Join(a.tmpDir, a.prefix+suffix)

		if err := os.Mkdir(path, 0o755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, err
		}

		lockPath := path + "-lock"
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, err
		}
		if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			// Lost a race with a concurrent allocator on this suffix;
			// this should not normally happen since the suffix is
			// fresh, but retry defensively.
			lf.Close()
			continue
		}

		return &StagingDir{Path: path, lockPath: lockPath, lockFile: lf}, nil
	}

	return nil, fmt.Errorf("staging: exhausted retries allocating a new directory under %s", a.tmpDir)
}

func (a *StagingAllocator) reuseExisting() (*StagingDir, error) {
	entries, err := os.ReadDir(a.tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), a.prefix) {
			continue
		}
		path := filepath.Join(a.tmpDir, e.Name())
		lockPath := path + "-lock"

		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			continue
		}
		if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			lf.Close()
			continue
		}

		now := time.Now()
		_ = os.Chtimes(path, now, now)
		return &StagingDir{Path: path, lockPath: lockPath, lockFile: lf}, nil
	}

	return nil, nil
}

// Reaper removes stale, unlocked staging directories left behind by
// previous boots or crashed processes.
type Reaper struct {
	tmpDir  string
	prefix  string
	maxAge  time.Duration
	bootNow string
}

// NewReaper builds a Reaper that removes staging-* directories older than
// maxAge (driven by core/tmp-expiry-secs) whose lock is not currently
// held. currentBootPrefix is excluded from removal even if stale, since
// it may belong to an in-progress transaction on this boot.
func NewReaper(tmpDir, prefix string, maxAge time.Duration, currentBootPrefix string) *Reaper {
	return &Reaper{tmpDir: tmpDir, prefix: prefix, maxAge: maxAge, bootNow: currentBootPrefix}
}

// Reap scans tmp/ once and removes eligible directories, returning how
// many were removed.
func (r *Reaper) Reap() (int, error) {
	entries, err := os.ReadDir(r.tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	now := time.Now()

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), r.prefix) || strings.HasSuffix(e.Name(), "-lock") {
			continue
		}
		if r.bootNow != "" && strings.HasPrefix(e.Name(), r.bootNow) {
			continue
		}
		path := filepath.Join(r.tmpDir, e.Name())

		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < r.maxAge {
			continue
		}

		lockPath := path + "-lock"
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			continue
		}
		if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			// Someone still holds it; leave it alone.
			lf.Close()
			continue
		}

		_ = os.RemoveAll(path)
		_ = unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
		_ = os.Remove(lockPath)
		removed++
	}

	return removed, nil
}
