// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the repository engine's two in-process caches:
// a refcounted dirmeta lookup cache and a per-boot staging directory
// allocator with advisory-lock-protected reuse.
//
// The mutex-guarded map shape here is simplified from a distributed peer
// cache (groupcache) down to a single-process map, since only
// process-local reuse within one traversal is required here.
package cache

import "sync"

// DirMetaCache holds encoded DIR_META payloads keyed by digest. It is
// inert until the first Borrow call allocates its backing map, and drops
// the map again once the last borrow is released: created lazily,
// destroyed when the last reference drops.
type DirMetaCache struct {
	mu      sync.Mutex
	refs    int
	entries map[string][]byte
}

func NewDirMetaCache() *DirMetaCache {
	return &DirMetaCache{}
}

// Borrow marks one active user of the cache and returns a release function
// the caller must invoke exactly once when done.
func (c *DirMetaCache) Borrow() (release func()) {
	c.mu.Lock()
	if c.refs == 0 {
		c.entries = make(map[string][]byte)
	}
	c.refs++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.refs--
			if c.refs == 0 {
				c.entries = nil
			}
			c.mu.Unlock()
		})
	}
}

// Get returns the cached payload for digest, if the cache is currently
// borrowed and holds an entry for it.
func (c *DirMetaCache) Get(digest string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		return nil, false
	}
	v, ok := c.entries[digest]
	return v, ok
}

// Put inserts a payload. It is a no-op when the cache is not currently
// borrowed by anyone (there is nowhere to put it).
func (c *DirMetaCache) Put(digest string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		return
	}
	c.entries[digest] = data
}
