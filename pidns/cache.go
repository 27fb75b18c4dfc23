/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pidns

import (
	"github.com/gravwell/pidns/internal/log"
	"github.com/gravwell/pidns/procreader"
	"github.com/gravwell/pidns/trie"
)

// cacheDataBlockSizeLg and cacheIterSizeLg give the block layout used for
// every trie this package builds: interior blocks of 2^16 bits and data blocks of 2^16 bits,
// wide enough to hold either a pointer-style arena handle or a proc-pid.
const (
	cacheDataBlockSizeLg = 16
	cacheIterSizeLg      = 16
)

// lg2 returns the number of bits needed to represent n (0 maps to 0).
func lg2(n uint64) uint8 {
	var res uint8
	for n > 0 {
		res++
		n >>= 1
	}
	return res
}

func clampKeySize(bits uint8) uint8 {
	if bits < 1 {
		return 1
	}
	if bits > 64 {
		return 64
	}
	return bits
}

// processCache maps proc-pid to *Record. It owns every record it holds: a
// record is only ever reachable by looking it up here, so removing it and
// letting its arena slot be reused is enough to free it.
//
// The map from proc-pid to record is backed by a trie.Trie, per the
// component design: the trie stores a 1-based arena handle (itself a small
// integer, safe to pack into the trie's 64-bit value slots) rather than a
// raw pointer, so the records themselves stay ordinary, GC-visible Go
// values held by the arena slice.
type processCache struct {
	index  *trie.Trie
	maxKey uint64
	slots  arena[*Record]
	log    *log.Logger
}

func newProcessCache(pidMax int, lg *log.Logger) *processCache {
	keySize := clampKeySize(lg2(uint64(pidMax - 1)))
	t, err := trie.Create(trie.Shape{
		ItemSizeLg:      6,
		PtrBlockSizeLg:  cacheIterSizeLg,
		DataBlockSizeLg: cacheDataBlockSizeLg,
		KeySize:         keySize,
	}, 0)
	if err != nil {
		// The shape above is fixed and always valid; a failure here would
		// mean this package has a bug, not a runtime condition callers
		// can recover from. Per the error handling design this is fatal.
		fatalf(lg, "pidns: invalid process cache trie shape: %v", err)
	}
	maxKey := uint64(1)<<keySize - 1
	if keySize >= 64 {
		maxKey = ^uint64(0)
	}
	return &processCache{index: t, maxKey: maxKey, log: lg}
}

// get returns the cached record for procPID, or nil if none is cached.
func (c *processCache) get(procPID int) *Record {
	handle := c.index.Get(uint64(procPID))
	return c.slots.get(handle)
}

// getOrCreate returns the cached record for procPID, allocating a fresh one
// (with only ProcPID set) if none exists yet.
func (c *processCache) getOrCreate(procPID int) *Record {
	if rec := c.get(procPID); rec != nil {
		return rec
	}
	rec := &Record{ProcPID: procPID}
	handle := c.slots.alloc(rec)
	if err := c.index.Set(uint64(procPID), handle); err != nil {
		// procPID is always in range: it comes from /proc, which the pid_max
		// sizing above is built to cover.
		fatalf(c.log, "pidns: process cache key out of range: %v", err)
	}
	return rec
}

// remove frees the cached record for procPID, if any.
func (c *processCache) remove(procPID int) {
	handle := c.index.Get(uint64(procPID))
	if handle == 0 {
		return
	}
	c.slots.release(handle)
	c.index.Set(uint64(procPID), 0)
}

// snapshot returns the proc-pids currently cached, as of the call. The
// translation engine iterates this snapshot rather than the live trie so
// that freeing a record mid-iteration (because revalidation found the
// process gone) can never disturb the walk.
func (c *processCache) snapshot() []int {
	var pids []int
	c.index.Iterate(0, c.maxKey, 0, func(key, val uint64) {
		if val != 0 {
			pids = append(pids, int(key))
		}
	})
	return pids
}

// update refreshes rec's namespace hierarchy and its id hierarchy for kind
// from /proc. It reports whether the process is still alive; when it isn't,
// the record is removed from the cache and freed.
func (c *processCache) update(reader *procreader.Reader, rec *Record, kind procreader.IDKind) bool {
	hierarchy, truncated, err := reader.ReadNamespaceHierarchy(rec.ProcPID)
	if err != nil || len(hierarchy) == 0 {
		c.remove(rec.ProcPID)
		return false
	}
	rec.NSHierarchy = hierarchy
	rec.NSTruncated = truncated

	ids, idTruncated, err := reader.ReadIDList(rec.ProcPID, kind)
	if err != nil || len(ids) == 0 {
		c.remove(rec.ProcPID)
		return false
	}
	if len(ids) < len(hierarchy) {
		// Invariant violation: a record whose id hierarchy is shorter than
		// its namespace hierarchy can't be used for translation and isn't
		// trustworthy enough to keep around.
		c.remove(rec.ProcPID)
		return false
	}
	rec.IDHierarchy[kind] = ids
	rec.IDTruncated[kind] = idTruncated
	return true
}
