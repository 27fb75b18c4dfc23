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

// namespaceIDKeySize is the key width used for the per-namespace,
// ns-local-id -> proc-pid tries. In-namespace ids are ordinary 32-bit
// process identifiers.
const namespaceIDKeySize = 32

// namespaceIndex is the engine's hot-path hint: for each id kind, a trie
// keyed by namespace id whose values point (via an arena handle, for the
// same reason processCache uses one) to a second-level trie keyed by the
// in-namespace id and valued by proc-pid. A lookup here is never trusted on
// its own -- the engine always revalidates the returned proc-pid against a
// fresh process-data cache record before using it.
type namespaceIndex struct {
	byKind [procreader.NumIDKinds]*trie.Trie // ns id -> arena handle
	inner  arena[*trie.Trie]                 // ns-local id -> proc-pid
	log    *log.Logger
}

func newNamespaceIndex(lg *log.Logger) *namespaceIndex {
	ni := &namespaceIndex{log: lg}
	for k := range ni.byKind {
		t, err := trie.Create(trie.Shape{
			ItemSizeLg:      6,
			PtrBlockSizeLg:  cacheIterSizeLg,
			DataBlockSizeLg: cacheDataBlockSizeLg,
			KeySize:         64,
		}, 0)
		if err != nil {
			fatalf(lg, "pidns: invalid namespace index trie shape: %v", err)
		}
		ni.byKind[k] = t
	}
	return ni
}

func (ni *namespaceIndex) newInnerTrie() *trie.Trie {
	t, err := trie.Create(trie.Shape{
		ItemSizeLg:      6,
		PtrBlockSizeLg:  cacheIterSizeLg,
		DataBlockSizeLg: cacheDataBlockSizeLg,
		KeySize:         namespaceIDKeySize,
	}, 0)
	if err != nil {
		fatalf(ni.log, "pidns: invalid namespace index inner trie shape: %v", err)
	}
	return t
}

// lookup returns the last-known proc-pid for (ns, id, kind), if any. It is
// a hint only: callers must revalidate before trusting it.
func (ni *namespaceIndex) lookup(ns uint64, id int, kind procreader.IDKind) (int, bool) {
	handle := ni.byKind[kind].Get(ns)
	inner := ni.inner.get(handle)
	if inner == nil {
		return 0, false
	}
	procPID := inner.Get(uint64(uint32(id)))
	if procPID == 0 {
		return 0, false
	}
	return int(procPID), true
}

// store records that (ns, id, kind) last resolved to procPID.
func (ni *namespaceIndex) store(ns uint64, id int, kind procreader.IDKind, procPID int) {
	outer := ni.byKind[kind]
	handle := outer.Get(ns)
	inner := ni.inner.get(handle)
	if inner == nil {
		inner = ni.newInnerTrie()
		handle = ni.inner.alloc(inner)
		outer.Set(ns, handle)
	}
	inner.Set(uint64(uint32(id)), uint64(uint32(procPID)))
}
