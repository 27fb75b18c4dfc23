/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pidns

import "github.com/gravwell/pidns/procreader"

// Record is everything the engine knows about a single process, identified
// by its proc-pid (its pid as addressable under /proc in the tracer's own
// namespace).
//
// NSHierarchy runs from the process's own namespace outward to the root,
// bounded at procreader.MaxNSDepth entries. IDHierarchy[kind] runs the
// opposite direction -- root namespace inward -- so that NSHierarchy[i]
// and IDHierarchy[kind][len(IDHierarchy[kind])-1-i] describe the same
// namespace. IDHierarchy can be longer than NSHierarchy: the kernel reports
// ids for ancestor namespaces the tracer can't traverse to, and those
// extra, leading entries are simply not addressable via NSHierarchy.
type Record struct {
	ProcPID int

	NSHierarchy  []uint64
	NSTruncated  bool
	IDHierarchy  [procreader.NumIDKinds][]int
	IDTruncated  [procreader.NumIDKinds]bool
}

// validForTranslation reports whether the record has enough data to resolve
// an id of the given kind: a non-empty namespace hierarchy, and an id
// hierarchy for kind that is at least as long (the "id_count >= ns_count"
// invariant from the data model).
func (r *Record) validForTranslation(kind procreader.IDKind) bool {
	if r == nil || len(r.NSHierarchy) == 0 {
		return false
	}
	ids := r.IDHierarchy[kind]
	return len(ids) >= len(r.NSHierarchy)
}

// resolve implements the record-resolution rule: find the namespace in the
// record's hierarchy matching ns, confirm its reported id of the given kind
// equals fromID, and if so return the id the same process carries in the
// record's outermost visible namespace (the tracer's own namespace, once
// the record belongs to a live process reachable from here).
func (r *Record) resolve(ns uint64, fromID int, kind procreader.IDKind) (ownID int, ok bool) {
	if !r.validForTranslation(kind) {
		return 0, false
	}
	ids := r.IDHierarchy[kind]
	nsCount := len(r.NSHierarchy)
	idCount := len(ids)

	for i, candidate := range r.NSHierarchy {
		if candidate != ns {
			continue
		}
		idIdx := idCount - i - 1
		if idIdx < 0 || idIdx >= idCount || ids[idIdx] != fromID {
			return 0, false
		}
		return ids[idCount-nsCount], true
	}
	return 0, false
}
