/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pidns

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gravwell/pidns/procreader"
)

func TestRecordResolve(t *testing.T) {
	// Outer namespace A, inner namespace B: tracer sees A, tracee's own
	// view is B. NSHierarchy runs innermost -> outermost; IDHierarchy
	// runs outermost -> innermost.
	rec := &Record{
		ProcPID:     1000,
		NSHierarchy: []uint64{200 /* B */, 100 /* A */},
	}
	rec.IDHierarchy[procreader.TID] = []int{1000, 42} // [A-id, B-id]

	ownID, ok := rec.resolve(200 /* B */, 42, procreader.TID)
	assert.True(t, ok)
	assert.Equal(t, 1000, ownID)
}

func TestRecordResolveMismatch(t *testing.T) {
	rec := &Record{NSHierarchy: []uint64{200, 100}}
	rec.IDHierarchy[procreader.TID] = []int{1000, 42}

	_, ok := rec.resolve(200, 99 /* wrong id */, procreader.TID)
	assert.False(t, ok)

	_, ok = rec.resolve(999 /* unknown namespace */, 42, procreader.TID)
	assert.False(t, ok)
}

func TestRecordResolveUnpopulatedKind(t *testing.T) {
	rec := &Record{NSHierarchy: []uint64{200, 100}}
	// IDHierarchy[TGID] was never populated.
	_, ok := rec.resolve(200, 42, procreader.TGID)
	assert.False(t, ok)
}

func TestRecordResolveWithAncestorIDs(t *testing.T) {
	// The kernel can report more id levels than the tracer can traverse
	// namespaces for; those extra, leading id entries describe ancestors
	// above the tracer's own view and must not shift the alignment with
	// NSHierarchy.
	rec := &Record{NSHierarchy: []uint64{300 /* C, tracee's own */, 200 /* B, tracer's own */}}
	rec.IDHierarchy[procreader.SID] = []int{1, 1000, 42} // [root-ancestor, B, C]

	ownID, ok := rec.resolve(200, 1000, procreader.SID)
	assert.True(t, ok)
	assert.Equal(t, 1000, ownID)
}

func TestValidForTranslation(t *testing.T) {
	var nilRec *Record
	assert.False(t, nilRec.validForTranslation(procreader.TID))

	empty := &Record{}
	assert.False(t, empty.validForTranslation(procreader.TID))

	short := &Record{NSHierarchy: []uint64{1, 2, 3}}
	short.IDHierarchy[procreader.TID] = []int{9}
	assert.False(t, short.validForTranslation(procreader.TID))

	valid := &Record{NSHierarchy: []uint64{1, 2}}
	valid.IDHierarchy[procreader.TID] = []int{9, 10}
	assert.True(t, valid.validForTranslation(procreader.TID))
}
