/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package procreader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDKindStringAndValid(t *testing.T) {
	assert.Equal(t, "tid", TID.String())
	assert.Equal(t, "tgid", TGID.String())
	assert.Equal(t, "pgid", PGID.String())
	assert.Equal(t, "sid", SID.String())
	assert.True(t, TID.Valid())
	assert.True(t, SID.Valid())
	assert.False(t, IDKind(99).Valid())
}

func TestReadIDListOwnProcess(t *testing.T) {
	r := NewReader(nil)
	ids, truncated, err := r.ReadIDList(os.Getpid(), TID)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.NotEmpty(t, ids, "a live process always reports at least one NSpid entry")
	assert.Equal(t, os.Getpid(), ids[len(ids)-1], "the last entry is the innermost, i.e. this process's own view of itself")
}

func TestReadIDListMissingProcess(t *testing.T) {
	r := NewReader(nil)
	// pid 1 is init and always exists; an absurdly large pid should not.
	ids, _, err := r.ReadIDList(1<<30, TID)
	assert.Error(t, err)
	assert.Nil(t, ids)
}

func TestReadIDListMalformedStatus(t *testing.T) {
	dir := t.TempDir()
	statusContent := "Name:\tfoo\nNSpid:\t123\tabc\n"
	writeFakeStatus(t, dir, statusContent)

	r := &Reader{}
	ids, _, err := r.readIDListFrom(filepath.Join(dir, "status"), TID)
	assert.ErrorIs(t, err, ErrMalformedStatus)
	assert.Nil(t, ids)
}

func TestReadIDListNoMatchingLine(t *testing.T) {
	dir := t.TempDir()
	writeFakeStatus(t, dir, "Name:\tfoo\n")

	r := &Reader{}
	ids, truncated, err := r.readIDListFrom(filepath.Join(dir, "status"), TID)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Nil(t, ids)
}

func TestReadNamespaceHierarchySelf(t *testing.T) {
	r := NewReader(nil)
	hierarchy, truncated, err := r.ReadNamespaceHierarchy(0)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.NotEmpty(t, hierarchy)
}

func TestReadPIDMax(t *testing.T) {
	v := ReadPIDMax()
	assert.Greater(t, v, 0)
}

// writeFakeStatus writes content to dir/status for use with readIDListFrom,
// a test-only seam that mirrors ReadIDList's parsing against an arbitrary
// path instead of the real /proc/<pid>/status.
func writeFakeStatus(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(content), 0o644))
}
