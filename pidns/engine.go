/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package pidns translates process, thread, process-group, and session
// identifiers observed in a traced process's PID namespace back into the
// tracer's own namespace. It is built around two caches -- a per-namespace
// id index and a proc-pid keyed record cache, both backed by package
// trie -- and a proc reader that knows how to recover the namespace and id
// hierarchy of a process from /proc.
package pidns

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gravwell/pidns/internal/log"
	"github.com/gravwell/pidns/procreader"
)

// Tracee is the minimal view of a traced process the engine needs. The
// tracer's own process control block is expected to implement it; the
// engine never constructs or owns a Tracee itself.
type Tracee interface {
	// ProcPID is the tracee's pid as currently known to the tracer -- for
	// most tracers this is simply the value returned by the wait/ptrace
	// layer for this tracee.
	ProcPID() int
}

// ErrUnresolvedNamespace is returned by ProcPIDFor when a tracee's own
// PID-namespace membership can't be determined.
var ErrUnresolvedNamespace = errors.New("pidns: tracee namespace unresolved")

// nsState is a tracee's one-way Unknown -> Resolved(ns) state machine
// (where ns == 0 means "resolved, unresolvable").
type nsState struct {
	resolved bool
	ns       uint64
}

// Engine is the process-wide translation cache and engine handle. Its zero
// value is not usable; construct one with New. An Engine is not safe for
// concurrent use: per the design, it is driven synchronously from a
// tracer's single decode loop, and a call always runs to completion before
// the next one starts.
type Engine struct {
	log    *log.Logger
	reader *procreader.Reader

	initOnce sync.Once
	pidMax   int
	ownNS    uint64
	ownTID   int
	procOurs bool

	cache    *processCache
	index    *namespaceIndex
	tracking map[Tracee]*nsState
}

// New returns an Engine that logs one-time diagnostics to lg. lg may be
// nil. Initialization (the first /proc reads needed to discover the
// tracer's own namespace) happens lazily, on first use, and is idempotent.
func New(lg *log.Logger) *Engine {
	return &Engine{
		log:      lg,
		reader:   procreader.NewReader(lg),
		tracking: make(map[Tracee]*nsState),
	}
}

func (e *Engine) init() {
	e.initOnce.Do(func() {
		e.pidMax = procreader.ReadPIDMax()
		e.cache = newProcessCache(e.pidMax, e.log)
		e.index = newNamespaceIndex(e.log)
		e.ownTID = unix.Gettid()

		if hierarchy, _, err := e.reader.ReadNamespaceHierarchy(0); err == nil && len(hierarchy) > 0 {
			e.ownNS = hierarchy[0]
		}
		if ids, _, err := e.reader.ReadIDList(0, procreader.TID); err == nil {
			e.procOurs = len(ids) == 1
		}
	})
}

// Result is the outcome of a translation.
type Result struct {
	// OwnNSID is from_id as it appears in the tracer's own namespace.
	// Only meaningful when Resolved is true.
	OwnNSID int
	// ProcPID is the tracee's pid in the tracer's own namespace -- the
	// value usable to address /proc/<ProcPID>. Zero if no process could
	// be associated with the id.
	ProcPID int
	// Resolved is false when the id could not be translated; in that
	// case the original id should be printed unannotated.
	Resolved bool
}

func (e *Engine) nsState(tracee Tracee) *nsState {
	st, ok := e.tracking[tracee]
	if !ok {
		st = &nsState{}
		e.tracking[tracee] = st
	}
	return st
}

// sourceNamespace resolves the PID namespace from_id was observed in: the
// tracer's own namespace when tracee is nil, or the tracee's namespace,
// resolved once and cached for its lifetime thereafter.
func (e *Engine) sourceNamespace(tracee Tracee) uint64 {
	if tracee == nil {
		return e.ownNS
	}
	st := e.nsState(tracee)
	if st.resolved {
		return st.ns
	}

	var ns uint64
	if procPID, err := e.procPIDFor(tracee); err == nil {
		if hierarchy, _, err := e.reader.ReadNamespaceHierarchy(procPID); err == nil && len(hierarchy) > 0 {
			ns = hierarchy[0]
		}
	}
	st.ns = ns
	st.resolved = true
	return ns
}

// ProcPIDFor returns the proc-pid -- the pid usable to address
// /proc/<pid> -- for tracee. When the tracer and its own /proc agree on
// namespace (the common case), this is simply tracee.ProcPID(); otherwise
// it is resolved via the same translation machinery used for syscall
// arguments.
func (e *Engine) ProcPIDFor(tracee Tracee) (int, error) {
	e.init()
	return e.procPIDFor(tracee)
}

func (e *Engine) procPIDFor(tracee Tracee) (int, error) {
	if tracee == nil {
		return e.ownTID, nil
	}
	if e.procOurs {
		return tracee.ProcPID(), nil
	}
	res := e.translate(nil, tracee.ProcPID(), procreader.TID)
	if !res.Resolved || res.ProcPID == 0 {
		return 0, ErrUnresolvedNamespace
	}
	return res.ProcPID, nil
}

// Translate maps from_id, observed in tracee's namespace (the tracer's own
// namespace when tracee is nil), of the given kind, into the tracer's own
// namespace. An unresolvable id, or an id kind outside {TID,TGID,PGID,SID},
// yields Result{Resolved: false} rather than an error: the original id is
// simply left for the caller to print unannotated.
func (e *Engine) Translate(tracee Tracee, fromID int, kind procreader.IDKind) Result {
	e.init()
	if !kind.Valid() {
		return Result{}
	}
	return e.translate(tracee, fromID, kind)
}

func (e *Engine) translate(tracee Tracee, fromID int, kind procreader.IDKind) Result {
	srcNS := e.sourceNamespace(tracee)

	// 1. Identity fast path: tracer and /proc agree on namespace, and the
	// id was observed in that same namespace.
	if e.procOurs && srcNS == e.ownNS {
		procPID := fromID
		if fromID == 0 {
			procPID = e.ownTID
		}
		return Result{OwnNSID: fromID, ProcPID: procPID, Resolved: true}
	}

	// 2. Namespace-index probe.
	if cachedPID, ok := e.index.lookup(srcNS, fromID, kind); ok {
		if res, ok := e.resolveViaProcPID(cachedPID, srcNS, fromID, kind); ok {
			return res
		}
	}

	// 3. Walk the process-data cache. Snapshot proc-pids up front so that
	// freeing a stale record mid-walk (because revalidation found the
	// process gone) can't disturb the iteration.
	for _, procPID := range e.cache.snapshot() {
		rec := e.cache.get(procPID)
		if rec == nil {
			continue
		}
		if _, ok := rec.resolve(srcNS, fromID, kind); !ok {
			continue
		}
		// Tentative match against cached data; refresh from /proc and
		// re-check before trusting it.
		if res, ok := e.resolveViaProcPID(procPID, srcNS, fromID, kind); ok {
			return res
		}
	}

	// 4. Full /proc scan.
	if res, ok := e.scanProc(srcNS, fromID, kind); ok {
		e.index.store(srcNS, fromID, kind, res.ProcPID)
		return res
	}

	e.debugf("pidns: unresolved id=%d kind=%s ns=%d", fromID, kind, srcNS)
	return Result{}
}

// debugf logs a one-off diagnostic at debug level. It is a no-op when the
// engine was built without a logger.
func (e *Engine) debugf(format string, args ...interface{}) {
	if e.log == nil {
		return
	}
	e.log.Debugf(format, args...)
}

// fatalf reports an unrecoverable condition (§7: allocation failure in the
// trie or its caches) through lg, which logs and exits the process. When no
// logger is available it panics instead, so the condition is never silently
// swallowed.
func fatalf(lg *log.Logger, format string, args ...interface{}) {
	if lg != nil {
		lg.Fatalf(format, args...)
		return
	}
	panic(fmt.Sprintf(format, args...))
}

// resolveViaProcPID refreshes the cached record for procPID and applies the
// record-resolution rule to the refreshed data, writing back a
// namespace-index entry on success.
func (e *Engine) resolveViaProcPID(procPID int, srcNS uint64, fromID int, kind procreader.IDKind) (Result, bool) {
	rec := e.cache.getOrCreate(procPID)
	if !e.cache.update(e.reader, rec, kind) {
		return Result{}, false
	}
	ownID, ok := rec.resolve(srcNS, fromID, kind)
	if !ok {
		return Result{}, false
	}
	e.index.store(srcNS, fromID, kind, procPID)
	return Result{OwnNSID: ownID, ProcPID: procPID, Resolved: true}, true
}

// scanProc enumerates every numeric entry in /proc, and each entry's task
// subdirectory, looking for a process whose record resolves (srcNS,
// fromID, kind). It stops at the first match, in ascending numeric order.
func (e *Engine) scanProc(srcNS uint64, fromID int, kind procreader.IDKind) (Result, bool) {
	if res, ok := e.scanDir("/proc", true, srcNS, fromID, kind); ok {
		return res, true
	}
	return Result{}, false
}

func (e *Engine) scanDir(path string, recurseTask bool, srcNS uint64, fromID int, kind procreader.IDKind) (Result, bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return Result{}, false
	}

	pids := make([]int, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		pid, perr := strconv.Atoi(ent.Name())
		if perr != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	for _, pid := range pids {
		if recurseTask {
			if res, ok := e.scanDir(path+"/"+strconv.Itoa(pid)+"/task", false, srcNS, fromID, kind); ok {
				return res, true
			}
		}
		if res, ok := e.resolveViaProcPID(pid, srcNS, fromID, kind); ok {
			return res, true
		}
	}
	return Result{}, false
}

// Clear drops any cached state for a proc-pid the tracer knows to have
// exited. Per the data model, the process-data cache owns its record
// exclusively; dropping it here is what actually frees it (namespace-index
// entries pointing at a cleared proc-pid are harmless leftovers -- the next
// lookup that reaches them will fail revalidation and be overwritten).
func (e *Engine) Clear(tracee Tracee, procPID int) {
	e.init()
	e.cache.remove(procPID)
	if tracee != nil {
		delete(e.tracking, tracee)
	}
}
