/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package procreader parses the two /proc files a PID-namespace translator
// needs: /proc/<pid>/ns/pid, to walk the chain of PID namespaces a process
// belongs to, and /proc/<pid>/status, to read the per-namespace id a process
// carries for a given id kind. It also knows how to read
// /proc/sys/kernel/pid_max, used to size the caches built on top of it.
package procreader

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gravwell/pidns/internal/log"
)

// MaxNSDepth is the PID namespace nesting depth supported by the kernel
// since Linux 3.7; namespace ascension before Linux 4.9 isn't possible at
// all, so this limit is treated as universal.
const MaxNSDepth = 32

// nsGetParent is the nsfs ioctl request (see ioctl_ns(2)) that returns a new
// file descriptor on the parent of the namespace referred to by its
// argument. golang.org/x/sys/unix doesn't export it, so it's defined here
// the same way the kernel headers do.
const nsGetParent = 0xb702

// IDKind is one of the four PID-like identifier kinds the kernel reports
// per namespace in /proc/<pid>/status.
type IDKind uint8

const (
	TID IDKind = iota
	TGID
	PGID
	SID

	numIDKinds
)

// NumIDKinds is the number of defined id kinds.
const NumIDKinds = int(numIDKinds)

func (k IDKind) String() string {
	switch k {
	case TID:
		return "tid"
	case TGID:
		return "tgid"
	case PGID:
		return "pgid"
	case SID:
		return "sid"
	default:
		return fmt.Sprintf("idkind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the four defined id kinds.
func (k IDKind) Valid() bool {
	return k < numIDKinds
}

var idLabels = [numIDKinds]string{
	TID:  "NSpid:\t",
	TGID: "NStgid:\t",
	PGID: "NSpgid:\t",
	SID:  "NSsid:\t",
}

// ErrMalformedStatus is returned by ReadIDList when a status line matches an
// id kind's label but its fields don't parse as decimal integers.
var ErrMalformedStatus = errors.New("procreader: malformed NS id line")

// Reader parses /proc files on behalf of the translation engine. It caches
// nothing itself -- every call re-reads /proc -- but it remembers, for the
// lifetime of the process, whether it has already logged the
// unsupported-kernel warning, so that one is logged only once. Malformed
// status fields and other NS_GET_PARENT failures are logged on every
// occurrence.
type Reader struct {
	Log *log.Logger

	unsupportedOnce sync.Once
}

// NewReader returns a Reader that logs one-time diagnostics to lg. lg may be
// nil, in which case diagnostics are simply dropped.
func NewReader(lg *log.Logger) *Reader {
	return &Reader{Log: lg}
}

func (r *Reader) warn(msg string, kvs ...interface{}) {
	if r == nil || r.Log == nil {
		return
	}
	r.Log.Infof("%s", formatKVs(msg, kvs...))
}

func formatKVs(msg string, kvs ...interface{}) string {
	if len(kvs) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	return b.String()
}

func nsPath(procPID int) string {
	if procPID == 0 {
		return "/proc/self/ns/pid"
	}
	return fmt.Sprintf("/proc/%d/ns/pid", procPID)
}

func statusPath(procPID int) string {
	if procPID == 0 {
		return "/proc/self/status"
	}
	return fmt.Sprintf("/proc/%d/status", procPID)
}

// ReadNamespaceHierarchy opens /proc/<procPID>/ns/pid (or /proc/self/ns/pid
// when procPID is 0) and walks "get parent namespace" operations until it
// either runs out of permission to go further (the normal, expected
// terminal condition), hits a kernel that doesn't support the operation, or
// reaches MaxNSDepth levels. The first element of the returned slice is
// procPID's own namespace; each subsequent element is its parent. truncated
// is true only when the chain, counting procPID's own namespace, holds more
// than MaxNSDepth namespaces.
//
// A non-nil error means /proc/<procPID>/ns/pid itself could not be opened
// -- ordinarily because the process is gone.
func (r *Reader) ReadNamespaceHierarchy(procPID int) (hierarchy []uint64, truncated bool, err error) {
	fd, err := unix.Open(nsPath(procPID), unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, false, err
	}
	cur := fd
	defer func() {
		if cur >= 0 {
			unix.Close(cur)
		}
	}()

	for {
		var st unix.Stat_t
		if serr := unix.Fstat(cur, &st); serr != nil {
			break
		}

		if len(hierarchy) >= MaxNSDepth {
			truncated = true
			break
		}
		hierarchy = append(hierarchy, uint64(st.Ino))

		parentFD, ierr := unix.IoctlRetInt(cur, nsGetParent)
		if ierr != nil {
			switch ierr {
			case unix.EPERM:
				// Normal: we've reached the top of the visible hierarchy.
			case unix.ENOTTY:
				r.unsupportedOnce.Do(func() {
					r.warn("NS_GET_PARENT not supported by kernel")
				})
			default:
				r.warn("ioctl(NS_GET_PARENT) failed", "error", ierr)
			}
			break
		}

		unix.Close(cur)
		cur = parentFD
	}

	return hierarchy, truncated, nil
}

// ReadIDList reads /proc/<procPID>/status (or /proc/self/status when
// procPID is 0) and returns the tab-separated list of ids on the line
// labelled for kind, ordered outermost namespace first, as the kernel wrote
// it. A missing line or an empty file yields a nil slice and a nil error --
// both mean "no data", not a failure. A present but malformed line (a field
// that isn't a decimal integer) yields ErrMalformedStatus; the caller should
// discard whatever record it was populating.
func (r *Reader) ReadIDList(procPID int, kind IDKind) (ids []int, truncated bool, err error) {
	return r.readIDListFrom(statusPath(procPID), kind)
}

func (r *Reader) readIDListFrom(path string, kind IDKind) (ids []int, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	label := idLabels[kind]
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, label) {
			continue
		}

		fields := strings.Split(strings.TrimPrefix(line, label), "\t")
		for i, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if i >= MaxNSDepth {
				truncated = true
				break
			}
			v, perr := strconv.Atoi(f)
			if perr != nil {
				r.warn("malformed NS id field", "kind", kind, "field", f)
				return nil, false, ErrMalformedStatus
			}
			ids = append(ids, v)
		}
		return ids, truncated, nil
	}

	return nil, false, nil
}

// ReadPIDMax reads /proc/sys/kernel/pid_max. If the file is absent or
// unreadable it returns math.MaxInt32, the kernel's historical ceiling.
func ReadPIDMax() int {
	b, err := os.ReadFile("/proc/sys/kernel/pid_max")
	if err != nil {
		return math.MaxInt32
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || v <= 0 {
		return math.MaxInt32
	}
	return v
}
