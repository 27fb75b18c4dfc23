/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command pidnsprobe exercises the pidns translation engine against a live
// process without requiring an actual ptrace harness: it translates an id
// observed in a target process's PID namespace into the id the current
// process (pidnsprobe itself) would see for the same process.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gravwell/pidns/internal/log"
	"github.com/gravwell/pidns/pidns"
	"github.com/gravwell/pidns/procreader"
)

type staticTracee int

func (t staticTracee) ProcPID() int { return int(t) }

func main() {
	var (
		pid     = flag.Int("pid", 0, "target process's proc-pid (as seen by this process); required")
		fromID  = flag.Int("id", 0, "id to translate, as observed in the target's own PID namespace; defaults to -pid")
		kindStr = flag.String("id-kind", "tid", "id kind to translate: tid, tgid, pgid, or sid")
		verbose = flag.Bool("v", false, "enable debug logging")
		osinfo  = flag.Bool("osinfo", false, "print host OS information and exit")
	)
	flag.Parse()

	lg, err := log.NewStderrLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open logger: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		lg.SetLevel(log.DEBUG)
	} else {
		lg.SetLevel(log.WARN)
	}

	if *osinfo {
		log.PrintOSInfo(os.Stdout)
		return
	}

	if *pid <= 0 {
		fmt.Fprintln(os.Stderr, "pidnsprobe: -pid is required")
		flag.Usage()
		os.Exit(2)
	}

	kind, err := parseKind(*kindStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pidnsprobe: %v\n", err)
		os.Exit(2)
	}

	id := *fromID
	if id == 0 {
		id = *pid
	}

	eng := pidns.New(lg)
	tracee := staticTracee(*pid)

	procPID, err := eng.ProcPIDFor(tracee)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pidnsprobe: could not resolve proc-pid for %d: %v\n", *pid, err)
		os.Exit(1)
	}

	res := eng.Translate(tracee, id, kind)
	if !res.Resolved {
		fmt.Printf("%d (%s) in pid %d's namespace: no translation (proc-pid %d)\n", id, kind, *pid, procPID)
		os.Exit(1)
	}
	fmt.Printf("%d (%s) in pid %d's namespace -> %d here (proc-pid %d)\n", id, kind, *pid, res.OwnNSID, res.ProcPID)
}

func parseKind(s string) (procreader.IDKind, error) {
	switch s {
	case "tid":
		return procreader.TID, nil
	case "tgid":
		return procreader.TGID, nil
	case "pgid":
		return procreader.PGID, nil
	case "sid":
		return procreader.SID, nil
	}
	return 0, fmt.Errorf("unknown id kind %q (want tid, tgid, pgid, or sid)", s)
}
