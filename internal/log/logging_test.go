/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// discardCloser is an io.WriteCloser that throws away everything written to
// it; used where a test needs a Logger but doesn't care about its output.
type discardCloser struct{}

func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardCloser) Close() error                { return nil }

// fileLogger opens a fresh log file under t.TempDir() and returns both the
// Logger and the path, so the test can read back what was written.
func fileLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	pth := filepath.Join(t.TempDir(), "test.log")
	fout, err := os.OpenFile(pth, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		t.Fatal(err)
	}
	return New(fout), pth
}

func TestNewDefaultsToInfo(t *testing.T) {
	lgr := New(discardCloser{})
	if lgr.lvl != INFO {
		t.Fatalf("want default level INFO, got %v", lgr.lvl)
	}
	if err := lgr.Debugf("should not appear"); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Infof("test: %d", 99); err != nil {
		t.Fatal(err)
	}
}

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	lgr, pth := fileLogger(t)
	if err := lgr.SetLevel(WARN); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Infof("INFO test: %d", 99); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Warnf("WARN test: %d", 99); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Close(); err != nil {
		t.Fatal(err)
	}

	bts, err := os.ReadFile(pth)
	if err != nil {
		t.Fatal(err)
	}
	s := string(bts)
	if strings.Contains(s, "INFO test: 99") {
		t.Fatal("INFO line was not filtered by WARN level:", s)
	}
	if !strings.Contains(s, "WARN test: 99") {
		t.Fatal("missing WARN line:", s)
	}
}

func TestSetLevelRejectsInvalid(t *testing.T) {
	lgr := New(discardCloser{})
	if err := lgr.SetLevel(Level(99)); err != ErrInvalidLevel {
		t.Fatalf("want ErrInvalidLevel, got %v", err)
	}
}

func TestRawModeOmitsRFCHeader(t *testing.T) {
	lgr, pth := fileLogger(t)
	lgr.raw = true
	if err := lgr.Warnf("raw test: %d", 99); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Close(); err != nil {
		t.Fatal(err)
	}

	bts, err := os.ReadFile(pth)
	if err != nil {
		t.Fatal(err)
	}
	s := string(bts)
	if strings.Contains(s, "<") {
		t.Fatal("raw output contains RFC5424 header:", s)
	}
	if !strings.Contains(s, "raw test: 99") {
		t.Fatal("missing raw test line:", s)
	}
}

func TestLevelStringAndValid(t *testing.T) {
	for _, lvl := range []Level{OFF, DEBUG, INFO, WARN, ERROR, CRITICAL, FATAL} {
		if !lvl.Valid() {
			t.Fatalf("level %v reported invalid", lvl)
		}
		if lvl.String() == "UNKNOWN" {
			t.Fatalf("level %v stringified to UNKNOWN", lvl)
		}
	}
	if Level(99).Valid() {
		t.Fatal("out-of-range level reported valid")
	}
}

func TestTrimLength(t *testing.T) {
	input := "twelve bytes"
	output := trimLength(10, input)
	if output != "twelve byt" {
		t.Fatal("trimLength", output)
	}
}

func TestTrimPathLength(t *testing.T) {
	input := "KafkaFederator/kafkaWriter.go:355"
	output := trimPathLength(32, input)
	if output != "kafkaWriter.go:355" {
		t.Fatal("trimPathLength", output)
	}
}

func TestTrimPathLengthBaseTooLong(t *testing.T) {
	input := "KafkaFederator/wayTooManyBytesInThisFilenameWhoDidThis.go:355"
	output := trimPathLength(32, input)
	if output != "sInThisFilenameWhoDidThis.go:355" {
		t.Fatal("trimPathLength", output)
	}
}

var _ io.WriteCloser = discardCloser{}
