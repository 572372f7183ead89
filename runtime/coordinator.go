// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dcasenove/parmesan/dyncfg"
)

// Fuzzer owns the whole campaign state: the persistent corpus, the
// dynamic control-flow graph and the work queues.
type Fuzzer struct {
	corpusInputs   []Input
	badInputs      map[Sig]struct{}
	suppressedSigs map[Sig]struct{}
	corpusSigs     map[Sig]struct{}
	lits           [][]byte // string/int literals in testee
	maxCover       []byte
	fuzzFunc       func([]byte) int

	graph    *dyncfg.ControlFlowGraph
	hints    []dyncfg.FixedByte // magic bytes recovered from taint traces
	bestDist dyncfg.Score       // closest any corpus input has come to a target

	mutator *Mutator

	triageQueue  []Input
	crasherQueue []NewCrasherArgs

	currentCandidate []byte
	lastExec         time.Time

	lastSync time.Time
	execs    uint64
	restarts uint64

	storage *Storage

	startTime     time.Time
	lastInput     time.Time
	coverFullness int
}

func (f *Fuzzer) broadcastStats() {
	if time.Since(f.lastSync) < syncPeriod {
		return
	}
	f.lastSync = time.Now()
	corpus := uint64(len(f.storage.corpus.m))
	crashers := uint64(len(f.storage.crashers.m))
	uptime := time.Since(f.startTime).Truncate(time.Second)
	lastNewInputTime := f.lastInput
	cover := uint64(f.coverFullness)

	var restartsDenom uint64
	if f.execs != 0 && f.restarts != 0 {
		restartsDenom = f.execs / f.restarts
	}

	execsPerSec := float64(f.execs) * 1e9 / float64(time.Since(f.startTime))
	// log to stdout
	fmt.Printf("corpus: %v (%v ago), crashers: %v,"+
		" restarts: 1/%v, execs: %v (%.0f/sec), cover: %v, dist: %v, targets: %v, uptime: %v\n",
		corpus, time.Since(lastNewInputTime).Truncate(time.Second),
		crashers, restartsDenom, f.execs, execsPerSec, cover,
		formatScore(f.bestDist), f.graph.ActiveTargets(),
		uptime,
	)
}

func formatScore(s dyncfg.Score) string {
	if s == dyncfg.UndefScore {
		return "inf"
	}
	return fmt.Sprint(uint32(s))
}

type NewCrasherArgs struct {
	Data        []byte
	Error       []byte
	Suppression []byte
	Hanging     bool
}

// newCrasher saves a new crasher input to persistent storage.
func (f *Fuzzer) newCrasher(a NewCrasherArgs) {
	if !*flagDup && !f.storage.suppressions.add(Artifact{a.Suppression, false}) {
		return // Already have this.
	}
	if !f.storage.crashers.add(Artifact{a.Data, false}) {
		return // Already have this.
	}

	// Prepare quoted version of input to simplify creation of standalone reproducers.
	var buf bytes.Buffer
	for i := 0; i < len(a.Data); i += 20 {
		e := i + 20
		if e > len(a.Data) {
			e = len(a.Data)
		}
		fmt.Fprintf(&buf, "\t%q", a.Data[i:e])
		if e != len(a.Data) {
			fmt.Fprintf(&buf, " +")
		}
		fmt.Fprintf(&buf, "\n")
	}
	f.storage.crashers.addDescription(a.Data, buf.Bytes(), "quoted")
	f.storage.crashers.addDescription(a.Data, a.Error, "output")
}
