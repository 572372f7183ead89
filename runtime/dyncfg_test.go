package main

import (
	"testing"

	. "github.com/dcasenove/parmesan/coverage"
	"github.com/dcasenove/parmesan/dyncfg"
)

func newTestFuzzer(targets ...dyncfg.CmpID) *Fuzzer {
	tm := make(map[dyncfg.CmpID]bool)
	for _, t := range targets {
		tm[t] = true
	}
	return &Fuzzer{
		graph:    dyncfg.New(dyncfg.CfgFile{Targets: tm}),
		mutator:  newMutator(),
		bestDist: dyncfg.UndefScore,
	}
}

func TestNoteTraceBuildsGraph(t *testing.T) {
	f := newTestFuzzer(30)
	f.noteTrace([]uint32{10, 20, 30})

	if !f.graph.HasEdge(dyncfg.Edge{Src: 10, Dst: 20}) {
		t.Error("missing edge 10 -> 20")
	}
	if !f.graph.HasEdge(dyncfg.Edge{Src: 20, Dst: 30}) {
		t.Error("missing edge 20 -> 30")
	}
	// The target was executed by the trace, so it must now count as
	// solved and no longer be an active target.
	if f.graph.ActiveTargets() != 0 {
		t.Errorf("ActiveTargets = %v, want 0", f.graph.ActiveTargets())
	}
	if !f.graph.IsTarget(30) {
		t.Error("solved target forgotten")
	}
}

func TestDistanceFor(t *testing.T) {
	f := newTestFuzzer(30)
	f.noteTrace([]uint32{10, 20})
	// Add the edge to the target directly; executing the target in a
	// trace would mark it solved.
	f.graph.AddEdge(dyncfg.Edge{Src: 20, Dst: 30})

	// 20 is one hop from the target, 10 is two.
	if d := f.distanceFor([]uint32{10}, nil); d != 2 {
		t.Errorf("distance via 10 = %v, want 2", d)
	}
	if d := f.distanceFor([]uint32{10, 20}, nil); d != 1 {
		t.Errorf("distance via 10,20 = %v, want 1", d)
	}
	if d := f.distanceFor([]uint32{99}, nil); d != dyncfg.UndefScore {
		t.Errorf("distance via unknown cmp = %v, want undefined", d)
	}
	if d := f.distanceFor(nil, nil); d != dyncfg.UndefScore {
		t.Errorf("distance of empty trace = %v, want undefined", d)
	}
}

func TestPickInputPrefersClosest(t *testing.T) {
	f := newTestFuzzer()
	far := Input{data: []byte("far"), dist: 9}
	near := Input{data: []byte("near"), dist: 2}
	undef := Input{data: []byte("undef"), dist: dyncfg.UndefScore}
	f.corpusInputs = []Input{far, near, undef}

	nearPicks := 0
	for i := 0; i < 200; i++ {
		if string(f.pickInput()) == "near" {
			nearPicks++
		}
	}
	// 75% of picks go to the closest input, the rest are uniform.
	if nearPicks < 100 {
		t.Errorf("closest input picked only %v/200 times", nearPicks)
	}

	f.corpusInputs = nil
	if got := f.pickInput(); got != nil {
		t.Errorf("pickInput on empty corpus = %q", got)
	}
}

func TestCompareCover(t *testing.T) {
	base := make([]byte, CoverSize)
	cur := make([]byte, CoverSize)
	if compareCover(base, cur) {
		t.Error("identical cover tables compare as improved")
	}
	cur[42] = 1
	if !compareCover(base, cur) {
		t.Error("new counter not detected")
	}
	if n := updateMaxCover(base, cur); n != 1 {
		t.Errorf("updateMaxCover = %v, want 1", n)
	}
	if compareCover(base, cur) {
		t.Error("cover table still compares as improved after merge")
	}
}
