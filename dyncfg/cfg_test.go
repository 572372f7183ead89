package dyncfg

import "testing"

func newWithTargets(targets ...CmpID) *ControlFlowGraph {
	cfg := NewEmpty()
	for _, t := range targets {
		cfg.targets[t] = true
	}
	return cfg
}

// checkCacheConsistent verifies the core invariant: every edge weight
// equals the static score that would be recomputed for its destination.
func checkCacheConsistent(t *testing.T, cfg *ControlFlowGraph) {
	t.Helper()
	for src, succs := range cfg.graph.succs {
		for dst, w := range succs {
			if got := cfg.ScoreForCmp(dst); got != w {
				t.Errorf("stale cache on edge (%v,%v): weight %v, score %v", src, dst, w, got)
			}
		}
	}
}

func TestAddEdgeIdempotent(t *testing.T) {
	cfg := newWithTargets(30)
	if !cfg.AddEdge(Edge{10, 20}) {
		t.Fatal("first AddEdge returned false")
	}
	if !cfg.AddEdge(Edge{20, 30}) {
		t.Fatal("first AddEdge returned false")
	}
	before := map[Edge]Score{}
	for src, succs := range cfg.graph.succs {
		for dst, w := range succs {
			before[Edge{src, dst}] = w
		}
	}
	if cfg.AddEdge(Edge{10, 20}) {
		t.Fatal("re-adding a known edge returned true")
	}
	for e, w := range before {
		if got, _ := cfg.graph.weight(e); got != w {
			t.Errorf("weight of %v changed on re-add: %v -> %v", e, w, got)
		}
	}
	checkCacheConsistent(t, cfg)
}

func TestChainScores(t *testing.T) {
	cfg := newWithTargets(30)
	cfg.AddEdge(Edge{10, 20})
	cfg.AddEdge(Edge{20, 30})

	for _, tc := range []struct {
		cmp  CmpID
		want Score
	}{
		{30, 0},
		{20, 1},
		{10, 2},
	} {
		if got := cfg.ScoreForCmp(tc.cmp); got != tc.want {
			t.Errorf("ScoreForCmp(%v) = %v, want %v", tc.cmp, got, tc.want)
		}
	}
	checkCacheConsistent(t, cfg)
}

func TestChainScoresReverseInsertion(t *testing.T) {
	// Adding the edge near the target last forces a propagation pass
	// through the whole chain.
	cfg := newWithTargets(30)
	cfg.AddEdge(Edge{10, 20})
	cfg.AddEdge(Edge{5, 10})
	cfg.AddEdge(Edge{20, 30})

	for _, tc := range []struct {
		cmp  CmpID
		want Score
	}{
		{30, 0},
		{20, 1},
		{10, 2},
		{5, 3},
	} {
		if got := cfg.ScoreForCmp(tc.cmp); got != tc.want {
			t.Errorf("ScoreForCmp(%v) = %v, want %v", tc.cmp, got, tc.want)
		}
	}
	checkCacheConsistent(t, cfg)
}

func TestHarmonicMeanAggregation(t *testing.T) {
	// Node 20 gets two successors with static scores 1 and 3. The
	// harmonic mean of {1,3} is 1.5, truncated to 1, plus one hop: 2.
	cfg := newWithTargets(40)
	cfg.AddEdge(Edge{30, 40}) // score(30) = 1
	cfg.AddEdge(Edge{70, 40})
	cfg.AddEdge(Edge{60, 70})
	cfg.AddEdge(Edge{50, 60}) // score(50) = 3
	cfg.AddEdge(Edge{20, 30})
	cfg.AddEdge(Edge{20, 50})

	if got := cfg.ScoreForCmp(50); got != 3 {
		t.Fatalf("ScoreForCmp(50) = %v, want 3", got)
	}
	if got := cfg.ScoreForCmp(20); got != 2 {
		t.Errorf("ScoreForCmp(20) = %v, want 2", got)
	}
	checkCacheConsistent(t, cfg)
}

func TestSentinelFloor(t *testing.T) {
	cfg := NewEmpty()
	if got := cfg.ScoreForCmp(99); got != UndefScore {
		t.Errorf("score of unknown node = %v, want UndefScore", got)
	}
	cfg.AddEdge(Edge{10, 20})
	// Neither node reaches a target.
	if got := cfg.ScoreForCmp(10); got != UndefScore {
		t.Errorf("ScoreForCmp(10) = %v, want UndefScore", got)
	}
	if cfg.HasScore(10) {
		t.Error("HasScore(10) = true for a node with no path to a target")
	}
}

func TestTargetZeroAndRemove(t *testing.T) {
	cfg := newWithTargets(30)
	cfg.AddEdge(Edge{10, 20})
	cfg.AddEdge(Edge{20, 30})

	if got := cfg.ScoreForCmp(30); got != TargetScore {
		t.Fatalf("active target scored %v, want 0", got)
	}
	cfg.RemoveTarget(30)
	if !cfg.IsTarget(30) {
		t.Error("solved target no longer reported by IsTarget")
	}
	// 30 has no successors, so its score reverts to the sentinel and
	// every ancestor cache is repaired.
	for _, cmp := range []CmpID{30, 20, 10} {
		if got := cfg.ScoreForCmp(cmp); got != UndefScore {
			t.Errorf("after RemoveTarget, ScoreForCmp(%v) = %v, want UndefScore", cmp, got)
		}
	}
	// Removal is permanent and idempotent.
	cfg.RemoveTarget(30)
	if !cfg.IsTarget(30) {
		t.Error("second RemoveTarget dropped the solved record")
	}
	checkCacheConsistent(t, cfg)
}

func TestRemoveTargetRevertsToSuccessors(t *testing.T) {
	// 20 is both a target and one hop from target 30. Solving 20 makes
	// its score the aggregate over its successor again.
	cfg := newWithTargets(20, 30)
	cfg.AddEdge(Edge{10, 20})
	cfg.AddEdge(Edge{20, 30})

	if got := cfg.ScoreForCmp(10); got != 1 {
		t.Fatalf("ScoreForCmp(10) = %v, want 1", got)
	}
	cfg.RemoveTarget(20)
	if got := cfg.ScoreForCmp(20); got != 1 {
		t.Errorf("solved target ScoreForCmp(20) = %v, want 1", got)
	}
	if got := cfg.ScoreForCmp(10); got != 2 {
		t.Errorf("ScoreForCmp(10) = %v, want 2", got)
	}
	checkCacheConsistent(t, cfg)
}

func TestIndirectGating(t *testing.T) {
	cfg := newWithTargets(2)
	cfg.AddEdge(Edge{1, 2})
	e := Edge{1, 2}
	cfg.SetEdgeIndirect(e, 7)

	// No magic bytes recorded: the edge counts unconditionally.
	if got := cfg.ScoreForCmpInp(1, []byte("xyz")); got != 1 {
		t.Fatalf("indirect edge without magic bytes scored %v, want 1", got)
	}

	input := []byte{0, 0, 0, 0x41, 9}
	cfg.SetMagicBytes(e, input, []TagSeg{{Begin: 3, End: 4}})

	if got := cfg.GetMagicBytes(e); len(got) != 1 || got[0] != (FixedByte{Pos: 3, Value: 0x41}) {
		t.Fatalf("GetMagicBytes = %v, want [{3 65}]", got)
	}

	// Static scoring still counts the edge.
	if got := cfg.ScoreForCmp(1); got != 1 {
		t.Errorf("static score = %v, want 1", got)
	}
	for _, tc := range []struct {
		name string
		inp  []byte
		want Score
	}{
		{"matching byte", []byte{1, 2, 3, 0x41}, 1},
		{"wrong byte", []byte{1, 2, 3, 0x42}, UndefScore},
		{"input too short", []byte{1, 2, 3}, UndefScore},
	} {
		if got := cfg.ScoreForCmpInp(1, tc.inp); got != tc.want {
			t.Errorf("%v: ScoreForCmpInp = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSetMagicBytesSkipsOutOfRangeOffsets(t *testing.T) {
	cfg := NewEmpty()
	e := Edge{1, 2}
	cfg.AddEdge(e)
	cfg.SetEdgeIndirect(e, 1)
	// Tainted range extends past the buffer; only in-range offsets are
	// recorded.
	cfg.SetMagicBytes(e, []byte{0xde, 0xad}, []TagSeg{{Begin: 1, End: 8}})
	got := cfg.GetMagicBytes(e)
	if len(got) != 1 || got[0] != (FixedByte{Pos: 1, Value: 0xad}) {
		t.Errorf("GetMagicBytes = %v, want [{1 173}]", got)
	}
}

func TestHasPathToTarget(t *testing.T) {
	cfg := newWithTargets(3)
	cfg.AddEdge(Edge{1, 2})
	cfg.AddEdge(Edge{2, 1}) // cycle
	cfg.AddEdge(Edge{2, 3})
	cfg.AddEdge(Edge{4, 5}) // disconnected from the target

	if !cfg.HasPathToTarget(1) {
		t.Error("HasPathToTarget(1) = false, want true")
	}
	if !cfg.HasPathToTarget(3) {
		t.Error("HasPathToTarget on the target itself = false, want true")
	}
	if cfg.HasPathToTarget(4) {
		t.Error("HasPathToTarget(4) = true, want false")
	}
	if cfg.HasPathToTarget(99) {
		t.Error("HasPathToTarget on an unknown node = true, want false")
	}

	// Whenever the score is defined, reachability must agree.
	for _, cmp := range []CmpID{1, 2, 3, 4, 5} {
		if cfg.ScoreForCmp(cmp) != UndefScore && !cfg.HasPathToTarget(cmp) {
			t.Errorf("node %v has a score but no path to target", cmp)
		}
	}
	checkCacheConsistent(t, cfg)
}

func TestCyclicPropagationTerminates(t *testing.T) {
	// Propagation visits every node once, so a cycle must not loop
	// forever. Exact scores inside a target-less cycle are not pinned
	// down; only termination and the solved record are.
	cfg := newWithTargets(3)
	cfg.AddEdge(Edge{1, 2})
	cfg.AddEdge(Edge{2, 1})
	cfg.AddEdge(Edge{2, 3})
	cfg.RemoveTarget(3)
	if !cfg.IsTarget(3) {
		t.Error("solved target not remembered")
	}
	if cfg.HasPathToTarget(1) {
		t.Error("HasPathToTarget(1) = true with no active targets left")
	}
}

func TestDiamondRepair(t *testing.T) {
	// Two paths of different length share endpoints; adding the shortcut
	// last must repair every ancestor.
	cfg := newWithTargets(4)
	cfg.AddEdge(Edge{0, 1})
	cfg.AddEdge(Edge{1, 2})
	cfg.AddEdge(Edge{2, 3})
	cfg.AddEdge(Edge{3, 4})
	cfg.AddEdge(Edge{1, 4}) // shortcut

	if got := cfg.ScoreForCmp(3); got != 1 {
		t.Errorf("ScoreForCmp(3) = %v, want 1", got)
	}
	// score(1) = trunc(harmonic{3, 0→pinned}) ... successor 4 is a
	// target, so the aggregate pins to 1.
	if got := cfg.ScoreForCmp(1); got != 1 {
		t.Errorf("ScoreForCmp(1) = %v, want 1", got)
	}
	if got := cfg.ScoreForCmp(0); got != 2 {
		t.Errorf("ScoreForCmp(0) = %v, want 2", got)
	}
	checkCacheConsistent(t, cfg)
}

func TestDominators(t *testing.T) {
	data := CfgFile{
		Targets: map[CmpID]bool{50: true},
		Edges:   []Edge{{10, 20}, {20, 50}},
		CallsiteDominators: map[CallSiteID]map[CmpID]bool{
			7: {10: true, 20: true},
			9: {30: true},
		},
	}
	cfg := New(data)

	for _, cmp := range []CmpID{10, 20, 30} {
		if !cfg.DominatesIndirectCall(cmp) {
			t.Errorf("DominatesIndirectCall(%v) = false, want true", cmp)
		}
	}
	if cfg.DominatesIndirectCall(50) {
		t.Error("DominatesIndirectCall(50) = true, want false")
	}
	doms := cfg.GetCallsiteDominators(7)
	if len(doms) != 2 || !doms[10] || !doms[20] {
		t.Errorf("GetCallsiteDominators(7) = %v", doms)
	}
	if got := cfg.GetCallsiteDominators(1234); len(got) != 0 {
		t.Errorf("unknown callsite returned %v, want empty set", got)
	}

	// Initial edges were replayed through the scoring path.
	if got := cfg.ScoreForCmp(10); got != 2 {
		t.Errorf("ScoreForCmp(10) = %v, want 2", got)
	}
	checkCacheConsistent(t, cfg)
}

func TestCallsiteEdges(t *testing.T) {
	cfg := NewEmpty()
	e1, e2 := Edge{1, 2}, Edge{1, 3}
	cfg.AddEdge(e1)
	cfg.AddEdge(e2)
	cfg.SetEdgeIndirect(e1, 7)
	cfg.SetEdgeIndirect(e2, 7)

	edges := cfg.GetCallsiteEdges(7)
	if len(edges) != 2 || !edges[e1] || !edges[e2] {
		t.Errorf("GetCallsiteEdges(7) = %v", edges)
	}
	if got := cfg.GetCallsiteEdges(8); len(got) != 0 {
		t.Errorf("unknown callsite returned %v, want empty set", got)
	}
}

func TestScoreHarmonicMean(t *testing.T) {
	for _, tc := range []struct {
		name string
		vals []Score
		want Score
	}{
		{"no values", nil, UndefScore},
		{"only undef", []Score{UndefScore, UndefScore}, UndefScore},
		{"singleton", []Score{4}, 5},
		{"singleton zero", []Score{0}, 1},
		{"zero dominates", []Score{0, 7, UndefScore}, 1},
		{"one and three", []Score{1, 3}, 2},
		{"undef filtered", []Score{2, UndefScore}, 3},
	} {
		if got := scoreHarmonicMean(tc.vals); got != tc.want {
			t.Errorf("%v: scoreHarmonicMean(%v) = %v, want %v", tc.name, tc.vals, got, tc.want)
		}
	}
}
