// Package dyncfg maintains a dynamically-discovered control-flow graph
// over instrumented comparison points and scores every point by an
// estimate of its distance to the nearest unreached target.
//
// The graph grows monotonically as the fuzzing driver reports observed
// edges; each mutation incrementally repairs the per-edge score caches
// by walking the reversed graph backward from the changed node. Scores
// aggregate successor distances with a harmonic mean, which is dominated
// by the smallest value and so approximates best-path distance without
// full shortest-path recomputation.
package dyncfg

import "math"

// CmpID identifies an instrumented branch/comparison point.
type CmpID uint32

// CallSiteID identifies an indirect call site.
type CallSiteID uint32

// Score is a distance-like estimate: 0 for an active target, UndefScore
// for "no known path", lower is closer.
type Score uint32

// Edge is an observed control-flow transition between two comparison
// points. Intervening non-instrumented code is elided.
type Edge struct {
	Src CmpID
	Dst CmpID
}

// FixedByte is one concrete input byte an indirect edge was observed to
// depend on.
type FixedByte struct {
	Pos   int
	Value byte
}

// TagSeg is a half-open range [Begin, End) of tainted input offsets, as
// reported by the taint-tracking runtime.
type TagSeg struct {
	Begin uint32
	End   uint32
}

const (
	TargetScore Score = 0
	UndefScore  Score = math.MaxUint32
)

// ControlFlowGraph is a CFG of branches (cmps). It is exclusively owned
// by the fuzzing driver goroutine; no operation is safe for concurrent
// use.
type ControlFlowGraph struct {
	graph              *digraph
	targets            map[CmpID]bool
	solvedTargets      map[CmpID]bool
	indirectEdges      map[Edge]bool
	callsiteEdges      map[CallSiteID]map[Edge]bool
	callsiteDominators map[CallSiteID]map[CmpID]bool
	dominatorCmps      map[CmpID]bool
	magicBytes         map[Edge][]FixedByte
}

// New builds a graph from a decoded instrumentation artifact and replays
// its initial edge list.
func New(data CfgFile) *ControlFlowGraph {
	cfg := NewEmpty()
	for t := range data.Targets {
		cfg.targets[t] = true
	}
	for cs, doms := range data.CallsiteDominators {
		set := make(map[CmpID]bool, len(doms))
		for d := range doms {
			set[d] = true
			cfg.dominatorCmps[d] = true
		}
		cfg.callsiteDominators[cs] = set
	}
	for _, e := range data.Edges {
		cfg.AddEdge(e)
	}
	return cfg
}

// NewEmpty returns a graph with no targets, edges or dominator data.
func NewEmpty() *ControlFlowGraph {
	return &ControlFlowGraph{
		graph:              newDigraph(),
		targets:            make(map[CmpID]bool),
		solvedTargets:      make(map[CmpID]bool),
		indirectEdges:      make(map[Edge]bool),
		callsiteEdges:      make(map[CallSiteID]map[Edge]bool),
		callsiteDominators: make(map[CallSiteID]map[CmpID]bool),
		dominatorCmps:      make(map[CmpID]bool),
		magicBytes:         make(map[Edge][]FixedByte),
	}
}

// AddEdge reports a newly observed control-flow transition. It returns
// true iff the edge was not previously present. Re-adding a known edge
// is a topological no-op but still re-evaluates the source score.
func (cfg *ControlFlowGraph) AddEdge(e Edge) bool {
	known := cfg.graph.hasEdge(e)
	cfg.handleNewEdge(e)
	return !known
}

func (cfg *ControlFlowGraph) HasEdge(e Edge) bool {
	return cfg.graph.hasEdge(e)
}

// SetEdgeIndirect marks an edge as arising from an indirect transfer at
// the given call site. The edge itself still enters the topology through
// AddEdge; this only changes how scoring counts it.
func (cfg *ControlFlowGraph) SetEdgeIndirect(e Edge, callsite CallSiteID) {
	cfg.indirectEdges[e] = true
	if cfg.callsiteEdges[callsite] == nil {
		cfg.callsiteEdges[callsite] = make(map[Edge]bool)
	}
	cfg.callsiteEdges[callsite][e] = true
}

// SetMagicBytes records, for an indirect edge, the concrete bytes of buf
// at every offset covered by the tainted ranges. Offsets beyond the end
// of buf are dropped rather than recorded.
func (cfg *ControlFlowGraph) SetMagicBytes(e Edge, buf []byte, offsets []TagSeg) {
	var fixed []FixedByte
	seen := make(map[int]bool)
	for _, tag := range offsets {
		for i := tag.Begin; i < tag.End; i++ {
			pos := int(i)
			if seen[pos] || pos >= len(buf) {
				continue
			}
			seen[pos] = true
			fixed = append(fixed, FixedByte{Pos: pos, Value: buf[pos]})
		}
	}
	cfg.magicBytes[e] = fixed
}

// GetMagicBytes returns the recorded magic bytes for the edge, or nil.
func (cfg *ControlFlowGraph) GetMagicBytes(e Edge) []FixedByte {
	fixed := cfg.magicBytes[e]
	out := make([]FixedByte, len(fixed))
	copy(out, fixed)
	return out
}

// DominatesIndirectCall reports whether cmp dominates any known indirect
// call site.
func (cfg *ControlFlowGraph) DominatesIndirectCall(cmp CmpID) bool {
	return cfg.dominatorCmps[cmp]
}

// GetCallsiteDominators returns the set of cmps dominating the call
// site, or an empty set if the site is unknown.
func (cfg *ControlFlowGraph) GetCallsiteDominators(cs CallSiteID) map[CmpID]bool {
	out := make(map[CmpID]bool, len(cfg.callsiteDominators[cs]))
	for cmp := range cfg.callsiteDominators[cs] {
		out[cmp] = true
	}
	return out
}

// GetCallsiteEdges returns the indirect edges discovered at the call
// site, or an empty set if the site is unknown.
func (cfg *ControlFlowGraph) GetCallsiteEdges(cs CallSiteID) map[Edge]bool {
	out := make(map[Edge]bool, len(cfg.callsiteEdges[cs]))
	for e := range cfg.callsiteEdges[cs] {
		out[e] = true
	}
	return out
}

// RemoveTarget reports that a target has been satisfied. The target is
// remembered forever as solved for IsTarget, but it no longer
// short-circuits scoring to zero, so every ancestor cache is repaired.
// Removal is permanent.
func (cfg *ControlFlowGraph) RemoveTarget(cmp CmpID) {
	if !cfg.targets[cmp] {
		return
	}
	delete(cfg.targets, cmp)
	cfg.solvedTargets[cmp] = true
	cfg.propagateScore(cmp)
}

// IsTarget reports whether cmp is an active or already solved target.
func (cfg *ControlFlowGraph) IsTarget(cmp CmpID) bool {
	return cfg.targets[cmp] || cfg.solvedTargets[cmp]
}

// ActiveTargets returns the number of targets not yet solved.
func (cfg *ControlFlowGraph) ActiveTargets() int {
	return len(cfg.targets)
}

// handleNewEdge inserts the edge with the destination's current score as
// its cached weight, then repairs ancestor caches if the source score
// changed. Both scores are taken before the insertion so the equality
// check sees the graph as it stood when the edge arrived.
func (cfg *ControlFlowGraph) handleNewEdge(e Edge) {
	dstScore := cfg.scoreFor(e.Dst)
	oldSrcScore := cfg.scoreFor(e.Src)

	cfg.graph.addEdge(e, dstScore)

	newSrcScore := cfg.scoreFor(e.Src)
	if oldSrcScore == newSrcScore {
		// No downstream cache can be stale.
		return
	}
	cfg.propagateScore(e.Src)
}

// propagateScore repairs cached edge weights after the score of root
// changed. It runs BFS over the reversed graph: each visited node is
// recomputed from its (already updated) outgoing weights, and the result
// is written into every incoming edge before the node's predecessors are
// dequeued. Nodes unreachable backward from root are untouched.
func (cfg *ControlFlowGraph) propagateScore(root CmpID) {
	visited := map[CmpID]bool{root: true}
	queue := []CmpID{root}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		newScore := cfg.scoreFor(v)
		for p := range cfg.graph.predecessors(v) {
			cfg.graph.addEdge(Edge{Src: p, Dst: v}, newScore)
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
}

// HasScore reports whether cmp has any known path toward a target.
func (cfg *ControlFlowGraph) HasScore(cmp CmpID) bool {
	return cfg.scoreFor(cmp) != UndefScore
}

// HasPathToTarget reports whether any active target is reachable from
// cmp. It is a plain DFS over the topology and ignores score caches
// entirely, so it is a cheap pre-filter independent of scoring state.
func (cfg *ControlFlowGraph) HasPathToTarget(cmp CmpID) bool {
	visited := make(map[CmpID]bool)
	stack := []CmpID{cmp}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if cfg.targets[n] {
			return true
		}
		for succ := range cfg.graph.successors(n) {
			if !visited[succ] {
				stack = append(stack, succ)
			}
		}
	}
	return false
}

// ScoreForCmp returns the static (input-agnostic) distance score of cmp.
func (cfg *ControlFlowGraph) ScoreForCmp(cmp CmpID) Score {
	return cfg.scoreFor(cmp)
}

// ScoreForCmpInp returns the distance score of cmp for a specific
// candidate input: indirect edges with recorded magic bytes only count
// if inp carries the expected byte at every recorded offset. The result
// is computed fresh; neighbor weights remain the static aggregates.
func (cfg *ControlFlowGraph) ScoreForCmpInp(cmp CmpID, inp []byte) Score {
	return cfg.scoreForCmp(cmp, inp, true)
}

func (cfg *ControlFlowGraph) scoreFor(cmp CmpID) Score {
	return cfg.scoreForCmp(cmp, nil, false)
}

func (cfg *ControlFlowGraph) scoreForCmp(cmp CmpID, inp []byte, gated bool) Score {
	if cfg.targets[cmp] {
		return TargetScore
	}
	var scores []Score
	for succ, w := range cfg.graph.successors(cmp) {
		if !cfg.shouldCountEdge(Edge{Src: cmp, Dst: succ}, inp, gated) {
			continue
		}
		scores = append(scores, w)
	}
	return aggregateScore(scores)
}

// shouldCountEdge decides whether an outgoing edge participates in a
// score computation. Direct edges always count. An indirect edge counts
// unless magic bytes are recorded for it, in which case static scoring
// still counts it (the bytes could be satisfied by some input) and
// per-input scoring requires every recorded byte to match, with offsets
// past the end of the input treated as non-matching.
func (cfg *ControlFlowGraph) shouldCountEdge(e Edge, inp []byte, gated bool) bool {
	if !cfg.indirectEdges[e] {
		return true
	}
	fixed, ok := cfg.magicBytes[e]
	if !ok || !gated {
		return true
	}
	for _, fb := range fixed {
		if fb.Pos >= len(inp) || inp[fb.Pos] != fb.Value {
			return false
		}
	}
	return true
}

func aggregateScore(vals []Score) Score {
	return scoreHarmonicMean(vals)
}

// scoreHarmonicMean aggregates counted successor scores: drop UndefScore
// values, take the harmonic mean of the rest, truncate, and add 1 for
// the hop to the successor. A successor at 0 (a direct edge to a target)
// pins the mean to 0, so the result is 1: one hop from a target. A
// non-target node therefore never scores 0.
func scoreHarmonicMean(vals []Score) Score {
	var sum float64
	n := 0
	for _, v := range vals {
		if v == UndefScore {
			continue
		}
		if v == TargetScore {
			return 1
		}
		sum += 1 / float64(v)
		n++
	}
	if n == 0 {
		return UndefScore
	}
	return Score(float64(n)/sum) + 1
}
