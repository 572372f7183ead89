package dyncfg

// digraph is a directed graph over comparison ids with one Score weight
// per edge. Nodes exist implicitly: the first edge that mentions an id
// creates it. Edges are unique and never removed.
//
// The weight on edge (src, dst) caches the distance score of dst as of
// the last propagation pass; ControlFlowGraph is responsible for keeping
// it equal to scoreFor(dst).
type digraph struct {
	succs map[CmpID]map[CmpID]Score
	preds map[CmpID]map[CmpID]bool
}

func newDigraph() *digraph {
	return &digraph{
		succs: make(map[CmpID]map[CmpID]Score),
		preds: make(map[CmpID]map[CmpID]bool),
	}
}

func (g *digraph) hasEdge(e Edge) bool {
	_, ok := g.succs[e.Src][e.Dst]
	return ok
}

// addEdge inserts the edge with the given weight, or overwrites the
// weight if the edge already exists.
func (g *digraph) addEdge(e Edge, w Score) {
	if g.succs[e.Src] == nil {
		g.succs[e.Src] = make(map[CmpID]Score)
	}
	g.succs[e.Src][e.Dst] = w
	if g.preds[e.Dst] == nil {
		g.preds[e.Dst] = make(map[CmpID]bool)
	}
	g.preds[e.Dst][e.Src] = true
}

func (g *digraph) weight(e Edge) (Score, bool) {
	w, ok := g.succs[e.Src][e.Dst]
	return w, ok
}

// successors returns the outgoing adjacency of n keyed by destination,
// with the cached weight per edge. The returned map is owned by the
// graph and must not be mutated by callers.
func (g *digraph) successors(n CmpID) map[CmpID]Score {
	return g.succs[n]
}

// predecessors returns the set of nodes with an edge into n. The
// returned map is owned by the graph and must not be mutated by callers.
func (g *digraph) predecessors(n CmpID) map[CmpID]bool {
	return g.preds[n]
}
