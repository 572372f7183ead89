package main

import (
	"io/ioutil"
	"log"

	"github.com/dcasenove/parmesan/config"
	"github.com/dcasenove/parmesan/dyncfg"
	"github.com/dcasenove/parmesan/tracelog"
)

// noteTrace folds one execution's comparison trace into the graph.
// Consecutively executed comparisons become edges, and any executed
// target is marked solved so scoring redirects to the remaining ones.
func (f *Fuzzer) noteTrace(trace []uint32) {
	for i := 0; i+1 < len(trace); i++ {
		e := dyncfg.Edge{Src: dyncfg.CmpID(trace[i]), Dst: dyncfg.CmpID(trace[i+1])}
		if f.graph.AddEdge(e) && *flagV >= 2 {
			log.Printf("new edge %v -> %v", e.Src, e.Dst)
		}
	}
	for _, c := range trace {
		cmp := dyncfg.CmpID(c)
		if f.graph.ScoreForCmp(cmp) != dyncfg.TargetScore {
			continue
		}
		f.graph.RemoveTarget(cmp)
		log.Printf("target %v reached, %v remaining", cmp, f.graph.ActiveTargets())
	}
}

// distanceFor scores an input by the closest comparison it executed.
func (f *Fuzzer) distanceFor(trace []uint32, data []byte) dyncfg.Score {
	best := dyncfg.UndefScore
	for _, c := range trace {
		if s := f.graph.ScoreForCmpInp(dyncfg.CmpID(c), data); s < best {
			best = s
		}
	}
	return best
}

// loadTrackLog replays a taint trace recorded by an external
// taint-tracking run of the program. Indirect edges join the graph
// gated on the magic bytes observed at their call sites, and the
// expected byte values become mutation hints.
func (f *Fuzzer) loadTrackLog(cfg *config.Config) error {
	data, err := tracelog.ReadLogFile(cfg.TrackLog)
	if err != nil {
		return err
	}
	var input []byte
	if cfg.TrackInput != "" {
		if input, err = ioutil.ReadFile(cfg.TrackInput); err != nil {
			return err
		}
	}

	for _, e := range data.IndEdges {
		f.graph.AddEdge(e)
		f.graph.SetEdgeIndirect(e, dyncfg.CallSiteID(e.Src))
	}

	for i, mb := range data.MagicBytes {
		if i < 0 || i >= len(data.Conds) {
			continue
		}
		cond := data.Conds[i]
		offsets := append(data.Tags[cond.Lb1], data.Tags[cond.Lb2]...)
		for _, e := range data.IndEdges {
			if e.Src != cond.Cmp {
				continue
			}
			f.graph.SetMagicBytes(e, input, offsets)
		}
		k := 0
		for _, seg := range offsets {
			for pos := seg.Begin; pos < seg.End && k < len(mb.Expected); pos++ {
				f.hints = append(f.hints, dyncfg.FixedByte{Pos: int(pos), Value: mb.Expected[k]})
				k++
			}
		}
	}

	if *flagV >= 1 {
		log.Printf("track log: %v conds, %v indirect edges, %v magic byte hints",
			len(data.Conds), len(data.IndEdges), len(f.hints))
	}
	return nil
}

// pickInput chooses a corpus input to mutate. Inputs whose executions
// came closest to an unsolved target are preferred, with a fraction of
// picks kept uniform so colder inputs still get mutated.
func (f *Fuzzer) pickInput() []byte {
	if len(f.corpusInputs) == 0 {
		return nil
	}
	if f.mutator.rand(4) == 0 {
		return f.corpusInputs[f.mutator.rand(len(f.corpusInputs))].data
	}
	minDist := dyncfg.UndefScore
	var best []Input
	for _, in := range f.corpusInputs {
		if in.dist < minDist {
			minDist = in.dist
			best = best[:0]
		}
		if in.dist == minDist {
			best = append(best, in)
		}
	}
	if minDist == dyncfg.UndefScore {
		// Score caches can lag behind the topology; fall back to plain
		// reachability.
		for _, in := range best {
			for _, c := range in.trace {
				if f.graph.HasPathToTarget(dyncfg.CmpID(c)) {
					return in.data
				}
			}
		}
	}
	return best[f.mutator.rand(len(best))].data
}
