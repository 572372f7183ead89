package dyncfg

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// CfgFile is the decoded instrumentation-time artifact a graph is built
// from: the active target set, any statically known edges, and the
// dominator sets of indirect call sites. IDMap optionally translates
// basic-block ids to comparison ids for producers that emit the two as
// separate spaces; the core itself works in a single id space and never
// consults it.
type CfgFile struct {
	Targets            map[CmpID]bool
	Edges              []Edge
	CallsiteDominators map[CallSiteID]map[CmpID]bool
	IDMap              IDMap
}

// IDMap translates basic-block ids to comparison ids at the loader
// boundary.
type IDMap map[CmpID]CmpID

// Translate returns the comparison id for bb, or bb itself when there is
// no mapping (the two id spaces coincide).
func (m IDMap) Translate(bb CmpID) CmpID {
	if cmp, ok := m[bb]; ok {
		return cmp
	}
	return bb
}

// TranslateEdge maps both endpoints of an edge.
func (m IDMap) TranslateEdge(e Edge) Edge {
	return Edge{Src: m.Translate(e.Src), Dst: m.Translate(e.Dst)}
}

// jsonCfgFile is the on-disk layout written by parmesan-build. JSON
// object keys are strings, so callsite ids and mapped block ids arrive
// as decimal strings.
type jsonCfgFile struct {
	Targets            []CmpID            `json:"targets"`
	Edges              [][2]CmpID         `json:"edges"`
	CallsiteDominators map[string][]CmpID `json:"callsite_dominators"`
	IDMap              map[string]CmpID   `json:"id_map,omitempty"`
}

// ParseFile reads and decodes an instrumentation artifact. A malformed
// file is a startup error; it is never surfaced mid-campaign.
func ParseFile(path string) (CfgFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CfgFile{}, fmt.Errorf("failed to read cfg file: %w", err)
	}
	var jf jsonCfgFile
	if err := json.Unmarshal(raw, &jf); err != nil {
		return CfgFile{}, fmt.Errorf("failed to decode cfg file %v: %w", path, err)
	}

	data := CfgFile{
		Targets:            make(map[CmpID]bool, len(jf.Targets)),
		Edges:              make([]Edge, 0, len(jf.Edges)),
		CallsiteDominators: make(map[CallSiteID]map[CmpID]bool, len(jf.CallsiteDominators)),
	}
	for _, t := range jf.Targets {
		data.Targets[t] = true
	}
	for _, e := range jf.Edges {
		data.Edges = append(data.Edges, Edge{Src: e[0], Dst: e[1]})
	}
	for key, doms := range jf.CallsiteDominators {
		cs, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return CfgFile{}, fmt.Errorf("bad callsite id %q in %v: %w", key, path, err)
		}
		set := make(map[CmpID]bool, len(doms))
		for _, d := range doms {
			set[d] = true
		}
		data.CallsiteDominators[CallSiteID(cs)] = set
	}
	if len(jf.IDMap) > 0 {
		data.IDMap = make(IDMap, len(jf.IDMap))
		for key, cmp := range jf.IDMap {
			bb, err := strconv.ParseUint(key, 10, 32)
			if err != nil {
				return CfgFile{}, fmt.Errorf("bad block id %q in %v: %w", key, path, err)
			}
			data.IDMap[CmpID(bb)] = cmp
		}
	}
	return data, nil
}
