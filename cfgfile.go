// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"
	"strconv"
	"strings"
)

// cfgDescription is the instrumentation-time artifact consumed by
// dyncfg.ParseFile. Edges and callsite dominators start empty: edges
// are discovered dynamically at run time, and dominator sets are merged
// in from external analyses when available. CmpSites is informational
// (id -> file:line) and ignored by the loader.
type cfgDescription struct {
	Targets            []uint32            `json:"targets"`
	Edges              [][2]uint32         `json:"edges"`
	CallsiteDominators map[string][]uint32 `json:"callsite_dominators"`
	CmpSites           map[string]string   `json:"cmp_sites,omitempty"`
}

func writeCfgFile(path string, sites map[uint32]string, targets []uint32) error {
	desc := cfgDescription{
		Targets:            targets,
		Edges:              [][2]uint32{},
		CallsiteDominators: map[string][]uint32{},
		CmpSites:           make(map[string]string, len(sites)),
	}
	if desc.Targets == nil {
		desc.Targets = []uint32{}
	}
	for id, site := range sites {
		desc.CmpSites[strconv.FormatUint(uint64(id), 10)] = site
	}
	data, err := json.MarshalIndent(&desc, "", "\t")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0644)
}

// resolveTargets matches "file.go:line" patterns against the comparison
// site table. A pattern matches a site whose position ends with it, so
// short forms like parse.go:120 work without the full build path. Every
// pattern must match at least one site.
func resolveTargets(sites map[uint32]string, patterns string) ([]uint32, error) {
	if patterns == "" {
		return nil, nil
	}
	var targets []uint32
	for _, pattern := range strings.Split(patterns, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		var matched []uint32
		for id, site := range sites {
			if site == pattern || strings.HasSuffix(site, "/"+pattern) {
				matched = append(matched, id)
			}
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("target %q matches no instrumented branch", pattern)
		}
		targets = append(targets, matched...)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets, nil
}
