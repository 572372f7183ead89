package main

import (
	"log"
	"sort"

	. "github.com/dcasenove/parmesan/coverage"
)

// selectFuzzFunc resolves name against the functions registered by the
// build tool. An empty name falls back to the first one alphabetically.
func selectFuzzFunc(name string) func([]byte) int {
	if len(FuzzFunctions) == 0 {
		log.Fatal("No functions available to fuzz")
	}

	if name == "" {
		var funcs []string
		for fn := range FuzzFunctions {
			funcs = append(funcs, fn)
		}
		sort.Strings(funcs)

		log.Printf("Functions available to fuzz: %v", funcs)
		name = funcs[0]
	}

	fn, ok := FuzzFunctions[name]
	if !ok {
		log.Fatalf("Function %s not available to fuzz", name)
	}
	log.Printf("Fuzzing function %s", name)
	return fn
}
