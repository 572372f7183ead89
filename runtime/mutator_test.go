package main

import (
	"bytes"
	"testing"

	. "github.com/dcasenove/parmesan/coverage"
	"github.com/dcasenove/parmesan/dyncfg"
)

func TestGenerateBounds(t *testing.T) {
	m := newMutator()
	base := bytes.Repeat([]byte("x"), MaxInputSize)
	for i := 0; i < 100; i++ {
		res := m.generate(base, nil, nil)
		if len(res) > MaxInputSize {
			t.Fatalf("generated input of %v bytes, limit %v", len(res), MaxInputSize)
		}
	}
}

func TestGenerateFromEmpty(t *testing.T) {
	m := newMutator()
	// Mutating the empty seed must terminate and eventually produce
	// non-empty candidates.
	nonEmpty := 0
	for i := 0; i < 100; i++ {
		if len(m.generate(nil, nil, nil)) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		t.Error("no non-empty candidates generated from empty seed")
	}
}

func TestGenerateDoesNotMutateBase(t *testing.T) {
	m := newMutator()
	base := []byte("hello world hello world")
	orig := makeCopy(base)
	for i := 0; i < 100; i++ {
		m.generate(base, [][]byte{[]byte("lit")}, nil)
	}
	if !bytes.Equal(base, orig) {
		t.Errorf("base mutated in place: %q", base)
	}
}

func TestMutatePlantsMagicBytes(t *testing.T) {
	m := newMutator()
	hints := []dyncfg.FixedByte{{Pos: 3, Value: 0x41}}
	planted := false
	for i := 0; i < 1000 && !planted; i++ {
		res := m.generate([]byte("aaaaaaaa"), nil, hints)
		if len(res) > 3 && res[3] == 0x41 {
			planted = true
		}
	}
	if !planted {
		t.Error("magic byte hint never planted")
	}
}
