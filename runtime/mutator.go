// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"math/rand"
	"time"

	. "github.com/dcasenove/parmesan/coverage"
	"github.com/dcasenove/parmesan/dyncfg"
)

type Mutator struct {
	r *rand.Rand
}

func newMutator() *Mutator {
	return &Mutator{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (m *Mutator) rand(n int) int {
	return m.r.Intn(n)
}

// chooseLen chooses the length of a range mutation, biased towards
// shorter ranges.
func (m *Mutator) chooseLen(n int) int {
	switch x := m.rand(100); {
	case x < 90:
		return m.rand(min(8, n)) + 1
	case x < 99:
		return m.rand(min(32, n)) + 1
	default:
		return m.rand(n) + 1
	}
}

// generate produces a new candidate by applying a few random mutations
// to base.
func (m *Mutator) generate(base []byte, lits [][]byte, hints []dyncfg.FixedByte) []byte {
	res := makeCopy(base)
	nm := 1 + m.rand(3)
	for i := 0; i < nm; i++ {
		res = m.mutate(res, lits, hints)
	}
	return res
}

func (m *Mutator) mutate(res []byte, lits [][]byte, hints []dyncfg.FixedByte) []byte {
	for {
		switch m.rand(10) {
		case 0:
			// Remove a range of bytes.
			if len(res) <= 1 {
				continue
			}
			pos0 := m.rand(len(res))
			pos1 := pos0 + m.chooseLen(len(res)-pos0)
			copy(res[pos0:], res[pos1:])
			res = res[:len(res)-(pos1-pos0)]
		case 1:
			// Insert a range of random bytes.
			pos := m.rand(len(res) + 1)
			n := m.chooseLen(10)
			for i := 0; i < n; i++ {
				res = append(res, 0)
			}
			copy(res[pos+n:], res[pos:])
			for i := 0; i < n; i++ {
				res[pos+i] = byte(m.rand(256))
			}
		case 2:
			// Duplicate a range of bytes.
			if len(res) <= 1 {
				continue
			}
			src := m.rand(len(res))
			n := m.chooseLen(len(res) - src)
			tmp := makeCopy(res[src : src+n])
			dst := m.rand(len(res) + 1)
			for i := 0; i < n; i++ {
				res = append(res, 0)
			}
			copy(res[dst+n:], res[dst:])
			copy(res[dst:], tmp)
		case 3:
			// Flip a bit.
			if len(res) == 0 {
				continue
			}
			pos := m.rand(len(res))
			res[pos] ^= 1 << uint(m.rand(8))
		case 4:
			// Set a byte to a random value.
			if len(res) == 0 {
				continue
			}
			res[m.rand(len(res))] = byte(m.rand(256))
		case 5:
			// Swap two bytes.
			if len(res) <= 1 {
				continue
			}
			pos0 := m.rand(len(res))
			pos1 := m.rand(len(res))
			res[pos0], res[pos1] = res[pos1], res[pos0]
		case 6:
			// Add/subtract from a byte.
			if len(res) == 0 {
				continue
			}
			pos := m.rand(len(res))
			res[pos] += byte(m.rand(35) + 1)
		case 7:
			// Overwrite a range with a literal.
			if len(lits) == 0 || len(res) == 0 {
				continue
			}
			lit := lits[m.rand(len(lits))]
			if len(lit) == 0 || len(lit) > len(res) {
				continue
			}
			pos := m.rand(len(res) - len(lit) + 1)
			copy(res[pos:], lit)
		case 8:
			// Insert a literal.
			if len(lits) == 0 {
				continue
			}
			lit := lits[m.rand(len(lits))]
			if len(lit) == 0 || len(res)+len(lit) > MaxInputSize {
				continue
			}
			pos := m.rand(len(res) + 1)
			for range lit {
				res = append(res, 0)
			}
			copy(res[pos+len(lit):], res[pos:])
			copy(res[pos:], lit)
		case 9:
			// Plant recorded magic bytes at their input offset.
			if len(hints) == 0 {
				continue
			}
			h := hints[m.rand(len(hints))]
			if h.Pos >= len(res) {
				continue
			}
			res[h.Pos] = h.Value
		}
		if len(res) > MaxInputSize {
			res = res[:MaxInputSize]
		}
		return res
	}
}
