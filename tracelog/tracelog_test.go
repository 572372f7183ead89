package tracelog

import (
	"bytes"
	"testing"

	"github.com/dcasenove/parmesan/dyncfg"
)

func TestSaveCondFiltersUntainted(t *testing.T) {
	l := New(nil, nil, nil)
	l.SaveCond(CondStmt{Cmp: 1}) // no labels, dropped
	l.SaveCond(CondStmt{Cmp: 2, Lb1: 5})
	if got := len(l.Data().Conds); got != 1 {
		t.Fatalf("saved %v conds, want 1", got)
	}
	if l.Data().Conds[0].Cmp != 2 {
		t.Errorf("saved cond %+v, want cmp 2", l.Data().Conds[0])
	}
}

func TestOrderAssignment(t *testing.T) {
	l := New(nil, nil, nil)
	for i := 0; i < 3; i++ {
		l.SaveCond(CondStmt{Cmp: 7, Context: 1, Lb1: 1})
	}
	conds := l.Data().Conds
	if len(conds) != 3 {
		t.Fatalf("saved %v conds, want 3", len(conds))
	}
	for i, c := range conds {
		if want := uint32(i + 1); c.Order != want {
			t.Errorf("cond %v order = %v, want %v", i, c.Order, want)
		}
	}
}

func TestOrderCap(t *testing.T) {
	l := New(nil, nil, nil)
	for i := 0; i < MaxCondOrder+10; i++ {
		l.SaveCond(CondStmt{Cmp: 7, Lb1: 1})
	}
	if got := len(l.Data().Conds); got != MaxCondOrder {
		t.Errorf("saved %v conds, want %v", got, MaxCondOrder)
	}
}

func TestSaveUntaintedOnlyForTargets(t *testing.T) {
	l := New(nil, []dyncfg.CmpID{10}, nil)
	l.SaveUntainted(CondStmt{Cmp: 10})
	l.SaveUntainted(CondStmt{Cmp: 11})
	if got := len(l.Data().UntaintedConds); got != 1 {
		t.Fatalf("saved %v untainted conds, want 1", got)
	}
}

func TestTagLookup(t *testing.T) {
	calls := 0
	lookup := func(label uint32) []dyncfg.TagSeg {
		calls++
		return []dyncfg.TagSeg{{Begin: label, End: label + 4}}
	}
	l := New(nil, nil, lookup)
	l.SaveCond(CondStmt{Cmp: 1, Lb1: 3, Lb2: 9})
	l.SaveCond(CondStmt{Cmp: 2, Lb1: 3}) // label 3 already resolved
	if calls != 2 {
		t.Errorf("lookup called %v times, want 2", calls)
	}
	if segs := l.Data().Tags[9]; len(segs) != 1 || segs[0] != (dyncfg.TagSeg{Begin: 9, End: 13}) {
		t.Errorf("tags[9] = %v", segs)
	}
}

func TestMagicBytesAttachToLastCond(t *testing.T) {
	l := New(nil, nil, nil)
	l.SaveMagicBytes(MagicBytes{Current: []byte{1}}) // no cond yet, dropped
	l.SaveCond(CondStmt{Cmp: 1, Lb1: 1})
	l.SaveCond(CondStmt{Cmp: 2, Lb1: 1})
	l.SaveMagicBytes(MagicBytes{Current: []byte{0xab}, Expected: []byte{0xcd}})

	mb, ok := l.Data().MagicBytes[1]
	if !ok {
		t.Fatal("magic bytes not attached to cond index 1")
	}
	if !bytes.Equal(mb.Expected, []byte{0xcd}) {
		t.Errorf("expected bytes = %x", mb.Expected)
	}
	if _, ok := l.Data().MagicBytes[0]; ok {
		t.Error("stray magic bytes on cond index 0")
	}
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil, func(label uint32) []dyncfg.TagSeg {
		return []dyncfg.TagSeg{{Begin: 0, End: 2}}
	})
	l.SaveCond(CondStmt{Cmp: 5, Context: 2, Lb1: 1, Arg1: 42, Arg2: 43, Size: 4})
	l.SaveMagicBytes(MagicBytes{Current: []byte{1, 2}, Expected: []byte{3, 4}})
	l.SaveIndirect(dyncfg.Edge{Src: 5, Dst: 9})
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	data, err := ReadLog(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Conds) != 1 || data.Conds[0].Cmp != 5 || data.Conds[0].Arg1 != 42 {
		t.Errorf("conds = %+v", data.Conds)
	}
	if len(data.IndEdges) != 1 || data.IndEdges[0] != (dyncfg.Edge{Src: 5, Dst: 9}) {
		t.Errorf("indirect edges = %v", data.IndEdges)
	}
	if mb := data.MagicBytes[0]; !bytes.Equal(mb.Current, []byte{1, 2}) {
		t.Errorf("magic bytes = %+v", mb)
	}
	if segs := data.Tags[1]; len(segs) != 1 {
		t.Errorf("tags = %v", data.Tags)
	}
}

func TestReadLogRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil, nil)
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLog(&buf); err == nil {
		t.Error("expected error for a trace with no constraints")
	}
}
