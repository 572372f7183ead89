// Package tracelog records the facts a taint-tracking execution reveals
// about one run: which branch conditions executed, which input bytes
// taint their operands, which indirect edges were resolved, and the
// concrete magic bytes controlling them. The driver replays a finished
// log into the dynamic CFG.
package tracelog

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dcasenove/parmesan/dyncfg"
)

// MaxCondOrder caps how many times the same (cmp, context) pair is
// recorded per run; beyond that the condition carries no new
// information for the solver.
const MaxCondOrder = 16

// CondStmt is one executed branch condition.
type CondStmt struct {
	Cmp     dyncfg.CmpID
	Context uint32
	Order   uint32
	Op      uint32
	Lb1     uint32 // taint label of the left operand, 0 if untainted
	Lb2     uint32 // taint label of the right operand, 0 if untainted
	Arg1    uint64
	Arg2    uint64
	Size    uint32
}

// Tainted reports whether either operand carries a taint label.
func (c CondStmt) Tainted() bool {
	return c.Lb1 != 0 || c.Lb2 != 0
}

// MagicBytes holds the current and expected operand bytes of the branch
// condition guarding an indirect transfer.
type MagicBytes struct {
	Current  []byte
	Expected []byte
}

// LogData is the serialized payload of one traced execution.
type LogData struct {
	Conds          []CondStmt
	UntaintedConds []CondStmt
	Tags           map[uint32][]dyncfg.TagSeg
	MagicBytes     map[int]MagicBytes // keyed by index into Conds
	IndEdges       []dyncfg.Edge
}

// TagLookup resolves a taint label to the input ranges it covers.
type TagLookup func(label uint32) []dyncfg.TagSeg

// Logger accumulates trace records for a single execution and
// serializes them on Flush. The output writer, the cmps of interest for
// untainted records, and the tag resolver are all passed explicitly at
// construction; there is no environment-driven state.
type Logger struct {
	data        LogData
	w           io.Writer
	lookup      TagLookup
	targetCmps  map[dyncfg.CmpID]bool
	orders      map[orderKey]uint32
}

type orderKey struct {
	cmp     dyncfg.CmpID
	context uint32
}

// New returns a Logger writing to w on Flush. w may be nil to record in
// memory only. lookup may be nil when no taint ranges are available.
func New(w io.Writer, targetCmps []dyncfg.CmpID, lookup TagLookup) *Logger {
	targets := make(map[dyncfg.CmpID]bool, len(targetCmps))
	for _, cmp := range targetCmps {
		targets[cmp] = true
	}
	return &Logger{
		data: LogData{
			Tags:       make(map[uint32][]dyncfg.TagSeg),
			MagicBytes: make(map[int]MagicBytes),
		},
		w:          w,
		lookup:     lookup,
		targetCmps: targets,
		orders:     make(map[orderKey]uint32),
	}
}

func (l *Logger) saveTag(label uint32) {
	if label == 0 || l.lookup == nil {
		return
	}
	if _, ok := l.data.Tags[label]; !ok {
		l.data.Tags[label] = l.lookup(label)
	}
}

// nextOrder assigns the per-(cmp, context) occurrence order. The first
// case of a switch arrives with Order zero and bumps the counter; later
// cases of the same switch reuse it.
func (l *Logger) nextOrder(c *CondStmt) uint32 {
	key := orderKey{c.Cmp, c.Context}
	order := l.orders[key]
	if c.Order == 0 {
		order++
		l.orders[key] = order
	}
	c.Order += order
	return order
}

// SaveCond records one executed tainted condition. Untainted conditions
// and conditions past the order cap are dropped.
func (l *Logger) SaveCond(c CondStmt) {
	if !c.Tainted() {
		return
	}
	if l.nextOrder(&c) > MaxCondOrder {
		return
	}
	l.saveTag(c.Lb1)
	l.saveTag(c.Lb2)
	l.data.Conds = append(l.data.Conds, c)
}

// SaveUntainted records a condition without taint labels, but only for
// cmps the campaign is explicitly interested in.
func (l *Logger) SaveUntainted(c CondStmt) {
	if l.targetCmps[c.Cmp] {
		l.data.UntaintedConds = append(l.data.UntaintedConds, c)
	}
}

// SaveMagicBytes attaches operand bytes to the most recently saved
// condition. It is a no-op before the first SaveCond.
func (l *Logger) SaveMagicBytes(mb MagicBytes) {
	if i := len(l.data.Conds); i > 0 {
		l.data.MagicBytes[i-1] = mb
	}
}

// SaveIndirect records a resolved indirect edge.
func (l *Logger) SaveIndirect(e dyncfg.Edge) {
	l.data.IndEdges = append(l.data.IndEdges, e)
}

// Data exposes the accumulated records for in-process consumption.
func (l *Logger) Data() *LogData {
	return &l.data
}

// Flush serializes the accumulated records to the output writer.
func (l *Logger) Flush() error {
	if l.w == nil {
		return nil
	}
	if err := gob.NewEncoder(l.w).Encode(&l.data); err != nil {
		return fmt.Errorf("failed to serialize trace log: %w", err)
	}
	return nil
}

// ReadLog decodes a serialized trace. A trace with no conditions at all
// means taint tracking produced nothing useful, which is an error the
// campaign should surface at startup rather than silently fuzz blind.
func ReadLog(r io.Reader) (*LogData, error) {
	var data LogData
	if err := gob.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode trace log: %w", err)
	}
	if len(data.Conds) == 0 && len(data.UntaintedConds) == 0 {
		return nil, errors.New("trace log contains no interesting constraints")
	}
	return &data, nil
}

// ReadLogFile decodes the trace log at path.
func ReadLogFile(path string) (*LogData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace log: %w", err)
	}
	defer f.Close()
	return ReadLog(f)
}
