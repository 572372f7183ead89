// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

const (
	CoverSize    = 64 << 10
	MaxInputSize = 1 << 20
	MaxTraceSize = 1 << 16
)

// CoverTab holds code coverage.
// It is initialized to a new array so that instrumentation
// executed during process initialization has somewhere to write to.
// It is replaced by a newly initialized array when it is
// time for actual instrumentation to commence.
var CoverTab = new([CoverSize]byte)

// CmpTrace records the sequence of instrumented comparison points hit
// during one execution, in order. The driver walks consecutive pairs to
// discover control-flow edges. The trace is truncated, not grown, when
// an execution hits more than MaxTraceSize branch points.
var CmpTrace = make([]uint32, 0, MaxTraceSize)

// RecordCmp is called by instrumented branches with their stable
// comparison id.
func RecordCmp(id uint32) {
	if len(CmpTrace) < MaxTraceSize {
		CmpTrace = append(CmpTrace, id)
	}
}

// ResetTrace clears the trace between executions while keeping the
// backing array.
func ResetTrace() {
	CmpTrace = CmpTrace[:0]
}

// These are populated by an init() function generated during build
var Literals []string
var FuzzFunctions = map[string]func([]byte) int{}
