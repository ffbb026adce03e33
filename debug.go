// +build debug

package glow

import (
	"bytes"
	"fmt"
)

// traceEntry records one transform step of one pass through a flow.
type traceEntry struct {
	step    int
	reverse bool
	logdet  float64
}

func (e traceEntry) String() string {
	dir := "forward"
	if e.reverse {
		dir = "reverse"
	}
	return fmt.Sprintf("step %d %s: logdet %v", e.step, dir, e.logdet)
}

// lumberjack collects the per-step trace of every Apply on a flow. It only
// does real work under the debug build tag.
type lumberjack struct {
	*bytes.Buffer
	ch chan traceEntry
}

func makeLumberJack() lumberjack {
	return lumberjack{
		Buffer: new(bytes.Buffer),
		ch:     make(chan traceEntry),
	}
}

func (l *lumberjack) start() {
	for e := range l.ch {
		l.WriteString(e.String())
		l.WriteByte('\n')
	}
}

func (l *lumberjack) trace(step int, reverse bool, logdet float64) {
	l.ch <- traceEntry{step: step, reverse: reverse, logdet: logdet}
}

func (l *lumberjack) Reset() { l.Buffer.Reset() }

// Log returns the trace recorded so far.
func (l lumberjack) Log() string { return l.String() }
