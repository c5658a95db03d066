// Package timing provides per-request phase measurement for sessions,
// the server-side counterpart of the original round-trip timings this
// module's teacher library captured for outbound requests.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures how long a single session spent in each phase of the
// request lifecycle described in spec §3/§4.1.
type Metrics struct {
	// HeaderParse is the time from accept until the request line and
	// headers finished parsing.
	HeaderParse time.Duration `json:"headerParse"`

	// BodyRead is the time spent accumulating the request body, zero for
	// GET/OPTIONS or bodies that arrived with the final header packet.
	BodyRead time.Duration `json:"bodyRead"`

	// HandlerRun is the time the dispatched handler spent running on a
	// worker goroutine.
	HandlerRun time.Duration `json:"handlerRun"`

	// WriteDrain is the time spent writing and draining the reply back to
	// the peer.
	WriteDrain time.Duration `json:"writeDrain"`

	// Total is the time from accept until Metrics was called.
	Total time.Duration `json:"total"`
}

// Timer measures the phases of a single session's lifetime. It is not
// safe for concurrent use; a Session has exactly one owning goroutine at a
// time per spec §5.
type Timer struct {
	start time.Time

	headerStart, headerEnd time.Time
	bodyStart, bodyEnd     time.Time
	handlerStart           time.Time
	handlerEnd             time.Time
	writeStart, writeEnd   time.Time
}

// NewTimer starts a new timing session, recording the accept time.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartHeaderParse marks the beginning of request-line/header scanning.
func (t *Timer) StartHeaderParse() { t.headerStart = time.Now() }

// EndHeaderParse marks the end of the header phase.
func (t *Timer) EndHeaderParse() { t.headerEnd = time.Now() }

// StartBodyRead marks the beginning of body accumulation.
func (t *Timer) StartBodyRead() { t.bodyStart = time.Now() }

// EndBodyRead marks the end of body accumulation, just before dispatch.
func (t *Timer) EndBodyRead() { t.bodyEnd = time.Now() }

// StartHandler marks when a worker begins running the matched handler.
func (t *Timer) StartHandler() { t.handlerStart = time.Now() }

// EndHandler marks when the handler returns or calls a reply_* operation.
func (t *Timer) EndHandler() { t.handlerEnd = time.Now() }

// StartWrite marks the beginning of writing the reply to the peer.
func (t *Timer) StartWrite() { t.writeStart = time.Now() }

// EndWrite marks the moment bytesRemainingToWrite reaches zero.
func (t *Timer) EndWrite() { t.writeEnd = time.Now() }

// Metrics computes the elapsed duration of every phase recorded so far.
// Phases that were never started/ended report zero.
func (t *Timer) Metrics() Metrics {
	m := Metrics{Total: time.Since(t.start)}

	if !t.headerStart.IsZero() && !t.headerEnd.IsZero() {
		m.HeaderParse = t.headerEnd.Sub(t.headerStart)
	}
	if !t.bodyStart.IsZero() && !t.bodyEnd.IsZero() {
		m.BodyRead = t.bodyEnd.Sub(t.bodyStart)
	}
	if !t.handlerStart.IsZero() && !t.handlerEnd.IsZero() {
		m.HandlerRun = t.handlerEnd.Sub(t.handlerStart)
	}
	if !t.writeStart.IsZero() && !t.writeEnd.IsZero() {
		m.WriteDrain = t.writeEnd.Sub(t.writeStart)
	}
	return m
}

// String provides a human-readable representation of every phase.
func (m Metrics) String() string {
	return fmt.Sprintf("headerParse=%v bodyRead=%v handlerRun=%v writeDrain=%v total=%v",
		m.HeaderParse, m.BodyRead, m.HandlerRun, m.WriteDrain, m.Total)
}
