// Package constants defines the default knobs used throughout rawhttpd.
package constants

import "time"

// Session timing, from spec §4.2's idle-close timer and §4.1's parsing
// limits.
const (
	// IdleCloseTimeout is how long a Session may go without a readable
	// byte or a completed write-drain before it is destroyed.
	IdleCloseTimeout = 30 * time.Second

	// UnconnectedGrace is a grace period for a Session whose stream
	// reports an unconnected state. No package reads it: a Session tears
	// itself down as soon as its read side reports EOF or an error.
	UnconnectedGrace = 1 * time.Second

	// MaxRequestLineBytes bounds how far AwaitingRequestLine scans before
	// giving up on a CRLF and dropping the connection.
	MaxRequestLineBytes = 4096

	// MaxHeaderBytes bounds how many bytes AwaitingHeaders buffers while
	// waiting for the CRLF that ends the current header line. The total
	// size of the header block is not bounded.
	MaxHeaderBytes = 64 * 1024
)

// Worker pool and transport defaults, from spec §4.3 and §5.
const (
	// DefaultHandlerPoolSize is handleMaxThreadCount's default.
	DefaultHandlerPoolSize = 2

	// ServerPoolSize is fixed: exactly one goroutine runs the accept loop
	// of each bound endpoint. Every Session it produces runs on goroutines
	// of its own.
	ServerPoolSize = 1

	// DefaultAcceptBacklog caps how many accepted connections a listener
	// keeps open at once, the accept-side half of the worker pool's
	// backpressure.
	DefaultAcceptBacklog = 128
)

// Write-drain chunk sizes, from spec §4.2: loopback peers get a larger
// chunk since the copy is memory-bandwidth bound rather than
// network-bound.
const (
	LoopbackWriteChunkSize    = 1 * 1024 * 1024 // 1 MiB
	NonLoopbackWriteChunkSize = 256 * 1024       // 256 KiB
)

// Buffer limits, from the teacher's buffer package.
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
)
