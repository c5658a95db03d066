// Package session implements the per-connection HTTP/1.1 request parser
// and response state machine described in spec §3-§4.2: Session. A Session
// owns exactly one net.Conn, is driven by a single owning goroutine (the
// "reactor"), and hands off reply operations invoked from other goroutines
// (handlers running on a worker pool) through a command channel rather than
// a thread-affinity check — see DESIGN.md Design Note 1.
package session

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/n0x1m/rawhttpd/pkg/buffer"
	"github.com/n0x1m/rawhttpd/pkg/constants"
	rherrors "github.com/n0x1m/rawhttpd/pkg/errors"
	"github.com/n0x1m/rawhttpd/pkg/rhlog"
	"github.com/n0x1m/rawhttpd/pkg/timing"
)

// allowedMethods is the restricted method set spec §1/§4.1 accepts.
// Anything else drops the connection during AwaitingRequestLine.
var allowedMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"OPTIONS": true,
}

// HeaderField preserves a header's original key casing and insertion
// order, since spec §3 calls for case-sensitive header keys (content-length
// is the sole exception, matched case-insensitively).
type HeaderField struct {
	Key   string
	Value string
}

// Config wires a Session to its owning Manager without creating an import
// cycle: Dispatch submits the matched handler invocation onto the bounded
// worker pool (spec §4.3's backpressure knob), and OnDestroy removes the
// Session from the live-session registry.
type Config struct {
	// Dispatch is called exactly once per Session, from the owning
	// goroutine, once a full request (or a request whose body framing
	// says dispatch-now) has been parsed.
	Dispatch func(*Session)
	// OnDestroy is called exactly once per Session, after teardown, from
	// whatever goroutine performed the teardown.
	OnDestroy func(*Session)
	// Logger receives the per-session parse/write/idle log lines. Nil
	// means rhlog.NewStdLogger().
	Logger rhlog.Logger
	// IdleTimeout overrides constants.IdleCloseTimeout for tests.
	IdleTimeout time.Duration
	// PeerCertificate is set by a TLS-terminating transport once the
	// handshake completes, before the Session is constructed (spec §4.3:
	// "only after handshake completes construct Session").
	PeerCertificate any
}

// Session is a single accepted connection's parser and responder. Exported
// accessors are safe to call from any goroutine; reply_* operations are
// too, but only the first one to arrive takes effect (spec §4.2's
// single-reply guard).
type Session struct {
	conn       net.Conn
	remoteAddr string
	localAddr  string

	cfg    Config
	logger rhlog.Logger
	timer  *timing.Timer

	readCh    chan []byte
	readErrCh chan error
	cmdCh     chan func(*Session)
	closeCh   chan struct{}
	closeOnce sync.Once

	recvBuf []byte

	// Parsed request, written only by the owning goroutine during
	// AwaitingRequestLine/AwaitingHeaders/AwaitingBody, read thereafter.
	method        string
	requestTarget string
	httpVersion   string
	headers       []HeaderField
	body          *buffer.Buffer
	declaredLen   int64 // -1 if Content-Length absent

	phase Phase

	// Reply state, written only by the owning goroutine inside a cmdCh
	// callback.
	replied        bool
	replyCode      int
	replyBodySize  int64
	bytesRemaining int64
	onReplied      []func(*Session)

	peerCertificate any
}

// New constructs a Session over an already-accepted (and, for TLS, already
// handshaken) connection. It does not start the Session's goroutines; call
// Start for that. Splitting construction from Start lets a Manager install
// Session into its live-set before any bytes are read.
func New(conn net.Conn, cfg Config) *Session {
	s := &Session{
		conn:            conn,
		remoteAddr:      conn.RemoteAddr().String(),
		localAddr:       conn.LocalAddr().String(),
		cfg:             cfg,
		logger:          rhlog.OrDefault(cfg.Logger),
		timer:           timing.NewTimer(),
		readCh:          make(chan []byte, 4),
		readErrCh:       make(chan error, 1),
		cmdCh:           make(chan func(*Session), 16),
		closeCh:         make(chan struct{}),
		body:            buffer.New(constants.DefaultBodyMemLimit),
		declaredLen:     -1,
		phase:           PhaseAwaitingRequestLine,
		replyCode:       -1,
		replyBodySize:   -1,
		bytesRemaining:  -1,
		peerCertificate: cfg.PeerCertificate,
	}
	s.timer.StartHeaderParse()
	return s
}

func (s *Session) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout > 0 {
		return s.cfg.IdleTimeout
	}
	return constants.IdleCloseTimeout
}

// Start launches the Session's reader goroutine and owning reactor
// goroutine. It returns immediately; the reactor runs until the connection
// is closed or destroyed.
func (s *Session) Start() {
	go s.readLoop()
	go s.run()
}

// readLoop is the Session's sole reader. It never touches parser or reply
// state directly -- it only ferries bytes and the terminal error to the
// owning goroutine via channels, extending the read deadline on every
// successful read so the idle-close timer (spec §4.2) tracks activity
// without a separate timer goroutine.
func (s *Session) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.readCh <- chunk:
			case <-s.closeCh:
				return
			}
		}
		if err != nil {
			select {
			case s.readErrCh <- err:
			case <-s.closeCh:
			}
			return
		}
	}
}

// run is the Session's owning goroutine: the only goroutine that ever
// mutates parser state, reply state, or writes to conn. Every reply_*
// operation reaches it as a queued func(*Session) on cmdCh, in arrival
// order, regardless of which goroutine called it.
func (s *Session) run() {
	defer s.teardown()

	for {
		select {
		case data := <-s.readCh:
			s.feed(data)
			if s.phase == PhaseClosed {
				return
			}
		case err := <-s.readErrCh:
			s.handleReadError(err)
			return
		case cmd := <-s.cmdCh:
			cmd(s)
			if s.phase == PhaseClosed {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) handleReadError(err error) {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		s.logger.Printf("session %s idle timeout: %v", s.remoteAddr, rherrors.NewIdleTimeoutError(s.remoteAddr, s.idleTimeout()))
		return
	}
	// EOF or reset: either the peer hung up, or this is the expected
	// consequence of the owning goroutine closing the connection after a
	// reply finished draining (spec §4.2: "no connection reuse").
	if err != io.EOF {
		s.logger.Printf("session %s read error: %v", s.remoteAddr, err)
	}
}

// enqueue submits cmd to the owning goroutine and returns immediately,
// without blocking on cmd's execution. This is the thread-hop primitive
// every exported reply_* method and accessor-with-side-effect uses.
func (s *Session) enqueue(cmd func(*Session)) {
	select {
	case s.cmdCh <- cmd:
	case <-s.closeCh:
	}
}

// teardown closes the connection and notifies the owner exactly once. It
// always runs on the owning goroutine, either called directly by the
// parser or a reply, or from run()'s deferred call, so no further cmdCh
// sends will be serviced afterward.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		_ = s.conn.Close()
		_ = s.body.Close()
		s.phase = PhaseClosed
		if s.cfg.OnDestroy != nil {
			s.cfg.OnDestroy(s)
		}
	})
}

// Destroy tears the Session down from any goroutine. Safe to call multiple
// times.
func (s *Session) Destroy() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		_ = s.conn.Close()
		_ = s.body.Close()
		s.phase = PhaseClosed
		if s.cfg.OnDestroy != nil {
			s.cfg.OnDestroy(s)
		}
	})
}

// OnReplied registers fn to run once this Session's reply_* call has
// finished writing and draining its body, from the owning goroutine. Since
// every reply_* operation is itself an enqueued command, OnReplied must be
// called before the handler issues its reply for fn to observe the final
// status code and byte count -- callers register it before running any
// routing logic that might reply.
func (s *Session) OnReplied(fn func(*Session)) {
	s.enqueue(func(s *Session) {
		s.onReplied = append(s.onReplied, fn)
	})
}

// feed appends newly-read bytes to the receive buffer and advances the
// parser as far as it will go. Called only from run().
func (s *Session) feed(data []byte) {
	s.recvBuf = append(s.recvBuf, data...)

	for {
		switch s.phase {
		case PhaseAwaitingRequestLine:
			ok, fatal := s.parseRequestLine()
			if fatal {
				s.teardown()
				return
			}
			if !ok {
				return
			}
		case PhaseAwaitingHeaders:
			ok, fatal := s.parseHeaderLine()
			if fatal {
				s.logger.Printf("session %s malformed header", s.remoteAddr)
				s.teardown()
				return
			}
			if !ok {
				return
			}
		case PhaseAwaitingBody:
			s.accumulateBody()
			return
		default:
			return
		}
	}
}

// parseRequestLine implements spec §4.1's AwaitingRequestLine phase.
func (s *Session) parseRequestLine() (advanced, fatal bool) {
	idx := bytes.Index(s.recvBuf, crlf)
	if idx < 0 {
		if len(s.recvBuf) > constants.MaxRequestLineBytes {
			s.logger.Printf("session %s: %v", s.remoteAddr, rherrors.NewMalformedRequestError("parse_request_line", s.remoteAddr, nil))
			return false, true
		}
		return false, false
	}

	line := s.recvBuf[:idx]
	s.recvBuf = s.recvBuf[idx+2:]

	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		s.logger.Printf("session %s: %v", s.remoteAddr, rherrors.NewMalformedRequestError("parse_request_line", s.remoteAddr, nil))
		return false, true
	}

	method := string(parts[0])
	if !allowedMethods[method] {
		s.logger.Printf("session %s: %v", s.remoteAddr, rherrors.NewUnsupportedMethodError(method, s.remoteAddr))
		return false, true
	}

	s.method = method
	s.requestTarget = string(parts[1])
	s.httpVersion = string(parts[2])
	s.phase = PhaseAwaitingHeaders
	return true, false
}

// parseHeaderLine implements spec §4.1's AwaitingHeaders phase: one header
// line per call, returning once recvBuf has no further complete line.
func (s *Session) parseHeaderLine() (advanced, fatal bool) {
	idx := bytes.Index(s.recvBuf, crlf)
	if idx < 0 {
		if len(s.recvBuf) > constants.MaxHeaderBytes {
			return false, true
		}
		return false, false
	}

	line := s.recvBuf[:idx]
	s.recvBuf = s.recvBuf[idx+2:]

	if len(line) == 0 {
		s.timer.EndHeaderParse()
		s.onHeadersComplete()
		return true, false
	}

	sep := bytes.IndexByte(line, ':')
	if sep <= 0 {
		return false, true
	}

	key := string(line[:sep])
	value := string(line[sep+1:])
	value = strings.TrimPrefix(value, " ")

	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return false, true
	}

	s.headers = append(s.headers, HeaderField{Key: key, Value: value})

	if strings.EqualFold(key, "content-length") {
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			s.declaredLen = n
		}
	}

	return true, false
}

// onHeadersComplete decides, per spec §4.1, whether to dispatch immediately
// (GET/OPTIONS, or POST/PUT with no declared body) or to move into
// AwaitingBody.
func (s *Session) onHeadersComplete() {
	switch s.method {
	case "GET", "OPTIONS":
		s.dispatch()
		return
	}

	// POST/PUT.
	s.timer.StartBodyRead()
	if s.declaredLen == 0 || len(s.recvBuf) > 0 {
		s.accumulateBody()
		return
	}
	s.phase = PhaseAwaitingBody
}

// accumulateBody implements spec §4.1's AwaitingBody phase: undeclared
// length dispatches with whatever arrived; declared length dispatches
// exactly once, when the accumulated body reaches it, discarding any
// excess bytes already buffered past that point.
func (s *Session) accumulateBody() {
	s.phase = PhaseAwaitingBody

	if s.declaredLen < 0 {
		if _, err := s.body.Write(s.recvBuf); err != nil {
			s.logger.Printf("session %s: %v", s.remoteAddr, err)
			s.teardown()
			return
		}
		s.recvBuf = nil
		s.dispatch()
		return
	}

	need := s.declaredLen - s.body.Size()
	if need > 0 {
		take := int64(len(s.recvBuf))
		if take > need {
			take = need
		}
		if _, err := s.body.Write(s.recvBuf[:take]); err != nil {
			s.logger.Printf("session %s: %v", s.remoteAddr, err)
			s.teardown()
			return
		}
		s.recvBuf = s.recvBuf[take:]
	}

	if s.body.Size() >= s.declaredLen {
		s.recvBuf = nil // excess discarded
		s.dispatch()
	}
}

// dispatch fires exactly once per Session: it stamps the body-read phase
// end, flips to HandlerRunning, and submits the matched handler invocation
// onto the worker pool through cfg.Dispatch.
func (s *Session) dispatch() {
	s.timer.EndBodyRead()
	s.phase = PhaseHandlerRunning
	s.timer.StartHandler()
	if s.cfg.Dispatch != nil {
		s.cfg.Dispatch(s)
	}
}

// --- accessors, safe from any goroutine: parser fields are immutable once
// dispatch() has run, and dispatch() happens-before the handler goroutine
// that calls these is started. ---

// Method returns the request method, one of GET/POST/PUT/OPTIONS.
func (s *Session) Method() string { return s.method }

// RequestTarget returns the raw request-target as it appeared on the wire,
// including any query string.
func (s *Session) RequestTarget() string { return s.requestTarget }

// HTTPVersion returns the HTTP version token from the request line.
func (s *Session) HTTPVersion() string { return s.httpVersion }

// Header returns the value stored under key, matched case-sensitively
// except that "content-length" is matched case-insensitively (spec §3).
// When a key repeats, the last occurrence wins, the same rule
// DeclaredContentLength follows.
func (s *Session) Header(key string) (string, bool) {
	foldLength := strings.EqualFold(key, "content-length")
	value, found := "", false
	for _, h := range s.headers {
		if h.Key == key || (foldLength && strings.EqualFold(h.Key, key)) {
			value, found = h.Value, true
		}
	}
	return value, found
}

// Headers returns every header field in arrival order.
func (s *Session) Headers() []HeaderField {
	out := make([]HeaderField, len(s.headers))
	copy(out, s.headers)
	return out
}

// Body returns the accumulated request body, reading it back from disk if
// it spilled past constants.DefaultBodyMemLimit.
func (s *Session) Body() []byte {
	if mem := s.body.Bytes(); mem != nil {
		return mem
	}
	if s.body.Size() == 0 {
		return nil
	}
	r, err := s.body.Reader()
	if err != nil {
		s.logger.Printf("session %s: %v", s.remoteAddr, err)
		return nil
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		s.logger.Printf("session %s: %v", s.remoteAddr, err)
		return nil
	}
	return data
}

// DeclaredContentLength returns the parsed Content-Length, or -1 if absent.
func (s *Session) DeclaredContentLength() int64 { return s.declaredLen }

// RemoteAddr returns the peer's address.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// LocalAddr returns the local listening address this Session was accepted on.
func (s *Session) LocalAddr() string { return s.localAddr }

// Phase returns the Session's current position in the state machine.
func (s *Session) Phase() Phase { return s.phase }

// PeerCertificate returns the TLS peer certificate captured by the
// transport during handshake, or nil for plaintext/local connections or
// when the peer presented none.
func (s *Session) PeerCertificate() any { return s.peerCertificate }

// ReplyHTTPCode returns the status code passed to the reply_* call that
// took effect, or -1 if none has yet.
func (s *Session) ReplyHTTPCode() int { return s.replyCode }

// ReplyBodySize returns the size of the reply body, or -1 if none has been
// sent yet.
func (s *Session) ReplyBodySize() int64 { return s.replyBodySize }

// Metrics returns the session's phase timings so far.
func (s *Session) Metrics() timing.Metrics { return s.timer.Metrics() }

// isLoopback reports whether the peer address is on loopback, used to pick
// the write-drain chunk size in reply.go (spec §4.2).
func (s *Session) isLoopback() bool {
	host, _, err := net.SplitHostPort(s.remoteAddr)
	if err != nil {
		host = s.remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

var crlf = []byte("\r\n")
