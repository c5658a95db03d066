// Package manager implements spec §4.3's Manager: a fixed-size accept
// reactor (one goroutine per bound endpoint) feeding a bounded worker pool,
// with a mutex/atomics-guarded live-session registry taking the place of
// the original's QSet<Session*> (spec §9 Design Note (d)). The worker pool
// is, per spec §5, "the sole backpressure knob" -- sized and bounded the
// same way the teacher's pkg/transport.Transport bounds outbound
// connections per host.
package manager

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n0x1m/rawhttpd/pkg/constants"
	"github.com/n0x1m/rawhttpd/pkg/rhlog"
	"github.com/n0x1m/rawhttpd/pkg/session"
	"github.com/n0x1m/rawhttpd/pkg/transport"
)

// Config configures a Manager. All fields are optional.
type Config struct {
	// HandlerPoolSize bounds concurrently-running handler invocations.
	// Zero means constants.DefaultHandlerPoolSize.
	HandlerPoolSize int
	// IdleTimeout overrides each Session's idle-close timer.
	IdleTimeout time.Duration
	// Logger receives accept/dispatch/shutdown log lines.
	Logger rhlog.Logger
	// OnAccept is invoked, on a worker goroutine, once a Session has
	// finished parsing a request. This is the Manager's
	// httpAcceptedCallback_ -- typically a router.Service's handleSession.
	OnAccept func(*session.Session)
}

// Stats is a snapshot of a Manager's load, the accept-side counterpart of
// the teacher's transport.PoolStats.
type Stats struct {
	LiveSessions   int64
	WorkerPoolSize int
}

// Manager owns zero or more bound listeners, a bounded worker pool, and
// the live-session registry. The zero value is not usable; construct with
// New.
type Manager struct {
	cfg       Config
	logger    rhlog.Logger
	poolSize  int
	work      chan func()
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	listeners []net.Listener

	sessions   sync.Map // int64 handle -> *session.Session
	nextHandle atomic.Int64
	liveCount  atomic.Int64
}

// New constructs a Manager and starts its worker pool. Call Serve once per
// endpoint to begin accepting connections, and Close to shut everything
// down.
func New(cfg Config) *Manager {
	size := cfg.HandlerPoolSize
	if size <= 0 {
		size = constants.DefaultHandlerPoolSize
	}

	m := &Manager{
		cfg:      cfg,
		logger:   rhlog.OrDefault(cfg.Logger),
		poolSize: size,
		work:     make(chan func(), size*4),
		done:     make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.work:
			fn()
		case <-m.done:
			return
		}
	}
}

// Serve binds ep synchronously -- mirroring the original's semaphore-gated
// startServerThread(), which blocks the caller until onStart() has
// succeeded or failed -- then starts accepting connections on a dedicated
// goroutine (spec §4.3's server thread pool, size 1 per endpoint).
func (m *Manager) Serve(ep transport.Endpoint) error {
	ln, err := transport.Bind(ep)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.listeners = append(m.listeners, ln)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.acceptLoop(ln)
	return nil
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			m.logger.Printf("manager: accept error on %s: %v", ln.Addr(), err)
			return
		}

		m.wg.Add(1)
		go m.admit(conn)
	}
}

// admit completes a TLS handshake if needed (spec §4.3: "only after
// handshake completes construct Session"), then constructs and starts the
// Session, registering it in the live-session set.
func (m *Manager) admit(conn net.Conn) {
	defer m.wg.Done()

	peerCert, err := transport.CompleteHandshake(conn)
	if err != nil {
		m.logger.Printf("manager: %v", err)
		_ = conn.Close()
		return
	}

	handle := m.nextHandle.Add(1)

	sess := session.New(conn, session.Config{
		IdleTimeout:     m.cfg.IdleTimeout,
		Logger:          m.cfg.Logger,
		PeerCertificate: peerCert,
		Dispatch: func(s *session.Session) {
			m.submit(func() {
				if m.cfg.OnAccept != nil {
					m.cfg.OnAccept(s)
				}
			})
		},
		OnDestroy: func(*session.Session) {
			m.sessions.Delete(handle)
			m.liveCount.Add(-1)
		},
	})

	m.sessions.Store(handle, sess)
	m.liveCount.Add(1)
	sess.Start()
}

func (m *Manager) submit(fn func()) {
	select {
	case m.work <- fn:
	case <-m.done:
	}
}

// Stats returns a snapshot of current load.
func (m *Manager) Stats() Stats {
	return Stats{
		LiveSessions:   m.liveCount.Load(),
		WorkerPoolSize: m.poolSize,
	}
}

// Close implements spec §4.3's shutdown: stop accepting on every endpoint,
// drop in-flight sessions, then drain the worker pool. Idempotent, safe to
// call from any goroutine, and blocks until every worker has returned.
//
// m.work is never closed: a Session's run() goroutine can still be racing
// submit's m.work <- fn send against this call (session goroutines aren't
// tracked by m.wg), and closing a channel a concurrent sender might still
// write to panics. done alone is enough to drain the workers -- once it's
// closed, every worker's select keeps picking the done case as soon as
// m.work runs empty.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		for _, ln := range m.listeners {
			_ = ln.Close()
		}
		m.mu.Unlock()

		m.sessions.Range(func(_, v any) bool {
			v.(*session.Session).Destroy()
			return true
		})

		m.wg.Wait()
	})
}
