// Package transport implements spec §4.3/§9 Design Note (c)'s bind/accept
// abstraction: one function binds a listening endpoint, whatever its kind,
// and an ordinary net.Listener.Accept handles the rest. TCP, TLS, and
// local (UNIX-domain) servers are all variants of the same Endpoint,
// replacing the teacher's per-scheme dialing logic
// (pkg/transport.Transport.Connect, upgradeTLS, connectTCP) with its
// accept-side mirror.
package transport

import (
	"crypto/tls"
	"net"
	"os"
	"runtime"

	rherrors "github.com/n0x1m/rawhttpd/pkg/errors"
	"github.com/n0x1m/rawhttpd/pkg/tlsconfig"
	"golang.org/x/net/netutil"
)

// Kind names the transport flavor an Endpoint describes.
type Kind int

const (
	// KindTCP is a plain TCP listener.
	KindTCP Kind = iota
	// KindTLS is a TCP listener wrapped in a server-side TLS handshake,
	// using Credentials loaded from Endpoint.TLS.
	KindTLS
	// KindLocal is a UNIX-domain socket listener, spec §6's "Local
	// transport".
	KindLocal
)

// Endpoint describes where, and how, to bind a listener.
type Endpoint struct {
	Kind Kind
	// Address is "host:port" for KindTCP/KindTLS, or a filesystem path
	// for KindLocal.
	Address string
	// TLS is required for KindTLS and ignored otherwise.
	TLS tlsconfig.Credentials
	// MaxPendingAccepts caps how many accepted connections may be open at
	// once: when that many are open, Accept blocks until one of them is
	// closed -- the accept-side half of spec §5's backpressure, mirroring
	// the teacher's bounded connection pool (pkg/transport.hostPool's
	// numActive cap, now applied to inbound rather than outbound
	// connections) via golang.org/x/net/netutil.LimitListener.
	MaxPendingAccepts int
}

// Bind opens ep's listener. The returned net.Listener is wrapped in
// netutil.LimitListener so a burst of inbound connections cannot outrun
// the worker pool that will eventually dispatch them.
func Bind(ep Endpoint) (net.Listener, error) {
	var (
		ln  net.Listener
		err error
	)

	switch ep.Kind {
	case KindTCP:
		ln, err = net.Listen("tcp", ep.Address)
	case KindTLS:
		var cfg *tls.Config
		cfg, err = tlsconfig.LoadServerConfig(ep.TLS)
		if err == nil {
			ln, err = tls.Listen("tcp", ep.Address, cfg)
		}
	case KindLocal:
		_ = os.Remove(ep.Address) // stale socket file from a prior run
		ln, err = net.Listen(localNetwork(), ep.Address)
	}

	if err != nil {
		return nil, rherrors.NewBindFailureError(ep.Address, err)
	}

	backlog := ep.MaxPendingAccepts
	if backlog <= 0 {
		backlog = defaultAcceptBacklog
	}
	return netutil.LimitListener(ln, backlog), nil
}

// localNetwork returns the net.Listen network name for KindLocal. UNIX
// sockets are supported on Linux/macOS directly; Windows 10+ also accepts
// "unix" for AF_UNIX sockets, so no separate named-pipe code path exists.
func localNetwork() string {
	if runtime.GOOS == "windows" {
		return "unix"
	}
	return "unix"
}

const defaultAcceptBacklog = 128

// CompleteHandshake performs the server-side TLS handshake synchronously
// when conn is a *tls.Conn, returning the verified peer certificate (or
// nil if the peer presented none). For non-TLS connections it is a no-op.
// Spec §4.3 requires the handshake to finish before a Session is
// constructed over the connection.
func CompleteHandshake(conn net.Conn) (peerCert any, err error) {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, nil
	}
	if err := tlsConn.Handshake(); err != nil {
		return nil, rherrors.NewTlsHandshakeFailureError(conn.RemoteAddr().String(), err)
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) > 0 {
		return state.PeerCertificates[0], nil
	}
	return nil, nil
}
