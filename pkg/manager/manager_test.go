package manager

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/n0x1m/rawhttpd/pkg/session"
	"github.com/n0x1m/rawhttpd/pkg/transport"
)

func TestServeAndDispatch(t *testing.T) {
	m := New(Config{
		HandlerPoolSize: 2,
		IdleTimeout:     2 * time.Second,
		OnAccept: func(s *session.Session) {
			s.ReplyText(s.Method()+" "+s.RequestURLPath(), 200)
		},
	})
	defer m.Close()

	if err := m.Serve(transport.Endpoint{Kind: transport.KindTCP, Address: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	addr := firstListenerAddr(t, m)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /status HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("status = %q", status)
	}
}

func TestCloseIsIdempotentAndDrainsSessions(t *testing.T) {
	m := New(Config{OnAccept: func(s *session.Session) { s.ReplyText("ok", 200) }})
	if err := m.Serve(transport.Endpoint{Kind: transport.KindTCP, Address: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	conn, err := net.Dial("tcp", firstListenerAddr(t, m))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().LiveSessions == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := m.Stats().LiveSessions; got != 1 {
		t.Fatalf("expected 1 live session before Close, got %d", got)
	}

	m.Close()
	m.Close() // must not panic or block a second time

	if got := m.Stats().LiveSessions; got != 0 {
		t.Fatalf("expected 0 live sessions after Close, got %d", got)
	}
}

func firstListenerAddr(t *testing.T, m *Manager) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listeners) == 0 {
		t.Fatalf("no listeners bound")
	}
	return m.listeners[0].Addr().String()
}
