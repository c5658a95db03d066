package transport

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	rherrors "github.com/n0x1m/rawhttpd/pkg/errors"
)

func TestBindTCP(t *testing.T) {
	ln, err := Bind(Endpoint{Kind: KindTCP, Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	conn.Close()
}

func TestBindLocal(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "rawhttpd-test.sock")
	ln, err := Bind(Endpoint{Kind: KindLocal, Address: sockPath})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ln.Close()

	if _, err := os.Stat(sockPath); err != nil {
		t.Fatalf("expected socket file to exist: %v", err)
	}
}

func TestBindFailureWrapsError(t *testing.T) {
	_, err := Bind(Endpoint{Kind: KindTCP, Address: "not-a-valid-address"})
	if err == nil {
		t.Fatalf("expected a bind error for an invalid address")
	}
	if !rherrors.Is(err, rherrors.ErrorTypeBindFailure) {
		t.Fatalf("expected a BindFailure error, got %v", err)
	}
}

func TestCompleteHandshakeNoopForPlainConn(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cert, err := CompleteHandshake(server)
	if err != nil {
		t.Fatalf("CompleteHandshake: %v", err)
	}
	if cert != nil {
		t.Fatalf("expected nil peer certificate for a plain connection")
	}
}
