package router

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/n0x1m/rawhttpd/pkg/rhlog"
	"github.com/n0x1m/rawhttpd/pkg/session"
)

func newTestSession(t *testing.T, svc *Service) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	s := session.New(server, session.Config{
		Logger:      rhlog.Noop(),
		IdleTimeout: 2 * time.Second,
		Dispatch:    svc.handleSession,
	})
	s.Start()
	t.Cleanup(func() { s.Destroy() })
	return client
}

func readResponse(t *testing.T, client net.Conn) (status string, headers map[string]string, body string) {
	t.Helper()
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	status = strings.TrimSpace(statusLine)

	headers = map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading header line: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			headers[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
		}
	}

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	body = string(buf)
	return
}

func TestPingBuiltin(t *testing.T) {
	svc := NewService(rhlog.Noop())
	client := newTestSession(t, svc)

	if _, err := client.Write([]byte("GET /ping HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	status, _, body := readResponse(t, client)
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(body, `"isSucceed":true`) {
		t.Fatalf("body = %q", body)
	}
}

func TestFaviconBuiltin(t *testing.T) {
	svc := NewService(rhlog.Noop())
	client := newTestSession(t, svc)

	if _, err := client.Write([]byte("GET /favicon.ico HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	status, headers, body := readResponse(t, client)
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q", status)
	}
	if headers["Content-Type"] != "image/png" {
		t.Fatalf("Content-Type = %q", headers["Content-Type"])
	}
	if len(body) == 0 {
		t.Fatalf("expected non-empty favicon body")
	}
}

func TestExplicitRegisterMapRoute(t *testing.T) {
	svc := NewService(rhlog.Noop())
	if err := svc.Register("POST", "/echo", ShapeMap, MapHandler(func(s *session.Session, body Map) {
		Reply(s, body, true, "", 200)
	})); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client := newTestSession(t, svc)
	body := `{"hello":"world"}`
	req := "POST /echo HTTP/1.1\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, respBody := readResponse(t, client)
	if !strings.Contains(respBody, `"hello":"world"`) {
		t.Fatalf("body = %q", respBody)
	}
}

func TestMalformedBodyRepliesDataError(t *testing.T) {
	svc := NewService(rhlog.Noop())
	_ = svc.Register("POST", "/echo", ShapeMap, MapHandler(func(s *session.Session, body Map) {
		Reply(s, body, true, "", 200)
	}))

	client := newTestSession(t, svc)
	body := `not json`
	req := "POST /echo HTTP/1.1\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	status, _, respBody := readResponse(t, client)
	if status != "HTTP/1.1 404 OK" {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(respBody, `"message":"data error"`) {
		t.Fatalf("body = %q", respBody)
	}
}

func TestSnakeCaseFallback(t *testing.T) {
	svc := NewService(rhlog.Noop())
	_ = svc.Register("GET", "/userList", ShapeNone, Handler(func(s *session.Session) {
		Reply(s, nil, true, "ok", 200)
	}))

	client := newTestSession(t, svc)
	if _, err := client.Write([]byte("GET /user_list HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, body := readResponse(t, client)
	if !strings.Contains(body, `"message":"ok"`) {
		t.Fatalf("expected snake_case fallback to hit /userList, got %q", body)
	}
}

func TestUnmatchedRouteReplies404(t *testing.T) {
	svc := NewService(rhlog.Noop())
	client := newTestSession(t, svc)

	if _, err := client.Write([]byte("GET /nope HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	status, _, body := readResponse(t, client)
	if status != "HTTP/1.1 404 OK" {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(body, "API not found") {
		t.Fatalf("body = %q", body)
	}
}

func TestPrefixHandlerRoutesSession(t *testing.T) {
	svc := NewService(rhlog.Noop())
	var seen string
	svc.RegisterPrefixHandler("/admin", func(s *session.Session) {
		seen = s.RequestURLPath()
		Reply(s, nil, true, "admin", 200)
	})

	client := newTestSession(t, svc)
	if _, err := client.Write([]byte("GET /admin/users HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, body := readResponse(t, client)
	if !strings.Contains(body, `"message":"admin"`) {
		t.Fatalf("body = %q", body)
	}
	if seen != "/admin/users" {
		t.Fatalf("path = %q", seen)
	}
}
