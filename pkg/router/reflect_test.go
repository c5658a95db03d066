package router

import (
	"net"
	"strings"
	"testing"

	"github.com/n0x1m/rawhttpd/pkg/rhlog"
	"github.com/n0x1m/rawhttpd/pkg/session"
)

type userProcessor struct {
	verified bool
}

func (p *userProcessor) APIPathPrefix() string { return "/users" }

func (p *userProcessor) GetList(s *session.Session) {
	Reply(s, List{"a", "b"}, true, "", 200)
}

func (p *userProcessor) PostCreate(s *session.Session, body Map) {
	Reply(s, body, true, "created", 200)
}

func (p *userProcessor) VerifyCertificate(s *session.Session) bool {
	p.verified = true
	return false
}

func dialReflected(t *testing.T, svc *Service, req string) (status, body string) {
	t.Helper()
	client := newTestSession(t, svc)
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	status, _, body = readResponse(t, client)
	return
}

func TestRegisterProcessorExposesPrefixedRoutes(t *testing.T) {
	svc := NewService(rhlog.Noop())
	proc := &userProcessor{}
	if err := svc.RegisterProcessor(proc); err != nil {
		t.Fatalf("RegisterProcessor: %v", err)
	}

	status, body := dialReflected(t, svc, "GET /users/list HTTP/1.1\r\n\r\n")
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(body, `["a","b"]`) {
		t.Fatalf("body = %q", body)
	}
}

func TestRegisterProcessorPostRoute(t *testing.T) {
	svc := NewService(rhlog.Noop())
	proc := &userProcessor{}
	if err := svc.RegisterProcessor(proc); err != nil {
		t.Fatalf("RegisterProcessor: %v", err)
	}

	reqBody := `{"name":"ada"}`
	req := "POST /users/create HTTP/1.1\r\nContent-Length: 14\r\n\r\n" + reqBody
	status, body := dialReflected(t, svc, req)
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(body, `"name":"ada"`) {
		t.Fatalf("body = %q", body)
	}
}

func TestRegisterProcessorCertificateVerifierHooksUp(t *testing.T) {
	svc := NewService(rhlog.Noop())
	proc := &userProcessor{}
	if err := svc.RegisterProcessor(proc); err != nil {
		t.Fatalf("RegisterProcessor: %v", err)
	}

	server, client := net.Pipe()
	cert := &struct{}{}
	s := session.New(server, session.Config{
		Logger:          rhlog.Noop(),
		Dispatch:        svc.handleSession,
		PeerCertificate: cert,
	})
	s.Start()
	t.Cleanup(func() { s.Destroy() })

	if _, err := client.Write([]byte("GET /users/list HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readResponse(t, client)

	if !proc.verified {
		t.Fatalf("expected VerifyCertificate to be invoked for a TLS session")
	}
}
