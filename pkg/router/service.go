// Package router implements spec §4.4's Router/Service: path-to-handler
// registration with JSON input shapes, the uniform reply envelope, the
// built-in /ping, /favicon.ico and OPTIONS endpoints, and the
// snake_case-to-camelCase fallback. Registration has two layers, per spec
// §9 Design Note (b): Register is the explicit primitive, and
// RegisterProcessor is an optional reflective convenience layer built on
// top of it, mirroring the original's slot-name-prefix convention
// (original_source/.../jqhttpserver.cpp, Service::registerProcessor).
package router

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"

	rherrors "github.com/n0x1m/rawhttpd/pkg/errors"
	"github.com/n0x1m/rawhttpd/pkg/manager"
	"github.com/n0x1m/rawhttpd/pkg/rhlog"
	"github.com/n0x1m/rawhttpd/pkg/session"
	"github.com/n0x1m/rawhttpd/pkg/tlsconfig"
	"github.com/n0x1m/rawhttpd/pkg/transport"
)

type routeKey struct {
	method string
	path   string
}

type route struct {
	handler boundHandler
	shape   InputShape
}

type prefixRoute struct {
	method  string
	prefix  string
	handler boundHandler
	shape   InputShape
}

type sessionPrefixHandler struct {
	prefix  string
	handler func(*session.Session)
}

// CertificateVerifier is consulted before routing for every session whose
// TLS peer presented a certificate (spec §3 Supplemented features). TLS
// sessions without a client certificate are routed without consulting it,
// as are plaintext sessions. If it returns true the Session is assumed to
// have already replied and routing is skipped.
type CertificateVerifier func(s *session.Session) bool

// ServiceConfig is the config surface named in spec §6: HTTP/HTTPS ports,
// one or more handler objects, a stable UUID for logging, and TLS
// credentials.
type ServiceConfig struct {
	HTTPPort  int
	HTTPSPort int

	// Processor is a single handler object or a []any of them, each
	// registered via RegisterProcessor.
	Processor any

	// UUID, if non-empty, must parse as a github.com/google/uuid and is
	// embedded in every per-request log line.
	UUID string

	SSLCrtPath        string
	SSLKeyPath        string
	SSLCAPaths        []string
	SSLPeerVerifyMode tlsconfig.PeerVerifyMode

	HandlerPoolSize int
	IdleTimeout     time.Duration
	Logger          rhlog.Logger
}

// Service is the routing and reply layer sitting on top of a Manager.
type Service struct {
	mu                    sync.RWMutex
	exact                 map[routeKey]route
	prefixes              map[string][]prefixRoute
	sessionPrefixHandlers []sessionPrefixHandler
	certVerifier          CertificateVerifier

	uuid   string
	logger rhlog.Logger
	mgr    *manager.Manager
}

// NewService constructs a Service with the built-in endpoints registered,
// without binding any listener -- useful for unit tests that drive
// handleSession directly. CreateService is the entry point that also binds
// ports.
func NewService(logger rhlog.Logger) *Service {
	svc := &Service{
		exact:    map[routeKey]route{},
		prefixes: map[string][]prefixRoute{},
		logger:   rhlog.OrDefault(logger),
	}
	svc.registerBuiltins()
	return svc
}

// CreateService builds a Service, registers cfg.Processor (if any), and
// binds cfg.HTTPPort/cfg.HTTPSPort. It is the Go counterpart of the
// original's static Service::createService.
func CreateService(cfg ServiceConfig) (*Service, error) {
	if cfg.UUID != "" {
		if _, err := uuid.Parse(cfg.UUID); err != nil {
			return nil, rherrors.NewMalformedRequestError("parse_uuid", "", err)
		}
	}

	svc := NewService(cfg.Logger)
	svc.uuid = cfg.UUID

	if cfg.Processor != nil {
		processors := asSlice(cfg.Processor)
		for _, p := range processors {
			if err := svc.RegisterProcessor(p); err != nil {
				return nil, err
			}
		}
	}

	svc.mgr = manager.New(manager.Config{
		HandlerPoolSize: cfg.HandlerPoolSize,
		IdleTimeout:     cfg.IdleTimeout,
		Logger:          svc.logger,
		OnAccept:        svc.handleSession,
	})

	if cfg.HTTPPort > 0 {
		if err := svc.mgr.Serve(transport.Endpoint{
			Kind:    transport.KindTCP,
			Address: portAddr(cfg.HTTPPort),
		}); err != nil {
			return nil, err
		}
	}

	if cfg.HTTPSPort > 0 {
		if err := svc.mgr.Serve(transport.Endpoint{
			Kind:    transport.KindTLS,
			Address: portAddr(cfg.HTTPSPort),
			TLS: tlsconfig.Credentials{
				CertPath:   cfg.SSLCrtPath,
				KeyPath:    cfg.SSLKeyPath,
				CAPaths:    cfg.SSLCAPaths,
				PeerVerify: cfg.SSLPeerVerifyMode,
			},
		}); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// Close stops accepting connections and drains the worker pool.
func (svc *Service) Close() {
	if svc.mgr != nil {
		svc.mgr.Close()
	}
}

// Stats exposes the underlying Manager's load, or a zero Stats before
// CreateService has bound anything.
func (svc *Service) Stats() manager.Stats {
	if svc.mgr == nil {
		return manager.Stats{}
	}
	return svc.mgr.Stats()
}

// Register is spec §9 Design Note (b)'s explicit registration primitive.
// path may be an exact path ("/users") or a prefix pattern ending in "/*"
// ("/files/*"). handler must match shape: Handler for ShapeNone,
// ListHandler for ShapeList, MapHandler for ShapeMap, ListOfMapHandler for
// ShapeListOfMap (or the equivalent unnamed func types).
func (svc *Service) Register(method, path string, shape InputShape, handler any) error {
	bound, err := bindHandler(shape, handler)
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	method = strings.ToUpper(method)

	if prefix, ok := strings.CutSuffix(path, "/*"); ok {
		svc.prefixes[method] = append(svc.prefixes[method], prefixRoute{
			method:  method,
			prefix:  prefix,
			handler: bound,
			shape:   shape,
		})
		sort.Slice(svc.prefixes[method], func(i, j int) bool {
			return len(svc.prefixes[method][i].prefix) > len(svc.prefixes[method][j].prefix)
		})
		return nil
	}

	svc.exact[routeKey{method: method, path: path}] = route{handler: bound, shape: shape}
	return nil
}

// RegisterPrefixHandler installs a handler receiving every session whose
// path starts with prefix, regardless of method -- the explicit-API
// counterpart of a reflective sessionAccepted member (spec §3
// Supplemented features).
func (svc *Service) RegisterPrefixHandler(prefix string, handler func(*session.Session)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.sessionPrefixHandlers = append(svc.sessionPrefixHandlers, sessionPrefixHandler{prefix: prefix, handler: handler})
	sort.Slice(svc.sessionPrefixHandlers, func(i, j int) bool {
		return len(svc.sessionPrefixHandlers[i].prefix) > len(svc.sessionPrefixHandlers[j].prefix)
	})
}

// SetCertificateVerifier installs the optional per-TLS-session hook.
func (svc *Service) SetCertificateVerifier(cv CertificateVerifier) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.certVerifier = cv
}

func (svc *Service) registerBuiltins() {
	svc.Register("GET", "/ping", ShapeNone, Handler(svc.httpGetPing))
	svc.Register("GET", "/favicon.ico", ShapeNone, Handler(svc.httpGetFaviconIco))
}

// handleSession is the Manager's OnAccept callback and implements spec
// §4.4's onSessionAccepted routing algorithm.
func (svc *Service) handleSession(s *session.Session) {
	recorder := newRequestRecorder(svc.logger, svc.uuid, s)
	s.OnReplied(recorder.finish)

	if svc.isTLSSession(s) {
		svc.mu.RLock()
		cv := svc.certVerifier
		svc.mu.RUnlock()
		if cv != nil && cv(s) {
			return
		}
	}

	method := strings.ToUpper(s.Method())
	path := s.RequestURLPath()

	if svc.dispatchExact(s, method, path) {
		return
	}
	if svc.dispatchPrefix(s, method, path) {
		return
	}
	if strings.Contains(path, "_") {
		camel := snakeSegmentsToCamel(path)
		if camel != path && svc.dispatchExact(s, method, camel) {
			return
		}
	}
	if svc.dispatchSessionPrefix(s, path) {
		return
	}

	switch {
	case method == "GET" && path == "/ping":
		svc.httpGetPing(s)
		return
	case method == "GET" && path == "/favicon.ico":
		svc.httpGetFaviconIco(s)
		return
	case method == "OPTIONS":
		s.ReplyOptions()
		return
	}

	replyNotFound(s, svc.logger, method, path)
}

func (svc *Service) isTLSSession(s *session.Session) bool {
	return s.PeerCertificate() != nil
}

func (svc *Service) dispatchExact(s *session.Session, method, path string) bool {
	svc.mu.RLock()
	r, ok := svc.exact[routeKey{method: method, path: path}]
	svc.mu.RUnlock()
	if !ok {
		return false
	}
	r.handler(s, s.Body())
	return true
}

func (svc *Service) dispatchPrefix(s *session.Session, method, path string) bool {
	svc.mu.RLock()
	candidates := svc.prefixes[method]
	svc.mu.RUnlock()
	for _, p := range candidates {
		if strings.HasPrefix(path, p.prefix) {
			p.handler(s, s.Body())
			return true
		}
	}
	return false
}

func (svc *Service) dispatchSessionPrefix(s *session.Session, path string) bool {
	svc.mu.RLock()
	candidates := svc.sessionPrefixHandlers
	svc.mu.RUnlock()
	for _, p := range candidates {
		if strings.HasPrefix(path, p.prefix) {
			p.handler(s)
			return true
		}
	}
	return false
}

// snakeSegmentsToCamel converts every "_"-containing path segment to
// lowerCamelCase via strcase, spec §4.4's fallback retry.
func snakeSegmentsToCamel(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.Contains(seg, "_") {
			segments[i] = strcase.ToLowerCamel(seg)
		}
	}
	return strings.Join(segments, "/")
}

func (svc *Service) httpGetPing(s *session.Session) {
	Reply(s, Map{"serverTime": time.Now().UnixMilli()}, true, "", 200)
}

func asSlice(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
