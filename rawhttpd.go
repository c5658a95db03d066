// Package rawhttpd implements a lightweight HTTP/1.1 server for embedding
// into larger applications: each accepted connection is driven through an
// explicit request/response state machine, handlers are registered either
// explicitly or reflectively off a plain Go struct, and router replies go
// out as a uniform JSON envelope.
package rawhttpd

import (
	"github.com/n0x1m/rawhttpd/pkg/buffer"
	"github.com/n0x1m/rawhttpd/pkg/errors"
	"github.com/n0x1m/rawhttpd/pkg/manager"
	"github.com/n0x1m/rawhttpd/pkg/router"
	"github.com/n0x1m/rawhttpd/pkg/session"
	"github.com/n0x1m/rawhttpd/pkg/timing"
	"github.com/n0x1m/rawhttpd/pkg/tlsconfig"
)

// Version is the current version of the rawhttpd library.
const Version = "1.0.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}

// Re-export the types a typical embedder needs, so most programs only
// import this one package.
type (
	// Service is the routing and reply layer: register handlers, then let
	// it accept connections.
	Service = router.Service

	// ServiceConfig configures CreateService.
	ServiceConfig = router.ServiceConfig

	// Session is a single accepted connection's parser and responder,
	// passed to every registered handler.
	Session = session.Session

	// Handler, ListHandler, MapHandler and ListOfMapHandler are the four
	// handler shapes Register and RegisterProcessor accept.
	Handler          = router.Handler
	ListHandler      = router.ListHandler
	MapHandler       = router.MapHandler
	ListOfMapHandler = router.ListOfMapHandler

	// List, Map and ListOfMap are the decoded request-body shapes.
	List      = router.List
	Map       = router.Map
	ListOfMap = router.ListOfMap

	// InputShape names which of the above a route expects.
	InputShape = router.InputShape

	// Stats is a snapshot of a running Service's load.
	Stats = manager.Stats

	// Metrics captures per-request phase timings.
	Metrics = timing.Metrics

	// Buffer provides memory-efficient body storage with disk spilling.
	Buffer = buffer.Buffer

	// Error is a structured error with context information.
	Error = errors.Error

	// ErrorType enumerates the kinds of Error this library produces.
	ErrorType = errors.ErrorType

	// Credentials holds the server certificate, key and peer-verification
	// mode for an HTTPS endpoint.
	Credentials = tlsconfig.Credentials

	// PeerVerifyMode controls whether and how client certificates are
	// requested on an HTTPS endpoint.
	PeerVerifyMode = tlsconfig.PeerVerifyMode
)

// Re-export the input shapes for convenience.
const (
	ShapeNone      = router.ShapeNone
	ShapeList      = router.ShapeList
	ShapeMap       = router.ShapeMap
	ShapeListOfMap = router.ShapeListOfMap
)

// Re-export the peer-verification modes.
const (
	PeerVerifyNone     = tlsconfig.PeerVerifyNone
	PeerVerifyRequired = tlsconfig.PeerVerifyRequired
	PeerVerifyOptional = tlsconfig.PeerVerifyOptional
)

// Re-export error types for convenience.
const (
	ErrorTypeMalformedRequest     = errors.ErrorTypeMalformedRequest
	ErrorTypeUnsupportedMethod    = errors.ErrorTypeUnsupportedMethod
	ErrorTypeIdleTimeout          = errors.ErrorTypeIdleTimeout
	ErrorTypeReplyAfterReply      = errors.ErrorTypeReplyAfterReply
	ErrorTypeBindFailure          = errors.ErrorTypeBindFailure
	ErrorTypeTlsHandshakeFailure  = errors.ErrorTypeTlsHandshakeFailure
	ErrorTypeHandlerNotRegistered = errors.ErrorTypeHandlerNotRegistered
	ErrorTypeBodyShapeMismatch    = errors.ErrorTypeBodyShapeMismatch
	ErrorTypeWriteFailure         = errors.ErrorTypeWriteFailure
	ErrorTypeIO                  = errors.ErrorTypeIO
)

// NewService builds a Service with the built-in endpoints (/ping,
// /favicon.ico, OPTIONS preflight) in place but no listener bound. The
// returned Service has no method that binds a port or accepts from a
// net.Listener; CreateService is the constructor that binds ports.
func NewService() *Service {
	return router.NewService(nil)
}

// CreateService builds a Service, registers cfg.Processor, and binds
// cfg.HTTPPort and/or cfg.HTTPSPort. This is the usual entry point.
func CreateService(cfg ServiceConfig) (*Service, error) {
	return router.CreateService(cfg)
}

// GetErrorType returns the error type if err is a structured Error, or
// the zero ErrorType otherwise.
func GetErrorType(err error) ErrorType {
	return errors.GetErrorType(err)
}

// IsErrorType reports whether err is a structured Error of type t.
func IsErrorType(err error, t ErrorType) bool {
	return errors.Is(err, t)
}

// Reply writes the uniform {isSucceed, message, data?} JSON envelope every
// handler should reply with.
func Reply(s *Session, data any, isSucceed bool, message string, code int) {
	router.Reply(s, data, isSucceed, message, code)
}
