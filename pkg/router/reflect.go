package router

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/n0x1m/rawhttpd/pkg/session"
)

// httpMethodPrefixes maps a method-name prefix to the HTTP method it
// registers under, mirroring the original's slot-name convention
// (original_source/.../jqhttpserver.cpp: httpGet..., httpPost...,
// httpPut..., httpDelete...). DELETE is kept for fidelity even though the
// transport's restricted method set (spec §1) never dispatches one.
var httpMethodPrefixes = []struct {
	prefix string
	method string
}{
	{"Get", "GET"},
	{"Post", "POST"},
	{"Put", "PUT"},
	{"Delete", "DELETE"},
}

// PathPrefixer lets a processor object declare a path prefix prepended to
// every route it reflectively registers, spec §3 Supplemented features'
// apiPathPrefix convention.
type PathPrefixer interface {
	APIPathPrefix() string
}

// SessionAccepter lets a processor claim every session under its prefix
// without per-method reflection, spec §3's sessionAccepted convention.
type SessionAccepter interface {
	OnSessionAccepted(s *session.Session)
}

// ProcessorCertificateVerifier lets a processor supply the Service-wide
// TLS certificate hook (spec §3's certificateVerifier) by implementing a
// method instead of calling SetCertificateVerifier directly.
type ProcessorCertificateVerifier interface {
	VerifyCertificate(s *session.Session) bool
}

var (
	sessionPtrType = reflect.TypeOf((*session.Session)(nil))
	listType       = reflect.TypeOf(List(nil))
	mapType        = reflect.TypeOf(Map(nil))
	listOfMapType  = reflect.TypeOf(ListOfMap(nil))
)

// RegisterProcessor reflectively registers every exported method of
// processor whose name starts with Get/Post/Put/Delete, inferring the
// route path from the remainder of the method name and the input shape
// from the method's second parameter type. Each slot is registered under
// two paths, mirroring the original's registerProcessor: the remainder
// verbatim ("/ApiName") and the same remainder with its first character
// lowered ("/apiName"). This is the optional convenience layer spec §9
// Design Note (b) describes sitting on top of Register.
func (svc *Service) RegisterProcessor(processor any) error {
	prefix := ""
	if pp, ok := processor.(PathPrefixer); ok {
		prefix = strings.TrimSuffix(pp.APIPathPrefix(), "/")
	}

	if cv, ok := processor.(ProcessorCertificateVerifier); ok {
		svc.SetCertificateVerifier(cv.VerifyCertificate)
	}

	if sa, ok := processor.(SessionAccepter); ok {
		svc.RegisterPrefixHandler(prefix, sa.OnSessionAccepted)
	}

	v := reflect.ValueOf(processor)
	t := v.Type()

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		httpMethod, name, ok := matchMethodPrefix(m.Name)
		if !ok {
			continue
		}

		bound := v.MethodByName(m.Name)
		shape, handler, err := bindReflectedMethod(bound)
		if err != nil {
			return fmt.Errorf("router: processor method %s: %w", m.Name, err)
		}

		path := prefix + "/" + name
		if err := svc.Register(httpMethod, path, shape, handler); err != nil {
			return err
		}

		// Also register the remainder with its first character lowered,
		// the original's second slot-name spelling.
		lowerPath := prefix + "/" + lowerFirst(name)
		if lowerPath != path {
			_ = svc.Register(httpMethod, lowerPath, shape, handler)
		}
	}

	return nil
}

// lowerFirst lowers the first rune of s, leaving the rest untouched.
func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func matchMethodPrefix(methodName string) (httpMethod, remainder string, ok bool) {
	for _, p := range httpMethodPrefixes {
		if strings.HasPrefix(methodName, p.prefix) && len(methodName) > len(p.prefix) {
			return p.method, methodName[len(p.prefix):], true
		}
	}
	return "", "", false
}

// bindReflectedMethod inspects a bound method's signature and returns the
// InputShape it implies along with a handler value compatible with
// bindHandler's plain-func fallback.
func bindReflectedMethod(bound reflect.Value) (InputShape, any, error) {
	mt := bound.Type()

	switch mt.NumIn() {
	case 1:
		if mt.In(0) != sessionPtrType {
			return 0, nil, fmt.Errorf("first parameter must be *session.Session")
		}
		return ShapeNone, bound.Interface().(func(*session.Session)), nil

	case 2:
		if mt.In(0) != sessionPtrType {
			return 0, nil, fmt.Errorf("first parameter must be *session.Session")
		}
		switch mt.In(1) {
		case listType:
			return ShapeList, bound.Interface().(func(*session.Session, List)), nil
		case mapType:
			return ShapeMap, bound.Interface().(func(*session.Session, Map)), nil
		case listOfMapType:
			return ShapeListOfMap, bound.Interface().(func(*session.Session, ListOfMap)), nil
		}
		return 0, nil, fmt.Errorf("unsupported second parameter type %s", mt.In(1))
	}

	return 0, nil, fmt.Errorf("unsupported signature %s", mt)
}
