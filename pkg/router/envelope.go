package router

import (
	"encoding/json"
	"fmt"

	rherrors "github.com/n0x1m/rawhttpd/pkg/errors"
	"github.com/n0x1m/rawhttpd/pkg/rhlog"
	"github.com/n0x1m/rawhttpd/pkg/session"
)

// envelope is the uniform JSON reply shape spec §4.4 requires: data is
// omitted when nil, matching the original's QJsonObject construction.
type envelope struct {
	IsSucceed bool `json:"isSucceed"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

// Reply writes the uniform {isSucceed, message, data?} envelope via
// reply_json_object, spec §4.4's Service::reply.
func Reply(s *session.Session, data any, isSucceed bool, message string, code int) {
	s.ReplyJSONObject(envelope{IsSucceed: isSucceed, Message: message, Data: data}, code)
}

// replyDataError is spec §4.4's "data error" 404, issued when a route's
// declared input shape fails to decode.
func replyDataError(s *session.Session) {
	Reply(s, nil, false, "data error", 404)
}

// replyNotFound is spec §4.4's unmatched-route 404, logging the miss via
// the HandlerNotRegistered taxonomy entry (spec §7) before replying.
func replyNotFound(s *session.Session, logger rhlog.Logger, method, path string) {
	rhlog.OrDefault(logger).Printf("session %s: %v", s.RemoteAddr(), rherrors.NewHandlerNotRegisteredError(method, path))
	Reply(s, nil, false, "API not found", 404)
}

func decodeList(raw []byte) (List, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v List
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func decodeMap(raw []byte) (Map, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v Map
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// decodeListOfMap decodes a JSON array of objects, the Go equivalent of
// the original's variantListToListVariantMap: elements that aren't objects
// are dropped rather than failing the whole request.
func decodeListOfMap(raw []byte) (ListOfMap, bool) {
	list, ok := decodeList(raw)
	if !ok {
		return nil, false
	}
	out := make(ListOfMap, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func errUnexpectedHandlerType(shape InputShape) error {
	return rherrors.NewBodyShapeMismatchError("", "", fmt.Errorf("handler does not match registered input shape %v", shape))
}
