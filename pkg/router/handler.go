package router

import "github.com/n0x1m/rawhttpd/pkg/session"

// Handler is a ShapeNone route: the handler reads whatever it needs
// directly off the Session.
type Handler func(s *session.Session)

// ListHandler is a ShapeList route.
type ListHandler func(s *session.Session, body List)

// MapHandler is a ShapeMap route.
type MapHandler func(s *session.Session, body Map)

// ListOfMapHandler is a ShapeListOfMap route.
type ListOfMapHandler func(s *session.Session, body ListOfMap)

// boundHandler is the uniform internal representation every exported
// Register* call normalizes to, so the route table can stay a single flat
// map instead of one per shape.
type boundHandler func(s *session.Session, raw []byte)

func bindHandler(shape InputShape, handler any) (boundHandler, error) {
	switch shape {
	case ShapeNone:
		h, ok := handler.(Handler)
		if !ok {
			h2, ok2 := handler.(func(*session.Session))
			if !ok2 {
				return nil, errUnexpectedHandlerType(shape)
			}
			h = h2
		}
		return func(s *session.Session, _ []byte) { h(s) }, nil

	case ShapeList:
		h, ok := handler.(ListHandler)
		if !ok {
			h2, ok2 := handler.(func(*session.Session, List))
			if !ok2 {
				return nil, errUnexpectedHandlerType(shape)
			}
			h = h2
		}
		return func(s *session.Session, raw []byte) {
			list, ok := decodeList(raw)
			if !ok {
				replyDataError(s)
				return
			}
			h(s, list)
		}, nil

	case ShapeMap:
		h, ok := handler.(MapHandler)
		if !ok {
			h2, ok2 := handler.(func(*session.Session, Map))
			if !ok2 {
				return nil, errUnexpectedHandlerType(shape)
			}
			h = h2
		}
		return func(s *session.Session, raw []byte) {
			m, ok := decodeMap(raw)
			if !ok {
				replyDataError(s)
				return
			}
			h(s, m)
		}, nil

	case ShapeListOfMap:
		h, ok := handler.(ListOfMapHandler)
		if !ok {
			h2, ok2 := handler.(func(*session.Session, ListOfMap))
			if !ok2 {
				return nil, errUnexpectedHandlerType(shape)
			}
			h = h2
		}
		return func(s *session.Session, raw []byte) {
			list, ok := decodeListOfMap(raw)
			if !ok {
				replyDataError(s)
				return
			}
			h(s, list)
		}, nil
	}

	return nil, errUnexpectedHandlerType(shape)
}
