package router

import (
	"time"

	"github.com/n0x1m/rawhttpd/pkg/rhlog"
	"github.com/n0x1m/rawhttpd/pkg/session"
)

// requestRecorder produces the single per-request log line spec §3
// Supplemented features calls for, grounded on the original's Recoder
// (original_source/.../recoder.cpp): one line per request, carrying the
// service UUID, method, path, status and phase timings. finish is wired
// through Session.OnReplied rather than run on handleSession's return,
// since every reply_* call is itself queued onto the session's command
// channel and may still be pending when the registering handler returns.
type requestRecorder struct {
	logger rhlog.Logger
	uuid   string
	start  time.Time
}

func newRequestRecorder(logger rhlog.Logger, uuid string, s *session.Session) *requestRecorder {
	return &requestRecorder{logger: rhlog.OrDefault(logger), uuid: uuid, start: time.Now()}
}

func (r *requestRecorder) finish(s *session.Session) {
	m := s.Metrics()
	r.logger.Printf("uuid=%s method=%s path=%s status=%d bytes=%d elapsed=%s header=%s body=%s handler=%s write=%s",
		r.uuid, s.Method(), s.RequestURLPath(), s.ReplyHTTPCode(), s.ReplyBodySize(), time.Since(r.start),
		m.HeaderParse, m.BodyRead, m.HandlerRun, m.WriteDrain)
}
