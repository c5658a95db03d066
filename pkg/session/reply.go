package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/n0x1m/rawhttpd/pkg/constants"
	rherrors "github.com/n0x1m/rawhttpd/pkg/errors"
)

const (
	loopbackChunkSize    = constants.LoopbackWriteChunkSize
	nonLoopbackChunkSize = constants.NonLoopbackWriteChunkSize
)

// ReplyText implements spec §4.2's reply_text: a plain-text body with
// Content-Type "text;charset=UTF-8".
func (s *Session) ReplyText(body string, code int) {
	s.enqueue(func(s *Session) {
		s.doReply(code, "text;charset=UTF-8", nil, bytes.NewReader([]byte(body)), int64(len(body)))
	})
}

// ReplyRedirect implements spec §4.2's reply_redirect: a 200 (by default)
// HTML body containing a <meta http-equiv=refresh> pointing at targetURL.
func (s *Session) ReplyRedirect(targetURL string, code int) {
	body := fmt.Sprintf(`<!DOCTYPE html><html><head><meta http-equiv="refresh" content="0; url=%s"></head><body></body></html>`, html.EscapeString(targetURL))
	s.enqueue(func(s *Session) {
		s.doReply(code, "text;charset=UTF-8", nil, bytes.NewReader([]byte(body)), int64(len(body)))
	})
}

// ReplyJSONObject implements spec §4.2's reply_json_object: marshals v as
// compact JSON with Content-Type "application/json;charset=UTF-8". v is
// typically a map[string]any but any JSON-object-shaped value works.
func (s *Session) ReplyJSONObject(v any, code int) {
	s.replyJSON(v, code)
}

// ReplyJSONArray implements spec §4.2's reply_json_array. Distinct from
// ReplyJSONObject only in name, for parity with the original API; encoding
// is identical.
func (s *Session) ReplyJSONArray(v any, code int) {
	s.replyJSON(v, code)
}

func (s *Session) replyJSON(v any, code int) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{"isSucceed":false,"message":"failed to encode reply"}`)
	}
	s.enqueue(func(s *Session) {
		s.doReply(code, "application/json;charset=UTF-8", nil, bytes.NewReader(data), int64(len(data)))
	})
}

// ReplyFile implements spec §4.2's streamed reply_file(path): the body is
// read directly off disk in write-sized chunks rather than buffered
// entirely in memory, and Content-Disposition names the file's basename.
func (s *Session) ReplyFile(path string, code int) {
	s.enqueue(func(s *Session) {
		f, err := os.Open(path)
		if err != nil {
			s.logger.Printf("session %s reply_file: %v", s.remoteAddr, rherrors.NewIOError("open reply file", err))
			s.replyNotFound()
			return
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			s.replyNotFound()
			return
		}
		extra := []string{fmt.Sprintf("Content-Disposition: attachment;filename=%s", filepath.Base(path))}
		s.doReply(code, "", extra, f, info.Size())
		f.Close()
	})
}

// ReplyFileBytes implements spec §4.2's in-memory reply_file(name, bytes):
// identical framing to ReplyFile but the body is already resident.
func (s *Session) ReplyFileBytes(name string, data []byte, code int) {
	s.enqueue(func(s *Session) {
		extra := []string{fmt.Sprintf("Content-Disposition: attachment;filename=%s", filepath.Base(name))}
		s.doReply(code, "", extra, bytes.NewReader(data), int64(len(data)))
	})
}

// ReplyImage implements spec §4.2's reply_image(data, format): an
// in-memory image with Content-Type "image/<format>".
func (s *Session) ReplyImage(data []byte, format string, code int) {
	s.enqueue(func(s *Session) {
		s.doReply(code, "image/"+strings.ToLower(format), nil, bytes.NewReader(data), int64(len(data)))
	})
}

// ReplyImageFile implements spec §4.2's reply_image(path, format): a
// streamed image read from disk.
func (s *Session) ReplyImageFile(path, format string, code int) {
	s.enqueue(func(s *Session) {
		f, err := os.Open(path)
		if err != nil {
			s.replyNotFound()
			return
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			s.replyNotFound()
			return
		}
		s.doReply(code, "image/"+strings.ToLower(format), nil, f, info.Size())
		f.Close()
	})
}

// ReplyBytes implements spec §4.2's reply_bytes: an arbitrary-content-type
// in-memory body, with an optional caller-supplied extra header line.
func (s *Session) ReplyBytes(data []byte, contentType string, code int, exHeader string) {
	s.enqueue(func(s *Session) {
		var extra []string
		if exHeader != "" {
			extra = []string{exHeader}
		}
		s.doReply(code, contentType, extra, bytes.NewReader(data), int64(len(data)))
	})
}

// ReplyOptions implements spec §4.2's reply_options: the fixed CORS
// preflight response every accepted method set advertises.
func (s *Session) ReplyOptions() {
	s.enqueue(func(s *Session) {
		extra := []string{
			"Allow: OPTIONS, GET, POST, PUT, HEAD",
			"Access-Control-Allow-Methods: OPTIONS, GET, POST, PUT, HEAD",
		}
		s.doReply(200, "", extra, bytes.NewReader(nil), 0)
	})
}

// replyNotFound is used internally when a streamed reply's source (a file
// on disk) can't be opened after the caller already committed to a 200.
func (s *Session) replyNotFound() {
	body := []byte(`{"isSucceed":false,"message":"not found"}`)
	s.doReply(404, "application/json;charset=UTF-8", nil, bytes.NewReader(body), int64(len(body)))
}

// doReply is the single choke point every reply_* operation funnels
// through. It enforces the single-reply guard (spec §4.2 contract 1),
// writes the response head, then drains body. It runs only on the owning
// goroutine, since it must be called from inside an enqueue()'d closure.
func (s *Session) doReply(code int, contentType string, extraHeaders []string, body io.Reader, bodySize int64) {
	if s.replied {
		s.logger.Printf("session %s: %v", s.remoteAddr, rherrors.NewReplyAfterReplyError(s.method, s.requestTarget))
		return
	}
	s.replied = true
	s.replyCode = code
	s.replyBodySize = bodySize
	s.phase = PhaseReplying
	s.timer.EndHandler()
	s.timer.StartWrite()

	head := buildResponseHead(code, contentType, bodySize, extraHeaders)
	if err := s.writeAll(head); err != nil {
		s.logger.Printf("session %s: %v", s.remoteAddr, rherrors.NewWriteFailureError(s.remoteAddr, err))
		s.teardown()
		return
	}

	s.phase = PhaseDraining
	s.bytesRemaining = bodySize
	s.drain(body)

	s.timer.EndWrite()
	_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))
	for _, fn := range s.onReplied {
		fn(s)
	}
	s.teardown()
}

// drain writes body in chunks sized per spec §4.2: 1 MiB for loopback
// peers, 256 KiB otherwise, decrementing bytesRemaining on each write.
func (s *Session) drain(body io.Reader) {
	chunkSize := nonLoopbackChunkSize
	if s.isLoopback() {
		chunkSize = loopbackChunkSize
	}
	buf := make([]byte, chunkSize)

	for s.bytesRemaining > 0 {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := s.writeAll(buf[:n]); werr != nil {
				s.logger.Printf("session %s: %v", s.remoteAddr, rherrors.NewWriteFailureError(s.remoteAddr, werr))
				return
			}
			s.bytesRemaining -= int64(n)
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Printf("session %s reply body read error: %v", s.remoteAddr, err)
			}
			return
		}
	}
}

// writeAll writes data to conn in full, looping over short writes.
func (s *Session) writeAll(data []byte) error {
	for len(data) > 0 {
		n, err := s.conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// buildResponseHead formats the status line and headers shared by every
// reply_* operation (spec §4.2 contract, §6's wire format): reason phrase
// is always "OK" regardless of code -- see SPEC_FULL.md's Open Question
// decision to preserve this for fidelity to the original.
func buildResponseHead(code int, contentType string, bodySize int64, extraHeaders []string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d OK\r\n", code)
	if contentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", bodySize)
	b.WriteString("Access-Control-Allow-Origin: *\r\n")
	b.WriteString("Access-Control-Allow-Headers: Content-Type,X-Requested-With\r\n")
	for _, h := range extraHeaders {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}
