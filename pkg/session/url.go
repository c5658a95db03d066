package session

import "strings"

// restrictedUnescaper implements spec §4.1's documented restricted
// decoding: only %5B %5D %7B %7D %5E (both-case hex) are translated back to
// [ ] { } ^. This is intentionally not full percent-decoding -- see
// SPEC_FULL.md's Open Question on this behavior, preserved for fidelity.
var restrictedUnescaper = strings.NewReplacer(
	"%5B", "[", "%5b", "[",
	"%5D", "]", "%5d", "]",
	"%7B", "{", "%7b", "{",
	"%7D", "}", "%7d", "}",
	"%5E", "^", "%5e", "^",
)

// RequestURLPath returns the request-target with its query string removed,
// a collapsed leading "//", a stripped single trailing "/" (root "/" is
// kept), and the restricted escape sequences above decoded.
func (s *Session) RequestURLPath() string {
	path := s.requestTarget
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}

	for strings.HasPrefix(path, "//") {
		path = path[1:]
	}

	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}

	return restrictedUnescaper.Replace(path)
}

// RequestURLPathSplit splits RequestURLPath on "/", dropping empty
// segments, mirroring the original's requestUrlPathSplitToList.
func (s *Session) RequestURLPathSplit() []string {
	path := s.RequestURLPath()
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// RequestURLQuery parses the query string into a map, applying the same
// restricted unescaping as RequestURLPath to each key and value. Order is
// not preserved, matching spec §4.1.
func (s *Session) RequestURLQuery() map[string]string {
	out := map[string]string{}

	idx := strings.IndexByte(s.requestTarget, '?')
	if idx < 0 {
		return out
	}

	query := s.requestTarget[idx+1:]
	for _, piece := range strings.Split(query, "&") {
		if piece == "" {
			continue
		}
		var key, value string
		if eq := strings.IndexByte(piece, '='); eq >= 0 {
			key, value = piece[:eq], piece[eq+1:]
		} else {
			key = piece
		}
		out[restrictedUnescaper.Replace(key)] = restrictedUnescaper.Replace(value)
	}

	return out
}
