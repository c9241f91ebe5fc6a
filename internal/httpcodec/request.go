package httpcodec

import (
	"strconv"
	"strings"

	"github.com/monstercameron/zerver/internal/zctx"
)

// ParsedRequest is the wire-level result of ParseRequest, before a
// Registry has matched it to a route. Target is the raw origin-form
// request-target (path + optional "?" query), still percent-encoded;
// router.Dispatch and router.ParseQuery own decoding it.
type ParsedRequest struct {
	Method   string
	Target   string
	Headers  *zctx.Headers
	Body     []byte
	Trailers *zctx.Headers
}

// ParseRequest parses one HTTP/1.1 request out of raw, per spec.md §4.6.
// It does not support pipelined requests; raw must hold exactly one
// request (the accept loop that owns connection framing is out of
// scope for this package).
func ParseRequest(raw []byte) (*ParsedRequest, *WireError) {
	pos := 0

	line, next, ok := readLine(raw, pos)
	if !ok {
		return nil, wireErr(400, "missing request line")
	}
	pos = next

	method, target, werr := parseRequestLine(line)
	if werr != nil {
		return nil, werr
	}

	headers := zctx.NewHeaders()
	for {
		line, next, ok := readLine(raw, pos)
		if !ok {
			return nil, wireErr(400, "unterminated headers")
		}
		pos = next
		if line == "" {
			break
		}
		name, value, werr := parseHeaderLine(line)
		if werr != nil {
			return nil, werr
		}
		headers.Add(name, value)
	}

	if _, ok := headers.Get("Host"); !ok {
		return nil, wireErr(400, "missing Host header")
	}

	if werr := validateExpect(headers); werr != nil {
		return nil, werr
	}

	body, trailers, werr := readBody(raw[pos:], headers)
	if werr != nil {
		return nil, werr
	}

	return &ParsedRequest{
		Method:   method,
		Target:   target,
		Headers:  headers,
		Body:     body,
		Trailers: trailers,
	}, nil
}

// readLine splits out one CRLF-terminated line starting at pos, without
// the trailing CRLF. A bare LF is not accepted as a line terminator.
func readLine(raw []byte, pos int) (string, int, bool) {
	for i := pos; i+1 < len(raw); i++ {
		if raw[i] == '\r' && raw[i+1] == '\n' {
			return string(raw[pos:i]), i + 2, true
		}
	}
	return "", pos, false
}

// parseRequestLine parses "method SP+ target SP+ HTTP/1.1", tolerating
// runs of multiple spaces between tokens per spec.md §4.6.
func parseRequestLine(line string) (method, target string, werr *WireError) {
	fields := splitSpaces(line)
	if len(fields) != 3 {
		return "", "", wireErr(400, "malformed request line")
	}
	method, target, version := fields[0], fields[1], fields[2]

	if !isToken(method) {
		return "", "", wireErr(400, "invalid method token")
	}
	if version != "HTTP/1.1" {
		return "", "", wireErr(400, "unsupported HTTP version")
	}
	if target == "" {
		return "", "", wireErr(400, "missing request target")
	}
	if method == "OPTIONS" && target == "*" {
		return method, target, nil
	}
	normalized, werr := validateTarget(target)
	if werr != nil {
		return "", "", werr
	}
	return method, normalized, nil
}

// splitSpaces splits on runs of one or more spaces (not tabs — a literal
// tab between request-line tokens is not tolerated OWS here).
func splitSpaces(s string) []string {
	var out []string
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// validateTarget accepts origin-form ("/path?query") and rejects
// absolute-form targets carrying userinfo, per spec.md §4.6. It also
// rejects malformed percent-encoding in the path/query, since that
// check naturally belongs here, before a target is ever handed to the
// router. It returns the normalized origin-form target (scheme and
// authority stripped from an absolute-form target) so CtxBase.Request.Target
// always holds "/path?query" per spec.md §3's Request Context definition.
func validateTarget(target string) (string, *WireError) {
	t := target
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		schemeEnd := strings.Index(t, "://")
		rest := t[schemeEnd+3:]
		authorityEnd := strings.IndexAny(rest, "/?")
		authority := rest
		if authorityEnd >= 0 {
			authority = rest[:authorityEnd]
		}
		if strings.IndexByte(authority, '@') >= 0 {
			return "", wireErr(400, "absolute-form target with userinfo")
		}
		if authorityEnd >= 0 {
			t = rest[authorityEnd:]
		} else {
			t = "/"
		}
	} else if !strings.HasPrefix(t, "/") {
		return "", wireErr(400, "request target must be origin-form")
	}

	if !validPercentEncoding(t) {
		return "", wireErr(400, "invalid percent-encoding in request target")
	}
	return t, nil
}

// validPercentEncoding reports whether every "%" in s is followed by two
// hex digits.
func validPercentEncoding(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
			return false
		}
		i += 2
	}
	return true
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// parseHeaderLine splits "field-name: OWS field-value OWS" and validates
// the field-name against the tchar grammar.
func parseHeaderLine(line string) (name, value string, werr *WireError) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", wireErr(400, "malformed header line")
	}
	name = line[:idx]
	if !isToken(name) {
		return "", "", wireErr(400, "invalid header field-name")
	}
	value = trimOWS(line[idx+1:])
	return name, value, nil
}

// validateExpect enforces that the only accepted expectation is
// "100-continue"; anything else is a 417, per spec.md §4.6.
func validateExpect(headers *zctx.Headers) *WireError {
	values := headers.Values("Expect")
	if len(values) == 0 {
		return nil
	}
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			if !strings.EqualFold(trimOWS(tok), "100-continue") {
				return wireErr(417, "unsupported expectation")
			}
		}
	}
	return nil
}

// readBody extracts the message body per the Content-Length /
// Transfer-Encoding rules, returning any chunked trailers parsed.
func readBody(rest []byte, headers *zctx.Headers) ([]byte, *zctx.Headers, *WireError) {
	clValues := headers.Values("Content-Length")
	teValue, hasTE := headers.Get("Transfer-Encoding")
	chunked := hasTE && strings.EqualFold(trimOWS(teValue), "chunked")

	if len(clValues) > 0 && chunked {
		return nil, nil, wireErr(400, "Content-Length and chunked Transfer-Encoding both present")
	}

	if chunked {
		return parseChunkedBody(rest, headers)
	}

	if len(clValues) == 0 {
		return nil, nil, nil
	}

	cl := clValues[0]
	for _, v := range clValues[1:] {
		if v != cl {
			return nil, nil, wireErr(400, "conflicting Content-Length values")
		}
	}
	n, err := strconv.Atoi(trimOWS(cl))
	if err != nil || n < 0 {
		return nil, nil, wireErr(400, "invalid Content-Length")
	}
	if n > len(rest) {
		return nil, nil, wireErr(400, "body shorter than declared Content-Length")
	}
	return rest[:n], nil, nil
}
