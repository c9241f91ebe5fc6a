package httpcodec

import (
	"strconv"
	"strings"

	"github.com/monstercameron/zerver/internal/zctx"
)

// parseChunkedBody decodes a Transfer-Encoding: chunked body, per
// spec.md §4.6: hex size, optional ";ext=…", CRLF, that many bytes,
// CRLF, repeated until a 0-size chunk, optional trailer headers, and a
// final CRLF. Any trailer name not declared in the request's Trailer:
// header is rejected.
func parseChunkedBody(raw []byte, headers *zctx.Headers) ([]byte, *zctx.Headers, *WireError) {
	declared := declaredTrailers(headers)

	var body []byte
	pos := 0
	for {
		line, next, ok := readLine(raw, pos)
		if !ok {
			return nil, nil, wireErr(400, "unterminated chunk size line")
		}
		pos = next

		sizeField := line
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			sizeField = line[:idx]
		}
		sizeField = trimOWS(sizeField)
		if sizeField == "" {
			return nil, nil, wireErr(400, "missing chunk size")
		}
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil || size < 0 {
			return nil, nil, wireErr(400, "invalid chunk size")
		}

		if size == 0 {
			break
		}
		if pos+int(size) > len(raw) {
			return nil, nil, wireErr(400, "chunk body shorter than declared size")
		}
		body = append(body, raw[pos:pos+int(size)]...)
		pos += int(size)

		if pos+1 >= len(raw) || raw[pos] != '\r' || raw[pos+1] != '\n' {
			return nil, nil, wireErr(400, "missing chunk terminator")
		}
		pos += 2
	}

	trailers := zctx.NewHeaders()
	for {
		line, next, ok := readLine(raw, pos)
		if !ok {
			return nil, nil, wireErr(400, "unterminated trailer section")
		}
		pos = next
		if line == "" {
			break
		}
		name, value, werr := parseHeaderLine(line)
		if werr != nil {
			return nil, nil, werr
		}
		if !declared[strings.ToLower(name)] {
			return nil, nil, wireErr(400, "undeclared trailer: "+name)
		}
		trailers.Add(name, value)
	}

	return body, trailers, nil
}

// declaredTrailers collects the trailer field names the request
// announced via its Trailer header(s).
func declaredTrailers(headers *zctx.Headers) map[string]bool {
	declared := map[string]bool{}
	for _, v := range headers.Values("Trailer") {
		for _, name := range strings.Split(v, ",") {
			name = trimOWS(name)
			if name != "" {
				declared[strings.ToLower(name)] = true
			}
		}
	}
	return declared
}
