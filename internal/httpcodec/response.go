package httpcodec

import (
	"strconv"
	"strings"
	"time"

	"github.com/monstercameron/zerver/internal/pipeline"
)

// reasonPhrases covers the status codes this server actually emits;
// anything else falls back to "Unknown Status".
var reasonPhrases = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	206: "Partial Content",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	409: "Conflict",
	417: "Expectation Failed",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	504: "Gateway Timeout",
}

func reasonPhrase(status int) string {
	if r, ok := reasonPhrases[status]; ok {
		return r
	}
	return "Unknown Status"
}

// WriteResponse serializes resp to an HTTP/1.1 message, per spec.md
// §4.6: a default Server header, a Date header in IMF-fixdate except on
// 204/304, a computed Content-Length, and HEAD body omission with the
// Content-Length preserved from the full response. 204/304 additionally
// suppress any declared body and report Content-Length: 0, per spec.md
// §8: "Status codes 204 and 304 emit no Date: or body even when
// declared."
func WriteResponse(resp *pipeline.Response, method string, now time.Time) []byte {
	var b strings.Builder

	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(resp.Status))
	b.WriteByte(' ')
	b.WriteString(reasonPhrase(resp.Status))
	b.WriteString("\r\n")

	headers := append([]pipeline.Header(nil), resp.Headers...)
	headers = ensureHeader(headers, "Server", "Zerver/1.0")

	if resp.Status != 204 && resp.Status != 304 {
		headers = ensureHeader(headers, "Date", now.UTC().Format(http1123))
	} else {
		headers = removeHeader(headers, "Date")
	}

	body := resp.Body
	streaming := resp.Kind == pipeline.BodyStreaming

	if resp.Status == 204 || resp.Status == 304 {
		body = nil
		streaming = false
	}

	if !streaming {
		headers = setHeader(headers, "Content-Length", strconv.Itoa(len(body)))
	}

	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	out := []byte(b.String())
	if method == "HEAD" || streaming {
		return out
	}
	return append(out, body...)
}

// http1123 is the IMF-fixdate layout spec.md §4.6 requires for Date.
const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

func ensureHeader(headers []pipeline.Header, name, value string) []pipeline.Header {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return headers
		}
	}
	return append(headers, pipeline.Header{Name: name, Value: value})
}

func setHeader(headers []pipeline.Header, name, value string) []pipeline.Header {
	for i, h := range headers {
		if strings.EqualFold(h.Name, name) {
			headers[i].Value = value
			return headers
		}
	}
	return append(headers, pipeline.Header{Name: name, Value: value})
}

func removeHeader(headers []pipeline.Header, name string) []pipeline.Header {
	out := headers[:0]
	for _, h := range headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	return out
}

// WriteChunk frames one chunk of a streaming response body, per
// spec.md §4.6: "chunked response framing is reserved for streaming
// bodies."
func WriteChunk(data []byte) []byte {
	if len(data) == 0 {
		return []byte("0\r\n\r\n")
	}
	var b strings.Builder
	b.WriteString(strconv.FormatInt(int64(len(data)), 16))
	b.WriteString("\r\n")
	b.Write(data)
	b.WriteString("\r\n")
	return []byte(b.String())
}
