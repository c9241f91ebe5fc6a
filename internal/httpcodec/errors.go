// Package httpcodec turns a raw HTTP/1.1 byte stream into a ParsedRequest
// and a pipeline.Response back into bytes, per spec.md §4.6. It never
// imports the pipeline or router packages for parsing (only for response
// synthesis), so it stays a pure function of bytes in, bytes/error out.
package httpcodec

import "fmt"

// WireError is a transport-level failure: the request never reaches the
// pipeline, so it carries a raw status rather than a zerr.Kind.
type WireError struct {
	Status int
	Reason string
}

func (e *WireError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Reason)
}

func wireErr(status int, reason string) *WireError {
	return &WireError{Status: status, Reason: reason}
}
