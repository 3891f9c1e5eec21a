package sse

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransportError wraps a failure from the underlying HTTP transport:
// connect, write, read, or TLS errors. The out-of-scope transport
// collaborator only needs to satisfy the error interface;
// this type is what the controller wraps it in before handing it to a
// ConnectionErrorHandler or Handler.OnError.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return errors.Wrap(e.Cause, "sse: transport error").Error()
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *TransportError) Unwrap() error { return e.Cause }

// UnsuccessfulResponse is returned when a connection attempt receives a
// non-2xx HTTP status.
type UnsuccessfulResponse struct {
	StatusCode int
}

func (e *UnsuccessfulResponse) Error() string {
	return fmt.Sprintf("sse: unsuccessful response: status %d", e.StatusCode)
}

// EndOfStream signals a clean server-initiated close of an established
// connection (EOF read while the connection was OPEN/CONNECTING). It is
// routed through ConnectionErrorHandler only; it never reaches
// Handler.OnError.
var EndOfStream = errors.New("sse: end of stream")

// ParseError wraps a ByteLineSource failure surfaced while the EventParser
// was reading lines. Malformed SSE framing itself is never an error — only
// the underlying read can fail.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	return errors.Wrap(e.Cause, "sse: parse error").Error()
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *ParseError) Unwrap() error { return e.Cause }

// ReadError is returned by ByteLineSource when the underlying transport
// raises during a read (including a read timeout).
type ReadError struct {
	Cause error
}

func (e *ReadError) Error() string {
	return errors.Wrap(e.Cause, "sse: read error").Error()
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *ReadError) Unwrap() error { return e.Cause }

// errEndOfInput is returned by ByteLineSource to signal a clean EOF from the
// transport, distinct from an empty line.
var errEndOfInput = errors.New("sse: end of input")

// IsEndOfInput reports whether err is the sentinel ByteLineSource uses to
// signal a clean, line-boundary-respecting end of the underlying reader.
func IsEndOfInput(err error) bool {
	return errors.Is(err, errEndOfInput)
}
