package sse

import "io"

// MessageEvent is a completed Server-Sent Event delivered to a Handler.
//
// Data is either a fully buffered string (the default) or, in streaming
// mode, a StreamingData the handler must read to completion (or Close)
// before returning.
type MessageEvent struct {
	// EventName is the wire "event:" field value, defaulting to "message"
	// when the stream omitted it.
	EventName string

	// Data holds the event's payload. It is always non-nil: when
	// streaming mode is not in effect, or the event fell back to
	// buffered mode, it is a BufferedData; in streaming mode it is a
	// *StreamingData.
	Data EventData

	// LastEventID is the session's event id as of this event's dispatch:
	// this event's own "id:" value if it carried one (an empty value
	// clears it), otherwise the id committed by the last dispatched event
	// that had one, or the seeded Config.LastEventID.
	LastEventID string

	// Origin is the URI of the stream that produced this event.
	Origin string
}

// EventData is the payload carried by a MessageEvent.
type EventData interface {
	// String returns the fully buffered payload. For a *StreamingData
	// this drains the reader if it has not been consumed yet.
	String() string
}

// BufferedData is a fully materialized event payload: the concatenation of
// every "data:" line seen for the event, joined by a single '\n', with no
// trailing newline.
type BufferedData string

// String implements EventData.
func (b BufferedData) String() string { return string(b) }

// StreamingData is a lazy, pull-based character source over an in-progress
// event's "data:" value, used when Config.StreamEventData is set. The
// handler that receives a MessageEvent carrying a *StreamingData must fully
// read it (or Close it) before returning; the parser will not proceed past
// the current event otherwise. See ByteLineSource for the line-level
// mechanics this is built on.
type StreamingData struct {
	src    *ByteLineSource
	handle *streamingLineHandle
	done   bool
	buf    string
}

// Read implements io.Reader, yielding UTF-8 bytes of the current and any
// continuation "data:" lines, with a single '\n' inserted between them.
func (s *StreamingData) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	n, err := s.handle.Read(p)
	if err == io.EOF {
		s.done = true
	}
	return n, err
}

// Close stops reading the current event's data early. Any remaining bytes
// of this event's data (and any subsequent fields of the event, which are
// ignored by design in streaming mode) are discarded.
func (s *StreamingData) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.handle.drain()
}

// String drains the remainder of the stream and returns it; bytes already
// consumed via Read are not included. Later calls return the same string.
// Intended for handlers that want buffered semantics despite streaming mode
// being enabled.
func (s *StreamingData) String() string {
	if !s.done {
		rest, _ := io.ReadAll(s)
		s.buf += string(rest)
	}
	return s.buf
}

// ReadyState is the controller's lifecycle phase, observable by the caller
// via Client.State.
type ReadyState int

const (
	// RAW is the state before Start or Restart has ever been called.
	RAW ReadyState = iota
	// CONNECTING is set while an attempt's request is being built and sent.
	CONNECTING
	// OPEN is set once a connection attempt has received a successful
	// response and the stream worker is reading the body.
	OPEN
	// CLOSED is the state between attempts: the previous connection ended
	// and the worker is about to sleep/reconnect.
	CLOSED
	// SHUTDOWN is terminal; once reached no further transitions occur.
	SHUTDOWN
)

// String implements fmt.Stringer.
func (s ReadyState) String() string {
	switch s {
	case RAW:
		return "RAW"
	case CONNECTING:
		return "CONNECTING"
	case OPEN:
		return "OPEN"
	case CLOSED:
		return "CLOSED"
	case SHUTDOWN:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Handler receives lifecycle and data callbacks from a Client. All methods
// are invoked serially; none is called concurrently with another, and none
// outlive the StreamingData passed to OnMessage (see StreamingData).
// OnComment, OnError and buffered-mode OnMessage run on the client's
// dispatch worker. OnOpen, OnClosed and streaming-mode OnMessage do not:
// they run directly on the stream worker, after the dispatch queue has
// drained, so a slow one of them delays reading the stream.
type Handler interface {
	// OnOpen is called once a connection attempt succeeds, before any
	// OnMessage/OnComment of that connection.
	OnOpen()
	// OnClosed is called when a connection ends, after every OnMessage
	// and OnComment of that connection has been delivered.
	OnClosed()
	// OnMessage delivers a completed (or, in streaming mode, in-progress)
	// event. eventName is MessageEvent.EventName, duplicated here for
	// convenience.
	OnMessage(eventName string, event MessageEvent)
	// OnComment delivers the text of a comment line (a line beginning
	// with ':'), with the leading colon stripped.
	OnComment(text string)
	// OnError is called for transport and unsuccessful-response failures
	// that a ConnectionErrorHandler did not escalate to SHUTDOWN. Never
	// called after SHUTDOWN.
	OnError(err error)
}

// ConnectionErrorAction is returned by a ConnectionErrorHandler to decide
// whether the client should keep reconnecting or give up entirely.
type ConnectionErrorAction int

const (
	// ProceedReconnecting keeps the stream worker looping: the error is
	// also delivered to Handler.OnError (except for EndOfStream, which
	// never reaches the user handler).
	ProceedReconnecting ConnectionErrorAction = iota
	// Shutdown transitions the client straight to SHUTDOWN without
	// invoking Handler.OnError.
	Shutdown
)

// ConnectionErrorHandler is an optional caller hook invoked before a
// transport error, unsuccessful response, or end-of-stream is handled. The
// default always returns ProceedReconnecting.
type ConnectionErrorHandler interface {
	OnConnectionError(err error) ConnectionErrorAction
}

// ConnectionErrorHandlerFunc adapts a plain function to ConnectionErrorHandler.
type ConnectionErrorHandlerFunc func(err error) ConnectionErrorAction

// OnConnectionError implements ConnectionErrorHandler.
func (f ConnectionErrorHandlerFunc) OnConnectionError(err error) ConnectionErrorAction {
	return f(err)
}

type defaultConnectionErrorHandler struct{}

func (defaultConnectionErrorHandler) OnConnectionError(error) ConnectionErrorAction {
	return ProceedReconnecting
}
