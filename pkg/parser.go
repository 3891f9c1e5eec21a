package sse

import (
	"strconv"
	"strings"
)

// parserCallbacks is the narrow capability interface the EventParser uses
// to reach back into the owning Client: no back-pointer to the full
// controller, just the two knobs the wire format can mutate, a read of the
// current id, and a dispatch drain.
type parserCallbacks interface {
	setReconnectionTime(ms int)
	setLastEventID(id string)
	lastEventID() string
	// drainDispatch blocks until every buffered-mode OnMessage/OnComment
	// already queued has run, so a synchronous streaming-mode OnMessage
	// (stepStreamingData) never overlaps with, or races ahead of, one of
	// them for the same connection.
	drainDispatch()
}

// pendingEvent is the in-progress event state, reset after every dispatch
// (or non-dispatching blank line).
type pendingEvent struct {
	eventName string
	idSet     bool
	id        string
	data      strings.Builder
	hasData   bool
	// bufferedFallback is set once a "data:" line for this event has been
	// buffered rather than streamed, locking the rest of the event into
	// buffered mode even if expectFields becomes satisfied later.
	bufferedFallback bool
}

func (p *pendingEvent) reset() {
	p.eventName = ""
	p.idSet = false
	p.id = ""
	p.data.Reset()
	p.hasData = false
	p.bufferedFallback = false
}

// EventParser consumes lines from a ByteLineSource, maintains the
// in-progress event, and emits MessageEvents (and comment text) to a
// Handler. It is owned exclusively by the stream worker; nothing else may
// touch it, so it carries no internal locking.
type EventParser struct {
	source      *ByteLineSource
	origin      string
	streaming   bool
	expectEvent bool
	expectID    bool
	callbacks   parserCallbacks
	// handler receives OnComment and buffered-mode OnMessage calls; the
	// caller is expected to wrap it so these run on the AsyncDispatcher.
	handler Handler
	// syncHandler receives streaming-mode OnMessage calls directly, on this
	// same goroutine — never through handler, since the stream worker must
	// block on the handler's StreamingData reads.
	syncHandler Handler

	pending pendingEvent
}

// NewEventParser builds a parser over source. expectFields restricts
// streaming fallback to "event" and/or "id"; any other value is ignored,
// matching the documented empty-set default. handler is used for
// OnComment and buffered OnMessage dispatch; syncHandler is called directly
// (not through any dispatcher) for streaming-mode OnMessage.
func NewEventParser(source *ByteLineSource, origin string, streamEventData bool, expectFields map[string]bool, callbacks parserCallbacks, handler, syncHandler Handler) *EventParser {
	return &EventParser{
		source:      source,
		origin:      origin,
		streaming:   streamEventData,
		expectEvent: expectFields["event"],
		expectID:    expectFields["id"],
		callbacks:   callbacks,
		handler:     handler,
		syncHandler: syncHandler,
	}
}

// Run reads and dispatches events until the source reports end of input or
// a read error, which it returns unwrapped (callers compare with
// IsEndOfInput or errors.As a *ReadError).
func (p *EventParser) Run() error {
	for {
		if err := p.step(); err != nil {
			return err
		}
	}
}

// step processes exactly one line (or, in streaming mode, one dispatched
// streaming event and everything up to its terminating blank line).
func (p *EventParser) step() error {
	name, _, complete := p.source.peekFieldName()
	if complete && name == "data" && p.streamingEligible() {
		return p.stepStreamingData()
	}

	line, err := p.source.NextLine()
	if err != nil {
		return err
	}

	if line == "" {
		p.dispatchBuffered()
		return nil
	}
	if line[0] == ':' {
		p.handler.OnComment(strings.TrimPrefix(line, ":"))
		return nil
	}

	field, value := splitField(line)
	p.applyField(field, value)
	return nil
}

// streamingEligible reports whether the parser should switch the upcoming
// "data:" line into streaming mode rather than buffering it: streaming
// must be enabled, and every field named in expectFields must already have
// been seen on this event, falling back to buffered mode otherwise.
func (p *EventParser) streamingEligible() bool {
	if !p.streaming {
		return false
	}
	if p.pending.bufferedFallback {
		return false
	}
	if p.expectEvent && p.pending.eventName == "" {
		return false
	}
	if p.expectID && !p.pending.idSet {
		return false
	}
	return true
}

// stepStreamingData handles the first "data:" line of an event once
// streamingEligible has approved it: it installs a StreamingData, builds
// and dispatches the MessageEvent synchronously, then — once the handler
// returns — resets per-event state and skips anything left of this event
// up to its blank line (skipToBlankLine).
func (p *EventParser) stepStreamingData() error {
	if err := p.source.consumeDataPrefixAndGetValueStart(); err != nil {
		return err
	}
	handle := p.source.newStreamingHandle()
	data := &StreamingData{src: p.source, handle: handle}

	lastID := p.currentLastEventID()
	event := MessageEvent{
		EventName:   p.eventNameOrDefault(),
		Data:        data,
		LastEventID: lastID,
		Origin:      p.origin,
	}
	if p.pending.idSet {
		p.callbacks.setLastEventID(p.pending.id)
	}

	p.callbacks.drainDispatch()
	p.syncHandler.OnMessage(event.EventName, event)
	_ = data.Close() // no-op if the handler already drained it

	p.pending.reset()
	return p.skipToBlankLine()
}

// skipToBlankLine consumes and ignores every remaining line of the current
// event: subsequent event:/id: fields are ignored since the event already
// dispatched, until the blank line that ends it.
func (p *EventParser) skipToBlankLine() error {
	for {
		line, err := p.source.NextLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

// splitField applies the SSE field line grammar: no colon means the whole
// line is the field name and the value is empty; otherwise the field name
// is everything before the first colon, and the value is everything after
// it with a single leading space stripped.
func splitField(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	field = line[:i]
	value = line[i+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}

func (p *EventParser) applyField(field, value string) {
	switch field {
	case "event":
		p.pending.eventName = value
	case "data":
		if p.pending.hasData {
			p.pending.data.WriteByte('\n')
		}
		p.pending.data.WriteString(value)
		p.pending.hasData = true
		p.pending.bufferedFallback = true
	case "id":
		if strings.IndexByte(value, 0) != -1 {
			return
		}
		p.pending.id = value
		p.pending.idSet = true
	case "retry":
		if value == "" || !isASCIIDigits(value) {
			return
		}
		ms, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		p.callbacks.setReconnectionTime(ms)
	default:
		// unknown fields are ignored.
	}
}

func isASCIIDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// dispatchBuffered handles an empty line in buffered mode. The session id
// only advances on dispatch: an event with no "data:" field is not
// dispatched and its id does not advance the session id — only once a
// MessageEvent is actually built and delivered does the id buffer get
// committed.
func (p *EventParser) dispatchBuffered() {
	defer p.pending.reset()

	if !p.pending.hasData {
		return
	}

	if p.pending.idSet {
		p.callbacks.setLastEventID(p.pending.id)
	}

	event := MessageEvent{
		EventName:   p.eventNameOrDefault(),
		Data:        BufferedData(p.pending.data.String()),
		LastEventID: p.currentLastEventID(),
		Origin:      p.origin,
	}
	p.handler.OnMessage(event.EventName, event)
}

func (p *EventParser) eventNameOrDefault() string {
	if p.pending.eventName == "" {
		return "message"
	}
	return p.pending.eventName
}

// currentLastEventID resolves the MessageEvent's LastEventID: if this
// event set its own id buffer, that value (which the caller also pushes to
// the controller); otherwise whatever the controller already holds.
func (p *EventParser) currentLastEventID() string {
	if p.pending.idSet {
		return p.pending.id
	}
	return p.callbacks.lastEventID()
}
