package sse

import (
	"bufio"
	"bytes"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// utf8BOM is the UTF-8 encoding of U+FEFF, discarded if it leads the stream.
var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// DefaultReadBufferSize is the default ByteLineSource buffer, matching
// Config.ReadBufferSize's zero-value default.
const DefaultReadBufferSize = 1000

// ByteLineSource reads bytes from a transport and yields UTF-8 lines,
// terminated by "\n", "\r\n", or a bare "\r". It is built fresh for every
// connection attempt and discarded on disconnect, along with the parser
// state built on top of it.
//
// Two read styles are supported against the same underlying reader: whole
// buffered lines via NextLine, and — for the single "data:" line an
// EventParser is about to stream — character-by-character pulls via the
// unexported streaming handle machinery this file also implements. Callers
// must fully drain a streaming handle (or Close it) before calling NextLine
// or starting another streaming handle; the source does not buffer bytes
// past what a consumer takes.
type ByteLineSource struct {
	br         *bufio.Reader
	bufSize    int
	bomChecked bool
}

// NewByteLineSource wraps r for line-oriented reads. bufSize bounds the
// fast-path line buffer and the field-name peek window; bufSize <= 0 uses
// DefaultReadBufferSize. Malformed UTF-8 surfaces as a ReadError the first
// time it is encountered, via a one-shot
// transform.NewReader(buffered, encoding.UTF8Validator) generalized to a
// per-connection reader.
func NewByteLineSource(r io.Reader, bufSize int) *ByteLineSource {
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}
	validated := transform.NewReader(r, encoding.UTF8Validator)
	return &ByteLineSource{
		br:      bufio.NewReaderSize(validated, bufSize),
		bufSize: bufSize,
	}
}

func (s *ByteLineSource) skipBOM() {
	if s.bomChecked {
		return
	}
	s.bomChecked = true
	peek, err := s.br.Peek(len(utf8BOM))
	if err != nil {
		return
	}
	if bytes.Equal(peek, utf8BOM) {
		_, _ = s.br.Discard(len(utf8BOM))
	}
}

// NextLine returns the next logical line with its terminator stripped.
// It returns errEndOfInput (use IsEndOfInput) when the transport is
// cleanly exhausted, or a *ReadError if the transport raised. A line
// longer than the configured buffer size is transparently accumulated in a
// growable secondary buffer, released once the line is returned.
func (s *ByteLineSource) NextLine() (string, error) {
	s.skipBOM()

	primary := make([]byte, 0, s.bufSize)
	var overflow *bytes.Buffer
	appendByte := func(b byte) {
		if overflow != nil {
			overflow.WriteByte(b)
			return
		}
		if len(primary) == cap(primary) {
			overflow = new(bytes.Buffer)
			overflow.Write(primary)
			overflow.WriteByte(b)
			return
		}
		primary = append(primary, b)
	}

	for {
		b, err := s.br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", errEndOfInput
			}
			return "", &ReadError{Cause: err}
		}
		switch b {
		case '\n':
			if overflow != nil {
				return overflow.String(), nil
			}
			return string(primary), nil
		case '\r':
			if next, err := s.br.ReadByte(); err == nil && next != '\n' {
				_ = s.br.UnreadByte()
			}
			if overflow != nil {
				return overflow.String(), nil
			}
			return string(primary), nil
		default:
			appendByte(b)
		}
	}
}

// peekFieldName looks ahead, without consuming anything, for the field
// name of the next line: the bytes before the first ':' or line
// terminator. complete is false only in the degenerate case where neither
// a colon nor a terminator appears within the buffer window; callers
// should fall back to NextLine in that case.
func (s *ByteLineSource) peekFieldName() (name string, hasColon bool, complete bool) {
	s.skipBOM()
	peek, _ := s.br.Peek(s.bufSize)
	for i, b := range peek {
		switch b {
		case ':':
			return string(peek[:i]), true, true
		case '\n', '\r':
			return string(peek[:i]), false, true
		}
	}
	return string(peek), false, false
}

// consumeDataPrefixAndGetValueStart discards the "data" field name just
// identified by peekFieldName, plus its colon and single optional leading
// space if present, positioning the reader at the start of the field
// value. It must only be called when peekFieldName last reported "data".
func (s *ByteLineSource) consumeDataPrefixAndGetValueStart() error {
	if _, err := s.br.Discard(len("data")); err != nil {
		return err
	}
	b, err := s.br.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return &ReadError{Cause: err}
	}
	if b != ':' {
		return s.br.UnreadByte()
	}
	if sp, err := s.br.Peek(1); err == nil && len(sp) == 1 && sp[0] == ' ' {
		_, _ = s.br.Discard(1)
	}
	return nil
}

// readValueByte reads one byte of a streamed field value. done is true
// when a line terminator (consumed) or true end of input ends the value,
// without that terminator appearing in b.
func (s *ByteLineSource) readValueByte() (b byte, done bool, err error) {
	raw, err := s.br.ReadByte()
	if err != nil {
		if err == io.EOF {
			return 0, true, nil
		}
		return 0, false, &ReadError{Cause: err}
	}
	switch raw {
	case '\n':
		return 0, true, nil
	case '\r':
		if next, err := s.br.ReadByte(); err == nil && next != '\n' {
			_ = s.br.UnreadByte()
		}
		return 0, true, nil
	default:
		return raw, false, nil
	}
}

// newStreamingHandle constructs a streamingLineHandle positioned at the
// start of the current "data:" value. Call consumeDataPrefixAndGetValueStart
// first.
func (s *ByteLineSource) newStreamingHandle() *streamingLineHandle {
	return &streamingLineHandle{src: s}
}

// streamingLineHandle is the low-level pull source behind StreamingData. It
// chains across consecutive "data:" lines: once a value's
// terminator is reached, it peeks the next line and, only if that line is
// itself a "data" field, consumes its prefix and continues, synthesizing a
// single '\n' joiner. Any other line (including blank) ends the chain
// without being consumed, leaving it for the EventParser's normal loop.
type streamingLineHandle struct {
	src            *ByteLineSource
	valueDone      bool
	chainEnded     bool
	pendingNewline bool
}

// Read implements io.Reader over the (possibly multi-line) streamed value.
func (h *streamingLineHandle) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if h.chainEnded {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) {
		if h.pendingNewline {
			p[n] = '\n'
			n++
			h.pendingNewline = false
			continue
		}
		if h.valueDone {
			cont, err := h.advance()
			if err != nil {
				return n, err
			}
			if !cont {
				h.chainEnded = true
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
			h.valueDone = false
			h.pendingNewline = true
			continue
		}
		b, done, err := h.src.readValueByte()
		if err != nil {
			return n, err
		}
		if done {
			h.valueDone = true
			continue
		}
		p[n] = b
		n++
	}
	return n, nil
}

// advance peeks the line following the just-terminated value and, if it is
// itself a "data" field, consumes its prefix so the next Read continues
// into its value.
func (h *streamingLineHandle) advance() (bool, error) {
	name, _, complete := h.src.peekFieldName()
	if !complete || name != "data" {
		return false, nil
	}
	if err := h.src.consumeDataPrefixAndGetValueStart(); err != nil {
		return false, err
	}
	return true, nil
}

// drain discards the remainder of the current value only — it does not
// chain into a following "data:" line — and marks the handle ended, per
// StreamingData.Close's early-stop semantics.
func (h *streamingLineHandle) drain() error {
	if h.chainEnded {
		return nil
	}
	for !h.valueDone {
		_, done, err := h.src.readValueByte()
		if err != nil {
			return err
		}
		if done {
			h.valueDone = true
		}
	}
	h.chainEnded = true
	return nil
}
