// Package sse implements a user agent for the Server-Sent Events protocol
// https://html.spec.whatwg.org/multipage/server-sent-events.html, with
// reconnect, backoff, and bounded handler dispatch suited to long-lived
// non-browser streaming.
//
// The pieces that do the real work are the event-stream parser
// (ByteLineSource + EventParser), which turns a byte stream into
// MessageEvents in bounded memory, and Client, which owns a single
// background stream worker, the reconnect/backoff policy, and handler
// dispatch.
//
// The HTTP transport, the logging sink, and the executors the workers run
// on are treated as external collaborators: this package only defines the
// contracts it needs from them (an http.Client-shaped Doer, a *zap.Logger).
package sse
