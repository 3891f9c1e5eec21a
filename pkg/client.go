package sse

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config is the full set of options recognized by New. URL
// and Handler are the only required fields.
type Config struct {
	// URL is the stream endpoint; must be http or https.
	URL string
	// Method is the HTTP method, uppercased. Defaults to GET.
	Method string
	// Body, if set, is called fresh for every connection attempt to
	// produce the request body.
	Body func() io.Reader
	// Headers are merged over the Accept/Cache-Control defaults; callers
	// may override either.
	Headers http.Header
	// RequestTransformer, if set, is applied last to each prepared request.
	RequestTransformer RequestTransformer

	// LastEventID seeds the first attempt's Last-Event-ID header.
	LastEventID string

	// ReconnectTime is the initial backoff; the server may override it via
	// a "retry:" field. Defaults to DefaultInitialReconnectTime.
	ReconnectTime time.Duration
	// MaxReconnectTime caps the backoff. Defaults to DefaultMaxReconnectTime.
	MaxReconnectTime time.Duration
	// BackoffResetThreshold is the OPEN-duration after which backoff
	// resets to its first step. Defaults to DefaultBackoffResetThreshold.
	BackoffResetThreshold time.Duration

	// ConnectTimeout and WriteTimeout configure the default transport
	// built when HTTPClient is nil; see newDefaultHTTPClient. ReadTimeout
	// is an idle-read watchdog on every response body, whichever
	// HTTPClient is used; see idleTimeoutBody.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// ReadBufferSize is the ByteLineSource buffer. Defaults to
	// DefaultReadBufferSize.
	ReadBufferSize int

	// StreamEventData enables streaming-data mode (see StreamingData).
	StreamEventData bool
	// ExpectFields restricts streaming fallback to "event" and/or "id".
	ExpectFields map[string]bool
	// MaxEventTasksInFlight bounds the AsyncDispatcher's in-flight handler
	// tasks; 0 means unbounded.
	MaxEventTasksInFlight int

	// HTTPClient overrides the default transport.
	HTTPClient HTTPDoer

	// Handler receives lifecycle and data callbacks. Required.
	Handler Handler
	// ConnectionErrorHandler decides PROCEED vs SHUTDOWN on connection
	// failures. Defaults to always PROCEED.
	ConnectionErrorHandler ConnectionErrorHandler

	// Logger overrides the package-level default logger for this client's
	// connection logging. Handler panics recovered by the AsyncDispatcher
	// are always logged to the package-level logger.
	Logger *zap.Logger
}

// Client is a single Server-Sent Events connection, including its reconnect
// and backoff policy. The zero value is not usable; construct with New.
type Client struct {
	cfg        Config
	parsedURL  *url.URL
	builder    *RequestBuilder
	httpClient HTTPDoer
	handler    Handler
	connErr    ConnectionErrorHandler
	log        *zap.Logger
	expect     map[string]bool

	dispatcher *AsyncDispatcher

	state          atomic.Int32
	reconnectNanos atomic.Int64
	lastEventIDPtr atomic.Pointer[string]
	currentCallPtr atomic.Pointer[context.CancelFunc]
	maxReconnect   time.Duration
	backoffReset   time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc

	workerDone chan struct{}
	startOnce  sync.Once
	closeOnce  sync.Once
}

// New validates cfg and constructs a Client in the RAW state. It does not
// connect; call Start.
func New(cfg Config) (*Client, error) {
	if cfg.Handler == nil {
		return nil, errors.New("sse: Config.Handler is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "sse: invalid Config.URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.Errorf("sse: Config.URL must be http or https, got %q", parsed.Scheme)
	}

	cfg.ConnectTimeout = orDefault(cfg.ConnectTimeout, DefaultConnectTimeout)
	cfg.ReadTimeout = orDefault(cfg.ReadTimeout, DefaultReadTimeout)
	cfg.WriteTimeout = orDefault(cfg.WriteTimeout, DefaultWriteTimeout)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newDefaultHTTPClient(cfg.ConnectTimeout, cfg.WriteTimeout)
	}

	connErr := cfg.ConnectionErrorHandler
	if connErr == nil {
		connErr = defaultConnectionErrorHandler{}
	}

	log := cfg.Logger
	if log == nil {
		log = pkgLogger
	}

	c := &Client{
		cfg:          cfg,
		parsedURL:    parsed,
		httpClient:   httpClient,
		handler:      cfg.Handler,
		connErr:      connErr,
		log:          log,
		expect:       cfg.ExpectFields,
		maxReconnect: orDefault(cfg.MaxReconnectTime, DefaultMaxReconnectTime),
		backoffReset: orDefault(cfg.BackoffResetThreshold, DefaultBackoffResetThreshold),
		workerDone:   make(chan struct{}),
	}
	c.builder = &RequestBuilder{
		URL:         cfg.URL,
		Method:      cfg.Method,
		Body:        cfg.Body,
		Headers:     cfg.Headers,
		Transformer: cfg.RequestTransformer,
	}
	c.reconnectNanos.Store(int64(orDefault(cfg.ReconnectTime, DefaultInitialReconnectTime)))
	id := cfg.LastEventID
	c.lastEventIDPtr.Store(&id)
	c.state.Store(int32(RAW))
	return c, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// State returns the controller's current ReadyState.
func (c *Client) State() ReadyState {
	return ReadyState(c.state.Load())
}

// LastEventID returns the id committed by the most recently dispatched event
// that carried an "id:" field, or the caller-seeded Config.LastEventID if
// none has yet. The id of an event without data is not committed.
func (c *Client) LastEventID() string {
	if p := c.lastEventIDPtr.Load(); p != nil {
		return *p
	}
	return ""
}

// URI returns the stream's endpoint.
func (c *Client) URI() *url.URL {
	return c.parsedURL
}

// Start is idempotent: it is a no-op unless the client is in RAW.
func (c *Client) Start() {
	if !c.state.CompareAndSwap(int32(RAW), int32(CONNECTING)) {
		return
	}
	c.startOnce.Do(func() {
		c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
		c.dispatcher = NewAsyncDispatcher(c.cfg.MaxEventTasksInFlight)
		go c.runWorker()
	})
}

// Restart is non-blocking. If OPEN, it cancels the in-flight call, forcing
// the worker to move to the next attempt with full backoff semantics
// (connectedAt stands, so the backoff-reset threshold still applies
// normally). If RAW, it behaves like Start. Otherwise it is a no-op.
func (c *Client) Restart() {
	switch c.State() {
	case RAW:
		c.Start()
	case OPEN:
		if c.state.CompareAndSwap(int32(OPEN), int32(CLOSED)) {
			c.cancelCurrentCall()
		}
	default:
	}
}

// Close is idempotent: it transitions to SHUTDOWN exactly once, cancels
// the in-flight call, and shuts down the dispatcher.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		for {
			cur := ReadyState(c.state.Load())
			if cur == SHUTDOWN {
				return
			}
			if c.state.CompareAndSwap(int32(cur), int32(SHUTDOWN)) {
				break
			}
		}
		c.cancelCurrentCall()
		if c.rootCancel != nil {
			c.rootCancel()
		}
		if c.dispatcher != nil {
			c.dispatcher.Stop()
		}
		if transport, ok := c.httpClient.(interface{ CloseIdleConnections() }); ok {
			transport.CloseIdleConnections()
		}
	})
}

// AwaitClosed blocks up to d for the stream worker and the dispatcher to
// terminate, returning whether both did so within the deadline.
func (c *Client) AwaitClosed(d time.Duration) bool {
	if c.workerDone == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	select {
	case <-c.workerDone:
	case <-ctx.Done():
		return false
	}
	if c.dispatcher != nil {
		return c.dispatcher.Wait(ctx)
	}
	return true
}

func (c *Client) cancelCurrentCall() {
	if p := c.currentCallPtr.Load(); p != nil {
		(*p)()
	}
}

func (c *Client) publishCancel(cancel context.CancelFunc) {
	c.currentCallPtr.Store(&cancel)
}

// setReconnectionTime implements parserCallbacks: it applies a server
// "retry:" directive to the live initial-backoff value.
func (c *Client) setReconnectionTime(ms int) {
	c.reconnectNanos.Store(int64(time.Duration(ms) * time.Millisecond))
}

// setLastEventID implements parserCallbacks.
func (c *Client) setLastEventID(id string) {
	c.lastEventIDPtr.Store(&id)
}

// lastEventID implements parserCallbacks.
func (c *Client) lastEventID() string {
	return c.LastEventID()
}

// drainDispatch implements parserCallbacks.
func (c *Client) drainDispatch() {
	c.dispatcher.Drain()
}

func (c *Client) policy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialReconnectTime:  time.Duration(c.reconnectNanos.Load()),
		MaxReconnectTime:      c.maxReconnect,
		BackoffResetThreshold: c.backoffReset,
	}
}

// runWorker is the stream worker loop: connect, read until the connection
// ends, sleep with backoff, repeat, until Close is called.
func (c *Client) runWorker() {
	defer close(c.workerDone)

	attempts := 0
	var connectedAt time.Time

	for {
		if c.State() == SHUTDOWN || c.rootCtx.Err() != nil {
			return
		}
		if attempts > 0 {
			sleep, next := computeBackoff(c.policy(), attempts, connectedAt, time.Now())
			attempts = next
			if !c.sleepCancellable(sleep) {
				return
			}
		}
		if c.policy().InitialReconnectTime > 0 || attempts > 0 {
			attempts++
		}
		connectedAt = c.attemptConnection(connectedAt)
	}
}

func (c *Client) sleepCancellable(d time.Duration) bool {
	if d <= 0 {
		return c.rootCtx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.rootCtx.Done():
		return false
	}
}

// attemptConnection runs a single connect-and-read attempt and returns the
// connectedAt to carry into the next loop iteration (unchanged on failure).
func (c *Client) attemptConnection(connectedAt time.Time) time.Time {
	if c.State() == SHUTDOWN {
		return connectedAt
	}
	if !c.state.CompareAndSwap(int32(CLOSED), int32(CONNECTING)) {
		c.state.CompareAndSwap(int32(RAW), int32(CONNECTING))
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	c.publishCancel(cancel)
	defer cancel()

	var openedThisAttempt bool
	shutdownRequested := false
	defer func() {
		if openedThisAttempt {
			// Draining before calling OnClosed directly (rather than
			// Submit-ing it) guarantees it runs only after every
			// OnMessage/OnComment already queued for this connection has
			// finished, and that it never overlaps with one still running.
			c.dispatcher.Drain()
			c.handler.OnClosed()
		}
		if shutdownRequested {
			c.Close()
			return
		}
		c.state.CompareAndSwap(int32(OPEN), int32(CLOSED))
		c.state.CompareAndSwap(int32(CONNECTING), int32(CLOSED))
	}()

	req, err := c.builder.Build(ctx, c.LastEventID())
	if err != nil {
		shutdownRequested = c.dispatchError(&TransportError{Cause: err})
		return connectedAt
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		shutdownRequested = c.dispatchError(&TransportError{Cause: err})
		return connectedAt
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		shutdownRequested = c.dispatchError(&UnsuccessfulResponse{StatusCode: resp.StatusCode})
		return connectedAt
	}

	body := newIdleTimeoutBody(resp.Body, c.cfg.ReadTimeout)
	defer body.Close()

	connectedAt = time.Now()
	c.state.CompareAndSwap(int32(CONNECTING), int32(OPEN))
	openedThisAttempt = true
	// Draining before calling OnOpen directly (rather than Submit-ing it)
	// guarantees any trailing OnMessage/OnComment/OnError still queued
	// from a previous connection attempt finish first, and that OnOpen
	// strictly precedes (never overlaps with) any OnMessage/OnComment of
	// this one, whether dispatched async (buffered) or called directly on
	// this goroutine (streaming).
	c.dispatcher.Drain()
	c.handler.OnOpen()

	source := NewByteLineSource(body, c.cfg.ReadBufferSize)
	parser := NewEventParser(source, c.parsedURL.String(), c.cfg.StreamEventData, c.expect, c, &dispatchingHandler{c: c}, c.handler)

	runErr := parser.Run()
	switch {
	case IsEndOfInput(runErr):
		c.log.Debug("sse: end of stream", zap.String("url", c.cfg.URL))
		action := c.connErr.OnConnectionError(EndOfStream)
		shutdownRequested = action == Shutdown
	default:
		// ParseError always wraps a TransportError here: the ByteLineSource's
		// own *ReadError is the transport failure underneath it.
		shutdownRequested = c.dispatchError(&ParseError{Cause: &TransportError{Cause: runErr}})
	}
	return connectedAt
}

// dispatchError implements the controller's error propagation policy: the
// ConnectionErrorHandler runs first; only if it does not request SHUTDOWN
// does Handler.OnError get invoked.
func (c *Client) dispatchError(err error) (shutdown bool) {
	action := c.connErr.OnConnectionError(err)
	if action == Shutdown {
		c.log.Error("sse: connection error, shutting down", zap.Error(err))
		return true
	}
	c.log.Debug("sse: connection error", zap.Error(err))
	c.dispatcher.Submit(func() { c.handler.OnError(err) })
	return false
}

// dispatchingHandler adapts Handler so that OnComment and buffered-mode
// OnMessage calls run on the AsyncDispatcher instead of directly on the
// stream worker. OnOpen and OnClosed are called directly by
// attemptConnection, each preceded by an AsyncDispatcher.Drain so they
// still strictly bracket (and never overlap) every OnMessage/OnComment of
// that connection; streaming-mode OnMessage also bypasses this type
// entirely, calling c.handler directly after its own Drain (see
// EventParser.stepStreamingData). This adapter's own OnOpen/OnClosed/
// OnError are therefore never invoked by the parser.
type dispatchingHandler struct {
	c *Client
}

func (h *dispatchingHandler) OnOpen()       {}
func (h *dispatchingHandler) OnClosed()     {}
func (h *dispatchingHandler) OnError(error) {}

func (h *dispatchingHandler) OnMessage(eventName string, event MessageEvent) {
	h.c.dispatcher.Submit(func() { h.c.handler.OnMessage(eventName, event) })
}

func (h *dispatchingHandler) OnComment(text string) {
	h.c.dispatcher.Submit(func() { h.c.handler.OnComment(text) })
}
