package sse

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanHandler delivers every callback onto a channel so tests can wait for
// specific events instead of polling or sleeping.
type chanHandler struct {
	opens    chan struct{}
	closeds  chan struct{}
	messages chan MessageEvent
	errs     chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		opens:    make(chan struct{}, 16),
		closeds:  make(chan struct{}, 16),
		messages: make(chan MessageEvent, 16),
		errs:     make(chan error, 16),
	}
}

func (h *chanHandler) OnOpen()       { h.opens <- struct{}{} }
func (h *chanHandler) OnClosed()     { h.closeds <- struct{}{} }
func (h *chanHandler) OnComment(string) {}
func (h *chanHandler) OnError(err error) { h.errs <- err }
func (h *chanHandler) OnMessage(_ string, event MessageEvent) {
	h.messages <- event
}

func requireRecv[T any](t *testing.T, ch chan T, d time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(d):
		var zero T
		require.Fail(t, "timed out waiting for value")
		return zero
	}
}

func TestClientIDPropagationAcrossReconnect(t *testing.T) {
	var seenLastEventID atomic.Value
	seenLastEventID.Store("")
	var hits int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if n == 1 {
			fmt.Fprint(w, "id: 42\ndata: x\n\n")
			return
		}
		seenLastEventID.Store(r.Header.Get("Last-Event-ID"))
		fmt.Fprint(w, "data: second\n\n")
	}))
	defer srv.Close()

	handler := newChanHandler()
	client, err := New(Config{
		URL:              srv.URL,
		Handler:          handler,
		ReconnectTime:    10 * time.Millisecond,
		MaxReconnectTime: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	client.Start()
	defer client.Close()

	first := requireRecv(t, handler.messages, 2*time.Second)
	assert.Equal(t, "x", first.Data.String())
	assert.Equal(t, "42", client.LastEventID())

	second := requireRecv(t, handler.messages, 2*time.Second)
	assert.Equal(t, "second", second.Data.String())
	assert.Equal(t, "42", seenLastEventID.Load())
}

func TestClientUnsuccessfulResponseThenReconnect(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: ok\n\n")
	}))
	defer srv.Close()

	handler := newChanHandler()
	client, err := New(Config{
		URL:              srv.URL,
		Handler:          handler,
		ReconnectTime:    10 * time.Millisecond,
		MaxReconnectTime: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	client.Start()
	defer client.Close()

	errValue := requireRecv(t, handler.errs, 2*time.Second)
	var unsuccessful *UnsuccessfulResponse
	require.ErrorAs(t, errValue, &unsuccessful)
	assert.Equal(t, http.StatusInternalServerError, unsuccessful.StatusCode)

	requireRecv(t, handler.opens, 2*time.Second)
	msg := requireRecv(t, handler.messages, 2*time.Second)
	assert.Equal(t, "ok", msg.Data.String())
}

func TestClientCloseIsIdempotentAndAwaitClosedReturnsTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	}))
	defer srv.Close()

	handler := newChanHandler()
	client, err := New(Config{URL: srv.URL, Handler: handler})
	require.NoError(t, err)
	client.Start()
	requireRecv(t, handler.opens, 2*time.Second)

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		go func() {
			defer wg.Done()
			client.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, SHUTDOWN, client.State())
	assert.True(t, client.AwaitClosed(2*time.Second))
}

func TestClientStartIsNoOpUnlessRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	}))
	defer srv.Close()

	handler := newChanHandler()
	client, err := New(Config{URL: srv.URL, Handler: handler})
	require.NoError(t, err)

	client.Start()
	requireRecv(t, handler.opens, 2*time.Second)
	client.Start() // no-op, already past RAW

	client.Close()
	require.True(t, client.AwaitClosed(2*time.Second))
}
