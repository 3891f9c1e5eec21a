package sse

import (
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultConnectTimeout is Config.ConnectTimeout's zero-value default.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultReadTimeout is Config.ReadTimeout's zero-value default.
	DefaultReadTimeout = 5 * time.Minute
	// DefaultWriteTimeout is Config.WriteTimeout's zero-value default.
	DefaultWriteTimeout = 5 * time.Second
)

// HTTPDoer is the only contract this package needs from an HTTP transport
// (connection establishment, TLS, and proxies are treated as an
// external collaborator). *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newDefaultHTTPClient builds the *http.Client used when Config.HTTPClient
// is nil, from the three timeout knobs on Config. Connect and write timeouts
// map onto net.Dialer and Transport.ResponseHeaderTimeout; ReadTimeout is
// applied per-attempt as an idle-read watchdog around the response body
// (see idleTimeoutBody), since an overall request timeout would kill a
// legitimately long-lived stream.
func newDefaultHTTPClient(connectTimeout, writeTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: writeTimeout,
		},
	}
}

// idleTimeoutBody closes the wrapped body if no Read completes within
// timeout of the previous one, so a stalled connection surfaces as a
// TransportError instead of blocking the stream worker forever.
type idleTimeoutBody struct {
	io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration) io.ReadCloser {
	if timeout <= 0 {
		return rc
	}
	return &idleTimeoutBody{
		ReadCloser: rc,
		timeout:    timeout,
		timer:      time.AfterFunc(timeout, func() { _ = rc.Close() }),
	}
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.timer.Reset(b.timeout)
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	return b.ReadCloser.Close()
}
