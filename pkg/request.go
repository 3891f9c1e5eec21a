package sse

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// RequestTransformer is invoked last when building a per-attempt request,
// and may return any request derived from the prepared base — including
// base itself, unmodified.
type RequestTransformer func(base *http.Request) (*http.Request, error)

// RequestBuilder is stateless: each call to Build snapshots the fixed
// configuration plus whatever lastEventID is passed in.
type RequestBuilder struct {
	URL         string
	Method      string
	Body        func() io.Reader
	Headers     http.Header
	Transformer RequestTransformer
}

// defaultHeaders are merged under any caller-supplied headers, which may
// override them.
func defaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("Accept", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	return h
}

// Build assembles the *http.Request for one connection attempt: base URL
// and method (uppercased, defaulting to GET), merged headers, and
// "Last-Event-ID" iff lastEventID is non-empty — then runs Transformer, if
// set, over the result.
func (b *RequestBuilder) Build(ctx context.Context, lastEventID string) (*http.Request, error) {
	method := strings.ToUpper(b.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if b.Body != nil {
		body = b.Body()
	}

	req, err := http.NewRequestWithContext(ctx, method, b.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "sse: build request")
	}

	headers := defaultHeaders()
	for k, vs := range b.Headers {
		headers.Del(k)
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	req.Header = headers

	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	if b.Transformer != nil {
		transformed, err := b.Transformer(req)
		if err != nil {
			return nil, errors.Wrap(err, "sse: request transformer")
		}
		return transformed, nil
	}

	return req, nil
}
