package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/streamkeep/corerec/internal/httpclient"
)

// HTTPFetcher implements Fetcher over a resilient httpclient.Client: the
// concrete transport Orchestrator.Run talks to in production, as
// opposed to the in-memory fakes test files substitute.
type HTTPFetcher struct {
	client *httpclient.Client
}

// NewHTTPFetcher wraps client as a Fetcher.
func NewHTTPFetcher(client *httpclient.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch issues req.Method (defaulting to GET) against req.URL, applying
// req.Headers and an optional byte range, and either buffers the whole
// body or hands back a live stream per req.Stream.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("hls: building request for %s: %w", req.URL, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.HasRange {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", req.RangeStart, req.RangeEnd))
	}

	resp, err := f.client.DoWithContext(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("hls: fetching %s: %w", req.URL, err)
	}

	if req.Stream {
		return &FetchResponse{StatusCode: resp.StatusCode, Header: resp.Header, Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hls: reading body of %s: %w", req.URL, err)
	}
	return &FetchResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
