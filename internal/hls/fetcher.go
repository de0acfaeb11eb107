package hls

import (
	"context"
	"io"
)

// FetchRequest describes one HTTP request the Orchestrator issues
// through its Fetcher collaborator. TLS, proxy, and timeout policy all
// belong to whatever constructs the Fetcher (spec.md §1's "HTTP client
// construction... delegated" boundary); the Orchestrator only ever
// asks for bytes.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string

	// RangeStart/RangeEnd request a byte-range (inclusive) when
	// HasRange is true, for EXT-X-BYTERANGE segments.
	HasRange   bool
	RangeStart int64
	RangeEnd   int64

	// Stream requests a streaming body rather than a buffered one, for
	// payloads at or above StreamingThresholdBytes.
	Stream bool
}

// FetchResponse is either a buffered response (Body populated, Stream
// nil) or a streaming one (Stream populated, Body nil) — never both.
type FetchResponse struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
	Stream     io.ReadCloser
}

// Fetcher is the HTTP byte-stream producer collaborator the
// Orchestrator consumes (spec.md §6.1). corerec never constructs an
// http.Client itself.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}
