package hls

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkeep/corerec/internal/httpclient"
)

func TestHTTPFetcherBuffersBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("playlist-body"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(httpclient.NewWithDefaults())
	resp, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte("playlist-body"), resp.Body)
}

func TestHTTPFetcherSendsByteRangeHeader(t *testing.T) {
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Write([]byte("x"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(httpclient.NewWithDefaults())
	_, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL, HasRange: true, RangeStart: 10, RangeEnd: 20})
	require.NoError(t, err)
	assert.Equal(t, "bytes=10-20", gotRange)
}

func TestHTTPFetcherStreamsWhenRequested(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("streamed-segment"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(httpclient.NewWithDefaults())
	resp, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL, Stream: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	data, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.Equal(t, "streamed-segment", string(data))
}
