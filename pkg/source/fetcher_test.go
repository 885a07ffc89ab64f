package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Fetch(t *testing.T) {
	var gotReq *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		w.Write([]byte("<rss/>")) //nolint:errcheck
	}))
	defer ts.Close()

	f := NewFetcher(5*time.Second, "test-agent/1.0", 100)
	body, err := f.Fetch(context.Background(), "", ts.URL, map[string]string{"X-Api-Key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "<rss/>", string(body))

	require.NotNil(t, gotReq)
	assert.Equal(t, http.MethodGet, gotReq.Method, "empty method defaults to GET")
	assert.Equal(t, "test-agent/1.0", gotReq.Header.Get("User-Agent"))
	assert.Equal(t, "k", gotReq.Header.Get("X-Api-Key"), "custom headers pass through")
	assert.NotEmpty(t, gotReq.Header.Get("Accept"), "browser-ish headers set")
}

func TestFetcher_Status(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := NewFetcher(5*time.Second, "a", 100)
	_, err := f.Fetch(context.Background(), http.MethodGet, ts.URL, nil)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ts.URL, fe.URL)
	assert.Contains(t, fe.Error(), "404")
}

func TestFetcher_ContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := NewFetcher(5*time.Second, "a", 100)
	_, err := f.Fetch(ctx, http.MethodGet, ts.URL, nil)
	require.Error(t, err)
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestFetcher_PerHostPacing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer ts.Close()

	f := NewFetcher(5*time.Second, "a", 20) // 50ms between requests to one host

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), http.MethodGet, ts.URL, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"third request to the same host waits two pacing intervals")
}

func TestFetcher_BadURL(t *testing.T) {
	f := NewFetcher(time.Second, "a", 1)
	_, err := f.Fetch(context.Background(), http.MethodGet, "http://\x00bad", nil)
	require.Error(t, err)
}
