package httpfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oeistools/oeissync/internal/oeis"
)

type countingWaiter struct {
	calls atomic.Int64
	err   error
}

func (w *countingWaiter) Wait(context.Context) error {
	w.calls.Add(1)
	return w.err
}

func entryResponse(id int64) string {
	return fmt.Sprintf("# Greetings from The On-Line Encyclopedia of Integer Sequences! http://oeis.org/\n\nSearch: id:a%06d\nShowing 1-1 of 1\n\n%%S A%06d 1,1,2\n%%N A%06d Test.\n%%K A%06d nonn\n", id, id, id, id)
}

func newTestFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, *countingWaiter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	waiter := &countingWaiter{}
	f, err := New(Config{BaseURL: srv.URL, UserAgent: "oeissync-test/0.1"}, waiter)
	require.NoError(t, err)
	return f, waiter
}

func TestFetcher_MetadataSuccess(t *testing.T) {
	t.Parallel()
	var gotPath, gotQuery, gotUA string
	f, waiter := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, entryResponse(45))
	})

	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 45, Kind: oeis.KindMetadata})
	require.Equal(t, oeis.FetchSuccess, out.Status)
	assert.Contains(t, string(out.Body), "%S A000045")
	assert.Equal(t, "/search", gotPath)
	assert.Equal(t, "q=id:A000045&fmt=text", gotQuery)
	assert.Equal(t, "oeissync-test/0.1", gotUA)
	assert.Equal(t, int64(1), waiter.calls.Load(), "exactly one permit per round trip")
}

func TestFetcher_AttachmentURL(t *testing.T) {
	t.Parallel()
	var gotPath string
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "0 0\n1 1\n")
	})

	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 45, Kind: oeis.KindAttachment})
	require.Equal(t, oeis.FetchSuccess, out.Status)
	assert.Equal(t, "/A000045/b000045.txt", gotPath)
}

func TestFetcher_MetadataBeyondLastEntry(t *testing.T) {
	t.Parallel()
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		// The remote answers 200 with a zero-result count past the end.
		fmt.Fprint(w, "# Greetings from The On-Line Encyclopedia of Integer Sequences! http://oeis.org/\n\nSearch: id:a999999\nShowing 1-0 of 0\n\n")
	})
	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 999999, Kind: oeis.KindMetadata})
	assert.Equal(t, oeis.FetchNotFound, out.Status)
}

func TestFetcher_StatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code int
		want oeis.OutcomeStatus
	}{
		{http.StatusNotFound, oeis.FetchNotFound},
		{http.StatusGone, oeis.FetchNotFound},
		{http.StatusInternalServerError, oeis.FetchTransient},
		{http.StatusBadGateway, oeis.FetchTransient},
		{http.StatusForbidden, oeis.FetchTransient},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			f, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.code)
			})
			out := f.Fetch(context.Background(), oeis.FetchTask{ID: 7, Kind: oeis.KindMetadata})
			assert.Equal(t, tc.want, out.Status)
		})
	}
}

func TestFetcher_RateLimitedWithRetryAfter(t *testing.T) {
	t.Parallel()
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 7, Kind: oeis.KindMetadata})
	require.Equal(t, oeis.FetchRateLimited, out.Status)
	assert.Equal(t, 7*time.Second, out.RetryAfter)
}

func TestFetcher_RetryAfterOnServiceUnavailable(t *testing.T) {
	t.Parallel()
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 7, Kind: oeis.KindMetadata})
	require.Equal(t, oeis.FetchRateLimited, out.Status)
	assert.Equal(t, 3*time.Second, out.RetryAfter)
}

func TestFetcher_RateLimitedWithoutHint(t *testing.T) {
	t.Parallel()
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 7, Kind: oeis.KindMetadata})
	require.Equal(t, oeis.FetchRateLimited, out.Status)
	assert.Zero(t, out.RetryAfter)
}

func TestFetcher_NetworkError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on
	f, err := New(Config{BaseURL: srv.URL}, &countingWaiter{})
	require.NoError(t, err)

	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 7, Kind: oeis.KindMetadata})
	require.Equal(t, oeis.FetchTransient, out.Status)
	assert.Error(t, out.Err)
}

func TestFetcher_BodyTooLarge(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, entryResponse(45))
	}))
	t.Cleanup(srv.Close)
	f, err := New(Config{BaseURL: srv.URL, MaxBodyBytes: 16}, &countingWaiter{})
	require.NoError(t, err)

	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 45, Kind: oeis.KindMetadata})
	require.Equal(t, oeis.FetchTransient, out.Status)
	assert.ErrorContains(t, out.Err, "exceeds")
}

func TestFetcher_LimiterErrorShortCircuits(t *testing.T) {
	t.Parallel()
	var served atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		served.Store(true)
	}))
	t.Cleanup(srv.Close)
	f, err := New(Config{BaseURL: srv.URL}, &countingWaiter{err: context.Canceled})
	require.NoError(t, err)

	out := f.Fetch(context.Background(), oeis.FetchTask{ID: 7, Kind: oeis.KindMetadata})
	require.Equal(t, oeis.FetchTransient, out.Status)
	assert.False(t, served.Load(), "request must not be sent without a permit")
}
