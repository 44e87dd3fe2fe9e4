// Package httpfetch implements the remote fetcher over plain HTTP. One call
// is exactly one network round trip; retry policy lives with the caller so
// attempt accounting stays visible.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oeistools/oeissync/internal/oeis"
)

// Config controls fetcher behavior.
type Config struct {
	// BaseURL is the remote root, e.g. "https://oeis.org".
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 16 << 20
)

// Waiter is the rate-limit gate acquired before every request.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Fetcher implements oeis.Fetcher against the remote HTTP endpoints.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter Waiter
}

// New builds a Fetcher sharing one pooled transport.
func New(cfg Config, limiter Waiter) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newHTTPTransport(),
		},
		limiter: limiter,
	}, nil
}

// Fetch acquires a rate permit and performs one GET for the task, translating
// the transport result into a typed outcome.
func (f *Fetcher) Fetch(ctx context.Context, task oeis.FetchTask) oeis.FetchOutcome {
	if err := f.limiter.Wait(ctx); err != nil {
		return oeis.FetchOutcome{Status: oeis.FetchTransient, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.taskURL(task), nil)
	if err != nil {
		return oeis.FetchOutcome{Status: oeis.FetchTransient, Err: fmt.Errorf("build request: %w", err)}
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return oeis.FetchOutcome{Status: oeis.FetchTransient, Err: fmt.Errorf("fetch %s: %w", task.ID, err)}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return f.readSuccess(task, resp)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return oeis.FetchOutcome{Status: oeis.FetchNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		return oeis.FetchOutcome{Status: oeis.FetchRateLimited, RetryAfter: retryAfter(resp)}
	default:
		// An explicit Retry-After on any other status is still a throttle
		// signal and overrides the default backoff.
		if delay := retryAfter(resp); delay > 0 {
			return oeis.FetchOutcome{Status: oeis.FetchRateLimited, RetryAfter: delay}
		}
		return oeis.FetchOutcome{
			Status: oeis.FetchTransient,
			Err:    fmt.Errorf("fetch %s: unexpected status %d", task.ID, resp.StatusCode),
		}
	}
}

func (f *Fetcher) readSuccess(task oeis.FetchTask, resp *http.Response) oeis.FetchOutcome {
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return oeis.FetchOutcome{Status: oeis.FetchTransient, Err: fmt.Errorf("read %s: %w", task.ID, err)}
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return oeis.FetchOutcome{
			Status: oeis.FetchTransient,
			Err:    fmt.Errorf("read %s: body exceeds %d bytes", task.ID, f.cfg.MaxBodyBytes),
		}
	}
	// Querying past the last entry still returns 200; the result count line
	// is the authoritative existence signal for metadata.
	if task.Kind == oeis.KindMetadata && !announcesOneEntry(body) {
		return oeis.FetchOutcome{Status: oeis.FetchNotFound}
	}
	return oeis.FetchOutcome{Status: oeis.FetchSuccess, Body: body}
}

func (f *Fetcher) taskURL(task oeis.FetchTask) string {
	base := strings.TrimRight(f.cfg.BaseURL, "/")
	n := int64(task.ID)
	if task.Kind == oeis.KindAttachment {
		return fmt.Sprintf("%s/A%06d/b%06d.txt", base, n, n)
	}
	return fmt.Sprintf("%s/search?q=id:A%06d&fmt=text", base, n)
}

func announcesOneEntry(body []byte) bool {
	lines := strings.SplitN(string(body), "\n", 5)
	return len(lines) >= 4 && strings.TrimSpace(lines[3]) == "Showing 1-1 of 1"
}

// retryAfter parses the Retry-After header, accepting both delta-seconds and
// HTTP-date forms. Zero means no usable signal.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
