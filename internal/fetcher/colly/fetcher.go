// Package collyfetcher retrieves feed documents using gocolly.
package collyfetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

const (
	defaultTimeout = 30 * time.Second
	acceptHeader   = "application/xml, text/xml;q=0.9, */*;q=0.8"
)

// Config controls collector behavior and the per-request retry policy.
type Config struct {
	UserAgent string
	// Timeout bounds each attempt, including redirects and body read.
	Timeout time.Duration
	// MaxAttempts is the total number of tries. Values below 1 mean a single try.
	MaxAttempts int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// MaxBodyBytes caps the document size. Zero means unlimited.
	MaxBodyBytes int
}

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements monitor.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	logger        *zap.Logger

	attempt func(ctx context.Context, url string) (monitor.FetchResult, error)
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Clones share the backend, so transport and timeout are set once here.
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
		sleep:         sleepContext,
	}
	f.attempt = f.visit
	return f
}

// Fetch performs a GET with bounded retries. The returned result always
// carries the elapsed time of the last attempt and the attempt count.
// Failures are *monitor.Error values of kind network or protocol.
func (f *Fetcher) Fetch(ctx context.Context, url string) (monitor.FetchResult, error) {
	attempts := f.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		last    monitor.FetchResult
		lastErr error
	)
	for i := 1; i <= attempts; i++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				last.Attempts = i - 1
				return last, monitor.Wrap(monitor.KindNetwork, "fetch aborted", err)
			}
		}

		start := time.Now()
		res, err := f.attempt(ctx, url)
		res.URL = url
		res.Attempts = i
		if err == nil {
			err = checkStatus(res.StatusCode)
		}
		if err == nil {
			res.Body, err = maybeGunzip(res.Body, f.cfg.MaxBodyBytes)
		}
		res.Duration = time.Since(start)

		if err == nil {
			metrics.ObserveFetchAttempt(url, "ok", len(res.Body))
			return res, nil
		}

		classified := classify(err)
		last, lastErr = res, classified
		metrics.ObserveFetchAttempt(url, resultLabel(classified), 0)
		f.logger.Warn("sitemap fetch failed",
			zap.String("url", url),
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr),
		)

		if ctx.Err() != nil {
			break
		}
		if i < attempts {
			if err := f.sleep(ctx, f.cfg.RetryDelay); err != nil {
				break
			}
		}
	}
	last.Body = nil
	return last, lastErr
}

func (f *Fetcher) visit(ctx context.Context, url string) (monitor.FetchResult, error) {
	var (
		result   monitor.FetchResult
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = f.cfg.MaxBodyBytes

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
	})
	// The XML decoder honours the prolog's encoding, so colly must hand over
	// the raw bytes instead of transcoding by the Content-Type charset.
	collector.OnResponseHeaders(func(r *colly.Response) {
		stripCharset(r.Headers)
	})
	collector.OnResponse(func(r *colly.Response) {
		result = monitor.FetchResult{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return monitor.FetchResult{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return monitor.FetchResult{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return monitor.FetchResult{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return result, nil
	}
}

func stripCharset(h *http.Header) {
	if h == nil {
		return
	}
	ct := h.Get("Content-Type")
	if ct == "" {
		return
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		h.Set("Content-Type", strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
		return
	}
	if _, ok := params["charset"]; !ok {
		return
	}
	delete(params, "charset")
	h.Set("Content-Type", mime.FormatMediaType(mediaType, params))
}

// IsTimeout reports whether err was caused by a request or context deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("http status %d", e.code)
}

func checkStatus(code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return statusError{code: code}
}

func classify(err error) *monitor.Error {
	var se statusError
	switch {
	case errors.As(err, &se):
		return monitor.Errorf(monitor.KindProtocol, "http status %d", se.code)
	case IsTimeout(err):
		return monitor.Wrap(monitor.KindNetwork, "request timed out", err)
	case errors.Is(err, gzip.ErrHeader), errors.Is(err, gzip.ErrChecksum):
		return monitor.Wrap(monitor.KindDecode, "corrupt gzip body", err)
	default:
		return monitor.Wrap(monitor.KindNetwork, "request failed", err)
	}
}

func resultLabel(err *monitor.Error) string {
	switch {
	case err.Kind == monitor.KindProtocol:
		return "status"
	case IsTimeout(err):
		return "timeout"
	default:
		return "transport"
	}
}

// maybeGunzip unwraps .xml.gz payloads served without a Content-Encoding header.
func maybeGunzip(body []byte, limit int) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip body: %w", err)
	}
	defer func() { _ = zr.Close() }()
	var r io.Reader = zr
	if limit > 0 {
		r = io.LimitReader(zr, int64(limit))
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gzip body: %w", err)
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
