// Package fetch is the HTTP layer under every scraper: realistic browser
// headers with user-agent rotation, bounded exponential retries on
// transient failures, block detection, and pacing through both the
// per-source breaker registry and a global token bucket.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/ratelimit"
)

// Outcome classifies one fetch attempt end to end.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBlocked
	OutcomeNotFound
	OutcomeError
	OutcomeTimeout
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Response carries the body and classification of one fetch. Err holds the
// detail for non-success outcomes.
type Response struct {
	Outcome    Outcome
	StatusCode int
	Body       string
	URL        string
	Latency    time.Duration
	Err        error
}

// defaultUserAgents are recent desktop Chrome/Firefox/Safari/Edge strings,
// rotated across requests.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
}

// baseHeaders mimic a French desktop browser. Accept-Encoding and
// Connection are left to the transport so gzip decoding stays automatic.
var baseHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
	"Sec-Ch-Ua":                 `"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`,
	"Sec-Ch-Ua-Mobile":          "?0",
	"Sec-Ch-Ua-Platform":        `"macOS"`,
}

var sourceReferers = map[domain.Source]string{
	domain.SourceAutoScout24: "https://www.autoscout24.fr/",
	domain.SourceLaCentrale:  "https://www.lacentrale.fr/",
	domain.SourceParuVendu:   "https://www.paruvendu.fr/",
	domain.SourceLeboncoin:   "https://www.leboncoin.fr/",
}

// blockMarkers flag a challenge page when the body is small; a large page
// carrying any validContentMarker is trusted regardless.
var (
	blockMarkers        = []string{"captcha", "access denied", "blocked", "too many requests", "rate limit"}
	validContentMarkers = []string{"annonce", "voiture", "prix", "€", "listing", "vehicle"}
)

const (
	validContentMinSize = 10000
	blockBodyMaxSize    = 50000
	maxBodyBytes        = 4 << 20
)

// Config holds the knobs for one source's client. The Pace limiter is
// shared across all sources; Limiter is the per-source breaker registry.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	UserAgents []string

	Pace    *rate.Limiter
	Limiter *ratelimit.Registry
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = defaultUserAgents
	}
	return c
}

// Stats counts what one client did since start.
type Stats struct {
	Requests   int64
	Success    int64
	Blocked    int64
	AvgLatency time.Duration
}

// Client fetches pages for one source.
type Client struct {
	source domain.Source
	cfg    Config
	http   *http.Client
	logger zerolog.Logger

	mu           sync.Mutex
	uaIndex      int
	requests     int64
	success      int64
	blocked      int64
	totalLatency time.Duration
}

// New builds a client for one source. A nil Pace or Limiter just disables
// that gate.
func New(source domain.Source, cfg Config, logger zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		source: source,
		cfg:    cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
				MaxIdleConns:          10,
				IdleConnTimeout:       30 * time.Second,
			},
		},
		logger:  logger.With().Str("source", string(source)).Logger(),
		uaIndex: rand.Intn(len(cfg.UserAgents)),
	}
}

// Fetch GETs one URL through both pacing gates and classifies the result.
// All failure modes come back in the Response; the caller switches on
// Outcome.
func (c *Client) Fetch(ctx context.Context, rawURL string) Response {
	if c.cfg.Limiter != nil && !c.cfg.Limiter.WaitForSlot(ctx, c.source) {
		if ctx.Err() != nil {
			return Response{Outcome: OutcomeError, URL: rawURL, Err: ctx.Err()}
		}
		return Response{Outcome: OutcomeRateLimited, URL: rawURL, Err: fmt.Errorf("circuit open for %s", c.source)}
	}
	if c.cfg.Pace != nil {
		if err := c.cfg.Pace.Wait(ctx); err != nil {
			return Response{Outcome: OutcomeError, URL: rawURL, Err: err}
		}
	}

	c.mu.Lock()
	c.requests++
	c.mu.Unlock()

	headers := c.nextHeaders()
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBase*(1<<uint(attempt-1)) + time.Duration(rand.Int63n(int64(time.Second)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return c.observe(Response{Outcome: OutcomeError, URL: rawURL, Latency: time.Since(start), Err: ctx.Err()})
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return c.observe(Response{Outcome: OutcomeError, URL: rawURL, Err: fmt.Errorf("failed to build request: %w", err)})
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return c.observe(Response{Outcome: OutcomeError, URL: rawURL, Latency: time.Since(start), Err: ctx.Err()})
			}
			lastErr = err
			if isTimeout(err) {
				continue
			}
			break
		}

		body, err := readBody(resp)
		latency := time.Since(start)
		if err != nil {
			lastErr = err
			if isTimeout(err) {
				continue
			}
			break
		}

		if detectBlock(resp.StatusCode, body) {
			c.recordBlock()
			c.logger.Warn().Str("url", rawURL).Int("status", resp.StatusCode).Msg("fetch blocked")
			return c.observe(Response{
				Outcome:    OutcomeBlocked,
				StatusCode: resp.StatusCode,
				Body:       body,
				URL:        rawURL,
				Latency:    latency,
				Err:        fmt.Errorf("blocked (status=%d)", resp.StatusCode),
			})
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return c.observe(Response{Outcome: OutcomeNotFound, StatusCode: resp.StatusCode, Body: body, URL: rawURL, Latency: latency})

		case resp.StatusCode == http.StatusOK:
			c.recordSuccess()
			return c.observe(Response{Outcome: OutcomeSuccess, StatusCode: resp.StatusCode, Body: body, URL: rawURL, Latency: latency})

		case isTransientStatus(resp.StatusCode):
			lastErr = fmt.Errorf("transient status %d", resp.StatusCode)
			continue

		default:
			c.recordFailure()
			return c.observe(Response{
				Outcome:    OutcomeError,
				StatusCode: resp.StatusCode,
				Body:       body,
				URL:        rawURL,
				Latency:    latency,
				Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
			})
		}
	}

	c.recordFailure()
	outcome := OutcomeError
	if isTimeout(lastErr) {
		outcome = OutcomeTimeout
	}
	c.logger.Warn().Str("url", rawURL).Str("outcome", outcome.String()).Err(lastErr).Msg("fetch failed")
	return c.observe(Response{Outcome: outcome, URL: rawURL, Latency: time.Since(start), Err: lastErr})
}

// Stats returns a snapshot of the request counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	avg := time.Duration(0)
	if c.requests > 0 {
		avg = c.totalLatency / time.Duration(c.requests)
	}
	return Stats{
		Requests:   c.requests,
		Success:    c.success,
		Blocked:    c.blocked,
		AvgLatency: avg,
	}
}

func (c *Client) nextHeaders() map[string]string {
	c.mu.Lock()
	c.uaIndex = (c.uaIndex + 1) % len(c.cfg.UserAgents)
	ua := c.cfg.UserAgents[c.uaIndex]
	c.mu.Unlock()

	h := make(map[string]string, len(baseHeaders)+2)
	for k, v := range baseHeaders {
		h[k] = v
	}
	h["User-Agent"] = ua
	if ref, ok := sourceReferers[c.source]; ok {
		h["Referer"] = ref
	}
	return h
}

func (c *Client) observe(r Response) Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalLatency += r.Latency
	switch r.Outcome {
	case OutcomeSuccess:
		c.success++
	case OutcomeBlocked:
		c.blocked++
	}
	return r
}

func (c *Client) recordSuccess() {
	if c.cfg.Limiter != nil {
		c.cfg.Limiter.RecordSuccess(c.source)
	}
}

func (c *Client) recordFailure() {
	if c.cfg.Limiter != nil {
		c.cfg.Limiter.RecordFailure(c.source)
	}
}

func (c *Client) recordBlock() {
	if c.cfg.Limiter != nil {
		c.cfg.Limiter.RecordBlock(c.source)
	}
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(data), nil
}

// detectBlock flags hard block statuses, then challenge pages. A large body
// carrying marketplace vocabulary is never treated as a block; challenge
// markers only count on bodies under the size cap.
func detectBlock(statusCode int, body string) bool {
	switch statusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}

	lower := strings.ToLower(body)
	if len(body) > validContentMinSize && containsAny(lower, validContentMarkers) {
		return false
	}
	return len(body) < blockBodyMaxSize && containsAny(lower, blockMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func isTransientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
