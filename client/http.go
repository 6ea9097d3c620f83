package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tombowditch/mystbin-go/internal/config"
)

// Rate-limit headers sent by the API.
const (
	headerRemaining  = "X-Ratelimit-Remaining"
	headerRetryAfter = "X-Ratelimit-Retry-After"
	headerLimit      = "X-Ratelimit-Limit"
)

var errResponseTimeout = errors.New("response timed out")

// RateLimit is the rate-limit state reported with a single response.
// Nil fields were absent or unparsable.
type RateLimit struct {
	Remaining  *int
	RetryAfter *time.Time
	Limit      *int
}

func parseRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	if n, err := strconv.Atoi(h.Get(headerRemaining)); err == nil {
		rl.Remaining = &n
	}
	if n, err := strconv.ParseInt(h.Get(headerRetryAfter), 10, 64); err == nil {
		t := time.Unix(n, 0)
		rl.RetryAfter = &t
	}
	if n, err := strconv.Atoi(h.Get(headerLimit)); err == nil {
		rl.Limit = &n
	}
	return rl
}

func (rl RateLimit) exhausted() bool {
	return rl.Remaining != nil && *rl.Remaining == 0
}

// response is one HTTP response with its body already read.
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Data is the decoded JSON value when JSON is true, else the body text.
	Data      any
	JSON      bool
	RateLimit RateLimit
}

func (r *response) decode(v any) error {
	if !r.JSON {
		return &Error{Code: ErrDecode, Message: "expected a JSON response", StatusCode: r.StatusCode, Body: r.Body, Data: r.Data, Header: r.Header}
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &Error{Code: ErrDecode, Message: "decoding response", StatusCode: r.StatusCode, Body: r.Body, Header: r.Header, Err: err}
	}
	return nil
}

func jsonOrText(contentType string, body []byte) (bool, any) {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/json" {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return true, v
		}
	}
	return false, string(body)
}

type requestOptions struct {
	body   any
	query  url.Values
	header http.Header
}

// httpClient executes routes against the API. Requests sharing a bucket run
// one at a time; other buckets proceed concurrently over the same pool.
type httpClient struct {
	mu         sync.Mutex
	session    *http.Client
	ownsClient bool

	timeout   time.Duration
	token     string
	userAgent string
	logger    logrus.FieldLogger
	buckets   *bucketRegistry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newHTTPClient(session *http.Client, logger logrus.FieldLogger) *httpClient {
	return &httpClient{
		session:   session,
		timeout:   config.ClientTimeout,
		userAgent: DefaultUserAgent(),
		logger:    logger,
		buckets:   newBucketRegistry(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pool returns the connection pool, creating and owning one on first use.
func (h *httpClient) pool() *http.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		h.session = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
		h.ownsClient = true
	}
	return h.session
}

func (h *httpClient) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != nil && h.ownsClient {
		h.session.CloseIdleConnections()
	}
}

func (h *httpClient) request(ctx context.Context, route Route, opts requestOptions) (*response, error) {
	session := h.pool()

	var payload []byte
	if opts.body != nil {
		var err error
		if payload, err = json.Marshal(opts.body); err != nil {
			return nil, &Error{Code: ErrInvalidArgument, Message: "encoding request body", Err: err}
		}
	}

	log := h.logger.WithFields(logrus.Fields{"bucket": route.Bucket(), "method": route.Method, "url": route.URL})

	lock, err := h.buckets.acquire(ctx, route.Bucket())
	if err != nil {
		return nil, fmt.Errorf("mystbin: waiting for bucket %s: %w", route.Bucket(), err)
	}
	defer func() {
		if wait := lock.release(h.now()); wait > 0 {
			log.WithField("release_in", wait).Debug("bucket release scheduled")
		}
	}()

	var last *response
	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		final := attempt == config.MaxAttempts-1
		alog := log.WithField("attempt", attempt+1)

		resp, err := h.send(ctx, session, route, payload, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("mystbin: %s: %w", route, ctx.Err())
			}
			if !isTransient(err) {
				return nil, &Error{Code: ErrUnreachable, Message: "sending " + route.String(), Err: err}
			}
			lastErr = err
			alog.WithError(err).Warn("network error")
			if err := h.backoff(ctx, lock, config.NetworkRetryDelay, final); err != nil {
				return nil, fmt.Errorf("mystbin: %s: %w", route, err)
			}
			continue
		}
		last = resp

		rl := resp.RateLimit
		if rl.exhausted() && resp.StatusCode != http.StatusTooManyRequests {
			if rl.RetryAfter != nil {
				until := rl.RetryAfter.Add(config.RateLimitPadding)
				alog.WithField("sleep", until.Sub(h.now())).Warn("rate limit exhausted, holding bucket")
				lock.deferUntil(until)
			} else {
				alog.Warn("rate limit exhausted without a retry-after")
			}
		}

		switch status := resp.StatusCode; {
		case status >= 200 && status < 300:
			return resp, nil

		case status == http.StatusTooManyRequests:
			wait := h.rateLimitWait(rl, attempt)
			alog.WithField("sleep", wait).Warn("rate limit hit")
			if err := h.backoff(ctx, lock, wait, final); err != nil {
				return nil, fmt.Errorf("mystbin: %s: %w", route, err)
			}

		case status == http.StatusInternalServerError, status == http.StatusBadGateway,
			status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
			wait := serverBackoff(attempt)
			alog.WithFields(logrus.Fields{"status": status, "sleep": wait}).Warn("server error")
			if err := h.backoff(ctx, lock, wait, final); err != nil {
				return nil, fmt.Errorf("mystbin: %s: %w", route, err)
			}

		default:
			alog.WithFields(logrus.Fields{"status": status, "body": resp.Data}).Error("unhandled HTTP error")
			return nil, newResponseError(resp)
		}
	}

	if last != nil {
		e := newResponseError(last)
		e.Message = fmt.Sprintf("giving up after %d attempts", config.MaxAttempts)
		e.Err = lastErr
		return nil, e
	}
	return nil, &Error{
		Code:    ErrUnreachable,
		Message: fmt.Sprintf("no response after %d attempts", config.MaxAttempts),
		Err:     lastErr,
	}
}

func (h *httpClient) send(ctx context.Context, session *http.Client, route Route, payload []byte, opts requestOptions) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	target := route.URL
	if len(opts.query) > 0 {
		target += "?" + opts.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, route.Method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", h.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	res, err := session.Do(req)
	if err == nil {
		defer res.Body.Close()
		var raw []byte
		if raw, err = io.ReadAll(res.Body); err == nil {
			resp := &response{
				StatusCode: res.StatusCode,
				Header:     res.Header,
				Body:       raw,
				RateLimit:  parseRateLimit(res.Header),
			}
			resp.JSON, resp.Data = jsonOrText(res.Header.Get("Content-Type"), raw)
			return resp, nil
		}
	}

	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %w", errResponseTimeout, h.timeout, err)
	}
	return nil, err
}

// backoff waits d before the next attempt while the bucket stays held. After
// the last attempt the caller returns at once and the bucket stays closed
// for d instead.
func (h *httpClient) backoff(ctx context.Context, lock *bucketLock, d time.Duration, final bool) error {
	if final {
		lock.deferUntil(h.now().Add(d))
		return nil
	}
	return h.sleep(ctx, d)
}

// rateLimitWait is how long to sit out a 429: until the advertised reset
// plus padding, or the server backoff when no reset was advertised.
func (h *httpClient) rateLimitWait(rl RateLimit, attempt int) time.Duration {
	if rl.RetryAfter == nil {
		return serverBackoff(attempt)
	}
	wait := rl.RetryAfter.Sub(h.now()) + config.RateLimitPadding
	if wait < 0 {
		return 0
	}
	return wait
}

func serverBackoff(attempt int) time.Duration {
	return config.ServerBackoffBase + time.Duration(attempt)*config.ServerBackoffScale
}

// isTransient reports whether a transport failure is a dropped or stalled
// connection worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, errResponseTimeout) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
