// Package gateway performs HTTP calls on behalf of the dashboard and its
// clients and normalizes non-success responses into *HTTPError.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"tarediiran-industries.com/transit-tracker/internal/common"
)

type Gateway struct {
	client  *http.Client
	baseURL *url.URL
	metrics *common.Metrics
}

type Option func(*Gateway) error

// WithBaseURL resolves relative targets against base, the way a browser
// resolves same-origin requests.
func WithBaseURL(base string) Option {
	return func(gw *Gateway) error {
		if base == "" {
			return nil
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parse base url %q: %w", base, err)
		}
		gw.baseURL = parsed
		return nil
	}
}

// WithHTTPClient replaces the default client. A client without a cookie jar
// gets the gateway's jar so credentials are still included.
func WithHTTPClient(client *http.Client) Option {
	return func(gw *Gateway) error {
		if client.Jar == nil {
			client.Jar = gw.client.Jar
		}
		gw.client = client
		return nil
	}
}

func WithMetrics(metrics *common.Metrics) Option {
	return func(gw *Gateway) error {
		gw.metrics = metrics
		return nil
	}
}

func New(opts ...Option) (*Gateway, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	gw := &Gateway{client: &http.Client{Jar: jar}}
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, err
		}
	}
	return gw, nil
}

func (gw *Gateway) Resolve(target string) (*url.URL, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", target, err)
	}
	if gw.baseURL != nil {
		parsed = gw.baseURL.ResolveReference(parsed)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("target %q is relative and no base url is configured", target)
	}
	return parsed, nil
}

// Request sends method to target with cookies attached. A non-nil payload is
// sent as JSON. Responses in [200, 400) are returned untouched and the caller
// must close the body; anything else becomes an *HTTPError.
func (gw *Gateway) Request(ctx context.Context, method, target string, payload any) (*http.Response, error) {
	requestURL, err := gw.Resolve(target)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s payload: %w", method, requestURL, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL.String(), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	endpoint := requestURL.Host
	start := time.Now()
	resp, err := gw.client.Do(req)
	if err != nil {
		gw.countError(endpoint, 0)
		return nil, fmt.Errorf("%s %s: %w", method, requestURL, err)
	}
	if gw.metrics != nil {
		gw.metrics.HttpTTFBSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}

	if err := gw.throwIfNotOK(resp, endpoint); err != nil {
		return nil, err
	}

	if gw.metrics != nil {
		resp.Body = &meteredBody{ReadCloser: resp.Body, endpoint: endpoint, metrics: gw.metrics, start: time.Now()}
	}
	return resp, nil
}

// GetJSON issues a GET and decodes a successful body into out.
func (gw *Gateway) GetJSON(ctx context.Context, target string, out any) error {
	resp, err := gw.Request(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

func (gw *Gateway) throwIfNotOK(resp *http.Response, endpoint string) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	defer resp.Body.Close()

	gw.countError(endpoint, resp.StatusCode)

	// A body that cannot be read in full is not worth quoting.
	raw, err := io.ReadAll(resp.Body)
	text := string(raw)
	if err != nil || text == "" {
		text = statusText(resp)
	}
	return &HTTPError{Status: resp.StatusCode, Text: text}
}

func (gw *Gateway) countError(endpoint string, status int) {
	if gw.metrics == nil {
		return
	}
	gw.metrics.HttpErrorsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// statusText is the reason phrase of the status line, e.g. "Not Found".
func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

type meteredBody struct {
	io.ReadCloser
	endpoint string
	metrics  *common.Metrics
	start    time.Time
	bytes    int
	closed   bool
}

func (body *meteredBody) Read(p []byte) (int, error) {
	n, err := body.ReadCloser.Read(p)
	body.bytes += n
	return n, err
}

func (body *meteredBody) Close() error {
	if !body.closed {
		body.closed = true
		body.metrics.HttpReadBodySeconds.WithLabelValues(body.endpoint).Observe(time.Since(body.start).Seconds())
		body.metrics.HttpBytesTotal.WithLabelValues(body.endpoint).Add(float64(body.bytes))
	}
	return body.ReadCloser.Close()
}
