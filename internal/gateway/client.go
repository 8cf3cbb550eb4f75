// Package gateway talks to the remote signing platform. Every request carries
// the agent version, platform tag and device-sync flag as query parameters and
// an Authorization header from an AuthProvider. Redirects are never followed
// and non-2xx answers come back as *StatusError; nothing is retried here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/metrics"
)

const (
	// DefaultConnectTimeout bounds dialing, the TLS handshake and waiting for a pooled connection.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultRequestTimeout bounds a whole request when the caller's context has no deadline.
	DefaultRequestTimeout = 60 * time.Second
	// MaxResponseBody caps how much of a response body is read.
	MaxResponseBody = 8 << 20
)

var errConnectTimeout = errors.New("timed out waiting for a connection")

// Options configures a Client.
type Options struct {
	BaseURL        string
	Version        string
	Platform       core.Platform
	ConnectTimeout time.Duration
	Auth           AuthProvider
	HTTPClient     *http.Client // optional; its redirect policy is overridden
	Metrics        *metrics.Metrics
}

// Response is a successful (2xx) platform response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is a platform response outside the 2xx range.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Reason)
}

// Client is the authenticated platform HTTP client.
type Client struct {
	base           *url.URL
	version        string
	platform       core.Platform
	connectTimeout time.Duration
	auth           AuthProvider
	http           *http.Client
	metrics        *metrics.Metrics
}

// New validates opts and builds a client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, apperr.New(apperr.KindConfiguration, "gateway.missing_base_url")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "gateway.invalid_base_url", opts.BaseURL)
	}
	if opts.Platform == "" {
		opts.Platform = core.CurrentPlatform()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	var hc http.Client
	if opts.HTTPClient != nil {
		hc = *opts.HTTPClient
	} else {
		hc = http.Client{Transport: newTransport(opts.ConnectTimeout)}
	}
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		base:           base,
		version:        opts.Version,
		platform:       opts.Platform,
		connectTimeout: opts.ConnectTimeout,
		auth:           opts.Auth,
		http:           &hc,
		metrics:        opts.Metrics,
	}, nil
}

func newTransport(connectTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		MaxIdleConnsPerHost:   4,
		MaxConnsPerHost:       8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewRequest builds a platform request for path. A non-nil payload is sent as JSON.
// sync sets the devices query flag.
func (c *Client) NewRequest(ctx context.Context, method, path string, payload any, sync bool) (*http.Request, error) {
	u := c.base.JoinPath(path)
	q := u.Query()
	q.Set("version", c.version)
	q.Set("platform", string(c.platform))
	q.Set("devices", strconv.FormatBool(sync))
	u.RawQuery = q.Encode()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindEncoding, "gateway.encode_payload", path)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "gateway.build_request", method, path)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sign-agent/"+c.version)

	if c.auth != nil {
		credential, err := c.auth.EndpointAuthentication()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindConfiguration, "gateway.auth_unavailable")
		}
		if credential != "" {
			req.Header.Set("Authorization", credential)
		}
	}
	return req, nil
}

// Do sends req and reads the whole response body. Non-2xx responses are
// returned as *StatusError; network failures as KindTransport errors.
func (c *Client) Do(req *http.Request) (*Response, error) {
	start := time.Now()

	ctx := req.Context()
	if _, ok := ctx.Deadline(); !ok {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancelTimeout()
	}

	// Give up if no connection (new or pooled) is handed out within connectTimeout.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := time.AfterFunc(c.connectTimeout, func() { cancel(errConnectTimeout) })
	defer timer.Stop()
	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { timer.Stop() },
	}
	req = req.WithContext(httptrace.WithClientTrace(ctx, trace))

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveGatewayRequest(req.Method, 0, time.Since(start))
		code := "gateway.request_failed"
		if errors.Is(context.Cause(ctx), errConnectTimeout) {
			code = "gateway.connect_timeout"
			err = errConnectTimeout
		}
		logging.Warn(logging.CatGateway, "Platform request failed", map[string]any{
			"method": req.Method,
			"path":   req.URL.Path,
			"error":  err.Error(),
		})
		return nil, apperr.Wrap(err, apperr.KindTransport, code, req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	c.metrics.ObserveGatewayRequest(req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransport, "gateway.read_body", req.Method, req.URL.Path)
	}

	logging.Debug(logging.CatGateway, "Platform request", map[string]any{
		"method":   req.Method,
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Reason:     reasonPhrase(resp),
			Header:     resp.Header,
			Body:       body,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Call builds, sends and decodes a JSON request. out may be nil.
func (c *Client) Call(ctx context.Context, method, path string, payload any, sync bool, out any) error {
	req, err := c.NewRequest(ctx, method, path, payload, sync)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperr.Wrap(err, apperr.KindDecoding, "gateway.decode_response", method, path)
	}
	return nil
}

// reasonPhrase returns the reason phrase exactly as the server sent it.
func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode)
	if reason, ok := strings.CutPrefix(resp.Status, prefix); ok {
		return strings.TrimSpace(reason)
	}
	if resp.Status != "" {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}
