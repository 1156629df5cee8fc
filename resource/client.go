package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Client issues REST requests against the backend application services.
// It never touches a cache; callers decide what to keep.
type Client struct {
	cfg       Config
	base      *url.URL
	http      *http.Client
	jar       http.CookieJar
	transport http.RoundTripper
	session   Session
	logger    zerolog.Logger
	metrics   *Metrics

	primeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the request instruments.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSession attaches the authentication session.
func WithSession(s Session) Option {
	return func(c *Client) { c.session = s }
}

// WithTransport replaces the innermost round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithCookieJar replaces the cookie jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

// NewClient validates cfg and builds the round tripper chain:
// session headers and 401 refresh, then anti-forgery headers, then the base transport.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, &ConfigError{Field: "BaseURL", Message: err.Error()}
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("resource: cookie jar: %w", err)
		}
		c.jar = jar
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.transport == nil {
		c.transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	c.http = &http.Client{
		Timeout: cfg.Timeout,
		Jar:     c.jar,
		Transport: &SessionTransport{
			Base:    &XSRFTransport{Base: c.transport},
			Session: c.session,
			Culture: cfg.Culture,
			Logger:  c.logger,
		},
	}

	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// Session returns the attached session, if any.
func (c *Client) Session() Session { return c.session }

// HTTPClient exposes the configured http.Client for auxiliary requests.
func (c *Client) HTTPClient() *http.Client { return c.http }

func (c *Client) resolve(path string, query url.Values) string {
	target := strings.TrimSuffix(c.base.String(), "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// primeAntiforgery reads the anti-forgery endpoint once so the backend
// issues the XSRF-TOKEN cookie before the first mutating call.
func (c *Client) primeAntiforgery(ctx context.Context) {
	if c.cfg.AntiforgeryPath == "" {
		return
	}

	c.primeMu.Lock()
	defer c.primeMu.Unlock()

	if hasCookie(c.jar, c.base, XSRFCookieName) {
		return
	}

	if err := c.send(ctx, "antiforgery", http.MethodGet, c.cfg.AntiforgeryPath, nil, nil, nil, false); err != nil {
		c.logger.Debug().Err(err).Msg("anti-forgery priming request failed")
	}
}

func hasCookie(jar http.CookieJar, u *url.URL, name string) bool {
	for _, cookie := range jar.Cookies(u) {
		if cookie.Name == name {
			return true
		}
	}
	return false
}

func (c *Client) do(ctx context.Context, resource, method, path string, query url.Values, body, out any) error {
	if isMutating(method) {
		c.primeAntiforgery(ctx)
	}
	return c.send(ctx, resource, method, path, query, body, out, method == http.MethodGet)
}

func (c *Client) send(ctx context.Context, resource, method, path string, query url.Values, body, out any, requireBody bool) error {
	target := c.resolve(path, query)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("resource %s: encode request body: %w", resource, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("resource %s: build request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(resource, method, "error", start)
		c.logger.Warn().Err(err).Str("resource", resource).Str("method", method).Str("url", target).Msg("request failed")
		return &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	status := resp.StatusCode
	c.observe(resource, method, strconv.Itoa(status), start)
	if err != nil {
		return &TransportError{Method: method, URL: target, Err: err}
	}

	event := c.logger.Debug()
	if isMutating(method) {
		event = c.logger.Info()
	}
	event.Str("resource", resource).
		Str("method", method).
		Str("url", target).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("request completed")

	switch {
	case status >= http.StatusInternalServerError:
		return &ServerError{Method: method, URL: target, Status: status, Body: data, Remote: parseRemoteError(data)}
	case status >= http.StatusBadRequest:
		return &ClientError{Method: method, URL: target, Status: status, Body: data, Remote: parseRemoteError(data)}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if requireBody {
			return &DecodeError{Method: method, URL: target, Err: errors.New("empty response body")}
		}
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Method: method, URL: target, Err: err}
	}
	return nil
}

func (c *Client) observe(resource, method, status string, start time.Time) {
	c.metrics.RequestDuration.WithLabelValues(resource, method, status).Observe(time.Since(start).Seconds())
}

// List reads one page of the resource.
func List[T any](ctx context.Context, c *Client, d Descriptor[T], in ListInput) (Page[T], error) {
	if err := d.Validate(); err != nil {
		return Page[T]{}, fmt.Errorf("resource %s: invalid descriptor: %w", d.Name, err)
	}

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Page[T]{}, fmt.Errorf("resource %s: invalid list input: %w", d.Name, err)
	}

	var page Page[T]
	if err := c.do(ctx, d.Name, http.MethodGet, d.Path(), in.Values(), nil, &page); err != nil {
		return Page[T]{}, err
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page, nil
}

// ListAll reads up to AllMaxResultCount records, for pickers and exports.
func ListAll[T any](ctx context.Context, c *Client, d Descriptor[T], filter map[string]string) (Page[T], error) {
	return List(ctx, c, d, ListInput{Filter: filter, MaxResultCount: AllMaxResultCount})
}

// Get reads a single record.
func Get[T any](ctx context.Context, c *Client, d Descriptor[T], id string) (T, error) {
	var rec T
	if id == "" {
		return rec, ErrEmptyID
	}
	if err := d.Validate(); err != nil {
		return rec, fmt.Errorf("resource %s: invalid descriptor: %w", d.Name, err)
	}

	err := c.do(ctx, d.Name, http.MethodGet, d.ItemPath(id), nil, nil, &rec)
	return rec, err
}

// Create posts payload to the collection and returns the stored record.
func Create[T any](ctx context.Context, c *Client, d Descriptor[T], payload any) (T, error) {
	var rec T
	if err := d.Validate(); err != nil {
		return rec, fmt.Errorf("resource %s: invalid descriptor: %w", d.Name, err)
	}

	err := c.do(ctx, d.Name, http.MethodPost, d.Path(), nil, payload, &rec)
	return rec, err
}

// Update replaces the record with the given id and returns the stored record.
func Update[T any](ctx context.Context, c *Client, d Descriptor[T], id string, payload any) (T, error) {
	var rec T
	if id == "" {
		return rec, ErrEmptyID
	}
	if err := d.Validate(); err != nil {
		return rec, fmt.Errorf("resource %s: invalid descriptor: %w", d.Name, err)
	}

	err := c.do(ctx, d.Name, http.MethodPut, d.ItemPath(id), nil, payload, &rec)
	return rec, err
}

// Delete removes the record with the given id.
func Delete[T any](ctx context.Context, c *Client, d Descriptor[T], id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("resource %s: invalid descriptor: %w", d.Name, err)
	}

	return c.do(ctx, d.Name, http.MethodDelete, d.ItemPath(id), nil, nil, nil)
}
