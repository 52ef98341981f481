// Package rest is the JSON client for the dashboard's CRUD backend
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"fleetdash/internal/log"
	"fleetdash/internal/session"
)

type (
	// Client calls the backend with the bearer token of the session store
	Client struct {
		baseURL        string
		httpClient     *http.Client
		session        *session.Store
		logger         *slog.Logger
		onUnauthorized func()
	}

	// Option configures a Client
	Option func(*Client)

	// StatusError is a non-2xx response
	StatusError struct {
		StatusCode int
		RetryAfter time.Duration
		Message    string
	}
)

var (
	ErrHTTPStatus   = errors.New("unexpected http status")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnsupported  = errors.New("operation not supported for domain")
	ErrNoToken      = errors.New("response carried no token")
)

const (
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

// New creates a client for baseURL. A nil session store keeps no token
func New(baseURL string, sess *session.Store, opts ...Option) *Client {
	if sess == nil {
		sess = session.New("")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		session:    sess,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithUnauthorizedHook sets the func called after a 401 cleared the session
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// Session returns the store the client reads its token from
func (c *Client) Session() *session.Store {
	return c.session
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("http status %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry-after=%s)", e.RetryAfter)
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrHTTPStatus:
		return true
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	default:
		return false
	}
}

// do sends one request and returns the response payload, with any
// {"data": ...} wrapper removed
func (c *Client) do(
	ctx context.Context, method, path string, body any,
) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.session.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		serr := statusError(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			c.unauthorized()
		}
		c.logger.Debug("Request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			log.Error(serr))
		return nil, serr
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return unwrap(b), nil
}

func (c *Client) unauthorized() {
	if err := c.session.Clear(); err != nil {
		c.logger.Warn("Failed to clear session", log.Error(err))
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func statusError(resp *http.Response) *StatusError {
	var retryAfter time.Duration
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if s, err := strconv.Atoi(ra); err == nil {
			retryAfter = time.Duration(s) * time.Second
		} else if tm, err := http.ParseTime(ra); err == nil {
			retryAfter = time.Until(tm)
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		for _, key := range []string{"message", "error", "msg"} {
			if v := res.Get(key); v.Type == gjson.String && v.Str != "" {
				msg = v.Str
				break
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter,
		Message:    msg,
	}
}

func unwrap(b []byte) []byte {
	if !gjson.ValidBytes(b) {
		return b
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return b
	}
	if data := res.Get("data"); data.Exists() {
		return []byte(data.Raw)
	}
	return b
}

func escape(id string) string {
	return url.PathEscape(id)
}
