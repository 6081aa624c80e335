package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

// Route is the metrics label for order lookups.
const Route = "/order/{id}"

const maxBodyBytes = 1 << 20

var ErrMissingBaseURL = errors.New("api base url is required")

type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	// Query is appended to every order lookup, after the defaults.
	Query map[string]string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLimiter throttles lookups; waiting honors the request context.
func WithLimiter(l *rate.Limiter) Option {
	return func(cl *Client) {
		cl.limiter = l
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// Client fetches order state from the order API.
type Client struct {
	baseURL    *url.URL
	token      string
	timeout    time.Duration
	query      url.Values
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", base.Scheme)
	}

	query := url.Values{}
	query.Set("merchant-included", "true")
	query.Set("transactions-included", "true")
	for k, v := range cfg.Query {
		query.Set(k, v)
	}

	c := &Client{
		baseURL:    base,
		token:      cfg.Token,
		timeout:    cfg.RequestTimeout,
		query:      query,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = telemetry.DiscardLogger()
	}

	return c, nil
}

// OrderURL returns the lookup URL for orderID.
func (c *Client) OrderURL(orderID string) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/order/" + orderID
	u.RawPath = c.baseURL.EscapedPath() + "/order/" + url.PathEscape(orderID)
	u.RawQuery = c.query.Encode()
	return u.String()
}

// FetchOrder performs one lookup. Transport failures, timeouts and non-2xx
// responses are retryable; a 2xx body that is not a valid event is not.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*domain.OrderStatusEvent, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, domain.AsError(ctxErr)
			}
			return nil, domain.Timeout(err)
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.OrderURL(orderID), nil)
	if err != nil {
		return nil, domain.ConnectionFailed(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		c.logger.DebugContext(ctx, "order lookup rejected", "status_code", resp.StatusCode)
		return nil, domain.InvalidStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(fmt.Errorf("read body: %w", err))
	}

	return domain.DecodeEvent(body)
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Timeout(err)
	}
	return domain.ConnectionFailed(err)
}
