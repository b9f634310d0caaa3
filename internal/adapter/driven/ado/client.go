// Package ado implements the PRSource port against the Azure DevOps REST API
// (version 7.1).
package ado

import (
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

	"github.com/cenkalti/backoff/v4"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

const (
	apiVersion        = "7.1"
	defaultBaseURL    = "https://dev.azure.com"
	defaultPageSize   = 100
	defaultMaxRetries = 3
	defaultRetryDelay = 5 * time.Second
	requestTimeout    = 60 * time.Second
)

// Compile-time interface satisfaction check.
var _ driven.PRSource = (*Client)(nil)

// Config holds the connection settings for one Azure DevOps organization.
type Config struct {
	Organization string
	PAT          string
	BaseURL      string
	PageSize     int
	MaxRetries   int
	RetryDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// Client implements the driven.PRSource port over plain HTTP.
type Client struct {
	http *http.Client
	cfg  Config
}

// NewClient creates a Client whose transport caches responses by ETag:
//  1. httpcache (conditional request caching)
//  2. http.DefaultTransport
func NewClient(cfg Config) *Client {
	return NewClientWithHTTPClient(&http.Client{
		Transport: httpcache.NewMemoryCacheTransport(),
		Timeout:   requestTimeout,
	}, cfg)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing against an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	return &Client{http: httpClient, cfg: cfg.withDefaults()}
}

// TestConnection fetches the project record to verify the PAT and project name.
func (c *Client) TestConnection(ctx context.Context, project string) error {
	var out projectResponse
	if err := c.get(ctx, []string{"_apis", "projects", project}, nil, &out); err != nil {
		return fmt.Errorf("%w: connect to %s/%s: %w", driven.ErrExtraction, c.cfg.Organization, project, err)
	}
	slog.Info("connected to Azure DevOps", "organization", c.cfg.Organization, "project", out.Name)
	return nil
}

// statusError is a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// get issues a GET against the organization-scoped path and decodes the JSON
// body into out. 429 and 5xx responses are retried with exponential backoff,
// waiting at least as long as a Retry-After header asks.
func (c *Client) get(ctx context.Context, segments []string, query url.Values, out any) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, append([]string{c.cfg.Organization}, segments...)...)
	if err != nil {
		return fmt.Errorf("build URL: %w", err)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", apiVersion)
	endpoint += "?" + query.Encode()

	policy := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(c.exponential(), uint64(c.cfg.MaxRetries))}

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.SetBasicAuth("", c.cfg.PAT)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			if !retryable(resp.StatusCode) {
				return backoff.Permanent(serr)
			}
			policy.hint = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			return serr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("azure devops request failed, retrying",
			"path", strings.Join(segments, "/"),
			"attempt", attempt,
			"wait", wait.Round(time.Millisecond),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		var serr *statusError
		if errors.As(err, &serr) && retryable(serr.Code) {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		return err
	}
	return nil
}

func (c *Client) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.MaxInterval = 30 * c.cfg.RetryDelay
	b.MaxElapsedTime = 0
	return b
}

// retryAfterBackOff stretches the next wait to a server-provided hint.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.hint > d {
		d = b.hint
	}
	b.hint = 0
	return d
}

// parseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. Unparseable values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
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
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
