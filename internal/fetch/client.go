package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// BaseURL is the DOI resolution endpoint. With CSL content negotiation
	// it proxies to the registration agency (Crossref, DataCite, ...).
	BaseURL = "https://doi.org"

	// AcceptCSL requests the structured CSL-JSON record format.
	AcceptCSL = "application/vnd.citationstyles.csl+json"

	// DefaultTimeout applies per individual network request, not per entry.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries bounds retries of transient failures.
	DefaultMaxRetries = 3

	// DefaultBackoff is the base delay for exponential backoff; it doubles
	// each attempt. Tests shrink it to avoid real sleeps.
	DefaultBackoff = 500 * time.Millisecond
)

// Client resolves DOIs to CSL-JSON records over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	mailto     string
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL sets a custom resolver URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithMailto adds a contact address to the User-Agent, which admits requests
// to Crossref's polite pool.
func WithMailto(addr string) ClientOption {
	return func(c *Client) { c.mailto = addr }
}

// WithRetries sets the retry bound and backoff base for transient failures.
func WithRetries(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
		c.backoff = backoff
	}
}

// WithLogger sets the logger used for retry and fetch diagnostics.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a DOI resolution client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    BaseURL,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve fetches the CSL-JSON record for a DOI. Transient failures
// (connection errors, 5xx, 429) are retried with exponential backoff up to
// the configured bound; a 404 is definitive and returned immediately.
func (c *Client) Resolve(ctx context.Context, doi string) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			c.log.Warn("retrying fetch", "doi", doi, "attempt", attempt, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
			case <-time.After(delay):
			}
		}

		payload, err := c.resolveOnce(ctx, doi)
		if err == nil {
			return payload, nil
		}
		if !Transient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) resolveOnce(ctx context.Context, doi string) (json.RawMessage, error) {
	u := c.baseURL + "/" + url.PathEscape(doi)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", AcceptCSL)
	req.Header.Set("User-Agent", c.userAgent())

	c.log.Debug("GET", "url", u)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, doi)
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, DOI: doi}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrNetwork, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrInvalidResponse)
	}
	return body, nil
}

func (c *Client) userAgent() string {
	ua := "bibfill/1.0"
	if c.mailto != "" {
		ua += " (mailto:" + c.mailto + ")"
	}
	return ua
}
