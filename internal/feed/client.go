package feed

import (
	"context"
	"net/http"
	"time"

	"tibbercal/internal/model"
)

// DefaultEndpoint is Tibber's public GraphQL endpoint.
const DefaultEndpoint = "https://api.tibber.com/v1-beta/gql"

// Fetcher returns the ascending price samples for today and, once
// published, tomorrow.
type Fetcher interface {
	Fetch(ctx context.Context) ([]model.PriceSample, error)
}

// Client provides access to the Tibber GraphQL API.
type Client struct {
	endpoint   string
	apiKey     string
	homeID     string
	httpClient *http.Client

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new feed client.
func NewClient(endpoint, apiKey string, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithHomeID selects a specific home instead of the first one.
func WithHomeID(id string) ClientOption {
	return func(c *Client) {
		c.homeID = id
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
