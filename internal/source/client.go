package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNetwork is returned when the feed could not be reached or answered with an error status
	ErrNetwork = errors.New("source network error")
	// ErrMalformed is returned when a payload fails structural validation
	ErrMalformed = errors.New("malformed source payload")
)

// DefaultSuffix is appended to every resource path, the Firebase API serves JSON resources only
const DefaultSuffix = ".json"

// HTTPClient allows injecting a custom HTTP client, e.g. for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues the three logical requests of the feed: current max id,
// item by id and recently changed ids.
type Client struct {
	baseURL    string
	suffix     string
	httpClient HTTPClient
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithSuffix sets the path suffix of every resource, e.g. "" for plain endpoints
func WithSuffix(suffix string) Option {
	return func(cl *Client) { cl.suffix = suffix }
}

// New creates a client for the feed rooted at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source URL must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		suffix:     DefaultSuffix,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CurrentMaxID returns the largest item id known to the feed
func (c *Client) CurrentMaxID(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/maxitem")
	if err != nil {
		return 0, err
	}
	maxID, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: max item: %v", ErrMalformed, err)
	}
	return maxID, nil
}

// FetchItem retrieves and validates a single item
func (c *Client) FetchItem(ctx context.Context, id int64) (Item, error) {
	body, err := c.get(ctx, "/item/"+strconv.FormatInt(id, 10))
	if err != nil {
		return Item{}, err
	}
	item, err := ParseItem(body)
	if err != nil {
		return Item{}, fmt.Errorf("item %d: %w", id, err)
	}
	return item, nil
}

// FetchChangedIDs returns the ids the feed currently reports as recently changed
func (c *Client) FetchChangedIDs(ctx context.Context) ([]int64, error) {
	body, err := c.get(ctx, "/updates")
	if err != nil {
		return nil, err
	}
	updates, err := ParseUpdates(body)
	if err != nil {
		return nil, err
	}
	return updates.Items, nil
}

// Ping checks that the feed answers the max item request
func (c *Client) Ping(ctx context.Context) error {
	maxID, err := c.CurrentMaxID(ctx)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"component": "source",
		"url":       c.baseURL,
		"max_id":    maxID,
	}).Info("Connected to item feed successfully")
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+c.suffix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: GET %s: unexpected status %d", ErrNetwork, path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrNetwork, path, err)
	}
	return body, nil
}
