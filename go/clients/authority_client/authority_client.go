package authority_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/auctionsync/go/clients"
)

var (
	// ErrMalformedResponse marks a 2xx answer whose body does not have the
	// expected shape.
	ErrMalformedResponse = errors.New("malformed authority response")
)

// Config holds the authority endpoints and transport knobs.
type Config struct {
	BaseURL           string
	AjaxPath          string
	FinishAuctionPath string
	PagePath          string
	RequestTimeout    time.Duration
	RateLimitQPS      float64
	RateLimitBurst    int
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		AjaxPath:          DefaultAjaxPath,
		FinishAuctionPath: DefaultFinishAuctionPath,
		PagePath:          DefaultPagePath,
		RequestTimeout:    15 * time.Second,
		RateLimitBurst:    1,
	}
}

type AuthorityClient struct {
	*clients.BaseClient
	config Config
}

func NewAuthorityClient(config Config, tokens clients.TokenSource) *AuthorityClient {
	client := &AuthorityClient{
		BaseClient: clients.NewBaseClient(config.BaseURL),
		config:     config,
	}

	if config.RequestTimeout > 0 {
		client.SetTimeout(config.RequestTimeout)
	}
	client.SetRateLimit(config.RateLimitQPS, config.RateLimitBurst)
	client.SetHeader(requestedWithName, requestedWithAjax)
	client.SetHeader(acceptHeader, "application/json, text/html;q=0.9, */*;q=0.1")
	if tokens != nil {
		client.SetTokenSource(tokens)
	}

	return client
}

// FinishAuctionRequest is the form body of a finish_auction call.
type FinishAuctionRequest struct {
	AuctionID        string
	ContainerPresent bool
	Future           bool
}

// FinishAuctionResponse is the authority's verdict. Status is "closed",
// "running" or anything else.
type FinishAuctionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r FinishAuctionRequest) values() url.Values {
	ret := 0
	if r.ContainerPresent {
		ret = 1
	}
	v := url.Values{}
	v.Set(actionParam, finishAction)
	v.Set("post_id", r.AuctionID)
	v.Set("ret", strconv.Itoa(ret))
	v.Set("future", strconv.FormatBool(r.Future))
	return v
}

// FinishAuction asks the authority to close an auction. The call is safe to
// repeat: the authority decides whether anything transitions.
func (c *AuthorityClient) FinishAuction(ctx context.Context, req FinishAuctionRequest) (*FinishAuctionResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.PostForm(ctx, c.config.FinishAuctionPath, req.values())
	if err != nil {
		return nil, fmt.Errorf("failed to finish auction %s: %w", req.AuctionID, err)
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" || trimmed == "false" || trimmed == "0" {
		return nil, fmt.Errorf("%w: empty verdict for auction %s", ErrMalformedResponse, req.AuctionID)
	}

	var response FinishAuctionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: %v, raw response: %s", ErrMalformedResponse, err, trimmed)
	}

	return &response, nil
}

// Dispatch posts a listing action and returns the rendered HTML fragment.
func (c *AuthorityClient) Dispatch(ctx context.Context, action string, params url.Values) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	values := url.Values{}
	for k, vs := range params {
		values[k] = append([]string(nil), vs...)
	}
	values.Set(actionParam, action)

	body, err := c.PostForm(ctx, c.config.AjaxPath, values)
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch %s: %w", action, err)
	}
	return body, nil
}

// FetchPage loads the full listing document.
func (c *AuthorityClient) FetchPage(ctx context.Context) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.Get(ctx, c.config.PagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	return body, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// HealthCheck pings the backend health endpoint.
func (c *AuthorityClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.Get(ctx, HealthCheckPath)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	var response healthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if response.Status != "ok" {
		return fmt.Errorf("health check: authority reported %q", response.Status)
	}
	return nil
}

// BidFeedURL returns the websocket url of an auction's bid channel.
func (c *AuthorityClient) BidFeedURL(auctionID string) (string, error) {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf(bidFeedPathFormat, url.PathEscape(auctionID))
	return u.String(), nil
}

func (c *AuthorityClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.RequestTimeout)
}
