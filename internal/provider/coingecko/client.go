package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=coingecko_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the CoinGecko API (demo tier). Prices are keyed by
// CoinGecko's internal coin id, not by ticker; use CoinsList to resolve ids.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for the CoinGecko API client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new CoinGecko API client. An empty key is allowed; the
// demo key, when present, is sent via the x-cg-demo-api-key header.
func NewClient(apiKey string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	if apiKey != "" {
		c.header.Set("x-cg-demo-api-key", apiKey)
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Coin is one entry of the /coins/list directory.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// CoinsList retrieves the full coin directory (id, ticker symbol, name).
func (c *Client) CoinsList(ctx context.Context) ([]Coin, error) {
	var coins []Coin
	if err := c.getJSON(ctx, "/coins/list", nil, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// SimplePrice retrieves batched spot prices. The result is keyed by coin id,
// then by vs currency code (lower case).
func (c *Client) SimplePrice(ctx context.Context, ids []string, vsCurrencies []string) (map[string]map[string]json.Number, error) {
	params := url.Values{}
	params.Set("ids", csv(ids))
	params.Set("vs_currencies", csv(vsCurrencies))
	var prices map[string]map[string]json.Number
	if err := c.getJSON(ctx, "/simple/price", params, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return fmt.Errorf("GET %s -> %d: %s", path, res.StatusCode, string(b))
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// csv joins values sorted, lower-cased and de-duplicated, the form the
// upstream batch endpoints expect.
func csv(items []string) string {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		if s := strings.ToLower(strings.TrimSpace(i)); s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
