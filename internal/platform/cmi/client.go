package cmi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	acceptStream    = "text/event-stream; charset=utf-8"
)

// ClientConfig holds the settings needed to talk to the exchange.
type ClientConfig struct {
	BaseURL        string
	Username       string
	Password       string
	RequestTimeout time.Duration
}

// Client is the REST client for the CMI exchange. It authenticates once and
// reuses the bearer token for every subsequent call, including the market
// stream. The token is never refreshed.
type Client struct {
	baseURL      string
	username     string
	password     string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a new exchange client. A trailing slash on the base URL
// is dropped.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// The stream is long-lived; its idle timeout is enforced by the consumer.
		streamClient: &http.Client{},
		logger:       logger.With(slog.String("component", "cmi_client")),
	}
}

// Username returns the account the client authenticates as.
func (c *Client) Username() string {
	return c.username
}

// Authenticate obtains the bearer token on first use and returns the cached
// value afterwards.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(authRequest{Username: c.username, Password: c.password})
	if err != nil {
		return "", fmt.Errorf("cmi: marshal auth request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/user/authenticate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("cmi: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cmi: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return "", fmt.Errorf("cmi: authenticate: %w", err)
	}

	token := resp.Header.Get("Authorization")
	if token == "" {
		return "", fmt.Errorf("cmi: authenticate: %w: missing Authorization header", domain.ErrUnauthorized)
	}
	c.token = token
	c.logger.Info("authenticated", slog.String("user", c.username))
	return token, nil
}

// Products lists all tradable products.
func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/api/product", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("cmi: list products: %w", err)
	}

	var apiProducts []APIProduct
	if err := json.Unmarshal(respBody, &apiProducts); err != nil {
		return nil, fmt.Errorf("cmi: decode products: %w", err)
	}

	products := make([]domain.Product, 0, len(apiProducts))
	for _, p := range apiProducts {
		products = append(products, p.toDomain())
	}
	return products, nil
}

// Positions returns the user's net position per product.
func (c *Client) Positions(ctx context.Context) (domain.Positions, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/api/position/current-user", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("cmi: get positions: %w", err)
	}

	var rows []APIPosition
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("cmi: decode positions: %w", err)
	}

	positions := make(domain.Positions, len(rows))
	for _, r := range rows {
		positions[r.Product] = r.NetPosition
	}
	return positions, nil
}

// CurrentOrders lists the user's resting orders, optionally filtered to one
// product. An empty product means all products.
func (c *Client) CurrentOrders(ctx context.Context, product string) ([]domain.OrderResponse, error) {
	var query url.Values
	if product != "" {
		query = url.Values{"productsymbol": {product}}
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/api/order/current-user", query, nil)
	if err != nil {
		return nil, fmt.Errorf("cmi: list orders: %w", err)
	}

	var apiOrders []APIOrder
	if err := json.Unmarshal(respBody, &apiOrders); err != nil {
		return nil, fmt.Errorf("cmi: decode orders: %w", err)
	}

	orders := make([]domain.OrderResponse, 0, len(apiOrders))
	for _, o := range apiOrders {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

// PlaceOrder submits a limit order. A non-2xx answer from the venue is
// returned as an error wrapping the mapped sentinel and the response body.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/api/order", nil, req)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("cmi: place order: %w", err)
	}

	var apiOrder APIOrder
	if err := json.Unmarshal(respBody, &apiOrder); err != nil {
		return domain.OrderResponse{}, fmt.Errorf("cmi: decode order: %w", err)
	}
	return apiOrder.toDomain(), nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	path := "/api/order/" + url.PathEscape(id)
	if _, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("cmi: cancel order %s: %w", id, err)
	}
	return nil
}

// OrderBook fetches an on-demand snapshot of one product's book, sorted
// the same way as streamed snapshots.
func (c *Client) OrderBook(ctx context.Context, product string) (domain.OrderBook, error) {
	path := "/api/product/" + url.PathEscape(product) + "/order-book/current-user"
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("cmi: get order book %s: %w", product, err)
	}

	var apiBook APIOrderBook
	if err := json.Unmarshal(respBody, &apiBook); err != nil {
		return domain.OrderBook{}, fmt.Errorf("cmi: decode order book: %w", err)
	}
	return apiBook.toDomain(), nil
}

// Trades returns market trades. When from is non-empty it is sent as the
// lower bound; the venue may include trades at exactly that timestamp.
func (c *Client) Trades(ctx context.Context, from string) ([]domain.Trade, error) {
	var query url.Values
	if from != "" {
		query = url.Values{"from": {from}}
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/api/trade", query, nil)
	if err != nil {
		return nil, fmt.Errorf("cmi: list trades: %w", err)
	}

	var apiTrades []APITrade
	if err := json.Unmarshal(respBody, &apiTrades); err != nil {
		return nil, fmt.Errorf("cmi: decode trades: %w", err)
	}

	trades := make([]domain.Trade, 0, len(apiTrades))
	for _, t := range apiTrades {
		trades = append(trades, t.ToDomain())
	}
	return trades, nil
}

// ProfitSummary returns the user's profit report.
func (c *Client) ProfitSummary(ctx context.Context) (domain.ProfitSummary, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/api/profit/current-user", nil, nil)
	if err != nil {
		return domain.ProfitSummary{}, fmt.Errorf("cmi: get profit: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return domain.ProfitSummary{}, fmt.Errorf("cmi: decode profit: %w", err)
	}

	summary := domain.ProfitSummary{Raw: raw}
	if v, ok := raw["totalProfit"].(float64); ok {
		summary.TotalProfit = v
	}
	return summary, nil
}

// OpenStream opens the market event stream. The caller owns the returned
// body and must close it.
func (c *Client) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/market/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("cmi: create stream request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", acceptStream)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cmi: open stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("cmi: open stream: %w", checkHTTPStatus(resp.StatusCode, body))
	}
	return resp.Body, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedRequest builds, authenticates, sends, and reads an HTTP
// request against the exchange. It returns the raw response body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrRejected, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
