// Package client wraps the escrowd REST endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"p2pescrow/services/escrowd/api"
)

// APIError is a non-2xx response decoded from the server error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	// Order is set when the request committed but a payout failed.
	Order *api.Order
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("escrowd %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("escrowd %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to one escrowd instance.
type Client struct {
	baseURL    *url.URL
	token      string
	caller     string
	httpClient *http.Client
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithCaller names the caller through the X-Escrow-Caller header. Only
// honoured by servers running without a token secret.
func WithCaller(address string) Option {
	return func(c *Client) { c.caller = strings.TrimSpace(address) }
}

// New constructs a client pointed at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestOption tweaks per-request metadata.
type RequestOption func(*requestOptions)

type requestOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey sets the Idempotency-Key header for the request.
func WithIdempotencyKey(key string) RequestOption {
	return func(o *requestOptions) { o.idempotencyKey = strings.TrimSpace(key) }
}

// CreateOrder opens an order. value is a decimal amount and must be empty for
// buy orders.
func (c *Client) CreateOrder(ctx context.Context, orderType, value string, opts ...RequestOption) (*api.CreateOrderResponse, error) {
	var resp api.CreateOrderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", nil, api.CreateOrderRequest{Type: orderType, Value: value}, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Act performs a bodiless order transition: accept, payment-sent, complete,
// cancel, dispute or payouts/retry.
func (c *Client) Act(ctx context.Context, id uint64, action string, opts ...RequestOption) (*api.Order, error) {
	var order api.Order
	path := fmt.Sprintf("/v1/orders/%d/%s", id, strings.Trim(action, "/"))
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &order, opts...); err != nil {
		return nil, err
	}
	return &order, nil
}

// AcceptBuyOrder accepts a buy order and deposits value.
func (c *Client) AcceptBuyOrder(ctx context.Context, id uint64, value string, opts ...RequestOption) (*api.Order, error) {
	var order api.Order
	path := fmt.Sprintf("/v1/orders/%d/accept-buy", id)
	if err := c.do(ctx, http.MethodPost, path, nil, api.AcceptBuyRequest{Value: value}, &order, opts...); err != nil {
		return nil, err
	}
	return &order, nil
}

// ResolveDispute settles a disputed order.
func (c *Client) ResolveDispute(ctx context.Context, id uint64, favorBuyer bool, opts ...RequestOption) (*api.Order, error) {
	var order api.Order
	path := fmt.Sprintf("/v1/orders/%d/resolve", id)
	if err := c.do(ctx, http.MethodPost, path, nil, api.ResolveRequest{FavorBuyer: favorBuyer}, &order, opts...); err != nil {
		return nil, err
	}
	return &order, nil
}

// SetPaused pauses or unpauses the escrow.
func (c *Client) SetPaused(ctx context.Context, paused bool) (*api.Status, error) {
	path := "/v1/admin/unpause"
	if paused {
		path = "/v1/admin/pause"
	}
	var status api.Status
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetOrder fetches one order with its pending payout, if any.
func (c *Client) GetOrder(ctx context.Context, id uint64) (*api.Order, error) {
	var order api.Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/orders/%d", id), nil, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListFilter narrows ListOrders.
type ListFilter struct {
	Status string
	Type   string
	Buyer  string
	Seller string
	Limit  int
	Offset int
}

func (f ListFilter) values() url.Values {
	q := url.Values{}
	for key, v := range map[string]string{"status": f.Status, "type": f.Type, "buyer": f.Buyer, "seller": f.Seller} {
		if v != "" {
			q.Set(key, v)
		}
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// ListOrders queries the order index.
func (c *Client) ListOrders(ctx context.Context, f ListFilter) (*api.OrderList, error) {
	var list api.OrderList
	if err := c.do(ctx, http.MethodGet, "/v1/orders", f.values(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Status reports the escrow-wide state.
func (c *Client) Status(ctx context.Context) (*api.Status, error) {
	var status api.Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Account reads a participant balance.
func (c *Client) Account(ctx context.Context, address string) (*api.Account, error) {
	var acct api.Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(address), nil, nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Credit mints test funds through the dev faucet.
func (c *Client) Credit(ctx context.Context, address, amount string) (*api.Account, error) {
	var acct api.Account
	path := "/v1/accounts/" + url.PathEscape(address) + "/credit"
	if err := c.do(ctx, http.MethodPost, path, nil, api.CreditRequest{Amount: amount}, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Events pages through the journal after seq.
func (c *Client) Events(ctx context.Context, after uint64, limit int) (*api.EventList, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var list api.EventList
	if err := c.do(ctx, http.MethodGet, "/v1/events", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Export streams the parquet export into w.
func (c *Client) Export(ctx context.Context, f ListFilter, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/orders/export", f.values(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return 0, decodeError(resp.StatusCode, body)
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	rel := &url.URL{Path: endpoint}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.caller != "" {
		req.Header.Set("X-Escrow-Caller", c.caller)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any, opts ...RequestOption) error {
	req, err := c.newRequest(ctx, method, endpoint, query, payload)
	if err != nil {
		return err
	}
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", ro.idempotencyKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body api.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		return &APIError{Status: status, Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: status, Code: body.Error.Code, Message: body.Error.Message, Order: body.Order}
}
