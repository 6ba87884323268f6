package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"peerescrow/crypto"
	"peerescrow/gateway/auth"
)

// Client calls the escrow JSON-RPC API.
type Client struct {
	endpoint string
	http     *http.Client
	token    string
	nextID   atomic.Int64
	now      func() time.Time
}

// NewClient targets endpoint, e.g. "http://127.0.0.1:8547/".
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{endpoint: strings.TrimSpace(endpoint), http: httpClient, now: time.Now}
}

// SetBearerToken attaches an operator JWT to every request.
func (c *Client) SetBearerToken(token string) {
	c.token = strings.TrimSpace(token)
}

// Call invokes an unsigned query method.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return c.do(ctx, method, raw, out)
}

// CallSigned wraps params in an envelope signed by key and invokes method.
func (c *Client) CallSigned(ctx context.Context, key *crypto.PrivateKey, method string, params interface{}, out interface{}) error {
	env, err := auth.SignEnvelope(key, method, params, c.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.do(ctx, method, raw, out)
}

func (c *Client) do(ctx context.Context, method string, param json.RawMessage, out interface{}) error {
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  []json.RawMessage{param},
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}
