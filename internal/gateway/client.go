package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openclaw/reconciler-core/internal/log"
)

// Endpoint identifies the agent's reachable WebSocket address.
type Endpoint struct {
	Host     string
	Port     int
	Protocol string // "ws" or "wss"
}

func (e Endpoint) url() string {
	return fmt.Sprintf("%s://%s:%d/rpc", e.Protocol, e.Host, e.Port)
}

const (
	defaultConnectTimeout = 10 * time.Second
	backoffBase           = 5 * time.Second
	backoffCap            = 15 * time.Second
	maxConnectAttempts    = 30
)

// Client is a single agent's long-lived WebSocket JSON-RPC connection,
// opened with exponential-backoff retries (base 5s, cap 15s, max 30
// attempts) modelled on the teacher's autopaho.ConnectionManager. Retries
// happen only while dialing; once established, a dropped connection is not
// re-established and later calls on this Client fail.
type Client struct {
	endpoint  Endpoint
	authToken string
	log       log.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan rpcResponse
}

// Dial opens a connection to endpoint, retrying with exponential backoff
// until maxConnectAttempts is exhausted or ctx is cancelled.
func Dial(ctx context.Context, endpoint Endpoint, authToken string) (*Client, error) {
	c := &Client{
		endpoint:  endpoint,
		authToken: authToken,
		log:       log.WithName("gateway").WithValues("endpoint", endpoint.url()),
		pending:   map[string]chan rpcResponse{},
	}
	if err := c.connectWithBackoff(ctx); err != nil {
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) connectWithBackoff(ctx context.Context) error {
	delay := backoffBase
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
		header := map[string][]string{"Authorization": {"Bearer " + c.authToken}}
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.endpoint.url(), header)
		cancel()
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			return nil
		}
		lastErr = err
		c.log.Warn("gateway connect attempt failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < backoffCap {
			delay *= 2
			if delay > backoffCap {
				delay = backoffCap
			}
		}
	}
	return fmt.Errorf("gateway: failed to connect after %d attempts: %w", maxConnectAttempts, lastErr)
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn("gateway read loop exiting", "error", err)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.Warn("gateway: malformed rpc response", "error", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("gateway: not connected")
	}

	var raw json.RawMessage
	if params != nil {
		enc, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = enc
	}

	id := uuid.NewString()
	req := rpcRequest{ID: id, Method: method, Params: raw}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("gateway: write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
}

// ConfigGet calls config.get.
func (c *Client) ConfigGet(ctx context.Context) (*ConfigGetResult, error) {
	var out ConfigGetResult
	if err := c.call(ctx, "config.get", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigApply calls config.apply with optimistic-concurrency check
// baseHash.
func (c *Client) ConfigApply(ctx context.Context, raw, baseHash string) (*ConfigApplyResult, error) {
	var out ConfigApplyResult
	params := ConfigApplyParams{Raw: raw, BaseHash: baseHash}
	if err := c.call(ctx, "config.apply", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls health.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	var out HealthResult
	if err := c.call(ctx, "health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var out StatusResult
	if err := c.call(ctx, "status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close terminates the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
