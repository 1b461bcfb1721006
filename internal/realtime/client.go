// Package realtime is the low-level WebSocket client for the streaming
// voice model service. It owns frame encoding/decoding; conversation logic
// lives in internal/session.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const apiVersion = "2024-10-01-preview"

type Client struct {
	conn *websocket.Conn

	// gorilla/websocket allows one concurrent writer; the session's two
	// relay directions both send.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Dial connects and performs the WebSocket handshake with the model service.
func Dial(ctx context.Context, endpoint, apiKey, deployment string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/openai/realtime"

	q := u.Query()
	q.Set("api-version", apiVersion)
	q.Set("deployment", deployment)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("api-key", apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime service: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to realtime service: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Send writes one protocol message as a JSON text frame.
func (c *Client) Send(ctx context.Context, message any) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(message); err != nil {
		return fmt.Errorf("realtime send: %w", err)
	}
	return nil
}

// Recv blocks for the next server event. A closed connection surfaces as an
// error; callers treat close errors as end-of-session.
func (c *Client) Recv(ctx context.Context) (*ServerEvent, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("realtime recv: %w", err)
	}
	return ParseEvent(data)
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
