// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stream

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed stream
var ErrConnectionClosed = errors.New("stream connection closed")

// DialOptions configures Dial.
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	Timeout       time.Duration
}

// Conn is a client connection to a bridge's event stream.
type Conn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
	request uint64
}

// Dial connects to a bridge event stream, with HTTP Basic auth when a
// username and password are given.
func Dial(ctx context.Context, wsURL string, opts DialOptions) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &Conn{conn: conn}, nil
}

// ReadFrame blocks for the next frame. Text messages are skipped.
func (c *Conn) ReadFrame() (uint8, map[int]interface{}, error) {
	if c.closed {
		return 0, nil, ErrConnectionClosed
	}
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closed = true
			return 0, nil, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return ParseFrame(data)
	}
}

// SendCommand sends a command frame and returns its request id. The result
// arrives later as a FrameResult carrying the same id.
func (c *Conn) SendCommand(device, id, value string) (uint64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.request++
	frame, err := EncodeCommand(Command{Device: device, ID: id, Value: value, Request: c.request})
	if err != nil {
		return 0, err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return 0, err
	}
	return c.request, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
