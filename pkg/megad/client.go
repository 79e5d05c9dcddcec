// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxResponseSize = 64 * 1024

// Client talks to one board over its HTTP query interface.
type Client struct {
	base     string
	password string
	http     *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient creates a client for the board at address (host[:port] or a
// full http URL) protected by password.
func NewClient(address, password string, opts ...ClientOption) *Client {
	base := strings.TrimRight(address, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		base:     base,
		password: password,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the board address without scheme.
func (c *Client) Address() string {
	if u, err := url.Parse(c.base); err == nil && u.Host != "" {
		return u.Host
	}
	return c.base
}

// Host returns the board host without port.
func (c *Client) Host() string {
	if u, err := url.Parse(c.base); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return c.base
}

// Password returns the password path segment.
func (c *Client) Password() string { return c.password }

func (c *Client) get(ctx context.Context, op, query string) (string, error) {
	u := c.base + "/" + c.password + "/?" + query
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", &RequestError{Op: op, Query: query, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &RequestError{Op: op, Query: query, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &RequestError{Op: op, Query: query, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RequestError{Op: op, Query: query, StatusCode: resp.StatusCode}
	}
	return string(body), nil
}

// PollAll reads every port in one request. The i-th token belongs to port i.
func (c *Client) PollAll(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "poll all", QueryCommand+"=all")
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("poll all: %w: empty response", ErrMalformedResponse)
	}
	return strings.Split(body, ";"), nil
}

// PollOne reads a single port.
func (c *Client) PollOne(ctx context.Context, index int) (string, error) {
	body, err := c.get(ctx, "poll port", fmt.Sprintf("%s=%d&%s=get", QueryPort, index, QueryCommand))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// SendCommand sets output index to the raw value.
func (c *Client) SendCommand(ctx context.Context, index, value int) (string, error) {
	body, err := c.get(ctx, "send command", fmt.Sprintf("%s=%d:%d", QueryCommand, index, value))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// SendCounterReset sets the counter of input index.
func (c *Client) SendCounterReset(ctx context.Context, index, value int) (string, error) {
	body, err := c.get(ctx, "reset counter", fmt.Sprintf("%s=%d&%s=%d", QueryPort, index, QueryCounter, value))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// ReadInternalTemperature reads the board's own temperature sensor.
func (c *Client) ReadInternalTemperature(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "read temperature", QueryTemp+"=1")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// ReadPortPage fetches the HTML configuration page of a port.
func (c *Client) ReadPortPage(ctx context.Context, index int) (string, error) {
	return c.get(ctx, "read port page", QueryPort+"="+strconv.Itoa(index))
}

// ReadDevicePage fetches the HTML device configuration page.
func (c *Client) ReadDevicePage(ctx context.Context) (string, error) {
	return c.get(ctx, "read device page", QueryConfig+"=1")
}

// Write sends a prepared configuration query (without leading '?').
func (c *Client) Write(ctx context.Context, query string) (string, error) {
	return c.get(ctx, "write config", query)
}
