// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/bridge"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxFrameSize   = 4096
	sendBuffer     = 256
	broadcastQueue = 1024
	commandTimeout = 15 * time.Second
)

// Commander executes a command addressed to one device.
type Commander interface {
	Command(ctx context.Context, device, id, value string) error
}

// HubOptions configures a Hub.
type HubOptions struct {
	Devices   []string
	Version   string
	Snapshot  func() []bridge.Event
	Commander Commander
	Logger    zerolog.Logger
}

// Hub maintains the set of connected clients and broadcasts events to them.
// A Hub is a bridge.Sink.
type Hub struct {
	opts HubOptions
	log  zerolog.Logger

	// Registered clients, owned by Run
	clients map[*client]bool

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}

	upgrader websocket.Upgrader
}

// client is a middleman between the websocket connection and the hub.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames, closed by the hub
	send chan []byte

	// Command results, never closed
	results chan []byte

	// Closed when the write pump exits
	quit chan struct{}
}

// NewHub creates a hub. Run must be called for clients to be served.
func NewHub(opts HubOptions) *Hub {
	return &Hub{
		opts:       opts,
		log:        opts.Logger.With().Str("component", "stream").Logger(),
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Emit queues an event for every client. Events are dropped while the hub
// is busy so the caller never blocks.
func (h *Hub) Emit(e bridge.Event) {
	frame, err := EncodeEvent(e)
	if err != nil {
		h.log.Error().Err(err).Str("id", e.ID).Msg("failed to encode event")
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		h.log.Debug().Str("device", e.Device).Str("id", e.ID).Msg("hub busy, event dropped")
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.greet(c)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case frame := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					h.log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("client too slow, disconnecting")
					close(c.send)
					delete(h.clients, c)
				}
			}
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return ctx.Err()
		}
	}
}

// greet sends the hello frame and the current state to a new client.
func (h *Hub) greet(c *client) {
	hello, err := EncodeHello(Hello{Devices: h.opts.Devices, Version: h.opts.Version})
	if err == nil {
		h.queue(c, hello)
	}
	if h.opts.Snapshot == nil {
		return
	}
	for _, e := range h.opts.Snapshot() {
		frame, err := EncodeEvent(e)
		if err != nil {
			continue
		}
		h.queue(c, frame)
	}
}

func (h *Hub) queue(c *client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.log.Debug().Msg("client send buffer full, frame dropped")
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to upgrade to websocket")
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		results: make(chan []byte, 16),
		quit:    make(chan struct{}),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("stream client connected")

	go c.writePump()
	go c.readPump()
}

// readPump reads command frames from the connection. There is at most one
// reader per connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		c.handle(data)
	}
}

// handle dispatches one inbound frame. Commands run in their own goroutine
// so a slow device does not stall the connection.
func (c *client) handle(data []byte) {
	frameType, payload, err := ParseFrame(data)
	if err != nil {
		c.hub.log.Debug().Err(err).Msg("invalid inbound frame")
		return
	}
	if frameType != FrameCommand {
		c.hub.log.Debug().Uint8("type", frameType).Msg("ignoring inbound frame")
		return
	}

	cmd, err := DecodeCommand(payload)
	if err != nil {
		c.reply(Result{Request: cmd.Request, Error: err.Error()})
		return
	}
	if c.hub.opts.Commander == nil {
		c.reply(Result{Request: cmd.Request, Error: "commands not supported"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		res := Result{Request: cmd.Request, OK: true}
		if err := c.hub.opts.Commander.Command(ctx, cmd.Device, cmd.ID, cmd.Value); err != nil {
			res = Result{Request: cmd.Request, Error: err.Error()}
		}
		c.reply(res)
	}()
}

// reply hands a result frame to the write pump.
func (c *client) reply(r Result) {
	frame, err := EncodeResult(r)
	if err != nil {
		return
	}
	select {
	case c.results <- frame:
	case <-c.quit:
	}
}

// writePump writes queued frames and keepalive pings. There is at most one
// writer per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.quit)
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.results:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
