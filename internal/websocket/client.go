package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	pingTimeout    = 10 * time.Second
	writeTimeout   = 5 * time.Second
)

// Snapshot builds the state message a tab receives as soon as it connects:
// session, connectivity and outbox size, so it can render before any change.
type Snapshot func() Message

// Client is one open tab. It only receives; anything the tab sends is dropped.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	send   chan []byte
	logger *slog.Logger
}

func NewClient(hub *Hub, conn *ws.Conn, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

// Run registers the client, writes the snapshot and then forwards hub
// messages until either side goes away. Registering first means a change
// made while the snapshot is written is queued behind it, not lost.
func (c *Client) Run(ctx context.Context, snapshot Snapshot) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if snapshot != nil {
		if err := c.writeMessage(ctx, snapshot()); err != nil {
			c.conn.CloseNow()
			c.logClose(fmt.Errorf("write snapshot: %w", err))
			return
		}
	}

	writeErr := make(chan error, 1)
	go func() { writeErr <- c.writeLoop(ctx) }()

	readErr := c.readLoop(ctx)
	cancel()

	// A failed write closes the connection, which also ends the read; the
	// write error is the one worth reporting.
	if err := <-writeErr; err != nil && !errors.Is(err, context.Canceled) {
		c.logClose(err)
		return
	}
	c.logClose(readErr)
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		typ, _, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		c.logger.Debug("websocket client message ignored", "type", typ)
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.send:
			if !ok {
				return c.conn.Close(ws.StatusGoingAway, "unregistered")
			}
			if err := c.write(ctx, msg); err != nil {
				c.conn.Close(ws.StatusInternalError, "write failed")
				return fmt.Errorf("write: %w", err)
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, pingTimeout)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil {
				c.conn.Close(ws.StatusPolicyViolation, "ping timeout")
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *Client) writeMessage(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *Client) write(ctx context.Context, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, ws.MessageText, data)
}

// logClose reports why the connection ended. Tabs closing or navigating away
// are routine; anything else is logged at Info.
func (c *Client) logClose(err error) {
	status := ws.CloseStatus(err)
	switch {
	case status == ws.StatusNormalClosure || status == ws.StatusGoingAway:
		c.logger.Debug("websocket client disconnected", "status", status.String())
	case errors.Is(err, context.Canceled):
		c.logger.Debug("websocket client closed on shutdown")
	default:
		c.logger.Info("websocket client dropped", "status", status.String(), "error", err)
	}
}
