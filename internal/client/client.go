// Package client talks to a throne server over WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lox/throne/internal/server" // Reuse message types
	"github.com/lox/throne/internal/throne"
)

// ErrNotConnected is returned by requests made before Connect or after
// Disconnect.
var ErrNotConnected = errors.New("client: not connected")

// OpError is an error reported by the server. It matches the corresponding
// throne error with errors.Is.
type OpError struct {
	Code    string
	Message string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OpError) Is(target error) bool {
	err := throne.FromCode(e.Code)
	return err != nil && err == target
}

// EventHandler is a function that handles incoming events
type EventHandler func(*server.Message)

// Client represents a WebSocket client for a throne server
type Client struct {
	serverURL string
	conn      *websocket.Conn
	send      chan *server.Message
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	connected bool
	identity  string
	closeOnce sync.Once

	pending       map[string]chan *server.Message
	eventHandlers map[server.MessageType][]EventHandler
}

// NewClient creates a new WebSocket client
func NewClient(serverURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		serverURL:     serverURL,
		send:          make(chan *server.Message, 256),
		logger:        logger.WithPrefix("client"),
		ctx:           ctx,
		cancel:        cancel,
		pending:       make(map[string]chan *server.Message),
		eventHandlers: make(map[server.MessageType][]EventHandler),
	}
}

// Connect establishes a WebSocket connection to the server
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Debug("Connecting to server", "url", c.serverURL)

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Convert http/https to ws/wss
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	// Add WebSocket path
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	c.logger.Debug("Connected to server")
	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.conn != nil {
			_ = c.conn.Close() // Ignore close errors during shutdown
			c.connected = false
		}

		c.logger.Debug("Disconnected from server")
	})
	return nil
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Identity returns the identity the client authenticated as
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// AddEventHandler adds an event handler for a specific message type
func (c *Client) AddEventHandler(messageType server.MessageType, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventHandlers[messageType] = append(c.eventHandlers[messageType], handler)
}

// Request sends a message and waits for the response carrying the same
// request ID. Error responses are returned as *OpError.
func (c *Client) Request(ctx context.Context, messageType server.MessageType, data interface{}) (*server.Message, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	msg, err := server.NewMessage(messageType, data)
	if err != nil {
		return nil, err
	}
	msg.RequestID = uuid.NewString()

	respCh := make(chan *server.Message, 1)
	c.mu.Lock()
	c.pending[msg.RequestID] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	select {
	case c.send <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}

	select {
	case resp := <-respCh:
		if resp.Type == server.MessageTypeError {
			var data server.ErrorData
			if err := resp.Decode(&data); err != nil {
				return nil, fmt.Errorf("failed to decode error response: %w", err)
			}
			return nil, &OpError{Code: data.Code, Message: data.Message}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s response: %w", messageType, ctx.Err())
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}
}

// readPump handles incoming messages from the server
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.cancel()
	}()

	for {
		var msg server.Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.logger.Debug("Received message", "type", msg.Type, "requestId", msg.RequestID)
		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the server
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second) // Ping interval
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Ignore close errors during cleanup
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleMessage routes responses to their request and everything else to
// the registered handlers
func (c *Client) handleMessage(msg *server.Message) {
	c.mu.RLock()
	respCh, isResponse := c.pending[msg.RequestID]
	handlers := c.eventHandlers[msg.Type]
	c.mu.RUnlock()

	if msg.RequestID != "" && isResponse {
		respCh <- msg
		return
	}

	if len(handlers) == 0 {
		c.logger.Debug("No handler for message type", "type", msg.Type)
		return
	}
	for _, handler := range handlers {
		go handler(msg) // Handle asynchronously
	}
}
