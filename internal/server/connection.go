package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/throne/internal/throne"
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	identity  throne.Identity
	server    *Server
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewConnection creates a new connection wrapper
func NewConnection(conn *websocket.Conn, server *Server, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:   conn,
		send:   make(chan *Message, 256),
		server: server,
		logger: logger.WithPrefix("conn"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins handling the connection. The server's active count is
// released once the read pump, and with it any request in progress, exits.
func (c *Connection) Start() {
	go c.writePump()
	go func() {
		defer c.server.active.Done()
		c.readPump()
	}()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cancel()
		close(c.send)
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues a message for the client. A client that cannot keep up
// is disconnected.
func (c *Connection) SendMessage(msg *Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "identity", c.identity)
		go func() { _ = c.Close() }() // Close takes the write lock
		return ErrConnectionClosed
	}
}

// SetIdentity associates this connection with a principal
func (c *Connection) SetIdentity(id throne.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

// Identity returns the associated principal, throne.None before auth
func (c *Connection) Identity() throne.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var (
	ErrConnectionClosed = errors.New("server: connection closed")
)

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }() // Ignore close errors during cleanup

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Ignore close errors during cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "identity", c.Identity(), "requestId", msg.RequestID)

	switch msg.Type {
	case MessageTypeAuth:
		var data AuthData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg, "invalid_message", "Failed to parse auth data")
			return
		}
		c.handleAuth(msg, data)

	case MessageTypeClaimThrone:
		var data ClaimThroneData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg, "invalid_message", "Failed to parse claim data")
			return
		}
		c.handleClaimThrone(msg, data)

	case MessageTypeDeclareWinner:
		c.handleDeclareWinner(msg)

	case MessageTypeWithdrawWinnings:
		c.handleWithdrawWinnings(msg)

	case MessageTypeWithdrawPlatformFees:
		c.handleWithdrawPlatformFees(msg)

	case MessageTypeResetGame:
		c.handleResetGame(msg)

	case MessageTypeGetState:
		c.reply(msg, MessageTypeState, StateDataFromGame(c.server.game))

	case MessageTypeGetPending:
		var data GetPendingData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg, "invalid_message", "Failed to parse pending request")
			return
		}
		c.handleGetPending(msg, data)

	default:
		c.sendError(msg, "unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// reply sends a response correlated with req.
func (c *Connection) reply(req *Message, messageType MessageType, data interface{}) {
	response, err := NewMessage(messageType, data)
	if err != nil {
		c.logger.Error("Failed to create response", "type", messageType, "error", err)
		return
	}
	response.RequestID = req.RequestID
	_ = c.SendMessage(response) // Ignore send errors
}

// sendError sends an error message to the client
func (c *Connection) sendError(req *Message, code, message string) {
	c.reply(req, MessageTypeError, ErrorData{
		Code:    code,
		Message: message,
	})
}

// sendOpError reports a failed game operation with its stable code.
func (c *Connection) sendOpError(req *Message, err error) {
	c.logger.Debug("Operation rejected", "op", req.Type, "identity", c.Identity(), "error", err)
	c.sendError(req, throne.Code(err), err.Error())
}

// requireIdentity returns the authenticated identity or reports that the
// client must authenticate first.
func (c *Connection) requireIdentity(req *Message) (throne.Identity, bool) {
	id := c.Identity()
	if id == throne.None {
		c.sendError(req, "not_authenticated", "Must authenticate first")
		return throne.None, false
	}
	return id, true
}

func (c *Connection) handleAuth(req *Message, data AuthData) {
	c.logger.Info("Auth request", "identity", data.Identity)

	id := throne.Identity(data.Identity)
	if err := c.server.authenticate(id, data.Token); err != nil {
		c.reply(req, MessageTypeAuthResponse, AuthResponseData{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.SetIdentity(id)
	c.reply(req, MessageTypeAuthResponse, AuthResponseData{
		Success:  true,
		Identity: data.Identity,
	})
}

func (c *Connection) handleClaimThrone(req *Message, data ClaimThroneData) {
	id, ok := c.requireIdentity(req)
	if !ok {
		return
	}
	collector := c.server.collector
	if collector == nil {
		c.sendError(req, "funds_unavailable", "Server accepts no claim payments")
		return
	}
	if data.Amount == 0 {
		c.sendOpError(req, throne.ErrInsufficientPayment)
		return
	}
	if err := collector.Collect(c.ctx, id, data.Amount); err != nil {
		c.sendOpError(req, err)
		return
	}
	if err := c.server.game.ClaimThrone(id, data.Amount); err != nil {
		// The connection may already be closing; the refund must still land.
		if rerr := collector.Refund(context.Background(), id, data.Amount); rerr != nil {
			c.logger.Error("Failed to refund refused claim", "identity", id, "amount", data.Amount, "error", rerr)
		}
		c.sendOpError(req, err)
		return
	}
	c.reply(req, MessageTypeResult, ResultData{Op: req.Type, Amount: data.Amount})
}

func (c *Connection) handleDeclareWinner(req *Message) {
	id, ok := c.requireIdentity(req)
	if !ok {
		return
	}
	if err := c.server.game.DeclareWinner(id); err != nil {
		c.sendOpError(req, err)
		return
	}
	c.reply(req, MessageTypeResult, ResultData{Op: req.Type})
}

func (c *Connection) handleWithdrawWinnings(req *Message) {
	id, ok := c.requireIdentity(req)
	if !ok {
		return
	}
	amount, err := c.server.game.WithdrawWinnings(c.ctx, id)
	if err != nil {
		c.sendOpError(req, err)
		return
	}
	c.reply(req, MessageTypeResult, ResultData{Op: req.Type, Amount: amount})
}

func (c *Connection) handleWithdrawPlatformFees(req *Message) {
	id, ok := c.requireIdentity(req)
	if !ok {
		return
	}
	amount, err := c.server.game.WithdrawPlatformFees(c.ctx, id)
	if err != nil {
		c.sendOpError(req, err)
		return
	}
	c.reply(req, MessageTypeResult, ResultData{Op: req.Type, Amount: amount})
}

func (c *Connection) handleResetGame(req *Message) {
	id, ok := c.requireIdentity(req)
	if !ok {
		return
	}
	if err := c.server.game.ResetGame(id); err != nil {
		c.sendOpError(req, err)
		return
	}
	c.reply(req, MessageTypeResult, ResultData{Op: req.Type})
}

func (c *Connection) handleGetPending(req *Message, data GetPendingData) {
	id := throne.Identity(data.Identity)
	if id == throne.None {
		var ok bool
		if id, ok = c.requireIdentity(req); !ok {
			return
		}
	}
	c.reply(req, MessageTypePending, PendingData{
		Identity: string(id),
		Amount:   c.server.game.PendingWinnings(id),
	})
}
