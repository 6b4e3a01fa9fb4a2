package server

import (
	"encoding/json"
	"time"

	"github.com/lox/throne/internal/throne"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Client → Server Messages

type AuthData struct {
	Identity string `json:"identity"`
	Token    string `json:"token,omitempty"`
}

type ClaimThroneData struct {
	Amount uint64 `json:"amount"`
}

type GetPendingData struct {
	// Identity defaults to the authenticated identity.
	Identity string `json:"identity,omitempty"`
}

// Server → Client Messages

type AuthResponseData struct {
	Success  bool   `json:"success"`
	Identity string `json:"identity,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ResultData acknowledges a successful operation. Amount is the sum paid
// for claims and the sum transferred for withdrawals.
type ResultData struct {
	Op     MessageType `json:"op"`
	Amount uint64      `json:"amount,omitempty"`
}

// StateData is the game record as served to clients.
type StateData struct {
	throne.State
	Deadline *time.Time `json:"deadline,omitempty"`
	Stagnant bool       `json:"stagnant"`
}

// StateDataFromGame captures the game record for the wire.
func StateDataFromGame(g *throne.Game) StateData {
	state := g.State()
	data := StateData{
		State:    state,
		Stagnant: g.Stagnant(),
	}
	if deadline := state.Deadline(); !deadline.IsZero() {
		data.Deadline = &deadline
	}
	return data
}

type PendingData struct {
	Identity string `json:"identity"`
	Amount   uint64 `json:"amount"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
