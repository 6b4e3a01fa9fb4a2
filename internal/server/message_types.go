package server

import "github.com/lox/throne/internal/throne"

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
const (
	// Client to server messages
	MessageTypeAuth                 MessageType = "auth"
	MessageTypeClaimThrone          MessageType = "claim_throne"
	MessageTypeDeclareWinner        MessageType = "declare_winner"
	MessageTypeWithdrawWinnings     MessageType = "withdraw_winnings"
	MessageTypeWithdrawPlatformFees MessageType = "withdraw_platform_fees"
	MessageTypeResetGame            MessageType = "reset_game"
	MessageTypeGetState             MessageType = "get_state"
	MessageTypeGetPending           MessageType = "get_pending"

	// Server to client messages
	MessageTypeAuthResponse MessageType = "auth_response"
	MessageTypeResult       MessageType = "result"
	MessageTypeState        MessageType = "state"
	MessageTypePending      MessageType = "pending"
	MessageTypeError        MessageType = "error"

	// Broadcast game events
	MessageTypeThroneClaimed         = MessageType(throne.EventTypeThroneClaimed)
	MessageTypeWinnerDeclared        = MessageType(throne.EventTypeWinnerDeclared)
	MessageTypeWinningsWithdrawn     = MessageType(throne.EventTypeWinningsWithdrawn)
	MessageTypePlatformFeesWithdrawn = MessageType(throne.EventTypePlatformFeesWithdrawn)
	MessageTypeGameReset             = MessageType(throne.EventTypeGameReset)
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}

// IsEvent reports whether mt is a broadcast game event.
func (mt MessageType) IsEvent() bool {
	switch mt {
	case MessageTypeThroneClaimed, MessageTypeWinnerDeclared, MessageTypeWinningsWithdrawn,
		MessageTypePlatformFeesWithdrawn, MessageTypeGameReset:
		return true
	}
	return false
}
