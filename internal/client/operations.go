package client

import (
	"context"
	"fmt"

	"github.com/lox/throne/internal/server"
)

// Auth authenticates the connection as identity. The token is only checked
// when authenticating as the owner.
func (c *Client) Auth(ctx context.Context, identity, token string) error {
	resp, err := c.Request(ctx, server.MessageTypeAuth, server.AuthData{
		Identity: identity,
		Token:    token,
	})
	if err != nil {
		return err
	}

	var data server.AuthResponseData
	if err := resp.Decode(&data); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	if !data.Success {
		return fmt.Errorf("authentication failed: %s", data.Error)
	}

	c.mu.Lock()
	c.identity = data.Identity
	c.mu.Unlock()
	return nil
}

// ClaimThrone pays amount to become king.
func (c *Client) ClaimThrone(ctx context.Context, amount uint64) error {
	_, err := c.result(ctx, server.MessageTypeClaimThrone, server.ClaimThroneData{Amount: amount})
	return err
}

// DeclareWinner settles the current round.
func (c *Client) DeclareWinner(ctx context.Context) error {
	_, err := c.result(ctx, server.MessageTypeDeclareWinner, nil)
	return err
}

// WithdrawWinnings withdraws the caller's pending winnings and returns the
// amount transferred.
func (c *Client) WithdrawWinnings(ctx context.Context) (uint64, error) {
	return c.result(ctx, server.MessageTypeWithdrawWinnings, nil)
}

// WithdrawPlatformFees withdraws the platform fees. Owner only.
func (c *Client) WithdrawPlatformFees(ctx context.Context) (uint64, error) {
	return c.result(ctx, server.MessageTypeWithdrawPlatformFees, nil)
}

// ResetGame starts a new round. Owner only.
func (c *Client) ResetGame(ctx context.Context) error {
	_, err := c.result(ctx, server.MessageTypeResetGame, nil)
	return err
}

// State fetches the game record.
func (c *Client) State(ctx context.Context) (server.StateData, error) {
	var data server.StateData
	resp, err := c.Request(ctx, server.MessageTypeGetState, nil)
	if err != nil {
		return data, err
	}
	if err := resp.Decode(&data); err != nil {
		return data, fmt.Errorf("failed to decode state: %w", err)
	}
	return data, nil
}

// Pending fetches the pending winnings of identity, or of the caller when
// identity is empty.
func (c *Client) Pending(ctx context.Context, identity string) (server.PendingData, error) {
	var data server.PendingData
	resp, err := c.Request(ctx, server.MessageTypeGetPending, server.GetPendingData{Identity: identity})
	if err != nil {
		return data, err
	}
	if err := resp.Decode(&data); err != nil {
		return data, fmt.Errorf("failed to decode pending winnings: %w", err)
	}
	return data, nil
}

func (c *Client) result(ctx context.Context, messageType server.MessageType, data interface{}) (uint64, error) {
	resp, err := c.Request(ctx, messageType, data)
	if err != nil {
		return 0, err
	}
	if resp.Type != server.MessageTypeResult {
		return 0, fmt.Errorf("unexpected %s response to %s", resp.Type, messageType)
	}

	var result server.ResultData
	if err := resp.Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode result: %w", err)
	}
	return result.Amount, nil
}
