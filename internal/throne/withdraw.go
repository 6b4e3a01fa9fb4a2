package throne

import (
	"context"
	"fmt"
)

// WithdrawWinnings transfers caller's whole pending balance to caller.
//
// The ledger entry is zeroed before the transfer starts and the lock is
// released for the duration of the transfer, so a withdrawal re-entered from
// the transfer sees nothing to withdraw. If the transfer is rejected the
// amount is credited back to the entry and ErrTransferFailed is returned.
func (g *Game) WithdrawWinnings(ctx context.Context, caller Identity) (uint64, error) {
	if caller == None {
		return 0, ErrInvalidIdentity
	}

	g.mu.Lock()
	amount := g.pending[caller]
	if amount == 0 {
		g.mu.Unlock()
		return 0, ErrNoPendingWinnings
	}
	delete(g.pending, caller)
	g.inFlight += amount
	g.touch()
	g.mu.Unlock()

	if err := g.transferer.Transfer(ctx, caller, amount); err != nil {
		g.mu.Lock()
		g.inFlight -= amount
		// Add rather than assign: the entry may have been credited by a
		// settlement while the transfer was running.
		g.pending[caller] += amount
		g.touch()
		g.mu.Unlock()

		g.logger.Warn("Winnings transfer failed, balance restored", "recipient", caller, "amount", amount, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	g.mu.Lock()
	now := g.clock.Now()
	g.inFlight -= amount
	g.heldFunds -= amount
	event := WinningsWithdrawnEvent{
		Seq:       g.nextSeq(),
		Round:     g.round,
		Recipient: caller,
		Amount:    amount,
		timestamp: now,
	}
	g.mu.Unlock()

	g.logger.Info("Winnings withdrawn", "recipient", caller, "amount", amount)
	g.publish(event)
	return amount, nil
}

// WithdrawPlatformFees transfers the accumulated platform fees to the owner,
// with the same zero-before-transfer discipline as WithdrawWinnings.
func (g *Game) WithdrawPlatformFees(ctx context.Context, caller Identity) (uint64, error) {
	if caller != g.cfg.Owner {
		return 0, ErrNotOwner
	}

	g.mu.Lock()
	amount := g.platformFees
	if amount == 0 {
		g.mu.Unlock()
		return 0, ErrNoFeesToWithdraw
	}
	g.platformFees = 0
	g.inFlight += amount
	g.touch()
	g.mu.Unlock()

	if err := g.transferer.Transfer(ctx, caller, amount); err != nil {
		g.mu.Lock()
		g.inFlight -= amount
		g.platformFees += amount
		g.touch()
		g.mu.Unlock()

		g.logger.Warn("Platform fee transfer failed, balance restored", "owner", caller, "amount", amount, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	g.mu.Lock()
	now := g.clock.Now()
	g.inFlight -= amount
	g.heldFunds -= amount
	event := PlatformFeesWithdrawnEvent{
		Seq:       g.nextSeq(),
		Round:     g.round,
		Owner:     caller,
		Amount:    amount,
		timestamp: now,
	}
	g.mu.Unlock()

	g.logger.Info("Platform fees withdrawn", "owner", caller, "amount", amount)
	g.publish(event)
	return amount, nil
}
