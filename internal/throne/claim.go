package throne

// ClaimThrone makes caller the king in exchange for amount, which must cover
// the current claim fee. The payment is split into the platform cut and the
// pot; any overpayment is kept, not refunded. On success the claim fee
// escalates by FeeIncreasePercentage for the next challenger.
func (g *Game) ClaimThrone(caller Identity, amount uint64) error {
	if caller == None {
		return ErrInvalidIdentity
	}
	if caller == g.cfg.Owner {
		return ErrOwnerCannotClaim
	}

	g.mu.Lock()
	now := g.clock.Now()

	if g.gameEnded {
		g.mu.Unlock()
		return ErrGameEnded
	}
	if amount < g.claimFee {
		fee := g.claimFee
		g.mu.Unlock()
		g.logger.Debug("Claim rejected", "caller", caller, "amount", amount, "claimFee", fee)
		return ErrInsufficientPayment
	}

	platformCut := percentOf(amount, g.cfg.PlatformFeePercentage)
	net := amount - platformCut

	// heldFunds bounds pot and platform fees, so checking it covers both.
	held, ok := addChecked(g.heldFunds, amount)
	if !ok {
		g.mu.Unlock()
		return ErrAmountOverflow
	}
	increase := percentOf(g.claimFee, g.cfg.FeeIncreasePercentage)
	nextFee, ok := addChecked(g.claimFee, increase)
	if !ok {
		g.mu.Unlock()
		return ErrAmountOverflow
	}

	g.heldFunds = held
	g.platformFees += platformCut
	g.pot += net
	g.currentKing = caller
	g.lastClaimTime = now
	g.claimFee = nextFee

	event := ThroneClaimedEvent{
		Seq:          g.nextSeq(),
		Round:        g.round,
		King:         caller,
		Amount:       amount,
		PlatformCut:  platformCut,
		PotAfter:     g.pot,
		NextClaimFee: nextFee,
		timestamp:    now,
	}
	g.mu.Unlock()

	g.logger.Info("Throne claimed",
		"king", caller,
		"amount", amount,
		"platformCut", platformCut,
		"pot", event.PotAfter,
		"nextClaimFee", nextFee,
		"round", event.Round)
	if increase == 0 {
		g.logger.Warn("Claim fee did not increase", "claimFee", nextFee, "feeIncrease", g.cfg.FeeIncreasePercentage)
	}

	g.publish(event)
	return nil
}
