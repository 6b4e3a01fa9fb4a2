package throne

// DeclareWinner settles the round once the grace period has elapsed since
// the last claim. The pot is credited to the king's pending winnings rather
// than transferred, so settlement cannot fail on the winner's side. Any
// principal may call it.
func (g *Game) DeclareWinner(caller Identity) error {
	g.mu.Lock()
	now := g.clock.Now()

	if g.gameEnded {
		g.mu.Unlock()
		return ErrGameEnded
	}
	if g.currentKing == None {
		g.mu.Unlock()
		return ErrNoActiveRound
	}
	if deadline := g.deadline(); now.Before(deadline) {
		g.mu.Unlock()
		g.logger.Debug("Declare rejected", "caller", caller, "deadline", deadline, "now", now)
		return ErrGracePeriodNotElapsed
	}

	winner := g.currentKing
	amount := g.pot
	// Pending balances are bounded by heldFunds, so this cannot overflow.
	g.pending[winner] += amount
	g.pot = 0
	g.gameEnded = true

	event := WinnerDeclaredEvent{
		Seq:        g.nextSeq(),
		Round:      g.round,
		Winner:     winner,
		Amount:     amount,
		DeclaredBy: caller,
		timestamp:  now,
	}
	g.mu.Unlock()

	g.logger.Info("Winner declared", "winner", winner, "amount", amount, "declaredBy", caller, "round", event.Round)
	g.publish(event)
	return nil
}
