package throne

import "time"

// ResetGame opens a new round after the previous one was settled. Only the
// claim fee, king, end flag and last claim time are reset; the pot, platform
// fees and pending winnings carry over.
func (g *Game) ResetGame(caller Identity) error {
	if caller != g.cfg.Owner {
		return ErrNotOwner
	}

	g.mu.Lock()
	now := g.clock.Now()

	if !g.gameEnded {
		g.mu.Unlock()
		return ErrGameNotEnded
	}

	g.claimFee = g.cfg.InitialClaimFee
	g.currentKing = None
	g.gameEnded = false
	g.lastClaimTime = time.Time{}
	g.round++

	event := GameResetEvent{
		Seq:       g.nextSeq(),
		Round:     g.round,
		ClaimFee:  g.claimFee,
		Pot:       g.pot,
		timestamp: now,
	}
	g.mu.Unlock()

	g.logger.Info("Game reset", "round", event.Round, "claimFee", event.ClaimFee)
	g.publish(event)
	return nil
}
