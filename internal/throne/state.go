package throne

import (
	"fmt"
	"time"
)

// State is a consistent copy of the whole game record. It is what snapshots
// persist and what read-only clients are served.
type State struct {
	Config          Config              `json:"config"`
	Round           uint64              `json:"round"`
	CurrentKing     Identity            `json:"currentKing"`
	Pot             uint64              `json:"pot"`
	ClaimFee        uint64              `json:"claimFee"`
	LastClaimTime   time.Time           `json:"lastClaimTime"`
	GameEnded       bool                `json:"gameEnded"`
	PlatformFees    uint64              `json:"platformFeesBalance"`
	PendingWinnings map[Identity]uint64 `json:"pendingWinnings"`
	HeldFunds       uint64              `json:"heldFunds"`
	Seq             uint64              `json:"seq"`
	// Revision changes whenever any field above does, unlike Seq which
	// only counts events.
	Revision uint64 `json:"revision"`
}

// Owed is the total the game currently owes: pot, platform fees and every
// pending winnings entry.
func (s State) Owed() (uint64, bool) {
	owed, ok := addChecked(s.Pot, s.PlatformFees)
	if !ok {
		return 0, false
	}
	for _, amount := range s.PendingWinnings {
		if owed, ok = addChecked(owed, amount); !ok {
			return 0, false
		}
	}
	return owed, true
}

// Deadline mirrors Game.Deadline for a copied state.
func (s State) Deadline() time.Time {
	if s.CurrentKing == None || s.GameEnded {
		return time.Time{}
	}
	return s.LastClaimTime.Add(s.Config.GracePeriod)
}

// State returns a copy of the game record. Funds of transfers still in
// flight appear only in HeldFunds.
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Game) stateLocked() State {
	pending := make(map[Identity]uint64, len(g.pending))
	for id, amount := range g.pending {
		pending[id] = amount
	}
	return State{
		Config:          g.cfg,
		Round:           g.round,
		CurrentKing:     g.currentKing,
		Pot:             g.pot,
		ClaimFee:        g.claimFee,
		LastClaimTime:   g.lastClaimTime,
		GameEnded:       g.gameEnded,
		PlatformFees:    g.platformFees,
		PendingWinnings: pending,
		HeldFunds:       g.heldFunds,
		Seq:             g.seq,
		Revision:        g.revision,
	}
}

// Restore rebuilds a game from a previously captured State. The state must
// satisfy every invariant.
func Restore(s State, opts ...Option) (*Game, error) {
	if err := s.Config.Validate(); err != nil {
		return nil, err
	}
	if err := s.check(0); err != nil {
		return nil, err
	}
	if s.Round == 0 {
		return nil, fmt.Errorf("%w: round must be at least 1", ErrInvariantViolated)
	}

	g := newGame(s.Config, opts...)
	g.round = s.Round
	g.currentKing = s.CurrentKing
	g.pot = s.Pot
	g.claimFee = s.ClaimFee
	g.lastClaimTime = s.LastClaimTime
	g.gameEnded = s.GameEnded
	g.platformFees = s.PlatformFees
	g.heldFunds = s.HeldFunds
	g.seq = s.Seq
	g.revision = s.Revision
	for id, amount := range s.PendingWinnings {
		if amount > 0 {
			g.pending[id] = amount
		}
	}

	g.logger.Info("Game restored",
		"round", g.round,
		"king", g.currentKing,
		"pot", g.pot,
		"heldFunds", g.heldFunds,
		"pendingEntries", len(g.pending))
	return g, nil
}

// CheckInvariants verifies the monetary and policy invariants of the
// current state.
func (g *Game) CheckInvariants() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked().check(g.inFlight)
}

func (s State) check(inFlight uint64) error {
	owed, ok := s.Owed()
	if !ok {
		return fmt.Errorf("%w: owed funds overflow", ErrInvariantViolated)
	}
	if owed, ok = addChecked(owed, inFlight); !ok || s.HeldFunds < owed {
		return fmt.Errorf("%w: held funds %d below owed %d", ErrInvariantViolated, s.HeldFunds, owed)
	}
	if !s.GameEnded && s.ClaimFee < s.Config.InitialClaimFee {
		return fmt.Errorf("%w: claim fee %d below initial %d", ErrInvariantViolated, s.ClaimFee, s.Config.InitialClaimFee)
	}
	if s.GameEnded && s.Pot != 0 {
		return fmt.Errorf("%w: pot %d left after game ended", ErrInvariantViolated, s.Pot)
	}
	if s.CurrentKing != None && s.CurrentKing == s.Config.Owner {
		return fmt.Errorf("%w: owner holds the throne", ErrInvariantViolated)
	}
	if s.GameEnded && s.CurrentKing == None {
		return fmt.Errorf("%w: ended round has no winner", ErrInvariantViolated)
	}
	return nil
}
