// Package throne implements the authoritative state machine for a
// last-claimant-wins pot game.
//
// Participants pay an escalating claim fee to become the current king. Each
// payment is split between the pot and the platform fee balance. If nobody
// claims the throne again before the grace period lapses, anyone may declare
// the king the winner, which credits the pot to the king's entry in the
// pull-payment ledger. Winners and the owner withdraw their balances
// explicitly.
//
// # Basic Usage
//
//	g, err := throne.New(throne.Config{
//	    Owner:                 "house",
//	    InitialClaimFee:       100,
//	    GracePeriod:           24 * time.Hour,
//	    FeeIncreasePercentage: 10,
//	    PlatformFeePercentage: 5,
//	}, throne.WithTransferer(w))
//	_ = g.ClaimThrone("alice", 100)
//	// ...grace period passes...
//	_ = g.DeclareWinner("anyone")
//	amount, err := g.WithdrawWinnings(ctx, "alice")
//
// # Atomicity
//
// A single mutex guards the whole game record. Each operation reads the clock
// once, validates every precondition before mutating anything, and never holds
// the lock across an outbound transfer. Withdrawals zero the ledger entry
// before the transfer is attempted, so a reentrant withdrawal made from inside
// the transfer observes a zero balance. A rejected transfer restores the entry.
//
// # Deterministic Testing
//
// Time is read from an injected quartz.Clock:
//
//	clock := quartz.NewMock(t)
//	g, _ := throne.New(cfg, throne.WithClock(clock))
//	clock.Advance(cfg.GracePeriod)
package throne
