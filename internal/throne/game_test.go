package throne

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner Identity = "house"

func testConfig() Config {
	return Config{
		Owner:                 owner,
		InitialClaimFee:       1,
		GracePeriod:           24 * time.Hour,
		FeeIncreasePercentage: 10,
		PlatformFeePercentage: 5,
	}
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newTestGame(t *testing.T, cfg Config, opts ...Option) (*Game, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	opts = append([]Option{WithClock(clock), WithLogger(testLogger())}, opts...)
	g, err := New(cfg, opts...)
	require.NoError(t, err)
	return g, clock
}

// requireInvariants checks the invariants after an operation.
func requireInvariants(t *testing.T, g *Game) {
	t.Helper()
	require.NoError(t, g.CheckInvariants())
}

func TestNewGameInitialState(t *testing.T) {
	t.Parallel()
	g, _ := newTestGame(t, testConfig())

	assert.Equal(t, owner, g.Owner())
	assert.Equal(t, None, g.CurrentKing())
	assert.Zero(t, g.Pot())
	assert.Equal(t, uint64(1), g.ClaimFee())
	assert.Equal(t, uint64(1), g.InitialClaimFee())
	assert.Equal(t, 24*time.Hour, g.GracePeriod())
	assert.Equal(t, uint64(5), g.PlatformFeePercentage())
	assert.Equal(t, uint64(10), g.FeeIncreasePercentage())
	assert.Zero(t, g.PlatformFeesBalance())
	assert.False(t, g.GameEnded())
	assert.True(t, g.LastClaimTime().IsZero())
	assert.True(t, g.Deadline().IsZero())
	assert.Equal(t, uint64(1), g.Round())
	requireInvariants(t, g)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing owner", func(c *Config) { c.Owner = None }},
		{"zero initial fee", func(c *Config) { c.InitialClaimFee = 0 }},
		{"zero grace period", func(c *Config) { c.GracePeriod = 0 }},
		{"negative grace period", func(c *Config) { c.GracePeriod = -time.Second }},
		{"fee increase above 100", func(c *Config) { c.FeeIncreasePercentage = 101 }},
		{"platform fee above 100", func(c *Config) { c.PlatformFeePercentage = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestClaimExactMinimumFee(t *testing.T) {
	t.Parallel()
	g, clock := newTestGame(t, testConfig())

	require.NoError(t, g.ClaimThrone("alice", 1))

	assert.Equal(t, Identity("alice"), g.CurrentKing())
	// floor(1*5/100) = 0 goes to the platform, the whole unit stays in the pot.
	assert.Zero(t, g.PlatformFeesBalance())
	assert.Equal(t, uint64(1), g.Pot())
	// floor(1*10/100) = 0, so the fee does not move.
	assert.Equal(t, uint64(1), g.ClaimFee())
	assert.True(t, g.Stagnant())
	assert.Equal(t, clock.Now(), g.LastClaimTime())
	assert.Equal(t, uint64(1), g.HeldFunds())
	requireInvariants(t, g)
}

func TestClaimSplitsPlatformCut(t *testing.T) {
	t.Parallel()
	g, _ := newTestGame(t, testConfig())

	require.NoError(t, g.ClaimThrone("alice", 100))

	assert.Equal(t, uint64(5), g.PlatformFeesBalance())
	assert.Equal(t, uint64(95), g.Pot())
	assert.Equal(t, uint64(1), g.ClaimFee(), "fee of 1 escalates by floor(0.1) = 0")
	requireInvariants(t, g)
}

func TestClaimFeeEscalation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.InitialClaimFee = 100
	g, _ := newTestGame(t, cfg)

	expected := []uint64{110, 121, 133, 146}
	for i, want := range expected {
		fee := g.ClaimFee()
		require.NoError(t, g.ClaimThrone(Identity(fmt.Sprintf("p%d", i)), fee))
		assert.Equal(t, want, g.ClaimFee())
		requireInvariants(t, g)
	}
	assert.False(t, g.Stagnant())
}

func TestClaimOverpaymentIsKept(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.InitialClaimFee = 10
	g, _ := newTestGame(t, cfg)

	require.NoError(t, g.ClaimThrone("alice", 1000))

	assert.Equal(t, uint64(50), g.PlatformFeesBalance())
	assert.Equal(t, uint64(950), g.Pot())
	assert.Equal(t, uint64(11), g.ClaimFee(), "escalation is based on the fee, not the payment")
	assert.Equal(t, uint64(1000), g.HeldFunds())
}

func TestClaimRejections(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.InitialClaimFee = 50
	g, _ := newTestGame(t, cfg)

	require.ErrorIs(t, g.ClaimThrone("alice", 49), ErrInsufficientPayment)
	require.ErrorIs(t, g.ClaimThrone(owner, 1000), ErrOwnerCannotClaim)
	require.ErrorIs(t, g.ClaimThrone(None, 1000), ErrInvalidIdentity)

	assert.Equal(t, None, g.CurrentKing())
	assert.Zero(t, g.Pot())
	assert.Zero(t, g.HeldFunds())
	assert.Equal(t, uint64(50), g.ClaimFee())
	requireInvariants(t, g)
}

func TestClaimOverflowMutatesNothing(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.PlatformFeePercentage = 0
	g, _ := newTestGame(t, cfg)

	const huge = ^uint64(0) - 10
	require.NoError(t, g.ClaimThrone("alice", huge))
	before := g.State()

	require.ErrorIs(t, g.ClaimThrone("bob", 100), ErrAmountOverflow)
	assert.Equal(t, before, g.State())
	requireInvariants(t, g)
}

func TestDeclareWinnerAfterGracePeriod(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g, clock := newTestGame(t, cfg)
	ctx := context.Background()

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(time.Hour).MustWait(ctx)
	require.NoError(t, g.ClaimThrone("bob", 200))
	potBefore := g.Pot()
	require.Equal(t, uint64(95+190), potBefore)

	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("carol"))

	assert.Equal(t, potBefore, g.PendingWinnings("bob"))
	assert.Zero(t, g.PendingWinnings("alice"))
	assert.Zero(t, g.Pot())
	assert.True(t, g.GameEnded())
	assert.Equal(t, Identity("bob"), g.CurrentKing(), "winner stays recorded until reset")
	requireInvariants(t, g)

	require.ErrorIs(t, g.ClaimThrone("dave", 10_000), ErrGameEnded)
	require.ErrorIs(t, g.DeclareWinner("carol"), ErrGameEnded)
	requireInvariants(t, g)
}

func TestDeclareWinnerTooEarly(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g, clock := newTestGame(t, cfg)
	ctx := context.Background()

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod - time.Nanosecond).MustWait(ctx)
	before := g.State()

	require.ErrorIs(t, g.DeclareWinner("bob"), ErrGracePeriodNotElapsed)
	assert.Equal(t, before, g.State())

	// The deadline itself is inclusive.
	clock.Advance(time.Nanosecond).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("bob"))
}

func TestClaimExtendsDeadline(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g, clock := newTestGame(t, cfg)
	ctx := context.Background()

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod - time.Minute).MustWait(ctx)
	require.NoError(t, g.ClaimThrone("bob", 100))
	assert.Equal(t, clock.Now().Add(cfg.GracePeriod), g.Deadline())

	clock.Advance(time.Minute).MustWait(ctx)
	require.ErrorIs(t, g.DeclareWinner("alice"), ErrGracePeriodNotElapsed)
}

func TestDeclareWinnerWithoutClaim(t *testing.T) {
	t.Parallel()
	g, clock := newTestGame(t, testConfig())

	clock.Advance(48 * time.Hour).MustWait(context.Background())
	require.ErrorIs(t, g.DeclareWinner("alice"), ErrNoActiveRound)
	assert.False(t, g.GameEnded())
}

func TestOwnerMayDeclareWinner(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g, clock := newTestGame(t, cfg)

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod).MustWait(context.Background())
	require.NoError(t, g.DeclareWinner(owner))
	assert.Equal(t, uint64(95), g.PendingWinnings("alice"))
}

func TestWithdrawWinnings(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	var mu sync.Mutex
	received := map[Identity]uint64{}
	rail := TransfererFunc(func(_ context.Context, to Identity, amount uint64) error {
		mu.Lock()
		defer mu.Unlock()
		received[to] += amount
		return nil
	})

	g, clock := newTestGame(t, cfg, WithTransferer(rail))
	ctx := context.Background()

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("alice"))

	amount, err := g.WithdrawWinnings(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(95), amount)
	assert.Equal(t, uint64(95), received["alice"])
	assert.Zero(t, g.PendingWinnings("alice"))
	assert.Equal(t, uint64(5), g.HeldFunds(), "only the platform fees remain")
	requireInvariants(t, g)

	_, err = g.WithdrawWinnings(ctx, "alice")
	require.ErrorIs(t, err, ErrNoPendingWinnings)
	assert.Equal(t, uint64(95), received["alice"])
}

func TestWithdrawWinningsNothingPending(t *testing.T) {
	t.Parallel()
	g, _ := newTestGame(t, testConfig())

	_, err := g.WithdrawWinnings(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNoPendingWinnings)
}

func TestWithdrawWinningsReentrancy(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	ctx := context.Background()

	var (
		g            *Game
		transfers    int
		reentrantErr error
		observed     uint64
	)
	rail := TransfererFunc(func(ctx context.Context, to Identity, amount uint64) error {
		transfers++
		// The recipient calls back in during the transfer.
		observed = g.PendingWinnings(to)
		_, reentrantErr = g.WithdrawWinnings(ctx, to)
		return nil
	})

	g, clock := newTestGame(t, cfg, WithTransferer(rail))
	require.NoError(t, g.ClaimThrone("mallory", 100))
	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("mallory"))

	amount, err := g.WithdrawWinnings(ctx, "mallory")
	require.NoError(t, err)
	assert.Equal(t, uint64(95), amount)
	assert.Equal(t, 1, transfers)
	assert.Zero(t, observed, "balance must be zero while the transfer runs")
	require.ErrorIs(t, reentrantErr, ErrNoPendingWinnings)
	requireInvariants(t, g)
}

func TestWithdrawWinningsTransferFailureRestoresBalance(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	ctx := context.Background()

	errRejected := errors.New("recipient rejected funds")
	rail := TransfererFunc(func(context.Context, Identity, uint64) error {
		return errRejected
	})

	g, clock := newTestGame(t, cfg, WithTransferer(rail))
	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("alice"))
	before := g.State()

	_, err := g.WithdrawWinnings(ctx, "alice")
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, errRejected)
	assert.Equal(t, "transfer_failed", Code(err))

	// The ledger is back where it was, but the record changed twice in
	// between, so anything watching for changes must see a new revision.
	after := g.State()
	assert.Greater(t, after.Revision, before.Revision)
	assert.Equal(t, before.Seq, after.Seq, "a rejected transfer publishes no event")
	after.Revision = before.Revision
	assert.Equal(t, before, after)
	requireInvariants(t, g)
}

func TestWithdrawRestoreKeepsConcurrentCredit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	ctx := context.Background()

	var g *Game
	var clock *quartz.Mock
	rail := TransfererFunc(func(ctx context.Context, to Identity, amount uint64) error {
		// A second round settles in alice's favour while the first
		// withdrawal is still being transferred.
		require.NoError(t, g.ResetGame(owner))
		require.NoError(t, g.ClaimThrone(to, 40))
		clock.Advance(cfg.GracePeriod).MustWait(ctx)
		require.NoError(t, g.DeclareWinner(to))
		return errors.New("bounced")
	})

	g, clock = newTestGame(t, cfg, WithTransferer(rail))
	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("alice"))

	_, err := g.WithdrawWinnings(ctx, "alice")
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, uint64(95+38), g.PendingWinnings("alice"))
	requireInvariants(t, g)
}

func TestWithdrawPlatformFees(t *testing.T) {
	t.Parallel()

	var got uint64
	rail := TransfererFunc(func(_ context.Context, to Identity, amount uint64) error {
		require.Equal(t, owner, to)
		got += amount
		return nil
	})
	g, _ := newTestGame(t, testConfig(), WithTransferer(rail))
	ctx := context.Background()

	_, err := g.WithdrawPlatformFees(ctx, owner)
	require.ErrorIs(t, err, ErrNoFeesToWithdraw)

	require.NoError(t, g.ClaimThrone("alice", 100))
	require.NoError(t, g.ClaimThrone("bob", 200))

	_, err = g.WithdrawPlatformFees(ctx, "alice")
	require.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, uint64(15), g.PlatformFeesBalance())

	amount, err := g.WithdrawPlatformFees(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), amount)
	assert.Equal(t, uint64(15), got)
	assert.Zero(t, g.PlatformFeesBalance())
	assert.Equal(t, uint64(285), g.HeldFunds())
	assert.Equal(t, uint64(285), g.Pot(), "withdrawing fees never touches the pot")
	requireInvariants(t, g)

	_, err = g.WithdrawPlatformFees(ctx, owner)
	require.ErrorIs(t, err, ErrNoFeesToWithdraw)
}

func TestWithdrawPlatformFeesTransferFailure(t *testing.T) {
	t.Parallel()
	rail := TransfererFunc(func(context.Context, Identity, uint64) error {
		return errors.New("owner account frozen")
	})
	g, _ := newTestGame(t, testConfig(), WithTransferer(rail))

	require.NoError(t, g.ClaimThrone("alice", 100))
	_, err := g.WithdrawPlatformFees(context.Background(), owner)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, uint64(5), g.PlatformFeesBalance())
	assert.Equal(t, uint64(100), g.HeldFunds())
	requireInvariants(t, g)
}

func TestResetGame(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.InitialClaimFee = 100
	g, clock := newTestGame(t, cfg)
	ctx := context.Background()

	require.ErrorIs(t, g.ResetGame(owner), ErrGameNotEnded)

	require.NoError(t, g.ClaimThrone("alice", 100))
	require.NoError(t, g.ClaimThrone("bob", 110))
	require.ErrorIs(t, g.ResetGame(owner), ErrGameNotEnded)

	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("bob"))

	require.ErrorIs(t, g.ResetGame("bob"), ErrNotOwner)
	assert.True(t, g.GameEnded())

	require.NoError(t, g.ResetGame(owner))
	assert.False(t, g.GameEnded())
	assert.Equal(t, None, g.CurrentKing())
	assert.Equal(t, uint64(100), g.ClaimFee())
	assert.True(t, g.LastClaimTime().IsZero())
	assert.Equal(t, uint64(2), g.Round())
	assert.Equal(t, uint64(10), g.PlatformFeesBalance(), "platform fees persist across rounds")
	assert.Equal(t, uint64(95+105), g.PendingWinnings("bob"), "pending winnings persist across rounds")
	requireInvariants(t, g)

	// A fresh claim is required before the new round can be settled.
	require.ErrorIs(t, g.DeclareWinner("bob"), ErrNoActiveRound)
	require.NoError(t, g.ClaimThrone("carol", 100))
	require.ErrorIs(t, g.DeclareWinner("bob"), ErrGracePeriodNotElapsed)
}

func TestNonOwnerAdminCallsLeaveStateUnchanged(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g, clock := newTestGame(t, cfg)

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod).MustWait(context.Background())
	require.NoError(t, g.DeclareWinner("alice"))
	before := g.State()

	_, err := g.WithdrawPlatformFees(context.Background(), "alice")
	require.ErrorIs(t, err, ErrNotOwner)
	require.ErrorIs(t, g.ResetGame("alice"), ErrNotOwner)
	assert.Equal(t, before, g.State())
}

func TestConcurrentClaimsKeepInvariants(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.InitialClaimFee = 100
	g, _ := newTestGame(t, cfg)

	const players = 8
	const attempts = 20

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted uint64
	)
	for p := 0; p < players; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			id := Identity(fmt.Sprintf("player-%d", p))
			for i := 0; i < attempts; i++ {
				// Racing on a possibly stale fee read.
				amount := g.ClaimFee()
				if err := g.ClaimThrone(id, amount); err == nil {
					mu.Lock()
					accepted += amount
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrInsufficientPayment)
				}
			}
		}(p)
	}
	wg.Wait()

	requireInvariants(t, g)
	assert.Equal(t, accepted, g.HeldFunds())
	assert.Equal(t, accepted, g.Pot()+g.PlatformFeesBalance())
	assert.GreaterOrEqual(t, g.ClaimFee(), cfg.InitialClaimFee)
}

func TestEventsArePublishedInCommitOrder(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	var records []EventRecord
	sub := EventSubscriberFunc(func(e GameEvent) {
		records = append(records, e.Record())
	})
	g, clock := newTestGame(t, cfg, WithSubscriber(sub))
	ctx := context.Background()

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("bob"))
	_, err := g.WithdrawWinnings(ctx, "alice")
	require.NoError(t, err)
	_, err = g.WithdrawPlatformFees(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, g.ResetGame(owner))

	// Failed operations publish nothing.
	require.ErrorIs(t, g.ClaimThrone("alice", 0), ErrInsufficientPayment)

	require.Len(t, records, 5)
	types := []EventType{
		EventTypeThroneClaimed,
		EventTypeWinnerDeclared,
		EventTypeWinningsWithdrawn,
		EventTypePlatformFeesWithdrawn,
		EventTypeGameReset,
	}
	for i, r := range records {
		assert.Equal(t, types[i], r.Type)
		assert.Equal(t, uint64(i+1), r.Seq)
	}
	assert.Equal(t, Identity("alice"), records[1].Identity)
	assert.Equal(t, uint64(95), records[1].Amount)
	assert.Equal(t, uint64(2), records[4].Round)
}

func TestStateRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g, clock := newTestGame(t, cfg)
	ctx := context.Background()

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, g.DeclareWinner("alice"))
	require.NoError(t, g.ResetGame(owner))
	require.NoError(t, g.ClaimThrone("bob", 300))

	state := g.State()
	restored, err := Restore(state, WithClock(clock), WithLogger(testLogger()))
	require.NoError(t, err)
	assert.Equal(t, state, restored.State())

	// The restored game keeps enforcing the same rules.
	require.ErrorIs(t, restored.DeclareWinner("x"), ErrGracePeriodNotElapsed)
	clock.Advance(cfg.GracePeriod).MustWait(ctx)
	require.NoError(t, restored.DeclareWinner("x"))
	assert.Equal(t, uint64(285), restored.PendingWinnings("bob"))
	assert.Equal(t, uint64(95), restored.PendingWinnings("alice"))
}

func TestRestoreRejectsBrokenState(t *testing.T) {
	t.Parallel()
	g, _ := newTestGame(t, testConfig())
	require.NoError(t, g.ClaimThrone("alice", 100))

	state := g.State()
	state.HeldFunds = 10
	_, err := Restore(state)
	require.ErrorIs(t, err, ErrInvariantViolated)

	state = g.State()
	state.CurrentKing = owner
	_, err = Restore(state)
	require.ErrorIs(t, err, ErrInvariantViolated)

	state = g.State()
	state.Config.InitialClaimFee = 0
	_, err = Restore(state)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "game_ended", Code(ErrGameEnded))
	assert.Equal(t, "not_owner", Code(fmt.Errorf("reset: %w", ErrNotOwner)))
	assert.Equal(t, "internal", Code(errors.New("boom")))

	for _, ec := range errorCodes {
		assert.Equal(t, ec.err, FromCode(Code(ec.err)))
	}
	assert.Nil(t, FromCode("internal"))
}

func TestPercentOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint64(0), percentOf(1, 5))
	assert.Equal(t, uint64(5), percentOf(100, 5))
	assert.Equal(t, uint64(9), percentOf(99, 10))
	assert.Equal(t, ^uint64(0), percentOf(^uint64(0), 100))
	assert.Equal(t, (^uint64(0))/2, percentOf(^uint64(0), 50))
}
