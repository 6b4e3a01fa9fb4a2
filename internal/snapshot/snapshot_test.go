package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/throne/internal/throne"
)

func newGame(t *testing.T, clock quartz.Clock) *throne.Game {
	t.Helper()
	g, err := throne.New(throne.Config{
		Owner:                 "house",
		InitialClaimFee:       100,
		GracePeriod:           time.Hour,
		FeeIncreasePercentage: 10,
		PlatformFeePercentage: 5,
	}, throne.WithClock(clock))
	require.NoError(t, err)
	return g
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	g := newGame(t, clock)
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(time.Hour).MustWait(context.Background())
	require.NoError(t, g.DeclareWinner("bob"))
	require.NoError(t, g.ResetGame("house"))
	require.NoError(t, g.ClaimThrone("carol", ^uint64(0)/2))

	want := g.State()
	require.NoError(t, Save(path, want))

	got, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.PendingWinnings, got.PendingWinnings)
	assert.Equal(t, want.HeldFunds, got.HeldFunds)
	assert.Equal(t, want.Config, got.Config)
	assert.True(t, want.LastClaimTime.Equal(got.LastClaimTime))

	restored, err := throne.Restore(got, throne.WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, throne.Identity("carol"), restored.CurrentKing())
	assert.Equal(t, uint64(95), restored.PendingWinnings("alice"))
	require.NoError(t, restored.CheckInvariants())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	leftovers, err := filepath.Glob(path + ".tmp.*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	_, ok, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "state": {}}`), 0o600))

	_, _, err := Load(path)
	require.ErrorContains(t, err, "unsupported snapshot version 99")
}

func TestSaverSkipsUnchangedState(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	g := newGame(t, clock)
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewSaver(g, path, time.Minute, clock, nil)

	require.NoError(t, s.SaveNow())
	require.NoError(t, os.Remove(path))

	// Nothing changed, so nothing is written.
	require.NoError(t, s.SaveNow())
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, g.ClaimThrone("alice", 100))
	require.NoError(t, s.SaveNow())
	state, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, throne.Identity("alice"), state.CurrentKing)
}

func TestSaverRunSavesOnShutdown(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	g := newGame(t, clock)
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewSaver(g, path, time.Minute, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, g.ClaimThrone("alice", 100))
	require.NoError(t, g.ClaimThrone("bob", 110))
	cancel()
	require.NoError(t, <-done)

	state, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, throne.Identity("bob"), state.CurrentKing)
	assert.Equal(t, uint64(2), state.Seq)
}

func TestSaverKeepsBalanceRestoredAfterRejectedTransfer(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	path := filepath.Join(t.TempDir(), "state.json")

	var s *Saver
	rails := throne.TransfererFunc(func(context.Context, throne.Identity, uint64) error {
		// Snapshot while the balance is zeroed and in flight.
		require.NoError(t, s.SaveNow())
		return errors.New("rejected")
	})
	g, err := throne.New(throne.Config{
		Owner:                 "house",
		InitialClaimFee:       100,
		GracePeriod:           time.Hour,
		FeeIncreasePercentage: 10,
		PlatformFeePercentage: 5,
	}, throne.WithClock(clock), throne.WithTransferer(rails))
	require.NoError(t, err)
	s = NewSaver(g, path, time.Minute, clock, nil)

	require.NoError(t, g.ClaimThrone("alice", 100))
	clock.Advance(time.Hour).MustWait(context.Background())
	require.NoError(t, g.DeclareWinner("bob"))
	require.NoError(t, s.SaveNow())

	_, err = g.WithdrawWinnings(context.Background(), "alice")
	require.ErrorIs(t, err, throne.ErrTransferFailed)
	require.NoError(t, s.SaveNow())

	state, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	restored, err := throne.Restore(state, throne.WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, uint64(95), restored.PendingWinnings("alice"))
	require.NoError(t, restored.CheckInvariants())
}
