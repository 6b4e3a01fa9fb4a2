package throne

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

// Transferer moves funds out of the game to a recipient. Implementations may
// call back into the Game; the lock is never held while Transfer runs.
type Transferer interface {
	Transfer(ctx context.Context, to Identity, amount uint64) error
}

// TransfererFunc adapts a function to the Transferer interface.
type TransfererFunc func(ctx context.Context, to Identity, amount uint64) error

func (f TransfererFunc) Transfer(ctx context.Context, to Identity, amount uint64) error {
	return f(ctx, to, amount)
}

type nopTransferer struct{}

func (nopTransferer) Transfer(context.Context, Identity, uint64) error { return nil }

// Game is the single authoritative game record plus its operations.
type Game struct {
	mu sync.Mutex

	cfg           Config
	currentKing   Identity
	pot           uint64
	claimFee      uint64
	lastClaimTime time.Time
	gameEnded     bool
	platformFees  uint64
	pending       map[Identity]uint64
	heldFunds     uint64
	inFlight      uint64
	round         uint64
	seq           uint64
	revision      uint64

	clock      quartz.Clock
	logger     *log.Logger
	transferer Transferer

	subMu       sync.RWMutex
	subscribers []EventSubscriber
}

// Option configures a Game.
type Option func(*Game)

// WithClock sets the time source. Defaults to the real clock.
func WithClock(clock quartz.Clock) Option {
	return func(g *Game) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Game) {
		if logger != nil {
			g.logger = logger.WithPrefix("throne")
		}
	}
}

// WithTransferer sets the rail used by withdrawals. Without one, transfers
// always succeed and the funds simply leave the game.
func WithTransferer(t Transferer) Option {
	return func(g *Game) {
		if t != nil {
			g.transferer = t
		}
	}
}

// WithSubscriber registers an event subscriber at construction.
func WithSubscriber(sub EventSubscriber) Option {
	return func(g *Game) {
		if sub != nil {
			g.subscribers = append(g.subscribers, sub)
		}
	}
}

// New creates a game in its initial state: no king, empty pot, claim fee at
// cfg.InitialClaimFee, round 1.
func New(cfg Config, opts ...Option) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := newGame(cfg, opts...)
	g.claimFee = cfg.InitialClaimFee
	g.round = 1

	g.logger.Info("Game created",
		"owner", cfg.Owner,
		"initialClaimFee", cfg.InitialClaimFee,
		"gracePeriod", cfg.GracePeriod,
		"feeIncrease", cfg.FeeIncreasePercentage,
		"platformFee", cfg.PlatformFeePercentage)
	return g, nil
}

func newGame(cfg Config, opts ...Option) *Game {
	g := &Game{
		cfg:        cfg,
		pending:    make(map[Identity]uint64),
		clock:      quartz.NewReal(),
		logger:     log.NewWithOptions(io.Discard, log.Options{}),
		transferer: nopTransferer{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Subscribe adds an event subscriber.
func (g *Game) Subscribe(sub EventSubscriber) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.subscribers = append(g.subscribers, sub)
}

// publish delivers events to subscribers. Must be called without g.mu held.
func (g *Game) publish(events ...GameEvent) {
	g.subMu.RLock()
	subs := make([]EventSubscriber, len(g.subscribers))
	copy(subs, g.subscribers)
	g.subMu.RUnlock()

	for _, event := range events {
		for _, sub := range subs {
			sub.OnEvent(event)
		}
	}
}

// nextSeq returns the sequence number for a new event. Caller holds g.mu.
func (g *Game) nextSeq() uint64 {
	g.touch()
	g.seq++
	return g.seq
}

// touch records a change to the record, including the withdrawal steps that
// publish no event. Caller holds g.mu.
func (g *Game) touch() {
	g.revision++
}

func (g *Game) Owner() Identity { return g.cfg.Owner }

func (g *Game) InitialClaimFee() uint64 { return g.cfg.InitialClaimFee }

func (g *Game) GracePeriod() time.Duration { return g.cfg.GracePeriod }

func (g *Game) FeeIncreasePercentage() uint64 { return g.cfg.FeeIncreasePercentage }

func (g *Game) PlatformFeePercentage() uint64 { return g.cfg.PlatformFeePercentage }

// Config returns the immutable configuration.
func (g *Game) Config() Config { return g.cfg }

func (g *Game) CurrentKing() Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentKing
}

func (g *Game) Pot() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pot
}

func (g *Game) ClaimFee() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.claimFee
}

func (g *Game) LastClaimTime() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastClaimTime
}

func (g *Game) GameEnded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gameEnded
}

func (g *Game) PlatformFeesBalance() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.platformFees
}

// PendingWinnings returns the withdrawable balance of id, zero if none.
func (g *Game) PendingWinnings(id Identity) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[id]
}

// HeldFunds returns the funds received and not yet transferred out,
// including transfers still in flight.
func (g *Game) HeldFunds() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heldFunds
}

// Round returns the current round number, starting at 1.
func (g *Game) Round() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.round
}

// Seq returns the sequence number of the last published event.
func (g *Game) Seq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Deadline returns the earliest time the current king can be declared the
// winner, or the zero time when nobody holds the throne.
func (g *Game) Deadline() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deadline()
}

func (g *Game) deadline() time.Time {
	if g.currentKing == None || g.gameEnded {
		return time.Time{}
	}
	return g.lastClaimTime.Add(g.cfg.GracePeriod)
}

// Stagnant reports whether the next claim would leave the claim fee
// unchanged, which happens when the percentage increase rounds down to zero.
func (g *Game) Stagnant() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return percentOf(g.claimFee, g.cfg.FeeIncreasePercentage) == 0
}
